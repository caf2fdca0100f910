// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package iceengine

import "errors"

var (
	// ErrUnknownStream is returned for operations naming a transport id
	// that has no stream.
	ErrUnknownStream = errors.New("unknown ICE stream")

	// ErrProtocolParse wraps malformed candidate lines and ICE
	// attributes.
	ErrProtocolParse = errors.New("ICE attribute parse error")

	// ErrComponentDisabled is returned by Component.Conn for a
	// component beyond the stream's negotiated count.
	ErrComponentDisabled = errors.New("ICE component disabled")

	// ErrStreamClosed is returned by Component.Conn once the stream
	// has been removed or the engine destroyed.
	ErrStreamClosed = errors.New("ICE stream closed")
)

// ConfigurationError reports a failure to set up session-wide ICE
// configuration: a bad policy or a malformed server list.
type ConfigurationError struct {
	// Op names the setting that failed, such as "servers" or "policy".
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return "ICE configuration: " + e.Op + ": " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
