// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small helpers shared by packet read loops.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/pion/ice/v4"
	"github.com/pion/transport/v4/packetio"
)

// IsExpectedCloseError reports whether err is a normal end of a packet
// stream: EOF, a closed conn or buffer, a closed ICE agent, broken pipe,
// or connection reset. Read loops treat these as a quiet exit rather
// than a failure worth logging.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, ice.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsTimeout reports whether err is a read deadline expiring, from
// either a socket or a packetio buffer.
func IsTimeout(err error) bool {
	if errors.Is(err, packetio.ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
