// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import "errors"

var (
	// ErrShutdown is returned for operations submitted after
	// SelfDestruct began.
	ErrShutdown = errors.New("media transport is shutting down")

	// ErrLayerInit wraps a layer that could not initialize. The flow
	// stays registered; the layer never passes traffic.
	ErrLayerInit = errors.New("transport layer initialization failed")
)
