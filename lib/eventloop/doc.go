// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventloop provides serial task loops used as execution
// contexts.
//
// A Loop owns one goroutine that runs dispatched tasks one at a time in
// submission order. Code that must only ever run on a particular loop
// calls AssertOn at its entry point; calling it from any other
// goroutine panics. This turns thread-affinity violations into loud
// failures instead of data races.
//
// The media transport uses two loops: a control loop for
// session-facing state and a network loop that owns all ICE and
// transport-layer mutation. Work crosses between them only through
// Dispatch, which never blocks the caller.
package eventloop
