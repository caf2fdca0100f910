// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signal provides typed callback registries.
//
// A [Signal] replaces observer connect/disconnect bookkeeping with one
// value per event type. Connect returns the disconnect function, so a
// subscriber scopes its subscription to its own lifetime by calling it
// on teardown (or, for one-shot listeners, on first delivery). The
// owner calls [Signal.DisconnectAll] when it is destroyed so nothing
// can be delivered to a subscriber after that point.
//
// Signal does not choose an execution context. Emit runs handlers on
// the caller's goroutine; handlers that must run elsewhere dispatch
// themselves.
package signal

import "sync"

// Signal is a registry of handlers for events of type V. The zero
// value is ready to use.
type Signal[V any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers []handler[V]
}

type handler[V any] struct {
	id uint64
	fn func(V)
}

// Connect registers fn and returns a function that removes it. The
// returned function is idempotent.
func (s *Signal[V]) Connect(fn func(V)) (disconnect func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, handler[V]{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, h := range s.handlers {
			if h.id == id {
				s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every connected handler with value, in connection order.
// Handlers connected or disconnected during Emit take effect from the
// next call.
func (s *Signal[V]) Emit(value V) {
	s.mu.Lock()
	snapshot := make([]handler[V], len(s.handlers))
	copy(snapshot, s.handlers)
	s.mu.Unlock()

	for _, h := range snapshot {
		h.fn(value)
	}
}

// Len returns the number of connected handlers.
func (s *Signal[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// DisconnectAll removes every handler.
func (s *Signal[V]) DisconnectAll() {
	s.mu.Lock()
	s.handlers = nil
	s.mu.Unlock()
}
