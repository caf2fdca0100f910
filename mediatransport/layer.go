// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"fmt"
	"net"
	"sync"
)

// Stage names one kind of layer in a transport flow.
type Stage int

const (
	StageICE Stage = iota
	StageDTLS
	StageCapture
	StageSRTP
)

// pipeline is the bottom-to-top layer order of every flow.
var pipeline = []Stage{StageICE, StageDTLS, StageCapture, StageSRTP}

func (s Stage) String() string {
	switch s {
	case StageICE:
		return "ice"
	case StageDTLS:
		return "dtls"
	case StageCapture:
		return "capture"
	case StageSRTP:
		return "srtp"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// LayerState is a layer's lifecycle state.
type LayerState int

const (
	LayerNone LayerState = iota
	LayerConnecting
	LayerOpen
	LayerError
	LayerClosed
)

func (s LayerState) String() string {
	switch s {
	case LayerNone:
		return "none"
	case LayerConnecting:
		return "connecting"
	case LayerOpen:
		return "open"
	case LayerError:
		return "error"
	case LayerClosed:
		return "closed"
	default:
		return fmt.Sprintf("LayerState(%d)", int(s))
	}
}

// Layer is one stage of a transport flow. Every stage has the same
// contract: Chain attaches it above the layer below (nil for the
// bottom), then Init starts it. Init never blocks; a layer waits for
// the one below to open in the background and reports the outcome
// through State and Ready.
type Layer interface {
	Stage() Stage
	Chain(lower Layer) error
	Init() error
	State() LayerState
	// Ready is closed once the layer is open or has failed.
	Ready() <-chan struct{}
	// Conn is the packet path the layer offers to the layer above.
	// Valid once State is LayerOpen.
	Conn() net.Conn
	Err() error
	Close() error
}

// layerBase holds the state machine every layer shares.
type layerBase struct {
	stage Stage
	flow  string

	mu    sync.Mutex
	state LayerState
	conn  net.Conn
	err   error
	ready chan struct{}
	fired bool
}

func newLayerBase(stage Stage, flow string) layerBase {
	return layerBase{stage: stage, flow: flow, ready: make(chan struct{})}
}

func (l *layerBase) Stage() Stage { return l.stage }

func (l *layerBase) State() LayerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *layerBase) Ready() <-chan struct{} { return l.ready }

func (l *layerBase) Conn() net.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *layerBase) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *layerBase) setConnecting() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LayerNone {
		l.state = LayerConnecting
	}
}

// setOpen reports false if the layer was closed or failed first.
func (l *layerBase) setOpen(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LayerConnecting {
		return false
	}
	l.state = LayerOpen
	l.conn = conn
	l.fire()
	return true
}

func (l *layerBase) setError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LayerClosed || l.state == LayerError {
		return
	}
	l.state = LayerError
	l.err = err
	l.fire()
}

// setClosed reports whether the layer was not already closed.
func (l *layerBase) setClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LayerClosed {
		return false
	}
	l.state = LayerClosed
	if l.err == nil {
		l.err = net.ErrClosed
	}
	l.fire()
	return true
}

func (l *layerBase) fire() {
	if !l.fired {
		l.fired = true
		close(l.ready)
	}
}

// waitLower blocks until lower opens or fails, or this layer closes.
func (l *layerBase) waitLower(lower Layer) (net.Conn, error) {
	select {
	case <-lower.Ready():
	case <-l.ready:
		return nil, net.ErrClosed
	}
	if state := lower.State(); state != LayerOpen {
		if err := lower.Err(); err != nil {
			return nil, fmt.Errorf("%s layer below is %s: %w", lower.Stage(), state, err)
		}
		return nil, fmt.Errorf("%s layer below is %s", lower.Stage(), state)
	}
	return lower.Conn(), nil
}

func initError(stage Stage, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrLayerInit, stage, fmt.Sprintf(format, args...))
}
