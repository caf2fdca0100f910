// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport_test

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/pion/ice/v4"

	"github.com/bureau-foundation/mediatransport/iceengine"
	"github.com/bureau-foundation/mediatransport/iceengine/icetest"
	"github.com/bureau-foundation/mediatransport/lib/eventloop"
	"github.com/bureau-foundation/mediatransport/mediatransport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLoops(t *testing.T) (control, network *eventloop.Loop) {
	t.Helper()
	control = eventloop.New("control", discardLogger())
	network = eventloop.New("network", discardLogger())
	t.Cleanup(func() {
		network.Close()
		control.Close()
	})
	return control, network
}

// runOn runs fn on loop and waits for it to return.
func runOn(t *testing.T, loop *eventloop.Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if !loop.Dispatch(func() {
		defer close(done)
		fn()
	}) {
		t.Fatalf("%s loop is closed", loop.Name())
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out running on the %s loop", loop.Name())
	}
}

// settle flushes the loops in turn until work bouncing between them
// has drained.
func settle(t *testing.T, loops ...*eventloop.Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for range 4 {
		for _, loop := range loops {
			if err := loop.Flush(ctx); err != nil {
				t.Fatalf("flushing %s loop: %v", loop.Name(), err)
			}
		}
	}
}

func agentFactory(factory *icetest.Factory) iceengine.AgentFactory {
	return func(config *ice.AgentConfig) (iceengine.ComponentAgent, error) {
		agent, err := factory.New(config)
		if err != nil {
			return nil, err
		}
		return agent, nil
	}
}

func newEngine(t *testing.T, network *eventloop.Loop) (*iceengine.Engine, *icetest.Factory) {
	t.Helper()
	factory := icetest.NewFactory()
	engine, err := iceengine.New(network, iceengine.Config{AgentFactory: agentFactory(factory)}, discardLogger())
	if err != nil {
		t.Fatalf("iceengine.New: %v", err)
	}
	return engine, factory
}

// events is everything a recorder has seen.
type events struct {
	gathering  []iceengine.GatheringState
	connection []iceengine.ConnectionState
	candidates []mediatransport.CandidateEvent
	ends       []mediatransport.EndOfCandidatesEvent
	dtls       []string
	privacy    []bool

	// order records event kinds in delivery order.
	order []string
}

// recorder is an Observer that keeps every event. Its methods run on
// the control loop; tests read it after settling.
type recorder struct {
	mu     sync.Mutex
	events events

	connected chan string
	states    chan iceengine.ConnectionState
}

func newRecorder() *recorder {
	return &recorder{
		connected: make(chan string, 16),
		states:    make(chan iceengine.ConnectionState, 16),
	}
}

func (r *recorder) IceGatheringStateChanged(state iceengine.GatheringState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events.gathering = append(r.events.gathering, state)
	r.events.order = append(r.events.order, "gathering:"+state.String())
}

func (r *recorder) IceConnectionStateChanged(state iceengine.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events.connection = append(r.events.connection, state)
	r.events.order = append(r.events.order, "connection:"+state.String())
	select {
	case r.states <- state:
	default:
	}
}

func (r *recorder) CandidateFound(event mediatransport.CandidateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events.candidates = append(r.events.candidates, event)
	r.events.order = append(r.events.order, "candidate:"+event.TransportID)
}

func (r *recorder) EndOfLocalCandidates(event mediatransport.EndOfCandidatesEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events.ends = append(r.events.ends, event)
	r.events.order = append(r.events.order, "end:"+event.TransportID)
}

func (r *recorder) DtlsConnected(transportID string, privacy bool) {
	r.mu.Lock()
	r.events.dtls = append(r.events.dtls, transportID)
	r.events.privacy = append(r.events.privacy, privacy)
	r.events.order = append(r.events.order, "dtls:"+transportID)
	r.mu.Unlock()
	select {
	case r.connected <- transportID:
	default:
	}
}

func (r *recorder) snapshot() events {
	r.mu.Lock()
	defer r.mu.Unlock()
	return events{
		gathering:  slices.Clone(r.events.gathering),
		connection: slices.Clone(r.events.connection),
		candidates: slices.Clone(r.events.candidates),
		ends:       slices.Clone(r.events.ends),
		dtls:       slices.Clone(r.events.dtls),
		privacy:    slices.Clone(r.events.privacy),
		order:      slices.Clone(r.events.order),
	}
}
