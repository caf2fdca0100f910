// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"log/slog"
	"sync/atomic"

	"github.com/bureau-foundation/mediatransport/iceengine"
	"github.com/bureau-foundation/mediatransport/lib/eventloop"
)

// CandidateEvent reports one local candidate with the transport's
// current default candidates, which consumers apply idempotently.
type CandidateEvent struct {
	TransportID string
	Component   int
	Line        string
	Defaults    iceengine.DefaultCandidates
}

// EndOfCandidatesEvent reports that a transport finished gathering.
type EndOfCandidatesEvent struct {
	TransportID string
	Defaults    iceengine.DefaultCandidates
}

// Observer receives the session-visible ICE and DTLS events. Every
// method runs on the control loop.
type Observer interface {
	IceGatheringStateChanged(iceengine.GatheringState)
	IceConnectionStateChanged(iceengine.ConnectionState)
	CandidateFound(CandidateEvent)
	EndOfLocalCandidates(EndOfCandidatesEvent)
	DtlsConnected(transportID string, privacy bool)
}

// Relay forwards engine and DTLS signals from the network loop to an
// Observer on the control loop. It suppresses repeats: a state is
// forwarded only when it differs from the last one seen from the
// current engine, and the initial states are never forwarded.
type Relay struct {
	control  *eventloop.Loop
	network  *eventloop.Loop
	observer Observer
	logger   *slog.Logger

	// Network loop only.
	engine      *iceengine.Engine
	disconnects []func()
	gathering   iceengine.GatheringState
	connection  iceengine.ConnectionState

	detached atomic.Bool
}

// NewRelay creates a relay delivering to observer.
func NewRelay(control, network *eventloop.Loop, observer Observer, logger *slog.Logger) *Relay {
	return &Relay{
		control:  control,
		network:  network,
		observer: observer,
		logger:   logger,
	}
}

// Attach subscribes to engine, replacing any previous engine. If the
// new engine is already past its initial state and that differs from
// the last state forwarded, the difference is forwarded now. Must be
// called on the network loop.
func (r *Relay) Attach(engine *iceengine.Engine) {
	r.network.AssertOn()
	r.unsubscribe()
	r.engine = engine

	gathering := engine.GatheringState()
	if gathering != r.gathering && gathering != iceengine.GatheringInit {
		r.forwardGathering(gathering)
	}
	r.gathering = gathering

	connection := engine.ConnectionState()
	if connection != r.connection && connection != iceengine.ConnectionNew {
		r.forwardConnection(connection)
	}
	r.connection = connection

	r.disconnects = append(r.disconnects,
		engine.OnGatheringStateChange(r.gatheringChanged),
		engine.OnConnectionStateChange(r.connectionChanged),
		engine.OnCandidate(r.candidateFound),
		engine.OnStreamGatheringComplete(r.streamGathered),
	)
}

// WatchDTLS forwards layer's connected event for transportID. The
// layer fires it at most once.
func (r *Relay) WatchDTLS(transportID string, layer *DTLSLayer) {
	layer.OnConnected(func(privacy bool) {
		r.deliver(func(o Observer) { o.DtlsConnected(transportID, privacy) })
	})
}

// Detach unsubscribes from the engine and drops every event not yet
// delivered. Must be called on the network loop.
func (r *Relay) Detach() {
	r.network.AssertOn()
	r.detached.Store(true)
	r.unsubscribe()
	r.engine = nil
}

func (r *Relay) unsubscribe() {
	for _, disconnect := range r.disconnects {
		disconnect()
	}
	r.disconnects = nil
}

// ForceConnection forwards state for a failure found outside the
// engine. It counts as the last state seen, so the engine reaching the
// same state later is not forwarded again. Must be called on the
// network loop.
func (r *Relay) ForceConnection(state iceengine.ConnectionState) {
	r.network.AssertOn()
	r.connectionChanged(state)
}

func (r *Relay) gatheringChanged(state iceengine.GatheringState) {
	if state == r.gathering || state == iceengine.GatheringInit {
		return
	}
	r.gathering = state
	r.forwardGathering(state)
}

func (r *Relay) connectionChanged(state iceengine.ConnectionState) {
	if state == r.connection || state == iceengine.ConnectionNew {
		return
	}
	r.connection = state
	r.forwardConnection(state)
}

// forwardGathering announces end of candidates for every stream before
// the Complete state itself.
func (r *Relay) forwardGathering(state iceengine.GatheringState) {
	if state == iceengine.GatheringComplete {
		for _, id := range r.engine.StreamIDs() {
			r.endOfCandidates(id)
		}
	}
	r.deliver(func(o Observer) { o.IceGatheringStateChanged(state) })
}

func (r *Relay) forwardConnection(state iceengine.ConnectionState) {
	r.deliver(func(o Observer) { o.IceConnectionStateChanged(state) })
}

func (r *Relay) candidateFound(event iceengine.CandidateEvent) {
	defaults, err := r.engine.DefaultCandidates(event.StreamID)
	if err != nil {
		r.logger.Debug("candidate for removed stream", "transport_id", event.StreamID, "error", err)
		return
	}
	forwarded := CandidateEvent{
		TransportID: event.StreamID,
		Component:   event.Component,
		Line:        event.Line,
		Defaults:    defaults,
	}
	r.deliver(func(o Observer) { o.CandidateFound(forwarded) })
}

func (r *Relay) streamGathered(id string) {
	r.endOfCandidates(id)
}

func (r *Relay) endOfCandidates(id string) {
	defaults, err := r.engine.DefaultCandidates(id)
	if err != nil {
		return
	}
	event := EndOfCandidatesEvent{TransportID: id, Defaults: defaults}
	r.deliver(func(o Observer) { o.EndOfLocalCandidates(event) })
}

// deliver posts fn to the control loop.
func (r *Relay) deliver(fn func(Observer)) {
	if r.detached.Load() {
		return
	}
	r.control.Dispatch(func() {
		if r.detached.Load() {
			return
		}
		fn(r.observer)
	})
}
