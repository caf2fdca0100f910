// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"log/slog"

	"github.com/pion/logging"

	"github.com/bureau-foundation/mediatransport/capture"
	"github.com/bureau-foundation/mediatransport/iceengine"
	"github.com/bureau-foundation/mediatransport/lib/clock"
)

// AssemblerConfig configures an Assembler.
type AssemblerConfig struct {
	// Handle prefixes every flow id.
	Handle string

	Identity Identity

	// Capture receives tapped packets from every flow. Nil records
	// nothing.
	Capture capture.Sink
	Clock   clock.Clock

	LoggerFactory logging.LoggerFactory
}

// Assembler creates flows and builds their layer stacks. Flows are
// created and registered on the control loop so callers can hold them
// at once; the layers are built later on the network loop, where the
// ICE stream lives.
type Assembler struct {
	config   AssemblerConfig
	registry *Registry
	logger   *slog.Logger
}

// NewAssembler creates an assembler registering flows in registry.
func NewAssembler(config AssemblerConfig, registry *Registry, logger *slog.Logger) *Assembler {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Assembler{config: config, registry: registry, logger: logger}
}

// EnsureFlow returns the flow for desc's RTP (rtcp false) or RTCP
// component. If the transport no longer uses that component, any
// existing flow is removed and closed and EnsureFlow returns nil. An
// existing flow is returned as is; flows are never rebuilt. created
// reports a new, unassembled flow, which the caller must pass to
// Assemble on the network loop.
func (a *Assembler) EnsureFlow(desc TransportDescriptor, rtcp bool) (flow *Flow, created bool) {
	key := FlowKey{TransportID: desc.TransportID, RTCP: rtcp}
	if !desc.needs(rtcp) {
		if removed := a.registry.Remove(key); removed != nil {
			a.logger.Debug("removing unused flow", "flow", removed.ID())
			if err := removed.Close(); err != nil {
				a.logger.Debug("closing flow", "flow", removed.ID(), "error", err)
			}
		}
		return nil, false
	}
	if existing := a.registry.Get(key); existing != nil {
		return existing, false
	}
	flow = newFlow(a.config.Handle, key)
	a.registry.Insert(flow)
	return flow, true
}

// Assemble builds flow's layer stack against engine's ICE stream and
// starts it. A layer that fails to initialize is logged and left inert;
// the failure surfaces as a stalled connection. Must run on the network
// loop.
func (a *Assembler) Assemble(engine *iceengine.Engine, flow *Flow, desc TransportDescriptor, privacy bool, relay *Relay) {
	logger := a.logger.With("flow", flow.ID(), "transport_id", desc.TransportID)
	rtcp := flow.Key().RTCP

	ice := NewICELayer(flow.ID(), logger)
	component, err := engine.Component(desc.TransportID, flow.Key().component())
	if err != nil {
		logger.Error("no ICE component for flow", "component", flow.Key().component(), "error", err)
	} else {
		ice.Bind(component)
	}

	dtls := NewDTLSLayer(flow.ID(), DTLSConfig{
		Role:          desc.Role,
		Identity:      a.config.Identity,
		Fingerprints:  desc.Fingerprints,
		Privacy:       privacy,
		LoggerFactory: a.config.LoggerFactory,
	}, logger)
	if relay != nil {
		relay.WatchDTLS(desc.TransportID, dtls)
	}

	tap := NewCaptureLayer(flow.ID(), a.config.Capture, a.config.Clock)
	srtp := NewSRTPLayer(flow.ID(), dtls, rtcp, desc.Components == 1, logger)

	layers := []Layer{ice, dtls, tap, srtp}
	var lower Layer
	for i, layer := range layers {
		if layer.Stage() != pipeline[i] {
			panic("mediatransport: layer stack out of order: " + layer.Stage().String())
		}
		if err := layer.Chain(lower); err != nil {
			logger.Error("chaining transport layer", "stage", layer.Stage(), "error", err)
		}
		if err := layer.Init(); err != nil {
			logger.Error("initializing transport layer", "stage", layer.Stage(), "error", err)
		}
		lower = layer
	}
	flow.attach(layers)
	logger.Debug("transport flow assembled")
}
