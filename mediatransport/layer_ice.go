// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/mediatransport/iceengine"
)

// ICELayer is the bottom of a flow. It waits for its ICE component to
// select a pair and splits the resulting connection into DTLS and
// media endpoints.
type ICELayer struct {
	layerBase
	component *iceengine.Component
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	demux  *demux
}

// NewICELayer creates an unbound ICE layer.
func NewICELayer(flow string, logger *slog.Logger) *ICELayer {
	ctx, cancel := context.WithCancel(context.Background())
	return &ICELayer{
		layerBase: newLayerBase(StageICE, flow),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Bind attaches the ICE component. Must precede Init.
func (l *ICELayer) Bind(component *iceengine.Component) {
	l.component = component
}

// Component returns the bound component.
func (l *ICELayer) Component() *iceengine.Component { return l.component }

func (l *ICELayer) Chain(lower Layer) error {
	if lower != nil {
		return initError(StageICE, "must be the bottom layer, got %s below", lower.Stage())
	}
	return nil
}

func (l *ICELayer) Init() error {
	if l.component == nil {
		return initError(StageICE, "no ICE component bound")
	}
	l.setConnecting()
	go func() {
		conn, err := l.component.Conn(l.ctx)
		if err != nil {
			l.setError(err)
			return
		}
		l.mu.Lock()
		l.demux = newDemux(conn, l.logger)
		l.mu.Unlock()
		if !l.setOpen(conn) {
			l.closeDemux()
			return
		}
		l.logger.Debug("ICE layer open", "flow", l.flow)
	}()
	return nil
}

// endpoint registers a packet class on the connected path. Only valid
// once the layer is open.
func (l *ICELayer) endpoint(match matchFunc) *endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.demux.endpoint(match)
}

func (l *ICELayer) closeDemux() {
	l.mu.Lock()
	d := l.demux
	l.demux = nil
	l.mu.Unlock()
	if d != nil {
		d.Close()
	}
}

// Close stops waiting for the component and closes the connection.
// The ICE stream itself belongs to the engine and outlives the layer.
func (l *ICELayer) Close() error {
	if !l.setClosed() {
		return nil
	}
	l.cancel()
	l.closeDemux()
	return nil
}
