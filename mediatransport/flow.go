// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Flow is the layered packet path for one (transport id, RTP/RTCP)
// pair. It is created empty so callers can hold it immediately; its
// layers are attached later on the network loop.
type Flow struct {
	id  string
	key FlowKey

	mu        sync.Mutex
	layers    []Layer
	closed    bool
	assembled chan struct{}
}

func newFlow(handle string, key FlowKey) *Flow {
	return &Flow{
		id:        fmt.Sprintf("%s:%s", handle, key),
		key:       key,
		assembled: make(chan struct{}),
	}
}

// ID identifies the flow in logs and captures.
func (f *Flow) ID() string { return f.id }

// Key returns the flow's registry key.
func (f *Flow) Key() FlowKey { return f.key }

// attach installs the layer stack, bottom first. Layers attached to a
// flow that was already closed are closed instead.
func (f *Flow) attach(layers []Layer) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		closeLayers(layers)
		return
	}
	f.layers = layers
	close(f.assembled)
	f.mu.Unlock()
}

// Assembled is closed once the layer stack is attached, or when the
// flow is closed before that. State tells the two apart.
func (f *Flow) Assembled() <-chan struct{} { return f.assembled }

// Layers returns the layer stack, bottom first, or nil before assembly.
func (f *Flow) Layers() []Layer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.layers)
}

func (f *Flow) layer(stage Stage) Layer {
	for _, layer := range f.Layers() {
		if layer.Stage() == stage {
			return layer
		}
	}
	return nil
}

// ICE returns the flow's ICE layer, or nil before assembly.
func (f *Flow) ICE() *ICELayer {
	layer, _ := f.layer(StageICE).(*ICELayer)
	return layer
}

// DTLS returns the flow's DTLS layer, or nil before assembly.
func (f *Flow) DTLS() *DTLSLayer {
	layer, _ := f.layer(StageDTLS).(*DTLSLayer)
	return layer
}

// SRTP returns the flow's SRTP layer, or nil before assembly.
func (f *Flow) SRTP() *SRTPLayer {
	layer, _ := f.layer(StageSRTP).(*SRTPLayer)
	return layer
}

// State is the state of the top layer: LayerOpen means media can flow.
// A flow closed before assembly is LayerClosed.
func (f *Flow) State() LayerState {
	f.mu.Lock()
	layers, closed := f.layers, f.closed
	f.mu.Unlock()
	if len(layers) == 0 {
		if closed {
			return LayerClosed
		}
		return LayerNone
	}
	return layers[len(layers)-1].State()
}

// Close closes every layer from the top down.
func (f *Flow) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	layers := f.layers
	select {
	case <-f.assembled:
	default:
		close(f.assembled)
	}
	f.mu.Unlock()
	return closeLayers(layers)
}

func closeLayers(layers []Layer) error {
	var errs []error
	for i := len(layers) - 1; i >= 0; i-- {
		if err := layers[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s layer: %w", layers[i].Stage(), err))
		}
	}
	return errors.Join(errs...)
}
