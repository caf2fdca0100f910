// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry holds the flows of one session keyed by (transport id,
// RTCP). Flows are added and removed on the control loop, where
// transports are negotiated; lookups may come from any goroutine.
type Registry struct {
	mu    sync.Mutex
	flows map[FlowKey]*Flow
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[FlowKey]*Flow)}
}

// Get returns the flow for key, or nil.
func (r *Registry) Get(key FlowKey) *Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flows[key]
}

// Insert registers flow under its key. A second flow for the same key
// means two assemblers raced, which the orchestration never allows, so
// it panics.
func (r *Registry) Insert(flow *Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.flows[flow.key]; exists {
		panic(fmt.Sprintf("mediatransport: duplicate flow for %s", flow.key))
	}
	r.flows[flow.key] = flow
}

// Remove unregisters and returns the flow for key, or nil.
func (r *Registry) Remove(key FlowKey) *Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	flow := r.flows[key]
	delete(r.flows, key)
	return flow
}

// Keys returns the registered keys sorted by transport id, RTP first.
func (r *Registry) Keys() []FlowKey {
	r.mu.Lock()
	keys := make([]FlowKey, 0, len(r.flows))
	for key := range r.flows {
		keys = append(keys, key)
	}
	r.mu.Unlock()
	slices.SortFunc(keys, func(a, b FlowKey) int {
		return cmp.Or(
			strings.Compare(a.TransportID, b.TransportID),
			cmp.Compare(a.component(), b.component()),
		)
	})
	return keys
}

// Len returns the number of registered flows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// RemoveTransportsExcept unregisters every flow whose transport id is
// not in keep and returns them.
func (r *Registry) RemoveTransportsExcept(keep []string) []*Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []*Flow
	for key, flow := range r.flows {
		if !slices.Contains(keep, key.TransportID) {
			delete(r.flows, key)
			removed = append(removed, flow)
		}
	}
	return removed
}

// Clear unregisters and returns every flow.
func (r *Registry) Clear() []*Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	flows := make([]*Flow, 0, len(r.flows))
	for _, flow := range r.flows {
		flows = append(flows, flow)
	}
	clear(r.flows)
	return flows
}
