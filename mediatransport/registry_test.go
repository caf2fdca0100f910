// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/mediatransport/lib/testutil"
)

func TestRegistryInsertGetRemove(t *testing.T) {
	registry := NewRegistry()
	rtp := newFlow("pc1", FlowKey{TransportID: "0"})
	rtcp := newFlow("pc1", FlowKey{TransportID: "0", RTCP: true})
	other := newFlow("pc1", FlowKey{TransportID: "1"})
	registry.Insert(other)
	registry.Insert(rtcp)
	registry.Insert(rtp)

	if got := registry.Get(FlowKey{TransportID: "0", RTCP: true}); got != rtcp {
		t.Errorf("Get(0,rtcp) = %v, want the RTCP flow", got)
	}
	if got := registry.Get(FlowKey{TransportID: "2"}); got != nil {
		t.Errorf("Get(2,rtp) = %v, want nil", got)
	}

	want := []FlowKey{{TransportID: "0"}, {TransportID: "0", RTCP: true}, {TransportID: "1"}}
	if keys := registry.Keys(); !slices.Equal(keys, want) {
		t.Errorf("Keys = %v, want %v", keys, want)
	}

	if removed := registry.Remove(FlowKey{TransportID: "1"}); removed != other {
		t.Errorf("Remove returned %v, want the removed flow", removed)
	}
	if removed := registry.Remove(FlowKey{TransportID: "1"}); removed != nil {
		t.Errorf("second Remove returned %v, want nil", removed)
	}
	if registry.Len() != 2 {
		t.Errorf("Len = %d, want 2", registry.Len())
	}
}

func TestRegistryDuplicateInsertPanics(t *testing.T) {
	registry := NewRegistry()
	registry.Insert(newFlow("pc1", FlowKey{TransportID: "0"}))
	defer func() {
		if recover() == nil {
			t.Error("duplicate Insert did not panic")
		}
	}()
	registry.Insert(newFlow("pc1", FlowKey{TransportID: "0"}))
}

func TestRegistryRemoveTransportsExcept(t *testing.T) {
	registry := NewRegistry()
	for _, key := range []FlowKey{
		{TransportID: "0"}, {TransportID: "0", RTCP: true},
		{TransportID: "1"}, {TransportID: "2"}, {TransportID: "2", RTCP: true},
	} {
		registry.Insert(newFlow("pc1", key))
	}

	removed := registry.RemoveTransportsExcept([]string{"1"})
	if len(removed) != 4 {
		t.Errorf("removed %d flows, want 4", len(removed))
	}
	if keys := registry.Keys(); !slices.Equal(keys, []FlowKey{{TransportID: "1"}}) {
		t.Errorf("Keys = %v, want only transport 1", keys)
	}

	if cleared := registry.Clear(); len(cleared) != 1 || registry.Len() != 0 {
		t.Errorf("Clear returned %d flows and left %d", len(cleared), registry.Len())
	}
}

func TestFlowIDAndKey(t *testing.T) {
	flow := newFlow("pc1", FlowKey{TransportID: "transport_0", RTCP: true})
	if flow.ID() != "pc1:transport_0,rtcp" {
		t.Errorf("ID = %q", flow.ID())
	}
	if flow.State() != LayerNone {
		t.Errorf("unassembled State = %s, want none", flow.State())
	}
	if flow.ICE() != nil || flow.DTLS() != nil || flow.SRTP() != nil {
		t.Error("unassembled flow returned layers")
	}
}

func TestFlowClosedBeforeAttachClosesLayers(t *testing.T) {
	flow := newFlow("pc1", FlowKey{TransportID: "0"})
	if err := flow.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	layer := NewCaptureLayer(flow.ID(), nil, nil)
	flow.attach([]Layer{layer})

	if layer.State() != LayerClosed {
		t.Errorf("layer attached after Close is %s, want closed", layer.State())
	}
	if len(flow.Layers()) != 0 {
		t.Error("closed flow accepted layers")
	}
	testutil.RequireClosed(t, flow.Assembled(), time.Second, "assembly wait on a closed flow")
	if state := flow.State(); state != LayerClosed {
		t.Errorf("flow closed before assembly is %s, want closed", state)
	}
}
