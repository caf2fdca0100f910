// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package iceengine wraps pion/ice agents behind a per-session facade.
//
// An [Engine] owns one ICE stream per negotiated transport id. Each
// stream has one or two components (RTP, and RTCP when it is not
// muxed), and each component is driven by its own pion agent created
// lazily when gathering or checks first need it. The engine adds what a
// bare agent does not have: a session-wide transport policy and server
// list, stream lifetime keyed by transport id, credential updates that
// restart a stream in place, pending remote candidates for agents that
// do not exist yet, an aggregate connection state, a monotonic
// gathering state, and default-candidate selection.
//
// # Execution context
//
// Every exported method that reads or mutates engine state must be
// called on the network loop passed to [New]; each one asserts this.
// pion delivers agent callbacks on its own goroutines, and the engine
// re-dispatches them onto the network loop before touching state, so
// the engine itself needs no locks. Signals ([Engine.OnGatheringStateChange]
// and friends) are emitted on the network loop.
//
// # Restarts
//
// Any change to a stream's local credentials is treated as an ICE
// restart: the agents are restarted in place (keeping their
// connections and the stream's statistics), local candidates are
// discarded, and the components gather again on the next
// [Engine.StartGathering]. The engine-wide gathering state does not
// regress; streams that finish gathering after the engine reached
// Complete are reported through [Engine.OnStreamGatheringComplete].
package iceengine
