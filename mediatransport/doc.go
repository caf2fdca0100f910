// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mediatransport turns negotiated transports into secured
// media paths.
//
// An [Orchestrator] owns one session's ICE engine, its flow
// [Registry], and its [TransceiverSet]. Each negotiated transport gets
// an ICE stream and one [Flow] per component it uses: RTP always, RTCP
// only when RTCP is not muxed. A flow is a fixed stack of layers, bottom
// first:
//
//	ICE      the selected candidate pair of one ICE component
//	DTLS     handshake, fingerprint check, SRTP key export
//	capture  copies SRTP/SRTCP packets to a capture sink
//	SRTP     SessionSRTP and SessionSRTCP for the media pipelines
//
// Packets on the ICE path are split by first byte (RFC 7983): DTLS
// records go to the handshake, everything in the RTP range goes up the
// stack.
//
// # Execution contexts
//
// The session runs on two [eventloop.Loop] values. The control loop
// calls every Orchestrator method and receives every [Observer] event.
// The network loop owns the ICE engine and builds flow layers. Control
// never waits on network or the other way round; work crosses with
// Dispatch. ICE operations from the control loop go through a [Gate],
// which holds them until HTTPS proxy resolution and local address
// discovery have both reported and then releases them in order.
//
// [Relay] carries engine signals back: gathering and connection state
// changes (each distinct state once), local candidates with the current
// default candidates, end of candidates per transport, and a single
// DTLS connected event per flow.
package mediatransport
