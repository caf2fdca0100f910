// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"net"

	"github.com/bureau-foundation/mediatransport/capture"
	"github.com/bureau-foundation/mediatransport/lib/clock"
)

// CaptureLayer copies every SRTP and SRTCP packet crossing it, in both
// directions, to a capture sink. Packets pass through unchanged.
type CaptureLayer struct {
	layerBase
	sink  capture.Sink
	clock clock.Clock
	lower Layer
}

// NewCaptureLayer creates a tap recording to sink. A nil sink records
// nothing; a nil clock uses wall time.
func NewCaptureLayer(flow string, sink capture.Sink, clk clock.Clock) *CaptureLayer {
	if sink == nil {
		sink = capture.Discard
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &CaptureLayer{
		layerBase: newLayerBase(StageCapture, flow),
		sink:      sink,
		clock:     clk,
	}
}

func (l *CaptureLayer) Chain(lower Layer) error {
	if lower == nil || lower.Stage() != StageDTLS {
		return initError(StageCapture, "must sit on a DTLS layer")
	}
	l.lower = lower
	return nil
}

func (l *CaptureLayer) Init() error {
	if l.lower == nil {
		return initError(StageCapture, "not chained")
	}
	l.setConnecting()
	go func() {
		conn, err := l.waitLower(l.lower)
		if err != nil {
			l.setError(err)
			return
		}
		l.setOpen(&tapConn{Conn: conn, layer: l})
	}()
	return nil
}

func (l *CaptureLayer) record(direction capture.Direction, data []byte) {
	l.sink.Record(capture.Packet{
		Flow:      l.flow,
		RTCP:      matchRTCP(data),
		Direction: direction,
		Time:      l.clock.Now(),
		Data:      data,
	})
}

// Close stops tapping. The DTLS layer below owns the connection.
func (l *CaptureLayer) Close() error {
	l.setClosed()
	return nil
}

// tapConn records each datagram read or written through it.
type tapConn struct {
	net.Conn
	layer *CaptureLayer
}

func (c *tapConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.layer.record(capture.Inbound, p[:n])
	}
	return n, err
}

func (c *tapConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.layer.record(capture.Outbound, p[:n])
	}
	return n, err
}
