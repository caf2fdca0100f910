// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import "time"

// Direction is which way a packet crossed the tap.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Packet is one datagram seen by a tap.
type Packet struct {
	// Flow is the transport flow id the tap belongs to.
	Flow      string
	RTCP      bool
	Direction Direction
	Time      time.Time
	Data      []byte
}

// Sink receives tapped packets. Record is called concurrently from the
// read and write paths of every flow sharing the sink and must not
// retain Data after it returns.
type Sink interface {
	Record(Packet)
	Close() error
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(Packet) {}
func (discard) Close() error  { return nil }
