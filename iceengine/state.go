// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package iceengine

import "fmt"

// Policy selects which candidate types are gathered.
type Policy int

const (
	// PolicyAll gathers host, server-reflexive, and relay candidates.
	PolicyAll Policy = iota
	// PolicyNoHost gathers server-reflexive and relay candidates.
	PolicyNoHost
	// PolicyRelay gathers relay candidates only.
	PolicyRelay
)

func (p Policy) String() string {
	switch p {
	case PolicyAll:
		return "all"
	case PolicyNoHost:
		return "no-host"
	case PolicyRelay:
		return "relay"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// GatheringState is the session-wide candidate gathering state. It
// only moves forward within one engine.
type GatheringState int

const (
	GatheringInit GatheringState = iota
	GatheringGathering
	GatheringComplete
)

func (s GatheringState) String() string {
	switch s {
	case GatheringInit:
		return "init"
	case GatheringGathering:
		return "gathering"
	case GatheringComplete:
		return "complete"
	default:
		return fmt.Sprintf("GatheringState(%d)", int(s))
	}
}

// ConnectionState is the aggregate connectivity state across every
// enabled component. Closed is terminal.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionChecking
	ConnectionConnected
	ConnectionCompleted
	ConnectionFailed
	ConnectionDisconnected
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionChecking:
		return "checking"
	case ConnectionConnected:
		return "connected"
	case ConnectionCompleted:
		return "completed"
	case ConnectionFailed:
		return "failed"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}
