// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package iceengine

import (
	"context"
	"net"

	"github.com/pion/ice/v4"
)

// Stream is the ICE state for one transport id. All fields are owned
// by the network loop.
type Stream struct {
	id         string
	ufrag, pwd string

	remoteUfrag, remotePwd string

	components []*Component
	restarts   int
	closed     bool

	// ctx bounds connectivity checks; canceled when the stream is
	// removed.
	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the transport id.
func (s *Stream) ID() string { return s.id }

// Restarts returns how many times the stream's credentials changed.
func (s *Stream) Restarts() int { return s.restarts }

// ComponentCount returns the number of components, enabled or not.
func (s *Stream) ComponentCount() int { return len(s.components) }

func (s *Stream) hasRemoteCredentials() bool {
	return s.remoteUfrag != "" && s.remotePwd != ""
}

// gatheringDone reports whether every enabled component has finished
// gathering.
func (s *Stream) gatheringDone() bool {
	for _, c := range s.components {
		if !c.disabled && c.gather != gatherDone {
			return false
		}
	}
	return true
}

type gatherProgress int

const (
	gatherNotStarted gatherProgress = iota
	gatherRunning
	gatherDone
)

// Component is one ICE component of a stream: RTP is 1, RTCP is 2.
// Transport layers hold a *Component and wait on Conn for the
// connectivity-checked path.
type Component struct {
	stream *Stream
	id     int

	agent    ComponentAgent
	disabled bool
	gather   gatherProgress
	state    ice.ConnectionState

	local       []ice.Candidate
	localLines  []string
	remoteLines []string
	trickled    []string
	pending     []ice.Candidate

	connecting bool

	// ready is closed once conn or err is set. Both are written on the
	// network loop before the close and never again.
	ready    chan struct{}
	resolved bool
	conn     net.Conn
	err      error
}

func newComponent(stream *Stream, id int) *Component {
	return &Component{
		stream: stream,
		id:     id,
		ready:  make(chan struct{}),
	}
}

// StreamID returns the owning stream's transport id.
func (c *Component) StreamID() string { return c.stream.id }

// ID returns the component number.
func (c *Component) ID() int { return c.id }

// Conn blocks until connectivity checks select a pair for this
// component, the component is disabled, its stream is removed, or ctx
// ends. The returned conn survives ICE restarts of the stream.
func (c *Component) Conn(ctx context.Context) (net.Conn, error) {
	select {
	case <-c.ready:
		return c.conn, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Component) resolve(conn net.Conn, err error) {
	if c.resolved {
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.resolved = true
	c.conn, c.err = conn, err
	close(c.ready)
}
