// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package icetest provides an in-memory ICE component agent for tests
// of code built on iceengine. Agents never touch the network: tests
// drive gathering, state changes, and connectivity results by hand.
package icetest

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/pion/ice/v4"
)

// Factory creates Agents and remembers them in creation order.
type Factory struct {
	mu      sync.Mutex
	agents  []*Agent
	created chan *Agent

	// Err, when set, makes New fail.
	Err error
}

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{created: make(chan *Agent, 64)}
}

// New creates an agent for config.
func (f *Factory) New(config *ice.AgentConfig) (*Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	agent := &Agent{
		Config:     config,
		ufrag:      config.LocalUfrag,
		connecting: make(chan struct{}),
		result:     make(chan connectResult, 1),
	}
	f.agents = append(f.agents, agent)
	select {
	case f.created <- agent:
	default:
	}
	return agent, nil
}

// Agents returns every agent created so far.
func (f *Factory) Agents() []*Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Agent(nil), f.agents...)
}

// Created delivers each agent as it is created.
func (f *Factory) Created() <-chan *Agent { return f.created }

type connectResult struct {
	conn net.Conn
	err  error
}

// Agent is a scripted ComponentAgent.
type Agent struct {
	Config *ice.AgentConfig

	// Pairs is returned by GetCandidatePairsStats.
	Pairs []ice.CandidatePairStats

	mu          sync.Mutex
	onCandidate func(ice.Candidate)
	onState     func(ice.ConnectionState)
	ufrag       string
	gathers     int
	restarts    int
	remote      []ice.Candidate
	remoteUfrag string
	remotePwd   string
	controlling bool
	closed      bool

	connectOnce sync.Once
	connecting  chan struct{}
	result      chan connectResult
}

var errClosed = errors.New("icetest: agent closed")

func (a *Agent) OnCandidate(fn func(ice.Candidate)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onCandidate = fn
	return nil
}

func (a *Agent) OnConnectionStateChange(fn func(ice.ConnectionState)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = fn
	return nil
}

func (a *Agent) GatherCandidates() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errClosed
	}
	a.gathers++
	return nil
}

func (a *Agent) AddRemoteCandidate(candidate ice.Candidate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remote = append(a.remote, candidate)
	return nil
}

func (a *Agent) SetRemoteCredentials(ufrag, pwd string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remoteUfrag, a.remotePwd = ufrag, pwd
	return nil
}

func (a *Agent) Restart(ufrag, pwd string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restarts++
	a.ufrag = ufrag
	a.remoteUfrag, a.remotePwd = "", ""
	return nil
}

func (a *Agent) Connect(ctx context.Context, controlling bool, ufrag, pwd string) (net.Conn, error) {
	a.mu.Lock()
	a.controlling = controlling
	a.remoteUfrag, a.remotePwd = ufrag, pwd
	a.mu.Unlock()
	a.connectOnce.Do(func() { close(a.connecting) })

	select {
	case result := <-a.result:
		return result.conn, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Agent) GetCandidatePairsStats() []ice.CandidatePairStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Pairs
}

func (a *Agent) GetLocalCandidatesStats() []ice.CandidateStats  { return nil }
func (a *Agent) GetRemoteCandidatesStats() []ice.CandidateStats { return nil }

func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// EmitCandidate delivers a local candidate as if gathering found it.
func (a *Agent) EmitCandidate(candidate ice.Candidate) {
	a.mu.Lock()
	fn := a.onCandidate
	a.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

// FinishGathering delivers the end-of-gathering marker.
func (a *Agent) FinishGathering() { a.EmitCandidate(nil) }

// EmitState delivers a connection state change.
func (a *Agent) EmitState(state ice.ConnectionState) {
	a.mu.Lock()
	fn := a.onState
	a.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// Complete ends the pending Connect call with conn or err.
func (a *Agent) Complete(conn net.Conn, err error) {
	a.result <- connectResult{conn: conn, err: err}
}

// Connecting is closed once Connect has been called.
func (a *Agent) Connecting() <-chan struct{} { return a.connecting }

// Controlling reports the role passed to Connect.
func (a *Agent) Controlling() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controlling
}

// Gathers returns how many times GatherCandidates was called.
func (a *Agent) Gathers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gathers
}

// Restarts returns how many times Restart was called.
func (a *Agent) Restarts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.restarts
}

// LocalUfrag returns the ufrag from creation or the last restart.
func (a *Agent) LocalUfrag() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ufrag
}

// RemoteCandidates returns every candidate added so far.
func (a *Agent) RemoteCandidates() []ice.Candidate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ice.Candidate(nil), a.remote...)
}

// RemoteCredentials returns the last remote ufrag and password seen.
func (a *Agent) RemoteCredentials() (ufrag, pwd string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remoteUfrag, a.remotePwd
}

// Closed reports whether Close was called.
func (a *Agent) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// HostCandidate builds a UDP host candidate and panics on bad input.
func HostCandidate(address string, port int) ice.Candidate {
	candidate, err := ice.NewCandidateHost(&ice.CandidateHostConfig{
		Network:   "udp",
		Address:   address,
		Port:      port,
		Component: ice.ComponentRTP,
	})
	if err != nil {
		panic(err)
	}
	return candidate
}

// RelayCandidate builds a UDP relay candidate and panics on bad input.
func RelayCandidate(address string, port int, relatedAddress string, relatedPort int) ice.Candidate {
	candidate, err := ice.NewCandidateRelay(&ice.CandidateRelayConfig{
		Network:   "udp",
		Address:   address,
		Port:      port,
		Component: ice.ComponentRTP,
		RelAddr:   relatedAddress,
		RelPort:   relatedPort,
	})
	if err != nil {
		panic(err)
	}
	return candidate
}
