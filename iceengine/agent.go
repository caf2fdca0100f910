// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package iceengine

import (
	"context"
	"net"

	"github.com/pion/ice/v4"
)

// ComponentAgent is the ICE state machine for one component of one
// stream. *ice.Agent provides everything except Connect, which folds
// Dial and Accept into one call keyed on the controlling role.
type ComponentAgent interface {
	OnCandidate(func(ice.Candidate)) error
	OnConnectionStateChange(func(ice.ConnectionState)) error
	GatherCandidates() error
	AddRemoteCandidate(ice.Candidate) error
	SetRemoteCredentials(remoteUfrag, remotePwd string) error
	Restart(ufrag, pwd string) error

	// Connect starts connectivity checks and blocks until a pair is
	// selected or ctx ends.
	Connect(ctx context.Context, controlling bool, remoteUfrag, remotePwd string) (net.Conn, error)

	GetCandidatePairsStats() []ice.CandidatePairStats
	GetLocalCandidatesStats() []ice.CandidateStats
	GetRemoteCandidatesStats() []ice.CandidateStats
	Close() error
}

// AgentFactory creates a component agent. Tests substitute a factory
// that returns in-memory agents.
type AgentFactory func(config *ice.AgentConfig) (ComponentAgent, error)

// NewPionAgent is the production AgentFactory.
func NewPionAgent(config *ice.AgentConfig) (ComponentAgent, error) {
	agent, err := ice.NewAgent(config)
	if err != nil {
		return nil, err
	}
	return &pionAgent{Agent: agent}, nil
}

type pionAgent struct {
	*ice.Agent
}

func (a *pionAgent) Connect(ctx context.Context, controlling bool, remoteUfrag, remotePwd string) (net.Conn, error) {
	var conn *ice.Conn
	var err error
	if controlling {
		conn, err = a.Dial(ctx, remoteUfrag, remotePwd)
	} else {
		conn, err = a.Accept(ctx, remoteUfrag, remotePwd)
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
