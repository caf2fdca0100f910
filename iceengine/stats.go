// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package iceengine

import (
	"fmt"
	"slices"

	"github.com/pion/ice/v4"
)

// Report is a snapshot of ICE statistics for one or all streams.
type Report struct {
	Streams []StreamReport
}

// StreamReport holds one stream's statistics.
type StreamReport struct {
	TransportID string
	Restarts    int
	Components  []ComponentReport
}

// ComponentReport holds one component's candidate pairs, candidates,
// and the raw candidate lines behind them.
type ComponentReport struct {
	Component int
	Disabled  bool
	State     string

	Pairs  []ice.CandidatePairStats
	Local  []ice.CandidateStats
	Remote []ice.CandidateStats

	LocalCandidates    []string
	RemoteCandidates   []string
	TrickledCandidates []string
}

// Stats collects statistics for stream id, or every stream when id is
// empty.
func (e *Engine) Stats(id string) (Report, error) {
	e.loop.AssertOn()
	var streams []*Stream
	if id == "" {
		streams = e.sortedStreams()
	} else {
		stream, ok := e.streams[id]
		if !ok {
			return Report{}, fmt.Errorf("%w: %s", ErrUnknownStream, id)
		}
		streams = []*Stream{stream}
	}

	var report Report
	for _, stream := range streams {
		streamReport := StreamReport{TransportID: stream.id, Restarts: stream.restarts}
		for _, component := range stream.components {
			componentReport := ComponentReport{
				Component:          component.id,
				Disabled:           component.disabled,
				State:              component.state.String(),
				LocalCandidates:    slices.Clone(component.localLines),
				RemoteCandidates:   slices.Clone(component.remoteLines),
				TrickledCandidates: slices.Clone(component.trickled),
			}
			if component.agent != nil {
				componentReport.Pairs = component.agent.GetCandidatePairsStats()
				componentReport.Local = component.agent.GetLocalCandidatesStats()
				componentReport.Remote = component.agent.GetRemoteCandidatesStats()
			}
			streamReport.Components = append(streamReport.Components, componentReport)
		}
		report.Streams = append(report.Streams, streamReport)
	}
	return report, nil
}

// Trickled reports whether line arrived by trickle rather than in the
// remote description.
func (r ComponentReport) Trickled(line string) bool {
	return slices.Contains(r.TrickledCandidates, line)
}
