// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package iceengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/ice/v4"
)

// DefaultCandidates is the address pair advertised in the media
// section's connection line before ICE completes. RTCP fields are empty
// when the stream has a single component.
type DefaultCandidates struct {
	Address     string
	Port        int
	RTCPAddress string
	RTCPPort    int
}

// IsZero reports whether no default has been chosen yet.
func (d DefaultCandidates) IsZero() bool {
	return d.Address == ""
}

// FilterUDPCandidates drops every candidate line that uses the UDP
// transport. Used when the session forces ICE-TCP.
func FilterUDPCandidates(lines []string) []string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.Contains(line, " UDP ") || strings.Contains(line, " udp ") {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}

// ParseCandidate parses one candidate attribute, with or without the
// "a=" and "candidate:" prefixes.
func ParseCandidate(line string) (ice.Candidate, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(line), "a=")
	candidate, err := ice.UnmarshalCandidate(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocolParse, err)
	}
	return candidate, nil
}

// candidateLine renders a local candidate for signaling. pion agents
// only know component 1, so the component field is rewritten for the
// stream's RTCP agent.
func candidateLine(candidate ice.Candidate, component int) string {
	fields := strings.Fields(candidate.Marshal())
	if len(fields) > 1 {
		fields[1] = strconv.Itoa(component)
	}
	return "candidate:" + strings.Join(fields, " ")
}

// selectDefault picks the candidate most likely to work without ICE:
// relay, then server-reflexive, then host; IPv4 and UDP first within
// a type, then by priority.
func selectDefault(candidates []ice.Candidate) (ice.Candidate, bool) {
	var best ice.Candidate
	for _, candidate := range candidates {
		if best == nil || defaultRank(candidate) > defaultRank(best) {
			best = candidate
		}
	}
	return best, best != nil
}

func defaultRank(candidate ice.Candidate) uint64 {
	var typeRank uint64
	switch candidate.Type() {
	case ice.CandidateTypeRelay:
		typeRank = 3
	case ice.CandidateTypeServerReflexive:
		typeRank = 2
	case ice.CandidateTypeHost:
		typeRank = 1
	}
	var familyRank, transportRank uint64
	if candidate.NetworkType().IsIPv4() {
		familyRank = 1
	}
	if candidate.NetworkType().IsUDP() {
		transportRank = 1
	}
	return typeRank<<40 | familyRank<<34 | transportRank<<33 | uint64(candidate.Priority())
}
