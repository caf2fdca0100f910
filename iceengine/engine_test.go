// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package iceengine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"golang.org/x/net/proxy"

	"github.com/bureau-foundation/mediatransport/iceengine"
	"github.com/bureau-foundation/mediatransport/iceengine/icetest"
	"github.com/bureau-foundation/mediatransport/lib/eventloop"
)

type harness struct {
	t       *testing.T
	loop    *eventloop.Loop
	factory *icetest.Factory
	engine  *iceengine.Engine

	gathering  []iceengine.GatheringState
	connection []iceengine.ConnectionState
	candidates []iceengine.CandidateEvent
	lateDone   []string
}

func newHarness(t *testing.T, config iceengine.Config) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loop := eventloop.New("network", logger)
	t.Cleanup(loop.Close)

	factory := icetest.NewFactory()
	config.AgentFactory = func(agentConfig *ice.AgentConfig) (iceengine.ComponentAgent, error) {
		agent, err := factory.New(agentConfig)
		if err != nil {
			return nil, err
		}
		return agent, nil
	}
	engine, err := iceengine.New(loop, config, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := &harness{t: t, loop: loop, factory: factory, engine: engine}
	engine.OnGatheringStateChange(func(state iceengine.GatheringState) {
		h.gathering = append(h.gathering, state)
	})
	engine.OnConnectionStateChange(func(state iceengine.ConnectionState) {
		h.connection = append(h.connection, state)
	})
	engine.OnCandidate(func(event iceengine.CandidateEvent) {
		h.candidates = append(h.candidates, event)
	})
	engine.OnStreamGatheringComplete(func(id string) {
		h.lateDone = append(h.lateDone, id)
	})
	return h
}

// run executes fn on the network loop and waits for it and anything
// it dispatched before returning.
func (h *harness) run(fn func()) {
	h.t.Helper()
	h.loop.Dispatch(fn)
	h.flush()
}

func (h *harness) flush() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.loop.Flush(ctx); err != nil {
		h.t.Fatalf("Flush: %v", err)
	}
}

func (h *harness) ensure(id, ufrag, pwd string, components int) {
	h.t.Helper()
	var err error
	h.run(func() { _, err = h.engine.EnsureStream(id, ufrag, pwd, components) })
	if err != nil {
		h.t.Fatalf("EnsureStream(%s): %v", id, err)
	}
}

func (h *harness) streamIDs() []string {
	var ids []string
	h.run(func() { ids = h.engine.StreamIDs() })
	return ids
}

const (
	udpHost = "candidate:1 1 UDP 2122252543 192.0.2.10 5000 typ host"
	tcpHost = "candidate:2 1 tcp 1518280447 192.0.2.10 9 typ host tcptype active"
)

func TestEnsureStreamUpdatesCredentialsInPlace(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.ensure("0", "ufragA", "passwordA0123456789012", 2)
	h.ensure("0", "ufragA", "passwordA0123456789012", 2)

	if ids := h.streamIDs(); len(ids) != 1 {
		t.Fatalf("stream count = %d, want 1", len(ids))
	}
	var stream *iceengine.Stream
	h.run(func() { stream = h.engine.Stream("0") })
	if stream.Restarts() != 0 {
		t.Errorf("restarts after identical credentials = %d, want 0", stream.Restarts())
	}

	h.run(func() { h.engine.StartGathering(false, false) })
	agents := h.factory.Agents()
	if len(agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(agents))
	}

	h.ensure("0", "ufragB", "passwordB0123456789012", 2)
	if ids := h.streamIDs(); len(ids) != 1 {
		t.Fatalf("stream count after restart = %d, want 1", len(ids))
	}
	var same *iceengine.Stream
	h.run(func() { same = h.engine.Stream("0") })
	if same != stream {
		t.Error("credential change replaced the stream object")
	}
	if stream.Restarts() != 1 {
		t.Errorf("restarts = %d, want 1", stream.Restarts())
	}
	for i, agent := range agents {
		if agent.Restarts() != 1 {
			t.Errorf("agent %d restarts = %d, want 1", i, agent.Restarts())
		}
		if got := agent.LocalUfrag(); got != "ufragB" {
			t.Errorf("agent %d ufrag = %q, want ufragB", i, got)
		}
	}
	if len(h.factory.Agents()) != 2 {
		t.Errorf("restart created new agents: %d total", len(h.factory.Agents()))
	}
}

func TestEnsureStreamRejectsComponentCount(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	var err error
	h.run(func() { _, err = h.engine.EnsureStream("0", "u", "p", 3) })
	if err == nil {
		t.Fatal("EnsureStream with 3 components succeeded")
	}
}

func TestActivateStreamCredentialsRoundTrip(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.ensure("audio", "localUfrag", "localPassword0123456789", 1)

	var err error
	var localUfrag, localPwd, remoteUfrag, remotePwd string
	h.run(func() {
		err = h.engine.ActivateStream(iceengine.ActivateParams{
			TransportID: "audio",
			LocalUfrag:  "localUfrag",
			LocalPwd:    "localPassword0123456789",
			Components:  1,
			RemoteUfrag: "remoteUfrag",
			RemotePwd:   "remotePassword012345678",
		})
		localUfrag, localPwd, _ = h.engine.StreamCredentials("audio")
		remoteUfrag, remotePwd, _ = h.engine.RemoteCredentials("audio")
	})
	if err != nil {
		t.Fatalf("ActivateStream: %v", err)
	}
	if localUfrag != "localUfrag" || localPwd != "localPassword0123456789" {
		t.Errorf("local credentials = %q/%q, want localUfrag/localPassword0123456789", localUfrag, localPwd)
	}
	if remoteUfrag != "remoteUfrag" || remotePwd != "remotePassword012345678" {
		t.Errorf("remote credentials = %q/%q, want remoteUfrag/remotePassword012345678", remoteUfrag, remotePwd)
	}
}

func TestActivateStreamForceTCPDropsUDP(t *testing.T) {
	h := newHarness(t, iceengine.Config{TCP: true})
	h.ensure("0", "u", "p", 1)

	var err error
	h.run(func() {
		err = h.engine.ActivateStream(iceengine.ActivateParams{
			TransportID:      "0",
			Components:       1,
			RemoteUfrag:      "ru",
			RemotePwd:        "rp",
			RemoteCandidates: []string{udpHost, tcpHost},
			ForceTCP:         true,
		})
	})
	if err != nil {
		t.Fatalf("ActivateStream: %v", err)
	}
	h.run(func() { h.engine.StartGathering(false, false) })

	agents := h.factory.Agents()
	if len(agents) != 1 {
		t.Fatalf("agents = %d, want 1", len(agents))
	}
	remote := agents[0].RemoteCandidates()
	if len(remote) != 1 {
		t.Fatalf("remote candidates = %d, want 1", len(remote))
	}
	if !remote[0].NetworkType().IsTCP() {
		t.Errorf("forwarded candidate network = %s, want tcp", remote[0].NetworkType())
	}

	var report iceengine.Report
	h.run(func() { report, _ = h.engine.Stats("0") })
	lines := report.Streams[0].Components[0].RemoteCandidates
	if slices.Contains(lines, udpHost) {
		t.Errorf("stats recorded a dropped UDP candidate: %v", lines)
	}
}

func TestActivateStreamMalformedCandidateChangesNothing(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.ensure("0", "u", "p", 1)

	var err error
	var remoteUfrag string
	h.run(func() {
		err = h.engine.ActivateStream(iceengine.ActivateParams{
			TransportID:      "0",
			Components:       1,
			RemoteUfrag:      "ru",
			RemotePwd:        "rp",
			RemoteCandidates: []string{udpHost, "candidate:garbage"},
		})
		remoteUfrag, _, _ = h.engine.RemoteCredentials("0")
	})
	if !errors.Is(err, iceengine.ErrProtocolParse) {
		t.Fatalf("error = %v, want ErrProtocolParse", err)
	}
	if remoteUfrag != "" {
		t.Errorf("remote ufrag = %q after rejected activation, want empty", remoteUfrag)
	}
}

func TestActivateStreamUnknownStream(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	var activateErr, trickleErr error
	h.run(func() {
		activateErr = h.engine.ActivateStream(iceengine.ActivateParams{
			TransportID: "missing", Components: 1, RemoteUfrag: "u", RemotePwd: "p",
		})
		trickleErr = h.engine.AddRemoteCandidate("missing", udpHost)
	})
	if !errors.Is(activateErr, iceengine.ErrUnknownStream) {
		t.Errorf("ActivateStream error = %v, want ErrUnknownStream", activateErr)
	}
	if !errors.Is(trickleErr, iceengine.ErrUnknownStream) {
		t.Errorf("AddRemoteCandidate error = %v, want ErrUnknownStream", trickleErr)
	}
}

func TestActivateStreamDisablesExtraComponents(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.ensure("0", "u", "p", 2)

	var rtcp *iceengine.Component
	h.run(func() {
		if err := h.engine.ActivateStream(iceengine.ActivateParams{
			TransportID: "0", Components: 1, RemoteUfrag: "ru", RemotePwd: "rp",
		}); err != nil {
			t.Errorf("ActivateStream: %v", err)
		}
		rtcp, _ = h.engine.Component("0", 2)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := rtcp.Conn(ctx); !errors.Is(err, iceengine.ErrComponentDisabled) {
		t.Errorf("RTCP Conn error = %v, want ErrComponentDisabled", err)
	}

	h.run(func() { h.engine.StartGathering(false, false) })
	if got := len(h.factory.Agents()); got != 1 {
		t.Errorf("agents = %d, want 1 (RTCP disabled)", got)
	}
}

func TestAddRemoteCandidateRecordsTrickle(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.ensure("0", "u", "p", 1)

	var malformed error
	var report iceengine.Report
	h.run(func() {
		if err := h.engine.AddRemoteCandidate("0", "a="+udpHost); err != nil {
			t.Errorf("AddRemoteCandidate: %v", err)
		}
		malformed = h.engine.AddRemoteCandidate("0", "candidate:1 1 UDP")
		report, _ = h.engine.Stats("")
	})
	if !errors.Is(malformed, iceengine.ErrProtocolParse) {
		t.Errorf("malformed trickle error = %v, want ErrProtocolParse", malformed)
	}
	component := report.Streams[0].Components[0]
	if !component.Trickled("a=" + udpHost) {
		t.Errorf("trickled candidates = %v, want the added line", component.TrickledCandidates)
	}
}

func TestRemoveStreamsExcept(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	for _, id := range []string{"A", "B", "C"} {
		h.ensure(id, "u"+id, "p"+id, 1)
	}
	h.run(func() { h.engine.StartGathering(false, false) })

	var removed *iceengine.Component
	h.run(func() {
		removed, _ = h.engine.Component("C", 1)
		h.engine.RemoveStreamsExcept([]string{"A", "B"})
	})
	if got, want := h.streamIDs(), []string{"A", "B"}; !slices.Equal(got, want) {
		t.Errorf("streams = %v, want %v", got, want)
	}

	closed := 0
	for _, agent := range h.factory.Agents() {
		if agent.Closed() {
			closed++
		}
	}
	if closed != 1 {
		t.Errorf("closed agents = %d, want 1", closed)
	}
	if _, err := removed.Conn(context.Background()); !errors.Is(err, iceengine.ErrStreamClosed) {
		t.Errorf("removed component Conn error = %v, want ErrStreamClosed", err)
	}
}

func TestGatheringIsMonotonic(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.ensure("0", "u", "p", 1)
	h.run(func() { h.engine.StartGathering(false, false) })
	h.run(func() { h.engine.StartGathering(false, false) })

	agents := h.factory.Agents()
	if len(agents) != 1 || agents[0].Gathers() != 1 {
		t.Fatalf("re-entrant StartGathering: agents = %d, gathers = %d", len(agents), agents[0].Gathers())
	}

	agents[0].EmitCandidate(icetest.HostCandidate("192.0.2.1", 4000))
	agents[0].FinishGathering()
	h.flush()

	want := []iceengine.GatheringState{iceengine.GatheringGathering, iceengine.GatheringComplete}
	if !slices.Equal(h.gathering, want) {
		t.Fatalf("gathering states = %v, want %v", h.gathering, want)
	}

	// A stream added by renegotiation gathers without regressing the
	// session state and is reported on its own.
	h.ensure("1", "u1", "p1", 1)
	h.run(func() { h.engine.StartGathering(false, false) })
	agents = h.factory.Agents()
	if len(agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(agents))
	}
	agents[1].FinishGathering()
	h.flush()

	if !slices.Equal(h.gathering, want) {
		t.Errorf("gathering states after late stream = %v, want %v", h.gathering, want)
	}
	if !slices.Equal(h.lateDone, []string{"1"}) {
		t.Errorf("late stream completions = %v, want [1]", h.lateDone)
	}
}

func TestStartGatheringWithoutStreamsCompletes(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.run(func() { h.engine.StartGathering(false, false) })
	want := []iceengine.GatheringState{iceengine.GatheringGathering, iceengine.GatheringComplete}
	if !slices.Equal(h.gathering, want) {
		t.Errorf("gathering states = %v, want %v", h.gathering, want)
	}
}

func TestStartGatheringProxyOnlyWithoutProxy(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.ensure("0", "u", "p", 1)
	var state iceengine.GatheringState
	h.run(func() {
		h.engine.StartGathering(false, true)
		state = h.engine.GatheringState()
	})
	if state != iceengine.GatheringComplete {
		t.Errorf("gathering state = %s, want complete", state)
	}
	if got := len(h.factory.Agents()); got != 0 {
		t.Errorf("agents = %d, want 0", got)
	}
}

func TestCandidateEventsAndDefaults(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.ensure("0", "u", "p", 2)
	h.run(func() { h.engine.StartGathering(false, false) })

	agents := h.factory.Agents()
	if len(agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(agents))
	}
	agents[0].EmitCandidate(icetest.HostCandidate("192.0.2.1", 4000))
	agents[0].EmitCandidate(icetest.RelayCandidate("198.51.100.7", 50000, "192.0.2.1", 4000))
	agents[1].EmitCandidate(icetest.HostCandidate("192.0.2.1", 4001))
	h.flush()

	if len(h.candidates) != 3 {
		t.Fatalf("candidate events = %d, want 3", len(h.candidates))
	}
	for _, event := range h.candidates {
		if !strings.HasPrefix(event.Line, "candidate:") {
			t.Errorf("candidate line %q lacks prefix", event.Line)
		}
		fields := strings.Fields(event.Line)
		if fields[1] != string(rune('0'+event.Component)) {
			t.Errorf("line %q component field = %s, want %d", event.Line, fields[1], event.Component)
		}
	}

	var defaults iceengine.DefaultCandidates
	h.run(func() { defaults, _ = h.engine.DefaultCandidates("0") })
	want := iceengine.DefaultCandidates{
		Address: "198.51.100.7", Port: 50000,
		RTCPAddress: "192.0.2.1", RTCPPort: 4001,
	}
	if defaults != want {
		t.Errorf("defaults = %+v, want %+v", defaults, want)
	}
}

func TestStartChecksConnectsComponent(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.ensure("0", "u", "p", 1)

	var component *iceengine.Component
	h.run(func() {
		if err := h.engine.ActivateStream(iceengine.ActivateParams{
			TransportID: "0", Components: 1, RemoteUfrag: "ru", RemotePwd: "rp",
		}); err != nil {
			t.Errorf("ActivateStream: %v", err)
		}
		if err := h.engine.StartChecks(iceengine.CheckParams{Controlling: true, Options: []string{"trickle"}}); err != nil {
			t.Errorf("StartChecks: %v", err)
		}
		component, _ = h.engine.Component("0", 1)
	})

	agent := h.factory.Agents()[0]
	select {
	case <-agent.Connecting():
	case <-time.After(5 * time.Second):
		t.Fatal("Connect was never called")
	}
	if !agent.Controlling() {
		t.Error("agent connected as controlled, want controlling")
	}
	if ufrag, pwd := agent.RemoteCredentials(); ufrag != "ru" || pwd != "rp" {
		t.Errorf("remote credentials = %q/%q, want ru/rp", ufrag, pwd)
	}

	local, remote := net.Pipe()
	defer remote.Close()
	agent.Complete(local, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := component.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn: %v", err)
	}
	if conn != local {
		t.Error("Conn returned a different connection")
	}
}

func TestStartChecksRejectsMalformedOption(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	var err error
	h.run(func() { err = h.engine.StartChecks(iceengine.CheckParams{Options: []string{"tri ckle"}}) })
	if !errors.Is(err, iceengine.ErrProtocolParse) {
		t.Errorf("error = %v, want ErrProtocolParse", err)
	}
}

func TestConnectionStateAggregates(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.ensure("0", "u", "p", 2)
	h.run(func() { h.engine.StartGathering(false, false) })
	agents := h.factory.Agents()

	agents[0].EmitState(ice.ConnectionStateChecking)
	agents[1].EmitState(ice.ConnectionStateChecking)
	agents[0].EmitState(ice.ConnectionStateConnected)
	agents[1].EmitState(ice.ConnectionStateConnected)
	agents[1].EmitState(ice.ConnectionStateFailed)
	h.flush()

	want := []iceengine.ConnectionState{
		iceengine.ConnectionChecking,
		iceengine.ConnectionConnected,
		iceengine.ConnectionFailed,
	}
	if !slices.Equal(h.connection, want) {
		t.Errorf("connection states = %v, want %v", h.connection, want)
	}
}

func TestDestroyClosesEverything(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.ensure("0", "u", "p", 1)
	h.run(func() { h.engine.StartGathering(false, false) })
	agent := h.factory.Agents()[0]
	agent.Pairs = []ice.CandidatePairStats{{RequestsSent: 4, ResponsesReceived: 3}}

	var first, second iceengine.TeardownStats
	h.run(func() {
		first = h.engine.Destroy()
		second = h.engine.Destroy()
	})
	if first.Streams != 1 || first.RequestsSent != 4 || first.ResponsesReceived != 3 {
		t.Errorf("teardown stats = %+v, want 1 stream, 4 sent, 3 received", first)
	}
	if second != (iceengine.TeardownStats{}) {
		t.Errorf("second Destroy = %+v, want zero", second)
	}
	if !agent.Closed() {
		t.Error("agent not closed")
	}
	if got := h.connection[len(h.connection)-1]; got != iceengine.ConnectionClosed {
		t.Errorf("final connection state = %s, want closed", got)
	}

	// No signal fires after Destroy.
	before := len(h.candidates)
	agent.EmitCandidate(icetest.HostCandidate("192.0.2.1", 4000))
	h.flush()
	if len(h.candidates) != before {
		t.Error("candidate delivered after Destroy")
	}
}

func TestNewRejectsMalformedServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loop := eventloop.New("network", logger)
	defer loop.Close()

	_, err := iceengine.New(loop, iceengine.Config{
		Servers: []webrtc.ICEServer{{URLs: []string{"stun://user@example.com"}}},
	}, logger)
	var configErr *iceengine.ConfigurationError
	if !errors.As(err, &configErr) {
		t.Fatalf("error = %v, want *ConfigurationError", err)
	}
	if configErr.Op != "servers" {
		t.Errorf("Op = %q, want servers", configErr.Op)
	}

	_, err = iceengine.New(loop, iceengine.Config{Policy: iceengine.Policy(42)}, logger)
	if !errors.As(err, &configErr) || configErr.Op != "policy" {
		t.Errorf("bad policy error = %v, want policy ConfigurationError", err)
	}
}

func TestAgentConfigFollowsPolicy(t *testing.T) {
	servers := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com?transport=tcp"}, Username: "user", Credential: "secret"},
	}

	tests := []struct {
		name      string
		config    iceengine.Config
		wantTypes []ice.CandidateType
		wantURLs  int
		wantTCP   bool
	}{
		{
			name:      "all",
			config:    iceengine.Config{Servers: servers},
			wantTypes: []ice.CandidateType{ice.CandidateTypeHost, ice.CandidateTypeServerReflexive, ice.CandidateTypeRelay},
			wantURLs:  2,
		},
		{
			name:      "relay with tcp",
			config:    iceengine.Config{Servers: servers, Policy: iceengine.PolicyRelay, TCP: true},
			wantTypes: []ice.CandidateType{ice.CandidateTypeRelay},
			wantURLs:  2,
			wantTCP:   true,
		},
		{
			name:      "no host without turn",
			config:    iceengine.Config{Servers: servers, Policy: iceengine.PolicyNoHost, DisableTURN: true},
			wantTypes: []ice.CandidateType{ice.CandidateTypeServerReflexive, ice.CandidateTypeRelay},
			wantURLs:  1,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t, test.config)
			h.ensure("0", "u", "p", 1)
			h.run(func() { h.engine.StartGathering(false, false) })

			config := h.factory.Agents()[0].Config
			if !slices.Equal(config.CandidateTypes, test.wantTypes) {
				t.Errorf("candidate types = %v, want %v", config.CandidateTypes, test.wantTypes)
			}
			if len(config.Urls) != test.wantURLs {
				t.Errorf("urls = %d, want %d", len(config.Urls), test.wantURLs)
			}
			if got := slices.Contains(config.NetworkTypes, ice.NetworkTypeTCP4); got != test.wantTCP {
				t.Errorf("tcp network types = %v, want %v", got, test.wantTCP)
			}
			if config.LocalUfrag != "u" || config.LocalPwd != "p" {
				t.Errorf("credentials = %q/%q, want u/p", config.LocalUfrag, config.LocalPwd)
			}
		})
	}
}

func TestLocalAddressesFilterAgents(t *testing.T) {
	h := newHarness(t, iceengine.Config{})
	h.ensure("0", "u", "p", 1)
	h.run(func() {
		h.engine.SetLocalAddresses(mustAddrs(t, "192.0.2.1"))
		h.engine.StartGathering(false, false)
	})
	filter := h.factory.Agents()[0].Config.IPFilter
	if filter == nil {
		t.Fatal("no IP filter installed")
	}
	if !filter(net.ParseIP("192.0.2.1")) {
		t.Error("discovered address rejected")
	}
	if filter(net.ParseIP("192.0.2.2")) {
		t.Error("undiscovered address accepted")
	}
	if filter(net.ParseIP("fe80::1")) {
		t.Error("link-local address accepted")
	}
}

func TestProxyOnlyKeepsTCPRelays(t *testing.T) {
	h := newHarness(t, iceengine.Config{Servers: []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com"}},
		{URLs: []string{"turn:turn.example.com"}, Username: "u", Credential: "c"},
		{URLs: []string{"turns:turn.example.com"}, Username: "u", Credential: "c"},
	}})
	h.ensure("0", "u", "p", 1)
	h.run(func() {
		h.engine.SetProxyDialer(proxy.Direct)
		h.engine.StartGathering(false, true)
	})
	config := h.factory.Agents()[0].Config
	if len(config.Urls) != 1 || config.Urls[0].Proto != stun.ProtoTypeTCP {
		t.Errorf("proxy-only urls = %v, want the single TCP TURN server", config.Urls)
	}
	if config.ProxyDialer == nil {
		t.Error("proxy dialer not passed to agent")
	}
}

func mustAddrs(t *testing.T, addrs ...string) []netip.Addr {
	t.Helper()
	parsed := make([]netip.Addr, len(addrs))
	for i, addr := range addrs {
		var err error
		if parsed[i], err = netip.ParseAddr(addr); err != nil {
			t.Fatalf("ParseAddr(%q): %v", addr, err)
		}
	}
	return parsed
}
