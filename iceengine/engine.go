// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package iceengine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"regexp"
	"slices"

	"github.com/pion/ice/v4"
	"github.com/pion/logging"
	"github.com/pion/stun/v3"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
	"golang.org/x/net/proxy"

	"github.com/bureau-foundation/mediatransport/lib/eventloop"
	"github.com/bureau-foundation/mediatransport/lib/pionlog"
	"github.com/bureau-foundation/mediatransport/lib/signal"
)

// Config is the session-wide ICE configuration applied by New.
type Config struct {
	Policy  Policy
	Servers []webrtc.ICEServer

	// TCP enables ICE-TCP candidates in addition to UDP.
	TCP bool

	AllowLoopback  bool
	AllowLinkLocal bool

	// DisableTURN drops every configured TURN server.
	DisableTURN bool

	// DefaultRoute returns the address of the interface holding the
	// default route. Used when gathering is restricted to that
	// address. Nil disables the restriction.
	DefaultRoute func() (netip.Addr, error)

	// Net overrides the network stack handed to agents. Nil uses the
	// host network.
	Net transport.Net

	// AgentFactory creates component agents. Nil uses NewPionAgent.
	AgentFactory AgentFactory

	// LoggerFactory receives pion's internal logging. Nil routes it to
	// the engine logger.
	LoggerFactory logging.LoggerFactory
}

// CandidateEvent is one local candidate discovered during gathering.
type CandidateEvent struct {
	StreamID  string
	Component int
	// Line is the candidate attribute value, "candidate:" prefix
	// included.
	Line string
}

// ActivateParams carries the remote description for one stream.
type ActivateParams struct {
	TransportID string

	// LocalUfrag and LocalPwd, when set, replace the stream's local
	// credentials. A change is an ICE restart.
	LocalUfrag string
	LocalPwd   string

	// Components is the number of components the negotiated transport
	// uses. Components beyond it are disabled.
	Components int

	RemoteUfrag      string
	RemotePwd        string
	RemoteCandidates []string

	// ForceTCP drops every UDP candidate before it reaches the agents.
	ForceTCP bool
}

// CheckParams are the session-level attributes that start
// connectivity checks.
type CheckParams struct {
	Controlling bool
	Offerer     bool
	RemoteLite  bool
	Options     []string
}

type gatherParams struct {
	defaultRouteOnly bool
	proxyOnly        bool
}

// Engine owns every ICE stream of one session. Methods other than the
// signal registrations must be called on the network loop.
type Engine struct {
	loop   *eventloop.Loop
	logger *slog.Logger
	config Config

	stunServers []*stun.URI
	turnServers []*stun.URI

	ctx    context.Context
	cancel context.CancelFunc

	streams map[string]*Stream

	proxyDialer    proxy.Dialer
	localAddresses []netip.Addr
	online         bool
	gather         gatherParams
	checks         *CheckParams

	gathering  GatheringState
	connection ConnectionState
	destroyed  bool

	gatheringChanged  signal.Signal[GatheringState]
	connectionChanged signal.Signal[ConnectionState]
	candidateFound    signal.Signal[CandidateEvent]
	streamGathered    signal.Signal[string]
}

// New validates config and creates an engine bound to loop. A bad
// policy or server list returns a *ConfigurationError.
func New(loop *eventloop.Loop, config Config, logger *slog.Logger) (*Engine, error) {
	switch config.Policy {
	case PolicyAll, PolicyNoHost, PolicyRelay:
	default:
		return nil, &ConfigurationError{Op: "policy", Err: fmt.Errorf("unknown policy %s", config.Policy)}
	}

	stunServers, turnServers, err := ParseServers(config.Servers)
	if err != nil {
		return nil, &ConfigurationError{Op: "servers", Err: err}
	}
	if config.DisableTURN && len(turnServers) > 0 {
		logger.Error("TURN is disabled, ignoring configured TURN servers", "count", len(turnServers))
		turnServers = nil
	}

	if config.AgentFactory == nil {
		config.AgentFactory = NewPionAgent
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = pionlog.Factory{Logger: logger}
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger.Info("ICE engine configured",
		"policy", config.Policy.String(),
		"stun_servers", len(stunServers),
		"turn_servers", len(turnServers),
		"tcp", config.TCP,
	)
	return &Engine{
		loop:        loop,
		logger:      logger,
		config:      config,
		stunServers: stunServers,
		turnServers: turnServers,
		ctx:         ctx,
		cancel:      cancel,
		streams:     make(map[string]*Stream),
		online:      true,
	}, nil
}

// OnGatheringStateChange registers fn for gathering state changes.
// Handlers run on the network loop.
func (e *Engine) OnGatheringStateChange(fn func(GatheringState)) (disconnect func()) {
	return e.gatheringChanged.Connect(fn)
}

// OnConnectionStateChange registers fn for aggregate connection state
// changes. Handlers run on the network loop.
func (e *Engine) OnConnectionStateChange(fn func(ConnectionState)) (disconnect func()) {
	return e.connectionChanged.Connect(fn)
}

// OnCandidate registers fn for local candidates. Handlers run on the
// network loop.
func (e *Engine) OnCandidate(fn func(CandidateEvent)) (disconnect func()) {
	return e.candidateFound.Connect(fn)
}

// OnStreamGatheringComplete registers fn for a stream that finishes
// gathering after the engine has already reported
// GatheringComplete, such as a stream added by renegotiation.
func (e *Engine) OnStreamGatheringComplete(fn func(streamID string)) (disconnect func()) {
	return e.streamGathered.Connect(fn)
}

// GatheringState returns the current gathering state.
func (e *Engine) GatheringState() GatheringState {
	e.loop.AssertOn()
	return e.gathering
}

// ConnectionState returns the current aggregate connection state.
func (e *Engine) ConnectionState() ConnectionState {
	e.loop.AssertOn()
	return e.connection
}

// SetProxyDialer sets the dialer used for TURN over TCP. Agents
// created afterwards use it.
func (e *Engine) SetProxyDialer(dialer proxy.Dialer) {
	e.loop.AssertOn()
	e.proxyDialer = dialer
}

// SetLocalAddresses restricts gathering to the given addresses. An
// empty list lets agents enumerate interfaces themselves.
func (e *Engine) SetLocalAddresses(addrs []netip.Addr) {
	e.loop.AssertOn()
	e.localAddresses = slices.Clone(addrs)
}

// UpdateNetworkState records a link up/down notification. pion agents
// detect path loss through consent checks, so this only logs.
func (e *Engine) UpdateNetworkState(online bool) {
	e.loop.AssertOn()
	if online == e.online {
		return
	}
	e.online = online
	e.logger.Info("network state changed", "online", online)
}

// EnsureStream creates the stream for id or, when it exists, applies
// new local credentials. Any credential change on an existing stream
// is an ICE restart: its agents are restarted in place so the stream
// object and its statistics survive.
func (e *Engine) EnsureStream(id, ufrag, pwd string, components int) (*Stream, error) {
	e.loop.AssertOn()
	if components < 1 || components > 2 {
		return nil, fmt.Errorf("stream %s: component count %d out of range", id, components)
	}

	stream, ok := e.streams[id]
	if !ok {
		ctx, cancel := context.WithCancel(e.ctx)
		stream = &Stream{id: id, ufrag: ufrag, pwd: pwd, ctx: ctx, cancel: cancel}
		for n := 1; n <= components; n++ {
			stream.components = append(stream.components, newComponent(stream, n))
		}
		e.streams[id] = stream
		e.logger.Info("ICE stream created", "transport_id", id, "components", components)
		return stream, nil
	}

	for n := len(stream.components) + 1; n <= components; n++ {
		stream.components = append(stream.components, newComponent(stream, n))
	}
	if stream.ufrag != ufrag || stream.pwd != pwd {
		e.restartStream(stream, ufrag, pwd)
	}
	return stream, nil
}

func (e *Engine) restartStream(stream *Stream, ufrag, pwd string) {
	stream.ufrag, stream.pwd = ufrag, pwd
	stream.remoteUfrag, stream.remotePwd = "", ""
	stream.restarts++
	for _, component := range stream.components {
		component.local = nil
		component.localLines = nil
		component.pending = nil
		if component.agent == nil {
			continue
		}
		if err := component.agent.Restart(ufrag, pwd); err != nil {
			e.logger.Warn("ICE agent restart failed",
				"transport_id", stream.id, "component", component.id, "error", err)
		}
		if !component.disabled {
			component.gather = gatherNotStarted
		}
	}
	e.logger.Info("ICE restart", "transport_id", stream.id, "restarts", stream.restarts)
}

// Stream returns the stream for id, or nil.
func (e *Engine) Stream(id string) *Stream {
	e.loop.AssertOn()
	return e.streams[id]
}

// StreamIDs returns every stream's transport id, sorted.
func (e *Engine) StreamIDs() []string {
	e.loop.AssertOn()
	ids := make([]string, 0, len(e.streams))
	for id := range e.streams {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (e *Engine) sortedStreams() []*Stream {
	ids := e.StreamIDs()
	streams := make([]*Stream, len(ids))
	for i, id := range ids {
		streams[i] = e.streams[id]
	}
	return streams
}

// StreamCredentials returns the local ufrag and password of stream id.
func (e *Engine) StreamCredentials(id string) (ufrag, pwd string, err error) {
	e.loop.AssertOn()
	stream, ok := e.streams[id]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	return stream.ufrag, stream.pwd, nil
}

// RemoteCredentials returns the remote ufrag and password last
// applied to stream id.
func (e *Engine) RemoteCredentials(id string) (ufrag, pwd string, err error) {
	e.loop.AssertOn()
	stream, ok := e.streams[id]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	return stream.remoteUfrag, stream.remotePwd, nil
}

// ActivateStream applies a remote description to a stream. Every
// candidate is parsed before anything is applied: one malformed line
// rejects the whole call with ErrProtocolParse and leaves the stream
// untouched.
func (e *Engine) ActivateStream(params ActivateParams) error {
	e.loop.AssertOn()
	stream, ok := e.streams[params.TransportID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, params.TransportID)
	}
	if params.RemoteUfrag == "" || params.RemotePwd == "" {
		return fmt.Errorf("%w: stream %s: missing remote ufrag or password", ErrProtocolParse, stream.id)
	}

	lines := params.RemoteCandidates
	if params.ForceTCP {
		lines = FilterUDPCandidates(lines)
	}
	candidates := make([]ice.Candidate, len(lines))
	for i, line := range lines {
		candidate, err := ParseCandidate(line)
		if err != nil {
			return fmt.Errorf("stream %s: %w", stream.id, err)
		}
		candidates[i] = candidate
	}

	if params.LocalUfrag != "" && (params.LocalUfrag != stream.ufrag || params.LocalPwd != stream.pwd) {
		e.restartStream(stream, params.LocalUfrag, params.LocalPwd)
	}

	if params.Components >= 1 {
		for _, component := range stream.components {
			if component.id > params.Components && !component.disabled {
				e.disableComponent(component)
			}
		}
	}

	credentialsChanged := stream.remoteUfrag != params.RemoteUfrag || stream.remotePwd != params.RemotePwd
	stream.remoteUfrag, stream.remotePwd = params.RemoteUfrag, params.RemotePwd
	if credentialsChanged {
		for _, component := range stream.components {
			if component.connecting && component.agent != nil {
				if err := component.agent.SetRemoteCredentials(params.RemoteUfrag, params.RemotePwd); err != nil {
					e.logger.Warn("setting remote credentials failed",
						"transport_id", stream.id, "component", component.id, "error", err)
				}
			}
		}
	}

	for i, candidate := range candidates {
		e.addRemoteCandidate(stream, candidate, lines[i], false)
	}

	e.logger.Debug("ICE stream activated",
		"transport_id", stream.id,
		"candidates", len(candidates),
		"dropped_udp", len(params.RemoteCandidates)-len(lines),
	)
	if e.checks != nil {
		e.startStreamChecks(stream)
	}
	return nil
}

// AddRemoteCandidate parses and applies one trickled candidate.
func (e *Engine) AddRemoteCandidate(id, line string) error {
	e.loop.AssertOn()
	stream, ok := e.streams[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	candidate, err := ParseCandidate(line)
	if err != nil {
		return fmt.Errorf("stream %s: %w", id, err)
	}
	e.addRemoteCandidate(stream, candidate, line, true)
	return nil
}

func (e *Engine) addRemoteCandidate(stream *Stream, candidate ice.Candidate, line string, trickled bool) {
	index := int(candidate.Component())
	if index < 1 || index > len(stream.components) {
		e.logger.Debug("ignoring candidate for unknown component",
			"transport_id", stream.id, "component", index, "candidate", line)
		return
	}
	component := stream.components[index-1]
	if component.disabled {
		return
	}
	component.remoteLines = append(component.remoteLines, line)
	if trickled {
		component.trickled = append(component.trickled, line)
	}
	if component.agent == nil {
		component.pending = append(component.pending, candidate)
		return
	}
	if err := component.agent.AddRemoteCandidate(candidate); err != nil {
		e.logger.Warn("adding remote candidate failed",
			"transport_id", stream.id, "component", index, "candidate", line, "error", err)
	}
}

// RemoveStreamsExcept closes every stream whose id is not in keep.
func (e *Engine) RemoveStreamsExcept(keep []string) {
	e.loop.AssertOn()
	for _, stream := range e.sortedStreams() {
		if slices.Contains(keep, stream.id) {
			continue
		}
		e.closeStream(stream)
		delete(e.streams, stream.id)
		e.logger.Info("ICE stream removed", "transport_id", stream.id)
	}
	e.maybeCompleteGathering()
	e.updateConnectionState()
}

func (e *Engine) closeStream(stream *Stream) {
	stream.closed = true
	stream.cancel()
	for _, component := range stream.components {
		e.closeAgent(component)
		component.resolve(nil, ErrStreamClosed)
	}
}

func (e *Engine) disableComponent(component *Component) {
	component.disabled = true
	e.closeAgent(component)
	component.resolve(nil, ErrComponentDisabled)
	e.logger.Debug("ICE component disabled",
		"transport_id", component.stream.id, "component", component.id)
	if e.gathering == GatheringGathering {
		e.handleStreamGatheringProgress(component.stream)
	}
}

func (e *Engine) closeAgent(component *Component) {
	if component.agent == nil {
		return
	}
	if err := component.agent.Close(); err != nil {
		e.logger.Debug("closing ICE agent",
			"transport_id", component.stream.id, "component", component.id, "error", err)
	}
	component.agent = nil
	component.state = ice.ConnectionStateClosed
}

// StartGathering begins candidate gathering on every stream that has
// not started yet. It reports GatheringComplete at once when there is
// nothing to gather: no streams, or proxyOnly without a proxy.
// Calling it again only gathers for streams added since.
func (e *Engine) StartGathering(defaultRouteOnly, proxyOnly bool) {
	e.loop.AssertOn()
	e.gather = gatherParams{defaultRouteOnly: defaultRouteOnly, proxyOnly: proxyOnly}

	if proxyOnly && e.proxyDialer == nil {
		e.logger.Info("proxy-only gathering requested without a proxy, skipping")
		e.setGathering(GatheringGathering)
		e.setGathering(GatheringComplete)
		return
	}
	if len(e.streams) == 0 {
		e.setGathering(GatheringGathering)
		e.setGathering(GatheringComplete)
		return
	}

	for _, stream := range e.sortedStreams() {
		e.gatherStream(stream)
	}
	e.setGathering(GatheringGathering)
	e.maybeCompleteGathering()
}

func (e *Engine) gatherStream(stream *Stream) {
	started := false
	for _, component := range stream.components {
		if component.disabled || component.gather != gatherNotStarted {
			continue
		}
		if err := e.ensureAgent(component); err != nil {
			e.logger.Error("creating ICE agent failed",
				"transport_id", stream.id, "component", component.id, "error", err)
			component.gather = gatherDone
			continue
		}
		component.gather = gatherRunning
		if err := component.agent.GatherCandidates(); err != nil {
			e.logger.Error("starting gathering failed",
				"transport_id", stream.id, "component", component.id, "error", err)
			component.gather = gatherDone
			continue
		}
		started = true
	}
	if started {
		e.logger.Debug("gathering started", "transport_id", stream.id)
	}
}

func (e *Engine) ensureAgent(component *Component) error {
	if component.agent != nil {
		return nil
	}
	agent, err := e.config.AgentFactory(e.agentConfig(component.stream))
	if err != nil {
		return err
	}
	// Callbacks arrive on pion goroutines; the agent identity check
	// drops events from an agent that was closed or replaced since.
	if err := agent.OnCandidate(func(candidate ice.Candidate) {
		e.loop.Dispatch(func() { e.handleCandidate(component, agent, candidate) })
	}); err != nil {
		agent.Close()
		return err
	}
	if err := agent.OnConnectionStateChange(func(state ice.ConnectionState) {
		e.loop.Dispatch(func() { e.handleAgentState(component, agent, state) })
	}); err != nil {
		agent.Close()
		return err
	}
	component.agent = agent
	component.state = ice.ConnectionStateNew

	for _, candidate := range component.pending {
		if err := agent.AddRemoteCandidate(candidate); err != nil {
			e.logger.Warn("adding queued remote candidate failed",
				"transport_id", component.stream.id, "component", component.id, "error", err)
		}
	}
	component.pending = nil
	return nil
}

func (e *Engine) agentConfig(stream *Stream) *ice.AgentConfig {
	var candidateTypes []ice.CandidateType
	switch e.config.Policy {
	case PolicyRelay:
		candidateTypes = []ice.CandidateType{ice.CandidateTypeRelay}
	case PolicyNoHost:
		candidateTypes = []ice.CandidateType{ice.CandidateTypeServerReflexive, ice.CandidateTypeRelay}
	default:
		candidateTypes = []ice.CandidateType{
			ice.CandidateTypeHost, ice.CandidateTypeServerReflexive, ice.CandidateTypeRelay,
		}
	}

	var urls []*stun.URI
	if e.gather.proxyOnly {
		// Only TURN over TCP can traverse an HTTP CONNECT proxy.
		candidateTypes = []ice.CandidateType{ice.CandidateTypeRelay}
		for _, server := range e.turnServers {
			if server.Proto == stun.ProtoTypeTCP {
				urls = append(urls, server)
			}
		}
	} else {
		urls = append(urls, e.stunServers...)
		urls = append(urls, e.turnServers...)
	}

	networkTypes := []ice.NetworkType{ice.NetworkTypeUDP4, ice.NetworkTypeUDP6}
	if e.config.TCP {
		networkTypes = append(networkTypes, ice.NetworkTypeTCP4, ice.NetworkTypeTCP6)
	}

	return &ice.AgentConfig{
		Urls:            urls,
		NetworkTypes:    networkTypes,
		CandidateTypes:  candidateTypes,
		LocalUfrag:      stream.ufrag,
		LocalPwd:        stream.pwd,
		LoggerFactory:   e.config.LoggerFactory,
		Net:             e.config.Net,
		IncludeLoopback: e.config.AllowLoopback,
		IPFilter:        e.ipFilter(),
		ProxyDialer:     e.proxyDialer,
	}
}

// ipFilter builds the address filter for new agents. It runs on pion
// goroutines, so it only closes over immutable copies.
func (e *Engine) ipFilter() func(net.IP) bool {
	allowed := make(map[netip.Addr]bool, len(e.localAddresses))
	for _, addr := range e.localAddresses {
		allowed[addr.Unmap()] = true
	}
	if e.gather.defaultRouteOnly && e.config.DefaultRoute != nil {
		addr, err := e.config.DefaultRoute()
		if err != nil {
			e.logger.Warn("default route lookup failed, gathering on all addresses", "error", err)
		} else {
			allowed = map[netip.Addr]bool{addr.Unmap(): true}
		}
	}
	allowLinkLocal := e.config.AllowLinkLocal
	return func(ip net.IP) bool {
		if !allowLinkLocal && ip.IsLinkLocalUnicast() {
			return false
		}
		if len(allowed) == 0 {
			return true
		}
		addr, ok := netip.AddrFromSlice(ip)
		return ok && allowed[addr.Unmap()]
	}
}

func (e *Engine) handleCandidate(component *Component, agent ComponentAgent, candidate ice.Candidate) {
	if component.agent != agent || component.stream.closed {
		return
	}
	if candidate == nil {
		if component.gather != gatherRunning {
			return
		}
		component.gather = gatherDone
		e.logger.Debug("component gathering done",
			"transport_id", component.stream.id, "component", component.id)
		e.handleStreamGatheringProgress(component.stream)
		return
	}

	line := candidateLine(candidate, component.id)
	component.local = append(component.local, candidate)
	component.localLines = append(component.localLines, line)
	e.candidateFound.Emit(CandidateEvent{
		StreamID:  component.stream.id,
		Component: component.id,
		Line:      line,
	})
}

func (e *Engine) handleStreamGatheringProgress(stream *Stream) {
	if !stream.gatheringDone() {
		return
	}
	if e.gathering == GatheringComplete {
		e.streamGathered.Emit(stream.id)
		return
	}
	e.maybeCompleteGathering()
}

func (e *Engine) maybeCompleteGathering() {
	if e.gathering != GatheringGathering {
		return
	}
	for _, stream := range e.streams {
		for _, component := range stream.components {
			if !component.disabled && component.gather == gatherRunning {
				return
			}
		}
	}
	e.setGathering(GatheringComplete)
}

// setGathering only moves forward.
func (e *Engine) setGathering(state GatheringState) {
	if state <= e.gathering {
		return
	}
	e.gathering = state
	e.logger.Info("ICE gathering state changed", "state", state.String())
	e.gatheringChanged.Emit(state)
}

// StartChecks validates the session-level ICE attributes and starts
// connectivity checks on every stream with remote credentials.
// Streams activated later start checking on activation.
func (e *Engine) StartChecks(params CheckParams) error {
	e.loop.AssertOn()
	for _, option := range params.Options {
		if !iceOptionPattern.MatchString(option) {
			return fmt.Errorf("%w: ice-options token %q", ErrProtocolParse, option)
		}
	}
	if params.RemoteLite && !params.Controlling {
		e.logger.Warn("remote agent is ice-lite but local agent is not controlling")
	}
	e.checks = &params
	e.logger.Info("starting ICE checks",
		"controlling", params.Controlling,
		"offerer", params.Offerer,
		"remote_lite", params.RemoteLite,
	)
	for _, stream := range e.sortedStreams() {
		e.startStreamChecks(stream)
	}
	return nil
}

// ice-char from RFC 8839: ALPHA / DIGIT / "+" / "/".
var iceOptionPattern = regexp.MustCompile(`^[A-Za-z0-9+/]+$`)

func (e *Engine) startStreamChecks(stream *Stream) {
	if !stream.hasRemoteCredentials() {
		return
	}
	for _, component := range stream.components {
		e.startComponentChecks(component)
	}
}

func (e *Engine) startComponentChecks(component *Component) {
	if component.disabled || component.connecting {
		return
	}
	if err := e.ensureAgent(component); err != nil {
		e.logger.Error("creating ICE agent failed",
			"transport_id", component.stream.id, "component", component.id, "error", err)
		return
	}
	component.connecting = true

	agent := component.agent
	ctx := component.stream.ctx
	controlling := e.checks.Controlling
	ufrag, pwd := component.stream.remoteUfrag, component.stream.remotePwd
	go func() {
		conn, err := agent.Connect(ctx, controlling, ufrag, pwd)
		if !e.loop.Dispatch(func() { e.handleConnected(component, agent, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (e *Engine) handleConnected(component *Component, agent ComponentAgent, conn net.Conn, err error) {
	if component.agent != agent {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		e.logger.Warn("ICE connectivity checks ended without a pair",
			"transport_id", component.stream.id, "component", component.id, "error", err)
		component.resolve(nil, err)
		return
	}
	e.logger.Info("ICE component connected",
		"transport_id", component.stream.id, "component", component.id)
	component.resolve(conn, nil)
}

func (e *Engine) handleAgentState(component *Component, agent ComponentAgent, state ice.ConnectionState) {
	if component.agent != agent {
		return
	}
	component.state = state
	e.logger.Debug("ICE component state",
		"transport_id", component.stream.id, "component", component.id, "state", state.String())
	e.updateConnectionState()
}

func (e *Engine) updateConnectionState() {
	if e.connection == ConnectionClosed {
		return
	}
	next := e.aggregateConnectionState()
	if next == e.connection {
		return
	}
	e.connection = next
	e.logger.Info("ICE connection state changed", "state", next.String())
	e.connectionChanged.Emit(next)
}

func (e *Engine) aggregateConnectionState() ConnectionState {
	var total, fresh, checking, failed, disconnected, completed int
	for _, stream := range e.streams {
		for _, component := range stream.components {
			if component.disabled || component.agent == nil {
				continue
			}
			switch component.state {
			case ice.ConnectionStateFailed:
				failed++
			case ice.ConnectionStateDisconnected:
				disconnected++
			case ice.ConnectionStateChecking:
				checking++
			case ice.ConnectionStateCompleted:
				completed++
			case ice.ConnectionStateConnected:
			case ice.ConnectionStateClosed:
				continue
			default:
				fresh++
			}
			total++
		}
	}
	switch {
	case failed > 0:
		return ConnectionFailed
	case disconnected > 0:
		return ConnectionDisconnected
	case total == fresh:
		return ConnectionNew
	case fresh > 0 || checking > 0:
		return ConnectionChecking
	case completed == total:
		return ConnectionCompleted
	default:
		return ConnectionConnected
	}
}

// Component returns component n (1-based) of stream id.
func (e *Engine) Component(id string, n int) (*Component, error) {
	e.loop.AssertOn()
	stream, ok := e.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	if n < 1 || n > len(stream.components) {
		return nil, fmt.Errorf("stream %s has no component %d", id, n)
	}
	return stream.components[n-1], nil
}

// DefaultCandidates returns the advertised default address pair for
// stream id. The RTCP half is empty when the stream has one enabled
// component.
func (e *Engine) DefaultCandidates(id string) (DefaultCandidates, error) {
	e.loop.AssertOn()
	stream, ok := e.streams[id]
	if !ok {
		return DefaultCandidates{}, fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	var defaults DefaultCandidates
	if best, ok := selectDefault(stream.components[0].local); ok {
		defaults.Address, defaults.Port = best.Address(), best.Port()
	}
	if len(stream.components) > 1 && !stream.components[1].disabled {
		if best, ok := selectDefault(stream.components[1].local); ok {
			defaults.RTCPAddress, defaults.RTCPPort = best.Address(), best.Port()
		}
	}
	return defaults, nil
}

// LocalCandidates returns the candidate lines gathered for stream id
// since its last restart.
func (e *Engine) LocalCandidates(id string) ([]string, error) {
	e.loop.AssertOn()
	stream, ok := e.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	var lines []string
	for _, component := range stream.components {
		lines = append(lines, component.localLines...)
	}
	return lines, nil
}

// TeardownStats summarizes an engine's lifetime, logged when the
// session closes.
type TeardownStats struct {
	Streams           int
	Restarts          int
	RequestsSent      uint64
	ResponsesReceived uint64
	FailedRelays      int
}

// Destroy closes every stream and agent. The connection state becomes
// Closed and no signal fires afterwards. Destroy is idempotent; later
// calls return zero stats.
func (e *Engine) Destroy() TeardownStats {
	e.loop.AssertOn()
	if e.destroyed {
		return TeardownStats{}
	}
	e.destroyed = true

	stats := TeardownStats{Streams: len(e.streams)}
	for _, stream := range e.sortedStreams() {
		stats.Restarts += stream.restarts
		for _, component := range stream.components {
			if component.agent == nil {
				continue
			}
			for _, pair := range component.agent.GetCandidatePairsStats() {
				stats.RequestsSent += pair.RequestsSent
				stats.ResponsesReceived += pair.ResponsesReceived
			}
			if component.gather == gatherDone && !hasRelay(component.local) && len(e.turnServers) > 0 {
				stats.FailedRelays++
			}
		}
		e.closeStream(stream)
	}
	e.streams = make(map[string]*Stream)
	e.cancel()

	if e.connection != ConnectionClosed {
		e.connection = ConnectionClosed
		e.connectionChanged.Emit(ConnectionClosed)
	}
	e.gatheringChanged.DisconnectAll()
	e.connectionChanged.DisconnectAll()
	e.candidateFound.DisconnectAll()
	e.streamGathered.DisconnectAll()

	e.logger.Info("ICE engine destroyed",
		"streams", stats.Streams,
		"restarts", stats.Restarts,
		"requests_sent", stats.RequestsSent,
		"responses_received", stats.ResponsesReceived,
		"failed_relays", stats.FailedRelays,
	)
	return stats
}

func hasRelay(candidates []ice.Candidate) bool {
	for _, candidate := range candidates {
		if candidate.Type() == ice.CandidateTypeRelay {
			return true
		}
	}
	return false
}
