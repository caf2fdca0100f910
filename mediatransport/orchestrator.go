// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
	"golang.org/x/net/proxy"

	"github.com/bureau-foundation/mediatransport/capture"
	"github.com/bureau-foundation/mediatransport/iceengine"
	"github.com/bureau-foundation/mediatransport/lib/clock"
	"github.com/bureau-foundation/mediatransport/lib/config"
	"github.com/bureau-foundation/mediatransport/lib/eventloop"
	"github.com/bureau-foundation/mediatransport/lib/pionlog"
	"github.com/bureau-foundation/mediatransport/resolve"
)

// Options configures an Orchestrator.
type Options struct {
	// Handle identifies the session in flow ids and logs.
	Handle string

	// Control runs the session-facing API and every Observer call.
	// Network runs the ICE engine and flow assembly.
	Control *eventloop.Loop
	Network *eventloop.Loop

	Observer Observer
	Identity Identity

	Policy  webrtc.ICETransportPolicy
	Servers []webrtc.ICEServer
	Prefs   config.Prefs

	// PrivacyRequested restricts DTLS ALPN to the confidential token
	// for every flow.
	PrivacyRequested bool

	// Sandboxed processes cannot enumerate interfaces and ask
	// AddressDiscoverer instead. Discovery that finds nothing then
	// fails the connection.
	Sandboxed         bool
	AddressDiscoverer resolve.AddressDiscoverer

	// ProxyResolver finds the HTTPS proxy. Nil reads the environment.
	ProxyResolver    resolve.ProxyResolver
	DiscoveryTimeout time.Duration

	Capture capture.Sink
	Clock   clock.Clock

	// AgentFactory and Net override the ICE agents, for tests.
	AgentFactory iceengine.AgentFactory
	Net          transport.Net
}

// OptionsFromConfig fills the configuration-derived Options fields.
// The caller supplies loops, observer, identity, and capture sink.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	servers, err := cfg.ICEServers()
	if err != nil {
		return Options{}, err
	}
	timeout, err := cfg.DiscoveryTimeout()
	if err != nil {
		return Options{}, err
	}
	options := Options{
		Policy:           cfg.TransportPolicy(),
		Servers:          servers,
		Prefs:            cfg.Prefs(),
		PrivacyRequested: cfg.Session.PrivacyRequested,
		Sandboxed:        cfg.Discovery.Sandboxed,
		DiscoveryTimeout: timeout,
	}
	if cfg.Discovery.Sandboxed {
		options.AddressDiscoverer = resolve.SocketDiscoverer{SocketPath: cfg.Discovery.SocketPath}
	}
	return options, nil
}

// icePolicy maps the transport policy and the no-host preference to an
// engine policy.
func icePolicy(policy webrtc.ICETransportPolicy, prefs config.Prefs) iceengine.Policy {
	if policy == webrtc.ICETransportPolicyRelay {
		return iceengine.PolicyRelay
	}
	if prefs.Bool(config.PrefNoHost, false) {
		return iceengine.PolicyNoHost
	}
	return iceengine.PolicyAll
}

// Orchestrator turns negotiated transports into ICE streams and
// transport flows, and binds them to the session's transceivers.
//
// Methods are called on the control loop. ICE work is posted to the
// network loop through a Gate, so nothing touches the engine until
// proxy and address discovery have both reported.
type Orchestrator struct {
	options Options
	control *eventloop.Loop
	network *eventloop.Loop
	logger  *slog.Logger
	session Session

	gate         *Gate
	relay        *Relay
	resolver     *resolve.Resolver
	transceivers *TransceiverSet
	registry     *Registry
	assembler    *Assembler

	// Network loop only.
	engine     *iceengine.Engine
	resolution Resolution

	destroying bool
	done       chan struct{}
}

// New creates an orchestrator. Call Init before anything else.
func New(options Options, logger *slog.Logger) (*Orchestrator, error) {
	if options.Control == nil || options.Network == nil {
		return nil, errors.New("mediatransport: control and network loops are required")
	}
	if options.Observer == nil {
		return nil, errors.New("mediatransport: observer is required")
	}
	if options.Identity == nil {
		return nil, errors.New("mediatransport: DTLS identity is required")
	}
	if options.Prefs == nil {
		options.Prefs = config.Prefs{}
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.ProxyResolver == nil {
		options.ProxyResolver = resolve.EnvironmentProxyResolver{}
	}
	logger = logger.With("handle", options.Handle)

	registry := NewRegistry()
	o := &Orchestrator{
		options:      options,
		control:      options.Control,
		network:      options.Network,
		logger:       logger,
		session:      Session{Handle: options.Handle, Logger: logger},
		transceivers: NewTransceiverSet(options.Control),
		registry:     registry,
		assembler: NewAssembler(AssemblerConfig{
			Handle:        options.Handle,
			Identity:      options.Identity,
			Capture:       options.Capture,
			Clock:         options.Clock,
			LoggerFactory: pionlog.Factory{Logger: logger},
		}, registry, logger),
		done: make(chan struct{}),
	}
	o.relay = NewRelay(o.control, o.network, options.Observer, logger)
	return o, nil
}

func (o *Orchestrator) engineConfig() iceengine.Config {
	prefs := o.options.Prefs
	return iceengine.Config{
		Policy:         icePolicy(o.options.Policy, prefs),
		Servers:        o.options.Servers,
		TCP:            prefs.Bool(config.PrefICETCP, false),
		AllowLoopback:  prefs.Bool(config.PrefAllowLoopback, false),
		AllowLinkLocal: prefs.Bool(config.PrefAllowLinkLocal, false),
		DisableTURN:    prefs.Bool(config.PrefDisableTURN, false),
		DefaultRoute:   resolve.DefaultRouteAddress,
		Net:            o.options.Net,
		AgentFactory:   o.options.AgentFactory,
		LoggerFactory:  pionlog.Factory{Logger: o.logger},
	}
}

// Init creates the ICE engine and starts proxy and address discovery.
// A malformed server list or policy returns a
// *iceengine.ConfigurationError.
func (o *Orchestrator) Init() error {
	o.control.AssertOn()

	engine, err := iceengine.New(o.network, o.engineConfig(), o.logger)
	if err != nil {
		return fmt.Errorf("configuring ICE: %w", err)
	}
	o.engine = engine
	o.network.Dispatch(func() { o.relay.Attach(engine) })

	o.gate = NewGate(o.control, o.network, GateConfig{
		OnOpen:            o.applyResolution,
		FailOnNoAddresses: o.options.Sandboxed,
		OnFailed: func() {
			o.network.Dispatch(func() { o.relay.ForceConnection(iceengine.ConnectionFailed) })
		},
	}, o.logger)

	var resolverConfig resolve.ResolverConfig
	if o.options.Prefs.Bool(config.PrefDisableHTTPProxy, false) {
		o.gate.MarkProxyResolved(nil)
	} else {
		resolverConfig.Proxy = o.options.ProxyResolver
	}
	if o.options.Sandboxed {
		resolverConfig.Addresses = o.options.AddressDiscoverer
	} else {
		// Agents in this process enumerate interfaces themselves.
		o.gate.MarkAddressesResolved(nil)
	}
	resolverConfig.Timeout = o.options.DiscoveryTimeout
	resolverConfig.Clock = o.options.Clock

	o.resolver = resolve.NewResolver(resolverConfig, o.logger)
	o.resolver.Start(
		func(found *resolve.Proxy) {
			o.control.Dispatch(func() { o.gate.MarkProxyResolved(found) })
		},
		func(found []resolve.Address) {
			o.control.Dispatch(func() { o.gate.MarkAddressesResolved(found) })
		},
	)
	return nil
}

// applyResolution hands the resolver results to the engine. Runs on the
// network loop before any gated operation.
func (o *Orchestrator) applyResolution(resolution Resolution) {
	o.resolution = resolution
	o.configureEngine(o.engine)
}

func (o *Orchestrator) configureEngine(engine *iceengine.Engine) {
	if o.resolution.Proxy != nil {
		engine.SetProxyDialer(o.resolution.Proxy.Dialer(proxy.Direct))
	}
	if len(o.resolution.Addresses) > 0 {
		engine.SetLocalAddresses(resolve.IPs(o.resolution.Addresses))
	}
}

// submit posts op through the gate, logging a refusal after shutdown.
func (o *Orchestrator) submit(name string, op func()) {
	if err := o.gate.Submit(op); err != nil {
		o.logger.Debug("dropping ICE operation", "operation", name, "error", err)
	}
}

// EnsureTransports creates or updates the ICE stream of every
// transport, then gathers if discovery has finished. Changed local
// credentials restart the stream.
func (o *Orchestrator) EnsureTransports(transports []TransportDescriptor) {
	o.control.AssertOn()
	for _, desc := range transports {
		o.submit("ensure transport", func() {
			if _, err := o.engine.EnsureStream(desc.TransportID, desc.LocalUfrag, desc.LocalPwd, desc.Components); err != nil {
				o.logger.Error("creating ICE stream", "transport_id", desc.TransportID, "error", err)
			}
		})
	}
	o.GatherIfReady()
}

// UpdateTransports applies a completed negotiation: every transport
// gets its flows and its remote description, transports not listed
// are torn down, and every transceiver is rebound to its flows.
func (o *Orchestrator) UpdateTransports(transports []TransportDescriptor, forceTCP bool) {
	o.control.AssertOn()
	privacy := o.privacyRequested()
	keep := make([]string, 0, len(transports))
	for _, desc := range transports {
		keep = append(keep, desc.TransportID)
	}
	// Dropped flows leave the registry now, so a transport re-added
	// before the network loop catches up gets a fresh flow.
	dropped := o.registry.RemoveTransportsExcept(keep)
	for _, desc := range transports {
		o.updateFlows(desc, privacy)
		o.submit("activate transport", func() {
			err := o.engine.ActivateStream(iceengine.ActivateParams{
				TransportID:      desc.TransportID,
				LocalUfrag:       desc.LocalUfrag,
				LocalPwd:         desc.LocalPwd,
				Components:       desc.Components,
				RemoteUfrag:      desc.RemoteUfrag,
				RemotePwd:        desc.RemotePwd,
				RemoteCandidates: desc.RemoteCandidates,
				ForceTCP:         forceTCP,
			})
			if err != nil {
				o.logger.Error("activating ICE stream", "transport_id", desc.TransportID, "error", err)
			}
		})
	}

	o.submit("remove transports", func() {
		o.engine.RemoveStreamsExcept(keep)
		for _, flow := range dropped {
			o.closeFlow(flow)
		}
	})

	for _, transceiver := range o.transceivers.All() {
		o.bindTransceiver(transceiver)
	}
}

func (o *Orchestrator) updateFlows(desc TransportDescriptor, privacy bool) {
	for _, rtcp := range []bool{false, true} {
		flow, created := o.assembler.EnsureFlow(desc, rtcp)
		if !created {
			continue
		}
		o.submit("assemble flow", func() {
			o.assembler.Assemble(o.engine, flow, desc, privacy, o.relay)
		})
	}
}

func (o *Orchestrator) bindTransceiver(transceiver Transceiver) {
	id := transceiver.TransportID()
	if id == "" {
		transceiver.UpdateTransport(nil, nil)
		return
	}
	transceiver.UpdateTransport(
		o.registry.Get(FlowKey{TransportID: id}),
		o.registry.Get(FlowKey{TransportID: id, RTCP: true}),
	)
}

func (o *Orchestrator) closeFlow(flow *Flow) {
	if err := flow.Close(); err != nil {
		o.logger.Debug("closing flow", "flow", flow.ID(), "error", err)
	}
}

// privacyRequested reports whether new flows offer only the
// confidential ALPN token.
func (o *Orchestrator) privacyRequested() bool {
	return o.options.PrivacyRequested || o.transceivers.AnyLocalTrackHasPeerIdentity()
}

// StartIceChecks starts connectivity checks once discovery has
// finished.
func (o *Orchestrator) StartIceChecks(params iceengine.CheckParams) {
	o.control.AssertOn()
	o.submit("start checks", func() {
		if err := o.engine.StartChecks(params); err != nil {
			o.logger.Error("parsing global ICE attributes", "error", err)
		}
	})
}

// AddIceCandidate applies a trickled remote candidate. A malformed line
// or unknown transport is logged and dropped.
func (o *Orchestrator) AddIceCandidate(transportID, line string) {
	o.control.AssertOn()
	o.submit("add candidate", func() {
		if err := o.engine.AddRemoteCandidate(transportID, line); err != nil {
			o.logger.Warn("dropping remote candidate",
				"transport_id", transportID, "candidate", line, "error", err)
		}
	})
}

// UpdateNetworkState forwards a link up/down notification.
func (o *Orchestrator) UpdateNetworkState(online bool) {
	o.control.AssertOn()
	o.network.Dispatch(func() {
		if o.engine != nil {
			o.engine.UpdateNetworkState(online)
		}
	})
}

// GatherIfReady starts gathering once discovery has finished, with the
// restrictions the preferences ask for.
func (o *Orchestrator) GatherIfReady() {
	o.control.AssertOn()
	defaultRouteOnly := o.options.Prefs.Bool(config.PrefDefaultAddressOnly, false)
	proxyOnly := o.options.Prefs.Bool(config.PrefProxyOnly, false)
	o.submit("gather", func() {
		// Without addresses from the parent, agents in a sandbox would
		// try to enumerate interfaces themselves and fail.
		if o.options.Sandboxed && len(o.resolution.Addresses) == 0 {
			o.logger.Info("no local addresses from discovery, not gathering")
			return
		}
		o.engine.StartGathering(defaultRouteOnly, proxyOnly)
	})
}

// AddTransceiver appends a transceiver to the session.
func (o *Orchestrator) AddTransceiver(transceiver Transceiver) {
	o.control.AssertOn()
	o.transceivers.Add(transceiver)
}

// Transceivers returns the session's transceiver set.
func (o *Orchestrator) Transceivers() *TransceiverSet { return o.transceivers }

// TransportIDForReceiveTrack returns the transport carrying trackID,
// or "".
func (o *Orchestrator) TransportIDForReceiveTrack(trackID string) string {
	return o.transceivers.TransportIDForReceiveTrack(trackID)
}

// AnyLocalTrackHasPeerIdentity reports whether any send track is
// isolated to a peer identity.
func (o *Orchestrator) AnyLocalTrackHasPeerIdentity() bool {
	return o.transceivers.AnyLocalTrackHasPeerIdentity()
}

// UpdateRemotePrincipal applies principal to every receive track.
func (o *Orchestrator) UpdateRemotePrincipal(principal string) {
	o.transceivers.UpdatePrincipal(principal)
}

// UpdateSinkIdentity tells every transceiver who may consume trackID.
func (o *Orchestrator) UpdateSinkIdentity(trackID, principal, sinkIdentity string) {
	o.transceivers.UpdateSinkIdentity(trackID, principal, sinkIdentity)
}

// UpdateMediaPipelines applies negotiated codecs to every transceiver.
func (o *Orchestrator) UpdateMediaPipelines() error {
	o.control.AssertOn()
	return o.transceivers.UpdateMediaPipelines(o.session)
}

// TransportFlow returns the flow for transportID's RTP or RTCP
// component, or nil.
func (o *Orchestrator) TransportFlow(transportID string, rtcp bool) *Flow {
	return o.registry.Get(FlowKey{TransportID: transportID, RTCP: rtcp})
}

// Registry returns the session's flow registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// IceStats collects ICE statistics for transportID, or every transport
// when it is empty, and delivers them to fn on the control loop.
func (o *Orchestrator) IceStats(transportID string, fn func(iceengine.Report, error)) {
	o.control.AssertOn()
	o.network.Dispatch(func() {
		var (
			report iceengine.Report
			err    error
		)
		if o.engine == nil {
			err = ErrShutdown
		} else {
			report, err = o.engine.Stats(transportID)
		}
		o.control.Dispatch(func() { fn(report, err) })
	})
}

// ResetIceEngine replaces the ICE engine with a fresh one. Every flow
// is closed with the old engine; the next EnsureTransports and
// UpdateTransports rebuild them. Observers see any state difference
// between the engines once.
func (o *Orchestrator) ResetIceEngine() error {
	o.control.AssertOn()
	if o.destroying {
		return ErrShutdown
	}
	engine, err := iceengine.New(o.network, o.engineConfig(), o.logger)
	if err != nil {
		return fmt.Errorf("configuring ICE: %w", err)
	}
	flows := o.registry.Clear()
	o.submit("reset engine", func() {
		old := o.engine
		o.engine = engine
		o.configureEngine(engine)
		o.relay.Attach(engine)
		for _, flow := range flows {
			o.closeFlow(flow)
		}
		old.Destroy()
	})
	return nil
}

// SelfDestruct shuts the session's media transport down. Transceivers
// stop at once; flows and the engine are released on the network loop;
// Done closes when both are finished. Later calls do nothing.
func (o *Orchestrator) SelfDestruct() {
	o.control.AssertOn()
	if o.destroying {
		return
	}
	o.destroying = true

	if o.resolver != nil {
		o.resolver.Cancel()
	}
	o.transceivers.Shutdown()
	if o.gate != nil {
		o.gate.Close()
	}

	dispatched := o.network.Dispatch(func() {
		o.relay.Detach()
		for _, flow := range o.registry.Clear() {
			o.closeFlow(flow)
		}
		if o.engine != nil {
			stats := o.engine.Destroy()
			o.logger.Debug("ICE teardown",
				"requests_sent", stats.RequestsSent,
				"failed_relays", stats.FailedRelays,
			)
			o.engine = nil
		}
		o.control.Dispatch(func() {
			o.logger.Debug("media transport shut down")
			close(o.done)
		})
	})
	if !dispatched {
		close(o.done)
	}
}

// Done is closed when SelfDestruct has finished.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }
