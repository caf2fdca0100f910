// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"log/slog"

	"github.com/bureau-foundation/mediatransport/lib/eventloop"
	"github.com/bureau-foundation/mediatransport/resolve"
)

// Resolution is what the two resolvers found. Proxy is nil when no
// proxy is in use; Addresses is empty when the ICE agents enumerate
// interfaces themselves or discovery found nothing.
type Resolution struct {
	Proxy     *resolve.Proxy
	Addresses []resolve.Address
}

// GateConfig configures a Gate.
type GateConfig struct {
	// OnOpen runs on the network loop when both resolvers have
	// reported, before any queued operation.
	OnOpen func(Resolution)

	// FailOnNoAddresses makes an empty address result call OnFailed.
	// Set for sandboxed children, whose agents cannot enumerate
	// interfaces themselves.
	FailOnNoAddresses bool

	// OnFailed runs on the control loop, at most once.
	OnFailed func()
}

// Gate holds ICE operations until both the proxy resolver and the
// address resolver have reported. Queued operations run on the network
// loop in submission order once the gate opens; operations submitted
// after that are dispatched directly. Every method must be called on
// the control loop.
type Gate struct {
	control *eventloop.Loop
	network *eventloop.Loop
	config  GateConfig
	logger  *slog.Logger

	proxyResolved     bool
	addressesResolved bool
	resolution        Resolution

	queue  []func()
	failed bool
	closed bool
}

// NewGate creates a closed gate.
func NewGate(control, network *eventloop.Loop, config GateConfig, logger *slog.Logger) *Gate {
	return &Gate{
		control: control,
		network: network,
		config:  config,
		logger:  logger,
	}
}

// Submit runs op on the network loop now if the gate is open, or once
// it opens.
func (g *Gate) Submit(op func()) error {
	g.control.AssertOn()
	if g.closed {
		return ErrShutdown
	}
	if g.Open() {
		if !g.network.Dispatch(op) {
			return ErrShutdown
		}
		return nil
	}
	g.queue = append(g.queue, op)
	return nil
}

// Open reports whether both resolvers have reported.
func (g *Gate) Open() bool {
	return g.proxyResolved && g.addressesResolved
}

// Pending returns the number of queued operations.
func (g *Gate) Pending() int {
	g.control.AssertOn()
	return len(g.queue)
}

// Resolution returns the resolver results recorded so far.
func (g *Gate) Resolution() Resolution {
	g.control.AssertOn()
	return g.resolution
}

// MarkProxyResolved records the proxy result. Only the first call has
// any effect.
func (g *Gate) MarkProxyResolved(proxy *resolve.Proxy) {
	g.control.AssertOn()
	if g.proxyResolved || g.closed {
		return
	}
	g.proxyResolved = true
	g.resolution.Proxy = proxy
	if proxy != nil {
		g.logger.Info("HTTPS proxy resolved", "proxy", proxy.Address())
	} else {
		g.logger.Debug("no HTTPS proxy")
	}
	g.maybeOpen()
}

// MarkAddressesResolved records the address result. Only the first
// call has any effect. An empty result still counts as resolved.
func (g *Gate) MarkAddressesResolved(addresses []resolve.Address) {
	g.control.AssertOn()
	if g.addressesResolved || g.closed {
		return
	}
	g.addressesResolved = true
	g.resolution.Addresses = addresses
	g.logger.Debug("local addresses resolved", "count", len(addresses))
	if len(addresses) == 0 && g.config.FailOnNoAddresses {
		g.logger.Warn("local address discovery found no addresses, ICE cannot connect")
		g.fail()
	}
	g.maybeOpen()
}

func (g *Gate) fail() {
	if g.failed {
		return
	}
	g.failed = true
	if g.config.OnFailed != nil {
		g.config.OnFailed()
	}
}

func (g *Gate) maybeOpen() {
	if !g.Open() {
		return
	}
	queue := g.queue
	g.queue = nil
	g.logger.Debug("operation gate open", "queued", len(queue))

	if g.config.OnOpen != nil {
		resolution := g.resolution
		g.network.Dispatch(func() { g.config.OnOpen(resolution) })
	}
	for _, op := range queue {
		g.network.Dispatch(op)
	}
}

// Close drops queued operations. Later submissions fail with
// ErrShutdown and resolver results are ignored.
func (g *Gate) Close() {
	g.control.AssertOn()
	g.closed = true
	g.queue = nil
}
