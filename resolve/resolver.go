// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/mediatransport/lib/clock"
)

// Resolver runs the proxy and address lookups for one session.
type Resolver struct {
	proxy     ProxyResolver
	addresses AddressDiscoverer
	clock     clock.Clock
	timeout   time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	canceled bool
}

// ResolverConfig configures NewResolver. A nil Proxy or Addresses
// lookup completes at once with no proxy or no addresses.
type ResolverConfig struct {
	Proxy     ProxyResolver
	Addresses AddressDiscoverer

	// Timeout bounds each lookup. Zero means no bound.
	Timeout time.Duration

	// Clock drives the timeout. Nil uses the real clock.
	Clock clock.Clock
}

// NewResolver creates a resolver. Nothing runs until Start.
func NewResolver(config ResolverConfig, logger *slog.Logger) *Resolver {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		proxy:     config.Proxy,
		addresses: config.Addresses,
		clock:     config.Clock,
		timeout:   config.Timeout,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches both lookups. Each callback runs exactly once, on a
// resolver goroutine or the caller's, unless Cancel is called first.
// A failed lookup reports nil. Callbacks must not block.
func (r *Resolver) Start(onProxy func(*Proxy), onAddresses func([]Address)) {
	if r.proxy == nil {
		r.deliver(func() { onProxy(nil) })
	} else {
		go func() {
			ctx, cancel := r.lookupContext()
			defer cancel()
			found, err := r.proxy.ResolveProxy(ctx)
			if err != nil {
				r.logger.Warn("proxy lookup failed, connecting directly", "error", err)
				found = nil
			} else if found != nil {
				r.logger.Info("proxy resolved", "proxy", found.Address())
			}
			r.deliver(func() { onProxy(found) })
		}()
	}

	if r.addresses == nil {
		r.deliver(func() { onAddresses(nil) })
	} else {
		go func() {
			ctx, cancel := r.lookupContext()
			defer cancel()
			found, err := r.addresses.DiscoverAddresses(ctx)
			if err != nil {
				r.logger.Warn("local address discovery failed", "error", err)
				found = nil
			} else {
				r.logger.Info("local addresses discovered", "count", len(found))
			}
			r.deliver(func() { onAddresses(found) })
		}()
	}
}

// lookupContext derives a per-lookup context that the resolver clock
// cancels after the timeout.
func (r *Resolver) lookupContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.ctx)
	if r.timeout <= 0 {
		return ctx, cancel
	}
	timer := r.clock.AfterFunc(r.timeout, cancel)
	return ctx, func() {
		timer.Stop()
		cancel()
	}
}

// deliver holds the lock across the callback so Cancel cannot return
// while one is running. Callbacks must therefore not call Cancel.
func (r *Resolver) deliver(callback func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.canceled {
		return
	}
	callback()
}

// Cancel aborts in-flight lookups. No callback starts after Cancel
// returns. Idempotent.
func (r *Resolver) Cancel() {
	r.mu.Lock()
	r.canceled = true
	r.mu.Unlock()
	r.cancel()
}
