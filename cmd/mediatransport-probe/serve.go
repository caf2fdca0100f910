// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mediatransport/resolve"
)

func serveAddrsCmd(args []string, logger *slog.Logger) error {
	var (
		configPath string
		socketPath string
		loopback   bool
		linkLocal  bool
	)
	flagSet := pflag.NewFlagSet("serve-addrs", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file supplying discovery.socket_path and discovery.timeout")
	flagSet.StringVar(&socketPath, "socket", "", "socket to listen on (overrides the configuration)")
	flagSet.BoolVar(&loopback, "loopback", false, "include loopback addresses")
	flagSet.BoolVar(&linkLocal, "link-local", false, "include link-local addresses")
	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath == "" {
		socketPath = cfg.Discovery.SocketPath
	}
	timeout, err := cfg.DiscoveryTimeout()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	discoverer := resolve.InterfaceDiscoverer{IncludeLoopback: loopback, IncludeLinkLocal: linkLocal}
	server := resolve.NewAddressServer(socketPath, discoverer, timeout, logger)
	logger.Info("serving local addresses", "socket", socketPath)
	if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
