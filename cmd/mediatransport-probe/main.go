// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// mediatransport-probe exercises the media transport from the command
// line: it gathers ICE candidates with a given configuration, or serves
// local addresses to sandboxed children.
//
// Usage:
//
//	mediatransport-probe gather [flags]
//	mediatransport-probe serve-addrs [flags]
//	mediatransport-probe version
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/mediatransport/lib/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logger := newLogger(os.Getenv("MEDIATRANSPORT_DEBUG") != "")

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "gather":
		err = gatherCmd(args, logger)
	case "serve-addrs":
		err = serveAddrsCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("mediatransport-probe %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage error")

// newLogger writes text to a terminal and JSON otherwise.
func newLogger(debug bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

func printUsage() {
	fmt.Print(`mediatransport-probe - Exercise ICE gathering and address discovery

USAGE
    mediatransport-probe <command> [flags]

COMMANDS
    gather        Gather local ICE candidates and print them
    serve-addrs   Answer address requests from sandboxed children
    version       Show version

EXAMPLES
    # Gather host and server-reflexive candidates for two transports
    mediatransport-probe gather --stun stun:stun.example.org:3478 --transports 2

    # Gather with a configuration file, RTCP on its own component
    mediatransport-probe gather --config media.yaml --components 2

    # Serve addresses on the socket a sandboxed child is configured with
    mediatransport-probe serve-addrs --socket /run/mediatransport/addresses.sock

ENVIRONMENT
    MEDIATRANSPORT_CONFIG  Configuration file used when --config is absent
    MEDIATRANSPORT_DEBUG   Set to enable debug logging
`)
}
