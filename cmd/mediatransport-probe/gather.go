// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mediatransport/capture"
	"github.com/bureau-foundation/mediatransport/iceengine"
	"github.com/bureau-foundation/mediatransport/lib/config"
	"github.com/bureau-foundation/mediatransport/lib/eventloop"
	"github.com/bureau-foundation/mediatransport/mediatransport"
)

type gatherFlags struct {
	configPath string
	stun       []string
	transports int
	components int
	timeout    time.Duration
}

func parseGatherFlags(args []string) (gatherFlags, error) {
	var flags gatherFlags
	flagSet := pflag.NewFlagSet("gather", pflag.ContinueOnError)
	flagSet.StringVar(&flags.configPath, "config", "", "configuration file (default: $MEDIATRANSPORT_CONFIG, else built-in defaults)")
	flagSet.StringSliceVar(&flags.stun, "stun", nil, "extra STUN or TURN server URL (repeatable)")
	flagSet.IntVar(&flags.transports, "transports", 1, "number of transports to gather for")
	flagSet.IntVar(&flags.components, "components", 1, "components per transport: 1 muxes RTCP onto RTP, 2 does not")
	flagSet.DurationVar(&flags.timeout, "timeout", 30*time.Second, "give up if gathering has not completed by then")
	if err := flagSet.Parse(args); err != nil {
		return flags, fmt.Errorf("%w: %v", errUsage, err)
	}
	if flags.transports < 1 {
		return flags, fmt.Errorf("%w: --transports must be at least 1", errUsage)
	}
	if flags.components != 1 && flags.components != 2 {
		return flags, fmt.Errorf("%w: --components must be 1 or 2", errUsage)
	}
	return flags, nil
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// printer is the probe's Observer: it writes each event as a line and
// signals when gathering completes.
type printer struct {
	out      io.Writer
	complete chan struct{}
	failed   chan struct{}

	completeOnce sync.Once
	failedOnce   sync.Once
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, complete: make(chan struct{}), failed: make(chan struct{})}
}

func (p *printer) IceGatheringStateChanged(state iceengine.GatheringState) {
	fmt.Fprintf(p.out, "gathering %s\n", state)
	if state == iceengine.GatheringComplete {
		p.completeOnce.Do(func() { close(p.complete) })
	}
}

func (p *printer) IceConnectionStateChanged(state iceengine.ConnectionState) {
	fmt.Fprintf(p.out, "connection %s\n", state)
	if state == iceengine.ConnectionFailed {
		p.failedOnce.Do(func() { close(p.failed) })
	}
}

func (p *printer) CandidateFound(event mediatransport.CandidateEvent) {
	fmt.Fprintf(p.out, "%s a=%s\n", event.TransportID, event.Line)
}

func (p *printer) EndOfLocalCandidates(event mediatransport.EndOfCandidatesEvent) {
	defaults := event.Defaults
	if defaults.IsZero() {
		fmt.Fprintf(p.out, "%s end-of-candidates (no default)\n", event.TransportID)
		return
	}
	fmt.Fprintf(p.out, "%s end-of-candidates default=%s:%d\n", event.TransportID, defaults.Address, defaults.Port)
}

func (p *printer) DtlsConnected(transportID string, privacy bool) {
	fmt.Fprintf(p.out, "%s dtls connected privacy=%t\n", transportID, privacy)
}

// randomCredentials returns an ICE ufrag and password long enough for
// RFC 8445.
func randomCredentials() (ufrag, pwd string) {
	return rand.Text()[:8], rand.Text()
}

func gatherCmd(args []string, logger *slog.Logger) error {
	flags, err := parseGatherFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}

	options, err := mediatransport.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	if len(flags.stun) > 0 {
		options.Servers = append(options.Servers, webrtc.ICEServer{URLs: flags.stun})
	}

	identity, err := mediatransport.NewSelfSignedIdentity()
	if err != nil {
		return err
	}
	if cfg.Capture.Enabled {
		compression, err := capture.ParseCompression(cfg.Capture.Compression)
		if err != nil {
			return err
		}
		sink, _, err := capture.NewFileSink(capture.FileOptions{
			Directory:   cfg.Capture.Directory,
			Session:     "probe",
			Compression: compression,
			SnapLength:  cfg.Capture.SnapLength,
		}, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
		options.Capture = sink
	}

	control := eventloop.New("control", logger)
	defer control.Close()
	network := eventloop.New("network", logger)
	defer network.Close()

	observer := newPrinter(os.Stdout)
	options.Handle = "probe"
	options.Control = control
	options.Network = network
	options.Observer = observer
	options.Identity = identity

	orchestrator, err := mediatransport.New(options, logger)
	if err != nil {
		return err
	}

	transports := make([]mediatransport.TransportDescriptor, flags.transports)
	for i := range transports {
		ufrag, pwd := randomCredentials()
		transports[i] = mediatransport.TransportDescriptor{
			TransportID: strconv.Itoa(i),
			Components:  flags.components,
			LocalUfrag:  ufrag,
			LocalPwd:    pwd,
		}
	}

	initErr := make(chan error, 1)
	control.Dispatch(func() {
		if err := orchestrator.Init(); err != nil {
			initErr <- err
			return
		}
		orchestrator.EnsureTransports(transports)
		initErr <- nil
	})
	if err := <-initErr; err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	timer := time.NewTimer(flags.timeout)
	defer timer.Stop()

	var result error
	select {
	case <-observer.complete:
	case <-observer.failed:
		result = fmt.Errorf("ICE failed before gathering completed")
	case <-timer.C:
		result = fmt.Errorf("gathering did not complete within %s", flags.timeout)
	case <-ctx.Done():
		result = ctx.Err()
	}

	control.Dispatch(orchestrator.SelfDestruct)
	select {
	case <-orchestrator.Done():
	case <-time.After(5 * time.Second):
		logger.Warn("media transport did not shut down in time")
	}
	return result
}
