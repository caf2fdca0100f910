// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/srtp/v3"
)

// SRTPLayer is the top of a flow. Once DTLS has connected it derives
// the SRTP keys and opens an SRTP session for RTP packets and an SRTCP
// session for RTCP packets on the path. An RTP flow with RTCP muxed
// onto it carries both; a separate RTCP flow carries only SRTCP.
type SRTPLayer struct {
	layerBase
	dtls   *DTLSLayer
	rtcp   bool
	muxed  bool
	logger *slog.Logger
	lower  Layer

	sessionMu sync.Mutex
	demux     *demux
	srtp      *srtp.SessionSRTP
	srtcp     *srtp.SessionSRTCP
}

// NewSRTPLayer creates an SRTP layer keyed from dtls. rtcp selects the
// RTCP flow; muxed means RTCP shares the RTP flow.
func NewSRTPLayer(flow string, dtls *DTLSLayer, rtcp, muxed bool, logger *slog.Logger) *SRTPLayer {
	return &SRTPLayer{
		layerBase: newLayerBase(StageSRTP, flow),
		dtls:      dtls,
		rtcp:      rtcp,
		muxed:     muxed,
		logger:    logger,
	}
}

func (l *SRTPLayer) Chain(lower Layer) error {
	if lower == nil || lower.Stage() != StageCapture {
		return initError(StageSRTP, "must sit on a capture layer")
	}
	l.lower = lower
	return nil
}

func (l *SRTPLayer) Init() error {
	if l.lower == nil {
		return initError(StageSRTP, "not chained")
	}
	if l.dtls == nil {
		return initError(StageSRTP, "no DTLS layer to key from")
	}
	l.setConnecting()
	go l.open()
	return nil
}

func (l *SRTPLayer) carriesRTP() bool  { return !l.rtcp }
func (l *SRTPLayer) carriesRTCP() bool { return l.rtcp || l.muxed }

func (l *SRTPLayer) open() {
	conn, err := l.waitLower(l.lower)
	if err != nil {
		l.setError(err)
		return
	}
	config, err := l.dtls.srtpConfig()
	if err != nil {
		l.setError(err)
		return
	}

	d := newDemux(conn, l.logger)
	var (
		sessionSRTP  *srtp.SessionSRTP
		sessionSRTCP *srtp.SessionSRTCP
	)
	if l.carriesRTP() {
		sessionSRTP, err = srtp.NewSessionSRTP(d.endpoint(matchRTP), config)
		if err != nil {
			d.Close()
			l.setError(fmt.Errorf("opening SRTP session: %w", err))
			return
		}
	}
	if l.carriesRTCP() {
		sessionSRTCP, err = srtp.NewSessionSRTCP(d.endpoint(matchRTCP), config)
		if err != nil {
			if sessionSRTP != nil {
				sessionSRTP.Close()
			}
			d.Close()
			l.setError(fmt.Errorf("opening SRTCP session: %w", err))
			return
		}
	}

	l.sessionMu.Lock()
	l.demux = d
	l.srtp = sessionSRTP
	l.srtcp = sessionSRTCP
	l.sessionMu.Unlock()

	if !l.setOpen(conn) {
		l.closeSessions()
		return
	}
	l.logger.Debug("SRTP layer open", "flow", l.flow, "rtp", sessionSRTP != nil, "rtcp", sessionSRTCP != nil)
}

// SessionSRTP returns the RTP session, or nil if the layer is not open
// or the flow carries no RTP.
func (l *SRTPLayer) SessionSRTP() *srtp.SessionSRTP {
	l.sessionMu.Lock()
	defer l.sessionMu.Unlock()
	return l.srtp
}

// SessionSRTCP returns the RTCP session, or nil if the layer is not
// open or the flow carries no RTCP.
func (l *SRTPLayer) SessionSRTCP() *srtp.SessionSRTCP {
	l.sessionMu.Lock()
	defer l.sessionMu.Unlock()
	return l.srtcp
}

func (l *SRTPLayer) closeSessions() error {
	l.sessionMu.Lock()
	sessionSRTP, sessionSRTCP, d := l.srtp, l.srtcp, l.demux
	l.srtp, l.srtcp, l.demux = nil, nil, nil
	l.sessionMu.Unlock()

	var errs []error
	if sessionSRTP != nil {
		errs = append(errs, sessionSRTP.Close())
	}
	if sessionSRTCP != nil {
		errs = append(errs, sessionSRTCP.Close())
	}
	if d != nil {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}

func (l *SRTPLayer) Close() error {
	if !l.setClosed() {
		return nil
	}
	return l.closeSessions()
}
