// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/dtls/v3"
	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	dtlsnet "github.com/pion/dtls/v3/pkg/net"
	"github.com/pion/logging"
	"github.com/pion/srtp/v3"

	"github.com/bureau-foundation/mediatransport/lib/signal"
)

// ALPN tokens. The confidential token tells the peer that media must
// not be exposed to the application.
const (
	ALPNPlain        = "webrtc"
	ALPNConfidential = "c-webrtc"
)

// srtpProfiles is the SRTP protection profile preference order.
var srtpProfiles = []dtls.SRTPProtectionProfile{
	dtls.SRTP_AEAD_AES_256_GCM,
	dtls.SRTP_AEAD_AES_128_GCM,
	dtls.SRTP_AES128_CM_HMAC_SHA1_80,
	dtls.SRTP_AES128_CM_HMAC_SHA1_32,
}

// alpnProtocols returns the ALPN offer. Without privacy the plain token
// is preferred so a peer that supports both picks it.
func alpnProtocols(privacy bool) []string {
	if privacy {
		return []string{ALPNConfidential}
	}
	return []string{ALPNPlain, ALPNConfidential}
}

// DTLSConfig is the negotiated DTLS setup for one flow.
type DTLSConfig struct {
	Role         DTLSRole
	Identity     Identity
	Fingerprints []Fingerprint

	// Privacy restricts the ALPN offer to the confidential token.
	Privacy bool

	LoggerFactory logging.LoggerFactory
}

// DTLSLayer runs the DTLS handshake over the ICE layer's DTLS packets
// and exposes the SRTP/SRTCP packets of the same path to the layers
// above.
type DTLSLayer struct {
	layerBase
	config DTLSConfig
	logger *slog.Logger
	lower  *ICELayer

	ctx    context.Context
	cancel context.CancelFunc

	connected signal.Signal[bool]

	stateMu  sync.Mutex
	dtlsConn *dtls.Conn
	state    dtls.State
	profile  dtls.SRTPProtectionProfile
}

// NewDTLSLayer creates a DTLS layer with the given configuration.
func NewDTLSLayer(flow string, config DTLSConfig, logger *slog.Logger) *DTLSLayer {
	ctx, cancel := context.WithCancel(context.Background())
	return &DTLSLayer{
		layerBase: newLayerBase(StageDTLS, flow),
		config:    config,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnConnected registers fn to run once when the handshake completes,
// with whether the confidential ALPN token was negotiated. Every
// listener is disconnected as soon as it fires.
func (l *DTLSLayer) OnConnected(fn func(privacy bool)) (disconnect func()) {
	return l.connected.Connect(fn)
}

func (l *DTLSLayer) Chain(lower Layer) error {
	ice, ok := lower.(*ICELayer)
	if !ok {
		return initError(StageDTLS, "must sit on an ICE layer")
	}
	l.lower = ice
	return nil
}

func (l *DTLSLayer) Init() error {
	if l.lower == nil {
		return initError(StageDTLS, "not chained")
	}
	if l.config.Identity == nil {
		return initError(StageDTLS, "no local identity")
	}
	if len(l.config.Fingerprints) == 0 {
		return initError(StageDTLS, "no remote fingerprints")
	}
	for _, fp := range l.config.Fingerprints {
		if _, err := fingerprint.HashFromString(fp.Algorithm); err != nil {
			return initError(StageDTLS, "fingerprint algorithm %q: %v", fp.Algorithm, err)
		}
	}

	l.setConnecting()
	go l.handshake()
	return nil
}

func (l *DTLSLayer) dtlsConfig() *dtls.Config {
	return &dtls.Config{
		Certificates:           []tls.Certificate{l.config.Identity.Certificate()},
		SRTPProtectionProfiles: srtpProfiles,
		SupportedProtocols:     alpnProtocols(l.config.Privacy),
		ClientAuth:             dtls.RequireAnyClientCert,
		InsecureSkipVerify:     true,
		VerifyPeerCertificate:  l.verifyPeerCertificate,
		LoggerFactory:          l.config.LoggerFactory,
	}
}

func (l *DTLSLayer) handshake() {
	if _, err := l.waitLower(l.lower); err != nil {
		l.setError(err)
		return
	}
	dtlsEndpoint := l.lower.endpoint(matchDTLS)
	mediaEndpoint := l.lower.endpoint(matchMedia)

	packetConn := dtlsnet.PacketConnFromConn(dtlsEndpoint)
	var (
		conn *dtls.Conn
		err  error
	)
	if l.config.Role == DTLSClient {
		conn, err = dtls.Client(packetConn, dtlsEndpoint.RemoteAddr(), l.dtlsConfig())
	} else {
		conn, err = dtls.Server(packetConn, dtlsEndpoint.RemoteAddr(), l.dtlsConfig())
	}
	if err == nil {
		err = conn.HandshakeContext(l.ctx)
	}
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		mediaEndpoint.Close()
		l.logger.Warn("DTLS handshake failed", "flow", l.flow, "role", l.config.Role, "error", err)
		l.setError(fmt.Errorf("DTLS handshake: %w", err))
		return
	}

	state, ok := conn.ConnectionState()
	if !ok {
		conn.Close()
		mediaEndpoint.Close()
		l.setError(errors.New("DTLS connection state unavailable after handshake"))
		return
	}
	profile, ok := conn.SelectedSRTPProtectionProfile()
	if !ok {
		conn.Close()
		mediaEndpoint.Close()
		l.setError(errors.New("peer negotiated no SRTP protection profile"))
		return
	}

	l.stateMu.Lock()
	l.dtlsConn = conn
	l.state = state
	l.profile = profile
	l.stateMu.Unlock()

	if !l.setOpen(mediaEndpoint) {
		conn.Close()
		mediaEndpoint.Close()
		return
	}
	privacy := state.NegotiatedProtocol == ALPNConfidential
	l.logger.Info("DTLS connected",
		"flow", l.flow,
		"role", l.config.Role,
		"profile", profile,
		"alpn", state.NegotiatedProtocol,
	)
	l.connected.Emit(privacy)
	l.connected.DisconnectAll()
}

// verifyPeerCertificate accepts the peer's certificate if it matches
// any negotiated fingerprint.
func (l *DTLSLayer) verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errors.New("peer sent no certificate")
	}
	certificate, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("parsing peer certificate: %w", err)
	}
	for _, expected := range l.config.Fingerprints {
		hash, err := fingerprint.HashFromString(expected.Algorithm)
		if err != nil {
			continue
		}
		actual, err := fingerprint.Fingerprint(certificate, hash)
		if err != nil {
			continue
		}
		if strings.EqualFold(actual, expected.Value) {
			return nil
		}
	}
	return fmt.Errorf("peer certificate matches none of %d fingerprints", len(l.config.Fingerprints))
}

// srtpConfig derives SRTP keys from the completed handshake.
func (l *DTLSLayer) srtpConfig() (*srtp.Config, error) {
	l.stateMu.Lock()
	state := l.state
	profile := l.profile
	connected := l.dtlsConn != nil
	l.stateMu.Unlock()
	if !connected {
		return nil, errors.New("DTLS not connected")
	}

	config := &srtp.Config{}
	switch profile {
	case dtls.SRTP_AEAD_AES_256_GCM:
		config.Profile = srtp.ProtectionProfileAeadAes256Gcm
	case dtls.SRTP_AEAD_AES_128_GCM:
		config.Profile = srtp.ProtectionProfileAeadAes128Gcm
	case dtls.SRTP_AES128_CM_HMAC_SHA1_80:
		config.Profile = srtp.ProtectionProfileAes128CmHmacSha1_80
	case dtls.SRTP_AES128_CM_HMAC_SHA1_32:
		config.Profile = srtp.ProtectionProfileAes128CmHmacSha1_32
	default:
		return nil, fmt.Errorf("unsupported SRTP protection profile %#x", uint16(profile))
	}
	if err := config.ExtractSessionKeysFromDTLS(&state, l.config.Role == DTLSClient); err != nil {
		return nil, fmt.Errorf("extracting SRTP keys: %w", err)
	}
	return config, nil
}

// NegotiatedProtocol returns the ALPN token agreed in the handshake.
func (l *DTLSLayer) NegotiatedProtocol() string {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state.NegotiatedProtocol
}

func (l *DTLSLayer) Close() error {
	if !l.setClosed() {
		return nil
	}
	l.cancel()
	l.connected.DisconnectAll()

	l.stateMu.Lock()
	conn := l.dtlsConn
	l.stateMu.Unlock()

	var errs []error
	if media := l.Conn(); media != nil {
		errs = append(errs, media.Close())
	}
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	return errors.Join(errs...)
}
