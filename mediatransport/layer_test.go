// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport_test

import (
	"bytes"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/srtp/v3"

	"github.com/bureau-foundation/mediatransport/capture"
	"github.com/bureau-foundation/mediatransport/iceengine"
	"github.com/bureau-foundation/mediatransport/iceengine/icetest"
	"github.com/bureau-foundation/mediatransport/lib/eventloop"
	"github.com/bureau-foundation/mediatransport/lib/testutil"
	"github.com/bureau-foundation/mediatransport/mediatransport"
)

// recordingSink keeps a copy of every tapped packet.
type recordingSink struct {
	mu      sync.Mutex
	packets []capture.Packet
}

func (s *recordingSink) Record(packet capture.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	packet.Data = bytes.Clone(packet.Data)
	s.packets = append(s.packets, packet)
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count(direction capture.Direction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, packet := range s.packets {
		if packet.Direction == direction && !packet.RTCP {
			n++
		}
	}
	return n
}

// peer is one end of a negotiated transport: its own loops, ICE engine,
// identity, and flow.
type peer struct {
	control  *eventloop.Loop
	network  *eventloop.Loop
	engine   *iceengine.Engine
	factory  *icetest.Factory
	identity *mediatransport.CertificateIdentity
	observer *recorder
	relay    *mediatransport.Relay
	sink     *recordingSink
	flow     *mediatransport.Flow
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	control, network := newLoops(t)
	engine, factory := newEngine(t, network)
	observer := newRecorder()
	return &peer{
		control:  control,
		network:  network,
		engine:   engine,
		factory:  factory,
		identity: testIdentity(t),
		observer: observer,
		relay:    mediatransport.NewRelay(control, network, observer, discardLogger()),
		sink:     &recordingSink{},
	}
}

func (p *peer) fingerprint(t *testing.T) mediatransport.Fingerprint {
	t.Helper()
	value, err := p.identity.Fingerprint("sha-256")
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	return mediatransport.Fingerprint{Algorithm: "sha-256", Value: value}
}

// start negotiates transport "0" as one muxed component and assembles
// its RTP flow.
func (p *peer) start(t *testing.T, role mediatransport.DTLSRole, remote mediatransport.Fingerprint, privacy bool) {
	t.Helper()
	desc := mediatransport.TransportDescriptor{
		TransportID:  "0",
		Components:   1,
		LocalUfrag:   "localUfrag",
		LocalPwd:     "localPassword-0123456789",
		RemoteUfrag:  "remoteUfrag",
		RemotePwd:    "remotePassword-012345678",
		Role:         role,
		Fingerprints: []mediatransport.Fingerprint{remote},
	}
	assembler := mediatransport.NewAssembler(mediatransport.AssemblerConfig{
		Handle:   role.String(),
		Identity: p.identity,
		Capture:  p.sink,
	}, mediatransport.NewRegistry(), discardLogger())

	p.flow, _ = assembler.EnsureFlow(desc, false)
	runOn(t, p.network, func() {
		if _, err := p.engine.EnsureStream(desc.TransportID, desc.LocalUfrag, desc.LocalPwd, 1); err != nil {
			t.Errorf("EnsureStream: %v", err)
		}
		if err := p.engine.ActivateStream(iceengine.ActivateParams{
			TransportID: desc.TransportID,
			Components:  1,
			RemoteUfrag: desc.RemoteUfrag,
			RemotePwd:   desc.RemotePwd,
		}); err != nil {
			t.Errorf("ActivateStream: %v", err)
		}
		if err := p.engine.StartChecks(iceengine.CheckParams{Controlling: role == mediatransport.DTLSClient}); err != nil {
			t.Errorf("StartChecks: %v", err)
		}
		p.relay.Attach(p.engine)
		assembler.Assemble(p.engine, p.flow, desc, privacy, p.relay)
	})
	t.Cleanup(func() { p.flow.Close() })
}

// connect hands each side's ICE agent one end of an in-memory pipe, as
// if connectivity checks had selected a pair.
func connect(t *testing.T, a, b *peer) {
	t.Helper()
	agentA := testutil.RequireReceive(t, a.factory.Created(), 5*time.Second, "agent A")
	agentB := testutil.RequireReceive(t, b.factory.Created(), 5*time.Second, "agent B")
	testutil.RequireClosed(t, agentA.Connecting(), 5*time.Second, "agent A connecting")
	testutil.RequireClosed(t, agentB.Connecting(), 5*time.Second, "agent B connecting")

	connA, connB := net.Pipe()
	agentA.Complete(connA, nil)
	agentB.Complete(connB, nil)
}

func requireOpen(t *testing.T, flow *mediatransport.Flow) {
	t.Helper()
	srtpLayer := flow.SRTP()
	testutil.RequireClosed(t, srtpLayer.Ready(), 10*time.Second, "%s SRTP layer", flow.ID())
	if state := flow.State(); state != mediatransport.LayerOpen {
		for _, layer := range flow.Layers() {
			t.Logf("%s: %s layer %s (%v)", flow.ID(), layer.Stage(), layer.State(), layer.Err())
		}
		t.Fatalf("flow %s is %s, want open", flow.ID(), state)
	}
}

// rtpPacket builds a minimal RTP packet: version 2, payload type 96.
func rtpPacket(sequence uint16, ssrc uint32, payload []byte) []byte {
	header := make([]byte, 12)
	header[0] = 0x80
	header[1] = 96
	binary.BigEndian.PutUint16(header[2:], sequence)
	binary.BigEndian.PutUint32(header[4:], 1000*uint32(sequence))
	binary.BigEndian.PutUint32(header[8:], ssrc)
	return append(header, payload...)
}

func TestFlowCarriesSRTPEndToEnd(t *testing.T) {
	client := newPeer(t)
	server := newPeer(t)
	client.start(t, mediatransport.DTLSClient, server.fingerprint(t), false)
	server.start(t, mediatransport.DTLSServer, client.fingerprint(t), false)
	connect(t, client, server)

	requireOpen(t, client.flow)
	requireOpen(t, server.flow)

	if got := client.flow.DTLS().NegotiatedProtocol(); got != mediatransport.ALPNPlain {
		t.Errorf("negotiated ALPN = %q, want %q", got, mediatransport.ALPNPlain)
	}
	if client.flow.SRTP().SessionSRTCP() == nil {
		t.Error("muxed flow has no SRTCP session")
	}

	writeStream, err := client.flow.SRTP().SessionSRTP().OpenWriteStream()
	if err != nil {
		t.Fatalf("OpenWriteStream: %v", err)
	}
	payload := []byte("media payload")
	if _, err := writeStream.Write(rtpPacket(1, 0x1234, payload)); err != nil {
		t.Fatalf("writing RTP: %v", err)
	}

	type accepted struct {
		stream *srtp.ReadStreamSRTP
		ssrc   uint32
	}
	streams := make(chan accepted, 1)
	go func() {
		stream, ssrc, err := server.flow.SRTP().SessionSRTP().AcceptStream()
		if err == nil {
			streams <- accepted{stream, ssrc}
		}
	}()
	incoming := testutil.RequireReceive(t, streams, 5*time.Second, "accepted SRTP stream")
	if incoming.ssrc != 0x1234 {
		t.Errorf("accepted SSRC = %#x, want 0x1234", incoming.ssrc)
	}
	incoming.stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	buffer := make([]byte, 1500)
	n, err := incoming.stream.Read(buffer)
	if err != nil {
		t.Fatalf("reading RTP: %v", err)
	}
	if !bytes.HasSuffix(buffer[:n], payload) {
		t.Errorf("decrypted packet %x does not end with the payload", buffer[:n])
	}

	if client.sink.count(capture.Outbound) == 0 {
		t.Error("client tap recorded no outbound RTP")
	}
	if server.sink.count(capture.Inbound) == 0 {
		t.Error("server tap recorded no inbound RTP")
	}

	for _, p := range []*peer{client, server} {
		transportID := testutil.RequireReceive(t, p.observer.connected, 5*time.Second, "DTLS connected event")
		if transportID != "0" {
			t.Errorf("DTLS connected for %q, want 0", transportID)
		}
		testutil.RequireNoReceive(t, p.observer.connected, 100*time.Millisecond, "second DTLS connected event")
		if privacy := p.observer.snapshot().privacy; len(privacy) != 1 || privacy[0] {
			t.Errorf("DTLS privacy flags = %v, want [false]", privacy)
		}
	}
}

func TestFlowNegotiatesConfidentialALPN(t *testing.T) {
	client := newPeer(t)
	server := newPeer(t)
	client.start(t, mediatransport.DTLSClient, server.fingerprint(t), true)
	server.start(t, mediatransport.DTLSServer, client.fingerprint(t), false)
	connect(t, client, server)

	requireOpen(t, client.flow)
	requireOpen(t, server.flow)

	if got := server.flow.DTLS().NegotiatedProtocol(); got != mediatransport.ALPNConfidential {
		t.Errorf("negotiated ALPN = %q, want %q", got, mediatransport.ALPNConfidential)
	}
	transportID := testutil.RequireReceive(t, server.observer.connected, 5*time.Second, "DTLS connected event")
	if transportID != "0" {
		t.Errorf("DTLS connected for %q, want 0", transportID)
	}
	if privacy := server.observer.snapshot().privacy; len(privacy) != 1 || !privacy[0] {
		t.Errorf("server privacy flags = %v, want [true]", privacy)
	}
}

func TestFlowRejectsWrongFingerprint(t *testing.T) {
	client := newPeer(t)
	server := newPeer(t)
	stranger := testIdentity(t)
	wrong, err := stranger.Fingerprint("sha-256")
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	client.start(t, mediatransport.DTLSClient, mediatransport.Fingerprint{Algorithm: "sha-256", Value: wrong}, false)
	server.start(t, mediatransport.DTLSServer, client.fingerprint(t), false)
	connect(t, client, server)

	dtlsLayer := client.flow.DTLS()
	testutil.RequireClosed(t, dtlsLayer.Ready(), 10*time.Second, "client DTLS outcome")
	if state := dtlsLayer.State(); state != mediatransport.LayerError {
		t.Errorf("client DTLS state = %s, want error", state)
	}
	testutil.RequireClosed(t, client.flow.SRTP().Ready(), 5*time.Second, "client SRTP outcome")
	if state := client.flow.State(); state != mediatransport.LayerError {
		t.Errorf("client flow state = %s, want error", state)
	}
	testutil.RequireNoReceive(t, client.observer.connected, 100*time.Millisecond, "DTLS connected after a failed handshake")
}
