// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPacketClassification(t *testing.T) {
	tests := []struct {
		name  string
		first []byte
		dtls  bool
		rtp   bool
		rtcp  bool
	}{
		{"STUN binding", []byte{0x00, 0x01}, false, false, false},
		{"DTLS handshake", []byte{22, 0xfe}, true, false, false},
		{"DTLS lower bound", []byte{20, 0}, true, false, false},
		{"DTLS upper bound", []byte{63, 0}, true, false, false},
		{"TURN channel", []byte{64, 0}, false, false, false},
		{"RTP payload type 96", []byte{0x80, 96}, false, true, false},
		{"RTP marker with payload type 111", []byte{0x80, 0x80 | 111}, false, true, false},
		{"RTCP sender report", []byte{0x80, 200}, false, false, true},
		{"RTCP receiver report", []byte{0x81, 201}, false, false, true},
		{"RTCP upper bound", []byte{0x80, 223}, false, false, true},
		{"above media range", []byte{192, 200}, false, false, false},
		{"empty", nil, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchDTLS(tt.first); got != tt.dtls {
				t.Errorf("matchDTLS = %v, want %v", got, tt.dtls)
			}
			if got := matchRTP(tt.first); got != tt.rtp {
				t.Errorf("matchRTP = %v, want %v", got, tt.rtp)
			}
			if got := matchRTCP(tt.first); got != tt.rtcp {
				t.Errorf("matchRTCP = %v, want %v", got, tt.rtcp)
			}
		})
	}
}

func readWithin(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buffer := make([]byte, 1500)
	n, err := conn.Read(buffer)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return buffer[:n]
}

func TestDemuxRoutesByClass(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	d := newDemux(local, testLogger())
	defer d.Close()

	dtls := d.endpoint(matchDTLS)
	media := d.endpoint(matchMedia)

	rtp := []byte{0x80, 96, 0, 1}
	handshake := []byte{22, 0xfe, 0xfd, 0}
	for _, packet := range [][]byte{rtp, handshake} {
		if _, err := remote.Write(packet); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if got := readWithin(t, media); !bytes.Equal(got, rtp) {
		t.Errorf("media endpoint read %x, want %x", got, rtp)
	}
	if got := readWithin(t, dtls); !bytes.Equal(got, handshake) {
		t.Errorf("DTLS endpoint read %x, want %x", got, handshake)
	}

	go media.Write([]byte{0x80, 97})
	remote.SetReadDeadline(time.Now().Add(5 * time.Second))
	buffer := make([]byte, 16)
	n, err := remote.Read(buffer)
	if err != nil || !bytes.Equal(buffer[:n], []byte{0x80, 97}) {
		t.Errorf("endpoint write arrived as %x, %v", buffer[:n], err)
	}
}

func TestDemuxHoldsEarlyPackets(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	d := newDemux(local, testLogger())
	defer d.Close()

	hello := []byte{22, 0xfe, 0xff, 1}
	if _, err := remote.Write(hello); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// The write returns once the read loop has consumed it, so the
	// packet is pending by the time the endpoint registers.
	dtls := d.endpoint(matchDTLS)
	if got := readWithin(t, dtls); !bytes.Equal(got, hello) {
		t.Errorf("read %x, want the early packet %x", got, hello)
	}
}

func TestDemuxCloseUnblocksEndpoints(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	d := newDemux(local, testLogger())
	media := d.endpoint(matchMedia)

	readErr := make(chan error, 1)
	go func() {
		_, err := media.Read(make([]byte, 16))
		readErr <- err
	}()
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-readErr:
		if err == nil {
			t.Error("Read after Close returned no error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Read still blocked after Close")
	}
}
