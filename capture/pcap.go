// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/bureau-foundation/mediatransport/lib/clock"
)

// Synthetic endpoints. The local side is always localAddress; RTP and
// RTCP use adjacent ports so a dissector can tell them apart.
var (
	localAddress  = net.IPv4(10, 0, 0, 1).To4()
	remoteAddress = net.IPv4(10, 0, 0, 2).To4()
)

const (
	rtpPort  = 5004
	rtcpPort = 5005

	// DefaultSnapLength keeps whole packets.
	DefaultSnapLength = 65535
)

// PcapSink writes packets as raw-IP pcap records.
type PcapSink struct {
	mu         sync.Mutex
	out        io.WriteCloser
	writer     *pcapgo.Writer
	snapLength int
	logger     *slog.Logger
	closed     bool
	failed     bool
	packets    int
}

// NewPcapSink writes a pcap header to out and returns a sink that
// appends to it. The sink owns out and closes it on Close.
func NewPcapSink(out io.WriteCloser, snapLength int, logger *slog.Logger) (*PcapSink, error) {
	if snapLength <= 0 {
		snapLength = DefaultSnapLength
	}
	writer := pcapgo.NewWriter(out)
	if err := writer.WriteFileHeader(uint32(snapLength), layers.LinkTypeRaw); err != nil {
		return nil, fmt.Errorf("writing pcap header: %w", err)
	}
	return &PcapSink{out: out, writer: writer, snapLength: snapLength, logger: logger}, nil
}

// FileOptions configures NewFileSink.
type FileOptions struct {
	Directory   string
	Session     string
	Compression Compression
	SnapLength  int
	Clock       clock.Clock
}

// NewFileSink creates Directory if needed and opens a capture file
// named after the session and the current time.
func NewFileSink(options FileOptions, logger *slog.Logger) (*PcapSink, string, error) {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if err := os.MkdirAll(options.Directory, 0o700); err != nil {
		return nil, "", fmt.Errorf("creating capture directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s.pcap%s",
		sanitize(options.Session),
		options.Clock.Now().UTC().Format("20060102T150405.000"),
		options.Compression.Extension(),
	)
	path := filepath.Join(options.Directory, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("creating capture file: %w", err)
	}
	out, err := options.Compression.compressor(file)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, "", err
	}
	sink, err := NewPcapSink(out, options.SnapLength, logger)
	if err != nil {
		out.Close()
		os.Remove(path)
		return nil, "", err
	}
	logger.Info("packet capture enabled", "path", path, "compression", options.Compression.String())
	return sink, path, nil
}

func sanitize(name string) string {
	if name == "" {
		return "session"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

// Record implements Sink. Write errors disable the sink after the
// first one is logged.
func (s *PcapSink) Record(packet Packet) {
	frame, err := frame(packet)
	if err != nil {
		s.logger.Debug("capture framing failed", "flow", packet.Flow, "error", err)
		return
	}
	captured := frame
	if len(captured) > s.snapLength {
		captured = captured[:s.snapLength]
	}
	timestamp := packet.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.failed {
		return
	}
	err = s.writer.WritePacket(gopacket.CaptureInfo{
		Timestamp:     timestamp,
		CaptureLength: len(captured),
		Length:        len(frame),
	}, captured)
	if err != nil {
		s.failed = true
		s.logger.Warn("packet capture write failed, disabling capture", "error", err)
		return
	}
	s.packets++
}

// Packets returns how many packets have been written.
func (s *PcapSink) Packets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets
}

// Close flushes and closes the underlying writer. Idempotent.
func (s *PcapSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.out.Close()
}

// frame wraps the payload in synthetic IPv4 and UDP headers.
func frame(packet Packet) ([]byte, error) {
	port := layers.UDPPort(rtpPort)
	if packet.RTCP {
		port = rtcpPort
	}
	source, destination := localAddress, remoteAddress
	if packet.Direction == Inbound {
		source, destination = remoteAddress, localAddress
	}

	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    source,
		DstIP:    destination,
	}
	udp := &layers.UDP{SrcPort: port, DstPort: port}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	buffer := gopacket.NewSerializeBuffer()
	options := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buffer, options, ip, udp, gopacket.Payload(packet.Data)); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
