// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v4/packetio"

	"github.com/bureau-foundation/mediatransport/lib/netutil"
)

// matchFunc classifies a datagram by its first bytes (RFC 7983).
type matchFunc func([]byte) bool

func matchRange(lower, upper byte) matchFunc {
	return func(buf []byte) bool {
		return len(buf) > 0 && buf[0] >= lower && buf[0] <= upper
	}
}

var (
	matchDTLS  = matchRange(20, 63)
	matchMedia = matchRange(128, 191)
)

// matchRTCP separates RTCP from RTP by payload type: RTCP packet types
// 192-223 land where RTP's marker bit and payload type sit.
func matchRTCP(buf []byte) bool {
	return matchMedia(buf) && len(buf) >= 2 && buf[1] >= 192 && buf[1] <= 223
}

func matchRTP(buf []byte) bool {
	return matchMedia(buf) && !matchRTCP(buf)
}

const (
	// muxReceiveMTU bounds one datagram.
	muxReceiveMTU = 8192

	// muxBufferLimit caps bytes queued per endpoint before packets
	// drop.
	muxBufferLimit = 1000 * 1000

	// muxMaxPending caps datagrams held for endpoints that do not
	// exist yet, such as a DTLS ClientHello that arrives before the
	// DTLS layer has registered.
	muxMaxPending = 16
)

// demux splits one connection into endpoints by packet class. Writes
// on any endpoint go straight to the underlying connection.
type demux struct {
	conn   net.Conn
	logger *slog.Logger

	mu        sync.Mutex
	endpoints []*endpoint
	pending   [][]byte
	closed    bool

	done chan struct{}
}

func newDemux(conn net.Conn, logger *slog.Logger) *demux {
	d := &demux{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
	go d.readLoop()
	return d
}

// endpoint registers a new endpoint. Pending datagrams it matches are
// delivered to it first.
func (d *demux) endpoint(match matchFunc) *endpoint {
	e := &endpoint{demux: d, match: match, buffer: packetio.NewBuffer()}
	e.buffer.SetLimitSize(muxBufferLimit)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		e.buffer.Close()
		return e
	}
	d.endpoints = append(d.endpoints, e)
	kept := d.pending[:0]
	for _, packet := range d.pending {
		if match(packet) {
			e.buffer.Write(packet)
			continue
		}
		kept = append(kept, packet)
	}
	d.pending = kept
	return e
}

func (d *demux) removeEndpoint(e *endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, candidate := range d.endpoints {
		if candidate == e {
			d.endpoints = append(d.endpoints[:i:i], d.endpoints[i+1:]...)
			return
		}
	}
}

func (d *demux) readLoop() {
	defer close(d.done)
	buffer := make([]byte, muxReceiveMTU)
	for {
		n, err := d.conn.Read(buffer)
		if err != nil {
			if netutil.IsTimeout(err) {
				continue
			}
			if !netutil.IsExpectedCloseError(err) {
				d.logger.Warn("demux read failed", "error", err)
			}
			d.closeEndpoints()
			return
		}
		if n == 0 {
			continue
		}
		d.dispatch(buffer[:n])
	}
}

func (d *demux) dispatch(packet []byte) {
	d.mu.Lock()
	var target *endpoint
	for _, e := range d.endpoints {
		if e.match(packet) {
			target = e
			break
		}
	}
	if target == nil {
		if len(d.pending) < muxMaxPending {
			d.pending = append(d.pending, append([]byte(nil), packet...))
		} else {
			d.logger.Debug("demux dropping unmatched packet", "first_byte", packet[0])
		}
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	if _, err := target.buffer.Write(packet); err != nil && errors.Is(err, packetio.ErrFull) {
		d.logger.Debug("demux endpoint buffer full, dropping packet")
	}
}

func (d *demux) closeEndpoints() {
	d.mu.Lock()
	endpoints := d.endpoints
	d.endpoints = nil
	d.closed = true
	d.pending = nil
	d.mu.Unlock()
	for _, e := range endpoints {
		e.buffer.Close()
	}
}

// Close closes the underlying connection and every endpoint, then
// waits for the read loop.
func (d *demux) Close() error {
	err := d.conn.Close()
	d.closeEndpoints()
	<-d.done
	if err != nil && !netutil.IsExpectedCloseError(err) {
		return err
	}
	return nil
}

// endpoint is one packet class of a demux, usable as a net.Conn.
type endpoint struct {
	demux  *demux
	match  matchFunc
	buffer *packetio.Buffer
}

func (e *endpoint) Read(p []byte) (int, error) {
	return e.buffer.Read(p)
}

func (e *endpoint) Write(p []byte) (int, error) {
	return e.demux.conn.Write(p)
}

// Close detaches the endpoint. The underlying connection stays open.
func (e *endpoint) Close() error {
	e.demux.removeEndpoint(e)
	return e.buffer.Close()
}

func (e *endpoint) LocalAddr() net.Addr  { return e.demux.conn.LocalAddr() }
func (e *endpoint) RemoteAddr() net.Addr { return e.demux.conn.RemoteAddr() }

func (e *endpoint) SetDeadline(t time.Time) error {
	return e.buffer.SetReadDeadline(t)
}

func (e *endpoint) SetReadDeadline(t time.Time) error {
	return e.buffer.SetReadDeadline(t)
}

func (e *endpoint) SetWriteDeadline(time.Time) error { return nil }

var _ net.Conn = (*endpoint)(nil)
