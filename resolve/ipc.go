// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/mediatransport/lib/codec"
)

// actionDiscoverAddresses is the only request the address socket
// serves.
const actionDiscoverAddresses = "discover-addresses"

type addressRequest struct {
	Action string `cbor:"action"`
}

type addressResponse struct {
	OK        bool      `cbor:"ok"`
	Error     string    `cbor:"error,omitempty"`
	Addresses []Address `cbor:"addresses,omitempty"`
}

const (
	// ipcReadTimeout bounds how long the server waits for a request.
	// Clients send immediately after connecting.
	ipcReadTimeout = 10 * time.Second

	ipcWriteTimeout = 10 * time.Second
)

// AddressServer answers address requests from sandboxed children on a
// Unix socket. Each connection carries one request and one response.
type AddressServer struct {
	socketPath string
	discoverer AddressDiscoverer
	timeout    time.Duration
	logger     *slog.Logger

	active sync.WaitGroup
}

// NewAddressServer creates a server that answers with discoverer. Each
// discovery is bounded by timeout.
func NewAddressServer(socketPath string, discoverer AddressDiscoverer, timeout time.Duration, logger *slog.Logger) *AddressServer {
	return &AddressServer{
		socketPath: socketPath,
		discoverer: discoverer,
		timeout:    timeout,
		logger:     logger,
	}
}

// Serve listens until ctx is canceled, then waits for in-flight
// requests. A stale socket file is replaced; the socket file is
// removed on return.
func (s *AddressServer) Serve(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	return s.serve(ctx, listener)
}

func (s *AddressServer) listen() (net.Listener, error) {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	return listener, nil
}

func (s *AddressServer) serve(ctx context.Context, listener net.Listener) error {
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("address server listening", "path", s.socketPath)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handle(ctx, conn)
		}()
	}
	s.active.Wait()
	return nil
}

func (s *AddressServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	logger := s.logger
	if credentials, err := peerCredentials(conn); err == nil {
		logger = logger.With("peer_pid", credentials.PID, "peer_uid", credentials.UID)
	} else {
		logger.Debug("peer credentials unavailable", "error", err)
	}

	conn.SetReadDeadline(time.Now().Add(ipcReadTimeout))
	var request addressRequest
	if err := codec.ReadMessage(conn, &request); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.respond(conn, addressResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if request.Action != actionDiscoverAddresses {
		s.respond(conn, addressResponse{Error: fmt.Sprintf("unknown action %q", request.Action)})
		return
	}

	discoverCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	addresses, err := s.discoverer.DiscoverAddresses(discoverCtx)
	if err != nil {
		logger.Warn("address discovery failed", "error", err)
		s.respond(conn, addressResponse{Error: err.Error()})
		return
	}
	logger.Debug("served local addresses", "count", len(addresses))
	s.respond(conn, addressResponse{OK: true, Addresses: addresses})
}

func (s *AddressServer) respond(conn net.Conn, response addressResponse) {
	conn.SetWriteDeadline(time.Now().Add(ipcWriteTimeout))
	if err := codec.WriteMessage(conn, response); err != nil {
		s.logger.Debug("writing address response failed", "error", err)
	}
}

// SocketDiscoverer asks an AddressServer for the host's addresses.
// Used by processes that cannot see host interfaces.
type SocketDiscoverer struct {
	SocketPath string
}

// DiscoverAddresses implements AddressDiscoverer.
func (d SocketDiscoverer) DiscoverAddresses(ctx context.Context) ([]Address, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", d.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", d.SocketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	// Closing the conn unblocks I/O when ctx ends without a deadline.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := codec.WriteMessage(conn, addressRequest{Action: actionDiscoverAddresses}); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response addressResponse
	if err := codec.ReadMessage(conn, &response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if !response.OK {
		return nil, fmt.Errorf("address server: %s", response.Error)
	}
	return response.Addresses, nil
}
