// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/proxy"
)

const (
	// ProxyTarget is the URL whose proxy is looked up. The name is
	// reserved, so whatever proxy it maps to is the default HTTPS
	// proxy.
	ProxyTarget = "https://example.com"

	// ProxyALPN is announced to the proxy in the CONNECT request so
	// it can tell media tunnels apart from web traffic.
	ProxyALPN = "webrtc,c-webrtc"
)

// Proxy is a resolved HTTP CONNECT proxy.
type Proxy struct {
	Host string
	Port int
	ALPN string
}

// Address returns host:port.
func (p *Proxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// ProxyResolver looks up the proxy for ProxyTarget. A nil *Proxy with
// a nil error means connections go direct.
type ProxyResolver interface {
	ResolveProxy(ctx context.Context) (*Proxy, error)
}

// EnvironmentProxyResolver resolves from HTTPS_PROXY, HTTP_PROXY, and
// NO_PROXY.
type EnvironmentProxyResolver struct {
	// Config overrides the environment. Nil reads it at call time.
	Config *httpproxy.Config
}

// ResolveProxy implements ProxyResolver.
func (r EnvironmentProxyResolver) ResolveProxy(ctx context.Context) (*Proxy, error) {
	config := r.Config
	if config == nil {
		config = httpproxy.FromEnvironment()
	}
	target, err := url.Parse(ProxyTarget)
	if err != nil {
		return nil, err
	}
	proxyURL, err := config.ProxyFunc()(target)
	if err != nil {
		return nil, fmt.Errorf("resolving proxy for %s: %w", ProxyTarget, err)
	}
	if proxyURL == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port := 80
	if proxyURL.Scheme == "https" {
		port = 443
	}
	if raw := proxyURL.Port(); raw != "" {
		port, err = strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("proxy %s: invalid port %q", proxyURL.Redacted(), raw)
		}
	}
	if proxyURL.Hostname() == "" {
		return nil, fmt.Errorf("proxy %s: missing host", proxyURL.Redacted())
	}
	return &Proxy{Host: proxyURL.Hostname(), Port: port, ALPN: ProxyALPN}, nil
}

// Dialer returns a dialer that tunnels TCP connections through the
// proxy with HTTP CONNECT. forward reaches the proxy itself; nil uses
// proxy.Direct.
func (p *Proxy) Dialer(forward proxy.Dialer) proxy.Dialer {
	if forward == nil {
		forward = proxy.Direct
	}
	return &connectDialer{proxy: p, forward: forward}
}

type connectDialer struct {
	proxy   *Proxy
	forward proxy.Dialer
}

func (d *connectDialer) Dial(network, addr string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("proxy %s: cannot tunnel %s", d.proxy.Address(), network)
	}

	conn, err := d.forward.Dial("tcp", d.proxy.Address())
	if err != nil {
		return nil, fmt.Errorf("connecting to proxy %s: %w", d.proxy.Address(), err)
	}

	request := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.proxy.ALPN != "" {
		request.Header.Set("ALPN", d.proxy.ALPN)
	}
	if err := request.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing CONNECT to %s: %w", d.proxy.Address(), err)
	}

	reader := bufio.NewReader(conn)
	response, err := http.ReadResponse(reader, request)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading CONNECT response from %s: %w", d.proxy.Address(), err)
	}
	// The body is not read: after a 2xx the stream is the tunnel.
	if response.StatusCode/100 != 2 {
		conn.Close()
		return nil, fmt.Errorf("proxy %s refused CONNECT %s: %s", d.proxy.Address(), addr, response.Status)
	}

	if reader.Buffered() > 0 {
		return &bufferedConn{Conn: conn, reader: reader}, nil
	}
	return conn, nil
}

// bufferedConn returns bytes the proxy sent after its response
// headers before reading from the socket again.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}
