// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package iceengine

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

// ParseServerURL parses one ICE server URL of the form
// scheme:host[:port][?transport=udp|tcp] with scheme stun, stuns, turn,
// or turns. Default ports are 3478 for stun/turn and 5349 for
// stuns/turns. turns always uses TLS over TCP.
//
// stuns URLs are validated but yield a nil URI with no error: they
// have no server entry.
//
// Authority-form URLs (turn://...) and URLs carrying user-info
// (turn:user@host) are rejected; TURN credentials come from username
// and credential, which are required for turn and turns.
func ParseServerURL(raw, username, credential string) (*stun.URI, error) {
	schemeText, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, fmt.Errorf("%q: missing scheme", raw)
	}
	hostPort, query, _ := strings.Cut(rest, "?")
	if strings.HasPrefix(hostPort, "//") || strings.Contains(hostPort, "@") {
		return nil, fmt.Errorf("%q: user-info and authority form are not allowed", raw)
	}
	transport, err := parseTransport(query)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", raw, err)
	}

	// stun.ParseURI refuses any query on stun URLs, so the transport
	// parameter is applied here for every scheme.
	uri, err := stun.ParseURI(schemeText + ":" + hostPort)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", raw, err)
	}
	if uri.Port < 1 || uri.Port > 65535 {
		return nil, fmt.Errorf("%q: %w: %d out of range", raw, stun.ErrPort, uri.Port)
	}

	switch uri.Scheme {
	case stun.SchemeTypeSTUNS:
		return nil, nil
	case stun.SchemeTypeSTUN:
		uri.Proto = transport
	case stun.SchemeTypeTURN, stun.SchemeTypeTURNS:
		if username == "" || credential == "" {
			return nil, fmt.Errorf("%q: TURN servers require a username and credential", raw)
		}
		uri.Proto = transport
		if uri.Scheme == stun.SchemeTypeTURNS {
			uri.Proto = stun.ProtoTypeTCP
		}
		uri.Username = username
		uri.Password = credential
	}
	return uri, nil
}

// parseTransport reads the optional transport parameter, the only one
// an ICE server URL may carry. It defaults to UDP.
func parseTransport(query string) (stun.ProtoType, error) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return stun.ProtoTypeUnknown, fmt.Errorf("%w: %w", stun.ErrInvalidQuery, err)
	}
	for key := range values {
		if key != "transport" {
			return stun.ProtoTypeUnknown, fmt.Errorf("%w: unexpected parameter %q", stun.ErrInvalidQuery, key)
		}
	}
	raw := values.Get("transport")
	if raw == "" {
		return stun.ProtoTypeUDP, nil
	}
	proto := stun.NewProtoType(strings.ToLower(raw))
	if proto == stun.ProtoTypeUnknown {
		return stun.ProtoTypeUnknown, fmt.Errorf("%w: %q", stun.ErrProtoType, raw)
	}
	return proto, nil
}

// ParseServers splits a configured server list into STUN and TURN
// URIs. Any malformed URL fails the whole list.
func ParseServers(servers []webrtc.ICEServer) (stunServers, turnServers []*stun.URI, err error) {
	for _, server := range servers {
		credential, err := credentialString(server)
		if err != nil {
			return nil, nil, err
		}
		for _, raw := range server.URLs {
			uri, err := ParseServerURL(raw, server.Username, credential)
			if err != nil {
				return nil, nil, err
			}
			switch {
			case uri == nil:
			case uri.Scheme == stun.SchemeTypeSTUN:
				stunServers = append(stunServers, uri)
			default:
				turnServers = append(turnServers, uri)
			}
		}
	}
	return stunServers, turnServers, nil
}

func credentialString(server webrtc.ICEServer) (string, error) {
	switch credential := server.Credential.(type) {
	case nil:
		return "", nil
	case string:
		return credential, nil
	default:
		return "", fmt.Errorf("%v: only password credentials are supported, got %T", server.URLs, server.Credential)
	}
}
