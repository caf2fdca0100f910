// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import "fmt"

// DTLSRole is the local end's DTLS role, fixed by the setup attribute
// negotiation.
type DTLSRole int

const (
	DTLSClient DTLSRole = iota
	DTLSServer
)

func (r DTLSRole) String() string {
	switch r {
	case DTLSClient:
		return "client"
	case DTLSServer:
		return "server"
	default:
		return fmt.Sprintf("DTLSRole(%d)", int(r))
	}
}

// Fingerprint is one negotiated certificate fingerprint, such as
// {"sha-256", "AB:CD:..."}.
type Fingerprint struct {
	Algorithm string
	Value     string
}

// TransportDescriptor is everything negotiated for one transport in
// one offer/answer round. It is replaced wholesale on renegotiation.
type TransportDescriptor struct {
	TransportID string

	// Components is 1 when RTCP is muxed onto RTP, 2 otherwise.
	Components int

	LocalUfrag  string
	LocalPwd    string
	RemoteUfrag string
	RemotePwd   string

	RemoteCandidates []string

	Role         DTLSRole
	Fingerprints []Fingerprint
}

// needs reports whether the transport uses the RTP (rtcp false) or
// RTCP (rtcp true) component.
func (d TransportDescriptor) needs(rtcp bool) bool {
	if rtcp {
		return d.Components >= 2
	}
	return d.Components >= 1
}

// FlowKey identifies a transport flow.
type FlowKey struct {
	TransportID string
	RTCP        bool
}

func (k FlowKey) String() string {
	if k.RTCP {
		return k.TransportID + ",rtcp"
	}
	return k.TransportID + ",rtp"
}

func (k FlowKey) component() int {
	if k.RTCP {
		return 2
	}
	return 1
}
