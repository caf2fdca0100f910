// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture records the plaintext side of DTLS-protected media
// flows for offline inspection.
//
// The capture tap sits between the DTLS and SRTP layers of a transport
// flow, so it sees SRTP and SRTCP packets as they cross the wire.
// Packets carry no IP framing at that point; [PcapSink] synthesizes an
// IPv4/UDP header per packet (fixed addresses, one port per flow
// direction) so standard tools can decode the file as RTP. Files may
// be stream-compressed with zstd or lz4.
package capture
