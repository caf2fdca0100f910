// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by the
// media transport's internal protocols.
//
// The address-discovery socket between a sandboxed child and its parent
// speaks CBOR. Both sides must encode identically, so the modes live
// here instead of being configured at each call site. The encoder uses
// Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
// smallest integer encoding, no indefinite-length items.
//
// Types that implement encoding.TextMarshaler (netip.Addr in
// particular) travel as CBOR text strings, so an address list decodes
// back into the same netip values on the other side.
//
// Socket peers exchange one bounded item per message:
//
//	err := codec.WriteMessage(conn, request)
//	err = codec.ReadMessage(conn, &response)
package codec
