// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolve performs the two lookups a session needs before ICE
// may gather: the outbound HTTPS proxy that TURN-over-TCP traffic
// should tunnel through, and the local addresses candidates may be
// gathered on.
//
// Both lookups are asynchronous and fire their callback exactly once.
// Failures degrade rather than abort: a failed proxy lookup reports no
// proxy, and a failed address lookup reports an empty list. A
// [Resolver] runs both and can be canceled, after which no callback
// fires.
//
// Sandboxed processes cannot enumerate host interfaces. They ask a
// parent over a Unix socket instead: [AddressServer] runs in the parent
// and answers with [InterfaceDiscoverer]; [SocketDiscoverer] is the
// child side. The protocol is one CBOR request and one CBOR response
// per connection.
package resolve
