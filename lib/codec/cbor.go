// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxMessageSize caps one message on a local socket. A host with a few
// hundred addresses stays far below it.
const MaxMessageSize = 64 * 1024

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Types such as netip.Addr implement both binary and text
	// marshaling; the binary form would win, so it is switched off and
	// they travel as readable text strings.
	encOptions := cbor.CoreDetEncOptions()
	encOptions.BinaryMarshaler = cbor.BinaryMarshalerNone
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		BinaryUnmarshaler: cbor.BinaryUnmarshalerNone,
		TextUnmarshaler:   cbor.TextUnmarshalerTextString,
		// The peer on the discovery socket is sandboxed; cap what a
		// single message may allocate.
		MaxArrayElements: 4096,
		MaxMapPairs:      256,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes one CBOR item into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// WriteMessage encodes v and writes it to w as one item. Messages over
// MaxMessageSize are refused before anything is written.
func WriteMessage(w io.Writer, v any) error {
	data, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message is %d bytes, limit is %d", len(data), MaxMessageSize)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// ReadMessage decodes one item from r into v, reading at most
// MaxMessageSize bytes. A peer that closes before sending anything
// yields io.EOF.
func ReadMessage(r io.Reader, v any) error {
	return decMode.NewDecoder(io.LimitReader(r, MaxMessageSize)).Decode(v)
}
