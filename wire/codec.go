// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode encodes deterministically so equal messages have equal bytes.
var encMode cbor.EncMode

// decMode is lenient about duplicate keys for forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		// Frames are at most a few hundred bytes.
		MaxArrayElements: 1024,
		MaxMapPairs:      64,
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encode validates and encodes an envelope.
func Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s envelope: %w", e.Kind, err)
	}
	return Marshal(e)
}

// Decode decodes and validates an envelope.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s envelope: %w", e.Kind, err)
	}
	return &e, nil
}

// EncodeRequest wraps and encodes a request.
func EncodeRequest(r *Request) ([]byte, error) {
	return Encode(&Envelope{Kind: KindRequest, Request: r})
}

// EncodeResponse wraps and encodes a response.
func EncodeResponse(r *Response) ([]byte, error) {
	return Encode(&Envelope{Kind: KindResponse, Response: r})
}

// EncodeFrame wraps and encodes a frame.
func EncodeFrame(data []byte) ([]byte, error) {
	return Encode(&Envelope{Kind: KindFrame, Frame: &Frame{Data: data}})
}
