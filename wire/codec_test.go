// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRequest(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"write", Request{ID: 1, Op: OpWrite, Data: []byte{0x20, 0x00, 0x01, 0x00}}},
		{"power on", Request{ID: 2, Op: OpIoctl, Cmd: 0x4004E901, Arg: 1}},
		{"power off", Request{ID: 3, Op: OpIoctl, Cmd: 0x4004E901}},
		{"irq", Request{ID: 4, Op: OpIRQ}},
		{"suspend", Request{ID: 5, Op: OpSuspend}},
		{"info", Request{ID: 6, Op: OpInfo}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeRequest(&tt.req)
			require.NoError(t, err)
			e, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, KindRequest, e.Kind)
			require.NotNil(t, e.Request)
			assert.Equal(t, tt.req, *e.Request)
			assert.Nil(t, e.Response)
			assert.Nil(t, e.Frame)
		})
	}
}

func TestRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"reserved id", Request{Op: OpIRQ}},
		{"unknown op", Request{ID: 1, Op: 9}},
		{"zero op", Request{ID: 1}},
		{"empty write", Request{ID: 1, Op: OpWrite}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeRequest(&tt.req)
			assert.Error(t, err)
		})
	}
}

func TestResponse(t *testing.T) {
	b, err := EncodeResponse(&Response{ID: 7, Result: 0x22011048, Data: []byte("NQ210")})
	require.NoError(t, err)
	e, err := Decode(b)
	require.NoError(t, err)
	require.NotNil(t, e.Response)
	assert.Equal(t, uint32(7), e.Response.ID)
	assert.Equal(t, int64(0x22011048), e.Response.Result)
	assert.NoError(t, e.Response.Err())
	assert.Equal(t, []byte("NQ210"), e.Response.Data)
}

func TestResponse_Errno(t *testing.T) {
	b, err := EncodeResponse(&Response{ID: 1, Result: -1, Errno: uint32(unix.EBUSY)})
	require.NoError(t, err)
	e, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), e.Response.Result)
	assert.True(t, errors.Is(e.Response.Err(), unix.EBUSY))
}

func TestFrame_Encoding(t *testing.T) {
	b, err := EncodeFrame([]byte{0x60, 0x00})
	require.NoError(t, err)
	// Integer keys in canonical order.
	assert.Equal(t, []byte{0xA2, 0x01, 0x03, 0x04, 0xA1, 0x01, 0x42, 0x60, 0x00}, b)
	e, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, KindFrame, e.Kind)
	assert.Equal(t, []byte{0x60, 0x00}, e.Frame.Data)
}

func TestEnvelope_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"empty", Envelope{Kind: KindFrame}},
		{"two bodies", Envelope{Kind: KindFrame, Frame: &Frame{}, Response: &Response{}}},
		{"kind mismatch", Envelope{Kind: KindRequest, Frame: &Frame{}}},
		{"response mismatch", Envelope{Kind: KindResponse, Frame: &Frame{}}},
		{"frame mismatch", Envelope{Kind: KindFrame, Response: &Response{}}},
		{"unknown kind", Envelope{Kind: 9, Frame: &Frame{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(&tt.env)
			assert.Error(t, err)
			b, err := Marshal(&tt.env)
			require.NoError(t, err)
			_, err = Decode(b)
			assert.Error(t, err)
		})
	}
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0x00})
	assert.Error(t, err)
	_, err = Decode(nil)
	assert.Error(t, err)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "ioctl", OpIoctl.String())
	assert.Equal(t, "Op(42)", Op(42).String())
	assert.Equal(t, "Frame", KindFrame.String())
	assert.Equal(t, "Kind(0)", Kind(0).String())
}
