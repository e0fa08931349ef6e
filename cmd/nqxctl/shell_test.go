// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"periph.io/x/nqx/v3/nqx"
	"periph.io/x/nqx/v3/wire"
)

func TestShell(t *testing.T) {
	var got []*wire.Request
	replies := map[wire.Op]*wire.Response{
		wire.OpInfo: {Result: 0x22011048, Data: []byte("NQ210 rom 0x10 fw 1.0x22")},
		wire.OpIRQ:  {Result: 1},
	}
	var out bytes.Buffer
	s := &shell{
		out:     &out,
		timeout: time.Second,
		do: func(ctx context.Context, r *wire.Request) (*wire.Response, error) {
			got = append(got, r)
			if resp, ok := replies[r.Op]; ok {
				return resp, nil
			}
			if r.Op == wire.OpIoctl && nqx.Cmd(r.Cmd) == nqx.ESESetPower {
				return &wire.Response{Result: -1, Errno: uint32(unix.EPERM)}, nil
			}
			return &wire.Response{Result: int64(len(r.Data))}, nil
		},
	}
	data := []struct {
		line string
		req  *wire.Request
		out  string
	}{
		{"power on", &wire.Request{Op: wire.OpIoctl, Cmd: uint32(nqx.SetPower), Arg: 1}, "OK\n"},
		{"POWER fw", &wire.Request{Op: wire.OpIoctl, Cmd: uint32(nqx.SetPower), Arg: 2}, "OK\n"},
		{"power", nil, "Usage: power off|on|fw\n"},
		{"ese on", &wire.Request{Op: wire.OpIoctl, Cmd: uint32(nqx.ESESetPower), Arg: nqx.ESEAcquire}, "Failed: operation not permitted\n"},
		{"ese get", &wire.Request{Op: wire.OpIoctl, Cmd: uint32(nqx.ESEGetPower)}, "0\n"},
		{"info", &wire.Request{Op: wire.OpInfo}, "NQ210 rom 0x10 fw 1.0x22 (0x22011048)\n"},
		{"irq", &wire.Request{Op: wire.OpIRQ}, "1\n"},
		{"send 20 00 01 00", &wire.Request{Op: wire.OpWrite, Data: []byte{0x20, 0x00, 0x01, 0x00}}, "-> 20 00 01 00 (4 bytes)\n"},
		{"send zz", nil, "Usage: send <hex>\n  Example: send 20 00 01 00\n"},
		{"suspend", &wire.Request{Op: wire.OpSuspend}, "OK\n"},
		{"bogus", nil, "Unknown command: bogus (type 'help' for commands)\n"},
		{"  ", nil, ""},
	}
	for _, l := range data {
		t.Run(l.line, func(t *testing.T) {
			got = nil
			out.Reset()
			assert.False(t, s.exec(context.Background(), l.line))
			assert.Equal(t, l.out, out.String())
			if l.req == nil {
				assert.Empty(t, got)
			} else {
				require.Len(t, got, 1)
				assert.Equal(t, l.req, got[0])
			}
		})
	}
	assert.True(t, s.exec(context.Background(), "quit"))
}

func TestClient(t *testing.T) {
	frame := []byte{0x60, 0x00, 0x01, 0x00}
	up := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			e, err := wire.Decode(b)
			if err != nil {
				return
			}
			// Frames interleave with responses.
			f, _ := wire.EncodeFrame(frame)
			_ = conn.WriteMessage(websocket.BinaryMessage, f)
			resp, _ := wire.EncodeResponse(&wire.Response{ID: e.Request.ID, Result: int64(e.Request.Op)})
			_ = conn.WriteMessage(websocket.BinaryMessage, resp)
		}
	}))
	defer ts.Close()

	frames := make(chan []byte, 4)
	c, err := dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"), func(b []byte) { frames <- b })
	require.NoError(t, err)

	resp, err := c.do(context.Background(), &wire.Request{Op: wire.OpResume})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), resp.ID)
	assert.Equal(t, int64(wire.OpResume), resp.Result)

	resp, err = c.do(context.Background(), &wire.Request{Op: wire.OpInfo})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), resp.ID)

	select {
	case b := <-frames:
		assert.Equal(t, frame, b)
	case <-time.After(time.Second):
		t.Fatal("no frame")
	}

	require.NoError(t, c.Close())
	_, err = c.do(context.Background(), &wire.Request{Op: wire.OpIRQ})
	assert.ErrorIs(t, err, errClosed)
}
