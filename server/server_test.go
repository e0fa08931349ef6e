// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/nqx/v3/nqx"
	"periph.io/x/nqx/v3/wire"
)

func TestHandler_IRQ(t *testing.T) {
	f := newFakeDevice()
	s := New(f, Config{Logger: quietLogger()})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nfc_irq", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0\n", rec.Body.String())

	f.irq.Store(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nfc_irq", nil))
	assert.Equal(t, "1\n", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/nfc_irq", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIRQ_TornDown(t *testing.T) {
	f := newFakeDevice()
	s := New(f, Config{Logger: quietLogger()})
	f.irq.Store(true)
	close(f.done)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nfc_irq", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := s.Do(&wire.Request{ID: 1, Op: wire.OpIRQ})
	assert.Equal(t, &wire.Response{ID: 1, Result: -1, Errno: uint32(unix.ENODEV)}, resp)
}

func TestHandler_Info(t *testing.T) {
	s := New(newFakeDevice(), Config{Logger: quietLogger()})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, infoResponse{
		Type:       "NQ210",
		ROMVersion: 0x10,
		FWMajor:    0x01,
		FWMinor:    0x22,
		Packed:     "0x22011048",
	}, got)
}

func TestHandler_Health(t *testing.T) {
	f := newFakeDevice()
	s := New(f, Config{Logger: quietLogger()})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, rec.Body.String())

	close(f.done)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"removed","clients":0}`, rec.Body.String())
}

func TestDo(t *testing.T) {
	f := newFakeDevice()
	s := New(f, Config{Logger: quietLogger()})
	f.On("Ioctl", nqx.SetPower, uint32(nqx.PowerOn)).Return(0, nil).Once()
	f.On("Suspend").Return(nqx.ErrBusy).Once()
	f.On("Resume").Return(nil).Once()

	resp := s.Do(&wire.Request{ID: 1, Op: wire.OpIoctl, Cmd: uint32(nqx.SetPower), Arg: uint32(nqx.PowerOn)})
	assert.Equal(t, &wire.Response{ID: 1}, resp)

	resp = s.Do(&wire.Request{ID: 2, Op: wire.OpSuspend})
	assert.Equal(t, &wire.Response{ID: 2, Result: -1, Errno: uint32(unix.EBUSY)}, resp)
	assert.ErrorIs(t, resp.Err(), nqx.ErrBusy)

	resp = s.Do(&wire.Request{ID: 3, Op: wire.OpResume})
	assert.NoError(t, resp.Err())

	f.irq.Store(true)
	resp = s.Do(&wire.Request{ID: 4, Op: wire.OpIRQ})
	assert.Equal(t, int64(1), resp.Result)

	resp = s.Do(&wire.Request{ID: 5, Op: wire.OpInfo})
	assert.Equal(t, int64(0x22011048), resp.Result)
	assert.Equal(t, "NQ210 rom 0x10 fw 1.0x22", string(resp.Data))

	resp = s.Do(&wire.Request{ID: 6, Op: wire.Op(42)})
	assert.Equal(t, uint32(unix.EINVAL), resp.Errno)

	// 0x90011048 as a 32 bit int.
	f.On("Ioctl", nqx.GetInfo, uint32(0)).Return(-0x6ffeefb8, nil).Once()
	resp = s.Do(&wire.Request{ID: 7, Op: wire.OpIoctl, Cmd: uint32(nqx.GetInfo)})
	assert.Equal(t, &wire.Response{ID: 7, Result: 0x90011048}, resp)

	f.AssertExpectations(t)
}

func TestWebSocket_Request(t *testing.T) {
	f := newFakeDevice()
	f.On("Write", []byte{0x20, 0x00, 0x01, 0x00}).Return(4, nil).Once()
	f.On("Ioctl", nqx.ESESetPower, uint32(1)).Return(0, nqx.ErrNotPermitted).Once()
	s, addr := startServer(t, f)
	c := dial(t, addr)
	waitClients(t, s, 1)

	// The reader is blocked in ReadContext holding the session; the write
	// only completes if it is cancelled first.
	resp := roundTrip(t, c, &wire.Request{ID: 7, Op: wire.OpWrite, Data: []byte{0x20, 0x00, 0x01, 0x00}})
	assert.Equal(t, &wire.Response{ID: 7, Result: 4}, resp)

	resp = roundTrip(t, c, &wire.Request{ID: 8, Op: wire.OpIoctl, Cmd: uint32(nqx.ESESetPower), Arg: 1})
	assert.Equal(t, &wire.Response{ID: 8, Result: -1, Errno: uint32(unix.EPERM)}, resp)

	f.AssertExpectations(t)
}

func TestWebSocket_Invalid(t *testing.T) {
	f := newFakeDevice()
	s, addr := startServer(t, f)
	c := dial(t, addr)
	waitClients(t, s, 1)

	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, []byte{0xFF, 0x00}))
	resp := readResponse(t, c)
	assert.Equal(t, uint32(unix.EINVAL), resp.Errno)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("hello")))
	resp = readResponse(t, c)
	assert.Equal(t, uint32(unix.EINVAL), resp.Errno)

	// A write without data is rejected before reaching the session.
	b, err := wire.Marshal(&wire.Envelope{Kind: wire.KindRequest, Request: &wire.Request{ID: 9, Op: wire.OpWrite}})
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, b))
	resp = readResponse(t, c)
	assert.Equal(t, &wire.Response{ID: 9, Result: -1, Errno: uint32(unix.EINVAL)}, resp)

	f.AssertNotCalled(t, "Write", mock.Anything)
}

func TestWebSocket_Frames(t *testing.T) {
	f := newFakeDevice()
	s, addr := startServer(t, f)
	c1 := dial(t, addr)
	c2 := dial(t, addr)
	waitClients(t, s, 2)

	frame := []byte{0x60, 0x06, 0x03, 0x01, 0x00, 0x01}
	f.frames <- frame
	for _, c := range []*websocket.Conn{c1, c2} {
		e := readEnvelope(t, c)
		require.Equal(t, wire.KindFrame, e.Kind)
		assert.Equal(t, frame, e.Frame.Data)
	}

	f.frames <- []byte{0x40, 0x03, 0x00}
	e := readEnvelope(t, c1)
	assert.Equal(t, []byte{0x40, 0x03, 0x00}, e.Frame.Data)
}

func TestServer_SessionTornDown(t *testing.T) {
	f := newFakeDevice()
	s, addr := startServer(t, f)
	c := dial(t, addr)
	waitClients(t, s, 1)

	close(f.done)
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not close")
	}
	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, s.Clients())
	assert.Error(t, s.Start(nil))
}

//

// fakeDevice emulates a session: ReadContext holds the session lock while it
// waits for a frame, like the real one waits for the IRQ line.
type fakeDevice struct {
	mock.Mock

	mu     sync.Mutex
	frames chan []byte
	done   chan struct{}
	irq    atomic.Bool

	rmu  sync.Mutex
	rest []byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{frames: make(chan []byte, 4), done: make(chan struct{})}
}

func (f *fakeDevice) ReadContext(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rmu.Lock()
	if len(f.rest) != 0 {
		n := copy(p, f.rest)
		f.rest = f.rest[n:]
		f.rmu.Unlock()
		return n, nil
	}
	f.rmu.Unlock()
	select {
	case b := <-f.frames:
		n := copy(p, b)
		f.rmu.Lock()
		f.rest = b[n:]
		f.rmu.Unlock()
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-f.done:
		return 0, nqx.ErrNoDevice
	}
}

func (f *fakeDevice) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	args := f.Called(p)
	return args.Int(0), args.Error(1)
}

func (f *fakeDevice) Ioctl(cmd nqx.Cmd, arg uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	args := f.Called(cmd, arg)
	return args.Int(0), args.Error(1)
}

func (f *fakeDevice) IRQLevel() (gpio.Level, error) {
	select {
	case <-f.done:
		return gpio.Low, nqx.ErrNoDevice
	default:
	}
	return gpio.Level(f.irq.Load()), nil
}

func (f *fakeDevice) Suspend() error {
	return f.Called().Error(0)
}

func (f *fakeDevice) Resume() error {
	return f.Called().Error(0)
}

func (f *fakeDevice) Info() nqx.ChipInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return nqx.ChipInfo{Type: nqx.NQ210, ROMVersion: 0x10, FWMajor: 0x01, FWMinor: 0x22}
}

func (f *fakeDevice) Done() <-chan struct{} {
	return f.done
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func startServer(t *testing.T, d Device) (*Server, string) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(d, Config{Logger: quietLogger()})
	require.NoError(t, s.Start(ln))
	t.Cleanup(func() { _ = s.Close() })
	return s, ln.Addr().String()
}

func dial(t *testing.T, addr string) *websocket.Conn {
	c, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitClients(t *testing.T, s *Server, n int) {
	require.Eventually(t, func() bool { return s.Clients() == n }, 2*time.Second, 5*time.Millisecond)
}

func roundTrip(t *testing.T, c *websocket.Conn, r *wire.Request) *wire.Response {
	b, err := wire.EncodeRequest(r)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, b))
	return readResponse(t, c)
}

func readResponse(t *testing.T, c *websocket.Conn) *wire.Response {
	e := readEnvelope(t, c)
	require.Equal(t, wire.KindResponse, e.Kind)
	return e.Response
}

func readEnvelope(t *testing.T, c *websocket.Conn) *wire.Envelope {
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, b, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	e, err := wire.Decode(b)
	require.NoError(t, err)
	return e
}
