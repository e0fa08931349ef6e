// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package server exposes an NFC controller session over WebSocket.
//
// Clients exchange CBOR envelopes (see package wire) on /ws: requests are
// executed in arrival order against the session and every NCI frame read from
// the controller is broadcast to all connected clients. /nfc_irq reports the
// IRQ line level, /info the controller identity and /health the server state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/nqx/v3/nqx"
	"periph.io/x/nqx/v3/wire"
)

// mDNS service advertised when enabled.
const (
	MDNSServiceType = "_nqx._tcp"
	MDNSDomain      = "local."
)

const (
	// nciHeaderSize is the size of an NCI packet header; the last byte is the
	// payload length.
	nciHeaderSize  = 3
	maxMessageSize = 4096
	writeWait      = time.Second
	readBackoff    = 100 * time.Millisecond
	shutdownWait   = 5 * time.Second
)

// Config configures a Server.
type Config struct {
	// MDNS advertises the server with zeroconf.
	MDNS bool
	// Instance is the mDNS instance name. Defaults to the host name.
	Instance string
	// Logger defaults to the standard logger.
	Logger *log.Logger
}

// Server serves one controller session.
type Server struct {
	dev      Device
	cfg      Config
	log      *log.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*client]struct{}
	http    *http.Server
	mdns    *zeroconf.Server

	// gate hands the session from the frame reader over to requests. The
	// session serializes calls and the reader may block for a long time
	// waiting on the IRQ line, so it is cancelled while requests run.
	gate       sync.Mutex
	gateCond   *sync.Cond
	requests   int
	cancelRead context.CancelFunc

	exec sync.Mutex

	reader    sync.WaitGroup
	started   bool
	closeOnce sync.Once
	done      chan struct{}
}

// New returns a server for dev. Call Start to serve it.
func New(dev Device, cfg Config) *Server {
	l := cfg.Logger
	if l == nil {
		l = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		dev: dev,
		cfg: cfg,
		log: l,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:     ctx,
		cancel:  cancel,
		clients: map[*client]struct{}{},
		done:    make(chan struct{}),
	}
	s.gateCond = sync.NewCond(&s.gate)
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/nfc_irq", s.handleIRQ)
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start serves on ln and starts broadcasting frames.
//
// The server closes itself when the session is torn down.
func (s *Server) Start(ln net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server: already started")
	}
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return errors.New("server: closed")
	}
	s.started = true
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	hs := s.http
	s.mu.Unlock()

	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Printf("server: http: %v", err)
		}
	}()
	s.log.Printf("server: listening on %s", ln.Addr())

	if s.cfg.MDNS {
		port := 0
		if a, ok := ln.Addr().(*net.TCPAddr); ok {
			port = a.Port
		}
		if err := s.startMDNS(port); err != nil {
			s.log.Printf("server: mDNS disabled: %v", err)
		}
	}

	s.reader.Add(1)
	go s.read()
	go func() {
		select {
		case <-s.dev.Done():
			s.log.Printf("server: session torn down")
			_ = s.Close()
		case <-s.ctx.Done():
		}
	}()
	return nil
}

// Close stops the server and disconnects all clients. It does not close the
// session.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.gate.Lock()
		s.gateCond.Broadcast()
		s.gate.Unlock()

		s.mu.Lock()
		hs, mdns := s.http, s.mdns
		s.mdns = nil
		s.mu.Unlock()
		if mdns != nil {
			mdns.Shutdown()
		}
		if hs != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
			err = hs.Shutdown(ctx)
			cancel()
		}
		s.closeClients()
		s.reader.Wait()
		close(s.done)
	})
	return err
}

// Done is closed once the server is closed.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Do executes a request against the session.
//
// Failures are reported in the response as Result -1 and an errno.
func (s *Server) Do(r *wire.Request) *wire.Response {
	resp := &wire.Response{ID: r.ID}
	var res int
	var err error
	s.withSession(func() {
		switch r.Op {
		case wire.OpWrite:
			res, err = s.dev.Write(r.Data)
		case wire.OpIoctl:
			res, err = s.dev.Ioctl(nqx.Cmd(r.Cmd), r.Arg)
			if err == nil && nqx.Cmd(r.Cmd) == nqx.GetInfo {
				// Packed identity, unsigned on every target.
				resp.Result = int64(uint32(res))
				return
			}
		case wire.OpIRQ:
			var l gpio.Level
			if l, err = s.dev.IRQLevel(); err == nil && l == gpio.High {
				res = 1
			}
		case wire.OpSuspend:
			err = s.dev.Suspend()
		case wire.OpResume:
			err = s.dev.Resume()
		case wire.OpInfo:
			i := s.dev.Info()
			resp.Result = int64(i.Pack())
			resp.Data = []byte(i.String())
			return
		default:
			err = nqx.ErrInvalid
		}
		resp.Result = int64(res)
	})
	if err != nil {
		s.log.Printf("server: %s request %d: %v", r.Op, r.ID, err)
		resp.Result = -1
		resp.Errno = uint32(nqx.Errno(err))
	}
	return resp
}

// withSession runs fn with exclusive use of the session.
func (s *Server) withSession(fn func()) {
	s.gate.Lock()
	s.requests++
	if s.cancelRead != nil {
		s.cancelRead()
	}
	s.gate.Unlock()
	defer func() {
		s.gate.Lock()
		s.requests--
		s.gateCond.Broadcast()
		s.gate.Unlock()
	}()
	s.exec.Lock()
	defer s.exec.Unlock()
	fn()
}

// acquireRead waits until no request is pending and returns the context of
// the next read.
func (s *Server) acquireRead() (context.Context, bool) {
	s.gate.Lock()
	defer s.gate.Unlock()
	for s.requests > 0 && s.ctx.Err() == nil {
		s.gateCond.Wait()
	}
	if s.ctx.Err() != nil {
		return nil, false
	}
	s.exec.Lock()
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelRead = cancel
	return ctx, true
}

func (s *Server) releaseRead() {
	s.gate.Lock()
	if s.cancelRead != nil {
		s.cancelRead()
		s.cancelRead = nil
	}
	s.gate.Unlock()
	s.exec.Unlock()
}

// read broadcasts the frames read from the controller until the server or
// the session is closed.
func (s *Server) read() {
	defer s.reader.Done()
	buf := make([]byte, nqx.MaxBufferSize)
	for {
		ctx, ok := s.acquireRead()
		if !ok {
			return
		}
		n, err := s.readFrame(ctx, buf)
		s.releaseRead()
		switch {
		case err == nil:
			s.broadcast(buf[:n])
		case s.ctx.Err() != nil:
			return
		case errors.Is(err, context.Canceled), errors.Is(err, nqx.ErrInterrupted):
			// A request took over the session, or the read was interrupted.
		case errors.Is(err, nqx.ErrNoDevice):
			s.log.Printf("server: read: %v", err)
			return
		default:
			s.log.Printf("server: read: %v", err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(readBackoff):
			}
		}
	}
}

// readFrame reads one NCI packet: the header, then the payload it announces.
func (s *Server) readFrame(ctx context.Context, buf []byte) (int, error) {
	n, err := s.dev.ReadContext(ctx, buf[:nciHeaderSize])
	if err != nil {
		return 0, err
	}
	if n < nciHeaderSize {
		return n, nil
	}
	l := int(buf[2])
	if l == 0 {
		return n, nil
	}
	if nciHeaderSize+l > len(buf) {
		l = len(buf) - nciHeaderSize
	}
	// The IRQ line stays asserted until the whole packet is read; only a
	// server shutdown may abandon the payload.
	m, err := s.dev.ReadContext(s.ctx, buf[nciHeaderSize:nciHeaderSize+l])
	if err != nil {
		return 0, err
	}
	return n + m, nil
}

func (s *Server) broadcast(frame []byte) {
	b, err := wire.EncodeFrame(frame)
	if err != nil {
		s.log.Printf("server: failed to encode frame: %v", err)
		return
	}
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		if err := c.send(b); err != nil {
			s.log.Printf("server: client %s: failed to send frame: %v", c.short(), err)
			s.drop(c)
		}
	}
}

//

type client struct {
	id   string
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *client) short() string {
	return c.id[:8]
}

func (c *client) send(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *client) close() {
	c.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closed")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.wmu.Unlock()
	_ = c.conn.Close()
}

func (s *Server) add(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := s.clients
	s.clients = map[*client]struct{}{}
	s.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("server: websocket upgrade error: %v", err)
		return
	}
	c := &client{id: uuid.New().String(), conn: conn}
	if !s.add(c) {
		_ = conn.Close()
		return
	}
	s.log.Printf("server: client %s connected from %s (total: %d)", c.short(), r.RemoteAddr, s.Clients())
	defer func() {
		s.drop(c)
		s.log.Printf("server: client %s disconnected (total: %d)", c.short(), s.Clients())
	}()
	conn.SetReadLimit(maxMessageSize)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Printf("server: client %s: read error: %v", c.short(), err)
			}
			return
		}
		var resp *wire.Response
		if mt != websocket.BinaryMessage {
			resp = &wire.Response{Result: -1, Errno: uint32(unix.EINVAL)}
		} else {
			resp = s.handleMessage(msg)
		}
		b, err := wire.EncodeResponse(resp)
		if err != nil {
			s.log.Printf("server: failed to encode response: %v", err)
			return
		}
		if err := c.send(b); err != nil {
			s.log.Printf("server: client %s: failed to send response: %v", c.short(), err)
			return
		}
	}
}

// handleMessage decodes a request and executes it. Malformed messages are
// answered with EINVAL.
func (s *Server) handleMessage(msg []byte) *wire.Response {
	var e wire.Envelope
	if err := wire.Unmarshal(msg, &e); err != nil {
		s.log.Printf("server: failed to decode message: %v", err)
		return &wire.Response{Result: -1, Errno: uint32(unix.EINVAL)}
	}
	err := e.Validate()
	if err == nil && e.Kind != wire.KindRequest {
		err = fmt.Errorf("unexpected %s message", e.Kind)
	}
	if err != nil {
		resp := &wire.Response{Result: -1, Errno: uint32(unix.EINVAL)}
		if e.Request != nil {
			resp.ID = e.Request.ID
		}
		s.log.Printf("server: rejected message: %v", err)
		return resp
	}
	return s.Do(e.Request)
}

func (s *Server) handleIRQ(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	l, err := s.dev.IRQLevel()
	if err != nil {
		http.Error(w, "no such device", http.StatusServiceUnavailable)
		return
	}
	v := 0
	if l == gpio.High {
		v = 1
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "%d\n", v)
}

type infoResponse struct {
	Type       string `json:"type"`
	ROMVersion uint8  `json:"rom_version"`
	FWMajor    uint8  `json:"fw_major"`
	FWMinor    uint8  `json:"fw_minor"`
	Packed     string `json:"packed"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var i nqx.ChipInfo
	s.withSession(func() { i = s.dev.Info() })
	writeJSON(w, http.StatusOK, infoResponse{
		Type:       i.Type.String(),
		ROMVersion: i.ROMVersion,
		FWMajor:    i.FWMajor,
		FWMinor:    i.FWMinor,
		Packed:     fmt.Sprintf("0x%08X", i.Pack()),
	})
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.dev.Done():
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "removed", Clients: s.Clients()})
	default:
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Clients: s.Clients()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) startMDNS(port int) error {
	name := s.cfg.Instance
	if name == "" {
		h, err := os.Hostname()
		if err != nil || h == "" {
			h = "nqx"
		}
		name = h
	}
	txt := []string{
		"version=1",
		"path=/ws",
		"chip=" + s.dev.Info().Type.String(),
	}
	srv, err := zeroconf.Register(name, MDNSServiceType, MDNSDomain, port, txt, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.mdns = srv
	s.mu.Unlock()
	s.log.Printf("server: advertising %q as %s", name, MDNSServiceType)
	return nil
}
