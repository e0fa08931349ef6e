// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"periph.io/x/nqx/v3/wire"
)

var errClosed = errors.New("connection closed")

// client multiplexes requests and frames on one WebSocket connection.
type client struct {
	conn    *websocket.Conn
	onFrame func(b []byte)

	wmu sync.Mutex

	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]chan *wire.Response
	err     error

	done chan struct{}
}

func dial(ctx context.Context, url string, onFrame func(b []byte)) (*client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &client{
		conn:    conn,
		onFrame: onFrame,
		pending: map[uint32]chan *wire.Response{},
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *client) readLoop() {
	defer close(c.done)
	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		e, err := wire.Decode(b)
		if err != nil {
			continue
		}
		switch e.Kind {
		case wire.KindFrame:
			if c.onFrame != nil {
				c.onFrame(e.Frame.Data)
			}
		case wire.KindResponse:
			c.mu.Lock()
			ch := c.pending[e.Response.ID]
			delete(c.pending, e.Response.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- e.Response
			}
		}
	}
}

func (c *client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// do sends r with a fresh ID and waits for its response.
func (c *client) do(ctx context.Context, r *wire.Request) (*wire.Response, error) {
	ch := make(chan *wire.Response, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", errClosed, c.err)
	}
	c.nextID++
	if c.nextID == 0 {
		c.nextID++
	}
	r.ID = c.nextID
	c.pending[r.ID] = ch
	c.mu.Unlock()

	b, err := wire.EncodeRequest(r)
	if err != nil {
		c.forget(r.ID)
		return nil, err
	}
	c.wmu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	err = c.conn.WriteMessage(websocket.BinaryMessage, b)
	c.wmu.Unlock()
	if err != nil {
		c.forget(r.ID)
		return nil, err
	}
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errClosed
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(r.ID)
		return nil, ctx.Err()
	}
}

func (c *client) forget(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *client) Close() error {
	c.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.wmu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}
