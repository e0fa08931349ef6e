// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package netlink

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUeventSocket_Cancel(t *testing.T) {
	s, err := NewUeventSocket()
	if err != nil {
		t.Skip(err)
	}
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for {
		// Events from unrelated devices may arrive; drain them.
		if _, err = s.Receive(ctx); err != nil {
			break
		}
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Receive() = %v", err)
	}
}

func TestUeventSocket_Close(t *testing.T) {
	s, err := NewUeventSocket()
	if err != nil {
		t.Skip(err)
	}
	done := make(chan error)
	go func() {
		for {
			if _, err := s.Receive(context.Background()); err != nil {
				done <- err
				return
			}
		}
	}()
	time.Sleep(10 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Receive() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not return")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}
