// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux

package netlink

import (
	"context"
	"errors"
)

// UeventSocket is a netlink socket subscribed to kernel uevents.
type UeventSocket struct{}

// NewUeventSocket returns an error on this OS.
func NewUeventSocket() (*UeventSocket, error) {
	return nil, errors.New("netlink: uevents are only supported on linux")
}

// Receive implements the linux API.
func (s *UeventSocket) Receive(ctx context.Context) (*Uevent, error) {
	return nil, ErrClosed
}

// Close implements the linux API.
func (s *UeventSocket) Close() error {
	return nil
}
