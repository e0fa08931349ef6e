// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package server

import (
	"context"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/nqx/v3/nqx"
)

// Device is the controller session served.
type Device interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
	Write(p []byte) (int, error)
	Ioctl(cmd nqx.Cmd, arg uint32) (int, error)
	IRQLevel() (gpio.Level, error)
	Suspend() error
	Resume() error
	Info() nqx.ChipInfo
	// Done is closed when the session is torn down.
	Done() <-chan struct{}
}

// Session returns the Device view of an open file.
func Session(f *nqx.File) Device {
	return &session{File: f, d: f.Dev()}
}

type session struct {
	*nqx.File
	d *nqx.Dev
}

func (s *session) IRQLevel() (gpio.Level, error) {
	return s.d.IRQLevel()
}

func (s *session) Suspend() error {
	return s.d.Suspend()
}

func (s *session) Resume() error {
	return s.d.Resume()
}

func (s *session) Info() nqx.ChipInfo {
	return s.d.Info()
}

func (s *session) Done() <-chan struct{} {
	return s.d.Done()
}
