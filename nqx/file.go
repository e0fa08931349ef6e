// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nqx

import (
	"context"
	"io"

	"periph.io/x/conn/v3/gpio"
)

// Flag changes the behavior of a File.
type Flag int

const (
	// ONonBlock makes Read fail with ErrWouldBlock instead of waiting.
	ONonBlock Flag = 1 << iota
)

// File is an open handle on the session, the equivalent of the character
// device file.
type File struct {
	d        *Dev
	nonBlock bool
}

// Open returns a handle on the session and resets the interrupt counter.
func (d *Dev) Open(flags Flag) (*File, error) {
	if d.closed() {
		return nil, wrapf(ErrNoDevice, "open")
	}
	d.irqMu.Lock()
	d.irqCount = 0
	d.irqMu.Unlock()
	return &File{d: d, nonBlock: flags&ONonBlock != 0}, nil
}

// Dev returns the session backing the file.
func (f *File) Dev() *Dev {
	return f.d
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	return f.ReadContext(context.Background(), p)
}

// ReadContext receives one frame from the controller into p.
//
// It waits for the interrupt line unless the file is non-blocking. len(p) is
// clamped to the buffer capacity. On error no data is copied to p.
func (f *File) ReadContext(ctx context.Context, p []byte) (int, error) {
	d := f.d
	if d.closed() {
		return 0, wrapf(ErrNoDevice, "read")
	}
	d.mu.Lock()
	n, err := d.readLocked(ctx, p, f.nonBlock)
	d.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if d.opts.TransferSettle > 0 {
		d.sleep(d.opts.TransferSettle)
	}
	return n, nil
}

func (d *Dev) readLocked(ctx context.Context, p []byte, nonBlock bool) (int, error) {
	if d.buf == nil {
		return 0, wrapf(ErrNoDevice, "read")
	}
	count := len(p)
	if count > len(d.buf) {
		count = len(d.buf)
	}
	if d.irq.Read() != gpio.High {
		if nonBlock {
			return 0, wrapf(ErrWouldBlock, "read")
		}
		if err := d.waitIRQ(ctx); err != nil {
			return 0, err
		}
	}
	if d.buf == nil {
		return 0, wrapf(ErrNoDevice, "read")
	}
	buf := d.buf[:count]
	clear(buf)
	n, err := d.t.Recv(buf)
	if err != nil {
		return 0, wrapf(ErrIO, "recv %d bytes: %v", count, err)
	}
	if n < 0 || n > count {
		return 0, wrapf(ErrIO, "recv returned %d for %d bytes", n, count)
	}
	return copy(p, buf[:n]), nil
}

// Write implements io.Writer.
//
// The frame is sent in one transfer. A frame larger than the buffer is
// rejected with ErrTooLarge.
func (f *File) Write(p []byte) (int, error) {
	d := f.d
	if d.closed() {
		return 0, wrapf(ErrNoDevice, "write")
	}
	if len(p) > d.opts.BufferSize {
		return 0, wrapf(ErrTooLarge, "write %d bytes, max %d", len(p), d.opts.BufferSize)
	}
	d.mu.Lock()
	if d.buf == nil {
		d.mu.Unlock()
		return 0, wrapf(ErrNoDevice, "write")
	}
	n, err := d.t.Send(p)
	d.mu.Unlock()
	if err != nil {
		return 0, wrapf(ErrIO, "send %d bytes: %v", len(p), err)
	}
	if n != len(p) {
		return 0, wrapf(ErrIO, "sent %d of %d bytes", n, len(p))
	}
	if d.opts.TransferSettle > 0 {
		d.sleep(d.opts.TransferSettle)
	}
	return n, nil
}

// Ioctl runs a control command on the session. See Dev.Ioctl.
func (f *File) Ioctl(cmd Cmd, arg uint32) (int, error) {
	return f.d.Ioctl(cmd, arg)
}

// Close releases the handle. The session stays up.
func (f *File) Close() error {
	return nil
}

var _ io.ReadWriteCloser = &File{}
