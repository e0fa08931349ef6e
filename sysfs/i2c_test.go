//go:build linux

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sysfs

import (
	"bytes"
	"errors"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

func TestI2C_Tx(t *testing.T) {
	f := &fakeIoctl{reply: []byte{0x40, 0x00, 0x03}}
	b := &I2C{f: f, busNumber: 1}
	var r [3]byte
	if err := b.Tx(0x28, []byte{0x20, 0x00, 0x01, 0x00}, r[:]); err != nil {
		t.Fatal(err)
	}
	if len(f.msgs) != 2 {
		t.Fatalf("msgs = %+v", f.msgs)
	}
	if m := f.msgs[0]; m.addr != 0x28 || m.flags != 0 || m.length != 4 {
		t.Fatalf("write msg = %+v", m)
	}
	if m := f.msgs[1]; m.addr != 0x28 || m.flags != flagRD || m.length != 3 {
		t.Fatalf("read msg = %+v", m)
	}
	if !bytes.Equal(f.written, []byte{0x20, 0x00, 0x01, 0x00}) {
		t.Fatalf("written %x", f.written)
	}
	if r != [3]byte{0x40, 0x00, 0x03} {
		t.Fatalf("read %x", r)
	}
	if s := b.String(); s != "I2C1" {
		t.Fatal(s)
	}
}

func TestI2C_ReadOnly(t *testing.T) {
	f := &fakeIoctl{reply: []byte{0x60}}
	b := &I2C{f: f}
	var r [1]byte
	if err := b.Tx(0x28, nil, r[:]); err != nil {
		t.Fatal(err)
	}
	if len(f.msgs) != 1 || f.msgs[0].flags != flagRD || r[0] != 0x60 {
		t.Fatalf("msgs = %+v, read %x", f.msgs, r)
	}
	if err := b.Tx(0x28, nil, nil); err != nil || len(f.ops) != 1 {
		t.Fatalf("empty Tx() = %v, ops %v", err, f.ops)
	}
}

func TestI2C_Errors(t *testing.T) {
	f := &fakeIoctl{err: unix.EREMOTEIO}
	b := &I2C{f: f}
	if err := b.Tx(0x28, []byte{1}, nil); !errors.Is(err, unix.EREMOTEIO) {
		t.Fatalf("Tx() = %v", err)
	}
	if err := b.SetSpeed(0); err == nil {
		t.Fatal("SetSpeed() must fail")
	}
	if err := b.Close(); err != nil || !f.closed {
		t.Fatalf("Close() = %v", err)
	}
	if err := b.Tx(0x28, []byte{1}, nil); err == nil {
		t.Fatal("Tx() on a closed bus")
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestI2C_MsgLayout(t *testing.T) {
	if s := unsafe.Sizeof(i2cMsg{}); s != 8+unsafe.Sizeof(unsafe.Pointer(nil)) {
		t.Fatalf("sizeof(i2c_msg) = %d", s)
	}
}

//

type fakeIoctl struct {
	ops     []uint
	msgs    []i2cMsg
	written []byte
	reply   []byte
	err     error
	closed  bool
}

func (f *fakeIoctl) Ioctl(op uint, data unsafe.Pointer) error {
	f.ops = append(f.ops, op)
	if f.err != nil {
		return f.err
	}
	if op != ioctlRdwr {
		return nil
	}
	p := (*rdwrIoctlData)(data)
	msgs := unsafe.Slice((*i2cMsg)(p.msgs), p.nmsgs)
	for _, m := range msgs {
		f.msgs = append(f.msgs, m)
		buf := unsafe.Slice((*byte)(m.buf), m.length)
		if m.flags&flagRD != 0 {
			copy(buf, f.reply)
		} else {
			f.written = append(f.written, buf...)
		}
	}
	return nil
}

func (f *fakeIoctl) Close() error {
	f.closed = true
	return nil
}
