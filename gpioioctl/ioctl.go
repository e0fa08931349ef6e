//go:build linux

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

// Structures and requests of the GPIO character device v2 ABI.
//
// https://docs.kernel.org/userspace-api/gpio/chardev.html

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// From include/uapi/asm-generic/ioctl.h.
const (
	iocWrite = 1
	iocRead  = 2

	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | size<<iocSizeShift | gpioMagic<<iocTypeShift | nr
}

// From include/uapi/linux/gpio.h.
const (
	gpioMagic = 0xB4

	maxNameSize  = 32
	maxLineAttrs = 10
	maxLines     = 64

	flagUsed          uint64 = 1 << 0
	flagActiveLow     uint64 = 1 << 1
	flagInput         uint64 = 1 << 2
	flagOutput        uint64 = 1 << 3
	flagEdgeRising    uint64 = 1 << 4
	flagEdgeFalling   uint64 = 1 << 5
	flagOpenDrain     uint64 = 1 << 6
	flagOpenSource    uint64 = 1 << 7
	flagBiasPullUp    uint64 = 1 << 8
	flagBiasPullDown  uint64 = 1 << 9
	flagBiasDisabled  uint64 = 1 << 10
	flagEventRealtime uint64 = 1 << 11

	eventRisingEdge  uint32 = 1
	eventFallingEdge uint32 = 2

	attrFlags        uint32 = 1
	attrOutputValues uint32 = 2
	attrDebounce     uint32 = 3
)

type chipInfo struct {
	name  [maxNameSize]byte
	label [maxNameSize]byte
	lines uint32
}

type lineAttribute struct {
	id      uint32
	padding uint32
	// Union of flags, values and debounce period, selected by id.
	value uint64
}

type lineConfigAttribute struct {
	attr lineAttribute
	mask uint64
}

type lineConfig struct {
	flags    uint64
	numAttrs uint32
	padding  [5]uint32
	attrs    [maxLineAttrs]lineConfigAttribute
}

// setOutput adds the initial output value so the line never glitches when
// it switches to output.
func (c *lineConfig) setOutput(high bool) {
	a := &c.attrs[c.numAttrs]
	a.attr.id = attrOutputValues
	a.mask = 1
	if high {
		a.attr.value = 1
	}
	c.numAttrs++
}

type lineRequest struct {
	offsets         [maxLines]uint32
	consumer        [maxNameSize]byte
	config          lineConfig
	numLines        uint32
	eventBufferSize uint32
	padding         [5]uint32
	fd              int32
}

type lineValues struct {
	bits uint64
	mask uint64
}

type lineInfo struct {
	name     [maxNameSize]byte
	consumer [maxNameSize]byte
	offset   uint32
	numAttrs uint32
	flags    uint64
	attrs    [maxLineAttrs]lineAttribute
	padding  [4]uint32
}

type lineEvent struct {
	timestampNs uint64
	id          uint32
	offset      uint32
	seqno       uint32
	lineSeqno   uint32
	padding     [6]uint32
}

const lineEventSize = int(unsafe.Sizeof(lineEvent{}))

var (
	reqChipInfo   = ioc(iocRead, 0x01, unsafe.Sizeof(chipInfo{}))
	reqLineInfo   = ioc(iocRead|iocWrite, 0x05, unsafe.Sizeof(lineInfo{}))
	reqLine       = ioc(iocRead|iocWrite, 0x07, unsafe.Sizeof(lineRequest{}))
	reqLineConfig = ioc(iocRead|iocWrite, 0x0D, unsafe.Sizeof(lineConfig{}))
	reqGetValues  = ioc(iocRead|iocWrite, 0x0E, unsafe.Sizeof(lineValues{}))
	reqSetValues  = ioc(iocRead|iocWrite, 0x0F, unsafe.Sizeof(lineValues{}))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	if _, _, ep := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg)); ep != 0 {
		return ep
	}
	return nil
}

// cString returns the NUL terminated string in b.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
