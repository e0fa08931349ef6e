// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nqx

import "fmt"

// Cmd is a control opcode, encoded like the character device ioctl numbers
// so a bridge can pass them through unchanged.
type Cmd uint32

// From asm-generic/ioctl.h.
const (
	iocWrite = 1
	iocRead  = 2

	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	nfcMagic = 0xE9
	sizeUint = 4
)

// Control opcodes. Every argument is an unsigned int.
const (
	// SetPower selects the power state: 0 off, 1 on, 2 firmware download.
	SetPower Cmd = iocWrite<<iocDirShift | sizeUint<<iocSizeShift | nfcMagic<<iocTypeShift | 0x01
	// ESESetPower drives the secure element: 0 acquire, 1 release, 3 query.
	ESESetPower Cmd = iocWrite<<iocDirShift | sizeUint<<iocSizeShift | nfcMagic<<iocTypeShift | 0x02
	// ESEGetPower returns 1 while the secure element holds power.
	ESEGetPower Cmd = iocRead<<iocDirShift | sizeUint<<iocSizeShift | nfcMagic<<iocTypeShift | 0x03
	// SetRxBlock is accepted for compatibility and does nothing.
	SetRxBlock Cmd = iocWrite<<iocDirShift | sizeUint<<iocSizeShift | nfcMagic<<iocTypeShift | 0x04
	// SetEmulatorTestPoint is accepted for compatibility and does nothing.
	SetEmulatorTestPoint Cmd = iocWrite<<iocDirShift | sizeUint<<iocSizeShift | nfcMagic<<iocTypeShift | 0x05
	// GetInfo returns ChipInfo.Pack(). Convert the result with uint32(); it
	// is negative where int is 32 bits and the firmware minor is 0x80 or more.
	GetInfo Cmd = iocWrite<<iocDirShift | sizeUint<<iocSizeShift | nfcMagic<<iocTypeShift | 0x09
	// GetCoreResetNtf returns the sticky core reset notification flag.
	GetCoreResetNtf Cmd = iocWrite<<iocDirShift | sizeUint<<iocSizeShift | nfcMagic<<iocTypeShift | 0x10
)

func (c Cmd) String() string {
	switch c {
	case SetPower:
		return "SET_PWR"
	case ESESetPower:
		return "ESE_SET_PWR"
	case ESEGetPower:
		return "ESE_GET_PWR"
	case SetRxBlock:
		return "SET_RX_BLOCK"
	case SetEmulatorTestPoint:
		return "SET_EMULATOR_TEST_POINT"
	case GetInfo:
		return "NFCC_GET_INFO"
	case GetCoreResetNtf:
		return "NFCC_INITIAL_CORE_RESET_NTF"
	default:
		return fmt.Sprintf("Cmd(0x%08X)", uint32(c))
	}
}

// PowerState is the argument of SetPower.
type PowerState uint32

// Power states.
const (
	PowerOff      PowerState = 0
	PowerOn       PowerState = 1
	PowerDownload PowerState = 2
)

func (p PowerState) String() string {
	switch p {
	case PowerOff:
		return "off"
	case PowerOn:
		return "on"
	case PowerDownload:
		return "download"
	default:
		return fmt.Sprintf("PowerState(%d)", uint32(p))
	}
}

// Secure element commands, the argument of ESESetPower.
const (
	ESEAcquire uint32 = 0
	ESERelease uint32 = 1
	ESEQuery   uint32 = 3
)

// Ioctl dispatches a control command and returns its result.
//
// The GetInfo result carries a uint32 bit pattern in an int.
func (d *Dev) Ioctl(cmd Cmd, arg uint32) (int, error) {
	if d.closed() {
		return 0, wrapf(ErrNoDevice, "%s", cmd)
	}
	switch cmd {
	case SetPower:
		return 0, d.SetPower(PowerState(arg))
	case ESESetPower:
		return d.ESEPower(arg)
	case ESEGetPower:
		return d.ESEPower(ESEQuery)
	case SetRxBlock, SetEmulatorTestPoint:
		return 0, nil
	case GetInfo:
		return int(d.Info().Pack()), nil
	case GetCoreResetNtf:
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.coreResetNtf {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, wrapf(ErrNoIoctl, "%s", cmd)
	}
}
