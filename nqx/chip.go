// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nqx

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// ChipType is the controller family reported by CORE_INIT.
type ChipType uint8

// Known controller families.
const (
	NQ210 ChipType = 0x48
	NQ220 ChipType = 0x58
	NQ310 ChipType = 0x40
	NQ330 ChipType = 0x51
	PN66T ChipType = 0x18
)

func (c ChipType) String() string {
	switch c {
	case NQ210:
		return "NQ210"
	case NQ220:
		return "NQ220"
	case NQ310:
		return "NQ310"
	case NQ330:
		return "NQ330"
	case PN66T:
		return "PN66T"
	default:
		return fmt.Sprintf("ChipType(0x%02X)", uint8(c))
	}
}

// ChipInfo identifies the controller. It is immutable once New returned.
type ChipInfo struct {
	Type       ChipType
	ROMVersion uint8
	FWMajor    uint8
	FWMinor    uint8
}

// Pack returns the identity in the layout returned by the GET_INFO command:
// type in the low byte, then ROM version, firmware major and minor.
func (c ChipInfo) Pack() uint32 {
	return uint32(c.Type) | uint32(c.ROMVersion)<<8 | uint32(c.FWMajor)<<16 | uint32(c.FWMinor)<<24
}

func (c ChipInfo) String() string {
	return fmt.Sprintf("%s rom 0x%02X fw %d.0x%02X", c.Type, c.ROMVersion, c.FWMajor, c.FWMinor)
}

// defaultChipInfo is reported when the controller is not identified.
var defaultChipInfo = ChipInfo{Type: NQ210, ROMVersion: 0x10, FWMajor: 0x01, FWMinor: 0x22}

// NCI control packets used by the chip identification.
var (
	nciCoreReset = []byte{0x20, 0x00, 0x01, 0x00}
	nciCoreInit  = []byte{0x20, 0x01, 0x00}
)

const (
	nciHeaderLen    = 3
	coreResetRspLen = 6
	coreInitRspLen  = 28
	nciResponseWait = 30 * time.Millisecond
)

// identify power cycles the controller and reads its identity with CORE_RESET
// and CORE_INIT. It leaves VEN low.
//
// Called from New, before the watcher starts, so no lock is needed.
func (d *Dev) identify() error {
	if err := d.drive(d.ven, gpio.Low, d.opts.DownloadSettle); err != nil {
		return err
	}
	if err := d.drive(d.ven, gpio.High, d.opts.DownloadSettle); err != nil {
		return err
	}
	defer func() {
		_ = d.ven.Out(gpio.Low)
		d.venLevel = gpio.Low
	}()

	var rsp [coreInitRspLen]byte
	if n, err := d.t.Send(nciCoreReset); err != nil || n != len(nciCoreReset) {
		return wrapf(ErrNoController, "CORE_RESET not acked (%d, %v)", n, err)
	}
	d.sleep(nciResponseWait)
	if _, err := d.t.Recv(rsp[:coreResetRspLen]); err != nil {
		return wrapf(ErrNoController, "CORE_RESET response: %v", err)
	}
	// NCI 2.0 controllers answer with CORE_RESET_NTF instead of a response.
	if rsp[0] == 0x60 && rsp[1] == 0x00 {
		d.coreResetNtf = true
	}

	clear(rsp[:])
	if n, err := d.t.Send(nciCoreInit); err != nil || n != len(nciCoreInit) {
		return wrapf(ErrNoController, "CORE_INIT not acked (%d, %v)", n, err)
	}
	d.sleep(nciResponseWait)
	if _, err := d.t.Recv(rsp[:]); err != nil {
		return wrapf(ErrNoController, "CORE_INIT response: %v", err)
	}
	info, err := parseCoreInit(rsp[:])
	if err != nil {
		return err
	}
	d.info = info
	return nil
}

// parseCoreInit extracts the identity from the last four payload bytes of a
// CORE_INIT response.
func parseCoreInit(rsp []byte) (ChipInfo, error) {
	if len(rsp) < nciHeaderLen {
		return ChipInfo{}, wrapf(ErrNoController, "short CORE_INIT response")
	}
	end := nciHeaderLen + int(rsp[2])
	if end > len(rsp) || end < nciHeaderLen+4 {
		return ChipInfo{}, wrapf(ErrNoController, "CORE_INIT payload length %d", rsp[2])
	}
	return ChipInfo{
		Type:       ChipType(rsp[end-4]),
		ROMVersion: rsp[end-3],
		FWMajor:    rsp[end-2],
		FWMinor:    rsp[end-1],
	}, nil
}
