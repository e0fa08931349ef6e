// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nqx

import (
	"log"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// MaxBufferSize is the default capacity of the receive buffer and the
// largest frame Write accepts.
const MaxBufferSize = 320

// DefaultAddr is the 7 bits I²C address of the NQx family.
const DefaultAddr = 0x28

// Timings from the NQx driver.
const (
	maxReadRetries  = 5
	wakeupEventTime = 2000 * time.Millisecond
	wakeLockTime    = time.Second
)

// Pins are the control lines of the controller.
//
// VEN and IRQ are required; Firmware and ESE are left nil when not wired.
type Pins struct {
	VEN      gpio.PinIO
	IRQ      gpio.PinIO
	Firmware gpio.PinIO
	ESE      gpio.PinIO
}

// PinsByName resolves the lines in gpioreg.
//
// An empty firmware or ese name leaves the line unset.
func PinsByName(ven, irq, firmware, ese string) (Pins, error) {
	var p Pins
	var err error
	if p.VEN, err = byName("ven", ven, true); err != nil {
		return p, err
	}
	if p.IRQ, err = byName("irq", irq, true); err != nil {
		return p, err
	}
	if p.Firmware, err = byName("firmware", firmware, false); err != nil {
		return p, err
	}
	if p.ESE, err = byName("ese", ese, false); err != nil {
		return p, err
	}
	return p, nil
}

func byName(role, name string, required bool) (gpio.PinIO, error) {
	if name == "" {
		if required {
			return nil, wrapf(ErrInvalid, "%s line is not configured", role)
		}
		return nil, nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, wrapf(ErrNoDevice, "%s line %q not found", role, name)
	}
	return p, nil
}

// WakeLocker holds the host awake for a bounded time.
type WakeLocker interface {
	WakeLock(name string, timeout time.Duration) error
}

// WakeSource arms or disarms the interrupt as a wake source for the host.
type WakeSource interface {
	SetWake(enable bool) error
}

// Opts is the configuration of a session.
type Opts struct {
	// BufferSize is the receive buffer capacity. Defaults to MaxBufferSize.
	BufferSize int
	// IdentifyChip reads the chip identity with CORE_RESET and CORE_INIT
	// during New. When false, a NQ210 identity is reported.
	IdentifyChip bool
	// MayWakeup marks the device as a wakeup capable device. When set, every
	// interrupt reports a wakeup event through WakeLock.
	MayWakeup bool
	// WakeLock receives wakeup events and the suspended wake lock. Optional.
	WakeLock WakeLocker
	// WakeLockName names the wake lock taken while suspended.
	WakeLockName string
	// WakeSource is armed by Suspend. Optional.
	WakeSource WakeSource
	// EdgePoll bounds each WaitForEdge call of the interrupt watcher, which
	// checks for teardown in between.
	EdgePoll time.Duration

	// Settle delays.
	PowerSettle    time.Duration // after SET_PWR 0 and 1
	DownloadSettle time.Duration // between firmware download transitions
	TransferSettle time.Duration // after each read and write
	ESESettle      time.Duration // between VEN and eSE transitions

	// Logger defaults to log.Default().
	Logger *log.Logger
}

// DefaultOpts is the recommended configuration.
var DefaultOpts = Opts{
	BufferSize:     MaxBufferSize,
	WakeLockName:   "nfcc_irq_wakelock",
	EdgePoll:       100 * time.Millisecond,
	PowerSettle:    100 * time.Millisecond,
	DownloadSettle: 10 * time.Millisecond,
	TransferSettle: time.Millisecond,
	ESESettle:      time.Millisecond,
}
