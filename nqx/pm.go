// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nqx

import (
	"periph.io/x/conn/v3/gpio"
)

// Suspend prepares the session for host sleep.
//
// It fails with ErrBusy while the interrupt line is asserted, since the
// pending frame would be slept through. When VEN is high the interrupt is
// armed as a wake source.
func (d *Dev) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed() {
		return wrapf(ErrNoDevice, "suspend")
	}
	if d.irq.Read() == gpio.High {
		return wrapf(ErrBusy, "suspend: frame pending")
	}
	if d.venLevel != gpio.High {
		return nil
	}
	if d.opts.WakeSource != nil {
		if err := d.opts.WakeSource.SetWake(true); err != nil {
			return wrapf(ErrIO, "suspend: arm wake source: %v", err)
		}
	}
	d.irqMu.Lock()
	d.suspended = true
	d.irqMu.Unlock()
	return nil
}

// Resume undoes Suspend.
func (d *Dev) Resume() error {
	if d.closed() {
		return wrapf(ErrNoDevice, "resume")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.venLevel != gpio.High {
		return nil
	}
	if d.opts.WakeSource != nil {
		if err := d.opts.WakeSource.SetWake(false); err != nil {
			return wrapf(ErrIO, "resume: disarm wake source: %v", err)
		}
	}
	d.irqMu.Lock()
	d.suspended = false
	d.irqMu.Unlock()
	return nil
}

// Suspended reports whether the session is suspended.
func (d *Dev) Suspended() bool {
	d.irqMu.Lock()
	defer d.irqMu.Unlock()
	return d.suspended
}
