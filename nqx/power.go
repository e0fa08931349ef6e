// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nqx

import (
	"periph.io/x/conn/v3/gpio"
)

// SetPower changes the controller power state.
//
// PowerOff and PowerOn clear the firmware line. PowerDownload pulses VEN with
// the firmware line high so the controller boots in download mode; it
// unmasks the interrupt first so the controller can signal while no reader
// is waiting.
//
// VEN stays high after PowerOff while the secure element holds power.
func (d *Dev) SetPower(s PowerState) error {
	if d.closed() {
		return wrapf(ErrNoDevice, "power %s", s)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch s {
	case PowerOff:
		if err := d.firmwareLow(); err != nil {
			return err
		}
		d.nfcOn = false
		if !d.eseOn {
			if err := d.drive(d.ven, gpio.Low, 0); err != nil {
				return err
			}
		}
		d.sleep(d.opts.PowerSettle)
	case PowerOn:
		if err := d.firmwareLow(); err != nil {
			return err
		}
		d.nfcOn = true
		if err := d.drive(d.ven, gpio.High, 0); err != nil {
			return err
		}
		d.sleep(d.opts.PowerSettle)
	case PowerDownload:
		if d.irqMasked() {
			d.enableIRQ()
		}
		d.nfcOn = true
		settle := d.opts.DownloadSettle
		if err := d.drive(d.ven, gpio.High, settle); err != nil {
			return err
		}
		if d.firm != nil {
			if err := d.drive(d.firm, gpio.High, settle); err != nil {
				return err
			}
		}
		if err := d.drive(d.ven, gpio.Low, settle); err != nil {
			return err
		}
		if err := d.drive(d.ven, gpio.High, settle); err != nil {
			return err
		}
	default:
		return wrapf(ErrInvalid, "power %s", s)
	}
	d.log.Printf("nqx: power %s", s)
	return nil
}

func (d *Dev) firmwareLow() error {
	if d.firm == nil {
		return nil
	}
	return d.drive(d.firm, gpio.Low, 0)
}

// ESEPower runs a secure element power command: ESEAcquire, ESERelease or
// ESEQuery.
//
// The secure element shares VEN with the controller. Acquire raises VEN only
// when the controller doesn't already hold it, and release lowers it only in
// that case, so the two power domains never turn each other off.
//
// Query returns 1 while the secure element holds power, 0 otherwise.
func (d *Dev) ESEPower(arg uint32) (int, error) {
	if d.closed() {
		return 0, wrapf(ErrNoDevice, "ese power")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if arg == ESEQuery {
		if d.eseOn {
			return 1, nil
		}
		return 0, nil
	}
	if d.ese == nil {
		return 0, wrapf(ErrNotPermitted, "ese power %d: no ese line", arg)
	}
	switch arg {
	case ESEAcquire:
		if d.eseOn {
			return 0, nil
		}
		if !d.nfcOn {
			if err := d.drive(d.ven, gpio.High, d.opts.ESESettle); err != nil {
				return 0, err
			}
		}
		if err := d.drive(d.ese, gpio.High, 0); err != nil {
			return 0, err
		}
		d.eseOn = true
	case ESERelease:
		if !d.eseOn {
			return 0, nil
		}
		if err := d.drive(d.ese, gpio.Low, 0); err != nil {
			return 0, err
		}
		d.eseOn = false
		if !d.nfcOn {
			d.sleep(d.opts.ESESettle)
			if err := d.drive(d.ven, gpio.Low, 0); err != nil {
				return 0, err
			}
		}
	default:
		return 0, wrapf(ErrInvalid, "ese power %d", arg)
	}
	return 0, nil
}
