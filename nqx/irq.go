// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nqx

import (
	"context"

	"periph.io/x/conn/v3/gpio"
)

// watch delivers interrupt line edges to handleIRQ until teardown.
//
// Each wait is bounded by EdgePoll so teardown is noticed even when the line
// driver cannot interrupt WaitForEdge.
func (d *Dev) watch() {
	defer d.watcher.Done()
	for !d.closed() {
		if d.irq.WaitForEdge(d.opts.EdgePoll) {
			d.handleIRQ()
		}
	}
}

// handleIRQ is the interrupt handler.
//
// It runs in the watcher goroutine and only takes irqMu. An edge while the
// interrupt is masked is dropped, as a disabled interrupt would be; the read
// path checks the line level before waiting so no data is lost.
func (d *Dev) handleIRQ() {
	d.irqMu.Lock()
	if !d.irqEnabled {
		d.irqMu.Unlock()
		return
	}
	d.maskLocked()
	d.irqCount++
	suspended := d.suspended
	d.irqMu.Unlock()

	if d.opts.WakeLock == nil {
		return
	}
	if d.opts.MayWakeup {
		if err := d.opts.WakeLock.WakeLock(d.opts.WakeLockName+"_wakeup", wakeupEventTime); err != nil {
			d.log.Printf("nqx: wakeup event: %v", err)
		}
	}
	if suspended {
		if err := d.opts.WakeLock.WakeLock(d.opts.WakeLockName, wakeLockTime); err != nil {
			d.log.Printf("nqx: wake lock: %v", err)
		}
	}
}

// maskLocked disables the interrupt and wakes the waiter. It is idempotent.
//
// irqMu must be held.
func (d *Dev) maskLocked() {
	if !d.irqEnabled {
		return
	}
	d.irqEnabled = false
	if d.irqWake != nil {
		close(d.irqWake)
		d.irqWake = nil
	}
}

// disableIRQ masks the interrupt if it is enabled.
func (d *Dev) disableIRQ() {
	d.irqMu.Lock()
	d.maskLocked()
	d.irqMu.Unlock()
}

// enableIRQ unmasks the interrupt and returns the channel closed on the next
// interrupt. The line is level triggered: if it is already asserted the
// interrupt is delivered immediately.
func (d *Dev) enableIRQ() <-chan struct{} {
	d.irqMu.Lock()
	var wake chan struct{}
	if d.irqEnabled {
		wake = d.irqWake
	} else {
		wake = make(chan struct{})
		d.irqWake = wake
		d.irqEnabled = true
	}
	d.irqMu.Unlock()
	if d.irq.Read() == gpio.High {
		d.handleIRQ()
	}
	return wake
}

func (d *Dev) irqMasked() bool {
	d.irqMu.Lock()
	defer d.irqMu.Unlock()
	return !d.irqEnabled
}

// waitIRQ blocks until the interrupt line is asserted.
//
// Every interrupted wait consumes one of maxReadRetries retries; a wake with
// the line low re-waits without consuming one. Cancelling ctx returns
// immediately.
//
// mu must be held.
func (d *Dev) waitIRQ(ctx context.Context) error {
	// Drop a stale Interrupt sent while nobody was waiting.
	select {
	case <-d.intr:
	default:
	}
	retries := maxReadRetries
	for {
		wake := d.enableIRQ()
		interrupted := false
		select {
		case <-wake:
		case <-d.intr:
			interrupted = true
		case <-ctx.Done():
			d.disableIRQ()
			return ctx.Err()
		case <-d.done:
			d.disableIRQ()
			return wrapf(ErrNoDevice, "read")
		}
		d.disableIRQ()
		if interrupted {
			if retries == 0 {
				return wrapf(ErrInterrupted, "read: %d interrupted waits", maxReadRetries+1)
			}
			retries--
			continue
		}
		if d.irq.Read() == gpio.High {
			return nil
		}
		d.log.Printf("nqx: spurious interrupt, line is low")
	}
}
