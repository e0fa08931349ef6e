// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nqx

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
)

// Dev is a session with one NFC controller.
//
// All methods are safe for concurrent use.
type Dev struct {
	// Immutable after New.
	t    Transport
	opts Opts
	log  *log.Logger
	ven  gpio.PinIO
	irq  gpio.PinIO
	firm gpio.PinIO
	ese  gpio.PinIO

	// mu serializes reads, writes and control operations. It is never taken
	// by the interrupt handler.
	mu           sync.Mutex
	buf          []byte
	info         ChipInfo
	coreResetNtf bool
	venLevel     gpio.Level
	firmLevel    gpio.Level
	nfcOn        bool
	eseOn        bool

	irqMu      sync.Mutex
	irqEnabled bool
	irqCount   uint32
	irqWake    chan struct{} // closed by the handler when it masks the IRQ
	suspended  bool

	// intr carries Interrupt requests to a waiting reader.
	intr chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	watcher   sync.WaitGroup
	acquired  []gpio.PinIO
	sleep     func(time.Duration)
}

// NewI2C returns a session with the controller at addr on bus b.
func NewI2C(b i2c.Bus, addr uint16, pins Pins, opts *Opts) (*Dev, error) {
	return New(NewI2CTransport(b, addr), pins, opts)
}

// New brings up a session on t.
//
// The lines are acquired in order VEN, IRQ, firmware, eSE. VEN, firmware and
// eSE are driven low; IRQ is set as input with rising edge detection. On any
// failure the lines acquired so far are released.
func New(t Transport, pins Pins, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{
		t:     t,
		opts:  *opts,
		ven:   pins.VEN,
		irq:   pins.IRQ,
		firm:  pins.Firmware,
		ese:   pins.ESE,
		intr:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		sleep: time.Sleep,
	}
	if d.opts.BufferSize <= 0 {
		d.opts.BufferSize = MaxBufferSize
	}
	if d.opts.EdgePoll <= 0 {
		d.opts.EdgePoll = DefaultOpts.EdgePoll
	}
	if d.opts.WakeLockName == "" {
		d.opts.WakeLockName = DefaultOpts.WakeLockName
	}
	d.log = d.opts.Logger
	if d.log == nil {
		d.log = log.Default()
	}
	if err := d.acquire(); err != nil {
		return nil, err
	}
	d.buf = make([]byte, d.opts.BufferSize)
	d.info = defaultChipInfo
	if d.opts.IdentifyChip {
		if err := d.identify(); err != nil {
			d.release()
			return nil, err
		}
	}
	d.watcher.Add(1)
	go d.watch()
	d.log.Printf("nqx: %s on %s", d.info, d.t)
	return d, nil
}

func (d *Dev) String() string {
	return "nqx(" + d.t.String() + ")"
}

// Info returns the chip identity.
func (d *Dev) Info() ChipInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// SetCoreResetNtf sets the sticky core reset notification flag.
func (d *Dev) SetCoreResetNtf(v bool) {
	d.mu.Lock()
	d.coreResetNtf = v
	d.mu.Unlock()
}

// IRQLevel returns the live level of the interrupt line.
//
// It fails with ErrNoDevice once teardown began; the line is not read again.
func (d *Dev) IRQLevel() (gpio.Level, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed() {
		return gpio.Low, wrapf(ErrNoDevice, "irq level")
	}
	return d.irq.Read(), nil
}

// IRQCount returns the number of interrupts handled since the last Open.
func (d *Dev) IRQCount() uint32 {
	d.irqMu.Lock()
	defer d.irqMu.Unlock()
	return d.irqCount
}

// Done is closed when teardown starts.
func (d *Dev) Done() <-chan struct{} {
	return d.done
}

// Halt implements conn.Resource.
//
// It interrupts a blocked read, which then retries within its budget.
func (d *Dev) Halt() error {
	d.Interrupt()
	return nil
}

// Interrupt wakes a reader blocked waiting for the interrupt line, as a
// signal would. The reader consumes one retry.
func (d *Dev) Interrupt() {
	select {
	case d.intr <- struct{}{}:
	default:
	}
}

// Close tears the session down.
//
// Pending and later operations fail with ErrNoDevice. The watcher is stopped,
// the lines are released and the buffer is freed.
func (d *Dev) Close() error {
	first := false
	d.closeOnce.Do(func() {
		first = true
		close(d.done)
	})
	if !first {
		return nil
	}
	d.disableIRQ()
	_ = d.irq.Halt()
	d.watcher.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = nil
	d.release()
	d.log.Printf("nqx: %s removed", d.t)
	return nil
}

func (d *Dev) closed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// acquire configures the lines in order and remembers them for release.
func (d *Dev) acquire() error {
	if d.ven == nil || d.irq == nil {
		return wrapf(ErrInvalid, "ven and irq lines are required")
	}
	steps := []struct {
		name string
		p    gpio.PinIO
		in   bool
	}{
		{"ven", d.ven, false},
		{"irq", d.irq, true},
		{"firmware", d.firm, false},
		{"ese", d.ese, false},
	}
	for _, s := range steps {
		if s.p == nil {
			continue
		}
		var err error
		if s.in {
			err = s.p.In(gpio.PullNoChange, gpio.RisingEdge)
		} else {
			err = s.p.Out(gpio.Low)
		}
		if err != nil {
			d.release()
			// Errno reports ENODEV, not the errno of the line.
			return fmt.Errorf("nqx: %s line %s: %w: %w", s.name, s.p, ErrNoDevice, err)
		}
		d.acquired = append(d.acquired, s.p)
	}
	return nil
}

// release frees the acquired lines in reverse order.
func (d *Dev) release() {
	for i := len(d.acquired) - 1; i >= 0; i-- {
		p := d.acquired[i]
		if err := p.Halt(); err != nil {
			d.log.Printf("nqx: halt %s: %v", p, err)
		}
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				d.log.Printf("nqx: close %s: %v", p, err)
			}
		}
	}
	d.acquired = nil
}

// drive sets p to l and waits settle. VEN and firmware levels are tracked.
//
// mu must be held, or the session not yet published.
func (d *Dev) drive(p gpio.PinIO, l gpio.Level, settle time.Duration) error {
	if err := p.Out(l); err != nil {
		return wrapf(ErrIO, "%s: %v", p, err)
	}
	switch p {
	case d.ven:
		d.venLevel = l
	case d.firm:
		d.firmLevel = l
	}
	if settle > 0 {
		d.sleep(settle)
	}
	return nil
}

var _ conn.Resource = &Dev{}
