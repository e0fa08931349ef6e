// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// pollInterval is the pace at which input pins with edge detection are
// sampled. A D bus read is a USB round trip of around 250µs.
var pollInterval = 2 * time.Millisecond

// gpiosMPSSE is a group of 8 GPIO pins driven via MPSSE.
//
// The direction and value are cached since they cannot be read back.
type gpiosMPSSE struct {
	// Immutable.
	h    *handle
	mu   *sync.Mutex // Shared with the I²C bus of the same device.
	cbus bool        // false if D bus
	pins [8]gpioMPSSE

	// Mutable, guarded by mu.
	direction byte
	value     byte
}

func (g *gpiosMPSSE) init(name string, mu *sync.Mutex) {
	g.mu = mu
	s := "D"
	if g.cbus {
		s = "C"
	}
	// Pull ups are 75kΩ; see AN_184.
	for i := range g.pins {
		g.pins[i].a = g
		g.pins[i].n = name + "." + s + strconv.Itoa(i)
		g.pins[i].num = i
		g.pins[i].dp = gpio.PullUp
		g.pins[i].halt = make(chan struct{}, 1)
	}
	if g.cbus {
		// Default EEPROM value.
		g.pins[7].dp = gpio.PullDown
	}
}

func (g *gpiosMPSSE) inLocked(n int) error {
	if g.h == nil {
		return errors.New("ftdi: device not open")
	}
	g.direction &^= 1 << uint(n)
	return g.writeLocked()
}

func (g *gpiosMPSSE) outLocked(n int, l gpio.Level) error {
	if g.h == nil {
		return errors.New("ftdi: device not open")
	}
	g.direction |= 1 << uint(n)
	if l {
		g.value |= 1 << uint(n)
	} else {
		g.value &^= 1 << uint(n)
	}
	return g.writeLocked()
}

func (g *gpiosMPSSE) writeLocked() error {
	if g.cbus {
		return g.h.MPSSECBus(g.direction, g.value)
	}
	return g.h.MPSSEDBus(g.direction, g.value)
}

// readLocked samples the bus. Output bits keep their cached value.
func (g *gpiosMPSSE) readLocked() (byte, error) {
	if g.h == nil {
		return 0, errors.New("ftdi: device not open")
	}
	var v byte
	var err error
	if g.cbus {
		v, err = g.h.MPSSECBusRead()
	} else {
		v, err = g.h.MPSSEDBusRead()
	}
	if err != nil {
		return 0, err
	}
	g.value = g.value&g.direction | v&^g.direction
	return g.value, nil
}

func (g *gpiosMPSSE) level(n int) (gpio.Level, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, err := g.readLocked()
	return gpio.Level(v&(1<<uint(n)) != 0), err
}

//

// gpioMPSSE is a GPIO pin on a FTDI device driven via MPSSE.
//
// Edge detection is emulated by sampling the bus every pollInterval.
type gpioMPSSE struct {
	// Immutable.
	a    *gpiosMPSSE
	n    string
	num  int
	dp   gpio.Pull
	halt chan struct{}

	// Mutable, guarded by a.mu.
	edge gpio.Edge
	last gpio.Level
}

// String implements pin.Pin.
func (g *gpioMPSSE) String() string {
	return g.n
}

// Name implements pin.Pin.
func (g *gpioMPSSE) Name() string {
	return g.n
}

// Number implements pin.Pin.
func (g *gpioMPSSE) Number() int {
	return g.num
}

// Function implements pin.Pin.
func (g *gpioMPSSE) Function() string {
	m := byte(1 << uint(g.num))
	g.a.mu.Lock()
	out := g.a.direction&m != 0
	v := g.a.value
	g.a.mu.Unlock()
	if out {
		return "Out/" + gpio.Level(v&m != 0).String()
	}
	l, _ := g.a.level(g.num)
	return "In/" + l.String()
}

// Halt implements gpio.PinIO.
//
// It interrupts a pending WaitForEdge.
func (g *gpioMPSSE) Halt() error {
	select {
	case g.halt <- struct{}{}:
	default:
	}
	return nil
}

// In implements gpio.PinIn.
func (g *gpioMPSSE) In(pull gpio.Pull, e gpio.Edge) error {
	if pull != g.dp && pull != gpio.PullNoChange {
		return fmt.Errorf("ftdi: pull %s is not supported; try %s", pull, g.dp)
	}
	g.a.mu.Lock()
	defer g.a.mu.Unlock()
	if err := g.a.inLocked(g.num); err != nil {
		return err
	}
	g.edge = e
	if e == gpio.NoEdge {
		return nil
	}
	select {
	case <-g.halt:
	default:
	}
	v, err := g.a.readLocked()
	g.last = gpio.Level(v&(1<<uint(g.num)) != 0)
	return err
}

// Read implements gpio.PinIn.
func (g *gpioMPSSE) Read() gpio.Level {
	l, _ := g.a.level(g.num)
	return l
}

// WaitForEdge implements gpio.PinIn.
//
// A negative timeout waits forever.
func (g *gpioMPSSE) WaitForEdge(timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		if g.sample() {
			return true
		}
		select {
		case <-g.halt:
			return false
		case <-expired:
			return false
		case <-tick.C:
		}
	}
}

// sample reads the pin and reports whether it moved in the configured
// direction since the last sample.
func (g *gpioMPSSE) sample() bool {
	g.a.mu.Lock()
	defer g.a.mu.Unlock()
	if g.edge == gpio.NoEdge {
		return false
	}
	v, err := g.a.readLocked()
	if err != nil {
		return false
	}
	l := gpio.Level(v&(1<<uint(g.num)) != 0)
	prev := g.last
	g.last = l
	if l == prev {
		return false
	}
	switch g.edge {
	case gpio.RisingEdge:
		return l == gpio.High
	case gpio.FallingEdge:
		return l == gpio.Low
	default:
		return true
	}
}

// DefaultPull implements gpio.PinIn.
func (g *gpioMPSSE) DefaultPull() gpio.Pull {
	return g.dp
}

// Pull implements gpio.PinIn. The resistor is 75kΩ.
func (g *gpioMPSSE) Pull() gpio.Pull {
	return g.dp
}

// Out implements gpio.PinOut.
func (g *gpioMPSSE) Out(l gpio.Level) error {
	g.a.mu.Lock()
	defer g.a.mu.Unlock()
	g.edge = gpio.NoEdge
	return g.a.outLocked(g.num, l)
}

// PWM implements gpio.PinOut.
func (g *gpioMPSSE) PWM(d gpio.Duty, f physic.Frequency) error {
	return errors.New("ftdi: not implemented")
}

var _ gpio.PinIO = &gpioMPSSE{}
