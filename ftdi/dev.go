// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Info is the information gathered about the connected FTDI device.
//
// The data is gathered from the USB descriptor.
type Info struct {
	// Opened is true if the device was successfully opened.
	Opened bool
	// Type is the FTDI device type, e.g. "FT232H". Empty means unknown.
	Type string
	// VenID is the vendor ID, expected to be 0x0403 (FTDI).
	VenID uint16
	// DevID is the product ID.
	DevID uint16
}

// Dev represents one FTDI device.
type Dev interface {
	// conn.Resource
	String() string
	Halt() error

	// Info returns information about the device.
	Info(i *Info)

	// Header returns the GPIO pins exposed on the chip.
	Header() []gpio.PinIO
}

// broken is a device that couldn't be opened. Its name carries the error.
type broken struct {
	index int
	err   error
	name  string
}

func (b *broken) String() string {
	return b.name
}

func (b *broken) Halt() error {
	return nil
}

func (b *broken) Info(i *Info) {
	i.Opened = false
}

func (b *broken) Header() []gpio.PinIO {
	return nil
}

// unsupported is a device without a MPSSE engine. It is listed but its
// handle is closed.
type unsupported struct {
	index int
	name  string
	t     DevType
	venID uint16
	devID uint16
}

func (u *unsupported) String() string {
	return u.name + " (unsupported)"
}

func (u *unsupported) Halt() error {
	return nil
}

func (u *unsupported) Info(i *Info) {
	i.Opened = false
	i.Type = u.t.String()
	i.VenID = u.venID
	i.DevID = u.devID
}

func (u *unsupported) Header() []gpio.PinIO {
	return nil
}

//

func newFT232H(index int, name string, h *handle) (*FT232H, error) {
	f := &FT232H{
		index: index,
		name:  name,
		h:     h,
		cbus:  gpiosMPSSE{h: h, cbus: true},
		dbus:  gpiosMPSSE{h: h},
	}
	f.cbus.init(name, &f.mu)
	f.dbus.init(name, &f.mu)
	for i := range f.dbus.pins {
		f.hdr[i] = &f.dbus.pins[i]
	}
	for i := range f.cbus.pins {
		f.hdr[i+8] = &f.cbus.pins[i]
	}
	f.D0 = f.hdr[0]
	f.D1 = f.hdr[1]
	f.D2 = f.hdr[2]
	f.D3 = f.hdr[3]
	f.D4 = f.hdr[4]
	f.D5 = f.hdr[5]
	f.D6 = f.hdr[6]
	f.D7 = f.hdr[7]
	f.C0 = f.hdr[8]
	f.C1 = f.hdr[9]
	f.C2 = f.hdr[10]
	f.C3 = f.hdr[11]
	f.C4 = f.hdr[12]
	f.C5 = f.hdr[13]
	f.C6 = f.hdr[14]
	f.C7 = f.hdr[15]

	// All pins start as inputs.
	if err := f.h.InitMPSSE(); err != nil {
		return nil, err
	}
	f.i.f = f
	return f, nil
}

// FT232H represents a FT232H (or one channel of a FT2232H) in MPSSE mode.
//
// D0~D2 carry I²C. D4~D7 and C0~C7 are GPIOs for the controller lines,
// typically D4 for the interrupt and D5 for VEN.
//
// # Datasheet
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232H.pdf
type FT232H struct {
	D0 gpio.PinIO // SCL
	D1 gpio.PinIO // SDA out
	D2 gpio.PinIO // SDA in
	D3 gpio.PinIO
	D4 gpio.PinIO
	D5 gpio.PinIO
	D6 gpio.PinIO
	D7 gpio.PinIO
	C0 gpio.PinIO
	C1 gpio.PinIO
	C2 gpio.PinIO
	C3 gpio.PinIO
	C4 gpio.PinIO
	C5 gpio.PinIO
	C6 gpio.PinIO
	C7 gpio.PinIO

	// Immutable after initialization.
	index int
	name  string
	h     *handle
	hdr   [16]gpio.PinIO
	cbus  gpiosMPSSE
	dbus  gpiosMPSSE
	i     i2cBus

	mu       sync.Mutex
	usingI2C bool
}

func (f *FT232H) String() string {
	return f.name
}

// Halt implements conn.Resource.
//
// It interrupts pending edge waits.
func (f *FT232H) Halt() error {
	for _, p := range f.hdr {
		_ = p.Halt()
	}
	return nil
}

// Info returns information about an opened device.
func (f *FT232H) Info(i *Info) {
	i.Opened = true
	i.Type = f.h.t.String()
	i.VenID = f.h.venID
	i.DevID = f.h.devID
}

// Header returns the GPIO pins exposed on the chip.
func (f *FT232H) Header() []gpio.PinIO {
	out := make([]gpio.PinIO, len(f.hdr))
	copy(out, f.hdr[:])
	return out
}

// SetSpeed sets the MPSSE clock.
func (f *FT232H) SetSpeed(freq physic.Frequency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.h.MPSSEClock(freq)
	return err
}

// DBusRead reads the values of D0 to D7.
func (f *FT232H) DBusRead() (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dbus.readLocked()
}

// I2C returns an I²C bus over D0~D2.
//
// D0 is SCL. D1 is SDA out in open drain and D2 is SDA in; they must be wired
// together. Both lines need external pull ups, 2kΩ for 400kHz.
//
// Only one bus may be open at a time.
func (f *FT232H) I2C() (i2c.BusCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usingI2C {
		return nil, errors.New("ftdi: already using I²C")
	}
	if err := f.i.setupI2C(); err != nil {
		_ = f.i.stopI2C()
		return nil, err
	}
	return &f.i, nil
}

var _ Dev = &FT232H{}
var _ Dev = &broken{}
var _ Dev = &unsupported{}
