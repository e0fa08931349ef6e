// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// This functionality requires MPSSE.
//
// Implementation based on
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_255_USB%20to%20I2C%20Example%20using%20the%20FT232H%20and%20FT201X%20devices.pdf
//
// Page 18: MPSSE does not automatically support clock stretching for I²C.

package ftdi

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	i2cSCL    = 1 // D0
	i2cSDAOut = 2 // D1
	i2cSDAIn  = 4 // D2
)

// errNAK is returned when the target does not acknowledge a byte. The NFC
// controller NAKs its address while it is in standby.
var errNAK = errors.New("ftdi: got NAK")

type i2cBus struct {
	f *FT232H
}

// Close stops I²C mode and releases the bus.
func (d *i2cBus) Close() error {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	return d.stopI2C()
}

// Duplex implements conn.Conn.
func (d *i2cBus) Duplex() conn.Duplex {
	return conn.Half
}

func (d *i2cBus) String() string {
	return d.f.String()
}

// SetSpeed implements i2c.Bus.
func (d *i2cBus) SetSpeed(f physic.Frequency) error {
	if f > 10*physic.MegaHertz {
		return fmt.Errorf("ftdi: invalid speed %s; maximum supported clock is 10MHz", f)
	}
	if f < 100*physic.Hertz {
		return fmt.Errorf("ftdi: invalid speed %s; minimum supported clock is 100Hz", f)
	}
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	_, err := d.f.h.MPSSEClock(f * 2 / 3)
	return err
}

// Tx implements i2c.Bus.
//
// A read following a write is done with a repeated start.
func (d *i2cBus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return fmt.Errorf("ftdi: invalid I²C address %#x", addr)
	}
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	if !d.f.usingI2C {
		return errors.New("ftdi: I²C bus is closed")
	}
	err := d.tx(byte(addr), w, r)
	if err2 := d.setI2CStop(); err == nil {
		err = err2
	}
	if err2 := d.setI2CLinesIdle(); err == nil {
		err = err2
	}
	return err
}

func (d *i2cBus) tx(addr byte, w, r []byte) error {
	if len(w) != 0 {
		if err := d.setI2CStart(); err != nil {
			return err
		}
		if err := d.writeBytes(append([]byte{addr << 1}, w...)); err != nil {
			return err
		}
	}
	if len(r) != 0 {
		if len(w) != 0 {
			// Repeated start: release SDA then SCL.
			if err := d.setI2CLinesIdle(); err != nil {
				return err
			}
		}
		if err := d.setI2CStart(); err != nil {
			return err
		}
		if err := d.writeBytes([]byte{addr<<1 | 1}); err != nil {
			return err
		}
		if err := d.readBytes(r); err != nil {
			return err
		}
	}
	return nil
}

// SCL implements i2c.Pins.
func (d *i2cBus) SCL() gpio.PinIO {
	return d.f.D0
}

// SDA implements i2c.Pins.
func (d *i2cBus) SDA() gpio.PinIO {
	return d.f.D1
}

// setupI2C initializes the MPSSE to the state to run an I²C transaction at
// 400kHz. The pins are open collector: Out(High) floats.
//
// f.mu must be held.
func (d *i2cBus) setupI2C() error {
	f := 400 * physic.KiloHertz
	clk := ((30 * physic.MegaHertz / f) - 1) * 2 / 3
	cmd := [...]byte{
		clock3Phase,
		clock30MHz, clockSetDivisor, byte(clk), byte(clk >> 8),
		dataTristate, i2cSCL | i2cSDAOut | i2cSDAIn, 0,
	}
	if _, err := d.f.h.Write(cmd[:]); err != nil {
		return err
	}
	d.f.usingI2C = true
	return d.setI2CLinesIdle()
}

// stopI2C resets the MPSSE to 2 phases clocking without tristate.
//
// f.mu must be held.
func (d *i2cBus) stopI2C() error {
	cmd := [...]byte{
		clock2Phase,
		clock30MHz, clockSetDivisor, 0, 0,
		dataTristate, 0, 0,
	}
	_, err := d.f.h.Write(cmd[:])
	d.f.usingI2C = false
	return err
}

// setI2CLinesIdle sets D0 and D1 high.
//
// Does not touch D3~D7.
func (d *i2cBus) setI2CLinesIdle() error {
	const mask = 0xFF &^ (i2cSCL | i2cSDAOut | i2cSDAIn)
	b := &d.f.dbus
	b.direction = b.direction&mask | i2cSCL | i2cSDAOut
	b.value &= mask
	cmd := [...]byte{gpioSetD, b.value | i2cSCL | i2cSDAOut, b.direction}
	_, err := d.f.h.Write(cmd[:])
	return err
}

// setI2CStart starts an I²C transaction, assuming the lines are idle.
//
// The commands are repeated as a way to delay execution.
func (d *i2cBus) setI2CStart() error {
	dir := d.f.dbus.direction
	v := d.f.dbus.value
	cmd := [...]byte{
		// SCL high, SDA low for 600ns
		gpioSetD, v | i2cSCL, dir,
		gpioSetD, v | i2cSCL, dir,
		gpioSetD, v | i2cSCL, dir,
		gpioSetD, v | i2cSCL, dir,
		// SCL low, SDA low
		gpioSetD, v, dir,
		gpioSetD, v, dir,
		gpioSetD, v, dir,
	}
	_, err := d.f.h.Write(cmd[:])
	return err
}

// setI2CStop completes an I²C transaction.
func (d *i2cBus) setI2CStop() error {
	dir := d.f.dbus.direction
	v := d.f.dbus.value
	cmd := [...]byte{
		// SCL low, SDA low
		gpioSetD, v, dir,
		gpioSetD, v, dir,
		gpioSetD, v, dir,
		gpioSetD, v, dir,
		// SCL high, SDA low
		gpioSetD, v | i2cSCL, dir,
		gpioSetD, v | i2cSCL, dir,
		gpioSetD, v | i2cSCL, dir,
		gpioSetD, v | i2cSCL, dir,
		// SCL high, SDA high
		gpioSetD, v | i2cSCL | i2cSDAOut, dir,
		gpioSetD, v | i2cSCL | i2cSDAOut, dir,
		gpioSetD, v | i2cSCL | i2cSDAOut, dir,
		gpioSetD, v | i2cSCL | i2cSDAOut, dir,
	}
	_, err := d.f.h.Write(cmd[:])
	return err
}

// writeBytes clocks out each byte and checks its ACK.
func (d *i2cBus) writeBytes(w []byte) error {
	dir := d.f.dbus.direction
	v := d.f.dbus.value
	if err := d.f.h.Flush(); err != nil {
		return err
	}
	var r [1]byte
	cmd := [...]byte{
		// Data out, the last 0 is replaced with the byte.
		dataOut | dataOutFall, 0, 0, 0,
		// Set back to idle.
		gpioSetD, v | i2cSCL | i2cSDAOut, dir,
		// Read ACK/NAK.
		dataIn | dataBit, 0,
		flush,
	}
	for _, c := range w {
		cmd[3] = c
		if _, err := d.f.h.Write(cmd[:]); err != nil {
			return err
		}
		ctx, cancel := context200ms()
		_, err := d.f.h.ReadAll(ctx, r[:])
		cancel()
		if err != nil {
			return err
		}
		if r[0]&1 != 0 {
			return errNAK
		}
	}
	return nil
}

// readBytes reads each byte, ACKing all but the last one.
func (d *i2cBus) readBytes(r []byte) error {
	dir := d.f.dbus.direction
	v := d.f.dbus.value
	cmd := [...]byte{
		// Read 8 bits.
		dataIn | dataBit, 7,
		// Send ACK/NAK.
		dataOut | dataOutFall | dataBit, 0, 0,
		// Set back to idle.
		gpioSetD, v | i2cSCL | i2cSDAOut, dir,
		flush,
	}
	for i := range r {
		if i == len(r)-1 {
			// NAK.
			cmd[4] = 0x80
		}
		if _, err := d.f.h.Write(cmd[:]); err != nil {
			return err
		}
		ctx, cancel := context200ms()
		_, err := d.f.h.ReadAll(ctx, r[i:i+1])
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

var _ i2c.BusCloser = &i2cBus{}
var _ i2c.Pins = &i2cBus{}
