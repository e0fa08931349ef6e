// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"strconv"
	"sync"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/d2xx"
)

// All enumerates all the connected FTDI devices.
func All() []Dev {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	out := make([]Dev, len(drv.all))
	copy(out, drv.all)
	return out
}

//

// open opens a FTDI device. Devices without a MPSSE engine are closed and
// returned as unsupported.
func open(opener func(i int) (d2xx.Handle, d2xx.Err), i int) (Dev, error) {
	h, err := openHandle(opener, i)
	if err != nil {
		return nil, err
	}
	name := h.t.String()
	if i > 0 {
		// When more than one device is present, add "(index)" suffix.
		name += "(" + strconv.Itoa(i) + ")"
	}
	if !h.t.MPSSE() {
		u := &unsupported{index: i, name: name, t: h.t, venID: h.venID, devID: h.devID}
		if err := h.Close(); err != nil {
			logf("ftdi: closing %s: %v", name, err)
		}
		return u, nil
	}
	if err := h.Init(); err != nil {
		// The device could be in an unexpected state; reset it once.
		if err := h.Reset(); err != nil {
			_ = h.Close()
			return nil, err
		}
		if err := h.Init(); err != nil {
			_ = h.Close()
			return nil, err
		}
	}
	f, err := newFT232H(i, name, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	return f, nil
}

// registerDev registers the GPIOs usable for controller lines and the I²C
// bus.
func registerDev(d Dev, multi bool) error {
	f, ok := d.(*FT232H)
	if !ok {
		return nil
	}
	name := f.String()
	// D0~D2 belong to the I²C bus.
	pins := append([]gpio.PinIO{f.D4, f.D5, f.D6, f.D7}, f.hdr[8:]...)
	for _, p := range pins {
		if err := gpioreg.Register(p); err != nil {
			return err
		}
	}
	if !multi {
		// Register shorthands, e.g. "D4".
		prefix := len(name) + 1
		for _, p := range pins {
			n := p.Name()
			if err := gpioreg.RegisterAlias(n[prefix:], n); err != nil {
				return err
			}
		}
	}
	return i2creg.Register(name, nil, -1, func() (i2c.BusCloser, error) { return f.I2C() })
}

// driver implements driver.Impl.
type driver struct {
	mu         sync.Mutex
	all        []Dev
	d2xxOpen   func(i int) (d2xx.Handle, d2xx.Err)
	numDevices func() (int, error)
}

func (d *driver) String() string {
	return "ftdi"
}

func (d *driver) Prerequisites() []string {
	return nil
}

func (d *driver) After() []string {
	return nil
}

func (d *driver) Init() (bool, error) {
	num, err := d.numDevices()
	if err != nil {
		return true, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	multi := num > 1
	for i := 0; i < num; i++ {
		dev, err1 := open(d.d2xxOpen, i)
		if err1 != nil {
			// Keep a shallow broken device so the user can learn how to fix the
			// problem.
			err = err1
			name := "broken#" + strconv.Itoa(i) + ": " + err.Error()
			d.all = append(d.all, &broken{index: i, err: err, name: name})
			continue
		}
		logf("ftdi: found %s", dev)
		d.all = append(d.all, dev)
		if err = registerDev(dev, multi); err != nil {
			return true, err
		}
	}
	return true, err
}

func (d *driver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = nil
	// Both are mocked in tests.
	d.d2xxOpen = d2xx.Open
	d.numDevices = numDevices
}

func init() {
	if d2xx.Available {
		drv.reset()
		drv.resetLog()
		driverreg.MustRegister(&drv)
	}
}

var drv driver
