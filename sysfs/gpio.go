//go:build linux

// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sysfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// Pins is all the pins exported by GPIO sysfs, by kernel number.
//
// It is initialized once at driver initialization. Do not modify it.
var Pins map[int]*Pin

// gpioRoot is where the legacy GPIO interface lives.
var gpioRoot = "/sys/class/gpio/"

// Pin is one GPIO pin of the legacy sysfs interface.
//
// It is the fallback for kernels built without the character device. Edges
// are reported by poll(2) on the value attribute.
type Pin struct {
	number int
	name   string
	root   string // Something like /sys/class/gpio/gpio%d/

	mu         sync.Mutex
	err        error // If open() failed
	exported   bool  // exported by this process
	direction  direction
	edge       gpio.Edge
	fDirection fileIO
	fEdge      fileIO
	fValue     fileIO
	event      event
	buf        [4]byte
}

// String implements conn.Resource.
func (p *Pin) String() string {
	return p.name
}

// Halt implements conn.Resource.
//
// It interrupts a pending WaitForEdge.
func (p *Pin) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.event.interrupt()
}

// Close stops edge detection, closes the attributes and unexports the pin
// if this process exported it.
func (p *Pin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.haltEdge()
	for _, f := range []*fileIO{&p.fEdge, &p.fDirection, &p.fValue} {
		if *f != nil {
			_ = (*f).Close()
			*f = nil
		}
	}
	_ = p.event.close()
	if p.exported && drvGPIO.unexportHandle != nil {
		if _, e := drvGPIO.unexportHandle.Write([]byte(strconv.Itoa(p.number))); e != nil && err == nil {
			err = p.wrap(e)
		}
	}
	p.exported = false
	p.direction = dUnknown
	p.err = nil
	return err
}

// Name implements pin.Pin.
func (p *Pin) Name() string {
	return p.name
}

// Number implements pin.Pin.
func (p *Pin) Number() int {
	return p.number
}

// Function implements pin.Pin.
func (p *Pin) Function() string {
	return string(p.Func())
}

// Func implements pin.PinFunc.
func (p *Pin) Func() pin.Func {
	p.mu.Lock()
	if err := p.open(); err != nil {
		p.mu.Unlock()
		return pin.FuncNone
	}
	if n, err := seekRead(p.fDirection, p.buf[:]); err == nil && n >= 2 {
		switch string(p.buf[:2]) {
		case "in":
			p.direction = dIn
		case "ou":
			p.direction = dOut
		}
	}
	dir := p.direction
	p.mu.Unlock()
	switch dir {
	case dIn:
		if p.Read() {
			return gpio.IN_HIGH
		}
		return gpio.IN_LOW
	case dOut:
		if p.Read() {
			return gpio.OUT_HIGH
		}
		return gpio.OUT_LOW
	}
	return pin.FuncNone
}

// SupportedFuncs implements pin.PinFunc.
func (p *Pin) SupportedFuncs() []pin.Func {
	return []pin.Func{gpio.IN, gpio.OUT}
}

// SetFunc implements pin.PinFunc.
func (p *Pin) SetFunc(f pin.Func) error {
	switch f {
	case gpio.IN:
		return p.In(gpio.PullNoChange, gpio.NoEdge)
	case gpio.OUT_HIGH:
		return p.Out(gpio.High)
	case gpio.OUT, gpio.OUT_LOW:
		return p.Out(gpio.Low)
	default:
		return p.wrap(errors.New("unsupported function"))
	}
}

// In implements gpio.PinIn.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if pull != gpio.PullNoChange && pull != gpio.Float {
		return p.wrap(errors.New("doesn't support pull-up/pull-down"))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.direction != dIn {
		if err := p.open(); err != nil {
			return p.wrap(err)
		}
		if err := seekWrite(p.fDirection, bIn); err != nil {
			return p.wrap(err)
		}
		p.direction = dIn
	}
	if p.fEdge != nil {
		if err := seekWrite(p.fEdge, bNone); err != nil {
			return p.wrap(err)
		}
	}
	if edge != gpio.NoEdge {
		if p.fEdge == nil {
			var err error
			if p.fEdge, err = fileIOOpen(p.root+"edge", os.O_RDWR); err != nil {
				return p.wrap(err)
			}
			if err = p.event.open(p.fValue.Fd()); err != nil {
				_ = p.fEdge.Close()
				p.fEdge = nil
				return p.wrap(err)
			}
		}
		if err := seekWrite(p.fEdge, edgeAttr(edge)); err != nil {
			return p.wrap(err)
		}
	}
	p.edge = edge
	if edge != gpio.NoEdge {
		// Consume the condition raised by the value attribute on open.
		_, _ = seekRead(p.fValue, p.buf[:])
	}
	return nil
}

func edgeAttr(e gpio.Edge) []byte {
	switch e {
	case gpio.RisingEdge:
		return bRising
	case gpio.FallingEdge:
		return bFalling
	case gpio.BothEdges:
		return bBoth
	default:
		return bNone
	}
}

// Read implements gpio.PinIn.
func (p *Pin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fValue == nil {
		return gpio.Low
	}
	var b [4]byte
	if n, err := seekRead(p.fValue, b[:]); err != nil || n == 0 {
		return gpio.Low
	}
	return b[0] == '1'
}

// WaitForEdge implements gpio.PinIn.
//
// A negative timeout waits forever. Halt makes it return false.
func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	p.mu.Lock()
	ok := p.edge != gpio.NoEdge && p.event.wake > 0
	p.mu.Unlock()
	if !ok {
		return false
	}
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	start := time.Now()
	for {
		got, err := p.event.wait(ms)
		if got {
			// Reading the attribute rearms the condition.
			p.Read()
			return true
		}
		if err == nil || !errors.Is(err, unix.EINTR) {
			return false
		}
		if timeout >= 0 {
			if ms = int((timeout - time.Since(start)) / time.Millisecond); ms <= 0 {
				return false
			}
		}
	}
}

// Pull implements gpio.PinIn.
//
// gpio sysfs has no support for input pull resistor.
func (p *Pin) Pull() gpio.Pull {
	return gpio.PullNoChange
}

// DefaultPull implements gpio.PinIn.
func (p *Pin) DefaultPull() gpio.Pull {
	return gpio.PullNoChange
}

// Out implements gpio.PinOut.
func (p *Pin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.direction != dOut {
		if err := p.open(); err != nil {
			return p.wrap(err)
		}
		if err := p.haltEdge(); err != nil {
			return err
		}
		// Writing "low" or "high" to direction switches to output glitch free.
		d := bLow
		if l == gpio.High {
			d = bHigh
		}
		if err := seekWrite(p.fDirection, d); err != nil {
			return p.wrap(err)
		}
		p.direction = dOut
		return nil
	}
	b := []byte{'0'}
	if l == gpio.High {
		b[0] = '1'
	}
	if err := seekWrite(p.fValue, b); err != nil {
		return p.wrap(err)
	}
	return nil
}

// PWM implements gpio.PinOut.
func (p *Pin) PWM(gpio.Duty, physic.Frequency) error {
	return p.wrap(errors.New("pwm is not supported via sysfs"))
}

//

// open opens the value and direction attributes, exporting the pin first
// if needed.
//
// lock must be held.
func (p *Pin) open() error {
	if p.fDirection != nil || p.err != nil {
		return p.err
	}
	if drvGPIO.exportHandle == nil {
		return errors.New("sysfs gpio is not initialized")
	}

	if p.fValue, p.err = fileIOOpen(p.root+"value", os.O_RDWR); p.err != nil {
		if !os.IsNotExist(p.err) {
			p.err = fmt.Errorf("need more access, try as root or setup udev rules: %v", p.err)
			return p.err
		}
		if _, p.err = drvGPIO.exportHandle.Write([]byte(strconv.Itoa(p.number))); p.err != nil && !isErrBusy(p.err) {
			if os.IsPermission(p.err) {
				p.err = fmt.Errorf("need more access, try as root or setup udev rules: %v", p.err)
			}
			return p.err
		}
		p.exported = p.err == nil
		// udev may still be fixing the permissions of the new attributes.
		for start := time.Now(); time.Since(start) < 5*time.Second; time.Sleep(10 * time.Millisecond) {
			if p.fValue, p.err = fileIOOpen(p.root+"value", os.O_RDWR); p.err == nil || !os.IsPermission(p.err) {
				break
			}
		}
		if p.err != nil {
			return p.err
		}
	}
	if p.fDirection, p.err = fileIOOpen(p.root+"direction", os.O_RDWR); p.err != nil {
		_ = p.fValue.Close()
		p.fValue = nil
	}
	return p.err
}

// haltEdge stops edge detection.
func (p *Pin) haltEdge() error {
	if p.edge != gpio.NoEdge {
		if err := seekWrite(p.fEdge, bNone); err != nil {
			return p.wrap(err)
		}
		p.edge = gpio.NoEdge
	}
	return nil
}

func (p *Pin) wrap(err error) error {
	return fmt.Errorf("sysfs-gpio (%s): %v", p, err)
}

//

type direction int

const (
	dUnknown direction = 0
	dIn      direction = 1
	dOut     direction = 2
)

var (
	bIn      = []byte("in")
	bLow     = []byte("low")
	bHigh    = []byte("high")
	bNone    = []byte("none")
	bRising  = []byte("rising")
	bFalling = []byte("falling")
	bBoth    = []byte("both")
)

// readInt reads a pseudo-file that contains an integer.
func readInt(path string) (int, error) {
	f, err := fileIOOpen(path, os.O_RDONLY)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var b [24]byte
	n, err := f.Read(b[:])
	if err != nil {
		return 0, err
	}
	raw := b[:n]
	if len(raw) == 0 || raw[len(raw)-1] != '\n' {
		return 0, errors.New("invalid value")
	}
	return strconv.Atoi(string(raw[:len(raw)-1]))
}

// driverGPIO implements periph.Driver.
type driverGPIO struct {
	exportHandle   io.Writer // handle to /sys/class/gpio/export
	unexportHandle io.Writer // handle to /sys/class/gpio/unexport
}

func (d *driverGPIO) String() string {
	return "sysfs-gpio"
}

func (d *driverGPIO) Prerequisites() []string {
	return nil
}

// After makes the character device lines win the names they share.
func (d *driverGPIO) After() []string {
	return []string{"ioctl-gpio"}
}

// Init registers the pins of every sysfs GPIO chip.
//
// https://www.kernel.org/doc/Documentation/gpio/sysfs.txt
func (d *driverGPIO) Init() (bool, error) {
	items, err := filepath.Glob(gpioRoot + "gpiochip*")
	if err != nil {
		return true, err
	}
	if len(items) == 0 {
		return false, errors.New("no GPIO pin found")
	}

	// Pin numbering may have gaps.
	Pins = map[int]*Pin{}
	for _, item := range items {
		if err = d.parseGPIOChip(item + "/"); err != nil {
			return true, err
		}
	}
	d.exportHandle, err = fileIOOpen(gpioRoot+"export", os.O_WRONLY)
	if os.IsPermission(err) {
		return true, fmt.Errorf("need more access, try as root or setup udev rules: %v", err)
	}
	if err != nil {
		return true, err
	}
	if d.unexportHandle, err = fileIOOpen(gpioRoot+"unexport", os.O_WRONLY); err != nil {
		d.unexportHandle = nil
	}
	return true, nil
}

func (d *driverGPIO) parseGPIOChip(path string) error {
	base, err := readInt(path + "base")
	if err != nil {
		return err
	}
	number, err := readInt(path + "ngpio")
	if err != nil {
		return err
	}
	for i := base; i < base+number; i++ {
		if _, ok := Pins[i]; ok {
			return fmt.Errorf("found two pins with number %d", i)
		}
		p := &Pin{
			number: i,
			name:   fmt.Sprintf("GPIO%d", i),
			root:   fmt.Sprintf("%sgpio%d/", gpioRoot, i),
		}
		Pins[i] = p
		if gpioreg.ByName(p.name) != nil {
			// Already provided by the character device.
			continue
		}
		if err := gpioreg.Register(p); err != nil {
			return err
		}
		if err := gpioreg.RegisterAlias(strconv.Itoa(i), p.name); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	driverreg.MustRegister(&drvGPIO)
}

var drvGPIO driverGPIO

var _ conn.Resource = &Pin{}
var _ gpio.PinIO = &Pin{}
var _ pin.PinFunc = &Pin{}
