//go:build linux

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
)

// From include/uapi/linux/i2c-dev.h and i2c.h.
const (
	ioctlRdwr  = 0x0707
	ioctlFuncs = 0x0705

	flagRD = 0x0001 // I2C_M_RD

	funcI2C = 0x00000001 // I2C_FUNC_I2C
)

// i2cMsg is struct i2c_msg.
type i2cMsg struct {
	addr   uint16
	flags  uint16
	length uint16
	buf    unsafe.Pointer
}

// rdwrIoctlData is struct i2c_rdwr_ioctl_data.
type rdwrIoctlData struct {
	msgs  unsafe.Pointer
	nmsgs uint32
}

// ioctlCloser is the device node of a bus.
type ioctlCloser interface {
	Ioctl(op uint, data unsafe.Pointer) error
	Close() error
}

type devFile struct {
	f *os.File
}

func (d *devFile) Ioctl(op uint, data unsafe.Pointer) error {
	if _, _, ep := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), uintptr(op), uintptr(data)); ep != 0 {
		return ep
	}
	return nil
}

func (d *devFile) Close() error {
	return d.f.Close()
}

// I2C is an I²C bus through /dev/i2c-N.
//
// Every Tx is a single I2C_RDWR transfer with a repeated start between the
// write and the read.
type I2C struct {
	f         ioctlCloser
	busNumber int

	mu sync.Mutex
}

// NewI2C opens /dev/i2c-busNumber.
func NewI2C(busNumber int) (*I2C, error) {
	f, err := os.OpenFile(fmt.Sprintf("/dev/i2c-%d", busNumber), os.O_RDWR|unix.O_CLOEXEC, os.ModeExclusive)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("sysfs-i2c: need more access, try as root or setup udev rules: %v", err)
		}
		return nil, fmt.Errorf("sysfs-i2c: %v", err)
	}
	i := &I2C{f: &devFile{f: f}, busNumber: busNumber}
	var fn uint64
	if err := i.f.Ioctl(ioctlFuncs, unsafe.Pointer(&fn)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("sysfs-i2c: I2C%d functionality: %w", busNumber, err)
	}
	if fn&funcI2C == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("sysfs-i2c: I2C%d is SMBus only", busNumber)
	}
	return i, nil
}

// Close closes the device node.
func (i *I2C) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.f == nil {
		return nil
	}
	err := i.f.Close()
	i.f = nil
	return err
}

func (i *I2C) String() string {
	return "I2C" + strconv.Itoa(i.busNumber)
}

// Tx implements i2c.Bus.
func (i *I2C) Tx(addr uint16, w, r []byte) error {
	if len(w) == 0 && len(r) == 0 {
		return nil
	}
	if len(w) > 0xFFFF || len(r) > 0xFFFF {
		return errors.New("sysfs-i2c: transfer too large")
	}
	var msgs [2]i2cMsg
	n := 0
	if len(w) != 0 {
		msgs[n] = i2cMsg{addr: addr, length: uint16(len(w)), buf: unsafe.Pointer(&w[0])}
		n++
	}
	if len(r) != 0 {
		msgs[n] = i2cMsg{addr: addr, flags: flagRD, length: uint16(len(r)), buf: unsafe.Pointer(&r[0])}
		n++
	}
	p := rdwrIoctlData{msgs: unsafe.Pointer(&msgs[0]), nmsgs: uint32(n)}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.f == nil {
		return errors.New("sysfs-i2c: bus is closed")
	}
	if err := i.f.Ioctl(ioctlRdwr, unsafe.Pointer(&p)); err != nil {
		return fmt.Errorf("sysfs-i2c: %w", err)
	}
	return nil
}

// SetSpeed implements i2c.Bus.
//
// The bus speed is set by the device tree.
func (i *I2C) SetSpeed(f physic.Frequency) error {
	return errors.New("sysfs-i2c: changing the bus speed is not supported")
}

// SCL implements i2c.Pins.
func (i *I2C) SCL() gpio.PinIO {
	return gpio.INVALID
}

// SDA implements i2c.Pins.
func (i *I2C) SDA() gpio.PinIO {
	return gpio.INVALID
}

// driverI2C implements periph.Driver.
type driverI2C struct {
	buses []string
}

func (d *driverI2C) String() string {
	return "sysfs-i2c"
}

func (d *driverI2C) Prerequisites() []string {
	return nil
}

func (d *driverI2C) After() []string {
	return nil
}

// Init registers every /dev/i2c-N as I2C<N>.
func (d *driverI2C) Init() (bool, error) {
	items, err := filepath.Glob("/dev/i2c-*")
	if err != nil {
		return true, err
	}
	if len(items) == 0 {
		return false, errors.New("no I²C bus found")
	}
	var numbers []int
	for _, item := range items {
		n, err := strconv.Atoi(strings.TrimPrefix(item, "/dev/i2c-"))
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	for _, n := range numbers {
		name := "I2C" + strconv.Itoa(n)
		d.buses = append(d.buses, name)
		if err := i2creg.Register(name, nil, n, openerI2C(n).Open); err != nil {
			return true, err
		}
	}
	return true, nil
}

type openerI2C int

func (o openerI2C) Open() (i2c.BusCloser, error) {
	b, err := NewI2C(int(o))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func init() {
	driverreg.MustRegister(&drvI2C)
}

var drvI2C driverI2C

var _ i2c.BusCloser = &I2C{}
var _ i2c.Pins = &I2C{}
