//go:build linux

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// Chips is the set of GPIO chips found during driver initialization.
var Chips []*Chip

// consumer is the label attached to every line request, so tools like
// gpioinfo can tell who holds a line.
var consumer = consumerLabel(filepath.Base(os.Args[0]), os.Getpid())

func consumerLabel(prog string, pid int) string {
	s := fmt.Sprintf("%s@%d", prog, pid)
	if len(s) >= maxNameSize {
		s = s[:maxNameSize-1]
	}
	return s
}

type direction int

const (
	dirNone direction = iota
	dirIn
	dirOut
)

// Line is one line of a GPIO chip. It implements gpio.PinIO.
//
// The line is requested from the kernel on the first Out, In or Read and
// released by Close.
type Line struct {
	chip   *Chip
	offset uint32
	// name is the registered name; label is the kernel's name for the line.
	name  string
	label string

	mu       sync.Mutex
	consumer string
	dir      direction
	pull     gpio.Pull
	edge     gpio.Edge
	fd       int
	f        *os.File // owns fd
}

func (l *Line) String() string {
	return l.name
}

// Name implements pin.Pin.
func (l *Line) Name() string {
	return l.name
}

// Number implements pin.Pin. It is the offset of the line on its chip.
func (l *Line) Number() int {
	return int(l.offset)
}

// Function implements pin.Pin.
func (l *Line) Function() string {
	return string(l.Func())
}

// Consumer returns the holder of the line as reported by the kernel at
// enumeration, or this process once the line is requested.
func (l *Line) Consumer() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consumer
}

// Halt implements conn.Resource. It interrupts a pending WaitForEdge.
func (l *Line) Halt() error {
	l.mu.Lock()
	f := l.f
	l.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.SetReadDeadline(time.Unix(0, 0))
}

// Close releases the line request.
func (l *Line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked()
}

func (l *Line) releaseLocked() error {
	var err error
	if l.f != nil {
		err = l.f.Close()
	}
	l.f = nil
	l.fd = -1
	l.dir = dirNone
	l.pull = gpio.PullNoChange
	l.edge = gpio.NoEdge
	l.consumer = ""
	return err
}

// In implements gpio.PinIn.
func (l *Line) In(pull gpio.Pull, edge gpio.Edge) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var c lineConfig
	c.flags = getFlags(dirIn, edge, pull)
	if err := l.configureLocked(&c); err != nil {
		return fmt.Errorf("gpioioctl: %s: in: %w", l, err)
	}
	l.dir = dirIn
	l.pull = pull
	l.edge = edge
	return nil
}

// Read implements gpio.PinIn.
//
// An output line is read back without changing its direction. A line that
// was never requested is requested as input.
func (l *Line) Read() gpio.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd < 0 {
		var c lineConfig
		c.flags = getFlags(dirIn, gpio.NoEdge, gpio.PullNoChange)
		if err := l.configureLocked(&c); err != nil {
			log.Printf("gpioioctl: %s: read: %v", l, err)
			return gpio.Low
		}
		l.dir = dirIn
	}
	v := lineValues{mask: 1}
	if err := ioctl(l.fd, reqGetValues, unsafe.Pointer(&v)); err != nil {
		log.Printf("gpioioctl: %s: read: %v", l, err)
		return gpio.Low
	}
	return v.bits&1 != 0
}

// WaitForEdge implements gpio.PinIn.
//
// A negative timeout waits forever. It returns false on timeout, on Halt
// and when the line isn't configured for edge detection.
func (l *Line) WaitForEdge(timeout time.Duration) bool {
	l.mu.Lock()
	f := l.f
	ok := l.dir == dirIn && l.edge != gpio.NoEdge
	l.mu.Unlock()
	if !ok || f == nil {
		return false
	}
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := f.SetReadDeadline(deadline); err != nil {
		return false
	}
	var b [lineEventSize]byte
	_, err := io.ReadFull(f, b[:])
	return err == nil
}

// Pull implements gpio.PinIn.
func (l *Line) Pull() gpio.Pull {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pull
}

// DefaultPull implements gpio.PinIn. The v2 ABI doesn't report it.
func (l *Line) DefaultPull() gpio.Pull {
	return gpio.PullNoChange
}

// Out implements gpio.PinOut.
func (l *Line) Out(level gpio.Level) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dir == dirOut {
		v := lineValues{mask: 1}
		if level {
			v.bits = 1
		}
		if err := ioctl(l.fd, reqSetValues, unsafe.Pointer(&v)); err != nil {
			return fmt.Errorf("gpioioctl: %s: out: %w", l, err)
		}
		return nil
	}
	var c lineConfig
	c.flags = getFlags(dirOut, gpio.NoEdge, gpio.PullNoChange)
	c.setOutput(bool(level))
	if err := l.configureLocked(&c); err != nil {
		return fmt.Errorf("gpioioctl: %s: out: %w", l, err)
	}
	l.dir = dirOut
	l.pull = gpio.PullNoChange
	l.edge = gpio.NoEdge
	return nil
}

// PWM implements gpio.PinOut. The character device has no PWM.
func (l *Line) PWM(gpio.Duty, physic.Frequency) error {
	return errors.New("gpioioctl: PWM is not supported")
}

// Func implements pin.PinFunc.
func (l *Line) Func() pin.Func {
	l.mu.Lock()
	dir := l.dir
	l.mu.Unlock()
	switch dir {
	case dirIn:
		if l.Read() {
			return gpio.IN_HIGH
		}
		return gpio.IN_LOW
	case dirOut:
		if l.Read() {
			return gpio.OUT_HIGH
		}
		return gpio.OUT_LOW
	default:
		return pin.FuncNone
	}
}

// SupportedFuncs implements pin.PinFunc.
func (l *Line) SupportedFuncs() []pin.Func {
	return []pin.Func{gpio.IN, gpio.OUT}
}

// SetFunc implements pin.PinFunc.
func (l *Line) SetFunc(f pin.Func) error {
	switch f {
	case gpio.IN:
		return l.In(gpio.PullNoChange, gpio.NoEdge)
	case gpio.OUT_HIGH:
		return l.Out(gpio.High)
	case gpio.OUT, gpio.OUT_LOW:
		return l.Out(gpio.Low)
	default:
		return fmt.Errorf("gpioioctl: unsupported function %q", f)
	}
}

// configureLocked requests the line with c, or applies c to the existing
// request.
func (l *Line) configureLocked(c *lineConfig) error {
	if l.fd >= 0 {
		return ioctl(l.fd, reqLineConfig, unsafe.Pointer(c))
	}
	if l.chip == nil || l.chip.f == nil {
		return errors.New("chip is closed")
	}
	var req lineRequest
	req.offsets[0] = l.offset
	req.numLines = 1
	copy(req.consumer[:], consumer)
	req.config = *c
	if err := ioctl(l.chip.fd, reqLine, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("line request: %w", err)
	}
	fd := int(req.fd)
	// Non-blocking so read deadlines work on edge events.
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return err
	}
	l.fd = fd
	l.f = os.NewFile(uintptr(fd), l.name)
	l.consumer = consumer
	return nil
}

// getFlags returns the line flags for a direction, edge and bias.
func getFlags(dir direction, edge gpio.Edge, pull gpio.Pull) uint64 {
	var flags uint64
	switch dir {
	case dirIn:
		flags |= flagInput
	case dirOut:
		flags |= flagOutput
	}
	switch pull {
	case gpio.PullUp:
		flags |= flagBiasPullUp
	case gpio.PullDown:
		flags |= flagBiasPullDown
	case gpio.Float:
		flags |= flagBiasDisabled
	}
	switch edge {
	case gpio.RisingEdge:
		flags |= flagEdgeRising
	case gpio.FallingEdge:
		flags |= flagEdgeFalling
	case gpio.BothEdges:
		flags |= flagEdgeRising | flagEdgeFalling
	}
	return flags
}

// Chip is a /dev/gpiochipN device.
type Chip struct {
	name  string
	path  string
	label string
	lines []*Line

	f  *os.File
	fd int
}

func (c *Chip) String() string {
	return fmt.Sprintf("%s(%s, %d lines)", c.name, c.label, len(c.lines))
}

// Name returns the kernel name of the chip, for example gpiochip0.
func (c *Chip) Name() string {
	return c.name
}

// Path returns the device path.
func (c *Chip) Path() string {
	return c.path
}

// Label returns the chip label, or its name when the kernel gives none.
func (c *Chip) Label() string {
	return c.label
}

// Lines returns the lines of the chip in offset order.
func (c *Chip) Lines() []*Line {
	return c.lines
}

// ByName returns the line with the registered name or kernel name n, or nil.
func (c *Chip) ByName(n string) *Line {
	for _, l := range c.lines {
		if l.name == n || l.label == n {
			return l
		}
	}
	return nil
}

// ByNumber returns the line at offset n, or nil.
func (c *Chip) ByNumber(n int) *Line {
	if n < 0 || n >= len(c.lines) {
		return nil
	}
	return c.lines[n]
}

// Close releases every requested line and the chip itself.
func (c *Chip) Close() error {
	for _, l := range c.lines {
		_ = l.Close()
	}
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	c.fd = -1
	return err
}

func openChip(path string) (*Chip, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	c := &Chip{path: path, f: f, fd: int(f.Fd())}
	var info chipInfo
	if err := ioctl(c.fd, reqChipInfo, unsafe.Pointer(&info)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: chip info: %w", path, err)
	}
	c.name = cString(info.name[:])
	c.label = cString(info.label[:])
	if c.label == "" {
		c.label = c.name
	}
	c.lines = make([]*Line, info.lines)
	for i := range c.lines {
		li := lineInfo{offset: uint32(i)}
		if err := ioctl(c.fd, reqLineInfo, unsafe.Pointer(&li)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%s: line %d info: %w", path, i, err)
		}
		c.lines[i] = &Line{
			chip:     c,
			offset:   uint32(i),
			label:    cString(li.name[:]),
			consumer: cString(li.consumer[:]),
			fd:       -1,
		}
	}
	return c, nil
}

// registeredName returns the gpioreg name of a line, or "" when it can't be
// registered uniquely. Named lines keep their name, prefixed by the chip
// name on a collision. Unnamed lines become "<chip>/<offset>".
func registeredName(chip, label string, offset uint32, taken map[string]struct{}) string {
	var candidates []string
	if label != "" && label != "_" && label != "-" {
		candidates = []string{label, chip + "-" + label}
	} else {
		candidates = []string{fmt.Sprintf("%s/%d", chip, offset)}
	}
	for _, n := range candidates {
		if _, ok := taken[n]; !ok {
			return n
		}
	}
	return ""
}

// driverGPIO implements periph.Driver.
type driverGPIO struct{}

func (d *driverGPIO) String() string {
	return "ioctl-gpio"
}

func (d *driverGPIO) Prerequisites() []string {
	return nil
}

func (d *driverGPIO) After() []string {
	return nil
}

// Init enumerates /dev/gpiochip* and registers their lines in gpioreg.
func (d *driverGPIO) Init() (bool, error) {
	items, err := filepath.Glob("/dev/gpiochip*")
	if err != nil {
		return true, fmt.Errorf("gpioioctl: %w", err)
	}
	if len(items) == 0 {
		return false, errors.New("gpioioctl: no GPIO chips found")
	}
	var chips []*Chip
	for _, item := range items {
		c, err := openChip(item)
		if err != nil {
			log.Printf("gpioioctl: %v", err)
			continue
		}
		chips = append(chips, c)
	}
	sort.Slice(chips, func(i, j int) bool {
		pi := strings.HasPrefix(chips[i].label, "pinctrl-")
		pj := strings.HasPrefix(chips[j].label, "pinctrl-")
		if pi != pj {
			return pi
		}
		return chips[i].label < chips[j].label
	})

	taken := map[string]struct{}{}
	for _, p := range gpioreg.All() {
		taken[p.Name()] = struct{}{}
	}
	seen := map[string]struct{}{}
	for _, c := range chips {
		// The same chip can show up under two device nodes.
		if _, ok := seen[c.name]; ok {
			_ = c.Close()
			continue
		}
		seen[c.name] = struct{}{}
		Chips = append(Chips, c)
		for _, l := range c.lines {
			l.name = registeredName(c.name, l.label, l.offset, taken)
			if l.name == "" {
				l.name = fmt.Sprintf("%s/%d", c.name, l.offset)
				continue
			}
			taken[l.name] = struct{}{}
			if err := gpioreg.Register(l); err != nil {
				log.Printf("gpioioctl: %s: %v", c.name, err)
			}
		}
	}
	return len(Chips) > 0, nil
}

func init() {
	driverreg.MustRegister(&drvGPIO)
}

var drvGPIO driverGPIO

var _ gpio.PinIO = &Line{}
var _ pin.PinFunc = &Line{}
