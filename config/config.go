// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the daemon configuration.
//
// The file describes the board the way a device tree node would: the I²C bus
// and address of the controller, the names of its lines and whether it may
// wake the host.
//
//	i2c:
//	  bus: I2C1
//	  addr: 0x28
//	lines:
//	  ven: NFC_VEN
//	  irq: NFC_IRQ
//	  firmware: NFC_FW
//	  ese: NFC_ESE
//	wakeup: true
//	devpath: /sys/bus/i2c/devices/1-0028
//	server:
//	  listen: localhost:5780
//	  mdns: true
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/nqx/v3/nqx"
)

// I2C selects the bus and the address of the controller.
type I2C struct {
	// Bus is the i2creg name of the bus; empty selects the first one.
	Bus  string `yaml:"bus"`
	Addr uint16 `yaml:"addr"`
}

// Lines are the gpioreg names of the control lines.
type Lines struct {
	VEN      string `yaml:"ven"`
	IRQ      string `yaml:"irq"`
	Firmware string `yaml:"firmware"`
	ESE      string `yaml:"ese"`
}

// Timings override the settle delays.
type Timings struct {
	EdgePoll       time.Duration `yaml:"edge_poll"`
	PowerSettle    time.Duration `yaml:"power_settle"`
	DownloadSettle time.Duration `yaml:"download_settle"`
	TransferSettle time.Duration `yaml:"transfer_settle"`
	ESESettle      time.Duration `yaml:"ese_settle"`
}

// WakeLock configures the host wake lock interface.
type WakeLock struct {
	// Path is the wake_lock attribute; empty disables wake locks.
	Path string `yaml:"path"`
	Name string `yaml:"name"`
}

// Server configures the control surface.
type Server struct {
	Listen string `yaml:"listen"`
	// MDNS advertises the service as _nqx._tcp.
	MDNS bool `yaml:"mdns"`
	// Instance is the mDNS instance name; defaults to the host name.
	Instance string `yaml:"instance"`
}

// Config is the daemon configuration.
type Config struct {
	I2C   I2C   `yaml:"i2c"`
	Lines Lines `yaml:"lines"`
	// Wakeup marks the controller as a wakeup capable device.
	Wakeup bool `yaml:"wakeup"`
	// Identify reads the chip identity at start.
	Identify   bool `yaml:"identify"`
	BufferSize int  `yaml:"buffer_size"`
	// DevPath is the sysfs directory of the I²C client device. Its
	// power/wakeup attribute is armed on suspend and its removal ends the
	// session. Optional.
	DevPath  string   `yaml:"devpath"`
	WakeLock WakeLock `yaml:"wake_lock"`
	Timings  Timings  `yaml:"timings"`
	Server   Server   `yaml:"server"`
}

// Default returns the configuration used for absent keys.
func Default() *Config {
	o := &nqx.DefaultOpts
	return &Config{
		I2C:        I2C{Addr: nqx.DefaultAddr},
		Lines:      Lines{VEN: "NFC_VEN", IRQ: "NFC_IRQ"},
		BufferSize: o.BufferSize,
		WakeLock:   WakeLock{Path: "/sys/power/wake_lock", Name: o.WakeLockName},
		Timings: Timings{
			EdgePoll:       o.EdgePoll,
			PowerSettle:    o.PowerSettle,
			DownloadSettle: o.DownloadSettle,
			TransferSettle: o.TransferSettle,
			ESESettle:      o.ESESettle,
		},
		Server: Server{Listen: "localhost:5780"},
	}
}

// LoadError describes a configuration file that could not be used.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	s := "config: "
	if e.File != "" {
		s += e.File + ": "
	}
	s += e.Message
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Parse decodes a YAML configuration over Default() and validates it.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := c.Validate(); err != nil {
		return nil, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return c, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	c, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return nil, err
	}
	return c, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.I2C.Addr < 0x08 || c.I2C.Addr > 0x77 {
		return fmt.Errorf("i2c address %#x is outside of 0x08-0x77", c.I2C.Addr)
	}
	if c.Lines.VEN == "" {
		return errors.New("lines.ven is required")
	}
	if c.Lines.IRQ == "" {
		return errors.New("lines.irq is required")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size %d must be positive", c.BufferSize)
	}
	if c.WakeLock.Path != "" && c.WakeLock.Name == "" {
		return errors.New("wake_lock.name is required with wake_lock.path")
	}
	t := &c.Timings
	for _, d := range []time.Duration{t.EdgePoll, t.PowerSettle, t.DownloadSettle, t.TransferSettle, t.ESESettle} {
		if d < 0 {
			return fmt.Errorf("negative timing %s", d)
		}
	}
	if t.EdgePoll == 0 {
		return errors.New("timings.edge_poll must be positive")
	}
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	return nil
}

// Opts returns the session options. The wake lock and the wake source are
// host specific and left to the caller.
func (c *Config) Opts() *nqx.Opts {
	return &nqx.Opts{
		BufferSize:     c.BufferSize,
		IdentifyChip:   c.Identify,
		MayWakeup:      c.Wakeup,
		WakeLockName:   c.WakeLock.Name,
		EdgePoll:       c.Timings.EdgePoll,
		PowerSettle:    c.Timings.PowerSettle,
		DownloadSettle: c.Timings.DownloadSettle,
		TransferSettle: c.Timings.TransferSettle,
		ESESettle:      c.Timings.ESESettle,
	}
}
