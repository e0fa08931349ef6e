// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/nqx/v3/nqx"
)

const board = `
i2c:
  bus: I2C1
  addr: 0x29
lines:
  ven: GPIO17
  irq: GPIO27
  firmware: GPIO22
  ese: GPIO23
wakeup: true
identify: true
devpath: /sys/bus/i2c/devices/1-0029
wake_lock:
  name: nfc
timings:
  edge_poll: 50ms
  power_settle: 20ms
server:
  listen: ":5780"
  mdns: true
  instance: bench
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(board))
	require.NoError(t, err)
	assert.Equal(t, "I2C1", c.I2C.Bus)
	assert.Equal(t, uint16(0x29), c.I2C.Addr)
	assert.Equal(t, Lines{VEN: "GPIO17", IRQ: "GPIO27", Firmware: "GPIO22", ESE: "GPIO23"}, c.Lines)
	assert.True(t, c.Wakeup)
	assert.True(t, c.Identify)
	assert.Equal(t, "/sys/bus/i2c/devices/1-0029", c.DevPath)
	// Partial sections keep their defaults.
	assert.Equal(t, "/sys/power/wake_lock", c.WakeLock.Path)
	assert.Equal(t, "nfc", c.WakeLock.Name)
	assert.Equal(t, 50*time.Millisecond, c.Timings.EdgePoll)
	assert.Equal(t, 20*time.Millisecond, c.Timings.PowerSettle)
	assert.Equal(t, nqx.DefaultOpts.DownloadSettle, c.Timings.DownloadSettle)
	assert.Equal(t, Server{Listen: ":5780", MDNS: true, Instance: "bench"}, c.Server)
}

func TestParse_Empty(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestOpts(t *testing.T) {
	c, err := Parse([]byte(board))
	require.NoError(t, err)
	o := c.Opts()
	assert.Equal(t, nqx.MaxBufferSize, o.BufferSize)
	assert.True(t, o.IdentifyChip)
	assert.True(t, o.MayWakeup)
	assert.Equal(t, "nfc", o.WakeLockName)
	assert.Equal(t, 50*time.Millisecond, o.EdgePoll)
	assert.Equal(t, 20*time.Millisecond, o.PowerSettle)
	assert.Nil(t, o.WakeLock)
	assert.Nil(t, o.WakeSource)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"syntax", "i2c: [\n"},
		{"address", "i2c:\n  addr: 0x80\n"},
		{"reserved address", "i2c:\n  addr: 0x03\n"},
		{"no ven", "lines:\n  ven: \"\"\n"},
		{"no irq", "lines:\n  irq: \"\"\n"},
		{"buffer", "buffer_size: 0\n"},
		{"wake lock name", "wake_lock:\n  name: \"\"\n"},
		{"negative", "timings:\n  power_settle: -1s\n"},
		{"edge poll", "timings:\n  edge_poll: 0s\n"},
		{"listen", "server:\n  listen: \"\"\n"},
		{"type", "wakeup: maybe\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var le *LoadError
			assert.True(t, errors.As(err, &le))
		})
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nqxd.yaml")
	require.NoError(t, os.WriteFile(p, []byte(board), 0o600))
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "I2C1", c.I2C.Bus)

	require.NoError(t, os.WriteFile(p, []byte("i2c:\n  addr: 0x80\n"), 0o600))
	_, err = Load(p)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, p, le.File)
	assert.Contains(t, err.Error(), p)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
