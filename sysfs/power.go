//go:build linux

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// WakeLock takes timed wake locks through the Android wakelock interface.
//
// https://www.kernel.org/doc/Documentation/power/wakeup-stats.txt
type WakeLock struct {
	// Path is the wake_lock attribute, /sys/power/wake_lock by default.
	Path string
}

// NewWakeLock returns a WakeLock on /sys/power/wake_lock.
func NewWakeLock() *WakeLock {
	return &WakeLock{Path: "/sys/power/wake_lock"}
}

// WakeLock keeps the system awake for timeout under name. A lock taken again
// before it expires is extended.
func (w *WakeLock) WakeLock(name string, timeout time.Duration) error {
	if name == "" {
		return fmt.Errorf("sysfs-power: empty wake lock name")
	}
	s := name
	if timeout > 0 {
		s += " " + strconv.FormatInt(int64(timeout), 10)
	}
	if err := writeAttr(w.Path, s); err != nil {
		return fmt.Errorf("sysfs-power: wake lock %q: %w", name, err)
	}
	return nil
}

// Wakeup controls whether a device may wake the system, through its
// power/wakeup attribute.
type Wakeup struct {
	// Path is the wakeup attribute of the device.
	Path string
}

// NewWakeup returns the wakeup control of the device at devPath, for example
// /sys/bus/i2c/devices/1-0028.
func NewWakeup(devPath string) *Wakeup {
	return &Wakeup{Path: filepath.Join(devPath, "power", "wakeup")}
}

// SetWake enables or disables the device as a wake source.
func (w *Wakeup) SetWake(enable bool) error {
	s := "disabled"
	if enable {
		s = "enabled"
	}
	if err := writeAttr(w.Path, s); err != nil {
		return fmt.Errorf("sysfs-power: %s: %w", w.Path, err)
	}
	return nil
}

// Enabled reads the attribute back.
func (w *Wakeup) Enabled() (bool, error) {
	b, err := os.ReadFile(w.Path)
	if err != nil {
		return false, err
	}
	return string(b) == "enabled\n" || string(b) == "enabled", nil
}

func writeAttr(path, s string) error {
	f, err := fileIOOpen(path, os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return err
	}
	_, err = f.Write([]byte(s))
	if err2 := f.Close(); err == nil {
		err = err2
	}
	return err
}
