// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sysfs implements Linux drivers exposed as pseudo-files.
//
// It provides the legacy /sys/class/gpio pins, used when the kernel lacks
// the GPIO character device, the /dev/i2c-N buses, and the power
// attributes an NFC controller needs to wake the system: timed wake locks
// and the per-device wakeup switch.
package sysfs
