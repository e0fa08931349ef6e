// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package host loads the drivers that provide the buses and lines an NQx
// controller is wired to: the Linux GPIO character device, sysfs GPIO and
// I²C, and FTDI FT232H USB bridges.
package host

import (
	"periph.io/x/conn/v3/driver/driverreg"

	// Make sure the drivers are registered.
	_ "periph.io/x/nqx/v3/ftdi"
	_ "periph.io/x/nqx/v3/gpioioctl"
	_ "periph.io/x/nqx/v3/sysfs"
)

// Init calls driverreg.Init() and returns it as-is.
//
// The only difference is that by calling host.Init(), you are guaranteed to
// have all the drivers implemented in this module implicitly loaded.
func Init() (*driverreg.State, error) {
	return driverreg.Init()
}
