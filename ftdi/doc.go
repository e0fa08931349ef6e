// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdi drives a NFC controller module from a workstation through a
// FT232H USB bridge.
//
// The bridge is put in MPSSE mode. Its I²C bus on D0~D2 is registered in
// i2creg under the device name, e.g. "FT232H", and D4~D7 and C0~C7 are
// registered in gpioreg as "FT232H.D4" and so on. Input pins emulate edge
// detection by polling so they can serve as the controller interrupt line.
//
// Other FTDI devices are listed by All() as unsupported.
//
// Use build tag periph_host_ftdi_debug to enable verbose debugging.
//
// # Datasheet
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232H.pdf
package ftdi
