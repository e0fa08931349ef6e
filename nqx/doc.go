// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package nqx drives the NXP NQx/PN5xx family of NFC controllers from
// userspace.
//
// The controller is connected on I²C and uses four lines: VEN (enable and
// reset), IRQ (data ready, active high), FIRM (firmware download mode) and
// optionally a secure element power line. A Dev owns the lines and exposes
// the controller as a File carrying raw NCI frames, plus the control
// commands of the Linux nq-nci character device.
//
// Read waits for the IRQ line before receiving a frame. The interrupt is
// only unmasked while a reader waits, so no edge is lost between a check of
// the line and the wait.
//
// # Datasheet
//
// https://www.nxp.com/docs/en/data-sheet/PN7150.pdf
package nqx
