// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpioioctl exposes Linux GPIO lines through the character device
// v2 ioctl interface.
//
// https://docs.kernel.org/userspace-api/gpio/chardev.html
//
// Every line of every /dev/gpiochipN is registered in gpioreg: named lines
// by their name, unnamed ones as "<chip>/<offset>". A line is requested from
// the kernel on first use, so lines owned by another process can still be
// enumerated.
//
// Edge detection uses the line event queue of the request, so WaitForEdge
// doesn't miss edges that happen between two calls.
package gpioioctl
