// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nqx

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Errors returned by the session. They are errno values so a control
// surface can forward them verbatim; test with errors.Is.
var (
	// ErrWouldBlock is returned by a non-blocking read when no data is ready.
	ErrWouldBlock = unix.EAGAIN
	// ErrTooLarge is returned by Write when the payload exceeds the buffer.
	ErrTooLarge = unix.ENOMEM
	// ErrIO is returned when the transport fails or violates the protocol.
	ErrIO = unix.EIO
	// ErrInvalid is returned for an unknown power state argument.
	ErrInvalid = unix.EINVAL
	// ErrNoDevice is returned once teardown started.
	ErrNoDevice = unix.ENODEV
	// ErrBusy is returned by Suspend while data is pending.
	ErrBusy = unix.EBUSY
	// ErrInterrupted is returned when the read retry budget is exhausted.
	ErrInterrupted = unix.EINTR
	// ErrNoIoctl is returned for an unknown control opcode.
	ErrNoIoctl = unix.ENOTTY
	// ErrNotPermitted is returned by secure element commands when no eSE
	// line is wired.
	ErrNotPermitted = unix.EPERM
	// ErrNoController is returned by New when the chip identification gets no
	// answer from the controller.
	ErrNoController = unix.ENXIO
)

// Errno returns the errno value carried by err.
//
// It returns 0 for a nil error, EINTR for context cancellation and EIO for
// anything that doesn't carry an errno.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var e unix.Errno
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return unix.EINTR
	}
	return unix.EIO
}

func wrapf(e unix.Errno, format string, a ...interface{}) error {
	return fmt.Errorf("nqx: "+format+": %w", append(a, e)...)
}
