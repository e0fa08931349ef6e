//go:build linux

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sysfs

import (
	"encoding/binary"
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// fileIO is the subset of *os.File used on pseudo-files.
type fileIO interface {
	io.ReadWriteSeeker
	io.Closer
	Fd() uintptr
}

func fileIOOpen(path string, flag int) (fileIO, error) {
	f, err := os.OpenFile(path, flag|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// seekRead reads a pseudo-file from its start.
func seekRead(f fileIO, b []byte) (int, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return f.Read(b)
}

// seekWrite writes a pseudo-file from its start.
func seekWrite(f fileIO, b []byte) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := f.Write(b)
	return err
}

func isErrBusy(err error) bool {
	return errors.Is(err, unix.EBUSY)
}

// event waits for an exceptional condition on a sysfs attribute, which is
// how the kernel reports a GPIO edge. An eventfd makes the wait
// interruptible.
type event struct {
	fd   int
	wake int
}

func (e *event) open(fd uintptr) error {
	w, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return err
	}
	e.fd = int(fd)
	e.wake = w
	return nil
}

// wait returns true when the attribute changed. ms < 0 waits forever.
func (e *event) wait(ms int) (bool, error) {
	fds := []unix.PollFd{
		{Fd: int32(e.fd), Events: unix.POLLPRI | unix.POLLERR},
		{Fd: int32(e.wake), Events: unix.POLLIN},
	}
	n, err := unix.Poll(fds, ms)
	if err != nil || n == 0 {
		return false, err
	}
	if fds[1].Revents&unix.POLLIN != 0 {
		var b [8]byte
		_, _ = unix.Read(e.wake, b[:])
		return false, nil
	}
	return fds[0].Revents&(unix.POLLPRI|unix.POLLERR) != 0, nil
}

// interrupt wakes a pending wait.
func (e *event) interrupt() error {
	if e.wake <= 0 {
		return nil
	}
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	_, err := unix.Write(e.wake, b[:])
	return err
}

func (e *event) close() error {
	if e.wake <= 0 {
		return nil
	}
	err := unix.Close(e.wake)
	e.wake = 0
	return err
}
