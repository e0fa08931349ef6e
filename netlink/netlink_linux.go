// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package netlink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// kernelGroup is the multicast group of the events sent by the kernel, as
// opposed to the ones rebroadcast by udev.
const kernelGroup = 1

// pollMS bounds each wait so a cancelled context is noticed.
const pollMS = 100

// UeventSocket is a netlink socket subscribed to kernel uevents.
type UeventSocket struct {
	closing atomic.Bool

	mu  sync.Mutex
	fd  int
	buf [8192]byte
}

// NewUeventSocket opens a NETLINK_KOBJECT_UEVENT socket.
func NewUeventSocket() (*UeventSocket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("netlink: failed to open uevent socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: kernelGroup}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("netlink: failed to bind uevent socket: %w", err)
	}
	return &UeventSocket{fd: fd}, nil
}

// Receive blocks until the next kernel uevent or until ctx is done.
//
// Datagrams that are not kernel uevents are skipped.
func (s *UeventSocket) Receive(ctx context.Context) (*Uevent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.fd < 0 || s.closing.Load() {
			return nil, ErrClosed
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("netlink: poll: %w", err)
		}
		if n == 0 {
			continue
		}
		l, from, err := unix.Recvfrom(s.fd, s.buf[:], 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("netlink: recv: %w", err)
		}
		// Only trust messages sent by the kernel, port 0.
		if sa, ok := from.(*unix.SockaddrNetlink); !ok || sa.Pid != 0 {
			continue
		}
		u, err := ParseUevent(s.buf[:l])
		if err != nil {
			continue
		}
		return u, nil
	}
}

// Close closes the socket. A pending Receive returns within pollMS.
func (s *UeventSocket) Close() error {
	s.closing.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	return unix.Close(fd)
}
