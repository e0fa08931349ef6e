// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package netlink receives kernel device events (uevents) over a netlink
// socket.
//
// The NFC daemon uses them to notice when the I²C bus or the controller
// device goes away.
package netlink

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Uevent is a kobject event broadcast by the kernel.
type Uevent struct {
	// Action is the event kind: "add", "remove", "change", "bind", ...
	Action string
	// DevPath is the device path relative to /sys, e.g.
	// "/devices/platform/soc/i2c-1/1-0028".
	DevPath string
	// Subsystem is the SUBSYSTEM variable, e.g. "i2c".
	Subsystem string
	// Seqnum is the SEQNUM variable.
	Seqnum uint64
	// Env holds all the KEY=VALUE variables.
	Env map[string]string
}

func (u *Uevent) String() string {
	return u.Action + "@" + u.DevPath
}

// Removes reports whether the event removes the device at devPath or one of
// its parents.
//
// devPath may include the leading "/sys".
func (u *Uevent) Removes(devPath string) bool {
	if u.Action != "remove" || u.DevPath == "" {
		return false
	}
	p := strings.TrimSuffix(strings.TrimPrefix(devPath, "/sys"), "/")
	return p == u.DevPath || strings.HasPrefix(p, u.DevPath+"/")
}

// ErrClosed is returned by Receive once the socket is closed.
var ErrClosed = errors.New("netlink: socket closed")

// errUdev is returned for messages rebroadcast by udev, which carry a binary
// header instead of ACTION@DEVPATH.
var errUdev = errors.New("netlink: udev message")

// ParseUevent decodes a kernel uevent datagram:
//
//	ACTION@DEVPATH\0KEY=VALUE\0KEY=VALUE\0...
func ParseUevent(b []byte) (*Uevent, error) {
	if bytes.HasPrefix(b, []byte("libudev\x00")) {
		return nil, errUdev
	}
	fields := bytes.Split(bytes.TrimRight(b, "\x00"), []byte{0})
	hdr := string(fields[0])
	i := strings.IndexByte(hdr, '@')
	if i <= 0 || i == len(hdr)-1 {
		return nil, fmt.Errorf("netlink: invalid uevent header %q", hdr)
	}
	u := &Uevent{Action: hdr[:i], DevPath: hdr[i+1:], Env: map[string]string{}}
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(string(f), "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("netlink: invalid uevent variable %q", f)
		}
		u.Env[k] = v
	}
	if a, ok := u.Env["ACTION"]; ok && a != u.Action {
		return nil, fmt.Errorf("netlink: uevent action mismatch %q != %q", a, u.Action)
	}
	u.Subsystem = u.Env["SUBSYSTEM"]
	if s, ok := u.Env["SEQNUM"]; ok {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("netlink: invalid SEQNUM %q", s)
		}
		u.Seqnum = n
	}
	return u, nil
}
