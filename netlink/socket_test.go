// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package netlink

import (
	"errors"
	"testing"
)

func TestParseUevent(t *testing.T) {
	b := []byte("remove@/devices/platform/soc/i2c-1/1-0028\x00ACTION=remove\x00DEVPATH=/devices/platform/soc/i2c-1/1-0028\x00SUBSYSTEM=i2c\x00MODALIAS=of:Nnq-nciT(null)Cqcom,nq-nci\x00SEQNUM=2231\x00")
	u, err := ParseUevent(b)
	if err != nil {
		t.Fatal(err)
	}
	if u.Action != "remove" || u.DevPath != "/devices/platform/soc/i2c-1/1-0028" {
		t.Fatalf("%s", u)
	}
	if u.Subsystem != "i2c" || u.Seqnum != 2231 {
		t.Fatalf("%+v", u)
	}
	// The value may contain '='.
	if m := u.Env["MODALIAS"]; m != "of:Nnq-nciT(null)Cqcom,nq-nci" {
		t.Fatalf("MODALIAS = %q", m)
	}
	if s := u.String(); s != "remove@/devices/platform/soc/i2c-1/1-0028" {
		t.Fatalf("String() = %q", s)
	}
}

func TestParseUevent_HeaderOnly(t *testing.T) {
	u, err := ParseUevent([]byte("add@/class/gpio"))
	if err != nil {
		t.Fatal(err)
	}
	if u.Action != "add" || len(u.Env) != 0 {
		t.Fatalf("%+v", u)
	}
}

func TestParseUevent_Errors(t *testing.T) {
	data := []string{
		"",
		"remove",
		"@/devices",
		"remove@",
		"add@/devices\x00NOVALUE\x00",
		"add@/devices\x00=x\x00",
		"add@/devices\x00ACTION=remove\x00",
		"add@/devices\x00SEQNUM=x\x00",
	}
	for i, line := range data {
		if u, err := ParseUevent([]byte(line)); err == nil {
			t.Fatalf("#%d: %q parsed as %+v", i, line, u)
		}
	}
	if _, err := ParseUevent([]byte("libudev\x00\xfe\xed\xca\xfe")); !errors.Is(err, errUdev) {
		t.Fatalf("udev message: %v", err)
	}
}

func TestRemoves(t *testing.T) {
	const dev = "/sys/devices/platform/soc/i2c-1/1-0028"
	data := []struct {
		action  string
		devPath string
		want    bool
	}{
		{"remove", "/devices/platform/soc/i2c-1/1-0028", true},
		{"remove", "/devices/platform/soc/i2c-1", true},
		{"remove", "/devices/platform/soc/i2c-10", false},
		{"remove", "/devices/platform/soc/i2c-1/1-0029", false},
		{"add", "/devices/platform/soc/i2c-1/1-0028", false},
		{"change", "/devices/platform/soc/i2c-1", false},
		{"remove", "", false},
	}
	for i, l := range data {
		u := &Uevent{Action: l.action, DevPath: l.devPath}
		if got := u.Removes(dev); got != l.want {
			t.Fatalf("#%d: %s.Removes() = %t", i, u, got)
		}
	}
	u := &Uevent{Action: "remove", DevPath: "/devices/platform/soc/i2c-1"}
	if !u.Removes("/devices/platform/soc/i2c-1/") {
		t.Fatal("trailing slash")
	}
}
