// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nqx

import (
	"errors"
	"reflect"
	"testing"

	"periph.io/x/conn/v3/gpio"
)

func TestSetPower(t *testing.T) {
	data := []struct {
		s    PowerState
		want []string
	}{
		{PowerOn, []string{"FIRM=Low", "VEN=High"}},
		{PowerOff, []string{"FIRM=Low", "VEN=Low"}},
		{PowerDownload, []string{"VEN=High", "FIRM=High", "VEN=Low", "VEN=High"}},
	}
	for _, line := range data {
		d, tp := newTestDev(t, nil)
		tp.rec.reset()
		if err := d.SetPower(line.s); err != nil {
			t.Fatalf("SetPower(%s) = %v", line.s, err)
		}
		if got := tp.rec.get(); !reflect.DeepEqual(got, line.want) {
			t.Fatalf("SetPower(%s) = %v, want %v", line.s, got, line.want)
		}
	}
}

func TestSetPower_DownloadUnmasks(t *testing.T) {
	d, _ := newTestDev(t, nil)
	if err := d.SetPower(PowerDownload); err != nil {
		t.Fatal(err)
	}
	if d.irqMasked() {
		t.Fatal("irq still masked")
	}
}

func TestSetPower_DownloadNoFirmware(t *testing.T) {
	r := &recorder{}
	d, err := New(&fakeTransport{}, Pins{VEN: newRecPin(r, "VEN"), IRQ: newRecPin(r, "IRQ")}, testOpts())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	r.reset()
	if err := d.SetPower(PowerDownload); err != nil {
		t.Fatal(err)
	}
	want := []string{"VEN=High", "VEN=Low", "VEN=High"}
	if got := r.get(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	if err := d.SetPower(PowerOn); err != nil {
		t.Fatal(err)
	}
}

func TestSetPower_DownloadWithESE(t *testing.T) {
	d, tp := newTestDev(t, nil)
	if _, err := d.ESEPower(ESEAcquire); err != nil {
		t.Fatal(err)
	}
	tp.rec.reset()
	if err := d.SetPower(PowerDownload); err != nil {
		t.Fatalf("SetPower(download) = %v", err)
	}
	want := []string{"VEN=High", "FIRM=High", "VEN=Low", "VEN=High"}
	if got := tp.rec.get(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	// The controller now holds VEN too.
	if _, err := d.ESEPower(ESERelease); err != nil {
		t.Fatal(err)
	}
	if l := tp.ven.Read(); l != gpio.High {
		t.Fatal("VEN dropped after the secure element released it")
	}
}

func TestSetPower_Invalid(t *testing.T) {
	d, tp := newTestDev(t, nil)
	tp.rec.reset()
	if err := d.SetPower(PowerState(3)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("SetPower(3) = %v", err)
	}
	if ops := tp.rec.get(); len(ops) != 0 {
		t.Fatalf("lines touched: %v", ops)
	}
}

func TestSetPower_LineError(t *testing.T) {
	d, tp := newTestDev(t, nil)
	tp.ven.fail = errors.New("gone")
	if err := d.SetPower(PowerOn); !errors.Is(err, ErrIO) {
		t.Fatalf("SetPower() = %v", err)
	}
}

func TestESEPower_Alone(t *testing.T) {
	d, tp := newTestDev(t, nil)
	tp.rec.reset()
	if _, err := d.ESEPower(ESEAcquire); err != nil {
		t.Fatal(err)
	}
	if v, err := d.ESEPower(ESEQuery); v != 1 || err != nil {
		t.Fatalf("query = %d, %v", v, err)
	}
	// Idempotent.
	if _, err := d.ESEPower(ESEAcquire); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ESEPower(ESERelease); err != nil {
		t.Fatal(err)
	}
	if v, _ := d.ESEPower(ESEQuery); v != 0 {
		t.Fatalf("query = %d", v)
	}
	want := []string{"VEN=High", "ESE=High", "ESE=Low", "VEN=Low"}
	if got := tp.rec.get(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
}

func TestESEPower_SharesVEN(t *testing.T) {
	d, tp := newTestDev(t, nil)
	if err := d.SetPower(PowerOn); err != nil {
		t.Fatal(err)
	}
	tp.rec.reset()
	if _, err := d.ESEPower(ESEAcquire); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ESEPower(ESERelease); err != nil {
		t.Fatal(err)
	}
	want := []string{"ESE=High", "ESE=Low"}
	if got := tp.rec.get(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	if l := tp.ven.Read(); l != gpio.High {
		t.Fatal("VEN dropped while the controller is on")
	}
}

func TestESEPower_HoldsVENOnPowerOff(t *testing.T) {
	d, tp := newTestDev(t, nil)
	if err := d.SetPower(PowerOn); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ESEPower(ESEAcquire); err != nil {
		t.Fatal(err)
	}
	if err := d.SetPower(PowerOff); err != nil {
		t.Fatal(err)
	}
	if l := tp.ven.Read(); l != gpio.High {
		t.Fatal("VEN dropped while the secure element holds power")
	}
	tp.rec.reset()
	if _, err := d.ESEPower(ESERelease); err != nil {
		t.Fatal(err)
	}
	want := []string{"ESE=Low", "VEN=Low"}
	if got := tp.rec.get(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
}

func TestESEPower_NoLine(t *testing.T) {
	r := &recorder{}
	d, err := New(&fakeTransport{}, Pins{VEN: newRecPin(r, "VEN"), IRQ: newRecPin(r, "IRQ")}, testOpts())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if _, err := d.ESEPower(ESEAcquire); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("acquire = %v", err)
	}
	if v, err := d.ESEPower(ESEQuery); v != 0 || err != nil {
		t.Fatalf("query = %d, %v", v, err)
	}
}

func TestESEPower_Invalid(t *testing.T) {
	d, _ := newTestDev(t, nil)
	if _, err := d.ESEPower(2); !errors.Is(err, ErrInvalid) {
		t.Fatalf("ESEPower(2) = %v", err)
	}
}
