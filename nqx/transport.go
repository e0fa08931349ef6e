// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nqx

import (
	"periph.io/x/conn/v3/i2c"
)

// Transport moves raw NCI frames to and from the controller.
//
// Recv fills p with one transfer and returns the number of bytes the
// transport reports. Send writes p in one transfer.
type Transport interface {
	Recv(p []byte) (int, error)
	Send(p []byte) (int, error)
	String() string
}

// I2C is a Transport over an I²C client device.
//
// The controller is read with a plain receive, without register address, as
// the NQx family answers with a complete NCI packet.
type I2C struct {
	d i2c.Dev
}

// NewI2CTransport returns a Transport talking to the controller at addr on b.
func NewI2CTransport(b i2c.Bus, addr uint16) *I2C {
	return &I2C{d: i2c.Dev{Bus: b, Addr: addr}}
}

// Recv implements Transport.
func (i *I2C) Recv(p []byte) (int, error) {
	if err := i.d.Tx(nil, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Send implements Transport.
func (i *I2C) Send(p []byte) (int, error) {
	return i.d.Write(p)
}

func (i *I2C) String() string {
	return i.d.String()
}

var _ Transport = &I2C{}
