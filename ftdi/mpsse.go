// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// MPSSE is Multi-Protocol Synchronous Serial Engine
//
// MPSSE basics:
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_135_MPSSE_Basics.pdf
//
// MPSSE and MCU emulation modes:
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_108_Command_Processor_for_MPSSE_and_MCU_Host_Bus_Emulation_Modes.pdf

package ftdi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

const (
	// Serial operation synchronised on clock edges.
	//
	// <op>, <LengthLow-1>, <LengthHigh-1>, <byte0>, ..., <byteN>
	// <op>, <Length-1>, <byte> with dataBit
	dataOut     byte = 0x10 // Enable output, default on +VE (Rise)
	dataIn      byte = 0x20 // Enable input, default on +VE (Rise)
	dataOutFall byte = 0x01 // instead of Rise
	dataBit     byte = 0x02 // instead of Byte

	// Data line drives low when the data is 0 and tristates on data 1. This is
	// used with I²C.
	// <op>, <ADBus pins>, <ACBus pins>
	dataTristate byte = 0x9E

	// GPIO operation on 8 GPIOs at a time. Direction 1 means output.
	//
	// <op>, <value>, <direction>
	gpioSetD byte = 0x80
	gpioSetC byte = 0x82
	// <op>, returns <value>
	gpioReadD byte = 0x81
	gpioReadC byte = 0x83

	internalLoopbackDisable byte = 0x85

	// Clock. The base clock is 6MHz via a 5x divisor unless clock30MHz is
	// sent.
	clock30MHz byte = 0x8A
	clock6MHz  byte = 0x8B
	// <op>, <valueL-1>, <valueH-1>
	clockSetDivisor byte = 0x86
	// Data is valid on both clock edges. Needed for I²C.
	clock3Phase byte = 0x8C
	clock2Phase byte = 0x8D
	// Disables adaptive clocking.
	clockNormal byte = 0x97

	// Flush the buffer back to the host.
	flush byte = 0x87
)

// InitMPSSE sets the device into MPSSE mode with all GPIOs as inputs.
func (h *handle) InitMPSSE() error {
	// AN_255: the happy path reuses the device in its current state.
	if h.mpsseVerify() != nil {
		if err := h.Reset(); err != nil {
			return err
		}
		if err := h.Init(); err != nil {
			return err
		}
		if err := h.SetBitMode(0, bitModeMpsse); err != nil {
			return err
		}
		if err := h.mpsseVerify(); err != nil {
			return err
		}
	}
	// The clock rate and the GPIO directions cannot be read back.
	cmd := []byte{
		clock30MHz, clockNormal, clock2Phase, internalLoopbackDisable,
		gpioSetC, 0x00, 0x00,
		gpioSetD, 0x00, 0x00,
	}
	_, err := h.Write(cmd)
	return err
}

// mpsseVerify sends an invalid MPSSE command and verifies the engine echoes
// it back as invalid.
func (h *handle) mpsseVerify() error {
	var b [2]byte
	for _, v := range []byte{0xAA, 0xAB} {
		// The flush avoids waiting for the latency timer.
		b[0] = v
		b[1] = flush
		if _, err := h.Write(b[:]); err != nil {
			return fmt.Errorf("ftdi: MPSSE verification failed: %w", err)
		}
		p, e := h.h.GetQueueStatus()
		if e != 0 {
			return toErr("Read/GetQueueStatus", e)
		}
		if p != 2 {
			return fmt.Errorf("ftdi: MPSSE verification failed: expected 2 bytes reply, got %d bytes", p)
		}
		ctx, cancel := context200ms()
		_, err := h.ReadAll(ctx, b[:])
		cancel()
		if err != nil {
			return fmt.Errorf("ftdi: MPSSE verification failed: %w", err)
		}
		// 0xFA means invalid command, followed by the command.
		if b[0] != 0xFA || b[1] != v {
			return fmt.Errorf("ftdi: MPSSE verification failed test for byte %#x: %#x", v, b)
		}
	}
	return nil
}

// MPSSEClock sets the clock at the closest value and returns it.
func (h *handle) MPSSEClock(f physic.Frequency) (physic.Frequency, error) {
	clk := clock30MHz
	base := 30 * physic.MegaHertz
	div := base / f
	if div >= 65536 {
		clk = clock6MHz
		base /= 5
		div = base / f
		if div >= 65536 {
			return 0, errors.New("ftdi: clock frequency is too low")
		}
	}
	b := [...]byte{clk, clockSetDivisor, byte(div - 1), byte((div - 1) >> 8)}
	_, err := h.Write(b[:])
	return base / div, err
}

// MPSSECBus sets C0~C7. Direction 1 means output.
func (h *handle) MPSSECBus(mask, value byte) error {
	b := [...]byte{gpioSetC, value, mask}
	_, err := h.Write(b[:])
	return err
}

// MPSSEDBus sets D0~D7. Direction 1 means output.
func (h *handle) MPSSEDBus(mask, value byte) error {
	b := [...]byte{gpioSetD, value, mask}
	_, err := h.Write(b[:])
	return err
}

// MPSSECBusRead reads C0~C7.
func (h *handle) MPSSECBusRead() (byte, error) {
	return h.mpsseRead(gpioReadC)
}

// MPSSEDBusRead reads D0~D7.
func (h *handle) MPSSEDBusRead() (byte, error) {
	return h.mpsseRead(gpioReadD)
}

func (h *handle) mpsseRead(op byte) (byte, error) {
	b := [...]byte{op, flush}
	if _, err := h.Write(b[:]); err != nil {
		return 0, err
	}
	ctx, cancel := context200ms()
	defer cancel()
	if _, err := h.ReadAll(ctx, b[:1]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func context200ms() (context.Context, func()) {
	return context.WithTimeout(context.Background(), 200*time.Millisecond)
}
