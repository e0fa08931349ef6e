// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package wire

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind is the type of the message carried by an Envelope.
type Kind uint8

const (
	KindRequest  Kind = 1
	KindResponse Kind = 2
	KindFrame    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindFrame:
		return "Frame"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Op is a request operation.
type Op uint8

const (
	// OpWrite sends Data to the controller. Result is the number of bytes
	// written.
	OpWrite Op = 1
	// OpIoctl runs the control opcode Cmd with Arg. Result is the opcode
	// return value.
	OpIoctl Op = 2
	// OpIRQ returns the interrupt line level in Result.
	OpIRQ Op = 3
	// OpSuspend prepares the session for host sleep.
	OpSuspend Op = 4
	// OpResume undoes OpSuspend.
	OpResume Op = 5
	// OpInfo returns the packed chip identity in Result and its description in
	// Data.
	OpInfo Op = 6
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "write"
	case OpIoctl:
		return "ioctl"
	case OpIRQ:
		return "irq"
	case OpSuspend:
		return "suspend"
	case OpResume:
		return "resume"
	case OpInfo:
		return "info"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// IsValid reports whether o is a known operation.
func (o Op) IsValid() bool {
	return o >= OpWrite && o <= OpInfo
}

// Request is sent by a client.
type Request struct {
	ID   uint32 `cbor:"1,keyasint"`
	Op   Op     `cbor:"2,keyasint"`
	Cmd  uint32 `cbor:"3,keyasint,omitempty"`
	Arg  uint32 `cbor:"4,keyasint,omitempty"`
	Data []byte `cbor:"5,keyasint,omitempty"`
}

// Validate checks that the request can be executed.
func (r *Request) Validate() error {
	if r.ID == 0 {
		return errors.New("request id 0 is reserved")
	}
	if !r.Op.IsValid() {
		return fmt.Errorf("invalid operation: %d", r.Op)
	}
	if r.Op == OpWrite && len(r.Data) == 0 {
		return errors.New("write without data")
	}
	return nil
}

// Response answers the request with the same ID.
type Response struct {
	ID     uint32 `cbor:"1,keyasint"`
	Result int64  `cbor:"2,keyasint"`
	Errno  uint32 `cbor:"3,keyasint,omitempty"`
	Data   []byte `cbor:"4,keyasint,omitempty"`
}

// Err returns the error carried by the response, nil on success.
func (r *Response) Err() error {
	if r.Errno == 0 {
		return nil
	}
	return unix.Errno(r.Errno)
}

// Frame is an NCI frame read from the controller.
type Frame struct {
	Data []byte `cbor:"1,keyasint"`
}

// Envelope carries exactly one message.
type Envelope struct {
	Kind     Kind      `cbor:"1,keyasint"`
	Request  *Request  `cbor:"2,keyasint,omitempty"`
	Response *Response `cbor:"3,keyasint,omitempty"`
	Frame    *Frame    `cbor:"4,keyasint,omitempty"`
}

// Validate checks that the body matches the kind.
func (e *Envelope) Validate() error {
	n := 0
	if e.Request != nil {
		n++
	}
	if e.Response != nil {
		n++
	}
	if e.Frame != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("envelope carries %d messages", n)
	}
	switch e.Kind {
	case KindRequest:
		if e.Request == nil {
			return errors.New("request envelope without request")
		}
		return e.Request.Validate()
	case KindResponse:
		if e.Response == nil {
			return errors.New("response envelope without response")
		}
	case KindFrame:
		if e.Frame == nil {
			return errors.New("frame envelope without frame")
		}
	default:
		return fmt.Errorf("invalid kind: %d", e.Kind)
	}
	return nil
}
