// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package wire defines the messages exchanged with an NFC session over the
// network.
//
// Every message is a CBOR Envelope with integer keys. A client sends
// requests; the server answers each with a response carrying the same ID and
// broadcasts the frames read from the controller.
//
//	Envelope {1: kind, 2: request, 3: response, 4: frame}
//	Request  {1: id, 2: op, 3: cmd, 4: arg, 5: data}
//	Response {1: id, 2: result, 3: errno, 4: data}
//	Frame    {1: data}
package wire
