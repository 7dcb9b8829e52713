// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the tracker's framed JSON protocol: a raw
// 4-byte magic handshake followed by length-prefixed UTF-8 JSON frames.
//
// Every frame on the wire is <length:uint32 little-endian><payload>.
// The handshake integer itself is NOT length-prefixed — peers exchange
// the magic constant as four raw bytes before the first frame.
//
// The package also defines the request opcode set and the reply success
// code. The two are distinct numbering spaces: requests carry opcodes
// 0–8, while every affirmative reply leads with the code 2. Existing
// peers depend on that asymmetry; see ReplySuccess.
package wire
