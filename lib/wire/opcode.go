// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "fmt"

// Magic is the 32-bit handshake constant shared with the wider RPC
// ecosystem. A connecting peer sends it as four raw little-endian bytes;
// the tracker echoes the same bytes on acceptance and closes the
// connection on mismatch.
const Magic uint32 = 0x2f271

// Opcode is the first element of every request frame's JSON array.
type Opcode int

// The closed request opcode set. Values are wire-visible and fixed.
const (
	OpFail Opcode = iota
	OpSuccess
	OpPing
	OpStop
	OpPut
	OpRequest
	OpUpdateInfo
	OpSummary
	OpGetPendingMatchKeys
)

// ReplySuccess is the code at the head of every affirmative reply:
// the bare ASCII "2" for PING/PUT/STOP/UPDATE_INFO, and the first
// element of the REQUEST and SUMMARY reply arrays. It is not the
// same value as OpSuccess — peers were built against this numbering
// and it must not be normalized.
const ReplySuccess = 2

// Valid reports whether op is inside the closed opcode set. Frames
// carrying anything else are a protocol error and drop the session.
func (op Opcode) Valid() bool {
	return op >= OpFail && op <= OpGetPendingMatchKeys
}

func (op Opcode) String() string {
	switch op {
	case OpFail:
		return "FAIL"
	case OpSuccess:
		return "SUCCESS"
	case OpPing:
		return "PING"
	case OpStop:
		return "STOP"
	case OpPut:
		return "PUT"
	case OpRequest:
		return "REQUEST"
	case OpUpdateInfo:
		return "UPDATE_INFO"
	case OpSummary:
		return "SUMMARY"
	case OpGetPendingMatchKeys:
		return "GET_PENDING_MATCHKEYS"
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}
