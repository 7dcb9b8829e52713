// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

// Package client speaks the tracker wire protocol: magic handshake,
// then framed JSON requests. It covers every opcode the tracker acts
// on — workers use UpdateInfo and Put to advertise slots, requesters use
// Request to block until the tracker pairs them with a worker, and
// operators use Ping, Summary, PendingMatchKeys, and Stop.
//
// A Client drives one connection and is not safe for concurrent use;
// open one connection per role, the way worker and requester processes
// do.
package client
