// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracker implements the resource tracker service: a TCP
// server that brokers matches between registered worker endpoints and
// priority-ordered client requests for the same key.
//
// Workers advertise one slot per PUT under an opaque key (typically a
// device family) and are held in arrival order. Clients REQUEST a key
// with a priority; higher priority wins, equal priorities are served
// FIFO. A pairing removes one worker and one request and delivers the
// worker's (address, port, match_key) tuple to the requester, which
// then contacts the worker out-of-band. The tracker never learns what
// a paired job computes.
//
// One tracker per process: Start binds the first free port in a range
// and is idempotent while running; Terminate tears the instance down
// and a later Start yields a fresh one. Host programs that want more
// control can construct instances directly with New.
package tracker
