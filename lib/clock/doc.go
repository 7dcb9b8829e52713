// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability: Real() delegates to the
// time package, Fake() gives tests deterministic control over sleeps
// and timers (the client's retrying connect is the main consumer).
package clock
