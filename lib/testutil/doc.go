// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers: channel receive and
// close assertions with timeout safety valves, so individual tests do
// not hang forever when a goroutine under test misbehaves.
package testutil
