// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"log/slog"
	"os"
	"sync"
)

// The process-wide tracker. Start constructs it under the lock if
// absent; Terminate tears it down and clears the slot so a later Start
// yields a fresh instance.
var (
	singletonMu sync.Mutex
	singleton   *Tracker
)

// Start launches the process-wide tracker on the first free port in
// [port, portEnd] and returns the bound port. Idempotent: if a tracker
// is already running, Start returns its port without error and ignores
// the arguments. silent suppresses info-level logs.
func Start(host string, port, portEnd int, silent bool) (int, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if singleton != nil {
		return singleton.Port(), nil
	}

	level := slog.LevelInfo
	if silent {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	t, err := New(Options{Host: host, Port: port, PortEnd: portEnd, Logger: logger})
	if err != nil {
		return 0, err
	}
	singleton = t
	return t.Port(), nil
}

// Stop shuts the process-wide tracker down. Alias for Terminate; the
// STOP opcode replies SUCCESS first and then takes this path.
func Stop() { Terminate() }

// Terminate tears the process-wide tracker down and clears the slot.
// No-op when none is running. Returns after all session goroutines
// have exited.
func Terminate() {
	singletonMu.Lock()
	t := singleton
	singleton = nil
	singletonMu.Unlock()

	if t != nil {
		t.Terminate()
	}
}

// forgetSingleton clears the slot if t is the process-wide instance.
// Remote STOP goes through here so a subsequent Start works whether
// the tracker was started via Start or New.
func forgetSingleton(t *Tracker) {
	singletonMu.Lock()
	if singleton == t {
		singleton = nil
	}
	singletonMu.Unlock()
}
