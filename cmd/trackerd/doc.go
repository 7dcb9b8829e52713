// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

// trackerd runs the resource tracker daemon: it binds the first free
// port in the configured range, serves the tracker protocol until
// signalled (SIGINT/SIGTERM) or stopped remotely via the STOP opcode,
// then drains all sessions and exits.
//
// Configuration comes from a YAML file (TRACKER_CONFIG or --config);
// flags override file values.
package main
