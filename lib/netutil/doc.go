// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small networking helpers shared by the tracker
// and its clients: classifying normal-disconnect errors and splitting
// observed peer addresses.
package netutil
