// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewMatchKey generates a fresh match key for one worker offer under
// key: "<key>:<random hex>". The random suffix keeps concurrent offers
// under the same key distinct, which is what lets the tracker promise
// a match key is never handed to two requesters.
func NewMatchKey(key string) (string, error) {
	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("generating match key suffix: %w", err)
	}
	return key + ":" + hex.EncodeToString(suffix[:]), nil
}
