// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// contextsFile is the operator's named-endpoint registry. JSONC so the
// file can carry comments:
//
//	{
//	  // lab bench tracker
//	  "contexts": {"lab": "10.0.0.5:9190"},
//	  "default": "lab"
//	}
type contextsFile struct {
	Contexts map[string]string `json:"contexts"`
	Default  string            `json:"default"`
}

// contextsPath returns the contexts file location: TRACKER_CONTEXTS
// overrides, otherwise ~/.config/tracker/contexts.jsonc.
func contextsPath() string {
	if path := os.Getenv("TRACKER_CONTEXTS"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tracker", "contexts.jsonc")
}

func loadContexts(path string) (*contextsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file contextsFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return nil, fmt.Errorf("parsing contexts file %s: %w", path, err)
	}
	return &file, nil
}

// resolveEndpoint picks the tracker address for a command: an explicit
// --tracker wins, then --context looked up in the contexts file, then
// the file's default context, then the conventional local port.
func resolveEndpoint(trackerAddr, contextName string) (string, error) {
	if trackerAddr != "" {
		return trackerAddr, nil
	}

	path := contextsPath()
	if path != "" {
		file, err := loadContexts(path)
		switch {
		case err == nil:
			name := contextName
			if name == "" {
				name = file.Default
			}
			if name != "" {
				addr, ok := file.Contexts[name]
				if !ok {
					return "", fmt.Errorf("context %q not found in %s", name, path)
				}
				return addr, nil
			}
		case contextName != "":
			return "", fmt.Errorf("context %q requested but contexts file unreadable: %w", contextName, err)
		case !os.IsNotExist(err):
			return "", err
		}
	}

	return "127.0.0.1:9190", nil
}
