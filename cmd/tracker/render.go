// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tracker-foundation/tracker/client"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	busyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// renderSummary formats the SUMMARY reply as two terminal tables: per-
// key queue depths, then connected worker sessions.
func renderSummary(summary client.Summary) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("QUEUES"))
	b.WriteByte('\n')
	if len(summary.QueueInfo) == 0 {
		b.WriteString(dimStyle.Render("  (no keys)"))
		b.WriteByte('\n')
	} else {
		keys := make([]string, 0, len(summary.QueueInfo))
		keyWidth := len("KEY")
		for key := range summary.QueueInfo {
			keys = append(keys, key)
			if len(key) > keyWidth {
				keyWidth = len(key)
			}
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, "  %-*s  %7s  %7s\n", keyWidth, "KEY", "FREE", "PENDING")
		for _, key := range keys {
			counts := summary.QueueInfo[key]
			line := fmt.Sprintf("  %-*s  %7d  %7d", keyWidth, key, counts.Free, counts.Pending)
			if counts.Pending > 0 {
				line = busyStyle.Render(line)
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	b.WriteByte('\n')
	b.WriteString(headerStyle.Render("WORKERS"))
	b.WriteByte('\n')
	if len(summary.ServerInfo) == 0 {
		b.WriteString(dimStyle.Render("  (none connected)"))
		b.WriteByte('\n')
		return b.String()
	}
	addrWidth := len("ADDRESS")
	for _, info := range summary.ServerInfo {
		if len(info.Addr.String()) > addrWidth {
			addrWidth = len(info.Addr.String())
		}
	}
	fmt.Fprintf(&b, "  %-*s  %s\n", addrWidth, "ADDRESS", "KEY")
	for _, info := range summary.ServerInfo {
		fmt.Fprintf(&b, "  %-*s  %s\n", addrWidth, info.Addr.String(), info.Key)
	}
	return b.String()
}
