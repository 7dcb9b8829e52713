// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/tracker-foundation/tracker/client"
	"github.com/tracker-foundation/tracker/lib/version"
)

func main() {
	root := &command{
		Name:    "tracker",
		Usage:   "tracker <command> [flags]",
		Summary: "Operate a running resource tracker.",
		Subcommands: []*command{
			pingCommand(),
			statusCommand(),
			requestCommand(),
			putCommand(),
			matchkeysCommand(),
			stopCommand(),
			versionCommand(),
		},
	}
	if err := root.execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// endpointFlags are the flags every networked subcommand shares: an
// explicit address or a named context, plus a time budget.
type endpointFlags struct {
	tracker string
	context string
	timeout time.Duration
}

func (f *endpointFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.tracker, "tracker", "", "tracker address host:port (overrides contexts)")
	flags.StringVarP(&f.context, "context", "c", "", "named endpoint from the contexts file")
	flags.DurationVar(&f.timeout, "timeout", 10*time.Second, "time budget for the operation")
}

// connect resolves the endpoint and dials it with the flag timeout
// applied to the whole operation.
func (f *endpointFlags) connect() (*client.Client, error) {
	addr, err := resolveEndpoint(f.tracker, f.context)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	c, err := client.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	if f.timeout > 0 {
		c.SetDeadline(time.Now().Add(f.timeout))
	}
	return c, nil
}

func pingCommand() *command {
	var endpoint endpointFlags
	cmd := &command{
		Name:    "ping",
		Usage:   "tracker ping [flags]",
		Summary: "Check that the tracker is alive.",
	}
	cmd.Flags = func() *pflag.FlagSet {
		flags := pflag.NewFlagSet("ping", pflag.ContinueOnError)
		endpoint.register(flags)
		return flags
	}
	cmd.Run = func(args []string) error {
		c, err := endpoint.connect()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Ping(); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	}
	return cmd
}

func statusCommand() *command {
	var endpoint endpointFlags
	cmd := &command{
		Name:    "status",
		Usage:   "tracker status [flags]",
		Summary: "Show queue depths per key and connected workers.",
	}
	cmd.Flags = func() *pflag.FlagSet {
		flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
		endpoint.register(flags)
		return flags
	}
	cmd.Run = func(args []string) error {
		c, err := endpoint.connect()
		if err != nil {
			return err
		}
		defer c.Close()
		summary, err := c.Summary()
		if err != nil {
			return err
		}
		fmt.Print(renderSummary(summary))
		return nil
	}
	return cmd
}

func requestCommand() *command {
	var endpoint endpointFlags
	var user string
	var priority int
	cmd := &command{
		Name:    "request",
		Usage:   "tracker request <key> [flags]",
		Summary: "Request one worker under a key and print its address.",
	}
	cmd.Flags = func() *pflag.FlagSet {
		flags := pflag.NewFlagSet("request", pflag.ContinueOnError)
		endpoint.register(flags)
		flags.StringVar(&user, "user", "tracker-cli", "requester label shown in tracker logs")
		flags.IntVar(&priority, "priority", 0, "request priority (higher wins)")
		return flags
	}
	cmd.Run = func(args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("request needs exactly one key argument")
		}
		c, err := endpoint.connect()
		if err != nil {
			return err
		}
		defer c.Close()
		worker, err := c.Request(args[0], user, priority)
		if err != nil {
			return err
		}
		fmt.Printf("%s:%d %s\n", worker.Address, worker.Port, worker.MatchKey)
		return nil
	}
	return cmd
}

func putCommand() *command {
	var endpoint endpointFlags
	var port int
	var matchKey string
	var addr string
	var hold time.Duration
	cmd := &command{
		Name:    "put",
		Usage:   "tracker put <key> --port <port> [flags]",
		Summary: "Advertise one worker slot and hold it until paired.",
	}
	cmd.Flags = func() *pflag.FlagSet {
		flags := pflag.NewFlagSet("put", pflag.ContinueOnError)
		endpoint.register(flags)
		flags.IntVar(&port, "port", 0, "port the worker serves on (required)")
		flags.StringVar(&matchKey, "match-key", "", "offer identifier (generated when empty)")
		flags.StringVar(&addr, "addr", "", "advertised address (defaults to the observed peer host)")
		flags.DurationVar(&hold, "hold", 0, "keep the connection open this long so the offer stays live (0 = until interrupted)")
		return flags
	}
	cmd.Run = func(args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("put needs exactly one key argument")
		}
		if port == 0 {
			return fmt.Errorf("--port is required")
		}
		key := args[0]
		if matchKey == "" {
			generated, err := client.NewMatchKey(key)
			if err != nil {
				return err
			}
			matchKey = generated
		}
		c, err := endpoint.connect()
		if err != nil {
			return err
		}
		defer c.Close()
		// The offer lives only as long as this connection, so the
		// round-trip deadline must not apply to the hold.
		c.SetDeadline(time.Now().Add(endpoint.timeout))
		if err := c.UpdateInfo("server:" + key); err != nil {
			return err
		}
		if err := c.Put(key, port, matchKey, addr); err != nil {
			return err
		}
		c.SetDeadline(time.Time{})
		fmt.Printf("offered %s (%s)\n", key, matchKey)
		if hold > 0 {
			time.Sleep(hold)
			return nil
		}
		select {}
	}
	return cmd
}

func matchkeysCommand() *command {
	var endpoint endpointFlags
	cmd := &command{
		Name:    "matchkeys",
		Usage:   "tracker matchkeys [flags]",
		Summary: "List this connection's unconsumed offers (mainly for protocol debugging).",
	}
	cmd.Flags = func() *pflag.FlagSet {
		flags := pflag.NewFlagSet("matchkeys", pflag.ContinueOnError)
		endpoint.register(flags)
		return flags
	}
	cmd.Run = func(args []string) error {
		c, err := endpoint.connect()
		if err != nil {
			return err
		}
		defer c.Close()
		keys, err := c.PendingMatchKeys()
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	}
	return cmd
}

func stopCommand() *command {
	var endpoint endpointFlags
	cmd := &command{
		Name:    "stop",
		Usage:   "tracker stop [flags]",
		Summary: "Ask the tracker to shut down.",
	}
	cmd.Flags = func() *pflag.FlagSet {
		flags := pflag.NewFlagSet("stop", pflag.ContinueOnError)
		endpoint.register(flags)
		return flags
	}
	cmd.Run = func(args []string) error {
		c, err := endpoint.connect()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Stop()
	}
	return cmd
}

func versionCommand() *command {
	return &command{
		Name:    "version",
		Usage:   "tracker version",
		Summary: "Print version information.",
		Run: func(args []string) error {
			fmt.Println(version.Full())
			return nil
		},
	}
}
