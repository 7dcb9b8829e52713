// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tracker-foundation/tracker/lib/clock"
	"github.com/tracker-foundation/tracker/lib/wire"
)

// Client is one tracker connection. Methods issue a request frame and,
// where the protocol replies, block reading the response. Not safe for
// concurrent use.
type Client struct {
	conn          net.Conn
	maxFrameBytes uint32
}

// Dial connects to a tracker at addr (host:port) and runs the magic
// handshake. A peer that is not a tracker fails here, not later.
func Dial(ctx context.Context, addr string) (*Client, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing tracker %s: %w", addr, err)
	}
	if err := wire.Handshake(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tracker handshake with %s: %w", addr, err)
	}
	return &Client{conn: conn, maxFrameBytes: wire.DefaultMaxFrameBytes}, nil
}

// DialRetry dials the tracker repeatedly at the given interval until a
// connection succeeds or ctx is done. Workers use this to ride out a
// tracker that has not come up yet or is restarting.
func DialRetry(ctx context.Context, addr string, interval time.Duration, clk clock.Clock) (*Client, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = time.Second
	}
	for {
		c, err := Dial(ctx, addr)
		if err == nil {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("giving up on tracker %s: %w (last attempt: %v)", addr, ctx.Err(), err)
		case <-clk.After(interval):
		}
	}
}

// Close closes the connection. Pending offers and queued requests on
// this connection drop out of the tracker's queues.
func (c *Client) Close() error { return c.conn.Close() }

// SetDeadline bounds all future reads and writes on the connection.
// The zero time removes the deadline. Useful around Request, which
// otherwise blocks until the tracker pairs it.
func (c *Client) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// Ping checks liveness: the tracker replies with the bare success
// code.
func (c *Client) Ping() error {
	reply, err := c.roundTrip([]any{int(wire.OpPing)})
	if err != nil {
		return err
	}
	return expectSuccess(reply)
}

// Stop asks the tracker to shut down. The tracker acknowledges first
// and terminates after.
func (c *Client) Stop() error {
	reply, err := c.roundTrip([]any{int(wire.OpStop)})
	if err != nil {
		return err
	}
	return expectSuccess(reply)
}

// UpdateInfo announces this connection's role key. Workers send
// "server:<name>"; requesters conventionally send "client:<name>".
func (c *Client) UpdateInfo(key string) error {
	reply, err := c.roundTrip([]any{int(wire.OpUpdateInfo), map[string]string{"key": key}})
	if err != nil {
		return err
	}
	return expectSuccess(reply)
}

// Put advertises one worker slot under key: the port the worker
// serves on and an opaque matchKey identifying this specific offer.
// addr optionally overrides the address the tracker observed for this
// connection; empty means "use the observed peer host". The tracker
// acknowledges immediately — pairing may happen much later.
func (c *Client) Put(key string, port int, matchKey string, addr string) error {
	var addrElement any
	if addr != "" {
		addrElement = addr
	}
	reply, err := c.roundTrip([]any{int(wire.OpPut), key, []any{port, matchKey}, addrElement})
	if err != nil {
		return err
	}
	return expectSuccess(reply)
}

// WorkerAddress identifies one paired worker: where to reach it and
// the match key naming the consumed offer.
type WorkerAddress struct {
	Address  string
	Port     int
	MatchKey string
}

// Request asks for one worker under key and blocks until the tracker
// pairs this request. Higher priority is served first; equal
// priorities are served in arrival order. Use SetDeadline to bound the
// wait.
func (c *Client) Request(key, user string, priority int) (WorkerAddress, error) {
	if err := c.send([]any{int(wire.OpRequest), key, user, priority}); err != nil {
		return WorkerAddress{}, err
	}
	reply, err := c.readFrame()
	if err != nil {
		return WorkerAddress{}, err
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(reply, &elements); err != nil {
		return WorkerAddress{}, fmt.Errorf("parsing pairing reply: %w", err)
	}
	if len(elements) < 2 {
		return WorkerAddress{}, fmt.Errorf("pairing reply has %d elements, want 2", len(elements))
	}
	if err := expectSuccess(elements[0]); err != nil {
		return WorkerAddress{}, err
	}
	var tuple []json.RawMessage
	if err := json.Unmarshal(elements[1], &tuple); err != nil {
		return WorkerAddress{}, fmt.Errorf("parsing worker tuple: %w", err)
	}
	if len(tuple) < 3 {
		return WorkerAddress{}, fmt.Errorf("worker tuple has %d elements, want 3", len(tuple))
	}
	var worker WorkerAddress
	if err := json.Unmarshal(tuple[0], &worker.Address); err != nil {
		return WorkerAddress{}, fmt.Errorf("parsing worker address: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &worker.Port); err != nil {
		return WorkerAddress{}, fmt.Errorf("parsing worker port: %w", err)
	}
	if err := json.Unmarshal(tuple[2], &worker.MatchKey); err != nil {
		return WorkerAddress{}, fmt.Errorf("parsing worker match key: %w", err)
	}
	return worker, nil
}

// QueueCounts is one key's queue depths from SUMMARY.
type QueueCounts struct {
	Free    int `json:"free"`
	Pending int `json:"pending"`
}

// PeerAddr is a tracker-observed peer endpoint, sent on the wire as a
// two-element [host, port] array.
type PeerAddr struct {
	Host string
	Port int
}

func (a *PeerAddr) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("parsing addr pair: %w", err)
	}
	if len(parts) < 2 {
		return fmt.Errorf("addr pair has %d elements, want 2", len(parts))
	}
	if err := json.Unmarshal(parts[0], &a.Host); err != nil {
		return fmt.Errorf("parsing addr host: %w", err)
	}
	if err := json.Unmarshal(parts[1], &a.Port); err != nil {
		return fmt.Errorf("parsing addr port: %w", err)
	}
	return nil
}

func (a PeerAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{a.Host, a.Port})
}

func (a PeerAddr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ServerInfo describes one connected worker session from SUMMARY.
type ServerInfo struct {
	Addr PeerAddr `json:"addr"`
	Key  string   `json:"key"`
}

// Summary is the tracker's SUMMARY reply: queue depths per key and the
// connected worker sessions.
type Summary struct {
	QueueInfo  map[string]QueueCounts `json:"queue_info"`
	ServerInfo []ServerInfo           `json:"server_info"`
}

// Summary fetches queue depths for every key and the list of
// connected worker sessions.
func (c *Client) Summary() (Summary, error) {
	reply, err := c.roundTrip([]any{int(wire.OpSummary)})
	if err != nil {
		return Summary{}, err
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(reply, &elements); err != nil {
		return Summary{}, fmt.Errorf("parsing summary reply: %w", err)
	}
	if len(elements) < 2 {
		return Summary{}, fmt.Errorf("summary reply has %d elements, want 2", len(elements))
	}
	if err := expectSuccess(elements[0]); err != nil {
		return Summary{}, err
	}
	var summary Summary
	if err := json.Unmarshal(elements[1], &summary); err != nil {
		return Summary{}, fmt.Errorf("parsing summary body: %w", err)
	}
	return summary, nil
}

// PendingMatchKeys returns this connection's own offers that have not
// been consumed by a pairing yet.
func (c *Client) PendingMatchKeys() ([]string, error) {
	reply, err := c.roundTrip([]any{int(wire.OpGetPendingMatchKeys)})
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := json.Unmarshal(reply, &keys); err != nil {
		return nil, fmt.Errorf("parsing pending match keys: %w", err)
	}
	return keys, nil
}

func (c *Client) send(message []any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return wire.WriteFrame(c.conn, payload)
}

func (c *Client) readFrame() ([]byte, error) {
	return wire.ReadFrame(c.conn, c.maxFrameBytes)
}

func (c *Client) roundTrip(message []any) ([]byte, error) {
	if err := c.send(message); err != nil {
		return nil, err
	}
	return c.readFrame()
}

// expectSuccess accepts both reply spellings: the bare ASCII code of a
// status reply and a bare JSON number inside an array reply.
func expectSuccess(reply []byte) error {
	code, err := strconv.Atoi(string(bytes.TrimSpace(reply)))
	if err != nil {
		return fmt.Errorf("unexpected tracker reply %q", reply)
	}
	if code != wire.ReplySuccess {
		return fmt.Errorf("tracker replied with code %d", code)
	}
	return nil
}
