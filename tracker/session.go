// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tracker-foundation/tracker/lib/netutil"
	"github.com/tracker-foundation/tracker/lib/wire"
)

// session drives one connected peer: magic handshake, then a blocking
// request loop that dispatches frames through the tracker. Responses
// may also arrive from scheduler goroutines pairing on behalf of other
// sessions, so all frame writes serialize on writeMu.
type session struct {
	tracker  *Tracker
	conn     net.Conn
	peerHost string
	peerPort int
	logger   *slog.Logger

	writeMu sync.Mutex

	// mu guards key and pendingMatchKeys. The session appends match
	// keys on PUT; schedulers remove them on successful pairing.
	mu               sync.Mutex
	key              string
	pendingMatchKeys map[string]struct{}
}

func newSession(t *Tracker, conn net.Conn, peerHost string, peerPort int) *session {
	return &session{
		tracker:          t,
		conn:             conn,
		peerHost:         peerHost,
		peerPort:         peerPort,
		logger:           t.logger.With("peer", net.JoinHostPort(peerHost, strconv.Itoa(peerPort))),
		pendingMatchKeys: make(map[string]struct{}),
	}
}

// run is the session goroutine body. Any handshake, framing, protocol,
// or socket error tears the session down: the tracker scrubs every
// queue entry referencing it and the socket closes. Errors never
// propagate past this function.
func (s *session) run() {
	defer func() {
		s.tracker.closeSession(s)
		s.conn.Close()
	}()

	if err := wire.AcceptHandshake(s.conn); err != nil {
		// Not a tracker peer (or it vanished mid-handshake): close
		// silently, no reply.
		if !errors.Is(err, wire.ErrBadMagic) && !netutil.IsExpectedCloseError(err) {
			s.logger.Debug("handshake failed", "error", err)
		}
		return
	}
	s.logger.Debug("peer connected")

	for {
		payload, err := wire.ReadFrame(s.conn, s.tracker.maxFrameBytes)
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				s.logger.Debug("read failed", "error", err)
			}
			return
		}
		if err := s.dispatch(payload); err != nil {
			s.logger.Debug("dropping session", "error", err)
			return
		}
	}
}

// dispatch decodes one request frame and executes it. A returned error
// is a protocol violation (or a dead socket) and drops the session
// without a reply.
func (s *session) dispatch(payload []byte) error {
	var elements []json.RawMessage
	if err := json.Unmarshal(payload, &elements); err != nil {
		return fmt.Errorf("parsing request frame: %w", err)
	}
	if len(elements) == 0 {
		return errors.New("empty request array")
	}
	var opValue int
	if err := json.Unmarshal(elements[0], &opValue); err != nil {
		return fmt.Errorf("parsing opcode: %w", err)
	}
	op := wire.Opcode(opValue)
	if !op.Valid() {
		return fmt.Errorf("opcode %d out of range", opValue)
	}
	s.logger.Debug("request", "op", op.String())

	args := elements[1:]
	switch op {
	case wire.OpFail, wire.OpSuccess:
		// Status codes from the peer carry no action.
		return nil
	case wire.OpPing:
		return s.sendCode(wire.ReplySuccess)
	case wire.OpStop:
		if err := s.sendCode(wire.ReplySuccess); err != nil {
			return err
		}
		s.tracker.requestStop()
		return nil
	case wire.OpPut:
		return s.handlePut(args)
	case wire.OpRequest:
		return s.handleRequest(args)
	case wire.OpUpdateInfo:
		return s.handleUpdateInfo(args)
	case wire.OpSummary:
		return s.handleSummary()
	case wire.OpGetPendingMatchKeys:
		return s.handlePendingMatchKeys()
	}
	return nil
}

// handlePut records a worker offer: [PUT, key, [port, match_key]] with
// an optional advertised address either as a third tuple element or a
// fourth message element. The worker may be paired long after the
// SUCCESS reply goes out.
func (s *session) handlePut(args []json.RawMessage) error {
	if len(args) < 2 {
		return errors.New("PUT needs a key and a worker tuple")
	}
	var key string
	if err := json.Unmarshal(args[0], &key); err != nil {
		return fmt.Errorf("parsing PUT key: %w", err)
	}
	var tuple []json.RawMessage
	if err := json.Unmarshal(args[1], &tuple); err != nil {
		return fmt.Errorf("parsing PUT worker tuple: %w", err)
	}
	if len(tuple) < 2 {
		return errors.New("PUT worker tuple needs port and match key")
	}
	var port int
	if err := json.Unmarshal(tuple[0], &port); err != nil {
		return fmt.Errorf("parsing PUT port: %w", err)
	}
	var matchKey string
	if err := json.Unmarshal(tuple[1], &matchKey); err != nil {
		return fmt.Errorf("parsing PUT match key: %w", err)
	}

	address := s.peerHost
	if len(tuple) >= 3 {
		if override, ok := optionalAddress(tuple[2]); ok {
			address = override
		}
	}
	if len(args) >= 3 {
		if override, ok := optionalAddress(args[2]); ok {
			address = override
		}
	}

	s.addMatchKey(matchKey)
	s.tracker.put(key, address, port, matchKey, s)
	return s.sendCode(wire.ReplySuccess)
}

// optionalAddress decodes an advertised-address element. JSON null,
// non-strings, the empty string, and the literal string "null" all
// mean "absent" — use the observed peer host instead.
func optionalAddress(raw json.RawMessage) (string, bool) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", false
	}
	if text == "" || text == "null" {
		return "", false
	}
	return text, true
}

// handleRequest enqueues [REQUEST, key, user, priority]. No immediate
// reply: whichever scheduler drain eventually pairs the request writes
// the reply, possibly from another session's goroutine. The read loop
// keeps running in the meantime.
func (s *session) handleRequest(args []json.RawMessage) error {
	if len(args) < 3 {
		return errors.New("REQUEST needs key, user, and priority")
	}
	var key string
	if err := json.Unmarshal(args[0], &key); err != nil {
		return fmt.Errorf("parsing REQUEST key: %w", err)
	}
	var user string
	if err := json.Unmarshal(args[1], &user); err != nil {
		return fmt.Errorf("parsing REQUEST user: %w", err)
	}
	var priority int
	if err := json.Unmarshal(args[2], &priority); err != nil {
		return fmt.Errorf("parsing REQUEST priority: %w", err)
	}
	s.tracker.request(key, user, priority, s)
	return nil
}

// handleUpdateInfo sets the session's self-reported key from
// [UPDATE_INFO, {"key": value}]. Only the "server"/"client" prefix is
// ever inspected.
func (s *session) handleUpdateInfo(args []json.RawMessage) error {
	if len(args) < 1 {
		return errors.New("UPDATE_INFO needs an info object")
	}
	var info map[string]any
	if err := json.Unmarshal(args[0], &info); err != nil {
		return fmt.Errorf("parsing UPDATE_INFO object: %w", err)
	}
	value, ok := info["key"].(string)
	if !ok {
		// Tolerate peers that name the field differently: take the
		// first string value in the object.
		for _, v := range info {
			if text, isString := v.(string); isString {
				value, ok = text, true
				break
			}
		}
	}
	if !ok {
		return errors.New("UPDATE_INFO carries no string value")
	}

	s.mu.Lock()
	s.key = value
	s.mu.Unlock()
	return s.sendCode(wire.ReplySuccess)
}

// summaryBody is the object element of the SUMMARY reply.
type summaryBody struct {
	QueueInfo  map[string]QueueSummary `json:"queue_info"`
	ServerInfo []ServerEntry           `json:"server_info"`
}

// ServerEntry describes one connected worker session in SUMMARY
// output: the observed peer endpoint and the self-reported key.
type ServerEntry struct {
	Addr [2]any `json:"addr"`
	Key  string `json:"key"`
}

func (s *session) handleSummary() error {
	body := summaryBody{
		QueueInfo:  s.tracker.Summary(),
		ServerInfo: s.tracker.serverEntries(),
	}
	payload, err := json.Marshal([]any{wire.ReplySuccess, body})
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	return s.sendFrame(payload)
}

// handlePendingMatchKeys reports this session's own unconsumed offers,
// not a tracker-wide view.
func (s *session) handlePendingMatchKeys() error {
	payload, err := json.Marshal(s.pendingSnapshot())
	if err != nil {
		return fmt.Errorf("encoding pending match keys: %w", err)
	}
	return s.sendFrame(payload)
}

// sendCode writes a bare status code frame: the ASCII decimal of the
// code, not a JSON array. Existing peers parse exactly this shape.
func (s *session) sendCode(code int) error {
	return s.sendFrame([]byte(strconv.Itoa(code)))
}

// sendFrame writes one frame under the write lock. Safe to call from
// scheduler goroutines delivering pairing replies.
func (s *session) sendFrame(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteFrame(s.conn, payload)
}

func (s *session) addMatchKey(matchKey string) {
	s.mu.Lock()
	s.pendingMatchKeys[matchKey] = struct{}{}
	s.mu.Unlock()
}

// releaseMatchKey implements responder: a scheduler consumed this
// offer by delivering it to a requester.
func (s *session) releaseMatchKey(matchKey string) {
	s.mu.Lock()
	delete(s.pendingMatchKeys, matchKey)
	s.mu.Unlock()
}

func (s *session) pendingSnapshot() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.pendingMatchKeys))
	for matchKey := range s.pendingMatchKeys {
		keys = append(keys, matchKey)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

func (s *session) currentKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// isServer reports whether the peer announced itself as a worker
// endpoint ("server:<name>"). Only the prefix matters.
func (s *session) isServer() bool {
	return strings.HasPrefix(s.currentKey(), "server")
}
