// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/tracker-foundation/tracker/lib/netutil"
	"github.com/tracker-foundation/tracker/lib/wire"
)

// ErrBindFailed is returned by New (and Start) when no port in
// [Port, PortEnd] could be bound. Nothing is left running.
var ErrBindFailed = errors.New("no free port in range")

// Options configures a Tracker instance.
type Options struct {
	// Host is the address to bind ("0.0.0.0", "127.0.0.1", ...).
	Host string

	// Port and PortEnd bound the inclusive bind scan. The first free
	// port wins. PortEnd below Port means "Port only".
	Port    int
	PortEnd int

	// Logger receives structured logs. Nil means slog.Default().
	Logger *slog.Logger

	// MaxFrameBytes caps accepted frame payloads. Zero applies
	// wire.DefaultMaxFrameBytes.
	MaxFrameBytes uint32
}

// Tracker owns the listening socket, the set of live sessions, and the
// per-key schedulers (created lazily, never destroyed while the
// tracker lives). Cross-connection mutations serialize on one mutex;
// per-scheduler work inside it stays short, and no lock is ever held
// across a socket write. Lock order is tracker then scheduler, never
// the reverse.
type Tracker struct {
	host          string
	port          int
	listener      net.Listener
	logger        *slog.Logger
	maxFrameBytes uint32

	mu         sync.Mutex
	sessions   map[*session]struct{}
	schedulers map[string]*scheduler
	closing    bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// New binds the first free port in the configured range, starts the
// accept loop, and returns the running instance. On ErrBindFailed
// nothing is partially started.
func New(opts Options) (*Tracker, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxFrame := opts.MaxFrameBytes
	if maxFrame == 0 {
		maxFrame = wire.DefaultMaxFrameBytes
	}

	listener, port, err := bindFirstFree(opts.Host, opts.Port, opts.PortEnd)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		host:          opts.Host,
		port:          port,
		listener:      listener,
		logger:        logger,
		maxFrameBytes: maxFrame,
		sessions:      make(map[*session]struct{}),
		schedulers:    make(map[string]*scheduler),
		done:          make(chan struct{}),
	}
	t.logger.Info("tracker listening", "host", opts.Host, "port", port)

	t.wg.Add(1)
	go t.acceptLoop()
	return t, nil
}

// bindFirstFree scans [port, portEnd] inclusive and listens on the
// first free port.
func bindFirstFree(host string, port, portEnd int) (net.Listener, int, error) {
	if portEnd < port {
		portEnd = port
	}
	var lastErr error
	for p := port; p <= portEnd; p++ {
		listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			lastErr = err
			continue
		}
		bound := listener.Addr().(*net.TCPAddr).Port
		return listener, bound, nil
	}
	return nil, 0, fmt.Errorf("%w: ports %d-%d on %s: %v", ErrBindFailed, port, portEnd, host, lastErr)
}

// Port returns the bound listening port.
func (t *Tracker) Port() int { return t.port }

// Addr returns the bound listening address as host:port.
func (t *Tracker) Addr() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

// Done is closed once Terminate has fully torn the instance down,
// including termination triggered remotely by the STOP opcode.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// acceptLoop blocks on Accept and spawns one session goroutine per
// connection until the listener closes.
func (t *Tracker) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("accept failed", "error", err)
			continue
		}
		peerHost, peerPort, err := netutil.PeerAddress(conn.RemoteAddr())
		if err != nil {
			peerHost = conn.RemoteAddr().String()
		}
		s := newSession(t, conn, peerHost, peerPort)
		if !t.register(s) {
			conn.Close()
			continue
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			s.run()
		}()
	}
}

// register adds a session to the live set. Refused during shutdown so
// Terminate cannot race a fresh connection into a dying instance.
func (t *Tracker) register(s *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return false
	}
	t.sessions[s] = struct{}{}
	return true
}

// scheduler returns the scheduler for key, creating it on first use.
func (t *Tracker) scheduler(key string) *scheduler {
	t.mu.Lock()
	defer t.mu.Unlock()
	sched, ok := t.schedulers[key]
	if !ok {
		sched = newScheduler(key, t.logger)
		t.schedulers[key] = sched
	}
	return sched
}

// put hands a worker offer to key's scheduler. The scheduler drain
// runs outside the tracker mutex.
func (t *Tracker) put(key, address string, port int, matchKey string, owner responder) {
	t.scheduler(key).put(workerEntry{
		address:  address,
		port:     port,
		matchKey: matchKey,
		owner:    owner,
	})
}

// request hands a pending request to key's scheduler.
func (t *Tracker) request(key, user string, priority int, owner responder) {
	t.scheduler(key).request(user, priority, owner)
}

// closeSession removes a dead session from the live set and scrubs
// every scheduler of entries referencing it, so no later pairing
// writes to its socket.
func (t *Tracker) closeSession(s *session) {
	t.mu.Lock()
	delete(t.sessions, s)
	schedulers := make([]*scheduler, 0, len(t.schedulers))
	for _, sched := range t.schedulers {
		schedulers = append(schedulers, sched)
	}
	t.mu.Unlock()

	for _, sched := range schedulers {
		sched.removeSession(s)
	}
}

// Summary reports every key's queue depths.
func (t *Tracker) Summary() map[string]QueueSummary {
	t.mu.Lock()
	schedulers := make(map[string]*scheduler, len(t.schedulers))
	for key, sched := range t.schedulers {
		schedulers[key] = sched
	}
	t.mu.Unlock()

	out := make(map[string]QueueSummary, len(schedulers))
	for key, sched := range schedulers {
		out[key] = sched.summary()
	}
	return out
}

// serverEntries lists sessions that announced a "server"-prefixed key,
// sorted for deterministic SUMMARY output.
func (t *Tracker) serverEntries() []ServerEntry {
	t.mu.Lock()
	live := make([]*session, 0, len(t.sessions))
	for s := range t.sessions {
		live = append(live, s)
	}
	t.mu.Unlock()

	entries := make([]ServerEntry, 0)
	for _, s := range live {
		if !s.isServer() {
			continue
		}
		entries = append(entries, ServerEntry{
			Addr: [2]any{s.peerHost, s.peerPort},
			Key:  s.currentKey(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Key != entries[j].Key {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Addr[1].(int) < entries[j].Addr[1].(int)
	})
	return entries
}

// requestStop initiates termination from a session goroutine (the STOP
// opcode). Runs asynchronously: Terminate waits for all session
// goroutines, including the one that received STOP.
func (t *Tracker) requestStop() {
	go func() {
		forgetSingleton(t)
		t.Terminate()
	}()
}

// Terminate closes the listener, closes every session socket, and
// waits for the accept loop and all session goroutines to exit. Safe
// to call more than once and from multiple goroutines; every caller
// returns only after teardown completes.
func (t *Tracker) Terminate() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.closing = true
		live := make([]*session, 0, len(t.sessions))
		for s := range t.sessions {
			live = append(live, s)
		}
		t.mu.Unlock()

		t.listener.Close()
		for _, s := range live {
			s.conn.Close()
		}
		t.wg.Wait()
		t.logger.Info("tracker terminated", "port", t.port)
		close(t.done)
	})
	<-t.done
}
