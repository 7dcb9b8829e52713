// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package tracker_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/tracker-foundation/tracker/client"
	"github.com/tracker-foundation/tracker/lib/testutil"
	"github.com/tracker-foundation/tracker/lib/wire"
	"github.com/tracker-foundation/tracker/tracker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTracker runs a tracker on an ephemeral localhost port and tears
// it down with the test.
func startTracker(t *testing.T) *tracker.Tracker {
	t.Helper()
	tr, err := tracker.New(tracker.Options{
		Host:   "127.0.0.1",
		Port:   0,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("starting tracker: %v", err)
	}
	t.Cleanup(tr.Terminate)
	return tr
}

func dialTracker(t *testing.T, tr *tracker.Tracker) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, tr.Addr())
	if err != nil {
		t.Fatalf("dialing tracker: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	c.SetDeadline(time.Now().Add(30 * time.Second))
	return c
}

// waitForCounts polls SUMMARY until key shows the wanted queue depths.
// REQUEST has no acknowledgement, so tests use this to sequence
// arrivals across connections deterministically.
func waitForCounts(t *testing.T, admin *client.Client, key string, free, pending int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		summary, err := admin.Summary()
		if err != nil {
			t.Fatalf("summary while waiting: %v", err)
		}
		counts := summary.QueueInfo[key]
		if counts.Free == free && counts.Pending == pending {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("key %q never reached %d free / %d pending", key, free, pending)
}

// requestAsync issues a blocking Request on its own goroutine and
// delivers the result on a channel.
type requestResult struct {
	worker client.WorkerAddress
	err    error
}

func requestAsync(c *client.Client, key, user string, priority int) <-chan requestResult {
	results := make(chan requestResult, 1)
	go func() {
		worker, err := c.Request(key, user, priority)
		results <- requestResult{worker, err}
	}()
	return results
}

func TestPingRoundTrip(t *testing.T) {
	tr := startTracker(t)
	c := dialTracker(t, tr)
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

// Scenario A: a worker updates its info, offers a slot, and a
// requester receives the worker's tuple.
func TestBasicPairing(t *testing.T) {
	tr := startTracker(t)

	workerConn := dialTracker(t, tr)
	if err := workerConn.UpdateInfo("server:gpu0"); err != nil {
		t.Fatalf("UpdateInfo: %v", err)
	}
	if err := workerConn.Put("gpu", 9091, "mk1", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	requester := dialTracker(t, tr)
	worker, err := requester.Request("gpu", "user1", 0)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if worker.Address != "127.0.0.1" || worker.Port != 9091 || worker.MatchKey != "mk1" {
		t.Fatalf("paired worker = %+v, want 127.0.0.1:9091 mk1", worker)
	}
}

func TestPairingRegardlessOfArrivalOrder(t *testing.T) {
	tr := startTracker(t)
	admin := dialTracker(t, tr)

	requester := dialTracker(t, tr)
	results := requestAsync(requester, "gpu", "user1", 0)
	waitForCounts(t, admin, "gpu", 0, 1)

	workerConn := dialTracker(t, tr)
	if err := workerConn.Put("gpu", 9091, "mk1", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result := testutil.RequireReceive(t, results, 10*time.Second, "waiting for pairing")
	if result.err != nil {
		t.Fatalf("Request: %v", result.err)
	}
	if result.worker.MatchKey != "mk1" {
		t.Fatalf("paired match key = %q, want mk1", result.worker.MatchKey)
	}
}

// Scenario B: the higher-priority request is served by the first
// worker regardless of arrival order.
func TestPriorityOrdering(t *testing.T) {
	tr := startTracker(t)
	admin := dialTracker(t, tr)

	low := dialTracker(t, tr)
	lowResults := requestAsync(low, "x", "low", 1)
	waitForCounts(t, admin, "x", 0, 1)

	high := dialTracker(t, tr)
	highResults := requestAsync(high, "x", "high", 5)
	waitForCounts(t, admin, "x", 0, 2)

	workerConn := dialTracker(t, tr)
	if err := workerConn.Put("x", 7001, "mk1", ""); err != nil {
		t.Fatalf("Put mk1: %v", err)
	}
	highResult := testutil.RequireReceive(t, highResults, 10*time.Second, "high-priority pairing")
	if highResult.err != nil || highResult.worker.MatchKey != "mk1" {
		t.Fatalf("high-priority pairing = %+v, %v; want mk1", highResult.worker, highResult.err)
	}

	if err := workerConn.Put("x", 7002, "mk2", ""); err != nil {
		t.Fatalf("Put mk2: %v", err)
	}
	lowResult := testutil.RequireReceive(t, lowResults, 10*time.Second, "low-priority pairing")
	if lowResult.err != nil || lowResult.worker.MatchKey != "mk2" {
		t.Fatalf("low-priority pairing = %+v, %v; want mk2", lowResult.worker, lowResult.err)
	}
}

// Scenario C: equal priorities are served in arrival order.
func TestFIFOTieBreak(t *testing.T) {
	tr := startTracker(t)
	admin := dialTracker(t, tr)

	first := dialTracker(t, tr)
	firstResults := requestAsync(first, "x", "first", 3)
	waitForCounts(t, admin, "x", 0, 1)

	second := dialTracker(t, tr)
	secondResults := requestAsync(second, "x", "second", 3)
	waitForCounts(t, admin, "x", 0, 2)

	workerConn := dialTracker(t, tr)
	if err := workerConn.Put("x", 7001, "mk1", ""); err != nil {
		t.Fatalf("Put mk1: %v", err)
	}
	firstResult := testutil.RequireReceive(t, firstResults, 10*time.Second, "first pairing")
	if firstResult.err != nil || firstResult.worker.MatchKey != "mk1" {
		t.Fatalf("first pairing = %+v, %v; want mk1", firstResult.worker, firstResult.err)
	}

	if err := workerConn.Put("x", 7002, "mk2", ""); err != nil {
		t.Fatalf("Put mk2: %v", err)
	}
	secondResult := testutil.RequireReceive(t, secondResults, 10*time.Second, "second pairing")
	if secondResult.err != nil || secondResult.worker.MatchKey != "mk2" {
		t.Fatalf("second pairing = %+v, %v; want mk2", secondResult.worker, secondResult.err)
	}
}

// Scenario D: a requester that dies while queued is scrubbed; a later
// worker offer stays in the pool.
func TestDeadRequesterCancelled(t *testing.T) {
	tr := startTracker(t)
	admin := dialTracker(t, tr)

	dying := dialTracker(t, tr)
	requestAsync(dying, "x", "doomed", 3)
	waitForCounts(t, admin, "x", 0, 1)

	dying.Close()
	waitForCounts(t, admin, "x", 0, 0)

	workerConn := dialTracker(t, tr)
	if err := workerConn.Put("x", 7001, "mk1", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	waitForCounts(t, admin, "x", 1, 0)
}

// Scenario E: SUMMARY reports per-key depths and worker sessions.
func TestSummaryCountsAndServers(t *testing.T) {
	tr := startTracker(t)
	admin := dialTracker(t, tr)

	workerConn := dialTracker(t, tr)
	if err := workerConn.UpdateInfo("server:gpu0"); err != nil {
		t.Fatalf("UpdateInfo: %v", err)
	}
	if err := workerConn.Put("gpu", 7001, "mk1", ""); err != nil {
		t.Fatalf("Put mk1: %v", err)
	}
	if err := workerConn.Put("gpu", 7002, "mk2", ""); err != nil {
		t.Fatalf("Put mk2: %v", err)
	}

	requester := dialTracker(t, tr)
	requestAsync(requester, "cpu", "user1", 0)
	waitForCounts(t, admin, "cpu", 0, 1)

	summary, err := admin.Summary()
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if counts := summary.QueueInfo["gpu"]; counts.Free != 2 || counts.Pending != 0 {
		t.Fatalf("gpu counts = %+v, want 2 free / 0 pending", counts)
	}
	if counts := summary.QueueInfo["cpu"]; counts.Free != 0 || counts.Pending != 1 {
		t.Fatalf("cpu counts = %+v, want 0 free / 1 pending", counts)
	}
	if len(summary.ServerInfo) != 1 {
		t.Fatalf("ServerInfo = %+v, want one worker session", summary.ServerInfo)
	}
	if summary.ServerInfo[0].Key != "server:gpu0" {
		t.Fatalf("worker key = %q, want server:gpu0", summary.ServerInfo[0].Key)
	}
	if summary.ServerInfo[0].Addr.Host != "127.0.0.1" {
		t.Fatalf("worker host = %q, want 127.0.0.1", summary.ServerInfo[0].Addr.Host)
	}
}

// Scenario F: a peer with the wrong magic is closed without a reply.
func TestHandshakeMismatchClosesSilently(t *testing.T) {
	tr := startTracker(t)

	conn, err := net.DialTimeout("tcp", tr.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], wire.Magic+1)
	if _, err := conn.Write(raw[:]); err != nil {
		t.Fatalf("writing bad magic: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("expected silent close, got n=%d err=%v", n, err)
	}
}

func TestPendingMatchKeys(t *testing.T) {
	tr := startTracker(t)

	workerConn := dialTracker(t, tr)
	if err := workerConn.Put("gpu", 7001, "mk-b", ""); err != nil {
		t.Fatalf("Put mk-b: %v", err)
	}
	if err := workerConn.Put("gpu", 7002, "mk-a", ""); err != nil {
		t.Fatalf("Put mk-a: %v", err)
	}

	keys, err := workerConn.PendingMatchKeys()
	if err != nil {
		t.Fatalf("PendingMatchKeys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "mk-a" || keys[1] != "mk-b" {
		t.Fatalf("pending = %v, want [mk-a mk-b]", keys)
	}

	// Pairing consumes one offer.
	requester := dialTracker(t, tr)
	worker, err := requester.Request("gpu", "user1", 0)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	keys, err = workerConn.PendingMatchKeys()
	if err != nil {
		t.Fatalf("PendingMatchKeys after pairing: %v", err)
	}
	if len(keys) != 1 || keys[0] == worker.MatchKey {
		t.Fatalf("pending after pairing = %v (consumed %s)", keys, worker.MatchKey)
	}
}

// rawPeer speaks frames directly for wire-shape assertions the client
// API intentionally hides.
type rawPeer struct {
	t    *testing.T
	conn net.Conn
}

func dialRaw(t *testing.T, tr *tracker.Tracker) *rawPeer {
	t.Helper()
	conn, err := net.DialTimeout("tcp", tr.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err := wire.Handshake(conn); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return &rawPeer{t: t, conn: conn}
}

func (p *rawPeer) send(payload string) {
	p.t.Helper()
	if err := wire.WriteFrame(p.conn, []byte(payload)); err != nil {
		p.t.Fatalf("writing frame %q: %v", payload, err)
	}
}

func (p *rawPeer) read() string {
	p.t.Helper()
	payload, err := wire.ReadFrame(p.conn, 0)
	if err != nil {
		p.t.Fatalf("reading frame: %v", err)
	}
	return string(payload)
}

func TestBareSuccessIsASCIITwo(t *testing.T) {
	tr := startTracker(t)
	peer := dialRaw(t, tr)

	peer.send("[2]")
	if got := peer.read(); got != "2" {
		t.Fatalf("PING reply = %q, want the bare ASCII text \"2\"", got)
	}
}

func TestSummaryBeforeAnyTraffic(t *testing.T) {
	tr := startTracker(t)
	peer := dialRaw(t, tr)

	peer.send("[7]")
	want := `[2,{"queue_info":{},"server_info":[]}]`
	if got := peer.read(); got != want {
		t.Fatalf("SUMMARY reply = %s, want %s", got, want)
	}
}

// The advertised address may ride as a third tuple element, a fourth
// message element, or be explicitly absent via the literal "null".
func TestPutAddressForms(t *testing.T) {
	cases := []struct {
		name     string
		put      string
		wantAddr string
	}{
		{"inner tuple override", `[4, "k", [7001, "mk", "10.1.2.3"]]`, "10.1.2.3"},
		{"outer element override", `[4, "k", [7001, "mk"], "10.9.9.9"]`, "10.9.9.9"},
		{"literal null string", `[4, "k", [7001, "mk"], "null"]`, "127.0.0.1"},
		{"json null", `[4, "k", [7001, "mk"], null]`, "127.0.0.1"},
		{"absent", `[4, "k", [7001, "mk"]]`, "127.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := startTracker(t)
			peer := dialRaw(t, tr)
			peer.send(tc.put)
			if got := peer.read(); got != "2" {
				t.Fatalf("PUT reply = %q, want \"2\"", got)
			}

			requester := dialTracker(t, tr)
			worker, err := requester.Request("k", "user1", 0)
			if err != nil {
				t.Fatalf("Request: %v", err)
			}
			if worker.Address != tc.wantAddr {
				t.Fatalf("paired address = %q, want %q", worker.Address, tc.wantAddr)
			}
		})
	}
}

func TestProtocolErrorDropsSession(t *testing.T) {
	tr := startTracker(t)
	peer := dialRaw(t, tr)

	peer.send(`[99]`)

	peer.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := make([]byte, 1)
	if n, err := peer.conn.Read(buf); n != 0 || err != io.EOF {
		t.Fatalf("expected dropped session, got n=%d err=%v", n, err)
	}
}

func TestBindScanChoosesFirstFreePort(t *testing.T) {
	// Occupy a port, then ask the tracker for a range starting there.
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer blocker.Close()
	base := blocker.Addr().(*net.TCPAddr).Port

	tr, err := tracker.New(tracker.Options{
		Host:    "127.0.0.1",
		Port:    base,
		PortEnd: base + 20,
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatalf("starting tracker: %v", err)
	}
	defer tr.Terminate()

	if tr.Port() <= base || tr.Port() > base+20 {
		t.Fatalf("bound port %d outside (%d, %d]", tr.Port(), base, base+20)
	}
}

func TestBindFailedWhenRangeExhausted(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer blocker.Close()
	port := blocker.Addr().(*net.TCPAddr).Port

	_, err = tracker.New(tracker.Options{
		Host:    "127.0.0.1",
		Port:    port,
		PortEnd: port,
		Logger:  discardLogger(),
	})
	if err == nil {
		t.Fatal("expected bind failure")
	}
	if !errors.Is(err, tracker.ErrBindFailed) {
		t.Fatalf("error = %v, want ErrBindFailed", err)
	}
}

func TestStartIsIdempotentAndRestartable(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	base := blocker.Addr().(*net.TCPAddr).Port
	blocker.Close()

	port, err := tracker.Start("127.0.0.1", base, base+20, true)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if port < base || port > base+20 {
		t.Fatalf("bound port %d outside [%d, %d]", port, base, base+20)
	}

	again, err := tracker.Start("127.0.0.1", base, base+20, true)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if again != port {
		t.Fatalf("second Start bound %d, want running port %d", again, port)
	}

	tracker.Terminate()

	fresh, err := tracker.Start("127.0.0.1", base, base+20, true)
	if err != nil {
		t.Fatalf("Start after Terminate: %v", err)
	}
	defer tracker.Terminate()
	if fresh < base || fresh > base+20 {
		t.Fatalf("fresh port %d outside [%d, %d]", fresh, base, base+20)
	}
}

func TestStopOpcodeTerminatesTracker(t *testing.T) {
	tr := startTracker(t)
	c := dialTracker(t, tr)

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	testutil.RequireClosed(t, tr.Done(), 10*time.Second, "tracker shutdown after STOP")
}

func TestTerminateUnblocksConnectedSessions(t *testing.T) {
	tr := startTracker(t)
	c := dialTracker(t, tr)
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	done := make(chan struct{})
	go func() {
		tr.Terminate()
		close(done)
	}()
	testutil.RequireClosed(t, done, 10*time.Second, "Terminate with a live session")
}

func TestWorkerDeathDropsItsOffers(t *testing.T) {
	tr := startTracker(t)
	admin := dialTracker(t, tr)

	workerConn := dialTracker(t, tr)
	if err := workerConn.Put("gpu", 7001, "mk1", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	waitForCounts(t, admin, "gpu", 1, 0)

	workerConn.Close()
	waitForCounts(t, admin, "gpu", 0, 0)
}

func TestMatchKeyNeverDeliveredTwice(t *testing.T) {
	tr := startTracker(t)

	workerConn := dialTracker(t, tr)
	const offers = 5
	for i := 0; i < offers; i++ {
		if err := workerConn.Put("gpu", 7000+i, "mk"+strconv.Itoa(i), ""); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < offers; i++ {
		requester := dialTracker(t, tr)
		worker, err := requester.Request("gpu", "user", 0)
		if err != nil {
			t.Fatalf("Request %d: %v", i, err)
		}
		if seen[worker.MatchKey] {
			t.Fatalf("match key %q delivered twice", worker.MatchKey)
		}
		seen[worker.MatchKey] = true
	}
}
