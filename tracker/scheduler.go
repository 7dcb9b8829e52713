// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/tracker-foundation/tracker/lib/wire"
)

// responder is the scheduler's view of a session: enough to deliver a
// pairing reply and release a consumed match key. Sessions implement
// it; scheduler tests substitute fakes.
type responder interface {
	sendFrame(payload []byte) error
	releaseMatchKey(matchKey string)
}

// workerEntry is one advertised worker slot waiting to be paired.
// Equality is structural over all four fields.
type workerEntry struct {
	address  string
	port     int
	matchKey string
	owner    responder
}

// requestEntry is one pending client request. sequence is the
// scheduler-local insertion counter used as the FIFO tie-break among
// equal priorities.
type requestEntry struct {
	user     string
	priority int
	sequence uint64
	owner    responder
}

// scheduler pairs free workers with pending requests for a single key.
// Workers are strictly FIFO; requests are ordered by priority
// descending, then sequence ascending. After every mutation the
// scheduler drains pairings until one of the two queues is empty.
type scheduler struct {
	key    string
	logger *slog.Logger

	// mu guards the queues and the sequence counter. Never held while
	// writing to a socket.
	mu           sync.Mutex
	workers      []workerEntry
	requests     []requestEntry
	requestCount uint64
}

func newScheduler(key string, logger *slog.Logger) *scheduler {
	return &scheduler{key: key, logger: logger.With("key", key)}
}

// put appends a worker to the FIFO tail and drains pairings.
func (s *scheduler) put(entry workerEntry) {
	s.mu.Lock()
	s.workers = append(s.workers, entry)
	s.mu.Unlock()
	s.schedule()
}

// request inserts a pending request in (priority DESC, sequence ASC)
// order and drains pairings.
func (s *scheduler) request(user string, priority int, owner responder) {
	s.mu.Lock()
	entry := requestEntry{
		user:     user,
		priority: priority,
		sequence: s.requestCount,
		owner:    owner,
	}
	s.requestCount++
	// Insert before the first entry with strictly lower priority;
	// equal priorities keep insertion order via the sequence counter.
	i := sort.Search(len(s.requests), func(i int) bool {
		return s.requests[i].priority < priority
	})
	s.requests = append(s.requests, requestEntry{})
	copy(s.requests[i+1:], s.requests[i:])
	s.requests[i] = entry
	s.mu.Unlock()
	s.schedule()
}

// remove deletes the first worker entry structurally equal to entry.
func (s *scheduler) remove(entry workerEntry) {
	s.mu.Lock()
	for i, worker := range s.workers {
		if worker == entry {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.schedule()
}

// removeSession scrubs every queue entry back-referencing owner. Called
// by the tracker when a session dies so no later pairing writes to a
// dead socket. Removals cannot enable new pairings, so no drain runs.
func (s *scheduler) removeSession(owner responder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	workers := s.workers[:0]
	for _, worker := range s.workers {
		if worker.owner != owner {
			workers = append(workers, worker)
		}
	}
	s.workers = workers

	requests := s.requests[:0]
	for _, request := range s.requests {
		if request.owner != owner {
			requests = append(requests, request)
		}
	}
	s.requests = requests
}

// QueueSummary is one key's queue depths as reported by SUMMARY.
type QueueSummary struct {
	Free    int `json:"free"`
	Pending int `json:"pending"`
}

func (s *scheduler) summary() QueueSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QueueSummary{Free: len(s.workers), Pending: len(s.requests)}
}

// schedule pairs queue heads while both queues are non-empty. Each
// pairing decision is popped under mu, then the reply is written with
// no queue lock held. A failed write means the requester died: the
// worker goes back to the FIFO tail and the request is dropped. The
// worker's match key leaves its owner's pending set only after the
// reply is on the wire.
func (s *scheduler) schedule() {
	for {
		s.mu.Lock()
		if len(s.workers) == 0 || len(s.requests) == 0 {
			s.mu.Unlock()
			return
		}
		worker := s.workers[0]
		s.workers = s.workers[1:]
		request := s.requests[0]
		s.requests = s.requests[1:]
		s.mu.Unlock()

		payload, err := json.Marshal([]any{
			wire.ReplySuccess,
			[]any{worker.address, worker.port, worker.matchKey},
		})
		if err != nil {
			s.logger.Error("encoding pairing reply", "error", err)
			continue
		}
		if err := request.owner.sendFrame(payload); err != nil {
			s.logger.Debug("requester gone, requeueing worker",
				"user", request.user,
				"match_key", worker.matchKey,
				"error", err,
			)
			s.mu.Lock()
			s.workers = append(s.workers, worker)
			s.mu.Unlock()
			continue
		}
		worker.owner.releaseMatchKey(worker.matchKey)
		s.logger.Debug("paired",
			"user", request.user,
			"priority", request.priority,
			"address", worker.address,
			"port", worker.port,
			"match_key", worker.matchKey,
		)
	}
}
