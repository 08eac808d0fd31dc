// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package engine

import (
	"sync"

	"github.com/rapidaai/lkengine/internal/logging"
	"github.com/rapidaai/lkengine/pkg/rtcpeer"
	"github.com/rapidaai/lkengine/pkg/signaling"
	"github.com/rapidaai/lkengine/pkg/wire"
)

// EventKind discriminates the Event union (spec §3 "Event").
type EventKind int

const (
	EventCmdConnect EventKind = iota
	EventCmdClose
	EventSigState
	EventSigResponse
	EventPeerPubState
	EventPeerSubState
	EventPeerDataPacket
	EventTimerExpired
	EventMaxRetriesReached
	eventStateEnter
	eventStateExit
)

func (k EventKind) String() string {
	switch k {
	case EventCmdConnect:
		return "cmd_connect"
	case EventCmdClose:
		return "cmd_close"
	case EventSigState:
		return "sig_state"
	case EventSigResponse:
		return "sig_response"
	case EventPeerPubState:
		return "peer_pub_state"
	case EventPeerSubState:
		return "peer_sub_state"
	case EventPeerDataPacket:
		return "peer_data_packet"
	case EventTimerExpired:
		return "timer_expired"
	case EventMaxRetriesReached:
		return "max_retries_reached"
	case eventStateEnter:
		return "_state_enter"
	case eventStateExit:
		return "_state_exit"
	default:
		return "unknown"
	}
}

// Event is one unit of work processed by the Engine task. Exactly one of
// the payload fields is populated, matching which Kind is set; the handler
// that ultimately consumes a heap-carrying event is the single owner of
// that payload (spec §3 "Ownership").
type Event struct {
	Kind EventKind

	ServerURL string
	Token     string

	SigState  signaling.State
	SigReason signaling.FailureReason
	SigResp   *wire.SignalResponse

	PeerState rtcpeer.State
	Packet    *wire.DataPacket

	FromState State
}

// queue is a multi-producer/single-consumer FIFO with a priority front-push
// lane (spec §4.6.1). A plain slice-backed ring would also work; a mutex-
// guarded slice is simpler here and the queue depth is tiny (engine queue
// size, a compile-time/config knob, not a hot path).
type queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []Event
	maxSize  int
	closed   bool
	log      logging.Logger
}

func newQueue(maxSize int, log logging.Logger) *queue {
	q := &queue{maxSize: maxSize, log: log}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// pushBack enqueues at the tail — the default for most events (spec
// §4.6.1).
func (q *queue) pushBack(e Event) bool {
	return q.push(e, false)
}

// pushFront enqueues at the head — used for signaling state changes, peer
// state changes, timer expiries, server-initiated Leave, and user commands
// (spec §4.6.1's priority sources).
func (q *queue) pushFront(e Event) bool {
	return q.push(e, true)
}

func (q *queue) push(e Event, front bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		// No backpressure to transports; the event is dropped (spec §4.6.1).
		q.log.Warnw("event queue full, dropping event", "kind", e.Kind.String())
		return false
	}
	if front {
		q.items = append([]Event{e}, q.items...)
	} else {
		q.items = append(q.items, e)
	}
	q.notEmpty.Signal()
	return true
}

// pop blocks until an event is available or the queue is closed, in which
// case ok is false (spec §5: "queue receive blocks on the Engine task with
// infinite timeout, interrupted only by is_running = false").
func (q *queue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return Event{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

// drain frees every remaining event's heap payload by dropping the
// reference (Go's GC does the rest) and closes the queue, so later pushes
// fail and pop returns ok=false; called once from the shutdown path so
// no event silently leaks a reference (spec §5 "drain routine").
func (q *queue) drain() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	return n
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
