// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package engine

import (
	"errors"
	"time"

	"github.com/rapidaai/lkengine/pkg/rtcpeer"
	"github.com/rapidaai/lkengine/pkg/signaling"
	"github.com/rapidaai/lkengine/pkg/wire"
)

// State is the Engine's internal lifecycle state (spec §3 "Engine state").
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

// ExternalState is what observers are shown via OnStateChanged; it collapses
// Backoff and retried Connecting into Reconnecting (spec §4.6.3).
type ExternalState int

const (
	ExternalDisconnected ExternalState = iota
	ExternalConnecting
	ExternalReconnecting
	ExternalConnected
	ExternalFailed
)

func (s ExternalState) String() string {
	switch s {
	case ExternalConnecting:
		return "connecting"
	case ExternalReconnecting:
		return "reconnecting"
	case ExternalConnected:
		return "connected"
	case ExternalFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// project implements spec §4.6.3's external projection table.
func project(s State, retryCount int) ExternalState {
	switch s {
	case Connecting:
		if retryCount > 0 {
			return ExternalReconnecting
		}
		return ExternalConnecting
	case Backoff:
		return ExternalReconnecting
	case Connected:
		return ExternalConnected
	default:
		return ExternalDisconnected
	}
}

// Errors surfaced to handler callers; these never reach the user directly
// (spec §7: transient transport failures drive Backoff, not error returns).
var (
	errInvalidArg = errors.New("engine: invalid argument")
	errSignaling  = errors.New("engine: signaling error")
	errRTC        = errors.New("engine: rtc error")
)

// handle dequeues and dispatches one event, saving/restoring the current
// state and running _StateExit/_StateEnter on any transition (spec §4.6,
// first paragraph). It returns whether the event's heap payload was
// consumed by a handler (events.go's ownership contract); Run ignores it,
// and only the tests assert on it.
func (e *Engine) handle(ev Event) bool {
	var start time.Time
	if e.opts.Benchmark {
		start = time.Now()
	}

	from := e.state
	owned := e.dispatch(from, ev)

	if e.state != from {
		e.dispatch(from, Event{Kind: eventStateExit})
		e.dispatch(e.state, Event{Kind: eventStateEnter, FromState: from})
	}
	if e.opts.Benchmark {
		e.log().Infow("event handled", "kind", ev.Kind.String(), "took", time.Since(start))
	}
	return owned
}

func (e *Engine) dispatch(s State, ev Event) bool {
	switch s {
	case Disconnected:
		return e.handleDisconnected(ev)
	case Connecting:
		return e.handleConnecting(ev)
	case Connected:
		return e.handleConnected(ev)
	case Backoff:
		return e.handleBackoff(ev)
	default:
		return false
	}
}

func (e *Engine) transition(to State) {
	e.state = to
	e.notifyExternalState()
}

func (e *Engine) notifyExternalState() {
	// Exhausted retries surface as Failed followed by the terminal
	// Disconnected (spec §7/§8 scenario 2).
	if e.state == Disconnected && e.maxRetriesHit {
		e.maxRetriesHit = false
		e.emitExternal(ExternalFailed)
	}
	e.emitExternal(project(e.state, e.retryCount))
}

func (e *Engine) emitExternal(ext ExternalState) {
	if ext == e.lastExternal {
		return
	}
	e.lastExternal = ext
	if e.opts.OnStateChanged != nil {
		e.opts.OnStateChanged(ext)
	}
}

// ---------------------------------------------------------------------------
// Disconnected
// ---------------------------------------------------------------------------

func (e *Engine) handleDisconnected(ev Event) bool {
	switch ev.Kind {
	case eventStateEnter:
		e.stopMediaStreaming()
		_ = e.signal.Close()
		e.destroyPeers()
		e.resetSessionState()
		e.retryCount = 0
		e.backoff.Reset()
		return true
	case EventCmdConnect:
		e.serverURL = ev.ServerURL
		e.token = ev.Token
		e.transition(Connecting)
		return true
	default:
		e.log().Debugw("ignored event in disconnected", "kind", ev.Kind.String())
		return false
	}
}

// ---------------------------------------------------------------------------
// Connecting
// ---------------------------------------------------------------------------

func (e *Engine) handleConnecting(ev Event) bool {
	switch ev.Kind {
	case eventStateEnter:
		if err := e.signal.Connect(e.ctx, e.serverURL, e.token); err != nil {
			e.log().Warnw("signal connect failed", "error", err)
		}
		return true
	case EventCmdClose:
		e.sendLeaveBestEffort()
		e.transition(Disconnected)
		return true
	case EventCmdConnect:
		e.log().Warnw("connect ignored: already connecting")
		return false
	case EventSigResponse:
		return e.handleSigResponseConnecting(ev)
	case EventSigState:
		if ev.SigState == signaling.StateFailed || ev.SigState == signaling.StateDisconnected {
			e.transition(Backoff)
		}
		return true
	case EventPeerPubState:
		if ev.PeerState == rtcpeer.StateConnected && !e.subscriberPrimary {
			e.transition(Connected)
		} else if ev.PeerState == rtcpeer.StateFailed || ev.PeerState == rtcpeer.StateDisconnected {
			e.transition(Backoff)
		}
		return true
	case EventPeerSubState:
		if ev.PeerState == rtcpeer.StateConnected && e.subscriberPrimary {
			e.transition(Connected)
		} else if ev.PeerState == rtcpeer.StateFailed || ev.PeerState == rtcpeer.StateDisconnected {
			e.transition(Backoff)
		}
		return true
	default:
		return false
	}
}

// handleLeave implements spec §3's invariant: a server Leave with the
// Disconnect action is terminal (no further retries); Reconnect/Resume
// behave as connection loss and go through Backoff (spec §9's Open
// Question resolution, applied uniformly in Connecting and Connected).
func (e *Engine) handleLeave(l *wire.LeaveRequest) {
	if l != nil && l.Action != wire.LeaveActionDisconnect {
		e.transition(Backoff)
		return
	}
	e.transition(Disconnected)
}

func (e *Engine) handleSigResponseConnecting(ev Event) bool {
	switch m := ev.SigResp.Message.(type) {
	case *wire.SignalResponse_Leave:
		e.handleLeave(m.Leave)
		return true
	case *wire.SignalResponse_Join:
		e.handleJoin(m.Join)
		if err := e.createAndConnectPeers(); err != nil {
			e.log().Errorw("peer creation failed", "error", err)
			e.transition(Backoff)
		}
		return true
	case *wire.SignalResponse_Answer:
		e.routeSDPToPublisher(m.Answer)
		return true
	case *wire.SignalResponse_Offer:
		e.routeSDPToSubscriber(m.Offer)
		return true
	case *wire.SignalResponse_Trickle:
		e.routeTrickle(m.Trickle)
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// Connected
// ---------------------------------------------------------------------------

func (e *Engine) handleConnected(ev Event) bool {
	switch ev.Kind {
	case eventStateEnter:
		e.retryCount = 0
		e.backoff.Reset()
		e.publishTracks()
		return true
	case EventCmdClose:
		e.sendLeaveBestEffort()
		e.transition(Disconnected)
		return true
	case EventPeerDataPacket:
		if e.opts.OnDataPacket != nil {
			e.opts.OnDataPacket(ev.Packet)
		}
		return true
	case EventSigResponse:
		return e.handleSigResponseConnected(ev)
	case EventSigState:
		if ev.SigState == signaling.StateFailed || ev.SigState == signaling.StateDisconnected {
			e.transition(Backoff)
		}
		return true
	case EventPeerPubState, EventPeerSubState:
		if ev.PeerState == rtcpeer.StateFailed || ev.PeerState == rtcpeer.StateDisconnected {
			e.transition(Backoff)
		}
		return true
	default:
		return false
	}
}

func (e *Engine) handleSigResponseConnected(ev Event) bool {
	switch m := ev.SigResp.Message.(type) {
	case *wire.SignalResponse_Leave:
		e.handleLeave(m.Leave)
		return true
	case *wire.SignalResponse_Update:
		if m.Update != nil && m.Update.Room != nil && e.opts.OnRoomInfo != nil {
			e.opts.OnRoomInfo(m.Update.Room)
		}
		return true
	case *wire.SignalResponse_ParticipantUpdate:
		if m.ParticipantUpdate == nil || e.opts.OnParticipantInfo == nil {
			return true
		}
		matchedLocal := false
		for _, p := range m.ParticipantUpdate.Participants {
			isLocal := !matchedLocal && p.Sid == e.localParticipantSID
			if isLocal {
				matchedLocal = true
			}
			e.opts.OnParticipantInfo(p, isLocal)
		}
		return true
	case *wire.SignalResponse_Answer:
		e.routeSDPToPublisher(m.Answer)
		return true
	case *wire.SignalResponse_Offer:
		e.routeSDPToSubscriber(m.Offer)
		return true
	case *wire.SignalResponse_Trickle:
		e.routeTrickle(m.Trickle)
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// Backoff
// ---------------------------------------------------------------------------

func (e *Engine) handleBackoff(ev Event) bool {
	switch ev.Kind {
	case eventStateEnter:
		e.stopMediaStreaming()
		_ = e.signal.Close()
		e.destroyPeers()
		e.retryCount++
		if e.retryCount >= e.opts.MaxRetries {
			e.q.pushFront(Event{Kind: EventMaxRetriesReached})
		} else {
			e.armBackoffTimer()
		}
		return true
	case eventStateExit:
		e.stopBackoffTimer()
		return true
	case EventMaxRetriesReached:
		e.maxRetriesHit = true
		e.transition(Disconnected)
		return true
	case EventTimerExpired:
		e.transition(Connecting)
		return true
	default:
		return false
	}
}
