// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/rapidaai/lkengine/internal/logging"
	"github.com/rapidaai/lkengine/pkg/wire"
)

const (
	networkTimeout = 10 * time.Second
	closeTimeout   = 250 * time.Millisecond
	wsBufferSize   = 20 * 1024
)

// State mirrors the signaling connection lifecycle the transport reports
// upward (spec §4.4 on_state_changed).
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailureReason classifies why a connect attempt failed (spec §7).
type FailureReason int

const (
	FailureReasonNone FailureReason = iota
	FailureReasonUnreachable
	FailureReasonBadToken
	FailureReasonUnauthorized
	FailureReasonClientOther
	FailureReasonInternal
)

func (r FailureReason) String() string {
	switch r {
	case FailureReasonUnreachable:
		return "unreachable"
	case FailureReasonBadToken:
		return "bad_token"
	case FailureReasonUnauthorized:
		return "unauthorized"
	case FailureReasonClientOther:
		return "client_other"
	case FailureReasonInternal:
		return "internal"
	default:
		return "none"
	}
}

func failureFromHTTPStatus(status int) FailureReason {
	switch {
	case status == 400:
		return FailureReasonBadToken
	case status == 401:
		return FailureReasonUnauthorized
	case status == 0:
		return FailureReasonUnreachable
	case status >= 400 && status < 500:
		return FailureReasonClientOther
	default:
		return FailureReasonInternal
	}
}

// Options configures a Transport at construction (spec §4.4 create).
type Options struct {
	Descriptor ClientDescriptor
	Logger     logging.Logger

	// OnStateChanged reports lifecycle transitions; reason is only
	// meaningful when state == StateFailed.
	OnStateChanged func(state State, reason FailureReason)

	// OnResponse is invoked for every response the transport doesn't
	// consume itself (Join is forwarded too, after being inspected).
	// The boolean return is vestigial ownership-transfer semantics carried
	// over from the source design (spec §9); Go's GC means both paths are
	// equivalent, so callers simply indicate whether they took the message.
	OnResponse func(res *wire.SignalResponse) bool
}

// Transport maintains one binary WebSocket signaling connection (spec
// §4.4's "Signal"): ping/pong RTT tracking, failure classification, and
// request encoding/sending.
type Transport struct {
	opts Options

	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}

	lastAttemptFailed atomic.Bool
	failureReason     atomic.Int32

	pingInterval time.Duration
	pingTimeout  time.Duration
	rtt          atomic.Int64
	lastPongAt   atomic.Int64

	pingMu   sync.Mutex
	pingStop chan struct{}
	pingWG   sync.WaitGroup
}

// New constructs a Transport. OnStateChanged and OnResponse are required.
func New(opts Options) (*Transport, error) {
	if opts.OnStateChanged == nil || opts.OnResponse == nil {
		return nil, fmt.Errorf("signaling: missing required callbacks")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Transport{opts: opts}, nil
}

// Connect dials the signaling WebSocket. It is idempotent: an existing
// connection is closed first (spec §4.4).
func (t *Transport) Connect(ctx context.Context, serverURL, token string) error {
	t.Close()

	target, err := BuildURL(serverURL, token, t.opts.Descriptor)
	if err != nil {
		return err
	}
	t.opts.Logger.Infow("signaling connect", "url", Redact(target))

	t.lastAttemptFailed.Store(false)
	t.opts.OnStateChanged(StateConnecting, FailureReasonNone)

	dialer := websocket.Dialer{
		HandshakeTimeout: networkTimeout,
		ReadBufferSize:   wsBufferSize,
		WriteBufferSize:  wsBufferSize,
	}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		reason := failureFromHTTPStatus(status)
		t.lastAttemptFailed.Store(true)
		t.failureReason.Store(int32(reason))
		t.opts.OnStateChanged(StateFailed, reason)
		return fmt.Errorf("signaling: dial failed: %w", err)
	}

	t.connMu.Lock()
	t.conn = conn
	t.done = make(chan struct{})
	t.connMu.Unlock()

	t.opts.OnStateChanged(StateConnected, FailureReasonNone)
	go t.readLoop(t.done)
	return nil
}

// Close performs a clean WebSocket close with a bounded timeout, returning
// immediately if already closed (spec §4.4).
func (t *Transport) Close() error {
	t.connMu.Lock()
	conn := t.conn
	done := t.done
	t.conn = nil
	t.done = nil
	t.connMu.Unlock()

	if conn == nil {
		return nil
	}

	t.stopPing()

	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout))
	t.writeMu.Unlock()

	err := conn.Close()
	if done != nil {
		close(done)
	}
	return err
}

// GetFailureReason returns the reason recorded on the most recent failed
// connect attempt.
func (t *Transport) GetFailureReason() FailureReason {
	return FailureReason(t.failureReason.Load())
}

func (t *Transport) readLoop(done chan struct{}) {
	defer func() {
		t.stopPing()
		if !t.lastAttemptFailed.Load() {
			t.opts.OnStateChanged(StateDisconnected, FailureReasonNone)
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()
		if conn == nil {
			return
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		res, err := wire.DecodeSignalResponse(data)
		if err != nil {
			t.opts.Logger.Warnw("signaling decode failed", "error", err)
			continue
		}
		if !t.middleware(res) {
			continue
		}
		t.opts.OnResponse(res)
	}
}

// middleware intercepts Join (to start the ping loop) and PongResp (to
// update rtt) before a response reaches the caller; every other response
// passes through unchanged (spec §4.4).
func (t *Transport) middleware(res *wire.SignalResponse) bool {
	switch m := res.Message.(type) {
	case *wire.SignalResponse_PongResp:
		now := time.Now().UnixMilli()
		t.rtt.Store(now - m.PongResp.LastPingTimestamp)
		t.lastPongAt.Store(now)
		return false
	case *wire.SignalResponse_Join:
		t.pingInterval = time.Duration(m.Join.PingInterval) * time.Second
		t.pingTimeout = time.Duration(m.Join.PingTimeout) * time.Second
		t.startPing()
		return true
	default:
		return true
	}
}

func (t *Transport) startPing() {
	if t.pingInterval <= 0 {
		return
	}
	t.stopPing()
	t.lastPongAt.Store(time.Now().UnixMilli())
	t.pingMu.Lock()
	stop := make(chan struct{})
	t.pingStop = stop
	t.pingWG.Add(1)
	t.pingMu.Unlock()
	go func() {
		defer t.pingWG.Done()
		ticker := time.NewTicker(t.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if t.pongOverdue() {
					t.opts.Logger.Warnw("pong timeout, dropping signaling connection")
					t.dropConn()
					return
				}
				t.sendPing()
			}
		}
	}()
}

// pongOverdue reports whether the server has gone silent past the
// negotiated ping_timeout (one interval of grace covers the in-flight
// ping).
func (t *Transport) pongOverdue() bool {
	if t.pingTimeout <= 0 {
		return false
	}
	last := time.UnixMilli(t.lastPongAt.Load())
	return time.Since(last) > t.pingInterval+t.pingTimeout
}

// dropConn closes the raw socket without the clean-close handshake so the
// read loop observes the failure and reports Disconnected. Close is not
// callable from the ping goroutine itself: stopPing waits on pingWG.
func (t *Transport) dropConn() {
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (t *Transport) stopPing() {
	t.pingMu.Lock()
	stop := t.pingStop
	t.pingStop = nil
	t.pingMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	t.pingWG.Wait()
}

func (t *Transport) sendPing() {
	req := &wire.SignalRequest{Message: &wire.SignalRequest_PingReq{PingReq: &wire.PingRequest{
		Timestamp: time.Now().UnixMilli(),
		Rtt:       t.rtt.Load(),
	}}}
	if err := t.send(req); err != nil {
		t.opts.Logger.Warnw("ping send failed", "error", err)
	}
}

// SendOffer encodes and sends the publisher's local SDP offer.
func (t *Transport) SendOffer(sdp string) error {
	return t.send(&wire.SignalRequest{Message: &wire.SignalRequest_Offer{
		Offer: &wire.SessionDescription{Type: "offer", SDP: sdp},
	}})
}

// SendAnswer encodes and sends the subscriber's local SDP answer.
func (t *Transport) SendAnswer(sdp string) error {
	return t.send(&wire.SignalRequest{Message: &wire.SignalRequest_Answer{
		Answer: &wire.SessionDescription{Type: "answer", SDP: sdp},
	}})
}

// SendTrickle forwards one locally-gathered ICE candidate to the server for
// the given target peer (spec §4.4/§4.5 outbound half of trickle ICE).
func (t *Transport) SendTrickle(candidateInitJSON string, target wire.SignalTarget) error {
	return t.send(&wire.SignalRequest{Message: &wire.SignalRequest_Trickle{
		Trickle: &wire.TrickleRequest{CandidateInit: candidateInitJSON, Target: target},
	}})
}

// SendAddTrack requests publication of a local track.
func (t *Transport) SendAddTrack(req *wire.AddTrackRequest) error {
	return t.send(&wire.SignalRequest{Message: &wire.SignalRequest_AddTrack{AddTrack: req}})
}

// SendUpdateSubscription requests subscribe/unsubscribe for one track sid.
func (t *Transport) SendUpdateSubscription(sid string, subscribe bool) error {
	return t.send(&wire.SignalRequest{Message: &wire.SignalRequest_Subscription{
		Subscription: &wire.UpdateSubscription{TrackSids: []string{sid}, Subscribe: subscribe},
	}})
}

// SendLeave notifies the server of a client-initiated disconnect (spec §9
// resolution: Leave is now sent on CmdClose rather than silently skipped).
func (t *Transport) SendLeave() error {
	return t.send(&wire.SignalRequest{Message: &wire.SignalRequest_Leave{
		Leave: &wire.LeaveRequest{
			Reason: wire.DisconnectReasonClientInitiated,
			Action: wire.LeaveActionDisconnect,
		},
	}})
}

func (t *Transport) send(req *wire.SignalRequest) error {
	buf, err := wire.EncodeSignalRequest(req)
	if err != nil {
		return err
	}

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("signaling: not connected")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, buf)
}
