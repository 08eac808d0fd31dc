// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package engine implements the LiveKit client engine's coordination core:
// a single-consumer state machine that drives one signaling transport and
// two WebRTC peer controllers (publisher, subscriber) through connect,
// reconnect, and close lifecycles (spec §4.6).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/lkengine/internal/logging"
	"github.com/rapidaai/lkengine/pkg/rtcpeer"
	"github.com/rapidaai/lkengine/pkg/signaling"
	"github.com/rapidaai/lkengine/pkg/wire"
)

// ErrInvalidArg is returned by the public surface for nil/empty arguments
// (spec §7 Engine taxonomy).
var ErrInvalidArg = errInvalidArg

// Options configures an Engine at construction (spec §6 "Configuration").
type Options struct {
	MaxRetries        int
	QueueSize         int
	PublishIntervalMs int
	Benchmark         bool

	PublishAudioTrack bool
	PublishVideoTrack bool

	Descriptor signaling.ClientDescriptor
	ICEServers []webrtc.ICEServer

	Capture Capture
	Render  Render

	Logger logging.Logger

	// OnStateChanged reports the user-visible connection lifecycle (spec
	// §4.6.3 / §7).
	OnStateChanged func(state ExternalState)
	// OnParticipantInfo is invoked once per participant in a
	// ParticipantUpdate, in server order, with isLocal computed against the
	// session's local_participant_sid (spec §4.6.2).
	OnParticipantInfo func(p *wire.ParticipantInfo, isLocal bool)
	// OnRoomInfo forwards RoomUpdate responses while Connected.
	OnRoomInfo func(room *wire.RoomInfo)
	// OnDataPacket is invoked, while the engine is Connected, for every
	// inbound data packet the peer controllers decode successfully
	// (which_value != 0); packets that arrive in any other state are dropped.
	OnDataPacket func(p *wire.DataPacket) bool
}

func (o *Options) setDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 10
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.PublishIntervalMs <= 0 {
		o.PublishIntervalMs = 20
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
}

// Engine is the single task that owns the signaling transport and both
// peer controllers, and drives them through the state machine of spec
// §4.6. All fields below are touched only from the Engine's run goroutine
// (spec §5 "Single-writer").
type Engine struct {
	opts Options
	ctx  context.Context

	q *queue

	wg      sync.WaitGroup
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool

	// Engine-task-owned state (single-writer, spec §5).
	state         State
	lastExternal  ExternalState
	retryCount    int
	maxRetriesHit bool

	serverURL string
	token     string

	subscriberPrimary   bool
	forceRelay          bool
	localParticipantSID string

	signal  *signaling.Transport
	pubPeer *rtcpeer.Controller
	subPeer *rtcpeer.Controller

	backoff      *signaling.EngineBackOff
	backoffTimer *time.Timer
	backoffStop  chan struct{}

	media *mediaLoop
}

// New constructs an Engine: its signaling transport and event queue, but no
// peers yet (those are created only after a Join response, spec §3
// invariant). The returned Engine is not yet running; call Run.
func New(opts Options) (*Engine, error) {
	opts.setDefaults()

	e := &Engine{
		opts:    opts,
		ctx:     context.Background(),
		q:       newQueue(opts.QueueSize, opts.Logger),
		done:    make(chan struct{}),
		backoff: &signaling.EngineBackOff{},
	}
	e.lastExternal = ExternalDisconnected

	signal, err := signaling.New(signaling.Options{
		Descriptor: opts.Descriptor,
		Logger:     opts.Logger.With("component", "signal"),
		OnStateChanged: func(s signaling.State, reason signaling.FailureReason) {
			e.q.pushFront(Event{Kind: EventSigState, SigState: s, SigReason: reason})
		},
		OnResponse: func(res *wire.SignalResponse) bool {
			// A server-initiated Leave takes the priority lane, like state
			// changes; every other response queues at the back.
			if _, ok := res.Message.(*wire.SignalResponse_Leave); ok {
				return e.q.pushFront(Event{Kind: EventSigResponse, SigResp: res})
			}
			return e.q.pushBack(Event{Kind: EventSigResponse, SigResp: res})
		},
	})
	if err != nil {
		return nil, fmt.Errorf("engine: new signal: %w", err)
	}
	e.signal = signal
	e.media = newMediaLoop(e)
	return e, nil
}

// Run starts the Engine task. It blocks until Close has closed the queue and
// every event still queued has been handled; callers typically invoke it in
// its own goroutine.
func (e *Engine) Run() {
	e.wg.Add(1)
	defer e.wg.Done()
	defer close(e.done)

	// The state machine starts in Disconnected but spec §4.6 still wants
	// _StateEnter to run for it once, since Disconnected._StateEnter is
	// what establishes the "everything torn down" baseline.
	e.dispatch(Disconnected, Event{Kind: eventStateEnter})

	for {
		ev, ok := e.q.pop()
		if !ok {
			return
		}
		e.handle(ev)
	}
}

// Connect enqueues a CmdConnect event (spec §6 public surface).
func (e *Engine) Connect(serverURL, token string) error {
	if serverURL == "" || token == "" {
		return fmt.Errorf("engine: connect: %w", ErrInvalidArg)
	}
	e.q.pushFront(Event{Kind: EventCmdConnect, ServerURL: serverURL, Token: token})
	return nil
}

// Close enqueues a CmdClose event and waits (bounded) for the Engine task to
// finish draining its queue (spec §9 resolution 1: a bounded wait on a done
// channel replaces the source's fixed 100ms sleep).
func (e *Engine) Close() error {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return nil
	}
	e.closed = true
	e.closeMu.Unlock()

	// CmdClose is enqueued before the queue is closed, so the Engine task
	// still processes it (teardown, Leave send) and then exits once the
	// queue is both closed and empty; the done wait is a bound, not a sleep.
	e.q.pushFront(Event{Kind: EventCmdClose})
	e.q.close()

	const shutdownTimeout = 2 * time.Second
	select {
	case <-e.done:
	case <-time.After(shutdownTimeout):
		e.opts.Logger.Warnw("engine close: shutdown timed out")
	}
	dropped := e.q.drain()
	if dropped > 0 {
		e.opts.Logger.Warnw("engine close: dropped queued events", "count", dropped)
	}
	return nil
}

// SendDataPacket sends a typed data packet over the publisher's reliable or
// lossy SCTP channel (spec §6 public surface).
func (e *Engine) SendDataPacket(p *wire.DataPacket, reliable bool) error {
	if p == nil {
		return fmt.Errorf("engine: send data packet: %w", ErrInvalidArg)
	}
	if e.pubPeer == nil {
		return fmt.Errorf("engine: send data packet: %w", rtcpeer.ErrInvalidState)
	}
	return e.pubPeer.SendDataPacket(p, reliable)
}

// GetFailureReason exposes the signaling transport's last classified
// connect failure (spec §4.4).
func (e *Engine) GetFailureReason() signaling.FailureReason {
	return e.signal.GetFailureReason()
}

func (e *Engine) log() logging.Logger {
	return e.opts.Logger
}

func (e *Engine) resetSessionState() {
	e.subscriberPrimary = false
	e.forceRelay = false
	e.localParticipantSID = ""
}

func (e *Engine) destroyPeers() {
	if e.pubPeer != nil {
		_ = e.pubPeer.Close()
		e.pubPeer = nil
	}
	if e.subPeer != nil {
		_ = e.subPeer.Close()
		e.subPeer = nil
	}
}

// sendLeaveBestEffort is spec §9 resolution 2: a user-initiated CmdClose now
// sends Leave before tearing the session down, bounded by the signal's own
// close timeout rather than blocking indefinitely.
func (e *Engine) sendLeaveBestEffort() {
	done := make(chan struct{})
	go func() {
		if err := e.signal.SendLeave(); err != nil {
			e.log().Warnw("send leave failed", "error", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(250 * time.Millisecond):
		e.log().Warnw("send leave timed out")
	}
}

func (e *Engine) handleJoin(j *wire.JoinResponse) {
	e.subscriberPrimary = j.SubscriberPrimary
	e.forceRelay = j.ClientConfiguration != nil && j.ClientConfiguration.ForceRelay == wire.ClientConfigSettingEnabled
	if j.Participant != nil {
		e.localParticipantSID = j.Participant.Sid
	}
}

// createAndConnectPeers builds the publisher and subscriber controllers in
// parallel (spec §3 invariant: both are created only after a valid Join)
// and kicks off the publisher's offer generation.
func (e *Engine) createAndConnectPeers() error {
	g, _ := errgroup.WithContext(e.ctx)

	g.Go(func() error {
		pub, err := rtcpeer.New(rtcpeer.Options{
			Role:       rtcpeer.RolePublisher,
			ICEServers: e.opts.ICEServers,
			ForceRelay: e.forceRelay,
			Media: rtcpeer.MediaConfig{
				AudioDirection: directionIf(e.opts.PublishAudioTrack, rtcpeer.DirectionSendOnly),
				VideoDirection: directionIf(e.opts.PublishVideoTrack, rtcpeer.DirectionSendOnly),
			},
			Logger: e.opts.Logger.With("peer", "publisher"),
			Observer: rtcpeer.Observer{
				OnStateChanged: func(s rtcpeer.State) {
					e.q.pushFront(Event{Kind: EventPeerPubState, PeerState: s})
				},
				OnSDPReady: func(sdp webrtc.SessionDescription) {
					if sdp.Type == webrtc.SDPTypeOffer {
						if err := e.signal.SendOffer(sdp.SDP); err != nil {
							e.log().Warnw("send offer failed", "error", err)
						}
					} else if err := e.signal.SendAnswer(sdp.SDP); err != nil {
						e.log().Warnw("send answer failed", "error", err)
					}
				},
				OnICECandidate: func(candidateInitJSON string) {
					if err := e.signal.SendTrickle(candidateInitJSON, wire.SignalTargetPublisher); err != nil {
						e.log().Warnw("send publisher trickle failed", "error", err)
					}
				},
				OnDataPacket: func(p *wire.DataPacket) bool {
					return e.q.pushBack(Event{Kind: EventPeerDataPacket, Packet: p})
				},
			},
		})
		if err != nil {
			return fmt.Errorf("create publisher: %w", err)
		}
		e.pubPeer = pub
		return pub.CreateOffer()
	})

	g.Go(func() error {
		sub, err := rtcpeer.New(rtcpeer.Options{
			Role:       rtcpeer.RoleSubscriber,
			ICEServers: e.opts.ICEServers,
			ForceRelay: e.forceRelay,
			Media: rtcpeer.MediaConfig{
				AudioDirection: rtcpeer.DirectionRecvOnly,
				VideoDirection: rtcpeer.DirectionRecvOnly,
			},
			Logger: e.opts.Logger.With("peer", "subscriber"),
			Observer: rtcpeer.Observer{
				OnStateChanged: func(s rtcpeer.State) {
					e.q.pushFront(Event{Kind: EventPeerSubState, PeerState: s})
				},
				OnSDPReady: func(sdp webrtc.SessionDescription) {
					if err := e.signal.SendAnswer(sdp.SDP); err != nil {
						e.log().Warnw("send subscriber answer failed", "error", err)
					}
				},
				OnICECandidate: func(candidateInitJSON string) {
					if err := e.signal.SendTrickle(candidateInitJSON, wire.SignalTargetSubscriber); err != nil {
						e.log().Warnw("send subscriber trickle failed", "error", err)
					}
				},
				OnAudioInfo: func(mimeType string) {
					if e.opts.Render != nil {
						e.opts.Render.AddAudioStream(translateAudioInfo(mimeType))
					}
				},
				OnAudioFrame: func(payload []byte) {
					if e.opts.Render != nil {
						e.opts.Render.AddAudioData(AudioData{PTS: time.Now().UnixMilli(), Data: payload})
					}
				},
				OnDataPacket: func(p *wire.DataPacket) bool {
					return e.q.pushBack(Event{Kind: EventPeerDataPacket, Packet: p})
				},
			},
		})
		if err != nil {
			return fmt.Errorf("create subscriber: %w", err)
		}
		e.subPeer = sub
		return nil
	})

	if err := g.Wait(); err != nil {
		e.destroyPeers()
		return fmt.Errorf("%w: %v", errRTC, err)
	}
	return nil
}

func directionIf(want bool, d rtcpeer.MediaDirection) rtcpeer.MediaDirection {
	if want {
		return d
	}
	return rtcpeer.DirectionNone
}

func (e *Engine) routeSDPToPublisher(sdp *wire.SessionDescription) {
	if e.pubPeer == nil || sdp == nil {
		return
	}
	if err := e.pubPeer.HandleSDP(sdp.Type, sdp.SDP); err != nil {
		e.log().Warnw("publisher handle sdp failed", "error", err)
	}
}

func (e *Engine) routeSDPToSubscriber(sdp *wire.SessionDescription) {
	if e.subPeer == nil || sdp == nil {
		return
	}
	if err := e.subPeer.HandleSDP(sdp.Type, sdp.SDP); err != nil {
		e.log().Warnw("subscriber handle sdp failed", "error", err)
	}
}

func (e *Engine) routeTrickle(t *wire.TrickleRequest) {
	if t == nil {
		return
	}
	candidate, err := wire.TrickleGetCandidate(t.CandidateInit)
	if err != nil {
		e.log().Warnw("trickle candidate decode failed", "error", err)
		return
	}

	target := e.pubPeer
	if t.Target == wire.SignalTargetSubscriber {
		target = e.subPeer
	}
	if target == nil {
		return
	}
	if err := target.HandleICECandidate(candidate); err != nil {
		e.log().Warnw("add ice candidate failed", "error", err)
	}
}

// armBackoffTimer schedules the next reconnect attempt; the delay comes
// from the EngineBackOff adapter, whose attempt counter advances in
// lockstep with retryCount (both reset on Disconnected/Connected entry).
func (e *Engine) armBackoffTimer() {
	e.stopBackoffTimer()
	delay := e.backoff.NextBackOff()
	stop := make(chan struct{})
	e.backoffStop = stop
	e.backoffTimer = time.AfterFunc(delay, func() {
		select {
		case <-stop:
			return
		default:
		}
		e.q.pushFront(Event{Kind: EventTimerExpired})
	})
}

func (e *Engine) stopBackoffTimer() {
	if e.backoffTimer != nil {
		e.backoffTimer.Stop()
		e.backoffTimer = nil
	}
	if e.backoffStop != nil {
		close(e.backoffStop)
		e.backoffStop = nil
	}
}

func (e *Engine) publishTracks() {
	if !e.opts.PublishAudioTrack && !e.opts.PublishVideoTrack {
		return
	}
	if e.pubPeer == nil {
		return
	}
	if e.opts.PublishAudioTrack {
		if err := e.signal.SendAddTrack(&wire.AddTrackRequest{
			Cid: "a0", Name: "microphone", Type: wire.TrackTypeAudio,
			Source: wire.TrackSourceMicrophone, Stereo: true, SampleRate: 48000,
		}); err != nil {
			e.log().Warnw("add audio track failed", "error", err)
		}
	}
	if e.opts.PublishVideoTrack {
		if err := e.signal.SendAddTrack(&wire.AddTrackRequest{
			Cid: "v0", Name: "camera", Type: wire.TrackTypeVideo,
			Source: wire.TrackSourceCamera,
		}); err != nil {
			e.log().Warnw("add video track failed", "error", err)
		}
	}
	e.media.start(e.ctx, e.opts.PublishIntervalMs)
}

func (e *Engine) stopMediaStreaming() {
	e.media.stop()
}
