// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package rtcpeer owns one direction of a LiveKit WebRTC session: the
// publisher peer (sends media, opens data channels) or the subscriber peer
// (receives media, answers offers). Both roles share one Controller type.
package rtcpeer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/atomic"

	"github.com/rapidaai/lkengine/internal/logging"
	"github.com/rapidaai/lkengine/pkg/wire"
)

// Role is which side of the session a Controller drives.
type Role int

const (
	RolePublisher Role = iota
	RoleSubscriber
)

func (r Role) String() string {
	if r == RoleSubscriber {
		return "subscriber"
	}
	return "publisher"
}

// ICERole records which side initiates ICE connectivity checks. It falls
// out of who creates the offer (publisher) vs. the answer (subscriber). It
// is recorded for reference only and nothing consumes it; pion derives the
// actual agent role itself.
type ICERole int

const (
	ICERoleControlling ICERole = iota
	ICERoleControlled
)

func (r ICERole) String() string {
	if r == ICERoleControlled {
		return "controlled"
	}
	return "controlling"
}

// State mirrors the underlying session's connection lifecycle, gated (on
// both roles) by the data-channel-open invariant below.
type State int32

const (
	StateNew State = iota
	StateConnecting
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
		return "new"
	}
}

// MediaDirection describes what a media kind is configured to do before
// the per-role mask (effectiveDirection) narrows it.
type MediaDirection int

const (
	DirectionNone MediaDirection = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionSendRecv
)

// effectiveDirection narrows a configured direction to what this role may
// actually do: a publisher never receives, a subscriber never sends.
func effectiveDirection(d MediaDirection, role Role) MediaDirection {
	switch role {
	case RolePublisher:
		if d == DirectionSendOnly || d == DirectionSendRecv {
			return DirectionSendOnly
		}
	case RoleSubscriber:
		if d == DirectionRecvOnly || d == DirectionSendRecv {
			return DirectionRecvOnly
		}
	}
	return DirectionNone
}

// MediaConfig is the audio/video direction the caller wants this Controller
// to negotiate; codecs are fixed to Opus (audio) and VP8 (video) — the only
// pair this engine's non-goals (no simulcast/SVC) require.
type MediaConfig struct {
	AudioDirection MediaDirection
	VideoDirection MediaDirection
}

// ErrInvalidState is returned by data/media sends made before the
// Controller has reached StateConnected, or by role-mismatched calls.
var ErrInvalidState = errors.New("rtcpeer: invalid state")

// Observer carries every callback a Controller invokes. Nil fields are
// simply never called — a caller only wires what it needs.
type Observer struct {
	OnStateChanged func(state State)
	OnSDPReady     func(sdp webrtc.SessionDescription)
	OnICECandidate func(candidateInitJSON string)
	OnAudioInfo    func(mimeType string)
	OnVideoInfo    func(mimeType string)
	OnAudioFrame   func(rtpPacket []byte)
	OnVideoFrame   func(rtpPacket []byte)
	OnDataPacket   func(packet *wire.DataPacket) bool
}

// Options configures a Controller at construction (spec §4.5 creation
// contract).
type Options struct {
	Role       Role
	ICEServers []webrtc.ICEServer
	ForceRelay bool
	Media      MediaConfig
	Observer   Observer
	Logger     logging.Logger
}

// Controller owns a single pion PeerConnection plus the bookkeeping the
// spec layers on top of it: role, stream-id table for the two SCTP data
// channels, and the publisher-only audio-level SDP/RTP state.
type Controller struct {
	opts Options
	pc   *webrtc.PeerConnection

	state atomic.Int32

	reliableDC *webrtc.DataChannel
	lossyDC    *webrtc.DataChannel
	reliableID atomic.Uint32
	lossyID    atomic.Uint32

	audioTrack *webrtc.TrackLocalStaticRTP
	videoTrack *webrtc.TrackLocalStaticRTP

	opusPayloadType    atomic.Uint32
	audioLevelExtmapID atomic.Uint32
}

// New constructs a Controller and its underlying PeerConnection. Data
// channel auto-creation is disabled; the publisher creates its channels
// explicitly once the session reaches Connected (spec §4.5).
func New(opts Options) (*Controller, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("rtcpeer: register opus codec: %w", err)
	}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("rtcpeer: register vp8 codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("rtcpeer: register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	pcConfig := webrtc.Configuration{ICEServers: opts.ICEServers}
	if opts.ForceRelay {
		pcConfig.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	pc, err := api.NewPeerConnection(pcConfig)
	if err != nil {
		return nil, fmt.Errorf("rtcpeer: new peer connection: %w", err)
	}

	c := &Controller{opts: opts, pc: pc}
	c.reliableID.Store(uint32(streamIDInvalid))
	c.lossyID.Store(uint32(streamIDInvalid))

	if err := c.setupTracks(); err != nil {
		pc.Close()
		return nil, err
	}
	c.setupHandlers()
	return c, nil
}

func (c *Controller) iceRole() ICERole {
	if c.opts.Role == RoleSubscriber {
		return ICERoleControlled
	}
	return ICERoleControlling
}

func (c *Controller) setupTracks() error {
	audioDir := effectiveDirection(c.opts.Media.AudioDirection, c.opts.Role)
	videoDir := effectiveDirection(c.opts.Media.VideoDirection, c.opts.Role)

	if audioDir == DirectionSendOnly {
		track, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", "lkengine",
		)
		if err != nil {
			return fmt.Errorf("rtcpeer: new audio track: %w", err)
		}
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("rtcpeer: add audio track: %w", err)
		}
		c.audioTrack = track
		c.drainRTCP(sender)
	} else if audioDir == DirectionRecvOnly {
		if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			return fmt.Errorf("rtcpeer: add audio transceiver: %w", err)
		}
	}

	if videoDir == DirectionSendOnly {
		track, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", "lkengine",
		)
		if err != nil {
			return fmt.Errorf("rtcpeer: new video track: %w", err)
		}
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("rtcpeer: add video track: %w", err)
		}
		c.videoTrack = track
		c.drainRTCP(sender)
	} else if videoDir == DirectionRecvOnly {
		if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			return fmt.Errorf("rtcpeer: add video transceiver: %w", err)
		}
	}
	return nil
}

func (c *Controller) setupHandlers() {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || c.opts.Observer.OnICECandidate == nil {
			return
		}
		init := cand.ToJSON()
		payload, err := candidateInitJSON(init)
		if err != nil {
			c.opts.Logger.Warnw("candidate marshal failed", "error", err)
			return
		}
		c.opts.Observer.OnICECandidate(payload)
	})

	c.pc.OnConnectionStateChange(func(pcs webrtc.PeerConnectionState) {
		switch pcs {
		case webrtc.PeerConnectionStateConnecting:
			c.setState(StateConnecting)
		case webrtc.PeerConnectionStateConnected:
			if c.opts.Role == RolePublisher {
				c.createPublisherChannels()
			}
			c.maybeEnterConnected()
		case webrtc.PeerConnectionStateFailed:
			c.setState(StateFailed)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			c.setState(StateDisconnected)
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.trackDataChannel(dc)
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.readRemoteTrack(track)
	})
}

// createPublisherChannels opens the two well-known channels; only the
// publisher side calls this (spec §4.5).
func (c *Controller) createPublisherChannels() {
	reliable, lossy, err := createDataChannels(c.pc)
	if err != nil {
		c.opts.Logger.Errorw("failed to create data channels", "error", err)
		return
	}
	c.trackDataChannel(reliable)
	c.trackDataChannel(lossy)
}

// trackDataChannel wires open/close/message handlers for one data channel,
// regardless of whether this side created it (publisher) or received it
// from the remote peer (subscriber).
func (c *Controller) trackDataChannel(dc *webrtc.DataChannel) {
	switch dc.Label() {
	case reliableChannelLabel:
		c.reliableDC = dc
	case lossyChannelLabel:
		c.lossyDC = dc
	default:
		return
	}

	label := dc.Label()
	dc.OnOpen(func() {
		id := streamIDInvalid
		if dc.ID() != nil {
			id = *dc.ID()
		}
		if label == reliableChannelLabel {
			c.reliableID.Store(uint32(id))
		} else {
			c.lossyID.Store(uint32(id))
		}
		c.maybeEnterConnected()
	})
	dc.OnClose(func() {
		if label == reliableChannelLabel {
			c.reliableID.Store(uint32(streamIDInvalid))
		} else {
			c.lossyID.Store(uint32(streamIDInvalid))
		}
		c.setState(StateDisconnected)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.handleDataMessage(msg.Data)
	})
}

// maybeEnterConnected applies the Connected-gating invariant: the public
// state only becomes Connected once the underlying session reports
// Connected and both data channel stream ids are valid (spec §4.5).
func (c *Controller) maybeEnterConnected() {
	if c.pc.ConnectionState() != webrtc.PeerConnectionStateConnected {
		return
	}
	if uint16(c.reliableID.Load()) == streamIDInvalid || uint16(c.lossyID.Load()) == streamIDInvalid {
		return
	}
	c.setState(StateConnected)
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	if c.opts.Observer.OnStateChanged != nil {
		c.opts.Observer.OnStateChanged(s)
	}
}

// State returns the Controller's current externally-visible state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// CreateOffer generates the publisher's local offer, sets pion's unmodified
// offer as the local description, and forwards a copy with the audio-level
// extmap injected via the observer. Publisher-only.
func (c *Controller) CreateOffer() error {
	if c.opts.Role != RolePublisher {
		return fmt.Errorf("rtcpeer: CreateOffer: %w", ErrInvalidState)
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("rtcpeer: create offer: %w", err)
	}

	// The local description keeps pion's generated SDP untouched; the
	// injected extmap line only needs to reach the server, and the RTP
	// transform writes the extension bytes itself.
	patched, extmapID, ok := injectAudioLevelExtmap(offer.SDP)
	if ok {
		c.audioLevelExtmapID.Store(uint32(extmapID))
	} else {
		patched = offer.SDP
		c.opts.Logger.Warnw("audio-level extmap injection skipped")
	}
	c.opusPayloadType.Store(uint32(parseOpusPayloadType(patched)))

	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("rtcpeer: set local description: %w", err)
	}
	if c.opts.Observer.OnSDPReady != nil {
		c.opts.Observer.OnSDPReady(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: patched})
	}
	return nil
}

// HandleSDP forwards a remote SDP message into the session: the
// publisher's received answer, or the subscriber's received offer (which
// triggers answer generation).
func (c *Controller) HandleSDP(sdpType, sdp string) error {
	desc := webrtc.SessionDescription{SDP: sdp}
	switch sdpType {
	case "offer":
		desc.Type = webrtc.SDPTypeOffer
	case "answer":
		desc.Type = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("rtcpeer: unknown sdp type %q", sdpType)
	}

	c.opusPayloadType.Store(uint32(parseOpusPayloadType(sdp)))
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("rtcpeer: set remote description: %w", err)
	}

	if desc.Type != webrtc.SDPTypeOffer {
		return nil
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("rtcpeer: create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("rtcpeer: set local description: %w", err)
	}
	if c.opts.Observer.OnSDPReady != nil {
		c.opts.Observer.OnSDPReady(answer)
	}
	return nil
}

// HandleICECandidate forwards a single trickled candidate string into the
// session. The sdpMid/sdpMLineIndex hints are not carried on this path;
// pion applies the candidate to the session's ICE agent directly.
func (c *Controller) HandleICECandidate(candidate string) error {
	if err := c.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
		return fmt.Errorf("rtcpeer: add ice candidate: %w", err)
	}
	return nil
}

// SendDataPacket encodes packet and sends it over the reliable or lossy
// channel. Fails with ErrInvalidState if that channel isn't open yet.
func (c *Controller) SendDataPacket(packet *wire.DataPacket, reliable bool) error {
	if c.State() != StateConnected {
		return fmt.Errorf("rtcpeer: send data packet: %w", ErrInvalidState)
	}
	dc := c.lossyDC
	if reliable {
		dc = c.reliableDC
	}
	if dc == nil {
		return fmt.Errorf("rtcpeer: send data packet: %w", ErrInvalidState)
	}

	buf, err := wire.EncodeDataPacket(packet)
	if err != nil {
		return err
	}
	return dc.Send(buf)
}

// SendAudio writes a publisher-only outgoing Opus RTP packet, applying the
// audio-level transform when the packet's payload type matches the
// negotiated Opus PT.
func (c *Controller) SendAudio(rtpPacket []byte) error {
	if c.opts.Role != RolePublisher || c.audioTrack == nil {
		return fmt.Errorf("rtcpeer: send audio: %w", ErrInvalidState)
	}

	out, err := audioLevelTransform(rtpPacket, uint8(c.opusPayloadType.Load()), uint8(c.audioLevelExtmapID.Load()))
	if errors.Is(err, ErrNotSupported) {
		out = rtpPacket
	} else if err != nil {
		return err
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(out); err != nil {
		return fmt.Errorf("rtcpeer: unmarshal audio rtp: %w", err)
	}
	return c.audioTrack.WriteRTP(pkt)
}

// SendVideo writes a publisher-only outgoing video RTP packet unchanged.
func (c *Controller) SendVideo(rtpPacket []byte) error {
	if c.opts.Role != RolePublisher || c.videoTrack == nil {
		return fmt.Errorf("rtcpeer: send video: %w", ErrInvalidState)
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(rtpPacket); err != nil {
		return fmt.Errorf("rtcpeer: unmarshal video rtp: %w", err)
	}
	return c.videoTrack.WriteRTP(pkt)
}

// readRemoteTrack fans inbound RTP packets out to the audio/video frame
// observers, emitting the info callback once for the track's codec.
func (c *Controller) readRemoteTrack(track *webrtc.TrackRemote) {
	isAudio := track.Kind() == webrtc.RTPCodecTypeAudio
	mimeType := track.Codec().MimeType

	if isAudio && c.opts.Observer.OnAudioInfo != nil {
		c.opts.Observer.OnAudioInfo(mimeType)
	} else if !isAudio && c.opts.Observer.OnVideoInfo != nil {
		c.opts.Observer.OnVideoInfo(mimeType)
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])

		if isAudio {
			if c.opts.Observer.OnAudioFrame != nil {
				c.opts.Observer.OnAudioFrame(frame)
			}
		} else if c.opts.Observer.OnVideoFrame != nil {
			c.opts.Observer.OnVideoFrame(frame)
		}
	}
}

// handleDataMessage decodes an inbound SCTP message as a DataPacket and
// forwards it to the observer, dropping the frame when which_value == 0
// (spec §4.5).
func (c *Controller) handleDataMessage(data []byte) {
	packet, err := wire.DecodeDataPacket(data)
	if err != nil {
		if errors.Is(err, wire.ErrNotSupported) {
			return
		}
		c.opts.Logger.Warnw("data packet decode failed", "error", err)
		return
	}
	if c.opts.Observer.OnDataPacket != nil {
		c.opts.Observer.OnDataPacket(packet)
	}
}

// drainRTCP reads and discards RTCP packets off sender so the pion's
// internal buffers don't fill, logging receiver-report loss (fraction and
// total lost) at debug level. Call once per RTPSender after AddTrack.
func (c *Controller) drainRTCP(sender *webrtc.RTPSender) {
	go func() {
		buf := make([]byte, 1500)
		for {
			n, _, err := sender.Read(buf)
			if err != nil {
				return
			}
			pkts, err := rtcp.Unmarshal(buf[:n])
			if err != nil {
				continue
			}
			for _, pkt := range pkts {
				if rr, ok := pkt.(*rtcp.ReceiverReport); ok {
					for _, r := range rr.Reports {
						c.opts.Logger.Debugw("rtcp receiver report",
							"fractionLost", r.FractionLost, "totalLost", r.TotalLost)
					}
				}
			}
		}
	}()
}

// candidateInitJSON marshals a pion ICE candidate as the JSON object the
// wire protocol's TrickleRequest.CandidateInit field expects.
func candidateInitJSON(init webrtc.ICECandidateInit) (string, error) {
	buf, err := json.Marshal(init)
	if err != nil {
		return "", fmt.Errorf("rtcpeer: marshal ice candidate: %w", err)
	}
	return string(buf), nil
}

// Close tears down the underlying PeerConnection. Idempotent.
func (c *Controller) Close() error {
	if c.pc == nil {
		return nil
	}
	err := c.pc.Close()
	c.setState(StateDisconnected)
	return err
}
