// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wire

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// SignalTarget selects which peer (publisher/subscriber) a trickle
// candidate or SDP message applies to.
type SignalTarget int32

const (
	SignalTargetPublisher SignalTarget = iota
	SignalTargetSubscriber
)

// DisconnectReason mirrors the LiveKit protocol's disconnect reason enum,
// trimmed to the values this engine produces or inspects.
type DisconnectReason int32

const (
	DisconnectReasonUnknown DisconnectReason = iota
	DisconnectReasonClientInitiated
	DisconnectReasonServerShutdown
	DisconnectReasonStateMismatch
	DisconnectReasonJoinFailure
)

// LeaveAction is the server- or client-requested follow-up to a Leave.
type LeaveAction int32

const (
	LeaveActionDisconnect LeaveAction = iota
	LeaveActionResume
	LeaveActionReconnect
)

// ClientConfigSetting mirrors the tri-state enum LiveKit uses for
// per-client configuration toggles (spec §3's force_relay source).
type ClientConfigSetting int32

const (
	ClientConfigSettingUnset ClientConfigSetting = iota
	ClientConfigSettingDisabled
	ClientConfigSettingEnabled
)

// TrackType distinguishes audio/video tracks in AddTrackRequest.
type TrackType int32

const (
	TrackTypeAudio TrackType = iota
	TrackTypeVideo
)

// TrackSource identifies the capture source of a published track.
type TrackSource int32

const (
	TrackSourceMicrophone TrackSource = iota
	TrackSourceCamera
)

// SessionDescription is an SDP offer/answer exchanged over signaling.
type SessionDescription struct {
	Type string
	SDP  string
}

func (d *SessionDescription) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, d.Type)
	b = appendStringField(b, 2, d.SDP)
	return b
}

func unmarshalSessionDescription(buf []byte) (*SessionDescription, error) {
	d := &SessionDescription{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			d.Type = s
			return n, nil
		case 2:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			d.SDP = s
			return n, nil
		}
		return 0, nil
	})
	return d, err
}

// TrickleRequest carries one incrementally-delivered ICE candidate. The
// candidate itself is embedded as a JSON object string (spec §4.2).
type TrickleRequest struct {
	CandidateInit string
	Target        SignalTarget
}

func (t *TrickleRequest) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, t.CandidateInit)
	b = appendVarintField(b, 2, uint64(t.Target))
	return b
}

func unmarshalTrickle(buf []byte) (*TrickleRequest, error) {
	t := &TrickleRequest{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			t.CandidateInit = s
			return n, nil
		case 2:
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			t.Target = SignalTarget(v)
			return n, nil
		}
		return 0, nil
	})
	return t, err
}

// AddTrackRequest describes a track about to be published (spec §3 "Track
// description"): fixed CIDs a0/v0, name, source, mute state, and the
// video layer descriptors if a video track.
type AddTrackRequest struct {
	Cid        string
	Name       string
	Type       TrackType
	Source     TrackSource
	Muted      bool
	Stereo     bool
	Width      uint32
	Height     uint32
	SampleRate uint32
}

func (a *AddTrackRequest) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, a.Cid)
	b = appendStringField(b, 2, a.Name)
	b = appendVarintField(b, 3, uint64(a.Type))
	b = appendVarintField(b, 4, uint64(a.Source))
	b = appendBoolField(b, 5, a.Muted)
	b = appendBoolField(b, 6, a.Stereo)
	b = appendVarintField(b, 7, uint64(a.Width))
	b = appendVarintField(b, 8, uint64(a.Height))
	b = appendVarintField(b, 9, uint64(a.SampleRate))
	return b
}

// UpdateSubscription requests subscribe/unsubscribe for a set of track
// SIDs (spec §4.4 send_update_subscription uses a single sid).
type UpdateSubscription struct {
	TrackSids []string
	Subscribe bool
}

func (u *UpdateSubscription) marshal() []byte {
	var b []byte
	for _, sid := range u.TrackSids {
		b = appendStringField(b, 1, sid)
	}
	b = appendBoolField(b, 2, u.Subscribe)
	return b
}

// LeaveRequest is sent client->server on CmdClose (spec §9 resolution 2)
// and received server->client to signal session teardown or reconnect.
type LeaveRequest struct {
	Reason DisconnectReason
	Action LeaveAction
}

func (l *LeaveRequest) marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(l.Reason))
	b = appendVarintField(b, 2, uint64(l.Action))
	return b
}

func unmarshalLeave(buf []byte) (*LeaveRequest, error) {
	l := &LeaveRequest{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			l.Reason = DisconnectReason(v)
			return n, nil
		case 2:
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			l.Action = LeaveAction(v)
			return n, nil
		}
		return 0, nil
	})
	return l, err
}

// PingRequest is sent periodically by the ping loop (spec §4.4).
type PingRequest struct {
	Timestamp int64
	Rtt       int64
}

func (p *PingRequest) marshal() []byte {
	var b []byte
	b = appendInt64Field(b, 1, p.Timestamp)
	b = appendInt64Field(b, 2, p.Rtt)
	return b
}

// PongResponse answers a PingRequest; the transport consumes it to update
// rtt and never forwards it upward (spec §4.4).
type PongResponse struct {
	LastPingTimestamp int64
}

func unmarshalPong(buf []byte) (*PongResponse, error) {
	p := &PongResponse{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			p.LastPingTimestamp = int64(v)
			return n, nil
		}
		return 0, nil
	})
	return p, err
}

// ClientConfiguration carries per-session server-pushed client settings;
// only force_relay matters to this engine (spec §3).
type ClientConfiguration struct {
	ForceRelay ClientConfigSetting
}

func unmarshalClientConfiguration(buf []byte) (*ClientConfiguration, error) {
	c := &ClientConfiguration{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			c.ForceRelay = ClientConfigSetting(v)
			return n, nil
		}
		return 0, nil
	})
	return c, err
}

// ParticipantInfo is the subset of participant metadata the engine
// forwards to on_participant_info (spec §4.6.2 Connected.ParticipantUpdate).
type ParticipantInfo struct {
	Sid      string
	Identity string
}

func unmarshalParticipantInfo(buf []byte) (*ParticipantInfo, error) {
	p := &ParticipantInfo{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			p.Sid = s
			return n, nil
		case 2:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			p.Identity = s
			return n, nil
		}
		return 0, nil
	})
	return p, err
}

// RoomInfo is the subset of room metadata forwarded to on_room_info.
type RoomInfo struct {
	Sid  string
	Name string
}

func unmarshalRoomInfo(buf []byte) (*RoomInfo, error) {
	r := &RoomInfo{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			r.Sid = s
			return n, nil
		case 2:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			r.Name = s
			return n, nil
		}
		return 0, nil
	})
	return r, err
}

// JoinResponse is the first response the signal transport inspects
// before routing (spec §4.4): it carries the session-scoped state the
// engine stores per spec §3 (subscriber_primary, force_relay,
// local_participant_sid) plus the ping schedule.
type JoinResponse struct {
	Room                *RoomInfo
	Participant         *ParticipantInfo
	SubscriberPrimary   bool
	ClientConfiguration *ClientConfiguration
	PingInterval        int32
	PingTimeout         int32
}

func unmarshalJoin(buf []byte) (*JoinResponse, error) {
	j := &JoinResponse{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			r, err := unmarshalRoomInfo(emb)
			if err != nil {
				return 0, err
			}
			j.Room = r
			return n, nil
		case 2:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			p, err := unmarshalParticipantInfo(emb)
			if err != nil {
				return 0, err
			}
			j.Participant = p
			return n, nil
		case 3:
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			j.SubscriberPrimary = v != 0
			return n, nil
		case 4:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			c, err := unmarshalClientConfiguration(emb)
			if err != nil {
				return 0, err
			}
			j.ClientConfiguration = c
			return n, nil
		case 5:
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			j.PingInterval = int32(v)
			return n, nil
		case 6:
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			j.PingTimeout = int32(v)
			return n, nil
		}
		return 0, nil
	})
	return j, err
}

// RoomUpdate forwards room metadata changes in Connected state.
type RoomUpdate struct {
	Room *RoomInfo
}

// ParticipantUpdate forwards a batch of participant changes in Connected
// state; order is preserved per spec §4.6.2.
type ParticipantUpdate struct {
	Participants []*ParticipantInfo
}

// ===========================================================================
// SignalRequest (client -> server)
// ===========================================================================

// isSignalRequest_Message is implemented by every SignalRequest oneof
// variant, mirroring protoc-gen-go's own oneof-as-interface shape.
type isSignalRequest_Message interface {
	isSignalRequest_Message()
	marshalInto([]byte) []byte
}

type SignalRequest struct {
	Message isSignalRequest_Message
}

type SignalRequest_Offer struct{ Offer *SessionDescription }
type SignalRequest_Answer struct{ Answer *SessionDescription }
type SignalRequest_Trickle struct{ Trickle *TrickleRequest }
type SignalRequest_AddTrack struct{ AddTrack *AddTrackRequest }
type SignalRequest_Subscription struct{ Subscription *UpdateSubscription }
type SignalRequest_Leave struct{ Leave *LeaveRequest }
type SignalRequest_PingReq struct{ PingReq *PingRequest }

func (*SignalRequest_Offer) isSignalRequest_Message()        {}
func (*SignalRequest_Answer) isSignalRequest_Message()       {}
func (*SignalRequest_Trickle) isSignalRequest_Message()      {}
func (*SignalRequest_AddTrack) isSignalRequest_Message()     {}
func (*SignalRequest_Subscription) isSignalRequest_Message() {}
func (*SignalRequest_Leave) isSignalRequest_Message()        {}
func (*SignalRequest_PingReq) isSignalRequest_Message()      {}

const (
	fieldSignalRequestOffer        protowire.Number = 1
	fieldSignalRequestAnswer       protowire.Number = 2
	fieldSignalRequestTrickle      protowire.Number = 3
	fieldSignalRequestAddTrack     protowire.Number = 4
	fieldSignalRequestSubscription protowire.Number = 5
	fieldSignalRequestLeave        protowire.Number = 6
	fieldSignalRequestPingReq      protowire.Number = 7
)

func (m *SignalRequest_Offer) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldSignalRequestOffer, m.Offer.marshal())
}
func (m *SignalRequest_Answer) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldSignalRequestAnswer, m.Answer.marshal())
}
func (m *SignalRequest_Trickle) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldSignalRequestTrickle, m.Trickle.marshal())
}
func (m *SignalRequest_AddTrack) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldSignalRequestAddTrack, m.AddTrack.marshal())
}
func (m *SignalRequest_Subscription) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldSignalRequestSubscription, m.Subscription.marshal())
}
func (m *SignalRequest_Leave) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldSignalRequestLeave, m.Leave.marshal())
}
func (m *SignalRequest_PingReq) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldSignalRequestPingReq, m.PingReq.marshal())
}

// EncodeSignalRequest serializes a SignalRequest. There is no size-prediction
// pass: each nested message is marshaled into its own slice and appended to
// the output, so an encode takes several allocations, sized by Go's slice
// growth.
func EncodeSignalRequest(req *SignalRequest) ([]byte, error) {
	if req == nil || req.Message == nil {
		return nil, wrapErr("EncodeSignalRequest", errEmptyMessage)
	}
	return req.Message.marshalInto(nil), nil
}

var errEmptyMessage = errors.New("no message variant set")

// DecodeSignalResponse decodes a SignalResponse, selecting the oneof
// variant by its field tag (which_value in the original C model).
func DecodeSignalResponse(buf []byte) (*SignalResponse, error) {
	res := &SignalResponse{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldSignalResponseJoin:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			j, err := unmarshalJoin(emb)
			if err != nil {
				return 0, err
			}
			res.Message = &SignalResponse_Join{Join: j}
			return n, nil
		case fieldSignalResponseAnswer:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			d, err := unmarshalSessionDescription(emb)
			if err != nil {
				return 0, err
			}
			res.Message = &SignalResponse_Answer{Answer: d}
			return n, nil
		case fieldSignalResponseOffer:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			d, err := unmarshalSessionDescription(emb)
			if err != nil {
				return 0, err
			}
			res.Message = &SignalResponse_Offer{Offer: d}
			return n, nil
		case fieldSignalResponseTrickle:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			t, err := unmarshalTrickle(emb)
			if err != nil {
				return 0, err
			}
			res.Message = &SignalResponse_Trickle{Trickle: t}
			return n, nil
		case fieldSignalResponseUpdate:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			r, err := unmarshalRoomInfo(emb)
			if err != nil {
				return 0, err
			}
			res.Message = &SignalResponse_Update{Update: &RoomUpdate{Room: r}}
			return n, nil
		case fieldSignalResponseLeave:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			l, err := unmarshalLeave(emb)
			if err != nil {
				return 0, err
			}
			res.Message = &SignalResponse_Leave{Leave: l}
			return n, nil
		case fieldSignalResponseParticipantUpdate:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			p, err := unmarshalParticipantInfo(emb)
			if err != nil {
				return 0, err
			}
			if pu, ok := res.Message.(*SignalResponse_ParticipantUpdate); ok {
				pu.ParticipantUpdate.Participants = append(pu.ParticipantUpdate.Participants, p)
			} else {
				res.Message = &SignalResponse_ParticipantUpdate{
					ParticipantUpdate: &ParticipantUpdate{Participants: []*ParticipantInfo{p}},
				}
			}
			return n, nil
		case fieldSignalResponsePongResp:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			p, err := unmarshalPong(emb)
			if err != nil {
				return 0, err
			}
			res.Message = &SignalResponse_PongResp{PongResp: p}
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, wrapErr("DecodeSignalResponse", err)
	}
	return res, nil
}

const (
	fieldSignalResponseJoin              protowire.Number = 1
	fieldSignalResponseAnswer            protowire.Number = 2
	fieldSignalResponseOffer             protowire.Number = 3
	fieldSignalResponseTrickle           protowire.Number = 4
	fieldSignalResponseUpdate            protowire.Number = 5
	fieldSignalResponseLeave             protowire.Number = 6
	fieldSignalResponseParticipantUpdate protowire.Number = 7
	fieldSignalResponsePongResp          protowire.Number = 8
)

// isSignalResponse_Message mirrors isSignalRequest_Message for responses.
type isSignalResponse_Message interface {
	isSignalResponse_Message()
}

type SignalResponse struct {
	Message isSignalResponse_Message
}

type SignalResponse_Join struct{ Join *JoinResponse }
type SignalResponse_Answer struct{ Answer *SessionDescription }
type SignalResponse_Offer struct{ Offer *SessionDescription }
type SignalResponse_Trickle struct{ Trickle *TrickleRequest }
type SignalResponse_Update struct{ Update *RoomUpdate }
type SignalResponse_Leave struct{ Leave *LeaveRequest }
type SignalResponse_ParticipantUpdate struct {
	ParticipantUpdate *ParticipantUpdate
}
type SignalResponse_PongResp struct{ PongResp *PongResponse }

func (*SignalResponse_Join) isSignalResponse_Message()              {}
func (*SignalResponse_Answer) isSignalResponse_Message()            {}
func (*SignalResponse_Offer) isSignalResponse_Message()             {}
func (*SignalResponse_Trickle) isSignalResponse_Message()           {}
func (*SignalResponse_Update) isSignalResponse_Message()            {}
func (*SignalResponse_Leave) isSignalResponse_Message()             {}
func (*SignalResponse_ParticipantUpdate) isSignalResponse_Message() {}
func (*SignalResponse_PongResp) isSignalResponse_Message()          {}
