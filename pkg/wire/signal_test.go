// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSignalRequest_Offer(t *testing.T) {
	req := &SignalRequest{Message: &SignalRequest_Offer{
		Offer: &SessionDescription{Type: "offer", SDP: "v=0\r\n"},
	}}
	buf, err := EncodeSignalRequest(req)
	require.NoError(t, err)
	assert.NotEmpty(t, buf)
}

func TestEncodeSignalRequest_NilMessage(t *testing.T) {
	_, err := EncodeSignalRequest(&SignalRequest{})
	assert.ErrorIs(t, err, ErrMessage)
}

func TestDecodeSignalResponse_Join(t *testing.T) {
	j := &JoinResponse{
		Room:                &RoomInfo{Sid: "RM_1", Name: "room"},
		Participant:         &ParticipantInfo{Sid: "PA_1", Identity: "device-1"},
		SubscriberPrimary:   true,
		ClientConfiguration: &ClientConfiguration{ForceRelay: ClientConfigSettingEnabled},
		PingInterval:        10,
		PingTimeout:         30,
	}
	buf := appendEmbedded(nil, fieldSignalResponseJoin, j.marshalForTest())

	res, err := DecodeSignalResponse(buf)
	require.NoError(t, err)
	joined, ok := res.Message.(*SignalResponse_Join)
	require.True(t, ok)
	assert.Equal(t, "RM_1", joined.Join.Room.Sid)
	assert.Equal(t, "device-1", joined.Join.Participant.Identity)
	assert.True(t, joined.Join.SubscriberPrimary)
	assert.Equal(t, ClientConfigSettingEnabled, joined.Join.ClientConfiguration.ForceRelay)
	assert.EqualValues(t, 10, joined.Join.PingInterval)
	assert.EqualValues(t, 30, joined.Join.PingTimeout)
}

func TestDecodeSignalResponse_ParticipantUpdateAccumulates(t *testing.T) {
	p1 := &ParticipantInfo{Sid: "PA_1", Identity: "a"}
	p2 := &ParticipantInfo{Sid: "PA_2", Identity: "b"}

	var buf []byte
	buf = appendEmbedded(buf, fieldSignalResponseParticipantUpdate, p1.marshalForTest())
	buf = appendEmbedded(buf, fieldSignalResponseParticipantUpdate, p2.marshalForTest())

	res, err := DecodeSignalResponse(buf)
	require.NoError(t, err)
	pu, ok := res.Message.(*SignalResponse_ParticipantUpdate)
	require.True(t, ok)
	require.Len(t, pu.ParticipantUpdate.Participants, 2)
	assert.Equal(t, "a", pu.ParticipantUpdate.Participants[0].Identity)
	assert.Equal(t, "b", pu.ParticipantUpdate.Participants[1].Identity)
}

func TestDecodeSignalResponse_Trickle(t *testing.T) {
	tr := &TrickleRequest{CandidateInit: `{"candidate":"candidate:1 1 udp"}`, Target: SignalTargetSubscriber}
	buf := appendEmbedded(nil, fieldSignalResponseTrickle, tr.marshal())

	res, err := DecodeSignalResponse(buf)
	require.NoError(t, err)
	trickle, ok := res.Message.(*SignalResponse_Trickle)
	require.True(t, ok)
	assert.Equal(t, SignalTargetSubscriber, trickle.Trickle.Target)
	cand, err := TrickleGetCandidate(trickle.Trickle.CandidateInit)
	require.NoError(t, err)
	assert.Equal(t, "candidate:1 1 udp", cand)
}

func TestDecodeSignalResponse_Leave(t *testing.T) {
	l := &LeaveRequest{Reason: DisconnectReasonServerShutdown, Action: LeaveActionReconnect}
	buf := appendEmbedded(nil, fieldSignalResponseLeave, l.marshal())

	res, err := DecodeSignalResponse(buf)
	require.NoError(t, err)
	leave, ok := res.Message.(*SignalResponse_Leave)
	require.True(t, ok)
	assert.Equal(t, DisconnectReasonServerShutdown, leave.Leave.Reason)
	assert.Equal(t, LeaveActionReconnect, leave.Leave.Action)
}

func TestDecodeSignalResponse_UnknownFieldSkipped(t *testing.T) {
	var buf []byte
	buf = appendStringField(buf, 99, "unknown-field-payload")
	l := &LeaveRequest{Reason: DisconnectReasonClientInitiated}
	buf = appendEmbedded(buf, fieldSignalResponseLeave, l.marshal())

	res, err := DecodeSignalResponse(buf)
	require.NoError(t, err)
	leave, ok := res.Message.(*SignalResponse_Leave)
	require.True(t, ok)
	assert.Equal(t, DisconnectReasonClientInitiated, leave.Leave.Reason)
}

// marshalForTest exposes the unexported marshal() methods to the test file
// within the same package, named distinctly so it's clear these exist only
// to build fixtures, not as part of the codec's public shape.
func (j *JoinResponse) marshalForTest() []byte {
	var b []byte
	if j.Room != nil {
		b = appendEmbedded(b, 1, j.Room.marshalForTest())
	}
	if j.Participant != nil {
		b = appendEmbedded(b, 2, j.Participant.marshalForTest())
	}
	b = appendBoolField(b, 3, j.SubscriberPrimary)
	if j.ClientConfiguration != nil {
		b = appendEmbedded(b, 4, j.ClientConfiguration.marshalForTest())
	}
	b = appendVarintField(b, 5, uint64(j.PingInterval))
	b = appendVarintField(b, 6, uint64(j.PingTimeout))
	return b
}

func (r *RoomInfo) marshalForTest() []byte {
	var b []byte
	b = appendStringField(b, 1, r.Sid)
	b = appendStringField(b, 2, r.Name)
	return b
}

func (p *ParticipantInfo) marshalForTest() []byte {
	var b []byte
	b = appendStringField(b, 1, p.Sid)
	b = appendStringField(b, 2, p.Identity)
	return b
}

func (c *ClientConfiguration) marshalForTest() []byte {
	return appendVarintField(nil, 1, uint64(c.ForceRelay))
}
