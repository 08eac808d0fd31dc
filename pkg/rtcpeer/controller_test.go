// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package rtcpeer

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/lkengine/pkg/wire"
)

func TestRoleString(t *testing.T) {
	assert.Equal(t, "publisher", RolePublisher.String())
	assert.Equal(t, "subscriber", RoleSubscriber.String())
}

func TestICERoleString(t *testing.T) {
	assert.Equal(t, "controlling", ICERoleControlling.String())
	assert.Equal(t, "controlled", ICERoleControlled.String())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "new", StateNew.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "failed", StateFailed.String())
}

func TestEffectiveDirection_PublisherNeverReceives(t *testing.T) {
	assert.Equal(t, DirectionSendOnly, effectiveDirection(DirectionSendOnly, RolePublisher))
	assert.Equal(t, DirectionSendOnly, effectiveDirection(DirectionSendRecv, RolePublisher))
	assert.Equal(t, DirectionNone, effectiveDirection(DirectionRecvOnly, RolePublisher))
	assert.Equal(t, DirectionNone, effectiveDirection(DirectionNone, RolePublisher))
}

func TestEffectiveDirection_SubscriberNeverSends(t *testing.T) {
	assert.Equal(t, DirectionRecvOnly, effectiveDirection(DirectionRecvOnly, RoleSubscriber))
	assert.Equal(t, DirectionRecvOnly, effectiveDirection(DirectionSendRecv, RoleSubscriber))
	assert.Equal(t, DirectionNone, effectiveDirection(DirectionSendOnly, RoleSubscriber))
}

func TestCandidateInitJSON_CarriesCandidateAndMid(t *testing.T) {
	sdpMid := "0"
	mLineIndex := uint16(0)
	init := webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2122260223 192.168.1.2 54321 typ host",
		SDPMid:        &sdpMid,
		SDPMLineIndex: &mLineIndex,
	}

	payload, err := candidateInitJSON(init)
	require.NoError(t, err)

	var got webrtc.ICECandidateInit
	require.NoError(t, json.Unmarshal([]byte(payload), &got))
	assert.Equal(t, init.Candidate, got.Candidate)
	require.NotNil(t, got.SDPMid)
	assert.Equal(t, "0", *got.SDPMid)
}

func TestHandleICECandidate_FailsBeforeRemoteDescription(t *testing.T) {
	c := newTestController(t, RolePublisher, MediaConfig{})
	err := c.HandleICECandidate("candidate:1 1 udp 2122260223 192.168.1.2 54321 typ host")
	assert.Error(t, err)
}

func newTestController(t *testing.T, role Role, media MediaConfig) *Controller {
	t.Helper()
	c, err := New(Options{
		Role:  role,
		Media: media,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_PublisherCreatesSendOnlyAudioTrack(t *testing.T) {
	c := newTestController(t, RolePublisher, MediaConfig{AudioDirection: DirectionSendOnly})
	assert.NotNil(t, c.audioTrack)
	assert.Nil(t, c.videoTrack)
	assert.Equal(t, StateNew, c.State())
}

func TestNew_SubscriberNeverCreatesLocalTracks(t *testing.T) {
	c := newTestController(t, RoleSubscriber, MediaConfig{
		AudioDirection: DirectionRecvOnly,
		VideoDirection: DirectionRecvOnly,
	})
	assert.Nil(t, c.audioTrack)
	assert.Nil(t, c.videoTrack)
}

func TestSendDataPacket_FailsBeforeConnected(t *testing.T) {
	c := newTestController(t, RolePublisher, MediaConfig{})
	err := c.SendDataPacket(&wire.DataPacket{}, true)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSendAudio_FailsForSubscriber(t *testing.T) {
	c := newTestController(t, RoleSubscriber, MediaConfig{AudioDirection: DirectionRecvOnly})
	err := c.SendAudio([]byte{0x80, 0x6f, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSendVideo_FailsWithoutTrack(t *testing.T) {
	c := newTestController(t, RolePublisher, MediaConfig{})
	err := c.SendVideo([]byte{0x80, 0x60, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCreateOffer_OnlyPublisher(t *testing.T) {
	c := newTestController(t, RoleSubscriber, MediaConfig{})
	err := c.CreateOffer()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCreateOffer_InjectsAudioLevelAndStoresOpusPT(t *testing.T) {
	c := newTestController(t, RolePublisher, MediaConfig{AudioDirection: DirectionSendOnly})

	var gotSDP webrtc.SessionDescription
	c.opts.Observer.OnSDPReady = func(sdp webrtc.SessionDescription) { gotSDP = sdp }

	require.NoError(t, c.CreateOffer())

	assert.Equal(t, webrtc.SDPTypeOffer, gotSDP.Type)
	assert.Contains(t, gotSDP.SDP, audioLevelURI)
	assert.NotZero(t, c.opusPayloadType.Load())
}

func TestClose_Idempotent(t *testing.T) {
	c := newTestController(t, RolePublisher, MediaConfig{})
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestHandleSDP_RejectsUnknownType(t *testing.T) {
	c := newTestController(t, RolePublisher, MediaConfig{})
	err := c.HandleSDP("garbage", "v=0\r\n")
	assert.Error(t, err)
}
