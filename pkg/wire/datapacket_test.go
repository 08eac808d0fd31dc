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

func TestDataPacket_UserRoundTrip(t *testing.T) {
	pkt := &DataPacket{
		ParticipantIdentity: "device-1",
		Value: &DataPacket_User{User: &UserPacket{
			Payload: []byte("hello"),
			Topic:   "telemetry",
		}},
	}
	buf, err := EncodeDataPacket(pkt)
	require.NoError(t, err)

	out, err := DecodeDataPacket(buf)
	require.NoError(t, err)
	assert.Equal(t, "device-1", out.ParticipantIdentity)
	user, ok := out.Value.(*DataPacket_User)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), user.User.Payload)
	assert.Equal(t, "telemetry", user.User.Topic)
}

func TestDataPacket_RpcRoundTrip(t *testing.T) {
	pkt := &DataPacket{Value: &DataPacket_RpcRequest{RpcRequest: &RPCRequest{
		ID:                "req-1",
		Method:            "get_status",
		Payload:           `{"k":"v"}`,
		ResponseTimeoutMs: 5000,
	}}}
	buf, err := EncodeDataPacket(pkt)
	require.NoError(t, err)

	out, err := DecodeDataPacket(buf)
	require.NoError(t, err)
	rpc, ok := out.Value.(*DataPacket_RpcRequest)
	require.True(t, ok)
	assert.Equal(t, "req-1", rpc.RpcRequest.ID)
	assert.Equal(t, "get_status", rpc.RpcRequest.Method)
	assert.EqualValues(t, 5000, rpc.RpcRequest.ResponseTimeoutMs)
}

func TestDataPacket_RpcResponseWithError(t *testing.T) {
	pkt := &DataPacket{Value: &DataPacket_RpcResponse{RpcResponse: &RPCResponse{
		RequestID: "req-1",
		Error:     &RPCError{Code: 404, Message: "not found"},
	}}}
	buf, err := EncodeDataPacket(pkt)
	require.NoError(t, err)

	out, err := DecodeDataPacket(buf)
	require.NoError(t, err)
	resp, ok := out.Value.(*DataPacket_RpcResponse)
	require.True(t, ok)
	require.NotNil(t, resp.RpcResponse.Error)
	assert.EqualValues(t, 404, resp.RpcResponse.Error.Code)
	assert.Equal(t, "not found", resp.RpcResponse.Error.Message)
	assert.Empty(t, resp.RpcResponse.Payload)
}

func TestDataPacket_StreamLifecycle(t *testing.T) {
	header := &DataPacket{Value: &DataPacket_StreamHeader{StreamHeader: &StreamHeader{
		StreamID: "s1", MimeType: "audio/opus", TotalLength: 1024,
	}}}
	chunk := &DataPacket{Value: &DataPacket_StreamChunk{StreamChunk: &StreamChunk{
		StreamID: "s1", Content: []byte{1, 2, 3}, ChunkIndex: 0,
	}}}
	trailer := &DataPacket{Value: &DataPacket_StreamTrailer{StreamTrailer: &StreamTrailer{
		StreamID: "s1",
	}}}

	for _, in := range []*DataPacket{header, chunk, trailer} {
		buf, err := EncodeDataPacket(in)
		require.NoError(t, err)
		out, err := DecodeDataPacket(buf)
		require.NoError(t, err)
		assert.NotNil(t, out.Value)
	}
}

func TestDecodeDataPacket_NoVariantSet(t *testing.T) {
	var buf []byte
	buf = appendStringField(buf, fieldDataPacketParticipantIdentity, "device-1")

	out, err := DecodeDataPacket(buf)
	assert.ErrorIs(t, err, ErrNotSupported)
	require.NotNil(t, out)
	assert.Nil(t, out.Value)
}

func TestEncodeDataPacket_NilValue(t *testing.T) {
	_, err := EncodeDataPacket(&DataPacket{})
	assert.ErrorIs(t, err, ErrMessage)
}
