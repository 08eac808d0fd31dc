// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wire

import "google.golang.org/protobuf/encoding/protowire"

// DataPacketKind selects the SCTP channel a packet travels over (spec
// §4.5/§4.6: "_reliable" ordered reliable vs "_lossy" unordered, zero
// retransmits).
type DataPacketKind int32

const (
	DataPacketKindReliable DataPacketKind = iota
	DataPacketKindLossy
)

// UserPacket is an application-defined payload with an optional topic,
// the most common DataPacket variant.
type UserPacket struct {
	Payload []byte
	Topic   string
}

func (u *UserPacket) marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, u.Payload)
	b = appendStringField(b, 2, u.Topic)
	return b
}

func unmarshalUserPacket(buf []byte) (*UserPacket, error) {
	u := &UserPacket{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			u.Payload = v
			return n, nil
		case 2:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			u.Topic = s
			return n, nil
		}
		return 0, nil
	})
	return u, err
}

// RPCRequest is a remote-procedure-call invocation carried over a data
// channel.
type RPCRequest struct {
	ID                string
	Method            string
	Payload           string
	ResponseTimeoutMs uint32
}

func (r *RPCRequest) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, r.ID)
	b = appendStringField(b, 2, r.Method)
	b = appendStringField(b, 3, r.Payload)
	b = appendVarintField(b, 4, uint64(r.ResponseTimeoutMs))
	return b
}

func unmarshalRPCRequest(buf []byte) (*RPCRequest, error) {
	r := &RPCRequest{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			r.ID = s
			return n, nil
		case 2:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			r.Method = s
			return n, nil
		case 3:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			r.Payload = s
			return n, nil
		case 4:
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			r.ResponseTimeoutMs = uint32(v)
			return n, nil
		}
		return 0, nil
	})
	return r, err
}

// RPCAck acknowledges receipt of an RPCRequest before the response is ready.
type RPCAck struct {
	RequestID string
}

func (a *RPCAck) marshal() []byte {
	return appendStringField(nil, 1, a.RequestID)
}

func unmarshalRPCAck(buf []byte) (*RPCAck, error) {
	a := &RPCAck{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			a.RequestID = s
			return n, nil
		}
		return 0, nil
	})
	return a, err
}

// RPCError carries a failed RPC's code/message.
type RPCError struct {
	Code    uint32
	Message string
}

func (e *RPCError) marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(e.Code))
	b = appendStringField(b, 2, e.Message)
	return b
}

func unmarshalRPCError(buf []byte) (*RPCError, error) {
	e := &RPCError{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			e.Code = uint32(v)
			return n, nil
		case 2:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			e.Message = s
			return n, nil
		}
		return 0, nil
	})
	return e, err
}

// RPCResponse carries either a successful payload or an Error, never both.
type RPCResponse struct {
	RequestID string
	Payload   string
	Error     *RPCError
}

func (r *RPCResponse) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, r.RequestID)
	b = appendStringField(b, 2, r.Payload)
	if r.Error != nil {
		b = appendEmbedded(b, 3, r.Error.marshal())
	}
	return b
}

func unmarshalRPCResponse(buf []byte) (*RPCResponse, error) {
	r := &RPCResponse{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			r.RequestID = s
			return n, nil
		case 2:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			r.Payload = s
			return n, nil
		case 3:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			e, err := unmarshalRPCError(emb)
			if err != nil {
				return 0, err
			}
			r.Error = e
			return n, nil
		}
		return 0, nil
	})
	return r, err
}

// StreamHeader opens a chunked byte/text stream sent over a data channel.
type StreamHeader struct {
	StreamID    string
	MimeType    string
	Topic       string
	TotalLength uint64
}

func (h *StreamHeader) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, h.StreamID)
	b = appendStringField(b, 2, h.MimeType)
	b = appendStringField(b, 3, h.Topic)
	b = appendVarintField(b, 4, h.TotalLength)
	return b
}

func unmarshalStreamHeader(buf []byte) (*StreamHeader, error) {
	h := &StreamHeader{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			h.StreamID = s
			return n, nil
		case 2:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			h.MimeType = s
			return n, nil
		case 3:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			h.Topic = s
			return n, nil
		case 4:
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			h.TotalLength = v
			return n, nil
		}
		return 0, nil
	})
	return h, err
}

// StreamChunk is one ordered fragment of a data stream.
type StreamChunk struct {
	StreamID   string
	Content    []byte
	ChunkIndex uint64
}

func (c *StreamChunk) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, c.StreamID)
	b = appendBytesField(b, 2, c.Content)
	b = appendVarintField(b, 3, c.ChunkIndex)
	return b
}

func unmarshalStreamChunk(buf []byte) (*StreamChunk, error) {
	c := &StreamChunk{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			c.StreamID = s
			return n, nil
		case 2:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			c.Content = v
			return n, nil
		case 3:
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			c.ChunkIndex = v
			return n, nil
		}
		return 0, nil
	})
	return c, err
}

// StreamTrailer closes a data stream, optionally explaining why.
type StreamTrailer struct {
	StreamID string
	Reason   string
}

func (t *StreamTrailer) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, t.StreamID)
	b = appendStringField(b, 2, t.Reason)
	return b
}

func unmarshalStreamTrailer(buf []byte) (*StreamTrailer, error) {
	t := &StreamTrailer{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			t.StreamID = s
			return n, nil
		case 2:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			t.Reason = s
			return n, nil
		}
		return 0, nil
	})
	return t, err
}

// isDataPacket_Value is implemented by every DataPacket oneof variant.
// which_value == 0 (spec §4.2/§4.5) is represented as Value == nil.
type isDataPacket_Value interface {
	isDataPacket_Value()
	marshalInto([]byte) []byte
}

// DataPacket is a tagged union of the payload kinds a data channel
// carries (spec §3 "Data packet").
type DataPacket struct {
	ParticipantIdentity string
	Value               isDataPacket_Value
}

type DataPacket_User struct{ User *UserPacket }
type DataPacket_RpcRequest struct{ RpcRequest *RPCRequest }
type DataPacket_RpcAck struct{ RpcAck *RPCAck }
type DataPacket_RpcResponse struct{ RpcResponse *RPCResponse }
type DataPacket_StreamHeader struct{ StreamHeader *StreamHeader }
type DataPacket_StreamChunk struct{ StreamChunk *StreamChunk }
type DataPacket_StreamTrailer struct{ StreamTrailer *StreamTrailer }

func (*DataPacket_User) isDataPacket_Value()          {}
func (*DataPacket_RpcRequest) isDataPacket_Value()    {}
func (*DataPacket_RpcAck) isDataPacket_Value()        {}
func (*DataPacket_RpcResponse) isDataPacket_Value()   {}
func (*DataPacket_StreamHeader) isDataPacket_Value()  {}
func (*DataPacket_StreamChunk) isDataPacket_Value()   {}
func (*DataPacket_StreamTrailer) isDataPacket_Value() {}

const (
	fieldDataPacketParticipantIdentity protowire.Number = 1
	fieldDataPacketUser                protowire.Number = 2
	fieldDataPacketRPCRequest          protowire.Number = 3
	fieldDataPacketRPCAck              protowire.Number = 4
	fieldDataPacketRPCResponse         protowire.Number = 5
	fieldDataPacketStreamHeader        protowire.Number = 6
	fieldDataPacketStreamChunk         protowire.Number = 7
	fieldDataPacketStreamTrailer       protowire.Number = 8
)

func (v *DataPacket_User) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldDataPacketUser, v.User.marshal())
}
func (v *DataPacket_RpcRequest) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldDataPacketRPCRequest, v.RpcRequest.marshal())
}
func (v *DataPacket_RpcAck) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldDataPacketRPCAck, v.RpcAck.marshal())
}
func (v *DataPacket_RpcResponse) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldDataPacketRPCResponse, v.RpcResponse.marshal())
}
func (v *DataPacket_StreamHeader) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldDataPacketStreamHeader, v.StreamHeader.marshal())
}
func (v *DataPacket_StreamChunk) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldDataPacketStreamChunk, v.StreamChunk.marshal())
}
func (v *DataPacket_StreamTrailer) marshalInto(b []byte) []byte {
	return appendEmbedded(b, fieldDataPacketStreamTrailer, v.StreamTrailer.marshal())
}

// EncodeDataPacket serializes a DataPacket. A nil Value is a programming
// error on the send side (the caller always has a concrete variant to
// send); decode is where which_value == 0 is a legitimate, silently
// dropped case (spec §4.2).
func EncodeDataPacket(p *DataPacket) ([]byte, error) {
	if p == nil || p.Value == nil {
		return nil, wrapErr("EncodeDataPacket", errEmptyMessage)
	}
	var b []byte
	b = appendStringField(b, fieldDataPacketParticipantIdentity, p.ParticipantIdentity)
	b = p.Value.marshalInto(b)
	return b, nil
}

// DecodeDataPacket decodes a DataPacket. If no oneof field was present on
// the wire (which_value == 0), it returns ErrNotSupported with a non-nil
// packet whose Value is nil, so callers can log and drop per spec §4.2.
func DecodeDataPacket(buf []byte) (*DataPacket, error) {
	p := &DataPacket{}
	err := consumeFields(buf, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldDataPacketParticipantIdentity:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, err
			}
			p.ParticipantIdentity = s
			return n, nil
		case fieldDataPacketUser:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			v, err := unmarshalUserPacket(emb)
			if err != nil {
				return 0, err
			}
			p.Value = &DataPacket_User{User: v}
			return n, nil
		case fieldDataPacketRPCRequest:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			v, err := unmarshalRPCRequest(emb)
			if err != nil {
				return 0, err
			}
			p.Value = &DataPacket_RpcRequest{RpcRequest: v}
			return n, nil
		case fieldDataPacketRPCAck:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			v, err := unmarshalRPCAck(emb)
			if err != nil {
				return 0, err
			}
			p.Value = &DataPacket_RpcAck{RpcAck: v}
			return n, nil
		case fieldDataPacketRPCResponse:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			v, err := unmarshalRPCResponse(emb)
			if err != nil {
				return 0, err
			}
			p.Value = &DataPacket_RpcResponse{RpcResponse: v}
			return n, nil
		case fieldDataPacketStreamHeader:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			v, err := unmarshalStreamHeader(emb)
			if err != nil {
				return 0, err
			}
			p.Value = &DataPacket_StreamHeader{StreamHeader: v}
			return n, nil
		case fieldDataPacketStreamChunk:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			v, err := unmarshalStreamChunk(emb)
			if err != nil {
				return 0, err
			}
			p.Value = &DataPacket_StreamChunk{StreamChunk: v}
			return n, nil
		case fieldDataPacketStreamTrailer:
			emb, n, err := consumeEmbedded(b)
			if err != nil {
				return 0, err
			}
			v, err := unmarshalStreamTrailer(emb)
			if err != nil {
				return 0, err
			}
			p.Value = &DataPacket_StreamTrailer{StreamTrailer: v}
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, wrapErr("DecodeDataPacket", err)
	}
	if p.Value == nil {
		return p, ErrNotSupported
	}
	return p, nil
}
