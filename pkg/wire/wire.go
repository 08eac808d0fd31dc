// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package wire implements the signaling and data-packet message schemas
// as hand-rolled protobuf wire codecs on top of protowire, in the shape
// protoc-gen-go itself would generate (oneof-as-interface, which_value ==
// 0 for "no variant set"), without depending on a .proto/protoc toolchain.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMessage is the taxonomy member returned for every encode/decode
// failure in this package (spec §7's Signal "Message" error).
var ErrMessage = errors.New("wire: message error")

// ErrNotSupported is returned by DecodeDataPacket when which_value == 0 so
// the caller can silently drop the packet per spec §4.2/§4.5.
var ErrNotSupported = errors.New("wire: data packet variant not supported")

func wrapErr(context string, err error) error {
	return fmt.Errorf("%s: %w: %v", context, ErrMessage, err)
}

// appendEmbedded length-delimits an already-marshaled embedded message.
func appendEmbedded(b []byte, num protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(payload)))
	return append(b, payload...)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt64Field(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, boolToVarint(v))
}

func boolToVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// consumeFields walks every top-level field of a protobuf message,
// invoking fn for each. fn consumes the value from b[offset:] and returns
// the number of bytes it consumed (0 means "unknown field, skip it").
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		consumed, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if consumed > 0 {
			b = b[consumed:]
			continue
		}
		// Unknown field: skip over it generically.
		skip := protowire.ConsumeFieldValue(num, typ, b)
		if skip < 0 {
			return protowire.ParseError(skip)
		}
		b = b[skip:]
	}
	return nil
}

func consumeString(b []byte) (string, int, error) {
	s, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, protowire.ParseError(n)
	}
	return s, n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeEmbedded(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}
