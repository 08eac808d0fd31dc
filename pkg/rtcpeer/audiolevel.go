// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package rtcpeer

import (
	"errors"

	"github.com/pion/rtp"
)

// placeholderAudioLevel is a fixed placeholder level (-30 dBov), not
// measured from actual audio: the capture pipeline that would produce a
// real level is out of scope, and no signal for one reaches this transform.
const placeholderAudioLevel = 30

// ErrNotSupported signals a packet the audio-level transform declines to
// touch; the caller is expected to send the untransformed packet as-is.
var ErrNotSupported = errors.New("rtcpeer: transform not supported for packet")

// audioLevelTransform injects an RFC 5285 one-byte header extension
// carrying an RFC 6464 audio level (RFC 6464 §3) into raw, an Opus RTP
// packet, and returns the re-marshaled packet. It mutates nothing in
// place; raw is only read.
//
// Declines (returns ErrNotSupported, nil bytes) when: opusPT is 0 (not yet
// negotiated), the packet's payload type doesn't match opusPT, the packet
// is too short to parse, or the packet already carries header extensions.
func audioLevelTransform(raw []byte, opusPT uint8, extmapID uint8) ([]byte, error) {
	if opusPT == 0 {
		return nil, ErrNotSupported
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, ErrNotSupported
	}
	if pkt.PayloadType != opusPT {
		return nil, ErrNotSupported
	}
	if pkt.Extension {
		return nil, ErrNotSupported
	}

	id := extmapID
	if id == 0 {
		id = 1
	}
	level := byte(0x80 | placeholderAudioLevel)
	if err := pkt.Header.SetExtension(id, []byte{level}); err != nil {
		return nil, ErrNotSupported
	}

	out, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}
	return out, nil
}
