// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package rtcpeer

import (
	"github.com/pion/webrtc/v4"
)

const (
	// reliableChannelLabel carries ordered, reliable data (RPC, chat text).
	reliableChannelLabel = "_reliable"
	// lossyChannelLabel carries unordered, unretransmitted data (telemetry).
	lossyChannelLabel = "_lossy"

	// streamIDInvalid marks a channel not yet (or no longer) open. Only the
	// publisher peer creates data channels; a subscriber's stream ids leave
	// this sentinel only when the remote peer opens channels with these
	// labels.
	streamIDInvalid uint16 = 0xFFFF
)

// createDataChannels opens the two well-known data channels on pc. Only
// the publisher side of a session calls this, immediately after the ICE
// connection reaches Connected; the subscriber side never creates its own
// channels and instead relies on the remote peer's negotiated ones.
func createDataChannels(pc *webrtc.PeerConnection) (reliable, lossy *webrtc.DataChannel, err error) {
	ordered := true
	reliable, err = pc.CreateDataChannel(reliableChannelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, nil, err
	}

	unordered := false
	maxRetransmits := uint16(0)
	lossy, err = pc.CreateDataChannel(lossyChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return nil, nil, err
	}
	return reliable, lossy, nil
}
