// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package rtcpeer

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOffer = "v=0\r\n" +
	"o=- 46117317 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=sendrecv\r\n" +
	"a=mid:0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=sendrecv\r\n"

func TestInjectAudioLevelExtmap_HappyPath(t *testing.T) {
	out, id, ok := injectAudioLevelExtmap(sampleOffer)
	require.True(t, ok)
	assert.Equal(t, uint8(1), id)
	assert.Contains(t, out, "a=extmap:1 "+audioLevelURI+"\r\n")

	// inserted ahead of a=sendrecv, within the audio section, before the
	// video section starts
	audioIdx := strings.Index(out, "m=audio")
	videoIdx := strings.Index(out, "m=video")
	extIdx := strings.Index(out, "a=extmap:1")
	assert.Greater(t, extIdx, audioIdx)
	assert.Less(t, extIdx, videoIdx)

	// untouched: video section keeps no extmap
	videoSection := out[videoIdx:]
	assert.NotContains(t, videoSection, "a=extmap:1")
}

func TestInjectAudioLevelExtmap_SkipsUsedIDs(t *testing.T) {
	sdp := "m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"a=extmap:1 urn:ietf:params:rtp-hdrext:sdes:mid\r\n" +
		"a=extmap:2 urn:ietf:params:rtp-hdrext:toffset\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n" +
		"a=sendrecv\r\n"

	_, id, ok := injectAudioLevelExtmap(sdp)
	require.True(t, ok)
	assert.Equal(t, uint8(3), id)
}

func TestInjectAudioLevelExtmap_NoAudioSection(t *testing.T) {
	sdp := "v=0\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\na=sendrecv\r\n"
	out, _, ok := injectAudioLevelExtmap(sdp)
	assert.False(t, ok)
	assert.Equal(t, sdp, out)
}

func TestInjectAudioLevelExtmap_NoDirectionAttribute(t *testing.T) {
	sdp := "m=audio 9 UDP/TLS/RTP/SAVPF 111\r\na=rtpmap:111 opus/48000/2\r\n"
	out, _, ok := injectAudioLevelExtmap(sdp)
	assert.False(t, ok)
	assert.Equal(t, sdp, out)
}

func TestInjectAudioLevelExtmap_AllFourteenIDsUsed(t *testing.T) {
	var b strings.Builder
	b.WriteString("m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n")
	for i := 1; i <= 14; i++ {
		b.WriteString("a=extmap:")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(" urn:example:ext\r\n")
	}
	b.WriteString("a=rtpmap:111 opus/48000/2\r\n")
	b.WriteString("a=sendrecv\r\n")

	out, _, ok := injectAudioLevelExtmap(b.String())
	assert.False(t, ok)
	assert.Equal(t, b.String(), out)
}

func TestParseOpusPayloadType(t *testing.T) {
	assert.Equal(t, uint8(111), parseOpusPayloadType(sampleOffer))
}

func TestParseOpusPayloadType_NoOpus(t *testing.T) {
	assert.Equal(t, uint8(0), parseOpusPayloadType("m=video 9 UDP/TLS/RTP/SAVPF 96\r\na=rtpmap:96 VP8/90000\r\n"))
}
