// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package rtcpeer

import (
	"strconv"
	"strings"
)

// audioLevelURI is the RFC 6464 header extension URI this injection wires
// into the publisher's offer.
const audioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// injectAudioLevelExtmap inserts an "a=extmap:<id> ssrc-audio-level" line
// into the audio m-section of sdp, choosing the smallest unused extension
// id in [1,14]. Returns the unmodified SDP and ok=false when there's no
// audio section, no free id, or no sendrecv/sendonly/recvonly attribute to
// anchor the insertion on (spec §4.5, §8 boundary behaviors).
//
// This is hand-rolled string surgery rather than a structured SDP parse:
// the only requirement is inserting one exact raw line at one exact byte
// offset without touching anything else in the body.
func injectAudioLevelExtmap(sdp string) (result string, extmapID uint8, ok bool) {
	mAudio := strings.Index(sdp, "m=audio")
	if mAudio < 0 {
		return sdp, 0, false
	}

	sectionEnd := len(sdp)
	if next := strings.Index(sdp[mAudio+1:], "\nm="); next >= 0 {
		sectionEnd = mAudio + 1 + next
	}
	section := sdp[mAudio:sectionEnd]

	id := findUnusedExtmapID(section)
	if id == 0 {
		return sdp, 0, false
	}

	insertAt := findInsertionPoint(section)
	if insertAt < 0 {
		return sdp, 0, false
	}
	insertAt += mAudio // section-relative -> sdp-relative

	line := "a=extmap:" + strconv.Itoa(int(id)) + " " + audioLevelURI + "\r\n"
	var b strings.Builder
	b.Grow(len(sdp) + len(line))
	b.WriteString(sdp[:insertAt])
	b.WriteString(line)
	b.WriteString(sdp[insertAt:])
	return b.String(), id, true
}

// findUnusedExtmapID scans "a=extmap:<id>" attributes within section and
// returns the smallest id in [1,14] not already in use, or 0 if all taken.
func findUnusedExtmapID(section string) uint8 {
	var used uint16
	rest := section
	for {
		idx := strings.Index(rest, "\na=extmap:")
		if idx < 0 {
			break
		}
		rest = rest[idx+len("\na=extmap:"):]
		id := leadingInt(rest)
		if id >= 1 && id <= 14 {
			used |= 1 << uint(id)
		}
	}
	for id := uint8(1); id <= 14; id++ {
		if used&(1<<id) == 0 {
			return id
		}
	}
	return 0
}

// findInsertionPoint returns the section-relative byte offset of the first
// of "a=sendrecv"/"a=sendonly"/"a=recvonly" (the line start, after its
// leading newline), or -1 if none are present.
func findInsertionPoint(section string) int {
	for _, attr := range []string{"\na=sendrecv", "\na=sendonly", "\na=recvonly"} {
		if idx := strings.Index(section, attr); idx >= 0 {
			return idx + 1 // skip the leading \n, land on the attribute itself
		}
	}
	return -1
}

// leadingInt parses the decimal integer at the start of s, stopping at the
// first non-digit, mirroring atoi's "parse as much as looks numeric" shape.
func leadingInt(s string) int {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return -1
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return -1
	}
	return n
}

// parseOpusPayloadType returns the payload type from the first
// "a=rtpmap:<pt> opus/..." line in sdp, or 0 if none is present.
func parseOpusPayloadType(sdp string) uint8 {
	rest := sdp
	for {
		idx := strings.Index(rest, "a=rtpmap:")
		if idx < 0 {
			return 0
		}
		rest = rest[idx+len("a=rtpmap:"):]

		eol := strings.IndexAny(rest, "\r\n")
		line := rest
		if eol >= 0 {
			line = rest[:eol]
		}
		if strings.Contains(line, " opus/") {
			pt := leadingInt(rest)
			if pt >= 0 && pt <= 127 {
				return uint8(pt)
			}
		}
	}
}
