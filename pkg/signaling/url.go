// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package signaling implements the WebSocket control channel: URL
// composition, jittered reconnect backoff, and the framed binary
// transport itself.
package signaling

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ProtocolVersion is pinned at 1: this client never negotiates
// subscriber-primary renegotiation, so no later protocol version is needed.
const ProtocolVersion = "1"

// ErrInvalidURL is returned by BuildURL for an empty base URL, an
// unsupported scheme, or an empty token.
var ErrInvalidURL = errors.New("signaling: invalid url")

// ClientDescriptor identifies the connecting device in the signaling URL's
// query parameters (spec §4.1, §6 "client identifier query parameters are
// mandatory for compatibility").
type ClientDescriptor struct {
	SDK         string
	Version     string
	OS          string
	OSVersion   string
	DeviceModel string
}

// BuildURL composes the signaling WebSocket URL. The access_token query
// parameter is always last so callers can redact by truncating the
// returned string at the token's start for logging.
func BuildURL(base, token string, d ClientDescriptor) (string, error) {
	if base == "" {
		return "", fmt.Errorf("%w: empty base url", ErrInvalidURL)
	}
	if !strings.HasPrefix(base, "ws://") && !strings.HasPrefix(base, "wss://") {
		return "", fmt.Errorf("%w: unsupported scheme", ErrInvalidURL)
	}
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidURL)
	}

	separator := ""
	if !strings.HasSuffix(base, "/") {
		separator = "/"
	}

	// url.Values.Encode() sorts by key; the wire contract is a fixed
	// parameter order with access_token last, so the query string is built
	// by hand.
	params := [...][2]string{
		{"sdk", d.SDK},
		{"version", d.Version},
		{"os", d.OS},
		{"os_version", d.OSVersion},
		{"device_model", d.DeviceModel},
		{"auto_subscribe", "false"},
		{"protocol", ProtocolVersion},
		{"access_token", token},
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString(separator)
	b.WriteString("rtc")
	for i, p := range params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}
	return b.String(), nil
}

// Redact truncates a built signaling URL so the token query parameter is
// never logged, relying on BuildURL's guarantee that access_token is last.
func Redact(builtURL string) string {
	if idx := strings.Index(builtURL, "&access_token="); idx >= 0 {
		return builtURL[:idx] + "&access_token=[REDACTED]"
	}
	return builtURL
}
