// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package signaling

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptor() ClientDescriptor {
	return ClientDescriptor{
		SDK:         "esp32",
		Version:     "1.0.0",
		OS:          "idf",
		OSVersion:   "5.2.1",
		DeviceModel: "2",
	}
}

func TestBuildURL_HappyPath(t *testing.T) {
	u, err := BuildURL("wss://host.example.com", "tok123", descriptor())
	require.NoError(t, err)
	// The parameter order is part of the wire contract: fixed, with
	// access_token always last.
	assert.Equal(t,
		"wss://host.example.com/rtc?sdk=esp32&version=1.0.0&os=idf&os_version=5.2.1"+
			"&device_model=2&auto_subscribe=false&protocol=1&access_token=tok123",
		u)
}

func TestBuildURL_NoDoubleSlashWhenBaseHasTrailingSlash(t *testing.T) {
	u, err := BuildURL("wss://host.example.com/", "tok", descriptor())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "wss://host.example.com/rtc?"))
	assert.False(t, strings.Contains(u, "//rtc"))
}

func TestBuildURL_EmptyBase(t *testing.T) {
	_, err := BuildURL("", "tok", descriptor())
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestBuildURL_UnsupportedScheme(t *testing.T) {
	_, err := BuildURL("http://host.example.com", "tok", descriptor())
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestBuildURL_EmptyToken(t *testing.T) {
	_, err := BuildURL("wss://host.example.com", "", descriptor())
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestRedact(t *testing.T) {
	u, err := BuildURL("wss://host.example.com", "super-secret-token", descriptor())
	require.NoError(t, err)
	redacted := Redact(u)
	assert.NotContains(t, redacted, "super-secret-token")
	assert.Contains(t, redacted, "[REDACTED]")
}
