// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package token peeks at a LiveKit access token's claims for log enrichment.
// The client never holds the signing key, so the signature is never
// verified here — this is a logging convenience, not an authorization check.
package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Grant mirrors the subset of the LiveKit JWT video grant useful for logs.
type Grant struct {
	Identity string
	Room     string
}

// ErrNotAJWT is returned when the token does not parse as a JWT at all.
var ErrNotAJWT = errors.New("token: not a JWT")

// PeekGrant extracts identity/room claims without verifying the signature.
func PeekGrant(raw string) (Grant, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return Grant{}, ErrNotAJWT
	}

	g := Grant{}
	if sub, ok := claims["sub"].(string); ok {
		g.Identity = sub
	}
	if video, ok := claims["video"].(map[string]interface{}); ok {
		if room, ok := video["room"].(string); ok {
			g.Room = room
		}
	}
	return g, nil
}
