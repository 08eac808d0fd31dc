// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wire

import (
	"encoding/json"
	"errors"
)

var errMissingCandidate = errors.New("missing candidate field")

// TrickleGetCandidate extracts the "candidate" field from an
// RTCIceCandidateInit JSON object, the shape TrickleRequest.CandidateInit
// carries on the wire. Fails on invalid JSON and on an absent or empty
// candidate value; the candidate line itself is handed to the ICE agent
// as-is, this repo never parses its internal structure.
func TrickleGetCandidate(candidateInitJSON string) (string, error) {
	var obj struct {
		Candidate string `json:"candidate"`
	}
	if err := json.Unmarshal([]byte(candidateInitJSON), &obj); err != nil {
		return "", wrapErr("TrickleGetCandidate", err)
	}
	if obj.Candidate == "" {
		return "", wrapErr("TrickleGetCandidate", errMissingCandidate)
	}
	return obj.Candidate, nil
}
