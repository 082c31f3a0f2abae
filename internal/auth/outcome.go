// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"github.com/jeranaias/instagov/internal/client"
)

// OutcomeKind tags the result of a login exchange.
type OutcomeKind string

const (
	// OutcomeAuthenticated means the backend issued a usable session.
	OutcomeAuthenticated OutcomeKind = "authenticated"
	// OutcomeChallenge means the backend requires checkpoint verification
	// before the session becomes usable.
	OutcomeChallenge OutcomeKind = "challenge"
	// OutcomeFailed means the backend rejected the credentials.
	OutcomeFailed OutcomeKind = "failed"
)

// LoginOutcome is the tagged result of a login or challenge exchange.
// Exactly the fields implied by Kind are populated.
type LoginOutcome struct {
	Kind OutcomeKind

	// Authenticated
	SessionID   string
	SessionBlob string

	// Challenge
	ChallengeToken   string
	ChallengeMethod  string
	ChallengeContact string

	// Failed
	Reason string
}

// ParseLoginResponse classifies a backend login response into a tagged
// outcome. A session takes precedence if the backend ever sends both.
func ParseLoginResponse(resp *client.LoginResponse) LoginOutcome {
	switch {
	case resp.Session != nil && resp.Session.SessionBlob != "":
		return LoginOutcome{
			Kind:        OutcomeAuthenticated,
			SessionID:   resp.Session.SessionID,
			SessionBlob: resp.Session.SessionBlob,
		}
	case resp.Challenge != nil && resp.Challenge.Token != "":
		return LoginOutcome{
			Kind:             OutcomeChallenge,
			ChallengeToken:   resp.Challenge.Token,
			ChallengeMethod:  resp.Challenge.Method,
			ChallengeContact: resp.Challenge.Contact,
		}
	default:
		reason := resp.Error
		if reason == "" {
			reason = "neither session nor challenge in response"
		}
		return LoginOutcome{Kind: OutcomeFailed, Reason: reason}
	}
}
