// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists authenticated account sessions encrypted at rest.
package store

import "time"

// Session is one authenticated account context. The store owns the
// authoritative copy; callers always receive and pass values, never
// references into store state.
type Session struct {
	// ID is the opaque session identifier, stable per login.
	ID string `json:"id"`

	// AccountID identifies the automated account this session belongs to.
	AccountID string `json:"account_id"`

	// SessionBlob is the serialized credential material. Its contents are
	// opaque to this core.
	SessionBlob string `json:"session_blob"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ProxyID optionally names the proxy this session was established through.
	ProxyID string `json:"proxy_id,omitempty"`

	// ChallengeToken is non-empty only while a login is pending a secondary
	// challenge. Such a session is provisional.
	ChallengeToken string `json:"challenge_token,omitempty"`
}

// Usable reports whether the session may back authenticated calls. A
// provisional session (pending challenge) must not be used.
func (s Session) Usable() bool {
	return s.ChallengeToken == ""
}
