// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth drives the login flow: risk gating, the backend exchange,
// and persisting whatever the exchange produced.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/instagov/internal/client"
	"github.com/jeranaias/instagov/internal/risk"
	"github.com/jeranaias/instagov/internal/store"
)

// ErrActionDenied means the risk governor refused the attempt.
var ErrActionDenied = errors.New("action denied by risk limits")

// Gate is the slice of the risk governor the orchestrator needs.
type Gate interface {
	CanPerformAction(accountID string, action risk.ActionType) bool
	RecordAction(accountID string, action risk.ActionType)
}

// Backend is the slice of the remote client the orchestrator needs.
type Backend interface {
	Login(ctx context.Context, req client.LoginRequest) (*client.LoginResponse, error)
	ResolveChallenge(ctx context.Context, req client.ChallengeRequest) (*client.LoginResponse, error)
}

// SessionStore is the slice of the session store the orchestrator needs.
type SessionStore interface {
	Save(sess store.Session) error
	Get(id string) (store.Session, error)
	Remove(id string) error
}

// Orchestrator coordinates logins end to end.
type Orchestrator struct {
	gate     Gate
	backend  Backend
	sessions SessionStore
	logger   *zap.Logger
}

// New creates an Orchestrator.
func New(gate Gate, backend Backend, sessions SessionStore, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{gate: gate, backend: backend, sessions: sessions, logger: logger}
}

// Login runs a gated login attempt for the account. On success the issued
// session is persisted; on a challenge a provisional session carrying the
// challenge token is persisted so the checkpoint can be resumed later.
func (o *Orchestrator) Login(ctx context.Context, accountID string, req client.LoginRequest) (LoginOutcome, error) {
	if !o.gate.CanPerformAction(accountID, risk.ActionLogin) {
		return LoginOutcome{}, fmt.Errorf("login for %s: %w", accountID, ErrActionDenied)
	}

	resp, err := o.backend.Login(ctx, req)
	// A completed exchange counts against the limits even when the
	// credentials were rejected.
	if err == nil {
		o.gate.RecordAction(accountID, risk.ActionLogin)
	}
	if err != nil {
		return LoginOutcome{}, fmt.Errorf("login exchange failed: %w", err)
	}

	outcome := ParseLoginResponse(resp)
	if err := o.persistOutcome(accountID, outcome); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// ResolveChallenge submits a verification code for a provisional session.
// On success the session is upgraded in place to a usable one.
func (o *Orchestrator) ResolveChallenge(ctx context.Context, sessionID, code string) (LoginOutcome, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return LoginOutcome{}, fmt.Errorf("challenge session lookup: %w", err)
	}
	if sess.ChallengeToken == "" {
		return LoginOutcome{}, fmt.Errorf("session %s has no pending challenge", sessionID)
	}

	resp, err := o.backend.ResolveChallenge(ctx, client.ChallengeRequest{
		Token: sess.ChallengeToken,
		Code:  code,
	})
	if err != nil {
		return LoginOutcome{}, fmt.Errorf("challenge exchange failed: %w", err)
	}

	outcome := ParseLoginResponse(resp)
	if outcome.Kind == OutcomeAuthenticated {
		// Reuse the provisional record so callers keep a stable id.
		if outcome.SessionID == "" {
			outcome.SessionID = sess.ID
		}
		sess.ID = outcome.SessionID
		sess.SessionBlob = outcome.SessionBlob
		sess.ChallengeToken = ""
		if err := o.sessions.Save(sess); err != nil {
			return outcome, fmt.Errorf("failed to persist resolved session: %w", err)
		}
		if sessionID != sess.ID {
			if err := o.sessions.Remove(sessionID); err != nil {
				o.logger.Warn("failed to remove provisional session",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
	return outcome, nil
}

func (o *Orchestrator) persistOutcome(accountID string, outcome LoginOutcome) error {
	switch outcome.Kind {
	case OutcomeAuthenticated:
		id := outcome.SessionID
		if id == "" {
			id = uuid.NewString()
		}
		sess := store.Session{
			ID:          id,
			AccountID:   accountID,
			SessionBlob: outcome.SessionBlob,
		}
		if err := o.sessions.Save(sess); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
		o.logger.Info("login authenticated",
			zap.String("account_id", accountID),
			zap.String("session_id", id))

	case OutcomeChallenge:
		sess := store.Session{
			ID:             uuid.NewString(),
			AccountID:      accountID,
			ChallengeToken: outcome.ChallengeToken,
		}
		if err := o.sessions.Save(sess); err != nil {
			return fmt.Errorf("failed to persist provisional session: %w", err)
		}
		o.logger.Info("login requires challenge",
			zap.String("account_id", accountID),
			zap.String("method", outcome.ChallengeMethod))

	case OutcomeFailed:
		o.logger.Warn("login failed",
			zap.String("account_id", accountID),
			zap.String("reason", outcome.Reason))
	}
	return nil
}
