// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/instagov/internal/client"
	"github.com/jeranaias/instagov/internal/risk"
	"github.com/jeranaias/instagov/internal/store"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeGate struct {
	allow    bool
	recorded []risk.ActionType
}

func (g *fakeGate) CanPerformAction(accountID string, action risk.ActionType) bool {
	return g.allow
}

func (g *fakeGate) RecordAction(accountID string, action risk.ActionType) {
	g.recorded = append(g.recorded, action)
}

type fakeBackend struct {
	loginResp     *client.LoginResponse
	loginErr      error
	challengeResp *client.LoginResponse
	challengeErr  error
	loginCalls    int
}

func (b *fakeBackend) Login(ctx context.Context, req client.LoginRequest) (*client.LoginResponse, error) {
	b.loginCalls++
	return b.loginResp, b.loginErr
}

func (b *fakeBackend) ResolveChallenge(ctx context.Context, req client.ChallengeRequest) (*client.LoginResponse, error) {
	return b.challengeResp, b.challengeErr
}

type fakeSessions struct {
	sessions map[string]store.Session
	saveErr  error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]store.Session)}
}

func (s *fakeSessions) Save(sess store.Session) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *fakeSessions) Get(id string) (store.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return sess, nil
}

func (s *fakeSessions) Remove(id string) error {
	delete(s.sessions, id)
	return nil
}

func (s *fakeSessions) only(t *testing.T) store.Session {
	t.Helper()
	require.Len(t, s.sessions, 1)
	for _, sess := range s.sessions {
		return sess
	}
	return store.Session{}
}

// =============================================================================
// OUTCOME PARSING TESTS
// =============================================================================

func TestParseLoginResponse_Authenticated(t *testing.T) {
	out := ParseLoginResponse(&client.LoginResponse{
		Session: &client.SessionResult{SessionID: "s1", SessionBlob: "blob"},
	})
	require.Equal(t, OutcomeAuthenticated, out.Kind)
	require.Equal(t, "s1", out.SessionID)
	require.Equal(t, "blob", out.SessionBlob)
}

func TestParseLoginResponse_Challenge(t *testing.T) {
	out := ParseLoginResponse(&client.LoginResponse{
		Challenge: &client.ChallengeResult{Token: "tok", Method: "email"},
	})
	require.Equal(t, OutcomeChallenge, out.Kind)
	require.Equal(t, "tok", out.ChallengeToken)
	require.Equal(t, "email", out.ChallengeMethod)
}

func TestParseLoginResponse_Failed(t *testing.T) {
	out := ParseLoginResponse(&client.LoginResponse{Error: "bad password"})
	require.Equal(t, OutcomeFailed, out.Kind)
	require.Equal(t, "bad password", out.Reason)

	out = ParseLoginResponse(&client.LoginResponse{})
	require.Equal(t, OutcomeFailed, out.Kind)
	require.NotEmpty(t, out.Reason)
}

// =============================================================================
// LOGIN TESTS
// =============================================================================

func TestOrchestrator_LoginDeniedByGate(t *testing.T) {
	gate := &fakeGate{allow: false}
	backend := &fakeBackend{}
	o := New(gate, backend, newFakeSessions(), nil)

	_, err := o.Login(context.Background(), "acct1", client.LoginRequest{Username: "alice"})
	require.ErrorIs(t, err, ErrActionDenied)
	require.Zero(t, backend.loginCalls, "a denied login never reaches the backend")
	require.Empty(t, gate.recorded)
}

func TestOrchestrator_LoginAuthenticated(t *testing.T) {
	gate := &fakeGate{allow: true}
	backend := &fakeBackend{loginResp: &client.LoginResponse{
		Session: &client.SessionResult{SessionID: "s1", SessionBlob: "blob"},
	}}
	sessions := newFakeSessions()
	o := New(gate, backend, sessions, nil)

	out, err := o.Login(context.Background(), "acct1", client.LoginRequest{Username: "alice"})
	require.NoError(t, err)
	require.Equal(t, OutcomeAuthenticated, out.Kind)
	require.Equal(t, []risk.ActionType{risk.ActionLogin}, gate.recorded)

	sess := sessions.only(t)
	require.Equal(t, "s1", sess.ID)
	require.Equal(t, "acct1", sess.AccountID)
	require.Equal(t, "blob", sess.SessionBlob)
	require.True(t, sess.Usable())
}

func TestOrchestrator_LoginAuthenticatedWithoutID(t *testing.T) {
	gate := &fakeGate{allow: true}
	backend := &fakeBackend{loginResp: &client.LoginResponse{
		Session: &client.SessionResult{SessionBlob: "blob"},
	}}
	sessions := newFakeSessions()
	o := New(gate, backend, sessions, nil)

	_, err := o.Login(context.Background(), "acct1", client.LoginRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, sessions.only(t).ID, "a session id is generated when the backend omits one")
}

func TestOrchestrator_LoginChallengePersistsProvisional(t *testing.T) {
	gate := &fakeGate{allow: true}
	backend := &fakeBackend{loginResp: &client.LoginResponse{
		Challenge: &client.ChallengeResult{Token: "tok", Method: "sms"},
	}}
	sessions := newFakeSessions()
	o := New(gate, backend, sessions, nil)

	out, err := o.Login(context.Background(), "acct1", client.LoginRequest{})
	require.NoError(t, err)
	require.Equal(t, OutcomeChallenge, out.Kind)

	sess := sessions.only(t)
	require.Equal(t, "tok", sess.ChallengeToken)
	require.False(t, sess.Usable(), "provisional sessions must not back authenticated calls")
}

func TestOrchestrator_LoginFailedCountsAgainstLimits(t *testing.T) {
	gate := &fakeGate{allow: true}
	backend := &fakeBackend{loginResp: &client.LoginResponse{Error: "bad password"}}
	sessions := newFakeSessions()
	o := New(gate, backend, sessions, nil)

	out, err := o.Login(context.Background(), "acct1", client.LoginRequest{})
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, out.Kind)
	require.Equal(t, []risk.ActionType{risk.ActionLogin}, gate.recorded)
	require.Empty(t, sessions.sessions)
}

func TestOrchestrator_LoginTransportErrorNotRecorded(t *testing.T) {
	gate := &fakeGate{allow: true}
	backend := &fakeBackend{loginErr: errors.New("connection refused")}
	o := New(gate, backend, newFakeSessions(), nil)

	_, err := o.Login(context.Background(), "acct1", client.LoginRequest{})
	require.Error(t, err)
	require.Empty(t, gate.recorded, "a request that never completed does not count against limits")
}

// =============================================================================
// CHALLENGE RESOLUTION TESTS
// =============================================================================

func TestOrchestrator_ResolveChallengeUpgrades(t *testing.T) {
	sessions := newFakeSessions()
	require.NoError(t, sessions.Save(store.Session{
		ID:             "prov-1",
		AccountID:      "acct1",
		ChallengeToken: "tok",
		CreatedAt:      time.Now(),
	}))

	backend := &fakeBackend{challengeResp: &client.LoginResponse{
		Session: &client.SessionResult{SessionID: "prov-1", SessionBlob: "blob"},
	}}
	o := New(&fakeGate{allow: true}, backend, sessions, nil)

	out, err := o.ResolveChallenge(context.Background(), "prov-1", "123456")
	require.NoError(t, err)
	require.Equal(t, OutcomeAuthenticated, out.Kind)

	sess, err := sessions.Get("prov-1")
	require.NoError(t, err)
	require.True(t, sess.Usable(), "resolved session sheds its challenge token")
	require.Equal(t, "blob", sess.SessionBlob)
	require.Equal(t, "acct1", sess.AccountID)
}

func TestOrchestrator_ResolveChallengeWrongCode(t *testing.T) {
	sessions := newFakeSessions()
	require.NoError(t, sessions.Save(store.Session{
		ID: "prov-1", AccountID: "acct1", ChallengeToken: "tok",
	}))

	backend := &fakeBackend{challengeResp: &client.LoginResponse{Error: "wrong code"}}
	o := New(&fakeGate{allow: true}, backend, sessions, nil)

	out, err := o.ResolveChallenge(context.Background(), "prov-1", "000000")
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, out.Kind)

	sess, err := sessions.Get("prov-1")
	require.NoError(t, err)
	require.False(t, sess.Usable(), "a failed resolution leaves the session provisional")
}

func TestOrchestrator_ResolveChallengeNoPending(t *testing.T) {
	sessions := newFakeSessions()
	require.NoError(t, sessions.Save(store.Session{ID: "s1", AccountID: "acct1", SessionBlob: "blob"}))

	o := New(&fakeGate{allow: true}, &fakeBackend{}, sessions, nil)
	_, err := o.ResolveChallenge(context.Background(), "s1", "123456")
	require.Error(t, err)
}

func TestOrchestrator_ResolveChallengeMissingSession(t *testing.T) {
	o := New(&fakeGate{allow: true}, &fakeBackend{}, newFakeSessions(), nil)
	_, err := o.ResolveChallenge(context.Background(), "absent", "123456")
	require.ErrorIs(t, err, store.ErrNotFound)
}

// =============================================================================
// TOTP TESTS
// =============================================================================

func TestTOTPCode_Deterministic(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	code1, err := TOTPCode(secret, at)
	require.NoError(t, err)
	require.Len(t, code1, 6)

	code2, err := TOTPCode(secret, at)
	require.NoError(t, err)
	require.Equal(t, code1, code2)
}

func TestTOTPCode_BadSecret(t *testing.T) {
	_, err := TOTPCode("not!valid!base32", time.Now())
	require.Error(t, err)
}
