// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the local admin HTTP API.
//
//   - POST   /v1/login                  - gated login attempt
//   - POST   /v1/challenge              - resolve a pending challenge
//   - GET    /v1/sessions               - list stored sessions
//   - POST   /v1/sessions/{id}/refresh  - liveness-check and extend a session
//   - DELETE /v1/sessions/{id}          - remove a session
//   - GET    /v1/limits/{action}        - configured limits for an action type
//   - POST   /v1/pause                  - pause all actions
//   - POST   /v1/resume                 - resume actions
//   - GET    /health                    - health report
//
// The API binds to localhost and carries no credentials in responses other
// than the opaque session ids; session blobs never leave the store through
// this surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/instagov/internal/auth"
	"github.com/jeranaias/instagov/internal/client"
	"github.com/jeranaias/instagov/internal/health"
	"github.com/jeranaias/instagov/internal/risk"
	"github.com/jeranaias/instagov/internal/store"
)

// Governor is the slice of the risk governor the API needs.
type Governor interface {
	LimitsFor(action risk.ActionType) risk.ActionLimits
	PauseActions(d time.Duration)
	ResumeActions()
	IsPaused() bool
}

// Sessions is the slice of the session store the API needs.
type Sessions interface {
	GetAll() []store.Session
	Refresh(ctx context.Context, id string) (store.Session, error)
	Remove(id string) error
}

// Server is the admin HTTP server.
type Server struct {
	orchestrator *auth.Orchestrator
	governor     Governor
	sessions     Sessions
	monitor      *health.Monitor
	logger       *zap.Logger

	http *http.Server
}

// New builds the server for addr.
func New(addr string, o *auth.Orchestrator, g Governor, s Sessions, m *health.Monitor, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &Server{
		orchestrator: o,
		governor:     g,
		sessions:     s,
		monitor:      m,
		logger:       logger,
	}
	srv.http = &http.Server{
		Addr:         addr,
		Handler:      srv.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe serves until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("admin API listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/login", s.handleLogin)
	mux.HandleFunc("POST /v1/challenge", s.handleChallenge)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("POST /v1/sessions/{id}/refresh", s.handleRefresh)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleRemove)
	mux.HandleFunc("GET /v1/limits/{action}", s.handleLimits)
	mux.HandleFunc("POST /v1/pause", s.handlePause)
	mux.HandleFunc("POST /v1/resume", s.handleResume)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.logRequests(mux)
}

// logRequests logs method, path, and timing for every request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("admin request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// =============================================================================
// HANDLERS
// =============================================================================

type loginRequest struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	TOTPCode  string `json:"totp_code,omitempty"`
}

type outcomeResponse struct {
	Kind            string `json:"kind"`
	SessionID       string `json:"session_id,omitempty"`
	ChallengeMethod string `json:"challenge_method,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func toOutcomeResponse(out auth.LoginOutcome) outcomeResponse {
	return outcomeResponse{
		Kind:            string(out.Kind),
		SessionID:       out.SessionID,
		ChallengeMethod: out.ChallengeMethod,
		Reason:          out.Reason,
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "account_id and username are required")
		return
	}

	out, err := s.orchestrator.Login(r.Context(), req.AccountID, client.LoginRequest{
		Username: req.Username,
		Password: req.Password,
		TOTPCode: req.TOTPCode,
	})
	if errors.Is(err, auth.ErrActionDenied) {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeResponse(out))
}

type challengeRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := s.orchestrator.ResolveChallenge(r.Context(), req.SessionID, req.Code)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeResponse(out))
}

type sessionSummary struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Usable    bool      `json:"usable"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	all := s.sessions.GetAll()
	out := make([]sessionSummary, 0, len(all))
	for _, sess := range all {
		out = append(out, sessionSummary{
			ID:        sess.ID,
			AccountID: sess.AccountID,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
			Usable:    sess.Usable(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Refresh(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrExpired):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrLiveness):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, sessionSummary{
			ID:        sess.ID,
			AccountID: sess.AccountID,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
			Usable:    sess.Usable(),
		})
	}
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Remove(r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	action := risk.ActionType(r.PathValue("action"))
	known := false
	for _, a := range risk.ActionTypes() {
		if a == action {
			known = true
			break
		}
	}
	if !known {
		writeError(w, http.StatusNotFound, "unknown action type")
		return
	}
	writeJSON(w, http.StatusOK, s.governor.LimitsFor(action))
}

type pauseRequest struct {
	Minutes int `json:"minutes"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Minutes <= 0 {
		writeError(w, http.StatusBadRequest, "minutes must be a positive integer")
		return
	}
	s.governor.PauseActions(time.Duration(req.Minutes) * time.Minute)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.governor.ResumeActions()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Report()
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
