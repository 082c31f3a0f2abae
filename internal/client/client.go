// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client is the HTTP client for the remote automation backend. All
// outbound calls share one rate limiter so bursts from concurrent callers
// stay under the backend's request ceiling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second

	// defaultRPS keeps the client comfortably under typical backend
	// throttling thresholds.
	defaultRPS   = 2
	defaultBurst = 4
)

// LoginRequest is the credential payload for a login attempt.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code,omitempty"`
}

// LoginResponse is the backend's answer to a login attempt. Exactly one of
// Session or Challenge is populated on a 200; Error carries the failure
// detail otherwise.
type LoginResponse struct {
	Session   *SessionResult   `json:"session,omitempty"`
	Challenge *ChallengeResult `json:"challenge,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// SessionResult is an authenticated session blob issued by the backend.
type SessionResult struct {
	SessionID   string `json:"session_id"`
	SessionBlob string `json:"session_blob"`
}

// ChallengeResult describes a pending checkpoint challenge.
type ChallengeResult struct {
	Token   string `json:"token"`
	Method  string `json:"method"`
	Contact string `json:"contact,omitempty"`
}

// ChallengeRequest submits a checkpoint verification code.
type ChallengeRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

// Client talks to the automation backend.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit overrides the request throttle.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the given backend base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(defaultRPS), defaultBurst),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login attempts to authenticate the given credentials.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.postJSON(ctx, "/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolveChallenge submits a verification code for a pending challenge.
func (c *Client) ResolveChallenge(ctx context.Context, req ChallengeRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.postJSON(ctx, "/auth/challenge", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Export verifies that a stored session is still honored by the backend.
// A nil error means the session is live.
func (c *Client) Export(ctx context.Context, sessionID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/sessions/%s/export", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build export request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("export request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("export returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
