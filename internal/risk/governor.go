// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package risk

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/instagov/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

func errOutOfRange(field string, v float64) error {
	return fmt.Errorf("risk settings: %s out of range: %v", field, v)
}

func errNegativeLimit(field string, action ActionType, v int) error {
	return fmt.Errorf("risk settings: %s[%s] is negative: %d", field, action, v)
}

// =============================================================================
// GOVERNOR
// =============================================================================

// Recorder receives a copy of every recorded action, outside the governor's
// lock. Used to feed the durable action journal; failures there never block
// or fail the governor.
type Recorder func(accountID string, action ActionType, at time.Time)

// Governor owns per-account action histories and the configured limits, and
// answers whether an action may run right now. A single mutex guards the
// history map, the settings and the pause state; no operation under the lock
// touches the network, so hold times stay short.
type Governor struct {
	mu         sync.Mutex
	settings   Settings
	history    map[string]map[ActionType][]time.Time
	pauseUntil time.Time

	settingsPath string
	clock        util.Clock
	logger       *zap.Logger
	rng          *rand.Rand
	recorder     Recorder
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock injects the time source (tests use a fake).
func WithClock(c util.Clock) Option {
	return func(g *Governor) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Governor) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithRecorder sets the action recorder hook.
func WithRecorder(r Recorder) Option {
	return func(g *Governor) { g.recorder = r }
}

// WithSettings replaces the loaded settings wholesale. Mainly for tests and
// embedders that manage configuration themselves.
func WithSettings(s Settings) Option {
	return func(g *Governor) { g.settings = s.clone() }
}

// NewGovernor creates a Governor backed by the JSON settings file at
// settingsPath. A missing or unreadable file is not an error: the built-in
// defaults apply and startup proceeds. An empty settingsPath disables
// persistence entirely.
func NewGovernor(settingsPath string, opts ...Option) *Governor {
	g := &Governor{
		settings:     DefaultSettings(),
		history:      make(map[string]map[ActionType][]time.Time),
		settingsPath: settingsPath,
		clock:        util.SystemClock(),
		logger:       zap.NewNop(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if settingsPath != "" {
		g.settings = loadSettings(settingsPath, g.logger)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// =============================================================================
// GATING
// =============================================================================

// CanPerformAction reports whether the account may perform the action now.
// When limitations are disabled every action is allowed. Otherwise stale
// history is pruned, the global pause is honored, and the daily window,
// hourly window and minimum inter-action delay are checked in that order.
// A "no" is a normal outcome for the caller to back off on, never an error.
func (g *Governor) CanPerformAction(accountID string, action ActionType) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.settings.LimitationsEnabled {
		return true
	}

	now := g.clock.Now()
	g.pruneLocked(accountID, now)

	if g.pausedLocked(now) {
		return false
	}

	hist := g.history[accountID][action]
	if len(hist) == 0 {
		// Explicitly zero limits deny even a first action.
		if limit, ok := g.settings.MaxActionsPerDay[action]; ok && limit == 0 {
			return false
		}
		if limit, ok := g.settings.MaxActionsPerHour[action]; ok && limit == 0 {
			return false
		}
		return true
	}

	if limit, ok := g.settings.MaxActionsPerDay[action]; ok {
		if countSince(hist, now.Add(-24*time.Hour)) >= limit {
			return false
		}
	}

	if limit, ok := g.settings.MaxActionsPerHour[action]; ok {
		if countSince(hist, now.Add(-time.Hour)) >= limit {
			return false
		}
	}

	if minDelay, ok := g.settings.MinDelayBetweenActions[action]; ok {
		last := hist[len(hist)-1]
		if now.Sub(last) < time.Duration(minDelay)*time.Second {
			return false
		}
	}

	return true
}

// RecordAction appends a timestamped record for the account/action pair.
// Safe for concurrent callers; the recorder hook runs outside the lock.
func (g *Governor) RecordAction(accountID string, action ActionType) {
	g.mu.Lock()
	now := g.clock.Now()
	byAction, ok := g.history[accountID]
	if !ok {
		byAction = make(map[ActionType][]time.Time)
		g.history[accountID] = byAction
	}
	byAction[action] = append(byAction[action], now)
	recorder := g.recorder
	g.mu.Unlock()

	if recorder != nil {
		recorder(accountID, action, now)
	}
}

// SuggestedDelay returns an advisory wait before the next action of this
// type: the configured minimum delay plus a uniformly random jitter of up to
// RandomDelayPercentage percent of it. Zero when limits are disabled or no
// base delay is configured. Not enforced by CanPerformAction.
func (g *Governor) SuggestedDelay(accountID string, action ActionType) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.settings.LimitationsEnabled {
		return 0
	}
	base, ok := g.settings.MinDelayBetweenActions[action]
	if !ok || base <= 0 {
		return 0
	}

	variation := float64(base) * g.settings.RandomDelayPercentage / 100
	jitter := g.rng.Float64() * variation
	return time.Duration((float64(base) + jitter) * float64(time.Second))
}

// =============================================================================
// PAUSE STATE
// =============================================================================

// PauseActions denies every action for every account until duration elapses.
func (g *Governor) PauseActions(duration time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pauseUntil = g.clock.Now().Add(duration)
	g.logger.Info("actions paused", zap.Time("until", g.pauseUntil))
}

// ResumeActions clears the pause immediately.
func (g *Governor) ResumeActions() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pauseUntil = time.Time{}
	g.logger.Info("actions resumed")
}

// IsPaused reports whether the global pause is in effect. Expiry is lazy;
// no background timer is needed for correctness.
func (g *Governor) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pausedLocked(g.clock.Now())
}

func (g *Governor) pausedLocked(now time.Time) bool {
	return !g.pauseUntil.IsZero() && now.Before(g.pauseUntil)
}

// =============================================================================
// SETTINGS ACCESS
// =============================================================================

// Settings returns a deep copy of the current settings.
func (g *Governor) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings.clone()
}

// UpdateSettings validates, installs and persists new settings wholesale.
// The in-memory settings change only if both validation and the save
// succeed.
func (g *Governor) UpdateSettings(s Settings) error {
	if err := s.validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.settingsPath != "" {
		if err := saveSettings(g.settingsPath, s); err != nil {
			return err
		}
	}
	g.settings = s.clone()
	return nil
}

// ReloadSettings re-reads the settings file, keeping the current settings on
// failure. Used by the settings watcher.
func (g *Governor) ReloadSettings() {
	if g.settingsPath == "" {
		return
	}
	loaded := loadSettings(g.settingsPath, g.logger)
	if err := loaded.validate(); err != nil {
		g.logger.Warn("ignoring reloaded risk settings", zap.Error(err))
		return
	}

	g.mu.Lock()
	g.settings = loaded
	g.mu.Unlock()
	g.logger.Info("risk settings reloaded", zap.String("path", g.settingsPath))
}

// LimitsFor returns the configured limits for one action type. Each limit
// reports whether it was configured at all, so callers can tell an explicit
// zero from "unlimited".
func (g *Governor) LimitsFor(action ActionType) ActionLimits {
	g.mu.Lock()
	defer g.mu.Unlock()

	daily, dailyOK := g.settings.MaxActionsPerDay[action]
	hourly, hourlyOK := g.settings.MaxActionsPerHour[action]
	minDelay, minOK := g.settings.MinDelayBetweenActions[action]

	return ActionLimits{
		Daily:              Limit{Value: daily, Configured: dailyOK},
		Hourly:             Limit{Value: hourly, Configured: hourlyOK},
		MinIntervalSeconds: Limit{Value: minDelay, Configured: minOK},
	}
}

// ResetDailyCounters clears all recorded history for all accounts.
func (g *Governor) ResetDailyCounters() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = make(map[string]map[ActionType][]time.Time)
	g.logger.Info("action history reset")
}

// =============================================================================
// INTERNALS
// =============================================================================

// pruneLocked drops records older than the retention window for one account.
func (g *Governor) pruneLocked(accountID string, now time.Time) {
	byAction, ok := g.history[accountID]
	if !ok {
		return
	}
	cutoff := now.Add(-retentionWindow)
	for action, hist := range byAction {
		kept := hist[:0]
		for _, t := range hist {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(byAction, action)
		} else {
			byAction[action] = kept
		}
	}
	if len(byAction) == 0 {
		delete(g.history, accountID)
	}
}

// countSince counts records strictly newer than cutoff. Records are
// appended in order, so this could binary search; histories are small
// enough that a scan is fine.
func countSince(hist []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range hist {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
