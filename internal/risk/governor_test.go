// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGovernor(t *testing.T, s Settings) (*Governor, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	g := NewGovernor("", WithClock(clock), WithSettings(s))
	return g, clock
}

// =============================================================================
// GATING TESTS
// =============================================================================

func TestGovernor_FirstActionAllowed(t *testing.T) {
	g, _ := newTestGovernor(t, DefaultSettings())
	require.True(t, g.CanPerformAction("acct1", ActionLike))
}

func TestGovernor_HourlyLimit(t *testing.T) {
	s := DefaultSettings()
	s.MaxActionsPerHour[ActionLike] = 3
	delete(s.MinDelayBetweenActions, ActionLike)
	g, clock := newTestGovernor(t, s)

	for i := 0; i < 3; i++ {
		require.True(t, g.CanPerformAction("acct1", ActionLike), "action %d should be allowed", i+1)
		g.RecordAction("acct1", ActionLike)
		clock.Advance(time.Minute)
	}

	require.False(t, g.CanPerformAction("acct1", ActionLike), "4th like within the hour should be denied")

	// After the oldest record slides out of the 60 minute window the
	// action is allowed again.
	clock.Advance(58 * time.Minute)
	require.True(t, g.CanPerformAction("acct1", ActionLike))
}

func TestGovernor_DailyLimit(t *testing.T) {
	s := Settings{
		LimitationsEnabled: true,
		MaxActionsPerDay:   map[ActionType]int{ActionFollow: 2},
	}
	g, clock := newTestGovernor(t, s)

	g.RecordAction("acct1", ActionFollow)
	clock.Advance(time.Hour)
	g.RecordAction("acct1", ActionFollow)
	clock.Advance(time.Hour)

	require.False(t, g.CanPerformAction("acct1", ActionFollow), "daily limit reached")

	// 23 hours later the first record is older than 24h and drops out.
	clock.Advance(23 * time.Hour)
	require.True(t, g.CanPerformAction("acct1", ActionFollow))
}

func TestGovernor_MinDelay(t *testing.T) {
	s := Settings{
		LimitationsEnabled:     true,
		MinDelayBetweenActions: map[ActionType]int{ActionCommentReply: 30},
	}
	g, clock := newTestGovernor(t, s)

	g.RecordAction("acct1", ActionCommentReply)
	clock.Advance(10 * time.Second)
	require.False(t, g.CanPerformAction("acct1", ActionCommentReply), "within min delay")

	clock.Advance(21 * time.Second)
	require.True(t, g.CanPerformAction("acct1", ActionCommentReply), "past min delay")
}

func TestGovernor_ExplicitZeroDeniesFirstAction(t *testing.T) {
	s := Settings{
		LimitationsEnabled: true,
		MaxActionsPerDay:   map[ActionType]int{ActionPost: 0},
	}
	g, _ := newTestGovernor(t, s)

	require.False(t, g.CanPerformAction("acct1", ActionPost), "explicit zero limit denies everything")
	require.True(t, g.CanPerformAction("acct1", ActionStory), "unconfigured action is unlimited")
}

func TestGovernor_UnconfiguredActionUnlimited(t *testing.T) {
	g, _ := newTestGovernor(t, DefaultSettings())

	for i := 0; i < 500; i++ {
		require.True(t, g.CanPerformAction("acct1", ActionStory))
		g.RecordAction("acct1", ActionStory)
	}
}

func TestGovernor_AccountsIndependent(t *testing.T) {
	s := Settings{
		LimitationsEnabled: true,
		MaxActionsPerHour:  map[ActionType]int{ActionLike: 1},
	}
	g, _ := newTestGovernor(t, s)

	g.RecordAction("acct1", ActionLike)
	require.False(t, g.CanPerformAction("acct1", ActionLike))
	require.True(t, g.CanPerformAction("acct2", ActionLike), "limits are per account")
}

func TestGovernor_ActionTypesIndependent(t *testing.T) {
	s := Settings{
		LimitationsEnabled: true,
		MaxActionsPerHour:  map[ActionType]int{ActionLike: 1, ActionFollow: 1},
	}
	g, _ := newTestGovernor(t, s)

	g.RecordAction("acct1", ActionLike)
	require.False(t, g.CanPerformAction("acct1", ActionLike))
	require.True(t, g.CanPerformAction("acct1", ActionFollow), "limits are per action type")
}

func TestGovernor_DisabledBypassesEverything(t *testing.T) {
	s := DefaultSettings()
	s.LimitationsEnabled = false
	s.MaxActionsPerDay[ActionLike] = 0
	g, _ := newTestGovernor(t, s)

	g.PauseActions(time.Hour)
	require.True(t, g.CanPerformAction("acct1", ActionLike), "disabled limits allow everything, even paused")
}

// =============================================================================
// PAUSE TESTS
// =============================================================================

func TestGovernor_PauseAndResume(t *testing.T) {
	g, _ := newTestGovernor(t, DefaultSettings())

	require.False(t, g.IsPaused())
	g.PauseActions(time.Hour)
	require.True(t, g.IsPaused())
	require.False(t, g.CanPerformAction("acct1", ActionLike))
	require.False(t, g.CanPerformAction("other", ActionFollow), "pause is global")

	g.ResumeActions()
	require.False(t, g.IsPaused())
	require.True(t, g.CanPerformAction("acct1", ActionLike))
}

func TestGovernor_PauseExpiresLazily(t *testing.T) {
	g, clock := newTestGovernor(t, DefaultSettings())

	g.PauseActions(10 * time.Minute)
	require.True(t, g.IsPaused())

	clock.Advance(11 * time.Minute)
	require.False(t, g.IsPaused(), "pause expires without any timer firing")
	require.True(t, g.CanPerformAction("acct1", ActionLike))
}

func TestGovernor_RepauseExtends(t *testing.T) {
	g, clock := newTestGovernor(t, DefaultSettings())

	g.PauseActions(10 * time.Minute)
	clock.Advance(5 * time.Minute)
	g.PauseActions(30 * time.Minute)

	clock.Advance(20 * time.Minute)
	require.True(t, g.IsPaused(), "second pause replaces the first deadline")
}

// =============================================================================
// DELAY TESTS
// =============================================================================

func TestGovernor_SuggestedDelayBounds(t *testing.T) {
	s := Settings{
		LimitationsEnabled:     true,
		RandomDelayPercentage:  20,
		MinDelayBetweenActions: map[ActionType]int{ActionDirectMessage: 60},
	}
	g, _ := newTestGovernor(t, s)

	for i := 0; i < 100; i++ {
		d := g.SuggestedDelay("acct1", ActionDirectMessage)
		require.GreaterOrEqual(t, d, 60*time.Second)
		require.LessOrEqual(t, d, 72*time.Second, "jitter is at most 20 percent of the base")
	}
}

func TestGovernor_SuggestedDelayZeroCases(t *testing.T) {
	s := Settings{LimitationsEnabled: true}
	g, _ := newTestGovernor(t, s)
	require.Zero(t, g.SuggestedDelay("acct1", ActionLike), "no base delay configured")

	s2 := DefaultSettings()
	s2.LimitationsEnabled = false
	g2, _ := newTestGovernor(t, s2)
	require.Zero(t, g2.SuggestedDelay("acct1", ActionLike), "disabled limits suggest no delay")
}

// =============================================================================
// SETTINGS TESTS
// =============================================================================

func TestGovernor_UpdateSettingsValidation(t *testing.T) {
	g, _ := newTestGovernor(t, DefaultSettings())

	bad := DefaultSettings()
	bad.RandomDelayPercentage = 150
	require.Error(t, g.UpdateSettings(bad))

	bad2 := DefaultSettings()
	bad2.MaxActionsPerDay[ActionLike] = -1
	require.Error(t, g.UpdateSettings(bad2))

	// Settings unchanged after rejected updates.
	require.Equal(t, float64(20), g.Settings().RandomDelayPercentage)
}

func TestGovernor_UpdateSettingsApplies(t *testing.T) {
	g, _ := newTestGovernor(t, DefaultSettings())

	s := DefaultSettings()
	s.MaxActionsPerHour[ActionLike] = 1
	require.NoError(t, g.UpdateSettings(s))

	g.RecordAction("acct1", ActionLike)
	require.False(t, g.CanPerformAction("acct1", ActionLike))
}

func TestGovernor_SettingsReturnsCopy(t *testing.T) {
	g, _ := newTestGovernor(t, DefaultSettings())

	s := g.Settings()
	s.MaxActionsPerHour[ActionLike] = 1

	require.Equal(t, 30, g.Settings().MaxActionsPerHour[ActionLike], "mutating the copy must not affect the governor")
}

func TestGovernor_LimitsFor(t *testing.T) {
	s := Settings{
		LimitationsEnabled: true,
		MaxActionsPerDay:   map[ActionType]int{ActionLike: 0},
		MaxActionsPerHour:  map[ActionType]int{ActionLike: 30},
	}
	g, _ := newTestGovernor(t, s)

	limits := g.LimitsFor(ActionLike)
	require.True(t, limits.Daily.Configured)
	require.Zero(t, limits.Daily.Value)
	require.True(t, limits.Hourly.Configured)
	require.Equal(t, 30, limits.Hourly.Value)
	require.False(t, limits.MinIntervalSeconds.Configured, "unconfigured dimension reports Configured=false")
}

func TestGovernor_ResetDailyCounters(t *testing.T) {
	s := Settings{
		LimitationsEnabled: true,
		MaxActionsPerHour:  map[ActionType]int{ActionLike: 1},
	}
	g, _ := newTestGovernor(t, s)

	g.RecordAction("acct1", ActionLike)
	require.False(t, g.CanPerformAction("acct1", ActionLike))

	g.ResetDailyCounters()
	require.True(t, g.CanPerformAction("acct1", ActionLike))
}

// =============================================================================
// RECORDER AND CONCURRENCY TESTS
// =============================================================================

func TestGovernor_RecorderHook(t *testing.T) {
	clock := newFakeClock()
	var (
		mu       sync.Mutex
		recorded []ActionType
	)
	g := NewGovernor("", WithClock(clock), WithSettings(DefaultSettings()),
		WithRecorder(func(accountID string, action ActionType, at time.Time) {
			mu.Lock()
			defer mu.Unlock()
			require.Equal(t, "acct1", accountID)
			require.Equal(t, clock.Now(), at)
			recorded = append(recorded, action)
		}))

	g.RecordAction("acct1", ActionLike)
	g.RecordAction("acct1", ActionFollow)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []ActionType{ActionLike, ActionFollow}, recorded)
}

func TestGovernor_ConcurrentAccess(t *testing.T) {
	g, _ := newTestGovernor(t, DefaultSettings())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				g.CanPerformAction("acct1", ActionLike)
				g.RecordAction("acct1", ActionLike)
				g.SuggestedDelay("acct1", ActionLike)
				g.IsPaused()
			}
		}()
	}
	wg.Wait()
}
