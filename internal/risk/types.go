// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package risk gates automated account actions against configured limits.
//
// Every externally-initiated action (comment reply, direct message, like,
// follow, story view, post, and login attempts) is checked against
// per-account sliding windows before it runs, and recorded after it runs.
package risk

import "time"

// =============================================================================
// ACTION TYPES
// =============================================================================

// ActionType is a category of automated action subject to independent limits.
type ActionType string

const (
	ActionCommentReply  ActionType = "comment_reply"
	ActionDirectMessage ActionType = "direct_message"
	ActionLike          ActionType = "like"
	ActionFollow        ActionType = "follow"
	ActionStory         ActionType = "story"
	ActionPost          ActionType = "post"

	// ActionLogin governs login attempts. It carries no default limits;
	// deployments opt in by configuring it.
	ActionLogin ActionType = "login"
)

// ActionTypes lists every known action type.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionCommentReply,
		ActionDirectMessage,
		ActionLike,
		ActionFollow,
		ActionStory,
		ActionPost,
		ActionLogin,
	}
}

// =============================================================================
// LIMITS
// =============================================================================

// Limit is an optional limit value. Configured distinguishes "explicitly
// zero" (every action denied) from "not configured" (unlimited); a raw int
// cannot express both.
type Limit struct {
	Value      int  `json:"value"`
	Configured bool `json:"configured"`
}

// ActionLimits is the read-only projection of the limits for one action type.
type ActionLimits struct {
	Hourly             Limit `json:"hourly_limit"`
	Daily              Limit `json:"daily_limit"`
	MinIntervalSeconds Limit `json:"min_interval_seconds"`
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings is the per-deployment risk configuration. A missing map entry for
// an action type means "unlimited" for that dimension; an explicit zero
// entry denies every action of that type.
type Settings struct {
	LimitationsEnabled    bool    `json:"limitations_enabled"`
	RandomDelayPercentage float64 `json:"random_delay_percentage"`
	CooldownMinutes       int     `json:"cooldown_minutes"`
	AutoPause             bool    `json:"auto_pause"`

	MaxActionsPerDay       map[ActionType]int `json:"max_actions_per_day"`
	MaxActionsPerHour      map[ActionType]int `json:"max_actions_per_hour"`
	MinDelayBetweenActions map[ActionType]int `json:"min_delay_between_actions"`
}

// DefaultSettings returns the built-in conservative limits used when no
// settings file exists or it cannot be read.
func DefaultSettings() Settings {
	return Settings{
		LimitationsEnabled:    true,
		RandomDelayPercentage: 20,
		MaxActionsPerDay: map[ActionType]int{
			ActionCommentReply:  100,
			ActionDirectMessage: 50,
			ActionLike:          200,
			ActionFollow:        50,
		},
		MaxActionsPerHour: map[ActionType]int{
			ActionCommentReply:  20,
			ActionDirectMessage: 10,
			ActionLike:          30,
			ActionFollow:        10,
		},
		MinDelayBetweenActions: map[ActionType]int{
			ActionCommentReply:  30,
			ActionDirectMessage: 60,
			ActionLike:          15,
			ActionFollow:        120,
		},
	}
}

// clone deep-copies the settings so callers never alias internal maps.
func (s Settings) clone() Settings {
	out := s
	out.MaxActionsPerDay = cloneLimits(s.MaxActionsPerDay)
	out.MaxActionsPerHour = cloneLimits(s.MaxActionsPerHour)
	out.MinDelayBetweenActions = cloneLimits(s.MinDelayBetweenActions)
	return out
}

func cloneLimits(m map[ActionType]int) map[ActionType]int {
	if m == nil {
		return nil
	}
	out := make(map[ActionType]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// validate rejects settings no deployment can mean.
func (s Settings) validate() error {
	if s.RandomDelayPercentage < 0 || s.RandomDelayPercentage > 100 {
		return errOutOfRange("random_delay_percentage", s.RandomDelayPercentage)
	}
	for name, m := range map[string]map[ActionType]int{
		"max_actions_per_day":       s.MaxActionsPerDay,
		"max_actions_per_hour":      s.MaxActionsPerHour,
		"min_delay_between_actions": s.MinDelayBetweenActions,
	} {
		for action, v := range m {
			if v < 0 {
				return errNegativeLimit(name, action, v)
			}
		}
	}
	return nil
}

// retentionWindow is how long action records are kept; 24 hours is the
// longest window any limit checks.
const retentionWindow = 24 * time.Hour
