// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package risk

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jeranaias/instagov/internal/util"
)

// loadSettings reads the JSON settings file. Any failure (missing file,
// unreadable file, bad JSON) falls back to the built-in defaults so a bad
// settings file never prevents startup.
func loadSettings(path string, logger *zap.Logger) Settings {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read risk settings, using defaults",
				zap.String("path", path), zap.Error(err))
		}
		return DefaultSettings()
	}

	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		logger.Warn("failed to parse risk settings, using defaults",
			zap.String("path", path), zap.Error(err))
		return DefaultSettings()
	}
	if err := s.validate(); err != nil {
		logger.Warn("invalid risk settings, using defaults",
			zap.String("path", path), zap.Error(err))
		return DefaultSettings()
	}
	return s
}

// saveSettings persists settings as indented JSON via an atomic write.
// Unlike load, a save failure is surfaced: the caller asked for durability.
func saveSettings(path string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal risk settings: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to save risk settings: %w", err)
	}
	return nil
}
