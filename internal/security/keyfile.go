// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/instagov/internal/util"
)

// LoadOrCreateKey returns the store key from the base64 key file at path,
// generating and persisting a fresh key when the file does not exist.
//
// A missing key file next to an existing encrypted store orphans every
// previously encrypted session: the store will fail to decrypt and recover
// to empty. That is a deliberate, logged availability-over-recovery choice,
// not silent data loss: the event is logged at WARN when ciphertext is
// already present (storeExists) and at DEBUG on a clean first run.
func LoadOrCreateKey(path string, storeExists bool, logger *zap.Logger) ([]byte, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if decErr != nil {
			return nil, fmt.Errorf("key file %s is not valid base64: %w", path, decErr)
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("key file %s: %w", path, ErrInvalidKeySize)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	if err := util.AtomicWriteFile(path, []byte(encoded), 0600); err != nil {
		ZeroBytes(key)
		return nil, fmt.Errorf("failed to persist key file: %w", err)
	}

	if storeExists {
		logger.Warn("session key file was missing; generated a new key, previously encrypted sessions are unrecoverable",
			zap.String("path", path))
	} else {
		logger.Debug("generated new session key file", zap.String("path", path))
	}

	return key, nil
}
