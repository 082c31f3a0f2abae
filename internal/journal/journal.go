// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package journal keeps a durable, append-only record of performed actions
// for reporting and stats. The risk governor's in-memory history remains
// authoritative for gating; the journal is a fire-and-forget sink.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/instagov/internal/risk"
)

const schema = `
CREATE TABLE IF NOT EXISTS actions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id   TEXT NOT NULL,
	action       TEXT NOT NULL,
	performed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actions_account_action_time
	ON actions(account_id, action, performed_at);
`

// Entry is one journaled action.
type Entry struct {
	ID          int64
	AccountID   string
	Action      risk.ActionType
	PerformedAt time.Time
}

// Journal is a SQLite-backed action log.
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the journal database at path.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open action journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &Journal{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records one performed action.
func (j *Journal) Append(ctx context.Context, accountID string, action risk.ActionType, at time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO actions (account_id, action, performed_at) VALUES (?, ?, ?)`,
		accountID, string(action), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to journal action: %w", err)
	}
	return nil
}

// CountSince counts journaled actions for the account/action pair at or
// after since.
func (j *Journal) CountSince(ctx context.Context, accountID string, action risk.ActionType, since time.Time) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM actions WHERE account_id = ? AND action = ? AND performed_at >= ?`,
		accountID, string(action), since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count journaled actions: %w", err)
	}
	return n, nil
}

// Recent returns up to limit most recent entries for the account, newest
// first.
func (j *Journal) Recent(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, account_id, action, performed_at FROM actions
		 WHERE account_id = ? ORDER BY performed_at DESC, id DESC LIMIT ?`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			action string
			at     int64
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &action, &at); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.Action = risk.ActionType(action)
		e.PerformedAt = time.UnixMilli(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneBefore deletes entries older than cutoff and returns how many went.
func (j *Journal) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM actions WHERE performed_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Recorder adapts the journal to the governor's recorder hook. Journal
// failures are logged, never propagated into the gating path.
func (j *Journal) Recorder() risk.Recorder {
	return func(accountID string, action risk.ActionType, at time.Time) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.Append(ctx, accountID, action, at); err != nil {
			j.logger.Warn("failed to journal action",
				zap.String("account_id", accountID),
				zap.String("action", string(action)),
				zap.Error(err))
		}
	}
}
