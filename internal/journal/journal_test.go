// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/instagov/internal/risk"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "actions.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_AppendAndCount(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(ctx, "acct1", risk.ActionLike, base))
	require.NoError(t, j.Append(ctx, "acct1", risk.ActionLike, base.Add(time.Minute)))
	require.NoError(t, j.Append(ctx, "acct1", risk.ActionFollow, base))
	require.NoError(t, j.Append(ctx, "acct2", risk.ActionLike, base))

	n, err := j.CountSince(ctx, "acct1", risk.ActionLike, base)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = j.CountSince(ctx, "acct1", risk.ActionLike, base.Add(30*time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, n, "counting is bounded below by since")

	n, err = j.CountSince(ctx, "acct2", risk.ActionFollow, base)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestJournal_Recent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(ctx, "acct1", risk.ActionLike, base.Add(time.Duration(i)*time.Minute)))
	}

	entries, err := j.Recent(ctx, "acct1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, base.Add(4*time.Minute), entries[0].PerformedAt.UTC(), "newest first")
	require.Equal(t, base.Add(2*time.Minute), entries[2].PerformedAt.UTC())
	require.Equal(t, risk.ActionLike, entries[0].Action)
}

func TestJournal_PruneBefore(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(ctx, "acct1", risk.ActionLike, base))
	require.NoError(t, j.Append(ctx, "acct1", risk.ActionLike, base.Add(48*time.Hour)))

	pruned, err := j.PruneBefore(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, pruned)

	n, err := j.CountSince(ctx, "acct1", risk.ActionLike, base)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestJournal_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.db")
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	j1, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, j1.Append(ctx, "acct1", risk.ActionLike, base))
	require.NoError(t, j1.Close())

	j2, err := Open(path, nil)
	require.NoError(t, err)
	defer j2.Close()

	n, err := j2.CountSince(ctx, "acct1", risk.ActionLike, base)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestJournal_RecorderFeedsGovernor(t *testing.T) {
	j := openTestJournal(t)

	g := risk.NewGovernor("", risk.WithRecorder(j.Recorder()))
	g.RecordAction("acct1", risk.ActionLike)

	n, err := j.CountSince(context.Background(), "acct1", risk.ActionLike, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
