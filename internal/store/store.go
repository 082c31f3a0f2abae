// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/instagov/internal/security"
	"github.com/jeranaias/instagov/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound indicates no session exists for the id.
	ErrNotFound = errors.New("session not found")
	// ErrExpired indicates the session existed but was past its TTL; it has
	// been removed.
	ErrExpired = errors.New("session expired")
	// ErrPersistence indicates the durable write failed after exhausting
	// retries. In-memory state is intact; the caller may retry Save.
	ErrPersistence = errors.New("failed to persist sessions")
	// ErrLiveness indicates the remote liveness check rejected the session.
	ErrLiveness = errors.New("session liveness check failed")
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultTTL is how long a session stays valid after its last update.
	DefaultTTL = 30 * 24 * time.Hour
	// DefaultSweepInterval is how often the background sweep runs. The sweep
	// is best-effort housekeeping; lazy eviction on read is the correctness
	// backstop.
	DefaultSweepInterval = 24 * time.Hour

	saveAttempts = 3
	saveBackoff  = 100 * time.Millisecond
)

// LivenessChecker confirms a stored session is still accepted server-side.
// Its only contract: return an error iff the session is no longer valid.
type LivenessChecker interface {
	Export(ctx context.Context, sessionID string) error
}

// =============================================================================
// STORE
// =============================================================================

// Store is the durable, encrypted, concurrency-safe cache of account
// sessions. One mutex guards the in-memory map and serializes every
// persistence write, so two writes are never interleaved mid-file; the
// write itself is additionally atomic at the filesystem level.
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session

	path          string
	cipher        *security.Cipher
	ttl           time.Duration
	sweepInterval time.Duration
	liveness      LivenessChecker
	clock         util.Clock
	logger        *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the session time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSweepInterval overrides the background sweep interval. Zero or
// negative disables the sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepInterval = d }
}

// WithLiveness sets the remote liveness checker used by Refresh.
func WithLiveness(lc LivenessChecker) Option {
	return func(s *Store) { s.liveness = lc }
}

// WithClock injects the time source.
func WithClock(c util.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New opens the session store backed by the encrypted file at path. A
// missing file yields an empty store; a file that fails to decrypt or
// decode is logged and likewise yields an empty store; load never fails
// startup. The background expiry sweep starts immediately unless disabled.
func New(path string, c *security.Cipher, opts ...Option) *Store {
	s := &Store{
		path:          path,
		cipher:        c,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		clock:         util.SystemClock(),
		logger:        zap.NewNop(),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sessions = s.loadFromDisk()

	if s.sweepInterval > 0 {
		go s.sweepLoop()
	}
	return s
}

// Close stops the background sweep. The store remains readable but no
// further housekeeping runs.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// =============================================================================
// CRUD
// =============================================================================

// GetAll returns a copy of every non-expired session, removing expired ones
// first (lazy eviction on read). Results are ordered by creation time.
func (s *Store) GetAll() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if removed := s.sweepExpiredLocked(s.clock.Now()); removed > 0 {
		if err := s.persistLocked(); err != nil {
			s.logger.Warn("failed to persist after expiry sweep", zap.Error(err))
		}
	}

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns the session by id. It fails with ErrNotFound if absent, or
// ErrExpired (removing the entry) if past the TTL.
func (s *Store) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id string) (Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if s.expired(sess, s.clock.Now()) {
		delete(s.sessions, id)
		if err := s.persistLocked(); err != nil {
			s.logger.Warn("failed to persist after expiring session",
				zap.String("id", id), zap.Error(err))
		}
		return Session{}, fmt.Errorf("session %s: %w", id, ErrExpired)
	}
	return sess, nil
}

// Save upserts the session by id, stamping UpdatedAt (and a zero CreatedAt)
// to now, then persists the full set. On persistence failure the in-memory
// update is kept and the error is surfaced for the caller to retry.
func (s *Store) Save(sess Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	sess.UpdatedAt = now
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	s.sessions[sess.ID] = sess

	return s.persistLocked()
}

// Remove deletes the session by id and persists. Removing an absent id is a
// no-op, not an error.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return nil
	}
	delete(s.sessions, id)
	return s.persistLocked()
}

// Refresh validates the session against the remote liveness check, bumps
// UpdatedAt, persists, and returns the refreshed session. On liveness
// failure the error propagates and the stored session is not mutated.
// The network call runs outside the lock.
func (s *Store) Refresh(ctx context.Context, id string) (Session, error) {
	if s.liveness == nil {
		return Session{}, fmt.Errorf("refresh %s: no liveness checker configured", id)
	}

	s.mu.Lock()
	sess, err := s.getLocked(id)
	s.mu.Unlock()
	if err != nil {
		return Session{}, err
	}

	if err := s.liveness.Export(ctx, id); err != nil {
		s.logger.Warn("session failed liveness check",
			zap.String("id", id), zap.Error(err))
		return Session{}, fmt.Errorf("%w: %v", ErrLiveness, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The session may have been removed while the network call ran.
	if _, ok := s.sessions[id]; !ok {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	sess.UpdatedAt = s.clock.Now()
	s.sessions[id] = sess

	if err := s.persistLocked(); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persistLocked serializes the full session set, encrypts it, and writes it
// atomically with a bounded retry budget. Caller must hold the lock.
func (s *Store) persistLocked() error {
	list := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	plain, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	sealed, err := s.cipher.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("failed to encrypt sessions: %w", err)
	}
	encoded := []byte(base64.StdEncoding.EncodeToString(sealed))

	if err := util.AtomicWriteFileRetry(s.path, encoded, 0600, saveAttempts, saveBackoff); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// loadFromDisk reads and decrypts the store file. Every failure mode other
// than "file absent" is recovered by starting empty: availability at startup
// is favored over strict recovery.
func (s *Store) loadFromDisk() map[string]Session {
	sessions := make(map[string]Session)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read session store, starting empty",
				zap.String("path", s.path), zap.Error(err))
		}
		return sessions
	}

	sealed, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		s.logger.Warn("session store is not valid base64, starting empty",
			zap.String("path", s.path), zap.Error(err))
		return sessions
	}

	plain, err := s.cipher.Decrypt(sealed)
	if err != nil {
		s.logger.Warn("failed to decrypt session store, starting empty",
			zap.String("path", s.path), zap.Error(err))
		return sessions
	}

	var list []Session
	if err := json.Unmarshal(plain, &list); err != nil {
		s.logger.Warn("failed to decode session store, starting empty",
			zap.String("path", s.path), zap.Error(err))
		return sessions
	}

	now := s.clock.Now()
	for _, sess := range list {
		if sess.ID == "" || s.expired(sess, now) {
			continue
		}
		sessions[sess.ID] = sess
	}
	return sessions
}

// =============================================================================
// EXPIRY
// =============================================================================

func (s *Store) expired(sess Session, now time.Time) bool {
	return now.Sub(sess.UpdatedAt) > s.ttl
}

// sweepExpiredLocked removes expired sessions and returns how many were
// removed. Caller must hold the lock.
func (s *Store) sweepExpiredLocked(now time.Time) int {
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
			s.logger.Info("removed expired session", zap.String("id", id))
		}
	}
	return removed
}

// sweepLoop runs the periodic expiry sweep until Close.
func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			removed := s.sweepExpiredLocked(s.clock.Now())
			if removed > 0 {
				if err := s.persistLocked(); err != nil {
					s.logger.Warn("failed to persist after sweep", zap.Error(err))
				}
			}
			s.mu.Unlock()
		}
	}
}
