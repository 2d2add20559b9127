package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stepforge/walkthrough/internal/storage"
	"github.com/stepforge/walkthrough/internal/walkthrough/session"
)

// PutSession upserts a session snapshot.
//
// The snapshot is written in a single statement so concurrent readers never
// observe a partial write. A unique partial index on (target_id) for
// non-terminal rows enforces the one-active-session-per-target invariant.
// Rows already marked terminal are immutable: the upsert refuses to touch
// them and ErrSessionTerminal is returned, so a discarded session cannot be
// revived by a writer holding a stale snapshot.
func (s *Store) PutSession(ctx context.Context, sess session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(sess.TargetID) == "" {
		return fmt.Errorf("target id is required")
	}

	snapshot, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}

	terminal := 0
	if sess.Terminal() {
		terminal = 1
	}

	res, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sessions (
		    session_id, target_id, phase, terminal, snapshot_json, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		    phase = excluded.phase,
		    terminal = excluded.terminal,
		    snapshot_json = excluded.snapshot_json,
		    updated_at = excluded.updated_at
		 WHERE sessions.terminal = 0`,
		sess.ID,
		sess.TargetID,
		string(sess.Phase),
		terminal,
		snapshot,
		toMillis(sess.CreatedAt),
		toMillis(sess.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrActiveSessionExists
		}
		return fmt.Errorf("put session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put session rows: %w", err)
	}
	if affected == 0 {
		// The conflict target exists but the guard suppressed the update: the
		// stored row is already terminal.
		return storage.ErrSessionTerminal
	}
	return nil
}

// GetSession fetches a session snapshot by session ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	return s.getSession(ctx,
		`SELECT snapshot_json FROM sessions WHERE session_id = ?`,
		strings.TrimSpace(sessionID))
}

// GetActiveSessionByTarget fetches the single non-terminal session for a target.
func (s *Store) GetActiveSessionByTarget(ctx context.Context, targetID string) (session.Session, error) {
	return s.getSession(ctx,
		`SELECT snapshot_json FROM sessions WHERE target_id = ? AND terminal = 0`,
		strings.TrimSpace(targetID))
}

// GetDoneSessionByTarget fetches the most recent done session for a target.
func (s *Store) GetDoneSessionByTarget(ctx context.Context, targetID string) (session.Session, error) {
	return s.getSession(ctx,
		`SELECT snapshot_json FROM sessions
		 WHERE target_id = ? AND phase = 'done'
		 ORDER BY updated_at DESC LIMIT 1`,
		strings.TrimSpace(targetID))
}

func (s *Store) getSession(ctx context.Context, query, key string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return session.Session{}, fmt.Errorf("storage is not configured")
	}
	if key == "" {
		return session.Session{}, fmt.Errorf("identifier is required")
	}

	var snapshot []byte
	if err := s.sqlDB.QueryRowContext(ctx, query, key).Scan(&snapshot); err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal(snapshot, &sess); err != nil {
		return session.Session{}, fmt.Errorf("unmarshal session snapshot: %w", err)
	}
	return sess, nil
}

// ClaimSession marks a session as held by a live run.
//
// The claim is a conditional single-statement update, so two concurrent
// opens of the same session resolve to exactly one winner; the loser sees
// ErrSessionBusy. Claims older than ttl are treated as abandoned and taken
// over.
func (s *Store) ClaimSession(ctx context.Context, sessionID string, now time.Time, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	cutoff := toMillis(now.Add(-ttl))
	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sessions SET claimed_at = ?
		 WHERE session_id = ? AND (claimed_at IS NULL OR claimed_at < ?)`,
		toMillis(now),
		sessionID,
		cutoff,
	)
	if err != nil {
		return fmt.Errorf("claim session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim session rows: %w", err)
	}
	if affected == 0 {
		exists, err := s.sessionExists(ctx, sessionID)
		if err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrSessionBusy
	}
	return nil
}

// ReleaseSession clears a live-run claim. Releasing an unclaimed or missing
// session is not an error.
func (s *Store) ReleaseSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sessions SET claimed_at = NULL WHERE session_id = ?`,
		sessionID,
	); err != nil {
		return fmt.Errorf("release session: %w", err)
	}
	return nil
}

// MarkSuperseded terminally retires a session. The snapshot is rewritten
// with the superseded flag so resumability checks and the terminal column
// agree. Missing or already-terminal sessions are ignored.
func (s *Store) MarkSuperseded(ctx context.Context, sessionID string, now time.Time) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if sess.Terminal() {
		return nil
	}
	sess.Superseded = true
	sess.UpdatedAt = now.UTC()
	return s.PutSession(ctx, sess)
}

func (s *Store) sessionExists(ctx context.Context, sessionID string) (bool, error) {
	var found int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&found)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check session: %w", err)
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint failed")
}
