// Package storage defines the persistence interfaces for walkthrough
// sessions.
//
// The session store is the sole source of truth for a session when no
// engine run is actively driving it. Implementations must isolate sessions
// from each other: a write to one session's snapshot is never visible as a
// partial write to any reader.
//
// # Error Types
//
//   - ErrNotFound: a requested record is missing.
//   - ErrActiveSessionExists: conflict creating a second non-terminal
//     session for a target.
//   - ErrSessionBusy: conflict claiming a session that has a live run.
//   - ErrSessionTerminal: a snapshot write addressed a session already in
//     a terminal state.
package storage

import (
	"context"
	"time"

	apperrors "github.com/stepforge/walkthrough/internal/errors"
	"github.com/stepforge/walkthrough/internal/walkthrough/session"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")
	// ErrActiveSessionExists indicates a second non-terminal session was
	// attempted for a target that already has one.
	ErrActiveSessionExists = apperrors.New(apperrors.CodeActiveSessionExists, "active session already exists for target")
	// ErrSessionBusy indicates a claim attempt while a live run holds the session.
	ErrSessionBusy = apperrors.New(apperrors.CodeSessionBusy, "session has a live run in flight")
	// ErrSessionTerminal indicates a snapshot write over a session that is
	// already terminal. Terminal sessions are immutable.
	ErrSessionTerminal = apperrors.New(apperrors.CodeSessionTerminal, "session is terminal")
)

// SessionStore persists walkthrough session snapshots.
type SessionStore interface {
	// PutSession upserts a session snapshot. Creating a second non-terminal
	// session for the same target returns ErrActiveSessionExists; writing
	// over a session already marked terminal returns ErrSessionTerminal.
	PutSession(ctx context.Context, sess session.Session) error
	// GetSession fetches a session snapshot by session ID.
	GetSession(ctx context.Context, sessionID string) (session.Session, error)
	// GetActiveSessionByTarget fetches the single non-terminal session for a
	// target, or ErrNotFound when none exists.
	GetActiveSessionByTarget(ctx context.Context, targetID string) (session.Session, error)
	// GetDoneSessionByTarget fetches the most recent done session for a target.
	GetDoneSessionByTarget(ctx context.Context, targetID string) (session.Session, error)
	// ClaimSession marks a session as held by a live run. A claim newer than
	// ttl returns ErrSessionBusy; expired claims are taken over.
	ClaimSession(ctx context.Context, sessionID string, now time.Time, ttl time.Duration) error
	// ReleaseSession clears a live-run claim. Releasing an unclaimed or
	// missing session is not an error.
	ReleaseSession(ctx context.Context, sessionID string) error
	// MarkSuperseded terminally retires a session so a fresh one may be
	// opened for its target. Idempotent; missing sessions are not an error.
	MarkSuperseded(ctx context.Context, sessionID string, now time.Time) error
}

// AuditEvent captures one operational audit record.
type AuditEvent struct {
	Timestamp  time.Time
	EventName  string
	Severity   string
	SessionID  string
	TargetID   string
	RequestID  string
	TraceID    string
	SpanID     string
	Attributes map[string]any
}

// AuditEventStore persists operational audit events.
type AuditEventStore interface {
	AppendAuditEvent(ctx context.Context, evt AuditEvent) error
}
