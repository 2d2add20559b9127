// Package engine drives walkthrough generation sessions.
//
// The engine runs one leg per push channel: it invokes the content
// generator, folds every emitted event into the session state machine,
// persists the snapshot before the event is released downstream, and stops
// when the generator suspends on a prompt or reaches a terminal event.
// Resumed legs first re-emit the session's history as replay-only events.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/stepforge/walkthrough/internal/errors"
	"github.com/stepforge/walkthrough/internal/storage"
	"github.com/stepforge/walkthrough/internal/walkthrough/event"
	"github.com/stepforge/walkthrough/internal/walkthrough/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ErrSuspended signals the generator that the leg has ended: the last
// emitted event suspended the session on a prompt or made it terminal.
// Generators must stop emitting and return when they receive it.
var ErrSuspended = errors.New("session suspended")

// Sink receives events from a generator during one leg.
type Sink interface {
	// Emit folds the event into the session, persists the transition, and
	// forwards the event to the push channel. It returns ErrSuspended when
	// the leg is over.
	Emit(ctx context.Context, evt event.Event) error
	// SetCursor persists the generator's opaque progress marker.
	SetCursor(ctx context.Context, cursor int) error
}

// Generator drafts walkthrough content for a session as typed events.
//
// GenerateLeg continues from the session's current state (phase, sections,
// steps, decision log, engine cursor) and emits through the sink until the
// leg ends. The generator never produces content while a prompt is pending;
// the suspend protocol enforces strict sequencing per session.
type Generator interface {
	GenerateLeg(ctx context.Context, sess session.Session, sink Sink) error
}

// defaultClaimTTL bounds how long an abandoned live-run claim blocks the
// session before it can be taken over.
const defaultClaimTTL = 2 * time.Minute

// Runner owns session lifecycle: opening, resuming, decision submission,
// and the read-only query operations.
type Runner struct {
	store    storage.SessionStore
	gen      Generator
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() (string, error)
	claimTTL time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the runner's clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(r *Runner) { r.newID = newID }
}

// WithClaimTTL overrides how long a live-run claim is honored.
func WithClaimTTL(ttl time.Duration) Option {
	return func(r *Runner) { r.claimTTL = ttl }
}

// NewRunner creates a runner backed by the given store and generator.
func NewRunner(store storage.SessionStore, gen Generator, opts ...Option) *Runner {
	r := &Runner{
		store:    store,
		gen:      gen,
		tracer:   otel.Tracer("walkthrough/engine"),
		now:      time.Now,
		newID:    nil,
		claimTTL: defaultClaimTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Open starts a new session for a target, or prepares a resume of the
// existing non-terminal one. The returned leg holds the live-run claim; the
// caller must invoke Run exactly once to release it.
func (r *Runner) Open(ctx context.Context, targetID string, cfg session.Config) (*Leg, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, session.ErrEmptyTargetID
	}

	existing, err := r.store.GetActiveSessionByTarget(ctx, targetID)
	if err == nil {
		if err := r.store.ClaimSession(ctx, existing.ID, r.now(), r.claimTTL); err != nil {
			return nil, err
		}
		return &Leg{runner: r, sess: existing, resume: true}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	sess, err := session.Create(session.CreateInput{TargetID: targetID, Config: cfg}, r.now, r.newID)
	if err != nil {
		return nil, err
	}
	if err := r.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := r.store.ClaimSession(ctx, sess.ID, r.now(), r.claimTTL); err != nil {
		return nil, err
	}
	return &Leg{runner: r, sess: sess}, nil
}

// SubmitDecision resolves the pending prompt of a suspended session and
// prepares the next leg. Submissions with no prompt pending, duplicate
// resolutions, and mismatched prompt ids are rejected synchronously and
// never reach the stream.
func (r *Runner) SubmitDecision(ctx context.Context, sessionID string, decision session.Decision) (*Leg, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperrors.New(apperrors.CodeSessionNotFound, "session id is required")
	}

	if err := r.store.ClaimSession(ctx, sessionID, r.now(), r.claimTTL); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeSessionNotFound, "session not found")
		}
		return nil, err
	}

	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		_ = r.store.ReleaseSession(ctx, sessionID)
		return nil, err
	}

	resolved, err := session.ResolvePrompt(sess, decision, r.now)
	if err != nil {
		_ = r.store.ReleaseSession(ctx, sessionID)
		return nil, err
	}
	resolved.UpdatedAt = r.now().UTC()
	if err := r.store.PutSession(ctx, resolved); err != nil {
		_ = r.store.ReleaseSession(ctx, sessionID)
		return nil, err
	}

	applied := resolved.Decisions[len(resolved.Decisions)-1]
	return &Leg{runner: r, sess: resolved, echo: &applied}, nil
}
