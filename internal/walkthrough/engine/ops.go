package engine

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/stepforge/walkthrough/internal/errors"
	"github.com/stepforge/walkthrough/internal/storage"
	"github.com/stepforge/walkthrough/internal/walkthrough/session"
)

// StatusSummary is a side-effect-free snapshot of a session.
type StatusSummary struct {
	SessionID         string             `json:"session_id"`
	TargetID          string             `json:"target_id"`
	Phase             session.Phase      `json:"phase"`
	PendingPrompt     bool               `json:"pending_prompt_present"`
	GeneratedSections []string           `json:"generated_sections"`
	Decisions         []session.Decision `json:"decisions"`
	CurrentStep       int                `json:"current_step,omitempty"`
	StepCount         int                `json:"step_count,omitempty"`
}

// Status returns a read-only snapshot summary for a session.
func (r *Runner) Status(ctx context.Context, sessionID string) (StatusSummary, error) {
	sess, err := r.store.GetSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return StatusSummary{}, apperrors.New(apperrors.CodeSessionNotFound, "session not found")
		}
		return StatusSummary{}, err
	}
	return StatusSummary{
		SessionID:         sess.ID,
		TargetID:          sess.TargetID,
		Phase:             sess.Phase,
		PendingPrompt:     sess.PendingPrompt != nil,
		GeneratedSections: sess.GeneratedSections(),
		Decisions:         sess.Decisions,
		CurrentStep:       sess.CurrentStep,
		StepCount:         len(sess.Steps),
	}, nil
}

// ProgressSummary describes how far an interrupted session got.
type ProgressSummary struct {
	Phase       session.Phase `json:"phase"`
	Sections    int           `json:"sections"`
	Steps       int           `json:"steps"`
	CurrentStep int           `json:"current_step,omitempty"`
	Decisions   int           `json:"decisions"`
}

// Existence is the result of a resumability check. It never allocates a
// session.
type Existence struct {
	Exists    bool             `json:"exists"`
	CanResume bool             `json:"can_resume"`
	Progress  *ProgressSummary `json:"progress_summary,omitempty"`
}

// Exists reports whether a target has a non-terminal session and whether it
// can be resumed.
func (r *Runner) Exists(ctx context.Context, targetID string) (Existence, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return Existence{}, session.ErrEmptyTargetID
	}

	sess, err := r.store.GetActiveSessionByTarget(ctx, targetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Existence{}, nil
		}
		return Existence{}, err
	}
	return Existence{
		Exists:    true,
		CanResume: sess.Resumable(),
		Progress: &ProgressSummary{
			Phase:       sess.Phase,
			Sections:    len(sess.GeneratedSections()),
			Steps:       completedSteps(sess),
			CurrentStep: sess.CurrentStep,
			Decisions:   len(sess.Decisions),
		},
	}, nil
}

// ContentResult is the assembled content of a completed session.
type ContentResult struct {
	SessionID string `json:"session_id"`
	TargetID  string `json:"target_id"`
	HandsOnID string `json:"hands_on_id,omitempty"`
	Content   string `json:"content"`
}

// Content returns the fully assembled content of a target's most recent
// done session, without streaming.
func (r *Runner) Content(ctx context.Context, targetID string) (ContentResult, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return ContentResult{}, session.ErrEmptyTargetID
	}

	sess, err := r.store.GetDoneSessionByTarget(ctx, targetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ContentResult{}, apperrors.New(apperrors.CodeSessionNotDone, "no completed session for target")
		}
		return ContentResult{}, err
	}
	return ContentResult{
		SessionID: sess.ID,
		TargetID:  sess.TargetID,
		HandsOnID: sess.HandsOnID,
		Content:   sess.AssembledContent(),
	}, nil
}

// Discard terminally retires a session so a fresh one may be opened for its
// target. Discarding a nonexistent session is not an error.
func (r *Runner) Discard(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return apperrors.New(apperrors.CodeSessionNotFound, "session id is required")
	}
	return r.store.MarkSuperseded(ctx, sessionID, r.now())
}
