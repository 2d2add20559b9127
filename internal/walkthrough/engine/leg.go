package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	apperrors "github.com/stepforge/walkthrough/internal/errors"
	"github.com/stepforge/walkthrough/internal/storage"
	"github.com/stepforge/walkthrough/internal/walkthrough/event"
	"github.com/stepforge/walkthrough/internal/walkthrough/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Leg is one push-channel's worth of a session: the replay prefix (on
// resume), an optional decision echo, and live generation up to the next
// suspension or terminal event. A leg holds the session's live-run claim
// from preparation until Run returns.
type Leg struct {
	runner *Runner
	sess   session.Session
	resume bool
	echo   *session.Decision
}

// Session returns the session state at leg start. The transport uses it to
// deliver the session identifier out-of-band before any event is streamed.
func (l *Leg) Session() session.Session {
	return l.sess
}

// Resumed reports whether this leg continues an interrupted session and will
// begin with a replay prefix.
func (l *Leg) Resumed() bool {
	return l.resume
}

// Run drives the leg, forwarding every event to emit in stream order. It
// releases the live-run claim on return. Run must be called exactly once.
func (l *Leg) Run(ctx context.Context, emit func(event.Event) error) error {
	r := l.runner
	defer func() {
		if err := r.store.ReleaseSession(context.WithoutCancel(ctx), l.sess.ID); err != nil {
			log.Printf("engine: release session %s: %v", l.sess.ID, err)
		}
	}()

	ctx, span := r.tracer.Start(ctx, "engine.leg", trace.WithAttributes(
		attribute.String("session.id", l.sess.ID),
		attribute.String("session.target_id", l.sess.TargetID),
		attribute.Bool("session.resume", l.resume),
	))
	defer span.End()

	if l.resume {
		for _, evt := range replayEvents(l.sess) {
			if err := emit(evt); err != nil {
				return err
			}
		}
		if l.sess.PendingPrompt != nil {
			// Re-emit the still-pending prompt as a live event and wait for
			// the decision; no generation happens while it is outstanding.
			return emit(promptEvent(*l.sess.PendingPrompt))
		}
	}

	if l.echo != nil {
		if err := emit(event.UserResponse{DecisionRecord: decisionRecord(*l.echo)}); err != nil {
			return err
		}
	}

	if l.sess.Terminal() {
		return nil
	}
	if r.gen == nil {
		return apperrors.New(apperrors.CodeGeneratorNotConfigured, "generator is not configured")
	}

	sink := &legSink{leg: l, emit: emit}
	err := r.gen.GenerateLeg(ctx, l.sess, sink)
	switch {
	case err == nil, errors.Is(err, ErrSuspended):
		return nil
	case ctx.Err() != nil:
		// Consumer went away; the persisted snapshot is the resume point.
		return nil
	default:
		// The generator failed outside the event protocol. Surface it on the
		// stream as a terminal error event so the consumer sees the outcome.
		log.Printf("engine: generator failed for session %s: %v", l.sess.ID, err)
		failure := event.Error{Code: string(apperrors.CodeGenerationFailed), Message: err.Error()}
		if emitErr := sink.Emit(ctx, failure); emitErr != nil && !errors.Is(emitErr, ErrSuspended) {
			return fmt.Errorf("record generation failure: %w", emitErr)
		}
		return nil
	}
}

// legSink applies generator events to the session and forwards them.
type legSink struct {
	leg  *Leg
	emit func(event.Event) error
}

// Emit folds the event, persists the transition, forwards the event, and
// reports ErrSuspended once the leg is over. Persistence happens before the
// event is released so a consumer never observes a transition the store
// could still lose.
func (s *legSink) Emit(ctx context.Context, evt event.Event) error {
	l := s.leg
	r := l.runner

	next, err := session.Fold(l.sess, evt)
	if err != nil {
		return fmt.Errorf("fold %s: %w", evt.Kind(), err)
	}
	next.UpdatedAt = r.now().UTC()
	if err := r.store.PutSession(ctx, next); err != nil {
		if errors.Is(err, storage.ErrSessionTerminal) {
			// The session was discarded while this leg was producing. The
			// event is not forwarded; the leg is over.
			return ErrSuspended
		}
		return fmt.Errorf("persist %s: %w", evt.Kind(), err)
	}
	l.sess = next

	if err := s.emit(evt); err != nil {
		return err
	}

	// Acknowledge checkpoints after content milestones.
	switch evt.Kind() {
	case event.KindSectionComplete, event.KindStepComplete:
		ack := event.ProgressSaved{
			Sections:  len(next.GeneratedSections()),
			Steps:     completedSteps(next),
			Decisions: len(next.Decisions),
		}
		if err := s.emit(ack); err != nil {
			return err
		}
	}

	if next.Phase.Suspended() || next.Terminal() {
		return ErrSuspended
	}
	return nil
}

// SetCursor persists the generator's progress marker with the snapshot.
func (s *legSink) SetCursor(ctx context.Context, cursor int) error {
	l := s.leg
	if cursor == l.sess.EngineCursor {
		return nil
	}
	next := l.sess
	next.EngineCursor = cursor
	next.UpdatedAt = l.runner.now().UTC()
	if err := l.runner.store.PutSession(ctx, next); err != nil {
		if errors.Is(err, storage.ErrSessionTerminal) {
			return ErrSuspended
		}
		return fmt.Errorf("persist cursor %d: %w", cursor, err)
	}
	l.sess = next
	return nil
}

func completedSteps(sess session.Session) int {
	count := 0
	for _, step := range sess.Steps {
		if step.Completed {
			count++
		}
	}
	return count
}

func decisionRecord(d session.Decision) event.DecisionRecord {
	return event.DecisionRecord{
		PromptID:     d.PromptID,
		ResponseType: string(d.Type),
		ChoiceID:     d.ChoiceID,
		Selected:     d.Selected,
		UserInput:    d.UserInput,
		UserNote:     d.UserNote,
	}
}
