package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/stepforge/walkthrough/internal/errors"
	"github.com/stepforge/walkthrough/internal/storage"
	"github.com/stepforge/walkthrough/internal/storage/sqlite"
	"github.com/stepforge/walkthrough/internal/walkthrough/event"
	"github.com/stepforge/walkthrough/internal/walkthrough/session"
)

const testScript = `title: Middleware walkthrough
hands_on_id: ho-1
context:
  position: "auth > middleware"
  upstream: [sessions]
  downstream: [api-gateway]
plan:
  - section:
      id: overview
      title: Overview
      chunks: ["Part one. ", "Part two."]
  - choice:
      id: framework
      question: Which approach?
      options:
        - id: a
          label: Approach A
        - id: b
          label: Approach B
      allow_skip: true
  - step:
      title: First step
      description: Wire the handler.
      chunks: ["Run the thing."]
  - section:
      id: verification
      title: Verify
      chunks: ["Check the output."]
`

func newTestRunner(t *testing.T) (*Runner, *sqlite.Store) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "target-1.yaml"), []byte(testScript), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}

	store, err := sqlite.Open(filepath.Join(dir, "walkthrough.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	runner := NewRunner(store, NewScriptGenerator(dir))
	return runner, store
}

// collect returns an emit function that appends into a shared slice.
func collect(events *[]event.Event) func(event.Event) error {
	return func(evt event.Event) error {
		*events = append(*events, evt)
		return nil
	}
}

func kinds(events []event.Event) []event.Kind {
	out := make([]event.Kind, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.Kind())
	}
	return out
}

func assertKinds(t *testing.T, got []event.Event, want ...event.Kind) {
	t.Helper()
	gotKinds := kinds(got)
	if len(gotKinds) != len(want) {
		t.Fatalf("got %d events %v, want %v", len(gotKinds), gotKinds, want)
	}
	for i := range want {
		if gotKinds[i] != want[i] {
			t.Fatalf("event %d: %s, want %s (full: %v)", i, gotKinds[i], want[i], gotKinds)
		}
	}
}

func TestOpenStreamsToFirstPrompt(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	leg, err := runner.Open(ctx, "target-1", session.Config{Audience: "backend"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if leg.Session().ID == "" {
		t.Fatal("leg carries no session id")
	}
	if leg.Resumed() {
		t.Error("fresh open marked as resume")
	}

	var events []event.Event
	if err := leg.Run(ctx, collect(&events)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	assertKinds(t, events,
		event.KindContext,
		event.KindSectionStart,
		event.KindChunk,
		event.KindChunk,
		event.KindSectionComplete,
		event.KindProgressSaved,
		event.KindChoiceRequired,
	)

	choice, ok := events[len(events)-1].(event.ChoiceRequired)
	if !ok || choice.PromptID != "framework" {
		t.Fatalf("final event %+v, want the framework choice", events[len(events)-1])
	}

	status, err := runner.Status(ctx, leg.Session().ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Phase != session.PhaseAwaitingChoice || !status.PendingPrompt {
		t.Errorf("status %+v, want suspended on a prompt", status)
	}
}

func TestDecisionContinuesToCompletion(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	leg, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sessionID := leg.Session().ID
	var opening []event.Event
	if err := leg.Run(ctx, collect(&opening)); err != nil {
		t.Fatalf("opening Run: %v", err)
	}

	next, err := runner.SubmitDecision(ctx, sessionID, session.Decision{
		PromptID: "framework",
		Type:     session.ResponseChoice,
		ChoiceID: "a",
	})
	if err != nil {
		t.Fatalf("SubmitDecision: %v", err)
	}
	var events []event.Event
	if err := next.Run(ctx, collect(&events)); err != nil {
		t.Fatalf("continuation Run: %v", err)
	}

	assertKinds(t, events,
		event.KindUserResponse,
		event.KindStepStart,
		event.KindChunk,
		event.KindStepComplete,
		event.KindProgressSaved,
		event.KindSectionStart,
		event.KindChunk,
		event.KindSectionComplete,
		event.KindProgressSaved,
		event.KindDone,
	)

	echo, ok := events[0].(event.UserResponse)
	if !ok || echo.PromptID != "framework" || echo.ChoiceID != "a" {
		t.Errorf("echo %+v, want the submitted decision", events[0])
	}
	done, ok := events[len(events)-1].(event.Done)
	if !ok || done.HandsOnID != "ho-1" || done.SessionID != sessionID {
		t.Errorf("done %+v", events[len(events)-1])
	}

	content, err := runner.Content(ctx, "target-1")
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	for _, fragment := range []string{"Part one. Part two.", "Run the thing.", "Check the output."} {
		if !strings.Contains(content.Content, fragment) {
			t.Errorf("assembled content missing %q", fragment)
		}
	}
	if content.HandsOnID != "ho-1" {
		t.Errorf("content hands-on id %q", content.HandsOnID)
	}
}

func TestResumeReplaysSuspendedSession(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	leg, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sessionID := leg.Session().ID
	var opening []event.Event
	if err := leg.Run(ctx, collect(&opening)); err != nil {
		t.Fatalf("opening Run: %v", err)
	}

	// Reopening the same target resumes, replays history, and re-emits the
	// still-pending prompt without generating anything new.
	resumed, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("resume Open: %v", err)
	}
	if !resumed.Resumed() || resumed.Session().ID != sessionID {
		t.Fatalf("resumed leg session %q resumed=%v", resumed.Session().ID, resumed.Resumed())
	}

	var events []event.Event
	if err := resumed.Run(ctx, collect(&events)); err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	assertKinds(t, events,
		event.KindSessionRestored,
		event.KindRestoredContent,
		event.KindChoiceRequired,
	)

	restored := events[0].(event.SessionRestored)
	if restored.SessionID != sessionID || restored.Phase != string(session.PhaseAwaitingChoice) {
		t.Errorf("session_restored %+v", restored)
	}
	content := events[1].(event.RestoredContent)
	if content.Section != "overview" || !content.Complete || content.Text != "Part one. Part two." {
		t.Errorf("restored_content %+v", content)
	}
	prompt := events[2].(event.ChoiceRequired)
	if prompt.PromptID != "framework" {
		t.Errorf("re-emitted prompt %+v", prompt)
	}
}

func TestResumeAfterMidSectionDrop(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	leg, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sessionID := leg.Session().ID

	// Simulate the consumer dropping mid-section: cancel after three events.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var delivered []event.Event
	err = leg.Run(runCtx, func(evt event.Event) error {
		delivered = append(delivered, evt)
		if len(delivered) == 3 {
			cancel()
			return errors.New("write: broken pipe")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("interrupted Run: %v", err)
	}
	assertKinds(t, delivered, event.KindContext, event.KindSectionStart, event.KindChunk)

	// The session survives non-terminally and resumes with a replay prefix,
	// then regenerates the interrupted section from its start.
	resumed, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("resume Open: %v", err)
	}
	if resumed.Session().ID != sessionID {
		t.Fatalf("resume opened session %q, want %q", resumed.Session().ID, sessionID)
	}

	var events []event.Event
	if err := resumed.Run(ctx, collect(&events)); err != nil {
		t.Fatalf("resume Run: %v", err)
	}

	assertKinds(t, events,
		event.KindSessionRestored,
		event.KindRestoredContent,
		event.KindContext,
		event.KindSectionStart,
		event.KindChunk,
		event.KindChunk,
		event.KindSectionComplete,
		event.KindProgressSaved,
		event.KindChoiceRequired,
	)

	partial := events[1].(event.RestoredContent)
	if partial.Complete {
		t.Errorf("interrupted section replayed as complete: %+v", partial)
	}
	regenerated := events[3].(event.SectionStart)
	if regenerated.Section != "overview" {
		t.Errorf("regenerated section %+v", regenerated)
	}
}

func TestResumeReplaysDecisions(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	leg, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sessionID := leg.Session().ID
	var opening []event.Event
	if err := leg.Run(ctx, collect(&opening)); err != nil {
		t.Fatalf("opening Run: %v", err)
	}

	// Resolve the prompt but interrupt the continuation before anything new
	// streams; the decision must survive into the replay.
	next, err := runner.SubmitDecision(ctx, sessionID, session.Decision{
		PromptID: "framework",
		Type:     session.ResponseChoice,
		ChoiceID: "b",
	})
	if err != nil {
		t.Fatalf("SubmitDecision: %v", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var continued []event.Event
	err = next.Run(runCtx, func(evt event.Event) error {
		continued = append(continued, evt)
		cancel()
		return errors.New("write: broken pipe")
	})
	if err == nil {
		t.Fatal("interrupted continuation reported no delivery error")
	}
	assertKinds(t, continued, event.KindUserResponse)

	resumed, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("resume Open: %v", err)
	}
	var events []event.Event
	if err := resumed.Run(ctx, collect(&events)); err != nil {
		t.Fatalf("resume Run: %v", err)
	}

	got := kinds(events)
	wantPrefix := []event.Kind{
		event.KindSessionRestored,
		event.KindRestoredContent,
		event.KindRestoredDecisions,
		event.KindRestoredUserResponse,
	}
	if len(got) < len(wantPrefix) {
		t.Fatalf("resume stream %v too short", got)
	}
	for i, want := range wantPrefix {
		if got[i] != want {
			t.Fatalf("resume event %d = %s, want %s (full: %v)", i, got[i], want, got)
		}
	}
	decisions := events[2].(event.RestoredDecisions)
	if len(decisions.Decisions) != 1 || decisions.Decisions[0].ChoiceID != "b" {
		t.Errorf("restored decisions %+v", decisions.Decisions)
	}
	// The live continuation picks up with the step, not the resolved prompt.
	if got[len(wantPrefix)] != event.KindStepStart {
		t.Errorf("continuation starts with %s, want %s", got[len(wantPrefix)], event.KindStepStart)
	}
	if got[len(got)-1] != event.KindDone {
		t.Errorf("resume stream ends with %s, want %s", got[len(got)-1], event.KindDone)
	}
}

func TestOpenWhileClaimedReturnsBusy(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	leg, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// The first leg has not run yet, so its claim is still held.
	if _, err := runner.Open(ctx, "target-1", session.Config{}); !errors.Is(err, storage.ErrSessionBusy) {
		t.Fatalf("concurrent open: err = %v, want ErrSessionBusy", err)
	}

	var events []event.Event
	if err := leg.Run(ctx, collect(&events)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The claim is released once the leg finishes.
	if _, err := runner.Open(ctx, "target-1", session.Config{}); err != nil {
		t.Fatalf("open after release: %v", err)
	}
}

func TestSubmitDecisionViolations(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	leg, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sessionID := leg.Session().ID
	var events []event.Event
	if err := leg.Run(ctx, collect(&events)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := runner.SubmitDecision(ctx, "missing", session.Decision{PromptID: "framework"}); apperrors.GetCode(err) != apperrors.CodeSessionNotFound {
		t.Errorf("unknown session: err = %v, want %s", err, apperrors.CodeSessionNotFound)
	}

	// A rejected decision releases the claim so the next attempt goes through.
	if _, err := runner.SubmitDecision(ctx, sessionID, session.Decision{
		PromptID: "some-other-prompt",
		Type:     session.ResponseChoice,
		ChoiceID: "a",
	}); apperrors.GetCode(err) != apperrors.CodePromptMismatch {
		t.Fatalf("mismatched prompt: err = %v, want %s", err, apperrors.CodePromptMismatch)
	}

	next, err := runner.SubmitDecision(ctx, sessionID, session.Decision{
		PromptID: "framework",
		Type:     session.ResponseSkip,
	})
	if err != nil {
		t.Fatalf("valid submission after rejection: %v", err)
	}

	// The continuation leg holds the claim; a parallel submission conflicts.
	if _, err := runner.SubmitDecision(ctx, sessionID, session.Decision{
		PromptID: "framework",
		Type:     session.ResponseSkip,
	}); !errors.Is(err, storage.ErrSessionBusy) {
		t.Errorf("parallel submission: err = %v, want ErrSessionBusy", err)
	}

	var rest []event.Event
	if err := next.Run(ctx, collect(&rest)); err != nil {
		t.Fatalf("continuation Run: %v", err)
	}
}

func TestExists(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	existence, err := runner.Exists(ctx, "target-1")
	if err != nil {
		t.Fatalf("Exists before open: %v", err)
	}
	if existence.Exists {
		t.Fatalf("existence %+v before any session", existence)
	}

	leg, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var events []event.Event
	if err := leg.Run(ctx, collect(&events)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	existence, err = runner.Exists(ctx, "target-1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !existence.Exists || !existence.CanResume {
		t.Fatalf("existence %+v, want resumable", existence)
	}
	if existence.Progress == nil || existence.Progress.Sections != 1 || existence.Progress.Phase != session.PhaseAwaitingChoice {
		t.Errorf("progress %+v", existence.Progress)
	}
}

func TestDiscardFreesTarget(t *testing.T) {
	runner, store := newTestRunner(t)
	ctx := context.Background()

	leg, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sessionID := leg.Session().ID
	var events []event.Event
	if err := leg.Run(ctx, collect(&events)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := runner.Discard(ctx, sessionID); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	got, err := store.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.Superseded {
		t.Error("discarded session not superseded")
	}

	// A fresh session opens for the target and gets a new identity.
	fresh, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open after discard: %v", err)
	}
	if fresh.Session().ID == sessionID {
		t.Error("discarded session was resumed")
	}
	var freshEvents []event.Event
	if err := fresh.Run(ctx, collect(&freshEvents)); err != nil {
		t.Fatalf("fresh Run: %v", err)
	}
}

func TestDiscardDuringLiveLegStopsProduction(t *testing.T) {
	runner, store := newTestRunner(t)
	ctx := context.Background()

	leg, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sessionID := leg.Session().ID

	// Discard the session from the consumer side mid-stream. Production must
	// stop at the next persisted transition and the discard must stick.
	var delivered []event.Event
	err = leg.Run(ctx, func(evt event.Event) error {
		delivered = append(delivered, evt)
		if evt.Kind() == event.KindChunk {
			if err := runner.Discard(ctx, sessionID); err != nil {
				t.Fatalf("Discard: %v", err)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertKinds(t, delivered, event.KindContext, event.KindSectionStart, event.KindChunk)

	got, err := store.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.Superseded {
		t.Error("leg overwrote the discard: session no longer superseded")
	}
	if !got.Terminal() {
		t.Errorf("discarded session not terminal: phase %s", got.Phase)
	}

	existence, err := runner.Exists(ctx, "target-1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if existence.Exists {
		t.Errorf("discarded target still reports a session: %+v", existence)
	}

	fresh, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open after discard: %v", err)
	}
	if fresh.Session().ID == sessionID {
		t.Error("discarded session was resumed")
	}
}

func TestGeneratorFailureIsTerminal(t *testing.T) {
	dir := t.TempDir()
	store, err := sqlite.Open(filepath.Join(dir, "walkthrough.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	// No script file exists for the target, so the generator fails.
	runner := NewRunner(store, NewScriptGenerator(dir))
	ctx := context.Background()

	leg, err := runner.Open(ctx, "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sessionID := leg.Session().ID

	var events []event.Event
	if err := leg.Run(ctx, collect(&events)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events %v, want a single terminal error", kinds(events))
	}
	failure, ok := events[0].(event.Error)
	if !ok || failure.Code != string(apperrors.CodeGenerationFailed) {
		t.Fatalf("event %+v, want %s", events[0], apperrors.CodeGenerationFailed)
	}

	status, err := runner.Status(ctx, sessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Phase != session.PhaseError {
		t.Errorf("phase %s, want %s", status.Phase, session.PhaseError)
	}
}

func TestStatusUnknownSession(t *testing.T) {
	runner, _ := newTestRunner(t)
	if _, err := runner.Status(context.Background(), "missing"); apperrors.GetCode(err) != apperrors.CodeSessionNotFound {
		t.Fatalf("err = %v, want %s", err, apperrors.CodeSessionNotFound)
	}
}

func TestContentRequiresDoneSession(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	if _, err := runner.Content(ctx, "target-1"); apperrors.GetCode(err) != apperrors.CodeSessionNotDone {
		t.Fatalf("err = %v, want %s", err, apperrors.CodeSessionNotDone)
	}
}

func TestClockAndIDOptions(t *testing.T) {
	runner, _ := newTestRunner(t)
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	WithClock(func() time.Time { return fixed })(runner)
	WithIDGenerator(func() (string, error) { return "sess-fixed", nil })(runner)

	leg, err := runner.Open(context.Background(), "target-1", session.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sess := leg.Session()
	if sess.ID != "sess-fixed" {
		t.Errorf("session id %q", sess.ID)
	}
	if !sess.CreatedAt.Equal(fixed) {
		t.Errorf("created at %v, want %v", sess.CreatedAt, fixed)
	}
	var events []event.Event
	if err := leg.Run(context.Background(), collect(&events)); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
