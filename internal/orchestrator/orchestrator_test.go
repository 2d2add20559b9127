package orchestrator

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stepforge/walkthrough/internal/api/httpapi"
	apperrors "github.com/stepforge/walkthrough/internal/errors"
	"github.com/stepforge/walkthrough/internal/storage/sqlite"
	"github.com/stepforge/walkthrough/internal/walkthrough/engine"
	"github.com/stepforge/walkthrough/internal/walkthrough/event"
	"github.com/stepforge/walkthrough/internal/walkthrough/session"
)

const testScript = `title: Middleware walkthrough
hands_on_id: ho-1
context:
  position: "auth > middleware"
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
      allow_skip: true
  - section:
      id: verification
      title: Verify
      chunks: ["Check the output."]
`

func newTestClient(t *testing.T) *Client {
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

	runner := engine.NewRunner(store, engine.NewScriptGenerator(dir))
	server := httptest.NewServer(httpapi.NewService(runner, nil).Handler())
	t.Cleanup(server.Close)

	return NewClient(server.URL, server.Client())
}

// projectInto returns callbacks that feed every event into the projection.
func projectInto(p *Projection) Callbacks {
	return Callbacks{OnEvent: p.Apply}
}

func TestOpenSessionBuildsProjection(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	var p Projection
	summary, err := client.OpenSession(ctx, "target-1", session.Config{}, projectInto(&p))
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if summary.SessionID == "" {
		t.Fatal("summary carries no session id")
	}
	if summary.LastKind != event.KindChoiceRequired {
		t.Errorf("last kind %s, want %s", summary.LastKind, event.KindChoiceRequired)
	}
	if summary.UnknownDropped != 0 || summary.MalformedDropped != 0 {
		t.Errorf("drops %d/%d", summary.UnknownDropped, summary.MalformedDropped)
	}

	if !p.Suspended() {
		t.Fatal("projection not suspended on the prompt")
	}
	if len(p.Sections) != 1 || !p.Sections[0].Complete || p.Sections[0].Text != "Part one. Part two." {
		t.Errorf("projected sections %+v", p.Sections)
	}
	if p.Context.Position != "auth > middleware" {
		t.Errorf("projected context %+v", p.Context)
	}
}

func TestDecisionDrivesProjectionToDone(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	var p Projection
	summary, err := client.OpenSession(ctx, "target-1", session.Config{}, projectInto(&p))
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	_, err = client.SubmitDecision(ctx, summary.SessionID, DecisionRequest{
		PromptID:     "framework",
		ResponseType: "choice",
		ChoiceID:     "a",
	}, projectInto(&p))
	if err != nil {
		t.Fatalf("SubmitDecision: %v", err)
	}

	if !p.Terminal() || p.Suspended() {
		t.Fatalf("projection %+v, want terminal without pending prompt", p)
	}
	if p.HandsOnID != "ho-1" {
		t.Errorf("hands-on id %q", p.HandsOnID)
	}
	if len(p.Decisions) != 1 || p.Decisions[0].ChoiceID != "a" {
		t.Errorf("projected decisions %+v", p.Decisions)
	}

	content, err := client.FetchContent(ctx, "target-1")
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if !strings.Contains(content.Content, "Check the output.") {
		t.Errorf("content %q", content.Content)
	}
}

func TestResumeRebuildsProjectionFromReplay(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	var first Projection
	summary, err := client.OpenSession(ctx, "target-1", session.Config{}, projectInto(&first))
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	// A second open resumes; a fresh projection rebuilt purely from the
	// replay prefix must match what the live stream produced.
	var rebuilt Projection
	resumed, err := client.OpenSession(ctx, "target-1", session.Config{}, projectInto(&rebuilt))
	if err != nil {
		t.Fatalf("resume OpenSession: %v", err)
	}
	if resumed.SessionID != summary.SessionID {
		t.Fatalf("resume session %q, want %q", resumed.SessionID, summary.SessionID)
	}

	if rebuilt.SessionID != summary.SessionID {
		t.Errorf("rebuilt session id %q", rebuilt.SessionID)
	}
	if len(rebuilt.Sections) != len(first.Sections) {
		t.Fatalf("rebuilt %d sections, want %d", len(rebuilt.Sections), len(first.Sections))
	}
	for i := range first.Sections {
		if rebuilt.Sections[i] != first.Sections[i] {
			t.Errorf("section %d: rebuilt %+v, live %+v", i, rebuilt.Sections[i], first.Sections[i])
		}
	}
	if !rebuilt.Suspended() {
		t.Error("rebuilt projection lost the pending prompt")
	}
}

func TestSubmitDecisionInFlightGuard(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	var p Projection
	summary, err := client.OpenSession(ctx, "target-1", session.Config{}, projectInto(&p))
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	// Hold the in-flight slot as a streaming submission would.
	if err := client.acquire(summary.SessionID); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, err = client.SubmitDecision(ctx, summary.SessionID, DecisionRequest{
		PromptID:     "framework",
		ResponseType: "skip",
	}, Callbacks{})
	if apperrors.GetCode(err) != apperrors.CodeSubmissionInFlight {
		t.Fatalf("err = %v, want %s", err, apperrors.CodeSubmissionInFlight)
	}
	client.release(summary.SessionID)

	// Released, the submission goes through.
	if _, err := client.SubmitDecision(ctx, summary.SessionID, DecisionRequest{
		PromptID:     "framework",
		ResponseType: "skip",
	}, Callbacks{}); err != nil {
		t.Fatalf("SubmitDecision after release: %v", err)
	}
}

func TestServerErrorsMapToCodes(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	var p Projection
	summary, err := client.OpenSession(ctx, "target-1", session.Config{}, projectInto(&p))
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	_, err = client.SubmitDecision(ctx, summary.SessionID, DecisionRequest{
		PromptID:     "other",
		ResponseType: "choice",
		ChoiceID:     "a",
	}, Callbacks{})
	if apperrors.GetCode(err) != apperrors.CodePromptMismatch {
		t.Errorf("mismatch err = %v, want %s", err, apperrors.CodePromptMismatch)
	}

	if _, err := client.Status(ctx, "missing"); apperrors.GetCode(err) != apperrors.CodeSessionNotFound {
		t.Errorf("status err = %v, want %s", err, apperrors.CodeSessionNotFound)
	}

	if _, err := client.FetchContent(ctx, "target-1"); apperrors.GetCode(err) != apperrors.CodeSessionNotDone {
		t.Errorf("content err = %v, want %s", err, apperrors.CodeSessionNotDone)
	}
}

func TestStatusExistsAndDiscard(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	existence, err := client.SessionExists(ctx, "target-1")
	if err != nil {
		t.Fatalf("SessionExists: %v", err)
	}
	if existence.Exists {
		t.Fatalf("existence %+v before open", existence)
	}

	var p Projection
	summary, err := client.OpenSession(ctx, "target-1", session.Config{}, projectInto(&p))
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	status, err := client.Status(ctx, summary.SessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.PendingPrompt {
		t.Errorf("status %+v", status)
	}

	existence, err = client.SessionExists(ctx, "target-1")
	if err != nil {
		t.Fatalf("SessionExists: %v", err)
	}
	if !existence.Exists || !existence.CanResume {
		t.Errorf("existence %+v", existence)
	}

	if err := client.DiscardSession(ctx, summary.SessionID); err != nil {
		t.Fatalf("DiscardSession: %v", err)
	}
	existence, err = client.SessionExists(ctx, "target-1")
	if err != nil {
		t.Fatalf("SessionExists after discard: %v", err)
	}
	if existence.Exists {
		t.Errorf("existence %+v after discard", existence)
	}
}

func TestProjectionReplayGuards(t *testing.T) {
	t.Run("duplicate restoration", func(t *testing.T) {
		var p Projection
		if err := p.Apply(event.SessionRestored{SessionID: "s-1"}); err != nil {
			t.Fatalf("first restoration: %v", err)
		}
		err := p.Apply(event.SessionRestored{SessionID: "s-1"})
		if apperrors.GetCode(err) != apperrors.CodeReplayDuplicate {
			t.Errorf("err = %v, want %s", err, apperrors.CodeReplayDuplicate)
		}
	})

	t.Run("replay after live", func(t *testing.T) {
		var p Projection
		if err := p.Apply(event.SessionRestored{SessionID: "s-1"}); err != nil {
			t.Fatalf("restoration: %v", err)
		}
		if err := p.Apply(event.SectionStart{Section: "overview"}); err != nil {
			t.Fatalf("live event: %v", err)
		}
		err := p.Apply(event.RestoredContent{Section: "overview"})
		if apperrors.GetCode(err) != apperrors.CodeReplayOutOfOrder {
			t.Errorf("err = %v, want %s", err, apperrors.CodeReplayOutOfOrder)
		}
	})

	t.Run("replay before restoration", func(t *testing.T) {
		var p Projection
		err := p.Apply(event.RestoredContent{Section: "overview"})
		if apperrors.GetCode(err) != apperrors.CodeReplayOutOfOrder {
			t.Errorf("err = %v, want %s", err, apperrors.CodeReplayOutOfOrder)
		}
	})
}

func TestProjectionLiveFold(t *testing.T) {
	var p Projection
	events := []event.Event{
		event.Context{TargetID: "target-1", Position: "auth > middleware"},
		event.SectionStart{Section: "overview", Title: "Overview"},
		event.Chunk{Section: "overview", Text: "Part one. "},
		event.Chunk{Section: "overview", Text: "Part two."},
		event.SectionComplete{Section: "overview"},
		event.StepStart{Number: 1, Title: "First"},
		event.Chunk{Step: 1, Text: "Run it."},
		event.StepComplete{Number: 1},
		event.ChoiceRequired{PromptID: "p1", Options: []event.Option{{ID: "a", Label: "A"}}},
	}
	for _, evt := range events {
		if err := p.Apply(evt); err != nil {
			t.Fatalf("Apply(%s): %v", evt.Kind(), err)
		}
	}

	if p.Sections[0].Text != "Part one. Part two." || !p.Sections[0].Complete {
		t.Errorf("section %+v", p.Sections[0])
	}
	if p.Steps[0].Content != "Run it." || !p.Steps[0].Completed {
		t.Errorf("step %+v", p.Steps[0])
	}
	if !p.Suspended() || p.Terminal() {
		t.Errorf("projection state suspended=%v terminal=%v", p.Suspended(), p.Terminal())
	}

	// The response echo clears the prompt.
	if err := p.Apply(event.UserResponse{DecisionRecord: event.DecisionRecord{PromptID: "p1", ResponseType: "choice", ChoiceID: "a"}}); err != nil {
		t.Fatalf("Apply(user_response): %v", err)
	}
	if p.Suspended() {
		t.Error("prompt still pending after the response echo")
	}
	if len(p.Decisions) != 1 {
		t.Errorf("decisions %+v", p.Decisions)
	}
}
