package orchestrator

import (
	"fmt"

	apperrors "github.com/stepforge/walkthrough/internal/errors"
	"github.com/stepforge/walkthrough/internal/walkthrough/event"
)

// SectionView is the consumer-side accumulation of one section.
type SectionView struct {
	ID       string
	Title    string
	Text     string
	Complete bool
}

// StepView is the consumer-side accumulation of one step.
type StepView struct {
	Number      int
	Title       string
	Description string
	Completed   bool
	Content     string
}

// Projection rebuilds consumer-visible session state from a stream.
//
// Replay-only events are accepted solely as an uninterrupted prefix that
// begins with session_restored; a duplicate restoration or a replay event
// after live generation started is a protocol violation and is rejected so
// the consumer does not render corrupted state.
type Projection struct {
	SessionID   string
	TargetID    string
	Phase       string
	CurrentStep int

	Context   event.Context
	Sections  []SectionView
	Steps     []StepView
	Decisions []event.DecisionRecord

	// PendingPrompt holds the most recent unresolved prompt event, nil once
	// a response echo arrives or generation continues.
	PendingPrompt event.Event

	Redirected bool
	HandsOnID  string
	Failure    *event.Error

	restored bool
	live     bool
}

// Terminal reports whether the projection saw a terminal event.
func (p *Projection) Terminal() bool {
	return p.Failure != nil || p.Redirected || p.Phase == "done"
}

// Suspended reports whether the stream ended on an unresolved prompt.
func (p *Projection) Suspended() bool {
	return p.PendingPrompt != nil
}

// Apply folds one stream event into the projection.
func (p *Projection) Apply(evt event.Event) error {
	if evt == nil {
		return fmt.Errorf("event is required")
	}
	if evt.Kind().Replay() {
		return p.applyReplay(evt)
	}
	p.live = true

	switch e := evt.(type) {
	case event.Context:
		p.Context = e
		p.TargetID = e.TargetID

	case event.SectionStart:
		if sec := p.findSection(e.Section); sec != nil {
			*sec = SectionView{ID: e.Section, Title: e.Title}
			break
		}
		p.Sections = append(p.Sections, SectionView{ID: e.Section, Title: e.Title})

	case event.Chunk:
		if e.Step > 0 {
			if step := p.findStep(e.Step); step != nil {
				step.Content += e.Text
			}
			break
		}
		if sec := p.openSection(e.Section); sec != nil {
			sec.Text += e.Text
		}

	case event.SectionComplete:
		if sec := p.findSection(e.Section); sec != nil {
			sec.Complete = true
		}

	case event.ChoiceRequired, event.UserInputRequired, event.StepConfirmationRequired:
		p.PendingPrompt = evt

	case event.StepStart:
		if step := p.findStep(e.Number); step != nil {
			*step = StepView{Number: e.Number, Title: e.Title, Description: e.Description}
		} else {
			p.Steps = append(p.Steps, StepView{Number: e.Number, Title: e.Title, Description: e.Description})
		}
		p.CurrentStep = e.Number

	case event.StepComplete:
		if step := p.findStep(e.Number); step != nil {
			step.Completed = true
		}

	case event.ProgressSaved:
		// Checkpoint acknowledgement; nothing to fold.

	case event.UserResponse:
		p.Decisions = append(p.Decisions, e.DecisionRecord)
		p.PendingPrompt = nil

	case event.RedirectToChat:
		p.Redirected = true
		p.Phase = "done"
		p.PendingPrompt = nil

	case event.Done:
		p.Phase = "done"
		p.HandsOnID = e.HandsOnID
		if e.SessionID != "" {
			p.SessionID = e.SessionID
		}
		p.PendingPrompt = nil

	case event.Error:
		failure := e
		p.Failure = &failure
		p.Phase = "error"
		p.PendingPrompt = nil
	}

	return nil
}

func (p *Projection) applyReplay(evt event.Event) error {
	if p.live {
		return apperrors.WithMetadata(apperrors.CodeReplayOutOfOrder,
			"replay event after live generation started",
			map[string]string{"kind": string(evt.Kind())})
	}

	switch e := evt.(type) {
	case event.SessionRestored:
		if p.restored {
			return apperrors.New(apperrors.CodeReplayDuplicate, "session already restored on this stream")
		}
		p.restored = true
		p.SessionID = e.SessionID
		p.TargetID = e.TargetID
		p.Phase = e.Phase
		p.CurrentStep = e.CurrentStep
		return nil
	}

	if !p.restored {
		return apperrors.WithMetadata(apperrors.CodeReplayOutOfOrder,
			"replay event before session_restored",
			map[string]string{"kind": string(evt.Kind())})
	}

	switch e := evt.(type) {
	case event.RestoredContent:
		p.Sections = append(p.Sections, SectionView{
			ID:       e.Section,
			Title:    e.Title,
			Text:     e.Text,
			Complete: e.Complete,
		})

	case event.RestoredSteps:
		p.Steps = p.Steps[:0]
		for _, step := range e.Steps {
			p.Steps = append(p.Steps, StepView{
				Number:      step.Number,
				Title:       step.Title,
				Description: step.Description,
				Completed:   step.Completed,
				Content:     step.Content,
			})
		}
		p.CurrentStep = e.CurrentStep

	case event.RestoredDecisions:
		p.Decisions = append([]event.DecisionRecord(nil), e.Decisions...)

	case event.RestoredUserResponse:
		// Transcript marker for an already-resolved prompt; the decision
		// itself arrived in restored_decisions.
	}

	return nil
}

func (p *Projection) findSection(id string) *SectionView {
	for i := range p.Sections {
		if p.Sections[i].ID == id {
			return &p.Sections[i]
		}
	}
	return nil
}

func (p *Projection) openSection(id string) *SectionView {
	if id != "" {
		sec := p.findSection(id)
		if sec == nil || sec.Complete {
			return nil
		}
		return sec
	}
	for i := len(p.Sections) - 1; i >= 0; i-- {
		if !p.Sections[i].Complete {
			return &p.Sections[i]
		}
	}
	return nil
}

func (p *Projection) findStep(number int) *StepView {
	for i := range p.Steps {
		if p.Steps[i].Number == number {
			return &p.Steps[i]
		}
	}
	return nil
}
