package session

import (
	"fmt"

	apperrors "github.com/stepforge/walkthrough/internal/errors"
	"github.com/stepforge/walkthrough/internal/walkthrough/event"
)

// VerificationSectionID is the section identifier that moves the machine
// into the verification phase.
const VerificationSectionID = "verification"

var (
	// ErrSessionTerminal indicates a fold or resolution on a terminal session.
	ErrSessionTerminal = apperrors.New(apperrors.CodeSessionTerminal, "session is terminal")
	// ErrPromptAlreadyPending indicates a second prompt before the first resolved.
	ErrPromptAlreadyPending = apperrors.New(apperrors.CodePromptAlreadyPending, "a prompt is already pending")
	// ErrInvalidPhase indicates an event that is not legal in the current phase.
	ErrInvalidPhase = apperrors.New(apperrors.CodeSessionInvalidPhase, "event not allowed in current phase")
	// ErrStepRegression indicates a step event that violates sequential numbering.
	ErrStepRegression = apperrors.New(apperrors.CodeSessionStepRegression, "step numbering must be sequential")
)

// Fold applies one live event to session state and returns the new state.
//
// The fold is intentionally declarative: every transition the machine makes
// is represented as an event, so live generation, persistence, and tests all
// observe identical behavior. Replay-only events are never folded; they
// rehydrate consumer projections exclusively.
func Fold(s Session, evt event.Event) (Session, error) {
	if evt == nil {
		return s, fmt.Errorf("event is required")
	}
	if evt.Kind().Replay() {
		return s, fmt.Errorf("replay-only event %s cannot be folded", evt.Kind())
	}
	if s.Terminal() {
		return s, ErrSessionTerminal
	}
	if s.Phase.Suspended() && !allowedWhileSuspended(evt.Kind()) {
		return s, apperrors.WithMetadata(apperrors.CodeSessionInvalidPhase,
			"generation event while a prompt is pending",
			map[string]string{"kind": string(evt.Kind()), "phase": string(s.Phase)})
	}

	// Copy the mutable collections so the input state stays untouched when
	// an element is edited in place below.
	s.Sections = append([]Section(nil), s.Sections...)
	s.Steps = append([]Step(nil), s.Steps...)

	switch e := evt.(type) {
	case event.Context:
		s.Context = Context{
			Position:   e.Position,
			Upstream:   e.Upstream,
			Downstream: e.Downstream,
		}
		if s.Phase == PhaseIdle {
			s.Phase = PhaseContext
		}

	case event.SectionStart:
		if e.Section == "" {
			return s, fmt.Errorf("section id is required")
		}
		if sec := s.findSection(e.Section); sec != nil {
			if sec.Complete {
				return s, fmt.Errorf("section %q already complete", e.Section)
			}
			// Regenerating a section interrupted mid-stream starts it fresh.
			*sec = Section{ID: e.Section, Title: e.Title}
			break
		}
		s.Sections = append(s.Sections, Section{ID: e.Section, Title: e.Title})
		switch {
		case e.Section == VerificationSectionID:
			s.Phase = PhaseVerification
		case s.Phase == PhaseIdle || s.Phase == PhaseContext:
			s.Phase = PhaseOverview
		}

	case event.Chunk:
		if e.Step > 0 {
			step := s.findStep(e.Step)
			if step == nil {
				return s, fmt.Errorf("chunk for unknown step %d", e.Step)
			}
			step.Content += e.Text
			break
		}
		sec := s.openSection(e.Section)
		if sec == nil {
			return s, fmt.Errorf("chunk with no open section")
		}
		sec.Text += e.Text

	case event.SectionComplete:
		sec := s.findSection(e.Section)
		if sec == nil {
			return s, fmt.Errorf("complete for unknown section %q", e.Section)
		}
		sec.Complete = true

	case event.ChoiceRequired:
		return s.suspend(Prompt{
			ID:            e.PromptID,
			Kind:          PromptKindChoice,
			Question:      e.Question,
			Options:       promptOptions(e.Options),
			AllowFreeText: e.AllowFreeText,
			AllowSkip:     e.AllowSkip,
		}, PhaseAwaitingChoice)

	case event.UserInputRequired:
		return s.suspend(Prompt{
			ID:          e.PromptID,
			Kind:        PromptKindInput,
			Question:    e.Question,
			Suggestions: e.Suggestions,
		}, PhaseAwaitingInput)

	case event.StepConfirmationRequired:
		return s.suspend(Prompt{
			ID:         e.PromptID,
			Kind:       PromptKindStepConfirmation,
			Options:    promptOptions(e.Options),
			StepNumber: e.Step,
		}, PhaseAwaitingChoice)

	case event.StepStart:
		if e.Number == len(s.Steps) && len(s.Steps) > 0 && !s.Steps[e.Number-1].Completed {
			// Regenerating the step that was interrupted mid-stream.
			s.Steps[e.Number-1] = Step{
				Number:      e.Number,
				Title:       e.Title,
				Description: e.Description,
			}
			s.CurrentStep = e.Number
			s.Phase = PhaseStepLoop
			break
		}
		if e.Number != len(s.Steps)+1 {
			return s, apperrors.WithMetadata(apperrors.CodeSessionStepRegression,
				"step start out of sequence",
				map[string]string{"got": fmt.Sprint(e.Number), "want": fmt.Sprint(len(s.Steps) + 1)})
		}
		s.Steps = append(s.Steps, Step{
			Number:      e.Number,
			Title:       e.Title,
			Description: e.Description,
		})
		s.CurrentStep = e.Number
		s.Phase = PhaseStepLoop

	case event.StepComplete:
		step := s.findStep(e.Number)
		if step == nil {
			return s, fmt.Errorf("complete for unknown step %d", e.Number)
		}
		// Completion is monotonic: there is no event that reverts it.
		step.Completed = true

	case event.ProgressSaved:
		// Acknowledgement only.

	case event.UserResponse:
		// Transcript echo; the decision itself is applied by ResolvePrompt.

	case event.RedirectToChat:
		s.Phase = PhaseDone
		s.Redirected = true
		s.PendingPrompt = nil
		s.ResumePhase = ""

	case event.Done:
		s.Phase = PhaseDone
		s.HandsOnID = e.HandsOnID

	case event.Error:
		s.Phase = PhaseError
		s.ErrorCode = e.Code
		s.ErrorMessage = e.Message
		s.PendingPrompt = nil
		s.ResumePhase = ""

	default:
		return s, fmt.Errorf("unhandled event kind %s", evt.Kind())
	}

	return s, nil
}

// suspend records the pending prompt and enters the suspension phase,
// remembering the phase to return to on resolution.
func (s Session) suspend(prompt Prompt, suspended Phase) (Session, error) {
	if s.PendingPrompt != nil {
		return s, ErrPromptAlreadyPending
	}
	if prompt.ID == "" {
		return s, fmt.Errorf("prompt id is required")
	}
	p := prompt
	s.PendingPrompt = &p
	s.ResumePhase = s.Phase
	s.Phase = suspended
	return s, nil
}

func allowedWhileSuspended(kind event.Kind) bool {
	switch kind {
	case event.KindUserResponse, event.KindProgressSaved, event.KindError, event.KindRedirectToChat:
		return true
	default:
		return false
	}
}

func (s *Session) findSection(id string) *Section {
	for i := range s.Sections {
		if s.Sections[i].ID == id {
			return &s.Sections[i]
		}
	}
	return nil
}

// openSection returns the section a chunk should append to: the named
// section when given, otherwise the most recent incomplete one.
func (s *Session) openSection(id string) *Section {
	if id != "" {
		sec := s.findSection(id)
		if sec == nil || sec.Complete {
			return nil
		}
		return sec
	}
	for i := len(s.Sections) - 1; i >= 0; i-- {
		if !s.Sections[i].Complete {
			return &s.Sections[i]
		}
	}
	return nil
}

func (s *Session) findStep(number int) *Step {
	for i := range s.Steps {
		if s.Steps[i].Number == number {
			return &s.Steps[i]
		}
	}
	return nil
}

func promptOptions(options []event.Option) []PromptOption {
	out := make([]PromptOption, 0, len(options))
	for _, opt := range options {
		out = append(out, PromptOption{ID: opt.ID, Label: opt.Label, Description: opt.Description})
	}
	return out
}
