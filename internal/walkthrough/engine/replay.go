package engine

import (
	"github.com/stepforge/walkthrough/internal/walkthrough/event"
	"github.com/stepforge/walkthrough/internal/walkthrough/session"
)

// replayEvents builds the replay-only prefix of a resumed stream: the full
// ordered history of the session as it stood at suspension. Consuming the
// prefix rehydrates a projection to the exact pre-drop state without
// re-triggering live side effects.
func replayEvents(sess session.Session) []event.Event {
	events := []event.Event{event.SessionRestored{
		SessionID:   sess.ID,
		TargetID:    sess.TargetID,
		Phase:       string(sess.Phase),
		CurrentStep: sess.CurrentStep,
	}}

	for _, sec := range sess.Sections {
		events = append(events, event.RestoredContent{
			Section:  sec.ID,
			Title:    sec.Title,
			Text:     sec.Text,
			Complete: sec.Complete,
		})
	}

	if len(sess.Steps) > 0 {
		steps := make([]event.StepRecord, 0, len(sess.Steps))
		for _, step := range sess.Steps {
			steps = append(steps, event.StepRecord{
				Number:      step.Number,
				Title:       step.Title,
				Description: step.Description,
				Completed:   step.Completed,
				Content:     step.Content,
			})
		}
		events = append(events, event.RestoredSteps{Steps: steps, CurrentStep: sess.CurrentStep})
	}

	if len(sess.Decisions) > 0 {
		records := make([]event.DecisionRecord, 0, len(sess.Decisions))
		for _, d := range sess.Decisions {
			records = append(records, decisionRecord(d))
		}
		events = append(events, event.RestoredDecisions{Decisions: records})
		// Resolved prompts replay as marked transcript entries so consumers
		// do not re-prompt them.
		for _, record := range records {
			events = append(events, event.RestoredUserResponse{DecisionRecord: record})
		}
	}

	return events
}

// promptEvent converts a pending prompt back to its live wire event.
func promptEvent(p session.Prompt) event.Event {
	switch p.Kind {
	case session.PromptKindInput:
		return event.UserInputRequired{
			PromptID:    p.ID,
			Question:    p.Question,
			Suggestions: p.Suggestions,
		}
	case session.PromptKindStepConfirmation:
		return event.StepConfirmationRequired{
			PromptID: p.ID,
			Step:     p.StepNumber,
			Options:  eventOptions(p.Options),
		}
	default:
		return event.ChoiceRequired{
			PromptID:      p.ID,
			Question:      p.Question,
			Options:       eventOptions(p.Options),
			AllowFreeText: p.AllowFreeText,
			AllowSkip:     p.AllowSkip,
		}
	}
}

func eventOptions(options []session.PromptOption) []event.Option {
	out := make([]event.Option, 0, len(options))
	for _, opt := range options {
		out = append(out, event.Option{ID: opt.ID, Label: opt.Label, Description: opt.Description})
	}
	return out
}
