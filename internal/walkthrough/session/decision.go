package session

import (
	"strings"
	"time"

	apperrors "github.com/stepforge/walkthrough/internal/errors"
)

var (
	// ErrNoPendingPrompt indicates a decision submitted with no prompt pending.
	ErrNoPendingPrompt = apperrors.New(apperrors.CodePromptNonePending, "no prompt is pending")
	// ErrPromptAlreadyResolved indicates a duplicate resolution of a prompt.
	ErrPromptAlreadyResolved = apperrors.New(apperrors.CodePromptAlreadyResolved, "prompt already resolved")
	// ErrPromptMismatch indicates a decision addressed to a different prompt
	// than the one pending.
	ErrPromptMismatch = apperrors.New(apperrors.CodePromptMismatch, "decision does not match pending prompt")
)

// ResolvePrompt applies one decision to the pending prompt. On acceptance
// the decision is appended to the decision log, the prompt is cleared, and
// the machine resumes the phase it suspended from.
//
// Violations (no pending prompt, duplicate resolution, mismatched prompt
// id, or a decision shape the prompt does not allow) are rejected with
// domain errors and leave the session unchanged.
func ResolvePrompt(s Session, decision Decision, now func() time.Time) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if s.Terminal() {
		return s, ErrSessionTerminal
	}
	if s.PendingPrompt == nil {
		if decision.PromptID != "" && decision.PromptID == s.LastResolvedPromptID {
			return s, ErrPromptAlreadyResolved
		}
		return s, ErrNoPendingPrompt
	}

	prompt := *s.PendingPrompt
	if decision.PromptID != "" && decision.PromptID != prompt.ID {
		return s, apperrors.WithMetadata(apperrors.CodePromptMismatch,
			"decision does not match pending prompt",
			map[string]string{"pending": prompt.ID, "got": decision.PromptID})
	}

	normalized, err := normalizeDecision(prompt, decision)
	if err != nil {
		return s, err
	}
	normalized.PromptID = prompt.ID
	normalized.DecidedAt = now().UTC()

	s.Decisions = append(append([]Decision(nil), s.Decisions...), normalized)
	s.PendingPrompt = nil
	s.LastResolvedPromptID = prompt.ID
	s.Phase = s.ResumePhase
	s.ResumePhase = ""
	return s, nil
}

// normalizeDecision validates the decision shape against the prompt variant.
func normalizeDecision(prompt Prompt, decision Decision) (Decision, error) {
	decision.ChoiceID = strings.TrimSpace(decision.ChoiceID)
	decision.Selected = strings.TrimSpace(decision.Selected)
	decision.UserInput = strings.TrimSpace(decision.UserInput)
	decision.UserNote = strings.TrimSpace(decision.UserNote)

	switch decision.Type {
	case ResponseSkip:
		if prompt.Kind == PromptKindChoice && !prompt.AllowSkip {
			return Decision{}, apperrors.New(apperrors.CodeDecisionSkipDisallowed, "prompt does not allow skip")
		}
		return Decision{Type: ResponseSkip, UserNote: decision.UserNote}, nil

	case ResponseChoice:
		if prompt.Kind == PromptKindInput {
			return Decision{}, apperrors.New(apperrors.CodeDecisionInvalidType, "input prompt requires a text response")
		}
		if decision.ChoiceID == "" {
			return Decision{}, apperrors.New(apperrors.CodeDecisionEmptyChoice, "choice id is required")
		}
		if len(prompt.Options) > 0 && findOption(prompt.Options, decision.ChoiceID) == nil {
			return Decision{}, apperrors.WithMetadata(apperrors.CodeDecisionEmptyChoice,
				"choice id not among prompt options",
				map[string]string{"choice_id": decision.ChoiceID})
		}
		return decision, nil

	case ResponseInput:
		if prompt.Kind == PromptKindChoice && !prompt.AllowFreeText {
			return Decision{}, apperrors.New(apperrors.CodeDecisionInvalidType, "prompt does not allow free text")
		}
		if prompt.Kind == PromptKindStepConfirmation {
			return Decision{}, apperrors.New(apperrors.CodeDecisionInvalidType, "step confirmation requires a choice")
		}
		if decision.UserInput == "" {
			return Decision{}, apperrors.New(apperrors.CodeDecisionEmptyInput, "user input is required")
		}
		return decision, nil

	default:
		return Decision{}, apperrors.WithMetadata(apperrors.CodeDecisionInvalidType,
			"unsupported response type",
			map[string]string{"response_type": string(decision.Type)})
	}
}

func findOption(options []PromptOption, id string) *PromptOption {
	for i := range options {
		if options[i].ID == id {
			return &options[i]
		}
	}
	return nil
}
