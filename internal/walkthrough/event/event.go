// Package event defines the typed events exchanged on a walkthrough
// generation stream.
//
// Events form a closed set: every kind on the wire maps to exactly one Go
// type carrying a marker method. The codec, the session fold, and the
// orchestrator dispatch all switch exhaustively over this set, so adding a
// kind is a compile-time-checked change across all three.
package event

// Kind discriminates walkthrough stream events on the wire.
type Kind string

const (
	// KindContext carries the target's structural position and links.
	KindContext Kind = "context"
	// KindSectionStart opens a named prose section.
	KindSectionStart Kind = "section_start"
	// KindChunk appends streamed text to the open section or step.
	KindChunk Kind = "chunk"
	// KindSectionComplete closes a named prose section.
	KindSectionComplete Kind = "section_complete"
	// KindChoiceRequired requests an enumerated decision.
	KindChoiceRequired Kind = "choice_required"
	// KindUserInputRequired requests a free-text decision.
	KindUserInputRequired Kind = "user_input_required"
	// KindStepStart begins a numbered step.
	KindStepStart Kind = "step_start"
	// KindStepComplete ends a numbered step.
	KindStepComplete Kind = "step_complete"
	// KindStepConfirmationRequired gates progression to the next step.
	KindStepConfirmationRequired Kind = "step_confirmation_required"
	// KindProgressSaved acknowledges a durable checkpoint.
	KindProgressSaved Kind = "progress_saved"
	// KindRedirectToChat signals the engine defers to open-ended dialogue.
	KindRedirectToChat Kind = "redirect_to_chat"
	// KindDone signals generation finished.
	KindDone Kind = "done"
	// KindError signals an unrecoverable generation failure.
	KindError Kind = "error"
	// KindUserResponse echoes a just-applied decision for the transcript.
	KindUserResponse Kind = "user_response"

	// Replay-only kinds, emitted exclusively at the start of a resumed stream.

	// KindSessionRestored announces a resumed session.
	KindSessionRestored Kind = "session_restored"
	// KindRestoredContent replays a previously generated section.
	KindRestoredContent Kind = "restored_content"
	// KindRestoredSteps replays the step list.
	KindRestoredSteps Kind = "restored_steps"
	// KindRestoredDecisions replays the decision log.
	KindRestoredDecisions Kind = "restored_decisions"
	// KindRestoredUserResponse replays a resolved prompt's transcript entry.
	KindRestoredUserResponse Kind = "restored_user_response"
)

// IsValid reports whether the kind is part of the closed event set.
func (k Kind) IsValid() bool {
	switch k {
	case KindContext,
		KindSectionStart,
		KindChunk,
		KindSectionComplete,
		KindChoiceRequired,
		KindUserInputRequired,
		KindStepStart,
		KindStepComplete,
		KindStepConfirmationRequired,
		KindProgressSaved,
		KindRedirectToChat,
		KindDone,
		KindError,
		KindUserResponse,
		KindSessionRestored,
		KindRestoredContent,
		KindRestoredSteps,
		KindRestoredDecisions,
		KindRestoredUserResponse:
		return true
	default:
		return false
	}
}

// Replay reports whether the kind is replay-only. Replay events rehydrate a
// consumer projection and are never folded into session state.
func (k Kind) Replay() bool {
	switch k {
	case KindSessionRestored,
		KindRestoredContent,
		KindRestoredSteps,
		KindRestoredDecisions,
		KindRestoredUserResponse:
		return true
	default:
		return false
	}
}

// Event is the closed union of walkthrough stream events.
type Event interface {
	Kind() Kind
}
