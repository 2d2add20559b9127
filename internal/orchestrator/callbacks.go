package orchestrator

import (
	"fmt"

	"github.com/stepforge/walkthrough/internal/walkthrough/event"
)

// Callbacks receives decoded stream events. Every field is optional; a kind
// with no specific callback falls through to OnEvent, and to a no-op when
// that is nil too. A callback returning an error aborts the stream.
type Callbacks struct {
	OnContext                  func(event.Context) error
	OnSectionStart             func(event.SectionStart) error
	OnChunk                    func(event.Chunk) error
	OnSectionComplete          func(event.SectionComplete) error
	OnChoiceRequired           func(event.ChoiceRequired) error
	OnUserInputRequired        func(event.UserInputRequired) error
	OnStepStart                func(event.StepStart) error
	OnStepComplete             func(event.StepComplete) error
	OnStepConfirmationRequired func(event.StepConfirmationRequired) error
	OnProgressSaved            func(event.ProgressSaved) error
	OnRedirectToChat           func(event.RedirectToChat) error
	OnDone                     func(event.Done) error
	OnError                    func(event.Error) error
	OnUserResponse             func(event.UserResponse) error
	OnSessionRestored          func(event.SessionRestored) error
	OnRestoredContent          func(event.RestoredContent) error
	OnRestoredSteps            func(event.RestoredSteps) error
	OnRestoredDecisions        func(event.RestoredDecisions) error
	OnRestoredUserResponse     func(event.RestoredUserResponse) error

	// OnEvent is the fallback for kinds without a specific callback.
	OnEvent func(event.Event) error
}

// dispatch routes one event to its callback. The switch is exhaustive over
// the closed event set.
func (c Callbacks) dispatch(evt event.Event) error {
	switch e := evt.(type) {
	case event.Context:
		if c.OnContext != nil {
			return c.OnContext(e)
		}
	case event.SectionStart:
		if c.OnSectionStart != nil {
			return c.OnSectionStart(e)
		}
	case event.Chunk:
		if c.OnChunk != nil {
			return c.OnChunk(e)
		}
	case event.SectionComplete:
		if c.OnSectionComplete != nil {
			return c.OnSectionComplete(e)
		}
	case event.ChoiceRequired:
		if c.OnChoiceRequired != nil {
			return c.OnChoiceRequired(e)
		}
	case event.UserInputRequired:
		if c.OnUserInputRequired != nil {
			return c.OnUserInputRequired(e)
		}
	case event.StepStart:
		if c.OnStepStart != nil {
			return c.OnStepStart(e)
		}
	case event.StepComplete:
		if c.OnStepComplete != nil {
			return c.OnStepComplete(e)
		}
	case event.StepConfirmationRequired:
		if c.OnStepConfirmationRequired != nil {
			return c.OnStepConfirmationRequired(e)
		}
	case event.ProgressSaved:
		if c.OnProgressSaved != nil {
			return c.OnProgressSaved(e)
		}
	case event.RedirectToChat:
		if c.OnRedirectToChat != nil {
			return c.OnRedirectToChat(e)
		}
	case event.Done:
		if c.OnDone != nil {
			return c.OnDone(e)
		}
	case event.Error:
		if c.OnError != nil {
			return c.OnError(e)
		}
	case event.UserResponse:
		if c.OnUserResponse != nil {
			return c.OnUserResponse(e)
		}
	case event.SessionRestored:
		if c.OnSessionRestored != nil {
			return c.OnSessionRestored(e)
		}
	case event.RestoredContent:
		if c.OnRestoredContent != nil {
			return c.OnRestoredContent(e)
		}
	case event.RestoredSteps:
		if c.OnRestoredSteps != nil {
			return c.OnRestoredSteps(e)
		}
	case event.RestoredDecisions:
		if c.OnRestoredDecisions != nil {
			return c.OnRestoredDecisions(e)
		}
	case event.RestoredUserResponse:
		if c.OnRestoredUserResponse != nil {
			return c.OnRestoredUserResponse(e)
		}
	default:
		return fmt.Errorf("unhandled event kind %s", evt.Kind())
	}

	if c.OnEvent != nil {
		return c.OnEvent(evt)
	}
	return nil
}
