// Package session defines the walkthrough session entity and its state
// machine.
//
// A Session is one end-to-end attempt to generate an implementation
// walkthrough for a target work-item. The state machine advances by folding
// typed stream events into the session; decisions resolve pending prompts
// and return the machine to the phase it suspended from.
package session

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/stepforge/walkthrough/internal/errors"
	"github.com/stepforge/walkthrough/internal/id"
)

// Phase describes the generation state of a session.
type Phase string

const (
	// PhaseIdle is the initial phase before any event arrived.
	PhaseIdle Phase = "idle"
	// PhaseContext is entered when target context has been emitted.
	PhaseContext Phase = "context"
	// PhaseOverview is entered while overview prose streams.
	PhaseOverview Phase = "overview"
	// PhaseStepLoop is entered while numbered steps stream.
	PhaseStepLoop Phase = "step_loop"
	// PhaseVerification is entered while the verification section streams.
	PhaseVerification Phase = "verification"
	// PhaseAwaitingChoice suspends generation on an enumerated prompt.
	PhaseAwaitingChoice Phase = "awaiting_choice"
	// PhaseAwaitingInput suspends generation on a free-text prompt.
	PhaseAwaitingInput Phase = "awaiting_input"
	// PhaseDone is the successful terminal phase.
	PhaseDone Phase = "done"
	// PhaseError is the failed terminal phase.
	PhaseError Phase = "error"
)

// Terminal reports whether the phase permits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseError
}

// Suspended reports whether the phase is waiting on a decision.
func (p Phase) Suspended() bool {
	return p == PhaseAwaitingChoice || p == PhaseAwaitingInput
}

// PromptKind identifies the variant of a pending prompt.
type PromptKind string

const (
	// PromptKindChoice is an enumerated, mutually exclusive option set.
	PromptKindChoice PromptKind = "choice"
	// PromptKindInput is a free-text request with optional suggestions.
	PromptKindInput PromptKind = "input"
	// PromptKindStepConfirmation gates progression to the next step.
	PromptKindStepConfirmation PromptKind = "step_confirmation"
)

// PromptOption is one selectable entry of a choice prompt.
type PromptOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Prompt is a pending request for external input. At most one prompt is
// pending per session.
type Prompt struct {
	ID            string         `json:"id"`
	Kind          PromptKind     `json:"kind"`
	Question      string         `json:"question,omitempty"`
	Options       []PromptOption `json:"options,omitempty"`
	Suggestions   []string       `json:"suggestions,omitempty"`
	AllowFreeText bool           `json:"allow_free_text,omitempty"`
	AllowSkip     bool           `json:"allow_skip,omitempty"`
	StepNumber    int            `json:"step_number,omitempty"`
}

// ResponseType identifies how a prompt was resolved.
type ResponseType string

const (
	// ResponseChoice selects an enumerated option.
	ResponseChoice ResponseType = "choice"
	// ResponseInput supplies free text.
	ResponseInput ResponseType = "input"
	// ResponseSkip declines the prompt.
	ResponseSkip ResponseType = "skip"
)

// Decision records the resolution of a prompt. Decisions are append-only
// and are never mutated or removed.
type Decision struct {
	PromptID  string       `json:"prompt_id"`
	Type      ResponseType `json:"response_type"`
	ChoiceID  string       `json:"choice_id,omitempty"`
	Selected  string       `json:"selected,omitempty"`
	UserInput string       `json:"user_input,omitempty"`
	UserNote  string       `json:"user_note,omitempty"`
	DecidedAt time.Time    `json:"decided_at"`
}

// Section accumulates streamed prose for one named section.
type Section struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
	Complete bool   `json:"complete"`
}

// Step is an ordered, numbered sub-unit of a multi-step generation. Steps
// are numbered sequentially from 1 and completion is monotonic.
type Step struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
	Content     string `json:"content,omitempty"`
}

// Context captures the target's structural position and links.
type Context struct {
	Position   string   `json:"position,omitempty"`
	Upstream   []string `json:"upstream,omitempty"`
	Downstream []string `json:"downstream,omitempty"`
}

// Config carries consumer-supplied generation options, opaque to the state
// machine and handed through to the generator.
type Config struct {
	Audience string `json:"audience,omitempty"`
	Language string `json:"language,omitempty"`
	Depth    string `json:"depth,omitempty"`
}

// Session is the server-held state for one walkthrough generation attempt.
type Session struct {
	ID       string `json:"id"`
	TargetID string `json:"target_id"`
	Config   Config `json:"config"`

	Phase Phase `json:"phase"`
	// ResumePhase is the phase a suspended session returns to on resolution.
	ResumePhase Phase `json:"resume_phase,omitempty"`

	Context       Context    `json:"context"`
	Sections      []Section  `json:"sections,omitempty"`
	Steps         []Step     `json:"steps,omitempty"`
	CurrentStep   int        `json:"current_step,omitempty"`
	Decisions     []Decision `json:"decisions,omitempty"`
	PendingPrompt *Prompt    `json:"pending_prompt,omitempty"`
	// LastResolvedPromptID distinguishes a duplicate resolution from a
	// submission with no prompt pending.
	LastResolvedPromptID string `json:"last_resolved_prompt_id,omitempty"`

	// EngineCursor is an opaque progress marker owned by the generator.
	EngineCursor int `json:"engine_cursor,omitempty"`

	Redirected   bool   `json:"redirected,omitempty"`
	HandsOnID    string `json:"hands_on_id,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Superseded   bool   `json:"superseded,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrEmptyTargetID indicates a missing target ID.
	ErrEmptyTargetID = apperrors.New(apperrors.CodeSessionEmptyTargetID, "target id is required")
)

// CreateInput describes the metadata needed to create a session.
type CreateInput struct {
	TargetID string
	Config   Config
}

// Create creates a new idle session with a generated ID and timestamps.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	targetID := strings.TrimSpace(input.TargetID)
	if targetID == "" {
		return Session{}, ErrEmptyTargetID
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	createdAt := now().UTC()
	return Session{
		ID:        sessionID,
		TargetID:  targetID,
		Config:    input.Config,
		Phase:     PhaseIdle,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// Terminal reports whether the session permits no further transitions.
// A superseded session is terminal regardless of phase.
func (s Session) Terminal() bool {
	return s.Phase.Terminal() || s.Superseded
}

// Resumable reports whether a stored session may be resumed.
func (s Session) Resumable() bool {
	return !s.Terminal()
}

// GeneratedSections returns the ordered identifiers of completed sections.
func (s Session) GeneratedSections() []string {
	var out []string
	for _, sec := range s.Sections {
		if sec.Complete {
			out = append(out, sec.ID)
		}
	}
	return out
}

// AssembledContent concatenates all section text and step content in
// generation order.
func (s Session) AssembledContent() string {
	var b strings.Builder
	for _, sec := range s.Sections {
		if sec.Title != "" {
			b.WriteString("# " + sec.Title + "\n\n")
		}
		b.WriteString(sec.Text)
		if sec.Text != "" && !strings.HasSuffix(sec.Text, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	for _, step := range s.Steps {
		b.WriteString(fmt.Sprintf("## Step %d: %s\n\n", step.Number, step.Title))
		if step.Description != "" {
			b.WriteString(step.Description + "\n\n")
		}
		b.WriteString(step.Content)
		if step.Content != "" && !strings.HasSuffix(step.Content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// CheckInvariants verifies the structural invariants of the session:
// a pending prompt exists if and only if the phase is suspended, and step
// numbers are sequential from 1.
func (s Session) CheckInvariants() error {
	if s.Phase.Suspended() && s.PendingPrompt == nil {
		return fmt.Errorf("phase %s requires a pending prompt", s.Phase)
	}
	if !s.Phase.Suspended() && s.PendingPrompt != nil {
		return fmt.Errorf("phase %s must not hold a pending prompt", s.Phase)
	}
	for i, step := range s.Steps {
		if step.Number != i+1 {
			return fmt.Errorf("step at index %d numbered %d, want %d", i, step.Number, i+1)
		}
	}
	return nil
}
