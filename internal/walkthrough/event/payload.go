package event

// Option describes one selectable entry of a choice prompt.
type Option struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// DecisionRecord is the wire form of a recorded decision.
type DecisionRecord struct {
	PromptID     string `json:"prompt_id"`
	ResponseType string `json:"response_type"`
	ChoiceID     string `json:"choice_id,omitempty"`
	Selected     string `json:"selected,omitempty"`
	UserInput    string `json:"user_input,omitempty"`
	UserNote     string `json:"user_note,omitempty"`
}

// StepRecord is the wire form of a replayed step.
type StepRecord struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
	Content     string `json:"content,omitempty"`
}

// Context carries the target's structural position and its upstream and
// downstream links.
type Context struct {
	TargetID   string   `json:"target_id"`
	Position   string   `json:"position,omitempty"`
	Upstream   []string `json:"upstream,omitempty"`
	Downstream []string `json:"downstream,omitempty"`
}

// SectionStart opens a named prose section.
type SectionStart struct {
	Section string `json:"section"`
	Title   string `json:"title,omitempty"`
}

// Chunk appends streamed text. Step is set when the text belongs to a
// numbered step rather than a top-level section.
type Chunk struct {
	Section string `json:"section,omitempty"`
	Step    int    `json:"step,omitempty"`
	Text    string `json:"text"`
}

// SectionComplete closes a named prose section.
type SectionComplete struct {
	Section string `json:"section"`
}

// ChoiceRequired requests an enumerated, mutually exclusive decision.
type ChoiceRequired struct {
	PromptID      string   `json:"prompt_id"`
	Question      string   `json:"question"`
	Options       []Option `json:"options"`
	AllowFreeText bool     `json:"allow_free_text,omitempty"`
	AllowSkip     bool     `json:"allow_skip,omitempty"`
}

// UserInputRequired requests a free-text decision.
type UserInputRequired struct {
	PromptID    string   `json:"prompt_id"`
	Question    string   `json:"question"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// StepStart begins a numbered step.
type StepStart struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// StepComplete marks a numbered step complete.
type StepComplete struct {
	Number int `json:"number"`
}

// StepConfirmationRequired gates progression to the next step with a small
// fixed option set.
type StepConfirmationRequired struct {
	PromptID string   `json:"prompt_id"`
	Step     int      `json:"step"`
	Options  []Option `json:"options"`
}

// ProgressSaved acknowledges a durable checkpoint.
type ProgressSaved struct {
	Sections  int `json:"sections"`
	Steps     int `json:"steps"`
	Decisions int `json:"decisions"`
}

// RedirectToChat signals the engine declines to continue generation and
// defers to open-ended dialogue.
type RedirectToChat struct {
	Reason string `json:"reason,omitempty"`
}

// Done signals generation finished.
type Done struct {
	HandsOnID string `json:"hands_on_id"`
	SessionID string `json:"session_id"`
}

// Error signals an unrecoverable generation failure.
type Error struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// UserResponse echoes a just-applied decision for transcript reconstruction.
type UserResponse struct {
	DecisionRecord
}

// SessionRestored announces a resumed session and its suspension point.
type SessionRestored struct {
	SessionID   string `json:"session_id"`
	TargetID    string `json:"target_id"`
	Phase       string `json:"phase"`
	CurrentStep int    `json:"current_step,omitempty"`
}

// RestoredContent replays one previously generated section.
type RestoredContent struct {
	Section  string `json:"section"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
	Complete bool   `json:"complete"`
}

// RestoredSteps replays the step list and the current step cursor.
type RestoredSteps struct {
	Steps       []StepRecord `json:"steps"`
	CurrentStep int          `json:"current_step"`
}

// RestoredDecisions replays the decision log verbatim, in order.
type RestoredDecisions struct {
	Decisions []DecisionRecord `json:"decisions"`
}

// RestoredUserResponse replays the transcript entry of an already-resolved
// prompt so consumers do not re-prompt it.
type RestoredUserResponse struct {
	DecisionRecord
}

// Kind implementations pin each payload to its wire discriminator.

func (Context) Kind() Kind                  { return KindContext }
func (SectionStart) Kind() Kind             { return KindSectionStart }
func (Chunk) Kind() Kind                    { return KindChunk }
func (SectionComplete) Kind() Kind          { return KindSectionComplete }
func (ChoiceRequired) Kind() Kind           { return KindChoiceRequired }
func (UserInputRequired) Kind() Kind        { return KindUserInputRequired }
func (StepStart) Kind() Kind                { return KindStepStart }
func (StepComplete) Kind() Kind             { return KindStepComplete }
func (StepConfirmationRequired) Kind() Kind { return KindStepConfirmationRequired }
func (ProgressSaved) Kind() Kind            { return KindProgressSaved }
func (RedirectToChat) Kind() Kind           { return KindRedirectToChat }
func (Done) Kind() Kind                     { return KindDone }
func (Error) Kind() Kind                    { return KindError }
func (UserResponse) Kind() Kind             { return KindUserResponse }
func (SessionRestored) Kind() Kind          { return KindSessionRestored }
func (RestoredContent) Kind() Kind          { return KindRestoredContent }
func (RestoredSteps) Kind() Kind            { return KindRestoredSteps }
func (RestoredDecisions) Kind() Kind        { return KindRestoredDecisions }
func (RestoredUserResponse) Kind() Kind     { return KindRestoredUserResponse }
