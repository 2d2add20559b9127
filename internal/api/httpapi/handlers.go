package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/stepforge/walkthrough/internal/errors"
	"github.com/stepforge/walkthrough/internal/observability/audit"
	"github.com/stepforge/walkthrough/internal/platform/requestctx"
	"github.com/stepforge/walkthrough/internal/walkthrough/session"
)

// openSessionRequest is the optional body of a session open call.
type openSessionRequest struct {
	Config session.Config `json:"config"`
}

// handleOpenSession opens a new session for the target or resumes its
// existing non-terminal one, then streams the leg.
func (s *Service) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	targetID := r.PathValue("target_id")

	var req openSessionRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	leg, err := s.runner.Open(r.Context(), targetID, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}

	sess := leg.Session()
	s.audit.Emit(r.Context(), audit.Event{
		Name:      "session.open",
		SessionID: sess.ID,
		TargetID:  sess.TargetID,
		RequestID: requestctx.RequestIDFromContext(r.Context()),
		Attributes: map[string]any{
			"resumed": leg.Resumed(),
		},
	})

	s.streamLeg(w, r, leg)
}

// decisionRequest is the body of a decision submission.
type decisionRequest struct {
	PromptID     string `json:"prompt_id"`
	ResponseType string `json:"response_type"`
	ChoiceID     string `json:"choice_id,omitempty"`
	Selected     string `json:"selected,omitempty"`
	UserInput    string `json:"user_input,omitempty"`
	UserNote     string `json:"user_note,omitempty"`
}

// handleDecision resolves the pending prompt and streams the continuation
// leg. Protocol violations are rejected synchronously with a JSON error.
func (s *Service) handleDecision(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var req decisionRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	decision := session.Decision{
		PromptID:  req.PromptID,
		Type:      session.ResponseType(req.ResponseType),
		ChoiceID:  req.ChoiceID,
		Selected:  req.Selected,
		UserInput: req.UserInput,
		UserNote:  req.UserNote,
	}

	leg, err := s.runner.SubmitDecision(r.Context(), sessionID, decision)
	if err != nil {
		writeError(w, err)
		return
	}

	sess := leg.Session()
	s.audit.Emit(r.Context(), audit.Event{
		Name:      "session.decision",
		SessionID: sess.ID,
		TargetID:  sess.TargetID,
		RequestID: requestctx.RequestIDFromContext(r.Context()),
		Attributes: map[string]any{
			"prompt_id":     req.PromptID,
			"response_type": req.ResponseType,
		},
	})

	s.streamLeg(w, r, leg)
}

// handleStatus returns a side-effect-free session snapshot.
func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.Status(r.Context(), r.PathValue("session_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleSessionExists reports whether the target has a resumable session.
func (s *Service) handleSessionExists(w http.ResponseWriter, r *http.Request) {
	existence, err := s.runner.Exists(r.Context(), r.PathValue("target_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existence)
}

// handleContent returns the assembled content of the target's completed
// session without streaming.
func (s *Service) handleContent(w http.ResponseWriter, r *http.Request) {
	result, err := s.runner.Content(r.Context(), r.PathValue("target_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDiscard terminally retires a session so a fresh one can be opened
// for its target.
func (s *Service) handleDiscard(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if err := s.runner.Discard(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	s.audit.Emit(r.Context(), audit.Event{
		Name:      "session.discard",
		SessionID: sessionID,
		RequestID: requestctx.RequestIDFromContext(r.Context()),
	})
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody parses a JSON request body into dst. An empty body is accepted
// when optional is set.
func decodeBody(r *http.Request, dst any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return nil
	}
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return apperrors.Wrap(apperrors.CodeInvalidRequest, "invalid request body", err)
}
