// Package errors provides structured error handling for the walkthrough service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionEmptyTargetID  Code = "SESSION_EMPTY_TARGET_ID"
	CodeSessionNotFound       Code = "SESSION_NOT_FOUND"
	CodeSessionTerminal       Code = "SESSION_TERMINAL"
	CodeSessionBusy           Code = "SESSION_BUSY"
	CodeActiveSessionExists   Code = "ACTIVE_SESSION_EXISTS"
	CodeSessionNotDone        Code = "SESSION_NOT_DONE"
	CodeSessionInvalidPhase   Code = "SESSION_INVALID_PHASE"
	CodeSessionStepRegression Code = "SESSION_STEP_REGRESSION"

	// Prompt/decision protocol errors
	CodePromptNonePending      Code = "PROMPT_NONE_PENDING"
	CodePromptAlreadyPending   Code = "PROMPT_ALREADY_PENDING"
	CodePromptAlreadyResolved  Code = "PROMPT_ALREADY_RESOLVED"
	CodePromptMismatch         Code = "PROMPT_MISMATCH"
	CodeDecisionInvalidType    Code = "DECISION_INVALID_TYPE"
	CodeDecisionEmptyChoice    Code = "DECISION_EMPTY_CHOICE"
	CodeDecisionEmptyInput     Code = "DECISION_EMPTY_INPUT"
	CodeDecisionSkipDisallowed Code = "DECISION_SKIP_DISALLOWED"

	// Generation errors
	CodeGenerationFailed        Code = "GENERATION_FAILED"
	CodeGeneratorNotConfigured  Code = "GENERATOR_NOT_CONFIGURED"
	CodeReplayOutOfOrder        Code = "REPLAY_OUT_OF_ORDER"
	CodeReplayDuplicate         Code = "REPLAY_DUPLICATE"
	CodeSubmissionInFlight      Code = "SUBMISSION_IN_FLIGHT"
	CodeStreamUnexpectedlyEnded Code = "STREAM_UNEXPECTEDLY_ENDED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Transport errors
	CodeInvalidRequest Code = "INVALID_REQUEST"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// BadRequest - validation failures, bad input
	case CodeSessionEmptyTargetID,
		CodeInvalidRequest,
		CodeDecisionInvalidType,
		CodeDecisionEmptyChoice,
		CodeDecisionEmptyInput,
		CodeDecisionSkipDisallowed:
		return http.StatusBadRequest

	// Conflict - state doesn't allow operation
	case CodeSessionTerminal,
		CodeSessionBusy,
		CodeActiveSessionExists,
		CodeSessionNotDone,
		CodePromptNonePending,
		CodePromptAlreadyPending,
		CodePromptAlreadyResolved,
		CodePromptMismatch,
		CodeSubmissionInFlight:
		return http.StatusConflict

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeSessionNotFound:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}
