// Package httpapi exposes walkthrough sessions over HTTP.
//
// Streaming endpoints push newline-delimited JSON event envelopes
// (application/x-ndjson) and deliver the session identifier out-of-band in
// the Walkthrough-Session-Id response header before the first event.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	apperrors "github.com/stepforge/walkthrough/internal/errors"
	"github.com/stepforge/walkthrough/internal/id"
	"github.com/stepforge/walkthrough/internal/observability/audit"
	"github.com/stepforge/walkthrough/internal/platform/requestctx"
	"github.com/stepforge/walkthrough/internal/walkthrough/engine"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SessionIDHeader carries the session identifier on streaming responses.
const SessionIDHeader = "Walkthrough-Session-Id"

// RequestIDHeader carries the caller-supplied or generated request id.
const RequestIDHeader = "X-Request-Id"

// Service handles the walkthrough HTTP surface.
type Service struct {
	runner *engine.Runner
	audit  *audit.Emitter
}

// NewService creates the HTTP service. The audit emitter may be nil.
func NewService(runner *engine.Runner, auditEmitter *audit.Emitter) *Service {
	return &Service{runner: runner, audit: auditEmitter}
}

// Handler returns the routed handler with tracing and request-id middleware
// applied.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/targets/{target_id}/session", s.handleOpenSession)
	mux.HandleFunc("GET /v1/targets/{target_id}/session", s.handleSessionExists)
	mux.HandleFunc("GET /v1/targets/{target_id}/content", s.handleContent)
	mux.HandleFunc("POST /v1/sessions/{session_id}/decision", s.handleDecision)
	mux.HandleFunc("GET /v1/sessions/{session_id}", s.handleStatus)
	mux.HandleFunc("DELETE /v1/sessions/{session_id}", s.handleDiscard)
	mux.HandleFunc("GET /healthz", handleHealth)

	return otelhttp.NewHandler(requestIDMiddleware(mux), "walkthrough.http")
}

// requestIDMiddleware honors a caller-supplied request id or assigns one. It
// deliberately does not wrap the ResponseWriter so http.Flusher stays
// reachable for the streaming handlers.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			generated, err := id.NewID()
			if err == nil {
				requestID = generated
			}
		}
		if requestID != "" {
			w.Header().Set(RequestIDHeader, requestID)
			r = r.WithContext(requestctx.WithRequestID(r.Context(), requestID))
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeError renders a domain error as a JSON response with the mapped
// status. It must only be called before any response bytes were written.
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(apperrors.HTTPStatusFor(err))
	body := errorResponse{Error: errorBody{
		Code:    string(apperrors.GetCode(err)),
		Message: err.Error(),
	}}
	if encodeErr := json.NewEncoder(w).Encode(body); encodeErr != nil {
		log.Printf("httpapi: write error response: %v", encodeErr)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("httpapi: write response: %v", err)
	}
}
