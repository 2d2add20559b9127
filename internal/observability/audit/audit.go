// Package audit records operational audit events for session lifecycle
// actions. Audit writes are best-effort: a failed append is logged and never
// fails the request that produced it.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/stepforge/walkthrough/internal/storage"
	"go.opentelemetry.io/otel/trace"
)

// Severity levels for audit events.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// Emitter appends audit events to a store. A nil Emitter discards events,
// so callers never need to guard their emit sites.
type Emitter struct {
	store storage.AuditEventStore
	now   func() time.Time
}

// NewEmitter creates an emitter writing to store. A nil store yields a nil
// emitter.
func NewEmitter(store storage.AuditEventStore) *Emitter {
	if store == nil {
		return nil
	}
	return &Emitter{store: store, now: time.Now}
}

// WithClock overrides the emitter's clock.
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	if e == nil || now == nil {
		return e
	}
	return &Emitter{store: e.store, now: now}
}

// Event is one audit record before enrichment.
type Event struct {
	Name       string
	Severity   string
	SessionID  string
	TargetID   string
	RequestID  string
	Attributes map[string]any
}

// Emit enriches the event with the active trace context and appends it.
func (e *Emitter) Emit(ctx context.Context, evt Event) {
	if e == nil {
		return
	}
	if evt.Severity == "" {
		evt.Severity = SeverityInfo
	}

	record := storage.AuditEvent{
		Timestamp:  e.now().UTC(),
		EventName:  evt.Name,
		Severity:   evt.Severity,
		SessionID:  evt.SessionID,
		TargetID:   evt.TargetID,
		RequestID:  evt.RequestID,
		Attributes: evt.Attributes,
	}
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		record.TraceID = span.TraceID().String()
		record.SpanID = span.SpanID().String()
	}

	if err := e.store.AppendAuditEvent(ctx, record); err != nil {
		log.Printf("audit: append %s: %v", evt.Name, err)
	}
}
