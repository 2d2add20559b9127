package httpapi

import (
	"log"
	"net/http"

	"github.com/stepforge/walkthrough/internal/walkthrough/codec"
	"github.com/stepforge/walkthrough/internal/walkthrough/engine"
	"github.com/stepforge/walkthrough/internal/walkthrough/event"
)

// streamLeg drives the leg and pushes each event as one NDJSON line. The
// session id goes out in a header before the body, so consumers hold it even
// if the channel drops before the first event.
func (s *Service) streamLeg(w http.ResponseWriter, r *http.Request, leg *engine.Leg) {
	sess := leg.Session()

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(SessionIDHeader, sess.ID)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	err := leg.Run(r.Context(), func(evt event.Event) error {
		line, err := codec.Encode(evt)
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		// Headers are long gone; all we can do is note it. The persisted
		// snapshot remains the resume point.
		log.Printf("httpapi: stream for session %s ended: %v", sess.ID, err)
	}
}
