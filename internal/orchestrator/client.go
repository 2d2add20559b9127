// Package orchestrator drives walkthrough sessions from the consumer side.
//
// The client opens and resumes streams, submits decisions, and decodes the
// line-delimited event protocol; Projection rebuilds renderable state from
// the decoded events. At most one decision submission is in flight per
// session.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	apperrors "github.com/stepforge/walkthrough/internal/errors"
	"github.com/stepforge/walkthrough/internal/platform/timeouts"
	"github.com/stepforge/walkthrough/internal/walkthrough/codec"
	"github.com/stepforge/walkthrough/internal/walkthrough/engine"
	"github.com/stepforge/walkthrough/internal/walkthrough/event"
	"github.com/stepforge/walkthrough/internal/walkthrough/session"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// sessionIDHeader mirrors the server's out-of-band session id header.
const sessionIDHeader = "Walkthrough-Session-Id"

// Client talks to one walkthrough service instance.
type Client struct {
	baseURL string
	http    *http.Client

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewClient creates a client for the service at baseURL. When httpClient is
// nil a default client with traced transport is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		inflight: make(map[string]struct{}),
	}
}

// StreamSummary describes a consumed stream leg.
type StreamSummary struct {
	SessionID        string
	Events           int
	LastKind         event.Kind
	UnknownDropped   uint64
	MalformedDropped uint64
}

// OpenSession opens a new session for the target or resumes its interrupted
// one, consuming the stream through cb until the leg ends.
func (c *Client) OpenSession(ctx context.Context, targetID string, cfg session.Config, cb Callbacks) (StreamSummary, error) {
	body, err := json.Marshal(struct {
		Config session.Config `json:"config"`
	}{Config: cfg})
	if err != nil {
		return StreamSummary{}, fmt.Errorf("marshal open request: %w", err)
	}
	url := fmt.Sprintf("%s/v1/targets/%s/session", c.baseURL, targetID)
	return c.stream(ctx, url, body, cb)
}

// DecisionRequest resolves one pending prompt.
type DecisionRequest struct {
	PromptID     string `json:"prompt_id"`
	ResponseType string `json:"response_type"`
	ChoiceID     string `json:"choice_id,omitempty"`
	Selected     string `json:"selected,omitempty"`
	UserInput    string `json:"user_input,omitempty"`
	UserNote     string `json:"user_note,omitempty"`
}

// SubmitDecision resolves the session's pending prompt and consumes the
// continuation stream. A second submission while one is still streaming for
// the same session is rejected locally without reaching the wire.
func (c *Client) SubmitDecision(ctx context.Context, sessionID string, req DecisionRequest, cb Callbacks) (StreamSummary, error) {
	if err := c.acquire(sessionID); err != nil {
		return StreamSummary{}, err
	}
	defer c.release(sessionID)

	body, err := json.Marshal(req)
	if err != nil {
		return StreamSummary{}, fmt.Errorf("marshal decision request: %w", err)
	}
	url := fmt.Sprintf("%s/v1/sessions/%s/decision", c.baseURL, sessionID)
	return c.stream(ctx, url, body, cb)
}

// Status fetches a side-effect-free session snapshot.
func (c *Client) Status(ctx context.Context, sessionID string) (engine.StatusSummary, error) {
	var out engine.StatusSummary
	url := fmt.Sprintf("%s/v1/sessions/%s", c.baseURL, sessionID)
	err := c.getJSON(ctx, url, &out)
	return out, err
}

// SessionExists reports whether the target has a resumable session.
func (c *Client) SessionExists(ctx context.Context, targetID string) (engine.Existence, error) {
	var out engine.Existence
	url := fmt.Sprintf("%s/v1/targets/%s/session", c.baseURL, targetID)
	err := c.getJSON(ctx, url, &out)
	return out, err
}

// FetchContent retrieves the assembled content of the target's completed
// session without streaming.
func (c *Client) FetchContent(ctx context.Context, targetID string) (engine.ContentResult, error) {
	var out engine.ContentResult
	url := fmt.Sprintf("%s/v1/targets/%s/content", c.baseURL, targetID)
	err := c.getJSON(ctx, url, &out)
	return out, err
}

// DiscardSession terminally retires a session so a fresh one can be opened
// for its target.
func (c *Client) DiscardSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, timeouts.ClientRequest)
	defer cancel()

	url := fmt.Sprintf("%s/v1/sessions/%s", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return decodeErrorResponse(resp)
	}
	return nil
}

// stream POSTs the request and consumes the NDJSON response until the
// server closes the leg.
func (c *Client) stream(ctx context.Context, url string, body []byte, cb Callbacks) (StreamSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return StreamSummary{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return StreamSummary{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StreamSummary{}, decodeErrorResponse(resp)
	}

	summary := StreamSummary{SessionID: resp.Header.Get(sessionIDHeader)}

	var decoder codec.Decoder
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, evt := range decoder.Write(buf[:n]) {
				summary.Events++
				summary.LastKind = evt.Kind()
				if err := cb.dispatch(evt); err != nil {
					return summary, err
				}
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				summary.UnknownDropped = decoder.UnknownDropped()
				summary.MalformedDropped = decoder.MalformedDropped()
				return summary, apperrors.Wrap(apperrors.CodeStreamUnexpectedlyEnded,
					"event stream broke mid-leg", readErr)
			}
			break
		}
	}
	for _, evt := range decoder.Flush() {
		summary.Events++
		summary.LastKind = evt.Kind()
		if err := cb.dispatch(evt); err != nil {
			return summary, err
		}
	}
	summary.UnknownDropped = decoder.UnknownDropped()
	summary.MalformedDropped = decoder.MalformedDropped()
	return summary, nil
}

func (c *Client) getJSON(ctx context.Context, url string, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, timeouts.ClientRequest)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) acquire(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[sessionID]; ok {
		return apperrors.New(apperrors.CodeSubmissionInFlight,
			"a decision submission is already streaming for this session")
	}
	c.inflight[sessionID] = struct{}{}
	return nil
}

func (c *Client) release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, sessionID)
}

// decodeErrorResponse maps the server's JSON error body back to a domain
// error so callers can branch on codes across the wire.
func decodeErrorResponse(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error.Code == "" {
		return apperrors.New(apperrors.CodeUnknown,
			fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	return apperrors.New(apperrors.Code(body.Error.Code), body.Error.Message)
}
