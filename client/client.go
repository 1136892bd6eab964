// Package client is the typed SDK for the broker API. It mirrors the
// wire contract exactly: every non-2xx response surfaces as a
// *wire.Error, so callers branch on error codes the same way server-side
// code does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one broker instance.
type Client struct {
	baseURL string

	// http serves request/response calls; stream serves the SSE
	// endpoint and must not carry a client timeout.
	http   *http.Client
	stream *http.Client
}

// New creates a client for the broker at baseURL (e.g.
// "http://127.0.0.1:8377").
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		stream:  &http.Client{},
	}
}

// StartResult is the broker's answer to a session start.
type StartResult struct {
	SessionID string   `json:"sessionId"`
	Consent   string   `json:"consent"`
	Actions   []string `json:"actions"`
	ExpiresAt int64    `json:"expiresAt"`
}

// Field is one fill step.
type Field struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// PageState is the current URL and title of a session's tab.
type PageState struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// StartSession redeems a single-use token into a new session. The
// session starts with consent pending; actions fail with
// CONSENT_REQUIRED until the user approves.
func (c *Client) StartSession(ctx context.Context, token, rawURL string, actions []string) (*StartResult, error) {
	var out StartResult
	err := c.post(ctx, "/v1/session/start", map[string]any{
		"token":   token,
		"url":     rawURL,
		"actions": actions,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Consent records the user's decision and returns the resulting
// consent state.
func (c *Client) Consent(ctx context.Context, sessionID string, allow bool) (string, error) {
	var out struct {
		Consent string `json:"consent"`
	}
	err := c.post(ctx, "/v1/session/consent", map[string]any{
		"sessionId": sessionID,
		"allow":      allow,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Consent, nil
}

// Cancel terminates the session and closes its tab.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	return c.post(ctx, "/v1/session/cancel", map[string]any{"sessionId": sessionID}, nil)
}

// Open navigates the session's tab.
func (c *Client) Open(ctx context.Context, sessionID, rawURL string) error {
	return c.post(ctx, "/v1/browser/open", map[string]any{
		"sessionId": sessionID,
		"url":        rawURL,
	}, nil)
}

// Fill types into the addressed form fields.
func (c *Client) Fill(ctx context.Context, sessionID string, steps []Field) error {
	return c.post(ctx, "/v1/dom/fill", map[string]any{
		"sessionId": sessionID,
		"steps":     steps,
	}, nil)
}

// Upload attaches files to a file input.
func (c *Client) Upload(ctx context.Context, sessionID, selector string, files []string) error {
	return c.post(ctx, "/v1/dom/upload", map[string]any{
		"sessionId": sessionID,
		"selector":   selector,
		"files":      files,
	}, nil)
}

// Click clicks an element, typically a submit button.
func (c *Client) Click(ctx context.Context, sessionID, selector string) error {
	return c.post(ctx, "/v1/dom/click", map[string]any{
		"sessionId": sessionID,
		"selector":   selector,
	}, nil)
}

// State fetches the tab's current URL and title.
func (c *Client) State(ctx context.Context, sessionID string) (*PageState, error) {
	var out PageState
	err := c.get(ctx, "/v1/page/state?sessionId="+url.QueryEscape(sessionID), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
