package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relistly/agentbroker/internal/wire"
)

func TestStartSession(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/session/start" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Token   string   `json:"token"`
			URL     string   `json:"url"`
			Actions []string `json:"actions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Token != "tok" || req.URL != "https://www.ebay.com/sell" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"sessionId": "s-1",
			"consent":   "pending",
			"actions":   []string{"open", "fill"},
			"expiresAt": 1767225600,
		})
	}))
	defer ts.Close()

	c := New(ts.URL)
	res, err := c.StartSession(context.Background(), "tok", "https://www.ebay.com/sell", []string{"open", "fill"})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if res.SessionID != "s-1" || res.Consent != "pending" || len(res.Actions) != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestFillWireShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/dom/fill" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			SessionID string `json:"sessionId"`
			Steps     []struct {
				Selector string `json:"selector"`
				Text     string `json:"text"`
			} `json:"steps"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.SessionID != "s-1" || len(req.Steps) != 1 || req.Steps[0].Selector != "#title" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer ts.Close()

	c := New(ts.URL)
	err := c.Fill(context.Background(), "s-1", []Field{{Selector: "#title", Text: "Vox AC30"}})
	if err != nil {
		t.Errorf("Fill() error = %v", err)
	}
}

func TestStateQueryParam(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("sessionId"); got != "s-1" {
			t.Errorf("sessionId query = %q, want s-1", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"url": "https://www.ebay.com/sell", "title": "Sell"})
	}))
	defer ts.Close()

	c := New(ts.URL)
	state, err := c.State(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state.URL != "https://www.ebay.com/sell" {
		t.Errorf("state = %+v", state)
	}
}

func TestErrorsCarryWireCodes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "CONSENT_REQUIRED", "message": "user has not granted consent yet"},
		})
	}))
	defer ts.Close()

	c := New(ts.URL)
	err := c.Open(context.Background(), "s-1", "https://www.ebay.com/sell")
	if err == nil {
		t.Fatal("expected error")
	}

	var we *Error
	if !errors.As(err, &we) {
		t.Fatalf("error %T does not unwrap to *Error", err)
	}
	if we.Code != wire.CodeConsentRequired || we.Status != http.StatusForbidden {
		t.Errorf("error = %+v", we)
	}

	// errors.Is matches on code, so callers can branch on constructors.
	if !errors.Is(err, wire.ConsentRequired()) {
		t.Error("errors.Is did not match CONSENT_REQUIRED")
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	c := New(ts.URL)
	err := c.Cancel(context.Background(), "s-1")
	var we *Error
	if !errors.As(err, &we) || we.Status != http.StatusBadGateway {
		t.Fatalf("error = %v, want wrapped 502", err)
	}
}

func TestConsentAndCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/session/consent":
			json.NewEncoder(w).Encode(map[string]any{"sessionId": "s-1", "consent": "allowed"})
		case "/v1/session/cancel":
			json.NewEncoder(w).Encode(map[string]any{"ok": true})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	c := New(ts.URL)
	consent, err := c.Consent(context.Background(), "s-1", true)
	if err != nil || consent != "allowed" {
		t.Errorf("Consent() = (%q, %v), want (allowed, nil)", consent, err)
	}
	if err := c.Cancel(context.Background(), "s-1"); err != nil {
		t.Errorf("Cancel() error = %v", err)
	}
}
