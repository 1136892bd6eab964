package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relistly/agentbroker/internal/browser"
	. "github.com/relistly/agentbroker/internal/logging"
	"github.com/relistly/agentbroker/internal/policy"
	"github.com/relistly/agentbroker/internal/session"
	"github.com/relistly/agentbroker/internal/token"
	"github.com/relistly/agentbroker/internal/wire"
)

// startRequest is the body of POST /v1/session/start.
type startRequest struct {
	Token   string   `json:"token"`
	URL     string   `json:"url"`
	Actions []string `json:"actions"`
}

// startResponse confirms session creation; consent is always pending
// at this point.
type startResponse struct {
	SessionID string   `json:"sessionId"`
	Consent   string   `json:"consent"`
	Actions   []string `json:"actions"`
	ExpiresAt int64    `json:"expiresAt"`
}

type consentRequest struct {
	SessionID string `json:"sessionId"`
	Allow     bool   `json:"allow"`
}

type consentResponse struct {
	SessionID string `json:"sessionId"`
	Consent   string `json:"consent"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

type openRequest struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type fillRequest struct {
	SessionID string             `json:"sessionId"`
	Steps     []browser.FillStep `json:"steps"`
}

type uploadRequest struct {
	SessionID string   `json:"sessionId"`
	Selector  string   `json:"selector"`
	Files     []string `json:"files"`
}

type clickRequest struct {
	SessionID string `json:"sessionId"`
	Selector  string `json:"selector"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// handleStart handles POST /v1/session/start - redeem a token.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" || req.URL == "" {
		s.writeError(w, wire.InvalidRequest("token and url are required"))
		return
	}

	tok, err := token.Verify(req.Token, []byte(s.secret))
	if err != nil {
		s.writeError(w, err)
		return
	}

	sess, err := s.sessions.Begin(tok, req.URL, req.Actions)
	if err != nil {
		s.writeError(w, err)
		return
	}

	actions := sess.Actions()
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}

	s.writeJSON(w, http.StatusOK, startResponse{
		SessionID: sess.ID,
		Consent:   string(sess.Consent()),
		Actions:   names,
		ExpiresAt: sess.ExpiresAt.Unix(),
	})
}

// handleConsent handles POST /v1/session/consent - record the user's
// decision.
func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		s.writeError(w, wire.InvalidRequest("sessionId is required"))
		return
	}

	consent, err := s.sessions.HandleConsent(req.SessionID, req.Allow)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, consentResponse{SessionID: req.SessionID, Consent: string(consent)})
}

// handleCancel handles POST /v1/session/cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		s.writeError(w, wire.InvalidRequest("sessionId is required"))
		return
	}

	if err := s.sessions.Cancel(req.SessionID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// sessionForAction runs the fixed pre-action check chain: lookup,
// consent, action grant, rate window.
func (s *Server) sessionForAction(id string, action policy.Action) (*session.Session, error) {
	if id == "" {
		return nil, wire.InvalidRequest("sessionId is required")
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.RequireConsent(sess); err != nil {
		return nil, err
	}
	if err := s.sessions.EnsureActionAllowed(sess, action); err != nil {
		return nil, err
	}
	if err := s.sessions.TrackAction(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// failAction reports a failed browser action: the error goes on the
// session's event stream as well as the HTTP response.
func (s *Server) failAction(w http.ResponseWriter, sess *session.Session, err error) {
	we := wire.AsError(err)
	sess.Bus.Publish(wire.EventError, map[string]any{"code": we.Code, "message": we.Message})
	s.writeError(w, we)
}

// handleOpen handles POST /v1/browser/open.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		s.writeError(w, wire.InvalidRequest("url is required"))
		return
	}

	sess, err := s.sessions.Get(req.SessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.sessions.RequireConsent(sess); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.sessions.EnsureActionAllowed(sess, policy.ActionOpen); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.sessions.EnsureURLAllowed(sess, req.URL); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.sessions.TrackAction(sess); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.browser.Open(sess, req.URL); err != nil {
		s.failAction(w, sess, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// handleFill handles POST /v1/dom/fill.
func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Steps) == 0 {
		s.writeError(w, wire.InvalidRequest("steps must not be empty"))
		return
	}
	for _, step := range req.Steps {
		if step.Selector == "" {
			s.writeError(w, wire.InvalidRequest("every step needs a selector"))
			return
		}
	}

	sess, err := s.sessionForAction(req.SessionID, policy.ActionFill)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.browser.Fill(sess, req.Steps); err != nil {
		s.failAction(w, sess, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// handleUpload handles POST /v1/dom/upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Selector == "" || len(req.Files) == 0 {
		s.writeError(w, wire.InvalidRequest("selector and files are required"))
		return
	}

	sess, err := s.sessionForAction(req.SessionID, policy.ActionUpload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.browser.Upload(sess, req.Selector, req.Files); err != nil {
		s.failAction(w, sess, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// handleClick handles POST /v1/dom/click.
func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Selector == "" {
		s.writeError(w, wire.InvalidRequest("selector is required"))
		return
	}

	sess, err := s.sessionForAction(req.SessionID, policy.ActionClick)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.browser.Click(sess, req.Selector); err != nil {
		s.failAction(w, sess, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// handleState handles GET /v1/page/state - current URL and title,
// no side effects, no rate charge.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := s.sessions.Get(r.URL.Query().Get("sessionId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.sessions.RequireConsent(sess); err != nil {
		s.writeError(w, err)
		return
	}

	state, err := s.browser.State(sess)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleStream handles GET /v1/events/stream - per-session SSE feed.
// Clients may attach before consent resolves; the stream simply stays
// quiet until actions run.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := s.sessions.Get(r.URL.Query().Get("sessionId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	frames, cancel := sess.Bus.Subscribe()
	defer cancel()

	L_info("http: SSE connection opened", "session", sess.ID)
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ctx := r.Context()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			L_info("http: SSE connection closed", "session", sess.ID)
			return
		case <-s.shutdownChan:
			return
		case frame, ok := <-frames:
			if !ok {
				// Bus closed: the session was torn down.
				L_info("http: SSE stream ended", "session", sess.ID)
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				L_error("http: failed to marshal event", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// handleHealthz handles GET /v1/healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Count(),
	})
}

// decodeJSON parses a POST body into dst, writing INVALID_REQUEST on
// failure. Returns false when the request has already been answered.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, wire.InvalidRequest("malformed json body: %v", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		L_error("http: failed to write response", "error", err)
	}
}

// writeError serializes a broker error as {"error": {code, message}}.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	we := wire.AsError(err)
	if we.Status >= 500 {
		L_error("http: request failed", "code", we.Code, "error", we.Message)
	} else {
		L_debug("http: request rejected", "code", we.Code, "reason", we.Message)
	}
	s.writeJSON(w, we.Status, map[string]any{"error": we})
}
