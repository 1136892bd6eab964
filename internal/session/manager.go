package session

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relistly/agentbroker/internal/bus"
	. "github.com/relistly/agentbroker/internal/logging"
	"github.com/relistly/agentbroker/internal/policy"
	"github.com/relistly/agentbroker/internal/token"
	"github.com/relistly/agentbroker/internal/wire"
)

// PageCloser releases the browser tab owned by a session. Implemented
// by the browser controller; close must be idempotent.
type PageCloser interface {
	ClosePage(sessionID string)
}

// Manager maintains all active sessions and enforces the state
// machine. Every mutating route composes the same checks in fixed
// order: Get, RequireConsent, EnsureActionAllowed, TrackAction.
type Manager struct {
	policy policy.Config
	ttlCap time.Duration
	pages  PageCloser

	mu       sync.Mutex
	sessions map[string]*Session
	usedJTI  map[string]time.Time // jti -> token expiry, for pruning

	now func() time.Time // test hook
}

// NewManager creates a session manager. pages may be set later via
// SetPages once the browser controller exists.
func NewManager(pol policy.Config, ttlCap time.Duration) *Manager {
	return &Manager{
		policy:   pol,
		ttlCap:   ttlCap,
		sessions: make(map[string]*Session),
		usedJTI:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// SetPages wires the browser controller in after construction; the
// controller needs the manager for lookups and the manager needs the
// controller for teardown.
func (m *Manager) SetPages(p PageCloser) { m.pages = p }

// Policy returns the active policy.
func (m *Manager) Policy() policy.Config { return m.policy }

// Begin redeems a verified token into a new session with consent
// pending. The token's remaining lifetime must be positive and no
// longer than the server's TTL ceiling. The jti membership test, its
// consumption, and the session insert happen under one lock so a
// concurrently replayed token can never yield two sessions.
func (m *Manager) Begin(tok *token.Verified, rawURL string, requested []string) (*Session, error) {
	now := m.now()

	remaining := tok.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return nil, wire.InvalidToken("token already expired")
	}
	if remaining > m.ttlCap {
		return nil, wire.InvalidToken("token lifetime %s exceeds the %s ceiling", remaining.Round(time.Second), m.ttlCap)
	}

	hostname, err := parseHostname(rawURL)
	if err != nil {
		return nil, wire.PolicyDenied("invalid url: %v", err)
	}
	if hostname != tok.Domain {
		return nil, wire.PolicyDenied("url host %s does not match token domain %s", hostname, tok.Domain)
	}
	if !m.policy.Allows(hostname) {
		return nil, wire.PolicyDenied("domain %s is not allow-listed", hostname)
	}

	actions := policy.SanitizeActions(requested)
	if len(actions) == 0 {
		return nil, wire.PolicyDenied("no permitted actions requested")
	}

	actionSet := make(map[policy.Action]bool, len(actions))
	for _, a := range actions {
		actionSet[a] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, used := m.usedJTI[tok.JTI]; used {
		return nil, wire.InvalidToken("token already used")
	}
	m.usedJTI[tok.JTI] = tok.ExpiresAt

	s := &Session{
		ID:           uuid.NewString(),
		UserID:       tok.UserID,
		Domain:       hostname,
		TokenID:      tok.JTI,
		CreatedAt:    now,
		ExpiresAt:    tok.ExpiresAt,
		Bus:          bus.New(),
		actions:      actionSet,
		consent:      ConsentPending,
		requestedURL: rawURL,
	}
	m.sessions[s.ID] = s

	L_info("session: created", "id", s.ID, "user", s.UserID, "domain", s.Domain, "actions", len(actions), "expiresAt", s.ExpiresAt)
	return s, nil
}

// Get returns a session that has not expired. Denied and cancelled
// sessions stay retrievable until the terminal state is observed
// through RequireConsent; expired sessions are evicted on lookup,
// their tab closed, before SESSION_EXPIRED is returned.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()

	if !ok {
		return nil, wire.SessionNotFound(id)
	}
	if !m.now().Before(s.ExpiresAt) {
		m.evict(s, "expired")
		return nil, wire.SessionExpired(id)
	}
	return s, nil
}

// RequireConsent returns nil only when consent is allowed; otherwise
// the error identifies the exact state so callers can branch between
// retrying (pending) and aborting (denied, cancelled). A denied or
// cancelled session is evicted the first time a caller observes the
// terminal state, so that one caller gets the precise 403 and later
// lookups get SESSION_NOT_FOUND.
func (m *Manager) RequireConsent(s *Session) error {
	switch s.Consent() {
	case ConsentAllowed:
		return nil
	case ConsentDenied:
		m.evict(s, "denial observed")
		return wire.ConsentDenied()
	case ConsentCancelled:
		m.evict(s, "cancellation observed")
		return wire.SessionCancelled()
	default:
		return wire.ConsentRequired()
	}
}

// EnsureActionAllowed rejects unknown actions outright and known
// actions the session was not granted.
func (m *Manager) EnsureActionAllowed(s *Session, a policy.Action) error {
	if !policy.KnownAction(a) {
		return wire.InvalidAction(string(a))
	}
	if !s.allowsAction(a) {
		return wire.PolicyDenied("action %s not granted to this session", a)
	}
	return nil
}

// EnsureURLAllowed re-validates a navigation target against the
// session's bound domain and the allow-list, and records it as the
// current target on success.
func (m *Manager) EnsureURLAllowed(s *Session, rawURL string) error {
	hostname, err := parseHostname(rawURL)
	if err != nil {
		return wire.PolicyDenied("invalid url: %v", err)
	}
	if hostname != s.Domain {
		return wire.PolicyDenied("url host %s does not match session domain %s", hostname, s.Domain)
	}
	if !m.policy.Allows(hostname) {
		return wire.PolicyDenied("domain %s is not allow-listed", hostname)
	}

	s.mu.Lock()
	s.requestedURL = rawURL
	s.mu.Unlock()
	return nil
}

// TrackAction charges one action against the session's rate window.
func (m *Manager) TrackAction(s *Session) error {
	if !s.trackAction(m.now(), m.policy.MaxActionsPerMinute) {
		return wire.RateLimited(m.policy.MaxActionsPerMinute)
	}
	return nil
}

// HandleConsent applies the user's decision. A denial releases the
// browser tab and event bus right away, but the session record stays
// until RequireConsent observes the denial, so the next call sees
// CONSENT_DENIED rather than a 404.
func (m *Manager) HandleConsent(id string, allow bool) (Consent, error) {
	s, err := m.Get(id)
	if err != nil {
		return "", err
	}

	if allow {
		if s.setConsent(ConsentAllowed) {
			L_info("session: consent granted", "id", s.ID, "user", s.UserID)
		}
		return s.Consent(), nil
	}

	if s.setConsent(ConsentDenied) {
		L_info("session: consent denied", "id", s.ID, "user", s.UserID)
		m.release(s, "consent denied")
	}
	return s.Consent(), nil
}

// Cancel terminates a session. Like denial, the record remains until
// observed so in-flight callers get SESSION_CANCELLED.
func (m *Manager) Cancel(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if s.setConsent(ConsentCancelled) {
		L_info("session: cancelled", "id", s.ID, "user", s.UserID)
		m.release(s, "cancelled")
	}
	return nil
}

// ClearExpired sweeps sessions past their expiry and prunes consumed
// jti entries whose tokens can no longer verify anyway.
func (m *Manager) ClearExpired() {
	now := m.now()

	m.mu.Lock()
	var expired []*Session
	for _, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			expired = append(expired, s)
		}
	}
	for jti, exp := range m.usedJTI {
		if now.After(exp) {
			delete(m.usedJTI, jti)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.evict(s, "expired")
	}
	if len(expired) > 0 {
		L_info("session: expiry sweep", "evicted", len(expired))
	}
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// release closes the session's tab and event bus. Triggered by
// cancel, consent denial, and expiry; safe to call more than once
// for the same session.
func (m *Manager) release(s *Session, reason string) {
	s.releaseOnce.Do(func() {
		if m.pages != nil {
			m.pages.ClosePage(s.ID)
		}
		s.Bus.Close()
		L_debug("session: released", "id", s.ID, "reason", reason)
	})
}

// evict releases the session's resources and drops its record.
// Reached on expiry, and when RequireConsent observes a denied or
// cancelled session.
func (m *Manager) evict(s *Session, reason string) {
	m.release(s, reason)
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
}

// parseHostname extracts the lower-cased hostname of an absolute
// http(s) URL.
func parseHostname(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &url.Error{Op: "parse", URL: rawURL, Err: errBadScheme}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", &url.Error{Op: "parse", URL: rawURL, Err: errNoHost}
	}
	return host, nil
}

var (
	errBadScheme = &strError{"scheme must be http or https"}
	errNoHost    = &strError{"url has no hostname"}
)

type strError struct{ s string }

func (e *strError) Error() string { return e.s }
