// Package session implements the consent-gated session state machine:
// single-use token redemption, domain and action authorization, rate
// limiting, and session lifecycle including the expiry sweep.
package session

import (
	"sync"
	"time"

	"github.com/relistly/agentbroker/internal/bus"
	"github.com/relistly/agentbroker/internal/policy"
)

// Consent is the session's consent state. It starts Pending and, once
// it leaves Pending, never returns to it.
type Consent string

const (
	ConsentPending   Consent = "pending"
	ConsentAllowed   Consent = "allowed"
	ConsentDenied    Consent = "denied"
	ConsentCancelled Consent = "cancelled"
)

// Session is one consent-gated automation session bound to a single
// user, domain, and browser tab.
type Session struct {
	ID        string
	UserID    string
	Domain    string // lower-cased hostname, fixed at creation
	TokenID   string // the consumed jti
	CreatedAt time.Time
	ExpiresAt time.Time

	// Bus carries this session's lifecycle events to stream consumers.
	Bus *bus.Bus

	// actions is the sanitized action set granted at creation. Never
	// grows.
	actions map[policy.Action]bool

	// releaseOnce guards the one-time release of the session's
	// resources (browser tab, event bus).
	releaseOnce sync.Once

	mu           sync.Mutex
	consent      Consent
	requestedURL string
	windowStart  time.Time
	windowCount  int
}

// Consent returns the current consent state.
func (s *Session) Consent() Consent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consent
}

// RequestedURL returns the current navigation target.
func (s *Session) RequestedURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestedURL
}

// Actions returns the granted action set in no particular order.
func (s *Session) Actions() []policy.Action {
	out := make([]policy.Action, 0, len(s.actions))
	for a := range s.actions {
		out = append(out, a)
	}
	return out
}

// allowsAction reports whether the session was granted a.
func (s *Session) allowsAction(a policy.Action) bool {
	return s.actions[a]
}

// setConsent applies a consent transition. Denied and cancelled are
// terminal; allowed can still be revoked or cancelled. Returns whether
// the state changed.
func (s *Session) setConsent(c Consent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consent == ConsentDenied || s.consent == ConsentCancelled {
		return false
	}
	if s.consent == c {
		return false
	}
	s.consent = c
	return true
}

// trackAction counts one action against the sliding 60-second window,
// resetting the window when it has elapsed. Returns false once the
// count for the current window exceeds limit.
func (s *Session) trackAction(now time.Time, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.windowStart) >= time.Minute {
		s.windowStart = now
		s.windowCount = 0
	}
	s.windowCount++
	return s.windowCount <= limit
}
