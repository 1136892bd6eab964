// Package policy holds the static automation policy: which domains the
// broker may drive, which form actions a session may request, and the
// pacing bounds for human-like typing. Loaded once at startup and
// read-only afterwards.
package policy

import (
	"math/rand"
	"strings"
	"time"
)

// Action is one of the four browser-affecting operations a session can
// be granted.
type Action string

const (
	ActionOpen   Action = "open"
	ActionFill   Action = "fill"
	ActionUpload Action = "upload"
	ActionClick  Action = "click"
)

// KnownAction reports whether a is one of the four supported actions.
func KnownAction(a Action) bool {
	switch a {
	case ActionOpen, ActionFill, ActionUpload, ActionClick:
		return true
	}
	return false
}

// Typing bounds the per-character delay used when typing into form
// fields. Values are milliseconds.
type Typing struct {
	MinDelayMs int `toml:"min_delay_ms"`
	MaxDelayMs int `toml:"max_delay_ms"`
}

// Config is the broker's automation policy.
type Config struct {
	// AllowDomains is the exact set of hostnames sessions may be bound
	// to. Matching is case-insensitive, no wildcard or suffix logic.
	AllowDomains []string `toml:"allow_domains"`

	// MaxActionsPerMinute caps browser actions per session per sliding
	// 60-second window.
	MaxActionsPerMinute int `toml:"max_actions_per_minute"`

	Typing Typing `toml:"typing"`

	// SameOriginOnly makes the browser abort any request whose hostname
	// differs from the page being opened.
	SameOriginOnly bool `toml:"same_origin_only"`
}

// Default returns the policy used when the config file leaves the
// section out.
func Default() Config {
	return Config{
		MaxActionsPerMinute: 30,
		Typing:              Typing{MinDelayMs: 30, MaxDelayMs: 120},
		SameOriginOnly:      true,
	}
}

// Allows reports whether hostname is in the domain allow-list.
func (c *Config) Allows(hostname string) bool {
	hostname = strings.ToLower(hostname)
	for _, d := range c.AllowDomains {
		if strings.ToLower(d) == hostname {
			return true
		}
	}
	return false
}

// SanitizeActions lower-cases the requested actions, drops anything
// outside the four known actions, and de-duplicates while preserving
// request order. The result is the fixed action set of a new session.
func SanitizeActions(requested []string) []Action {
	seen := make(map[Action]bool, len(requested))
	out := make([]Action, 0, len(requested))
	for _, r := range requested {
		a := Action(strings.ToLower(strings.TrimSpace(r)))
		if !KnownAction(a) || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// TypingDelay draws one per-character delay uniformly from the
// configured [min, max] range.
func (c *Config) TypingDelay(rng *rand.Rand) time.Duration {
	min, max := c.Typing.MinDelayMs, c.Typing.MaxDelayMs
	if max < min {
		max = min
	}
	ms := min
	if span := max - min; span > 0 {
		ms += rng.Intn(span + 1)
	}
	return time.Duration(ms) * time.Millisecond
}
