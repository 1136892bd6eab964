package policy

import (
	"math/rand"
	"testing"
	"time"
)

func TestSanitizeActions(t *testing.T) {
	tests := []struct {
		name      string
		requested []string
		want      []Action
	}{
		{"all four", []string{"open", "fill", "upload", "click"}, []Action{ActionOpen, ActionFill, ActionUpload, ActionClick}},
		{"mixed case", []string{"Open", "FILL"}, []Action{ActionOpen, ActionFill}},
		{"whitespace", []string{" open ", "click"}, []Action{ActionOpen, ActionClick}},
		{"unknown dropped", []string{"open", "delete", "drop-tables"}, []Action{ActionOpen}},
		{"duplicates collapse", []string{"fill", "fill", "open", "fill"}, []Action{ActionFill, ActionOpen}},
		{"all unknown", []string{"navigate", "scrape"}, []Action{}},
		{"empty", nil, []Action{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeActions(tt.requested)
			if len(got) != len(tt.want) {
				t.Fatalf("SanitizeActions(%v) = %v, want %v", tt.requested, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("SanitizeActions(%v)[%d] = %q, want %q", tt.requested, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAllows(t *testing.T) {
	cfg := Config{AllowDomains: []string{"www.ebay.com", "Reverb.com"}}

	tests := []struct {
		hostname string
		want     bool
	}{
		{"www.ebay.com", true},
		{"WWW.EBAY.COM", true},
		{"reverb.com", true},
		{"ebay.com", false},          // no suffix matching
		{"evil-www.ebay.com", false}, // no substring matching
		{"", false},
	}

	for _, tt := range tests {
		if got := cfg.Allows(tt.hostname); got != tt.want {
			t.Errorf("Allows(%q) = %v, want %v", tt.hostname, got, tt.want)
		}
	}
}

func TestKnownAction(t *testing.T) {
	for _, a := range []Action{ActionOpen, ActionFill, ActionUpload, ActionClick} {
		if !KnownAction(a) {
			t.Errorf("KnownAction(%q) = false, want true", a)
		}
	}
	if KnownAction("scrape") {
		t.Error("KnownAction(\"scrape\") = true, want false")
	}
}

func TestTypingDelayBounds(t *testing.T) {
	cfg := Config{Typing: Typing{MinDelayMs: 30, MaxDelayMs: 120}}
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		d := cfg.TypingDelay(rng)
		if d < 30*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("TypingDelay() = %s, want within [30ms, 120ms]", d)
		}
	}
}

func TestTypingDelayDegenerateRange(t *testing.T) {
	cfg := Config{Typing: Typing{MinDelayMs: 50, MaxDelayMs: 50}}
	rng := rand.New(rand.NewSource(1))

	if d := cfg.TypingDelay(rng); d != 50*time.Millisecond {
		t.Errorf("TypingDelay() = %s, want 50ms", d)
	}

	// max below min falls back to min rather than panicking
	cfg = Config{Typing: Typing{MinDelayMs: 40, MaxDelayMs: 10}}
	if d := cfg.TypingDelay(rng); d != 40*time.Millisecond {
		t.Errorf("TypingDelay() = %s, want 40ms", d)
	}
}
