package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentbroker.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
listen = "127.0.0.1:9000"
secret = "file-secret"
session_ttl = "15m"
log_level = "debug"

[policy]
allow_domains = ["www.ebay.com", "reverb.com"]
max_actions_per_minute = 10
same_origin_only = true

[policy.typing]
min_delay_ms = 40
max_delay_ms = 90

[browser]
headless = true
stealth = true
selector_timeout = "8s"
`

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Secret != "file-secret" {
		t.Errorf("Secret = %q", cfg.Secret)
	}
	if cfg.SessionTTL.Std() != 15*time.Minute {
		t.Errorf("SessionTTL = %s", cfg.SessionTTL.Std())
	}
	if len(cfg.Policy.AllowDomains) != 2 || cfg.Policy.MaxActionsPerMinute != 10 {
		t.Errorf("Policy = %+v", cfg.Policy)
	}
	if cfg.Policy.Typing.MinDelayMs != 40 || cfg.Policy.Typing.MaxDelayMs != 90 {
		t.Errorf("Typing = %+v", cfg.Policy.Typing)
	}
	if cfg.Browser.SelectorTimeout.Std() != 8*time.Second {
		t.Errorf("SelectorTimeout = %s", cfg.Browser.SelectorTimeout.Std())
	}
}

func TestLoadDefaultsFill(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
secret = "s"
[policy]
allow_domains = ["www.ebay.com"]
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Listen != ":8377" {
		t.Errorf("Listen = %q, want default", cfg.Listen)
	}
	if cfg.SessionTTL.Std() != 10*time.Minute {
		t.Errorf("SessionTTL = %s, want default 10m", cfg.SessionTTL.Std())
	}
	if cfg.Policy.MaxActionsPerMinute != 30 {
		t.Errorf("MaxActionsPerMinute = %d, want default 30", cfg.Policy.MaxActionsPerMinute)
	}
	if !cfg.Browser.Headless || !cfg.Browser.Stealth {
		t.Errorf("Browser = %+v, want headless stealth defaults", cfg.Browser)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTBROKER_SECRET", "env-secret")
	t.Setenv("AGENTBROKER_LISTEN", ":7001")
	t.Setenv("AGENTBROKER_CDP_URL", "ws://127.0.0.1:9222/devtools")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Secret != "env-secret" {
		t.Errorf("Secret = %q, want env override", cfg.Secret)
	}
	if cfg.Listen != ":7001" {
		t.Errorf("Listen = %q, want env override", cfg.Listen)
	}
	if cfg.Browser.CDPURL != "ws://127.0.0.1:9222/devtools" {
		t.Errorf("CDPURL = %q, want env override", cfg.Browser.CDPURL)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing secret", `
[policy]
allow_domains = ["www.ebay.com"]
`},
		{"empty allow list", `
secret = "s"
`},
		{"zero rate limit", `
secret = "s"
[policy]
allow_domains = ["www.ebay.com"]
max_actions_per_minute = 0
`},
		{"inverted typing bounds", `
secret = "s"
[policy]
allow_domains = ["www.ebay.com"]
[policy.typing]
min_delay_ms = 100
max_delay_ms = 10
`},
		{"non-positive ttl", `
secret = "s"
session_ttl = "0s"
[policy]
allow_domains = ["www.ebay.com"]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() = nil error, want validation failure")
			}
		})
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("Std() = %s, want 90s", d.Std())
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("UnmarshalText(\"soon\") = nil error, want failure")
	}
}
