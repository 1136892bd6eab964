// Package config loads the broker configuration: a TOML file, defaults
// for anything unset, then environment overrides for the values that
// differ between deployments. The result is read-only for the life of
// the process.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/relistly/agentbroker/internal/logging"
	"github.com/relistly/agentbroker/internal/policy"
)

// Duration is a time.Duration that unmarshals from TOML strings like
// "10m" or "90s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Browser holds the browser-control settings.
type Browser struct {
	// CDPURL is a remote browser's devtools websocket endpoint. Empty
	// means launch a local headless browser instead.
	CDPURL string `toml:"cdp_url"`

	Headless  bool `toml:"headless"`
	NoSandbox bool `toml:"no_sandbox"`

	// Stealth applies anti-detection patches to every page.
	Stealth bool `toml:"stealth"`

	// SelectorTimeout bounds how long fill/upload/click wait for a
	// selector to resolve before failing with BAD_SELECTOR.
	SelectorTimeout Duration `toml:"selector_timeout"`
}

// Config is the full broker configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `toml:"listen"`

	// Secret signs and verifies session tokens. Required.
	Secret string `toml:"secret"`

	// SessionTTL is the ceiling on session lifetime; sessions expire at
	// the earlier of the token expiry and now+SessionTTL.
	SessionTTL Duration `toml:"session_ttl"`

	LogLevel string `toml:"log_level"`

	Policy  policy.Config `toml:"policy"`
	Browser Browser       `toml:"browser"`
}

func defaults() *Config {
	return &Config{
		Listen:     ":8377",
		SessionTTL: Duration(10 * time.Minute),
		LogLevel:   "info",
		Policy:     policy.Default(),
		Browser: Browser{
			Headless:        true,
			Stealth:         true,
			SelectorTimeout: Duration(5 * time.Second),
		},
	}
}

// Load reads path (optional), layers environment overrides on top, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		logging.L_debug("config: loaded file", "path", path)
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENTBROKER_SECRET"); v != "" {
		cfg.Secret = v
	}
	if v := os.Getenv("AGENTBROKER_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("AGENTBROKER_CDP_URL"); v != "" {
		cfg.Browser.CDPURL = v
	}
}

func (c *Config) validate() error {
	if c.Secret == "" {
		return fmt.Errorf("config: secret is required (set AGENTBROKER_SECRET or the secret key)")
	}
	if len(c.Policy.AllowDomains) == 0 {
		return fmt.Errorf("config: policy.allow_domains must list at least one hostname")
	}
	if c.Policy.MaxActionsPerMinute <= 0 {
		return fmt.Errorf("config: policy.max_actions_per_minute must be positive")
	}
	t := c.Policy.Typing
	if t.MinDelayMs < 0 || t.MaxDelayMs < t.MinDelayMs {
		return fmt.Errorf("config: policy.typing delay bounds invalid (min=%d max=%d)", t.MinDelayMs, t.MaxDelayMs)
	}
	if c.SessionTTL.Std() <= 0 {
		return fmt.Errorf("config: session_ttl must be positive")
	}
	return nil
}

// LogLevelValue maps the configured level name to a logging level.
func (c *Config) LogLevelValue() int {
	switch c.LogLevel {
	case "trace":
		return logging.LevelTrace
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
