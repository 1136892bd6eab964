// Package browser drives one real browser tab per session over CDP and
// emits lifecycle events as it goes. Policy is enforced again at this
// boundary: navigation is pinned to the session's domain and, when
// configured, cross-origin requests are aborted in-flight.
package browser

import (
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/relistly/agentbroker/internal/config"
	. "github.com/relistly/agentbroker/internal/logging"
)

// Launcher owns the single browser process (or remote CDP connection)
// shared by all sessions. Pages are created per session; the browser
// itself is created lazily on first use and reused.
type Launcher struct {
	cfg config.Browser

	mu      sync.Mutex
	browser *rod.Browser
}

// NewLauncher creates a launcher for the given browser settings.
func NewLauncher(cfg config.Browser) *Launcher {
	return &Launcher{cfg: cfg}
}

// Browser returns the shared browser, connecting or launching it on
// first call.
func (l *Launcher) Browser() (*rod.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browser != nil {
		if l.connected() {
			return l.browser, nil
		}
		L_warn("browser: connection lost, reconnecting")
		l.browser = nil
	}

	if l.cfg.CDPURL != "" {
		browser := rod.New().ControlURL(l.cfg.CDPURL)
		if err := browser.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to browser at %s: %w", l.cfg.CDPURL, err)
		}
		L_info("browser: connected", "endpoint", l.cfg.CDPURL)
		l.browser = browser
		return browser, nil
	}

	opts := launcher.New().
		Headless(l.cfg.Headless).
		Set("disable-dev-shm-usage")

	if !l.cfg.Headless {
		opts = opts.Set("window-size", "1920,1080").
			Set("start-maximized")
	}
	if l.cfg.Stealth {
		opts = opts.Set("disable-blink-features", "AutomationControlled")
	}
	if l.cfg.NoSandbox {
		opts = opts.Set("no-sandbox")
	}

	controlURL, err := opts.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to launched browser: %w", err)
	}

	L_info("browser: launched", "controlURL", controlURL, "headless", l.cfg.Headless)
	l.browser = browser
	return browser, nil
}

// connected probes the browser with a trivial CDP call. Recovers from
// the panic rod raises when the client is already dead.
func (l *Launcher) connected() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	_, err := l.browser.Call(nil, "", "Browser.getVersion", nil)
	return err == nil
}

// NewPage creates a fresh tab, stealth-patched when configured.
func (l *Launcher) NewPage() (*rod.Page, error) {
	browser, err := l.Browser()
	if err != nil {
		return nil, err
	}
	if l.cfg.Stealth {
		return stealth.Page(browser)
	}
	return browser.Page(proto.TargetCreateTarget{})
}

// Close shuts the browser down. Remote CDP browsers are left running;
// only the connection is dropped.
func (l *Launcher) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browser == nil {
		return
	}
	if l.cfg.CDPURL == "" {
		l.browser.Close()
		L_debug("browser: closed")
	}
	l.browser = nil
}
