package browser

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/relistly/agentbroker/internal/config"
	. "github.com/relistly/agentbroker/internal/logging"
	"github.com/relistly/agentbroker/internal/policy"
	"github.com/relistly/agentbroker/internal/session"
	"github.com/relistly/agentbroker/internal/wire"
)

// FillStep is one field assignment in a fill request.
type FillStep struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// PageState is the side-effect-free view of a session's tab.
type PageState struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// tab is the browser state owned by one session.
type tab struct {
	page   *rod.Page
	router *rod.HijackRouter

	// allowedHost is the hostname cross-origin interception pins
	// requests to. Updated on every open.
	mu          sync.Mutex
	allowedHost string
}

func (t *tab) setAllowedHost(host string) {
	t.mu.Lock()
	t.allowedHost = host
	t.mu.Unlock()
}

func (t *tab) getAllowedHost() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowedHost
}

// Controller executes the four session actions against real browser
// tabs. One tab per session, created lazily, closed exactly once via
// ClosePage.
type Controller struct {
	launcher   *Launcher
	typer      Typer
	selTimeout time.Duration
	sameOrigin bool

	mu   sync.Mutex
	tabs map[string]*tab
}

// NewController wires the controller to its launcher and policy.
func NewController(l *Launcher, pol policy.Config, cfg config.Browser) *Controller {
	return &Controller{
		launcher:   l,
		typer:      NewHumanTyper(pol),
		selTimeout: cfg.SelectorTimeout.Std(),
		sameOrigin: pol.SameOriginOnly,
		tabs:       make(map[string]*tab),
	}
}

// SetTyper replaces the pacing policy; used by tests.
func (c *Controller) SetTyper(t Typer) { c.typer = t }

// getTab returns the session's tab, creating it on first use.
func (c *Controller) getTab(s *session.Session) (*tab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tabs[s.ID]; ok {
		return t, nil
	}

	page, err := c.launcher.NewPage()
	if err != nil {
		return nil, wire.AgentError("failed to create browser tab: %v", err)
	}

	t := &tab{page: page}
	if c.sameOrigin {
		t.router = page.HijackRequests()
		err := t.router.Add("*", "", func(ctx *rod.Hijack) {
			host := strings.ToLower(ctx.Request.URL().Hostname())
			allowed := t.getAllowedHost()
			if allowed != "" && host != allowed {
				L_trace("browser: blocked cross-origin request", "session", s.ID, "host", host)
				ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
			ctx.ContinueRequest(&proto.FetchContinueRequest{})
		})
		if err != nil {
			page.Close()
			return nil, wire.AgentError("failed to install request interception: %v", err)
		}
		go t.router.Run()
	}

	c.tabs[s.ID] = t
	L_debug("browser: tab created", "session", s.ID)
	return t, nil
}

// Open navigates the session's tab to url and waits for the page to
// settle. Emits OPENING before navigation and OPENED_FORM after, plus
// best-effort NEEDS_LOGIN / CHALLENGE_DETECTED probes.
func (c *Controller) Open(s *session.Session, rawURL string) error {
	s.Bus.Publish(wire.EventOpening, map[string]any{"url": rawURL})

	t, err := c.getTab(s)
	if err != nil {
		return err
	}
	t.setAllowedHost(s.Domain)

	page := t.page.Timeout(30 * time.Second)
	if err := page.Navigate(rawURL); err != nil {
		return wire.AgentError("navigation to %s failed: %v", rawURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		L_warn("browser: load wait timed out", "session", s.ID, "url", rawURL)
	}
	// Settle dynamic form scaffolding before reporting the page open.
	if err := t.page.Timeout(3 * time.Second).WaitStable(500 * time.Millisecond); err != nil {
		L_trace("browser: page did not stabilize", "session", s.ID)
	}

	info, err := t.page.Info()
	if err != nil {
		return wire.AgentError("failed to read page info: %v", err)
	}

	s.Bus.Publish(wire.EventOpenedForm, map[string]any{"url": info.URL, "title": info.Title})
	L_info("browser: opened", "session", s.ID, "url", info.URL)

	c.probeInterstitials(s, t.page)
	return nil
}

// probeInterstitials looks for login walls and bot challenges on the
// freshly opened page. Advisory only; failures are ignored.
func (c *Controller) probeInterstitials(s *session.Session, page *rod.Page) {
	if has, _, err := page.Has(`input[type="password"]`); err == nil && has {
		s.Bus.Publish(wire.EventNeedsLogin, nil)
		L_info("browser: login form detected", "session", s.ID)
		return
	}
	challenge := `iframe[src*="captcha"], iframe[src*="challenge"], #challenge-form, #cf-challenge-running`
	if has, _, err := page.Has(challenge); err == nil && has {
		s.Bus.Publish(wire.EventChallengeDetected, nil)
		L_info("browser: bot challenge detected", "session", s.ID)
	}
}

// element resolves a selector within the bounded wait, mapping any
// failure to BAD_SELECTOR.
func (c *Controller) element(t *tab, selector string) (*rod.Element, error) {
	el, err := t.page.Timeout(c.selTimeout).Element(selector)
	if err != nil {
		return nil, wire.BadSelector(selector)
	}
	return el, nil
}

// Fill replaces the content of each addressed field, typing the new
// text at a human pace. Emits FILLED_FIELDS once every step succeeded.
func (c *Controller) Fill(s *session.Session, steps []FillStep) error {
	t, err := c.getTab(s)
	if err != nil {
		return err
	}

	for _, step := range steps {
		el, err := c.element(t, step.Selector)
		if err != nil {
			return err
		}

		// Triple-click selects any existing content, backspace clears
		// it, then the replacement is typed character by character.
		if err := el.Click(proto.InputMouseButtonLeft, 3); err != nil {
			return wire.AgentError("failed to focus %s: %v", step.Selector, err)
		}
		if err := t.page.Keyboard.Press(input.Backspace); err != nil {
			return wire.AgentError("failed to clear %s: %v", step.Selector, err)
		}

		err = c.typer.Type(step.Text, func(chunk string) error {
			return el.Input(chunk)
		})
		if err != nil {
			return wire.AgentError("typing into %s failed: %v", step.Selector, err)
		}
		L_debug("browser: filled field", "session", s.ID, "selector", step.Selector, "chars", len(step.Text))
	}

	s.Bus.Publish(wire.EventFilledFields, map[string]any{"count": len(steps)})
	return nil
}

// Upload attaches the given files to a file input.
func (c *Controller) Upload(s *session.Session, selector string, files []string) error {
	t, err := c.getTab(s)
	if err != nil {
		return err
	}

	paths, err := ResolveFilePaths(files)
	if err != nil {
		return wire.InvalidRequest("%v", err)
	}

	el, err := c.element(t, selector)
	if err != nil {
		return err
	}
	if err := el.SetFiles(paths); err != nil {
		return wire.AgentError("failed to attach files to %s: %v", selector, err)
	}

	s.Bus.Publish(wire.EventUploadedImages, map[string]any{"count": len(paths)})
	L_info("browser: uploaded files", "session", s.ID, "count", len(paths))
	return nil
}

// Click clicks the addressed element, then waits best-effort for the
// resulting navigation. Emits SUBMITTED on click and PUBLISHED with
// the post-navigation URL.
func (c *Controller) Click(s *session.Session, selector string) error {
	t, err := c.getTab(s)
	if err != nil {
		return err
	}

	el, err := c.element(t, selector)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		L_warn("browser: scroll into view failed", "session", s.ID, "error", err)
	}

	// A submit click straight after page load is a bot tell.
	time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return wire.AgentError("click on %s failed: %v", selector, err)
	}
	s.Bus.Publish(wire.EventSubmitted, map[string]any{"selector": selector})

	// Navigation after submit is expected but not guaranteed; a timeout
	// here is not an error.
	if err := t.page.Timeout(10 * time.Second).WaitStable(time.Second); err != nil {
		L_debug("browser: no stable state after click", "session", s.ID)
	}

	info, err := t.page.Info()
	if err != nil {
		return wire.AgentError("failed to read page info: %v", err)
	}
	s.Bus.Publish(wire.EventPublished, map[string]any{"url": info.URL})
	L_info("browser: submitted", "session", s.ID, "url", info.URL)
	return nil
}

// State returns the tab's current URL and title. Pure read: a session
// that never opened a page has no tab, and State will not create one.
func (c *Controller) State(s *session.Session) (*PageState, error) {
	c.mu.Lock()
	t, ok := c.tabs[s.ID]
	c.mu.Unlock()
	if !ok {
		return nil, wire.AgentError("session %s has no open page", s.ID)
	}

	info, err := t.page.Info()
	if err != nil {
		return nil, wire.AgentError("failed to read page info: %v", err)
	}
	return &PageState{URL: info.URL, Title: info.Title}, nil
}

// ClosePage releases the tab owned by sessionID. Idempotent; called by
// the session manager on cancel, consent denial, and expiry.
func (c *Controller) ClosePage(sessionID string) {
	c.mu.Lock()
	t, ok := c.tabs[sessionID]
	delete(c.tabs, sessionID)
	c.mu.Unlock()

	if !ok {
		return
	}
	if t.router != nil {
		if err := t.router.Stop(); err != nil {
			L_trace("browser: hijack router stop failed", "session", sessionID, "error", err)
		}
	}
	if err := t.page.Close(); err != nil {
		L_warn("browser: tab close failed", "session", sessionID, "error", err)
	}
	L_debug("browser: tab closed", "session", sessionID)
}

// CloseAll tears down every tab; used at shutdown.
func (c *Controller) CloseAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.tabs))
	for id := range c.tabs {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.ClosePage(id)
	}
	if len(ids) > 0 {
		L_info("browser: closed all tabs", "count", len(ids))
	}
}

var _ session.PageCloser = (*Controller)(nil)

// String describes the controller for debug logs.
func (c *Controller) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("browser.Controller(tabs=%d)", len(c.tabs))
}
