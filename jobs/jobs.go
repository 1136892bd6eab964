// Package jobs runs ordered automation plans against a broker session.
// It is the only layer that recovers from an error locally: a step that
// fails because the user has not consented yet is retried on a fixed
// interval until an attempt ceiling, everything else is terminal.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relistly/agentbroker/client"
	"github.com/relistly/agentbroker/internal/wire"
)

// StepKind names the plan step types.
type StepKind string

const (
	StepOpen   StepKind = "open"
	StepFill   StepKind = "fill"
	StepUpload StepKind = "upload"
	StepClick  StepKind = "click"
	StepWait   StepKind = "wait"
)

// Step is one entry of an automation plan. Which fields matter depends
// on Kind: URL for open, Fields for fill, Selector+Files for upload,
// Selector for click, Event+Timeout for wait.
type Step struct {
	Kind StepKind

	URL      string
	Fields   []client.Field
	Selector string
	Files    []string

	Event   string
	Timeout time.Duration
}

// Runner executes plans through the SDK.
type Runner struct {
	client *client.Client

	// ConsentInterval and ConsentAttempts bound the retry loop on
	// CONSENT_REQUIRED: sleep the interval between attempts, give up
	// after the cap.
	ConsentInterval time.Duration
	ConsentAttempts int

	// WaitTimeout is the default bound on wait steps that don't carry
	// their own.
	WaitTimeout time.Duration
}

// NewRunner creates a runner with defaults suited to a human answering
// a consent prompt: retry every 2 seconds for up to a minute.
func NewRunner(c *client.Client) *Runner {
	return &Runner{
		client:          c,
		ConsentInterval: 2 * time.Second,
		ConsentAttempts: 30,
		WaitTimeout:     30 * time.Second,
	}
}

// ErrConsentTimeout is returned when the user never granted consent
// within the retry budget.
var ErrConsentTimeout = errors.New("consent not granted in time")

// Run executes the steps in order against sessionID. The session's
// event stream is consumed for the duration of the run so wait steps
// can block on specific event types.
func (r *Runner) Run(ctx context.Context, sessionID string, steps []Step) error {
	frames, err := r.client.Stream(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	w := newWaiters(frames)
	defer w.stop()

	for i, step := range steps {
		if err := r.runStep(ctx, sessionID, step, w); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Kind, err)
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, sessionID string, step Step, w *waiters) error {
	switch step.Kind {
	case StepOpen:
		return r.withConsentRetry(ctx, func() error {
			return r.client.Open(ctx, sessionID, step.URL)
		})
	case StepFill:
		return r.withConsentRetry(ctx, func() error {
			return r.client.Fill(ctx, sessionID, step.Fields)
		})
	case StepUpload:
		return r.withConsentRetry(ctx, func() error {
			return r.client.Upload(ctx, sessionID, step.Selector, step.Files)
		})
	case StepClick:
		return r.withConsentRetry(ctx, func() error {
			return r.client.Click(ctx, sessionID, step.Selector)
		})
	case StepWait:
		timeout := step.Timeout
		if timeout <= 0 {
			timeout = r.WaitTimeout
		}
		return w.wait(ctx, step.Event, timeout)
	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// withConsentRetry calls fn, retrying only while the broker reports
// CONSENT_REQUIRED. Any other failure propagates immediately.
func (r *Runner) withConsentRetry(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt < r.ConsentAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isConsentRequired(err) {
			return err
		}

		select {
		case <-time.After(r.ConsentInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ErrConsentTimeout
}

// isConsentRequired branches on the error's wire code, never on its
// message text.
func isConsentRequired(err error) bool {
	var we *wire.Error
	return errors.As(err, &we) && we.Code == wire.CodeConsentRequired
}
