package browser

import (
	"math/rand"
	"time"

	"github.com/relistly/agentbroker/internal/policy"
)

// Typer paces text entry into a form field. It feeds emit one chunk at
// a time, pausing between chunks; the pacing is the anti-detection
// layer, what emit does with each chunk is the caller's business.
type Typer interface {
	Type(text string, emit func(chunk string) error) error
}

// humanTyper emits one character at a time with a random delay drawn
// from the policy's typing bounds, approximating human keystroke
// cadence.
type humanTyper struct {
	pol   policy.Config
	rng   *rand.Rand
	sleep func(time.Duration)
}

// NewHumanTyper builds the production typer.
func NewHumanTyper(pol policy.Config) Typer {
	return &humanTyper{
		pol:   pol,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: time.Sleep,
	}
}

func (t *humanTyper) Type(text string, emit func(string) error) error {
	for _, r := range text {
		if err := emit(string(r)); err != nil {
			return err
		}
		t.sleep(t.pol.TypingDelay(t.rng))
	}
	return nil
}
