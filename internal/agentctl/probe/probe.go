// Package probe exercises a deployed runtime with scripted conversations
// across multiple sessions, to check that the runtime keeps per-session
// state isolated.
package probe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// minSessionIDLen is the shortest session identifier the runtime data
// plane accepts.
const minSessionIDLen = 33

// Invoker is the slice of the runtime manager the probe drives.
type Invoker interface {
	Invoke(ctx context.Context, arn, prompt, sessionID string) (string, error)
	StopSession(ctx context.Context, arn, sessionID string) error
}

// Step is one scripted exchange.  Session is a script-local label; the
// probe maps each distinct label to one generated session ID.
type Step struct {
	Session string
	Prompt  string
}

// Exchange is one completed step of a probe run.
type Exchange struct {
	SessionID string
	Prompt    string
	Result    string
}

// Transcript is the ordered record of a probe run.
type Transcript []Exchange

// DefaultScript is a memory check across two sessions: a fact is planted
// in session a, session b is used in between, then session a is asked to
// recall the fact.
func DefaultScript() []Step {
	return []Step{
		{Session: "a", Prompt: "My favorite color is teal. Remember that."},
		{Session: "b", Prompt: "What is the capital of France?"},
		{Session: "a", Prompt: "What is my favorite color?"},
	}
}

// Probe runs scripted conversations against one deployed runtime.
type Probe struct {
	invoker Invoker
	arn     string

	// StopSessions, when set, ends every session explicitly after the run.
	StopSessions bool
}

// New creates a Probe against the runtime identified by arn.
func New(invoker Invoker, arn string) *Probe {
	return &Probe{invoker: invoker, arn: arn}
}

// NewSessionID generates a session identifier long enough for the data
// plane's minimum.
func NewSessionID(prefix string) string {
	if prefix == "" {
		prefix = "probe"
	}
	id := fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	// A UUID alone is 36 characters, so any prefix clears the minimum.
	if len(id) < minSessionIDLen {
		panic(fmt.Sprintf("session id %q shorter than %d", id, minSessionIDLen))
	}
	return id
}

// Run executes the script in order, reusing one generated session ID per
// distinct label, and returns the transcript.  The transcript holds every
// exchange completed before an error.
func (p *Probe) Run(ctx context.Context, steps []Step) (Transcript, error) {
	sessions := make(map[string]string)
	var transcript Transcript

	for i, step := range steps {
		id, ok := sessions[step.Session]
		if !ok {
			id = NewSessionID("probe-" + step.Session)
			sessions[step.Session] = id
		}

		result, err := p.invoker.Invoke(ctx, p.arn, step.Prompt, id)
		if err != nil {
			return transcript, fmt.Errorf("probe step %d (session %s): %w", i+1, step.Session, err)
		}
		slog.Info("probe exchange", "session", step.Session, "prompt", step.Prompt, "result", result)
		transcript = append(transcript, Exchange{SessionID: id, Prompt: step.Prompt, Result: result})
	}

	if p.StopSessions {
		for label, id := range sessions {
			if err := p.invoker.StopSession(ctx, p.arn, id); err != nil {
				// The runtime expires idle sessions on its own; failing to
				// stop one is not a probe failure.
				slog.Warn("stop session failed", "session", label, "error", err)
			}
		}
	}
	return transcript, nil
}
