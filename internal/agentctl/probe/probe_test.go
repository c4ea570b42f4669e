package probe

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type call struct {
	prompt    string
	sessionID string
}

type fakeInvoker struct {
	calls   []call
	stopped []string
	failAt  int // 1-based call index to fail at, 0 for never
}

func (f *fakeInvoker) Invoke(ctx context.Context, arn, prompt, sessionID string) (string, error) {
	f.calls = append(f.calls, call{prompt: prompt, sessionID: sessionID})
	if f.failAt != 0 && len(f.calls) == f.failAt {
		return "", errors.New("throttled")
	}
	return "ack: " + prompt, nil
}

func (f *fakeInvoker) StopSession(ctx context.Context, arn, sessionID string) error {
	f.stopped = append(f.stopped, sessionID)
	return nil
}

func TestRunPassesSessionIDsVerbatimInScriptOrder(t *testing.T) {
	inv := &fakeInvoker{}
	p := New(inv, "arn:aws:bedrock-agentcore:eu-west-1:123456789012:runtime/rt-0001")

	transcript, err := p.Run(context.Background(), DefaultScript())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(inv.calls) != 3 {
		t.Fatalf("got %d invocations, want 3", len(inv.calls))
	}

	// Same label, same session; different labels, different sessions.
	if inv.calls[0].sessionID != inv.calls[2].sessionID {
		t.Errorf("session a diverged: %q vs %q", inv.calls[0].sessionID, inv.calls[2].sessionID)
	}
	if inv.calls[0].sessionID == inv.calls[1].sessionID {
		t.Errorf("sessions a and b share an ID: %q", inv.calls[0].sessionID)
	}

	// The transcript mirrors what was actually sent, in order.
	for i, ex := range transcript {
		if ex.SessionID != inv.calls[i].sessionID || ex.Prompt != inv.calls[i].prompt {
			t.Errorf("transcript[%d] = %+v, calls[%d] = %+v", i, ex, i, inv.calls[i])
		}
	}
}

func TestSessionIDsMeetMinimumLength(t *testing.T) {
	for _, prefix := range []string{"", "x", "probe-a"} {
		id := NewSessionID(prefix)
		if len(id) < minSessionIDLen {
			t.Errorf("NewSessionID(%q) = %q, shorter than %d", prefix, id, minSessionIDLen)
		}
	}
	if NewSessionID("a") == NewSessionID("a") {
		t.Error("session IDs must be unique per call")
	}
}

func TestRunStopsSessionsWhenAsked(t *testing.T) {
	inv := &fakeInvoker{}
	p := New(inv, "arn")
	p.StopSessions = true

	if _, err := p.Run(context.Background(), DefaultScript()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(inv.stopped) != 2 {
		t.Errorf("stopped %d sessions, want 2", len(inv.stopped))
	}
	seen := map[string]bool{}
	for _, id := range inv.stopped {
		if seen[id] {
			t.Errorf("session %q stopped twice", id)
		}
		seen[id] = true
	}
}

func TestRunKeepsTranscriptUpToFailure(t *testing.T) {
	inv := &fakeInvoker{failAt: 2}
	p := New(inv, "arn")

	transcript, err := p.Run(context.Background(), DefaultScript())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "step 2") {
		t.Errorf("error should name the failing step: %v", err)
	}
	if len(transcript) != 1 {
		t.Errorf("transcript has %d exchanges, want the 1 completed before the failure", len(transcript))
	}
}
