package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws-samples/agentcore-deploy/common/clock"
	"github.com/aws-samples/agentcore-deploy/common/retry"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/errdefs"
)

// ControlPlane abstracts the runtime service's management API.
// Implementations must translate "already exists" and "not found" into the
// tagged Lookup result and idempotent-delete semantics described on each
// method, so the Manager never branches on service error strings.
type ControlPlane interface {
	// Create provisions a new named instance and returns it in its initial
	// (in-flight) status.
	Create(ctx context.Context, name, imageURI, roleArn string) (Instance, error)

	// Update points an existing instance at a new image/role and returns it
	// in its in-flight status.
	Update(ctx context.Context, id, imageURI, roleArn string) (Instance, error)

	// Get reads current instance state.  A missing instance is reported as
	// Status == StatusAbsent, not as an error.
	Get(ctx context.Context, id string) (Instance, error)

	// FindByName resolves a deployment name to the tagged Lookup result.
	FindByName(ctx context.Context, name string) (Lookup, error)

	// Delete removes the instance.  Deleting an absent instance succeeds.
	Delete(ctx context.Context, id string) error
}

// DataPlane abstracts the runtime service's invocation API.
type DataPlane interface {
	// Invoke performs one synchronous call.  sessionID, when non-empty, is
	// passed through verbatim; the manager has no session semantics.
	Invoke(ctx context.Context, arn string, payload []byte, sessionID string) ([]byte, error)

	// StopSession terminates a runtime session explicitly.
	StopSession(ctx context.Context, arn, sessionID string) error
}

// InvocationRequest is the wire payload the deployed agent consumes.
type InvocationRequest struct {
	Prompt string `json:"prompt"`
}

// InvocationResponse is the wire payload the deployed agent produces.
type InvocationResponse struct {
	Result string `json:"result"`
}

// ManagerConfig tunes the wait loop.
type ManagerConfig struct {
	// PollInterval is the status-read cadence (default 10s).
	PollInterval time.Duration
	// ReadyTimeout bounds the wait for READY (default 10m).
	ReadyTimeout time.Duration
	// Clock is injectable for tests; defaults to clock.Real.
	Clock clock.Clock
	// Retry bounds automatic retries of transient control-plane failures.
	Retry retry.Config
}

// Manager drives the instance lifecycle against a ControlPlane/DataPlane
// pair.  It is stateless: every operation takes explicit identifiers, and
// all durable state lives in the remote service.
type Manager struct {
	cp  ControlPlane
	dp  DataPlane
	cfg ManagerConfig
}

// NewManager creates a Manager.
func NewManager(cp ControlPlane, dp DataPlane, cfg ManagerConfig) *Manager {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 10 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	cfg.Retry.ShouldRetry = errdefs.IsRetryable
	return &Manager{cp: cp, dp: dp, cfg: cfg}
}

// Deploy creates the named instance, or updates it when one already exists,
// then waits until it reaches READY.  The lookup-then-branch is what makes
// redeploys of the same name safe.
func (m *Manager) Deploy(ctx context.Context, name, imageURI, roleArn string) (Instance, error) {
	lookup, err := m.Find(ctx, name)
	if err != nil {
		return Instance{}, err
	}

	var inst Instance
	switch lookup.Outcome {
	case LookupAbsent:
		slog.Info("creating runtime", "name", name, "image", imageURI)
		err = retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) error {
			var cerr error
			inst, cerr = m.cp.Create(ctx, name, imageURI, roleArn)
			return cerr
		})
		if err != nil {
			return Instance{}, fmt.Errorf("create runtime %q: %w", name, err)
		}
	case LookupExisting:
		slog.Info("runtime already exists, updating", "name", name, "id", lookup.ID)
		err = retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) error {
			var uerr error
			inst, uerr = m.cp.Update(ctx, lookup.ID, imageURI, roleArn)
			return uerr
		})
		if err != nil {
			return Instance{}, fmt.Errorf("update runtime %s: %w", lookup.ID, err)
		}
	}

	return m.WaitReady(ctx, inst.ID)
}

// Find resolves a deployment name to the tagged lookup result, retrying
// transient control-plane failures.
func (m *Manager) Find(ctx context.Context, name string) (Lookup, error) {
	var lookup Lookup
	err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) error {
		var err error
		lookup, err = m.cp.FindByName(ctx, name)
		return err
	})
	if err != nil {
		return Lookup{}, fmt.Errorf("lookup runtime %q: %w", name, err)
	}
	return lookup, nil
}

// WaitReady polls the instance until READY, FAILED, or the configured
// ceiling.  On timeout the instance is left in place.
func (m *Manager) WaitReady(ctx context.Context, id string) (Instance, error) {
	w := Waiter{
		Op:       "wait for runtime READY",
		Interval: m.cfg.PollInterval,
		Timeout:  m.cfg.ReadyTimeout,
		Clock:    m.cfg.Clock,
	}
	return w.Wait(ctx, func(ctx context.Context) (Instance, error) {
		var inst Instance
		err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) error {
			var err error
			inst, err = m.cp.Get(ctx, id)
			return err
		})
		return inst, err
	}, UntilTerminal)
}

// Invoke sends one prompt to the deployed agent and returns its result
// text.  sessionID is forwarded untouched when non-empty.
func (m *Manager) Invoke(ctx context.Context, arn, prompt, sessionID string) (string, error) {
	payload, err := json.Marshal(InvocationRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	raw, err := m.dp.Invoke(ctx, arn, payload, sessionID)
	if err != nil {
		return "", fmt.Errorf("invoke runtime: %w", err)
	}

	var resp InvocationResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Result == "" {
		// The agent answered with something other than the documented
		// envelope; hand the raw body back rather than dropping it.
		return string(raw), nil
	}
	return resp.Result, nil
}

// StopSession ends a runtime session explicitly.
func (m *Manager) StopSession(ctx context.Context, arn, sessionID string) error {
	if err := m.dp.StopSession(ctx, arn, sessionID); err != nil {
		return fmt.Errorf("stop session %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes the instance and, when wait is set, polls until it reads
// as absent.  Deleting an already-deleted or never-created instance is
// success.
func (m *Manager) Delete(ctx context.Context, id string, wait bool) error {
	err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) error {
		return m.cp.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete runtime %s: %w", id, err)
	}
	if !wait {
		return nil
	}

	w := Waiter{
		Op:       "wait for runtime DELETED",
		Interval: m.cfg.PollInterval,
		Timeout:  m.cfg.ReadyTimeout,
		Clock:    m.cfg.Clock,
	}
	_, err = w.Wait(ctx, func(ctx context.Context) (Instance, error) {
		return m.cp.Get(ctx, id)
	}, UntilGone)
	return err
}
