package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws-samples/agentcore-deploy/common/clock"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/errdefs"
)

// decision is the outcome of one status observation.
type decision int

const (
	keepPolling decision = iota
	done
	failed
)

// DecideFunc is a pure transition function: it inspects one observed status
// and says whether the wait is over.  It never sleeps and never mutates.
type DecideFunc func(Status) decision

// UntilTerminal ends the wait when the instance reaches READY or FAILED.
func UntilTerminal(s Status) decision {
	switch s {
	case StatusReady:
		return done
	case StatusFailed:
		return failed
	default:
		return keepPolling
	}
}

// UntilGone ends the wait when the instance no longer exists.
func UntilGone(s Status) decision {
	switch s {
	case StatusAbsent, StatusDeleted:
		return done
	case StatusFailed:
		return failed
	default:
		return keepPolling
	}
}

// Waiter polls an instance status at a fixed interval until a DecideFunc
// says stop or the ceiling elapses.  Each poll is a single idempotent read;
// no mutation happens while waiting.  On timeout the instance is left in
// place and the caller decides what to do with it.
type Waiter struct {
	// Op names the wait for logs and timeout errors.
	Op string
	// Interval is the poll cadence.
	Interval time.Duration
	// Timeout bounds the total wait.
	Timeout time.Duration
	// Clock defaults to clock.Real.
	Clock clock.Clock
}

// Wait polls read until decide reports done or failed, or Timeout elapses.
// The last observed instance is returned alongside any error so the caller
// still sees the partial state.
func (w Waiter) Wait(ctx context.Context, read func(context.Context) (Instance, error), decide DecideFunc) (Instance, error) {
	clk := w.Clock
	if clk == nil {
		clk = clock.Real
	}
	start := clk.Now()

	var inst Instance
	for {
		var err error
		inst, err = read(ctx)
		if err != nil {
			return inst, err
		}

		slog.Debug("poll", "op", w.Op, "id", inst.ID, "status", inst.RemoteStatus)

		switch decide(inst.Status) {
		case done:
			return inst, nil
		case failed:
			return inst, &errdefs.InstanceError{Status: inst.RemoteStatus, Reason: inst.Reason}
		}

		elapsed := clk.Now().Sub(start)
		if elapsed+w.Interval > w.Timeout {
			return inst, &errdefs.TimeoutError{Op: w.Op, Elapsed: elapsed}
		}
		if err := clk.Sleep(ctx, w.Interval); err != nil {
			return inst, err
		}
	}
}
