// Package orchestrator sequences the provisioning steps of one deployment:
// repository, image, role, runtime.  It holds no state of its own; each
// step queries the remote service and converges it, so a failed run can be
// re-run from the top.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/aws-samples/agentcore-deploy/internal/agentctl/build"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/config"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/errdefs"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/history"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/registry"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/runtime"
)

// Registry is the repository side of provisioning.  *registry.Manager
// satisfies it.
type Registry interface {
	EnsureRepository(ctx context.Context, name string) (registry.Repository, error)
	DeleteRepository(ctx context.Context, name string, force bool) error
}

// Roles is the IAM side of provisioning.  *role.Manager satisfies it.
type Roles interface {
	EnsureExecutionRole(ctx context.Context, name string) (string, error)
	DeleteRole(ctx context.Context, name string) error
}

// Runtime is the instance lifecycle.  *runtime.Manager satisfies it.
type Runtime interface {
	Deploy(ctx context.Context, name, imageURI, roleArn string) (runtime.Instance, error)
	Find(ctx context.Context, name string) (runtime.Lookup, error)
	Invoke(ctx context.Context, arn, prompt, sessionID string) (string, error)
	Delete(ctx context.Context, id string, wait bool) error
}

// Recorder receives deployment events.  *history.Log satisfies it.
// Recording is advisory: failures are logged, never propagated.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Orchestrator runs deployments end to end.
type Orchestrator struct {
	spec     config.Spec
	registry Registry
	builder  build.Builder
	roles    Roles
	runtime  Runtime
	recorder Recorder
}

// New creates an Orchestrator.  recorder may be nil.
func New(spec config.Spec, reg Registry, builder build.Builder, roles Roles, rt Runtime, recorder Recorder) *Orchestrator {
	return &Orchestrator{
		spec:     spec,
		registry: reg,
		builder:  builder,
		roles:    roles,
		runtime:  rt,
		recorder: recorder,
	}
}

// Deploy provisions everything the deployment needs and blocks until the
// runtime reports READY.  Every step is individually idempotent, so Deploy
// can be re-run after a failure and picks up where the resources are.
func (o *Orchestrator) Deploy(ctx context.Context) (runtime.Instance, error) {
	state := map[string]string{}

	fail := func(step string, err error) error {
		o.record(ctx, step, "error", err.Error())
		return &errdefs.StepError{Step: step, State: maps.Clone(state), Err: err}
	}

	repo, err := o.registry.EnsureRepository(ctx, o.spec.RepositoryName())
	if err != nil {
		return runtime.Instance{}, fail("registry", err)
	}
	state["repository"] = repo.URI
	o.record(ctx, "registry", "ok", repo.URI)

	imageURI := repo.URI + ":" + o.spec.ImageTag
	art, err := o.builder.Build(ctx, build.Request{
		SourceDir:  o.spec.SourceDir,
		ImageURI:   imageURI,
		TargetArch: config.TargetArch,
	})
	if err != nil {
		return runtime.Instance{}, fail("build", err)
	}
	state["image"] = art.ImageURI
	o.record(ctx, "build", "ok", art.ImageURI)

	roleArn := o.spec.ExecutionRoleArn
	if roleArn == "" {
		roleArn, err = o.roles.EnsureExecutionRole(ctx, o.spec.ExecutionRoleName())
		if err != nil {
			return runtime.Instance{}, fail("role", err)
		}
	}
	state["role"] = roleArn
	o.record(ctx, "role", "ok", roleArn)

	inst, err := o.runtime.Deploy(ctx, o.spec.Name, art.ImageURI, roleArn)
	if err != nil {
		return runtime.Instance{}, fail("runtime", err)
	}
	state["runtime"] = inst.ARN
	o.record(ctx, "runtime", "ok", inst.ARN)

	slog.Info("deployment ready", "name", o.spec.Name, "arn", inst.ARN)
	return inst, nil
}

// Invoke sends one prompt to the deployed runtime.
func (o *Orchestrator) Invoke(ctx context.Context, prompt, sessionID string) (string, error) {
	lookup, err := o.runtime.Find(ctx, o.spec.Name)
	if err != nil {
		return "", err
	}
	if lookup.Outcome == runtime.LookupAbsent {
		return "", fmt.Errorf("no runtime named %q is deployed", o.spec.Name)
	}
	return o.runtime.Invoke(ctx, lookup.ARN, prompt, sessionID)
}

// Cleanup tears the deployment down in reverse provisioning order: runtime,
// then repository, then role.  Each leg is attempted even when an earlier
// one fails, and absent resources are success.  forceRegistry deletes the
// repository even when it still holds images.
func (o *Orchestrator) Cleanup(ctx context.Context, forceRegistry bool) error {
	var errs []error

	lookup, err := o.runtime.Find(ctx, o.spec.Name)
	switch {
	case err != nil:
		errs = append(errs, err)
		o.record(ctx, "runtime", "error", err.Error())
	case lookup.Outcome == runtime.LookupExisting:
		if err := o.runtime.Delete(ctx, lookup.ID, true); err != nil {
			errs = append(errs, err)
			o.record(ctx, "runtime", "error", err.Error())
		} else {
			o.record(ctx, "runtime", "deleted", lookup.ID)
		}
	default:
		slog.Info("runtime already gone", "name", o.spec.Name)
	}

	if err := o.registry.DeleteRepository(ctx, o.spec.RepositoryName(), forceRegistry); err != nil {
		errs = append(errs, err)
		o.record(ctx, "registry", "error", err.Error())
	} else {
		o.record(ctx, "registry", "deleted", o.spec.RepositoryName())
	}

	// A caller-provided role was never ours to delete.
	if o.spec.ExecutionRoleArn == "" {
		if err := o.roles.DeleteRole(ctx, o.spec.ExecutionRoleName()); err != nil {
			errs = append(errs, err)
			o.record(ctx, "role", "error", err.Error())
		} else {
			o.record(ctx, "role", "deleted", o.spec.ExecutionRoleName())
		}
	}

	return errors.Join(errs...)
}

func (o *Orchestrator) record(ctx context.Context, step, outcome, detail string) {
	if o.recorder == nil {
		return
	}
	e := history.Entry{
		Deployment: o.spec.Name,
		Step:       step,
		Outcome:    outcome,
		Detail:     detail,
	}
	if err := o.recorder.Record(ctx, e); err != nil {
		slog.Warn("history record failed", "step", step, "error", err)
	}
}
