package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/aws-samples/agentcore-deploy/internal/agentctl/errdefs"
)

// exitWith prints the error with a remediation hint where one exists and
// exits non-zero.
func exitWith(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var stepErr *errdefs.StepError
	if errors.As(err, &stepErr) && len(stepErr.State) > 0 {
		fmt.Fprintln(os.Stderr, "\nResources provisioned before the failure:")
		for k, v := range stepErr.State {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", k, v)
		}
		fmt.Fprintln(os.Stderr, "Re-running deploy resumes from here; cleanup removes them.")
	}

	if hint := remediation(err); hint != "" {
		fmt.Fprintf(os.Stderr, "\nHint: %s\n", hint)
	}
	os.Exit(1)
}

func remediation(err error) string {
	var (
		archErr    *errdefs.ArchitectureError
		permErr    *errdefs.PermissionError
		timeoutErr *errdefs.TimeoutError
		buildErr   *errdefs.BuildError
		availErr   *errdefs.UnavailableError
	)
	switch {
	case errors.As(err, &archErr):
		return "the runtime requires " + archErr.Want + " images; build on a matching host or set build_mode: codebuild"
	case errors.As(err, &permErr):
		return "check that the active AWS credentials allow " + permErr.Op
	case errors.As(err, &buildErr):
		if buildErr.LogRef != "" {
			return "build logs: " + buildErr.LogRef
		}
		return ""
	case errors.As(err, &timeoutErr):
		return "the operation is still running remotely; re-run to keep waiting, or raise the timeout in the spec"
	case errors.As(err, &availErr):
		return "the service is throttling or briefly unavailable; retry shortly"
	default:
		return ""
	}
}
