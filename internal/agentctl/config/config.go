// Package config defines the deployment specification and the deterministic
// names of every remote resource derived from it.
//
// A Spec is immutable once a deployment starts: every manager receives the
// same record by value and derives its resource names from Spec.Name, which
// is what makes each provisioning step independently re-runnable.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aws-samples/agentcore-deploy/common/environment"
)

// BuildMode selects how the container image is produced.
type BuildMode string

const (
	// BuildLocal builds with the Docker daemon on the invoking host and
	// pushes directly to ECR.  Requires a daemon whose architecture matches
	// the runtime's.
	BuildLocal BuildMode = "local"
	// BuildCodeBuild submits the source to AWS CodeBuild and waits for the
	// remote job.  No local Docker needed.
	BuildCodeBuild BuildMode = "codebuild"
)

// TargetArch is the CPU architecture AgentCore Runtime requires of agent
// images.
const TargetArch = "arm64"

// DefaultImageTag is used when the spec does not pin a tag.
const DefaultImageTag = "latest"

// Defaults for the two independent wait ceilings and the poll cadence.
const (
	DefaultBuildTimeout = 15 * time.Minute
	DefaultReadyTimeout = 10 * time.Minute
	DefaultPollInterval = 10 * time.Second
)

// runtimeNameRe is the AgentCore runtime name constraint: a letter followed
// by up to 47 letters, digits, or underscores.
var runtimeNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// Spec describes one deployment.  Unique per account/region by Name.
type Spec struct {
	// Name identifies the deployment; every remote resource name is derived
	// from it.
	Name string `yaml:"name"`
	// Region is the AWS region to deploy into.
	Region string `yaml:"region"`
	// SourceDir holds the Dockerfile and agent source.
	SourceDir string `yaml:"source_dir"`
	// Mode selects local Docker or remote CodeBuild.
	Mode BuildMode `yaml:"build_mode"`
	// ExecutionRoleArn, when set, skips role creation and uses the given
	// role as-is.
	ExecutionRoleArn string `yaml:"execution_role_arn"`
	// ImageTag is the tag pushed and deployed (default "latest").
	ImageTag string `yaml:"image_tag"`
	// BuildTimeout bounds the remote build wait.
	BuildTimeout time.Duration `yaml:"build_timeout"`
	// ReadyTimeout bounds the poll-for-ready wait.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	// PollInterval is the cadence of status reads while waiting.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// FromEnv loads a Spec from AGENTCTL_* environment variables, applying
// defaults for everything optional.  AGENTCTL_NAME is required.
func FromEnv() (Spec, error) {
	name, err := environment.RequiredString("AGENTCTL_NAME")
	if err != nil {
		return Spec{}, err
	}
	spec := Spec{
		Name:             name,
		Region:           environment.StringOr("AGENTCTL_REGION", environment.StringOr("AWS_REGION", "")),
		SourceDir:        environment.StringOr("AGENTCTL_SOURCE_DIR", "."),
		Mode:             BuildMode(environment.StringOr("AGENTCTL_BUILD_MODE", string(BuildLocal))),
		ExecutionRoleArn: environment.StringOr("AGENTCTL_EXECUTION_ROLE_ARN", ""),
		ImageTag:         environment.StringOr("AGENTCTL_IMAGE_TAG", DefaultImageTag),
		BuildTimeout:     environment.DurationOr("AGENTCTL_BUILD_TIMEOUT", DefaultBuildTimeout),
		ReadyTimeout:     environment.DurationOr("AGENTCTL_READY_TIMEOUT", DefaultReadyTimeout),
		PollInterval:     environment.DurationOr("AGENTCTL_POLL_INTERVAL", DefaultPollInterval),
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Parse decodes a deployment spec YAML document and validates it.  Fields
// left empty in the document get the same defaults as FromEnv.
func Parse(data []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("spec parse: %w", err)
	}
	spec.applyDefaults()
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func (s *Spec) applyDefaults() {
	if s.SourceDir == "" {
		s.SourceDir = "."
	}
	if s.Mode == "" {
		s.Mode = BuildLocal
	}
	if s.ImageTag == "" {
		s.ImageTag = DefaultImageTag
	}
	if s.BuildTimeout == 0 {
		s.BuildTimeout = DefaultBuildTimeout
	}
	if s.ReadyTimeout == 0 {
		s.ReadyTimeout = DefaultReadyTimeout
	}
	if s.PollInterval == 0 {
		s.PollInterval = DefaultPollInterval
	}
}

// Validate checks a Spec for structural correctness without touching any
// remote service.  It returns the first problem found.
func (s *Spec) Validate() error {
	if !runtimeNameRe.MatchString(s.Name) {
		return fmt.Errorf("name %q must start with a letter and contain only letters, digits, and underscores (max 48 chars)", s.Name)
	}
	if strings.TrimSpace(s.Region) == "" {
		return fmt.Errorf("region must not be empty (set AGENTCTL_REGION or AWS_REGION)")
	}
	switch s.Mode {
	case BuildLocal, BuildCodeBuild:
	default:
		return fmt.Errorf("build mode must be %q or %q, got %q", BuildLocal, BuildCodeBuild, s.Mode)
	}
	if s.BuildTimeout <= 0 {
		return fmt.Errorf("build timeout must be positive, got %s", s.BuildTimeout)
	}
	if s.ReadyTimeout <= 0 {
		return fmt.Errorf("ready timeout must be positive, got %s", s.ReadyTimeout)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", s.PollInterval)
	}
	return nil
}

// Deterministic resource names.  These mirror what earlier deployments of the
// same name created, which is what lets a re-run adopt partial state.

// RepositoryName returns the ECR repository for this deployment.
func (s *Spec) RepositoryName() string {
	return "agentcore/" + s.Name
}

// ExecutionRoleName returns the IAM role the runtime assumes.
func (s *Spec) ExecutionRoleName() string {
	return "AgentCoreExecutionRole-" + s.Name
}

// BuildRoleName returns the IAM role CodeBuild assumes.
func (s *Spec) BuildRoleName() string {
	return "CodeBuildRole-" + s.Name
}

// BuildProjectName returns the CodeBuild project for this deployment.
func (s *Spec) BuildProjectName() string {
	return "agentcore-build-" + s.Name
}

// SourceBucket returns the S3 bucket holding zipped build sources.  The
// bucket is shared per account/region; objects are keyed by deployment name.
func (s *Spec) SourceBucket(accountID string) string {
	return fmt.Sprintf("agentcore-build-%s-%s", accountID, s.Region)
}

// SourceKey returns the S3 object key for this deployment's source archive.
func (s *Spec) SourceKey() string {
	return s.Name + "/source.zip"
}
