package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"gopkg.in/yaml.v3"

	"github.com/aws-samples/agentcore-deploy/common/clock"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/config"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/errdefs"
)

// buildImage is the ARM64 CodeBuild environment matching the runtime's
// required architecture.
const buildImage = "aws/codebuild/amazonlinux2-aarch64-standard:3.0"

// buildPollInterval is the cadence of remote build status reads.
const buildPollInterval = 10 * time.Second

// CodeBuildAPI is the slice of the CodeBuild client the remote builder uses.
type CodeBuildAPI interface {
	CreateProject(ctx context.Context, in *codebuild.CreateProjectInput, opts ...func(*codebuild.Options)) (*codebuild.CreateProjectOutput, error)
	UpdateProject(ctx context.Context, in *codebuild.UpdateProjectInput, opts ...func(*codebuild.Options)) (*codebuild.UpdateProjectOutput, error)
	StartBuild(ctx context.Context, in *codebuild.StartBuildInput, opts ...func(*codebuild.Options)) (*codebuild.StartBuildOutput, error)
	BatchGetBuilds(ctx context.Context, in *codebuild.BatchGetBuildsInput, opts ...func(*codebuild.Options)) (*codebuild.BatchGetBuildsOutput, error)
}

// S3API is the slice of the S3 client used for source upload.
type S3API interface {
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// BuildRoleEnsurer supplies the CodeBuild service role.  *role.Manager
// satisfies it.
type BuildRoleEnsurer interface {
	EnsureBuildRole(ctx context.Context, name string) (string, error)
}

// CodeBuildBuilder builds remotely: it zips the source, uploads it to S3,
// and runs a privileged ARM container CodeBuild project that builds and
// pushes the image.  No local Docker needed.
type CodeBuildBuilder struct {
	codebuild CodeBuildAPI
	s3        S3API
	roles     BuildRoleEnsurer
	spec      config.Spec
	accountID string
	clock     clock.Clock
}

// NewCodeBuildBuilder creates a remote builder.
func NewCodeBuildBuilder(cb CodeBuildAPI, s3c S3API, roles BuildRoleEnsurer, spec config.Spec, accountID string) *CodeBuildBuilder {
	return &CodeBuildBuilder{codebuild: cb, s3: s3c, roles: roles, spec: spec, accountID: accountID, clock: clock.Real}
}

// NewCodeBuildBuilderWithClock creates a remote builder with an injected
// clock for tests.
func NewCodeBuildBuilderWithClock(cb CodeBuildAPI, s3c S3API, roles BuildRoleEnsurer, spec config.Spec, accountID string, clk clock.Clock) *CodeBuildBuilder {
	return &CodeBuildBuilder{codebuild: cb, s3: s3c, roles: roles, spec: spec, accountID: accountID, clock: clk}
}

// Build runs the remote build end to end and blocks until the remote job
// reports success or failure, bounded by the spec's build timeout.
func (b *CodeBuildBuilder) Build(ctx context.Context, req Request) (Artifact, error) {
	if !hasDockerfile(req.SourceDir) {
		return Artifact{}, &errdefs.BuildError{Reason: fmt.Sprintf("no Dockerfile in %s", req.SourceDir)}
	}

	bucket := b.spec.SourceBucket(b.accountID)
	if err := b.ensureBucket(ctx, bucket); err != nil {
		return Artifact{}, err
	}

	doc, err := renderBuildspec(req.ImageURI, b.spec.Region)
	if err != nil {
		return Artifact{}, err
	}
	archive, err := zipDirectory(req.SourceDir, map[string][]byte{"buildspec.yml": doc})
	if err != nil {
		return Artifact{}, fmt.Errorf("package source: %w", err)
	}

	key := b.spec.SourceKey()
	slog.Info("uploading source", "bucket", bucket, "key", key, "bytes", len(archive))
	if _, err := b.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(archive),
	}); err != nil {
		return Artifact{}, errdefs.Classify("s3.PutObject", err)
	}

	roleArn, err := b.roles.EnsureBuildRole(ctx, b.spec.BuildRoleName())
	if err != nil {
		return Artifact{}, err
	}

	if err := b.ensureProject(ctx, bucket+"/"+key, roleArn); err != nil {
		return Artifact{}, err
	}

	out, err := b.codebuild.StartBuild(ctx, &codebuild.StartBuildInput{
		ProjectName: aws.String(b.spec.BuildProjectName()),
	})
	if err != nil {
		return Artifact{}, errdefs.Classify("codebuild.StartBuild", err)
	}
	buildID := aws.ToString(out.Build.Id)
	slog.Info("remote build started", "id", buildID)

	if err := b.waitForBuild(ctx, buildID); err != nil {
		return Artifact{}, err
	}
	return Artifact{ImageURI: req.ImageURI}, nil
}

func (b *CodeBuildBuilder) ensureBucket(ctx context.Context, bucket string) error {
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if b.spec.Region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(b.spec.Region),
		}
	}
	if _, err := b.s3.CreateBucket(ctx, in); err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return errdefs.Classify("s3.CreateBucket", err)
	}
	slog.Info("source bucket created", "bucket", bucket)
	return nil
}

func (b *CodeBuildBuilder) ensureProject(ctx context.Context, sourceLocation, roleArn string) error {
	name := b.spec.BuildProjectName()
	source := &cbtypes.ProjectSource{
		Type:     cbtypes.SourceTypeS3,
		Location: aws.String(sourceLocation),
	}
	env := &cbtypes.ProjectEnvironment{
		Type:           cbtypes.EnvironmentTypeArmContainer,
		ComputeType:    cbtypes.ComputeTypeBuildGeneral1Small,
		Image:          aws.String(buildImage),
		PrivilegedMode: aws.Bool(true), // Docker-in-Docker
	}

	_, err := b.codebuild.CreateProject(ctx, &codebuild.CreateProjectInput{
		Name:        aws.String(name),
		Source:      source,
		Artifacts:   &cbtypes.ProjectArtifacts{Type: cbtypes.ArtifactsTypeNoArtifacts},
		Environment: env,
		ServiceRole: aws.String(roleArn),
	})
	if err != nil {
		var exists *cbtypes.ResourceAlreadyExistsException
		if !errors.As(err, &exists) {
			return errdefs.Classify("codebuild.CreateProject", err)
		}
		if _, err := b.codebuild.UpdateProject(ctx, &codebuild.UpdateProjectInput{
			Name:        aws.String(name),
			Source:      source,
			Environment: env,
		}); err != nil {
			return errdefs.Classify("codebuild.UpdateProject", err)
		}
		slog.Info("build project updated", "name", name)
		return nil
	}
	slog.Info("build project created", "name", name)
	return nil
}

// waitForBuild polls the remote job until it succeeds, turns terminal, or
// the build timeout elapses.
func (b *CodeBuildBuilder) waitForBuild(ctx context.Context, buildID string) error {
	start := b.clock.Now()
	for {
		out, err := b.codebuild.BatchGetBuilds(ctx, &codebuild.BatchGetBuildsInput{Ids: []string{buildID}})
		if err != nil {
			return errdefs.Classify("codebuild.BatchGetBuilds", err)
		}
		if len(out.Builds) == 0 {
			return &errdefs.BuildError{Reason: fmt.Sprintf("build %s not found", buildID)}
		}
		bd := out.Builds[0]
		status := bd.BuildStatus
		slog.Debug("poll", "op", "remote build", "id", buildID, "status", status)

		switch status {
		case cbtypes.StatusTypeSucceeded:
			return nil
		case cbtypes.StatusTypeFailed, cbtypes.StatusTypeFault, cbtypes.StatusTypeStopped, cbtypes.StatusTypeTimedOut:
			return &errdefs.BuildError{
				Reason: fmt.Sprintf("remote build ended with status %s", status),
				LogRef: logRef(bd),
			}
		}

		elapsed := b.clock.Now().Sub(start)
		if elapsed+buildPollInterval > b.spec.BuildTimeout {
			return &errdefs.TimeoutError{Op: "remote build", Elapsed: elapsed}
		}
		if err := b.clock.Sleep(ctx, buildPollInterval); err != nil {
			return err
		}
	}
}

func logRef(bd cbtypes.Build) string {
	if bd.Logs == nil {
		return ""
	}
	if link := aws.ToString(bd.Logs.DeepLink); link != "" {
		return link
	}
	return strings.TrimSpace(aws.ToString(bd.Logs.GroupName) + "/" + aws.ToString(bd.Logs.StreamName))
}

// buildspec is the CodeBuild document the remote job runs: ECR login,
// docker build, docker push.
type buildspec struct {
	Version string          `yaml:"version"`
	Phases  buildspecPhases `yaml:"phases"`
}

type buildspecPhases struct {
	PreBuild  buildspecPhase `yaml:"pre_build"`
	Build     buildspecPhase `yaml:"build"`
	PostBuild buildspecPhase `yaml:"post_build"`
}

type buildspecPhase struct {
	Commands []string `yaml:"commands"`
}

func renderBuildspec(imageURI, region string) ([]byte, error) {
	registryHost, _, _ := strings.Cut(imageURI, "/")
	doc := buildspec{
		Version: "0.2",
		Phases: buildspecPhases{
			PreBuild: buildspecPhase{Commands: []string{
				fmt.Sprintf("aws ecr get-login-password --region %s | docker login --username AWS --password-stdin %s", region, registryHost),
			}},
			Build: buildspecPhase{Commands: []string{
				fmt.Sprintf("docker build -t %s .", imageURI),
			}},
			PostBuild: buildspecPhase{Commands: []string{
				fmt.Sprintf("docker push %s", imageURI),
			}},
		},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render buildspec: %w", err)
	}
	return out, nil
}
