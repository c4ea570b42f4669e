package build

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"gopkg.in/yaml.v3"

	"github.com/aws-samples/agentcore-deploy/internal/agentctl/config"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/errdefs"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

type fakeCodeBuild struct {
	statuses      []cbtypes.StatusType
	logs          *cbtypes.LogsLocation
	projectExists bool

	creates int
	updates int
	starts  int
	polls   int

	createdEnv *cbtypes.ProjectEnvironment
}

func (f *fakeCodeBuild) CreateProject(ctx context.Context, in *codebuild.CreateProjectInput, opts ...func(*codebuild.Options)) (*codebuild.CreateProjectOutput, error) {
	f.creates++
	if f.projectExists {
		return nil, &cbtypes.ResourceAlreadyExistsException{}
	}
	f.createdEnv = in.Environment
	return &codebuild.CreateProjectOutput{}, nil
}

func (f *fakeCodeBuild) UpdateProject(ctx context.Context, in *codebuild.UpdateProjectInput, opts ...func(*codebuild.Options)) (*codebuild.UpdateProjectOutput, error) {
	f.updates++
	return &codebuild.UpdateProjectOutput{}, nil
}

func (f *fakeCodeBuild) StartBuild(ctx context.Context, in *codebuild.StartBuildInput, opts ...func(*codebuild.Options)) (*codebuild.StartBuildOutput, error) {
	f.starts++
	return &codebuild.StartBuildOutput{
		Build: &cbtypes.Build{Id: aws.String("agentcore-build-demo:1")},
	}, nil
}

func (f *fakeCodeBuild) BatchGetBuilds(ctx context.Context, in *codebuild.BatchGetBuildsInput, opts ...func(*codebuild.Options)) (*codebuild.BatchGetBuildsOutput, error) {
	status := f.statuses[len(f.statuses)-1]
	if f.polls < len(f.statuses) {
		status = f.statuses[f.polls]
	}
	f.polls++
	return &codebuild.BatchGetBuildsOutput{
		Builds: []cbtypes.Build{{
			Id:          aws.String(in.Ids[0]),
			BuildStatus: status,
			Logs:        f.logs,
		}},
	}, nil
}

type fakeS3 struct {
	alreadyOwned bool

	buckets []string
	puts    map[string]int64
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if f.alreadyOwned {
		return nil, &s3types.BucketAlreadyOwnedByYou{}
	}
	f.buckets = append(f.buckets, aws.ToString(in.Bucket))
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.puts == nil {
		f.puts = make(map[string]int64)
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	n, err := io.Copy(io.Discard, in.Body)
	if err != nil {
		return nil, err
	}
	f.puts[key] = n
	return &s3.PutObjectOutput{}, nil
}

type fakeRoles struct {
	ensured []string
}

func (f *fakeRoles) EnsureBuildRole(ctx context.Context, name string) (string, error) {
	f.ensured = append(f.ensured, name)
	return "arn:aws:iam::123456789012:role/" + name, nil
}

func testSpec(t *testing.T) config.Spec {
	t.Helper()
	return config.Spec{
		Name:         "demo",
		Region:       "eu-west-1",
		SourceDir:    sourceDir(t),
		Mode:         config.BuildCodeBuild,
		BuildTimeout: 5 * time.Minute,
	}
}

func TestRemoteBuildSucceeds(t *testing.T) {
	cb := &fakeCodeBuild{statuses: []cbtypes.StatusType{cbtypes.StatusTypeInProgress, cbtypes.StatusTypeSucceeded}}
	s3c := &fakeS3{}
	roles := &fakeRoles{}
	spec := testSpec(t)
	b := NewCodeBuildBuilderWithClock(cb, s3c, roles, spec, "123456789012", &fakeClock{now: time.Unix(0, 0)})

	uri := "123456789012.dkr.ecr.eu-west-1.amazonaws.com/agentcore/demo:latest"
	art, err := b.Build(context.Background(), Request{SourceDir: spec.SourceDir, ImageURI: uri, TargetArch: "arm64"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if art.ImageURI != uri {
		t.Errorf("artifact image = %s, want %s", art.ImageURI, uri)
	}
	if len(s3c.buckets) != 1 || s3c.buckets[0] != "agentcore-build-123456789012-eu-west-1" {
		t.Errorf("unexpected buckets: %v", s3c.buckets)
	}
	if _, ok := s3c.puts["agentcore-build-123456789012-eu-west-1/demo/source.zip"]; !ok {
		t.Errorf("source not uploaded, puts: %v", s3c.puts)
	}
	if len(roles.ensured) != 1 || roles.ensured[0] != "CodeBuildRole-demo" {
		t.Errorf("unexpected roles: %v", roles.ensured)
	}
	if cb.creates != 1 || cb.starts != 1 {
		t.Errorf("creates=%d starts=%d, want 1 each", cb.creates, cb.starts)
	}
	if cb.createdEnv == nil || cb.createdEnv.Type != cbtypes.EnvironmentTypeArmContainer || !aws.ToBool(cb.createdEnv.PrivilegedMode) {
		t.Errorf("project environment not a privileged ARM container: %+v", cb.createdEnv)
	}
	if cb.polls != 2 {
		t.Errorf("polls = %d, want 2", cb.polls)
	}
}

func TestRemoteBuildReusesExistingProject(t *testing.T) {
	cb := &fakeCodeBuild{
		projectExists: true,
		statuses:      []cbtypes.StatusType{cbtypes.StatusTypeSucceeded},
	}
	spec := testSpec(t)
	b := NewCodeBuildBuilderWithClock(cb, &fakeS3{alreadyOwned: true}, &fakeRoles{}, spec, "123456789012", &fakeClock{})

	_, err := b.Build(context.Background(), Request{
		SourceDir:  spec.SourceDir,
		ImageURI:   "123456789012.dkr.ecr.eu-west-1.amazonaws.com/agentcore/demo:latest",
		TargetArch: "arm64",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cb.updates != 1 {
		t.Errorf("updates = %d, want 1", cb.updates)
	}
}

func TestRemoteBuildFailureCarriesLogLink(t *testing.T) {
	link := "https://console.aws.amazon.com/cloudwatch/home?#logEventViewer:group=/aws/codebuild/agentcore-build-demo"
	cb := &fakeCodeBuild{
		statuses: []cbtypes.StatusType{cbtypes.StatusTypeFailed},
		logs:     &cbtypes.LogsLocation{DeepLink: aws.String(link)},
	}
	spec := testSpec(t)
	b := NewCodeBuildBuilderWithClock(cb, &fakeS3{}, &fakeRoles{}, spec, "123456789012", &fakeClock{})

	_, err := b.Build(context.Background(), Request{
		SourceDir:  spec.SourceDir,
		ImageURI:   "123456789012.dkr.ecr.eu-west-1.amazonaws.com/agentcore/demo:latest",
		TargetArch: "arm64",
	})

	var buildErr *errdefs.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if buildErr.LogRef != link {
		t.Errorf("log ref = %q, want the console deep link", buildErr.LogRef)
	}
	if !strings.Contains(buildErr.Reason, "FAILED") {
		t.Errorf("reason should name the terminal status: %s", buildErr.Reason)
	}
}

func TestRemoteBuildTimesOut(t *testing.T) {
	cb := &fakeCodeBuild{statuses: []cbtypes.StatusType{cbtypes.StatusTypeInProgress}}
	spec := testSpec(t)
	spec.BuildTimeout = 30 * time.Second
	b := NewCodeBuildBuilderWithClock(cb, &fakeS3{}, &fakeRoles{}, spec, "123456789012", &fakeClock{now: time.Unix(0, 0)})

	_, err := b.Build(context.Background(), Request{
		SourceDir:  spec.SourceDir,
		ImageURI:   "123456789012.dkr.ecr.eu-west-1.amazonaws.com/agentcore/demo:latest",
		TargetArch: "arm64",
	})

	var timeoutErr *errdefs.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.Op != "remote build" {
		t.Errorf("op = %q, want remote build", timeoutErr.Op)
	}
	// 30s budget at a 10s cadence allows reads at 0s, 10s, 20s and 30s.
	if cb.polls != 4 {
		t.Errorf("polls = %d, want 4", cb.polls)
	}
}

func TestRenderBuildspec(t *testing.T) {
	out, err := renderBuildspec("123456789012.dkr.ecr.eu-west-1.amazonaws.com/agentcore/demo:latest", "eu-west-1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var doc buildspec
	if err := yaml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Version != "0.2" {
		t.Errorf("version = %s, want 0.2", doc.Version)
	}
	login := strings.Join(doc.Phases.PreBuild.Commands, "\n")
	if !strings.Contains(login, "docker login") || !strings.Contains(login, "123456789012.dkr.ecr.eu-west-1.amazonaws.com") {
		t.Errorf("pre_build should log into the registry host: %s", login)
	}
	if !strings.Contains(strings.Join(doc.Phases.PostBuild.Commands, "\n"), "docker push") {
		t.Errorf("post_build should push: %v", doc.Phases.PostBuild.Commands)
	}
}
