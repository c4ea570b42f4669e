package build

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/api/types/system"
	dockerclient "github.com/docker/docker/client"

	"github.com/aws-samples/agentcore-deploy/internal/agentctl/errdefs"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/registry"
)

// DockerAPI is the slice of the Docker Engine client the local builder
// uses.  *dockerclient.Client satisfies it.
type DockerAPI interface {
	Info(ctx context.Context) (system.Info, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
}

// AuthSource supplies registry push credentials.  *registry.Manager
// satisfies it.
type AuthSource interface {
	AuthToken(ctx context.Context) (registry.Auth, error)
}

// DockerBuilder builds with the Docker daemon on the invoking host.
type DockerBuilder struct {
	api  DockerAPI
	auth AuthSource
}

// NewDockerBuilder creates a builder against the local daemon.
// Uses the DOCKER_HOST env var or the default socket path.
func NewDockerBuilder(auth AuthSource) (*DockerBuilder, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerBuilder{api: cli, auth: auth}, nil
}

// NewDockerBuilderWithAPI creates a builder on an injected engine API.
func NewDockerBuilderWithAPI(api DockerAPI, auth AuthSource) *DockerBuilder {
	return &DockerBuilder{api: api, auth: auth}
}

// Build checks the daemon architecture, builds the image from the source
// directory, and pushes it.  An architecture mismatch fails before anything
// is built or pushed.
func (b *DockerBuilder) Build(ctx context.Context, req Request) (Artifact, error) {
	info, err := b.api.Info(ctx)
	if err != nil {
		return Artifact{}, fmt.Errorf("docker info: %w", err)
	}
	if got := normalizeArch(info.Architecture); got != req.TargetArch {
		return Artifact{}, &errdefs.ArchitectureError{Want: req.TargetArch, Got: got}
	}

	if !hasDockerfile(req.SourceDir) {
		return Artifact{}, &errdefs.BuildError{Reason: fmt.Sprintf("no Dockerfile in %s", req.SourceDir)}
	}

	buildCtx, err := tarDirectory(req.SourceDir)
	if err != nil {
		return Artifact{}, fmt.Errorf("package build context: %w", err)
	}

	slog.Info("building image", "image", req.ImageURI, "source", req.SourceDir)
	resp, err := b.api.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{req.ImageURI},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return Artifact{}, &errdefs.BuildError{Reason: err.Error()}
	}
	defer resp.Body.Close()
	if _, err := drainStream(resp.Body); err != nil {
		return Artifact{}, &errdefs.BuildError{Reason: err.Error()}
	}

	auth, err := b.auth.AuthToken(ctx)
	if err != nil {
		return Artifact{}, fmt.Errorf("registry auth: %w", err)
	}
	encoded, err := dockerregistry.EncodeAuthConfig(dockerregistry.AuthConfig{
		Username:      auth.Username,
		Password:      auth.Password,
		ServerAddress: auth.ServerAddress,
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("encode registry auth: %w", err)
	}

	slog.Info("pushing image", "image", req.ImageURI)
	rc, err := b.api.ImagePush(ctx, req.ImageURI, image.PushOptions{RegistryAuth: encoded})
	if err != nil {
		return Artifact{}, &errdefs.BuildError{Reason: fmt.Sprintf("push: %v", err)}
	}
	defer rc.Close()
	digest, err := drainStream(rc)
	if err != nil {
		return Artifact{}, &errdefs.BuildError{Reason: fmt.Sprintf("push: %v", err)}
	}

	return Artifact{ImageURI: req.ImageURI, Digest: digest}, nil
}

// normalizeArch maps daemon-reported architectures onto Go/OCI names.
func normalizeArch(arch string) string {
	switch strings.ToLower(arch) {
	case "aarch64", "arm64":
		return "arm64"
	case "x86_64", "amd64":
		return "amd64"
	default:
		return strings.ToLower(arch)
	}
}

// streamMessage is one JSON message of the engine's build/push progress
// stream.
type streamMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
	Aux json.RawMessage `json:"aux"`
}

// drainStream consumes an engine progress stream, returning the pushed
// digest when one is reported and the first embedded error otherwise.
func drainStream(r io.Reader) (string, error) {
	dec := json.NewDecoder(r)
	var digest string
	for {
		var msg streamMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return digest, nil
			}
			return digest, fmt.Errorf("decode progress stream: %w", err)
		}
		if msg.Error != "" {
			if msg.ErrorDetail.Message != "" {
				return digest, fmt.Errorf("%s", msg.ErrorDetail.Message)
			}
			return digest, fmt.Errorf("%s", msg.Error)
		}
		if len(msg.Aux) > 0 {
			var aux struct {
				Digest string `json:"Digest"`
			}
			if err := json.Unmarshal(msg.Aux, &aux); err == nil && aux.Digest != "" {
				digest = aux.Digest
			}
		}
	}
}
