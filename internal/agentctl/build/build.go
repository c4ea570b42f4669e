// Package build produces the agent container image, either with the local
// Docker daemon or remotely through AWS CodeBuild, and pushes it to the
// repository the registry manager ensured.
package build

import "context"

// Request describes one image build.
type Request struct {
	// SourceDir holds the Dockerfile and agent source.
	SourceDir string
	// ImageURI is the fully-qualified destination, repository URI plus tag.
	ImageURI string
	// TargetArch is the CPU architecture the runtime requires (arm64).
	TargetArch string
}

// Artifact is the result of a successful build and push.
type Artifact struct {
	// ImageURI is the pushed reference.
	ImageURI string
	// Digest is the pushed image digest when the backend reports one.
	Digest string
}

// Builder produces and pushes an image.  Implementations: DockerBuilder
// (local daemon) and CodeBuildBuilder (remote).
type Builder interface {
	Build(ctx context.Context, req Request) (Artifact, error)
}
