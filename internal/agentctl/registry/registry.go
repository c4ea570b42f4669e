// Package registry ensures the ECR repository a deployment pushes to exists
// and provides the credentials Docker needs to push there.
package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/aws-samples/agentcore-deploy/internal/agentctl/errdefs"
)

// API is the slice of the ECR client the manager uses.  *ecr.Client
// satisfies it; tests substitute a fake.
type API interface {
	CreateRepository(ctx context.Context, in *ecr.CreateRepositoryInput, opts ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	DescribeRepositories(ctx context.Context, in *ecr.DescribeRepositoriesInput, opts ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, opts ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
	DeleteRepository(ctx context.Context, in *ecr.DeleteRepositoryInput, opts ...func(*ecr.Options)) (*ecr.DeleteRepositoryOutput, error)
}

// Repository identifies an ensured image repository.
type Repository struct {
	Name       string
	URI        string
	RegistryID string
}

// Auth is a decoded ECR authorization token usable as Docker registry
// credentials.
type Auth struct {
	Username      string
	Password      string
	ServerAddress string
}

// Manager is the idempotent ECR repository manager.
type Manager struct {
	client API
}

// NewManager creates a Manager on top of an ECR client.
func NewManager(client API) *Manager {
	return &Manager{client: client}
}

// EnsureRepository returns the named repository, creating it (with
// scan-on-push) when absent.  An existing repository is adopted, never an
// error.
func (m *Manager) EnsureRepository(ctx context.Context, name string) (Repository, error) {
	if repo, ok, err := m.describe(ctx, name); err != nil {
		return Repository{}, err
	} else if ok {
		slog.Info("repository already exists", "name", name, "uri", repo.URI)
		return repo, nil
	}

	out, err := m.client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(name),
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
			ScanOnPush: true,
		},
	})
	if err != nil {
		var exists *ecrtypes.RepositoryAlreadyExistsException
		if errors.As(err, &exists) {
			// Lost a race with a concurrent deploy; adopt the winner's.
			repo, ok, derr := m.describe(ctx, name)
			if derr != nil {
				return Repository{}, derr
			}
			if ok {
				return repo, nil
			}
			return Repository{}, &errdefs.ConflictError{Resource: "ECR repository", Name: name}
		}
		return Repository{}, errdefs.Classify("ecr.CreateRepository", err)
	}

	repo := Repository{
		Name:       aws.ToString(out.Repository.RepositoryName),
		URI:        aws.ToString(out.Repository.RepositoryUri),
		RegistryID: aws.ToString(out.Repository.RegistryId),
	}
	slog.Info("repository created", "name", repo.Name, "uri", repo.URI)
	return repo, nil
}

func (m *Manager) describe(ctx context.Context, name string) (Repository, bool, error) {
	out, err := m.client.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err != nil {
		var nf *ecrtypes.RepositoryNotFoundException
		if errors.As(err, &nf) {
			return Repository{}, false, nil
		}
		return Repository{}, false, errdefs.Classify("ecr.DescribeRepositories", err)
	}
	if len(out.Repositories) == 0 {
		return Repository{}, false, nil
	}
	r := out.Repositories[0]
	return Repository{
		Name:       aws.ToString(r.RepositoryName),
		URI:        aws.ToString(r.RepositoryUri),
		RegistryID: aws.ToString(r.RegistryId),
	}, true, nil
}

// AuthToken fetches and decodes the registry authorization token.
func (m *Manager) AuthToken(ctx context.Context) (Auth, error) {
	out, err := m.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return Auth{}, errdefs.Classify("ecr.GetAuthorizationToken", err)
	}
	if len(out.AuthorizationData) == 0 {
		return Auth{}, fmt.Errorf("ecr returned no authorization data")
	}
	data := out.AuthorizationData[0]

	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return Auth{}, fmt.Errorf("decode authorization token: %w", err)
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Auth{}, fmt.Errorf("authorization token is not user:password formatted")
	}

	return Auth{
		Username:      user,
		Password:      pass,
		ServerAddress: strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://"),
	}, nil
}

// DeleteRepository removes the repository.  Without force it refuses to
// delete a repository that still holds images (the service rejects it);
// "not found" counts as success either way.
func (m *Manager) DeleteRepository(ctx context.Context, name string, force bool) error {
	_, err := m.client.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: aws.String(name),
		Force:          force,
	})
	if err != nil {
		var nf *ecrtypes.RepositoryNotFoundException
		if errors.As(err, &nf) {
			return nil
		}
		var notEmpty *ecrtypes.RepositoryNotEmptyException
		if errors.As(err, &notEmpty) {
			return fmt.Errorf("repository %q still holds images; re-run with --force-registry to delete them: %w", name, err)
		}
		return errdefs.Classify("ecr.DeleteRepository", err)
	}
	slog.Info("repository deleted", "name", name, "force", force)
	return nil
}
