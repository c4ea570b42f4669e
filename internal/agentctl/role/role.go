// Package role ensures the IAM identities the deployment needs: the
// execution role the runtime assumes and the service role CodeBuild assumes.
//
// Both are create-or-fetch by deterministic name.  Policies attached by an
// earlier run (or by someone else sharing the role) are never detached on
// ensure; only an explicit DeleteRole removes them.
package role

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/aws-samples/agentcore-deploy/internal/agentctl/errdefs"
)

// Managed policies the execution role needs: invoke the model, pull the
// image, write logs.
var executionPolicies = []string{
	"arn:aws:iam::aws:policy/AmazonBedrockFullAccess",
	"arn:aws:iam::aws:policy/CloudWatchLogsFullAccess",
	"arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryReadOnly",
}

// Managed policies the CodeBuild service role needs: push to ECR, read the
// source bundle, write logs.
var buildPolicies = []string{
	"arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryPowerUser",
	"arn:aws:iam::aws:policy/AmazonS3FullAccess",
	"arn:aws:iam::aws:policy/CloudWatchLogsFullAccess",
}

// propagationDelay is how long a freshly created role needs before other
// services reliably see it.
const propagationDelay = 10 * time.Second

// API is the slice of the IAM client the manager uses.
type API interface {
	CreateRole(ctx context.Context, in *iam.CreateRoleInput, opts ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	GetRole(ctx context.Context, in *iam.GetRoleInput, opts ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, opts ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	ListAttachedRolePolicies(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, opts ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	DetachRolePolicy(ctx context.Context, in *iam.DetachRolePolicyInput, opts ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	DeleteRole(ctx context.Context, in *iam.DeleteRoleInput, opts ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
}

// Sleeper lets tests skip the propagation wait.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Manager is the idempotent IAM role manager.
type Manager struct {
	client API
	sleep  Sleeper
}

// NewManager creates a Manager on top of an IAM client.
func NewManager(client API) *Manager {
	return &Manager{client: client, sleep: defaultSleep}
}

// NewManagerWithSleeper creates a Manager with an injected propagation wait.
func NewManagerWithSleeper(client API, sleep Sleeper) *Manager {
	return &Manager{client: client, sleep: sleep}
}

// trust policy document shapes, marshalled to the IAM JSON format.
type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string          `json:"Effect"`
	Principal policyPrincipal `json:"Principal"`
	Action    string          `json:"Action"`
}

type policyPrincipal struct {
	Service string `json:"Service"`
}

func trustPolicyFor(service string) (string, error) {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: policyPrincipal{Service: service},
			Action:    "sts:AssumeRole",
		}},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal trust policy: %w", err)
	}
	return string(b), nil
}

// EnsureExecutionRole returns the ARN of the runtime execution role,
// creating it with the minimal policy set when absent.  An existing role is
// reused as-is: its attachments are left alone so unrelated consumers of a
// shared role keep working.
func (m *Manager) EnsureExecutionRole(ctx context.Context, name string) (string, error) {
	return m.ensure(ctx, name, "bedrock-agentcore.amazonaws.com",
		"Execution role for Bedrock AgentCore Runtime", executionPolicies)
}

// EnsureBuildRole returns the ARN of the CodeBuild service role, creating
// it when absent.
func (m *Manager) EnsureBuildRole(ctx context.Context, name string) (string, error) {
	return m.ensure(ctx, name, "codebuild.amazonaws.com",
		"Service role for agentcore image builds", buildPolicies)
}

func (m *Manager) ensure(ctx context.Context, name, service, description string, policies []string) (string, error) {
	trust, err := trustPolicyFor(service)
	if err != nil {
		return "", err
	}

	out, err := m.client.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(trust),
		Description:              aws.String(description),
	})
	if err != nil {
		var exists *iamtypes.EntityAlreadyExistsException
		if errors.As(err, &exists) {
			got, gerr := m.client.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
			if gerr != nil {
				return "", errdefs.Classify("iam.GetRole", gerr)
			}
			arn := aws.ToString(got.Role.Arn)
			slog.Info("role already exists, reusing", "name", name, "arn", arn)
			return arn, nil
		}
		return "", errdefs.Classify("iam.CreateRole", err)
	}
	arn := aws.ToString(out.Role.Arn)
	slog.Info("role created", "name", name, "arn", arn)

	for _, policy := range policies {
		if _, err := m.client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(name),
			PolicyArn: aws.String(policy),
		}); err != nil {
			return "", errdefs.Classify("iam.AttachRolePolicy", err)
		}
		slog.Debug("policy attached", "role", name, "policy", policy)
	}

	// A fresh role is not yet visible to the services that assume it.
	if err := m.sleep(ctx, propagationDelay); err != nil {
		return "", err
	}
	return arn, nil
}

// DeleteRole detaches the role's managed policies and deletes it.  A role
// that never existed (or is already gone) is success.
func (m *Manager) DeleteRole(ctx context.Context, name string) error {
	attached, err := m.client.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(name),
	})
	if err != nil {
		var nf *iamtypes.NoSuchEntityException
		if errors.As(err, &nf) {
			return nil
		}
		return errdefs.Classify("iam.ListAttachedRolePolicies", err)
	}

	for _, policy := range attached.AttachedPolicies {
		if _, err := m.client.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(name),
			PolicyArn: policy.PolicyArn,
		}); err != nil {
			return errdefs.Classify("iam.DetachRolePolicy", err)
		}
	}

	if _, err := m.client.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)}); err != nil {
		var nf *iamtypes.NoSuchEntityException
		if errors.As(err, &nf) {
			return nil
		}
		return errdefs.Classify("iam.DeleteRole", err)
	}
	slog.Info("role deleted", "name", name)
	return nil
}
