// Package agentcore adapts the Bedrock AgentCore control and data planes to
// the runtime.ControlPlane and runtime.DataPlane interfaces.
package agentcore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcorecontrol"
	controltypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentcorecontrol/types"

	"github.com/aws-samples/agentcore-deploy/internal/agentctl/errdefs"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/runtime"
)

// defaultQualifier is the endpoint qualifier used for every invocation.
const defaultQualifier = "DEFAULT"

// Adapter implements runtime.ControlPlane and runtime.DataPlane using the
// AgentCore SDK clients.
type Adapter struct {
	control *bedrockagentcorecontrol.Client
	data    *bedrockagentcore.Client
}

// New creates an Adapter from a resolved AWS config.
func New(cfg aws.Config) *Adapter {
	return &Adapter{
		control: bedrockagentcorecontrol.NewFromConfig(cfg),
		data:    bedrockagentcore.NewFromConfig(cfg),
	}
}

// Create provisions a new runtime instance bound to the image and role.
func (a *Adapter) Create(ctx context.Context, name, imageURI, roleArn string) (runtime.Instance, error) {
	out, err := a.control.CreateAgentRuntime(ctx, &bedrockagentcorecontrol.CreateAgentRuntimeInput{
		AgentRuntimeName: aws.String(name),
		AgentRuntimeArtifact: &controltypes.AgentRuntimeArtifactMemberContainerConfiguration{
			Value: controltypes.ContainerConfiguration{ContainerUri: aws.String(imageURI)},
		},
		RoleArn: aws.String(roleArn),
		NetworkConfiguration: &controltypes.NetworkConfiguration{
			NetworkMode: controltypes.NetworkModePublic,
		},
	})
	if err != nil {
		return runtime.Instance{}, errdefs.Classify("agentcore.CreateAgentRuntime", err)
	}
	return runtime.Instance{
		ID:           aws.ToString(out.AgentRuntimeId),
		ARN:          aws.ToString(out.AgentRuntimeArn),
		Name:         name,
		Status:       runtime.FromRemote(string(out.Status)),
		RemoteStatus: string(out.Status),
		ImageURI:     imageURI,
	}, nil
}

// Update points an existing instance at a new image and role.
func (a *Adapter) Update(ctx context.Context, id, imageURI, roleArn string) (runtime.Instance, error) {
	out, err := a.control.UpdateAgentRuntime(ctx, &bedrockagentcorecontrol.UpdateAgentRuntimeInput{
		AgentRuntimeId: aws.String(id),
		AgentRuntimeArtifact: &controltypes.AgentRuntimeArtifactMemberContainerConfiguration{
			Value: controltypes.ContainerConfiguration{ContainerUri: aws.String(imageURI)},
		},
		RoleArn: aws.String(roleArn),
		NetworkConfiguration: &controltypes.NetworkConfiguration{
			NetworkMode: controltypes.NetworkModePublic,
		},
	})
	if err != nil {
		return runtime.Instance{}, errdefs.Classify("agentcore.UpdateAgentRuntime", err)
	}
	return runtime.Instance{
		ID:           id,
		ARN:          aws.ToString(out.AgentRuntimeArn),
		Status:       runtime.FromRemote(string(out.Status)),
		RemoteStatus: string(out.Status),
		ImageURI:     imageURI,
	}, nil
}

// Get reads current instance state.  A missing instance maps to
// StatusAbsent rather than an error, so delete waits can converge.
func (a *Adapter) Get(ctx context.Context, id string) (runtime.Instance, error) {
	out, err := a.control.GetAgentRuntime(ctx, &bedrockagentcorecontrol.GetAgentRuntimeInput{
		AgentRuntimeId: aws.String(id),
	})
	if err != nil {
		var nf *controltypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return runtime.Instance{ID: id, Status: runtime.StatusAbsent}, nil
		}
		return runtime.Instance{}, errdefs.Classify("agentcore.GetAgentRuntime", err)
	}
	return runtime.Instance{
		ID:           aws.ToString(out.AgentRuntimeId),
		ARN:          aws.ToString(out.AgentRuntimeArn),
		Name:         aws.ToString(out.AgentRuntimeName),
		Status:       runtime.FromRemote(string(out.Status)),
		RemoteStatus: string(out.Status),
	}, nil
}

// FindByName walks the runtime list and returns the tagged lookup result.
func (a *Adapter) FindByName(ctx context.Context, name string) (runtime.Lookup, error) {
	var token *string
	for {
		out, err := a.control.ListAgentRuntimes(ctx, &bedrockagentcorecontrol.ListAgentRuntimesInput{
			NextToken: token,
		})
		if err != nil {
			return runtime.Lookup{}, errdefs.Classify("agentcore.ListAgentRuntimes", err)
		}
		for _, rt := range out.AgentRuntimes {
			if aws.ToString(rt.AgentRuntimeName) == name {
				return runtime.Lookup{
					Outcome: runtime.LookupExisting,
					ID:      aws.ToString(rt.AgentRuntimeId),
					ARN:     aws.ToString(rt.AgentRuntimeArn),
				}, nil
			}
		}
		token = out.NextToken
		if token == nil {
			return runtime.Lookup{Outcome: runtime.LookupAbsent}, nil
		}
	}
}

// Delete removes the instance.  Not-found is success.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	_, err := a.control.DeleteAgentRuntime(ctx, &bedrockagentcorecontrol.DeleteAgentRuntimeInput{
		AgentRuntimeId: aws.String(id),
	})
	if err != nil {
		var nf *controltypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return nil
		}
		return errdefs.Classify("agentcore.DeleteAgentRuntime", err)
	}
	return nil
}

// Invoke performs one synchronous invocation and returns the response body.
// sessionID is forwarded verbatim when non-empty.
func (a *Adapter) Invoke(ctx context.Context, arn string, payload []byte, sessionID string) ([]byte, error) {
	in := &bedrockagentcore.InvokeAgentRuntimeInput{
		AgentRuntimeArn: aws.String(arn),
		Qualifier:       aws.String(defaultQualifier),
		Payload:         payload,
	}
	if sessionID != "" {
		in.RuntimeSessionId = aws.String(sessionID)
	}

	out, err := a.data.InvokeAgentRuntime(ctx, in)
	if err != nil {
		return nil, errdefs.Classify("agentcore.InvokeAgentRuntime", err)
	}
	defer out.Response.Close()

	body, err := io.ReadAll(out.Response)
	if err != nil {
		return nil, fmt.Errorf("read invocation response: %w", err)
	}
	return body, nil
}

// StopSession terminates a runtime session.
func (a *Adapter) StopSession(ctx context.Context, arn, sessionID string) error {
	_, err := a.data.StopRuntimeSession(ctx, &bedrockagentcore.StopRuntimeSessionInput{
		AgentRuntimeArn:  aws.String(arn),
		RuntimeSessionId: aws.String(sessionID),
		Qualifier:        aws.String(defaultQualifier),
	})
	if err != nil {
		return errdefs.Classify("agentcore.StopRuntimeSession", err)
	}
	return nil
}
