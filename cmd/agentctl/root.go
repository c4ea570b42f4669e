// Package main implements agentctl, a CLI that deploys containerized agents
// to Amazon Bedrock AgentCore Runtime: it provisions the ECR repository,
// builds and pushes the image, creates the execution role, and manages the
// runtime instance lifecycle.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"

	"github.com/aws-samples/agentcore-deploy/common/environment"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/build"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/config"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/history"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/observability"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/orchestrator"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/registry"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/role"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/runtime"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/runtime/agentcore"
)

var (
	specFile    string
	historyPath string

	rootCmd = &cobra.Command{
		Use:   "agentctl",
		Short: "Deploy containerized agents to Amazon Bedrock AgentCore Runtime",
		Long: `agentctl deploys a containerized conversational agent to Amazon Bedrock
AgentCore Runtime. One command provisions everything the deployment needs:
the ECR repository, the container image (built locally with Docker or
remotely with CodeBuild), the IAM execution role, and the runtime instance.

Every provisioning step is idempotent: re-running a deploy converges the
account to the spec instead of failing on resources that already exist.

The deployment is described either by a YAML spec file (--spec) or by
AGENTCTL_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(func() {
		observability.Setup(
			environment.StringOr("LOG_LEVEL", "info"),
			environment.StringOr("LOG_FORMAT", "text"),
		)
	})

	rootCmd.PersistentFlags().StringVarP(&specFile, "spec", "s", "", "deployment spec YAML file (default: AGENTCTL_* environment)")
	rootCmd.PersistentFlags().StringVar(&historyPath, "history-db", defaultHistoryPath(), "path to the local deployment history database")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func defaultHistoryPath() string {
	if v := os.Getenv("AGENTCTL_HISTORY_DB"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "agentctl-history.db"
	}
	return filepath.Join(home, ".agentctl", "history.db")
}

func loadSpec() (config.Spec, error) {
	if specFile == "" {
		return config.FromEnv()
	}
	data, err := os.ReadFile(specFile)
	if err != nil {
		return config.Spec{}, fmt.Errorf("read spec file: %w", err)
	}
	return config.Parse(data)
}

// toolkit bundles every manager a command might need, wired against the
// caller's AWS credentials.
type toolkit struct {
	spec         config.Spec
	orchestrator *orchestrator.Orchestrator
	runtime      *runtime.Manager
	history      *history.Log
}

func (t *toolkit) Close() {
	if t.history != nil {
		t.history.Close()
	}
}

func newToolkit(ctx context.Context) (*toolkit, error) {
	spec, err := loadSpec()
	if err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if spec.Region != "" {
		opts = append(opts, awsconfig.WithRegion(spec.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if spec.Region == "" {
		spec.Region = awsCfg.Region
	}

	registryMgr := registry.NewManager(ecr.NewFromConfig(awsCfg))
	roleMgr := role.NewManager(iam.NewFromConfig(awsCfg))

	var builder build.Builder
	switch spec.Mode {
	case config.BuildCodeBuild:
		ident, err := sts.NewFromConfig(awsCfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			return nil, fmt.Errorf("resolve account: %w", err)
		}
		builder = build.NewCodeBuildBuilder(
			codebuild.NewFromConfig(awsCfg),
			s3.NewFromConfig(awsCfg),
			roleMgr,
			spec,
			*ident.Account,
		)
	default:
		builder, err = build.NewDockerBuilder(registryMgr)
		if err != nil {
			return nil, err
		}
	}

	adapter := agentcore.New(awsCfg)
	runtimeMgr := runtime.NewManager(adapter, adapter, runtime.ManagerConfig{
		PollInterval: spec.PollInterval,
		ReadyTimeout: spec.ReadyTimeout,
	})

	// History is advisory; a broken local database must not block a deploy.
	var recorder orchestrator.Recorder
	log, err := openHistory()
	if err != nil {
		slog.Warn("deployment history unavailable", "path", historyPath, "error", err)
	} else {
		recorder = log
	}

	return &toolkit{
		spec:         spec,
		orchestrator: orchestrator.New(spec, registryMgr, builder, roleMgr, runtimeMgr, recorder),
		runtime:      runtimeMgr,
		history:      log,
	}, nil
}

func openHistory() (*history.Log, error) {
	if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
		return nil, err
	}
	return history.Open(historyPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exitWith(err)
	}
}
