package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var forceRegistry bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete the runtime, repository, and role of a deployment",
	Long: `Cleanup tears the deployment down in reverse provisioning order: the
runtime instance first, then the ECR repository, then the IAM execution
role. Resources that are already gone are skipped, so cleanup can be
re-run after a partial failure.

A repository that still holds images is refused unless --force-registry
is set. A caller-provided execution role is never deleted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tk, err := newToolkit(cmd.Context())
		if err != nil {
			return err
		}
		defer tk.Close()

		if err := tk.orchestrator.Cleanup(cmd.Context(), forceRegistry); err != nil {
			return err
		}
		fmt.Printf("Deployment %s cleaned up\n", tk.spec.Name)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&forceRegistry, "force-registry", false, "delete the ECR repository even when it still holds images")
}
