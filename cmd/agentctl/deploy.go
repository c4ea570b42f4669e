package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Provision the deployment and wait until the runtime is ready",
	Long: `Deploy converges the account to the spec: it ensures the ECR repository,
builds and pushes the agent image, ensures the IAM execution role, then
creates the runtime instance (or updates it when one with the same name
already exists) and waits until it reports READY.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tk, err := newToolkit(cmd.Context())
		if err != nil {
			return err
		}
		defer tk.Close()

		inst, err := tk.orchestrator.Deploy(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Deployment %s is ready\n", tk.spec.Name)
		fmt.Printf("  runtime id:  %s\n", inst.ID)
		fmt.Printf("  runtime arn: %s\n", inst.ARN)
		fmt.Printf("  image:       %s\n", inst.ImageURI)
		return nil
	},
}
