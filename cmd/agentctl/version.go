package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aws-samples/agentcore-deploy/common/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agentctl version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("agentctl", version.Info())
	},
}
