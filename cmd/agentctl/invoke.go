package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var invokeSession string

var invokeCmd = &cobra.Command{
	Use:   "invoke <prompt>...",
	Short: "Send one prompt to the deployed agent",
	Long: `Invoke sends the prompt to the deployed runtime and prints its answer.
Pass --session to continue an existing conversation; without it the
runtime treats the call as a fresh session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tk, err := newToolkit(cmd.Context())
		if err != nil {
			return err
		}
		defer tk.Close()

		prompt := strings.Join(args, " ")
		result, err := tk.orchestrator.Invoke(cmd.Context(), prompt, invokeSession)
		if err != nil {
			return err
		}
		fmt.Println(result)
		return nil
	},
}

func init() {
	invokeCmd.Flags().StringVar(&invokeSession, "session", "", "runtime session ID to continue (33 characters minimum)")
}
