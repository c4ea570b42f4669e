package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aws-samples/agentcore-deploy/internal/agentctl/probe"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/runtime"
)

var probeStopSessions bool

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the deployed agent keeps sessions isolated",
	Long: `Probe runs a scripted conversation across two runtime sessions: it plants
a fact in the first session, talks to a second session in between, then
asks the first session to recall the fact. The transcript shows whether
the runtime kept the sessions' state apart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tk, err := newToolkit(cmd.Context())
		if err != nil {
			return err
		}
		defer tk.Close()

		lookup, err := tk.runtime.Find(cmd.Context(), tk.spec.Name)
		if err != nil {
			return err
		}
		if lookup.Outcome == runtime.LookupAbsent {
			return fmt.Errorf("no runtime named %q is deployed", tk.spec.Name)
		}

		p := probe.New(tk.runtime, lookup.ARN)
		p.StopSessions = probeStopSessions

		transcript, err := p.Run(cmd.Context(), probe.DefaultScript())
		for _, ex := range transcript {
			fmt.Printf("[%s]\n", ex.SessionID)
			fmt.Printf("  > %s\n", ex.Prompt)
			fmt.Printf("  < %s\n", ex.Result)
		}
		return err
	},
}

func init() {
	probeCmd.Flags().BoolVar(&probeStopSessions, "stop-sessions", false, "end the probe sessions explicitly after the run")
}
