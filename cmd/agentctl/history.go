package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [deployment]",
	Short: "Show recent deployment events from the local log",
	Long: `History lists events recorded by past deploy and cleanup runs on this
machine. The log is advisory; the remote services hold the authoritative
state.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openHistory()
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer log.Close()

		deployment := ""
		if len(args) == 1 {
			deployment = args[0]
		}

		entries, err := log.List(cmd.Context(), deployment, historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No recorded events.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tDEPLOYMENT\tSTEP\tOUTCOME\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Format("2006-01-02 15:04:05"), e.Deployment, e.Step, e.Outcome, e.Detail)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of events to show")
}
