package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adityakinifr/ccmonitor/internal/config"
	"github.com/adityakinifr/ccmonitor/internal/store"
)

func newSessionsCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List ingested sessions with token and cost totals.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.OpenStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.ListSessions(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tPROJECT\tSTARTED\tEVENTS\tTOOLS\tIN\tOUT\tCOST")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t$%.4f\n",
					s.ID,
					s.ProjectPath,
					s.StartTime.Local().Format("2006-01-02 15:04"),
					s.EventCount,
					s.ToolCallCount,
					s.InputTokens,
					s.OutputTokens,
					s.TotalCost,
				)
			}
			return w.Flush()
		},
	}
}

func newDailyCommand(cfg config.Config) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Print the day-bucketed cost series, padded for inactive days.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.OpenStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			series, err := st.DailyCosts(cmd.Context(), days, time.Local)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tEVENTS\tIN\tOUT\tCOST")
			for _, d := range series {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.4f\n",
					d.Date, d.Events, d.InputTokens, d.OutputTokens, d.Cost)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of days to report")
	return cmd
}
