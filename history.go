package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the most recent journaled transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newJournalApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := a.journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No transactions.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tCARD\tAMOUNT\tBALANCE AFTER\tREF\tSTATE")
			for _, e := range entries {
				r := e.Result
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.CardNumber, r.Amount,
					r.BalanceAfter, r.RefNumber, r.State)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "Maximum rows")
	return cmd
}
