package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregLibert/brizzi-terminal/pkg/emv"
	"github.com/gregLibert/brizzi-terminal/pkg/tlv"
)

func receiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt [id]",
		Short: "Decode the receipt stored for a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newJournalApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.journal.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(entry.Receipt) == 0 {
				return fmt.Errorf("transaction %s has no receipt", args[0])
			}

			raw, _ := cmd.Flags().GetBool("raw")
			if raw {
				fmt.Fprintln(cmd.OutOrStdout(), tlv.HexString(entry.Receipt))
				return nil
			}

			r, err := emv.ParseReceipt(entry.Receipt)
			if err != nil {
				return err
			}
			amount, err := r.AmountValue()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			status := "aborted"
			if r.Committed() {
				status = "committed"
			}
			fmt.Fprintf(out, "Transaction %s: %s, amount %d\n", entry.Result.ID, status, amount)
			fmt.Fprintln(out, r.Describe())
			return nil
		},
	}

	cmd.Flags().Bool("raw", false, "Print the TLV bytes as hex")
	return cmd
}
