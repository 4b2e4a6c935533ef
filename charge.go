package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/gregLibert/brizzi-terminal/internal/pcsc"
	"github.com/gregLibert/brizzi-terminal/pkg/transaction"
)

func chargeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "charge",
		Short: "Run one debit on the card currently in the reader",
		RunE:  runCharge,
	}

	cmd.Flags().Uint32P("amount", "a", 0, "Amount to debit (defaults to terminal.amount)")
	cmd.Flags().StringP("reader", "r", "", "Card reader (defaults to readers.picc, then the first reader that is not the SAM's)")
	cmd.Flags().BoolP("json", "j", false, "Output the result as JSON")

	return cmd
}

func runCharge(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	amount, _ := cmd.Flags().GetUint32("amount")
	if amount == 0 {
		amount = a.cfg.Terminal.Amount
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	sc, err := pcsc.Establish()
	if err != nil {
		return err
	}
	defer func() { _ = sc.Release() }()

	reader, _ := cmd.Flags().GetString("reader")
	if reader == "" {
		if reader, err = pickReader(cmd.Context(), sc, a.cfg.Readers.SAM, a.cfg.Readers.PICC); err != nil {
			return err
		}
	}

	term, err := a.terminal(sc)
	if err != nil {
		return err
	}
	defer term.Close()

	if err := term.PairSAM(); err != nil {
		return err
	}

	res, err := term.Charge(cmd.Context(), reader, amount)
	if res == nil {
		return err
	}
	if asJSON {
		out, jerr := json.MarshalIndent(res, "", "  ")
		if jerr != nil {
			return jerr
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	} else {
		printResult(cmd, res)
	}
	if err != nil {
		return err
	}
	if !res.Status {
		return fmt.Errorf("transaction %s aborted at %s", res.ID, res.FailedStep)
	}
	return nil
}

// pickReader names the card reader when none is configured: a reader already holding a card
// if there is one, else the first reader that is not the SAM's.
func pickReader(ctx context.Context, sc *pcsc.Context, sam, picc string) (string, error) {
	if picc != "" {
		return picc, nil
	}
	readers, err := sc.Readers()
	if err != nil {
		return "", err
	}

	m := sc.Monitor()
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	// The first change lists every card already in place.
	if _, err := m.Next(waitCtx); err != nil {
		return choosePICC(readers, nil, sam)
	}
	return choosePICC(readers, m.Present(), sam)
}

func choosePICC(readers, present []string, sam string) (string, error) {
	if i := slices.IndexFunc(present, func(r string) bool { return r != sam }); i >= 0 {
		return present[i], nil
	}
	i := slices.IndexFunc(readers, func(r string) bool { return r != sam })
	if i < 0 {
		return "", errors.New("no card reader found besides the SAM reader")
	}
	return readers[i], nil
}

func printResult(cmd *cobra.Command, res *transaction.Result) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Transaction: %s\n", res.ID)
	fmt.Fprintf(w, "  State:     %s\n", res.State)
	fmt.Fprintf(w, "  Card:      %s\n", res.CardNumber)
	fmt.Fprintf(w, "  Amount:    %d\n", res.Amount)
	fmt.Fprintf(w, "  Balance:   %d -> %d\n", res.BalanceBefore, res.BalanceAfter)
	fmt.Fprintf(w, "  Reference: %s\n", res.RefNumber)
	if res.FailedStep != "" {
		fmt.Fprintf(w, "  Failed at: %s (%s)\n", res.FailedStep, res.Error)
	}
}
