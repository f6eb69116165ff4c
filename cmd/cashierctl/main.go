package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kevin07696/cashier-settlement/internal/handlers/dispatch"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cashierctl",
		Short:         "Operator tool for the cashier settlement core",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(dealCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(refundCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(txnCmd("reverse", "Reverse a card-present payment", dispatch.ActionReverse))
	rootCmd.AddCommand(txnCmd("close", "Close an unpaid in-app order", dispatch.ActionClose))

	return rootCmd
}
