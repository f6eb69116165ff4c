package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kevin07696/cashier-settlement/internal/adapters/wxpay"
	"github.com/kevin07696/cashier-settlement/internal/app"
	"github.com/kevin07696/cashier-settlement/internal/config"
	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/internal/handlers/dispatch"
	"github.com/kevin07696/cashier-settlement/pkg/encoding"
	"github.com/kevin07696/cashier-settlement/pkg/resilience"
	"github.com/kevin07696/cashier-settlement/pkg/timeutil"
)

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign key=value...",
		Short: "Compute the channel signature for a parameter set",
		Long: `Compute the signature the channel expects for the given fields.
Empty values and any sign field are left out, as on the wire.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("key")
			signType, _ := cmd.Flags().GetString("sign-type")
			legacy, _ := cmd.Flags().GetBool("legacy")
			return runSign(cmd.OutOrStdout(), args, key, signType, legacy)
		},
	}

	cmd.Flags().StringP("key", "k", "", "signing key")
	cmd.Flags().StringP("sign-type", "t", "MD5", "MD5 or HMAC-SHA256")
	cmd.Flags().Bool("legacy", false, "use the merchant-management signature")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func runSign(out io.Writer, args []string, key, signType string, legacy bool) error {
	params, err := parsePairs(args)
	if err != nil {
		return err
	}

	if legacy {
		fmt.Fprintln(out, wxpay.SignLegacy(params, key))
		return nil
	}

	st, err := wxpay.ParseSignType(signType)
	if err != nil {
		return err
	}
	sign, err := wxpay.Sign(params, key, st)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, sign)
	return nil
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch and parse a channel statement for a bill date",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			channel, _ := cmd.Flags().GetString("channel")
			if date == "" {
				date = timeutil.PreviousBillDate(timeutil.Now())
			}
			return runAction(cmd, dispatch.ActionChannelCheck, map[string]string{
				"bill_date": date,
				"channel":   channel,
			})
		},
	}

	cmd.Flags().StringP("date", "d", "", "bill date YYYYMMDD (default previous channel business day)")
	cmd.Flags().StringP("channel", "c", "", "channel code (default WXPAY_CHANNEL_CODE)")

	return cmd
}

func dealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deal",
		Short: "Apply a remedy to a discrepancy record",
		Long: `Apply a remedy to a discrepancy record.

Remedies: FILL, REFUND, REQUEST, LOSE, CATCH, OFFLINE`,
		RunE: func(cmd *cobra.Command, args []string) error {
			errNo, _ := cmd.Flags().GetString("err-no")
			remedy, _ := cmd.Flags().GetString("remedy")
			return runAction(cmd, dispatch.ActionDealError, map[string]string{
				"err_no":    errNo,
				"deal_type": remedy,
			})
		},
	}

	cmd.Flags().StringP("err-no", "e", "", "discrepancy error number")
	cmd.Flags().StringP("remedy", "r", "", "remedy to apply")
	_ = cmd.MarkFlagRequired("err-no")
	_ = cmd.MarkFlagRequired("remedy")

	return cmd
}

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query the channel for a transaction's settlement status",
		RunE: func(cmd *cobra.Command, args []string) error {
			txnNo, _ := cmd.Flags().GetString("txn-no")
			return runAction(cmd, dispatch.ActionQueryTxnStatus, map[string]string{"txn_no": txnNo})
		},
	}

	cmd.Flags().StringP("txn-no", "n", "", "platform transaction number")
	_ = cmd.MarkFlagRequired("txn-no")

	return cmd
}

func refundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refund",
		Short: "Refund a settled sale",
		RunE: func(cmd *cobra.Command, args []string) error {
			txnNo, _ := cmd.Flags().GetString("txn-no")
			refundNo, _ := cmd.Flags().GetString("refund-no")
			amount, _ := cmd.Flags().GetString("amount")
			return runAction(cmd, dispatch.ActionRefund, map[string]string{
				"txn_no":    txnNo,
				"refund_no": refundNo,
				"amount":    amount,
			})
		},
	}

	cmd.Flags().StringP("txn-no", "n", "", "platform transaction number of the sale")
	cmd.Flags().String("refund-no", "", "refund number (default <txn-no>R)")
	cmd.Flags().String("amount", "", "refund amount in yuan (default the full sale)")
	_ = cmd.MarkFlagRequired("txn-no")

	return cmd
}

func payCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Submit a card-present payment from a scanned auth code",
		Long: `Submit a card-present payment from a scanned auth code.

The call retries inside the card-present time budget. A payment the customer
is still confirming comes back processing; follow it up with query.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, dispatch.ActionMicroPay,
				flagParams(cmd, "txn-no", "amount", "auth-code", "subject", "client-ip", "sub-mch-id"))
		},
	}

	cmd.Flags().StringP("txn-no", "n", "", "platform transaction number")
	cmd.Flags().String("amount", "", "amount in yuan")
	cmd.Flags().String("auth-code", "", "auth code scanned from the customer")
	cmd.Flags().String("subject", "", "order description")
	cmd.Flags().String("client-ip", "", "terminal IP")
	cmd.Flags().String("sub-mch-id", "", "sub-merchant id in service-provider mode")
	_ = cmd.MarkFlagRequired("txn-no")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("auth-code")

	return cmd
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Open an in-app payment and print the signed payment bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, dispatch.ActionUnifiedOrder,
				flagParams(cmd, "txn-no", "amount", "open-id", "subject", "client-ip", "sub-mch-id"))
		},
	}

	cmd.Flags().StringP("txn-no", "n", "", "platform transaction number")
	cmd.Flags().String("amount", "", "amount in yuan")
	cmd.Flags().String("open-id", "", "payer open id")
	cmd.Flags().String("subject", "", "order description")
	cmd.Flags().String("client-ip", "", "payer IP")
	cmd.Flags().String("sub-mch-id", "", "sub-merchant id in service-provider mode")
	_ = cmd.MarkFlagRequired("txn-no")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("open-id")

	return cmd
}

// txnCmd builds a command whose only input is the transaction number
func txnCmd(use, short, action string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, action, flagParams(cmd, "txn-no"))
		},
	}

	cmd.Flags().StringP("txn-no", "n", "", "platform transaction number")
	_ = cmd.MarkFlagRequired("txn-no")

	return cmd
}

// flagParams reads the named string flags into dispatcher parameters,
// turning txn-no into txn_no. Unset flags are left out.
func flagParams(cmd *cobra.Command, names ...string) map[string]string {
	params := make(map[string]string, len(names))
	for _, name := range names {
		if v, _ := cmd.Flags().GetString(name); v != "" {
			params[strings.ReplaceAll(name, "-", "_")] = v
		}
	}
	return params
}

// runAction builds the settlement core from the environment and runs one
// dispatcher action, printing the result map as JSON
func runAction(cmd *cobra.Command, action string, params map[string]string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	core, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Close(context.Background()); err != nil {
			logger.Warn("Failed to close settlement core", zap.Error(err))
		}
	}()

	timeouts := resilience.DefaultTimeoutConfig()
	h := dispatch.NewHandler(core.Settlement, core.Dispatcher, core.Ingestor, timeouts, cfg.Gateway.ChannelCode, logger)

	ctx, cancel := timeouts.OperationContext(ctx)
	defer cancel()

	return printResult(cmd.OutOrStdout(), h.Call(ctx, action, params))
}

func printResult(out io.Writer, result domain.Result) error {
	body, err := encoding.EncodeJSON(result.Map())
	if err != nil {
		return err
	}
	if _, err := out.Write(body); err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("%s: %s", result.Code, result.Message)
	}
	return nil
}

func parsePairs(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		params[k] = v
	}
	return params, nil
}
