package main

import (
	"encoding/json"
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"rentpay/internal/common/money"
	"rentpay/internal/payments"
	"rentpay/internal/settings"
)

func estimateCmd() *cobra.Command {
	var (
		amount    string
		companyID string
		gateway   string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Show which gateway a boleto would be issued through",
		Long: `Estimate gateway fees for a boleto amount using the fee schedule of a
company (COMPANY_SETTINGS_FILE and FEES_* defaults). Nothing is issued.

Examples:
  paymentsctl estimate --amount 1000.00
  paymentsctl estimate --amount 2500 --company acme --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}
			value, err := money.FromDecimal(d, money.BRL)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}

			var override payments.GatewayID
			if gateway != "" {
				if override, err = payments.ParseGatewayID(gateway); err != nil {
					return err
				}
			}

			var cfg settings.Config
			if err := envconfig.Process("", &cfg); err != nil {
				return fmt.Errorf("failed to process config: %w", err)
			}
			resolver, err := settings.Load(cfg)
			if err != nil {
				return err
			}
			fees := resolver.Resolve(companyID).Fees

			if override == payments.GatewayManual {
				return fmt.Errorf("%w: manual", payments.ErrUnsupportedGateway)
			}
			estimate, err := payments.SelectGateway(value, override, fees)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(estimate)
			}
			fmt.Fprintf(out, "amount:  %s\n", value)
			fmt.Fprintf(out, "gateway: %s\n", estimate.Gateway)
			fmt.Fprintf(out, "fee:     %s\n", estimate.Fee)
			fmt.Fprintf(out, "reason:  %s\n", estimate.Reason)
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "boleto amount in reais, e.g. 1000.00")
	cmd.Flags().StringVar(&companyID, "company", "", "company whose fee schedule applies")
	cmd.Flags().StringVar(&gateway, "gateway", "", "force a gateway (pjbank, asaas)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
