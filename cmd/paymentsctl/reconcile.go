package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"rentpay/internal/common/events"
	natsclient "rentpay/internal/common/nats"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Follow charges that need manual reconciliation",
	}

	var consumer string
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Print payments.reconciliation.required events as they arrive",
		Long: `Print payments.reconciliation.required events: charges that exist at a
gateway with no local payment row. Each line is one JSON object. The durable
consumer acknowledges events once printed, so every event is shown once per
consumer name.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg natsclient.Config
			if err := envconfig.Process("", &cfg); err != nil {
				return fmt.Errorf("failed to process config: %w", err)
			}
			logger := newLogger()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := natsclient.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			if _, err := client.EnsurePaymentsStream(ctx); err != nil {
				return err
			}
			cons, err := client.EnsureConsumer(ctx, consumer, events.EventReconciliationRequired)
			if err != nil {
				return err
			}

			out := json.NewEncoder(cmd.OutOrStdout())
			sub := natsclient.NewSubscriber(cons, logger)
			err = sub.Start(ctx, func(ctx context.Context, event *events.Event) error {
				var data events.ReconciliationRequiredData
				if err := event.DecodeData(&data); err != nil {
					return fmt.Errorf("decoding event %s: %w", event.ID, err)
				}
				return out.Encode(map[string]any{
					"event_id":       event.ID,
					"occurred_at":    event.OccurredAt,
					"company_id":     event.CompanyID,
					"correlation_id": event.CorrelationID,
					"data":           data,
				})
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	watch.Flags().StringVar(&consumer, "consumer", "paymentsctl-reconcile", "durable consumer name")
	cmd.AddCommand(watch)

	return cmd
}
