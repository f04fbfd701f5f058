package payments

import (
	"context"
	"log/slog"

	"rentpay/internal/common/events"
	"rentpay/internal/common/middleware"
)

func boletoIssuedEvent(p *Payment) (*events.Event, error) {
	return events.NewEvent(events.EventBoletoIssued, p.CompanyID, events.AggregatePayment, p.ID, events.BoletoIssuedData{
		PaymentID:        p.ID,
		ContractID:       p.ContractID,
		Gateway:          string(p.Gateway),
		GatewayPaymentID: p.GatewayPaymentID,
		AmountMinor:      p.Amount.AmountMinor,
		OwnerAmountMinor: p.OwnerAmount.AmountMinor,
		DueDate:          p.DueDate.Format(DateLayout),
	})
}

func statusChangedEvent(p *Payment, prev Status) (*events.Event, error) {
	return events.NewEvent(events.EventPaymentStatusChanged, p.CompanyID, events.AggregatePayment, p.ID, events.PaymentStatusChangedData{
		PaymentID:        p.ID,
		ContractID:       p.ContractID,
		Gateway:          string(p.Gateway),
		GatewayPaymentID: p.GatewayPaymentID,
		PreviousStatus:   string(prev),
		Status:           string(p.Status),
		PaidDate:         p.PaidDate,
	})
}

func reconciliationRequiredEvent(companyID string, perr *PersistenceAfterChargeError, amountMinor int64) (*events.Event, error) {
	return events.NewEvent(events.EventReconciliationRequired, companyID, events.AggregatePayment, perr.GatewayChargeID, events.ReconciliationRequiredData{
		ContractID:       perr.ContractID,
		Gateway:          string(perr.Gateway),
		GatewayPaymentID: perr.GatewayChargeID,
		IdempotencyKey:   perr.IdempotencyKey,
		AmountMinor:      amountMinor,
		Error:            perr.Err.Error(),
	})
}

// publish sends evt on a best-effort basis; the payment row is the source
// of truth.
func publish(ctx context.Context, publisher events.EventPublisher, logger *slog.Logger, evt *events.Event, buildErr error) {
	if buildErr != nil {
		logger.Error("failed to build event", "error", buildErr)
		return
	}
	evt.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := publisher.Publish(ctx, evt); err != nil {
		logger.Warn("failed to publish event",
			"error", err,
			"type", evt.Type,
			"aggregate_id", evt.AggregateID,
		)
	}
}
