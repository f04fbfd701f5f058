package asaas

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rentpay/internal/common/money"
	"rentpay/internal/payments"
)

// Asaas reports event times in local Brazilian time without an offset.
var saoPaulo = func() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}()

type webhookPayment struct {
	ID                string       `json:"id"`
	Status            string       `json:"status"`
	Value             *money.Money `json:"value"`
	ExternalReference string       `json:"externalReference"`
	PaymentDate       string       `json:"paymentDate"`
	ClientPaymentDate string       `json:"clientPaymentDate"`
	Deleted           bool         `json:"deleted"`
}

type webhookPayload struct {
	ID          string          `json:"id"`
	Event       string          `json:"event"`
	DateCreated string          `json:"dateCreated"`
	Payment     *webhookPayment `json:"payment"`
}

// statusMap maps Asaas payment statuses to canonical ones.
var statusMap = map[string]payments.Status{
	"PENDING":                payments.StatusPending,
	"AWAITING_RISK_ANALYSIS": payments.StatusPending,
	"RECEIVED":               payments.StatusPaid,
	"CONFIRMED":              payments.StatusPaid,
	"RECEIVED_IN_CASH":       payments.StatusPaid,
	"OVERDUE":                payments.StatusOverdue,
	"DELETED":                payments.StatusCancelled,
	"CANCELLED":              payments.StatusCancelled,
	"REFUNDED":               payments.StatusCancelled,
}

// ParseWebhook maps an Asaas payment notification to a WebhookEvent.
func (p *Provider) ParseWebhook(raw []byte) (payments.WebhookEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrMalformedWebhook, err)
	}
	pay := payload.Payment
	if pay == nil || (pay.ID == "" && pay.ExternalReference == "") {
		return payments.WebhookEvent{}, fmt.Errorf("%w: missing payment reference", payments.ErrMalformedWebhook)
	}

	providerStatus := strings.ToUpper(pay.Status)
	status, ok := statusMap[providerStatus]
	switch {
	case payload.Event == "PAYMENT_DELETED" || pay.Deleted:
		status = payments.StatusCancelled
	case !ok:
		p.logger.Warn("unknown asaas payment status, treating as pending",
			"status", pay.Status,
			"event", payload.Event,
			"gateway_payment_id", pay.ID,
		)
		status = payments.StatusPending
	}

	evt := payments.WebhookEvent{
		Gateway:           payments.GatewayAsaas,
		GatewayPaymentID:  pay.ID,
		ExternalReference: pay.ExternalReference,
		Status:            status,
		ProviderStatus:    pay.Status,
	}

	if status == payments.StatusPaid {
		paidOn := pay.ClientPaymentDate
		if paidOn == "" {
			paidOn = pay.PaymentDate
		}
		if paidOn != "" {
			d, err := time.Parse(payments.DateLayout, paidOn)
			if err != nil {
				return payments.WebhookEvent{}, fmt.Errorf("%w: paymentDate %q", payments.ErrMalformedWebhook, paidOn)
			}
			evt.PaidDate = &d
		}
		evt.PaidAmount = pay.Value
	}

	if payload.DateCreated != "" {
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", payload.DateCreated, saoPaulo); err == nil {
			evt.OccurredAt = t.UTC()
		}
	}

	return evt, nil
}
