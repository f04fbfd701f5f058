package payments

import (
	"time"

	"rentpay/internal/common/money"
)

// IsTerminal returns true for statuses that accept no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusOverdue, StatusCancelled},
	StatusOverdue: {StatusPaid, StatusCancelled},
}

// CanTransition reports whether a payment may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NewPayment builds a PENDING payment for an issued charge.
func NewPayment(id, companyID, contractID string, amount money.Money, dueDate time.Time, gateway GatewayID, charge ChargeResult, split Split, fee money.Money, idempotencyKey string) *Payment {
	now := time.Now().UTC()
	return &Payment{
		ID:               id,
		CompanyID:        companyID,
		ContractID:       contractID,
		Amount:           amount,
		DueDate:          dueDate,
		Status:           StatusPending,
		Gateway:          gateway,
		GatewayPaymentID: charge.GatewayChargeID,
		BoletoURL:        charge.BoletoURL,
		BoletoCode:       charge.BoletoCode,
		PixQRCode:        charge.PixQRCode,
		OwnerAmount:      split.OwnerAmount,
		CompanyAmount:    split.CompanyAmount,
		GatewayFee:       fee,
		IdempotencyKey:   idempotencyKey,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// WebhookOutcome is the decision taken for one webhook against a payment.
type WebhookOutcome string

const (
	OutcomeApply      WebhookOutcome = "apply"
	OutcomeDuplicate  WebhookOutcome = "duplicate"
	OutcomeTerminal   WebhookOutcome = "terminal"
	OutcomeDisallowed WebhookOutcome = "disallowed"
	// OutcomeAcknowledge records receipt of a same-status event without a
	// status change.
	OutcomeAcknowledge WebhookOutcome = "acknowledge"
)

// Decide classifies a webhook event against the payment's current state.
// A repeated status is a duplicate once any webhook was recorded, which is
// what makes redelivery safe regardless of event timestamps.
func (p *Payment) Decide(evt WebhookEvent) WebhookOutcome {
	if evt.Status == p.Status {
		if p.WebhookReceived || p.Status.IsTerminal() {
			return OutcomeDuplicate
		}
		return OutcomeAcknowledge
	}
	if p.Status.IsTerminal() {
		return OutcomeTerminal
	}
	if !CanTransition(p.Status, evt.Status) {
		return OutcomeDisallowed
	}
	return OutcomeApply
}

// ApplyWebhook mutates the payment for an OutcomeApply or
// OutcomeAcknowledge decision.
func (p *Payment) ApplyWebhook(evt WebhookEvent, now time.Time) {
	if evt.Status == StatusPaid && p.Status != StatusPaid {
		paid := now
		if evt.PaidDate != nil {
			paid = *evt.PaidDate
		}
		p.PaidDate = &paid
	}
	p.Status = evt.Status
	p.WebhookReceived = true
	received := now
	p.LastWebhookAt = &received
	p.UpdatedAt = now
}
