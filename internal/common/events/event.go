package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	CompanyID     string          `json:"company_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType string, companyID, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		CompanyID:     companyID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Payment event types
const (
	EventBoletoIssued           = "payments.boleto.issued"
	EventPaymentStatusChanged   = "payments.status.changed"
	EventReconciliationRequired = "payments.reconciliation.required"
)

// AggregatePayment is the aggregate type for payment events
const AggregatePayment = "payment"

// BoletoIssuedData is the data for payments.boleto.issued events
type BoletoIssuedData struct {
	PaymentID        string `json:"payment_id"`
	ContractID       string `json:"contract_id"`
	Gateway          string `json:"gateway"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	AmountMinor      int64  `json:"amount_minor"`
	OwnerAmountMinor int64  `json:"owner_amount_minor"`
	DueDate          string `json:"due_date"`
}

// PaymentStatusChangedData is the data for payments.status.changed events
type PaymentStatusChangedData struct {
	PaymentID        string     `json:"payment_id"`
	ContractID       string     `json:"contract_id"`
	Gateway          string     `json:"gateway"`
	GatewayPaymentID string     `json:"gateway_payment_id"`
	PreviousStatus   string     `json:"previous_status"`
	Status           string     `json:"status"`
	PaidDate         *time.Time `json:"paid_date,omitempty"`
}

// ReconciliationRequiredData is the data for payments.reconciliation.required
// events: a charge exists upstream with no local payment row.
type ReconciliationRequiredData struct {
	ContractID       string `json:"contract_id"`
	Gateway          string `json:"gateway"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	IdempotencyKey   string `json:"idempotency_key"`
	AmountMinor      int64  `json:"amount_minor"`
	Error            string `json:"error"`
}
