package payments

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount      = errors.New("amount must be positive and within the configured maximum")
	ErrInvalidPercentage  = errors.New("administration fee percentage must be between 0 and 100")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUnsupportedGateway = errors.New("unsupported gateway")

	ErrOwnerNotFound = errors.New("owner not found")
	ErrNoBankAccount = errors.New("owner has no active bank account")
	ErrOwnerConflict = errors.New("owner or bank account id belongs to another company")

	ErrUpstreamRejected    = errors.New("gateway rejected the request")
	ErrUpstreamUnavailable = errors.New("gateway unavailable")

	ErrPersistenceAfterChargeCreated = errors.New("charge created upstream but payment was not persisted")

	ErrPaymentNotFound  = errors.New("payment not found")
	ErrMalformedWebhook = errors.New("malformed webhook payload")
	// ErrWebhookUnauthorized is returned when a webhook's token does not
	// belong to the company owning the payment it targets.
	ErrWebhookUnauthorized = errors.New("webhook token not valid for payment's company")
	ErrContractBusy     = errors.New("another boleto request for this contract is in progress")
)

// UpstreamError describes a failed gateway call. It matches
// ErrUpstreamRejected or ErrUpstreamUnavailable through errors.Is.
type UpstreamError struct {
	Gateway    GatewayID
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

// Rejected reports whether the gateway refused the request itself.
func (e *UpstreamError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status=%d body=%s", e.Gateway, e.Operation, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: %v", e.Gateway, e.Operation, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstreamRejected:
		return e.Rejected()
	case ErrUpstreamUnavailable:
		return !e.Rejected()
	}
	return false
}

// Rejected builds an UpstreamError for a request the gateway refused
// without an HTTP exchange, such as local validation of bank details.
func Rejected(gateway GatewayID, operation, reason string) *UpstreamError {
	return &UpstreamError{
		Gateway:    gateway,
		Operation:  operation,
		StatusCode: 422,
		Body:       reason,
	}
}

// PersistenceAfterChargeError reports a charge that exists at the gateway
// with no local payment row. It must not be retried automatically.
type PersistenceAfterChargeError struct {
	ContractID      string
	Gateway         GatewayID
	GatewayChargeID string
	IdempotencyKey  string
	Err             error
}

func (e *PersistenceAfterChargeError) Error() string {
	return fmt.Sprintf("%s: contract=%s gateway=%s charge=%s: %v",
		ErrPersistenceAfterChargeCreated, e.ContractID, e.Gateway, e.GatewayChargeID, e.Err)
}

func (e *PersistenceAfterChargeError) Unwrap() error { return e.Err }

func (e *PersistenceAfterChargeError) Is(target error) bool {
	return target == ErrPersistenceAfterChargeCreated
}
