package payments

import (
	"context"
	"fmt"
	"time"
)

// Gateway is a gateway client bound to one company's credentials.
type Gateway interface {
	ID() GatewayID
	// EnsureCustomer registers the payer or finds the existing record.
	EnsureCustomer(ctx context.Context, profile CustomerProfile) (CustomerRef, error)
	// EnsurePayoutAccount returns the cached sub-account for acct or
	// registers one and caches it through the SubAccountStore.
	EnsurePayoutAccount(ctx context.Context, owner *Owner, acct *BankAccount) (PayoutAccountRef, error)
	// CreateCharge issues a boleto routing SplitAmount to the payout account.
	CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	ParseWebhook(raw []byte) (WebhookEvent, error)
}

// Provider builds Gateways and parses webhooks, which need no credentials.
type Provider interface {
	ID() GatewayID
	Bind(cred Credential) (Gateway, error)
	ParseWebhook(raw []byte) (WebhookEvent, error)
}

// SubAccountStore caches gateway sub-account references on bank accounts.
type SubAccountStore interface {
	// SetSubAccountIfEmpty stores ref unless a value is already present and
	// returns the stored value, which may belong to a concurrent writer.
	SetSubAccountIfEmpty(ctx context.Context, bankAccountID string, gateway GatewayID, ref string) (string, error)
}

// Store persists owners and payments.
type Store interface {
	SubAccountStore

	GetOwner(ctx context.Context, companyID, ownerID string) (*Owner, error)
	SaveOwner(ctx context.Context, owner *Owner) error

	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, companyID, paymentID string) (*Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, companyID, key string) (*Payment, error)

	// FindPaymentByGatewayID and FindPaymentByID serve webhook lookups,
	// which carry no company scope.
	FindPaymentByGatewayID(ctx context.Context, gateway GatewayID, gatewayPaymentID string) (*Payment, error)
	FindPaymentByID(ctx context.Context, paymentID string) (*Payment, error)

	// UpdateWebhookState writes status, paidDate, webhookReceived and
	// lastWebhookAt only while the stored status still equals prev. It
	// reports whether the row was updated.
	UpdateWebhookState(ctx context.Context, p *Payment, prev Status) (bool, error)
}

// WebhookAuthorizer checks a webhook token against the company that owns
// the targeted payment.
type WebhookAuthorizer interface {
	AuthorizeWebhook(companyID string, gateway GatewayID, token string) bool
}

// Locker provides per-key exclusive locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Registry maps gateway ids to providers.
type Registry struct {
	providers map[GatewayID]Provider
}

// NewRegistry creates a registry of the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[GatewayID]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.ID()] = p
	}
	return r
}

// Provider returns the provider for id.
func (r *Registry) Provider(id GatewayID) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, id)
	}
	return p, nil
}

// Bind returns the gateway for id bound to the matching credential.
func (r *Registry) Bind(id GatewayID, creds GatewayCredentials) (Gateway, error) {
	p, err := r.Provider(id)
	if err != nil {
		return nil, err
	}
	cred, ok := creds.For(id)
	if !ok {
		return nil, fmt.Errorf("%w: no credentials configured for %s", ErrUnsupportedGateway, id)
	}
	return p.Bind(cred)
}
