package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rentpay/internal/common/events"
)

// ReconcilerConfig holds webhook reconciliation configuration.
type ReconcilerConfig struct {
	// MaxAttempts bounds reload-and-retry after a lost compare-and-set.
	MaxAttempts int `envconfig:"PAYMENTS_WEBHOOK_MAX_ATTEMPTS" default:"3"`
}

// Reconciler projects gateway webhooks onto stored payments.
type Reconciler struct {
	store     Store
	registry  *Registry
	auth      WebhookAuthorizer
	publisher events.EventPublisher
	logger    *slog.Logger
	cfg       ReconcilerConfig
	now       func() time.Time
}

// NewReconciler creates a new webhook reconciler. Every webhook that
// reaches a payment is checked by auth against the payment's company.
func NewReconciler(store Store, registry *Registry, auth WebhookAuthorizer, publisher events.EventPublisher, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Reconciler{
		store:     store,
		registry:  registry,
		auth:      auth,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process applies one raw webhook payload from gateway, delivered with
// token. It reports whether the stored payment changed. Unknown payments,
// duplicates and events for terminal payments are logged and return
// (false, nil) so the gateway stops redelivering. Errors are returned only
// for unsupported gateways, malformed payloads, tokens foreign to the
// payment's company and store failures.
func (r *Reconciler) Process(ctx context.Context, gateway GatewayID, raw []byte, token string) (bool, error) {
	provider, err := r.registry.Provider(gateway)
	if err != nil {
		return false, err
	}

	evt, err := provider.ParseWebhook(raw)
	if err != nil {
		return false, err
	}
	evt.Gateway = gateway
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = r.now()
	}

	logger := r.logger.With(
		"gateway", gateway,
		"gateway_payment_id", evt.GatewayPaymentID,
		"external_reference", evt.ExternalReference,
		"status", evt.Status,
		"provider_status", evt.ProviderStatus,
	)

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		p, err := r.find(ctx, gateway, evt)
		if errors.Is(err, ErrPaymentNotFound) {
			logger.Warn("webhook for unknown payment ignored")
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("loading payment: %w", err)
		}
		plog := logger.With("payment_id", p.ID, "company_id", p.CompanyID, "current_status", p.Status)

		if !r.auth.AuthorizeWebhook(p.CompanyID, gateway, token) {
			plog.Warn("webhook token does not match payment's company, rejected")
			return false, ErrWebhookUnauthorized
		}

		switch p.Decide(evt) {
		case OutcomeDuplicate:
			plog.Info("duplicate webhook ignored")
			return false, nil
		case OutcomeTerminal:
			plog.Info("webhook for terminal payment ignored")
			return false, nil
		case OutcomeDisallowed:
			plog.Warn("webhook transition not allowed, ignored")
			return false, nil
		}

		prev := p.Status
		updated := *p
		updated.ApplyWebhook(evt, r.now())

		ok, err := r.store.UpdateWebhookState(ctx, &updated, prev)
		if err != nil {
			return false, fmt.Errorf("updating payment %s: %w", p.ID, err)
		}
		if !ok {
			plog.Debug("payment changed concurrently, re-evaluating", "attempt", attempt)
			continue
		}

		if evt.PaidAmount != nil && !evt.PaidAmount.Equal(p.Amount) {
			plog.Warn("paid amount differs from charged amount",
				"paid_amount", evt.PaidAmount.String(),
				"amount", p.Amount.String(),
			)
		}

		plog.Info("webhook applied", "new_status", updated.Status)
		if prev != updated.Status {
			changed, buildErr := statusChangedEvent(&updated, prev)
			publish(ctx, r.publisher, plog, changed, buildErr)
		}
		return true, nil
	}

	return false, fmt.Errorf("reconciling webhook: payment kept changing after %d attempts", r.cfg.MaxAttempts)
}

// find looks the payment up by gateway charge id, then by the payment id
// sent as external reference.
func (r *Reconciler) find(ctx context.Context, gateway GatewayID, evt WebhookEvent) (*Payment, error) {
	if evt.GatewayPaymentID != "" {
		p, err := r.store.FindPaymentByGatewayID(ctx, gateway, evt.GatewayPaymentID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
	}
	if evt.ExternalReference != "" {
		p, err := r.store.FindPaymentByID(ctx, evt.ExternalReference)
		if err != nil {
			return nil, err
		}
		if p.Gateway != gateway {
			return nil, ErrPaymentNotFound
		}
		return p, nil
	}
	return nil, ErrPaymentNotFound
}
