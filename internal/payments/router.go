package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"rentpay/internal/common/cache"
	"rentpay/internal/common/events"
	"rentpay/internal/common/money"
)

// MaxGatewayCalls is the most sequential upstream calls one issuance makes:
// customer search and create, sub-account, charge and two charge lookups.
const MaxGatewayCalls = 6

// RouterConfig holds router configuration.
type RouterConfig struct {
	// LockTTL bounds how long one contract stays locked. It must outlast
	// MaxGatewayCalls upstream calls plus PersistTimeout; see ForCallTimeout.
	LockTTL time.Duration `envconfig:"PAYMENTS_CONTRACT_LOCK_TTL" default:"5m"`
	// PersistTimeout bounds recording the payment once its charge exists.
	// It runs detached from the request context.
	PersistTimeout time.Duration `envconfig:"PAYMENTS_PERSIST_TIMEOUT" default:"10s"`
	// MaxAmountMinor is the largest boleto amount accepted, in centavos.
	MaxAmountMinor int64 `envconfig:"PAYMENTS_MAX_AMOUNT_MINOR" default:"100000000"`
}

// ForCallTimeout raises LockTTL so that it covers MaxGatewayCalls calls of
// callTimeout each plus PersistTimeout.
func (c RouterConfig) ForCallTimeout(callTimeout time.Duration) RouterConfig {
	if need := MaxGatewayCalls*callTimeout + c.PersistTimeout; c.LockTTL < need {
		c.LockTTL = need
	}
	return c
}

// Router issues boletos with an owner/company split.
type Router struct {
	store     Store
	registry  *Registry
	locker    Locker
	publisher events.EventPublisher
	logger    *slog.Logger
	cfg       RouterConfig
}

// NewRouter creates a new payment router.
func NewRouter(store Store, registry *Registry, locker Locker, publisher events.EventPublisher, cfg RouterConfig, logger *slog.Logger) *Router {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	if cfg.MaxAmountMinor <= 0 {
		cfg.MaxAmountMinor = 100_000_000
	}
	return &Router{
		store:     store,
		registry:  registry,
		locker:    locker,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// BoletoRequest is the request to issue a boleto for one contract
// installment. Credentials and Fees are resolved by the caller for the
// company.
type BoletoRequest struct {
	CompanyID            string
	ContractID           string
	Tenant               CustomerProfile
	Amount               money.Money
	DueDate              time.Time
	Description          string
	AdministrationFeePct decimal.Decimal
	OwnerID              string
	ForceGateway         GatewayID
	IdempotencyKey       string

	Credentials GatewayCredentials
	Fees        FeeSchedule
}

func (r *BoletoRequest) validate(maxAmountMinor int64) error {
	var missing []string
	for name, v := range map[string]string{
		"companyId":      r.CompanyID,
		"contractId":     r.ContractID,
		"ownerId":        r.OwnerID,
		"tenantName":     r.Tenant.Name,
		"tenantDocument": r.Tenant.TaxID,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if r.DueDate.IsZero() {
		return fmt.Errorf("%w: missing dueDate", ErrInvalidRequest)
	}
	if err := checkAmount(r.Amount, maxAmountMinor); err != nil {
		return err
	}
	if r.AdministrationFeePct.IsNegative() || r.AdministrationFeePct.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s", ErrInvalidPercentage, r.AdministrationFeePct)
	}
	if r.ForceGateway == GatewayManual {
		return fmt.Errorf("%w: manual payments are not issued through a gateway", ErrUnsupportedGateway)
	}
	return nil
}

func checkAmount(amount money.Money, maxAmountMinor int64) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if amount.AmountMinor > maxAmountMinor {
		return fmt.Errorf("%w: %s exceeds maximum %s", ErrInvalidAmount, amount, money.New(maxAmountMinor, amount.Currency))
	}
	return nil
}

// idempotencyKey is the caller token, or contract and due date.
func (r *BoletoRequest) idempotencyKey() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	return r.ContractID + ":" + r.DueDate.Format(DateLayout)
}

// SplitSummary reports the split and estimated fee of a payment.
type SplitSummary struct {
	OwnerAmount   money.Money `json:"ownerAmount"`
	CompanyAmount money.Money `json:"companyAmount"`
	GatewayFee    money.Money `json:"gatewayFee"`
}

// BoletoResponse is returned for an issued or replayed boleto.
type BoletoResponse struct {
	PaymentID        string       `json:"paymentId"`
	Gateway          GatewayID    `json:"gateway"`
	GatewayPaymentID string       `json:"gatewayPaymentId"`
	BoletoURL        string       `json:"boletoUrl"`
	BoletoCode       string       `json:"boletoCode,omitempty"`
	PixQRCode        string       `json:"pixQrCode,omitempty"`
	Splits           SplitSummary `json:"splits"`
	EstimatedCosts   Estimate     `json:"estimatedCosts"`
	Replayed         bool         `json:"replayed"`
}

func newBoletoResponse(p *Payment, estimate Estimate, replayed bool) *BoletoResponse {
	return &BoletoResponse{
		PaymentID:        p.ID,
		Gateway:          p.Gateway,
		GatewayPaymentID: p.GatewayPaymentID,
		BoletoURL:        p.BoletoURL,
		BoletoCode:       p.BoletoCode,
		PixQRCode:        p.PixQRCode,
		Splits: SplitSummary{
			OwnerAmount:   p.OwnerAmount,
			CompanyAmount: p.CompanyAmount,
			GatewayFee:    p.GatewayFee,
		},
		EstimatedCosts: estimate,
		Replayed:       replayed,
	}
}

// Estimate returns the gateway choice for a request without side effects.
func (r *Router) Estimate(amount money.Money, override GatewayID, fees FeeSchedule) (Estimate, error) {
	if override == GatewayManual {
		return Estimate{}, fmt.Errorf("%w: manual payments are not issued through a gateway", ErrUnsupportedGateway)
	}
	if err := checkAmount(amount, r.cfg.MaxAmountMinor); err != nil {
		return Estimate{}, err
	}
	return SelectGateway(amount, override, fees)
}

// CreateBoletoWithSplit issues a boleto through the cheapest (or forced)
// gateway, routes the owner's share to their payout account and records a
// PENDING payment. A failure before the payment is recorded leaves no row,
// so the call may be retried. A failure recording it returns a
// *PersistenceAfterChargeError and must not be retried.
func (r *Router) CreateBoletoWithSplit(ctx context.Context, req BoletoRequest) (*BoletoResponse, error) {
	if err := req.validate(r.cfg.MaxAmountMinor); err != nil {
		return nil, err
	}
	key := req.idempotencyKey()

	logger := r.logger.With(
		"company_id", req.CompanyID,
		"contract_id", req.ContractID,
		"idempotency_key", key,
	)

	release, err := r.locker.Acquire(ctx, "contract:"+req.CompanyID+":"+req.ContractID, r.cfg.LockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		return nil, ErrContractBusy
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring contract lock: %w", err)
	}
	defer release()

	existing, err := r.store.GetPaymentByIdempotencyKey(ctx, req.CompanyID, key)
	switch {
	case err == nil:
		logger.Info("replaying existing boleto", "payment_id", existing.ID, "gateway", existing.Gateway)
		return newBoletoResponse(existing, Estimate{
			Gateway: existing.Gateway,
			Fee:     existing.GatewayFee,
			Reason:  "existing payment for idempotency key",
		}, true), nil
	case !errors.Is(err, ErrPaymentNotFound):
		return nil, fmt.Errorf("checking idempotency key: %w", err)
	}

	// 1. Owner and payout account
	owner, err := r.store.GetOwner(ctx, req.CompanyID, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("loading owner %s: %w", req.OwnerID, err)
	}
	acct, ok := owner.PayoutAccount()
	if !ok {
		return nil, fmt.Errorf("owner %s: %w", owner.ID, ErrNoBankAccount)
	}

	// 2. Gateway selection
	estimate, err := SelectGateway(req.Amount, req.ForceGateway, req.Fees)
	if err != nil {
		return nil, err
	}
	gw, err := r.registry.Bind(estimate.Gateway, req.Credentials)
	if err != nil {
		return nil, err
	}
	logger = logger.With("gateway", estimate.Gateway)
	logger.Info("gateway selected", "fee", estimate.Fee.String(), "reason", estimate.Reason)

	// 3. Payer
	customer, err := gw.EnsureCustomer(ctx, req.Tenant)
	if err != nil {
		return nil, fmt.Errorf("ensuring customer: %w", err)
	}

	// 4. Owner sub-account
	payout, err := gw.EnsurePayoutAccount(ctx, owner, acct)
	if err != nil {
		return nil, fmt.Errorf("ensuring payout account: %w", err)
	}

	// 5. Split
	split, err := ComputeSplit(req.Amount, req.AdministrationFeePct)
	if err != nil {
		return nil, err
	}

	// 6. Charge
	paymentID := ulid.Make().String()
	charge, err := gw.CreateCharge(ctx, ChargeRequest{
		Customer:          customer,
		Payout:            payout,
		Amount:            req.Amount,
		DueDate:           req.DueDate,
		Description:       req.Description,
		SplitAmount:       split.OwnerAmount,
		ExternalReference: paymentID,
	})
	if err != nil {
		return nil, fmt.Errorf("creating charge: %w", err)
	}

	// 7. Persist. The charge exists upstream, so a client disconnect must not
	// abort the insert.
	payment := NewPayment(paymentID, req.CompanyID, req.ContractID, req.Amount, req.DueDate,
		estimate.Gateway, charge, split, estimate.Fee, key)
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PersistTimeout)
	defer cancel()
	if err := r.store.CreatePayment(persistCtx, payment); err != nil {
		perr := &PersistenceAfterChargeError{
			ContractID:      req.ContractID,
			Gateway:         estimate.Gateway,
			GatewayChargeID: charge.GatewayChargeID,
			IdempotencyKey:  key,
			Err:             err,
		}
		logger.Error("charge created but payment not persisted, manual reconciliation required",
			"error", err,
			"payment_id", paymentID,
			"gateway_payment_id", charge.GatewayChargeID,
			"boleto_url", charge.BoletoURL,
			"amount", req.Amount.String(),
			"owner_amount", split.OwnerAmount.String(),
		)
		evt, evtErr := reconciliationRequiredEvent(req.CompanyID, perr, req.Amount.AmountMinor)
		publish(context.WithoutCancel(ctx), r.publisher, logger, evt, evtErr)
		return nil, perr
	}

	logger.Info("boleto issued",
		"payment_id", payment.ID,
		"gateway_payment_id", payment.GatewayPaymentID,
		"owner_amount", split.OwnerAmount.String(),
		"company_amount", split.CompanyAmount.String(),
	)

	evt, evtErr := boletoIssuedEvent(payment)
	publish(context.WithoutCancel(ctx), r.publisher, logger, evt, evtErr)

	// 8. Response
	return newBoletoResponse(payment, estimate, false), nil
}
