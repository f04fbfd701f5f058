package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"rentpay/internal/common/api"
	"rentpay/internal/common/middleware"
	"rentpay/internal/common/money"
	"rentpay/internal/payments"
	"rentpay/internal/settings"
)

// maxWebhookBody caps inbound webhook payloads.
const maxWebhookBody = 1 << 20

// BoletoService issues boletos.
type BoletoService interface {
	CreateBoletoWithSplit(ctx context.Context, req payments.BoletoRequest) (*payments.BoletoResponse, error)
	Estimate(amount money.Money, override payments.GatewayID, fees payments.FeeSchedule) (payments.Estimate, error)
}

// WebhookProcessor applies gateway webhooks.
type WebhookProcessor interface {
	Process(ctx context.Context, gateway payments.GatewayID, raw []byte, token string) (bool, error)
}

// PaymentReader loads stored payments.
type PaymentReader interface {
	GetPayment(ctx context.Context, companyID, paymentID string) (*payments.Payment, error)
}

// SettingsResolver resolves company settings.
type SettingsResolver interface {
	Resolve(companyID string) settings.Company
}

// Config wires a Handler.
type Config struct {
	Boletos  BoletoService
	Webhooks WebhookProcessor
	Payments PaymentReader
	Settings SettingsResolver
	// WebhookHeaders names the token header each gateway sends. The token
	// is checked against the company of the payment a webhook targets.
	WebhookHeaders map[payments.GatewayID]string
	// Idempotency wraps POST /boletos when set.
	Idempotency func(http.Handler) http.Handler
	Logger      *slog.Logger
}

// Handler handles payment HTTP requests
type Handler struct {
	boletos        BoletoService
	webhooks       WebhookProcessor
	payments       PaymentReader
	settings       SettingsResolver
	webhookHeaders map[payments.GatewayID]string
	idempotency    func(http.Handler) http.Handler
	logger         *slog.Logger
}

// NewHandler creates a new payments handler
func NewHandler(cfg Config) *Handler {
	return &Handler{
		boletos:        cfg.Boletos,
		webhooks:       cfg.Webhooks,
		payments:       cfg.Payments,
		settings:       cfg.Settings,
		webhookHeaders: cfg.WebhookHeaders,
		idempotency:    cfg.Idempotency,
		logger:         cfg.Logger,
	}
}

// Routes returns the company-scoped API routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireCompany)

	if h.idempotency != nil {
		r.With(h.idempotency).Post("/boletos", h.CreateBoleto)
	} else {
		r.Post("/boletos", h.CreateBoleto)
	}
	r.Post("/boletos/estimate", h.EstimateBoleto)
	r.Get("/payments/{id}", h.GetPayment)

	return r
}

// WebhookRoutes returns the gateway webhook routes. They carry no company.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{gateway}", h.Webhook)
	return r
}

// CreateBoletoRequest is the API request for issuing a boleto
type CreateBoletoRequest struct {
	ContractID                  string           `json:"contractId" validate:"required,max=100"`
	TenantName                  string           `json:"tenantName" validate:"required,max=255"`
	TenantEmail                 string           `json:"tenantEmail" validate:"omitempty,email"`
	TenantDocument              string           `json:"tenantDocument" validate:"required,max=18"`
	TenantPhone                 string           `json:"tenantPhone" validate:"max=20"`
	Amount                      money.Money      `json:"amount"`
	DueDate                     string           `json:"dueDate" validate:"required,datetime=2006-01-02"`
	Description                 string           `json:"description" validate:"max=500"`
	AdministrationFeePercentage *decimal.Decimal `json:"administrationFeePercentage" validate:"required"`
	OwnerID                     string           `json:"ownerId" validate:"required,max=100"`
	ForceGateway                string           `json:"forceGateway" validate:"omitempty,oneof=pjbank asaas"`
	IdempotencyKey              string           `json:"idempotencyKey" validate:"max=200"`
}

// CreateBoleto handles POST /boletos
func (h *Handler) CreateBoleto(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())

	var req CreateBoletoRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	dueDate, err := time.Parse(payments.DateLayout, req.DueDate)
	if err != nil {
		api.BadRequest(w, "dueDate must be formatted as YYYY-MM-DD")
		return
	}

	company := h.settings.Resolve(companyID)
	resp, err := h.boletos.CreateBoletoWithSplit(r.Context(), payments.BoletoRequest{
		CompanyID:  companyID,
		ContractID: req.ContractID,
		Tenant: payments.CustomerProfile{
			Name:  req.TenantName,
			Email: req.TenantEmail,
			TaxID: req.TenantDocument,
			Phone: req.TenantPhone,
		},
		Amount:               req.Amount,
		DueDate:              dueDate,
		Description:          req.Description,
		AdministrationFeePct: *req.AdministrationFeePercentage,
		OwnerID:              req.OwnerID,
		ForceGateway:         payments.GatewayID(req.ForceGateway),
		IdempotencyKey:       req.IdempotencyKey,
		Credentials:          company.Credentials,
		Fees:                 company.Fees,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	api.WriteData(w, status, resp)
}

// EstimateRequest is the API request for a cost estimate
type EstimateRequest struct {
	Amount       money.Money `json:"amount"`
	ForceGateway string      `json:"forceGateway" validate:"omitempty,oneof=pjbank asaas"`
}

// EstimateResponse reports the selected gateway and every gateway's fee
type EstimateResponse struct {
	payments.Estimate
	Fees map[payments.GatewayID]money.Money `json:"fees"`
}

// EstimateBoleto handles POST /boletos/estimate
func (h *Handler) EstimateBoleto(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())

	var req EstimateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	fees := h.settings.Resolve(companyID).Fees
	estimate, err := h.boletos.Estimate(req.Amount, payments.GatewayID(req.ForceGateway), fees)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := EstimateResponse{Estimate: estimate, Fees: map[payments.GatewayID]money.Money{}}
	for _, g := range []payments.GatewayID{payments.GatewayPJBank, payments.GatewayAsaas} {
		if fee, err := fees.Fee(g, req.Amount); err == nil {
			resp.Fees[g] = fee
		}
	}
	api.WriteData(w, http.StatusOK, resp)
}

// GetPayment handles GET /payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())

	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "payment ID required")
		return
	}

	payment, err := h.payments.GetPayment(r.Context(), companyID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusOK, payment)
}

// WebhookResponse acknowledges a webhook
type WebhookResponse struct {
	Applied bool `json:"applied"`
}

// Webhook handles POST /webhooks/{gateway}. Anything parseable gets a 200
// so the gateway stops redelivering; store failures get a 500 so it retries.
// A token foreign to the targeted payment's company gets a 401.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	gateway, err := payments.ParseGatewayID(chi.URLParam(r, "gateway"))
	if err != nil || gateway == payments.GatewayManual {
		api.NotFound(w, "unknown gateway")
		return
	}

	var token string
	if header, ok := h.webhookHeaders[gateway]; ok {
		token = r.Header.Get(header)
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		api.BadRequest(w, "failed to read body")
		return
	}

	applied, err := h.webhooks.Process(r.Context(), gateway, raw, token)
	switch {
	case errors.Is(err, payments.ErrWebhookUnauthorized):
		h.logger.Warn("webhook token mismatch", "gateway", gateway, "remote_addr", r.RemoteAddr)
		api.Unauthorized(w, "invalid webhook token")
		return
	case errors.Is(err, payments.ErrMalformedWebhook):
		api.BadRequest(w, err.Error())
		return
	case errors.Is(err, payments.ErrUnsupportedGateway):
		api.NotFound(w, "unknown gateway")
		return
	case err != nil:
		h.logger.Error("webhook processing failed",
			"gateway", gateway,
			"correlation_id", middleware.GetCorrelationID(r.Context()),
			"error", err,
		)
		api.InternalError(w, "failed to process webhook")
		return
	}

	api.WriteData(w, http.StatusOK, WebhookResponse{Applied: applied})
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var decodeErr *api.DecodeError
	if errors.As(err, &decodeErr) {
		api.BadRequest(w, decodeErr.Error())
		return
	}
	api.ValidationError(w, err)
}

// writeServiceError maps payment errors to HTTP responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var persistErr *payments.PersistenceAfterChargeError
	var upErr *payments.UpstreamError

	switch {
	case errors.As(err, &persistErr):
		// The router already logged and published it.
		api.WriteErrorWithDetails(w, http.StatusInternalServerError, api.ErrCodeReconciliation,
			"boleto was issued by the gateway but could not be recorded; do not retry",
			map[string]string{
				"gateway":         string(persistErr.Gateway),
				"gatewayChargeId": persistErr.GatewayChargeID,
				"contractId":      persistErr.ContractID,
			})
	case errors.Is(err, payments.ErrInvalidRequest):
		api.BadRequest(w, err.Error())
	case errors.Is(err, payments.ErrInvalidAmount), errors.Is(err, payments.ErrInvalidPercentage):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
	case errors.Is(err, payments.ErrUnsupportedGateway):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
	case errors.Is(err, payments.ErrOwnerNotFound):
		api.WriteError(w, http.StatusNotFound, api.ErrCodeOwnerNotFound, "owner not found")
	case errors.Is(err, payments.ErrPaymentNotFound):
		api.NotFound(w, "payment not found")
	case errors.Is(err, payments.ErrNoBankAccount):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeNoBankAccount, "owner has no active bank account")
	case errors.Is(err, payments.ErrContractBusy):
		api.WriteError(w, http.StatusConflict, api.ErrCodeContractBusy, err.Error())
	case errors.As(err, &upErr) && upErr.Rejected():
		api.WriteErrorWithDetails(w, http.StatusUnprocessableEntity, api.ErrCodeUpstreamRejected,
			"gateway rejected the request",
			map[string]string{
				"gateway":   string(upErr.Gateway),
				"operation": upErr.Operation,
				"body":      upErr.Body,
			})
	case errors.Is(err, payments.ErrUpstreamUnavailable):
		h.logger.Warn("gateway unavailable", "error", err, "correlation_id", middleware.GetCorrelationID(r.Context()))
		api.WriteError(w, http.StatusServiceUnavailable, api.ErrCodeUpstreamUnavailable, "gateway unavailable, retry later")
	default:
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"correlation_id", middleware.GetCorrelationID(r.Context()),
			"error", err,
		)
		api.InternalError(w, "internal error")
	}
}
