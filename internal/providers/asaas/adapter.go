// Package asaas provides the Asaas boleto and PIX gateway with wallet-based
// split payouts.
package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"rentpay/internal/common/money"
	"rentpay/internal/payments"
)

// Config holds Asaas adapter configuration.
type Config struct {
	BaseURL string        `envconfig:"ASAAS_BASE_URL" default:"https://api.asaas.com"`
	Timeout time.Duration `envconfig:"ASAAS_TIMEOUT" default:"30s"`
}

// WebhookTokenHeader carries the token Asaas sends with each webhook.
const WebhookTokenHeader = "asaas-access-token"

// Provider creates Asaas gateways bound to company credentials.
type Provider struct {
	config      Config
	httpClient  *http.Client
	subAccounts payments.SubAccountStore
	logger      *slog.Logger
}

// NewProvider creates a new Asaas provider.
func NewProvider(cfg Config, subAccounts payments.SubAccountStore, logger *slog.Logger) *Provider {
	return &Provider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		subAccounts: subAccounts,
		logger:      logger.With("gateway", payments.GatewayAsaas),
	}
}

// ID implements payments.Provider.
func (p *Provider) ID() payments.GatewayID { return payments.GatewayAsaas }

// WebhookTokenHeader returns the header checked on inbound webhooks.
func (p *Provider) WebhookTokenHeader() string { return WebhookTokenHeader }

// Bind returns an adapter authenticated with cred.APIKey.
func (p *Provider) Bind(cred payments.Credential) (payments.Gateway, error) {
	if cred.APIKey == "" {
		return nil, fmt.Errorf("%w: asaas api key is empty", payments.ErrUnsupportedGateway)
	}
	return &Adapter{Provider: p, apiKey: cred.APIKey}, nil
}

// Adapter is an Asaas client for one company.
type Adapter struct {
	*Provider
	apiKey string
}

type customer struct {
	ID                   string `json:"id,omitempty"`
	Name                 string `json:"name"`
	Email                string `json:"email,omitempty"`
	CpfCnpj              string `json:"cpfCnpj"`
	MobilePhone          string `json:"mobilePhone,omitempty"`
	NotificationDisabled bool   `json:"notificationDisabled"`
}

type customerList struct {
	Data       []customer `json:"data"`
	TotalCount int        `json:"totalCount"`
}

// EnsureCustomer finds the customer by CPF/CNPJ or creates it.
func (a *Adapter) EnsureCustomer(ctx context.Context, profile payments.CustomerProfile) (payments.CustomerRef, error) {
	taxID := payments.NormalizeTaxID(profile.TaxID)

	var found customerList
	if err := a.do(ctx, "search customer", http.MethodGet, "/v3/customers?cpfCnpj="+url.QueryEscape(taxID), nil, &found); err != nil {
		return payments.CustomerRef{}, err
	}
	if len(found.Data) > 0 {
		a.logger.Debug("reusing asaas customer", "customer_id", found.Data[0].ID)
		return payments.CustomerRef{Gateway: payments.GatewayAsaas, ID: found.Data[0].ID, Profile: profile}, nil
	}

	var created customer
	err := a.do(ctx, "create customer", http.MethodPost, "/v3/customers", customer{
		Name:        profile.Name,
		Email:       profile.Email,
		CpfCnpj:     taxID,
		MobilePhone: profile.Phone,
		// Boleto delivery is handled by the CRM.
		NotificationDisabled: true,
	}, &created)
	if err != nil {
		return payments.CustomerRef{}, err
	}

	a.logger.Info("asaas customer created", "customer_id", created.ID)
	return payments.CustomerRef{Gateway: payments.GatewayAsaas, ID: created.ID, Profile: profile}, nil
}

type bankRef struct {
	Code string `json:"code"`
}

type bankAccount struct {
	Bank            bankRef `json:"bank"`
	OwnerName       string  `json:"ownerName"`
	CpfCnpj         string  `json:"cpfCnpj"`
	Agency          string  `json:"agency"`
	Account         string  `json:"account"`
	AccountDigit    string  `json:"accountDigit"`
	BankAccountType string  `json:"bankAccountType"`
}

type accountRequest struct {
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	CpfCnpj     string      `json:"cpfCnpj"`
	MobilePhone string      `json:"mobilePhone,omitempty"`
	BankAccount bankAccount `json:"bankAccount"`
}

type accountResponse struct {
	ID       string `json:"id"`
	WalletID string `json:"walletId"`
}

// EnsurePayoutAccount returns the cached wallet or registers a sub-account
// for the owner and caches its wallet id.
func (a *Adapter) EnsurePayoutAccount(ctx context.Context, owner *payments.Owner, acct *payments.BankAccount) (payments.PayoutAccountRef, error) {
	if acct.AsaasWalletID != "" {
		return payments.PayoutAccountRef{Gateway: payments.GatewayAsaas, ID: acct.AsaasWalletID, Account: *acct}, nil
	}

	accountType := "CONTA_CORRENTE"
	if acct.AccountType == payments.AccountSavings {
		accountType = "CONTA_POUPANCA"
	}

	var created accountResponse
	err := a.do(ctx, "create sub-account", http.MethodPost, "/v3/accounts", accountRequest{
		Name:        owner.Name,
		Email:       owner.Email,
		CpfCnpj:     payments.NormalizeTaxID(owner.TaxID),
		MobilePhone: owner.Phone,
		BankAccount: bankAccount{
			Bank:            bankRef{Code: acct.BankCode},
			OwnerName:       acct.HolderName,
			CpfCnpj:         payments.NormalizeTaxID(acct.HolderTaxID),
			Agency:          acct.Agency,
			Account:         acct.AccountNumber,
			AccountDigit:    acct.AccountDigit,
			BankAccountType: accountType,
		},
	}, &created)
	if err != nil {
		return payments.PayoutAccountRef{}, err
	}
	if created.WalletID == "" {
		return payments.PayoutAccountRef{}, &payments.UpstreamError{
			Gateway:   payments.GatewayAsaas,
			Operation: "create sub-account",
			Err:       errors.New("response carried no walletId"),
		}
	}

	stored, err := a.subAccounts.SetSubAccountIfEmpty(ctx, acct.ID, payments.GatewayAsaas, created.WalletID)
	if err != nil {
		return payments.PayoutAccountRef{}, fmt.Errorf("caching asaas wallet: %w", err)
	}
	if stored != created.WalletID {
		a.logger.Warn("concurrent sub-account registration, keeping stored wallet",
			"bank_account_id", acct.ID,
			"stored_wallet_id", stored,
			"discarded_wallet_id", created.WalletID,
		)
	}
	acct.AsaasWalletID = stored

	a.logger.Info("asaas payout account ready", "bank_account_id", acct.ID, "wallet_id", stored)
	return payments.PayoutAccountRef{Gateway: payments.GatewayAsaas, ID: stored, Account: *acct}, nil
}

type split struct {
	WalletID   string      `json:"walletId"`
	FixedValue money.Money `json:"fixedValue"`
}

type chargeRequest struct {
	Customer          string      `json:"customer"`
	BillingType       string      `json:"billingType"`
	Value             money.Money `json:"value"`
	DueDate           string      `json:"dueDate"`
	Description       string      `json:"description,omitempty"`
	ExternalReference string      `json:"externalReference"`
	Split             []split     `json:"split"`
}

type chargeResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	BankSlipURL string `json:"bankSlipUrl"`
	InvoiceURL  string `json:"invoiceUrl"`
}

type identificationField struct {
	IdentificationField string `json:"identificationField"`
	NossoNumero         string `json:"nossoNumero"`
	BarCode             string `json:"barCode"`
}

type pixQRCode struct {
	EncodedImage string `json:"encodedImage"`
	Payload      string `json:"payload"`
}

// CreateCharge issues a boleto with the owner's share routed to their
// wallet, then fetches the digitable line and the PIX payload.
func (a *Adapter) CreateCharge(ctx context.Context, req payments.ChargeRequest) (payments.ChargeResult, error) {
	a.logger.Info("creating asaas charge",
		"external_reference", req.ExternalReference,
		"amount", req.Amount.String(),
		"split_amount", req.SplitAmount.String(),
	)

	var charge chargeResponse
	err := a.do(ctx, "create charge", http.MethodPost, "/v3/payments", chargeRequest{
		Customer:          req.Customer.ID,
		BillingType:       "BOLETO",
		Value:             req.Amount,
		DueDate:           req.DueDate.Format(payments.DateLayout),
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
		Split:             []split{{WalletID: req.Payout.ID, FixedValue: req.SplitAmount}},
	}, &charge)
	if err != nil {
		return payments.ChargeResult{}, err
	}

	result := payments.ChargeResult{
		GatewayChargeID: charge.ID,
		BoletoURL:       charge.BankSlipURL,
	}
	if result.BoletoURL == "" {
		result.BoletoURL = charge.InvoiceURL
	}

	// The charge exists from here on; follow-up lookups must not fail it and
	// run detached from the caller's cancellation.
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.lookupTimeout())
	defer cancel()

	var ident identificationField
	if err := a.do(lookupCtx, "get identification field", http.MethodGet, "/v3/payments/"+url.PathEscape(charge.ID)+"/identificationField", nil, &ident); err != nil {
		a.logger.Warn("boleto digitable line unavailable", "gateway_payment_id", charge.ID, "error", err)
	} else {
		result.BoletoCode = ident.IdentificationField
	}

	var pix pixQRCode
	if err := a.do(lookupCtx, "get pix qr code", http.MethodGet, "/v3/payments/"+url.PathEscape(charge.ID)+"/pixQrCode", nil, &pix); err != nil {
		a.logger.Warn("pix qr code unavailable", "gateway_payment_id", charge.ID, "error", err)
	} else {
		result.PixQRCode = pix.Payload
	}

	a.logger.Info("asaas charge created", "gateway_payment_id", charge.ID, "external_reference", req.ExternalReference)
	return result, nil
}

// lookupTimeout covers the two follow-up calls after a charge is created.
func (a *Adapter) lookupTimeout() time.Duration {
	if a.config.Timeout <= 0 {
		return time.Minute
	}
	return 2 * a.config.Timeout
}

// do performs one API call. In and out may be nil.
func (a *Adapter) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("access_token", a.apiKey)
	httpReq.Header.Set("User-Agent", "rentpay")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return &payments.UpstreamError{Gateway: payments.GatewayAsaas, Operation: op, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return &payments.UpstreamError{Gateway: payments.GatewayAsaas, Operation: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if httpResp.StatusCode >= 400 {
		return &payments.UpstreamError{
			Gateway:    payments.GatewayAsaas,
			Operation:  op,
			StatusCode: httpResp.StatusCode,
			Body:       string(respBody),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &payments.UpstreamError{Gateway: payments.GatewayAsaas, Operation: op, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return nil
}
