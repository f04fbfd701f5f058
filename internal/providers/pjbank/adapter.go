// Package pjbank provides the PJBank boleto gateway. PJBank has no customer
// or sub-account resources: the payer travels with each charge and the
// owner payout is an inline split to their bank account.
package pjbank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rentpay/internal/common/money"
	"rentpay/internal/payments"
)

// Config holds PJBank adapter configuration.
type Config struct {
	BaseURL string        `envconfig:"PJBANK_BASE_URL" default:"https://api.pjbank.com.br"`
	Timeout time.Duration `envconfig:"PJBANK_TIMEOUT" default:"30s"`
}

// WebhookTokenHeader carries the shared token registered with PJBank.
const WebhookTokenHeader = "X-Webhook-Token"

// dateLayout is PJBank's wire format for dates.
const dateLayout = "01/02/2006"

// Provider creates PJBank gateways bound to company credentials.
type Provider struct {
	config      Config
	httpClient  *http.Client
	subAccounts payments.SubAccountStore
	logger      *slog.Logger
}

// NewProvider creates a new PJBank provider.
func NewProvider(cfg Config, subAccounts payments.SubAccountStore, logger *slog.Logger) *Provider {
	return &Provider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		subAccounts: subAccounts,
		logger:      logger.With("gateway", payments.GatewayPJBank),
	}
}

// ID implements payments.Provider.
func (p *Provider) ID() payments.GatewayID { return payments.GatewayPJBank }

// WebhookTokenHeader returns the header checked on inbound webhooks.
func (p *Provider) WebhookTokenHeader() string { return WebhookTokenHeader }

// Bind returns an adapter for the credencial/chave pair.
func (p *Provider) Bind(cred payments.Credential) (payments.Gateway, error) {
	if cred.AccountID == "" || cred.APIKey == "" {
		return nil, fmt.Errorf("%w: pjbank credencial and chave are required", payments.ErrUnsupportedGateway)
	}
	return &Adapter{Provider: p, credencial: cred.AccountID, chave: cred.APIKey}, nil
}

// Adapter is a PJBank client for one company.
type Adapter struct {
	*Provider
	credencial string
	chave      string
}

// EnsureCustomer validates the payer locally and carries the profile to
// charge time.
func (a *Adapter) EnsureCustomer(_ context.Context, profile payments.CustomerProfile) (payments.CustomerRef, error) {
	if strings.TrimSpace(profile.Name) == "" {
		return payments.CustomerRef{}, payments.Rejected(payments.GatewayPJBank, "validate customer", "payer name is required")
	}
	if !payments.ValidTaxID(profile.TaxID) {
		return payments.CustomerRef{}, payments.Rejected(payments.GatewayPJBank, "validate customer", "invalid payer CPF/CNPJ")
	}
	profile.TaxID = payments.NormalizeTaxID(profile.TaxID)
	return payments.CustomerRef{Gateway: payments.GatewayPJBank, Profile: profile}, nil
}

// EnsurePayoutAccount validates the owner's bank details and caches the split
// recipient reference derived from them.
func (a *Adapter) EnsurePayoutAccount(ctx context.Context, _ *payments.Owner, acct *payments.BankAccount) (payments.PayoutAccountRef, error) {
	if acct.PJBankAccountRef != "" {
		return payments.PayoutAccountRef{Gateway: payments.GatewayPJBank, ID: acct.PJBankAccountRef, Account: *acct}, nil
	}

	if reason := validateBankAccount(acct); reason != "" {
		return payments.PayoutAccountRef{}, payments.Rejected(payments.GatewayPJBank, "validate payout account", reason)
	}

	ref := payoutRef(acct)
	stored, err := a.subAccounts.SetSubAccountIfEmpty(ctx, acct.ID, payments.GatewayPJBank, ref)
	if err != nil {
		return payments.PayoutAccountRef{}, fmt.Errorf("caching pjbank payout ref: %w", err)
	}
	acct.PJBankAccountRef = stored

	a.logger.Info("pjbank payout account ready", "bank_account_id", acct.ID, "payout_ref", stored)
	return payments.PayoutAccountRef{Gateway: payments.GatewayPJBank, ID: stored, Account: *acct}, nil
}

func validateBankAccount(acct *payments.BankAccount) string {
	switch {
	case len(acct.BankCode) != 3 || !digits(acct.BankCode):
		return "bank code must be 3 digits"
	case acct.Agency == "" || len(acct.Agency) > 5 || !digits(acct.Agency):
		return "agency must be up to 5 digits"
	case acct.AccountNumber == "" || len(acct.AccountNumber) > 13 || !digits(acct.AccountNumber):
		return "account number must be up to 13 digits"
	case acct.AccountDigit != "" && (len(acct.AccountDigit) > 2 || !alnum(acct.AccountDigit)):
		return "invalid account check digit"
	case strings.TrimSpace(acct.HolderName) == "":
		return "account holder name is required"
	case !payments.ValidTaxID(acct.HolderTaxID):
		return "invalid account holder CPF/CNPJ"
	}
	return ""
}

// payoutRef renders BANK:AGENCY:ACCOUNT-DIGIT:HOLDER.
func payoutRef(acct *payments.BankAccount) string {
	account := acct.AccountNumber
	if acct.AccountDigit != "" {
		account += "-" + acct.AccountDigit
	}
	return strings.Join([]string{acct.BankCode, acct.Agency, account, payments.NormalizeTaxID(acct.HolderTaxID)}, ":")
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func alnum(s string) bool {
	for _, r := range strings.ToUpper(s) {
		if (r < '0' || r > '9') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

type splitEntry struct {
	Nome           string      `json:"nome"`
	CpfCnpj        string      `json:"cpfcnpj"`
	BancoRepasse   string      `json:"banco_repasse"`
	AgenciaRepasse string      `json:"agencia_repasse"`
	ContaRepasse   string      `json:"conta_repasse"`
	ValorFixo      money.Money `json:"valor_fixo"`
}

type chargeRequest struct {
	Vencimento      string       `json:"vencimento"`
	Valor           money.Money  `json:"valor"`
	Juros           int          `json:"juros"`
	Multa           int          `json:"multa"`
	NomeCliente     string       `json:"nome_cliente"`
	CpfCliente      string       `json:"cpf_cliente"`
	EmailCliente    string       `json:"email_cliente,omitempty"`
	TelefoneCliente string       `json:"telefone_cliente,omitempty"`
	Texto           string       `json:"texto,omitempty"`
	PedidoNumero    string       `json:"pedido_numero"`
	Split           []splitEntry `json:"split"`
}

type chargeResponse struct {
	Status         json.RawMessage `json:"status"`
	Msg            string          `json:"msg"`
	IDUnico        string          `json:"id_unico"`
	NossoNumero    string          `json:"nossonumero"`
	LinkBoleto     string          `json:"linkBoleto"`
	LinhaDigitavel string          `json:"linhaDigitavel"`
	QRCode         string          `json:"qrcode"`
}

// CreateCharge issues a boleto with the owner's share split inline to
// their bank account.
func (a *Adapter) CreateCharge(ctx context.Context, req payments.ChargeRequest) (payments.ChargeResult, error) {
	const op = "create charge"

	acct := req.Payout.Account
	account := acct.AccountNumber
	if acct.AccountDigit != "" {
		account += "-" + acct.AccountDigit
	}

	body := chargeRequest{
		Vencimento:      req.DueDate.Format(dateLayout),
		Valor:           req.Amount,
		NomeCliente:     req.Customer.Profile.Name,
		CpfCliente:      payments.NormalizeTaxID(req.Customer.Profile.TaxID),
		EmailCliente:    req.Customer.Profile.Email,
		TelefoneCliente: req.Customer.Profile.Phone,
		Texto:           req.Description,
		PedidoNumero:    req.ExternalReference,
		Split: []splitEntry{{
			Nome:           acct.HolderName,
			CpfCnpj:        payments.NormalizeTaxID(acct.HolderTaxID),
			BancoRepasse:   acct.BankCode,
			AgenciaRepasse: acct.Agency,
			ContaRepasse:   account,
			ValorFixo:      req.SplitAmount,
		}},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return payments.ChargeResult{}, fmt.Errorf("marshal request: %w", err)
	}

	a.logger.Info("creating pjbank boleto",
		"pedido_numero", req.ExternalReference,
		"amount", req.Amount.String(),
		"split_amount", req.SplitAmount.String(),
	)

	endpoint := fmt.Sprintf("%s/recebimentos/%s/transacoes", a.config.BaseURL, url.PathEscape(a.credencial))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return payments.ChargeResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-CHAVE", a.chave)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return payments.ChargeResult{}, &payments.UpstreamError{Gateway: payments.GatewayPJBank, Operation: op, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return payments.ChargeResult{}, &payments.UpstreamError{Gateway: payments.GatewayPJBank, Operation: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if httpResp.StatusCode >= 400 {
		return payments.ChargeResult{}, &payments.UpstreamError{
			Gateway:    payments.GatewayPJBank,
			Operation:  op,
			StatusCode: httpResp.StatusCode,
			Body:       string(respBody),
		}
	}

	var resp chargeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return payments.ChargeResult{}, &payments.UpstreamError{Gateway: payments.GatewayPJBank, Operation: op, Err: fmt.Errorf("unmarshal response: %w", err)}
	}

	// PJBank reports some failures in the body of a 200.
	if code := bodyStatus(resp.Status); code >= 400 {
		return payments.ChargeResult{}, &payments.UpstreamError{
			Gateway:    payments.GatewayPJBank,
			Operation:  op,
			StatusCode: code,
			Body:       string(respBody),
		}
	}
	if resp.IDUnico == "" {
		return payments.ChargeResult{}, &payments.UpstreamError{
			Gateway:   payments.GatewayPJBank,
			Operation: op,
			Err:       fmt.Errorf("response carried no id_unico: %s", resp.Msg),
		}
	}

	a.logger.Info("pjbank boleto created", "id_unico", resp.IDUnico, "nosso_numero", resp.NossoNumero)
	return payments.ChargeResult{
		GatewayChargeID: resp.IDUnico,
		BoletoURL:       resp.LinkBoleto,
		BoletoCode:      resp.LinhaDigitavel,
		PixQRCode:       resp.QRCode,
	}, nil
}

// bodyStatus reads the status field, which PJBank sends as a string or a
// number. Unparseable values yield 0.
func bodyStatus(raw json.RawMessage) int {
	s := strings.Trim(string(raw), `" `)
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return code
}
