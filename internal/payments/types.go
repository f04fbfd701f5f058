// Package payments issues rent boletos through an external gateway, splits
// each charge between the property owner and the management company, and
// reconciles gateway webhooks into payment state.
package payments

import (
	"fmt"
	"strings"
	"time"

	"rentpay/internal/common/money"
)

// GatewayID identifies a payment gateway.
type GatewayID string

const (
	GatewayPJBank GatewayID = "pjbank"
	GatewayAsaas  GatewayID = "asaas"
	// GatewayManual marks payments recorded outside any gateway.
	GatewayManual GatewayID = "manual"
)

// ParseGatewayID parses a gateway name, ignoring case.
func ParseGatewayID(s string) (GatewayID, error) {
	switch id := GatewayID(strings.ToLower(strings.TrimSpace(s))); id {
	case GatewayPJBank, GatewayAsaas, GatewayManual:
		return id, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedGateway, s)
	}
}

// DateLayout is the wire format for due and paid dates.
const DateLayout = "2006-01-02"

// Status is the canonical payment status.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
	StatusCancelled Status = "CANCELLED"
)

// Payment is one boleto charge for a contract installment.
type Payment struct {
	ID               string      `json:"id"`
	CompanyID        string      `json:"companyId"`
	ContractID       string      `json:"contractId"`
	Amount           money.Money `json:"amount"`
	DueDate          time.Time   `json:"dueDate"`
	Status           Status      `json:"status"`
	PaidDate         *time.Time  `json:"paidDate,omitempty"`
	Gateway          GatewayID   `json:"gateway"`
	GatewayPaymentID string      `json:"gatewayPaymentId,omitempty"`
	BoletoURL        string      `json:"boletoUrl,omitempty"`
	BoletoCode       string      `json:"boletoCode,omitempty"`
	PixQRCode        string      `json:"pixQrCode,omitempty"`

	// OwnerAmount + CompanyAmount always equals Amount. GatewayFee is an
	// estimate tracked on the side.
	OwnerAmount   money.Money `json:"ownerAmount"`
	CompanyAmount money.Money `json:"companyAmount"`
	GatewayFee    money.Money `json:"gatewayFee"`

	WebhookReceived bool       `json:"webhookReceived"`
	LastWebhookAt   *time.Time `json:"lastWebhookAt,omitempty"`
	IdempotencyKey  string     `json:"idempotencyKey"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// AccountType is the kind of bank account.
type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
)

// Owner is a property owner receiving the split payout.
type Owner struct {
	ID           string        `json:"id" yaml:"id"`
	CompanyID    string        `json:"companyId" yaml:"company_id"`
	Name         string        `json:"name" yaml:"name"`
	Email        string        `json:"email" yaml:"email"`
	TaxID        string        `json:"taxId" yaml:"tax_id"`
	Phone        string        `json:"phone,omitempty" yaml:"phone"`
	BankAccounts []BankAccount `json:"bankAccounts" yaml:"bank_accounts"`
}

// PayoutAccount returns the account that receives split payouts: the
// primary active account if any, otherwise the first active one.
func (o *Owner) PayoutAccount() (*BankAccount, bool) {
	var first *BankAccount
	for i := range o.BankAccounts {
		acct := &o.BankAccounts[i]
		if !acct.Active {
			continue
		}
		if acct.Primary {
			return acct, true
		}
		if first == nil {
			first = acct
		}
	}
	return first, first != nil
}

// BankAccount holds owner bank details and the sub-account reference each
// gateway assigned to them.
type BankAccount struct {
	ID            string      `json:"id" yaml:"id"`
	OwnerID       string      `json:"ownerId" yaml:"-"`
	BankCode      string      `json:"bankCode" yaml:"bank_code"`
	Agency        string      `json:"agency" yaml:"agency"`
	AccountNumber string      `json:"accountNumber" yaml:"account_number"`
	AccountDigit  string      `json:"accountDigit" yaml:"account_digit"`
	AccountType   AccountType `json:"accountType" yaml:"account_type"`
	HolderName    string      `json:"holderName" yaml:"holder_name"`
	HolderTaxID   string      `json:"holderTaxId" yaml:"holder_tax_id"`
	Active        bool        `json:"active" yaml:"active"`
	Primary       bool        `json:"primary" yaml:"primary"`

	PJBankAccountRef string `json:"pjbankAccountRef,omitempty" yaml:"-"`
	AsaasWalletID    string `json:"asaasWalletId,omitempty" yaml:"-"`
}

// SubAccountRef returns the cached reference for a gateway, or "".
func (b *BankAccount) SubAccountRef(gateway GatewayID) string {
	switch gateway {
	case GatewayPJBank:
		return b.PJBankAccountRef
	case GatewayAsaas:
		return b.AsaasWalletID
	}
	return ""
}

// SetSubAccountRef records the reference for a gateway on the value.
func (b *BankAccount) SetSubAccountRef(gateway GatewayID, ref string) {
	switch gateway {
	case GatewayPJBank:
		b.PJBankAccountRef = ref
	case GatewayAsaas:
		b.AsaasWalletID = ref
	}
}

// CustomerProfile is the payer identity sent to the gateway.
type CustomerProfile struct {
	Name  string
	Email string
	TaxID string
	Phone string
}

// CustomerRef identifies the payer at a gateway. Gateways without a
// customer resource leave ID empty and read the profile at charge time.
type CustomerRef struct {
	Gateway GatewayID
	ID      string
	Profile CustomerProfile
}

// PayoutAccountRef identifies the owner's split recipient at a gateway.
type PayoutAccountRef struct {
	Gateway GatewayID
	ID      string
	Account BankAccount
}

// ChargeRequest is a boleto issuance request.
type ChargeRequest struct {
	Customer          CustomerRef
	Payout            PayoutAccountRef
	Amount            money.Money
	DueDate           time.Time
	Description       string
	SplitAmount       money.Money
	ExternalReference string
}

// ChargeResult is what the gateway returns for an issued boleto.
type ChargeResult struct {
	GatewayChargeID string
	BoletoURL       string
	BoletoCode      string
	PixQRCode       string
}

// WebhookEvent is a gateway notification mapped to canonical vocabulary.
type WebhookEvent struct {
	Gateway           GatewayID
	GatewayPaymentID  string
	ExternalReference string
	Status            Status
	ProviderStatus    string
	PaidDate          *time.Time
	PaidAmount        *money.Money
	// OccurredAt is the provider's event time when available, else the
	// receive time.
	OccurredAt time.Time
}

// Credential authenticates against one gateway. For PJBank AccountID is the
// credencial and APIKey the chave; Asaas uses only APIKey.
type Credential struct {
	AccountID    string
	APIKey       string
	WebhookToken string
}

// GatewayCredentials carries the credentials resolved for one company.
type GatewayCredentials map[GatewayID]Credential

// For returns the credential for a gateway.
func (c GatewayCredentials) For(gateway GatewayID) (Credential, bool) {
	cred, ok := c[gateway]
	return cred, ok
}
