package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"rentpay/internal/common/database"
	"rentpay/internal/common/money"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var subAccountColumns = map[GatewayID]string{
	GatewayPJBank: "pjbank_account_ref",
	GatewayAsaas:  "asaas_wallet_id",
}

// SetSubAccountIfEmpty caches ref on the bank account unless one is set.
func (s *PostgresStore) SetSubAccountIfEmpty(ctx context.Context, bankAccountID string, gateway GatewayID, ref string) (string, error) {
	col, ok := subAccountColumns[gateway]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedGateway, gateway)
	}

	// The row lock makes a concurrent writer re-evaluate COALESCE against
	// the winner's committed value, so both callers return the same ref.
	query := fmt.Sprintf(`
		UPDATE bank_accounts
		SET %[1]s = COALESCE(%[1]s, $2),
			updated_at = CASE WHEN %[1]s IS NULL THEN now() ELSE updated_at END
		WHERE id = $1
		RETURNING %[1]s
	`, col)

	var stored *string
	err := s.db.Pool().QueryRow(ctx, query, bankAccountID, ref).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("bank account %s: %w", bankAccountID, database.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("caching %s sub-account: %w", gateway, err)
	}
	if stored == nil {
		return "", fmt.Errorf("caching %s sub-account: no value stored", gateway)
	}
	return *stored, nil
}

// GetOwner retrieves an owner and all of its bank accounts.
func (s *PostgresStore) GetOwner(ctx context.Context, companyID, ownerID string) (*Owner, error) {
	query := `
		SELECT id, tenant_id, name, email, tax_id, phone
		FROM owners
		WHERE id = $1 AND tenant_id = $2
	`

	var o Owner
	err := s.db.Pool().QueryRow(ctx, query, ownerID, companyID).Scan(
		&o.ID, &o.CompanyID, &o.Name, &o.Email, &o.TaxID, &o.Phone,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select owner: %w", err)
	}

	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, owner_id, bank_code, agency, account_number, account_digit,
			   account_type, holder_name, holder_tax_id, active, is_primary,
			   pjbank_account_ref, asaas_wallet_id
		FROM bank_accounts
		WHERE owner_id = $1
		ORDER BY is_primary DESC, created_at ASC
	`, o.ID)
	if err != nil {
		return nil, fmt.Errorf("query bank accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b BankAccount
		var pjbankRef, asaasWallet *string
		if err := rows.Scan(
			&b.ID, &b.OwnerID, &b.BankCode, &b.Agency, &b.AccountNumber, &b.AccountDigit,
			&b.AccountType, &b.HolderName, &b.HolderTaxID, &b.Active, &b.Primary,
			&pjbankRef, &asaasWallet,
		); err != nil {
			return nil, fmt.Errorf("scan bank account: %w", err)
		}
		b.PJBankAccountRef = deref(pjbankRef)
		b.AsaasWalletID = deref(asaasWallet)
		o.BankAccounts = append(o.BankAccounts, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bank accounts: %w", err)
	}

	return &o, nil
}

// SaveOwner upserts an owner and its bank accounts. Cached gateway
// references are never overwritten. An owner id held by another company, or
// a bank account id held by another owner, fails with ErrOwnerConflict and
// nothing is written.
func (s *PostgresStore) SaveOwner(ctx context.Context, owner *Owner) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO owners (id, tenant_id, name, email, tax_id, phone)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, email = EXCLUDED.email,
				tax_id = EXCLUDED.tax_id, phone = EXCLUDED.phone,
				updated_at = now()
			WHERE owners.tenant_id = EXCLUDED.tenant_id
		`, owner.ID, owner.CompanyID, owner.Name, owner.Email, NormalizeTaxID(owner.TaxID), owner.Phone)
		if err != nil {
			return fmt.Errorf("upsert owner %s: %w", owner.ID, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("owner %s: %w", owner.ID, ErrOwnerConflict)
		}

		for _, b := range owner.BankAccounts {
			accountType := b.AccountType
			if accountType == "" {
				accountType = AccountChecking
			}
			tag, err := tx.Exec(ctx, `
				INSERT INTO bank_accounts (
					id, owner_id, bank_code, agency, account_number, account_digit,
					account_type, holder_name, holder_tax_id, active, is_primary
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (id) DO UPDATE SET
					bank_code = EXCLUDED.bank_code, agency = EXCLUDED.agency,
					account_number = EXCLUDED.account_number, account_digit = EXCLUDED.account_digit,
					account_type = EXCLUDED.account_type, holder_name = EXCLUDED.holder_name,
					holder_tax_id = EXCLUDED.holder_tax_id, active = EXCLUDED.active,
					is_primary = EXCLUDED.is_primary, updated_at = now()
				WHERE bank_accounts.owner_id = EXCLUDED.owner_id
			`, b.ID, owner.ID, b.BankCode, b.Agency, b.AccountNumber, b.AccountDigit,
				accountType, b.HolderName, NormalizeTaxID(b.HolderTaxID), b.Active, b.Primary)
			if err != nil {
				return fmt.Errorf("upsert bank account %s: %w", b.ID, err)
			}
			if tag.RowsAffected() != 1 {
				return fmt.Errorf("bank account %s: %w", b.ID, ErrOwnerConflict)
			}
		}
		return nil
	})
}

// CreatePayment inserts a new payment.
func (s *PostgresStore) CreatePayment(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (
			id, tenant_id, contract_id, amount_minor, currency, due_date,
			status, paid_date, gateway, gateway_payment_id,
			boleto_url, boleto_code, pix_qr_code,
			owner_amount_minor, company_amount_minor, gateway_fee_minor,
			webhook_received, last_webhook_at, idempotency_key,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)
	`

	_, err := s.db.Pool().Exec(ctx, query,
		p.ID, p.CompanyID, p.ContractID, p.Amount.AmountMinor, p.Amount.Currency, p.DueDate,
		p.Status, p.PaidDate, p.Gateway, nullableString(p.GatewayPaymentID),
		nullableString(p.BoletoURL), nullableString(p.BoletoCode), nullableString(p.PixQRCode),
		p.OwnerAmount.AmountMinor, p.CompanyAmount.AmountMinor, p.GatewayFee.AmountMinor,
		p.WebhookReceived, p.LastWebhookAt, p.IdempotencyKey,
		p.CreatedAt, p.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("insert payment %s: %w: %v", p.ID, database.ErrAlreadyExists, err)
	}
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", p.ID, err)
	}
	return nil
}

const paymentColumns = `
	id, tenant_id, contract_id, amount_minor, currency, due_date,
	status, paid_date, gateway, gateway_payment_id,
	boleto_url, boleto_code, pix_qr_code,
	owner_amount_minor, company_amount_minor, gateway_fee_minor,
	webhook_received, last_webhook_at, idempotency_key,
	created_at, updated_at
`

// GetPayment retrieves a payment by ID within a company.
func (s *PostgresStore) GetPayment(ctx context.Context, companyID, paymentID string) (*Payment, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND tenant_id = $2`,
		paymentID, companyID)
	return scanPayment(row)
}

// GetPaymentByIdempotencyKey retrieves the live (non-cancelled) payment for
// an idempotency key.
func (s *PostgresStore) GetPaymentByIdempotencyKey(ctx context.Context, companyID, key string) (*Payment, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE tenant_id = $1 AND idempotency_key = $2 AND status <> 'CANCELLED'`,
		companyID, key)
	return scanPayment(row)
}

// FindPaymentByGatewayID retrieves a payment by the gateway's charge id.
func (s *PostgresStore) FindPaymentByGatewayID(ctx context.Context, gateway GatewayID, gatewayPaymentID string) (*Payment, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway = $1 AND gateway_payment_id = $2`,
		gateway, gatewayPaymentID)
	return scanPayment(row)
}

// FindPaymentByID retrieves a payment by ID in any company.
func (s *PostgresStore) FindPaymentByID(ctx context.Context, paymentID string) (*Payment, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`,
		paymentID)
	return scanPayment(row)
}

// UpdateWebhookState applies webhook fields guarded on the previous status.
func (s *PostgresStore) UpdateWebhookState(ctx context.Context, p *Payment, prev Status) (bool, error) {
	query := `
		UPDATE payments SET
			status = $3, paid_date = $4, webhook_received = $5,
			last_webhook_at = $6, updated_at = $7
		WHERE id = $1 AND status = $2
	`

	tag, err := s.db.Pool().Exec(ctx, query,
		p.ID, prev, p.Status, p.PaidDate, p.WebhookReceived, p.LastWebhookAt, p.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("update payment webhook state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var amount, ownerAmount, companyAmount, fee int64
	var currency string
	var gatewayPaymentID, boletoURL, boletoCode, pixQRCode *string
	var paidDate, lastWebhookAt *time.Time

	err := row.Scan(
		&p.ID, &p.CompanyID, &p.ContractID, &amount, &currency, &p.DueDate,
		&p.Status, &paidDate, &p.Gateway, &gatewayPaymentID,
		&boletoURL, &boletoCode, &pixQRCode,
		&ownerAmount, &companyAmount, &fee,
		&p.WebhookReceived, &lastWebhookAt, &p.IdempotencyKey,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	cur := money.Currency(currency)
	p.Amount = money.New(amount, cur)
	p.OwnerAmount = money.New(ownerAmount, cur)
	p.CompanyAmount = money.New(companyAmount, cur)
	p.GatewayFee = money.New(fee, cur)
	p.PaidDate = paidDate
	p.LastWebhookAt = lastWebhookAt
	p.GatewayPaymentID = deref(gatewayPaymentID)
	p.BoletoURL = deref(boletoURL)
	p.BoletoCode = deref(boletoCode)
	p.PixQRCode = deref(pixQRCode)

	return &p, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
