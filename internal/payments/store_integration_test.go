//go:build integration

// Integration tests for PostgresStore. They need a disposable PostgreSQL
// database and run with:
//
//	RENTPAY_TEST_DATABASE_URL=postgres://localhost/rentpay_test?sslmode=disable \
//		go test -tags integration ./internal/payments/...
//
// Migrations are applied on start. Every test writes rows under fresh ulid
// ids, so runs can share a database.
package payments

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentpay/internal/common/database"
)

func newIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("RENTPAY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RENTPAY_TEST_DATABASE_URL not set")
	}

	mg, err := database.NewMigrator(url, discardLogger())
	require.NoError(t, err)
	require.NoError(t, mg.Up())
	require.NoError(t, mg.Close())

	db, err := database.New(context.Background(), database.Config{URL: url, MaxConns: 10, MinConns: 1}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return NewPostgresStore(db)
}

func seedOwner(t *testing.T, store *PostgresStore, companyID string) *Owner {
	t.Helper()
	id := ulid.Make().String()
	owner := &Owner{
		ID:        "owner-" + id,
		CompanyID: companyID,
		Name:      "Maria Souza",
		TaxID:     "529.982.247-25",
		BankAccounts: []BankAccount{{
			ID: "ba-" + id, BankCode: "341", Agency: "1234", AccountNumber: "56789", AccountDigit: "0",
			AccountType: AccountChecking, HolderName: "Maria Souza", HolderTaxID: "52998224725",
			Active: true, Primary: true,
		}},
	}
	require.NoError(t, store.SaveOwner(context.Background(), owner))
	return owner
}

func seedPayment(companyID, key string) *Payment {
	id := ulid.Make().String()
	return NewPayment(id, companyID, "contract-"+id, brl(100000),
		time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), GatewayAsaas,
		ChargeResult{GatewayChargeID: "pay_" + id, BoletoURL: "https://asaas.test/b/" + id},
		Split{OwnerAmount: brl(90000), CompanyAmount: brl(10000)}, brl(3500), key)
}

func TestPostgresStoreSetSubAccountIfEmptyConcurrentWriters(t *testing.T) {
	store := newIntegrationStore(t)
	owner := seedOwner(t, store, "acme")
	accountID := owner.BankAccounts[0].ID

	const writers = 8
	results := make([]string, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.SetSubAccountIfEmpty(context.Background(), accountID, GatewayAsaas, fmt.Sprintf("wallet-%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i], "every writer sees the stored wallet")
	}

	stored, err := store.GetOwner(context.Background(), "acme", owner.ID)
	require.NoError(t, err)
	assert.Equal(t, results[0], stored.BankAccounts[0].AsaasWalletID)

	again, err := store.SetSubAccountIfEmpty(context.Background(), accountID, GatewayAsaas, "wallet-late")
	require.NoError(t, err)
	assert.Equal(t, results[0], again)

	_, err = store.SetSubAccountIfEmpty(context.Background(), "missing-"+accountID, GatewayAsaas, "wallet")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestPostgresStoreSaveOwnerRejectsForeignIDs(t *testing.T) {
	store := newIntegrationStore(t)
	owner := seedOwner(t, store, "acme")
	ctx := context.Background()

	// Same owner id from another company.
	hijack := *owner
	hijack.CompanyID = "globex"
	hijack.Name = "Someone Else"
	hijack.BankAccounts = []BankAccount{{
		ID: "ba-globex-" + owner.ID, BankCode: "001", Agency: "1", AccountNumber: "2",
		HolderName: "Someone Else", HolderTaxID: "11144477735", Active: true,
	}}
	err := store.SaveOwner(ctx, &hijack)
	require.ErrorIs(t, err, ErrOwnerConflict)

	stored, err := store.GetOwner(ctx, "acme", owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "Maria Souza", stored.Name)
	require.Len(t, stored.BankAccounts, 1, "the rejected bank account was not attached")
	assert.Equal(t, owner.BankAccounts[0].ID, stored.BankAccounts[0].ID)

	// A bank account id held by another owner of the same company.
	other := seedOwner(t, store, "acme")
	other.BankAccounts = append(other.BankAccounts, BankAccount{
		ID: owner.BankAccounts[0].ID, BankCode: "237", Agency: "9", AccountNumber: "9",
		HolderName: "Other", HolderTaxID: "11144477735", Active: true,
	})
	err = store.SaveOwner(ctx, other)
	require.ErrorIs(t, err, ErrOwnerConflict)

	stored, err = store.GetOwner(ctx, "acme", owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "341", stored.BankAccounts[0].BankCode)
}

func TestPostgresStoreIdempotencyKeyIsPerCompany(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	key := "contract-x:" + ulid.Make().String()

	require.NoError(t, store.CreatePayment(ctx, seedPayment("acme", key)))
	require.NoError(t, store.CreatePayment(ctx, seedPayment("globex", key)))

	err := store.CreatePayment(ctx, seedPayment("acme", key))
	require.ErrorIs(t, err, database.ErrAlreadyExists)

	found, err := store.GetPaymentByIdempotencyKey(ctx, "globex", key)
	require.NoError(t, err)
	assert.Equal(t, "globex", found.CompanyID)
}

func TestPostgresStoreUpdateWebhookStateCompareAndSet(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	p := seedPayment("acme", "cas:"+ulid.Make().String())
	require.NoError(t, store.CreatePayment(ctx, p))

	now := time.Now().UTC().Truncate(time.Microsecond)
	paid := *p
	paid.ApplyWebhook(WebhookEvent{Status: StatusPaid}, now)

	ok, err := store.UpdateWebhookState(ctx, &paid, StatusPending)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second writer that read PENDING loses.
	overdue := *p
	overdue.ApplyWebhook(WebhookEvent{Status: StatusOverdue}, now)
	ok, err = store.UpdateWebhookState(ctx, &overdue, StatusPending)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := store.FindPaymentByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, stored.Status)
	assert.True(t, stored.WebhookReceived)
	require.NotNil(t, stored.LastWebhookAt)
	assert.True(t, now.Equal(*stored.LastWebhookAt))
}
