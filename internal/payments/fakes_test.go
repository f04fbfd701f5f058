package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"rentpay/internal/common/cache"
	"rentpay/internal/common/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	owners   map[string]*Owner
	payments map[string]*Payment

	createErr      error
	createDeadline bool
	// casMisses makes the next UpdateWebhookState calls report a lost race.
	casMisses int
	updates   int
}

func newMemStore() *memStore {
	return &memStore{owners: map[string]*Owner{}, payments: map[string]*Payment{}}
}

func (m *memStore) SetSubAccountIfEmpty(_ context.Context, bankAccountID string, gateway GatewayID, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.owners {
		for i := range o.BankAccounts {
			b := &o.BankAccounts[i]
			if b.ID != bankAccountID {
				continue
			}
			if existing := b.SubAccountRef(gateway); existing != "" {
				return existing, nil
			}
			b.SetSubAccountRef(gateway, ref)
			return ref, nil
		}
	}
	return "", errors.New("bank account not found")
}

func (m *memStore) GetOwner(_ context.Context, companyID, ownerID string) (*Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[ownerID]
	if !ok || o.CompanyID != companyID {
		return nil, ErrOwnerNotFound
	}
	cp := *o
	cp.BankAccounts = append([]BankAccount(nil), o.BankAccounts...)
	return &cp, nil
}

func (m *memStore) SaveOwner(_ context.Context, owner *Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.owners[owner.ID]; ok && existing.CompanyID != owner.CompanyID {
		return ErrOwnerConflict
	}
	for _, o := range m.owners {
		if o.ID == owner.ID {
			continue
		}
		for _, b := range o.BankAccounts {
			for _, nb := range owner.BankAccounts {
				if b.ID == nb.ID {
					return ErrOwnerConflict
				}
			}
		}
	}
	cp := *owner
	m.owners[owner.ID] = &cp
	return nil
}

// CreatePayment fails on a done context the way pgx does.
func (m *memStore) CreatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	_, m.createDeadline = ctx.Deadline()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *memStore) GetPayment(_ context.Context, companyID, paymentID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.CompanyID != companyID {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetPaymentByIdempotencyKey(_ context.Context, companyID, key string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.CompanyID == companyID && p.IdempotencyKey == key && p.Status != StatusCancelled {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *memStore) FindPaymentByGatewayID(_ context.Context, gateway GatewayID, gatewayPaymentID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.Gateway == gateway && p.GatewayPaymentID == gatewayPaymentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *memStore) FindPaymentByID(_ context.Context, paymentID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) UpdateWebhookState(_ context.Context, p *Payment, prev Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.casMisses > 0 {
		m.casMisses--
		return false, nil
	}
	stored, ok := m.payments[p.ID]
	if !ok || stored.Status != prev {
		return false, nil
	}
	stored.Status = p.Status
	stored.PaidDate = p.PaidDate
	stored.WebhookReceived = p.WebhookReceived
	stored.LastWebhookAt = p.LastWebhookAt
	stored.UpdatedAt = p.UpdatedAt
	m.updates++
	return true, nil
}

func (m *memStore) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

// fakeGateway records calls and returns canned results.
type fakeGateway struct {
	id    GatewayID
	store SubAccountStore

	customerErr error
	payoutErr   error
	chargeErr   error
	// afterCharge runs once the charge exists upstream.
	afterCharge func()

	calls    []string
	charges  []ChargeRequest
	parseEvt WebhookEvent
	parseErr error
}

func (g *fakeGateway) ID() GatewayID { return g.id }

func (g *fakeGateway) EnsureCustomer(_ context.Context, profile CustomerProfile) (CustomerRef, error) {
	g.calls = append(g.calls, "EnsureCustomer")
	if g.customerErr != nil {
		return CustomerRef{}, g.customerErr
	}
	return CustomerRef{Gateway: g.id, ID: "cus_1", Profile: profile}, nil
}

func (g *fakeGateway) EnsurePayoutAccount(ctx context.Context, _ *Owner, acct *BankAccount) (PayoutAccountRef, error) {
	g.calls = append(g.calls, "EnsurePayoutAccount")
	if g.payoutErr != nil {
		return PayoutAccountRef{}, g.payoutErr
	}
	if ref := acct.SubAccountRef(g.id); ref != "" {
		return PayoutAccountRef{Gateway: g.id, ID: ref, Account: *acct}, nil
	}
	ref, err := g.store.SetSubAccountIfEmpty(ctx, acct.ID, g.id, "sub_"+acct.ID)
	if err != nil {
		return PayoutAccountRef{}, err
	}
	return PayoutAccountRef{Gateway: g.id, ID: ref, Account: *acct}, nil
}

func (g *fakeGateway) CreateCharge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	g.calls = append(g.calls, "CreateCharge")
	if g.chargeErr != nil {
		return ChargeResult{}, g.chargeErr
	}
	g.charges = append(g.charges, req)
	if g.afterCharge != nil {
		g.afterCharge()
	}
	return ChargeResult{
		GatewayChargeID: "ch_" + req.ExternalReference,
		BoletoURL:       "https://boleto.example/" + req.ExternalReference,
		BoletoCode:      "23790.00000 00000.000000 00000.000000 1 00000000100000",
	}, nil
}

func (g *fakeGateway) ParseWebhook(raw []byte) (WebhookEvent, error) {
	return g.parseEvt, g.parseErr
}

// fakeProvider binds to a single fakeGateway.
type fakeProvider struct {
	gw *fakeGateway
}

func (p *fakeProvider) ID() GatewayID { return p.gw.id }

func (p *fakeProvider) Bind(Credential) (Gateway, error) { return p.gw, nil }

func (p *fakeProvider) ParseWebhook(raw []byte) (WebhookEvent, error) {
	return p.gw.ParseWebhook(raw)
}

// fakeLocker is an in-process Locker.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]bool{}} }

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, cache.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// recordingPublisher keeps published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
