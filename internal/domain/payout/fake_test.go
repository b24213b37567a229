package payout

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/influencer-settlement/internal/domain/commission"
)

// memStore backs every fake. RunInTx restores the state on error.
type memStore struct {
	mu          sync.Mutex
	payments    map[string]Payment
	invoices    []Invoice
	commissions map[string]commission.Commission
	profiles    map[string]Profile

	updateErr error
}

func newMemStore() *memStore {
	return &memStore{
		payments:    map[string]Payment{},
		commissions: map[string]commission.Commission{},
		profiles:    map[string]Profile{},
	}
}

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	payments := make(map[string]Payment, len(m.payments))
	for k, v := range m.payments {
		payments[k] = clonePayment(v)
	}
	invoices := slices.Clone(m.invoices)
	comms := make(map[string]commission.Commission, len(m.commissions))
	for k, v := range m.commissions {
		comms[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.payments, m.invoices, m.commissions = payments, invoices, comms
		m.mu.Unlock()
		return err
	}
	return nil
}

func clonePayment(p Payment) Payment {
	p.ContentLinks = slices.Clone(p.ContentLinks)
	return p
}

func (m *memStore) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = clonePayment(*p)
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := clonePayment(p)
	return &cp, nil
}

func (m *memStore) GetForUpdate(ctx context.Context, id string) (*Payment, error) {
	return m.Get(ctx, id)
}

func (m *memStore) Update(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.payments[p.ID] = clonePayment(*p)
	return nil
}

func (m *memStore) DisableInvoices(_ context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.invoices {
		if m.invoices[i].PaymentID == paymentID {
			m.invoices[i].Enabled = false
		}
	}
	return nil
}

func (m *memStore) CreateInvoice(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices = append(m.invoices, *inv)
	return nil
}

func (m *memStore) CurrentInvoice(_ context.Context, paymentID string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.PaymentID == paymentID && inv.Enabled {
			return &inv, nil
		}
	}
	return nil, ErrNoInvoice
}

func (m *memStore) UpdateInvoice(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.invoices {
		if m.invoices[i].ID == inv.ID {
			m.invoices[i] = *inv
			return nil
		}
	}
	return errors.New("invoice not found")
}

func (m *memStore) ListInvoices(_ context.Context, paymentID string) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invoice
	for i := len(m.invoices) - 1; i >= 0; i-- {
		if m.invoices[i].PaymentID == paymentID {
			out = append(out, m.invoices[i])
		}
	}
	return out, nil
}

func (m *memStore) enabledInvoices(paymentID string) []Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invoice
	for _, inv := range m.invoices {
		if inv.PaymentID == paymentID && inv.Enabled {
			out = append(out, inv)
		}
	}
	return out
}

type commissionStore struct{ *memStore }

func (c commissionStore) GetByIDs(_ context.Context, ids []string) ([]commission.Commission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []commission.Commission
	for _, id := range ids {
		if row, ok := c.commissions[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (c commissionStore) ListByPayment(_ context.Context, paymentID string) ([]commission.Commission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []commission.Commission
	for _, row := range c.commissions {
		if row.PaymentID != nil && *row.PaymentID == paymentID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c commissionStore) Link(_ context.Context, paymentID string, ids []string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, id := range ids {
		row, ok := c.commissions[id]
		if !ok || row.PaymentID != nil || row.Status != commission.StatusPending {
			continue
		}
		pid := paymentID
		row.PaymentID = &pid
		c.commissions[id] = row
		n++
	}
	return n, nil
}

func (c commissionStore) MarkPaid(_ context.Context, paymentID string, paidAt time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for id, row := range c.commissions {
		if row.PaymentID != nil && *row.PaymentID == paymentID && row.Status == commission.StatusPending {
			at := paidAt
			row.Status = commission.StatusPaid
			row.PaidAt = &at
			c.commissions[id] = row
			n++
		}
	}
	return n, nil
}

func (c commissionStore) Unlink(_ context.Context, paymentID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for id, row := range c.commissions {
		if row.PaymentID != nil && *row.PaymentID == paymentID && row.Status == commission.StatusPending {
			row.PaymentID = nil
			c.commissions[id] = row
			n++
		}
	}
	return n, nil
}

func (c commissionStore) get(id string) commission.Commission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commissions[id]
}

type profileStore struct{ *memStore }

func (p profileStore) GetProfile(_ context.Context, influencerID string) (*Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[influencerID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &prof, nil
}

type sent struct {
	kind, to, detail string
}

type notifierFake struct {
	mu   sync.Mutex
	sent []sent
}

func (n *notifierFake) add(kind, to, detail string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{kind: kind, to: to, detail: detail})
}

func (n *notifierFake) PaymentRequest(_ context.Context, to, _ string, amount decimal.Decimal) {
	n.add("request", to, amount.StringFixed(2))
}

func (n *notifierFake) InvoiceApproved(_ context.Context, to, _ string, amount decimal.Decimal) {
	n.add("approved", to, amount.StringFixed(2))
}

func (n *notifierFake) InvoiceRejected(_ context.Context, to, _, reason string) {
	n.add("rejected", to, reason)
}

func (n *notifierFake) PaymentCompleted(_ context.Context, to, _ string, amount decimal.Decimal) {
	n.add("completed", to, amount.StringFixed(2))
}

func (n *notifierFake) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.kind
	}
	return out
}

type resolverFunc func(ctx context.Context, key string) (string, error)

func (f resolverFunc) Resolve(ctx context.Context, key string) (string, error) { return f(ctx, key) }
