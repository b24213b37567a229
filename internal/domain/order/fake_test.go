package order

import (
	"context"
	"maps"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/influencer-settlement/internal/domain/catalog"
	"github.com/xenking/influencer-settlement/internal/domain/discount"
)

// store is an in-memory backend shared by the fakes. Its tx manager
// snapshots orders, stock and code usage and restores them when fn fails.
type store struct {
	mu       sync.Mutex
	orders   map[string]*Order
	products map[string]catalog.Product
	variants map[string]catalog.Variant
	codes    map[string]*discount.Code

	commissionCalls []string
	commissionErr   error
}

func newStore() *store {
	return &store{
		orders:   map[string]*Order{},
		products: map[string]catalog.Product{},
		variants: map[string]catalog.Variant{},
		codes:    map[string]*discount.Code{},
	}
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	cp.Snapshot = append([]SnapshotItem(nil), o.Snapshot...)
	return &cp
}

func (s *store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	orders := make(map[string]*Order, len(s.orders))
	for id, o := range s.orders {
		orders[id] = cloneOrder(o)
	}
	variants := maps.Clone(s.variants)
	for id, v := range variants {
		if v.Stock != nil {
			n := *v.Stock
			v.Stock = &n
			variants[id] = v
		}
	}
	used := make(map[string]int, len(s.codes))
	for id, c := range s.codes {
		used[id] = c.UsedCount
	}
	calls := len(s.commissionCalls)
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.orders = orders
		s.variants = variants
		for id, n := range used {
			s.codes[id].UsedCount = n
		}
		s.commissionCalls = s.commissionCalls[:calls]
		s.mu.Unlock()
		return err
	}
	return nil
}

type orderRepo struct{ *store }

func (r orderRepo) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r orderRepo) Get(_ context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r orderRepo) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	return r.Get(ctx, id)
}

func (r orderRepo) UpdateDiscount(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.orders[o.ID]
	snapshot := stored.Snapshot
	updated := cloneOrder(o)
	updated.Snapshot = snapshot
	updated.Status = stored.Status
	r.orders[o.ID] = updated
	return nil
}

func (r orderRepo) UpdateStatus(_ context.Context, id string, from, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrStatusConflict
	}
	o.Status = to
	return nil
}

type catalogRepo struct{ *store }

func (r catalogRepo) GetProducts(_ context.Context, ids []string) ([]catalog.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r catalogRepo) GetVariants(_ context.Context, ids []string) ([]catalog.Variant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []catalog.Variant
	for _, id := range ids {
		if v, ok := r.variants[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r catalogRepo) DecrementStock(_ context.Context, id string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.variants[id]
	if !ok || v.Stock == nil || *v.Stock < qty {
		return catalog.ErrInsufficientStock
	}
	n := *v.Stock - qty
	v.Stock = &n
	r.variants[id] = v
	return nil
}

func (r catalogRepo) stock(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.variants[id].Stock
}

type codeRepo struct{ *store }

func (r codeRepo) FindByCode(_ context.Context, code string) (*discount.Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, discount.ErrNotFound
}

func (r codeRepo) FindByID(_ context.Context, id string) (*discount.Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[id]
	if !ok {
		return nil, discount.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r codeRepo) ListByInfluencer(context.Context, string) ([]discount.Code, error) { return nil, nil }
func (r codeRepo) Create(context.Context, *discount.Code) error                      { return nil }
func (r codeRepo) Update(context.Context, *discount.Code) error                      { return nil }
func (r codeRepo) Delete(context.Context, string) error                              { return nil }

func (r codeRepo) IncrementUsage(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.codes[id]
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return discount.ErrExhausted
	}
	c.UsedCount++
	return nil
}

type commissionFake struct{ *store }

func (c commissionFake) CreateFromOrder(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.commissionErr != nil {
		return c.commissionErr
	}
	c.commissionCalls = append(c.commissionCalls, orderID)
	return nil
}

type notifierFake struct {
	mu        sync.Mutex
	confirmed []string
	problems  []string
}

func (n *notifierFake) OrderConfirmation(_ context.Context, to, _, _ string, _ decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, to)
}

func (n *notifierFake) OrderPaymentProblem(_ context.Context, to, _, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.problems = append(n.problems, to)
}

type quoterFake struct {
	cost *decimal.Decimal
	err  error
	got  int
}

func (q *quoterFake) Quote(_ context.Context, _ string, weightGrams int) (*decimal.Decimal, error) {
	q.got = weightGrams
	return q.cost, q.err
}
