package order

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/influencer-settlement/internal/domain/catalog"
	"github.com/xenking/influencer-settlement/internal/domain/discount"
	"github.com/xenking/influencer-settlement/internal/domain/txn"
)

// CodeValidator validates discount codes and records their redemption.
type CodeValidator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (discount.Result, error)
	IncrementUsage(ctx context.Context, id string) error
}

// CommissionCreator materializes the commission owed for a paid order that
// carries a discount code.
type CommissionCreator interface {
	CreateFromOrder(ctx context.Context, orderID string) error
}

// ShippingQuoter returns the real carrier cost of shipping weightGrams to
// postalCode, or nil when no matching rate exists.
type ShippingQuoter interface {
	Quote(ctx context.Context, postalCode string, weightGrams int) (*decimal.Decimal, error)
}

// Notifier sends customer notifications without blocking the caller.
type Notifier interface {
	OrderConfirmation(ctx context.Context, to, name, orderID string, total decimal.Decimal)
	OrderPaymentProblem(ctx context.Context, to, name, orderID string)
}

// CartLine is one requested product (and optional variant) with quantity.
type CartLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

// CreateInput holds the input for creating an order.
type CreateInput struct {
	Lead       *Lead
	Lines      []CartLine
	PostalCode string
}

// Config holds the business settings orders are priced with.
type Config struct {
	Currency string
	// ShippingCharge is what the customer pays for shipping, regardless of
	// the real carrier cost.
	ShippingCharge decimal.Decimal
}

// Option configures a Service.
type Option func(*Service)

// WithShippingQuoter records real carrier costs on new orders.
func WithShippingQuoter(q ShippingQuoter) Option {
	return func(s *Service) { s.quoter = q }
}

// WithNotifier sends status notifications to customers.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMeterProvider sets the meter provider for transition counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider for service spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// Service encapsulates order pricing and lifecycle rules.
type Service struct {
	catalog     catalog.Repository
	orders      Repository
	codes       CodeValidator
	commissions CommissionCreator
	tx          txn.Manager
	cfg         Config

	quoter   ShippingQuoter
	notifier Notifier

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	transitions    metric.Int64Counter

	now func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products catalog.Repository,
	orders Repository,
	codes CodeValidator,
	commissions CommissionCreator,
	tx txn.Manager,
	cfg Config,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		catalog:        products,
		orders:         orders,
		codes:          codes,
		commissions:    commissions,
		tx:             tx,
		cfg:            cfg,
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
		now:            time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	const scope = "github.com/xenking/influencer-settlement/internal/domain/order"
	s.tracer = s.tracerProvider.Tracer(scope)
	counter, err := s.meterProvider.Meter(scope).Int64Counter("order.status.transitions",
		metric.WithDescription("Order status transitions committed"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create transitions counter")
	}
	s.transitions = counter
	return s, nil
}

// Create prices the cart and stores a pending order without discount.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()

	if len(in.Lines) == 0 {
		return nil, ErrEmptyItems
	}
	productIDs := make([]string, 0, len(in.Lines))
	variantIDs := make([]string, 0, len(in.Lines))
	for _, l := range in.Lines {
		if l.Quantity <= 0 {
			return nil, &LineError{ProductID: l.ProductID, VariantID: l.VariantID, Err: errInvalidQuantity}
		}
		productIDs = append(productIDs, l.ProductID)
		if l.VariantID != "" {
			variantIDs = append(variantIDs, l.VariantID)
		}
	}

	products, err := s.catalog.GetProducts(ctx, productIDs)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]*catalog.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}
	variantMap := map[string]*catalog.Variant{}
	if len(variantIDs) > 0 {
		variants, err := s.catalog.GetVariants(ctx, variantIDs)
		if err != nil {
			return nil, errors.Wrap(err, "get variants")
		}
		for i := range variants {
			variantMap[variants[i].ID] = &variants[i]
		}
	}

	now := s.now()
	o := &Order{
		ID:           uuid.NewString(),
		Lead:         in.Lead,
		Status:       StatusPending,
		Discount:     decimal.Zero,
		ShippingCost: s.cfg.ShippingCharge.Round(2),
		Currency:     s.cfg.Currency,
		PostalCode:   in.PostalCode,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	subtotal := decimal.Zero
	weight := 0
	requested := make(map[string]int, len(variantIDs))
	for _, l := range in.Lines {
		p, ok := productMap[l.ProductID]
		if !ok {
			return nil, &LineError{ProductID: l.ProductID, Err: catalog.ErrProductNotFound}
		}
		if !p.IsActive {
			return nil, &LineError{ProductID: l.ProductID, Err: ErrProductInactive}
		}

		var v *catalog.Variant
		if l.VariantID != "" {
			v, ok = variantMap[l.VariantID]
			if !ok || v.ProductID != p.ID {
				return nil, &LineError{ProductID: l.ProductID, VariantID: l.VariantID, Err: catalog.ErrVariantNotFound}
			}
			if !v.IsActive {
				return nil, &LineError{ProductID: l.ProductID, VariantID: l.VariantID, Err: ErrVariantInactive}
			}
			if v.Tracked() {
				requested[v.ID] += l.Quantity
				if requested[v.ID] > *v.Stock {
					return nil, &LineError{ProductID: l.ProductID, VariantID: l.VariantID, Err: catalog.ErrInsufficientStock}
				}
			}
		}

		unit := catalog.EffectivePrice(p, v)
		lineSubtotal := unit.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
		subtotal = subtotal.Add(lineSubtotal)
		weight += p.WeightGrams * l.Quantity

		item := Item{
			ID:          uuid.NewString(),
			OrderID:     o.ID,
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			UnitPrice:   unit,
			Subtotal:    lineSubtotal,
			Discount:    decimal.Zero,
			Total:       lineSubtotal,
		}
		if v != nil {
			item.VariantID = &v.ID
			item.VariantName = &v.Name
			if v.Size != "" {
				item.Size = &v.Size
			}
		}
		o.Items = append(o.Items, item)
		o.Snapshot = append(o.Snapshot, SnapshotItem{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			VariantName: item.VariantName,
			Size:        item.Size,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    item.Discount,
			Subtotal:    item.Subtotal,
			Total:       item.Total,
		})
	}
	o.Subtotal = subtotal
	o.recalc()

	if s.quoter != nil && in.PostalCode != "" {
		cost, err := s.quoter.Quote(ctx, in.PostalCode, weight)
		switch {
		case err != nil:
			zctx.From(ctx).Warn("Shipping quote failed, creating order without real cost",
				zap.String("order_id", o.ID),
				zap.String("postal_code", in.PostalCode),
				zap.Error(err),
			)
		case cost != nil:
			o.RealShippingCost = cost
		}
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// Get returns the order with its items and snapshot.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// ApplyDiscount validates code against the stored subtotal of a pending
// order, spreads the discount over its items and records one use of the
// code. Either every write happens or none does.
func (s *Service) ApplyDiscount(ctx context.Context, orderID, code string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.ApplyDiscount")
	defer span.End()

	var o *Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return ErrNotPending
		}
		if o.DiscountCodeID != nil {
			return ErrDiscountAlreadyApplied
		}

		res, err := s.codes.Validate(ctx, code, o.Subtotal)
		if err != nil {
			return errors.Wrap(err, "validate code")
		}
		if !res.Valid {
			return res.Reason
		}

		subtotals := make([]decimal.Decimal, len(o.Items))
		for i, it := range o.Items {
			subtotals[i] = it.Subtotal
		}
		shares := Allocate(res.Amount, subtotals)
		applied := decimal.Zero
		for i := range o.Items {
			o.Items[i].Discount = shares[i]
			o.Items[i].Total = o.Items[i].Subtotal.Sub(shares[i])
			applied = applied.Add(shares[i])
		}
		o.Discount = applied
		o.DiscountCodeID = &res.Code.ID
		o.UpdatedAt = s.now()
		o.recalc()

		if err := s.orders.UpdateDiscount(ctx, o); err != nil {
			return errors.Wrap(err, "update order discount")
		}
		return s.codes.IncrementUsage(ctx, res.Code.ID)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// ChangeStatus moves the order to status to. Entering paid decrements the
// stock of every tracked variant and creates the commission for the order's
// discount code in the same transaction. Writing the current status again
// changes nothing.
func (s *Service) ChangeStatus(ctx context.Context, orderID string, to Status) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.ChangeStatus",
		trace.WithAttributes(attribute.String("order.status", string(to))),
	)
	defer span.End()

	if !to.Valid() {
		return nil, errInvalidStatus(to)
	}

	var (
		o       *Order
		from    Status
		changed bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		if from == to {
			return nil
		}
		if !CanTransition(from, to) {
			return transitionError(from, to)
		}
		if err := s.orders.UpdateStatus(ctx, o.ID, from, to); err != nil {
			return errors.Wrap(err, "update order status")
		}

		if to == StatusPaid {
			if err := s.decrementStock(ctx, o); err != nil {
				return err
			}
			if o.DiscountCodeID != nil {
				if err := s.commissions.CreateFromOrder(ctx, o.ID); err != nil {
					return errors.Wrap(err, "create commission")
				}
			}
		}
		o.Status = to
		o.UpdatedAt = s.now()
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !changed {
		return o, nil
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.notify(ctx, o)
	return o, nil
}

// decrementStock lowers the stock of every tracked variant on the order.
// Variants are visited in id order so concurrent transitions lock rows in
// the same sequence.
func (s *Service) decrementStock(ctx context.Context, o *Order) error {
	qty := map[string]int{}
	for _, it := range o.Items {
		if it.VariantID != nil {
			qty[*it.VariantID] += it.Quantity
		}
	}
	if len(qty) == 0 {
		return nil
	}
	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	variants, err := s.catalog.GetVariants(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "get variants")
	}
	tracked := make(map[string]bool, len(variants))
	for i := range variants {
		tracked[variants[i].ID] = variants[i].Tracked()
	}

	for _, id := range ids {
		if !tracked[id] {
			continue
		}
		if err := s.catalog.DecrementStock(ctx, id, qty[id]); err != nil {
			if errors.Is(err, catalog.ErrInsufficientStock) {
				return &LineError{ProductID: productOf(o, id), VariantID: id, Err: catalog.ErrInsufficientStock}
			}
			return errors.Wrapf(err, "decrement stock of %s", id)
		}
	}
	return nil
}

func (s *Service) notify(ctx context.Context, o *Order) {
	if s.notifier == nil || o.Lead == nil || o.Lead.Email == "" {
		return
	}
	switch o.Status {
	case StatusPaid:
		s.notifier.OrderConfirmation(ctx, o.Lead.Email, o.Lead.Name, o.ID, o.Total)
	case StatusCancelled:
		s.notifier.OrderPaymentProblem(ctx, o.Lead.Email, o.Lead.Name, o.ID)
	}
}

func productOf(o *Order, variantID string) string {
	for _, it := range o.Items {
		if it.VariantID != nil && *it.VariantID == variantID {
			return it.ProductID
		}
	}
	return ""
}
