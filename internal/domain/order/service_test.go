package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
	"github.com/xenking/influencer-settlement/internal/domain/catalog"
	"github.com/xenking/influencer-settlement/internal/domain/discount"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func ptr[T any](v T) *T { return &v }

type fixture struct {
	st       *store
	svc      *Service
	notifier *notifierFake
	quoter   *quoterFake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newStore()
	st.products["shirt"] = catalog.Product{ID: "shirt", Name: "Remera", BasePrice: d("1000"), IsActive: true, WeightGrams: 200}
	st.products["cap"] = catalog.Product{ID: "cap", Name: "Gorra", BasePrice: d("500"), IsActive: true, WeightGrams: 100}
	st.products["old"] = catalog.Product{ID: "old", Name: "Discontinuado", BasePrice: d("10"), IsActive: false}
	st.variants["shirt-m"] = catalog.Variant{ID: "shirt-m", ProductID: "shirt", Name: "M", Size: "M", Stock: ptr(5), IsActive: true}
	st.variants["shirt-xl"] = catalog.Variant{ID: "shirt-xl", ProductID: "shirt", Name: "XL", Size: "XL", Price: ptr(d("1200")), IsActive: true}
	st.variants["shirt-s"] = catalog.Variant{ID: "shirt-s", ProductID: "shirt", Name: "S", Stock: ptr(1), IsActive: false}

	st.codes["save10"] = &discount.Code{
		ID: "save10", Code: "SAVE10", Type: discount.Percentage, Value: d("10"),
		MinPurchase: ptr(d("1000")), MaxUses: ptr(2), IsActive: true,
	}
	st.codes["fixed500"] = &discount.Code{ID: "fixed500", Code: "FIXED500", Type: discount.Fixed, Value: d("500"), IsActive: true}

	n := &notifierFake{}
	q := &quoterFake{cost: ptr(d("3150.75"))}
	svc, err := NewService(
		catalogRepo{st},
		orderRepo{st},
		discount.NewValidator(codeRepo{st}),
		commissionFake{st},
		st,
		Config{Currency: "ARS", ShippingCharge: decimal.Zero},
		WithNotifier(n),
		WithShippingQuoter(q),
	)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return &fixture{st: st, svc: svc, notifier: n, quoter: q}
}

func (f *fixture) create(t *testing.T, lines ...CartLine) *Order {
	t.Helper()
	o, err := f.svc.Create(context.Background(), CreateInput{
		Lead:       &Lead{ID: "lead-1", Name: "Ana", Email: "ana@example.com"},
		Lines:      lines,
		PostalCode: "5000",
	})
	require.NoError(t, err)
	return o
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	o := f.create(t,
		CartLine{ProductID: "shirt", VariantID: "shirt-m", Quantity: 2},
		CartLine{ProductID: "shirt", VariantID: "shirt-xl", Quantity: 1},
		CartLine{ProductID: "cap", Quantity: 1},
	)

	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, d("3700").Equal(o.Subtotal), "subtotal %s", o.Subtotal)
	assert.True(t, decimal.Zero.Equal(o.Discount))
	assert.True(t, decimal.Zero.Equal(o.ShippingCost))
	assert.True(t, d("3700").Equal(o.Total))
	assert.Equal(t, "ARS", o.Currency)
	require.NotNil(t, o.RealShippingCost)
	assert.True(t, d("3150.75").Equal(*o.RealShippingCost))
	assert.Equal(t, 700, f.quoter.got)

	require.Len(t, o.Snapshot, 3)
	assert.Equal(t, "Remera", o.Snapshot[0].ProductName)
	assert.Equal(t, "M", *o.Snapshot[0].Size)
	assert.True(t, d("1200").Equal(o.Snapshot[1].UnitPrice))
	assert.Nil(t, o.Snapshot[2].VariantID)
	require.Len(t, o.Items, 3)
}

func TestCreate_QuoteFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	f.quoter.cost = nil
	f.quoter.err = errors.New("carrier down")

	o := f.create(t, CartLine{ProductID: "cap", Quantity: 1})
	assert.Nil(t, o.RealShippingCost)
	assert.True(t, d("500").Equal(o.Total))
}

func TestCreate_ShippingChargeAddsToTotal(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.ShippingCharge = d("1500")

	o := f.create(t, CartLine{ProductID: "cap", Quantity: 2})
	assert.True(t, d("2500").Equal(o.Total))
}

func TestCreate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		lines   []CartLine
		wantErr error
		kind    apperr.Kind
	}{
		{name: "empty cart", lines: nil, wantErr: ErrEmptyItems, kind: apperr.KindValidation},
		{name: "zero quantity", lines: []CartLine{{ProductID: "cap"}}, wantErr: errInvalidQuantity, kind: apperr.KindValidation},
		{name: "unknown product", lines: []CartLine{{ProductID: "nope", Quantity: 1}}, wantErr: catalog.ErrProductNotFound, kind: apperr.KindNotFound},
		{name: "inactive product", lines: []CartLine{{ProductID: "old", Quantity: 1}}, wantErr: ErrProductInactive, kind: apperr.KindBusinessRule},
		{name: "unknown variant", lines: []CartLine{{ProductID: "shirt", VariantID: "shirt-l", Quantity: 1}}, wantErr: catalog.ErrVariantNotFound, kind: apperr.KindNotFound},
		{name: "variant of other product", lines: []CartLine{{ProductID: "cap", VariantID: "shirt-m", Quantity: 1}}, wantErr: catalog.ErrVariantNotFound, kind: apperr.KindNotFound},
		{name: "inactive variant", lines: []CartLine{{ProductID: "shirt", VariantID: "shirt-s", Quantity: 1}}, wantErr: ErrVariantInactive, kind: apperr.KindBusinessRule},
		{name: "insufficient stock", lines: []CartLine{{ProductID: "shirt", VariantID: "shirt-m", Quantity: 6}}, wantErr: catalog.ErrInsufficientStock, kind: apperr.KindBusinessRule},
		{
			name: "insufficient stock across lines",
			lines: []CartLine{
				{ProductID: "shirt", VariantID: "shirt-m", Quantity: 3},
				{ProductID: "shirt", VariantID: "shirt-m", Quantity: 3},
			},
			wantErr: catalog.ErrInsufficientStock,
			kind:    apperr.KindBusinessRule,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), CreateInput{Lines: tt.lines})
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.NotEmpty(t, apperr.Message(err))
			assert.Empty(t, f.st.orders)
		})
	}
}

func TestApplyDiscount_SAVE10(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := range 2 {
		o := f.create(t,
			CartLine{ProductID: "shirt", VariantID: "shirt-xl", Quantity: 1},
			CartLine{ProductID: "cap", Quantity: 1},
			CartLine{ProductID: "shirt", Quantity: 1},
		)
		require.True(t, d("2700").Equal(o.Subtotal))

		o, err := f.svc.ApplyDiscount(ctx, o.ID, " save10 ")
		require.NoError(t, err, "use %d", i+1)
		assert.True(t, d("270").Equal(o.Discount))
		assert.True(t, d("2430").Equal(o.Total))
		require.NotNil(t, o.DiscountCodeID)
		assert.Equal(t, "save10", *o.DiscountCodeID)

		sum := decimal.Zero
		for _, it := range o.Items {
			sum = sum.Add(it.Discount)
			assert.True(t, it.Subtotal.Sub(it.Discount).Equal(it.Total))
		}
		assert.True(t, o.Discount.Equal(sum))

		stored, err := f.svc.Get(ctx, o.ID)
		require.NoError(t, err)
		for _, s := range stored.Snapshot {
			assert.True(t, decimal.Zero.Equal(s.Discount), "snapshot must stay as created")
		}
	}
	assert.Equal(t, 2, f.st.codes["save10"].UsedCount)

	third := f.create(t, CartLine{ProductID: "shirt", Quantity: 2})
	_, err := f.svc.ApplyDiscount(ctx, third.ID, "SAVE10")
	require.ErrorIs(t, err, discount.ErrExhausted)
	assert.Contains(t, apperr.Message(err), "agotado")

	stored, err := f.svc.Get(ctx, third.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DiscountCodeID)
	assert.True(t, decimal.Zero.Equal(stored.Discount))
}

func TestApplyDiscount_FixedCappedAtSubtotal(t *testing.T) {
	f := newFixture(t)
	f.st.products["sticker"] = catalog.Product{ID: "sticker", Name: "Sticker", BasePrice: d("100"), IsActive: true}
	f.svc.cfg.ShippingCharge = d("800")

	o := f.create(t, CartLine{ProductID: "sticker", Quantity: 3})
	o, err := f.svc.ApplyDiscount(context.Background(), o.ID, "fixed500")
	require.NoError(t, err)
	assert.True(t, d("300").Equal(o.Discount))
	assert.True(t, d("800").Equal(o.Total), "total is shipping only, got %s", o.Total)
}

func TestApplyDiscount_RollsBackWhenUsageIncrementFails(t *testing.T) {
	f := newFixture(t)
	// The code looks valid when read but another checkout redeems the last
	// use before the increment.
	f.st.codes["fixed500"].MaxUses = ptr(1)
	o := f.create(t, CartLine{ProductID: "shirt", Quantity: 1})

	racer := codeRepo{f.st}
	f.svc.codes = racingValidator{Validator: discount.NewValidator(racer), race: func() {
		f.st.mu.Lock()
		f.st.codes["fixed500"].UsedCount = 1
		f.st.mu.Unlock()
	}}

	_, err := f.svc.ApplyDiscount(context.Background(), o.ID, "FIXED500")
	require.ErrorIs(t, err, discount.ErrExhausted)

	stored, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DiscountCodeID)
	assert.True(t, d("1000").Equal(stored.Total))
}

type racingValidator struct {
	*discount.Validator
	race func()
}

func (v racingValidator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (discount.Result, error) {
	res, err := v.Validator.Validate(ctx, code, subtotal)
	v.race()
	return res, err
}

func TestApplyDiscount_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("not pending", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t, CartLine{ProductID: "shirt", Quantity: 2})
		_, err := f.svc.ChangeStatus(ctx, o.ID, StatusPaid)
		require.NoError(t, err)

		_, err = f.svc.ApplyDiscount(ctx, o.ID, "SAVE10")
		require.ErrorIs(t, err, ErrNotPending)
		assert.Equal(t, apperr.KindState, apperr.KindOf(err))
	})

	t.Run("second code", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t, CartLine{ProductID: "shirt", Quantity: 2})
		_, err := f.svc.ApplyDiscount(ctx, o.ID, "SAVE10")
		require.NoError(t, err)

		_, err = f.svc.ApplyDiscount(ctx, o.ID, "FIXED500")
		require.ErrorIs(t, err, ErrDiscountAlreadyApplied)
		assert.Equal(t, 0, f.st.codes["fixed500"].UsedCount)
	})

	t.Run("minimum purchase", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t, CartLine{ProductID: "cap", Quantity: 1})
		_, err := f.svc.ApplyDiscount(ctx, o.ID, "SAVE10")
		require.ErrorIs(t, err, discount.ErrMinPurchaseNotMet)
		assert.Contains(t, apperr.Message(err), "1000.00")
	})

	t.Run("unknown code", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t, CartLine{ProductID: "cap", Quantity: 1})
		_, err := f.svc.ApplyDiscount(ctx, o.ID, "WHO")
		require.ErrorIs(t, err, discount.ErrNotFound)
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ApplyDiscount(ctx, "missing", "SAVE10")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestChangeStatus_Paid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t,
		CartLine{ProductID: "shirt", VariantID: "shirt-m", Quantity: 2},
		CartLine{ProductID: "shirt", VariantID: "shirt-xl", Quantity: 1},
	)
	_, err := f.svc.ApplyDiscount(ctx, o.ID, "SAVE10")
	require.NoError(t, err)

	paid, err := f.svc.ChangeStatus(ctx, o.ID, StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, paid.Status)
	assert.Equal(t, 3, catalogRepo{f.st}.stock("shirt-m"))
	assert.Equal(t, []string{o.ID}, f.st.commissionCalls)
	assert.Equal(t, []string{"ana@example.com"}, f.notifier.confirmed)

	again, err := f.svc.ChangeStatus(ctx, o.ID, StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, again.Status)
	assert.Equal(t, 3, catalogRepo{f.st}.stock("shirt-m"), "repeated paid must not decrement twice")
	assert.Len(t, f.st.commissionCalls, 1)
	assert.Len(t, f.notifier.confirmed, 1)
}

func TestChangeStatus_PaidWithoutCode(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, CartLine{ProductID: "shirt", VariantID: "shirt-m", Quantity: 1})

	_, err := f.svc.ChangeStatus(context.Background(), o.ID, StatusPaid)
	require.NoError(t, err)
	assert.Empty(t, f.st.commissionCalls)
	assert.Equal(t, 4, catalogRepo{f.st}.stock("shirt-m"))
}

func TestChangeStatus_PaidIsAtomic(t *testing.T) {
	t.Run("stock sold out meanwhile", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t, CartLine{ProductID: "shirt", VariantID: "shirt-m", Quantity: 4})
		v := f.st.variants["shirt-m"]
		v.Stock = ptr(2)
		f.st.variants["shirt-m"] = v

		_, err := f.svc.ChangeStatus(context.Background(), o.ID, StatusPaid)
		require.ErrorIs(t, err, catalog.ErrInsufficientStock)

		stored, err := f.svc.Get(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, stored.Status)
		assert.Equal(t, 2, catalogRepo{f.st}.stock("shirt-m"))
		assert.Empty(t, f.notifier.confirmed)
	})

	t.Run("commission failure", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t, CartLine{ProductID: "shirt", VariantID: "shirt-m", Quantity: 2})
		_, err := f.svc.ApplyDiscount(context.Background(), o.ID, "SAVE10")
		require.NoError(t, err)
		f.st.commissionErr = errors.New("insert failed")

		_, err = f.svc.ChangeStatus(context.Background(), o.ID, StatusPaid)
		require.Error(t, err)

		stored, err := f.svc.Get(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, stored.Status)
		assert.Equal(t, 5, catalogRepo{f.st}.stock("shirt-m"))
	})
}

func TestChangeStatus_Transitions(t *testing.T) {
	tests := []struct {
		name string
		path []Status
		to   Status
		ok   bool
	}{
		{name: "pending to cancelled", to: StatusCancelled, ok: true},
		{name: "pending to shipped", to: StatusShipped},
		{name: "pending to delivered", to: StatusDelivered},
		{name: "paid to shipped", path: []Status{StatusPaid}, to: StatusShipped, ok: true},
		{name: "paid to pending", path: []Status{StatusPaid}, to: StatusPending},
		{name: "paid to cancelled", path: []Status{StatusPaid}, to: StatusCancelled},
		{name: "shipped to delivered", path: []Status{StatusPaid, StatusShipped}, to: StatusDelivered, ok: true},
		{name: "cancelled is terminal", path: []Status{StatusCancelled}, to: StatusPaid},
		{name: "delivered is terminal", path: []Status{StatusPaid, StatusShipped, StatusDelivered}, to: StatusShipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			o := f.create(t, CartLine{ProductID: "cap", Quantity: 1})
			for _, s := range tt.path {
				_, err := f.svc.ChangeStatus(ctx, o.ID, s)
				require.NoError(t, err)
			}
			before, err := f.svc.Get(ctx, o.ID)
			require.NoError(t, err)

			_, err = f.svc.ChangeStatus(ctx, o.ID, tt.to)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			var te *apperr.TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, string(before.Status), te.From)
			assert.Equal(t, apperr.KindState, apperr.KindOf(err))

			after, err := f.svc.Get(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, before.Status, after.Status)
		})
	}
}

func TestChangeStatus_CancelNotifiesProblem(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, CartLine{ProductID: "cap", Quantity: 1})

	_, err := f.svc.ChangeStatus(context.Background(), o.ID, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, []string{"ana@example.com"}, f.notifier.problems)
}

func TestChangeStatus_UnknownStatus(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, CartLine{ProductID: "cap", Quantity: 1})

	_, err := f.svc.ChangeStatus(context.Background(), o.ID, Status("refunded"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
