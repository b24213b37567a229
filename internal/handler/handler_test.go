package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
	"github.com/xenking/influencer-settlement/internal/domain/catalog"
	"github.com/xenking/influencer-settlement/internal/domain/commission"
	"github.com/xenking/influencer-settlement/internal/domain/discount"
	"github.com/xenking/influencer-settlement/internal/domain/order"
	"github.com/xenking/influencer-settlement/internal/domain/payout"
)

// --- Fakes ---

type discountFake struct {
	DiscountService
	created discount.CreateInput
	code    *discount.Code
	err     error
}

func (f *discountFake) Create(_ context.Context, in discount.CreateInput) (*discount.Code, error) {
	f.created = in
	if f.err != nil {
		return nil, f.err
	}
	return &discount.Code{ID: "c1", Code: discount.Normalize(in.Code), InfluencerID: in.InfluencerID, Type: in.Type, Value: in.Value, IsActive: true}, nil
}

func (f *discountFake) Get(context.Context, string) (*discount.Code, error) {
	return f.code, f.err
}

func (f *discountFake) Delete(context.Context, string) error { return f.err }

type validatorFunc func(ctx context.Context, code string, subtotal decimal.Decimal) (discount.Result, error)

func (f validatorFunc) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (discount.Result, error) {
	return f(ctx, code, subtotal)
}

type orderFake struct {
	OrderService
	in       order.CreateInput
	code     string
	status   order.Status
	order    *order.Order
	err      error
	getCalls int
}

func (f *orderFake) Create(_ context.Context, in order.CreateInput) (*order.Order, error) {
	f.in = in
	return f.order, f.err
}

func (f *orderFake) Get(context.Context, string) (*order.Order, error) {
	f.getCalls++
	return f.order, f.err
}

func (f *orderFake) ApplyDiscount(_ context.Context, _, code string) (*order.Order, error) {
	f.code = code
	return f.order, f.err
}

func (f *orderFake) ChangeStatus(_ context.Context, _ string, to order.Status) (*order.Order, error) {
	f.status = to
	return f.order, f.err
}

type commissionFake struct {
	status *commission.Status
	list   []commission.Commission
}

func (f *commissionFake) ListByInfluencer(_ context.Context, _ string, status *commission.Status) ([]commission.Commission, error) {
	f.status = status
	return f.list, nil
}

type payoutFake struct {
	PayoutService
	actor   payout.Actor
	reason  string
	key     string
	payment *payout.Payment
	view    *payout.View
	err     error
}

func (f *payoutFake) Reject(_ context.Context, a payout.Actor, _, reason string) (*payout.Payment, error) {
	f.actor, f.reason = a, reason
	return f.payment, f.err
}

func (f *payoutFake) UploadInvoice(_ context.Context, a payout.Actor, _, key string) (*payout.Payment, error) {
	f.actor, f.key = a, key
	return f.payment, f.err
}

func (f *payoutFake) Get(_ context.Context, a payout.Actor, _ string) (*payout.View, error) {
	f.actor = a
	return f.view, f.err
}

// --- Helpers ---

type fixture struct {
	discounts   *discountFake
	validator   validatorFunc
	orders      *orderFake
	commissions *commissionFake
	payouts     *payoutFake
}

func newFixture() *fixture {
	return &fixture{
		discounts:   &discountFake{},
		orders:      &orderFake{},
		commissions: &commissionFake{},
		payouts:     &payoutFake{},
	}
}

func (f *fixture) router(lg *zap.Logger) http.Handler {
	h := New(f.discounts, f.validator, f.orders, f.commissions, f.payouts)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(zctx.Base(r.Context(), lg)))
		})
	})
	r.Route("/api", h.Routes)
	return r
}

type actorHeaders struct {
	id, role, influencer string
}

var (
	admin      = actorHeaders{id: "admin-1", role: "admin"}
	influencer = actorHeaders{id: "auth-7", role: "influencer", influencer: "inf-7"}
)

func do(t *testing.T, h http.Handler, method, path, body string, actor *actorHeaders) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != nil {
		req.Header.Set(headerActorID, actor.id)
		req.Header.Set(headerActorRole, actor.role)
		req.Header.Set(headerInfluencerID, actor.influencer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func sampleOrder() *order.Order {
	variant := "whey-choco"
	return &order.Order{
		ID:           "o1",
		Status:       order.StatusPending,
		Lead:         &order.Lead{Name: "Ana", Email: "ana@example.com"},
		Subtotal:     decimal.RequireFromString("100"),
		Discount:     decimal.RequireFromString("10"),
		ShippingCost: decimal.Zero,
		Total:        decimal.RequireFromString("90"),
		Currency:     "ARS",
		Items: []order.Item{{
			ID: "i1", ProductID: "whey", VariantID: &variant, ProductName: "Whey", Quantity: 2,
			UnitPrice: decimal.RequireFromString("50"), Subtotal: decimal.RequireFromString("100"),
			Discount: decimal.RequireFromString("10"), Total: decimal.RequireFromString("90"),
		}},
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// --- Tests ---

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Validation("x"), http.StatusBadRequest},
		{order.ErrNotFound, http.StatusNotFound},
		{&apperr.TransitionError{Entity: "pedido", From: "paid", To: "pending"}, http.StatusConflict},
		{payout.ErrForbidden, http.StatusForbidden},
		{discount.ErrExhausted, http.StatusUnprocessableEntity},
		{&order.LineError{ProductID: "p", Err: catalog.ErrInsufficientStock}, http.StatusUnprocessableEntity},
		{errors.Wrap(discount.ErrNotFound, "validate code"), http.StatusNotFound},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(apperr.KindOf(tt.err)))
		})
	}
}

func TestCreateOrder(t *testing.T) {
	f := newFixture()
	f.orders.order = sampleOrder()
	h := f.router(zap.NewNop())

	w, body := do(t, h, http.MethodPost, "/api/orders", `{
		"lead": {"name": "Ana", "email": "ana@example.com"},
		"items": [{"productId": "whey", "variantId": "whey-choco", "quantity": 2}, {"productId": "bar", "quantity": 1}],
		"postalCode": "1414",
		"unknown": [1, 2]
	}`, nil)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []order.CartLine{
		{ProductID: "whey", VariantID: "whey-choco", Quantity: 2},
		{ProductID: "bar", Quantity: 1},
	}, f.orders.in.Lines)
	assert.Equal(t, "1414", f.orders.in.PostalCode)
	require.NotNil(t, f.orders.in.Lead)
	assert.Equal(t, "Ana", f.orders.in.Lead.Name)

	assert.Equal(t, "o1", body["id"])
	assert.Equal(t, 90.0, body["total"])
	assert.Equal(t, "2025-03-01T12:00:00Z", body["createdAt"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, 10.0, items[0].(map[string]any)["discount"])
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "malformed body",
			body:     `not json`,
			wantCode: http.StatusBadRequest,
			wantMsg:  errMalformedBody.Error(),
		},
		{
			name:     "wrong field type",
			body:     `{"items": [{"productId": "whey", "quantity": "two"}]}`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "valor inválido para el campo items",
		},
		{
			name:     "insufficient stock",
			body:     `{"items": [{"productId": "whey", "variantId": "v1", "quantity": 9}]}`,
			err:      &order.LineError{ProductID: "whey", VariantID: "v1", Err: catalog.ErrInsufficientStock},
			wantCode: http.StatusUnprocessableEntity,
			wantMsg:  "stock insuficiente (producto whey, variante v1)",
		},
		{
			name:     "empty cart",
			body:     `{"items": []}`,
			err:      order.ErrEmptyItems,
			wantCode: http.StatusBadRequest,
			wantMsg:  order.ErrEmptyItems.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.orders.err = tt.err
			w, body := do(t, f.router(zap.NewNop()), http.MethodPost, "/api/orders", tt.body, nil)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, float64(tt.wantCode), body["code"])
			assert.Equal(t, tt.wantMsg, body["message"])
		})
	}
}

func TestApplyDiscount(t *testing.T) {
	f := newFixture()
	f.orders.order = sampleOrder()
	h := f.router(zap.NewNop())

	w, _ := do(t, h, http.MethodPost, "/api/orders/o1/discount", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, h, http.MethodPost, "/api/orders/o1/discount", `{"code": "save10"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "save10", f.orders.code)

	f.orders.err = &discount.MinPurchaseError{Min: decimal.RequireFromString("5000")}
	w, body := do(t, h, http.MethodPost, "/api/orders/o1/discount", `{"code": "save10"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "compra mínima de $5000.00 requerida para este código", body["message"])
}

func TestChangeOrderStatus(t *testing.T) {
	f := newFixture()
	f.orders.order = sampleOrder()
	h := f.router(zap.NewNop())

	w, _ := do(t, h, http.MethodPost, "/api/orders/o1/status", `{"status": "paid"}`, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = do(t, h, http.MethodPost, "/api/orders/o1/status", `{"status": "paid"}`, &influencer)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, f.orders.status)

	w, _ = do(t, h, http.MethodPost, "/api/orders/o1/status", `{"status": "paid"}`, &admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.StatusPaid, f.orders.status)

	f.orders.err = &apperr.TransitionError{Entity: "pedido", From: "delivered", To: "paid"}
	w, body := do(t, h, http.MethodPost, "/api/orders/o1/status", `{"status": "paid"}`, &admin)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "state", body["kind"])
	assert.Contains(t, body["message"], "estado final")
}

func TestInternalErrorIsHidden(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	f := newFixture()
	f.orders.err = errors.Wrap(errors.New("pq: connection reset"), "get order")

	w, body := do(t, f.router(zap.New(core)), http.MethodGet, "/api/orders/o1", "", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "error interno", body["message"])
	entries := logs.FilterMessage("Request failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/api/orders/{id}", entries[0].ContextMap()["route"])
}

func TestValidateCode(t *testing.T) {
	f := newFixture()
	var gotSubtotal decimal.Decimal
	f.validator = func(_ context.Context, code string, subtotal decimal.Decimal) (discount.Result, error) {
		gotSubtotal = subtotal
		c := &discount.Code{Code: "SAVE10", Type: discount.Percentage, Value: decimal.NewFromInt(10)}
		if code == "expired" {
			return discount.Result{Code: c, Reason: discount.ErrExpired}, nil
		}
		return discount.Result{Valid: true, Code: c, Amount: subtotal.Mul(decimal.RequireFromString("0.1"))}, nil
	}
	h := f.router(zap.NewNop())

	w, body := do(t, h, http.MethodPost, "/api/discount-codes/validate", `{"code": "save10", "subtotal": "1000.50"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gotSubtotal.Equal(decimal.RequireFromString("1000.50")))
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, 100.05, body["discountAmount"])

	w, body = do(t, h, http.MethodPost, "/api/discount-codes/validate", `{"code": "expired", "subtotal": 100}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, discount.ErrExpired.Error(), body["reason"])

	w, _ = do(t, h, http.MethodPost, "/api/discount-codes/validate", `{"code": "save10"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCode(t *testing.T) {
	f := newFixture()
	h := f.router(zap.NewNop())
	body := `{"code": " sofi15 ", "influencerId": "inf-7", "discountType": "percentage",
		"discountValue": 15, "minPurchase": null, "maxUses": 100, "validUntil": "2025-12-31"}`

	w, _ := do(t, h, http.MethodPost, "/api/discount-codes", body, &influencer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := do(t, h, http.MethodPost, "/api/discount-codes", body, &admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "SOFI15", resp["code"])
	assert.Equal(t, discount.Percentage, f.discounts.created.Type)
	assert.True(t, f.discounts.created.Value.Equal(decimal.NewFromInt(15)))
	assert.Nil(t, f.discounts.created.MinPurchase)
	require.NotNil(t, f.discounts.created.MaxUses)
	assert.Equal(t, 100, *f.discounts.created.MaxUses)
	assert.Equal(t, "2025-12-31", f.discounts.created.ValidUntil)

	f.discounts.err = discount.ErrDuplicateCode
	w, _ = do(t, h, http.MethodPost, "/api/discount-codes", body, &admin)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetCode_OtherInfluencer(t *testing.T) {
	f := newFixture()
	f.discounts.code = &discount.Code{ID: "c1", Code: "SOFI15", InfluencerID: "inf-9", Value: decimal.NewFromInt(15)}
	h := f.router(zap.NewNop())

	w, _ := do(t, h, http.MethodGet, "/api/discount-codes/SOFI15", "", &influencer)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := do(t, h, http.MethodGet, "/api/discount-codes/SOFI15", "", &admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "inf-9", body["influencerId"])
}

func TestDeleteCode(t *testing.T) {
	f := newFixture()
	h := f.router(zap.NewNop())

	w, _ := do(t, h, http.MethodDelete, "/api/discount-codes/SOFI15", "", &admin)
	assert.Equal(t, http.StatusNoContent, w.Code)

	f.discounts.err = discount.ErrCodeInUse
	w, body := do(t, h, http.MethodDelete, "/api/discount-codes/SOFI15", "", &admin)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, discount.ErrCodeInUse.Error(), body["message"])
}

func TestListCommissions(t *testing.T) {
	f := newFixture()
	f.commissions.list = []commission.Commission{{
		ID: "cm1", OrderID: "o1", DiscountCodeID: "c1", Status: commission.StatusPending,
		OrderTotal: decimal.RequireFromString("90"), DiscountAmount: decimal.RequireFromString("10"),
		Rate: decimal.NewFromInt(10), Amount: decimal.RequireFromString("10"),
	}}
	h := f.router(zap.NewNop())

	w, _ := do(t, h, http.MethodGet, "/api/influencers/inf-9/commissions", "", &influencer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, h, http.MethodGet, "/api/influencers/inf-7/commissions?status=bogus", "", &influencer)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, h, http.MethodGet, "/api/influencers/inf-7/commissions?status=pending", "", &influencer)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.commissions.status)
	assert.Equal(t, commission.StatusPending, *f.commissions.status)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 10.0, list[0]["commissionAmount"])
	assert.Nil(t, list[0]["paymentId"])
}

func TestPaymentActions(t *testing.T) {
	f := newFixture()
	f.payouts.payment = &payout.Payment{ID: "p1", InfluencerID: "inf-7", Status: payout.StatusInvoiceRejected, TotalAmount: decimal.RequireFromString("10")}
	h := f.router(zap.NewNop())

	w, _ := do(t, h, http.MethodPost, "/api/payments/p1/reject", `{"reason": "CUIT incorrecto"}`, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := do(t, h, http.MethodPost, "/api/payments/p1/reject", `{"reason": "CUIT incorrecto"}`, &admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CUIT incorrecto", f.payouts.reason)
	assert.Equal(t, payout.RoleAdmin, f.payouts.actor.Role)
	assert.Equal(t, "invoice_rejected", body["status"])
	assert.Equal(t, []any{}, body["contentLinks"])

	w, _ = do(t, h, http.MethodPost, "/api/payments/p1/invoice", `{"invoiceKey": "invoices/p1.pdf"}`, &influencer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "invoices/p1.pdf", f.payouts.key)
	assert.Equal(t, "inf-7", f.payouts.actor.InfluencerID)

	f.payouts.err = &apperr.TransitionError{Entity: "pago", From: "paid", To: "invoice_uploaded"}
	w, _ = do(t, h, http.MethodPost, "/api/payments/p1/invoice", `{"invoiceKey": "invoices/p1.pdf"}`, &influencer)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetPayment(t *testing.T) {
	f := newFixture()
	key := "invoices/p1.pdf"
	f.payouts.view = &payout.View{
		Payment:     payout.Payment{ID: "p1", InfluencerID: "inf-7", Status: payout.StatusInvoiceUploaded, InvoiceURL: &key},
		Commissions: []commission.Commission{{ID: "cm1", Status: commission.StatusPending}},
		InvoiceLink: "https://files.example.com/invoices/p1.pdf",
	}
	h := f.router(zap.NewNop())

	w, body := do(t, h, http.MethodGet, "/api/payments/p1", "", &influencer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://files.example.com/invoices/p1.pdf", body["invoiceUrl"])
	assert.Len(t, body["commissions"], 1)
	assert.Nil(t, body["paidAt"])

	w, _ = do(t, h, http.MethodGet, "/api/payments/p1", "", &actorHeaders{id: "x", role: "influencer"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
