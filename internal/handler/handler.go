// Package handler exposes the settlement services over HTTP.
package handler

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/influencer-settlement/internal/domain/commission"
	"github.com/xenking/influencer-settlement/internal/domain/discount"
	"github.com/xenking/influencer-settlement/internal/domain/order"
	"github.com/xenking/influencer-settlement/internal/domain/payout"
)

// DiscountService administers discount codes.
type DiscountService interface {
	Create(ctx context.Context, in discount.CreateInput) (*discount.Code, error)
	Update(ctx context.Context, code string, in discount.UpdateInput) (*discount.Code, error)
	Deactivate(ctx context.Context, code string) (*discount.Code, error)
	Delete(ctx context.Context, code string) error
	Get(ctx context.Context, code string) (*discount.Code, error)
	ListByInfluencer(ctx context.Context, influencerID string) ([]discount.Code, error)
}

// CodeValidator checks a code against a purchase amount.
type CodeValidator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (discount.Result, error)
}

// OrderService prices orders and drives their lifecycle.
type OrderService interface {
	Create(ctx context.Context, in order.CreateInput) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	ApplyDiscount(ctx context.Context, orderID, code string) (*order.Order, error)
	ChangeStatus(ctx context.Context, orderID string, to order.Status) (*order.Order, error)
}

// CommissionService lists influencer commissions.
type CommissionService interface {
	ListByInfluencer(ctx context.Context, influencerID string, status *commission.Status) ([]commission.Commission, error)
}

// PayoutService drives influencer payment requests.
type PayoutService interface {
	Create(ctx context.Context, a payout.Actor, in payout.CreateInput) (*payout.Payment, error)
	UploadInvoice(ctx context.Context, a payout.Actor, paymentID, key string) (*payout.Payment, error)
	Approve(ctx context.Context, a payout.Actor, paymentID string) (*payout.Payment, error)
	Reject(ctx context.Context, a payout.Actor, paymentID, reason string) (*payout.Payment, error)
	MarkPaid(ctx context.Context, a payout.Actor, paymentID string) (*payout.Payment, error)
	Cancel(ctx context.Context, a payout.Actor, paymentID string) (*payout.Payment, error)
	AddContentLinks(ctx context.Context, a payout.Actor, paymentID string, links []string) (*payout.Payment, error)
	Get(ctx context.Context, a payout.Actor, paymentID string) (*payout.View, error)
	Invoices(ctx context.Context, a payout.Actor, paymentID string) ([]payout.Invoice, error)
}

// Handler serves the settlement API.
type Handler struct {
	discounts   DiscountService
	validator   CodeValidator
	orders      OrderService
	commissions CommissionService
	payouts     PayoutService
}

// New constructs a Handler with the required domain services.
func New(
	discounts DiscountService,
	validator CodeValidator,
	orders OrderService,
	commissions CommissionService,
	payouts PayoutService,
) *Handler {
	return &Handler{
		discounts:   discounts,
		validator:   validator,
		orders:      orders,
		commissions: commissions,
		payouts:     payouts,
	}
}

// Routes registers every API route on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/discount-codes", func(r chi.Router) {
		r.Post("/", h.createCode)
		r.Post("/validate", h.validateCode)
		r.Get("/{code}", h.getCode)
		r.Patch("/{code}", h.updateCode)
		r.Delete("/{code}", h.deleteCode)
		r.Post("/{code}/deactivate", h.deactivateCode)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/discount", h.applyDiscount)
		r.Post("/{id}/status", h.changeOrderStatus)
	})
	r.Route("/influencers/{id}", func(r chi.Router) {
		r.Get("/commissions", h.listCommissions)
		r.Get("/discount-codes", h.listCodes)
	})
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.createPayment)
		r.Get("/{id}", h.getPayment)
		r.Get("/{id}/invoices", h.listInvoices)
		r.Post("/{id}/invoice", h.uploadInvoice)
		r.Post("/{id}/approve", h.approvePayment)
		r.Post("/{id}/reject", h.rejectPayment)
		r.Post("/{id}/pay", h.markPaymentPaid)
		r.Post("/{id}/cancel", h.cancelPayment)
		r.Post("/{id}/content-links", h.addContentLinks)
	})
}
