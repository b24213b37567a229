// Package commission derives the commission owed to an influencer from a
// paid order that redeemed one of their discount codes.
package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
)

// Status is the settlement state of a commission.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned for an unknown commission.
	ErrNotFound = apperr.NotFound("comisión no encontrada")
	// ErrNoDiscountCode is returned for orders without a discount code.
	ErrNoDiscountCode = apperr.BusinessRule("el pedido no tiene código de descuento")
)

// Commission is the credit owed to an influencer for one order.
type Commission struct {
	ID             string
	InfluencerID   string
	OrderID        string
	DiscountCodeID string
	OrderTotal     decimal.Decimal
	DiscountAmount decimal.Decimal
	// Rate is always a percentage of the order subtotal, whatever the type
	// of the code that produced it.
	Rate   decimal.Decimal
	Amount decimal.Decimal
	Status Status
	// PaymentID links the commission to the payout request grouping it.
	PaymentID *string
	PaidAt    *time.Time
	CreatedAt time.Time
}

// Repository persists commissions.
type Repository interface {
	// Create inserts c unless a commission for the same order and code
	// exists, in which case it reports false and leaves c untouched.
	Create(ctx context.Context, c *Commission) (bool, error)
	GetByOrderAndCode(ctx context.Context, orderID, codeID string) (*Commission, error)
	// ListByInfluencer returns the influencer's commissions, newest first,
	// optionally filtered by status.
	ListByInfluencer(ctx context.Context, influencerID string, status *Status) ([]Commission, error)
}
