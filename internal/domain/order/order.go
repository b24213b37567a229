// Package order prices carts into orders, applies discount codes to pending
// orders and drives the order status lifecycle.
package order

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusShipped},
	StatusShipped:   {StatusDelivered},
	StatusDelivered: nil,
	StatusCancelled: nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

func transitionError(from, to Status) error {
	next := transitions[from]
	allowed := make([]string, len(next))
	for i, s := range next {
		allowed[i] = string(s)
	}
	return &apperr.TransitionError{Entity: "pedido", From: string(from), To: string(to), Allowed: allowed}
}

var (
	// ErrNotFound is returned for an unknown order id.
	ErrNotFound = apperr.NotFound("pedido no encontrado")
	// ErrEmptyItems is returned for a cart without lines.
	ErrEmptyItems = apperr.Validation("el pedido debe tener al menos un producto")
	// ErrDiscountAlreadyApplied is returned when a pending order already
	// carries a discount code.
	ErrDiscountAlreadyApplied = apperr.BusinessRule("el pedido ya tiene un código de descuento aplicado")
	// ErrNotPending is returned when a discount is applied outside pending.
	ErrNotPending = apperr.State("solo se puede aplicar un descuento a un pedido pendiente")
	// ErrStatusConflict is returned when a conditional status update finds
	// the order in a different status than the one it was read in.
	ErrStatusConflict = apperr.State("el estado del pedido cambió durante la operación")
	// ErrProductInactive is returned for a product that is not for sale.
	ErrProductInactive = apperr.BusinessRule("el producto no está disponible")
	// ErrVariantInactive is returned for a variant that is not for sale.
	ErrVariantInactive = apperr.BusinessRule("la variante no está disponible")
)

// LineError ties a cart line failure to the product it concerns.
type LineError struct {
	ProductID string
	VariantID string
	Err       error
}

func (e *LineError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("%s (producto %s, variante %s)", e.Err, e.ProductID, e.VariantID)
	}
	return fmt.Sprintf("%s (producto %s)", e.Err, e.ProductID)
}

func (e *LineError) Unwrap() error { return e.Err }

// Kind reports the category of the underlying error.
func (e *LineError) Kind() apperr.Kind { return apperr.KindOf(e.Err) }

// Lead is the customer an order belongs to.
type Lead struct {
	ID    string
	Name  string
	Email string
}

// SnapshotItem is the purchased line as it was at order creation. Snapshots
// are written once and never updated.
type SnapshotItem struct {
	ProductID   string          `json:"productId"`
	VariantID   *string         `json:"variantId,omitempty"`
	ProductName string          `json:"productName"`
	VariantName *string         `json:"variantName,omitempty"`
	Size        *string         `json:"size,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Discount    decimal.Decimal `json:"discount"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Total       decimal.Decimal `json:"total"`
}

// Item is the normalized order line used for per-line discount bookkeeping.
type Item struct {
	ID          string
	OrderID     string
	ProductID   string
	VariantID   *string
	ProductName string
	VariantName *string
	Size        *string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// Order is a priced customer order.
type Order struct {
	ID           string
	Lead         *Lead
	Status       Status
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	ShippingCost decimal.Decimal
	// RealShippingCost is the carrier quote the business pays, recorded
	// independently of the ShippingCost charged to the customer.
	RealShippingCost *decimal.Decimal
	Total            decimal.Decimal
	Currency         string
	DiscountCodeID   *string
	PostalCode       string
	Snapshot         []SnapshotItem
	Items            []Item
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// recalc derives Total from the other amounts, never below zero.
func (o *Order) recalc() {
	total := o.Subtotal.Sub(o.Discount).Add(o.ShippingCost)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Total = total.Round(2)
}

// Repository persists orders and their normalized items.
type Repository interface {
	// Create inserts the order together with its items.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// GetForUpdate loads the order and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	// UpdateDiscount writes the order's discount, total and code reference
	// and every item's discount and total.
	UpdateDiscount(ctx context.Context, o *Order) error
	// UpdateStatus moves the order from one status to another and returns
	// ErrStatusConflict if it is no longer in from.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
}

var errInvalidQuantity = apperr.Validation("la cantidad debe ser mayor a cero")

func errInvalidStatus(s Status) error {
	return apperr.Validation("estado de pedido desconocido: %q", string(s))
}
