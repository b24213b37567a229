// Package catalog holds the product and variant data orders are priced from.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
)

var (
	// ErrProductNotFound is returned for an unknown product id.
	ErrProductNotFound = apperr.NotFound("producto no encontrado")
	// ErrVariantNotFound is returned for an unknown variant id or a variant
	// of a different product.
	ErrVariantNotFound = apperr.NotFound("variante no encontrada")
	// ErrInsufficientStock is returned when a conditional stock decrement
	// finds fewer units than requested.
	ErrInsufficientStock = apperr.BusinessRule("stock insuficiente")
)

// Product is a sellable catalog item.
type Product struct {
	ID        string
	Name      string
	BasePrice decimal.Decimal
	// LaunchPrice is a promotional price that overrides every other price
	// while set and positive.
	LaunchPrice *decimal.Decimal
	IsActive    bool
	WeightGrams int
}

// Variant is a size or flavour of a product. A nil Stock means the variant
// is not stock-tracked.
type Variant struct {
	ID        string
	ProductID string
	Name      string
	Size      string
	Price     *decimal.Decimal
	Stock     *int
	IsActive  bool
}

// Tracked reports whether the variant has finite stock.
func (v *Variant) Tracked() bool { return v != nil && v.Stock != nil }

// EffectivePrice returns the unit price charged for a product, optionally
// narrowed to a variant: the launch price if positive, else the variant
// price if positive, else the base price.
func EffectivePrice(p *Product, v *Variant) decimal.Decimal {
	if p.LaunchPrice != nil && p.LaunchPrice.IsPositive() {
		return *p.LaunchPrice
	}
	if v != nil && v.Price != nil && v.Price.IsPositive() {
		return *v.Price
	}
	return p.BasePrice
}

// Repository reads the catalog and owns stock counters.
type Repository interface {
	GetProducts(ctx context.Context, ids []string) ([]Product, error)
	GetVariants(ctx context.Context, ids []string) ([]Variant, error)
	// DecrementStock subtracts qty from the variant's stock only if at least
	// qty units remain and returns ErrInsufficientStock otherwise.
	DecrementStock(ctx context.Context, variantID string, qty int) error
}
