// Package shipping quotes the real carrier cost of delivering an order.
package shipping

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Package describes the parcel being shipped.
type Package struct {
	WeightGrams int
	HeightCm    int
	WidthCm     int
	LengthCm    int
}

// Request asks for the rates between two postal codes.
type Request struct {
	OriginPostalCode      string
	DestinationPostalCode string
	Package               Package
}

// Key identifies the request for caching.
func (r Request) Key() string {
	p := r.Package
	return fmt.Sprintf("%s:%s:%d:%dx%dx%d", r.OriginPostalCode, r.DestinationPostalCode, p.WeightGrams, p.HeightCm, p.WidthCm, p.LengthCm)
}

// Rate is one carrier offer.
type Rate struct {
	Product      string
	DeliveryType string
	Price        decimal.Decimal
	MinDays      int
	MaxDays      int
}

// RateClient fetches carrier rates.
type RateClient interface {
	Rates(ctx context.Context, req Request) ([]Rate, error)
}

// Select returns the rate matching product and delivery type, or nil.
func Select(rates []Rate, product, deliveryType string) *Rate {
	for i := range rates {
		if rates[i].Product == product && rates[i].DeliveryType == deliveryType {
			return &rates[i]
		}
	}
	return nil
}

// QuoterConfig selects the carrier offer the business pays for.
type QuoterConfig struct {
	OriginPostalCode string
	Product          string
	DeliveryType     string
	// Package is used for dimensions, and for weight when the order weight
	// is unknown.
	Package Package
}

// Quoter prices shipments with one fixed carrier product.
type Quoter struct {
	client RateClient
	cfg    QuoterConfig
}

// NewQuoter creates a Quoter.
func NewQuoter(client RateClient, cfg QuoterConfig) *Quoter {
	return &Quoter{client: client, cfg: cfg}
}

// Quote returns the configured product's price for shipping weightGrams to
// postalCode, or nil when the carrier does not offer it.
func (q *Quoter) Quote(ctx context.Context, postalCode string, weightGrams int) (*decimal.Decimal, error) {
	pkg := q.cfg.Package
	if weightGrams > 0 {
		pkg.WeightGrams = weightGrams
	}
	rates, err := q.client.Rates(ctx, Request{
		OriginPostalCode:      q.cfg.OriginPostalCode,
		DestinationPostalCode: postalCode,
		Package:               pkg,
	})
	if err != nil {
		return nil, errors.Wrap(err, "get carrier rates")
	}
	r := Select(rates, q.cfg.Product, q.cfg.DeliveryType)
	if r == nil {
		return nil, nil
	}
	price := r.Price.Round(2)
	return &price, nil
}
