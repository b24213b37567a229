package commission

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
	"github.com/xenking/influencer-settlement/internal/domain/discount"
	"github.com/xenking/influencer-settlement/internal/domain/order"
)

// OrderReader reads orders.
type OrderReader interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

// CodeReader reads discount codes by id.
type CodeReader interface {
	FindByID(ctx context.Context, id string) (*discount.Code, error)
}

// Service creates and lists commissions.
type Service struct {
	repo   Repository
	orders OrderReader
	codes  CodeReader
	now    func() time.Time
}

// NewService creates a commission Service.
func NewService(repo Repository, orders OrderReader, codes CodeReader) *Service {
	return &Service{repo: repo, orders: orders, codes: codes, now: time.Now}
}

// Create derives the commission for a paid order from its discount code.
// The commission amount equals the order discount. Calling Create again for
// the same order returns the commission created the first time.
func (s *Service) Create(ctx context.Context, orderID string) (*Commission, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.DiscountCodeID == nil {
		return nil, ErrNoDiscountCode
	}
	code, err := s.codes.FindByID(ctx, *o.DiscountCodeID)
	if err != nil {
		return nil, errors.Wrap(err, "get discount code")
	}

	c := &Commission{
		ID:             uuid.NewString(),
		InfluencerID:   code.InfluencerID,
		OrderID:        o.ID,
		DiscountCodeID: code.ID,
		OrderTotal:     o.Total,
		DiscountAmount: o.Discount,
		Rate:           discount.RatePercent(code, o.Discount, o.Subtotal),
		Amount:         o.Discount,
		Status:         StatusPending,
		CreatedAt:      s.now(),
	}
	created, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, errors.Wrap(err, "create commission")
	}
	if !created {
		zctx.From(ctx).Warn("Commission already exists for order",
			zap.String("order_id", o.ID),
			zap.String("discount_code_id", code.ID),
		)
		existing, err := s.repo.GetByOrderAndCode(ctx, o.ID, code.ID)
		if err != nil {
			return nil, errors.Wrap(err, "get existing commission")
		}
		return existing, nil
	}
	return c, nil
}

// CreateFromOrder is Create for callers that only need the outcome.
func (s *Service) CreateFromOrder(ctx context.Context, orderID string) error {
	_, err := s.Create(ctx, orderID)
	return err
}

// ListByInfluencer returns the influencer's commissions, optionally only
// those in status.
func (s *Service) ListByInfluencer(ctx context.Context, influencerID string, status *Status) ([]Commission, error) {
	if status != nil && !status.Valid() {
		return nil, apperr.Validation("estado de comisión desconocido: %q", string(*status))
	}
	out, err := s.repo.ListByInfluencer(ctx, influencerID, status)
	if err != nil {
		return nil, errors.Wrap(err, "list commissions")
	}
	return out, nil
}
