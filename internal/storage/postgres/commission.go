package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/influencer-settlement/internal/domain/commission"
	"github.com/xenking/influencer-settlement/internal/domain/payout"
)

const commissionColumns = `id, influencer_id, order_id, discount_code_id, order_total, discount_amount,
	commission_rate, commission_amount, status, influencer_payment_id, paid_at, created_at`

const (
	createCommissionSQL = `INSERT INTO commissions (` + commissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_id, discount_code_id) DO NOTHING`

	getCommissionByOrderSQL = `SELECT ` + commissionColumns + ` FROM commissions
		WHERE order_id = $1 AND discount_code_id = $2`

	listCommissionsSQL = `SELECT ` + commissionColumns + ` FROM commissions
		WHERE influencer_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id`

	getCommissionsByIDsSQL = `SELECT ` + commissionColumns + ` FROM commissions WHERE id = ANY($1)`

	listCommissionsByPaymentSQL = `SELECT ` + commissionColumns + ` FROM commissions
		WHERE influencer_payment_id = $1 ORDER BY created_at, id`

	linkCommissionsSQL = `UPDATE commissions SET influencer_payment_id = $1
		WHERE id = ANY($2) AND status = 'pending' AND influencer_payment_id IS NULL`

	markCommissionsPaidSQL = `UPDATE commissions SET status = 'paid', paid_at = $2
		WHERE influencer_payment_id = $1 AND status = 'pending'`

	unlinkCommissionsSQL = `UPDATE commissions SET influencer_payment_id = NULL
		WHERE influencer_payment_id = $1 AND status = 'pending'`
)

var (
	_ commission.Repository   = (*CommissionRepository)(nil)
	_ payout.CommissionStore = (*CommissionRepository)(nil)
)

// CommissionRepository implements commission.Repository and the commission
// side of payouts backed by PostgreSQL.
type CommissionRepository struct {
	pool *pgxpool.Pool
}

// NewCommissionRepository returns a CommissionRepository that uses the given pool.
func NewCommissionRepository(pool *pgxpool.Pool) *CommissionRepository {
	return &CommissionRepository{pool: pool}
}

func (r *CommissionRepository) Create(ctx context.Context, c *commission.Commission) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, createCommissionSQL,
		c.ID, c.InfluencerID, c.OrderID, c.DiscountCodeID, c.OrderTotal, c.DiscountAmount,
		c.Rate, c.Amount, string(c.Status), c.PaymentID, c.PaidAt, c.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("creating commission for order %q: %w", c.OrderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *CommissionRepository) GetByOrderAndCode(ctx context.Context, orderID, codeID string) (*commission.Commission, error) {
	if !isUUID(orderID) || !isUUID(codeID) {
		return nil, commission.ErrNotFound
	}
	rows, err := conn(ctx, r.pool).Query(ctx, getCommissionByOrderSQL, orderID, codeID)
	if err != nil {
		return nil, fmt.Errorf("querying commission for order %q: %w", orderID, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCommission)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, commission.ErrNotFound
		}
		return nil, fmt.Errorf("scanning commission for order %q: %w", orderID, err)
	}
	return &c, nil
}

func (r *CommissionRepository) ListByInfluencer(ctx context.Context, influencerID string, status *commission.Status) ([]commission.Commission, error) {
	if !isUUID(influencerID) {
		return nil, nil
	}
	var filter *string
	if status != nil {
		s := string(*status)
		filter = &s
	}
	return r.list(ctx, listCommissionsSQL, influencerID, filter)
}

func (r *CommissionRepository) GetByIDs(ctx context.Context, ids []string) ([]commission.Commission, error) {
	ids = uuids(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx, getCommissionsByIDsSQL, ids)
}

func (r *CommissionRepository) ListByPayment(ctx context.Context, paymentID string) ([]commission.Commission, error) {
	if !isUUID(paymentID) {
		return nil, nil
	}
	return r.list(ctx, listCommissionsByPaymentSQL, paymentID)
}

func (r *CommissionRepository) list(ctx context.Context, query string, args ...any) ([]commission.Commission, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commissions: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanCommission)
	if err != nil {
		return nil, fmt.Errorf("scanning commissions: %w", err)
	}
	return list, nil
}

func (r *CommissionRepository) Link(ctx context.Context, paymentID string, ids []string) (int64, error) {
	return r.exec(ctx, linkCommissionsSQL, paymentID, ids)
}

func (r *CommissionRepository) MarkPaid(ctx context.Context, paymentID string, paidAt time.Time) (int64, error) {
	return r.exec(ctx, markCommissionsPaidSQL, paymentID, paidAt)
}

func (r *CommissionRepository) Unlink(ctx context.Context, paymentID string) (int64, error) {
	return r.exec(ctx, unlinkCommissionsSQL, paymentID)
}

func (r *CommissionRepository) exec(ctx context.Context, query, paymentID string, args ...any) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, query, append([]any{paymentID}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("updating commissions of payment %q: %w", paymentID, err)
	}
	return tag.RowsAffected(), nil
}

func scanCommission(row pgx.CollectableRow) (commission.Commission, error) {
	var (
		c      commission.Commission
		status string
	)
	err := row.Scan(
		&c.ID, &c.InfluencerID, &c.OrderID, &c.DiscountCodeID, &c.OrderTotal, &c.DiscountAmount,
		&c.Rate, &c.Amount, &status, &c.PaymentID, &c.PaidAt, &c.CreatedAt,
	)
	c.Status = commission.Status(status)
	return c, err
}
