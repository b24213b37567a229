package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/influencer-settlement/internal/domain/discount"
)

const discountColumns = `id, code, influencer_id, discount_type, discount_value, min_purchase,
	max_uses, used_count, is_active, valid_from, valid_until, created_at, updated_at`

const (
	findDiscountByCodeSQL = `SELECT ` + discountColumns + ` FROM discount_codes WHERE code = $1`
	findDiscountByIDSQL   = `SELECT ` + discountColumns + ` FROM discount_codes WHERE id = $1`
	listDiscountsSQL      = `SELECT ` + discountColumns + ` FROM discount_codes
		WHERE influencer_id = $1 ORDER BY created_at DESC, code`

	createDiscountSQL = `INSERT INTO discount_codes (` + discountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	updateDiscountSQL = `UPDATE discount_codes SET
		code = $2, discount_type = $3, discount_value = $4, min_purchase = $5, max_uses = $6,
		is_active = $7, valid_from = $8, valid_until = $9, updated_at = $10
		WHERE id = $1`

	deleteDiscountSQL = `DELETE FROM discount_codes WHERE id = $1 AND used_count = 0`

	incrementUsageSQL = `UPDATE discount_codes SET used_count = used_count + 1, updated_at = now()
		WHERE id = $1 AND (max_uses IS NULL OR used_count < max_uses)`

	existsDiscountSQL = `SELECT EXISTS (SELECT 1 FROM discount_codes WHERE id = $1)`

	listAllCodesSQL = `SELECT code FROM discount_codes`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Code, error) {
	return r.findOne(ctx, findDiscountByCodeSQL, code)
}

func (r *DiscountRepository) FindByID(ctx context.Context, id string) (*discount.Code, error) {
	if !isUUID(id) {
		return nil, discount.ErrNotFound
	}
	return r.findOne(ctx, findDiscountByIDSQL, id)
}

func (r *DiscountRepository) findOne(ctx context.Context, query, arg string) (*discount.Code, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying discount code %q: %w", arg, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("scanning discount code %q: %w", arg, err)
	}
	return &c, nil
}

func (r *DiscountRepository) ListByInfluencer(ctx context.Context, influencerID string) ([]discount.Code, error) {
	if !isUUID(influencerID) {
		return nil, nil
	}
	rows, err := conn(ctx, r.pool).Query(ctx, listDiscountsSQL, influencerID)
	if err != nil {
		return nil, fmt.Errorf("listing discount codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, scanCode)
	if err != nil {
		return nil, fmt.Errorf("scanning discount codes: %w", err)
	}
	return codes, nil
}

func (r *DiscountRepository) Create(ctx context.Context, c *discount.Code) error {
	_, err := conn(ctx, r.pool).Exec(ctx, createDiscountSQL,
		c.ID, c.Code, c.InfluencerID, string(c.Type), c.Value, c.MinPurchase,
		c.MaxUses, c.UsedCount, c.IsActive, c.ValidFrom, c.ValidUntil, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return discount.ErrDuplicateCode
		}
		if isForeignKeyViolation(err) {
			return discount.ErrInfluencerNotFound
		}
		return fmt.Errorf("creating discount code %q: %w", c.Code, err)
	}
	return nil
}

func (r *DiscountRepository) Update(ctx context.Context, c *discount.Code) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateDiscountSQL,
		c.ID, c.Code, string(c.Type), c.Value, c.MinPurchase, c.MaxUses,
		c.IsActive, c.ValidFrom, c.ValidUntil, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return discount.ErrDuplicateCode
		}
		return fmt.Errorf("updating discount code %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

func (r *DiscountRepository) Delete(ctx context.Context, id string) error {
	q := conn(ctx, r.pool)
	tag, err := q.Exec(ctx, deleteDiscountSQL, id)
	if err != nil {
		return fmt.Errorf("deleting discount code %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missOrErr(ctx, q, id, discount.ErrCodeInUse)
}

func (r *DiscountRepository) IncrementUsage(ctx context.Context, id string) error {
	q := conn(ctx, r.pool)
	tag, err := q.Exec(ctx, incrementUsageSQL, id)
	if err != nil {
		return fmt.Errorf("incrementing usage of %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missOrErr(ctx, q, id, discount.ErrExhausted)
}

// missOrErr tells a missing code apart from a failed condition after a
// conditional statement touched no rows.
func (r *DiscountRepository) missOrErr(ctx context.Context, q querier, id string, condErr error) error {
	var exists bool
	if err := q.QueryRow(ctx, existsDiscountSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking discount code %q: %w", id, err)
	}
	if !exists {
		return discount.ErrNotFound
	}
	return condErr
}

// ExistingCodes streams every stored code to fn.
func (r *DiscountRepository) ExistingCodes(ctx context.Context, fn func(code string)) error {
	rows, err := r.pool.Query(ctx, listAllCodesSQL)
	if err != nil {
		return fmt.Errorf("listing codes: %w", err)
	}
	defer rows.Close()

	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning codes: %w", err)
	}
	return nil
}

// BulkCreate inserts codes with COPY. Codes must be normalized and unique.
func (r *DiscountRepository) BulkCreate(ctx context.Context, codes []discount.Code) (int64, error) {
	n, err := conn(ctx, r.pool).CopyFrom(ctx,
		pgx.Identifier{"discount_codes"},
		[]string{
			"id", "code", "influencer_id", "discount_type", "discount_value", "min_purchase",
			"max_uses", "used_count", "is_active", "valid_from", "valid_until", "created_at", "updated_at",
		},
		pgx.CopyFromSlice(len(codes), func(i int) ([]any, error) {
			c := codes[i]
			return []any{
				c.ID, c.Code, c.InfluencerID, string(c.Type), c.Value, c.MinPurchase,
				c.MaxUses, c.UsedCount, c.IsActive, c.ValidFrom, c.ValidUntil, c.CreatedAt, c.UpdatedAt,
			}, nil
		}),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, discount.ErrDuplicateCode
		}
		if isForeignKeyViolation(err) {
			return 0, discount.ErrInfluencerNotFound
		}
		return 0, fmt.Errorf("copying discount codes: %w", err)
	}
	return n, nil
}

func scanCode(row pgx.CollectableRow) (discount.Code, error) {
	var (
		c   discount.Code
		typ string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.InfluencerID, &typ, &c.Value, &c.MinPurchase,
		&c.MaxUses, &c.UsedCount, &c.IsActive, &c.ValidFrom, &c.ValidUntil, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Type = discount.Type(typ)
	return c, err
}
