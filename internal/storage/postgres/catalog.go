package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/influencer-settlement/internal/domain/catalog"
)

const (
	getProductsSQL = `SELECT id, name, base_price, launch_price, is_active, weight_grams
		FROM products WHERE id = ANY($1)`

	getVariantsSQL = `SELECT id, product_id, name, size, price, stock, is_active
		FROM product_variants WHERE id = ANY($1)`

	decrementStockSQL = `UPDATE product_variants SET stock = stock - $2
		WHERE id = $1 AND stock IS NOT NULL AND stock >= $2`

	upsertProductSQL = `INSERT INTO products (id, name, base_price, launch_price, is_active, weight_grams)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, base_price = EXCLUDED.base_price,
			launch_price = EXCLUDED.launch_price, is_active = EXCLUDED.is_active,
			weight_grams = EXCLUDED.weight_grams`

	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, name, size, price, stock, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, size = EXCLUDED.size,
			price = EXCLUDED.price, stock = EXCLUDED.stock, is_active = EXCLUDED.is_active`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetProducts returns the products with the given ids. Unknown ids are
// skipped.
func (r *CatalogRepository) GetProducts(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Product, error) {
		var p catalog.Product
		err := row.Scan(&p.ID, &p.Name, &p.BasePrice, &p.LaunchPrice, &p.IsActive, &p.WeightGrams)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning products: %w", err)
	}
	return products, nil
}

// GetVariants returns the variants with the given ids. Unknown ids are
// skipped.
func (r *CatalogRepository) GetVariants(ctx context.Context, ids []string) ([]catalog.Variant, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getVariantsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("querying variants: %w", err)
	}
	variants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Variant, error) {
		var v catalog.Variant
		err := row.Scan(&v.ID, &v.ProductID, &v.Name, &v.Size, &v.Price, &v.Stock, &v.IsActive)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning variants: %w", err)
	}
	return variants, nil
}

func (r *CatalogRepository) DecrementStock(ctx context.Context, variantID string, qty int) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, decrementStockSQL, variantID, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock of %q: %w", variantID, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrInsufficientStock
	}
	return nil
}

// SaveProduct inserts or replaces a product together with its variants.
func (r *CatalogRepository) SaveProduct(ctx context.Context, p catalog.Product, variants []catalog.Variant) error {
	b := &pgx.Batch{}
	b.Queue(upsertProductSQL, p.ID, p.Name, p.BasePrice, p.LaunchPrice, p.IsActive, p.WeightGrams)
	for _, v := range variants {
		b.Queue(upsertVariantSQL, v.ID, p.ID, v.Name, v.Size, v.Price, v.Stock, v.IsActive)
	}
	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("saving product %q: %w", p.ID, err)
	}
	return nil
}
