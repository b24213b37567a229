package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/influencer-settlement/internal/domain/order"
)

const orderColumns = `id, lead_id, lead_name, lead_email, status, subtotal, discount, shipping_cost,
	real_shipping_cost, total, currency, discount_code_id, postal_code, items_snapshot, created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	createOrderItemSQL = `INSERT INTO order_items (id, order_id, position, product_id, variant_id,
		product_name, variant_name, size, quantity, unit_price, subtotal, discount, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	getOrderItemsSQL = `SELECT id, order_id, product_id, variant_id, product_name, variant_name, size,
		quantity, unit_price, subtotal, discount, total
		FROM order_items WHERE order_id = $1 ORDER BY position`

	updateOrderDiscountSQL = `UPDATE orders SET discount = $2, total = $3, discount_code_id = $4,
		updated_at = $5 WHERE id = $1`

	updateOrderItemDiscountSQL = `UPDATE order_items SET discount = $2, total = $3 WHERE id = $1`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order with its items in one batch. The snapshot is
// serialized to JSON for storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	snapshot, err := json.Marshal(o.Snapshot)
	if err != nil {
		return fmt.Errorf("marshaling order snapshot: %w", err)
	}

	var leadID *string
	var leadName, leadEmail string
	if o.Lead != nil {
		if o.Lead.ID != "" {
			leadID = &o.Lead.ID
		}
		leadName, leadEmail = o.Lead.Name, o.Lead.Email
	}

	b := &pgx.Batch{}
	b.Queue(createOrderSQL,
		o.ID, leadID, leadName, leadEmail, string(o.Status), o.Subtotal, o.Discount, o.ShippingCost,
		o.RealShippingCost, o.Total, o.Currency, o.DiscountCodeID, o.PostalCode, snapshot, o.CreatedAt, o.UpdatedAt,
	)
	for i, it := range o.Items {
		b.Queue(createOrderItemSQL,
			it.ID, o.ID, i, it.ProductID, it.VariantID, it.ProductName, it.VariantName, it.Size,
			it.Quantity, it.UnitPrice, it.Subtotal, it.Discount, it.Total,
		)
	}
	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id)
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) get(ctx context.Context, query, id string) (*order.Order, error) {
	if !isUUID(id) {
		return nil, order.ErrNotFound
	}
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("querying order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("scanning order %q: %w", id, err)
	}

	rows, err = q.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("querying items of order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.ProductName, &it.VariantName,
			&it.Size, &it.Quantity, &it.UnitPrice, &it.Subtotal, &it.Discount, &it.Total)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning items of order %q: %w", id, err)
	}
	return &o, nil
}

// UpdateDiscount writes the discount of the order and of each of its items.
// The snapshot is left as written at creation.
func (r *OrderRepository) UpdateDiscount(ctx context.Context, o *order.Order) error {
	b := &pgx.Batch{}
	b.Queue(updateOrderDiscountSQL, o.ID, o.Discount, o.Total, o.DiscountCodeID, o.UpdatedAt)
	for _, it := range o.Items {
		b.Queue(updateOrderItemDiscountSQL, it.ID, it.Discount, it.Total)
	}
	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("updating discount of order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	q := conn(ctx, r.pool)
	tag, err := q.Exec(ctx, updateOrderStatusSQL, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStatusConflict
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		leadID    *string
		leadName  string
		leadEmail string
		status    string
		snapshot  []byte
	)
	err := row.Scan(
		&o.ID, &leadID, &leadName, &leadEmail, &status, &o.Subtotal, &o.Discount, &o.ShippingCost,
		&o.RealShippingCost, &o.Total, &o.Currency, &o.DiscountCodeID, &o.PostalCode, &snapshot,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if leadID != nil || leadName != "" || leadEmail != "" {
		o.Lead = &order.Lead{Name: leadName, Email: leadEmail}
		if leadID != nil {
			o.Lead.ID = *leadID
		}
	}
	if err := json.Unmarshal(snapshot, &o.Snapshot); err != nil {
		return o, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return o, nil
}
