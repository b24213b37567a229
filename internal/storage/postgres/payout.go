package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/influencer-settlement/internal/domain/payout"
)

const paymentColumns = `id, influencer_id, total_amount, currency, payment_method, account_holder, cvu,
	alias, bank_name, mercadopago_email, status, invoice_url, rejection_reason, content_links,
	requested_at, invoice_uploaded_at, invoice_rejected_at, approved_at, paid_at, cancelled_at, updated_at`

const invoiceColumns = `id, influencer_payment_id, status, url, observation, enabled,
	uploaded_by_auth_id, status_changed_by_auth_id, status_changed_at, created_at`

const (
	createPaymentSQL = `INSERT INTO influencer_payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	getPaymentSQL          = `SELECT ` + paymentColumns + ` FROM influencer_payments WHERE id = $1`
	getPaymentForUpdateSQL = getPaymentSQL + ` FOR UPDATE`

	updatePaymentSQL = `UPDATE influencer_payments SET status = $2, invoice_url = $3, rejection_reason = $4,
		content_links = $5, invoice_uploaded_at = $6, invoice_rejected_at = $7, approved_at = $8,
		paid_at = $9, cancelled_at = $10, updated_at = $11
		WHERE id = $1`

	disableInvoicesSQL = `UPDATE influencer_invoices SET enabled = FALSE
		WHERE influencer_payment_id = $1 AND enabled`

	createInvoiceSQL = `INSERT INTO influencer_invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	currentInvoiceSQL = `SELECT ` + invoiceColumns + ` FROM influencer_invoices
		WHERE influencer_payment_id = $1 AND enabled`

	updateInvoiceSQL = `UPDATE influencer_invoices SET status = $2, observation = $3, enabled = $4,
		status_changed_by_auth_id = $5, status_changed_at = $6
		WHERE id = $1`

	listInvoicesSQL = `SELECT ` + invoiceColumns + ` FROM influencer_invoices
		WHERE influencer_payment_id = $1 ORDER BY created_at DESC, id`
)

var _ payout.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payout.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) Create(ctx context.Context, p *payout.Payment) error {
	links := p.ContentLinks
	if links == nil {
		links = []string{}
	}
	_, err := conn(ctx, r.pool).Exec(ctx, createPaymentSQL,
		p.ID, p.InfluencerID, p.TotalAmount, p.Currency, string(p.Method), p.AccountHolder, p.CVU,
		p.Alias, p.BankName, p.MercadoPagoEmail, string(p.Status), p.InvoiceURL, p.RejectionReason, links,
		p.RequestedAt, p.InvoiceUploadedAt, p.InvoiceRejectedAt, p.ApprovedAt, p.PaidAt, p.CancelledAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*payout.Payment, error) {
	return r.get(ctx, getPaymentSQL, id)
}

func (r *PaymentRepository) GetForUpdate(ctx context.Context, id string) (*payout.Payment, error) {
	return r.get(ctx, getPaymentForUpdateSQL, id)
}

func (r *PaymentRepository) get(ctx context.Context, query, id string) (*payout.Payment, error) {
	if !isUUID(id) {
		return nil, payout.ErrNotFound
	}
	rows, err := conn(ctx, r.pool).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("querying payment %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payout.ErrNotFound
		}
		return nil, fmt.Errorf("scanning payment %q: %w", id, err)
	}
	return &p, nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *payout.Payment) error {
	links := p.ContentLinks
	if links == nil {
		links = []string{}
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, updatePaymentSQL,
		p.ID, string(p.Status), p.InvoiceURL, p.RejectionReason, links,
		p.InvoiceUploadedAt, p.InvoiceRejectedAt, p.ApprovedAt, p.PaidAt, p.CancelledAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating payment %q: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return payout.ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) DisableInvoices(ctx context.Context, paymentID string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, disableInvoicesSQL, paymentID); err != nil {
		return fmt.Errorf("disabling invoices of payment %q: %w", paymentID, err)
	}
	return nil
}

func (r *PaymentRepository) CreateInvoice(ctx context.Context, inv *payout.Invoice) error {
	_, err := conn(ctx, r.pool).Exec(ctx, createInvoiceSQL,
		inv.ID, inv.PaymentID, string(inv.Status), inv.URL, inv.Observation, inv.Enabled,
		inv.UploadedBy, inv.StatusChangedBy, inv.StatusChangedAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating invoice for payment %q: %w", inv.PaymentID, err)
	}
	return nil
}

func (r *PaymentRepository) CurrentInvoice(ctx context.Context, paymentID string) (*payout.Invoice, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, currentInvoiceSQL, paymentID)
	if err != nil {
		return nil, fmt.Errorf("querying invoice of payment %q: %w", paymentID, err)
	}
	inv, err := pgx.CollectExactlyOneRow(rows, scanInvoice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payout.ErrNoInvoice
		}
		return nil, fmt.Errorf("scanning invoice of payment %q: %w", paymentID, err)
	}
	return &inv, nil
}

func (r *PaymentRepository) UpdateInvoice(ctx context.Context, inv *payout.Invoice) error {
	_, err := conn(ctx, r.pool).Exec(ctx, updateInvoiceSQL,
		inv.ID, string(inv.Status), inv.Observation, inv.Enabled, inv.StatusChangedBy, inv.StatusChangedAt,
	)
	if err != nil {
		return fmt.Errorf("updating invoice %q: %w", inv.ID, err)
	}
	return nil
}

func (r *PaymentRepository) ListInvoices(ctx context.Context, paymentID string) ([]payout.Invoice, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listInvoicesSQL, paymentID)
	if err != nil {
		return nil, fmt.Errorf("listing invoices of payment %q: %w", paymentID, err)
	}
	list, err := pgx.CollectRows(rows, scanInvoice)
	if err != nil {
		return nil, fmt.Errorf("scanning invoices of payment %q: %w", paymentID, err)
	}
	return list, nil
}

func scanPayment(row pgx.CollectableRow) (payout.Payment, error) {
	var (
		p              payout.Payment
		method, status string
	)
	err := row.Scan(
		&p.ID, &p.InfluencerID, &p.TotalAmount, &p.Currency, &method, &p.AccountHolder, &p.CVU,
		&p.Alias, &p.BankName, &p.MercadoPagoEmail, &status, &p.InvoiceURL, &p.RejectionReason, &p.ContentLinks,
		&p.RequestedAt, &p.InvoiceUploadedAt, &p.InvoiceRejectedAt, &p.ApprovedAt, &p.PaidAt, &p.CancelledAt, &p.UpdatedAt,
	)
	p.Method = payout.Method(method)
	p.Status = payout.Status(status)
	return p, err
}

func scanInvoice(row pgx.CollectableRow) (payout.Invoice, error) {
	var (
		inv    payout.Invoice
		status string
	)
	err := row.Scan(
		&inv.ID, &inv.PaymentID, &status, &inv.URL, &inv.Observation, &inv.Enabled,
		&inv.UploadedBy, &inv.StatusChangedBy, &inv.StatusChangedAt, &inv.CreatedAt,
	)
	inv.Status = payout.InvoiceStatus(status)
	return inv, err
}
