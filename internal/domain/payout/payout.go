// Package payout groups pending commissions into influencer payment
// requests and drives their invoice, approval and payment workflow.
package payout

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
	"github.com/xenking/influencer-settlement/internal/domain/commission"
)

// Status is the lifecycle state of a payment request.
type Status string

const (
	StatusPending         Status = "pending"
	StatusInvoiceUploaded Status = "invoice_uploaded"
	StatusInvoiceRejected Status = "invoice_rejected"
	StatusApproved        Status = "approved"
	StatusPaid            Status = "paid"
	StatusCancelled       Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:         {StatusInvoiceUploaded, StatusCancelled},
	StatusInvoiceUploaded: {StatusApproved, StatusInvoiceRejected, StatusCancelled},
	StatusInvoiceRejected: {StatusInvoiceUploaded, StatusCancelled},
	StatusApproved:        {StatusPaid, StatusCancelled},
	StatusPaid:            nil,
	StatusCancelled:       nil,
}

// CanTransition reports whether a payment may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return len(transitions[s]) == 0 }

func transitionError(from, to Status) error {
	next := transitions[from]
	allowed := make([]string, len(next))
	for i, s := range next {
		allowed[i] = string(s)
	}
	return &apperr.TransitionError{Entity: "pago", From: string(from), To: string(to), Allowed: allowed}
}

// Method is how the influencer gets paid.
type Method string

const (
	MethodBankTransfer Method = "bank_transfer"
	MethodMercadoPago  Method = "mercadopago"
)

var (
	// ErrNotFound is returned for an unknown payment.
	ErrNotFound = apperr.NotFound("pago no encontrado")
	// ErrNoInvoice is returned when a payment has no current invoice.
	ErrNoInvoice = apperr.NotFound("el pago no tiene factura vigente")
	// ErrProfileNotFound is returned for an influencer without profile.
	ErrProfileNotFound = apperr.NotFound("perfil de influencer no encontrado")
	// ErrNoPaymentMethod is returned when the influencer profile lacks
	// payment details.
	ErrNoPaymentMethod = apperr.BusinessRule("el influencer no tiene un medio de pago configurado")
	// ErrCommissionUnavailable is returned when a selected commission is not
	// pending or already belongs to another payment.
	ErrCommissionUnavailable = apperr.BusinessRule("alguna de las comisiones seleccionadas ya no está pendiente o pertenece a otro pago")
	// ErrCommissionOwner is returned when a selected commission belongs to a
	// different influencer.
	ErrCommissionOwner = apperr.BusinessRule("las comisiones seleccionadas deben pertenecer al influencer")
	// ErrForbidden is returned for actions the actor may not perform.
	ErrForbidden = apperr.Forbidden("no tiene permiso para realizar esta acción sobre el pago")
)

// Role is the kind of actor performing an action.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleInfluencer Role = "influencer"
)

// Actor is the authenticated caller. InfluencerID is set for influencers.
type Actor struct {
	ID           string
	Role         Role
	InfluencerID string
}

// Profile is the payout-relevant part of an influencer profile.
type Profile struct {
	InfluencerID     string
	Name             string
	Email            string
	Method           Method
	AccountHolder    string
	CVU              string
	Alias            string
	BankName         string
	MercadoPagoEmail string
}

// Payment is an influencer payout request.
type Payment struct {
	ID           string
	InfluencerID string
	TotalAmount  decimal.Decimal
	Currency     string

	// Payment details copied from the profile when the request was made.
	Method           Method
	AccountHolder    string
	CVU              string
	Alias            string
	BankName         string
	MercadoPagoEmail string

	Status Status
	// InvoiceURL is the stored key of the current invoice.
	InvoiceURL      *string
	RejectionReason *string
	ContentLinks    []string

	RequestedAt       time.Time
	InvoiceUploadedAt *time.Time
	InvoiceRejectedAt *time.Time
	ApprovedAt        *time.Time
	PaidAt            *time.Time
	CancelledAt       *time.Time
	UpdatedAt         time.Time
}

// InvoiceStatus is the review state of one invoice revision.
type InvoiceStatus string

const (
	InvoiceUploaded InvoiceStatus = "uploaded"
	InvoiceApproved InvoiceStatus = "approved"
	InvoiceRejected InvoiceStatus = "rejected"
)

// Invoice is one revision in a payment's invoice ledger. Only the latest
// revision is enabled.
type Invoice struct {
	ID              string
	PaymentID       string
	Status          InvoiceStatus
	URL             string
	Observation     *string
	Enabled         bool
	UploadedBy      string
	StatusChangedBy *string
	StatusChangedAt *time.Time
	CreatedAt       time.Time
}

// View is a payment as shown to callers, with the current invoice key
// resolved to a retrievable URL.
type View struct {
	Payment
	Commissions []commission.Commission
	InvoiceLink string
}

// Repository persists payments and their invoice ledger.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	// GetForUpdate loads the payment and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error

	// DisableInvoices clears the enabled flag of every invoice revision.
	DisableInvoices(ctx context.Context, paymentID string) error
	CreateInvoice(ctx context.Context, inv *Invoice) error
	// CurrentInvoice returns the enabled revision or ErrNoInvoice.
	CurrentInvoice(ctx context.Context, paymentID string) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	// ListInvoices returns every revision, newest first.
	ListInvoices(ctx context.Context, paymentID string) ([]Invoice, error)
}

// CommissionStore is the commission side of a payment.
type CommissionStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]commission.Commission, error)
	ListByPayment(ctx context.Context, paymentID string) ([]commission.Commission, error)
	// Link attaches the commissions that are still pending and unlinked and
	// returns how many were attached.
	Link(ctx context.Context, paymentID string, ids []string) (int64, error)
	// MarkPaid marks the payment's pending commissions paid at paidAt.
	MarkPaid(ctx context.Context, paymentID string, paidAt time.Time) (int64, error)
	// Unlink detaches the payment's pending commissions.
	Unlink(ctx context.Context, paymentID string) (int64, error)
}

// ProfileStore reads influencer profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, influencerID string) (*Profile, error)
}

// URLResolver turns a stored object key into a retrievable URL.
type URLResolver interface {
	Resolve(ctx context.Context, key string) (string, error)
}

// Notifier sends influencer notifications without blocking the caller.
type Notifier interface {
	PaymentRequest(ctx context.Context, to, name string, amount decimal.Decimal)
	InvoiceApproved(ctx context.Context, to, name string, amount decimal.Decimal)
	InvoiceRejected(ctx context.Context, to, name, reason string)
	PaymentCompleted(ctx context.Context, to, name string, amount decimal.Decimal)
}
