// Package discount owns influencer discount codes: their validation against
// a purchase amount, the discount they grant and their administration.
package discount

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// Percentage takes Value percent off the subtotal.
	Percentage Type = "percentage"
	// Fixed takes a fixed amount off, capped at the subtotal.
	Fixed Type = "fixed"
)

var (
	// ErrNotFound is returned when no code matches after normalization.
	ErrNotFound = apperr.NotFound("código de descuento no encontrado")
	// ErrInactive is returned for deactivated codes.
	ErrInactive = apperr.BusinessRule("el código de descuento no está activo")
	// ErrNotYetValid is returned before the code's ValidFrom instant.
	ErrNotYetValid = apperr.BusinessRule("el código de descuento todavía no está vigente")
	// ErrExpired is returned after the end of the code's expiry day.
	ErrExpired = apperr.BusinessRule("el código de descuento expiró")
	// ErrExhausted is returned once UsedCount reached MaxUses.
	ErrExhausted = apperr.BusinessRule("el código de descuento está agotado")
	// ErrMinPurchaseNotMet matches any *MinPurchaseError via errors.Is.
	ErrMinPurchaseNotMet = apperr.BusinessRule("no se alcanzó la compra mínima del código")

	// ErrDuplicateCode is returned when the normalized code already exists.
	ErrDuplicateCode = apperr.BusinessRule("ya existe un código de descuento con ese nombre")
	// ErrInfluencerNotFound is returned when the code's influencer does not exist.
	ErrInfluencerNotFound = apperr.NotFound("influencer no encontrado")
	// ErrCodeInUse is returned when deleting a code that was already redeemed.
	ErrCodeInUse = apperr.BusinessRule("el código ya fue utilizado: debe desactivarse en lugar de eliminarse")
)

// MinPurchaseError reports the minimum purchase a code requires.
type MinPurchaseError struct {
	Min decimal.Decimal
}

func (e *MinPurchaseError) Error() string {
	return fmt.Sprintf("compra mínima de $%s requerida para este código", e.Min.StringFixed(2))
}

// Kind implements apperr classification.
func (e *MinPurchaseError) Kind() apperr.Kind { return apperr.KindBusinessRule }

// Is makes errors.Is(err, ErrMinPurchaseNotMet) hold.
func (e *MinPurchaseError) Is(target error) bool { return target == ErrMinPurchaseNotMet }

// Code is an influencer-attributed discount code.
type Code struct {
	ID           string
	Code         string
	InfluencerID string
	Type         Type
	Value        decimal.Decimal
	MinPurchase  *decimal.Decimal
	MaxUses      *int
	UsedCount    int
	IsActive     bool
	ValidFrom    time.Time
	// ValidUntil is the last instant of the expiry day in the business
	// timezone, or nil for codes that never expire.
	ValidUntil *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Normalize returns the canonical form of a code as typed by a customer.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository persists discount codes. Codes passed to FindByCode are
// already normalized.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Code, error)
	FindByID(ctx context.Context, id string) (*Code, error)
	ListByInfluencer(ctx context.Context, influencerID string) ([]Code, error)
	Create(ctx context.Context, c *Code) error
	Update(ctx context.Context, c *Code) error
	// Delete removes the code only while its UsedCount is zero and returns
	// ErrCodeInUse otherwise.
	Delete(ctx context.Context, id string) error
	// IncrementUsage atomically bumps UsedCount unless MaxUses was reached,
	// in which case it returns ErrExhausted.
	IncrementUsage(ctx context.Context, id string) error
}
