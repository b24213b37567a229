package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Result is the outcome of validating a code against a subtotal. Code is
// attached whenever the code exists, even if it is not valid, so callers
// can still display it.
type Result struct {
	Valid  bool
	Amount decimal.Decimal
	Code   *Code
	// Reason is the first failed check when Valid is false.
	Reason error
}

// Validator checks discount codes and computes the discount they grant.
type Validator struct {
	repo Repository
	now  func() time.Time
}

// NewValidator creates a Validator backed by the given Repository.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo, now: time.Now}
}

// Validate looks the code up (case-insensitive, trimmed) and runs the
// eligibility checks against subtotal. The returned error is reserved for
// lookup failures; an ineligible code yields a Result with Valid false.
func (v *Validator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (Result, error) {
	c, err := v.repo.FindByCode(ctx, Normalize(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{Reason: ErrNotFound}, nil
		}
		return Result{}, errors.Wrap(err, "lookup discount code")
	}

	if err := Check(c, subtotal, v.now()); err != nil {
		return Result{Code: c, Reason: err}, nil
	}
	return Result{Valid: true, Amount: Compute(c, subtotal), Code: c}, nil
}

// IncrementUsage records one redemption of the code. Call it only after the
// order carrying the code was written, inside the same transaction.
func (v *Validator) IncrementUsage(ctx context.Context, id string) error {
	if err := v.repo.IncrementUsage(ctx, id); err != nil {
		if errors.Is(err, ErrExhausted) {
			return ErrExhausted
		}
		return errors.Wrap(err, "increment discount code usage")
	}
	return nil
}

// Check runs the eligibility checks in order and returns the first failure:
// active flag, validity window, usage cap, minimum purchase.
func Check(c *Code, subtotal decimal.Decimal, now time.Time) error {
	if !c.IsActive {
		return ErrInactive
	}
	if !c.ValidFrom.IsZero() && now.Before(c.ValidFrom) {
		return ErrNotYetValid
	}
	if c.ValidUntil != nil && Expired(*c.ValidUntil, now) {
		return ErrExpired
	}
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return ErrExhausted
	}
	if c.MinPurchase != nil && subtotal.LessThan(*c.MinPurchase) {
		return &MinPurchaseError{Min: *c.MinPurchase}
	}
	return nil
}

// Compute returns the discount the code grants on subtotal, rounded to
// cents. It never exceeds subtotal and is never negative.
func Compute(c *Code, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch c.Type {
	case Percentage:
		amount = subtotal.Mul(c.Value).Div(hundred)
	case Fixed:
		amount = decimal.Min(c.Value, subtotal)
	default:
		return decimal.Zero
	}
	amount = amount.Round(2)
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// RatePercent expresses the discount as a percentage of subtotal so that
// fixed and percentage codes are comparable.
func RatePercent(c *Code, amount, subtotal decimal.Decimal) decimal.Decimal {
	if c.Type == Percentage {
		return c.Value
	}
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	return amount.Div(subtotal).Mul(hundred).Round(2)
}
