package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
)

// CreateInput holds the fields of a new discount code. ValidUntil is a
// calendar day (YYYY-MM-DD) in the business timezone.
type CreateInput struct {
	Code         string `validate:"required,min=3,max=40"`
	InfluencerID string `validate:"required,uuid"`
	Type         Type   `validate:"required,oneof=percentage fixed"`
	Value        decimal.Decimal
	MinPurchase  *decimal.Decimal
	MaxUses      *int       `validate:"omitempty,gt=0"`
	ValidFrom    *time.Time `validate:"-"`
	ValidUntil   string     `validate:"omitempty,datetime=2006-01-02"`
}

// UpdateInput holds the fields an admin may change on an existing code.
// Nil fields are left untouched.
type UpdateInput struct {
	Type        *Type `validate:"omitempty,oneof=percentage fixed"`
	Value       *decimal.Decimal
	MinPurchase *decimal.Decimal
	MaxUses     *int    `validate:"omitempty,gt=0"`
	IsActive    *bool   `validate:"-"`
	ValidUntil  *string `validate:"omitempty,datetime=2006-01-02"`
}

// Service administers discount codes.
type Service struct {
	repo     Repository
	validate *validator.Validate
	loc      *time.Location
	now      func() time.Time
}

// NewService creates a Service. loc is the business timezone in which
// expiry days are interpreted.
func NewService(repo Repository, loc *time.Location) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		loc:      loc,
		now:      time.Now,
	}
}

// Create validates and stores a new code.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Code, error) {
	c, err := s.Build(in)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByCode(ctx, c.Code); err == nil {
		return nil, ErrDuplicateCode
	} else if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "check code uniqueness")
	}
	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCode) || errors.Is(err, ErrInfluencerNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create discount code")
	}
	return c, nil
}

// Build validates in and returns the code it describes without storing it.
func (s *Service) Build(in CreateInput) (*Code, error) {
	in.Code = Normalize(in.Code)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if strings.ContainsAny(in.Code, " \t") {
		return nil, apperr.Validation("el código no puede contener espacios")
	}
	if err := checkBounds(in.Type, in.Value, in.MinPurchase, in.MaxUses); err != nil {
		return nil, err
	}

	now := s.now()
	c := &Code{
		ID:           uuid.NewString(),
		Code:         in.Code,
		InfluencerID: in.InfluencerID,
		Type:         in.Type,
		Value:        in.Value,
		MinPurchase:  in.MinPurchase,
		MaxUses:      in.MaxUses,
		IsActive:     true,
		ValidFrom:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.ValidFrom != nil {
		c.ValidFrom = *in.ValidFrom
	}
	if in.ValidUntil != "" {
		until, err := s.futureExpiry(in.ValidUntil, now)
		if err != nil {
			return nil, err
		}
		c.ValidUntil = &until
	}
	return c, nil
}

// Update applies the non-nil fields of in to the code.
func (s *Service) Update(ctx context.Context, code string, in UpdateInput) (*Code, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	c, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	if in.Type != nil {
		c.Type = *in.Type
	}
	if in.Value != nil {
		c.Value = *in.Value
	}
	if in.MinPurchase != nil {
		c.MinPurchase = in.MinPurchase
	}
	if in.MaxUses != nil {
		if *in.MaxUses < c.UsedCount {
			return nil, apperr.Validation("el máximo de usos (%d) no puede ser menor a los usos registrados (%d)", *in.MaxUses, c.UsedCount)
		}
		c.MaxUses = in.MaxUses
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	if in.ValidUntil != nil {
		until, err := ParseExpiry(*in.ValidUntil, s.loc)
		if err != nil {
			return nil, apperr.Validation("fecha de vencimiento inválida: %s", *in.ValidUntil)
		}
		c.ValidUntil = &until
	}
	if err := checkBounds(c.Type, c.Value, c.MinPurchase, c.MaxUses); err != nil {
		return nil, err
	}

	c.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, errors.Wrap(err, "update discount code")
	}
	return c, nil
}

// Deactivate turns the code off. Redeemed codes can only be retired this way.
func (s *Service) Deactivate(ctx context.Context, code string) (*Code, error) {
	inactive := false
	return s.Update(ctx, code, UpdateInput{IsActive: &inactive})
}

// Delete removes a code that was never redeemed.
func (s *Service) Delete(ctx context.Context, code string) error {
	c, err := s.Get(ctx, code)
	if err != nil {
		return err
	}
	if c.UsedCount > 0 {
		return ErrCodeInUse
	}
	if err := s.repo.Delete(ctx, c.ID); err != nil {
		if errors.Is(err, ErrCodeInUse) {
			return ErrCodeInUse
		}
		return errors.Wrap(err, "delete discount code")
	}
	return nil
}

// Get returns the code by its (normalized) name.
func (s *Service) Get(ctx context.Context, code string) (*Code, error) {
	c, err := s.repo.FindByCode(ctx, Normalize(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get discount code")
	}
	return c, nil
}

// ListByInfluencer returns every code owned by the influencer.
func (s *Service) ListByInfluencer(ctx context.Context, influencerID string) ([]Code, error) {
	codes, err := s.repo.ListByInfluencer(ctx, influencerID)
	if err != nil {
		return nil, errors.Wrap(err, "list discount codes")
	}
	return codes, nil
}

// futureExpiry parses day and rejects days that already ended.
func (s *Service) futureExpiry(day string, now time.Time) (time.Time, error) {
	until, err := ParseExpiry(day, s.loc)
	if err != nil {
		return time.Time{}, apperr.Validation("fecha de vencimiento inválida: %s", day)
	}
	if Expired(until, now) {
		return time.Time{}, apperr.Validation("la fecha de vencimiento %s ya pasó", day)
	}
	return until, nil
}

func checkBounds(t Type, value decimal.Decimal, minPurchase *decimal.Decimal, maxUses *int) error {
	if !value.IsPositive() {
		return apperr.Validation("el valor del descuento debe ser mayor a cero")
	}
	if t == Percentage && value.GreaterThan(hundred) {
		return apperr.Validation("un descuento porcentual no puede superar el 100%%")
	}
	if minPurchase != nil && !minPurchase.IsPositive() {
		return apperr.Validation("la compra mínima debe ser mayor a cero")
	}
	if maxUses != nil && *maxUses <= 0 {
		return apperr.Validation("el máximo de usos debe ser mayor a cero")
	}
	return nil
}

// validationError converts validator output into a user-facing error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("datos inválidos")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
	}
	return apperr.Validation("datos inválidos: %s", strings.Join(fields, ", "))
}
