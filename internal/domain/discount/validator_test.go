package discount

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func ptr[T any](v T) *T { return &v }

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		code     *Code
		subtotal decimal.Decimal
		want     decimal.Decimal
	}{
		{
			name:     "percentage 10 of 2000",
			code:     &Code{Type: Percentage, Value: d("10")},
			subtotal: d("2000"),
			want:     d("200"),
		},
		{
			name:     "percentage rounds to cents",
			code:     &Code{Type: Percentage, Value: d("15")},
			subtotal: d("29.97"),
			want:     d("4.50"),
		},
		{
			name:     "percentage 100 equals subtotal",
			code:     &Code{Type: Percentage, Value: d("100")},
			subtotal: d("123.45"),
			want:     d("123.45"),
		},
		{
			name:     "fixed below subtotal",
			code:     &Code{Type: Fixed, Value: d("500")},
			subtotal: d("1200"),
			want:     d("500"),
		},
		{
			name:     "fixed capped at subtotal",
			code:     &Code{Type: Fixed, Value: d("500")},
			subtotal: d("300"),
			want:     d("300"),
		},
		{
			name:     "zero subtotal",
			code:     &Code{Type: Fixed, Value: d("500")},
			subtotal: decimal.Zero,
			want:     decimal.Zero,
		},
		{
			name:     "unknown type grants nothing",
			code:     &Code{Type: Type("bogus"), Value: d("5")},
			subtotal: d("100"),
			want:     decimal.Zero,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.code, tt.subtotal)
			assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
			assert.False(t, got.IsNegative())
			assert.True(t, got.LessThanOrEqual(decimal.Max(tt.subtotal, decimal.Zero)))
		})
	}
}

func TestRatePercent(t *testing.T) {
	pct := &Code{Type: Percentage, Value: d("12.5")}
	assert.True(t, d("12.5").Equal(RatePercent(pct, d("25"), d("200"))))

	fixed := &Code{Type: Fixed, Value: d("500")}
	assert.True(t, d("25").Equal(RatePercent(fixed, d("500"), d("2000"))))
	assert.True(t, decimal.Zero.Equal(RatePercent(fixed, d("0"), decimal.Zero)))
}

func TestValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-time.Hour)
	future := fixedNow.Add(time.Hour)

	base := func(mod func(c *Code)) *Code {
		c := &Code{
			ID:        "c1",
			Code:      "SAVE10",
			Type:      Percentage,
			Value:     d("10"),
			IsActive:  true,
			ValidFrom: fixedNow.Add(-24 * time.Hour),
		}
		if mod != nil {
			mod(c)
		}
		return c
	}

	tests := []struct {
		name       string
		code       *Code
		input      string
		subtotal   decimal.Decimal
		wantValid  bool
		wantAmount decimal.Decimal
		wantReason error
	}{
		{
			name:       "valid code normalizes input",
			code:       base(nil),
			input:      "  save10 ",
			subtotal:   d("2000"),
			wantValid:  true,
			wantAmount: d("200"),
		},
		{
			name:       "unknown code",
			code:       base(nil),
			input:      "NOPE",
			subtotal:   d("2000"),
			wantReason: ErrNotFound,
		},
		{
			name:       "inactive",
			code:       base(func(c *Code) { c.IsActive = false }),
			input:      "SAVE10",
			subtotal:   d("2000"),
			wantReason: ErrInactive,
		},
		{
			name:       "inactive wins over exhausted",
			code:       base(func(c *Code) { c.IsActive = false; c.MaxUses = ptr(1); c.UsedCount = 1 }),
			input:      "SAVE10",
			subtotal:   d("2000"),
			wantReason: ErrInactive,
		},
		{
			name:       "not yet valid",
			code:       base(func(c *Code) { c.ValidFrom = future }),
			input:      "SAVE10",
			subtotal:   d("2000"),
			wantReason: ErrNotYetValid,
		},
		{
			name:       "expired",
			code:       base(func(c *Code) { c.ValidUntil = &past }),
			input:      "SAVE10",
			subtotal:   d("2000"),
			wantReason: ErrExpired,
		},
		{
			name:       "exhausted inside validity window",
			code:       base(func(c *Code) { c.ValidUntil = &future; c.MaxUses = ptr(2); c.UsedCount = 2 }),
			input:      "SAVE10",
			subtotal:   d("2000"),
			wantReason: ErrExhausted,
		},
		{
			name:       "minimum purchase not met",
			code:       base(func(c *Code) { c.MinPurchase = ptr(d("1000")) }),
			input:      "SAVE10",
			subtotal:   d("999.99"),
			wantReason: ErrMinPurchaseNotMet,
		},
		{
			name:       "minimum purchase met exactly",
			code:       base(func(c *Code) { c.MinPurchase = ptr(d("1000")) }),
			input:      "SAVE10",
			subtotal:   d("1000"),
			wantValid:  true,
			wantAmount: d("100"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(newMemRepo(tt.code))
			v.now = func() time.Time { return fixedNow }

			res, err := v.Validate(context.Background(), tt.input, tt.subtotal)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, res.Valid)
			if tt.wantReason != nil {
				require.ErrorIs(t, res.Reason, tt.wantReason)
				if !errors.Is(tt.wantReason, ErrNotFound) {
					require.NotNil(t, res.Code, "resolved code must be attached to invalid results")
				}
				return
			}
			require.NoError(t, res.Reason)
			assert.True(t, tt.wantAmount.Equal(res.Amount), "expected %s, got %s", tt.wantAmount, res.Amount)
		})
	}
}

func TestValidator_ExhaustedMessage(t *testing.T) {
	assert.Contains(t, ErrExhausted.Error(), "agotado")
}

func TestValidator_LookupError(t *testing.T) {
	repo := newMemRepo()
	repo.findErr = errors.New("connection reset")
	v := NewValidator(repo)

	_, err := v.Validate(context.Background(), "X", d("10"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup discount code")
}

func TestValidator_SAVE10Scenario(t *testing.T) {
	code := &Code{
		ID:          "save10",
		Code:        "SAVE10",
		Type:        Percentage,
		Value:       d("10"),
		MinPurchase: ptr(d("1000")),
		MaxUses:     ptr(2),
		IsActive:    true,
	}
	repo := newMemRepo(code)
	v := NewValidator(repo)
	ctx := context.Background()

	for range 2 {
		res, err := v.Validate(ctx, "SAVE10", d("2000"))
		require.NoError(t, err)
		require.True(t, res.Valid)
		assert.True(t, d("200").Equal(res.Amount))
		require.NoError(t, v.IncrementUsage(ctx, code.ID))
	}

	res, err := v.Validate(ctx, "SAVE10", d("2000"))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Reason, ErrExhausted)
	assert.ErrorIs(t, v.IncrementUsage(ctx, code.ID), ErrExhausted)
}

func TestValidator_ConcurrentLastUse(t *testing.T) {
	code := &Code{ID: "last", Code: "LAST", Type: Fixed, Value: d("5"), MaxUses: ptr(1), IsActive: true}
	v := NewValidator(newMemRepo(code))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, spent int
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := v.IncrementUsage(context.Background(), code.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrExhausted):
				spent++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, spent)
}
