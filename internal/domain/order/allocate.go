package order

import (
	"sort"

	"github.com/shopspring/decimal"
)

var (
	cent = decimal.New(1, -2)
	one  = decimal.NewFromInt(1)
)

// Allocate splits target across lines proportionally to their subtotals.
// The result is aligned with subtotals, rounded to cents, sums exactly to
// target (capped at the sum of subtotals) and never gives a line more than
// its own subtotal. Leftover cents go to the lines with the largest
// remainders, earlier lines first on ties.
func Allocate(target decimal.Decimal, subtotals []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(subtotals))
	for i := range out {
		out[i] = decimal.Zero
	}

	cents := make([]decimal.Decimal, len(subtotals))
	sum := decimal.Zero
	for i, s := range subtotals {
		c := toCents(s)
		if c.IsNegative() {
			c = decimal.Zero
		}
		cents[i] = c
		sum = sum.Add(c)
	}
	goal := toCents(target)
	if !sum.IsPositive() || !goal.IsPositive() {
		return out
	}
	if goal.GreaterThan(sum) {
		goal = sum
	}

	type share struct {
		idx int
		rem decimal.Decimal
	}
	shares := make([]share, 0, len(cents))
	given := decimal.Zero
	alloc := make([]decimal.Decimal, len(cents))
	for i, c := range cents {
		q, r := goal.Mul(c).QuoRem(sum, 0)
		alloc[i] = q
		given = given.Add(q)
		if r.IsPositive() {
			shares = append(shares, share{idx: i, rem: r})
		}
	}
	sort.SliceStable(shares, func(a, b int) bool {
		return shares[a].rem.GreaterThan(shares[b].rem)
	})

	left := goal.Sub(given)
	for _, sh := range shares {
		if !left.IsPositive() {
			break
		}
		alloc[sh.idx] = alloc[sh.idx].Add(one)
		left = left.Sub(one)
	}

	for i, a := range alloc {
		out[i] = a.Mul(cent)
	}
	return out
}

func toCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2).Shift(2)
}
