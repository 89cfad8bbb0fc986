package usecase

import (
	"github.com/shopspring/decimal"

	"shelfcheck/internal/domain"
)

// PricePolicy holds the comparison parameters for ValidatePrice.
type PricePolicy struct {
	// Tolerance is relative: 0.02 accepts prices within 2% of the catalog.
	Tolerance decimal.Decimal
	// ZeroEpsilon is the absolute tolerance when the catalog price is zero.
	ZeroEpsilon decimal.Decimal
}

func NewPricePolicy(tolerance, zeroEpsilon float64) PricePolicy {
	return PricePolicy{
		Tolerance:   decimal.NewFromFloat(tolerance),
		ZeroEpsilon: decimal.NewFromFloat(zeroEpsilon),
	}
}

// ValidatePrice compares an observed shelf price with the matched entry.
func ValidatePrice(match domain.MatchResult, observed *decimal.Decimal, policy PricePolicy) domain.Verdict {
	v := domain.Verdict{Match: match, PriceStatus: domain.PriceUnknown}
	if match.Decision != domain.Matched || match.MatchedEntry == nil {
		return v
	}

	expected := match.MatchedEntry.Price
	v.ExpectedPrice = &expected
	if observed == nil {
		return v
	}
	if observed.IsNegative() {
		v.Err = domain.InputError("validate price", "observed price %s is negative", observed.String())
		return v
	}

	delta := observed.Sub(expected)
	v.Delta = &delta

	ok := false
	if expected.IsZero() {
		ok = delta.Abs().LessThanOrEqual(policy.ZeroEpsilon)
	} else {
		ok = delta.Abs().Div(expected).LessThanOrEqual(policy.Tolerance)
	}
	if ok {
		v.PriceStatus = domain.PriceOK
	} else {
		v.PriceStatus = domain.PriceMismatch
	}
	return v
}
