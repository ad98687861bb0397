package screen

import (
	"github.com/aristath/screener/internal/snapshot"
)

// Matches reports whether a snapshot satisfies every configured bound
// of the criteria. Each bound is an independent predicate; the first
// failing bound short-circuits. A nil snapshot never matches. The zero
// Criteria value matches everything.
func Matches(snap *snapshot.Snapshot, c Criteria) bool {
	if snap == nil {
		return false
	}

	// Size and price first, they are the cheapest checks.
	if !minInt64(snap.MarketCap, c.MarketCapMin) {
		return false
	}
	if !maxInt64(snap.MarketCap, c.MarketCapMax) {
		return false
	}
	if !minFloat(snap.Price, c.PriceMin) {
		return false
	}
	if !maxFloat(snap.Price, c.PriceMax) {
		return false
	}

	// Valuation ratios are only meaningful when positive.
	if !positiveMax(snap.Valuation.PE, c.PEMax) {
		return false
	}
	if !positiveMax(snap.Valuation.ForwardPE, c.ForwardPEMax) {
		return false
	}
	if !positiveMax(snap.Valuation.PEG, c.PEGMax) {
		return false
	}
	if !positiveMax(snap.Valuation.PB, c.PBMax) {
		return false
	}
	if !positiveMax(snap.Valuation.PS, c.PSMax) {
		return false
	}
	if !pePBProduct(snap, c.PEPBProductMax) {
		return false
	}

	// Profitability and growth floors.
	if !minFloat(snap.Profitability.ROE, c.ROEMin) {
		return false
	}
	if !minFloat(snap.Profitability.ROA, c.ROAMin) {
		return false
	}
	if !minFloat(snap.Profitability.ProfitMargin, c.ProfitMarginMin) {
		return false
	}
	if !minFloat(snap.Profitability.OperatingMargin, c.OperatingMarginMin) {
		return false
	}
	if !minFloat(snap.Growth.Revenue, c.RevenueGrowthMin) {
		return false
	}
	if !minFloat(snap.Growth.Earnings, c.EarningsGrowthMin) {
		return false
	}
	if !minFloat(snap.Dividend.Yield, c.DividendYieldMin) {
		return false
	}
	if !minFloat(snap.Leverage.CurrentRatio, c.CurrentRatioMin) {
		return false
	}

	// Weak-side ceilings: missing data passes.
	if !weakMax(snap.Profitability.ROE, c.ROEMax) {
		return false
	}
	if !weakMax(snap.Profitability.ProfitMargin, c.ProfitMarginMax) {
		return false
	}
	if !weakMax(snap.Leverage.DebtToEquity, c.DebtToEquityMax) {
		return false
	}

	// Strict ceilings.
	if !maxFloat(snap.Dividend.PayoutRatio, c.PayoutRatioMax) {
		return false
	}
	if !maxFloat(snap.Technicals.Volatility, c.VolatilityMax) {
		return false
	}

	// Technicals.
	if !minFloat(snap.Technicals.RSI14, c.RSIMin) {
		return false
	}
	if !maxFloat(snap.Technicals.RSI14, c.RSIMax) {
		return false
	}
	if c.DownFromHighPct != nil {
		pct := snap.Technicals.PctFrom52WHigh
		if pct == nil || *pct > *c.DownFromHighPct {
			return false
		}
	}
	if c.Below200MA != nil && *c.Below200MA {
		pct := snap.Technicals.PctFrom200MA
		if pct == nil || *pct >= 0 {
			return false
		}
	}
	if c.BelowGrahamNumber != nil && *c.BelowGrahamNumber {
		price := snap.Price
		graham := snap.Valuation.GrahamNumber
		if price == nil || graham == nil || *graham <= 0 || *price >= *graham {
			return false
		}
	}

	return true
}

// Filter applies Matches to each snapshot in input order, preserving
// order. No deduplication, no limit; sorting and limiting are caller
// concerns.
func Filter(snaps []*snapshot.Snapshot, c Criteria) []*snapshot.Snapshot {
	matched := make([]*snapshot.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		if Matches(snap, c) {
			matched = append(matched, snap)
		}
	}
	return matched
}

// minFloat enforces a floor: a missing record value fails.
func minFloat(value, min *float64) bool {
	if min == nil {
		return true
	}
	return value != nil && *value >= *min
}

// maxFloat enforces a strict ceiling: a missing record value fails.
func maxFloat(value, max *float64) bool {
	if max == nil {
		return true
	}
	return value != nil && *value <= *max
}

// positiveMax enforces a ceiling on a positive-only ratio: a missing or
// non-positive record value fails even though it is numerically small.
func positiveMax(value, max *float64) bool {
	if max == nil {
		return true
	}
	return value != nil && *value > 0 && *value <= *max
}

// weakMax enforces a ceiling where absent data passes. Used by inverse
// screens and the leverage bound.
func weakMax(value, max *float64) bool {
	if max == nil {
		return true
	}
	return value == nil || *value <= *max
}

func minInt64(value *int64, min *int64) bool {
	if min == nil {
		return true
	}
	return value != nil && *value >= *min
}

func maxInt64(value *int64, max *int64) bool {
	if max == nil {
		return true
	}
	return value != nil && *value <= *max
}

// pePBProduct enforces the combined valuation ceiling: both components
// must be present and positive.
func pePBProduct(snap *snapshot.Snapshot, max *float64) bool {
	if max == nil {
		return true
	}
	pe := snap.Valuation.PE
	pb := snap.Valuation.PB
	if pe == nil || pb == nil || *pe <= 0 || *pb <= 0 {
		return false
	}
	return *pe * *pb <= *max
}
