// Package screen evaluates filter criteria against cached security
// snapshots. The engine is pure: no I/O, no state, deterministic
// pass/fail for every record including records with missing fields.
package screen

// Criteria is a flat set of independently optional bounds. A nil field
// is unconstrained; the zero value of Criteria accepts every record.
// Constructed by callers (API body or a named preset) and never
// mutated by the engine.
type Criteria struct {
	// Valuation ceilings. These ratios are only meaningful when
	// positive, so a missing or non-positive record value fails the
	// bound.
	PEMax        *float64 `json:"pe_max,omitempty"`
	ForwardPEMax *float64 `json:"forward_pe_max,omitempty"`
	PEGMax       *float64 `json:"peg_max,omitempty"`
	PBMax        *float64 `json:"pb_max,omitempty"`
	PSMax        *float64 `json:"ps_max,omitempty"`

	// Graham's combined valuation ceiling: P/E x P/B. Both components
	// must be present and positive.
	PEPBProductMax *float64 `json:"pe_pb_product_max,omitempty"`

	// Floors. A missing record value fails the bound.
	ROEMin             *float64 `json:"roe_min,omitempty"`
	ROAMin             *float64 `json:"roa_min,omitempty"`
	ProfitMarginMin    *float64 `json:"profit_margin_min,omitempty"`
	OperatingMarginMin *float64 `json:"operating_margin_min,omitempty"`
	RevenueGrowthMin   *float64 `json:"revenue_growth_min,omitempty"`
	EarningsGrowthMin  *float64 `json:"earnings_growth_min,omitempty"`
	DividendYieldMin   *float64 `json:"dividend_yield_min,omitempty"`
	CurrentRatioMin    *float64 `json:"current_ratio_min,omitempty"`

	// Weak-side ceilings for inverse screens: a missing record value
	// passes (absence of profitability data does not disqualify a
	// weakness candidate), only a present value above the bound fails.
	ROEMax          *float64 `json:"roe_max,omitempty"`
	ProfitMarginMax *float64 `json:"profit_margin_max,omitempty"`

	// Leverage ceiling: missing leverage data gets the benefit of the
	// doubt and passes.
	DebtToEquityMax *float64 `json:"debt_to_equity_max,omitempty"`

	// Strict ceilings. A missing record value fails the bound.
	PayoutRatioMax *float64 `json:"payout_ratio_max,omitempty"`
	VolatilityMax  *float64 `json:"volatility_max,omitempty"`

	// Size and price bounds.
	MarketCapMin *int64   `json:"market_cap_min,omitempty"`
	MarketCapMax *int64   `json:"market_cap_max,omitempty"`
	PriceMin     *float64 `json:"price_min,omitempty"`
	PriceMax     *float64 `json:"price_max,omitempty"`

	// Technical bounds.
	RSIMin *float64 `json:"rsi_min,omitempty"`
	RSIMax *float64 `json:"rsi_max,omitempty"`

	// DownFromHighPct is a negative percentage threshold: the record's
	// percent-from-52-week-high must be present and at or below it
	// (more negative than or equal).
	DownFromHighPct *float64 `json:"down_from_high_pct,omitempty"`

	// Sign flags. Only a true value constrains; the record's signed
	// percentage (or price vs Graham number) must be present with the
	// required sign.
	Below200MA        *bool `json:"below_200ma,omitempty"`
	BelowGrahamNumber *bool `json:"below_graham_number,omitempty"`
}
