// Package snapshot defines the per-security metrics record cached and
// screened by the rest of the system. The record is structured and
// versioned: a stored payload that fails decoding or structural
// validation is a corrupt record, and bulk readers skip it instead of
// failing the whole read.
package snapshot

import (
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// CurrentVersion is written into every new snapshot. Decoded snapshots
// with a different version fail validation.
const CurrentVersion = 1

// Snapshot is one security's metrics at a point in time. Every metric is
// optional: the provider frequently omits fields, and the screening
// engine has explicit null policies per criterion.
type Snapshot struct {
	Version int    `msgpack:"version" json:"version"`
	Ticker  string `msgpack:"ticker" json:"ticker"`
	Name    string `msgpack:"name,omitempty" json:"name,omitempty"`

	Price     *float64 `msgpack:"price,omitempty" json:"price,omitempty"`
	MarketCap *int64   `msgpack:"market_cap,omitempty" json:"market_cap,omitempty"`

	Valuation     Valuation     `msgpack:"valuation" json:"valuation"`
	Profitability Profitability `msgpack:"profitability" json:"profitability"`
	Leverage      Leverage      `msgpack:"leverage" json:"leverage"`
	Growth        Growth        `msgpack:"growth" json:"growth"`
	Dividend      Dividend      `msgpack:"dividend" json:"dividend"`
	Technicals    Technicals    `msgpack:"technicals" json:"technicals"`
}

// Valuation holds price-relative ratios.
type Valuation struct {
	PE           *float64 `msgpack:"pe,omitempty" json:"pe,omitempty"`
	ForwardPE    *float64 `msgpack:"forward_pe,omitempty" json:"forward_pe,omitempty"`
	PEG          *float64 `msgpack:"peg,omitempty" json:"peg,omitempty"`
	PB           *float64 `msgpack:"pb,omitempty" json:"pb,omitempty"`
	PS           *float64 `msgpack:"ps,omitempty" json:"ps,omitempty"`
	GrahamNumber *float64 `msgpack:"graham_number,omitempty" json:"graham_number,omitempty"`
}

// Profitability holds return and margin ratios, as percentages.
type Profitability struct {
	ROE             *float64 `msgpack:"roe,omitempty" json:"roe,omitempty"`
	ROA             *float64 `msgpack:"roa,omitempty" json:"roa,omitempty"`
	ProfitMargin    *float64 `msgpack:"profit_margin,omitempty" json:"profit_margin,omitempty"`
	OperatingMargin *float64 `msgpack:"operating_margin,omitempty" json:"operating_margin,omitempty"`
}

// Leverage holds balance sheet strength ratios.
type Leverage struct {
	DebtToEquity *float64 `msgpack:"debt_to_equity,omitempty" json:"debt_to_equity,omitempty"`
	CurrentRatio *float64 `msgpack:"current_ratio,omitempty" json:"current_ratio,omitempty"`
}

// Growth holds year-over-year growth rates, as percentages.
type Growth struct {
	Revenue  *float64 `msgpack:"revenue,omitempty" json:"revenue,omitempty"`
	Earnings *float64 `msgpack:"earnings,omitempty" json:"earnings,omitempty"`
}

// Dividend holds payout metrics, as percentages.
type Dividend struct {
	Yield       *float64 `msgpack:"yield,omitempty" json:"yield,omitempty"`
	PayoutRatio *float64 `msgpack:"payout_ratio,omitempty" json:"payout_ratio,omitempty"`
}

// Technicals holds price-history derived indicators.
// PctFrom200MA and PctFrom52WHigh are signed percentages relative to the
// reference level: negative means the price is below it.
type Technicals struct {
	RSI14          *float64 `msgpack:"rsi_14,omitempty" json:"rsi_14,omitempty"`
	PctFrom200MA   *float64 `msgpack:"pct_from_200ma,omitempty" json:"pct_from_200ma,omitempty"`
	PctFrom52WHigh *float64 `msgpack:"pct_from_52w_high,omitempty" json:"pct_from_52w_high,omitempty"`
	Volatility     *float64 `msgpack:"volatility,omitempty" json:"volatility,omitempty"`
}

// New creates an empty snapshot for a ticker at the current version.
func New(ticker string) *Snapshot {
	return &Snapshot{
		Version: CurrentVersion,
		Ticker:  NormalizeTicker(ticker),
	}
}

// NormalizeTicker upper-cases and trims a security identifier, so that
// the same security never occupies two cache rows.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Validate checks structural integrity. A snapshot that fails here is
// treated as a corrupt record by batch readers.
func (s *Snapshot) Validate() error {
	if s.Version != CurrentVersion {
		return fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	if strings.TrimSpace(s.Ticker) == "" {
		return fmt.Errorf("snapshot has empty ticker")
	}
	return nil
}

// Encode serialises the snapshot for storage.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot for %s: %w", s.Ticker, err)
	}
	return data, nil
}

// Decode deserialises and validates a stored payload.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
