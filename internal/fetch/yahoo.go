package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/screener/internal/snapshot"
)

const (
	quoteURL = "https://query1.finance.yahoo.com/v7/finance/quote"
	chartURL = "https://query1.finance.yahoo.com/v8/finance/chart/"

	// tradingDaysPerYear annualises daily return volatility.
	tradingDaysPerYear = 252
)

// Settings is the slice of runtime configuration the client consults.
type Settings interface {
	OfflineMode() bool
}

// Fallback serves a previously cached snapshot regardless of age. When a
// live call fails, stale data is better than no data; results served
// this way carry the stale outcome so the orchestrator retries them.
type Fallback interface {
	Get(ticker string) (*snapshot.Snapshot, error)
}

// YahooClient fetches per-security metrics from the Yahoo Finance quote
// and chart APIs and assembles them into snapshots.
type YahooClient struct {
	client   *http.Client
	settings Settings
	fallback Fallback
	log      zerolog.Logger
}

// NewYahooClient creates a Yahoo Finance fetch adapter. fallback may be
// nil, in which case failed calls never degrade to stale-sourced data.
func NewYahooClient(timeout time.Duration, settings Settings, fallback Fallback, log zerolog.Logger) *YahooClient {
	return &YahooClient{
		client: &http.Client{
			Timeout: timeout,
		},
		settings: settings,
		fallback: fallback,
		log:      log.With().Str("client", "yahoo").Logger(),
	}
}

// FetchOne performs one provider call and returns a tri-state result.
// It never panics outward and never returns an error: every failure mode
// collapses into the failed (or stale-fallback) outcome.
func (c *YahooClient) FetchOne(ctx context.Context, ticker string) Result {
	ticker = snapshot.NormalizeTicker(ticker)

	if c.settings.OfflineMode() {
		return c.degrade(ticker, fmt.Errorf("offline mode enabled"))
	}

	info, err := c.getQuoteInfo(ctx, ticker)
	if err != nil {
		return c.degrade(ticker, err)
	}

	snap := c.buildSnapshot(ticker, info)

	// Technical indicators need price history; a chart failure degrades
	// only the technicals, not the whole snapshot.
	if err := c.applyTechnicals(ctx, ticker, snap); err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to compute technicals")
	}

	// A quote with none of the core fundamentals is degraded data: store
	// it, but let the orchestrator retry.
	if snap.Valuation.PE == nil && snap.Valuation.PB == nil && snap.MarketCap == nil {
		return Result{Outcome: OutcomeStale, Snapshot: snap, Err: "quote missing core fundamentals"}
	}

	return Result{Outcome: OutcomeFresh, Snapshot: snap}
}

// degrade falls back to the cached snapshot when a live call cannot be
// made. With no fallback (or nothing cached) the attempt has failed.
func (c *YahooClient) degrade(ticker string, cause error) Result {
	if c.fallback != nil {
		cached, err := c.fallback.Get(ticker)
		if err == nil && cached != nil {
			c.log.Debug().Str("ticker", ticker).AnErr("cause", cause).Msg("Serving stale snapshot from cache")
			return Result{Outcome: OutcomeStale, Snapshot: cached, Err: cause.Error()}
		}
	}
	return Failed(cause)
}

// buildSnapshot maps a quote response into a snapshot. Yahoo reports
// ratios as fractions; the snapshot stores percentages.
func (c *YahooClient) buildSnapshot(ticker string, info map[string]interface{}) *snapshot.Snapshot {
	snap := snapshot.New(ticker)
	snap.Name = getString(info, "longName", getString(info, "shortName", ""))

	snap.Price = positiveFloat(firstFloat(info, "currentPrice", "regularMarketPrice"))
	snap.MarketCap = getInt64(info, "marketCap")

	snap.Valuation = snapshot.Valuation{
		PE:        getFloat64(info, "trailingPE"),
		ForwardPE: getFloat64(info, "forwardPE"),
		PEG:       getFloat64(info, "pegRatio"),
		PB:        getFloat64(info, "priceToBook"),
		PS:        getFloat64(info, "priceToSalesTrailing12Months"),
	}
	snap.Valuation.GrahamNumber = grahamNumber(
		getFloat64(info, "epsTrailingTwelveMonths"),
		getFloat64(info, "bookValue"),
	)

	snap.Profitability = snapshot.Profitability{
		ROE:             asPercent(getFloat64(info, "returnOnEquity")),
		ROA:             asPercent(getFloat64(info, "returnOnAssets")),
		ProfitMargin:    asPercent(getFloat64(info, "profitMargins")),
		OperatingMargin: asPercent(getFloat64(info, "operatingMargins")),
	}

	snap.Leverage = snapshot.Leverage{
		DebtToEquity: getFloat64(info, "debtToEquity"),
		CurrentRatio: getFloat64(info, "currentRatio"),
	}

	snap.Growth = snapshot.Growth{
		Revenue:  asPercent(getFloat64(info, "revenueGrowth")),
		Earnings: asPercent(getFloat64(info, "earningsGrowth")),
	}

	snap.Dividend = snapshot.Dividend{
		Yield:       asPercent(getFloat64(info, "dividendYield")),
		PayoutRatio: asPercent(getFloat64(info, "payoutRatio")),
	}

	return snap
}

// applyTechnicals fetches one year of daily closes and derives the
// history-based indicators.
func (c *YahooClient) applyTechnicals(ctx context.Context, ticker string, snap *snapshot.Snapshot) error {
	closes, err := c.getDailyCloses(ctx, ticker, "1y")
	if err != nil {
		return err
	}
	if len(closes) < 2 {
		return fmt.Errorf("insufficient price history for %s", ticker)
	}

	price := closes[len(closes)-1]
	if snap.Price != nil {
		price = *snap.Price
	}

	if len(closes) > 14 {
		rsi := talib.Rsi(closes, 14)
		last := rsi[len(rsi)-1]
		if !math.IsNaN(last) {
			snap.Technicals.RSI14 = &last
		}
	}

	if len(closes) >= 200 {
		ma := stat.Mean(closes[len(closes)-200:], nil)
		if ma > 0 {
			pct := (price - ma) / ma * 100
			snap.Technicals.PctFrom200MA = &pct
		}
	}

	high := closes[0]
	for _, c := range closes {
		if c > high {
			high = c
		}
	}
	if high > 0 {
		pct := (price - high) / high * 100
		snap.Technicals.PctFrom52WHigh = &pct
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 {
			returns = append(returns, closes[i]/closes[i-1]-1)
		}
	}
	if len(returns) > 1 {
		vol := stat.StdDev(returns, nil) * math.Sqrt(tradingDaysPerYear) * 100
		snap.Technicals.Volatility = &vol
	}

	return nil
}

// getQuoteInfo fetches quote information from the Yahoo Finance API.
func (c *YahooClient) getQuoteInfo(ctx context.Context, ticker string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Add("symbols", ticker)
	params.Add("fields", "symbol,longName,shortName,currentPrice,regularMarketPrice,marketCap,"+
		"trailingPE,forwardPE,pegRatio,priceToBook,priceToSalesTrailing12Months,"+
		"epsTrailingTwelveMonths,bookValue,returnOnEquity,returnOnAssets,profitMargins,"+
		"operatingMargins,debtToEquity,currentRatio,revenueGrowth,earningsGrowth,"+
		"dividendYield,payoutRatio")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, quoteURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers to mimic browser
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("quote API returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var result struct {
		QuoteResponse struct {
			Result []map[string]interface{} `json:"result"`
			Error  interface{}              `json:"error"`
		} `json:"quoteResponse"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("quote API error: %v", result.QuoteResponse.Error)
	}
	if len(result.QuoteResponse.Result) == 0 {
		return nil, fmt.Errorf("no quote data returned for %s", ticker)
	}

	return result.QuoteResponse.Result[0], nil
}

// getDailyCloses fetches daily closing prices from the chart API.
func (c *YahooClient) getDailyCloses(ctx context.Context, ticker, period string) ([]float64, error) {
	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("range", period)

	reqURL := chartURL + url.QueryEscape(ticker) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chart API returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var result struct {
		Chart struct {
			Result []struct {
				Indicators struct {
					Quote []struct {
						Close []float64 `json:"close"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error interface{} `json:"error"`
		} `json:"chart"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Chart.Error != nil {
		return nil, fmt.Errorf("chart API error: %v", result.Chart.Error)
	}
	if len(result.Chart.Result) == 0 || len(result.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no price history returned for %s", ticker)
	}

	raw := result.Chart.Result[0].Indicators.Quote[0].Close

	// Yahoo pads gaps with zeros; drop them
	closes := make([]float64, 0, len(raw))
	for _, v := range raw {
		if v > 0 {
			closes = append(closes, v)
		}
	}

	return closes, nil
}

// grahamNumber is sqrt(22.5 * EPS * book value per share), defined only
// when both inputs are positive.
func grahamNumber(eps, bookValue *float64) *float64 {
	if eps == nil || bookValue == nil || *eps <= 0 || *bookValue <= 0 {
		return nil
	}
	g := math.Sqrt(22.5 * *eps * *bookValue)
	return &g
}

// Helper functions to safely extract values from the quote map

func getFloat64(m map[string]interface{}, key string) *float64 {
	if val, ok := m[key]; ok && val != nil {
		switch v := val.(type) {
		case float64:
			return &v
		case int:
			f := float64(v)
			return &f
		case int64:
			f := float64(v)
			return &f
		}
	}
	return nil
}

func getInt64(m map[string]interface{}, key string) *int64 {
	if val, ok := m[key]; ok && val != nil {
		switch v := val.(type) {
		case float64:
			i := int64(v)
			return &i
		case int:
			i := int64(v)
			return &i
		case int64:
			return &v
		}
	}
	return nil
}

func getString(m map[string]interface{}, key string, defaultVal string) string {
	if val, ok := m[key]; ok && val != nil {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}

func firstFloat(m map[string]interface{}, keys ...string) *float64 {
	for _, key := range keys {
		if v := getFloat64(m, key); v != nil {
			return v
		}
	}
	return nil
}

func positiveFloat(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

// asPercent converts a provider fraction (0.15) to a percentage (15).
func asPercent(v *float64) *float64 {
	if v == nil {
		return nil
	}
	p := *v * 100
	return &p
}
