package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/screener/internal/snapshot"
)

type fakeSettings struct {
	offline bool
}

func (f fakeSettings) OfflineMode() bool { return f.offline }

type fakeFallback struct {
	snaps map[string]*snapshot.Snapshot
}

func (f fakeFallback) Get(ticker string) (*snapshot.Snapshot, error) {
	snap, ok := f.snaps[ticker]
	if !ok {
		return nil, errors.New("not cached")
	}
	return snap, nil
}

func newTestClient(settings Settings, fallback Fallback) *YahooClient {
	return NewYahooClient(time.Second, settings, fallback, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestFetchOneOfflineWithCachedFallback(t *testing.T) {
	cached := snapshot.New("AAPL")
	price := 190.0
	cached.Price = &price

	client := newTestClient(fakeSettings{offline: true}, fakeFallback{
		snaps: map[string]*snapshot.Snapshot{"AAPL": cached},
	})

	result := client.FetchOne(context.Background(), "aapl")
	assert.Equal(t, OutcomeStale, result.Outcome)
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, "AAPL", result.Snapshot.Ticker)
	assert.NotEmpty(t, result.Err)
}

func TestFetchOneOfflineWithoutFallbackFails(t *testing.T) {
	client := newTestClient(fakeSettings{offline: true}, nil)

	result := client.FetchOne(context.Background(), "AAPL")
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Nil(t, result.Snapshot)
	assert.NotEmpty(t, result.Err)
}

func TestFetchOneOfflineUncachedTickerFails(t *testing.T) {
	client := newTestClient(fakeSettings{offline: true}, fakeFallback{snaps: map[string]*snapshot.Snapshot{}})

	result := client.FetchOne(context.Background(), "MSFT")
	assert.Equal(t, OutcomeFailed, result.Outcome)
}

func TestBuildSnapshotMapsQuoteFields(t *testing.T) {
	client := newTestClient(fakeSettings{}, nil)

	info := map[string]interface{}{
		"longName":                "Apple Inc.",
		"currentPrice":            190.5,
		"marketCap":               float64(2.9e12),
		"trailingPE":              29.4,
		"priceToBook":             45.2,
		"returnOnEquity":          1.47,
		"profitMargins":           0.25,
		"debtToEquity":            176.3,
		"revenueGrowth":           0.02,
		"dividendYield":           0.0055,
		"epsTrailingTwelveMonths": 6.5,
		"bookValue":               4.2,
	}

	snap := client.buildSnapshot("AAPL", info)
	assert.Equal(t, "Apple Inc.", snap.Name)
	require.NotNil(t, snap.Price)
	assert.Equal(t, 190.5, *snap.Price)
	require.NotNil(t, snap.MarketCap)
	assert.Equal(t, int64(2.9e12), *snap.MarketCap)
	require.NotNil(t, snap.Valuation.PE)
	assert.Equal(t, 29.4, *snap.Valuation.PE)

	// Fractions become percentages.
	require.NotNil(t, snap.Profitability.ROE)
	assert.InDelta(t, 147, *snap.Profitability.ROE, 1e-9)
	require.NotNil(t, snap.Dividend.Yield)
	assert.InDelta(t, 0.55, *snap.Dividend.Yield, 1e-9)

	// Debt to equity is already a percentage at the provider.
	require.NotNil(t, snap.Leverage.DebtToEquity)
	assert.Equal(t, 176.3, *snap.Leverage.DebtToEquity)

	// sqrt(22.5 * 6.5 * 4.2)
	require.NotNil(t, snap.Valuation.GrahamNumber)
	assert.InDelta(t, 24.78, *snap.Valuation.GrahamNumber, 0.01)

	// Absent fields stay null.
	assert.Nil(t, snap.Valuation.PEG)
	assert.Nil(t, snap.Leverage.CurrentRatio)
}

func TestBuildSnapshotIgnoresNonPositivePrice(t *testing.T) {
	client := newTestClient(fakeSettings{}, nil)

	snap := client.buildSnapshot("BAD", map[string]interface{}{
		"regularMarketPrice": 0.0,
	})
	assert.Nil(t, snap.Price)
}

func TestGrahamNumberRequiresPositiveInputs(t *testing.T) {
	eps := 6.5
	negEPS := -2.0
	book := 4.2

	assert.Nil(t, grahamNumber(nil, &book))
	assert.Nil(t, grahamNumber(&eps, nil))
	assert.Nil(t, grahamNumber(&negEPS, &book))

	g := grahamNumber(&eps, &book)
	require.NotNil(t, g)
	assert.InDelta(t, 24.78, *g, 0.01)
}
