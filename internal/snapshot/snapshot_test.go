package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTicker(t *testing.T) {
	assert.Equal(t, "AAPL", NormalizeTicker("  aapl "))
	assert.Equal(t, "BRK-B", NormalizeTicker("brk-b"))
	assert.Equal(t, "", NormalizeTicker("   "))
}

func TestValidate(t *testing.T) {
	snap := New("AAPL")
	assert.NoError(t, snap.Validate())

	assert.Error(t, (&Snapshot{Version: CurrentVersion}).Validate())
	assert.Error(t, (&Snapshot{Version: 99, Ticker: "AAPL"}).Validate())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	snap := New("AAPL")
	price := 190.5
	pe := 28.4
	rsi := 61.2
	snap.Price = &price
	snap.Valuation.PE = &pe
	snap.Technicals.RSI14 = &rsi

	data, err := snap.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", decoded.Ticker)
	require.NotNil(t, decoded.Price)
	assert.InDelta(t, 190.5, *decoded.Price, 0.001)
	require.NotNil(t, decoded.Valuation.PE)
	assert.InDelta(t, 28.4, *decoded.Valuation.PE, 0.001)
	assert.Nil(t, decoded.Valuation.PB)
	require.NotNil(t, decoded.Technicals.RSI14)
	assert.InDelta(t, 61.2, *decoded.Technicals.RSI14, 0.001)
}

func TestDecodeGarbageFails(t *testing.T) {
	_, err := Decode([]byte("definitely not msgpack"))
	assert.Error(t, err)
}
