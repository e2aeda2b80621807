package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func risingSeries(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
		if i%3 == 0 {
			closes[i] -= 0.5
		}
	}
	return closes
}

func TestCalculateRSI(t *testing.T) {
	assert.Nil(t, CalculateRSI([]float64{1, 2, 3}, 14))

	rsi := CalculateRSI(risingSeries(40), 14)
	require.NotNil(t, rsi)
	assert.Greater(t, *rsi, 50.0)
	assert.LessOrEqual(t, *rsi, 100.0)
}

func TestCalculateEMA(t *testing.T) {
	assert.Nil(t, CalculateEMA([]float64{1}, 5))

	ema := CalculateEMA([]float64{10, 10, 10, 10, 10, 10}, 5)
	require.NotNil(t, ema)
	assert.InDelta(t, 10.0, *ema, 1e-9)
}

func TestCalculateReturns(t *testing.T) {
	returns := CalculateReturns([]float64{100, 110, 99})
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.1, returns[0], 1e-9)
	assert.InDelta(t, -0.1, returns[1], 1e-9)
	assert.Empty(t, CalculateReturns([]float64{1}))
}

func TestTradeSharpe(t *testing.T) {
	assert.Equal(t, 0.0, TradeSharpe([]float64{5}))
	assert.Equal(t, 0.0, TradeSharpe([]float64{3, 3, 3}))

	sharpe := TradeSharpe([]float64{1, 2, 3})
	assert.InDelta(t, 2.0, sharpe, 1e-9)
}

func TestWinRateBps(t *testing.T) {
	assert.Equal(t, uint64(0), WinRateBps(0, 0))
	assert.Equal(t, uint64(6666), WinRateBps(2, 3))
	assert.Equal(t, uint64(10000), WinRateBps(4, 4))
}

func TestMeanStdDev(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 1.0, StdDev([]float64{1, 2, 3}), 1e-9)
}
