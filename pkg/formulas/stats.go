package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// TradeSharpe is the per-trade Sharpe ratio: mean PnL over PnL standard deviation.
// Returns 0 with fewer than two trades or no dispersion.
func TradeSharpe(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(pnls, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std
}

// WinRateBps returns wins/total in basis points
func WinRateBps(wins, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	return wins * 10000 / total
}
