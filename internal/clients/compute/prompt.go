package compute

import (
	"fmt"
	"strings"

	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/pkg/formulas"
)

const (
	rsiPeriod = 14
	emaPeriod = 20
)

// MarketContext is an optional price series summarized into the prompt
type MarketContext struct {
	Symbol string    `json:"symbol"`
	Closes []float64 `json:"closes"`
}

// SystemPrompt is sent ahead of every strategy request
func SystemPrompt(agentID uint64, context string) string {
	prompt := fmt.Sprintf("You are an AI trading strategy assistant. Generate trading strategies based on the following context. Agent ID: %d.", agentID)
	if context != "" {
		prompt += "\n\n" + context
	}
	return prompt
}

// BuildStrategyPrompt turns a strategy config into the user prompt
func BuildStrategyPrompt(cfg domain.StrategyConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a %s trading strategy with %s risk.\n", cfg.StrategyType.Label(), cfg.RiskLevel.Label())
	fmt.Fprintf(&b, "Capital: %s\n", cfg.Amount.StringFixed(2))
	fmt.Fprintf(&b, "Stop loss: %.2f%%\n", cfg.StopLossPercent)
	fmt.Fprintf(&b, "Take profit: %.2f%%\n", cfg.TakeProfitPercent)
	fmt.Fprintf(&b, "Max slippage: %.2f%%\n", cfg.MaxSlippagePercent)
	b.WriteString("Describe entry and exit rules, position sizing and the risk controls applied.")
	return b.String()
}

// BuildMarketContext summarizes a price series for the system prompt.
// Returns "" when there is nothing to summarize.
func BuildMarketContext(m *MarketContext) string {
	if m == nil || len(m.Closes) == 0 {
		return ""
	}

	last := m.Closes[len(m.Closes)-1]
	symbol := m.Symbol
	if symbol == "" {
		symbol = "the asset"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Market context for %s: last close %.4f over %d periods.", symbol, last, len(m.Closes))
	if rsi := formulas.CalculateRSI(m.Closes, rsiPeriod); rsi != nil {
		fmt.Fprintf(&b, " RSI(%d) %.1f.", rsiPeriod, *rsi)
	}
	if ema := formulas.CalculateEMA(m.Closes, emaPeriod); ema != nil {
		trend := "below"
		if last > *ema {
			trend = "above"
		}
		fmt.Fprintf(&b, " Price is %s EMA(%d) %.4f.", trend, emaPeriod, *ema)
	}
	return b.String()
}
