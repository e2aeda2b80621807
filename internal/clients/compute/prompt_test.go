package compute

import (
	"testing"

	"github.com/aristath/arena/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestSystemPrompt(t *testing.T) {
	assert.Equal(t,
		"You are an AI trading strategy assistant. Generate trading strategies based on the following context. Agent ID: 3.",
		SystemPrompt(3, ""))
	assert.Contains(t, SystemPrompt(3, "BTC is trending"), "\n\nBTC is trending")
}

func TestBuildStrategyPrompt(t *testing.T) {
	prompt := BuildStrategyPrompt(domain.DefaultStrategyConfig())
	assert.Contains(t, prompt, "Trend Following")
	assert.Contains(t, prompt, "Medium risk")
	assert.Contains(t, prompt, "Capital: 1000.00")
	assert.Contains(t, prompt, "Stop loss: 5.00%")
}

func TestBuildMarketContext(t *testing.T) {
	assert.Empty(t, BuildMarketContext(nil))
	assert.Empty(t, BuildMarketContext(&MarketContext{Symbol: "BTC"}))

	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	out := BuildMarketContext(&MarketContext{Symbol: "BTC", Closes: closes})
	assert.Contains(t, out, "Market context for BTC")
	assert.Contains(t, out, "RSI(14)")
	assert.Contains(t, out, "above EMA(20)")
}
