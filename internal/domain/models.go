// Package domain holds the arena's shared model and error taxonomy.
package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel is the risk appetite of a strategy
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// StrategyType is the family of trading strategy requested from the model
type StrategyType string

const (
	StrategyTrendFollowing StrategyType = "trend_following"
	StrategyArbitrage      StrategyType = "arbitrage"
	StrategyMeanReversion  StrategyType = "mean_reversion"
	StrategyMomentum       StrategyType = "momentum"
	StrategyMLBased        StrategyType = "ml_based"
)

// Strategy config bounds
var (
	MinAmount = decimal.NewFromInt(10)
	MaxAmount = decimal.NewFromInt(100000)
)

const (
	MaxStopLossPercent   = 50.0
	MaxTakeProfitPercent = 100.0
	MinSlippagePercent   = 0.1
	MaxSlippagePercent   = 5.0
)

// Label returns the human readable name used in prompts
func (r RiskLevel) Label() string {
	switch r {
	case RiskLow:
		return "Low"
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	}
	return string(r)
}

// Label returns the human readable name used in prompts
func (s StrategyType) Label() string {
	switch s {
	case StrategyTrendFollowing:
		return "Trend Following"
	case StrategyArbitrage:
		return "Arbitrage"
	case StrategyMeanReversion:
		return "Mean Reversion"
	case StrategyMomentum:
		return "Momentum"
	case StrategyMLBased:
		return "ML-Based"
	}
	return string(s)
}

// StrategyConfig is the user-chosen parameters of a strategy run.
// A run stores its own copy; the config does not change once a run starts.
type StrategyConfig struct {
	Amount             decimal.Decimal `json:"amount"`
	RiskLevel          RiskLevel       `json:"risk_level"`
	StrategyType       StrategyType    `json:"strategy_type"`
	StopLossPercent    float64         `json:"stop_loss_percent"`
	TakeProfitPercent  float64         `json:"take_profit_percent"`
	MaxSlippagePercent float64         `json:"max_slippage_percent"`
}

// DefaultStrategyConfig mirrors the initial values of the strategy panel
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Amount:             decimal.NewFromInt(1000),
		RiskLevel:          RiskMedium,
		StrategyType:       StrategyTrendFollowing,
		StopLossPercent:    5,
		TakeProfitPercent:  15,
		MaxSlippagePercent: 0.5,
	}
}

// Validate checks every field against its allowed range
func (c StrategyConfig) Validate() error {
	var problems []string

	if c.Amount.LessThan(MinAmount) || c.Amount.GreaterThan(MaxAmount) {
		problems = append(problems, fmt.Sprintf("amount must be between %s and %s", MinAmount, MaxAmount))
	}
	switch c.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		problems = append(problems, fmt.Sprintf("unknown risk level %q", c.RiskLevel))
	}
	switch c.StrategyType {
	case StrategyTrendFollowing, StrategyArbitrage, StrategyMeanReversion, StrategyMomentum, StrategyMLBased:
	default:
		problems = append(problems, fmt.Sprintf("unknown strategy type %q", c.StrategyType))
	}
	if c.StopLossPercent <= 0 || c.StopLossPercent > MaxStopLossPercent {
		problems = append(problems, "stop loss must be in (0, 50]")
	}
	if c.TakeProfitPercent <= 0 || c.TakeProfitPercent > MaxTakeProfitPercent {
		problems = append(problems, "take profit must be in (0, 100]")
	}
	if c.MaxSlippagePercent < MinSlippagePercent || c.MaxSlippagePercent > MaxSlippagePercent {
		problems = append(problems, "max slippage must be in [0.1, 5.0]")
	}

	if len(problems) > 0 {
		return NewError(KindValidation, ReasonInvalidConfig, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// InferenceRequest is what the inference client sends to a provider
type InferenceRequest struct {
	AgentID    uint64                 `json:"agent_id"`
	Prompt     string                 `json:"prompt"`
	Context    string                 `json:"context,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// InferenceResult is a parsed provider response
type InferenceResult struct {
	StrategyText      string  `json:"strategy_text"`
	ConfidenceScore   float64 `json:"confidence_score"`
	VerificationToken string  `json:"verification_token,omitempty"`
	Verified          bool    `json:"verified"`
	Settled           bool    `json:"settled"`
	Provider          string  `json:"provider"`
	Model             string  `json:"model,omitempty"`
	Shape             string  `json:"shape"`
}

// StorageRecord points at an uploaded blob in content-addressed storage
type StorageRecord struct {
	RootHash    string `json:"root_hash"`
	TxReference string `json:"tx_reference"`
	Size        int64  `json:"size"`
	Reused      bool   `json:"reused"`
}

// ExecutionStatus is the lifecycle state of an on-chain execution
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionCompleted ExecutionStatus = "completed"
)

// ExecutionRecord is the on-chain record of a strategy execution. Records are append-only.
type ExecutionRecord struct {
	ExecutionID     uint64          `json:"execution_id"`
	AgentID         uint64          `json:"agent_id"`
	User            string          `json:"user"`
	Amount          *big.Int        `json:"amount"`
	StorageRootHash string          `json:"storage_root_hash"`
	TEESignature    string          `json:"tee_signature"`
	StrategyData    string          `json:"strategy_data,omitempty"`
	PnL             *big.Int        `json:"pnl"`
	Timestamp       time.Time       `json:"timestamp"`
	IsCompleted     bool            `json:"is_completed"`
	Status          ExecutionStatus `json:"status"`
}

// AgentInfo is a registered trading agent
type AgentInfo struct {
	AgentID          uint64    `json:"agent_id"`
	Owner            string    `json:"owner"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	ModelProvider    string    `json:"model_provider"`
	Metadata         string    `json:"metadata,omitempty"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	TotalTrades      uint64    `json:"total_trades"`
	SuccessfulTrades uint64    `json:"successful_trades"`
	TotalPnL         *big.Int  `json:"total_pnl"`
}

// AgentStats is one leaderboard row. WinRate is in basis points, SharpeRatio scaled by 1000.
type AgentStats struct {
	AgentID     uint64   `json:"agent_id"`
	Name        string   `json:"name"`
	TotalPnL    *big.Int `json:"total_pnl"`
	WinRate     uint64   `json:"win_rate"`
	TotalTrades uint64   `json:"total_trades"`
	SharpeRatio int64    `json:"sharpe_ratio"`
}

// UserPosition is a user's arena balance
type UserPosition struct {
	Deposited   *big.Int  `json:"deposited"`
	Locked      *big.Int  `json:"locked"`
	TotalPnL    *big.Int  `json:"total_pnl"`
	LastUpdated time.Time `json:"last_updated"`
}
