package devchain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/aristath/arena/internal/clients/arena"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/pkg/formulas"
)

const agentColumns = `agent_id, owner, name, description, model_provider, metadata, is_active, created_at,
	total_trades, successful_trades, total_pnl`

const executionColumns = `execution_id, agent_id, user_address, amount, storage_root_hash, tee_signature,
	strategy_data, pnl, created_at, is_completed`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row scanner) (*domain.AgentInfo, error) {
	var a domain.AgentInfo
	var active int
	var created int64
	var pnl string
	if err := row.Scan(&a.AgentID, &a.Owner, &a.Name, &a.Description, &a.ModelProvider, &a.Metadata,
		&active, &created, &a.TotalTrades, &a.SuccessfulTrades, &pnl); err != nil {
		return nil, err
	}
	a.IsActive = active == 1
	a.CreatedAt = time.Unix(created, 0).UTC()
	a.TotalPnL = parseBig(pnl)
	return &a, nil
}

func scanExecution(row scanner) (*domain.ExecutionRecord, error) {
	var e domain.ExecutionRecord
	var amount, pnl string
	var created int64
	var completed int
	if err := row.Scan(&e.ExecutionID, &e.AgentID, &e.User, &amount, &e.StorageRootHash, &e.TEESignature,
		&e.StrategyData, &pnl, &created, &completed); err != nil {
		return nil, err
	}
	e.Amount = parseBig(amount)
	e.PnL = parseBig(pnl)
	e.Timestamp = time.Unix(created, 0).UTC()
	e.IsCompleted = completed == 1
	e.Status = domain.ExecutionPending
	if e.IsCompleted {
		e.Status = domain.ExecutionCompleted
	}
	return &e, nil
}

// Agent returns one agent
func (c *Chain) Agent(ctx context.Context, agentID uint64) (*domain.AgentInfo, error) {
	a, err := scanAgent(c.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %d: %w", agentID, arena.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read agent %d: %w", agentID, err)
	}
	return a, nil
}

// ActiveAgents returns every active agent in registration order
func (c *Chain) ActiveAgents(ctx context.Context) ([]domain.AgentInfo, error) {
	return c.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents WHERE is_active = 1 ORDER BY agent_id`)
}

func (c *Chain) queryAgents(ctx context.Context, query string, args ...interface{}) ([]domain.AgentInfo, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var out []domain.AgentInfo
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Leaderboard ranks agents by total PnL. Win rate is in basis points and the
// Sharpe ratio of per-trade returns is scaled by 1000.
func (c *Chain) Leaderboard(ctx context.Context, limit int) ([]domain.AgentStats, error) {
	agents, err := c.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY agent_id`)
	if err != nil {
		return nil, err
	}

	returns, err := c.tradeReturns(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]domain.AgentStats, 0, len(agents))
	for _, a := range agents {
		stats = append(stats, domain.AgentStats{
			AgentID:     a.AgentID,
			Name:        a.Name,
			TotalPnL:    a.TotalPnL,
			WinRate:     formulas.WinRateBps(a.SuccessfulTrades, a.TotalTrades),
			TotalTrades: a.TotalTrades,
			SharpeRatio: int64(formulas.TradeSharpe(returns[a.AgentID]) * 1000),
		})
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].TotalPnL.Cmp(stats[j].TotalPnL) > 0
	})
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

// tradeReturns returns pnl/amount of every completed execution, per agent
func (c *Chain) tradeReturns(ctx context.Context) (map[uint64][]float64, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT agent_id, amount, pnl FROM executions WHERE is_completed = 1 ORDER BY execution_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade returns: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64][]float64)
	for rows.Next() {
		var agentID uint64
		var amount, pnl string
		if err := rows.Scan(&agentID, &amount, &pnl); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		a := new(big.Float).SetInt(parseBig(amount))
		if a.Sign() == 0 {
			continue
		}
		r, _ := new(big.Float).Quo(new(big.Float).SetInt(parseBig(pnl)), a).Float64()
		out[agentID] = append(out[agentID], r)
	}
	return out, rows.Err()
}

// Execution returns one execution record
func (c *Chain) Execution(ctx context.Context, executionID uint64) (*domain.ExecutionRecord, error) {
	e, err := scanExecution(c.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE execution_id = ?`, executionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %d: %w", executionID, arena.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read execution %d: %w", executionID, err)
	}
	return e, nil
}

// UserExecutions returns every execution of user, newest first
func (c *Chain) UserExecutions(ctx context.Context, user string) ([]domain.ExecutionRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM executions WHERE user_address = ? ORDER BY execution_id DESC
	`, normalize(user))
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// BalanceOf returns the withdrawable arena balance of user
func (c *Chain) BalanceOf(ctx context.Context, user string) (*big.Int, error) {
	pos, err := readPosition(ctx, c.db, normalize(user))
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(pos.Deposited, pos.Locked), nil
}

// Position returns the arena position of user
func (c *Chain) Position(ctx context.Context, user string) (*domain.UserPosition, error) {
	return readPosition(ctx, c.db, normalize(user))
}

// PendingExecutions counts executions not yet settled
func (c *Chain) PendingExecutions(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions WHERE is_completed = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return n, nil
}
