package arena

import (
	"context"
	"errors"
	"math/big"

	"github.com/aristath/arena/internal/domain"
)

func viewError(err error, what string) error {
	if errors.Is(err, ErrNotFound) {
		return domain.WrapError(domain.KindContract, domain.ReasonNotFound, err, what)
	}
	return domain.FromContext(err, domain.KindConnectivity, domain.ReasonConnectionTimeout, what)
}

// GetAgent returns one agent
func (c *Client) GetAgent(ctx context.Context, agentID uint64) (*domain.AgentInfo, error) {
	agent, err := c.backend.Agent(ctx, agentID)
	if err != nil {
		return nil, viewError(err, "agent lookup failed")
	}
	return agent, nil
}

// GetActiveAgents returns every active agent
func (c *Client) GetActiveAgents(ctx context.Context) ([]domain.AgentInfo, error) {
	agents, err := c.backend.ActiveAgents(ctx)
	if err != nil {
		return nil, viewError(err, "active agents lookup failed")
	}
	return agents, nil
}

// GetLeaderboard returns up to limit agents ranked by total PnL
func (c *Client) GetLeaderboard(ctx context.Context, limit int) ([]domain.AgentStats, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := c.backend.Leaderboard(ctx, limit)
	if err != nil {
		return nil, viewError(err, "leaderboard lookup failed")
	}
	return rows, nil
}

// GetExecution returns one execution record
func (c *Client) GetExecution(ctx context.Context, executionID uint64) (*domain.ExecutionRecord, error) {
	rec, err := c.backend.Execution(ctx, executionID)
	if err != nil {
		return nil, viewError(err, "execution lookup failed")
	}
	return rec, nil
}

// GetUserExecutions returns the executions of user, or of the wallet when user is empty
func (c *Client) GetUserExecutions(ctx context.Context, user string) ([]domain.ExecutionRecord, error) {
	if user == "" {
		user = c.signer.Address()
	}
	recs, err := c.backend.UserExecutions(ctx, user)
	if err != nil {
		return nil, viewError(err, "execution history lookup failed")
	}
	return recs, nil
}

// BalanceOf returns the withdrawable arena balance of user
func (c *Client) BalanceOf(ctx context.Context, user string) (*big.Int, error) {
	if user == "" {
		user = c.signer.Address()
	}
	bal, err := c.backend.BalanceOf(ctx, user)
	if err != nil {
		return nil, viewError(err, "balance lookup failed")
	}
	return bal, nil
}

// WalletBalance returns the native balance of the wallet
func (c *Client) WalletBalance(ctx context.Context) (*big.Int, error) {
	bal, err := c.backend.NativeBalance(ctx, c.signer.Address())
	if err != nil {
		return nil, viewError(err, "wallet balance lookup failed")
	}
	return bal, nil
}

// GetPosition returns the arena position of user
func (c *Client) GetPosition(ctx context.Context, user string) (*domain.UserPosition, error) {
	if user == "" {
		user = c.signer.Address()
	}
	pos, err := c.backend.Position(ctx, user)
	if err != nil {
		return nil, viewError(err, "position lookup failed")
	}
	return pos, nil
}

// Events returns contract events after afterID
func (c *Client) Events(ctx context.Context, afterID int64, limit int) ([]domain.ChainEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	evs, err := c.backend.Events(ctx, afterID, limit)
	if err != nil {
		return nil, viewError(err, "event lookup failed")
	}
	return evs, nil
}
