package devchain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/aristath/arena/internal/clients/arena"
	"github.com/aristath/arena/internal/domain"
)

// Revert reasons
const (
	revertAgentNotFound     = "agent not found"
	revertAgentInactive     = "agent not active"
	revertNotOwner          = "caller is not the agent owner"
	revertZeroAmount        = "amount must be greater than zero"
	revertInsufficient      = "insufficient balance"
	revertInsufficientArena = "insufficient arena balance"
	revertNotPayable        = "function is not payable"
	revertExecutionNotFound = "execution not found"
	revertAlreadyCompleted  = "execution already completed"
	revertEmptyName         = "agent name is required"
	revertEmptyRoot         = "storage root hash is required"
	revertUnknownMethod     = "unknown method"
)

// state applies one call inside the block transaction
type state struct {
	ctx    context.Context
	tx     *sql.Tx
	block  uint64
	txHash string
	now    time.Time
}

// apply runs call and returns a revert reason, or "" on success.
// err is reserved for storage failures that abort the whole block.
func (s *state) apply(call *domain.Transaction) (string, error) {
	sender := normalize(call.From)
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() > 0 && call.Method != domain.MethodExecuteStrategy && call.Method != domain.MethodDeposit {
		return revertNotPayable, nil
	}

	switch call.Method {
	case domain.MethodRegisterAgent:
		return s.registerAgent(sender, call.Args)
	case domain.MethodUpdateAgentStatus:
		return s.updateAgentStatus(sender, call.Args)
	case domain.MethodExecuteStrategy:
		return s.executeStrategy(sender, call.Args, value)
	case domain.MethodCompleteStrategy:
		return s.completeStrategy(sender, call.Args)
	case domain.MethodDeposit:
		return s.deposit(sender, value)
	case domain.MethodWithdraw:
		return s.withdraw(sender, call.Args)
	}
	return revertUnknownMethod, nil
}

func (s *state) registerAgent(sender string, args domain.CallArgs) (string, error) {
	if args.Name == "" {
		return revertEmptyName, nil
	}
	res, err := s.tx.ExecContext(s.ctx, `
		INSERT INTO agents (owner, name, description, model_provider, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sender, args.Name, args.Description, args.ModelProvider, args.Metadata, s.now.Unix())
	if err != nil {
		return "", fmt.Errorf("failed to insert agent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}

	return "", s.emit(domain.EventAgentRegistered, map[string]string{
		arena.FieldAgentID: strconv.FormatInt(id, 10),
		arena.FieldOwner:   sender,
		arena.FieldName:    args.Name,
	})
}

func (s *state) updateAgentStatus(sender string, args domain.CallArgs) (string, error) {
	owner, _, err := s.agentOwner(args.AgentID)
	if errors.Is(err, arena.ErrNotFound) {
		return revertAgentNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if owner != sender {
		return revertNotOwner, nil
	}

	if _, err := s.tx.ExecContext(s.ctx, `UPDATE agents SET is_active = ? WHERE agent_id = ?`,
		boolInt(args.IsActive), args.AgentID); err != nil {
		return "", fmt.Errorf("failed to update agent: %w", err)
	}
	return "", s.emit(domain.EventAgentStatusUpdated, map[string]string{
		arena.FieldAgentID:  strconv.FormatUint(args.AgentID, 10),
		arena.FieldIsActive: strconv.FormatBool(args.IsActive),
	})
}

func (s *state) executeStrategy(sender string, args domain.CallArgs, value *big.Int) (string, error) {
	_, active, err := s.agentOwner(args.AgentID)
	if errors.Is(err, arena.ErrNotFound) {
		return revertAgentNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if !active {
		return revertAgentInactive, nil
	}
	if value.Sign() <= 0 {
		return revertZeroAmount, nil
	}
	if args.StorageRootHash == "" {
		return revertEmptyRoot, nil
	}

	balance, _, err := loadAccount(s.ctx, s.tx, sender)
	if err != nil {
		return "", err
	}
	if balance.Cmp(value) < 0 {
		return revertInsufficient, nil
	}
	if err := setBalance(s.ctx, s.tx, sender, new(big.Int).Sub(balance, value)); err != nil {
		return "", err
	}

	pos, err := s.position(sender)
	if err != nil {
		return "", err
	}
	pos.Deposited.Add(pos.Deposited, value)
	pos.Locked.Add(pos.Locked, value)
	if err := s.savePosition(sender, pos); err != nil {
		return "", err
	}

	res, err := s.tx.ExecContext(s.ctx, `
		INSERT INTO executions (agent_id, user_address, amount, storage_root_hash, tee_signature, strategy_data, block_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, args.AgentID, sender, value.String(), args.StorageRootHash, args.TEESignature, args.StrategyData, s.block, s.now.Unix())
	if err != nil {
		return "", fmt.Errorf("failed to insert execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}

	return "", s.emit(domain.EventStrategyExecuted, map[string]string{
		arena.FieldExecutionID: strconv.FormatInt(id, 10),
		arena.FieldAgentID:     strconv.FormatUint(args.AgentID, 10),
		arena.FieldUser:        sender,
		arena.FieldAmount:      value.String(),
		arena.FieldRootHash:    args.StorageRootHash,
	})
}

func (s *state) completeStrategy(sender string, args domain.CallArgs) (string, error) {
	exec, err := s.execution(args.ExecutionID)
	if errors.Is(err, arena.ErrNotFound) {
		return revertExecutionNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if exec.completed {
		return revertAlreadyCompleted, nil
	}
	owner, _, err := s.agentOwner(exec.agentID)
	if err != nil {
		return "", err
	}
	if owner != sender {
		return revertNotOwner, nil
	}

	pnl := args.PnL
	if pnl == nil {
		pnl = new(big.Int)
	}
	return "", s.settle(exec, pnl)
}

func (s *state) deposit(sender string, value *big.Int) (string, error) {
	if value.Sign() <= 0 {
		return revertZeroAmount, nil
	}
	balance, _, err := loadAccount(s.ctx, s.tx, sender)
	if err != nil {
		return "", err
	}
	if balance.Cmp(value) < 0 {
		return revertInsufficient, nil
	}
	if err := setBalance(s.ctx, s.tx, sender, new(big.Int).Sub(balance, value)); err != nil {
		return "", err
	}

	pos, err := s.position(sender)
	if err != nil {
		return "", err
	}
	pos.Deposited.Add(pos.Deposited, value)
	if err := s.savePosition(sender, pos); err != nil {
		return "", err
	}

	return "", s.emit(domain.EventFundsDeposited, map[string]string{
		arena.FieldUser:   sender,
		arena.FieldAmount: value.String(),
	})
}

func (s *state) withdraw(sender string, args domain.CallArgs) (string, error) {
	amount := args.Amount
	if amount == nil || amount.Sign() <= 0 {
		return revertZeroAmount, nil
	}

	pos, err := s.position(sender)
	if err != nil {
		return "", err
	}
	available := new(big.Int).Sub(pos.Deposited, pos.Locked)
	if available.Cmp(amount) < 0 {
		return revertInsufficientArena, nil
	}
	pos.Deposited.Sub(pos.Deposited, amount)
	if err := s.savePosition(sender, pos); err != nil {
		return "", err
	}

	balance, _, err := loadAccount(s.ctx, s.tx, sender)
	if err != nil {
		return "", err
	}
	if err := setBalance(s.ctx, s.tx, sender, new(big.Int).Add(balance, amount)); err != nil {
		return "", err
	}

	return "", s.emit(domain.EventFundsWithdrawn, map[string]string{
		arena.FieldUser:   sender,
		arena.FieldAmount: amount.String(),
	})
}

type openExecution struct {
	id        uint64
	agentID   uint64
	user      string
	amount    *big.Int
	rootHash  string
	completed bool
}

// settle completes exec with pnl. Losses are capped at the staked amount.
func (s *state) settle(exec *openExecution, pnl *big.Int) error {
	floor := new(big.Int).Neg(exec.amount)
	if pnl.Cmp(floor) < 0 {
		pnl = floor
	}

	if _, err := s.tx.ExecContext(s.ctx, `
		UPDATE executions SET is_completed = 1, pnl = ?, completed_at = ? WHERE execution_id = ?
	`, pnl.String(), s.now.Unix(), exec.id); err != nil {
		return fmt.Errorf("failed to complete execution: %w", err)
	}

	pos, err := s.position(exec.user)
	if err != nil {
		return err
	}
	pos.Locked.Sub(pos.Locked, exec.amount)
	pos.Deposited.Add(pos.Deposited, pnl)
	pos.TotalPnL.Add(pos.TotalPnL, pnl)
	if err := s.savePosition(exec.user, pos); err != nil {
		return err
	}

	var rawPnL string
	if err := s.tx.QueryRowContext(s.ctx, `SELECT total_pnl FROM agents WHERE agent_id = ?`, exec.agentID).Scan(&rawPnL); err != nil {
		return fmt.Errorf("failed to read agent %d: %w", exec.agentID, err)
	}
	total := new(big.Int).Add(parseBig(rawPnL), pnl)
	if _, err := s.tx.ExecContext(s.ctx, `
		UPDATE agents
		SET total_trades = total_trades + 1,
			successful_trades = successful_trades + ?,
			total_pnl = ?
		WHERE agent_id = ?
	`, boolInt(pnl.Sign() > 0), total.String(), exec.agentID); err != nil {
		return fmt.Errorf("failed to update agent stats: %w", err)
	}

	return s.emit(domain.EventStrategyCompleted, map[string]string{
		arena.FieldExecutionID: strconv.FormatUint(exec.id, 10),
		arena.FieldAgentID:     strconv.FormatUint(exec.agentID, 10),
		arena.FieldUser:        exec.user,
		arena.FieldPnL:         pnl.String(),
	})
}

func (s *state) agentOwner(agentID uint64) (string, bool, error) {
	var owner string
	var active int
	err := s.tx.QueryRowContext(s.ctx, `SELECT owner, is_active FROM agents WHERE agent_id = ?`, agentID).Scan(&owner, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, arena.ErrNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read agent %d: %w", agentID, err)
	}
	return owner, active == 1, nil
}

func (s *state) execution(id uint64) (*openExecution, error) {
	e := &openExecution{id: id}
	var amount string
	var completed int
	err := s.tx.QueryRowContext(s.ctx, `
		SELECT agent_id, user_address, amount, storage_root_hash, is_completed FROM executions WHERE execution_id = ?
	`, id).Scan(&e.agentID, &e.user, &amount, &e.rootHash, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, arena.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read execution %d: %w", id, err)
	}
	e.amount = parseBig(amount)
	e.completed = completed == 1
	return e, nil
}

func (s *state) position(addr string) (*domain.UserPosition, error) {
	return readPosition(s.ctx, s.tx, addr)
}

func (s *state) savePosition(addr string, pos *domain.UserPosition) error {
	_, err := s.tx.ExecContext(s.ctx, `
		INSERT INTO positions (address, deposited, locked, total_pnl, last_updated) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			deposited = excluded.deposited,
			locked = excluded.locked,
			total_pnl = excluded.total_pnl,
			last_updated = excluded.last_updated
	`, addr, pos.Deposited.String(), pos.Locked.String(), pos.TotalPnL.String(), s.now.Unix())
	if err != nil {
		return fmt.Errorf("failed to write position of %s: %w", addr, err)
	}
	return nil
}

func (s *state) emit(name string, fields map[string]string) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = s.tx.ExecContext(s.ctx, `
		INSERT INTO events (name, block_number, tx_hash, fields) VALUES (?, ?, ?, ?)
	`, name, s.block, s.txHash, string(raw))
	if err != nil {
		return fmt.Errorf("failed to write event %s: %w", name, err)
	}
	return nil
}

// queryRower is satisfied by *sql.DB and *sql.Tx
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func readPosition(ctx context.Context, q queryRower, addr string) (*domain.UserPosition, error) {
	var deposited, locked, totalPnL string
	var updated int64
	err := q.QueryRowContext(ctx, `
		SELECT deposited, locked, total_pnl, last_updated FROM positions WHERE address = ?
	`, addr).Scan(&deposited, &locked, &totalPnL, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.UserPosition{Deposited: new(big.Int), Locked: new(big.Int), TotalPnL: new(big.Int)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read position of %s: %w", addr, err)
	}
	return &domain.UserPosition{
		Deposited:   parseBig(deposited),
		Locked:      parseBig(locked),
		TotalPnL:    parseBig(totalPnL),
		LastUpdated: time.Unix(updated, 0).UTC(),
	}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
