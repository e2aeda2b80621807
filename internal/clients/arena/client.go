package arena

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultPollInterval    = 500 * time.Millisecond
	defaultMaxPollInterval = 5 * time.Second
)

// Guard serializes signature-requiring wallet operations
type Guard interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Options tunes receipt and completion polling
type Options struct {
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

// Client signs and sends TradingArena calls for one wallet and reads contract views
type Client struct {
	backend Backend
	signer  domain.Signer
	guard   Guard
	opts    Options
	log     zerolog.Logger
}

// NewClient creates a contract client for signer
func NewClient(backend Backend, signer domain.Signer, guard Guard, opts Options, log zerolog.Logger) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = defaultMaxPollInterval
		if opts.MaxPollInterval < opts.PollInterval {
			opts.MaxPollInterval = opts.PollInterval
		}
	}
	return &Client{
		backend: backend,
		signer:  signer,
		guard:   guard,
		opts:    opts,
		log:     log.With().Str("client", "arena").Logger(),
	}
}

// PendingTx is a broadcast transaction whose receipt has not been observed
type PendingTx struct {
	Hash   string        `json:"hash"`
	Method domain.Method `json:"method"`
	Nonce  uint64        `json:"nonce"`
	SentAt time.Time     `json:"sent_at"`
}

// ExecuteParams are the arguments of executeStrategy
type ExecuteParams struct {
	AgentID         uint64
	StrategyData    string
	StorageRootHash string
	TEESignature    string
	Amount          decimal.Decimal
}

// ExecutionReceipt is an accepted executeStrategy call
type ExecutionReceipt struct {
	ExecutionID uint64 `json:"execution_id"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// AgentParams are the arguments of registerAgent
type AgentParams struct {
	Name          string
	Description   string
	ModelProvider string
	Metadata      string
}

// Address returns the account the client signs for
func (c *Client) Address() string {
	return c.signer.Address()
}

// CheckNetwork fails with WrongNetwork when the wallet is not on the node's chain
func (c *Client) CheckNetwork(ctx context.Context) error {
	want, err := c.backend.ChainID(ctx)
	if err != nil {
		return domain.FromContext(err, domain.KindConnectivity, domain.ReasonConnectionTimeout, "chain node unreachable")
	}
	got, err := c.signer.ChainID(ctx)
	if err != nil {
		return domain.FromContext(err, domain.KindConnectivity, domain.ReasonSignerUnavailable, "wallet unavailable")
	}
	if got != want {
		return domain.NewError(domain.KindConnectivity, domain.ReasonWrongNetwork,
			"wallet is on chain %d, arena is on chain %d", got, want)
	}
	return nil
}

// ExecuteStrategy sends executeStrategy and waits until the chain accepts it.
// Acceptance is inclusion, not settlement; use AwaitCompletion for the outcome.
func (c *Client) ExecuteStrategy(ctx context.Context, p ExecuteParams) (*ExecutionReceipt, error) {
	pending, err := c.DispatchExecution(ctx, p)
	if err != nil {
		return nil, err
	}
	return c.WaitAccepted(ctx, pending)
}

// DispatchExecution signs and broadcasts executeStrategy without waiting.
// Once this returns without error the transaction may land at any time.
func (c *Client) DispatchExecution(ctx context.Context, p ExecuteParams) (*PendingTx, error) {
	if !p.Amount.IsPositive() {
		return nil, domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "execution amount must be positive")
	}
	if p.StorageRootHash == "" {
		return nil, domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "storage root hash is required")
	}
	return c.send(ctx, domain.MethodExecuteStrategy, domain.CallArgs{
		AgentID:         p.AgentID,
		StrategyData:    p.StrategyData,
		StorageRootHash: p.StorageRootHash,
		TEESignature:    p.TEESignature,
	}, domain.ToWei(p.Amount))
}

// WaitAccepted waits for the receipt of a dispatched execution and returns
// the execution id assigned by the contract
func (c *Client) WaitAccepted(ctx context.Context, pending *PendingTx) (*ExecutionReceipt, error) {
	receipt, err := c.WaitReceipt(ctx, pending.Hash)
	if err != nil {
		return nil, err
	}

	ev, ok := receipt.Event(domain.EventStrategyExecuted)
	if !ok {
		return nil, domain.NewError(domain.KindContract, domain.ReasonContractRejected,
			"transaction %s emitted no %s event", pending.Hash, domain.EventStrategyExecuted)
	}
	id, err := EventUint(ev, FieldExecutionID)
	if err != nil {
		return nil, domain.WrapError(domain.KindContract, domain.ReasonContractRejected, err, "malformed execution event")
	}

	c.log.Info().
		Uint64("execution_id", id).
		Str("tx_hash", receipt.TxHash).
		Uint64("block", receipt.BlockNumber).
		Msg("Strategy execution accepted")

	return &ExecutionReceipt{ExecutionID: id, TxHash: receipt.TxHash, BlockNumber: receipt.BlockNumber}, nil
}

// AwaitCompletion polls the execution until the agent settles it
func (c *Client) AwaitCompletion(ctx context.Context, executionID uint64) (*domain.ExecutionRecord, error) {
	for attempt := 1; ; attempt++ {
		rec, err := c.backend.Execution(ctx, executionID)
		switch {
		case err == nil && rec.IsCompleted:
			return rec, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			if ctx.Err() != nil {
				return nil, c.pendingError(ctx.Err(), "execution %d not completed", executionID)
			}
			return nil, domain.FromContext(err, domain.KindContract, domain.ReasonContractRejected, "failed to read execution")
		}

		select {
		case <-ctx.Done():
			return nil, c.pendingError(ctx.Err(), "execution %d not completed", executionID)
		case <-time.After(c.backoff(attempt)):
		}
	}
}

// WaitReceipt polls for the receipt of txHash with exponential backoff.
// Reverted transactions are returned as ContractRejected or InsufficientFunds.
func (c *Client) WaitReceipt(ctx context.Context, txHash string) (*domain.Receipt, error) {
	for attempt := 1; ; attempt++ {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status == domain.TxReverted {
				return receipt, revertError(txHash, receipt.RevertReason)
			}
			return receipt, nil
		}
		if !errors.Is(err, ErrReceiptNotFound) {
			if ctx.Err() != nil {
				return nil, c.pendingError(ctx.Err(), "transaction %s pending", txHash)
			}
			return nil, domain.FromContext(err, domain.KindConnectivity, domain.ReasonConnectionTimeout, "failed to read receipt")
		}

		select {
		case <-ctx.Done():
			return nil, c.pendingError(ctx.Err(), "transaction %s pending", txHash)
		case <-time.After(c.backoff(attempt)):
		}
	}
}

// Receipt returns the receipt of txHash, or false while it is pending
func (c *Client) Receipt(ctx context.Context, txHash string) (*domain.Receipt, bool, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ErrReceiptNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.FromContext(err, domain.KindConnectivity, domain.ReasonConnectionTimeout, "failed to read receipt")
	}
	return receipt, true, nil
}

// RegisterAgent registers an agent owned by the wallet and returns its id
func (c *Client) RegisterAgent(ctx context.Context, p AgentParams) (uint64, string, error) {
	if strings.TrimSpace(p.Name) == "" {
		return 0, "", domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "agent name is required")
	}
	receipt, err := c.call(ctx, domain.MethodRegisterAgent, domain.CallArgs{
		Name:          p.Name,
		Description:   p.Description,
		ModelProvider: p.ModelProvider,
		Metadata:      p.Metadata,
	}, nil)
	if err != nil {
		return 0, "", err
	}

	ev, ok := receipt.Event(domain.EventAgentRegistered)
	if !ok {
		return 0, receipt.TxHash, domain.NewError(domain.KindContract, domain.ReasonContractRejected, "no %s event", domain.EventAgentRegistered)
	}
	id, err := EventUint(ev, FieldAgentID)
	if err != nil {
		return 0, receipt.TxHash, domain.WrapError(domain.KindContract, domain.ReasonContractRejected, err, "malformed agent event")
	}
	return id, receipt.TxHash, nil
}

// UpdateAgentStatus activates or deactivates an agent owned by the wallet
func (c *Client) UpdateAgentStatus(ctx context.Context, agentID uint64, active bool) (*domain.Receipt, error) {
	return c.call(ctx, domain.MethodUpdateAgentStatus, domain.CallArgs{AgentID: agentID, IsActive: active}, nil)
}

// CompleteStrategy settles an execution with a signed PnL in wei
func (c *Client) CompleteStrategy(ctx context.Context, executionID uint64, pnl *big.Int) (*domain.Receipt, error) {
	if pnl == nil {
		pnl = new(big.Int)
	}
	return c.call(ctx, domain.MethodCompleteStrategy, domain.CallArgs{ExecutionID: executionID, PnL: pnl}, nil)
}

// Deposit moves amount from the wallet into the arena
func (c *Client) Deposit(ctx context.Context, amount decimal.Decimal) (*domain.Receipt, error) {
	if !amount.IsPositive() {
		return nil, domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "deposit amount must be positive")
	}
	return c.call(ctx, domain.MethodDeposit, domain.CallArgs{}, domain.ToWei(amount))
}

// Withdraw moves amount from the arena back to the wallet
func (c *Client) Withdraw(ctx context.Context, amount decimal.Decimal) (*domain.Receipt, error) {
	if !amount.IsPositive() {
		return nil, domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "withdraw amount must be positive")
	}
	return c.call(ctx, domain.MethodWithdraw, domain.CallArgs{Amount: domain.ToWei(amount)}, nil)
}

func (c *Client) call(ctx context.Context, method domain.Method, args domain.CallArgs, value *big.Int) (*domain.Receipt, error) {
	pending, err := c.send(ctx, method, args, value)
	if err != nil {
		return nil, err
	}
	return c.WaitReceipt(ctx, pending.Hash)
}

// send builds, signs and broadcasts one call. Nonce allocation and signing
// happen under the wallet guard so concurrent writes never share a nonce.
func (c *Client) send(ctx context.Context, method domain.Method, args domain.CallArgs, value *big.Int) (*PendingTx, error) {
	chainID, err := c.signer.ChainID(ctx)
	if err != nil {
		return nil, domain.FromContext(err, domain.KindConnectivity, domain.ReasonSignerUnavailable, "wallet unavailable")
	}

	var pending *PendingTx
	err = c.guard.Do(ctx, func(ctx context.Context) error {
		from := c.signer.Address()

		nonce, err := c.backend.PendingNonce(ctx, from)
		if err != nil {
			return domain.FromContext(err, domain.KindConnectivity, domain.ReasonConnectionTimeout, "failed to read nonce")
		}

		if value != nil && value.Sign() > 0 {
			balance, err := c.backend.NativeBalance(ctx, from)
			if err != nil {
				return domain.FromContext(err, domain.KindConnectivity, domain.ReasonConnectionTimeout, "failed to read balance")
			}
			if balance.Cmp(value) < 0 {
				return domain.NewError(domain.KindContract, domain.ReasonInsufficientFunds,
					"balance %s is below the %s required", domain.FromWei(balance), domain.FromWei(value))
			}
		}

		tx := &domain.Transaction{
			From:    from,
			ChainID: chainID,
			Nonce:   nonce,
			Method:  method,
			Args:    args,
			Value:   value,
		}
		sig, err := c.signer.SignTransaction(ctx, tx)
		if err != nil {
			if errors.Is(err, domain.ErrUserRejected) {
				return domain.WrapError(domain.KindContract, domain.ReasonUserRejectedSignature, err, "transaction was not signed")
			}
			return domain.FromContext(err, domain.KindConnectivity, domain.ReasonSignerUnavailable, "signing failed")
		}
		tx.Signature = sig

		hash, err := c.backend.SendTransaction(ctx, tx)
		if err != nil {
			if errors.Is(err, ErrWrongChain) {
				return domain.WrapError(domain.KindConnectivity, domain.ReasonWrongNetwork, err, "transaction rejected")
			}
			return domain.FromContext(err, domain.KindContract, domain.ReasonContractRejected, "broadcast rejected")
		}

		pending = &PendingTx{Hash: hash, Method: method, Nonce: nonce, SentAt: time.Now()}
		return nil
	})
	if err != nil {
		return nil, domain.FromContext(err, domain.KindContract, domain.ReasonSignerUnavailable, "waiting for the wallet")
	}

	c.log.Debug().
		Str("method", string(method)).
		Str("tx_hash", pending.Hash).
		Uint64("nonce", pending.Nonce).
		Msg("Transaction broadcast")
	return pending, nil
}

// pendingError reports a wait that ended before the outcome was known
func (c *Client) pendingError(ctxErr error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return domain.WrapError(domain.KindTimeout, domain.ReasonTransactionPending, ctxErr, msg)
	}
	return domain.WrapError(domain.KindCancelled, domain.ReasonTransactionPending, ctxErr, msg)
}

// backoff doubles the poll interval per attempt up to the cap
func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.opts.PollInterval) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.opts.MaxPollInterval) {
		delay = float64(c.opts.MaxPollInterval)
	}
	return time.Duration(delay)
}

func revertError(txHash, reason string) error {
	if strings.Contains(strings.ToLower(reason), "insufficient") {
		return domain.NewError(domain.KindContract, domain.ReasonInsufficientFunds, "transaction %s reverted: %s", txHash, reason)
	}
	return domain.NewError(domain.KindContract, domain.ReasonContractRejected, "transaction %s reverted: %s", txHash, reason)
}

// EventUint parses a numeric event field
func EventUint(ev domain.ChainEvent, field string) (uint64, error) {
	raw, ok := ev.Fields[field]
	if !ok {
		return 0, fmt.Errorf("event %s has no field %s", ev.Name, field)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("event %s field %s: %w", ev.Name, field, err)
	}
	return v, nil
}

// EventBigInt parses a signed integer event field
func EventBigInt(ev domain.ChainEvent, field string) (*big.Int, error) {
	raw, ok := ev.Fields[field]
	if !ok {
		return nil, fmt.Errorf("event %s has no field %s", ev.Name, field)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("event %s field %s: invalid integer %q", ev.Name, field, raw)
	}
	return v, nil
}
