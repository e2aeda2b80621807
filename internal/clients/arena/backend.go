// Package arena is the client of the TradingArena contract.
package arena

import (
	"context"
	"errors"
	"math/big"

	"github.com/aristath/arena/internal/domain"
)

// Backend errors
var (
	ErrNotFound        = errors.New("not found")
	ErrReceiptNotFound = errors.New("receipt not found")
	ErrNonceTooLow     = errors.New("nonce too low")
	ErrBadSignature    = errors.New("invalid transaction signature")
	ErrWrongChain      = errors.New("transaction for another chain")
)

// Event field keys
const (
	FieldAgentID     = "agentId"
	FieldExecutionID = "executionId"
	FieldUser        = "user"
	FieldOwner       = "owner"
	FieldAmount      = "amount"
	FieldPnL         = "pnl"
	FieldName        = "name"
	FieldIsActive    = "isActive"
	FieldRootHash    = "storageRootHash"
)

// Backend defines the chain node the contract client talks to
type Backend interface {
	ChainID(ctx context.Context) (uint64, error)
	PendingNonce(ctx context.Context, account string) (uint64, error)
	NativeBalance(ctx context.Context, account string) (*big.Int, error)

	// SendTransaction queues a signed transaction and returns its hash
	SendTransaction(ctx context.Context, tx *domain.Transaction) (string, error)

	// TransactionReceipt returns ErrReceiptNotFound until tx is included
	TransactionReceipt(ctx context.Context, txHash string) (*domain.Receipt, error)

	Agent(ctx context.Context, agentID uint64) (*domain.AgentInfo, error)
	ActiveAgents(ctx context.Context) ([]domain.AgentInfo, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.AgentStats, error)
	Execution(ctx context.Context, executionID uint64) (*domain.ExecutionRecord, error)
	UserExecutions(ctx context.Context, user string) ([]domain.ExecutionRecord, error)
	BalanceOf(ctx context.Context, user string) (*big.Int, error)
	Position(ctx context.Context, user string) (*domain.UserPosition, error)

	// Events returns up to limit events with ID greater than afterID
	Events(ctx context.Context, afterID int64, limit int) ([]domain.ChainEvent, error)
}
