package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
)

// Method names a TradingArena contract function
type Method string

const (
	MethodRegisterAgent     Method = "registerAgent"
	MethodUpdateAgentStatus Method = "updateAgentStatus"
	MethodExecuteStrategy   Method = "executeStrategy"
	MethodCompleteStrategy  Method = "completeStrategy"
	MethodDeposit           Method = "deposit"
	MethodWithdraw          Method = "withdraw"
)

// Contract event names
const (
	EventAgentRegistered    = "AgentRegistered"
	EventAgentStatusUpdated = "AgentStatusUpdated"
	EventStrategyExecuted   = "StrategyExecuted"
	EventStrategyCompleted  = "StrategyCompleted"
	EventFundsDeposited     = "FundsDeposited"
	EventFundsWithdrawn     = "FundsWithdrawn"
)

// CallArgs carries the arguments of a contract call. Only the fields used by Method are set.
type CallArgs struct {
	AgentID         uint64   `json:"agent_id,omitempty"`
	ExecutionID     uint64   `json:"execution_id,omitempty"`
	Name            string   `json:"name,omitempty"`
	Description     string   `json:"description,omitempty"`
	ModelProvider   string   `json:"model_provider,omitempty"`
	Metadata        string   `json:"metadata,omitempty"`
	IsActive        bool     `json:"is_active,omitempty"`
	StrategyData    string   `json:"strategy_data,omitempty"`
	StorageRootHash string   `json:"storage_root_hash,omitempty"`
	TEESignature    string   `json:"tee_signature,omitempty"`
	PnL             *big.Int `json:"pnl,omitempty"`
	Amount          *big.Int `json:"amount,omitempty"`
}

// Transaction is a contract call from one account
type Transaction struct {
	From      string   `json:"from"`
	ChainID   uint64   `json:"chain_id"`
	Nonce     uint64   `json:"nonce"`
	Method    Method   `json:"method"`
	Args      CallArgs `json:"args"`
	Value     *big.Int `json:"value,omitempty"`
	Signature string   `json:"signature,omitempty"`
}

// SigningPayload returns the canonical bytes a signer signs
func (t *Transaction) SigningPayload() ([]byte, error) {
	unsigned := *t
	unsigned.Signature = ""
	return json.Marshal(unsigned)
}

// Hash returns the transaction hash over the signed payload
func (t *Transaction) Hash() (string, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// TxStatus is the outcome of an included transaction
type TxStatus string

const (
	TxSuccess  TxStatus = "success"
	TxReverted TxStatus = "reverted"
)

// ChainEvent is a decoded contract event
type ChainEvent struct {
	ID     int64             `json:"id"`
	Name   string            `json:"name"`
	Block  uint64            `json:"block"`
	TxHash string            `json:"tx_hash"`
	Fields map[string]string `json:"fields"`
}

// Receipt reports the inclusion of a transaction
type Receipt struct {
	TxHash       string       `json:"tx_hash"`
	Status       TxStatus     `json:"status"`
	BlockNumber  uint64       `json:"block_number"`
	RevertReason string       `json:"revert_reason,omitempty"`
	Events       []ChainEvent `json:"events,omitempty"`
}

// Event returns the first event with the given name
func (r *Receipt) Event(name string) (ChainEvent, bool) {
	for _, ev := range r.Events {
		if ev.Name == name {
			return ev, true
		}
	}
	return ChainEvent{}, false
}
