package events

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RunStepChangedData contains data for RunStepChanged events
type RunStepChangedData struct {
	RunID   string `json:"run_id"`
	AgentID uint64 `json:"agent_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// EventType returns the event type for RunStepChangedData
func (d *RunStepChangedData) EventType() EventType {
	return RunStepChanged
}

// RunCompletedData contains data for RunCompleted events
type RunCompletedData struct {
	RunID               string `json:"run_id"`
	AgentID             uint64 `json:"agent_id"`
	ExecutionID         uint64 `json:"execution_id"`
	StorageRootHash     string `json:"storage_root_hash"`
	TxHash              string `json:"tx_hash"`
	VerificationWarning bool   `json:"verification_warning"`
}

// EventType returns the event type for RunCompletedData
func (d *RunCompletedData) EventType() EventType {
	return RunCompleted
}

// RunFailedData contains data for RunFailed events
type RunFailedData struct {
	RunID          string `json:"run_id"`
	AgentID        uint64 `json:"agent_id"`
	Step           string `json:"step"`
	Kind           string `json:"kind"`
	Reason         string `json:"reason,omitempty"`
	Message        string `json:"message"`
	FundsCommitted bool   `json:"funds_committed"`
	MayStillLand   bool   `json:"may_still_land"`
}

// EventType returns the event type for RunFailedData
func (d *RunFailedData) EventType() EventType {
	return RunFailed
}

// InferenceChunkData contains data for InferenceChunk events
type InferenceChunkData struct {
	RunID   string `json:"run_id"`
	Content string `json:"content"`
}

// EventType returns the event type for InferenceChunkData
func (d *InferenceChunkData) EventType() EventType {
	return InferenceChunk
}

// SessionChangedData contains data for SessionChanged events
type SessionChangedData struct {
	Address   string `json:"address"`
	ChainID   uint64 `json:"chain_id"`
	Connected bool   `json:"connected"`
}

// EventType returns the event type for SessionChangedData
func (d *SessionChangedData) EventType() EventType {
	return SessionChanged
}

// ContractEventData contains data for ContractEvent events
type ContractEventData struct {
	Name   string            `json:"name"`
	Block  uint64            `json:"block"`
	TxHash string            `json:"tx_hash"`
	Fields map[string]string `json:"fields"`
}

// EventType returns the event type for ContractEventData
func (d *ContractEventData) EventType() EventType {
	return ContractEvent
}

// ExecutionReconciledData contains data for ExecutionReconciled events
type ExecutionReconciledData struct {
	RunID       string `json:"run_id"`
	TxHash      string `json:"tx_hash"`
	ExecutionID uint64 `json:"execution_id,omitempty"`
	Outcome     string `json:"outcome"`
	PnL         string `json:"pnl,omitempty"`
}

// EventType returns the event type for ExecutionReconciledData
func (d *ExecutionReconciledData) EventType() EventType {
	return ExecutionReconciled
}

// ProvidersRefreshedData contains data for ProvidersRefreshed events
type ProvidersRefreshedData struct {
	Count int `json:"count"`
}

// EventType returns the event type for ProvidersRefreshedData
func (d *ProvidersRefreshedData) EventType() EventType {
	return ProvidersRefreshed
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
