// Package events provides event management functionality.
package events

// EventType identifies a class of arena event
type EventType string

const (
	// Strategy run lifecycle
	RunStepChanged EventType = "RUN_STEP_CHANGED"
	RunCompleted   EventType = "RUN_COMPLETED"
	RunFailed      EventType = "RUN_FAILED"
	InferenceChunk EventType = "INFERENCE_CHUNK"

	// Wallet session
	SessionChanged EventType = "SESSION_CHANGED"

	// Chain
	ContractEvent       EventType = "CONTRACT_EVENT"
	ExecutionReconciled EventType = "EXECUTION_RECONCILED"

	// Providers
	ProvidersRefreshed EventType = "PROVIDERS_REFRESHED"

	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// AllTypes lists every event type the arena emits
func AllTypes() []EventType {
	return []EventType{
		RunStepChanged,
		RunCompleted,
		RunFailed,
		InferenceChunk,
		SessionChanged,
		ContractEvent,
		ExecutionReconciled,
		ProvidersRefreshed,
		ErrorOccurred,
	}
}
