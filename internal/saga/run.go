// Package saga drives one strategy run from wallet check to on-chain completion.
package saga

import (
	"time"

	"github.com/aristath/arena/internal/clients/compute"
	"github.com/aristath/arena/internal/domain"
)

// Step is a state of the run state machine
type Step string

const (
	StepIdle                Step = "idle"
	StepConnecting          Step = "connecting"
	StepRequestingInference Step = "requesting_inference"
	StepProcessingInference Step = "processing_inference"
	StepUploadingStorage    Step = "uploading_storage"
	StepExecutingContract   Step = "executing_contract"
	StepVerifyingTEE        Step = "verifying_tee"
	StepCompleted           Step = "completed"
	StepFailed              Step = "failed"
)

// Terminal reports whether no further transition can happen
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// Active reports whether a run in this step blocks a new submission
func (s Step) Active() bool {
	return s != StepIdle && !s.Terminal()
}

// Request starts a run
type Request struct {
	AgentID  uint64                 `json:"agent_id"`
	Provider string                 `json:"provider"`
	Config   domain.StrategyConfig  `json:"config"`
	Market   *compute.MarketContext `json:"market,omitempty"`
	Stream   bool                   `json:"stream"`
}

// Validate checks the request without touching the network
func (r Request) Validate() error {
	if r.AgentID == 0 {
		return domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "agent id is required")
	}
	if r.Provider == "" {
		return domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "provider is required")
	}
	return r.Config.Validate()
}

// Failure records why and where a run failed
type Failure struct {
	Step    Step             `json:"step"`
	Kind    domain.ErrorKind `json:"kind"`
	Reason  domain.Reason    `json:"reason,omitempty"`
	Message string           `json:"message"`
}

// Transition is one entry of a run's step history
type Transition struct {
	From Step      `json:"from"`
	To   Step      `json:"to"`
	At   time.Time `json:"at"`
}

// Run is a snapshot of a strategy run
type Run struct {
	ID       string                `json:"id"`
	AgentID  uint64                `json:"agent_id"`
	Provider string                `json:"provider"`
	User     string                `json:"user"`
	Step     Step                  `json:"step"`
	Config   domain.StrategyConfig `json:"config"`

	Inference *domain.InferenceResult `json:"inference_result,omitempty"`
	Storage   *domain.StorageRecord   `json:"storage_record,omitempty"`
	Execution *domain.ExecutionRecord `json:"execution_record,omitempty"`
	TxHash    string                  `json:"tx_hash,omitempty"`

	Failure *Failure `json:"failure,omitempty"`

	// VerificationWarning is set when a completed run's TEE attestation
	// could not be confirmed. Funds have moved; trust is degraded.
	VerificationWarning bool `json:"verification_warning"`
	// FundsCommitted is set once the contract accepted the execution
	FundsCommitted bool `json:"funds_committed"`
	// MayStillLand is set when the run stopped waiting on a dispatched
	// transaction whose outcome is unknown
	MayStillLand bool `json:"may_still_land"`

	History    []Transition `json:"history"`
	StartedAt  time.Time    `json:"started_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// clone returns a copy safe to hand out while the run keeps changing
func (r *Run) clone() Run {
	out := *r
	if r.Inference != nil {
		v := *r.Inference
		out.Inference = &v
	}
	if r.Storage != nil {
		v := *r.Storage
		out.Storage = &v
	}
	if r.Execution != nil {
		v := *r.Execution
		out.Execution = &v
	}
	if r.Failure != nil {
		v := *r.Failure
		out.Failure = &v
	}
	if r.FinishedAt != nil {
		v := *r.FinishedAt
		out.FinishedAt = &v
	}
	out.History = append([]Transition(nil), r.History...)
	return out
}
