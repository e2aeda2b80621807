package saga

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aristath/arena/internal/clients/arena"
	"github.com/aristath/arena/internal/clients/storage"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	moduleName     = "saga"
	maxRetainedRun = 20
)

// Wallet is the connected account a run acts for
type Wallet interface {
	Address() string
	ChainID(ctx context.Context) (uint64, error)
}

// InferenceService requests and verifies strategy inference
type InferenceService interface {
	RequestInference(ctx context.Context, provider string, req domain.InferenceRequest) (*domain.InferenceResult, error)
	RequestInferenceStream(ctx context.Context, provider string, req domain.InferenceRequest, onChunk func(string)) (*domain.InferenceResult, error)
	VerifyToken(ctx context.Context, provider, token string) (bool, error)
}

// StorageService persists the strategy record of a run
type StorageService interface {
	UploadStrategyRecord(ctx context.Context, r *storage.StrategyRecord) (*domain.StorageRecord, error)
}

// ContractService submits and follows executions on the arena contract
type ContractService interface {
	CheckNetwork(ctx context.Context) error
	DispatchExecution(ctx context.Context, p arena.ExecuteParams) (*arena.PendingTx, error)
	WaitAccepted(ctx context.Context, pending *arena.PendingTx) (*arena.ExecutionReceipt, error)
	AwaitCompletion(ctx context.Context, executionID uint64) (*domain.ExecutionRecord, error)
}

// PendingExecution is a dispatched execution whose outcome the run did not observe
type PendingExecution struct {
	RunID        string    `json:"run_id"`
	AgentID      uint64    `json:"agent_id"`
	TxHash       string    `json:"tx_hash"`
	ExecutionID  uint64    `json:"execution_id,omitempty"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// Tracker receives executions that must be reconciled after the run ended
type Tracker interface {
	Track(p PendingExecution)
}

// Timeouts bound every network-bound phase of a run
type Timeouts struct {
	Connect   time.Duration
	Inference time.Duration
	Upload    time.Duration
	Submit    time.Duration // signature prompt and broadcast
	Confirm   time.Duration // acceptance and completion waits
	Verify    time.Duration
}

// DefaultTimeouts are the bounds used when none are configured
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:   10 * time.Second,
		Inference: 90 * time.Second,
		Upload:    60 * time.Second,
		Submit:    2 * time.Minute,
		Confirm:   3 * time.Minute,
		Verify:    30 * time.Second,
	}
}

// Deps are the collaborators of a Coordinator. Tracker may be nil.
type Deps struct {
	Wallet    Wallet
	Inference InferenceService
	Storage   StorageService
	Contracts ContractService
	Tracker   Tracker
	Events    *events.Manager
}

type runState struct {
	run    Run
	cancel context.CancelFunc
	done   chan struct{}

	dispatched      bool
	dispatchedAt    time.Time
	cancelRequested bool
}

// Coordinator runs at most one strategy run at a time for one wallet session
type Coordinator struct {
	deps     Deps
	timeouts Timeouts
	log      zerolog.Logger
	now      func() time.Time

	tracer   trace.Tracer
	outcomes metric.Int64Counter

	mu      sync.Mutex
	current *runState
	runs    map[string]*runState
	order   []string
	closed  bool
}

// NewCoordinator creates a coordinator for one session
func NewCoordinator(deps Deps, timeouts Timeouts, log zerolog.Logger) *Coordinator {
	c := &Coordinator{
		deps:     deps,
		timeouts: timeouts,
		log:      log.With().Str("service", "saga").Logger(),
		now:      time.Now,
		tracer:   telemetry.Tracer("arena/saga"),
		runs:     make(map[string]*runState),
	}

	counter, err := telemetry.Meter("arena/saga").Int64Counter("arena.saga.runs",
		metric.WithDescription("Strategy runs by outcome"))
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to create run counter")
	}
	c.outcomes = counter
	return c
}

// Submit validates req and starts a run in the background. The run is in
// the connecting step when Submit returns.
func (c *Coordinator) Submit(ctx context.Context, req Request) (Run, error) {
	if err := req.Validate(); err != nil {
		return Run{}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Run{}, domain.NewError(domain.KindConnectivity, domain.ReasonSignerUnavailable, "wallet session closed")
	}
	if c.current != nil && c.current.run.Step.Active() {
		id := c.current.run.ID
		c.mu.Unlock()
		return Run{}, domain.NewError(domain.KindRunInProgress, domain.ReasonNone, "run %s is still in progress", id)
	}

	now := c.now()
	rs := &runState{
		run: Run{
			ID:        uuid.New().String(),
			AgentID:   req.AgentID,
			Provider:  req.Provider,
			Step:      StepIdle,
			Config:    req.Config,
			StartedAt: now,
			UpdatedAt: now,
		},
		done: make(chan struct{}),
	}
	if c.deps.Wallet != nil {
		rs.run.User = c.deps.Wallet.Address()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rs.cancel = cancel
	c.current = rs
	c.retain(rs)
	c.transitionLocked(rs, StepConnecting)
	snapshot := rs.run.clone()
	c.mu.Unlock()

	c.emitStep(snapshot.ID, snapshot.AgentID, StepIdle, StepConnecting)
	c.log.Info().
		Str("run_id", snapshot.ID).
		Uint64("agent_id", req.AgentID).
		Str("provider", req.Provider).
		Msg("Strategy run submitted")

	go c.drive(runCtx, rs, req)
	return snapshot, nil
}

// Execute submits req and waits for the run to finish
func (c *Coordinator) Execute(ctx context.Context, req Request) (Run, error) {
	run, err := c.Submit(ctx, req)
	if err != nil {
		return Run{}, err
	}
	return c.Wait(ctx, run.ID)
}

// Wait blocks until the run is terminal or ctx is done
func (c *Coordinator) Wait(ctx context.Context, runID string) (Run, error) {
	c.mu.Lock()
	rs, ok := c.runs[runID]
	c.mu.Unlock()
	if !ok {
		return Run{}, domain.NewError(domain.KindValidation, domain.ReasonNotFound, "run %s not found", runID)
	}

	select {
	case <-rs.done:
	case <-ctx.Done():
		return c.snapshot(rs), domain.FromContext(ctx.Err(), domain.KindTimeout, domain.ReasonNone, "waiting for run")
	}
	return c.snapshot(rs), nil
}

// Current returns the session's current run
func (c *Coordinator) Current() (Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Run{}, false
	}
	return c.current.run.clone(), true
}

// Get returns a run of this session by id
func (c *Coordinator) Get(runID string) (Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.runs[runID]
	if !ok {
		return Run{}, false
	}
	return rs.run.clone(), true
}

// Cancel stops an active run. Before the contract transaction is dispatched
// the run fails cleanly; afterwards only the wait stops and the transaction
// may still land.
func (c *Coordinator) Cancel(runID string) error {
	c.mu.Lock()
	rs, ok := c.runs[runID]
	if !ok {
		c.mu.Unlock()
		return domain.NewError(domain.KindValidation, domain.ReasonNotFound, "run %s not found", runID)
	}
	if rs.run.Step.Terminal() {
		c.mu.Unlock()
		return domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "run %s already %s", runID, rs.run.Step)
	}
	rs.cancelRequested = true
	dispatched := rs.dispatched
	c.mu.Unlock()

	c.log.Info().Str("run_id", runID).Bool("dispatched", dispatched).Msg("Cancelling run")
	rs.cancel()
	return nil
}

// Reset drops the finished current run
func (c *Coordinator) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.run.Step.Active() {
		return domain.NewError(domain.KindRunInProgress, domain.ReasonNone, "run %s is still in progress", c.current.run.ID)
	}
	c.current = nil
	return nil
}

// Close tears the coordinator down with its session. An active run stops
// waiting and Close returns once it has recorded its final state.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	rs := c.current
	if rs != nil && !rs.run.Step.Terminal() {
		rs.cancelRequested = true
	}
	c.mu.Unlock()

	if rs != nil {
		rs.cancel()
		<-rs.done
	}
}

func (c *Coordinator) snapshot(rs *runState) Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rs.run.clone()
}

// retain keeps a bounded number of finished runs reachable by id
func (c *Coordinator) retain(rs *runState) {
	c.runs[rs.run.ID] = rs
	c.order = append(c.order, rs.run.ID)
	for len(c.order) > maxRetainedRun {
		oldest := c.runs[c.order[0]]
		if oldest != nil && oldest.run.Step.Active() {
			break
		}
		delete(c.runs, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *Coordinator) transitionLocked(rs *runState, to Step) Step {
	from := rs.run.Step
	now := c.now()
	rs.run.Step = to
	rs.run.UpdatedAt = now
	rs.run.History = append(rs.run.History, Transition{From: from, To: to, At: now})
	if to.Terminal() {
		rs.run.FinishedAt = &now
	}
	return from
}

// transition moves rs to step and publishes the change
func (c *Coordinator) transition(rs *runState, to Step) {
	c.mu.Lock()
	from := c.transitionLocked(rs, to)
	id, agentID := rs.run.ID, rs.run.AgentID
	c.mu.Unlock()

	c.log.Info().Str("run_id", id).Uint64("agent_id", agentID).Str("step", string(to)).Msg("Run step changed")
	c.emitStep(id, agentID, from, to)
}

func (c *Coordinator) emitStep(runID string, agentID uint64, from, to Step) {
	if c.deps.Events == nil {
		return
	}
	c.deps.Events.EmitTyped(events.RunStepChanged, moduleName, &events.RunStepChangedData{
		RunID:   runID,
		AgentID: agentID,
		From:    string(from),
		To:      string(to),
	})
}

// update mutates the run under the lock
func (c *Coordinator) update(rs *runState, fn func(r *Run)) {
	c.mu.Lock()
	fn(&rs.run)
	rs.run.UpdatedAt = c.now()
	c.mu.Unlock()
}

func (c *Coordinator) markDispatched(rs *runState, txHash string) {
	c.mu.Lock()
	rs.dispatched = true
	rs.dispatchedAt = c.now()
	rs.run.TxHash = txHash
	rs.run.UpdatedAt = rs.dispatchedAt
	c.mu.Unlock()
}

func (c *Coordinator) countOutcome(ctx context.Context, outcome string) {
	if c.outcomes == nil {
		return
	}
	c.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// fail records err as the terminal failure of rs at step
func (c *Coordinator) fail(ctx context.Context, rs *runState, step Step, err error) {
	c.mu.Lock()
	cancelled := rs.cancelRequested
	dispatched := rs.dispatched
	dispatchedAt := rs.dispatchedAt
	c.mu.Unlock()

	kind := domain.KindOf(err)
	reason := domain.ReasonOf(err)
	switch {
	case cancelled:
		kind, reason = domain.KindCancelled, domain.ReasonUserCancelled
	case errors.Is(err, context.DeadlineExceeded) || kind == domain.KindTimeout:
		kind = domain.KindTimeout
		if step == StepConnecting {
			reason = domain.ReasonConnectionTimeout
		}
	case kind == "":
		kind, reason = defaultKind(step)
	}

	// Once dispatched, only a definitive chain answer rules out a late landing
	mayStillLand := dispatched && (kind == domain.KindTimeout || kind == domain.KindCancelled || kind == domain.KindConnectivity)

	var snapshot Run
	c.mu.Lock()
	rs.run.Failure = &Failure{Step: step, Kind: kind, Reason: reason, Message: err.Error()}
	rs.run.MayStillLand = mayStillLand
	c.transitionLocked(rs, StepFailed)
	snapshot = rs.run.clone()
	c.mu.Unlock()

	c.log.Error().
		Err(err).
		Str("run_id", snapshot.ID).
		Str("step", string(step)).
		Str("kind", string(kind)).
		Str("reason", string(reason)).
		Bool("funds_committed", snapshot.FundsCommitted).
		Bool("may_still_land", mayStillLand).
		Msg("Strategy run failed")

	c.emitStep(snapshot.ID, snapshot.AgentID, step, StepFailed)
	if c.deps.Events != nil {
		c.deps.Events.EmitTyped(events.RunFailed, moduleName, &events.RunFailedData{
			RunID:          snapshot.ID,
			AgentID:        snapshot.AgentID,
			Step:           string(step),
			Kind:           string(kind),
			Reason:         string(reason),
			Message:        err.Error(),
			FundsCommitted: snapshot.FundsCommitted,
			MayStillLand:   mayStillLand,
		})
	}

	if mayStillLand && c.deps.Tracker != nil {
		pending := PendingExecution{
			RunID:        snapshot.ID,
			AgentID:      snapshot.AgentID,
			TxHash:       snapshot.TxHash,
			DispatchedAt: dispatchedAt,
		}
		if snapshot.Execution != nil {
			pending.ExecutionID = snapshot.Execution.ExecutionID
		}
		c.deps.Tracker.Track(pending)
	}

	outcome := "failed"
	if kind == domain.KindCancelled {
		outcome = "cancelled"
	}
	c.countOutcome(ctx, outcome)
}

func (c *Coordinator) complete(ctx context.Context, rs *runState) {
	c.mu.Lock()
	from := c.transitionLocked(rs, StepCompleted)
	snapshot := rs.run.clone()
	c.mu.Unlock()

	c.log.Info().
		Str("run_id", snapshot.ID).
		Uint64("agent_id", snapshot.AgentID).
		Str("tx_hash", snapshot.TxHash).
		Bool("verification_warning", snapshot.VerificationWarning).
		Msg("Strategy run completed")

	c.emitStep(snapshot.ID, snapshot.AgentID, from, StepCompleted)
	if c.deps.Events != nil {
		data := &events.RunCompletedData{
			RunID:               snapshot.ID,
			AgentID:             snapshot.AgentID,
			TxHash:              snapshot.TxHash,
			VerificationWarning: snapshot.VerificationWarning,
		}
		if snapshot.Execution != nil {
			data.ExecutionID = snapshot.Execution.ExecutionID
		}
		if snapshot.Storage != nil {
			data.StorageRootHash = snapshot.Storage.RootHash
		}
		c.deps.Events.EmitTyped(events.RunCompleted, moduleName, data)
	}

	outcome := "completed"
	if snapshot.VerificationWarning {
		outcome = "completed_with_warning"
	}
	c.countOutcome(ctx, outcome)
}

func defaultKind(step Step) (domain.ErrorKind, domain.Reason) {
	switch step {
	case StepConnecting:
		return domain.KindConnectivity, domain.ReasonSignerUnavailable
	case StepRequestingInference:
		return domain.KindProvider, domain.ReasonInferenceProvider
	case StepProcessingInference:
		return domain.KindProvider, domain.ReasonMalformedInference
	case StepUploadingStorage:
		return domain.KindStorage, domain.ReasonStorageUpload
	}
	return domain.KindContract, domain.ReasonContractRejected
}
