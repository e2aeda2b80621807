package session

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/arena/internal/clients/arena"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/saga"
	"github.com/rs/zerolog"
)

// Reconciliation outcomes
const (
	OutcomeLanded    = "landed"
	OutcomeReverted  = "reverted"
	OutcomeCompleted = "completed"
	OutcomeExpired   = "expired"
)

const defaultTrackerMaxAge = 24 * time.Hour

// ChainReader is what the tracker needs to follow a dispatched execution
type ChainReader interface {
	Receipt(ctx context.Context, txHash string) (*domain.Receipt, bool, error)
	GetExecution(ctx context.Context, executionID uint64) (*domain.ExecutionRecord, error)
}

// Tracker holds executions whose outcome a run stopped waiting for
type Tracker struct {
	chain  ChainReader
	events *events.Manager
	maxAge time.Duration
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]saga.PendingExecution
}

// NewTracker creates a tracker reading from chain. Entries older than maxAge are dropped.
func NewTracker(chain ChainReader, em *events.Manager, maxAge time.Duration, log zerolog.Logger) *Tracker {
	if maxAge <= 0 {
		maxAge = defaultTrackerMaxAge
	}
	return &Tracker{
		chain:   chain,
		events:  em,
		maxAge:  maxAge,
		log:     log.With().Str("component", "tracker").Logger(),
		now:     time.Now,
		pending: make(map[string]saga.PendingExecution),
	}
}

// Track records p until Reconcile observes its outcome
func (t *Tracker) Track(p saga.PendingExecution) {
	if p.TxHash == "" {
		return
	}
	if p.DispatchedAt.IsZero() {
		p.DispatchedAt = t.now()
	}

	t.mu.Lock()
	t.pending[p.TxHash] = p
	t.mu.Unlock()

	t.log.Info().
		Str("run_id", p.RunID).
		Str("tx_hash", p.TxHash).
		Uint64("execution_id", p.ExecutionID).
		Msg("Tracking unresolved execution")
}

// Pending returns the tracked executions
func (t *Tracker) Pending() []saga.PendingExecution {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]saga.PendingExecution, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p)
	}
	return out
}

// Reconcile checks every tracked execution once and returns how many were resolved
func (t *Tracker) Reconcile(ctx context.Context) (int, error) {
	resolved := 0
	for _, p := range t.Pending() {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		outcome, updated, rec, err := t.check(ctx, p)
		if err != nil {
			t.log.Warn().Err(err).Str("tx_hash", p.TxHash).Msg("Failed to reconcile execution")
			continue
		}

		switch outcome {
		case OutcomeReverted, OutcomeCompleted:
			t.resolve(updated, outcome, rec)
			resolved++
			continue
		case OutcomeLanded:
			if p.ExecutionID == 0 {
				t.mu.Lock()
				t.pending[p.TxHash] = updated
				t.mu.Unlock()
				t.emit(updated, OutcomeLanded, nil)
			}
		}

		if t.now().Sub(p.DispatchedAt) > t.maxAge {
			t.resolve(updated, OutcomeExpired, nil)
			resolved++
		}
	}
	return resolved, nil
}

// check returns the new state of p, or an empty outcome while nothing changed
func (t *Tracker) check(ctx context.Context, p saga.PendingExecution) (string, saga.PendingExecution, *domain.ExecutionRecord, error) {
	if p.ExecutionID == 0 {
		receipt, ok, err := t.chain.Receipt(ctx, p.TxHash)
		if err != nil || !ok {
			return "", p, nil, err
		}
		if receipt.Status == domain.TxReverted {
			return OutcomeReverted, p, nil, nil
		}
		ev, found := receipt.Event(domain.EventStrategyExecuted)
		if !found {
			return OutcomeReverted, p, nil, nil
		}
		id, err := arena.EventUint(ev, arena.FieldExecutionID)
		if err != nil {
			return "", p, nil, err
		}
		p.ExecutionID = id
	}

	rec, err := t.chain.GetExecution(ctx, p.ExecutionID)
	if err != nil {
		if domain.IsNotFound(err) {
			return OutcomeLanded, p, nil, nil
		}
		return "", p, nil, err
	}
	if rec.IsCompleted {
		return OutcomeCompleted, p, rec, nil
	}
	return OutcomeLanded, p, rec, nil
}

func (t *Tracker) resolve(p saga.PendingExecution, outcome string, rec *domain.ExecutionRecord) {
	t.mu.Lock()
	delete(t.pending, p.TxHash)
	t.mu.Unlock()

	t.log.Info().
		Str("run_id", p.RunID).
		Str("tx_hash", p.TxHash).
		Str("outcome", outcome).
		Msg("Execution reconciled")
	t.emit(p, outcome, rec)
}

func (t *Tracker) emit(p saga.PendingExecution, outcome string, rec *domain.ExecutionRecord) {
	if t.events == nil {
		return
	}
	data := &events.ExecutionReconciledData{
		RunID:       p.RunID,
		TxHash:      p.TxHash,
		ExecutionID: p.ExecutionID,
		Outcome:     outcome,
	}
	if rec != nil && rec.PnL != nil {
		data.PnL = rec.PnL.String()
	}
	t.events.EmitTyped(events.ExecutionReconciled, "session", data)
}
