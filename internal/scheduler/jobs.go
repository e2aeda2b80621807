package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/session"
	"github.com/rs/zerolog"
)

const defaultJobTimeout = 30 * time.Second

// SessionSource yields the connected wallet session, if any
type SessionSource interface {
	Current() (*session.Session, bool)
}

// ReconcileExecutionsJob follows executions whose run stopped waiting on them
type ReconcileExecutionsJob struct {
	sessions SessionSource
	timeout  time.Duration
	log      zerolog.Logger
}

// NewReconcileExecutionsJob creates a new ReconcileExecutionsJob
func NewReconcileExecutionsJob(sessions SessionSource, log zerolog.Logger) *ReconcileExecutionsJob {
	return &ReconcileExecutionsJob{
		sessions: sessions,
		timeout:  defaultJobTimeout,
		log:      log.With().Str("job", "reconcile_executions").Logger(),
	}
}

// Name returns the job name
func (j *ReconcileExecutionsJob) Name() string {
	return "reconcile_executions"
}

// Run executes the reconcile executions job
func (j *ReconcileExecutionsJob) Run() error {
	s, ok := j.sessions.Current()
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	resolved, err := s.Tracker.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile executions: %w", err)
	}
	if resolved > 0 {
		j.log.Info().Int("resolved", resolved).Msg("Reconciled executions")
	}
	return nil
}

// RefreshProvidersJob refetches the inference provider list of the session
type RefreshProvidersJob struct {
	sessions SessionSource
	events   *events.Manager
	timeout  time.Duration
	log      zerolog.Logger
}

// NewRefreshProvidersJob creates a new RefreshProvidersJob
func NewRefreshProvidersJob(sessions SessionSource, em *events.Manager, log zerolog.Logger) *RefreshProvidersJob {
	return &RefreshProvidersJob{
		sessions: sessions,
		events:   em,
		timeout:  defaultJobTimeout,
		log:      log.With().Str("job", "refresh_providers").Logger(),
	}
}

// Name returns the job name
func (j *RefreshProvidersJob) Name() string {
	return "refresh_providers"
}

// Run executes the refresh providers job
func (j *RefreshProvidersJob) Run() error {
	s, ok := j.sessions.Current()
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	services, err := s.Compute.RefreshProviders(ctx)
	if err != nil {
		return fmt.Errorf("refresh providers: %w", err)
	}

	j.log.Debug().Int("count", len(services)).Msg("Providers refreshed")
	if j.events != nil {
		j.events.EmitTyped(events.ProvidersRefreshed, "scheduler", &events.ProvidersRefreshedData{Count: len(services)})
	}
	return nil
}

// EventSource lists contract events after a cursor
type EventSource interface {
	Events(ctx context.Context, afterID int64, limit int) ([]domain.ChainEvent, error)
}

// ChainEventsJob forwards new contract events to the event bus
type ChainEventsJob struct {
	source    EventSource
	events    *events.Manager
	batchSize int
	timeout   time.Duration
	log       zerolog.Logger

	cursor int64
}

// NewChainEventsJob creates a job that starts after the event with id cursor
func NewChainEventsJob(source EventSource, em *events.Manager, cursor int64, log zerolog.Logger) *ChainEventsJob {
	return &ChainEventsJob{
		source:    source,
		events:    em,
		batchSize: 200,
		timeout:   defaultJobTimeout,
		cursor:    cursor,
		log:       log.With().Str("job", "chain_events").Logger(),
	}
}

// Name returns the job name
func (j *ChainEventsJob) Name() string {
	return "chain_events"
}

// Cursor returns the id of the last forwarded event
func (j *ChainEventsJob) Cursor() int64 {
	return j.cursor
}

// Run executes the chain events job. Cron never overlaps runs of one job.
func (j *ChainEventsJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	forwarded := 0
	for {
		evs, err := j.source.Events(ctx, j.cursor, j.batchSize)
		if err != nil {
			return fmt.Errorf("list chain events: %w", err)
		}
		for _, ev := range evs {
			j.events.EmitTyped(events.ContractEvent, "chain", &events.ContractEventData{
				Name:   ev.Name,
				Block:  ev.Block,
				TxHash: ev.TxHash,
				Fields: ev.Fields,
			})
			j.cursor = ev.ID
			forwarded++
		}
		if len(evs) < j.batchSize {
			break
		}
	}

	if forwarded > 0 {
		j.log.Debug().Int("forwarded", forwarded).Int64("cursor", j.cursor).Msg("Forwarded chain events")
	}
	return nil
}
