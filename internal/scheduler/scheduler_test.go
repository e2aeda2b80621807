package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aristath/arena/internal/database"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	mu   sync.Mutex
	runs int
	err  error
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	return j.err
}

func TestScheduler_AddJob(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}

	require.NoError(t, s.AddJob("*/5 * * * * *", job))
	assert.Error(t, s.AddJob("not a schedule", job))
	assert.Equal(t, 1, s.Entries())

	s.Start()
	s.Stop()
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{err: errors.New("boom")}

	assert.EqualError(t, s.RunNow(job), "boom")
	assert.Equal(t, 1, job.runs)
}

type noSession struct{}

func (noSession) Current() (*session.Session, bool) { return nil, false }

func TestSessionJobs_SkipWithoutSession(t *testing.T) {
	em := events.NewManager(events.NewBus(), zerolog.Nop())

	assert.NoError(t, NewReconcileExecutionsJob(noSession{}, zerolog.Nop()).Run())
	assert.NoError(t, NewRefreshProvidersJob(noSession{}, em, zerolog.Nop()).Run())
}

type fakeEventSource struct {
	events []domain.ChainEvent
	calls  int
}

func (f *fakeEventSource) Events(ctx context.Context, afterID int64, limit int) ([]domain.ChainEvent, error) {
	f.calls++
	var out []domain.ChainEvent
	for _, ev := range f.events {
		if ev.ID > afterID && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func TestChainEventsJob_ForwardsInPages(t *testing.T) {
	source := &fakeEventSource{}
	for i := int64(1); i <= 5; i++ {
		source.events = append(source.events, domain.ChainEvent{
			ID:     i,
			Name:   domain.EventStrategyExecuted,
			Block:  uint64(i),
			Fields: map[string]string{"executionId": "1"},
		})
	}

	bus := events.NewBus()
	var got []*events.Event
	bus.Subscribe(events.ContractEvent, func(e *events.Event) { got = append(got, e) })

	job := NewChainEventsJob(source, events.NewManager(bus, zerolog.Nop()), 1, zerolog.Nop())
	job.batchSize = 2

	require.NoError(t, job.Run())
	assert.Len(t, got, 4)
	assert.Equal(t, int64(5), job.Cursor())
	assert.Equal(t, 3, source.calls)

	require.NoError(t, job.Run())
	assert.Len(t, got, 4)
	assert.Equal(t, "StrategyExecuted", got[0].Data["name"])
}

func TestCheckDatabasesJob(t *testing.T) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "chain.db"),
		Profile: database.ProfileLedger,
		Name:    database.NameChain,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	job := NewCheckDatabasesJob(zerolog.Nop(), db, nil)
	assert.Equal(t, "check_databases", job.Name())
	assert.NoError(t, job.Run())
}
