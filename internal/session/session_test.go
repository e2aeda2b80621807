package session

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/aristath/arena/internal/chain/devchain"
	"github.com/aristath/arena/internal/clients/arena"
	"github.com/aristath/arena/internal/clients/compute"
	"github.com/aristath/arena/internal/clients/storage"
	"github.com/aristath/arena/internal/database"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/saga"
	arenatest "github.com/aristath/arena/internal/testing"
	"github.com/aristath/arena/internal/wallet"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChainID  = 16602
	testProvider = "0x00000000000000000000000000000000000000bb"
)

func startChain(t *testing.T) *devchain.Chain {
	t.Helper()
	chain := devchain.New(arenatest.NewTestDB(t, database.NameChain), devchain.Options{ChainID: testChainID, SettleAfterBlocks: 1}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		chain.Run(ctx, 5*time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return chain
}

type eventLog struct {
	mu     sync.Mutex
	events []*events.Event
}

func (l *eventLog) handle(e *events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) OfType(t events.EventType) []*events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*events.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func wei(units int64) *big.Int {
	return domain.ToWei(decimal.NewFromInt(units))
}

func newManager(t *testing.T, chain *devchain.Chain, endpoint string) (*Manager, *eventLog) {
	t.Helper()
	log := &eventLog{}
	bus := events.NewBus()
	t.Cleanup(bus.SubscribeAll(events.AllTypes(), log.handle))

	store := storage.NewNodeRepository(arenatest.NewTestDB(t, database.NameStorage), zerolog.Nop())
	m := NewManager(chain, store, chain, events.NewManager(bus, zerolog.Nop()), Options{
		Providers: []compute.ProviderConfig{{
			Address:  testProvider,
			Name:     "test",
			Model:    "llama",
			Endpoint: endpoint,
		}},
		Arena:        arena.Options{PollInterval: 2 * time.Millisecond, MaxPollInterval: 20 * time.Millisecond},
		Timeouts:     saga.DefaultTimeouts(),
		FaucetAmount: wei(5000),
	}, zerolog.Nop())
	t.Cleanup(func() { m.Disconnect() })
	return m, log
}

func TestManager_ConnectFundsAndReplaces(t *testing.T) {
	chain := startChain(t)
	m, log := newManager(t, chain, "http://127.0.0.1:0")
	ctx := context.Background()

	_, ok := m.Current()
	assert.False(t, ok)
	_, err := m.Require()
	assert.True(t, domain.IsReason(err, domain.ReasonSignerUnavailable))

	first, err := m.Connect(ctx, wallet.NewDevSigner("alice", testChainID))
	require.NoError(t, err)
	balance, err := chain.NativeBalance(ctx, first.Address)
	require.NoError(t, err)
	assert.Equal(t, wei(5000), balance)

	second, err := m.Connect(ctx, wallet.NewDevSigner("bob", testChainID))
	require.NoError(t, err)
	current, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, second.ID, current.ID)
	assert.NotEqual(t, first.Address, second.Address)

	// The replaced session no longer accepts runs
	_, err = first.Runs.Submit(ctx, saga.Request{AgentID: 1, Provider: testProvider, Config: domain.DefaultStrategyConfig()})
	assert.Error(t, err)

	assert.True(t, m.Disconnect())
	assert.False(t, m.Disconnect())

	changes := log.OfType(events.SessionChanged)
	require.Len(t, changes, 3)
	assert.Equal(t, false, changes[2].Data["connected"])
}

func TestManager_ConnectRequiresReachableWallet(t *testing.T) {
	chain := startChain(t)
	m, _ := newManager(t, chain, "http://127.0.0.1:0")

	_, err := m.Connect(context.Background(), nil)
	assert.True(t, domain.IsKind(err, domain.KindConnectivity))
}

func TestSession_RunEndToEnd(t *testing.T) {
	chain := startChain(t)
	provider := arenatest.NewMockProvider(t, "Follow the 20-day trend")
	m, log := newManager(t, chain, provider.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	owner := arena.NewClient(chain, wallet.NewDevSigner("agent-owner", testChainID), wallet.NewGuard(),
		arena.Options{PollInterval: 2 * time.Millisecond, MaxPollInterval: 20 * time.Millisecond}, zerolog.Nop())
	agentID, _, err := owner.RegisterAgent(ctx, arena.AgentParams{Name: "Trend Bot", ModelProvider: testProvider})
	require.NoError(t, err)

	s, err := m.Connect(ctx, wallet.NewDevSigner("trader", testChainID))
	require.NoError(t, err)

	cfg := domain.DefaultStrategyConfig()
	cfg.Amount = decimal.NewFromInt(100)
	run, err := s.Runs.Execute(ctx, saga.Request{AgentID: agentID, Provider: testProvider, Config: cfg})
	require.NoError(t, err)

	require.Equal(t, saga.StepCompleted, run.Step, "failure: %+v", run.Failure)
	require.NotNil(t, run.Execution)
	assert.True(t, run.Execution.IsCompleted)
	assert.True(t, run.FundsCommitted)
	assert.False(t, run.VerificationWarning)

	exists, err := s.Storage.Exists(ctx, run.Storage.RootHash)
	require.NoError(t, err)
	assert.True(t, exists)

	record, err := s.Arena.GetExecution(ctx, run.Execution.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, run.Storage.RootHash, record.StorageRootHash)
	assert.Equal(t, s.Address, record.User)

	assert.NotEmpty(t, log.OfType(events.RunCompleted))
	assert.Len(t, run.History, 7)
}

type fakeChain struct {
	mu        sync.Mutex
	receipts  map[string]*domain.Receipt
	execution map[uint64]*domain.ExecutionRecord
}

func (f *fakeChain) Receipt(ctx context.Context, txHash string) (*domain.Receipt, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	return r, ok, nil
}

func (f *fakeChain) GetExecution(ctx context.Context, id uint64) (*domain.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.execution[id]
	if !ok {
		return nil, domain.NewError(domain.KindContract, domain.ReasonNotFound, "execution %d not found", id)
	}
	return rec, nil
}

func (f *fakeChain) set(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func executedReceipt(hash string, id uint64) *domain.Receipt {
	return &domain.Receipt{
		TxHash: hash,
		Status: domain.TxSuccess,
		Events: []domain.ChainEvent{{
			Name:   domain.EventStrategyExecuted,
			Fields: map[string]string{arena.FieldExecutionID: fmt.Sprint(id)},
		}},
	}
}

func newTestTracker(t *testing.T, chain ChainReader, maxAge time.Duration) (*Tracker, *eventLog) {
	t.Helper()
	log := &eventLog{}
	bus := events.NewBus()
	t.Cleanup(bus.Subscribe(events.ExecutionReconciled, log.handle))
	return NewTracker(chain, events.NewManager(bus, zerolog.Nop()), maxAge, zerolog.Nop()), log
}

func TestTracker_LandedThenCompleted(t *testing.T) {
	chain := &fakeChain{receipts: map[string]*domain.Receipt{}, execution: map[uint64]*domain.ExecutionRecord{}}
	tracker, log := newTestTracker(t, chain, time.Hour)
	ctx := context.Background()

	tracker.Track(saga.PendingExecution{RunID: "run-1", TxHash: "0x01"})
	tracker.Track(saga.PendingExecution{RunID: "run-2"})
	require.Len(t, tracker.Pending(), 1)

	resolved, err := tracker.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Empty(t, log.OfType(events.ExecutionReconciled))

	chain.set(func() {
		chain.receipts["0x01"] = executedReceipt("0x01", 4)
		chain.execution[4] = &domain.ExecutionRecord{ExecutionID: 4}
	})
	resolved, err = tracker.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)
	require.Len(t, tracker.Pending(), 1)
	assert.Equal(t, uint64(4), tracker.Pending()[0].ExecutionID)

	// Still landed, no repeated event
	_, err = tracker.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, log.OfType(events.ExecutionReconciled), 1)

	chain.set(func() {
		chain.execution[4] = &domain.ExecutionRecord{ExecutionID: 4, IsCompleted: true, PnL: big.NewInt(-20)}
	})
	resolved, err = tracker.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Empty(t, tracker.Pending())

	got := log.OfType(events.ExecutionReconciled)
	require.Len(t, got, 2)
	assert.Equal(t, OutcomeLanded, got[0].Data["outcome"])
	assert.Equal(t, OutcomeCompleted, got[1].Data["outcome"])
	assert.Equal(t, "-20", got[1].Data["pnl"])
}

func TestTracker_Reverted(t *testing.T) {
	chain := &fakeChain{
		receipts: map[string]*domain.Receipt{
			"0x02": {TxHash: "0x02", Status: domain.TxReverted, RevertReason: "insufficient balance"},
		},
		execution: map[uint64]*domain.ExecutionRecord{},
	}
	tracker, log := newTestTracker(t, chain, time.Hour)

	tracker.Track(saga.PendingExecution{RunID: "run-1", TxHash: "0x02"})
	resolved, err := tracker.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got := log.OfType(events.ExecutionReconciled)
	require.Len(t, got, 1)
	assert.Equal(t, OutcomeReverted, got[0].Data["outcome"])
}

func TestTracker_Expires(t *testing.T) {
	chain := &fakeChain{receipts: map[string]*domain.Receipt{}, execution: map[uint64]*domain.ExecutionRecord{}}
	tracker, log := newTestTracker(t, chain, time.Minute)

	tracker.Track(saga.PendingExecution{RunID: "run-1", TxHash: "0x03", DispatchedAt: time.Now().Add(-2 * time.Minute)})
	resolved, err := tracker.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Empty(t, tracker.Pending())
	assert.Equal(t, OutcomeExpired, log.OfType(events.ExecutionReconciled)[0].Data["outcome"])
}
