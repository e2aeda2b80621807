package session

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/aristath/arena/internal/clients/arena"
	"github.com/aristath/arena/internal/clients/compute"
	"github.com/aristath/arena/internal/clients/storage"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/saga"
	"github.com/aristath/arena/internal/wallet"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Funder credits native funds to freshly connected development wallets
type Funder interface {
	Fund(ctx context.Context, account string, amount *big.Int) error
}

// Options configure the clients built for every session
type Options struct {
	Providers     []compute.ProviderConfig
	Compute       compute.ClientOptions
	Arena         arena.Options
	Timeouts      saga.Timeouts
	FaucetAmount  *big.Int // native wei; nil disables funding
	TrackerMaxAge time.Duration
}

// Manager owns the current wallet session
type Manager struct {
	chain  arena.Backend
	store  storage.Backend
	funder Funder
	events *events.Manager
	opts   Options
	log    zerolog.Logger

	mu      sync.RWMutex
	current *Session
}

// NewManager creates a session manager. funder may be nil.
func NewManager(chain arena.Backend, store storage.Backend, funder Funder, em *events.Manager, opts Options, log zerolog.Logger) *Manager {
	return &Manager{
		chain:  chain,
		store:  store,
		funder: funder,
		events: em,
		opts:   opts,
		log:    log.With().Str("service", "session").Logger(),
	}
}

// Connect replaces the current session with one for signer
func (m *Manager) Connect(ctx context.Context, signer domain.Signer) (*Session, error) {
	if signer == nil {
		return nil, domain.NewError(domain.KindConnectivity, domain.ReasonSignerUnavailable, "no signer")
	}
	chainID, err := signer.ChainID(ctx)
	if err != nil {
		return nil, domain.FromContext(err, domain.KindConnectivity, domain.ReasonSignerUnavailable, "wallet unavailable")
	}

	s := m.build(signer, chainID)
	if err := m.fund(ctx, s.Address); err != nil {
		m.log.Warn().Err(err).Str("address", s.Address).Msg("Faucet funding failed")
	}

	m.mu.Lock()
	prev := m.current
	m.current = s
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	m.log.Info().Str("address", s.Address).Uint64("chain_id", chainID).Msg("Wallet session connected")
	m.emit(s.Address, chainID, true)
	return s, nil
}

// Disconnect closes the current session. It reports whether one existed.
func (m *Manager) Disconnect() bool {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	if prev == nil {
		return false
	}
	prev.Close()
	m.log.Info().Str("address", prev.Address).Msg("Wallet session disconnected")
	m.emit(prev.Address, prev.ChainID, false)
	return true
}

// Current returns the connected session
func (m *Manager) Current() (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.current != nil
}

// Require returns the connected session or a SignerUnavailable error
func (m *Manager) Require() (*Session, error) {
	s, ok := m.Current()
	if !ok {
		return nil, domain.NewError(domain.KindConnectivity, domain.ReasonSignerUnavailable, "no wallet connected")
	}
	return s, nil
}

func (m *Manager) build(signer domain.Signer, chainID uint64) *Session {
	guard := wallet.NewGuard()
	log := m.log.With().Str("address", signer.Address()).Logger()

	broker := compute.NewStaticBroker(signer, m.opts.Providers, log)
	computeClient := compute.NewClient(broker, m.opts.Compute, log)
	storageClient := storage.NewClient(m.store, signer, guard, log)
	arenaClient := arena.NewClient(m.chain, signer, guard, m.opts.Arena, log)
	tracker := NewTracker(arenaClient, m.events, m.opts.TrackerMaxAge, log)

	runs := saga.NewCoordinator(saga.Deps{
		Wallet:    signer,
		Inference: computeClient,
		Storage:   storageClient,
		Contracts: arenaClient,
		Tracker:   tracker,
		Events:    m.events,
	}, m.opts.Timeouts, log)

	return &Session{
		ID:          uuid.New().String(),
		Address:     signer.Address(),
		ChainID:     chainID,
		ConnectedAt: time.Now(),
		Signer:      signer,
		Guard:       guard,
		Compute:     computeClient,
		Storage:     storageClient,
		Arena:       arenaClient,
		Runs:        runs,
		Tracker:     tracker,
	}
}

// fund tops up an empty development wallet
func (m *Manager) fund(ctx context.Context, address string) error {
	if m.funder == nil || m.opts.FaucetAmount == nil || m.opts.FaucetAmount.Sign() <= 0 {
		return nil
	}
	balance, err := m.chain.NativeBalance(ctx, address)
	if err != nil {
		return err
	}
	if balance.Sign() > 0 {
		return nil
	}
	return m.funder.Fund(ctx, address, m.opts.FaucetAmount)
}

func (m *Manager) emit(address string, chainID uint64, connected bool) {
	if m.events == nil {
		return
	}
	m.events.EmitTyped(events.SessionChanged, "session", &events.SessionChangedData{
		Address:   address,
		ChainID:   chainID,
		Connected: connected,
	})
}
