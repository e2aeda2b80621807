// Package session builds the per-wallet set of clients that strategy runs use.
package session

import (
	"time"

	"github.com/aristath/arena/internal/clients/arena"
	"github.com/aristath/arena/internal/clients/compute"
	"github.com/aristath/arena/internal/clients/storage"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/saga"
	"github.com/aristath/arena/internal/wallet"
)

// Session is everything bound to one wallet connection. It is replaced, not
// mutated, when the wallet changes.
type Session struct {
	ID          string
	Address     string
	ChainID     uint64
	ConnectedAt time.Time

	Signer  domain.Signer
	Guard   *wallet.Guard
	Compute *compute.Client
	Storage *storage.Client
	Arena   *arena.Client
	Runs    *saga.Coordinator
	Tracker *Tracker
}

// Info is the public view of a session
type Info struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	ChainID     uint64    `json:"chain_id"`
	ConnectedAt time.Time `json:"connected_at"`
	WalletBusy  bool      `json:"wallet_busy"`
	Tracked     int       `json:"tracked_executions"`
}

// Info returns the public view of s
func (s *Session) Info() Info {
	return Info{
		ID:          s.ID,
		Address:     s.Address,
		ChainID:     s.ChainID,
		ConnectedAt: s.ConnectedAt,
		WalletBusy:  s.Guard.Busy(),
		Tracked:     len(s.Tracker.Pending()),
	}
}

// Close stops the session's active run and waits for it to record its state
func (s *Session) Close() {
	s.Runs.Close()
}
