package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevSigner_DeterministicAddress(t *testing.T) {
	a := NewDevSigner("seed", 16602)
	b := NewDevSigner("seed", 16602)
	c := NewDevSigner("other", 16602)

	assert.Equal(t, a.Address(), b.Address())
	assert.NotEqual(t, a.Address(), c.Address())
	assert.Len(t, a.Address(), 42)
}

func TestDevSigner_SignAndVerifyTransaction(t *testing.T) {
	s := NewDevSigner("seed", 16602)
	tx := &domain.Transaction{From: s.Address(), ChainID: 16602, Nonce: 3, Method: domain.MethodDeposit, Value: big.NewInt(5)}

	sig, err := s.SignTransaction(context.Background(), tx)
	require.NoError(t, err)
	tx.Signature = sig

	assert.NoError(t, VerifyTransaction(tx))

	tx.Nonce = 4
	assert.Error(t, VerifyTransaction(tx), "tampered transaction must not verify")
}

func TestDevSigner_Rejection(t *testing.T) {
	s := NewDevSigner("seed", 16602)
	s.SetApproval(func(ctx context.Context, tx *domain.Transaction) bool { return false })

	_, err := s.SignTransaction(context.Background(), &domain.Transaction{From: s.Address()})
	assert.True(t, errors.Is(err, domain.ErrUserRejected))
}

func TestDevSigner_SwitchChain(t *testing.T) {
	s := NewDevSigner("seed", 16602)
	s.SwitchChain(1)

	id, err := s.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestRecoverAddress_InvalidSignature(t *testing.T) {
	_, err := RecoverAddress([]byte("x"), "0x1234")
	assert.Error(t, err)

	_, err = RecoverAddress([]byte("x"), "zz")
	assert.Error(t, err)
}

func TestGuard_SerializesOperations(t *testing.T) {
	g := NewGuard()
	var inFlight, maxInFlight int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxInFlight)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight)
}

func TestGuard_WaitHonoursContext(t *testing.T) {
	g := NewGuard()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = g.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	assert.True(t, g.Busy())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Do(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
