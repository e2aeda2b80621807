package wallet

import (
	"context"
)

// Guard allows one signature-requiring operation in flight per wallet
type Guard struct {
	sem chan struct{}
}

// NewGuard creates an unlocked guard
func NewGuard() *Guard {
	return &Guard{sem: make(chan struct{}, 1)}
}

// Do waits for the wallet to be free, then runs fn. Waiting honours ctx.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()

	return fn(ctx)
}

// Busy reports whether an operation currently holds the wallet
func (g *Guard) Busy() bool {
	return len(g.sem) == 1
}
