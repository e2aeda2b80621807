package domain

import (
	"context"
	"errors"
)

// ErrUserRejected is returned by a Signer when the user declines a signature request
var ErrUserRejected = errors.New("user rejected the signature request")

// Signer defines the wallet capability the arena clients depend on.
// Implementations are supplied per wallet connection.
type Signer interface {
	// Address returns the connected account
	Address() string

	// ChainID returns the network the wallet is currently on
	ChainID(ctx context.Context) (uint64, error)

	// SignTransaction asks the user to approve tx and returns the signature.
	// Returns ErrUserRejected when the user declines.
	SignTransaction(ctx context.Context, tx *Transaction) (string, error)

	// SignMessage signs an arbitrary payload (request headers, storage submissions)
	SignMessage(ctx context.Context, msg []byte) (string, error)
}
