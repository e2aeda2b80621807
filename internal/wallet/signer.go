// Package wallet provides the development signer and the guard that serializes
// signature-requiring operations on one wallet.
package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/aristath/arena/internal/domain"
)

// ApprovalFunc decides whether the user approves a transaction prompt
type ApprovalFunc func(ctx context.Context, tx *domain.Transaction) bool

// DevSigner is a local ed25519 signer used in development and tests.
// Signatures embed the public key so the signing address can be recovered.
type DevSigner struct {
	mu      sync.RWMutex
	key     ed25519.PrivateKey
	address string
	chainID uint64
	approve ApprovalFunc
}

// NewDevSigner derives a deterministic key from seed
func NewDevSigner(seed string, chainID uint64) *DevSigner {
	sum := sha256.Sum256([]byte(seed))
	key := ed25519.NewKeyFromSeed(sum[:])
	return &DevSigner{
		key:     key,
		address: AddressFromPublicKey(key.Public().(ed25519.PublicKey)),
		chainID: chainID,
	}
}

// AddressFromPublicKey derives a 20-byte hex account address
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "0x" + hex.EncodeToString(sum[12:])
}

// Address returns the signer's account
func (s *DevSigner) Address() string {
	return s.address
}

// ChainID returns the network the signer is on
func (s *DevSigner) ChainID(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID, nil
}

// SwitchChain moves the signer to another network
func (s *DevSigner) SwitchChain(chainID uint64) {
	s.mu.Lock()
	s.chainID = chainID
	s.mu.Unlock()
}

// SetApproval installs the approval prompt. nil approves everything.
func (s *DevSigner) SetApproval(fn ApprovalFunc) {
	s.mu.Lock()
	s.approve = fn
	s.mu.Unlock()
}

// SignTransaction signs tx after the approval prompt accepts it
func (s *DevSigner) SignTransaction(ctx context.Context, tx *domain.Transaction) (string, error) {
	s.mu.RLock()
	approve := s.approve
	s.mu.RUnlock()

	if approve != nil && !approve(ctx, tx) {
		return "", domain.ErrUserRejected
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	payload, err := tx.SigningPayload()
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	return s.sign(payload), nil
}

// SignMessage signs an arbitrary payload
func (s *DevSigner) SignMessage(ctx context.Context, msg []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.sign(msg), nil
}

func (s *DevSigner) sign(payload []byte) string {
	sig := ed25519.Sign(s.key, payload)
	pub := s.key.Public().(ed25519.PublicKey)
	return "0x" + hex.EncodeToString(append(append([]byte{}, pub...), sig...))
}

// RecoverAddress checks signature over payload and returns the signing address
func RecoverAddress(payload []byte, signature string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize+ed25519.SignatureSize {
		return "", fmt.Errorf("invalid signature length %d", len(raw))
	}
	pub := ed25519.PublicKey(raw[:ed25519.PublicKeySize])
	if !ed25519.Verify(pub, payload, raw[ed25519.PublicKeySize:]) {
		return "", fmt.Errorf("signature does not match payload")
	}
	return AddressFromPublicKey(pub), nil
}

// VerifyTransaction checks that tx carries a valid signature from tx.From
func VerifyTransaction(tx *domain.Transaction) error {
	payload, err := tx.SigningPayload()
	if err != nil {
		return err
	}
	addr, err := RecoverAddress(payload, tx.Signature)
	if err != nil {
		return err
	}
	if !strings.EqualFold(addr, tx.From) {
		return fmt.Errorf("signature from %s does not match sender %s", addr, tx.From)
	}
	return nil
}
