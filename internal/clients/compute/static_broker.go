package compute

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// ProviderConfig describes one provider known to the StaticBroker
type ProviderConfig struct {
	Address        string
	Name           string
	Model          string
	Endpoint       string
	APIKey         string
	AttestationKey string // hex ed25519 public key; empty for non-TEE providers
	PricePerToken  *big.Int
}

// StaticBroker brokers requests to a fixed set of configured providers.
// Fees are settled against an in-memory ledger scoped to the wallet session.
type StaticBroker struct {
	signer     domain.Signer
	providers  map[string]ProviderConfig
	httpClient *http.Client
	log        zerolog.Logger

	mu           sync.Mutex
	acknowledged map[string]bool
	balance      *big.Int
	spent        *big.Int
	requests     int64
}

// NewStaticBroker creates a broker for providers on behalf of signer
func NewStaticBroker(signer domain.Signer, providers []ProviderConfig, log zerolog.Logger) *StaticBroker {
	byAddr := make(map[string]ProviderConfig, len(providers))
	for _, p := range providers {
		byAddr[strings.ToLower(p.Address)] = p
	}
	return &StaticBroker{
		signer:       signer,
		providers:    byAddr,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		log:          log.With().Str("client", "compute_broker").Logger(),
		acknowledged: make(map[string]bool),
		balance:      new(big.Int),
		spent:        new(big.Int),
	}
}

func (b *StaticBroker) provider(addr string) (ProviderConfig, error) {
	p, ok := b.providers[strings.ToLower(addr)]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("%w: %s", ErrUnknownProvider, addr)
	}
	return p, nil
}

// ListServices returns the configured providers as chatbot services
func (b *StaticBroker) ListServices(ctx context.Context) ([]Service, error) {
	services := make([]Service, 0, len(b.providers))
	for _, p := range b.providers {
		price := "0"
		if p.PricePerToken != nil {
			price = p.PricePerToken.String()
		}
		svc := Service{
			Provider:    p.Address,
			Name:        p.Name,
			ServiceType: ServiceTypeChatbot,
			Model:       p.Model,
			URL:         p.Endpoint,
			InputPrice:  price,
			OutputPrice: price,
		}
		if p.AttestationKey != "" {
			svc.Verifiability = "TeeML"
		}
		services = append(services, svc)
	}
	return services, nil
}

// ServiceMetadata returns endpoint and model for provider
func (b *StaticBroker) ServiceMetadata(ctx context.Context, provider string) (*ServiceMetadata, error) {
	p, err := b.provider(provider)
	if err != nil {
		return nil, err
	}
	if p.Endpoint == "" {
		return nil, fmt.Errorf("provider %s has no endpoint configured", provider)
	}
	return &ServiceMetadata{Endpoint: strings.TrimRight(p.Endpoint, "/"), Model: p.Model}, nil
}

// RequestHeaders signs a digest of content with the user's wallet
func (b *StaticBroker) RequestHeaders(ctx context.Context, provider, content string) (http.Header, error) {
	p, err := b.provider(provider)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256([]byte(content))
	sig, err := b.signer.SignMessage(ctx, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign request headers: %w", err)
	}

	h := http.Header{}
	if p.APIKey != "" {
		h.Set("Authorization", "Bearer "+p.APIKey)
	}
	h.Set("X-Arena-User", b.signer.Address())
	h.Set("X-Arena-Provider", p.Address)
	h.Set("X-Arena-Content-Hash", "0x"+hex.EncodeToString(digest[:]))
	h.Set("X-Arena-Signature", sig)
	return h, nil
}

// Settle charges the ledger for the completion tokens in usage
func (b *StaticBroker) Settle(ctx context.Context, provider, chatID string, usage json.RawMessage) error {
	p, err := b.provider(provider)
	if err != nil {
		return err
	}

	var u struct {
		TotalTokens int64 `json:"total_tokens"`
	}
	if len(usage) > 0 {
		if err := json.Unmarshal(usage, &u); err != nil {
			return fmt.Errorf("invalid usage payload: %w", err)
		}
	}

	fee := new(big.Int)
	if p.PricePerToken != nil {
		fee.Mul(p.PricePerToken, big.NewInt(u.TotalTokens))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent.Add(b.spent, fee)
	b.balance.Sub(b.balance, fee)
	b.requests++

	b.log.Debug().
		Str("provider", provider).
		Str("chat_id", chatID).
		Str("fee", fee.String()).
		Msg("Settled inference fee")
	return nil
}

type attestationResponse struct {
	Text      string `json:"text"`
	Signature string `json:"signature"`
}

// VerifyAttestation fetches {endpoint}/signature/{chatID} and checks the ed25519 signature
func (b *StaticBroker) VerifyAttestation(ctx context.Context, provider, chatID string) (bool, error) {
	p, err := b.provider(provider)
	if err != nil {
		return false, err
	}
	if p.AttestationKey == "" {
		return false, ErrNotVerifiable
	}

	pub, err := hex.DecodeString(strings.TrimPrefix(p.AttestationKey, "0x"))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid attestation key for provider %s", provider)
	}

	endpoint := fmt.Sprintf("%s/signature/%s?model=%s",
		strings.TrimRight(p.Endpoint, "/"), url.PathEscape(chatID), url.QueryEscape(p.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create attestation request: %w", err)
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to fetch attestation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("attestation endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var att attestationResponse
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		return false, fmt.Errorf("failed to decode attestation: %w", err)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(att.Signature, "0x"))
	if err != nil {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(att.Text), sig), nil
}

// Acknowledge marks the provider signer as acknowledged for this session
func (b *StaticBroker) Acknowledge(ctx context.Context, provider string) error {
	if _, err := b.provider(provider); err != nil {
		return err
	}
	b.mu.Lock()
	b.acknowledged[strings.ToLower(provider)] = true
	b.mu.Unlock()
	return nil
}

// Deposit credits the compute ledger
func (b *StaticBroker) Deposit(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}
	b.mu.Lock()
	b.balance.Add(b.balance, amount)
	b.mu.Unlock()
	return nil
}

// Account returns a snapshot of the ledger
func (b *StaticBroker) Account(ctx context.Context) (*Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Account{
		User:     b.signer.Address(),
		Balance:  new(big.Int).Set(b.balance),
		Spent:    new(big.Int).Set(b.spent),
		Requests: b.requests,
	}, nil
}
