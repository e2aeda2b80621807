// Package compute talks to decentralized inference providers through a compute broker.
package compute

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
)

// ServiceTypeChatbot is the only service type the arena uses
const ServiceTypeChatbot = "chatbot"

// ErrNotVerifiable is returned when a provider does not run inside a TEE
var ErrNotVerifiable = errors.New("provider does not support TEE verification")

// ErrUnknownProvider is returned for providers the broker does not know
var ErrUnknownProvider = errors.New("unknown provider")

// Service is a provider offering listed by the broker
type Service struct {
	Provider      string `json:"provider"`
	Name          string `json:"name"`
	ServiceType   string `json:"service_type"`
	Model         string `json:"model"`
	URL           string `json:"url"`
	InputPrice    string `json:"input_price"`
	OutputPrice   string `json:"output_price"`
	Verifiability string `json:"verifiability,omitempty"`
}

// ServiceMetadata is what a client needs to call a provider
type ServiceMetadata struct {
	Endpoint string
	Model    string
}

// Account is the user's prepaid compute ledger
type Account struct {
	User     string   `json:"user"`
	Balance  *big.Int `json:"balance"`
	Spent    *big.Int `json:"spent"`
	Requests int64    `json:"requests"`
}

// Broker defines the compute network broker the client depends on
type Broker interface {
	// ListServices returns every listed service
	ListServices(ctx context.Context) ([]Service, error)

	// ServiceMetadata returns the endpoint and model of a provider
	ServiceMetadata(ctx context.Context, provider string) (*ServiceMetadata, error)

	// RequestHeaders returns the signed billing headers for one request
	RequestHeaders(ctx context.Context, provider, content string) (http.Header, error)

	// Settle records fee settlement for a completed response
	Settle(ctx context.Context, provider, chatID string, usage json.RawMessage) error

	// VerifyAttestation checks the provider's TEE signature for chatID.
	// Returns ErrNotVerifiable for providers without attestation.
	VerifyAttestation(ctx context.Context, provider, chatID string) (bool, error)

	// Acknowledge registers the provider signer before first use
	Acknowledge(ctx context.Context, provider string) error

	// Deposit funds the compute ledger
	Deposit(ctx context.Context, amount *big.Int) error

	// Account returns the compute ledger of the connected user
	Account(ctx context.Context) (*Account, error)
}
