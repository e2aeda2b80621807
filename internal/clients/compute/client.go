package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ClientOptions tunes the inference client
type ClientOptions struct {
	RateLimit   float64 // requests per second; <= 0 disables limiting
	Burst       int
	ProviderTTL time.Duration
	HTTPClient  *http.Client
}

// Client requests strategy inference from providers listed by a Broker.
// One Client belongs to one wallet session.
type Client struct {
	broker     Broker
	providers  *ProviderCache
	limiter    *rate.Limiter
	httpClient *http.Client
	log        zerolog.Logger

	mu           sync.Mutex
	acknowledged map[string]bool
	verified     map[string]bool // provider|token -> attested
}

// NewClient creates an inference client over broker
func NewClient(broker Broker, opts ClientOptions, log zerolog.Logger) *Client {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	ttl := opts.ProviderTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// Per-call deadlines come from the context
		httpClient = &http.Client{}
	}

	return &Client{
		broker:       broker,
		providers:    NewProviderCache(broker, ttl),
		limiter:      rate.NewLimiter(limit, burst),
		httpClient:   httpClient,
		log:          log.With().Str("client", "compute").Logger(),
		acknowledged: make(map[string]bool),
		verified:     make(map[string]bool),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// RequestInference sends req to provider and returns the parsed result.
// Settlement and attestation are attempted before returning; their failure
// only clears the Settled and Verified flags.
func (c *Client) RequestInference(ctx context.Context, provider string, req domain.InferenceRequest) (*domain.InferenceResult, error) {
	resp, meta, err := c.send(ctx, provider, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.FromContext(err, domain.KindProvider, domain.ReasonInferenceProvider, "failed to read inference response")
	}

	parsed, err := ParseResponse(body, resp.Header)
	if err != nil {
		return nil, err
	}
	return c.finish(ctx, provider, meta, parsed), nil
}

// RequestInferenceStream is RequestInference with a streamed response.
// onChunk receives every content delta as it arrives.
func (c *Client) RequestInferenceStream(ctx context.Context, provider string, req domain.InferenceRequest, onChunk func(string)) (*domain.InferenceResult, error) {
	resp, meta, err := c.send(ctx, provider, req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	parsed, err := readStream(resp.Body, resp.Header, onChunk)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.FromContext(ctxErr, domain.KindProvider, domain.ReasonInferenceProvider, "inference stream interrupted")
		}
		return nil, err
	}
	return c.finish(ctx, provider, meta, parsed), nil
}

func (c *Client) send(ctx context.Context, provider string, req domain.InferenceRequest, stream bool) (*http.Response, *ServiceMetadata, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, domain.FromContext(err, domain.KindProvider, domain.ReasonInferenceProvider, "rate limiter")
	}

	meta, err := c.broker.ServiceMetadata(ctx, provider)
	if err != nil {
		return nil, nil, domain.FromContext(err, domain.KindProvider, domain.ReasonInferenceProvider, "failed to resolve provider")
	}
	if err := c.acknowledge(ctx, provider); err != nil {
		return nil, nil, err
	}

	payload := chatRequest{
		Model: meta.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt(req.AgentID, req.Context)},
			{Role: "user", Content: req.Prompt},
		},
		Stream: stream,
	}
	if t, ok := floatParam(req.Parameters, "temperature"); ok {
		payload.Temperature = &t
	}
	if m, ok := floatParam(req.Parameters, "max_tokens"); ok {
		n := int(m)
		payload.MaxTokens = &n
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, domain.WrapError(domain.KindProvider, domain.ReasonInferenceProvider, err, "failed to encode request")
	}

	headers, err := c.broker.RequestHeaders(ctx, provider, string(body))
	if err != nil {
		if errors.Is(err, domain.ErrUserRejected) {
			return nil, nil, domain.WrapError(domain.KindProvider, domain.ReasonUserRejectedSignature, err, "request headers were not signed")
		}
		return nil, nil, domain.FromContext(err, domain.KindProvider, domain.ReasonInferenceProvider, "failed to build request headers")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, nil, domain.WrapError(domain.KindProvider, domain.ReasonInferenceProvider, err, "failed to create request")
	}
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	c.log.Debug().
		Str("provider", provider).
		Uint64("agent_id", req.AgentID).
		Bool("stream", stream).
		Msg("Requesting inference")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, domain.FromContext(err, domain.KindProvider, domain.ReasonInferenceProvider, "inference request failed")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, nil, domain.NewError(domain.KindProvider, domain.ReasonInferenceProvider,
			"provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return resp, meta, nil
}

func (c *Client) acknowledge(ctx context.Context, provider string) error {
	key := strings.ToLower(provider)
	c.mu.Lock()
	done := c.acknowledged[key]
	c.mu.Unlock()
	if done {
		return nil
	}

	if err := c.broker.Acknowledge(ctx, provider); err != nil {
		return domain.FromContext(err, domain.KindProvider, domain.ReasonInferenceProvider, "failed to acknowledge provider")
	}

	c.mu.Lock()
	c.acknowledged[key] = true
	c.mu.Unlock()
	return nil
}

// finish settles fees and checks attestation for a parsed response
func (c *Client) finish(ctx context.Context, provider string, meta *ServiceMetadata, parsed *ParsedResponse) *domain.InferenceResult {
	result := &domain.InferenceResult{
		StrategyText:      strings.TrimSpace(parsed.Text),
		ConfidenceScore:   parsed.ConfidenceScore(),
		VerificationToken: parsed.Token,
		Provider:          provider,
		Model:             meta.Model,
		Shape:             string(parsed.Shape),
	}

	if parsed.Shape == ShapeUnknown {
		c.log.Warn().Str("provider", provider).Msg("Unrecognized inference response shape")
		result.VerificationToken = ""
		return result
	}
	if parsed.Token == "" {
		return result
	}

	if err := c.broker.Settle(ctx, provider, parsed.Token, parsed.Usage); err != nil {
		c.log.Warn().Err(err).Str("provider", provider).Msg("Fee settlement failed")
	} else {
		result.Settled = true
	}

	ok, err := c.broker.VerifyAttestation(ctx, provider, parsed.Token)
	switch {
	case errors.Is(err, ErrNotVerifiable):
		// Nothing to verify later; a token from a non-TEE provider is not trust material
		result.VerificationToken = ""
	case err != nil:
		c.log.Warn().Err(err).Str("provider", provider).Msg("Attestation check failed")
	default:
		result.Verified = ok
		if ok {
			c.remember(provider, parsed.Token)
		}
	}

	return result
}

// VerifyToken checks token against provider's attestation. A previously
// confirmed token is not fetched again.
func (c *Client) VerifyToken(ctx context.Context, provider, token string) (bool, error) {
	if token == "" {
		return false, domain.NewError(domain.KindVerificationWarning, domain.ReasonAttestationFailed, "no verification token")
	}

	c.mu.Lock()
	ok := c.verified[verifiedKey(provider, token)]
	c.mu.Unlock()
	if ok {
		return true, nil
	}

	ok, err := c.broker.VerifyAttestation(ctx, provider, token)
	if err != nil {
		return false, domain.FromContext(err, domain.KindVerificationWarning, domain.ReasonAttestationFailed, "attestation check failed")
	}
	if ok {
		c.remember(provider, token)
	}
	return ok, nil
}

func (c *Client) remember(provider, token string) {
	c.mu.Lock()
	c.verified[verifiedKey(provider, token)] = true
	c.mu.Unlock()
}

func verifiedKey(provider, token string) string {
	return strings.ToLower(provider) + "|" + token
}

// Providers returns the chatbot services, served from the session cache
func (c *Client) Providers(ctx context.Context) ([]Service, error) {
	services, err := c.providers.Get(ctx)
	if err != nil {
		return nil, domain.FromContext(err, domain.KindProvider, domain.ReasonInferenceProvider, "failed to list providers")
	}
	return services, nil
}

// InvalidateProviders drops the cached provider list
func (c *Client) InvalidateProviders() {
	c.providers.Invalidate()
}

// RefreshProviders invalidates and refetches the provider list
func (c *Client) RefreshProviders(ctx context.Context) ([]Service, error) {
	c.providers.Invalidate()
	return c.Providers(ctx)
}

// Deposit funds the compute ledger
func (c *Client) Deposit(ctx context.Context, amount *big.Int) error {
	if err := c.broker.Deposit(ctx, amount); err != nil {
		return domain.FromContext(err, domain.KindProvider, domain.ReasonInferenceProvider, "compute deposit failed")
	}
	return nil
}

// Account returns the compute ledger of the session user
func (c *Client) Account(ctx context.Context) (*Account, error) {
	acct, err := c.broker.Account(ctx)
	if err != nil {
		return nil, domain.FromContext(err, domain.KindProvider, domain.ReasonInferenceProvider, "failed to read compute account")
	}
	return acct, nil
}

func floatParam(params map[string]interface{}, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
