package saga

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aristath/arena/internal/clients/arena"
	"github.com/aristath/arena/internal/clients/compute"
	"github.com/aristath/arena/internal/clients/storage"
	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TimeoutsFromConfig maps the saga section of the application config
func TimeoutsFromConfig(cfg config.SagaConfig) Timeouts {
	return Timeouts{
		Connect:   cfg.ConnectTimeout,
		Inference: cfg.InferenceTimeout,
		Upload:    cfg.UploadTimeout,
		Submit:    cfg.SubmitTimeout,
		Confirm:   cfg.ConfirmTimeout,
		Verify:    cfg.VerifyTimeout,
	}
}

// temperatureByRisk scales sampling with the risk appetite
var temperatureByRisk = map[domain.RiskLevel]float64{
	domain.RiskLow:    0.3,
	domain.RiskMedium: 0.6,
	domain.RiskHigh:   0.9,
}

// flow carries intermediate results between the steps of one run
type flow struct {
	req    Request
	prompt string

	result  *domain.InferenceResult
	record  *domain.StorageRecord
	accept  *arena.ExecutionReceipt
	summary string
}

type stepFunc func(ctx context.Context, rs *runState, f *flow) error

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// drive executes the steps of rs in order and records the outcome
func (c *Coordinator) drive(ctx context.Context, rs *runState, req Request) {
	defer close(rs.done)
	defer rs.cancel()

	ctx, span := c.tracer.Start(ctx, "saga.run", trace.WithAttributes(
		attribute.String("run.id", rs.run.ID),
		attribute.Int64("agent.id", int64(req.AgentID)),
		attribute.String("provider", req.Provider),
	))
	defer span.End()

	steps := []struct {
		step Step
		fn   stepFunc
	}{
		{StepConnecting, c.connect},
		{StepRequestingInference, c.requestInference},
		{StepProcessingInference, c.processInference},
		{StepUploadingStorage, c.uploadStorage},
		{StepExecutingContract, c.executeContract},
		{StepVerifyingTEE, c.verifyTEE},
	}

	f := &flow{req: req}
	reached := StepConnecting
	for _, s := range steps {
		// A cancel between steps fails the step that just finished
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(reached))
			c.fail(ctx, rs, reached, err)
			return
		}
		if s.step != StepConnecting {
			c.transition(rs, s.step)
		}
		reached = s.step

		if err := c.runStep(ctx, s.step, rs, f, s.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(s.step))
			c.fail(ctx, rs, s.step, err)
			return
		}
	}

	c.complete(ctx, rs)
}

func (c *Coordinator) runStep(ctx context.Context, step Step, rs *runState, f *flow, fn stepFunc) error {
	ctx, span := c.tracer.Start(ctx, "saga."+string(step))
	defer span.End()

	start := c.now()
	err := fn(ctx, rs, f)
	c.log.Debug().
		Str("run_id", rs.run.ID).
		Str("step", string(step)).
		Dur("duration", c.now().Sub(start)).
		Err(err).
		Msg("Step finished")

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Coordinator) connect(ctx context.Context, rs *runState, f *flow) error {
	if c.deps.Wallet == nil || c.deps.Contracts == nil {
		return domain.NewError(domain.KindConnectivity, domain.ReasonSignerUnavailable, "no wallet connected")
	}

	ctx, cancel := withTimeout(ctx, c.timeouts.Connect)
	defer cancel()

	if _, err := c.deps.Wallet.ChainID(ctx); err != nil {
		return domain.FromContext(err, domain.KindConnectivity, domain.ReasonSignerUnavailable, "wallet unavailable")
	}
	return c.deps.Contracts.CheckNetwork(ctx)
}

func (c *Coordinator) requestInference(ctx context.Context, rs *runState, f *flow) error {
	cfg := f.req.Config
	f.prompt = compute.BuildStrategyPrompt(cfg)

	ireq := domain.InferenceRequest{
		AgentID: f.req.AgentID,
		Prompt:  f.prompt,
		Context: compute.BuildMarketContext(f.req.Market),
		Parameters: map[string]interface{}{
			"risk_level":    string(cfg.RiskLevel),
			"strategy_type": string(cfg.StrategyType),
			"temperature":   temperatureByRisk[cfg.RiskLevel],
		},
	}

	ctx, cancel := withTimeout(ctx, c.timeouts.Inference)
	defer cancel()

	var (
		result *domain.InferenceResult
		err    error
	)
	if f.req.Stream {
		runID := rs.run.ID
		result, err = c.deps.Inference.RequestInferenceStream(ctx, f.req.Provider, ireq, func(chunk string) {
			if c.deps.Events != nil {
				c.deps.Events.EmitTyped(events.InferenceChunk, moduleName, &events.InferenceChunkData{
					RunID:   runID,
					Content: chunk,
				})
			}
		})
	} else {
		result, err = c.deps.Inference.RequestInference(ctx, f.req.Provider, ireq)
	}
	if err != nil {
		return err
	}
	f.result = result
	return nil
}

// strategySummary is the compact descriptor stored on chain with an execution
type strategySummary struct {
	Type       domain.StrategyType `json:"type"`
	Risk       domain.RiskLevel    `json:"risk"`
	Confidence float64             `json:"confidence"`
}

func (c *Coordinator) processInference(ctx context.Context, rs *runState, f *flow) error {
	if f.result == nil || strings.TrimSpace(f.result.StrategyText) == "" {
		return domain.NewError(domain.KindProvider, domain.ReasonMalformedInference, "provider returned no strategy")
	}

	data, err := json.Marshal(strategySummary{
		Type:       f.req.Config.StrategyType,
		Risk:       f.req.Config.RiskLevel,
		Confidence: f.result.ConfidenceScore,
	})
	if err != nil {
		return domain.WrapError(domain.KindProvider, domain.ReasonMalformedInference, err, "failed to encode strategy summary")
	}
	f.summary = string(data)

	result := *f.result
	c.update(rs, func(r *Run) { r.Inference = &result })
	return nil
}

func (c *Coordinator) uploadStorage(ctx context.Context, rs *runState, f *flow) error {
	ctx, cancel := withTimeout(ctx, c.timeouts.Upload)
	defer cancel()

	record, err := c.deps.Storage.UploadStrategyRecord(ctx, &storage.StrategyRecord{
		AgentID:   f.req.AgentID,
		User:      rs.run.User,
		Provider:  f.req.Provider,
		Prompt:    f.prompt,
		Config:    f.req.Config,
		Inference: *f.result,
		Timestamp: rs.run.StartedAt,
	})
	if err != nil {
		return err
	}
	f.record = record

	stored := *record
	c.update(rs, func(r *Run) { r.Storage = &stored })
	return nil
}

func (c *Coordinator) executeContract(ctx context.Context, rs *runState, f *flow) error {
	params := arena.ExecuteParams{
		AgentID:         f.req.AgentID,
		StrategyData:    f.summary,
		StorageRootHash: f.record.RootHash,
		TEESignature:    f.result.VerificationToken,
		Amount:          f.req.Config.Amount,
	}

	submitCtx, cancelSubmit := withTimeout(ctx, c.timeouts.Submit)
	pending, err := c.deps.Contracts.DispatchExecution(submitCtx, params)
	cancelSubmit()
	if err != nil {
		return err
	}
	c.markDispatched(rs, pending.Hash)

	confirmCtx, cancelConfirm := withTimeout(ctx, c.timeouts.Confirm)
	defer cancelConfirm()
	accepted, err := c.deps.Contracts.WaitAccepted(confirmCtx, pending)
	if err != nil {
		return err
	}
	f.accept = accepted

	c.update(rs, func(r *Run) {
		r.FundsCommitted = true
		r.TxHash = accepted.TxHash
		r.Execution = &domain.ExecutionRecord{
			ExecutionID:     accepted.ExecutionID,
			AgentID:         f.req.AgentID,
			User:            r.User,
			Amount:          domain.ToWei(f.req.Config.Amount),
			StorageRootHash: f.record.RootHash,
			TEESignature:    f.result.VerificationToken,
			StrategyData:    f.summary,
			Timestamp:       c.now(),
			Status:          domain.ExecutionPending,
		}
	})
	return nil
}

func (c *Coordinator) verifyTEE(ctx context.Context, rs *runState, f *flow) error {
	confirmCtx, cancel := withTimeout(ctx, c.timeouts.Confirm)
	completed, err := c.deps.Contracts.AwaitCompletion(confirmCtx, f.accept.ExecutionID)
	cancel()
	if err != nil {
		return err
	}

	rec := *completed
	rec.Status = domain.ExecutionCompleted
	c.update(rs, func(r *Run) { r.Execution = &rec })

	token := f.result.VerificationToken
	if token == "" {
		return nil
	}

	verifyCtx, cancelVerify := withTimeout(ctx, c.timeouts.Verify)
	defer cancelVerify()
	ok, err := c.deps.Inference.VerifyToken(verifyCtx, f.req.Provider, token)
	if err != nil || !ok {
		c.log.Warn().
			Err(err).
			Str("run_id", rs.run.ID).
			Str("provider", f.req.Provider).
			Msg("TEE verification failed; execution stands")
		c.update(rs, func(r *Run) { r.VerificationWarning = true })
	}
	return nil
}
