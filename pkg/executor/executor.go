// Package executor runs confirmed plans against a model provider and
// publishes the streamed reply on the generation event bus.
package executor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/TenVexAI/saipling/pkg/generate"
	"github.com/TenVexAI/saipling/pkg/logger"
)

var (
	// ErrUnknownPlan is returned by Execute for a plan that was never
	// registered.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrAlreadyRunning is returned when a plan is executed twice at once.
	ErrAlreadyRunning = errors.New("plan is already running")
	// ErrCancelled is published when a run is cancelled.
	ErrCancelled = errors.New("generation cancelled")
)

// DefaultMaxTokens is the output limit when none is configured.
const DefaultMaxTokens = 8192

// RetryConfig controls retries of a stream that fails before producing
// any text.
type RetryConfig struct {
	Attempts     uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig retries three times with exponential backoff.
var DefaultRetryConfig = RetryConfig{
	Attempts:     3,
	InitialDelay: time.Second,
	MaxDelay:     10 * time.Second,
}

// Options configures an Executor. Events and Streamers are required.
type Options struct {
	Events    generate.Publisher
	Streamers Resolver
	MaxTokens int
	Retry     RetryConfig
}

type registration struct {
	plan   *generate.Plan
	system string
}

// Executor implements generate.Executor. Each execution runs in its own
// goroutine and reports exclusively through the event bus.
type Executor struct {
	opts Options

	mu      sync.Mutex
	plans   map[string]registration
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New returns an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Events == nil {
		return nil, errors.New("event publisher is required")
	}
	if opts.Streamers == nil {
		return nil, errors.New("streamer resolver is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryConfig
	}
	return &Executor{
		opts:    opts,
		plans:   make(map[string]registration),
		running: make(map[string]context.CancelFunc),
	}, nil
}

// Register stores plan and its system prompt for a later Execute.
func (e *Executor) Register(plan *generate.Plan, systemPrompt string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plans[plan.ID] = registration{plan: plan, system: systemPrompt}
}

// Execute starts streaming planID. It returns once the run has started;
// the outcome is published as a done or error event. The run is not tied
// to ctx; use Cancel to stop it.
func (e *Executor) Execute(ctx context.Context, planID string, history []generate.Turn) error {
	e.mu.Lock()
	reg, ok := e.plans[planID]
	if !ok {
		e.mu.Unlock()
		return errors.Wrapf(ErrUnknownPlan, "%s", planID)
	}
	if _, busy := e.running[planID]; busy {
		e.mu.Unlock()
		return errors.Wrapf(ErrAlreadyRunning, "%s", planID)
	}
	streamer, err := e.opts.Streamers.Resolve(reg.plan.Model)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.running[planID] = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	req := Request{
		Model:     reg.plan.Model,
		System:    reg.system,
		History:   history,
		MaxTokens: e.opts.MaxTokens,
	}
	go e.run(logger.WithPlan(runCtx, planID), planID, streamer, req)
	return nil
}

func (e *Executor) run(ctx context.Context, planID string, streamer Streamer, req Request) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		if cancel, ok := e.running[planID]; ok {
			cancel()
			delete(e.running, planID)
		}
		delete(e.plans, planID)
		e.mu.Unlock()
	}()

	log := logger.G(ctx).WithField(logger.FieldModel, req.Model)
	log.Debug("streaming started")

	completion, err := e.stream(ctx, streamer, req, func(text string) {
		e.opts.Events.PublishChunk(planID, text)
	})
	switch {
	case ctx.Err() != nil:
		log.Debug("streaming cancelled")
		e.opts.Events.PublishError(planID, ErrCancelled)
	case err != nil:
		log.WithError(err).Error("streaming failed")
		e.opts.Events.PublishError(planID, err)
	default:
		if completion.Model == "" {
			completion.Model = req.Model
		}
		log.WithField("input_tokens", completion.InputTokens).
			WithField("output_tokens", completion.OutputTokens).
			Debug("streaming finished")
		e.opts.Events.PublishDone(planID, completion)
	}
}

// stream calls the streamer, retrying transient failures that happen
// before any text was forwarded.
func (e *Executor) stream(ctx context.Context, streamer Streamer, req Request, onChunk func(string)) (generate.Completion, error) {
	var completion generate.Completion
	emitted := false
	forward := func(text string) {
		emitted = true
		onChunk(text)
	}

	err := retry.Do(
		func() error {
			var err error
			completion, err = streamer.Stream(ctx, req, forward)
			return err
		},
		retry.RetryIf(func(err error) bool {
			return !emitted && isRetryableError(err)
		}),
		retry.Attempts(e.opts.Retry.Attempts),
		retry.Delay(e.opts.Retry.InitialDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(e.opts.Retry.MaxDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).Warn("retrying model stream")
		}),
	)
	return completion, err
}

// Cancel stops planID if it is running. It does not wait for the run to
// wind down.
func (e *Executor) Cancel(ctx context.Context, planID string) {
	e.mu.Lock()
	cancel, ok := e.running[planID]
	e.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	logger.G(ctx).WithField(logger.FieldPlanID, planID).Debug("execution cancel requested")
}

// Forget drops the registration of planID so it can no longer be
// executed. A run already in progress is unaffected; use Cancel to stop it.
func (e *Executor) Forget(planID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.plans, planID)
}

// Registered reports whether planID is waiting for or in execution.
func (e *Executor) Registered(planID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.plans[planID]
	return ok
}

// Running reports whether planID is streaming.
func (e *Executor) Running(planID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[planID]
	return ok
}

// Wait blocks until every started run has published its outcome.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode == 429 || anthropicErr.StatusCode >= 500
	}
	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return openaiErr.HTTPStatusCode == 429 || openaiErr.HTTPStatusCode >= 500
	}
	var requestErr *openai.RequestError
	if errors.As(err, &requestErr) {
		return requestErr.HTTPStatusCode == 429 || requestErr.HTTPStatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "timeout", "overloaded", "rate limit"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
