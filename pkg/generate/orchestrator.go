// Package generate drives one document generation from plan to stored
// draft. An Orchestrator moves through idle, planning, confirming,
// generating and done; any failure or cancellation returns it to idle.
package generate

import (
	"context"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/TenVexAI/saipling/pkg/costs"
	"github.com/TenVexAI/saipling/pkg/draft"
	"github.com/TenVexAI/saipling/pkg/frontmatter"
	"github.com/TenVexAI/saipling/pkg/logger"
	"github.com/TenVexAI/saipling/pkg/pricing"
	"github.com/TenVexAI/saipling/pkg/telemetry"
)

var (
	// ErrInvalidPhase is returned when an operation does not apply to the
	// current phase.
	ErrInvalidPhase = errors.New("operation not allowed in current phase")
	// ErrNoPlan is returned when there is no plan to act on.
	ErrNoPlan = errors.New("no plan")
	// ErrSuperseded is returned when the attempt an operation belonged to
	// was cancelled or replaced while it ran.
	ErrSuperseded = errors.New("generation attempt was cancelled")
	// ErrNothingToRetry is returned by RetryWrite when no unwritten result
	// is cached.
	ErrNothingToRetry = errors.New("no unwritten result to retry")
)

// Subscriber is the listening side of the event bus.
type Subscriber interface {
	Subscribe(planID string, onChunk func(string)) *Subscription
}

// Options wires an Orchestrator to its collaborators. Planner, Executor,
// Storage and Events are required.
type Options struct {
	Planner  Planner
	Executor Executor
	Storage  Storage
	Events   Subscriber
	// Costs receives one entry per completed generation. Defaults to a
	// fresh in-memory session.
	Costs costs.Accumulator
	// Pricing defaults to the built-in price table.
	Pricing Pricer
	// Root is the workspace root handed to the planner.
	Root string
	// Transform defaults to draft.Normalize.
	Transform Transform
}

// Snapshot is a consistent view of an Orchestrator's state.
type Snapshot struct {
	Phase        Phase
	Plan         *Plan
	Err          error
	StreamedText string
	Result       *Result
}

// Orchestrator runs at most one generation attempt at a time. Every attempt
// gets a number; events and planner results belonging to an older attempt
// are ignored.
type Orchestrator struct {
	opts     Options
	validate *validator.Validate

	mu             sync.Mutex
	phase          Phase
	attempt        uint64
	request        Request
	plan           *Plan
	err            error
	streamed       strings.Builder
	last           *Result
	sub            *Subscription
	finished       chan struct{}
	cancelPlanning context.CancelFunc

	listenerSeq int
	listeners   []listener
}

type listener struct {
	id int
	fn func(Snapshot)
}

// New returns an idle Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Planner == nil:
		return nil, errors.New("planner is required")
	case opts.Executor == nil:
		return nil, errors.New("executor is required")
	case opts.Storage == nil:
		return nil, errors.New("storage is required")
	case opts.Events == nil:
		return nil, errors.New("event bus is required")
	}
	if opts.Costs == nil {
		opts.Costs = costs.NewSession()
	}
	if opts.Pricing == nil {
		opts.Pricing = pricing.DefaultTable()
	}
	if opts.Transform == nil {
		opts.Transform = draft.Normalize
	}
	return &Orchestrator{opts: opts, validate: validator.New(), phase: PhaseIdle}, nil
}

// StartGenerate validates req and asks the planner for a plan. It blocks
// until the planner returns. On success the phase is confirming.
func (o *Orchestrator) StartGenerate(ctx context.Context, req Request) error {
	if err := o.validate.Struct(req); err != nil {
		return errors.Wrap(err, "invalid generation request")
	}

	o.mu.Lock()
	if o.phase == PhasePlanning || o.phase == PhaseGenerating {
		phase := o.phase
		o.mu.Unlock()
		return errors.Wrapf(ErrInvalidPhase, "cannot start while %s", phase)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.attempt++
	attempt := o.attempt
	previous := o.plan
	o.phase = PhasePlanning
	o.request = req
	o.plan, o.err, o.last = nil, nil, nil
	o.streamed.Reset()
	o.cancelPlanning = cancel
	o.mu.Unlock()
	o.forget(previous)
	o.notify()

	ctx = logger.WithField(ctx, logger.FieldSkill, req.Skill)
	logger.G(ctx).WithField(logger.FieldPath, req.Destination).Debug("planning generation")

	var plan *Plan
	err := telemetry.WithSpan(ctx, "generate.plan", func(ctx context.Context) error {
		var err error
		plan, err = o.opts.Planner.Plan(ctx, o.opts.Root, req.Skill, req.Scope, req.Instruction)
		if err == nil && plan == nil {
			err = errors.Wrap(ErrNoPlan, "planner returned no plan")
		}
		return err
	}, attribute.String("skill", req.Skill))

	o.mu.Lock()
	if attempt != o.attempt {
		o.mu.Unlock()
		o.forget(plan)
		return ErrSuperseded
	}
	o.cancelPlanning = nil
	if err != nil {
		o.phase = PhaseIdle
		o.err = err
		o.mu.Unlock()
		logger.G(ctx).WithError(err).Error("planning failed")
		o.notify()
		return err
	}
	o.plan = plan
	o.phase = PhaseConfirming
	o.mu.Unlock()

	logger.G(logger.WithPlan(ctx, plan.ID)).
		WithField(logger.FieldModel, plan.Model).
		WithField("estimated_cost", plan.EstimatedCost).
		Debug("plan awaiting confirmation")
	o.notify()
	return nil
}

// ConfirmGenerate subscribes to the plan's events and hands the plan to the
// executor. It returns once the executor has accepted the plan; the
// outcome is handled in the background and can be awaited with Wait.
func (o *Orchestrator) ConfirmGenerate(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != PhaseConfirming {
		phase := o.phase
		o.mu.Unlock()
		return errors.Wrapf(ErrInvalidPhase, "cannot confirm while %s", phase)
	}
	if o.plan == nil {
		o.mu.Unlock()
		return ErrNoPlan
	}
	plan, req, attempt := o.plan, o.request, o.attempt
	history := BuildHistory(req.History, req.Instruction)
	o.phase = PhaseGenerating
	o.streamed.Reset()
	o.finished = make(chan struct{})
	sub := o.opts.Events.Subscribe(plan.ID, func(text string) { o.appendChunk(attempt, text) })
	o.sub = sub
	o.mu.Unlock()
	o.notify()

	ctx = logger.WithPlan(ctx, plan.ID)
	logger.G(ctx).WithField("turns", len(history)).Debug("executing plan")

	err := telemetry.WithSpan(ctx, "generate.execute", func(ctx context.Context) error {
		return o.opts.Executor.Execute(ctx, plan.ID, history)
	}, attribute.String("plan_id", plan.ID), attribute.String("model", plan.Model))
	if err != nil {
		sub.Close()
		o.forget(plan)
		o.fail(ctx, attempt, err)
		return err
	}

	go o.await(context.WithoutCancel(ctx), attempt, plan, sub)
	return nil
}

func (o *Orchestrator) await(ctx context.Context, attempt uint64, plan *Plan, sub *Subscription) {
	completion, err := sub.Result(ctx)
	sub.Close()
	o.forget(plan)

	switch {
	case errors.Is(err, ErrSubscriptionClosed):
		// Cancelled; local state was already reset.
	case err != nil:
		o.fail(ctx, attempt, err)
	default:
		o.complete(ctx, attempt, completion)
	}
}

func (o *Orchestrator) appendChunk(attempt uint64, text string) {
	o.mu.Lock()
	if attempt != o.attempt || o.phase != PhaseGenerating {
		o.mu.Unlock()
		return
	}
	o.streamed.WriteString(text)
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) fail(ctx context.Context, attempt uint64, err error) {
	o.mu.Lock()
	if attempt != o.attempt {
		o.mu.Unlock()
		return
	}
	o.phase = PhaseIdle
	o.err = err
	o.sub = nil
	finished := o.takeFinished()
	o.mu.Unlock()

	logger.G(ctx).WithError(err).Error("generation failed")
	o.notify()
	closeFinished(finished)
}

func (o *Orchestrator) complete(ctx context.Context, attempt uint64, completion Completion) {
	o.mu.Lock()
	if attempt != o.attempt || o.phase != PhaseGenerating {
		o.mu.Unlock()
		return
	}
	plan, req := o.plan, o.request
	o.mu.Unlock()

	model := completion.Model
	if model == "" {
		model = plan.Model
	}
	cost := o.opts.Pricing.Cost(model, completion.InputTokens, completion.OutputTokens)
	if err := o.opts.Costs.AddCost(ctx, costs.Entry{
		PlanID:       plan.ID,
		Model:        model,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		Cost:         cost,
	}); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to record generation cost")
	}

	transform := req.Transform
	if transform == nil {
		transform = o.opts.Transform
	}
	result := &Result{
		PlanID:     plan.ID,
		Path:       req.Destination,
		Metadata:   frontmatter.Merge(req.Template, nil),
		Body:       transform(completion.FullText),
		Completion: completion,
		Cost:       cost,
	}

	err := o.write(ctx, result)

	o.mu.Lock()
	if attempt != o.attempt {
		o.mu.Unlock()
		return
	}
	o.last = result
	o.sub = nil
	o.streamed.Reset()
	o.streamed.WriteString(completion.FullText)
	if err != nil {
		o.phase = PhaseIdle
		o.err = err
	} else {
		o.phase = PhaseDone
		o.err = nil
	}
	finished := o.takeFinished()
	o.mu.Unlock()
	o.notify()
	closeFinished(finished)
}

func (o *Orchestrator) write(ctx context.Context, result *Result) error {
	err := telemetry.WithSpan(ctx, "generate.commit", func(ctx context.Context) error {
		return o.opts.Storage.Write(ctx, result.Path, result.Metadata, result.Body)
	}, attribute.String("path", result.Path))
	if err != nil {
		logger.G(ctx).WithError(err).WithField(logger.FieldPath, result.Path).Error("failed to write generated document")
		return errors.Wrapf(err, "failed to write %s", result.Path)
	}
	result.Committed = true
	logger.G(ctx).WithField(logger.FieldPath, result.Path).WithField("cost", result.Cost).Info("generated document written")
	return nil
}

// takeFinished detaches the channel Wait callers block on. Callers must
// hold o.mu and close the channel with closeFinished after notifying
// listeners.
func (o *Orchestrator) takeFinished() chan struct{} {
	ch := o.finished
	o.finished = nil
	return ch
}

func closeFinished(ch chan struct{}) {
	if ch != nil {
		close(ch)
	}
}

// Wait blocks until the running generation finishes and returns its
// result. A cached, unwritten result is returned along with the write
// error.
func (o *Orchestrator) Wait(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	ch := o.finished
	o.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.phase == PhaseDone:
		return o.lastCopy(), nil
	case o.err != nil:
		return o.lastCopy(), o.err
	case ch != nil:
		return nil, ErrSuperseded
	default:
		return nil, errors.Wrapf(ErrInvalidPhase, "nothing to wait for while %s", o.phase)
	}
}

// CancelGenerate abandons the current attempt. The executor is asked to
// stop, but local state resets whether or not it does.
func (o *Orchestrator) CancelGenerate(ctx context.Context) {
	o.mu.Lock()
	phase := o.phase
	plan := o.plan
	var planID string
	if plan != nil {
		planID = plan.ID
	}
	sub, cancelPlanning := o.sub, o.cancelPlanning
	o.attempt++
	o.phase = PhaseIdle
	o.plan, o.err, o.sub, o.cancelPlanning = nil, nil, nil, nil
	o.streamed.Reset()
	finished := o.takeFinished()
	o.mu.Unlock()

	if cancelPlanning != nil {
		cancelPlanning()
	}
	if sub != nil {
		sub.Close()
	}
	if phase == PhaseGenerating && planID != "" {
		o.opts.Executor.Cancel(ctx, planID)
	}
	o.forget(plan)
	logger.G(ctx).WithField("phase", phase).Debug("generation cancelled")
	o.notify()
	closeFinished(finished)
}

// Reset clears a finished generation, including any cached result.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	if o.phase != PhaseDone && o.phase != PhaseIdle {
		phase := o.phase
		o.mu.Unlock()
		return errors.Wrapf(ErrInvalidPhase, "cannot reset while %s", phase)
	}
	plan := o.plan
	o.phase = PhaseIdle
	o.plan, o.err, o.last = nil, nil, nil
	o.streamed.Reset()
	o.mu.Unlock()
	o.forget(plan)
	o.notify()
	return nil
}

func (o *Orchestrator) forget(plan *Plan) {
	if plan != nil {
		o.opts.Executor.Forget(plan.ID)
	}
}

// RetryWrite writes the cached result of a generation whose write failed.
func (o *Orchestrator) RetryWrite(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	if o.phase != PhaseIdle || o.last == nil || o.last.Committed {
		o.mu.Unlock()
		return nil, ErrNothingToRetry
	}
	result := *o.last
	attempt := o.attempt
	o.mu.Unlock()

	ctx = logger.WithPlan(ctx, result.PlanID)
	err := o.write(ctx, &result)

	o.mu.Lock()
	if attempt != o.attempt {
		o.mu.Unlock()
		return nil, ErrSuperseded
	}
	if err != nil {
		o.err = err
		o.mu.Unlock()
		o.notify()
		return nil, err
	}
	o.last = &result
	o.phase = PhaseDone
	o.err = nil
	o.mu.Unlock()
	o.notify()

	out := result
	return &out, nil
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Plan returns the current plan, if any.
func (o *Orchestrator) Plan() *Plan {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.plan
}

// Err returns the error of the last failed operation.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// StreamedText returns the text received so far.
func (o *Orchestrator) StreamedText() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.streamed.String()
}

// LastResult returns a copy of the latest result. Committed is false when
// the write failed and RetryWrite can be used.
func (o *Orchestrator) LastResult() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastCopy()
}

func (o *Orchestrator) lastCopy() *Result {
	if o.last == nil {
		return nil
	}
	out := *o.last
	return &out
}

// Snapshot returns the full state at once.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:        o.phase,
		Plan:         o.plan,
		Err:          o.err,
		StreamedText: o.streamed.String(),
		Result:       o.lastCopy(),
	}
}

// OnUpdate registers fn to be called after every state change, including
// each streamed chunk. fn runs on the goroutine that caused the change and
// must not call back into blocking Orchestrator methods. The returned
// function unregisters fn.
func (o *Orchestrator) OnUpdate(fn func(Snapshot)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listenerSeq++
	id := o.listenerSeq
	o.listeners = append(o.listeners, listener{id: id, fn: fn})
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, l := range o.listeners {
			if l.id == id {
				o.listeners = append(o.listeners[:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	if len(o.listeners) == 0 {
		o.mu.Unlock()
		return
	}
	snap := o.snapshotLocked()
	fns := make([]func(Snapshot), len(o.listeners))
	for i, l := range o.listeners {
		fns[i] = l.fn
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
