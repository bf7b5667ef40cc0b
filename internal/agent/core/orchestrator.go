package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/status"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepsearch/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var orchestratorTracer trace.Tracer = otel.Tracer("deepsearch/internal/agent/orchestrator")

// RunGuard is an optional cross-process lock held for the lifetime of a run.
// Acquire returns ErrRunInProgress when another holder owns key.
type RunGuard interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Orchestrator drives plan, derive, fan-out and synthesis for one conversation.
// At most one run is in flight at a time.
type Orchestrator struct {
	gateway   provider.Gateway
	store     *ConversationStore
	tracker   *status.Tracker
	logger    *zap.Logger
	telemetry *telemetry.Telemetry

	planner     *Planner
	synthesizer *Synthesizer

	policy       QueryPolicy
	historyTurns int
	maxParallel  int
	defaultModel string
	guard        RunGuard
	guardKey     string

	mu       sync.Mutex
	state    PipelineState
	inflight *Run
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *Orchestrator) { o.telemetry = t }
}

func WithQueryPolicy(p QueryPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func WithHistoryTurns(n int) Option {
	return func(o *Orchestrator) { o.historyTurns = n }
}

// WithMaxParallel caps concurrent fan-out branches; 0 means unbounded.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) { o.maxParallel = n }
}

func WithDefaultModel(model string) Option {
	return func(o *Orchestrator) { o.defaultModel = model }
}

// WithRunGuard adds a distributed in-flight lock under key.
func WithRunGuard(g RunGuard, key string) Option {
	return func(o *Orchestrator) {
		o.guard = g
		o.guardKey = key
	}
}

// NewOrchestrator wires an orchestrator around an existing store and tracker.
func NewOrchestrator(gw provider.Gateway, store *ConversationStore, tracker *status.Tracker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gateway:      gw,
		store:        store,
		tracker:      tracker,
		logger:       zap.NewNop(),
		policy:       DefaultQueryPolicy(),
		historyTurns: DefaultHistoryTurns,
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = NewConversationStore()
	}
	if o.tracker == nil {
		o.tracker = status.NewTracker()
	}
	o.logger = o.logger.Named("orchestrator")
	o.planner = NewPlanner(gw)
	o.synthesizer = NewSynthesizer(gw)
	return o
}

// Store exposes the conversation log
func (o *Orchestrator) Store() *ConversationStore { return o.store }

// Tracker exposes the progress tracker
func (o *Orchestrator) Tracker() *status.Tracker { return o.tracker }

// State reports the current pipeline state
func (o *Orchestrator) State() PipelineState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether a run is in flight
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight != nil
}

// Run is a handle on one pipeline execution
type Run struct {
	ID    string
	Query string
	Model string

	credential string
	epoch      uint64
	startedAt  time.Time
	done       chan struct{}
	result     RunResult
	err        error

	releaseOnce sync.Once
	release     func(context.Context) error
}

// Done is closed once the run has finished
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes
func (r *Run) Wait() (RunResult, error) {
	<-r.done
	return r.result, r.err
}

func (r *Run) releaseGuard(ctx context.Context) error {
	var err error
	r.releaseOnce.Do(func() {
		if r.release != nil {
			err = r.release(ctx)
		}
	})
	return err
}

// Run starts a pipeline and waits for it.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	run, err := o.Start(ctx, req)
	if err != nil {
		return RunResult{State: StateIdle, Err: err}, err
	}
	return run.Wait()
}

// Start validates the request, claims the in-flight slot, records the user turn
// and launches the pipeline in the background.
func (o *Orchestrator) Start(ctx context.Context, req RunRequest) (*Run, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	credential := strings.TrimSpace(req.Credential)
	if credential == "" {
		return nil, ErrMissingCredential
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = o.defaultModel
	}
	if model == "" {
		return nil, errors.New("no model selected")
	}

	run := &Run{
		ID:         uuid.NewString(),
		Query:      query,
		Model:      model,
		credential: credential,
		startedAt:  time.Now(),
		done:       make(chan struct{}),
	}

	o.mu.Lock()
	if o.inflight != nil {
		o.mu.Unlock()
		return nil, ErrRunInProgress
	}
	o.inflight = run
	o.mu.Unlock()

	if o.guard != nil {
		release, err := o.guard.Acquire(ctx, o.guardKey)
		if err != nil {
			o.mu.Lock()
			if o.inflight == run {
				o.inflight = nil
			}
			o.mu.Unlock()
			return nil, err
		}
		run.release = release
	}

	o.mu.Lock()
	if o.inflight != run {
		// reset while acquiring the guard
		o.mu.Unlock()
		_ = run.releaseGuard(context.Background())
		return nil, ErrRunDiscarded
	}
	run.epoch = o.store.Epoch()
	o.store.Append(Turn{Role: RoleUser, Content: query})
	o.tracker.Clear()
	o.mu.Unlock()

	o.telemetry.RunStarted()
	o.logger.Info("run started", zap.String("run_id", run.ID), zap.String("model", model))

	go o.execute(ctx, run)
	return run, nil
}

// Reset clears the conversation and the tracker together and frees the
// in-flight slot. A run still executing is discarded: its later writes are
// ignored and it finishes with ErrRunDiscarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.store.Reset()
	o.tracker.Clear()
	discarded := o.inflight
	o.inflight = nil
	o.state = StateIdle
	o.mu.Unlock()

	if discarded != nil {
		o.logger.Info("reset discarded in-flight run", zap.String("run_id", discarded.ID))
		if err := discarded.releaseGuard(context.Background()); err != nil {
			o.logger.Warn("failed to release run guard", zap.Error(err))
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, run *Run) {
	defer close(run.done)

	ctx, span := orchestratorTracer.Start(ctx, "research.run",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("run.model", run.Model),
		))
	defer span.End()

	progress := &runProgress{o: o, epoch: run.epoch}
	result, err := o.pipeline(ctx, run, progress, span)
	result.FinishedAt = time.Now()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.mu.Lock()
	stale := o.store.Epoch() != run.epoch
	switch {
	case stale:
		result.State = StateFailed
		err = ErrRunDiscarded
	case err != nil:
		result.State = StateFailed
		o.setStateLocked(run, StateFailed)
		o.tracker.Add("main-error", "An error occurred: "+err.Error(), status.Error)
		o.store.Append(Turn{Role: RoleModel, Content: ErrorTurnPrefix + "\n\n" + err.Error()})
	default:
		result.State = StateDone
		o.setStateLocked(run, StateDone)
		o.store.Append(Turn{Role: RoleModel, Content: result.Answer})
	}
	if o.inflight == run {
		o.inflight = nil
		o.state = StateIdle
	}
	o.mu.Unlock()

	if relErr := run.releaseGuard(context.Background()); relErr != nil {
		o.logger.Warn("failed to release run guard", zap.String("run_id", run.ID), zap.Error(relErr))
	}

	failed := 0
	for _, oc := range result.Outcomes {
		if oc.Failed() {
			failed++
		}
	}
	result.Err = err
	o.telemetry.RecordRunEvent(ctx, telemetry.RunEvent{
		ID:             run.ID,
		Query:          run.Query,
		Model:          run.Model,
		StartTime:      run.startedAt,
		EndTime:        result.FinishedAt,
		State:          string(result.State),
		Queries:        len(result.Queries),
		FailedBranches: failed,
		Discarded:      stale,
		Error:          err,
	})
	run.result = result
	run.err = err
}

func (o *Orchestrator) pipeline(ctx context.Context, run *Run, progress *runProgress, span trace.Span) (RunResult, error) {
	result := RunResult{
		RunID:     run.ID,
		Query:     run.Query,
		Model:     run.Model,
		StartedAt: run.startedAt,
	}

	// The user turn is already stored; history includes it like the prompt expects.
	historyContext := FormatHistory(o.store.Recent(2*o.historyTurns), o.historyTurns)

	o.transition(run, span, StatePlanning)
	progress.Add("plan", "Generating plan...", status.Working)
	phaseStart := time.Now()
	plan, err := o.planner.Plan(ctx, run.credential, run.Model, run.Query, historyContext)
	o.telemetry.RecordPhase("plan", time.Since(phaseStart))
	if err != nil {
		progress.Update("plan", "Generating plan...", status.Error)
		return result, err
	}
	progress.Update("plan", "Generating plan...", status.Done)
	result.Plan = plan
	if o.discarded(run) {
		return result, ErrRunDiscarded
	}

	o.transition(run, span, StateDerivingQueries)
	progress.Add("areas", "Generating search queries...", status.Working)
	queries, err := DeriveQueries(plan, run.Query, o.policy)
	if err != nil {
		progress.Update("areas", "Generating search queries...", status.Error)
		return result, err
	}
	progress.Update("areas", "Generating search queries...", status.Done)
	progress.Add("areas-count", fmt.Sprintf("Generated %d specific search queries.", len(queries)), status.Info)
	progress.Add("query-list", "Queries:", status.Info)
	progress.SetItems("query-list", queries)
	result.Queries = queries

	o.transition(run, span, StateSearching)
	progress.Add("parallel-search", "Starting parallel grounded searches...", status.Working)
	phaseStart = time.Now()
	fanout := &FanOut{
		Gateway:   o.gateway,
		Progress:  progress,
		Telemetry: o.telemetry,
		Logger:    o.logger,
		Limit:     o.maxParallel,
		RunID:     run.ID,
	}
	result.Outcomes = fanout.Run(ctx, run.credential, run.Model, queries, run.Query, historyContext)
	o.telemetry.RecordPhase("fanout", time.Since(phaseStart))
	progress.Update("parallel-search", "Parallel grounded searches completed.", status.Done)
	if o.discarded(run) {
		return result, ErrRunDiscarded
	}

	o.transition(run, span, StateSynthesizing)
	progress.Add("synthesis", "Synthesizing final answer...", status.Working)
	phaseStart = time.Now()
	answer, err := o.synthesizer.Synthesize(ctx, run.credential, run.Model, run.Query, historyContext, result.Outcomes)
	o.telemetry.RecordPhase("synthesize", time.Since(phaseStart))
	if err != nil {
		progress.Update("synthesis", "Synthesizing final answer...", status.Error)
		return result, err
	}
	progress.Update("synthesis", "Synthesizing final answer...", status.Done)
	result.Answer = answer
	return result, nil
}

func (o *Orchestrator) transition(run *Run, span trace.Span, next PipelineState) {
	o.mu.Lock()
	o.setStateLocked(run, next)
	o.mu.Unlock()
	span.AddEvent("state", trace.WithAttributes(attribute.String("state", string(next))))
	o.logger.Debug("state transition", zap.String("run_id", run.ID), zap.String("state", string(next)))
}

// setStateLocked only moves the state machine for the run that owns it.
func (o *Orchestrator) setStateLocked(run *Run, next PipelineState) {
	if o.inflight == run {
		o.state = next
	}
}

func (o *Orchestrator) discarded(run *Run) bool {
	return o.store.Epoch() != run.epoch
}

// runProgress forwards to the tracker only while the run's epoch is current.
type runProgress struct {
	o     *Orchestrator
	epoch uint64
}

func (p *runProgress) Add(id, label string, state status.State) {
	p.o.mu.Lock()
	defer p.o.mu.Unlock()
	if p.o.store.Epoch() == p.epoch {
		p.o.tracker.Add(id, label, state)
	}
}

func (p *runProgress) Update(id, label string, state status.State) bool {
	p.o.mu.Lock()
	defer p.o.mu.Unlock()
	if p.o.store.Epoch() != p.epoch {
		return false
	}
	return p.o.tracker.Update(id, label, state)
}

func (p *runProgress) SetItems(id string, items []string) {
	p.o.mu.Lock()
	defer p.o.mu.Unlock()
	if p.o.store.Epoch() == p.epoch {
		p.o.tracker.SetItems(id, items)
	}
}
