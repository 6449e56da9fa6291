// Package loop drives an iteration: it plans the next action from the
// ontology, prompts the agent's model, parses and validates the reply, and
// persists the result, one explicit Step at a time.
//
// State transitions:
//
//	Idle -> Planning -> Dispatching -> Parsing -> Validating -> Persisting -> Planning
//	                         ^            |            |
//	                         |            v            v
//	                         +-------- Refining <------+
//	                                      |
//	                                      '-- rounds spent -> Planning (edge exhausted)
//	Planning -> Done | Failed(Stuck, BudgetExhausted)
//	any state -> Failed(Cancelled, LLMUnavailable, PersistenceError)
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/icl/artifact"
	"github.com/c360studio/icl/events"
	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/interaction"
	"github.com/c360studio/icl/llm"
	"github.com/c360studio/icl/metrics"
	"github.com/c360studio/icl/ontology"
	"github.com/c360studio/icl/planner"
	"github.com/c360studio/icl/prompts"
	"github.com/c360studio/icl/storage"
	"github.com/c360studio/icl/validation"
	"github.com/c360studio/icl/workspace"
)

// DefaultMaxIterations is the cycle budget when none is configured.
const DefaultMaxIterations = 100

// DefaultObservations is the size of the observation ring.
const DefaultObservations = 10

// Config holds the per-run settings.
type Config struct {
	// Goal seeds the root artifact. Empty asks the UI.
	Goal string

	// MaxIterations is the run-wide cycle budget.
	MaxIterations int

	// Observations is how many failure notes later prompts see. Zero means
	// DefaultObservations; a negative value disables the ring.
	Observations int

	// Confirm asks the UI before every dispatch; a refusal vetoes the action.
	Confirm bool

	// CommitHook asks the agent to commit work-dir changes after every
	// persisted artifact.
	CommitHook bool

	// Model, ModelCategory and CLI apply to agents that declare none.
	Model         string
	ModelCategory string
	CLI           string

	// Streaming forwards LLM stderr while calls run.
	Streaming bool
}

// DefaultConfig returns the runtime defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations: DefaultMaxIterations,
		Observations:  DefaultObservations,
	}
}

// Tracker reports the files changed between Begin and Collect.
type Tracker interface {
	Begin()
	Collect() []workspace.Change
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIteration persists the run: events go to the iteration's execution
// log and the store is snapshotted at every cycle boundary.
func WithIteration(it *storage.Iteration) Option {
	return func(r *Runtime) { r.iteration = it }
}

// WithSink adds an event sink next to the iteration log.
func WithSink(s events.Sink) Option {
	return func(r *Runtime) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

// WithTracker records work-dir changes around every dispatch.
func WithTracker(t Tracker) Option {
	return func(r *Runtime) { r.tracker = t }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithStoreOptions configures the artifact store of a fresh run.
func WithStoreOptions(opts ...artifact.Option) Option {
	return func(r *Runtime) { r.storeOpts = append(r.storeOpts, opts...) }
}

// activation is the in-flight action of the current cycle.
type activation struct {
	action planner.Action
	round  int
	raw    string
	value  any

	// verdict of a Verification reply
	score   float64
	comment string

	// failure of the previous round, fed into the next prompt
	failure *prompts.Feedback
}

// Runtime is the iteration state machine. It is not safe for concurrent
// use: a single goroutine calls Step or Run.
type Runtime struct {
	cfg       Config
	graph     *ontology.Graph
	planner   *planner.Planner
	assembler *prompts.Assembler
	validator *validation.Validator
	client    llm.Client
	ui        interaction.UI

	iteration *storage.Iteration
	sinks     []events.Sink
	sink      events.Sink
	tracker   Tracker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	storeOpts []artifact.Option

	store        *artifact.Store
	ledger       *planner.Ledger
	observations *observations

	state   State
	err     error
	cycles  int
	inCycle bool
	vetoed  map[ontology.Triple]bool
	act     *activation
}

// New creates a runtime over a loaded graph. Call Start or Resume, then
// Step or Run.
func New(g *ontology.Graph, client llm.Client, ui interaction.UI, cfg Config, opts ...Option) *Runtime {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	switch {
	case cfg.Observations == 0:
		cfg.Observations = DefaultObservations
	case cfg.Observations < 0:
		cfg.Observations = 0
	}
	r := &Runtime{
		cfg:    cfg,
		graph:  g,
		client: client,
		ui:     ui,
		logger: slog.Default(),
		ledger: planner.NewLedger(),
		vetoed: make(map[ontology.Triple]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ui == nil {
		r.ui = interaction.NewAutoUI(cfg.Goal, r.logger)
	}
	r.planner = planner.New(g, planner.WithLogger(r.logger))
	r.assembler = prompts.NewAssembler(g, prompts.WithLogger(r.logger))
	r.validator = validation.New(g.Schemas(), validation.WithLogger(r.logger))
	r.store = artifact.NewStore(g, r.storeOpts...)
	r.observations = newObservations(cfg.Observations)

	sinks := make([]events.Sink, 0, len(r.sinks)+1)
	if r.iteration != nil {
		sinks = append(sinks, r.iteration.Log())
	}
	r.sink = events.Multi(append(sinks, r.sinks...)...)
	return r
}

// State returns the current state.
func (r *Runtime) State() State { return r.state }

// Err returns the failure that ended the run, or nil.
func (r *Runtime) Err() error { return r.err }

// Store returns the artifact store.
func (r *Runtime) Store() *artifact.Store { return r.store }

// Ledger returns the edge attempt ledger.
func (r *Runtime) Ledger() *planner.Ledger { return r.ledger }

// Cycles returns the number of cycles started so far.
func (r *Runtime) Cycles() int { return r.cycles }

// Goal returns the goal the run was seeded with.
func (r *Runtime) Goal() string { return r.cfg.Goal }

// Observations returns the current observation notes, oldest first.
func (r *Runtime) Observations() []string { return r.observations.list() }

// Start seeds the root artifact with the goal and enters Planning.
func (r *Runtime) Start(ctx context.Context) error {
	if r.state != Idle {
		return fmt.Errorf("runtime already started (state %s)", r.state)
	}
	if err := r.checkSchemas(); err != nil {
		return err
	}
	if r.cfg.Goal == "" {
		goal, err := r.ui.AskForGoal(ctx, "What should be built?")
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			return fmt.Errorf("ask for goal: %w", err)
		}
		r.cfg.Goal = goal
	}

	var id, name string
	if r.iteration != nil {
		id, name = r.iteration.ID, r.iteration.Name
	}
	if err := r.emit(ctx, events.IterationStarted(id, name, r.cfg.Goal)); err != nil {
		return err
	}

	root := r.graph.Root()
	rec, err := r.store.Put(root, map[string]any{"goal": r.cfg.Goal}, ontology.Triple{})
	if err != nil {
		return failure.Wrap(failure.PersistenceError, err, "seed %s", root)
	}
	if err := r.emit(ctx, events.Persisted(ontology.Triple{}, root, rec.Revision, rec.Value)); err != nil {
		return err
	}
	r.snapshot(ctx)

	r.logger.Info("Iteration started", "iteration", id, "goal", r.cfg.Goal, "budget", r.cfg.MaxIterations)
	r.state = Planning
	return nil
}

func (r *Runtime) checkSchemas() error {
	if errs := r.validator.Check(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Run advances the state machine until it reaches Done or Failed and
// returns the failure, if any. An Idle runtime is started first.
func (r *Runtime) Run(ctx context.Context) error {
	if r.state == Idle {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	for !r.state.Terminal() {
		r.Step(ctx)
	}
	return r.err
}

// Step performs one state transition and returns the new state. Once the
// run has ended, Step returns the terminal state and its failure.
func (r *Runtime) Step(ctx context.Context) (State, error) {
	if r.state.Terminal() {
		return r.state, r.err
	}
	if r.state == Idle {
		return r.state, errors.New("step before start")
	}
	if err := ctx.Err(); err != nil {
		r.finish(ctx, cancelled(err))
		return r.state, r.err
	}

	var err error
	switch r.state {
	case Planning:
		err = r.plan(ctx)
	case Dispatching:
		err = r.dispatch(ctx)
	case Parsing:
		err = r.parse(ctx)
	case Validating:
		err = r.validate(ctx)
	case Persisting:
		err = r.persist(ctx)
	case Refining:
		err = r.refine(ctx)
	}

	if err != nil && ctx.Err() != nil && !failure.Is(err, failure.Cancelled) {
		err = cancelled(ctx.Err())
	}
	if err != nil || r.state == Done {
		r.finish(ctx, err)
	}
	return r.state, r.err
}

func cancelled(err error) error {
	return failure.Wrap(failure.Cancelled, err, "iteration cancelled")
}

// finish records the terminal event. It runs on an uncancelled context so
// a cancelled run still closes its log.
func (r *Runtime) finish(ctx context.Context, err error) {
	ctx = context.WithoutCancel(ctx)
	r.err = err

	var e events.Event
	switch kind := failure.KindOf(err); {
	case err == nil:
		r.state = Done
		e = events.IterationEnded(events.OutcomeDone, "", r.cycles,
			fmt.Sprintf("Iteration complete after %d cycle(s)", r.cycles))
		r.ui.LogInfo(e.Message)
	case kind == failure.Cancelled:
		r.state = Failed
		e = events.IterationEnded(events.OutcomeCancelled, failure.Cancelled, r.cycles, "Cancelled")
		r.ui.LogInfo("Iteration cancelled")
	default:
		r.state = Failed
		if kind == "" {
			kind = failure.PersistenceError
		}
		e = events.IterationEnded(events.OutcomeFailed, kind, r.cycles, err.Error())
		r.ui.LogError(err.Error())
	}

	if emitErr := r.sink.Emit(ctx, e); emitErr != nil {
		r.logger.Error("Failed to record iteration end", "error", emitErr)
	}
	r.logger.Info("Iteration ended", "state", r.state.String(), "cycles", r.cycles, "error", err)
}

// emit appends an event to every sink. A failed append of the execution
// log ends the run.
func (r *Runtime) emit(ctx context.Context, e events.Event) error {
	if err := r.sink.Emit(context.WithoutCancel(ctx), e); err != nil {
		return failure.Wrap(failure.PersistenceError, err, "record %s event", e.Type)
	}
	return nil
}

// snapshot writes the store to the iteration's artifacts directory. A
// failed snapshot is reported but does not end the run; the log alone can
// rebuild the store.
func (r *Runtime) snapshot(ctx context.Context) {
	if r.iteration == nil {
		return
	}
	if err := r.iteration.SaveArtifacts(r.store); err != nil {
		r.logger.Warn("Failed to snapshot artifacts", "error", err)
		_ = r.emit(ctx, events.New(events.Error, events.LevelWarn, "Failed to snapshot artifacts",
			map[string]any{"kind": string(failure.PersistenceError), "error": err.Error()}))
	}
}

// options resolves the model binding of an agent: its own model or
// category first, then the run defaults.
func (r *Runtime) options(agent string) llm.Options {
	o := llm.Options{
		ModelCategory: r.cfg.ModelCategory,
		CLI:           r.cfg.CLI,
		Streaming:     r.cfg.Streaming,
	}
	e, ok := r.graph.Entity(agent)
	switch {
	case ok && e.Model != "":
		o.Model = e.Model
	case ok && e.ModelCategory != "":
		o.ModelCategory = e.ModelCategory
	default:
		o.Model = r.cfg.Model
	}
	if ok && e.CLI != "" {
		o.CLI = e.CLI
	}
	return o
}
