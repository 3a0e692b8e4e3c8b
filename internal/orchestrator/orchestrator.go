// Package orchestrator is the control surface of the pipeline. It starts
// solver runs, wires each run's output through decoding, correlation, the
// trace and the expert coordinator, validates the final answer and
// persists the finished record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harrison/arcsolve/internal/bridge"
	"github.com/harrison/arcsolve/internal/config"
	"github.com/harrison/arcsolve/internal/experts"
	"github.com/harrison/arcsolve/internal/logger"
	"github.com/harrison/arcsolve/internal/models"
	"github.com/harrison/arcsolve/internal/puzzle"
	"github.com/harrison/arcsolve/internal/session"
	"github.com/harrison/arcsolve/internal/store"
	"github.com/harrison/arcsolve/internal/stream"
	"github.com/harrison/arcsolve/internal/validation"
)

// persistTimeout bounds the final repository write of a run.
const persistTimeout = 30 * time.Second

// Options wires an Orchestrator.
type Options struct {
	// Config supplies solver launch settings, run defaults and stream sizing
	Config *config.Config

	// Puzzles resolves puzzle ids (required)
	Puzzles puzzle.Source

	// Repo persists finished runs (required)
	Repo store.Repository

	// Logger receives run lifecycle output (optional)
	Logger logger.Logger

	// Bridge spawns solvers; built from Config when nil
	Bridge *bridge.Bridge

	// Now overrides the clock in tests
	Now func() time.Time
}

// Orchestrator owns the live runs of one process.
type Orchestrator struct {
	cfg       *config.Config
	puzzles   puzzle.Source
	repo      store.Repository
	log       logger.Logger
	bridge    *bridge.Bridge
	validator *validation.Engine
	registry  *session.Registry
	now       func() time.Time
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Puzzles == nil {
		return nil, fmt.Errorf("puzzle source is required")
	}
	if opts.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	br := opts.Bridge
	if br == nil {
		br = bridge.New(bridge.Options{
			KillGrace:       cfg.Solver.KillGrace,
			MaxLineBytes:    cfg.Solver.MaxLineBytes,
			StderrTailBytes: cfg.Solver.StderrTailBytes,
		})
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		cfg:       cfg,
		puzzles:   opts.Puzzles,
		repo:      opts.Repo,
		log:       log,
		bridge:    br,
		validator: validation.NewEngine(log),
		registry:  session.NewRegistry(),
		now:       now,
	}, nil
}

// applyDefaults fills unset run parameters from the configured defaults.
func (o *Orchestrator) applyDefaults(rc models.RunConfig) models.RunConfig {
	def := o.cfg.RunDefaults()
	if rc.Model == "" {
		rc.Model = def.Model
	}
	if rc.ExpertCount == 0 {
		rc.ExpertCount = def.ExpertCount
	}
	if rc.MaxIterations == 0 {
		rc.MaxIterations = def.MaxIterations
	}
	if rc.Timeout == 0 {
		rc.Timeout = def.Timeout
	}
	return rc
}

// StartRun loads the puzzle, registers a session and spawns the solver.
//
// Puzzle and config problems, ErrTooManyRuns and *bridge.SpawnError are
// returned synchronously. For a spawn failure the run id is still returned:
// the run is persisted in pending state with an error event in its trace.
// Everything that happens after a successful spawn is reported through the
// run's event stream and its persisted record.
func (o *Orchestrator) StartRun(ctx context.Context, puzzleID string, rc models.RunConfig) (string, error) {
	p, err := o.puzzles.Load(ctx, puzzleID)
	if err != nil {
		return "", fmt.Errorf("load puzzle: %w", err)
	}
	expected, err := p.ExpectedOutputs()
	if err != nil {
		return "", fmt.Errorf("load puzzle: %w", err)
	}

	rc = o.applyDefaults(rc)
	if err := rc.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRunConfig, err)
	}

	id := uuid.NewString()
	run := models.Run{
		ID:          id,
		PuzzleID:    puzzleID,
		Status:      models.StatusPending,
		Config:      rc,
		ExpertCount: rc.ExpertCount,
		CreatedAt:   o.now(),
	}
	s := session.New(run,
		stream.NewTrace(id, o.cfg.Stream.TraceCap, o.cfg.Stream.SubscriberBuffer),
		experts.New(rc.ExpertCount),
		stream.NewCorrelator(id, o.now),
		expected,
	)

	ok, err := o.registry.RegisterIfBelow(s, o.cfg.MaxConcurrentRuns)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w (limit %d)", ErrTooManyRuns, o.cfg.MaxConcurrentRuns)
	}
	activeRuns.Inc()
	o.log.LogRunStart(run)

	spec := bridge.Spec{
		Command:    o.cfg.Solver.Command,
		Args:       bridge.ExpandArgs(o.cfg.Solver.Args, argVars(run, p)),
		Dir:        o.cfg.Solver.WorkDir,
		RunID:      id,
		PuzzleID:   puzzleID,
		PuzzleFile: p.Path,
		Timeout:    rc.Timeout,
		OnStderr: func(line string) {
			o.log.Debugf("run %s stderr: %s", id, line)
		},
	}

	ready := make(chan struct{})
	h, err := o.bridge.Start(ctx, spec, o.lineHandler(s, ready))
	if err != nil {
		o.abandon(s, err)
		return id, err
	}
	runsStarted.Inc()

	s.Attach(h)
	if err := s.Transition(models.StatusRunning, o.now()); err != nil {
		o.log.Errorf("run %s: %v", id, err)
	}
	running := s.Correlator.Synthesize(models.EventStatus, "")
	running.Status = models.StatusRunning
	o.log.LogEvent(s.Trace.Append(running))
	close(ready)

	if s.CancelRequested() {
		o.terminate(s, models.StatusCancelled, "cancelled by request")
	}

	go o.supervise(s, h)
	return id, nil
}

func argVars(run models.Run, p *puzzle.Puzzle) map[string]string {
	return map[string]string{
		"run_id":          run.ID,
		"puzzle_id":       run.PuzzleID,
		"puzzle_file":     p.Path,
		"model":           run.Config.Model,
		"experts":         strconv.Itoa(run.Config.ExpertCount),
		"max_iterations":  strconv.Itoa(run.Config.MaxIterations),
		"timeout_seconds": strconv.FormatInt(int64(run.Config.Timeout/time.Second), 10),
	}
}

// abandon finalizes a run whose solver never started. The run stays pending.
func (o *Orchestrator) abandon(s *session.Session, spawnErr error) {
	msg := spawnErr.Error()
	s.Update(func(r *models.Run) { r.Error = msg })

	ev, _ := s.Trace.Close(s.Correlator.Synthesize(models.EventError, msg))
	o.log.LogEvent(ev)
	o.log.Errorf("run %s: %s", s.ID, msg)

	o.persist(s)
	o.log.LogRunComplete(s.Snapshot(), s.Experts.Summarize())
	o.release(s)
}

// lineHandler returns the bridge callback for one run. Lines are delivered
// on a single goroutine per run, so trace order is read order.
func (o *Orchestrator) lineHandler(s *session.Session, ready <-chan struct{}) bridge.LineHandler {
	return func(line []byte, err error) {
		<-ready
		if err != nil {
			o.discard(s, err)
			return
		}
		raw, err := stream.DecodeLine(line)
		if err != nil {
			o.discard(s, err)
			return
		}
		ev := s.Trace.Append(s.Correlator.Normalize(raw))
		o.observe(s, ev)
	}
}

func (o *Orchestrator) discard(s *session.Session, err error) {
	s.Update(func(r *models.Run) { r.MalformedLines++ })
	malformedLines.Inc()
	o.log.Warnf("run %s: discarded solver line: %v", s.ID, err)
}

// observe feeds a stored event to the coordinator and validator.
func (o *Orchestrator) observe(s *session.Session, ev models.Event) {
	switch ev.Type {
	case models.EventProgress:
		res := s.Experts.Apply(ev)
		if res.Warning != "" {
			o.log.Warnf("run %s: %s", s.ID, res.Warning)
		}
	case models.EventFinal:
		if !s.SetFinal(ev) {
			o.log.Warnf("run %s: ignoring additional final event #%d", s.ID, ev.Sequence)
			break
		}
		o.validate(s, ev)
	}
	o.log.LogEvent(ev)
}

func (o *Orchestrator) validate(s *session.Session, ev models.Event) {
	results, err := o.validator.ValidateFinal(ev, s.Expected)
	if err != nil {
		o.log.Warnf("run %s: validation skipped: %v", s.ID, err)
		return
	}
	s.SetValidation(results)

	accuracy, allCorrect := validation.Aggregate(results)
	s.Update(func(r *models.Run) {
		r.Accuracy = models.FloatPtr(accuracy)
		r.AllCorrect = allCorrect
	})
	validationAccuracy.Observe(accuracy)
	o.log.Infof("run %s: final answer scored %.2f (all correct: %t)", s.ID, accuracy, allCorrect)
}

// supervise waits for the solver to exit, classifies the outcome and
// finalizes the run.
func (o *Orchestrator) supervise(s *session.Session, h *bridge.Handle) {
	exit := h.Wait()
	runDuration.Observe(exit.Duration.Seconds())

	s.Update(func(r *models.Run) {
		r.ExitCode = exit.ExitCode
		r.Diagnostics = exit.Stderr
	})

	status, reason := o.classify(s, exit)
	o.terminate(s, status, reason)

	s.Experts.Finalize()
	o.crossCheck(s)
	o.persist(s)

	run := s.Snapshot()
	o.log.LogRunComplete(run, s.Experts.Summarize())
	o.release(s)
}

// classify maps a process exit to a terminal status. A final event decides
// completion regardless of exit code.
func (o *Orchestrator) classify(s *session.Session, exit bridge.Exit) (models.RunStatus, string) {
	_, hasFinal := s.Final()
	switch {
	case exit.Reason == bridge.ReasonTimeout:
		timeout := s.Snapshot().Config.Timeout
		return models.StatusTimedOut, (&TimeoutError{RunID: s.ID, Timeout: timeout}).Error()
	case exit.Reason == bridge.ReasonCancelled:
		return models.StatusCancelled, "cancelled by request"
	case hasFinal:
		return models.StatusCompleted, ""
	case exit.Err != nil:
		return models.StatusFailed, fmt.Sprintf("solver failed: %v", exit.Err)
	default:
		return models.StatusFailed, fmt.Sprintf("solver exited with code %d without a final answer", exit.ExitCode)
	}
}

// terminate moves a running session to status and emits the terminal event.
// It returns false if the run was already terminal.
func (o *Orchestrator) terminate(s *session.Session, status models.RunStatus, reason string) bool {
	if err := s.Transition(status, o.now()); err != nil {
		return false
	}
	if reason != "" {
		s.Update(func(r *models.Run) { r.Error = reason })
	}

	ev := s.Correlator.Synthesize(models.EventStatus, reason)
	ev.Status = status
	ev, _ = s.Trace.Close(ev)
	o.log.LogEvent(ev)
	return true
}

// crossCheck compares the solver's declared totals with the aggregates.
func (o *Orchestrator) crossCheck(s *session.Session) {
	final, ok := s.Final()
	if !ok || final.Summary == nil {
		return
	}
	sum := s.Experts.Summarize()
	declared := final.Summary

	if declared.Tokens != nil && *declared.Tokens != sum.TotalTokens {
		o.log.Warnf("run %s: solver reported tokens %d/%d, observed %d/%d", s.ID,
			declared.Tokens.Input, declared.Tokens.Output, sum.TotalTokens.Input, sum.TotalTokens.Output)
	}
	if declared.Cost != nil && math.Abs(*declared.Cost-sum.TotalCost) > 1e-6 {
		o.log.Warnf("run %s: solver reported cost $%.4f, observed $%.4f", s.ID, *declared.Cost, sum.TotalCost)
	}
	if declared.Iterations != nil && *declared.Iterations != sum.TotalAttempts {
		o.log.Warnf("run %s: solver reported %d iterations, observed %d attempts", s.ID, *declared.Iterations, sum.TotalAttempts)
	}
}

func (o *Orchestrator) record(s *session.Session) *models.RunRecord {
	return &models.RunRecord{
		Run:        s.Snapshot(),
		Experts:    s.Experts.Attempts(),
		Trace:      s.Trace.Snapshot(),
		Validation: s.Validation(),
		Summary:    s.Experts.Summarize(),
	}
}

func (o *Orchestrator) persist(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := o.repo.Save(ctx, o.record(s)); err != nil {
		persistFailures.Inc()
		o.log.Errorf("run %s: persist failed: %v", s.ID, err)
	}
}

// release deregisters a finished session and wakes waiters.
func (o *Orchestrator) release(s *session.Session) {
	runsFinished.WithLabelValues(string(s.Status())).Inc()
	o.registry.Remove(s.ID)
	activeRuns.Dec()
	s.MarkDone()
}

// GetRunStatus returns a live snapshot, or the persisted run.
func (o *Orchestrator) GetRunStatus(ctx context.Context, runID string) (models.Run, error) {
	if s, ok := o.registry.Lookup(runID); ok {
		return s.Snapshot(), nil
	}
	rec, err := o.load(ctx, runID)
	if err != nil {
		return models.Run{}, err
	}
	return rec.Run, nil
}

// SubscribeRun attaches to a live run's stream: replayed history first,
// then live events, closed after the terminal event. For a persisted run
// the stored trace is replayed on an already-closed subscription.
func (o *Orchestrator) SubscribeRun(ctx context.Context, runID string) (*stream.Subscription, error) {
	if s, ok := o.registry.Lookup(runID); ok {
		return s.Trace.Subscribe(), nil
	}
	rec, err := o.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return stream.NewReplay(rec.Trace), nil
}

// CancelRun stops a live run. The terminal event is emitted at once; the
// process is signalled and reaped in the background. Cancelling a run that
// already finished is a no-op.
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) error {
	if s, ok := o.registry.Lookup(runID); ok {
		if s.Cancel() {
			o.terminate(s, models.StatusCancelled, "cancelled by request")
		}
		return nil
	}
	if _, err := o.load(ctx, runID); err != nil {
		return err
	}
	return nil
}

// Summarize returns the aggregated totals for a run.
func (o *Orchestrator) Summarize(ctx context.Context, runID string) (models.RunSummary, error) {
	if s, ok := o.registry.Lookup(runID); ok {
		return s.Experts.Summarize(), nil
	}
	rec, err := o.load(ctx, runID)
	if err != nil {
		return models.RunSummary{}, err
	}
	return rec.Summary, nil
}

// Record returns the full record of a run, assembled from live state when
// the run is still in progress.
func (o *Orchestrator) Record(ctx context.Context, runID string) (*models.RunRecord, error) {
	if s, ok := o.registry.Lookup(runID); ok {
		return o.record(s), nil
	}
	return o.load(ctx, runID)
}

// Wait blocks until a live run has been finalized and returns its final
// state. For a persisted run it returns immediately.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (models.Run, error) {
	s, ok := o.registry.Lookup(runID)
	if !ok {
		return o.GetRunStatus(ctx, runID)
	}
	select {
	case <-s.Done():
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// List merges live and persisted runs, newest first.
func (o *Orchestrator) List(ctx context.Context, opts store.ListOptions) ([]models.Run, error) {
	live := o.registry.List()
	seen := make(map[string]bool, len(live))
	var runs []models.Run
	for _, s := range live {
		run := s.Snapshot()
		seen[run.ID] = true
		if opts.Matches(run) {
			runs = append(runs, run)
		}
	}

	persisted, err := o.repo.List(ctx, store.ListOptions{PuzzleID: opts.PuzzleID, Status: opts.Status})
	if err != nil {
		return nil, err
	}
	for _, run := range persisted {
		if !seen[run.ID] {
			runs = append(runs, run)
		}
	}

	store.SortNewestFirst(runs)
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// ActiveRuns returns the number of live runs.
func (o *Orchestrator) ActiveRuns() int {
	return o.registry.Len()
}

// Shutdown cancels every live run and waits until each has been persisted.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range o.registry.List() {
		s := s
		if s.Cancel() {
			o.terminate(s, models.StatusCancelled, "cancelled on shutdown")
		}
		g.Go(func() error {
			select {
			case <-s.Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("run %s not finalized: %w", s.ID, ctx.Err())
			}
		})
	}
	return g.Wait()
}

func (o *Orchestrator) load(ctx context.Context, runID string) (*models.RunRecord, error) {
	rec, err := o.repo.Get(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return rec, nil
}
