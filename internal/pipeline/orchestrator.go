package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/careercraft/internal/ingestion"
	"github.com/jonathan/careercraft/internal/records"
)

const (
	// DefaultTickInterval is how often progress is sampled.
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultTimeoutFactor multiplies the summed stage estimates into the run timeout.
	DefaultTimeoutFactor = 3.0

	// OrphanReason is recorded on processing records left behind by a crash.
	OrphanReason = "interrupted before completion"
)

// ErrRunNotActive is returned when there is no run to operate on.
var ErrRunNotActive = errors.New("no active run")

// RecordStore is the persistence the orchestrator needs.
type RecordStore interface {
	Upsert(ctx context.Context, r records.Record) error
	List() []records.Record
}

// Options configures an Orchestrator.
type Options struct {
	Clock  Clock
	Logger *slog.Logger

	// MaxFileSize is the upload limit in bytes. Zero uses DefaultMaxFileSize.
	MaxFileSize int64

	// TickInterval is the progress sampling period. Zero uses DefaultTickInterval.
	TickInterval time.Duration

	// TimeoutFactor scales the summed stage estimates into the run timeout.
	TimeoutFactor float64

	// RunTimeout overrides the computed timeout when positive.
	RunTimeout time.Duration

	// PaceStages holds the stages before embedding for their estimated
	// duration. When false they advance immediately.
	PaceStages bool

	OnProgress ProgressCallback
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		Clock:         SystemClock{},
		TickInterval:  DefaultTickInterval,
		TimeoutFactor: DefaultTimeoutFactor,
		PaceStages:    true,
	}
}

// Orchestrator owns the single active run and drives it to a terminal outcome.
type Orchestrator struct {
	store     RecordStore
	ingester  ingestion.Ingester
	clock     Clock
	logger    *slog.Logger
	validator *Validator
	opts      Options

	mu     sync.Mutex
	active *Run

	emitMu sync.Mutex
}

// NewOrchestrator creates an orchestrator. Zero-valued options fall back to defaults.
func NewOrchestrator(store RecordStore, ingester ingestion.Ingester, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.TimeoutFactor <= 0 {
		opts.TimeoutFactor = DefaultTimeoutFactor
	}

	return &Orchestrator{
		store:     store,
		ingester:  ingester,
		clock:     opts.Clock,
		logger:    opts.Logger,
		validator: NewValidator(opts.MaxFileSize),
		opts:      opts,
	}
}

// Start validates the document, creates its processing record and returns
// the run handle. It fails with *ValidationError for rejected files and
// *BusyError while another run is active; neither mutates any state.
func (o *Orchestrator) Start(ctx context.Context, doc ingestion.Document) (*Run, error) {
	kind, err := o.validator.Validate(doc)
	if err != nil {
		return nil, err
	}

	run, err := o.claim(ctx, kind, doc)
	if err != nil {
		return nil, err
	}

	o.logger.Info("upload started",
		slog.String("run_id", run.ID()),
		slog.String("record_id", run.RecordID()),
		slog.String("file", doc.Name),
		slog.String("kind", string(kind)),
		slog.Int("stages", len(run.Stages())))
	o.emit(EventStarted, run, nil)

	return run, nil
}

// claim persists a new processing record and makes its run the active one
func (o *Orchestrator) claim(ctx context.Context, kind DocumentKind, doc ingestion.Document) (*Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != nil {
		return nil, &BusyError{RunID: o.active.ID(), RecordID: o.active.RecordID()}
	}

	now := o.clock.Now()
	run := newRun(kind, records.New(doc.Name, doc.Size(), now), now)

	if err := o.store.Upsert(ctx, run.Record()); err != nil {
		return nil, fmt.Errorf("failed to persist record: %w", err)
	}
	o.active = run
	return run, nil
}

// Advance completes the current stage and moves to the next. At the final
// stage the stage is marked completed in place; a further call returns
// ErrNoMoreStages and changes nothing.
func (o *Orchestrator) Advance(run *Run) error {
	if run == nil {
		return ErrRunNotActive
	}

	completed := run.CurrentStage()
	startedAt := run.StageStartedAt()
	if err := run.advance(o.clock.Now()); err != nil {
		if errors.Is(err, ErrNoMoreStages) {
			o.logger.Error("advance called past the final stage",
				slog.String("run_id", run.ID()),
				slog.String("stage", completed.ID))
		}
		return err
	}

	o.logger.Debug("stage completed",
		slog.String("run_id", run.ID()),
		slog.String("stage", completed.ID),
		slog.Duration("took", o.clock.Now().Sub(startedAt)))
	o.emit(EventStage, run, nil)
	return nil
}

// Finalize applies the terminal outcome, persists the record and releases
// the run. It may be called once per run; later calls return
// ErrRunFinalized. A failure outcome is returned as *IngestionFailure along
// with the record now in the error status.
func (o *Orchestrator) Finalize(ctx context.Context, run *Run, outcome Outcome) (records.Record, error) {
	if run == nil {
		return records.Record{}, ErrRunNotActive
	}

	rec, err := run.finalize(outcome, o.clock.Now())
	if err != nil {
		return records.Record{}, err
	}

	// the run stays active until its terminal record is written, so no
	// second run can start and the record cannot be deleted meanwhile
	persistCtx := ctx
	if ctx.Err() != nil {
		persistCtx = context.WithoutCancel(ctx)
	}
	persistErr := o.store.Upsert(persistCtx, rec)

	o.mu.Lock()
	if o.active == run {
		o.active = nil
	}
	o.mu.Unlock()

	if persistErr != nil {
		o.logger.Error("failed to persist finalized record",
			slog.String("record_id", rec.ID),
			slog.String("error", persistErr.Error()))
		persistErr = fmt.Errorf("failed to persist record: %w", persistErr)
	}

	if outcome.Succeeded() {
		o.logger.Info("upload analyzed",
			slog.String("run_id", run.ID()),
			slog.String("record_id", rec.ID),
			slog.Int("indexed_units", *rec.IndexedUnitCount),
			slog.Float64("duration_seconds", *rec.ProcessingDurationSeconds))
		o.emit(EventComplete, run, nil)
		return rec, persistErr
	}

	failure := &IngestionFailure{RecordID: rec.ID, Reason: outcome.reason, Cause: outcome.err}
	o.logger.Warn("upload failed",
		slog.String("run_id", run.ID()),
		slog.String("record_id", rec.ID),
		slog.String("reason", outcome.reason))
	o.emit(EventError, run, failure)

	if persistErr != nil {
		return rec, errors.Join(failure, persistErr)
	}
	return rec, failure
}

// Execute starts a run for doc and drives it to completion.
func (o *Orchestrator) Execute(ctx context.Context, doc ingestion.Document) (records.Record, error) {
	run, err := o.Start(ctx, doc)
	if err != nil {
		return records.Record{}, err
	}
	return o.Drive(ctx, run, doc)
}

// Drive runs the ingest call and the stage pacing concurrently, then
// finalizes the run. Stages before embedding are paced by their estimates
// and released early once the backend answers; embedding completes only
// when the backend answers. The whole run is bounded by RunTimeout.
//
// The ingester must return once its context is done.
func (o *Orchestrator) Drive(ctx context.Context, run *Run, doc ingestion.Document) (records.Record, error) {
	timeout := o.RunTimeout(run)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stopSampler := o.startSampler(run)
	defer stopSampler()

	var result *ingestion.Result
	answered := make(chan struct{})

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		res, err := o.ingester.Ingest(gctx, doc)
		if err != nil {
			return err
		}
		result = res
		close(answered)
		return nil
	})
	g.Go(func() error {
		o.paceUntilEmbedding(gctx, run, answered)
		return nil
	})
	err := g.Wait()
	stopSampler()

	if err != nil {
		return o.Finalize(ctx, run, FailureWithReason(o.failureReason(ctx, runCtx, timeout, err), err))
	}

	for n := run.remaining(); n > 0; n-- {
		if err := o.Advance(run); err != nil {
			break
		}
	}
	return o.Finalize(ctx, run, Success(result))
}

// paceUntilEmbedding advances the stages that precede embedding
func (o *Orchestrator) paceUntilEmbedding(ctx context.Context, run *Run, answered <-chan struct{}) {
	for run.CurrentStage().ID != StageEmbedding {
		if o.opts.PaceStages {
			stage := run.CurrentStage()
			remaining := stage.Estimate() - o.clock.Now().Sub(run.StageStartedAt())
			if remaining > 0 {
				select {
				case <-ctx.Done():
					return
				case <-answered:
				case <-o.clock.After(remaining):
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		if err := o.Advance(run); err != nil {
			return
		}
	}
}

// failureReason turns the error that ended a run into a user-facing reason
func (o *Orchestrator) failureReason(parent, runCtx context.Context, timeout time.Duration, err error) string {
	switch {
	case parent.Err() != nil:
		return "upload cancelled"
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("ingestion timed out after %s", timeout)
	default:
		return err.Error()
	}
}

// RunTimeout returns the deadline budget for a run.
func (o *Orchestrator) RunTimeout(run *Run) time.Duration {
	if o.opts.RunTimeout > 0 {
		return o.opts.RunTimeout
	}
	return time.Duration(float64(TotalEstimate(run.Stages())) * o.opts.TimeoutFactor)
}

// startSampler emits progress events every TickInterval until the returned
// stop function is called. stop waits for the sampler to exit.
func (o *Orchestrator) startSampler(run *Run) (stop func()) {
	if o.opts.OnProgress == nil {
		return func() {}
	}

	ticker := o.clock.NewTicker(o.opts.TickInterval)
	quit := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-quit:
				return
			case <-ticker.C():
				o.emit(EventProgress, run, nil)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(quit)
			<-done
		})
	}
}

// Current returns a snapshot of the active run.
func (o *Orchestrator) Current() (Snapshot, bool) {
	o.mu.Lock()
	run := o.active
	o.mu.Unlock()

	if run == nil {
		return Snapshot{}, false
	}
	return run.Snapshot(o.clock.Now()), true
}

// IsActiveRecord reports whether id belongs to the active run.
func (o *Orchestrator) IsActiveRecord(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil && o.active.RecordID() == id
}

// MaxFileSize returns the upload size limit in bytes.
func (o *Orchestrator) MaxFileSize() int64 {
	return o.validator.MaxFileSize()
}

// RecoverOrphans moves processing records not owned by the active run to
// the error status. Such records are left behind when the process stops
// mid-run. It returns how many records were recovered.
func (o *Orchestrator) RecoverOrphans(ctx context.Context) (int, error) {
	recovered := 0
	for _, rec := range o.store.List() {
		if rec.Status != records.StatusProcessing || o.IsActiveRecord(rec.ID) {
			continue
		}

		rec.Status = records.StatusError
		rec.IndexedUnitCount = nil
		rec.ErrorMessage = OrphanReason
		if err := o.store.Upsert(ctx, rec); err != nil {
			return recovered, fmt.Errorf("failed to recover record %s: %w", rec.ID, err)
		}

		o.logger.Warn("recovered orphaned record", slog.String("record_id", rec.ID))
		recovered++
	}
	return recovered, nil
}

// emit delivers one event to the progress callback. Events are serialized.
func (o *Orchestrator) emit(t EventType, run *Run, err error) {
	if o.opts.OnProgress == nil {
		return
	}

	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	now := o.clock.Now()
	event := ProgressEvent{Type: t, At: now, Snapshot: run.Snapshot(now)}
	if t == EventComplete || t == EventError {
		rec := run.Record()
		event.Record = &rec
	}
	if err != nil {
		event.Error = err.Error()
	}
	o.opts.OnProgress(event)
}
