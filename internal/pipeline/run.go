// Package pipeline drives an uploaded resume through the ingestion stages,
// estimates progress while the backend works, and records the outcome.
package pipeline

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/careercraft/internal/ingestion"
	"github.com/jonathan/careercraft/internal/records"
)

// bytesPerChunk approximates how much text ends up in one indexed chunk
const bytesPerChunk = 5000

// RunState is where a run is in its lifecycle.
type RunState string

const (
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

// EventType distinguishes progress events.
type EventType string

const (
	EventStarted  EventType = "started"
	EventStage    EventType = "stage"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// ProgressEvent represents a progress update during a run
type ProgressEvent struct {
	Type     EventType       `json:"type"`
	At       time.Time       `json:"at"`
	Snapshot Snapshot        `json:"snapshot"`
	Record   *records.Record `json:"record,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ProgressCallback is called when run progress occurs
type ProgressCallback func(event ProgressEvent)

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	RunID         string       `json:"run_id"`
	RecordID      string       `json:"record_id"`
	FileName      string       `json:"file_name"`
	Kind          DocumentKind `json:"kind"`
	State         RunState     `json:"state"`
	StageIndex    int          `json:"stage_index"`
	StageCount    int          `json:"stage_count"`
	StageID       string       `json:"stage_id"`
	StageName     string       `json:"stage_name"`
	Message       string       `json:"message"`
	StageFraction float64      `json:"stage_fraction"`
	Overall       float64      `json:"overall"`
	ElapsedMs     int64        `json:"elapsed_ms"`
	Stages        []Stage      `json:"stages"`
}

// Outcome is the terminal result handed to Finalize.
type Outcome struct {
	result *ingestion.Result
	err    error
	reason string
}

// Success builds an outcome from the backend result.
func Success(result *ingestion.Result) Outcome {
	if result == nil {
		result = &ingestion.Result{}
	}
	return Outcome{result: result}
}

// Failure builds an outcome from the error that ended the run.
func Failure(err error) Outcome {
	return FailureWithReason(err.Error(), err)
}

// FailureWithReason builds a failure outcome with a user-facing reason.
func FailureWithReason(reason string, cause error) Outcome {
	return Outcome{err: cause, reason: reason}
}

// Succeeded reports whether the outcome is a success.
func (o Outcome) Succeeded() bool {
	return o.result != nil
}

// Run is one in-flight upload. All methods are safe for concurrent use.
type Run struct {
	mu sync.Mutex

	id             string
	kind           DocumentKind
	stages         []Stage
	current        int
	startedAt      time.Time
	stageStartedAt time.Time
	finishedAt     time.Time
	record         records.Record
	estimateChunks int
	highWater      float64
	state          RunState
}

func newRun(kind DocumentKind, record records.Record, now time.Time) *Run {
	return &Run{
		id:             uuid.NewString(),
		kind:           kind,
		stages:         BuildStages(kind),
		startedAt:      now,
		stageStartedAt: now,
		record:         record.Clone(),
		estimateChunks: int(math.Ceil(float64(record.SizeBytes) / bytesPerChunk)),
		state:          RunRunning,
	}
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.id
}

// Kind returns the document kind the stages were built for.
func (r *Run) Kind() DocumentKind {
	return r.kind
}

// RecordID returns the ID of the record this run owns.
func (r *Run) RecordID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.ID
}

// Record returns a copy of the run's record.
func (r *Run) Record() records.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Clone()
}

// Stages returns a copy of the stages.
func (r *Run) Stages() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Stage(nil), r.stages...)
}

// CurrentIndex returns the index of the active stage.
func (r *Run) CurrentIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// CurrentStage returns the active stage.
func (r *Run) CurrentStage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stages[r.current]
}

// StageStartedAt returns when the active stage started.
func (r *Run) StageStartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stageStartedAt
}

// remaining returns how many stages are not completed yet
func (r *Run) remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.stages {
		if !s.Completed {
			n++
		}
	}
	return n
}

// State returns the lifecycle state.
func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Finalized reports whether the run reached a terminal state.
func (r *Run) Finalized() bool {
	return r.State() != RunRunning
}

// Progress returns overall progress at now. Samples never decrease and
// reach 100 only after a successful finalize.
func (r *Run) Progress(now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	overall, _ := r.sampleLocked(now)
	return overall
}

// Snapshot returns a view of the run at now.
func (r *Run) Snapshot(now time.Time) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	overall, fraction := r.sampleLocked(now)
	stage := r.stages[r.current]

	end := now
	if r.state != RunRunning {
		end = r.finishedAt
	}

	return Snapshot{
		RunID:         r.id,
		RecordID:      r.record.ID,
		FileName:      r.record.OriginalName,
		Kind:          r.kind,
		State:         r.state,
		StageIndex:    r.current,
		StageCount:    len(r.stages),
		StageID:       stage.ID,
		StageName:     stage.Name,
		Message:       r.messageLocked(stage, fraction),
		StageFraction: fraction,
		Overall:       overall,
		ElapsedMs:     max(end.Sub(r.startedAt).Milliseconds(), 0),
		Stages:        append([]Stage(nil), r.stages...),
	}
}

// sampleLocked must be called with mu held
func (r *Run) sampleLocked(now time.Time) (overall, fraction float64) {
	switch r.state {
	case RunSucceeded:
		return 100, 1
	case RunFailed:
		return r.highWater, StageFraction(r.stages[r.current], r.stageStartedAt, r.finishedAt)
	}

	stage := r.stages[r.current]
	fraction = StageFraction(stage, r.stageStartedAt, now)
	if stage.Completed {
		fraction = 1
	}

	overall = ComputeOverall(r.stages, r.current, fraction)
	if overall < r.highWater {
		overall = r.highWater
	}
	r.highWater = overall
	return overall, fraction
}

func (r *Run) messageLocked(stage Stage, fraction float64) string {
	switch {
	case r.state == RunSucceeded:
		return "Upload complete"
	case r.state == RunFailed:
		return r.record.ErrorMessage
	case stage.ID == StageEmbedding && fraction > 0 && !stage.Completed:
		processed := int(math.Floor(float64(r.estimateChunks) * fraction))
		return fmt.Sprintf("Generating AI embeddings... (%d/%d chunks)", processed, r.estimateChunks)
	default:
		return stage.Description
	}
}

// advance marks the current stage completed and moves to the next one. The
// final stage is marked completed in place; advancing again is an error.
func (r *Run) advance(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RunRunning {
		return ErrRunFinalized
	}

	last := len(r.stages) - 1
	if r.current == last && r.stages[last].Completed {
		return ErrNoMoreStages
	}

	// fold the finished stage into the high-water mark first
	r.sampleLocked(now)
	r.stages[r.current].Completed = true
	if r.current < last {
		r.current++
		r.stageStartedAt = now
	}
	return nil
}

// finalize applies the outcome exactly once and returns the updated record
func (r *Run) finalize(outcome Outcome, now time.Time) (records.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RunRunning {
		return records.Record{}, ErrRunFinalized
	}

	elapsed := now.Sub(r.startedAt)
	if outcome.Succeeded() {
		for i := range r.stages {
			r.stages[i].Completed = true
		}
		r.current = len(r.stages) - 1
		r.record.MarkAnalyzed(outcome.result.IndexedUnitCount, elapsed, outcome.result.FilePath)
		r.highWater = 100
		r.state = RunSucceeded
	} else {
		r.sampleLocked(now)
		r.record.MarkFailed(outcome.reason, elapsed)
		r.state = RunFailed
	}
	r.finishedAt = now

	return r.record.Clone(), nil
}
