package db

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/careercraft/internal/pipeline"
)

// journalQueueSize bounds how many events may wait for the database
const journalQueueSize = 256

// journalWriter is the subset of *DB the journal writes through
type journalWriter interface {
	CreateRun(ctx context.Context, input *RunInput) error
	CompleteStage(ctx context.Context, runID uuid.UUID, stage string, position int, completedAt time.Time) error
	CompleteRun(ctx context.Context, runID uuid.UUID, status string, errorMessage string, completedAt time.Time) error
}

// Journal records run lifecycle events in the database from a background
// worker, so progress callbacks never wait on PostgreSQL. Sampled progress
// events are ignored.
type Journal struct {
	writer  journalWriter
	logger  *slog.Logger
	timeout time.Duration

	events chan pipeline.ProgressEvent
	done   chan struct{}
	once   sync.Once

	// stages already written per run, touched only by the worker
	written map[uuid.UUID]int
}

// NewJournal creates a journal writing to db and starts its worker
func NewJournal(db *DB, logger *slog.Logger) *Journal {
	return newJournal(db, logger)
}

func newJournal(writer journalWriter, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}

	j := &Journal{
		writer:  writer,
		logger:  logger,
		timeout: 5 * time.Second,
		events:  make(chan pipeline.ProgressEvent, journalQueueSize),
		done:    make(chan struct{}),
		written: make(map[uuid.UUID]int),
	}
	go j.work()
	return j
}

// Observe queues an event. It never blocks; events are dropped when the
// queue is full.
func (j *Journal) Observe(event pipeline.ProgressEvent) {
	if event.Type == pipeline.EventProgress {
		return
	}

	select {
	case j.events <- event:
	default:
		j.logger.Warn("run journal queue full, dropping event",
			slog.String("type", string(event.Type)),
			slog.String("run_id", event.Snapshot.RunID))
	}
}

// Close drains queued events and stops the worker
func (j *Journal) Close() {
	j.once.Do(func() {
		close(j.events)
		<-j.done
	})
}

func (j *Journal) work() {
	defer close(j.done)
	for event := range j.events {
		if err := j.write(event); err != nil {
			j.logger.Error("failed to journal run event",
				slog.String("type", string(event.Type)),
				slog.String("run_id", event.Snapshot.RunID),
				slog.String("error", err.Error()))
		}
	}
}

func (j *Journal) write(event pipeline.ProgressEvent) error {
	snap := event.Snapshot
	runID, err := uuid.Parse(snap.RunID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	switch event.Type {
	case pipeline.EventStarted:
		return j.writer.CreateRun(ctx, &RunInput{
			ID:         runID,
			RecordID:   snap.RecordID,
			FileName:   snap.FileName,
			Kind:       string(snap.Kind),
			StageCount: snap.StageCount,
			StartedAt:  event.At.Add(-time.Duration(snap.ElapsedMs) * time.Millisecond),
		})

	case pipeline.EventStage:
		return j.writeStages(ctx, runID, event)

	case pipeline.EventComplete, pipeline.EventError:
		if err := j.writeStages(ctx, runID, event); err != nil {
			return err
		}
		delete(j.written, runID)

		status := RunStatusSucceeded
		if event.Type == pipeline.EventError {
			status = RunStatusFailed
		}
		return j.writer.CompleteRun(ctx, runID, status, event.Error, event.At)
	}
	return nil
}

// writeStages writes completed stages not yet journaled for the run
func (j *Journal) writeStages(ctx context.Context, runID uuid.UUID, event pipeline.ProgressEvent) error {
	for i, stage := range event.Snapshot.Stages {
		if i < j.written[runID] {
			continue
		}
		if !stage.Completed {
			break
		}
		if err := j.writer.CompleteStage(ctx, runID, stage.ID, i, event.At); err != nil {
			return err
		}
		j.written[runID] = i + 1
	}
	return nil
}
