package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoMoreStages is returned by Advance once the final stage is completed.
var ErrNoMoreStages = errors.New("no more stages to advance")

// ErrRunFinalized is returned when a finalized run is advanced or finalized again.
var ErrRunFinalized = errors.New("run already finalized")

// ValidationError indicates a file was rejected before a run started
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// BusyError indicates an upload was attempted while another run is in flight
type BusyError struct {
	RunID    string
	RecordID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("upload already in progress (run %s, record %s)", e.RunID, e.RecordID)
}

// IngestionFailure indicates the collaborator failed or timed out. The
// record it belongs to has been moved to the error status.
type IngestionFailure struct {
	RecordID string
	Reason   string
	Cause    error
}

func (e *IngestionFailure) Error() string {
	return fmt.Sprintf("ingestion failed for record %s: %s", e.RecordID, e.Reason)
}

func (e *IngestionFailure) Unwrap() error {
	return e.Cause
}
