package db

import (
	"time"

	"github.com/google/uuid"
)

// DefaultCollection is the collection name used when none is configured
const DefaultCollection = "careercraft-saved-resumes"

// Run status constants
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Run represents one upload run in the journal
type Run struct {
	ID           uuid.UUID  `json:"id"`
	RecordID     string     `json:"record_id"`
	FileName     string     `json:"file_name"`
	Kind         string     `json:"kind"`
	StageCount   int        `json:"stage_count"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Stages       []RunStage `json:"stages,omitempty"`
}

// RunStage records when a stage of a run completed
type RunStage struct {
	Stage       string    `json:"stage"`
	Position    int       `json:"position"`
	CompletedAt time.Time `json:"completed_at"`
}

// RunInput represents input for creating a run
type RunInput struct {
	ID         uuid.UUID
	RecordID   string
	FileName   string
	Kind       string
	StageCount int
	StartedAt  time.Time
}
