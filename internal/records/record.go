// Package records persists the outcome of every resume upload.
package records

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/careercraft/internal/format"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusAnalyzed   Status = "analyzed"
	StatusError      Status = "error"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusAnalyzed || s == StatusError
}

// Record is the durable outcome of one upload attempt.
type Record struct {
	ID                        string    `json:"id"`
	DisplayName               string    `json:"displayName"`
	OriginalName              string    `json:"originalName"`
	UploadDate                string    `json:"uploadDate,omitempty"`
	SizeLabel                 string    `json:"sizeLabel"`
	SizeBytes                 int64     `json:"sizeBytes"`
	Status                    Status    `json:"status"`
	IndexedUnitCount          *int      `json:"indexedUnitCount,omitempty"`
	CreatedAt                 time.Time `json:"createdAt"`
	ProcessingDurationSeconds *float64  `json:"processingDurationSeconds,omitempty"`
	FilePath                  string    `json:"filePath,omitempty"`
	ErrorMessage              string    `json:"errorMessage,omitempty"`
}

// New creates a processing record for a file of the given name and size.
func New(name string, sizeBytes int64, now time.Time) Record {
	return Record{
		ID:           NewID(now),
		DisplayName:  format.DisplayName(name),
		OriginalName: name,
		UploadDate:   format.UploadDate(now),
		SizeLabel:    format.FormatSize(sizeBytes),
		SizeBytes:    sizeBytes,
		Status:       StatusProcessing,
		CreatedAt:    now.UTC(),
	}
}

// NewID returns "resume-<unix millis>-<8 hex chars>".
func NewID(now time.Time) string {
	return fmt.Sprintf("resume-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// MarkAnalyzed moves the record to analyzed with its indexed unit count.
func (r *Record) MarkAnalyzed(indexedUnits int, elapsed time.Duration, filePath string) {
	r.Status = StatusAnalyzed
	r.IndexedUnitCount = &indexedUnits
	r.ProcessingDurationSeconds = durationSeconds(elapsed)
	r.ErrorMessage = ""
	if filePath != "" {
		r.FilePath = filePath
	}
}

// MarkFailed moves the record to error. Any indexed unit count is cleared.
func (r *Record) MarkFailed(reason string, elapsed time.Duration) {
	r.Status = StatusError
	r.IndexedUnitCount = nil
	r.ProcessingDurationSeconds = durationSeconds(elapsed)
	r.ErrorMessage = reason
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	if r.IndexedUnitCount != nil {
		n := *r.IndexedUnitCount
		r.IndexedUnitCount = &n
	}
	if r.ProcessingDurationSeconds != nil {
		d := *r.ProcessingDurationSeconds
		r.ProcessingDurationSeconds = &d
	}
	return r
}

// durationSeconds rounds to tenths of a second
func durationSeconds(elapsed time.Duration) *float64 {
	s := math.Round(max(elapsed.Seconds(), 0)*10) / 10
	return &s
}
