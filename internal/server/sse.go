package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jonathan/careercraft/internal/pipeline"
	"github.com/jonathan/careercraft/internal/records"
)

// SSE event names
const (
	sseProgress = "progress"
	sseComplete = "complete"
	sseError    = "error"
)

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteHeartbeat sends a comment line so idle proxies keep the stream open
func (s *SSEWriter) WriteHeartbeat() error {
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// streamPayload is the data of every upload stream event
type streamPayload struct {
	Snapshot *pipeline.Snapshot `json:"snapshot,omitempty"`
	Record   *records.Record    `json:"record,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// WriteProgress forwards a pipeline event under its SSE name. It reports
// whether the event ended the run.
func (s *SSEWriter) WriteProgress(event pipeline.ProgressEvent) (terminal bool, err error) {
	snap := event.Snapshot
	payload := streamPayload{Snapshot: &snap, Record: event.Record, Error: event.Error}

	switch event.Type {
	case pipeline.EventComplete:
		return true, s.WriteEvent(sseComplete, payload)
	case pipeline.EventError:
		return true, s.WriteEvent(sseError, payload)
	default:
		return false, s.WriteEvent(sseProgress, payload)
	}
}

// WriteRecord sends the terminal event for a record that already finished
func (s *SSEWriter) WriteRecord(rec records.Record) error {
	if rec.Status == records.StatusError {
		return s.WriteEvent(sseError, streamPayload{Record: &rec, Error: rec.ErrorMessage})
	}
	return s.WriteEvent(sseComplete, streamPayload{Record: &rec})
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(message string) {
	s.WriteEvent(sseError, streamPayload{Error: message}) //nolint:errcheck
}
