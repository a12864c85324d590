package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonathan/careercraft/internal/ingestion"
	"github.com/jonathan/careercraft/internal/pipeline"
	"github.com/jonathan/careercraft/internal/records"
)

// multipartOverhead is the body allowance on top of the file size limit
const multipartOverhead = 1 << 20

// UploadResponse is returned when an upload is accepted
type UploadResponse struct {
	Run    pipeline.Snapshot `json:"run"`
	Record records.Record    `json:"record"`
}

// handleUpload accepts a multipart "file" upload, starts its run and drives
// it in the background. Progress is available from /uploads/current and
// /uploads/stream.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	doc, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	run, err := s.orchestrator.Start(r.Context(), doc)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := UploadResponse{Run: run.Snapshot(time.Now()), Record: run.Record()}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		// the orchestrator logs outcomes; only storage trouble is reported here
		_, err := s.orchestrator.Drive(s.baseCtx, run, doc)
		if err != nil && !isPlainFailure(err) {
			s.logger.Error("background run ended with an error",
				slog.String("record_id", resp.Record.ID),
				slog.String("error", err.Error()))
		}
	}()

	s.jsonResponse(w, http.StatusAccepted, resp)
}

// readUpload extracts the document from a multipart request. Oversized
// bodies are reported as file validation errors.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (ingestion.Document, error) {
	limit := s.orchestrator.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ingestion.Document{}, tooLargeError(limit)
		}
		return ingestion.Document{}, &ErrValidation{Field: "file", Message: "multipart field 'file' is required"}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return ingestion.Document{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return ingestion.Document{}, tooLargeError(limit)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = pipeline.ContentTypeFromName(header.Filename)
	}

	return ingestion.Document{
		Name:        header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func tooLargeError(limit int64) error {
	return &pipeline.ValidationError{
		Field:   "size",
		Message: fmt.Sprintf("file exceeds the %d MB limit", limit/(1024*1024)),
	}
}

// handleCurrentUpload returns a snapshot of the run in flight
func (s *Server) handleCurrentUpload(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.orchestrator.Current()
	if !ok {
		s.writeError(w, pipeline.ErrRunNotActive)
		return
	}
	s.jsonResponse(w, http.StatusOK, snap)
}

// handleUploadStream streams progress events as SSE until the run ends.
// With ?record=<id> a record that already finished gets its terminal event
// immediately, so clients that connect late do not wait for the next run.
func (s *Server) handleUploadStream(w http.ResponseWriter, r *http.Request) {
	recordID := r.URL.Query().Get("record")

	events, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if recordID != "" && !s.orchestrator.IsActiveRecord(recordID) {
		rec, ok := s.store.Get(recordID)
		switch {
		case !ok:
			sse.WriteError((&ErrRecordNotFound{ID: recordID}).Error())
			return
		case rec.Status.Terminal():
			sse.WriteRecord(rec) //nolint:errcheck
			return
		default:
			// processing, but owned by another process sharing the store
			sse.WriteError(fmt.Sprintf("record %s is not being processed by this server", recordID))
			return
		}
	}

	// Catch up with the run in flight
	if snap, ok := s.orchestrator.Current(); ok && matchesRecord(recordID, snap) {
		if err := sse.WriteEvent(sseProgress, streamPayload{Snapshot: &snap}); err != nil {
			return
		}
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.baseCtx.Done():
			sse.WriteError("server shutting down")
			return
		case <-heartbeat.C:
			if err := sse.WriteHeartbeat(); err != nil {
				return
			}
		case event := <-events:
			if !matchesRecord(recordID, event.Snapshot) {
				continue
			}
			terminal, err := sse.WriteProgress(event)
			if err != nil || terminal {
				return
			}
		}
	}
}

// isPlainFailure reports whether err is only an ingestion failure, with no
// storage error joined to it
func isPlainFailure(err error) bool {
	var failure *pipeline.IngestionFailure
	if !errors.As(err, &failure) {
		return false
	}
	var joined interface{ Unwrap() []error }
	return !errors.As(err, &joined)
}

func matchesRecord(recordID string, snap pipeline.Snapshot) bool {
	return recordID == "" || snap.RecordID == recordID
}
