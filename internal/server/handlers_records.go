package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/jonathan/careercraft/internal/records"
	"github.com/jonathan/careercraft/internal/stats"
)

// listRecordsQuery holds the query parameters of GET /records
type listRecordsQuery struct {
	Status string `validate:"omitempty,oneof=processing analyzed error"`
}

// listRunsQuery holds the query parameters of GET /runs
type listRunsQuery struct {
	Limit int `validate:"min=1,max=500"`
}

// handleListRecords lists saved records, newest first
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := listRecordsQuery{Status: r.URL.Query().Get("status")}
	if err := s.validate.Struct(q); err != nil {
		s.writeError(w, &ErrValidation{Field: "status", Message: "must be one of processing, analyzed, error"})
		return
	}

	all := s.store.List()
	out := make([]records.Record, 0, len(all))
	for _, rec := range all {
		if q.Status == "" || string(rec.Status) == q.Status {
			out = append(out, rec)
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"records": out,
		"count":   len(out),
	})
}

// handleGetRecord returns one record
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeError(w, &ErrRecordNotFound{ID: id})
		return
	}
	s.jsonResponse(w, http.StatusOK, rec)
}

// handleDeleteRecord removes a record. Deleting an absent record succeeds;
// the record of the run in flight cannot be deleted.
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.orchestrator.IsActiveRecord(id) {
		s.writeError(w, &ErrRecordBusy{ID: id})
		return
	}

	if err := s.store.Remove(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats returns the aggregate statistics of the collection
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, stats.Project(s.store.List()))
}

// handleListRuns lists journaled runs, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, ErrJournalDisabled)
		return
	}

	q := listRunsQuery{Limit: 50}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, &ErrValidation{Field: "limit", Message: "must be an integer"})
			return
		}
		q.Limit = n
	}
	if err := s.validate.Struct(q); err != nil {
		s.writeError(w, &ErrValidation{Field: "limit", Message: "must be between 1 and 500"})
		return
	}

	runs, err := s.history.ListRuns(r.Context(), q.Limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetRun returns one journaled run with its completed stages
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, ErrJournalDisabled)
		return
	}

	raw := r.PathValue("id")
	runID, err := uuid.Parse(raw)
	if err != nil {
		s.writeError(w, &ErrValidation{Field: "id", Message: "invalid run ID"})
		return
	}

	run, err := s.history.GetRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if run == nil {
		s.writeError(w, &ErrRunNotFound{ID: raw})
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}
