package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/careercraft/internal/db"
	"github.com/jonathan/careercraft/internal/ingestion"
	"github.com/jonathan/careercraft/internal/pipeline"
	"github.com/jonathan/careercraft/internal/records"
	"github.com/jonathan/careercraft/internal/server/ratelimit"
)

// gatedIngester blocks every call until release is closed
type gatedIngester struct {
	release chan struct{}
	result  *ingestion.Result
	err     error
}

func newGatedIngester() *gatedIngester {
	return &gatedIngester{
		release: make(chan struct{}),
		result:  &ingestion.Result{IndexedUnitCount: 12},
	}
}

func (g *gatedIngester) Ingest(ctx context.Context, _ ingestion.Document) (*ingestion.Result, error) {
	select {
	case <-g.release:
		return g.result, g.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// mockHistory is an in-memory run journal
type mockHistory struct {
	runs map[uuid.UUID]*db.Run
	err  error
}

func (m *mockHistory) GetRun(_ context.Context, runID uuid.UUID) (*db.Run, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.runs[runID], nil
}

func (m *mockHistory) ListRuns(_ context.Context, limit int) ([]db.Run, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]db.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if len(out) == limit {
			break
		}
		out = append(out, *r)
	}
	return out, nil
}

type testServer struct {
	*Server
	store    *records.Store
	ingester *gatedIngester
	handler  http.Handler
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, history RunHistory) *testServer {
	t.Helper()

	logger := quietLogger()
	store, err := records.Open(context.Background(), records.NewMemoryBackend(nil), logger)
	require.NoError(t, err)

	events := NewBroadcaster(logger)
	ingester := newGatedIngester()
	orch := pipeline.NewOrchestrator(store, ingester, pipeline.Options{
		Logger:       logger,
		TickInterval: 5 * time.Millisecond,
		OnProgress:   events.Publish,
	})

	s, err := New(Config{
		Orchestrator: orch,
		Store:        store,
		Events:       events,
		History:      history,
		RateLimit:    &ratelimit.Config{Enabled: false},
		Logger:       logger,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return &testServer{Server: s, store: store, ingester: ingester, handler: s.Handler()}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func pdfBytes() []byte {
	return []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n")
}

func uploadRequest(t *testing.T, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func seedRecord(t *testing.T, store *records.Store, name string, status records.Status) records.Record {
	t.Helper()
	rec := records.New(name, 2048, time.Now())
	switch status {
	case records.StatusAnalyzed:
		rec.MarkAnalyzed(40, 30*time.Second, "")
	case records.StatusError:
		rec.MarkFailed("network error", 10*time.Second)
	}
	require.NoError(t, store.Upsert(context.Background(), rec))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[map[string]any](t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["active_run"])
}

func TestUpload_AcceptedThenAnalyzed(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, uploadRequest(t, "jane-doe.pdf", pdfBytes()))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	resp := decode[UploadResponse](t, w)
	assert.Equal(t, records.StatusProcessing, resp.Record.Status)
	assert.Equal(t, "jane-doe", resp.Record.DisplayName)
	assert.Equal(t, pipeline.KindPDF, resp.Run.Kind)
	assert.Equal(t, resp.Record.ID, resp.Run.RecordID)

	// The run is visible while the backend works
	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/uploads/current", nil))
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[pipeline.Snapshot](t, w)
	assert.Equal(t, resp.Record.ID, snap.RecordID)
	assert.Less(t, snap.Overall, 100.0)

	close(ts.ingester.release)

	require.Eventually(t, func() bool {
		rec, ok := ts.store.Get(resp.Record.ID)
		return ok && rec.Status == records.StatusAnalyzed
	}, 2*time.Second, 10*time.Millisecond)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/uploads/current", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	rec, _ := ts.store.Get(resp.Record.ID)
	require.NotNil(t, rec.IndexedUnitCount)
	assert.Equal(t, 12, *rec.IndexedUnitCount)
}

func TestUpload_BusyWhileRunInFlight(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, uploadRequest(t, "first.pdf", pdfBytes()))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = ts.do(t, uploadRequest(t, "second.pdf", pdfBytes()))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, ts.store.Len(), "a rejected upload creates no record")

	close(ts.ingester.release)
}

func TestUpload_Rejected(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
		want string
	}{
		{
			name: "unsupported type",
			req:  func(t *testing.T) *http.Request { return uploadRequest(t, "notes.txt", []byte("plain text")) },
			want: "PDF or Word",
		},
		{
			name: "content mismatch",
			req:  func(t *testing.T) *http.Request { return uploadRequest(t, "fake.pdf", []byte("GIF89a not a pdf")) },
			want: "content",
		},
		{
			name: "empty file",
			req:  func(t *testing.T) *http.Request { return uploadRequest(t, "empty.pdf", nil) },
			want: "empty",
		},
		{
			name: "missing file field",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/uploads", strings.NewReader("{}"))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			want: "file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)

			w := ts.do(t, tt.req(t))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
			assert.Zero(t, ts.store.Len())
		})
	}
}

func TestUpload_TooLarge(t *testing.T) {
	ts := newTestServer(t, nil)

	data := append(pdfBytes(), bytes.Repeat([]byte(" "), int(pipeline.DefaultMaxFileSize))...)
	w := ts.do(t, uploadRequest(t, "huge.pdf", data))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "10 MB")
	assert.Zero(t, ts.store.Len())
}

func TestUpload_FailureKeepsRecord(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ingester.err = errors.New("backend returned 500")

	w := ts.do(t, uploadRequest(t, "cv.pdf", pdfBytes()))
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[UploadResponse](t, w).Record.ID

	close(ts.ingester.release)

	require.Eventually(t, func() bool {
		rec, ok := ts.store.Get(id)
		return ok && rec.Status == records.StatusError
	}, 2*time.Second, 10*time.Millisecond)

	rec, _ := ts.store.Get(id)
	assert.Contains(t, rec.ErrorMessage, "backend returned 500")
}

func TestRecords_ListGetDelete(t *testing.T) {
	ts := newTestServer(t, nil)
	analyzed := seedRecord(t, ts.store, "a.pdf", records.StatusAnalyzed)
	failed := seedRecord(t, ts.store, "b.docx", records.StatusError)

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/records", nil))
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Records []records.Record `json:"records"`
		Count   int              `json:"count"`
	}](t, w)
	assert.Equal(t, 2, list.Count)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/records?status=error", nil))
	require.Equal(t, http.StatusOK, w.Code)
	list = decode[struct {
		Records []records.Record `json:"records"`
		Count   int              `json:"count"`
	}](t, w)
	require.Len(t, list.Records, 1)
	assert.Equal(t, failed.ID, list.Records[0].ID)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/records?status=pending", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/records/"+analyzed.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, analyzed.ID, decode[records.Record](t, w).ID)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/records/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Delete is idempotent
	for i := 0; i < 2; i++ {
		w = ts.do(t, httptest.NewRequest(http.MethodDelete, "/records/"+analyzed.ID, nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
	_, ok := ts.store.Get(analyzed.ID)
	assert.False(t, ok)
}

func TestRecords_DeleteActiveRecord(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, uploadRequest(t, "cv.pdf", pdfBytes()))
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[UploadResponse](t, w).Record.ID

	w = ts.do(t, httptest.NewRequest(http.MethodDelete, "/records/"+id, nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	close(ts.ingester.release)
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	seedRecord(t, ts.store, "a.pdf", records.StatusAnalyzed)
	seedRecord(t, ts.store, "b.pdf", records.StatusError)

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[map[string]any](t, w)
	assert.Equal(t, float64(2), resp["totalRecords"])
	assert.Equal(t, float64(40), resp["totalIndexedUnits"])
	assert.Equal(t, float64(50), resp["successRatePercent"])
}

func TestRunsEndpoints(t *testing.T) {
	runID := uuid.New()
	history := &mockHistory{runs: map[uuid.UUID]*db.Run{
		runID: {ID: runID, RecordID: "resume-1-abcdef01", Status: db.RunStatusSucceeded},
	}}
	ts := newTestServer(t, history)

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/runs?limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), runID.String())

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/runs/"+runID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, runID, decode[db.Run](t, w).ID)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/runs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/runs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, limit := range []string{"0", "1000", "ten"} {
		w = ts.do(t, httptest.NewRequest(http.MethodGet, "/runs?limit="+limit, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, limit)
	}

	history.err = errors.New("connection refused")
	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestRunsEndpoints_WithoutDatabase(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/runs", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

// readEvents reads SSE events until a terminal one or EOF
func readEvents(t *testing.T, body io.Reader) []string {
	t.Helper()
	var names []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
			if name == sseComplete || name == sseError {
				return names
			}
		}
	}
	return names
}

func TestUploadStream_LiveRun(t *testing.T) {
	ts := newTestServer(t, nil)
	httpServer := httptest.NewServer(ts.handler)
	defer httpServer.Close()

	w := ts.do(t, uploadRequest(t, "cv.pdf", pdfBytes()))
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[UploadResponse](t, w).Record.ID

	resp, err := http.Get(httpServer.URL + "/uploads/stream?record=" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	close(ts.ingester.release)

	names := readEvents(t, resp.Body)
	require.NotEmpty(t, names)
	assert.Equal(t, sseProgress, names[0], "stream opens with the current snapshot")
	assert.Equal(t, sseComplete, names[len(names)-1])
}

func TestUploadStream_FinishedRecord(t *testing.T) {
	ts := newTestServer(t, nil)
	failed := seedRecord(t, ts.store, "cv.pdf", records.StatusError)
	httpServer := httptest.NewServer(ts.handler)
	defer httpServer.Close()

	resp, err := http.Get(httpServer.URL + "/uploads/stream?record=" + failed.ID)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, []string{sseError}, readEvents(t, resp.Body))
}

func TestUploadStream_UnknownRecord(t *testing.T) {
	ts := newTestServer(t, nil)
	httpServer := httptest.NewServer(ts.handler)
	defer httpServer.Close()

	resp, err := http.Get(httpServer.URL + "/uploads/stream?record=missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "record not found")
}

func TestUploadStream_RecordOwnedElsewhere(t *testing.T) {
	ts := newTestServer(t, nil)
	httpServer := httptest.NewServer(ts.handler)
	defer httpServer.Close()

	// processing, but no run on this server owns it
	rec := records.New("elsewhere.pdf", 1024, time.Now())
	require.NoError(t, ts.store.Upsert(context.Background(), rec))

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(httpServer.URL + "/uploads/stream?record=" + rec.ID)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: error")
	assert.Contains(t, string(body), "not being processed by this server")
}

func TestIsPlainFailure(t *testing.T) {
	failure := &pipeline.IngestionFailure{RecordID: "r1", Reason: "backend down"}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"failure", failure, true},
		{"wrapped failure", fmt.Errorf("drive: %w", failure), true},
		{"failure joined with storage error", errors.Join(failure, errors.New("disk full")), false},
		{"other error", errors.New("disk full"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isPlainFailure(tt.err))
		})
	}
}

func TestCORSMiddleware_OPTIONS(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, httptest.NewRequest(http.MethodOptions, "/uploads", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestRateLimitMiddleware(t *testing.T) {
	ts := newTestServer(t, nil)
	limiter := ratelimit.NewLimiter(&ratelimit.Config{Enabled: true, DefaultLimit: 2, DefaultWindow: time.Minute})
	defer limiter.Stop()
	ts.rateLimiter = limiter
	handler := ts.withRateLimit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&pipeline.ValidationError{Field: "size"}, http.StatusBadRequest},
		{&ErrValidation{Field: "limit"}, http.StatusBadRequest},
		{&pipeline.BusyError{}, http.StatusConflict},
		{&ErrRecordBusy{ID: "x"}, http.StatusConflict},
		{&ErrRecordNotFound{ID: "x"}, http.StatusNotFound},
		{&ErrRunNotFound{ID: "x"}, http.StatusNotFound},
		{pipeline.ErrRunNotActive, http.StatusNotFound},
		{ErrJournalDisabled, http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
