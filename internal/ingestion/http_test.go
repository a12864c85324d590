package ingestion

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPIngester_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, UploadPath, r.URL.Path)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()

		body, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "resume.pdf", header.Filename)
		assert.Equal(t, "application/pdf", header.Header.Get("Content-Type"))
		assert.Equal(t, "%PDF-1.4 content", string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"uploaded","chunks_indexed":420,"file_path":"/uploads/resume.pdf"}`))
	}))
	defer server.Close()

	ing := NewHTTPIngester(server.URL+"/", server.Client())
	res, err := ing.Ingest(context.Background(), Document{
		Name:        "resume.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4 content"),
	})
	require.NoError(t, err)
	assert.Equal(t, 420, res.IndexedUnitCount)
	assert.Equal(t, "/uploads/resume.pdf", res.FilePath)
}

func TestHTTPIngester_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, `{"detail":"embedding service down"}`, "status 500"},
		{"not json", http.StatusOK, `<html>oops</html>`, "failed to decode"},
		{"missing count", http.StatusOK, `{"status":"queued"}`, "missing chunks_indexed"},
		{"error field", http.StatusOK, `{"status":"failed","error":"unsupported file"}`, "unsupported file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPIngester(server.URL, nil).Ingest(context.Background(), Document{Name: "a.pdf", Data: []byte("x")})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHTTPIngester_HonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewHTTPIngester(server.URL, nil).Ingest(ctx, Document{Name: "a.pdf", Data: []byte("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFunc(t *testing.T) {
	var got Document
	f := Func(func(ctx context.Context, doc Document) (*Result, error) {
		got = doc
		return &Result{IndexedUnitCount: 3}, nil
	})

	res, err := f.Ingest(context.Background(), Document{Name: "cv.docx", Data: []byte("abc")})
	require.NoError(t, err)
	assert.Equal(t, 3, res.IndexedUnitCount)
	assert.Equal(t, "cv.docx", got.Name)
	assert.Equal(t, int64(3), got.Size())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("  abc  ", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.True(t, strings.HasSuffix(truncate(strings.Repeat("x", 600), maxErrorBodyBytes), "..."))
}
