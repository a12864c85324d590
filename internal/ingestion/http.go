package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// UploadPath is the backend route that ingests a resume.
const UploadPath = "/job/upload-resume"

// maxErrorBodyBytes caps how much of a failed response is quoted in errors
const maxErrorBodyBytes = 512

// HTTPIngester uploads documents to the ingestion backend as multipart forms.
type HTTPIngester struct {
	baseURL string
	client  *http.Client
}

// NewHTTPIngester creates an ingester for the backend at baseURL.
// A nil client uses a client without timeout; the run timeout bounds the call.
func NewHTTPIngester(baseURL string, client *http.Client) *HTTPIngester {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPIngester{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// uploadResponse mirrors the backend's JSON body
type uploadResponse struct {
	Status        string `json:"status"`
	ChunksIndexed *int   `json:"chunks_indexed"`
	FilePath      string `json:"file_path,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Ingest uploads doc and waits for the backend to finish indexing it.
func (h *HTTPIngester) Ingest(ctx context.Context, doc Document) (*Result, error) {
	body, contentType, err := encodeMultipart(doc)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+UploadPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", doc.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ingestion backend returned status %d: %s", resp.StatusCode, truncate(string(raw), maxErrorBodyBytes))
	}

	var parsed uploadResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("ingestion backend error: %s", parsed.Error)
	}
	if parsed.ChunksIndexed == nil {
		return nil, fmt.Errorf("upload response missing chunks_indexed (status %q, after %s)", parsed.Status, time.Since(start).Round(time.Millisecond))
	}

	return &Result{
		IndexedUnitCount: *parsed.ChunksIndexed,
		FilePath:         parsed.FilePath,
	}, nil
}

// encodeMultipart builds the form body with the document in the "file" field
func encodeMultipart(doc Document) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, doc.Name))
	if doc.ContentType != "" {
		header.Set("Content-Type", doc.ContentType)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
