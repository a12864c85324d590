// Package ingestion defines the contract with the document ingestion backend
// (parse, chunk, embed, index) and an HTTP client for it.
package ingestion

import "context"

// Document is an uploaded file held in memory.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the document size in bytes.
func (d Document) Size() int64 {
	return int64(len(d.Data))
}

// Result is what the backend reports after indexing a document.
type Result struct {
	IndexedUnitCount int    `json:"chunks_indexed"`
	FilePath         string `json:"file_path,omitempty"`
}

// Ingester parses, embeds and indexes a document in a single call.
type Ingester interface {
	Ingest(ctx context.Context, doc Document) (*Result, error)
}

// Func adapts a function to the Ingester interface.
type Func func(ctx context.Context, doc Document) (*Result, error)

// Ingest calls f.
func (f Func) Ingest(ctx context.Context, doc Document) (*Result, error) {
	return f(ctx, doc)
}
