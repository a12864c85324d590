package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonathan/careercraft/internal/ingestion"
	"github.com/jonathan/careercraft/internal/records"
)

// fakeClock only moves when told to. Its tickers never fire on their own.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.March, 7, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	return &fakeTicker{ch: make(chan time.Time)}
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

type fakeTicker struct{ ch chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

// failingStore rejects writes while fail is set
type failingStore struct {
	*records.Store
	fail bool
}

func (s *failingStore) Upsert(ctx context.Context, r records.Record) error {
	if s.fail {
		return errors.New("storage unavailable")
	}
	return s.Store.Upsert(ctx, r)
}

// gatedStore holds terminal writes until release is closed
type gatedStore struct {
	*records.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(t *testing.T) *gatedStore {
	return &gatedStore{
		Store:   newTestStore(t),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *gatedStore) Upsert(ctx context.Context, r records.Record) error {
	if r.Status.Terminal() {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	return s.Store.Upsert(ctx, r)
}

// eventLog collects progress events
type eventLog struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (l *eventLog) record(e ProgressEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ProgressEvent(nil), l.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *records.Store {
	t.Helper()
	store, err := records.Open(context.Background(), records.NewMemoryBackend(nil), discardLogger())
	require.NoError(t, err)
	return store
}

// pdfDocument builds a PDF-signed document of the given size
func pdfDocument(name string, size int) ingestion.Document {
	header := []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	data := make([]byte, max(size, len(header)))
	copy(data, header)
	for i := len(header); i < len(data); i++ {
		data[i] = ' '
	}
	return ingestion.Document{Name: name, ContentType: ContentTypePDF, Data: data}
}

// docxDocument builds a minimal Word container
func docxDocument(t *testing.T, name string) ingestion.Document {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range []struct{ name, body string }{
		{"[Content_Types].xml", `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"></Types>`},
		{"word/document.xml", `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>Jane Doe</w:t></w:r></w:p></w:body></w:document>`},
	} {
		w, err := zw.Create(entry.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(entry.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	return ingestion.Document{Name: name, ContentType: ContentTypeDOCX, Data: buf.Bytes()}
}

// fixedIngester answers with a fixed unit count, or err when set
func fixedIngester(units int, err error) ingestion.Func {
	return func(ctx context.Context, doc ingestion.Document) (*ingestion.Result, error) {
		if err != nil {
			return nil, err
		}
		return &ingestion.Result{IndexedUnitCount: units}, nil
	}
}

// blockingIngester waits for ctx, simulating a backend that never answers
func blockingIngester() ingestion.Func {
	return func(ctx context.Context, doc ingestion.Document) (*ingestion.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}
