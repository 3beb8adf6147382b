package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata. Politeness,
// robots.txt handling and retries live behind this interface.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns a fetched page into a record. It returns
// ErrUnsupportedContentType for pages that should be skipped.
type Extractor interface {
	Extract(ctx context.Context, page FetchResponse) (Extraction, error)
}

// Pipeline receives processed pages and finalizes the crawl exactly once.
type Pipeline interface {
	OnPageProcessed(ctx context.Context, record PageRecord) error
	Finalize(ctx context.Context, reason string) (Summary, error)
}

// RecordStore persists page records and the crawl summary.
type RecordStore interface {
	SaveRecord(ctx context.Context, record PageRecord) (string, error)
	SaveSummary(ctx context.Context, summary Summary) (string, error)
}

// SummaryStore keeps a queryable copy of crawl summaries.
type SummaryStore interface {
	StoreSummary(ctx context.Context, run RunInfo, summary Summary) error
}

// RunInfo identifies one crawl run.
type RunInfo struct {
	ID         string
	Domain     string
	StartURL   string
	FinishedAt time.Time
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes page notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
