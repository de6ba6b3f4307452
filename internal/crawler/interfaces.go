package crawler

import (
	"context"
	"io"
	"time"
)

// MapJob describes one domain awaiting a background SiteMap build or
// refresh sweep.
type MapJob struct {
	Domain    string
	CacheKey  string
	Refresh   bool
	Submitted int64
}

// MapJobStore tracks the status of background map jobs for /debug/maps.
type MapJobStore interface {
	RecordStart(ctx context.Context, job MapJob) error
	RecordDone(ctx context.Context, job MapJob, status MapJobStatus, errText string) error
	ListRecent(ctx context.Context, limit int) ([]MapJobRecord, error)
}

// MapJobRecord is one row returned by MapJobStore.ListRecent.
type MapJobRecord struct {
	Domain    string
	Status    MapJobStatus
	Submitted time.Time
	Finished  *time.Time
	ErrorText string
}

// BlobStore writes raw artifacts (CTX-encoded SiteMap bytes) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Queue provides enqueue/dequeue semantics for background map jobs.
type Queue interface {
	Enqueue(ctx context.Context, job MapJob) error
	Dequeue(ctx context.Context) (MapJob, error)
}

// RobotsPolicy decides whether a URL may be fetched under robots.txt.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Policy encapsulates admission control and rate limiting.
type Policy interface {
	AllowHeadless(jobID string, url string, depth int) bool
	AllowFetch(jobID string, url string, depth int) bool
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
