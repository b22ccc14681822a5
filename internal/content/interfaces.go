package content

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned by ObjectStore.GetObject for missing keys.
var ErrObjectNotFound = errors.New("object not found")

// ErrRunNotFound is returned by RunStore lookups for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// ErrQueueClosed is returned by a Queue that no longer delivers requests.
var ErrQueueClosed = errors.New("queue closed")

// ErrRunExists is returned by RunStore.CreateRun when the ID is taken.
var ErrRunExists = errors.New("run already exists")

// ObjectStore is the object-store client used for records and manifests.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, contentType string, data []byte, metadata map[string]string) (string, error)
	HeadObject(ctx context.Context, key string) (bool, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Publisher pushes batch notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for integrity metadata.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record, batch and run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Discoverer returns candidate article URLs for a source.
type Discoverer interface {
	Discover(ctx context.Context, source Source) (Discovery, error)
}

// Enhancer refines an extracted record with source-specific knowledge.
type Enhancer interface {
	Enhance(ctx context.Context, record *Record, fetched FetchResult, extracted ExtractionResult) (*Record, error)
}

// LedgerEntry is the relational summary of a persisted batch.
type LedgerEntry struct {
	BatchID     string
	Source      Source
	ManifestKey string
	Discovered  int
	Scraped     int
	Uploaded    int
	Failed      int
	CreatedAt   time.Time
	Records     []LedgerRecord
}

// LedgerRecord is one persisted record in a ledger entry.
type LedgerRecord struct {
	RecordID    string
	URL         string
	Key         string
	ContentHash string
	Kind        ContentKind
	Confidence  float64
}

// Ledger records persisted batches in a relational catalog.
type Ledger interface {
	RecordBatch(ctx context.Context, entry LedgerEntry) error
}

// RunStatus enumerates pipeline run lifecycle states.
type RunStatus string

// Run lifecycle states.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusRejected  RunStatus = "rejected"
	RunStatusFailed    RunStatus = "failed"
)

// RunRequest asks for one pipeline run over one source.
type RunRequest struct {
	RunID       string   `json:"run_id"`
	Source      Source   `json:"source"`
	URLs        []string `json:"urls,omitempty"`
	MaxArticles int      `json:"max_articles,omitempty"`
	Submitted   int64    `json:"submitted"`
}

// Run is the stored state of a submitted run.
type Run struct {
	ID        string     `json:"id"`
	Source    Source     `json:"source"`
	Status    RunStatus  `json:"status"`
	Submitted time.Time  `json:"submitted"`
	Started   *time.Time `json:"started,omitempty"`
	Finished  *time.Time `json:"finished,omitempty"`
	Report    *RunReport `json:"report,omitempty"`
}

// Queue provides enqueue/dequeue semantics for run requests.
type Queue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// RunStore persists run status for the API.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	StartRun(ctx context.Context, runID string, at time.Time) error
	FinishRun(ctx context.Context, runID string, status RunStatus, report RunReport, at time.Time) error
	GetRun(ctx context.Context, runID string) (Run, error)
}
