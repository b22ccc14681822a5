package pipeline

import (
	"sync"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

// RunContext carries the tallies of one run. Per-URL tasks update it
// concurrently; Stats returns a snapshot.
type RunContext struct {
	mu    sync.Mutex
	stats content.RunStats
}

// NewRunContext returns an empty run context.
func NewRunContext() *RunContext {
	return &RunContext{}
}

// SetDiscovered records how many URLs discovery produced.
func (rc *RunContext) SetDiscovered(n int) {
	rc.mu.Lock()
	rc.stats.Discovered = n
	rc.mu.Unlock()
}

// IncFetched counts one successfully fetched URL.
func (rc *RunContext) IncFetched() {
	rc.mu.Lock()
	rc.stats.Fetched++
	rc.mu.Unlock()
}

// IncExtracted counts one successfully extracted record.
func (rc *RunContext) IncExtracted() {
	rc.mu.Lock()
	rc.stats.Extracted++
	rc.mu.Unlock()
}

// IncRelevant counts one record that passed the relevance filter.
func (rc *RunContext) IncRelevant() {
	rc.mu.Lock()
	rc.stats.Relevant++
	rc.mu.Unlock()
}

// SetValidated records how many records passed validation.
func (rc *RunContext) SetValidated(n int) {
	rc.mu.Lock()
	rc.stats.Validated = n
	rc.mu.Unlock()
}

// SetUploaded records how many records were persisted.
func (rc *RunContext) SetUploaded(n int) {
	rc.mu.Lock()
	rc.stats.Uploaded = n
	rc.mu.Unlock()
}

// AddError appends messages to the run error list.
func (rc *RunContext) AddError(msgs ...string) {
	if len(msgs) == 0 {
		return
	}
	rc.mu.Lock()
	rc.stats.Errors = append(rc.stats.Errors, msgs...)
	rc.mu.Unlock()
}

// Stats returns a copy of the current tallies.
func (rc *RunContext) Stats() content.RunStats {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	stats := rc.stats
	stats.Errors = append([]string(nil), rc.stats.Errors...)
	return stats
}
