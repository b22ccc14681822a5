package content

import (
	"fmt"
	"sort"
	"time"
)

// ManifestVersion is written into every batch manifest.
const ManifestVersion = "1.0"

// ManifestKeyPrefix is the object-store prefix for batch manifests.
const ManifestKeyPrefix = "manifests/scraped"

// Batch is the set of records produced by one discovery run of one source.
// Mixed sources are representable; the safety gate rejects them.
type Batch struct {
	ID              string
	Source          Source
	Items           []*Record
	CreatedAt       time.Time
	TotalDiscovered int
}

// NewBatch assembles a batch.
func NewBatch(id string, source Source, items []*Record, discovered int, createdAt time.Time) *Batch {
	return &Batch{
		ID:              id,
		Source:          source,
		Items:           items,
		CreatedAt:       createdAt.UTC(),
		TotalDiscovered: discovered,
	}
}

// TotalScraped is the number of records in the batch.
func (b *Batch) TotalScraped() int {
	return len(b.Items)
}

// SuccessRate is scraped over discovered, or 0 when nothing was discovered.
func (b *Batch) SuccessRate() float64 {
	if b.TotalDiscovered <= 0 {
		return 0
	}
	return float64(b.TotalScraped()) / float64(b.TotalDiscovered)
}

// ManifestKey derives the manifest location from source, date and batch id.
func (b *Batch) ManifestKey() string {
	return fmt.Sprintf("%s/%s/%s/batch_%s.json",
		ManifestKeyPrefix, Slug(string(b.Source)), b.CreatedAt.Format("2006/01/02"), b.ID)
}

// DataPrefix is the default record prefix for the batch source.
func (b *Batch) DataPrefix() string {
	return fmt.Sprintf("%s/%s", RecordKeyPrefix, Slug(string(b.Source)))
}

// ManifestMetrics aggregates record statistics.
type ManifestMetrics struct {
	TotalDiscovered int     `json:"total_discovered"`
	TotalScraped    int     `json:"total_scraped"`
	SuccessRate     float64 `json:"success_rate"`
	AvgConfidence   float64 `json:"avg_confidence"`
	AvgWordCount    float64 `json:"avg_word_count"`
}

// UploadResults is appended to a manifest after persistence.
type UploadResults struct {
	SuccessfulUploads int      `json:"successful_uploads"`
	FailedUploads     int      `json:"failed_uploads"`
	UploadedKeys      []string `json:"uploaded_s3_keys"`
	UploadErrors      []string `json:"upload_errors"`
}

// Organization documents the storage layout used for a batch.
type Organization struct {
	Bucket              string `json:"bucket"`
	BasePrefix          string `json:"base_prefix"`
	OrganizationPattern string `json:"organization_pattern"`
	PreventOverwrites   bool   `json:"prevent_overwrites"`
}

// Manifest is the external JSON summary of a batch.
type Manifest struct {
	ManifestVersion   string          `json:"manifest_version"`
	BatchID           string          `json:"batch_id"`
	Source            Source          `json:"source"`
	CreatedAt         string          `json:"created_at"`
	ProcessorVersion  string          `json:"processor_version"`
	TotalItems        int             `json:"total_items"`
	ContentTypes      []string        `json:"content_types"`
	ContentTypeCounts map[string]int  `json:"content_type_counts"`
	ContentKeys       []string        `json:"content_s3_keys"`
	Metrics           ManifestMetrics `json:"metrics"`
	ManifestKey       string          `json:"manifest_s3_key"`
	DataPrefix        string          `json:"data_prefix"`
	UploadResults     *UploadResults  `json:"upload_results,omitempty"`
	Organization      *Organization   `json:"s3_organization,omitempty"`
}

// Manifest summarizes the batch using the current record keys.
func (b *Batch) Manifest(processorVersion string) Manifest {
	counts := make(map[string]int)
	keys := make([]string, 0, len(b.Items))
	var confidence, words float64
	for _, item := range b.Items {
		if item == nil {
			continue
		}
		counts[string(item.Kind)]++
		keys = append(keys, item.StorageKey())
		confidence += item.ConfidenceScore
		words += float64(item.WordCount())
	}
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	metrics := ManifestMetrics{
		TotalDiscovered: b.TotalDiscovered,
		TotalScraped:    b.TotalScraped(),
		SuccessRate:     b.SuccessRate(),
	}
	if n := float64(len(keys)); n > 0 {
		metrics.AvgConfidence = confidence / n
		metrics.AvgWordCount = words / n
	}

	return Manifest{
		ManifestVersion:   ManifestVersion,
		BatchID:           b.ID,
		Source:            b.Source,
		CreatedAt:         b.CreatedAt.Format(time.RFC3339Nano),
		ProcessorVersion:  processorVersion,
		TotalItems:        len(b.Items),
		ContentTypes:      kinds,
		ContentTypeCounts: counts,
		ContentKeys:       keys,
		Metrics:           metrics,
		ManifestKey:       b.ManifestKey(),
		DataPrefix:        b.DataPrefix(),
	}
}
