// Package safety holds the final admission check a batch must pass before
// anything is persisted.
package safety

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/metrics"
)

// DefaultMaxBatchSize caps items per persisted batch.
const DefaultMaxBatchSize = 100

// ErrMixedSources is reported when a batch spans publications.
const ErrMixedSources = "mixed sources in single batch, should be separated"

// BatchValidator is the slice of the validator the gate depends on.
type BatchValidator interface {
	ValidateBatch(b *content.Batch) content.ValidationResult
}

// Gate re-validates assembled batches and enforces batch-level limits.
type Gate struct {
	validator    BatchValidator
	maxBatchSize int
	logger       *zap.Logger
}

// New builds a Gate. maxBatchSize <= 0 uses DefaultMaxBatchSize.
func New(validator BatchValidator, maxBatchSize int, logger *zap.Logger) *Gate {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{validator: validator, maxBatchSize: maxBatchSize, logger: logger}
}

// PreProcessingCheck reports whether batch may be persisted. Items are
// re-validated even when they passed individually, since assembly can
// combine valid items into an invalid batch.
func (g *Gate) PreProcessingCheck(batch *content.Batch) (bool, []string) {
	var errs []string

	if res := g.validator.ValidateBatch(batch); !res.Passed {
		errs = append(errs, res.Errors...)
	}

	items := 0
	if batch != nil {
		items = len(batch.Items)
	}
	if items > g.maxBatchSize {
		errs = append(errs, fmt.Sprintf("batch too large: %d items (max: %d)", items, g.maxBatchSize))
	}

	if batch != nil {
		sources := make(map[string]struct{})
		for _, item := range batch.Items {
			if item != nil && item.Attribution != nil {
				sources[item.Attribution.Source] = struct{}{}
			}
		}
		if len(sources) > 1 {
			errs = append(errs, ErrMixedSources)
		}
	}

	safe := len(errs) == 0
	source := ""
	if batch != nil {
		source = string(batch.Source)
	}
	metrics.ObserveGate(source, safe)
	if !safe {
		g.logger.Warn("batch rejected by safety gate",
			zap.String("source", source),
			zap.Int("items", items),
			zap.Strings("errors", errs),
		)
	}
	return safe, errs
}

// VerifyLakeCompatibility reports whether the record's lake form carries
// the typed fields downstream processing reads.
func VerifyLakeCompatibility(r *content.Record) bool {
	data, err := json.Marshal(r)
	if err != nil {
		return false
	}
	var doc struct {
		SourceAttribution *struct {
			Source *string `json:"source"`
			Title  *string `json:"title"`
			URL    *string `json:"url"`
		} `json:"source_attribution"`
		Metadata *struct {
			ScrapedAt       *string  `json:"scraped_at"`
			ConfidenceScore *float64 `json:"confidence_score"`
			WordCount       *int     `json:"word_count"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	attr, meta := doc.SourceAttribution, doc.Metadata
	return attr != nil && attr.Source != nil && attr.Title != nil && attr.URL != nil &&
		meta != nil && meta.ScrapedAt != nil && meta.ConfidenceScore != nil && meta.WordCount != nil
}
