package pipeline

import (
	"context"
	"fmt"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

// DefaultEnhancer copies the extraction verdict onto the record and fills
// a missing publication type.
type DefaultEnhancer struct{}

// Enhance implements content.Enhancer.
func (DefaultEnhancer) Enhance(
	_ context.Context,
	record *content.Record,
	fetched content.FetchResult,
	extracted content.ExtractionResult,
) (*content.Record, error) {
	if record == nil {
		return nil, fmt.Errorf("record is nil")
	}
	record.ExtractionMethod = extracted.Method
	record.ConfidenceScore = extracted.Confidence
	if record.Attribution != nil && record.Attribution.PublicationType == "" && len(fetched.Metadata) > 0 {
		record.Attribution.PublicationType = "article"
	}
	return record, nil
}
