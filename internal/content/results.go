package content

import "time"

// FetchResult is the outcome of resolving one URL to raw document text.
type FetchResult struct {
	Success    bool           `json:"success"`
	Content    string         `json:"-"`
	StatusCode int            `json:"status_code"`
	URL        string         `json:"url"`
	FinalURL   string         `json:"final_url,omitempty"`
	Method     string         `json:"method"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ExtractionResult is the outcome of parsing raw text into a record.
type ExtractionResult struct {
	Success    bool
	Record     *Record
	Confidence float64
	Method     string
	Errors     []string
}

// ValidationResult carries the verdict and diagnostics for a record or batch.
type ValidationResult struct {
	Passed   bool           `json:"passed"`
	Score    float64        `json:"score"`
	Errors   []string       `json:"errors,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UploadReport summarizes a batch upload.
type UploadReport struct {
	BatchID     string   `json:"batch_id"`
	TotalItems  int      `json:"total_items"`
	Successful  int      `json:"successful_uploads"`
	Failed      int      `json:"failed_uploads"`
	Keys        []string `json:"uploaded_keys"`
	Errors      []string `json:"errors,omitempty"`
	ManifestKey string   `json:"manifest_key,omitempty"`
}

// Discovery is the URL list produced by a discovery provider.
type Discovery struct {
	URLs       []string       `json:"urls"`
	Method     string         `json:"method"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RunStats tallies one pipeline run.
type RunStats struct {
	Discovered int      `json:"discovered"`
	Fetched    int      `json:"fetched"`
	Extracted  int      `json:"extracted"`
	Relevant   int      `json:"relevant"`
	Validated  int      `json:"validated"`
	Uploaded   int      `json:"uploaded"`
	Errors     []string `json:"errors,omitempty"`
}

// RunRates derives ratios from RunStats. Zero denominators yield zero.
type RunRates struct {
	SuccessRate     float64 `json:"success_rate"`
	ExtractionRate  float64 `json:"extraction_rate"`
	ValidationRate  float64 `json:"validation_rate"`
	UploadRate      float64 `json:"upload_rate"`
	EndToEndSuccess float64 `json:"end_to_end_success"`
}

// Rates computes stage-over-stage ratios.
func (s RunStats) Rates() RunRates {
	return RunRates{
		SuccessRate:     ratio(s.Fetched, s.Discovered),
		ExtractionRate:  ratio(s.Extracted, s.Fetched),
		ValidationRate:  ratio(s.Validated, s.Extracted),
		UploadRate:      ratio(s.Uploaded, s.Validated),
		EndToEndSuccess: ratio(s.Uploaded, s.Discovered),
	}
}

func ratio(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// RunReport is what a pipeline run hands back to its caller.
type RunReport struct {
	RunID      string        `json:"run_id,omitempty"`
	Source     Source        `json:"source"`
	BatchID    string        `json:"batch_id,omitempty"`
	Items      int           `json:"items"`
	Reason     string        `json:"reason,omitempty"`
	Stats      RunStats      `json:"stats"`
	Rates      RunRates      `json:"rates"`
	Upload     *UploadReport `json:"upload,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}
