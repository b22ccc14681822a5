// Package pipeline runs one source through discovery, fetching, extraction,
// validation, the safety gate and persistence.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/metrics"
	"github.com/JakeFAU/music-content-pipeline/internal/validator"
)

const (
	// DefaultConcurrency caps in-flight URL tasks.
	DefaultConcurrency = 5
	// DefaultMaxArticles caps URLs processed per run.
	DefaultMaxArticles = 1000
	// EventBatchPersisted names the notification sent after an upload.
	EventBatchPersisted = "batch.persisted"

	// ReasonNoURLs is reported when discovery comes back empty.
	ReasonNoURLs = "no URLs discovered"
)

// URL outcome stages reported to metrics.
const (
	stageFetchFailed   = "fetch_failed"
	stageExtractFailed = "extract_failed"
	stageEnhanceFailed = "enhance_failed"
	stageIrrelevant    = "irrelevant"
	stageInvalid       = "invalid"
	stageAccepted      = "accepted"
	stagePanic         = "panic"
)

// Fetcher resolves a URL to raw document text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) content.FetchResult
}

// Extractor parses raw text into a record.
type Extractor interface {
	Extract(raw, pageURL, sourceName string) content.ExtractionResult
}

// Validator scores a single record.
type Validator interface {
	Validate(r *content.Record) content.ValidationResult
}

// Gate is the batch admission check before persistence.
type Gate interface {
	PreProcessingCheck(batch *content.Batch) (bool, []string)
}

// Uploader persists a batch.
type Uploader interface {
	UploadBatch(ctx context.Context, batch *content.Batch) content.UploadReport
}

// Config tunes a Scraper.
type Config struct {
	Concurrency        int
	MaxArticles        int
	ValidationRequired bool
	RelevanceMinHits   int
	DisplayNames       map[content.Source]string
}

// Deps are the collaborators a Scraper drives. Publisher and Ledger are
// optional.
type Deps struct {
	Discoverer content.Discoverer
	Fetcher    Fetcher
	Extractor  Extractor
	Enhancer   content.Enhancer
	Validator  Validator
	Gate       Gate
	Uploader   Uploader
	Publisher  content.Publisher
	Ledger     content.Ledger
	IDs        content.IDGenerator
	Clock      content.Clock
}

// PersistedEvent is the payload published after a batch is uploaded.
type PersistedEvent struct {
	BatchID     string         `json:"batch_id"`
	Source      content.Source `json:"source"`
	ManifestKey string         `json:"manifest_key"`
	Discovered  int            `json:"discovered"`
	Scraped     int            `json:"scraped"`
	Uploaded    int            `json:"uploaded"`
	Failed      int            `json:"failed"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Scraper orchestrates runs.
type Scraper struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and applies config defaults.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Scraper, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Validator == nil:
		return nil, fmt.Errorf("validator is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("safety gate is required")
	case deps.Uploader == nil:
		return nil, fmt.Errorf("uploader is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if deps.Enhancer == nil {
		deps.Enhancer = DefaultEnhancer{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = DefaultMaxArticles
	}
	if cfg.RelevanceMinHits <= 0 {
		cfg.RelevanceMinHits = validator.MinRelevanceHits
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run executes one run. It always returns a batch (possibly empty) and a
// report; stage failures end up in the report, never as errors.
//
// Cancelling ctx stops new URLs from being scheduled. URLs already in
// flight, and persistence of what was collected, run to completion.
func (s *Scraper) Run(ctx context.Context, req content.RunRequest) (*content.Batch, content.RunReport) {
	started := s.deps.Clock.Now()
	rc := NewRunContext()
	logger := s.logger.With(zap.String("source", string(req.Source)), zap.String("run_id", req.RunID))
	logger.Info("run started")

	batch, reason, upload := s.run(ctx, req, rc, logger)

	stats := rc.Stats()
	report := content.RunReport{
		RunID:      req.RunID,
		Source:     req.Source,
		BatchID:    batch.ID,
		Items:      len(batch.Items),
		Reason:     reason,
		Stats:      stats,
		Rates:      stats.Rates(),
		Upload:     upload,
		StartedAt:  started,
		FinishedAt: s.deps.Clock.Now(),
	}
	status := "persisted"
	if reason != "" {
		status = "empty"
	}
	metrics.ObserveRun(string(req.Source), status)
	logger.Info("run finished",
		zap.Int("discovered", stats.Discovered),
		zap.Int("validated", stats.Validated),
		zap.Int("uploaded", stats.Uploaded),
		zap.String("reason", reason),
	)
	return batch, report
}

func (s *Scraper) run(
	ctx context.Context,
	req content.RunRequest,
	rc *RunContext,
	logger *zap.Logger,
) (*content.Batch, string, *content.UploadReport) {
	empty := func(reason string) (*content.Batch, string, *content.UploadReport) {
		return content.NewBatch("", req.Source, nil, rc.Stats().Discovered, s.deps.Clock.Now()), reason, nil
	}

	urls, err := s.discover(ctx, req)
	if err != nil {
		rc.AddError(err.Error())
		logger.Warn("discovery failed", zap.Error(err))
		return empty(fmt.Sprintf("discovery failed: %v", err))
	}
	rc.SetDiscovered(len(urls))
	if len(urls) == 0 {
		logger.Warn("no URLs discovered")
		return empty(ReasonNoURLs)
	}

	limit := s.cfg.MaxArticles
	if req.MaxArticles > 0 && req.MaxArticles < limit {
		limit = req.MaxArticles
	}
	if len(urls) > limit {
		urls = urls[:limit]
	}

	collected := s.collect(ctx, req.Source, urls, rc, logger)
	validated := s.validate(req.Source, collected, rc, logger)
	rc.SetValidated(len(validated))

	batchID, err := s.deps.IDs.NewID()
	if err != nil {
		rc.AddError(fmt.Sprintf("generate batch id: %v", err))
		return empty(fmt.Sprintf("generate batch id: %v", err))
	}
	batch := content.NewBatch(batchID, req.Source, validated, rc.Stats().Discovered, s.deps.Clock.Now())

	if safe, errs := s.deps.Gate.PreProcessingCheck(batch); !safe {
		rc.AddError(errs...)
		logger.Warn("batch failed safety check", zap.String("batch_id", batchID), zap.Strings("reasons", errs))
		return content.NewBatch(batchID, req.Source, nil, batch.TotalDiscovered, batch.CreatedAt),
			"safety check failed: " + strings.Join(errs, "; "), nil
	}

	persistCtx := context.WithoutCancel(ctx)
	upload := s.deps.Uploader.UploadBatch(persistCtx, batch)
	rc.SetUploaded(upload.Successful)
	if upload.Successful == 0 {
		rc.AddError("upload failed for all items")
		logger.Error("no records were uploaded", zap.String("batch_id", batchID))
	} else {
		rc.AddError(upload.Errors...)
		s.afterPersist(persistCtx, batch, upload, logger)
	}
	return batch, "", &upload
}

func (s *Scraper) discover(ctx context.Context, req content.RunRequest) ([]string, error) {
	if len(req.URLs) > 0 {
		return dedupe(req.URLs), nil
	}
	if s.deps.Discoverer == nil {
		return nil, fmt.Errorf("no discoverer configured for %s", req.Source)
	}
	discovery, err := s.deps.Discoverer.Discover(ctx, req.Source)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", req.Source, err)
	}
	return dedupe(discovery.URLs), nil
}

// collect runs fetch, extract, enhance and the relevance filter for every
// URL under the concurrency cap. Order reflects completion, not input.
func (s *Scraper) collect(
	ctx context.Context,
	source content.Source,
	urls []string,
	rc *RunContext,
	logger *zap.Logger,
) []*content.Record {
	var (
		mu      sync.Mutex
		records []*content.Record
		g       errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)
	taskCtx := context.WithoutCancel(ctx)
	sourceName := s.displayName(source)

	for i, url := range urls {
		if ctx.Err() != nil {
			skipped := len(urls) - i
			rc.AddError(fmt.Sprintf("run stopped: %d URLs not processed", skipped))
			logger.Warn("run deadline reached", zap.Int("skipped", skipped))
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					rc.AddError(fmt.Sprintf("URL %s: panic: %v", url, r))
					metrics.ObserveURL(string(source), stagePanic)
					logger.Error("url task panicked", zap.String("url", url), zap.Any("panic", r))
				}
			}()
			if rec := s.processURL(taskCtx, source, sourceName, url, rc, logger); rec != nil {
				mu.Lock()
				records = append(records, rec)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return records
}

func (s *Scraper) processURL(
	ctx context.Context,
	source content.Source,
	sourceName string,
	url string,
	rc *RunContext,
	logger *zap.Logger,
) *content.Record {
	fetched := s.deps.Fetcher.Fetch(ctx, url)
	if !fetched.Success || fetched.Content == "" {
		rc.AddError(fmt.Sprintf("URL %s: fetch failed: %s", url, fetched.Error))
		metrics.ObserveURL(string(source), stageFetchFailed)
		logger.Warn("fetch failed", zap.String("url", url), zap.String("error", fetched.Error))
		return nil
	}
	rc.IncFetched()

	extracted := s.deps.Extractor.Extract(fetched.Content, url, sourceName)
	if !extracted.Success || extracted.Record == nil {
		rc.AddError(fmt.Sprintf("URL %s: extraction failed: %s", url, strings.Join(extracted.Errors, "; ")))
		metrics.ObserveURL(string(source), stageExtractFailed)
		logger.Warn("extraction failed", zap.String("url", url), zap.Strings("errors", extracted.Errors))
		return nil
	}
	rc.IncExtracted()

	record, err := s.deps.Enhancer.Enhance(ctx, extracted.Record, fetched, extracted)
	if err != nil || record == nil {
		rc.AddError(fmt.Sprintf("URL %s: enhance failed: %v", url, err))
		metrics.ObserveURL(string(source), stageEnhanceFailed)
		logger.Warn("enhance failed", zap.String("url", url), zap.Error(err))
		return nil
	}

	if validator.CountMusicKeywords(record.Title+" "+record.Content()) < s.cfg.RelevanceMinHits {
		metrics.ObserveURL(string(source), stageIrrelevant)
		logger.Debug("content not music-relevant", zap.String("url", url))
		return nil
	}
	rc.IncRelevant()
	return record
}

func (s *Scraper) validate(
	source content.Source,
	records []*content.Record,
	rc *RunContext,
	logger *zap.Logger,
) []*content.Record {
	if !s.cfg.ValidationRequired {
		for range records {
			metrics.ObserveURL(string(source), stageAccepted)
		}
		return records
	}
	var out []*content.Record
	for _, rec := range records {
		result := s.deps.Validator.Validate(rec)
		if !result.Passed {
			rc.AddError(result.Errors...)
			metrics.ObserveURL(string(source), stageInvalid)
			logger.Warn("validation failed",
				zap.String("url", rec.URL),
				zap.Float64("score", result.Score),
				zap.Strings("errors", result.Errors),
			)
			continue
		}
		rec.ValidationPassed = true
		rec.ConfidenceScore = result.Score
		metrics.ObserveURL(string(source), stageAccepted)
		out = append(out, rec)
	}
	return out
}

// afterPersist publishes the batch notification and writes the ledger.
// Failures are logged only.
func (s *Scraper) afterPersist(ctx context.Context, batch *content.Batch, upload content.UploadReport, logger *zap.Logger) {
	if s.deps.Publisher != nil {
		event := PersistedEvent{
			BatchID:     batch.ID,
			Source:      batch.Source,
			ManifestKey: upload.ManifestKey,
			Discovered:  batch.TotalDiscovered,
			Scraped:     batch.TotalScraped(),
			Uploaded:    upload.Successful,
			Failed:      upload.Failed,
			CreatedAt:   batch.CreatedAt,
		}
		if _, err := s.deps.Publisher.Publish(ctx, EventBatchPersisted, event); err != nil {
			logger.Error("publish batch notification failed", zap.String("batch_id", batch.ID), zap.Error(err))
		}
	}

	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.RecordBatch(ctx, ledgerEntry(batch, upload)); err != nil {
			logger.Error("ledger write failed", zap.String("batch_id", batch.ID), zap.Error(err))
		}
	}
}

func ledgerEntry(batch *content.Batch, upload content.UploadReport) content.LedgerEntry {
	uploaded := make(map[string]struct{}, len(upload.Keys))
	for _, key := range upload.Keys {
		uploaded[key] = struct{}{}
	}
	entry := content.LedgerEntry{
		BatchID:     batch.ID,
		Source:      batch.Source,
		ManifestKey: upload.ManifestKey,
		Discovered:  batch.TotalDiscovered,
		Scraped:     batch.TotalScraped(),
		Uploaded:    upload.Successful,
		Failed:      upload.Failed,
		CreatedAt:   batch.CreatedAt,
	}
	for _, rec := range batch.Items {
		if _, ok := uploaded[rec.StorageKey()]; !ok {
			continue
		}
		entry.Records = append(entry.Records, content.LedgerRecord{
			RecordID:    rec.ID,
			URL:         rec.URL,
			Key:         rec.StorageKey(),
			ContentHash: rec.ContentHash(),
			Kind:        rec.Kind,
			Confidence:  rec.ConfidenceScore,
		})
	}
	return entry
}

func (s *Scraper) displayName(source content.Source) string {
	if name, ok := s.cfg.DisplayNames[source]; ok && name != "" {
		return name
	}
	return source.DisplayName()
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
