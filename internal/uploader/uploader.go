// Package uploader files validated records and batch manifests into the
// object store under an artist/thematic layout without overwriting anything.
package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/metrics"
)

const (
	// DefaultVersion is written into s3_metadata.uploader_version.
	DefaultVersion = "music-content-pipeline/1.0"
	// OrganizationPattern documents the record layout in manifests.
	OrganizationPattern = "[artist]/[thematic]/[filename]"
	// MaxNumberedSuffix is the last _NNN suffix tried before a timestamp.
	MaxNumberedSuffix = 99

	jsonContentType = "application/json"
	manifestType    = "scraped-content-batch"
)

// Config describes where and how artifacts are written.
type Config struct {
	Bucket           string
	Version          string
	ProcessorVersion string
	Retry            *RetryPolicy
}

// Statistics are cumulative counters across every UploadBatch call.
type Statistics struct {
	TotalProcessed      int     `json:"total_processed"`
	SuccessfulUploads   int     `json:"successful_uploads"`
	FailedUploads       int     `json:"failed_uploads"`
	SuccessRate         float64 `json:"success_rate"`
	Collisions          int     `json:"collisions"`
	ManifestsCreated    int     `json:"manifests_created"`
	ManifestFailures    int     `json:"manifest_failures"`
	Bucket              string  `json:"bucket"`
	OrganizationPattern string  `json:"organization_pattern"`
}

// Uploader writes records and manifests to an ObjectStore.
type Uploader struct {
	store  content.ObjectStore
	hasher content.Hasher
	clock  content.Clock
	retry  *RetryPolicy
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	stats Statistics
}

// New builds an Uploader.
func New(store content.ObjectStore, hasher content.Hasher, clock content.Clock, cfg Config, logger *zap.Logger) (*Uploader, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.ProcessorVersion == "" {
		cfg.ProcessorVersion = cfg.Version
	}
	retry := cfg.Retry
	if retry == nil {
		retry = NewRetryPolicy(0, 0, 0)
	}
	return &Uploader{
		store:  store,
		hasher: hasher,
		clock:  clock,
		retry:  retry,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// UploadBatch writes every record, then the manifest. Item failures are
// counted and do not stop sibling writes; the manifest is always attempted.
func (u *Uploader) UploadBatch(ctx context.Context, batch *content.Batch) content.UploadReport {
	report := content.UploadReport{
		Keys:   []string{},
		Errors: []string{},
	}
	if batch == nil {
		report.Errors = append(report.Errors, "batch is nil")
		return report
	}
	report.BatchID = batch.ID
	report.TotalItems = len(batch.Items)

	for i, rec := range batch.Items {
		key, err := u.uploadRecord(ctx, rec)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("item %d: %v", i+1, err))
			kind := "unknown"
			if rec != nil {
				kind = string(rec.Kind)
			}
			metrics.ObserveUpload(kind, false)
			u.logger.Error("record upload failed",
				zap.String("batch_id", batch.ID),
				zap.Int("item", i+1),
				zap.Error(err),
			)
			continue
		}
		report.Successful++
		report.Keys = append(report.Keys, key)
		metrics.ObserveUpload(string(rec.Kind), true)
		u.logger.Debug("record uploaded", zap.String("key", key))
	}

	manifestKey, err := u.uploadManifest(ctx, batch, report)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("manifest upload failed: %v", err))
		u.logger.Error("manifest upload failed", zap.String("batch_id", batch.ID), zap.Error(err))
	} else {
		report.ManifestKey = manifestKey
	}

	u.record(report)
	u.logger.Info("batch upload completed",
		zap.String("batch_id", batch.ID),
		zap.Int("successful", report.Successful),
		zap.Int("total", report.TotalItems),
	)
	return report
}

func (u *Uploader) uploadRecord(ctx context.Context, rec *content.Record) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("record is nil")
	}
	artist := ExtractArtist(rec)
	thematic := Categorize(rec)
	key, err := u.uniqueKey(ctx, BaseKey(artist, thematic, Filename(rec)))
	if err != nil {
		return "", err
	}

	now := u.clock.Now().UTC()
	doc := rec.Document()
	doc.S3Key = key
	doc.S3Metadata = &content.PlacementMetadata{
		ArtistExtracted:  artist,
		ThematicCategory: thematic,
		UploadTimestamp:  now.Format(time.RFC3339Nano),
		UploaderVersion:  u.cfg.Version,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	checksum, err := u.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash record %s: %w", rec.ID, err)
	}
	source := rec.SourceName()
	if source == "" {
		source = "unknown"
	}
	meta := map[string]string{
		"artist":       artist,
		"category":     thematic,
		"source":       source,
		"content-type": string(rec.Kind),
		"upload-date":  now.Format("2006-01-02"),
		"sha256":       checksum,
	}
	if err := u.put(ctx, key, data, meta); err != nil {
		return "", err
	}
	rec.Place(key)
	return key, nil
}

func (u *Uploader) uploadManifest(ctx context.Context, batch *content.Batch, report content.UploadReport) (string, error) {
	manifest := batch.Manifest(u.cfg.ProcessorVersion)
	manifest.UploadResults = &content.UploadResults{
		SuccessfulUploads: report.Successful,
		FailedUploads:     report.Failed,
		UploadedKeys:      report.Keys,
		UploadErrors:      report.Errors,
	}
	manifest.Organization = &content.Organization{
		Bucket:              u.cfg.Bucket,
		BasePrefix:          content.RecordKeyPrefix + "/",
		OrganizationPattern: OrganizationPattern,
		PreventOverwrites:   true,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	meta := map[string]string{
		"batch-id":      batch.ID,
		"source":        string(batch.Source),
		"upload-date":   u.clock.Now().UTC().Format("2006-01-02"),
		"manifest-type": manifestType,
	}
	key := batch.ManifestKey()
	if err := u.put(ctx, key, data, meta); err != nil {
		metrics.ObserveUpload("manifest", false)
		return "", err
	}
	metrics.ObserveUpload("manifest", true)
	return key, nil
}

func (u *Uploader) put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	err := u.retry.Do(ctx, func(ctx context.Context) error {
		_, err := u.store.PutObject(ctx, key, jsonContentType, data, meta)
		return err
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// uniqueKey returns base if it is free, else base_001.._099, else a
// second-resolution timestamp variant, counting up from base_{ts}_1 when
// that is taken too. The check and the later write are not atomic across
// processes.
func (u *Uploader) uniqueKey(ctx context.Context, base string) (string, error) {
	exists, err := u.store.HeadObject(ctx, base)
	if err != nil {
		return "", fmt.Errorf("head %s: %w", base, err)
	}
	if !exists {
		return base, nil
	}

	u.mu.Lock()
	u.stats.Collisions++
	u.mu.Unlock()

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 1; n <= MaxNumberedSuffix; n++ {
		candidate := fmt.Sprintf("%s_%03d%s", stem, n, ext)
		exists, err := u.store.HeadObject(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("head %s: %w", candidate, err)
		}
		if !exists {
			u.logger.Info("key exists, using suffixed key", zap.String("key", candidate))
			return candidate, nil
		}
	}

	ts := u.clock.Now().UTC().Format("20060102_150405")
	candidate := fmt.Sprintf("%s_%s%s", stem, ts, ext)
	for n := 1; ; n++ {
		exists, err := u.store.HeadObject(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("head %s: %w", candidate, err)
		}
		if !exists {
			u.logger.Info("numbered keys exhausted, using timestamped key", zap.String("key", candidate))
			return candidate, nil
		}
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("unique key for %s: %w", base, err)
		}
		candidate = fmt.Sprintf("%s_%s_%d%s", stem, ts, n, ext)
	}
}

func (u *Uploader) record(report content.UploadReport) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stats.TotalProcessed += report.TotalItems
	u.stats.SuccessfulUploads += report.Successful
	u.stats.FailedUploads += report.Failed
	if report.ManifestKey != "" {
		u.stats.ManifestsCreated++
	} else {
		u.stats.ManifestFailures++
	}
}

// Statistics returns a snapshot of the cumulative counters.
func (u *Uploader) Statistics() Statistics {
	u.mu.Lock()
	defer u.mu.Unlock()
	stats := u.stats
	stats.Bucket = u.cfg.Bucket
	stats.OrganizationPattern = OrganizationPattern
	denom := stats.TotalProcessed
	if denom < 1 {
		denom = 1
	}
	stats.SuccessRate = float64(stats.SuccessfulUploads) / float64(denom)
	return stats
}

// ListExisting lists record keys, optionally narrowed to an artist and,
// within it, a thematic category.
func (u *Uploader) ListExisting(ctx context.Context, artist, thematic string) ([]string, error) {
	prefix := content.RecordKeyPrefix + "/"
	if artist != "" {
		prefix += SanitizeArtist(artist) + "/"
		if thematic != "" {
			prefix += thematic + "/"
		}
	}
	keys, err := u.store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}
