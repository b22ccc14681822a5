// Package fetcher resolves article URLs to raw document text through an
// ordered cascade of retrieval strategies sharing one global throttle.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/metrics"
	"github.com/JakeFAU/music-content-pipeline/internal/policy/ratelimit"
)

// ErrAllStrategiesFailed is the aggregate error text of an exhausted cascade.
const ErrAllStrategiesFailed = "all strategies failed"

// MethodNone tags a result that no strategy produced.
const MethodNone = "none"

// MethodError tags a batch result whose fetch panicked.
const MethodError = "error"

// Response is the raw outcome of a single GET.
type Response struct {
	RequestURL string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Getter performs one unthrottled GET. Non-2xx statuses are returned as
// responses, not errors.
type Getter interface {
	Get(ctx context.Context, url string) (Response, error)
}

// Strategy is one way of retrieving a document.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, url string) content.FetchResult
}

// Config controls cascade acceptance and batch fan-out.
type Config struct {
	// MinContentChars is the length a result must exceed to be accepted.
	MinContentChars int
	// BatchConcurrency caps simultaneous fetches in BatchFetch.
	BatchConcurrency int
	// Mirrors overrides the mirror endpoints of the default strategies.
	Mirrors Mirrors
}

// Fetcher runs the strategy cascade.
type Fetcher struct {
	strategies []Strategy
	limiter    *ratelimit.Limiter
	cfg        Config
	logger     *zap.Logger
}

// New builds a Fetcher with the default strategy order: direct, archive.ph,
// web.archive.org, search cache.
func New(getter Getter, limiter *ratelimit.Limiter, cfg Config, logger *zap.Logger) *Fetcher {
	return NewWithStrategies(DefaultStrategies(getter, cfg.Mirrors), limiter, cfg, logger)
}

// NewWithStrategies builds a Fetcher over an explicit strategy list.
func NewWithStrategies(strategies []Strategy, limiter *ratelimit.Limiter, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = 500
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		strategies: strategies,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
	}
}

// Fetch returns the first strategy result that succeeds with enough text.
// It never returns an error; exhaustion yields a failed result.
func (f *Fetcher) Fetch(ctx context.Context, url string) content.FetchResult {
	attempts := make([]string, 0, len(f.strategies))
	for _, strategy := range f.strategies {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				attempts = append(attempts, fmt.Sprintf("%s: %v", strategy.Name(), err))
				break
			}
		}
		result := f.attempt(ctx, strategy, url)
		if result.Success && len(result.Content) > f.cfg.MinContentChars {
			metrics.ObserveFetchAttempt(url, strategy.Name(), "accepted", len(result.Content))
			f.logger.Debug("fetch accepted",
				zap.String("url", url),
				zap.String("strategy", strategy.Name()),
				zap.Int("chars", len(result.Content)),
			)
			return result
		}

		reason := result.Error
		outcome := "failed"
		if result.Success {
			outcome = "too_short"
			reason = fmt.Sprintf("content too short (%d chars)", len(result.Content))
		}
		metrics.ObserveFetchAttempt(url, strategy.Name(), outcome, len(result.Content))
		attempts = append(attempts, fmt.Sprintf("%s: %s", strategy.Name(), reason))
		f.logger.Debug("fetch strategy rejected",
			zap.String("url", url),
			zap.String("strategy", strategy.Name()),
			zap.String("reason", reason),
		)
	}

	return content.FetchResult{
		Success:  false,
		URL:      url,
		Method:   MethodNone,
		Error:    ErrAllStrategiesFailed,
		Metadata: map[string]any{"attempts": attempts},
	}
}

// BatchFetch fetches every URL under the configured concurrency bound and
// returns results in input order.
func (f *Fetcher) BatchFetch(ctx context.Context, urls []string) []content.FetchResult {
	results := make([]content.FetchResult, len(urls))
	var g errgroup.Group
	g.SetLimit(f.cfg.BatchConcurrency)
	for i, url := range urls {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					f.logger.Error("batch fetch panicked", zap.String("url", url), zap.Any("panic", rec))
					results[i] = content.FetchResult{
						URL:    url,
						Method: MethodError,
						Error:  fmt.Sprintf("fetch panicked: %v", rec),
					}
				}
			}()
			results[i] = f.Fetch(ctx, url)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (f *Fetcher) attempt(ctx context.Context, strategy Strategy, url string) (result content.FetchResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = failure(url, strategy.Name(), 0, fmt.Sprintf("strategy panicked: %v", rec))
		}
	}()
	return strategy.Attempt(ctx, url)
}

func failure(url, method string, status int, msg string) content.FetchResult {
	return content.FetchResult{
		Success:    false,
		URL:        url,
		StatusCode: status,
		Method:     method,
		Error:      msg,
	}
}
