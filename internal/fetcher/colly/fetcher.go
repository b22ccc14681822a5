// Package collyfetcher implements the raw fetcher.Getter using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/music-content-pipeline/internal/fetcher"
)

// DefaultUserAgent mimics a desktop browser; several mirrors refuse bot agents.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config controls collector behavior and connection caps.
type Config struct {
	UserAgent             string
	Timeout               time.Duration
	ConnectTimeout        time.Duration
	MaxConnections        int
	MaxConnectionsPerHost int
}

// Getter performs single unthrottled GETs with a Colly collector.
type Getter struct {
	cfg           Config
	baseCollector *colly.Collector
	slots         *semaphore.Weighted
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Getter. Total in-flight requests are capped by MaxConnections
// and per-host connections by MaxConnectionsPerHost.
func New(cfg Config) *Getter {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.MaxConnectionsPerHost <= 0 {
		cfg.MaxConnectionsPerHost = 5
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport(cfg))
	c.SetRequestTimeout(cfg.Timeout)

	return &Getter{
		cfg:           cfg,
		baseCollector: c,
		slots:         semaphore.NewWeighted(int64(cfg.MaxConnections)),
	}
}

// Get fetches url. Non-2xx responses are returned with their status code.
func (g *Getter) Get(ctx context.Context, url string) (fetcher.Response, error) {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return fetcher.Response{}, fmt.Errorf("acquire connection slot: %w", err)
	}
	defer g.slots.Release(1)

	var (
		result   fetcher.Response
		fetchErr error
	)
	collector := g.buildCollector()
	g.configureCollectorHooks(collector, url, time.Now(), &result, &fetchErr)
	if err := g.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return fetcher.Response{}, err
	}
	return result, nil
}

func (g *Getter) buildCollector() *colly.Collector {
	collector := g.baseCollector.Clone()
	collector.UserAgent = g.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	return collector
}

func (g *Getter) configureCollectorHooks(
	hooks collectorHooks,
	requestURL string,
	start time.Time,
	result *fetcher.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		setBrowserHeaders(r.Headers)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = fetcher.Response{
			RequestURL: requestURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (g *Getter) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func setBrowserHeaders(h *http.Header) {
	if h == nil {
		return
	}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("DNT", "1")
	h.Set("Upgrade-Insecure-Requests", "1")
}

func newHTTPTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          cfg.MaxConnections,
		MaxIdleConnsPerHost:   cfg.MaxConnectionsPerHost,
		MaxConnsPerHost:       cfg.MaxConnectionsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}
}
