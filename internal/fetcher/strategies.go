package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

// Strategy names, in cascade order.
const (
	MethodDirect      = "direct"
	MethodArchivePh   = "archive_ph"
	MethodWayback     = "archive_org"
	MethodSearchCache = "google_cache"
)

// Mirrors holds the endpoint prefixes of the mirror strategies.
type Mirrors struct {
	ArchivePh   string
	Wayback     string
	SearchCache string
}

// DefaultMirrors are the public mirror endpoints.
var DefaultMirrors = Mirrors{
	ArchivePh:   "https://archive.ph/newest/",
	Wayback:     "https://web.archive.org/web/",
	SearchCache: "https://webcache.googleusercontent.com/search?q=cache:",
}

// DefaultStrategies returns the fixed cascade order over getter.
func DefaultStrategies(getter Getter, mirrors Mirrors) []Strategy {
	if mirrors.ArchivePh == "" {
		mirrors.ArchivePh = DefaultMirrors.ArchivePh
	}
	if mirrors.Wayback == "" {
		mirrors.Wayback = DefaultMirrors.Wayback
	}
	if mirrors.SearchCache == "" {
		mirrors.SearchCache = DefaultMirrors.SearchCache
	}
	return []Strategy{
		&directStrategy{getter: getter},
		&archivePhStrategy{getter: getter, prefix: mirrors.ArchivePh},
		&waybackStrategy{getter: getter, prefix: mirrors.Wayback},
		&searchCacheStrategy{getter: getter, prefix: mirrors.SearchCache},
	}
}

type directStrategy struct {
	getter Getter
}

func (s *directStrategy) Name() string { return MethodDirect }

func (s *directStrategy) Attempt(ctx context.Context, target string) content.FetchResult {
	resp, err := s.getter.Get(ctx, target)
	if err != nil {
		return failure(target, MethodDirect, 0, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return failure(target, MethodDirect, resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	return content.FetchResult{
		Success:    true,
		Content:    string(resp.Body),
		StatusCode: resp.StatusCode,
		URL:        target,
		FinalURL:   resp.FinalURL,
		Method:     MethodDirect,
		Metadata:   map[string]any{"response_headers": flattenHeaders(resp.Headers)},
	}
}

// archivePhStrategy asks archive.ph for its newest snapshot. A hit redirects
// to a concrete snapshot URL; staying on the request URL means no snapshot.
type archivePhStrategy struct {
	getter Getter
	prefix string
}

func (s *archivePhStrategy) Name() string { return MethodArchivePh }

func (s *archivePhStrategy) Attempt(ctx context.Context, target string) content.FetchResult {
	mirrorURL := s.prefix + target
	resp, err := s.getter.Get(ctx, mirrorURL)
	if err != nil {
		return failure(target, MethodArchivePh, 0, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return failure(target, MethodArchivePh, resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	if !sameMirrorHost(resp.FinalURL, s.prefix) || resp.FinalURL == mirrorURL {
		return failure(target, MethodArchivePh, resp.StatusCode, "no archived snapshot")
	}
	return content.FetchResult{
		Success:    true,
		Content:    string(resp.Body),
		StatusCode: resp.StatusCode,
		URL:        target,
		FinalURL:   resp.FinalURL,
		Method:     MethodArchivePh,
		Metadata:   map[string]any{"archive_url": resp.FinalURL},
	}
}

type waybackStrategy struct {
	getter Getter
	prefix string
}

func (s *waybackStrategy) Name() string { return MethodWayback }

func (s *waybackStrategy) Attempt(ctx context.Context, target string) content.FetchResult {
	mirrorURL := s.prefix + target
	resp, err := s.getter.Get(ctx, mirrorURL)
	if err != nil {
		return failure(target, MethodWayback, 0, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return failure(target, MethodWayback, resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	cleaned, err := removeElements(resp.Body, "#wm-ipp-base, .wb-autocomplete-suggestions", nil)
	if err != nil {
		return failure(target, MethodWayback, resp.StatusCode, err.Error())
	}
	return content.FetchResult{
		Success:    true,
		Content:    cleaned,
		StatusCode: resp.StatusCode,
		URL:        target,
		FinalURL:   resp.FinalURL,
		Method:     MethodWayback,
		Metadata:   map[string]any{"archive_url": mirrorURL},
	}
}

type searchCacheStrategy struct {
	getter Getter
	prefix string
}

func (s *searchCacheStrategy) Name() string { return MethodSearchCache }

func (s *searchCacheStrategy) Attempt(ctx context.Context, target string) content.FetchResult {
	mirrorURL := s.prefix + url.QueryEscape(target)
	resp, err := s.getter.Get(ctx, mirrorURL)
	if err != nil {
		return failure(target, MethodSearchCache, 0, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return failure(target, MethodSearchCache, resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	cacheBanner := func(sel *goquery.Selection) bool {
		return strings.Contains(sel.Text(), "cache:")
	}
	cleaned, err := removeElements(resp.Body, "style", cacheBanner)
	if err != nil {
		return failure(target, MethodSearchCache, resp.StatusCode, err.Error())
	}
	return content.FetchResult{
		Success:    true,
		Content:    cleaned,
		StatusCode: resp.StatusCode,
		URL:        target,
		FinalURL:   resp.FinalURL,
		Method:     MethodSearchCache,
		Metadata:   map[string]any{"cache_url": mirrorURL},
	}
}

// removeElements drops nodes matching selector (and match, when set) and
// re-renders the document.
func removeElements(body []byte, selector string, match func(*goquery.Selection) bool) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse mirror page: %w", err)
	}
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if match == nil || match(sel) {
			sel.Remove()
		}
	})
	html, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render mirror page: %w", err)
	}
	return html, nil
}

func sameMirrorHost(finalURL, prefix string) bool {
	final, err := url.Parse(finalURL)
	if err != nil {
		return false
	}
	mirror, err := url.Parse(prefix)
	if err != nil {
		return false
	}
	return final.Host != "" && strings.EqualFold(final.Host, mirror.Host)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
