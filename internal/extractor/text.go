package extractor

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"golang.org/x/net/html"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

const noiseSelector = "script, style, nav, footer, aside, .ad, .advertisement, .social-share"

var whitespaceRun = regexp.MustCompile(`\s+`)

// cleanText returns the visible text of sel with page chrome removed.
// The document itself is left untouched.
func cleanText(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	clone := sel.Clone()
	clone.Find(noiseSelector).Remove()

	var parts []string
	for _, n := range clone.Nodes {
		parts = collectText(n, parts)
	}
	return normalizeWhitespace(strings.Join(parts, " "))
}

func collectText(n *html.Node, parts []string) []string {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return parts
	}
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			parts = append(parts, text)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		parts = collectText(c, parts)
	}
	return parts
}

// normalizeWhitespace collapses every whitespace run, line breaks included,
// to a single space.
func normalizeWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// normalizeDate parses loosely formatted dates into RFC 3339, reading zoneless
// input as UTC. Unparseable input yields "".
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

type kindPatterns struct {
	kind     content.ContentKind
	patterns []string
}

var kindRules = []kindPatterns{
	{content.KindReview, []string{"review", "album review", "music review", "rating"}},
	{content.KindInterview, []string{"interview", "q&a", "talks about", "conversation with"}},
	{content.KindNews, []string{"news", "breaking", "announces", "released"}},
	{content.KindPodcastTranscript, []string{"transcript", "fresh air", "npr"}},
}

const kindBodyWindow = 500

// InferKind classifies content by keyword hits in the title, URL and the
// opening of the body. Rules are checked in order; the default is article.
func InferKind(title, pageURL, body string) content.ContentKind {
	title = strings.ToLower(title)
	pageURL = strings.ToLower(pageURL)
	body = strings.ToLower(body)
	if len(body) > kindBodyWindow {
		body = body[:kindBodyWindow]
	}
	for _, rule := range kindRules {
		for _, pattern := range rule.patterns {
			if strings.Contains(title, pattern) || strings.Contains(pageURL, pattern) || strings.Contains(body, pattern) {
				return rule.kind
			}
		}
	}
	return content.KindArticle
}
