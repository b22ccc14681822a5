package extractor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Selector lists, most specific first.
var (
	contentSelectors = []string{
		`article[role="main"]`, `main article`, `[itemprop="articleBody"]`,
		`.article-content`, `.story-content`, `.post-content`, `.entry-content`,
		`.article-body`, `.story-body`, `.post-body`,
		`article`, `main`, `.content`, `#content`,
		`.article`, `.story`, `.post`,
		`.review-content`, `.review-body`, `.interview-content`,
		`.feature-content`, `.news-content`,
		`.transcript`, `.episode-transcript`, `.storytext`, `.story-text`,
		`[role="main"]`, `.main-content`, `#main-content`,
	}
	titleSelectors = []string{
		`h1[itemprop="headline"]`, `h1.headline`, `h1.title`,
		`h1.article-title`, `h1.story-title`, `h1.post-title`,
		`h1.entry-title`, `h1.review-title`,
		`h1`, `title`,
	}
	authorSelectors = []string{
		`[itemprop="author"]`, `[rel="author"]`, `.author-name`,
		`.byline`, `.byline-author`, `.article-author`, `.story-author`,
		`.post-author`, `.entry-author`, `.writer`, `.by-author`,
	}
	dateSelectors = []string{
		`time[datetime]`, `[itemprop="datePublished"]`, `[itemprop="dateCreated"]`,
		`.publish-date`, `.publication-date`, `.article-date`, `.story-date`,
		`.post-date`, `.entry-date`, `.date`, `.timestamp`,
	}
	genericContainers = []string{`article`, `main`, `.content`, `#content`}
)

const (
	minSelectorText     = 50
	minSemanticBody     = 200
	minGenericBody      = 500
	minReadabilityBody  = 300
	minFallbackBody     = 300
	fallbackNoise       = "nav, footer, aside, .ad, .advertisement, .sidebar"
	structuredLDElement = `script[type="application/ld+json"]`
)

var structuredTypes = map[string]bool{"Article": true, "NewsArticle": true, "Review": true}

// structuredStrategy reads JSON-LD article objects, then microdata.
type structuredStrategy struct{}

func (structuredStrategy) Name() string        { return MethodStructured }
func (structuredStrategy) Confidence() float64 { return 0.9 }

func (structuredStrategy) Attempt(page *Page) (Candidate, error) {
	var candidate Candidate
	page.Doc.Find(structuredLDElement).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return true
		}
		obj, ok := findArticleObject(payload)
		if !ok {
			return true
		}
		candidate = Candidate{
			Title:       firstString(obj, "headline", "name"),
			Body:        normalizeWhitespace(firstString(obj, "articleBody", "text")),
			Author:      ldAuthor(obj["author"]),
			PublishedAt: normalizeDate(firstString(obj, "datePublished", "dateCreated")),
		}
		return false
	})

	if candidate.Title == "" {
		candidate.Title = strings.TrimSpace(page.Doc.Find(`[itemprop="headline"]`).First().Text())
	}
	if candidate.Body == "" {
		candidate.Body = cleanText(page.Doc.Find(`[itemprop="articleBody"]`).First())
	}
	if candidate.Title == "" || candidate.Body == "" {
		return Candidate{}, errNoContent
	}
	return candidate, nil
}

// findArticleObject returns the first Article-like object in a JSON-LD
// payload, looking through top-level arrays and @graph lists.
func findArticleObject(payload any) (map[string]any, bool) {
	switch v := payload.(type) {
	case []any:
		for _, item := range v {
			if obj, ok := findArticleObject(item); ok {
				return obj, true
			}
		}
	case map[string]any:
		if isStructuredType(v["@type"]) {
			return v, true
		}
		if graph, ok := v["@graph"]; ok {
			return findArticleObject(graph)
		}
	}
	return nil, false
}

func isStructuredType(raw any) bool {
	switch t := raw.(type) {
	case string:
		return structuredTypes[t]
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && structuredTypes[s] {
				return true
			}
		}
	}
	return false
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func ldAuthor(raw any) string {
	switch a := raw.(type) {
	case string:
		return a
	case map[string]any:
		name, _ := a["name"].(string)
		return name
	case []any:
		if len(a) > 0 {
			return ldAuthor(a[0])
		}
	}
	return ""
}

// semanticStrategy walks the selector lists for each field.
type semanticStrategy struct{}

func (semanticStrategy) Name() string        { return MethodSemantic }
func (semanticStrategy) Confidence() float64 { return 0.8 }

func (semanticStrategy) Attempt(page *Page) (Candidate, error) {
	candidate := Candidate{
		Title:       firstText(page.Doc, titleSelectors),
		Body:        firstBlock(page.Doc, contentSelectors, minSelectorText),
		Author:      firstText(page.Doc, authorSelectors),
		PublishedAt: findDate(page.Doc),
	}
	if candidate.Title == "" || len(candidate.Body) <= minSemanticBody {
		return Candidate{}, errNoContent
	}
	return candidate, nil
}

// genericStrategy pairs the first h1 with the first large container.
type genericStrategy struct{}

func (genericStrategy) Name() string        { return MethodGeneric }
func (genericStrategy) Confidence() float64 { return 0.6 }

func (genericStrategy) Attempt(page *Page) (Candidate, error) {
	candidate := Candidate{
		Title: strings.TrimSpace(page.Doc.Find("h1").First().Text()),
		Body:  firstBlock(page.Doc, genericContainers, minGenericBody),
	}
	if candidate.Title == "" || candidate.Body == "" {
		return Candidate{}, errNoContent
	}
	return candidate, nil
}

// readabilityStrategy runs the Readability port over the raw page.
type readabilityStrategy struct{}

func (readabilityStrategy) Name() string        { return MethodReadability }
func (readabilityStrategy) Confidence() float64 { return 0.5 }

func (readabilityStrategy) Attempt(page *Page) (Candidate, error) {
	pageURL, err := url.Parse(page.URL)
	if err != nil {
		return Candidate{}, fmt.Errorf("parse page url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(page.Raw), pageURL)
	if err != nil {
		return Candidate{}, fmt.Errorf("readability: %w", err)
	}
	candidate := Candidate{
		Title: strings.TrimSpace(article.Title),
		Body:  normalizeWhitespace(article.TextContent),
	}
	if candidate.Title == "" || len(candidate.Body) <= minReadabilityBody {
		return Candidate{}, errNoContent
	}
	return candidate, nil
}

// fallbackStrategy takes all body text after dropping page chrome.
type fallbackStrategy struct{}

func (fallbackStrategy) Name() string        { return MethodFallback }
func (fallbackStrategy) Confidence() float64 { return 0.3 }

func (fallbackStrategy) Attempt(page *Page) (Candidate, error) {
	body := page.Doc.Find("body").First()
	if body.Length() == 0 {
		return Candidate{}, errNoContent
	}
	body = body.Clone()
	body.Find(fallbackNoise).Remove()

	title := strings.TrimSpace(page.Doc.Find("title").First().Text())
	if title == "" {
		if u, err := url.Parse(page.URL); err == nil {
			title = u.Path
		}
	}
	text := cleanText(body)
	if len(text) <= minFallbackBody {
		return Candidate{}, errNoContent
	}
	return Candidate{Title: title, Body: text}, nil
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, selector := range selectors {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = strings.TrimSpace(s.Text())
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// firstBlock returns the cleaned text of the first element, in selector
// order, whose text is longer than minLen.
func firstBlock(doc *goquery.Document, selectors []string, minLen int) string {
	for _, selector := range selectors {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if text := cleanText(s); len(text) > minLen {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func findDate(doc *goquery.Document) string {
	for _, selector := range dateSelectors {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			raw := s.AttrOr("datetime", s.AttrOr("content", strings.TrimSpace(s.Text())))
			found = normalizeDate(raw)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}
