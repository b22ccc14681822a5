package uploader

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

const (
	maxArtistLen     = 50
	maxTitleFragment = 30
	bodyScanRunes    = 500
	maxArtistWords   = 3
	unknownArtist    = "unknown_artist"
)

// Title patterns, tried in order against the record title.
var titleArtistPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^([^:]+?)(?:\s*[-:]\s*)`),
	regexp.MustCompile(`["“]([^"”]+)["”]`),
	regexp.MustCompile(`(?i)(?:review|interview):\s*([^,\n]+)`),
	regexp.MustCompile(`(?i)(?:review of|interview with|with|featuring)\s+([^,\n]+)`),
}

// Body patterns, matched against the lowercased opening of the body.
var bodyArtistPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([a-z\s]+)'s\s+(?:new|latest|upcoming)\s+(?:album|single|ep)`),
	regexp.MustCompile(`([a-z\s]+)\s+(?:releases|announces|drops)\s+`),
	regexp.MustCompile(`(?:musician|artist|singer)\s+([a-z\s]+)\s+`),
}

var (
	titlePrefix    = regexp.MustCompile(`(?i)^(?:review|interview|new music):\s*`)
	nonArtistChars = regexp.MustCompile(`[^a-z0-9_\s]`)
	nonTitleChars  = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

type category struct {
	name     string
	keywords []string
}

// Ordered; the first category with a keyword hit wins.
var thematicCategories = []category{
	{"review", []string{"review", "album review", "music review", "rating"}},
	{"interview", []string{"interview", "q&a", "talks about", "conversation with"}},
	{"news", []string{"news", "breaking", "announces", "released", "signs"}},
	{"feature", []string{"feature", "profile", "story", "deep dive"}},
	{"analysis", []string{"analysis", "breakdown", "explained", "history of"}},
	{"podcast", []string{"podcast", "episode", "fresh air", "sound opinions"}},
}

// ExtractArtist derives the artist folder for a record. Title patterns are
// tried first, then phrasing in the opening of the body, then
// various_{source}.
func ExtractArtist(rec *content.Record) string {
	title := titlePrefix.ReplaceAllString(strings.TrimSpace(rec.Title), "")
	for _, pattern := range titleArtistPatterns {
		if m := pattern.FindStringSubmatch(title); m != nil {
			if artist := strings.TrimSpace(m[1]); artist != "" {
				return SanitizeArtist(artist)
			}
		}
	}

	opening := strings.ToLower(leadingRunes(rec.Content(), bodyScanRunes))
	for _, pattern := range bodyArtistPatterns {
		m := pattern.FindStringSubmatch(opening)
		if m == nil {
			continue
		}
		artist := strings.TrimSpace(m[1])
		if n := len(strings.Fields(artist)); n > 0 && n <= maxArtistWords {
			return SanitizeArtist(artist)
		}
	}

	source := rec.SourceName()
	if source == "" {
		source = "unknown"
	}
	return SanitizeArtist("various_" + strings.ToLower(source))
}

// SanitizeArtist lowercases name, drops punctuation, joins words with
// underscores and caps the result at 50 characters. It never returns "".
func SanitizeArtist(name string) string {
	s := nonArtistChars.ReplaceAllString(strings.ToLower(name), "")
	s = whitespaceRun.ReplaceAllString(strings.TrimSpace(s), "_")
	if len(s) > maxArtistLen {
		s = s[:maxArtistLen]
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return unknownArtist
	}
	return s
}

// Categorize picks the thematic folder from the title and body opening,
// falling back to the record kind.
func Categorize(rec *content.Record) string {
	text := strings.ToLower(rec.Title + " " + leadingRunes(rec.Content(), bodyScanRunes))
	for _, c := range thematicCategories {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.name
			}
		}
	}
	return string(rec.Kind)
}

// Filename renders {source}_{yyyymmdd_hhmm}_{hash8}_{title}.json.
func Filename(rec *content.Record) string {
	hash := rec.ContentHash()
	if len(hash) >= 8 {
		hash = hash[:8]
	} else if hash == "" {
		hash = "unknown"
	}

	title := nonTitleChars.ReplaceAllString(rec.Title, "")
	title = whitespaceRun.ReplaceAllString(strings.TrimSpace(title), "_")
	if len(title) > maxTitleFragment {
		title = title[:maxTitleFragment]
	}

	source := "unknown"
	if name := rec.SourceName(); name != "" {
		source = strings.ReplaceAll(strings.ToLower(name), " ", "_")
	}
	return fmt.Sprintf("%s_%s_%s_%s.json", source, rec.ScrapedAt.UTC().Format("20060102_1504"), hash, title)
}

// BaseKey joins the placement labels under the record prefix.
func BaseKey(artist, thematic, filename string) string {
	return strings.Join([]string{content.RecordKeyPrefix, artist, thematic, filename}, "/")
}

func leadingRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}
