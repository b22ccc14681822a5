package content

import (
	"regexp"
	"strings"
)

// Source tags a publication the pipeline knows how to scrape.
type Source string

// Publication tags used in configuration, manifests and queue messages.
const (
	SourceBillboard     Source = "billboard"
	SourceRollingStone  Source = "rolling_stone"
	SourcePitchfork     Source = "pitchfork"
	SourceNPR           Source = "npr"
	SourceSpotify       Source = "spotify"
	SourceApplePodcasts Source = "apple_podcasts"
	SourceSubstack      Source = "substack"
)

var displayNames = map[Source]string{
	SourceBillboard:     "Billboard",
	SourceRollingStone:  "Rolling Stone",
	SourcePitchfork:     "Pitchfork",
	SourceNPR:           "NPR",
	SourceSpotify:       "Spotify",
	SourceApplePodcasts: "Apple Podcasts",
	SourceSubstack:      "Substack",
}

// DisplayName returns the publication name written into attribution blocks.
// Unknown tags are returned unchanged.
func (s Source) DisplayName() string {
	if name, ok := displayNames[s]; ok {
		return name
	}
	return string(s)
}

var slugSpace = regexp.MustCompile(`\s+`)

// Slug lowercases name and replaces whitespace runs with underscores.
func Slug(name string) string {
	return slugSpace.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
}

// Valid reports whether s is one of the built-in publication tags.
func (s Source) Valid() bool {
	_, ok := displayNames[s]
	return ok
}
