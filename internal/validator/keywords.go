package validator

import "strings"

// MinRelevanceHits is the keyword count an item needs to enter validation.
const MinRelevanceHits = 2

var musicKeywords = []string{
	"music", "album", "song", "artist", "band", "musician", "singer",
	"concert", "tour", "festival", "record", "recording", "studio",
	"genre", "jazz", "rock", "pop", "hip-hop", "classical", "folk",
	"guitar", "piano", "drums", "vocals", "lyrics", "melody",
}

// CountMusicKeywords counts how many distinct music keywords occur in text.
// Matching is case-insensitive and by substring.
func CountMusicKeywords(text string) int {
	text = strings.ToLower(text)
	hits := 0
	for _, kw := range musicKeywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return hits
}

// IsRelevant reports whether title and body carry enough music vocabulary.
func IsRelevant(title, body string) bool {
	return CountMusicKeywords(title+" "+body) >= MinRelevanceHits
}
