package content

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/music-content-pipeline/internal/hash/sha256"
)

// ContentKind classifies a record.
type ContentKind string

// Supported content kinds.
const (
	KindArticle           ContentKind = "article"
	KindReview            ContentKind = "review"
	KindInterview         ContentKind = "interview"
	KindNews              ContentKind = "news"
	KindPodcastTranscript ContentKind = "podcast_transcript"
	KindPodcastEpisode    ContentKind = "podcast_episode"
)

// IsPodcast reports whether the kind belongs to audio programming.
func (k ContentKind) IsPodcast() bool {
	return k == KindPodcastTranscript || k == KindPodcastEpisode
}

// RecordKeyPrefix is the object-store prefix for record artifacts.
const RecordKeyPrefix = "scraped-content"

// maxCitationTitle is the title length at which the citation drops the title.
const maxCitationTitle = 60

// Attribution is the citation-grade provenance attached to every record.
type Attribution struct {
	Source          string         `json:"source"`
	Title           string         `json:"title"`
	URL             string         `json:"url"`
	Author          string         `json:"author,omitempty"`
	PublicationDate string         `json:"publication_date,omitempty"`
	PublicationType string         `json:"publication_type"`
	ContentType     string         `json:"content_type,omitempty"`
	EpisodeInfo     map[string]any `json:"episode_info,omitempty"`
}

// Citation renders the attribution as `[Source: "name", "title"]`.
// The title is omitted when it is 60 characters or longer.
func (a Attribution) Citation() string {
	var b strings.Builder
	b.WriteString(`[Source: "`)
	b.WriteString(a.Source)
	b.WriteString(`"`)
	if a.Title != "" && utf8.RuneCountInString(a.Title) < maxCitationTitle {
		b.WriteString(`, "`)
		b.WriteString(a.Title)
		b.WriteString(`"`)
	}
	b.WriteString("]")
	return b.String()
}

// Record is one normalized article or episode.
//
// Body text is only changed through SetContent, which keeps WordCount and
// ContentHash in step with it. The storage key is derived once at
// construction and only replaced through Place.
type Record struct {
	ID               string
	URL              string
	Title            string
	Kind             ContentKind
	Attribution      *Attribution
	ScrapedAt        time.Time
	ConfidenceScore  float64
	ExtractionMethod string
	ValidationPassed bool

	body        string
	wordCount   int
	contentHash string
	storageKey  string
}

// NewRecord builds a record and derives its word count, hash and default key.
func NewRecord(
	id string,
	url string,
	title string,
	body string,
	kind ContentKind,
	attribution *Attribution,
	scrapedAt time.Time,
) *Record {
	if kind == "" {
		kind = KindArticle
	}
	r := &Record{
		ID:          id,
		URL:         url,
		Title:       title,
		Kind:        kind,
		Attribution: attribution,
		ScrapedAt:   scrapedAt.UTC(),
	}
	r.SetContent(body)
	r.storageKey = r.defaultKey()
	return r
}

// SetContent replaces the body text and recomputes the derived fields.
func (r *Record) SetContent(body string) {
	r.body = body
	r.wordCount = len(strings.Fields(body))
	r.contentHash = sha256.ContentHash(body)
}

// Content returns the body text.
func (r *Record) Content() string { return r.body }

// WordCount returns the whitespace-delimited word count of the body.
func (r *Record) WordCount() int { return r.wordCount }

// ContentHash returns the 16-character body digest.
func (r *Record) ContentHash() string { return r.contentHash }

// StorageKey returns the current object key.
func (r *Record) StorageKey() string { return r.storageKey }

// Place moves the record to a collision-free key chosen by the uploader.
func (r *Record) Place(key string) {
	if key != "" {
		r.storageKey = key
	}
}

// SourceName returns the attribution source or "" when attribution is missing.
func (r *Record) SourceName() string {
	if r.Attribution == nil {
		return ""
	}
	return r.Attribution.Source
}

func (r *Record) defaultKey() string {
	source := "unknown"
	if name := r.SourceName(); name != "" {
		source = Slug(name)
	}
	return fmt.Sprintf("%s/%s/%s/content-%s.json",
		RecordKeyPrefix, source, r.ScrapedAt.Format("2006/01/02"), r.contentHash)
}

// LakeMetadata is the metadata block of the lake document.
type LakeMetadata struct {
	ScrapedAt        string  `json:"scraped_at"`
	ConfidenceScore  float64 `json:"confidence_score"`
	WordCount        int     `json:"word_count"`
	ExtractionMethod string  `json:"extraction_method"`
	ValidationPassed bool    `json:"validation_passed"`
	ContentHash      string  `json:"content_hash"`
}

// PlacementMetadata describes how the uploader filed a record.
type PlacementMetadata struct {
	ArtistExtracted  string `json:"artist_extracted"`
	ThematicCategory string `json:"thematic_category"`
	UploadTimestamp  string `json:"upload_timestamp"`
	UploaderVersion  string `json:"uploader_version"`
}

// LakeDocument is the external JSON form of a record.
type LakeDocument struct {
	ID                string             `json:"id"`
	URL               string             `json:"url"`
	Title             string             `json:"title"`
	Content           string             `json:"content"`
	ContentType       ContentKind        `json:"content_type"`
	SourceAttribution *Attribution       `json:"source_attribution"`
	Metadata          LakeMetadata       `json:"metadata"`
	S3Key             string             `json:"s3_key"`
	S3Metadata        *PlacementMetadata `json:"s3_metadata,omitempty"`
}

// Document returns the lake form of the record.
func (r *Record) Document() LakeDocument {
	return LakeDocument{
		ID:                r.ID,
		URL:               r.URL,
		Title:             r.Title,
		Content:           r.body,
		ContentType:       r.Kind,
		SourceAttribution: r.Attribution,
		Metadata: LakeMetadata{
			ScrapedAt:        r.ScrapedAt.Format(time.RFC3339Nano),
			ConfidenceScore:  r.ConfidenceScore,
			WordCount:        r.wordCount,
			ExtractionMethod: r.ExtractionMethod,
			ValidationPassed: r.ValidationPassed,
			ContentHash:      r.contentHash,
		},
		S3Key: r.storageKey,
	}
}

// MarshalJSON encodes the record in its lake form.
func (r *Record) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(r.Document())
	if err != nil {
		return nil, fmt.Errorf("marshal lake document: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes a lake document back into a record.
func (r *Record) UnmarshalJSON(data []byte) error {
	var doc LakeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal lake document: %w", err)
	}
	var scrapedAt time.Time
	if doc.Metadata.ScrapedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, doc.Metadata.ScrapedAt)
		if err != nil {
			return fmt.Errorf("parse scraped_at: %w", err)
		}
		scrapedAt = ts.UTC()
	}
	*r = Record{
		ID:               doc.ID,
		URL:              doc.URL,
		Title:            doc.Title,
		Kind:             doc.ContentType,
		Attribution:      doc.SourceAttribution,
		ScrapedAt:        scrapedAt,
		ConfidenceScore:  doc.Metadata.ConfidenceScore,
		ExtractionMethod: doc.Metadata.ExtractionMethod,
		ValidationPassed: doc.Metadata.ValidationPassed,
	}
	r.SetContent(doc.Content)
	r.storageKey = doc.S3Key
	if r.storageKey == "" {
		r.storageKey = r.defaultKey()
	}
	return nil
}
