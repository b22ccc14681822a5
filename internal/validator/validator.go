// Package validator scores extracted records and batches before they are
// allowed anywhere near the lake.
//
// A record's score is the product of five sub-scores (structure, quality,
// attribution, relevance, lake compatibility). Each penalty multiplies the
// running score by a factor from Factors, so several soft warnings can add
// up to a failing score without any hard error.
package validator

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/metrics"
)

// Record thresholds.
const (
	MinBodyChars      = 200
	MaxBodyChars      = 50000
	MinTitleChars     = 5
	MaxTitleChars     = 200
	MinCitationChars  = 10
	MaxCitationChars  = 150
	PassScore         = 0.5
	repetitionMinimum = 10
	minUniqueRatio    = 0.5
	minTextRatio      = 0.6
)

// Factors are the multipliers applied for each failed check.
type Factors struct {
	StructureFailure float64 `mapstructure:"structure_failure"`
	ShortBody        float64 `mapstructure:"short_body"`
	LongBody         float64 `mapstructure:"long_body"`
	ShortTitle       float64 `mapstructure:"short_title"`
	LongTitle        float64 `mapstructure:"long_title"`
	FailureSignature float64 `mapstructure:"failure_signature"`
	Repetitive       float64 `mapstructure:"repetitive"`
	LowTextRatio     float64 `mapstructure:"low_text_ratio"`
	UnknownSource    float64 `mapstructure:"unknown_source"`
	LongCitation     float64 `mapstructure:"long_citation"`
	BadDate          float64 `mapstructure:"bad_date"`
	NoKeywords       float64 `mapstructure:"no_keywords"`
	FewKeywords      float64 `mapstructure:"few_keywords"`
	LakeIncompatible float64 `mapstructure:"lake_incompatible"`
}

// DefaultFactors returns the stock penalty multipliers.
func DefaultFactors() Factors {
	return Factors{
		StructureFailure: 0.3,
		ShortBody:        0.3,
		LongBody:         0.9,
		ShortTitle:       0.5,
		LongTitle:        0.9,
		FailureSignature: 0.2,
		Repetitive:       0.8,
		LowTextRatio:     0.9,
		UnknownSource:    0.9,
		LongCitation:     0.9,
		BadDate:          0.9,
		NoKeywords:       0.5,
		FewKeywords:      0.8,
		LakeIncompatible: 0.2,
	}
}

// KnownSources is the publication allow-list.
var KnownSources = []string{
	"Billboard", "Rolling Stone", "Pitchfork", "NPR", "Sound Opinions",
	"All Songs Considered", "Fresh Air", "Spotify", "Apple Podcasts",
}

// failureSignatures mark pages that are error screens, walls or challenges
// rather than articles.
var failureSignatures = []*regexp.Regexp{
	regexp.MustCompile(`404 not found`),
	regexp.MustCompile(`access denied`),
	regexp.MustCompile(`please enable javascript`),
	regexp.MustCompile(`robot.*detected`),
	regexp.MustCompile(`captcha`),
	regexp.MustCompile(`cloudflare`),
	regexp.MustCompile(`subscription required`),
	regexp.MustCompile(`sign in to continue`),
	regexp.MustCompile(`this content is not available`),
}

var nonText = regexp.MustCompile(`[^a-zA-Z\s]`)

// Config tunes the validator.
type Config struct {
	Factors             Factors
	KnownSources        []string
	MinBatchSuccessRate float64
	MinBatchMeanScore   float64
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Factors:             DefaultFactors(),
		KnownSources:        KnownSources,
		MinBatchSuccessRate: 0.7,
		MinBatchMeanScore:   0.6,
	}
}

// Validator scores records and batches.
type Validator struct {
	cfg    Config
	known  map[string]struct{}
	logger *zap.Logger
}

// New builds a Validator. Zero-valued config fields take defaults.
func New(cfg Config, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.Factors == (Factors{}) {
		cfg.Factors = defaults.Factors
	}
	if len(cfg.KnownSources) == 0 {
		cfg.KnownSources = defaults.KnownSources
	}
	if cfg.MinBatchSuccessRate <= 0 {
		cfg.MinBatchSuccessRate = defaults.MinBatchSuccessRate
	}
	if cfg.MinBatchMeanScore <= 0 {
		cfg.MinBatchMeanScore = defaults.MinBatchMeanScore
	}
	known := make(map[string]struct{}, len(cfg.KnownSources))
	for _, s := range cfg.KnownSources {
		known[s] = struct{}{}
	}
	return &Validator{cfg: cfg, known: known, logger: logger}
}

type check struct {
	score    float64
	errors   []string
	warnings []string
}

func (c *check) fail(factor float64, format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
	c.score *= factor
}

func (c *check) warn(factor float64, format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
	c.score *= factor
}

// Validate scores one record. Passed requires no errors and a score above
// PassScore. A nil record fails structurally with a zero score.
func (v *Validator) Validate(r *content.Record) content.ValidationResult {
	if r == nil {
		metrics.ObserveValidation(0, false)
		return content.ValidationResult{
			Passed: false,
			Score:  0,
			Errors: []string{"record is nil"},
			Metadata: map[string]any{
				"structure_valid":      false,
				"data_lake_compatible": false,
			},
		}
	}
	score := 1.0
	var errs, warnings []string

	structure := v.checkStructure(r)
	if len(structure.errors) > 0 {
		errs = append(errs, structure.errors...)
		score *= v.cfg.Factors.StructureFailure
	}

	quality := v.checkQuality(r)
	score *= quality.score
	errs = append(errs, quality.errors...)
	warnings = append(warnings, quality.warnings...)

	attribution := v.checkAttribution(r.Attribution)
	score *= attribution.score
	errs = append(errs, attribution.errors...)
	warnings = append(warnings, attribution.warnings...)

	relevance := v.checkRelevance(r)
	score *= relevance.score
	warnings = append(warnings, relevance.warnings...)

	lake := checkLake(r)
	if len(lake) > 0 {
		errs = append(errs, lake...)
		score *= v.cfg.Factors.LakeIncompatible
	}

	passed := len(errs) == 0 && score > PassScore
	metrics.ObserveValidation(score, passed)
	if !passed {
		v.logger.Debug("record failed validation",
			zap.String("url", r.URL),
			zap.Float64("score", score),
			zap.Strings("errors", errs),
		)
	}

	return content.ValidationResult{
		Passed:   passed,
		Score:    score,
		Errors:   errs,
		Warnings: warnings,
		Metadata: map[string]any{
			"structure_valid":      len(structure.errors) == 0,
			"quality_score":        quality.score,
			"attribution_score":    attribution.score,
			"relevance_score":      relevance.score,
			"data_lake_compatible": len(lake) == 0,
		},
	}
}

// ValidateBatch validates every item and applies the batch thresholds.
func (v *Validator) ValidateBatch(b *content.Batch) content.ValidationResult {
	if b == nil || len(b.Items) == 0 {
		return content.ValidationResult{Passed: false, Score: 0, Errors: []string{"batch contains no content items"}}
	}

	var (
		errs, warnings []string
		total          float64
		failed         int
	)
	for i, item := range b.Items {
		res := v.Validate(item)
		total += res.Score
		if !res.Passed {
			failed++
			for _, e := range res.Errors {
				errs = append(errs, fmt.Sprintf("item %d: %s", i, e))
			}
		}
		for _, w := range res.Warnings {
			warnings = append(warnings, fmt.Sprintf("item %d: %s", i, w))
		}
	}

	n := len(b.Items)
	mean := total / float64(n)
	successRate := float64(n-failed) / float64(n)
	if successRate < v.cfg.MinBatchSuccessRate {
		errs = append(errs, fmt.Sprintf("batch success rate too low: %.2f%%", successRate*100))
	}
	if mean < v.cfg.MinBatchMeanScore {
		errs = append(errs, fmt.Sprintf("batch average quality too low: %.2f", mean))
	}

	return content.ValidationResult{
		Passed:   len(errs) == 0,
		Score:    mean * successRate,
		Errors:   errs,
		Warnings: warnings,
		Metadata: map[string]any{
			"items_count":  n,
			"success_rate": successRate,
			"avg_quality":  mean,
			"total_errors": failed,
		},
	}
}

func (v *Validator) checkStructure(r *content.Record) check {
	c := check{score: 1}
	required := []struct {
		name  string
		empty bool
	}{
		{"id", r.ID == ""},
		{"url", r.URL == ""},
		{"title", r.Title == ""},
		{"content", r.Content() == ""},
		{"source_attribution", r.Attribution == nil},
	}
	for _, field := range required {
		if field.empty {
			c.errors = append(c.errors, "missing required field: "+field.name)
		}
	}
	if a := r.Attribution; a != nil {
		if a.Source == "" {
			c.errors = append(c.errors, "missing source attribution field: source")
		}
		if a.Title == "" {
			c.errors = append(c.errors, "missing source attribution field: title")
		}
		if a.URL == "" {
			c.errors = append(c.errors, "missing source attribution field: url")
		}
	}
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		c.errors = append(c.errors, "confidence score must be between 0.0 and 1.0")
	}
	if r.URL != "" && !wellFormedURL(r.URL) {
		c.errors = append(c.errors, "invalid url format")
	}
	return c
}

func (v *Validator) checkQuality(r *content.Record) check {
	c := check{score: 1}
	f := v.cfg.Factors
	body := r.Content()
	bodyLen := utf8.RuneCountInString(body)
	titleLen := utf8.RuneCountInString(r.Title)

	if bodyLen < MinBodyChars {
		c.fail(f.ShortBody, "content too short: %d chars (min: %d)", bodyLen, MinBodyChars)
	}
	if bodyLen > MaxBodyChars {
		c.warn(f.LongBody, "content very long: %d chars", bodyLen)
	}
	if titleLen < MinTitleChars {
		c.fail(f.ShortTitle, "title too short: %d chars", titleLen)
	}
	if titleLen > MaxTitleChars {
		c.warn(f.LongTitle, "title very long")
	}

	lower := strings.ToLower(body)
	for _, sig := range failureSignatures {
		if sig.MatchString(lower) {
			c.fail(f.FailureSignature, "suspicious content pattern detected: %s", sig.String())
			break
		}
	}

	sentences := strings.Split(body, ".")
	if len(sentences) > repetitionMinimum {
		unique := make(map[string]struct{}, len(sentences))
		for _, s := range sentences {
			unique[s] = struct{}{}
		}
		if float64(len(unique))/float64(len(sentences)) < minUniqueRatio {
			c.warn(f.Repetitive, "content appears repetitive")
		}
	}

	if len(body) > 0 {
		ratio := float64(len(nonText.ReplaceAllString(body, ""))) / float64(len(body))
		if ratio < minTextRatio {
			c.warn(f.LowTextRatio, "low text content ratio, may contain markup")
		}
	}
	return c
}

func (v *Validator) checkAttribution(a *content.Attribution) check {
	if a == nil {
		return check{score: 0, errors: []string{"missing source attribution"}}
	}
	c := check{score: 1}
	f := v.cfg.Factors

	if _, ok := v.known[a.Source]; !ok {
		c.warn(f.UnknownSource, "unknown source: %s", a.Source)
	}

	citationLen := utf8.RuneCountInString(a.Citation())
	if citationLen < MinCitationChars {
		c.errors = append(c.errors, "citation format too short")
	}
	if citationLen > MaxCitationChars {
		c.warn(f.LongCitation, "citation format very long")
	}

	if a.URL != "" && !wellFormedURL(a.URL) {
		c.errors = append(c.errors, "invalid attribution url")
	}
	if a.PublicationDate != "" && !isISODate(a.PublicationDate) {
		c.warn(f.BadDate, "invalid publication date format")
	}
	return c
}

func (v *Validator) checkRelevance(r *content.Record) check {
	c := check{score: 1}
	switch hits := CountMusicKeywords(r.Title + " " + r.Content()); {
	case hits == 0:
		c.warn(v.cfg.Factors.NoKeywords, "no music-related keywords found")
	case hits < 3:
		c.warn(v.cfg.Factors.FewKeywords, "limited music relevance")
	}
	return c
}

// checkLake round-trips the record through its lake form.
func checkLake(r *content.Record) []string {
	data, err := json.Marshal(r)
	if err != nil {
		return []string{fmt.Sprintf("data lake compatibility test failed: %v", err)}
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []string{fmt.Sprintf("data lake compatibility test failed: %v", err)}
	}
	var errs []string
	for _, field := range []string{"id", "source_attribution", "metadata"} {
		if _, ok := doc[field]; !ok {
			errs = append(errs, "missing lake field: "+field)
		}
	}
	if _, ok := doc["source_attribution"].(map[string]any); !ok {
		errs = append(errs, "source_attribution must be an object")
	}
	if r.Attribution != nil && !strings.HasPrefix(r.Attribution.Citation(), "[Source:") {
		errs = append(errs, "invalid citation format")
	}
	return errs
}

func wellFormedURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

var isoLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

func isISODate(raw string) bool {
	for _, layout := range isoLayouts {
		if _, err := time.Parse(layout, raw); err == nil {
			return true
		}
	}
	return false
}
