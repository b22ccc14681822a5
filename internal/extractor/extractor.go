// Package extractor turns raw article HTML into structured records through an
// ordered cascade of parsing strategies.
package extractor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/metrics"
)

const (
	// MinInputChars is the shortest raw document the extractor will parse.
	MinInputChars = 100
	// ShortCircuitConfidence ends the cascade when a strategy exceeds it.
	ShortCircuitConfidence = 0.8
)

// Error texts surfaced in ExtractionResult.Errors.
const (
	ErrInputTooShort       = "html content too short or empty"
	ErrAllStrategiesFailed = "all extraction strategies failed"
)

// Strategy names recorded as Record.ExtractionMethod.
const (
	MethodStructured  = "structured_data"
	MethodSemantic    = "semantic"
	MethodGeneric     = "generic"
	MethodReadability = "readability"
	MethodFallback    = "fallback"
	MethodNone        = "none"
)

var errNoContent = errors.New("no title or body recovered")

// Page is the parsed input shared by all strategies. Strategies must not
// mutate Doc; clone selections before removing nodes.
type Page struct {
	Raw string
	URL string
	Doc *goquery.Document
}

// Candidate holds the fields a strategy recovered.
type Candidate struct {
	Title       string
	Body        string
	Author      string
	PublishedAt string
}

// Strategy is one way of locating article fields in a page.
type Strategy interface {
	Name() string
	Confidence() float64
	Attempt(page *Page) (Candidate, error)
}

// Config toggles optional strategies.
type Config struct {
	ReadabilityEnabled bool
}

// Extractor runs the strategy cascade and builds records.
type Extractor struct {
	strategies []Strategy
	ids        content.IDGenerator
	clock      content.Clock
	logger     *zap.Logger
}

// New builds an Extractor with the default cascade: structured data,
// semantic selectors, generic containers, readability (optional), fallback.
func New(ids content.IDGenerator, clock content.Clock, cfg Config, logger *zap.Logger) *Extractor {
	return NewWithStrategies(DefaultStrategies(cfg), ids, clock, logger)
}

// NewWithStrategies builds an Extractor over an explicit strategy list.
func NewWithStrategies(strategies []Strategy, ids content.IDGenerator, clock content.Clock, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		strategies: strategies,
		ids:        ids,
		clock:      clock,
		logger:     logger,
	}
}

// DefaultStrategies returns the cascade in priority order.
func DefaultStrategies(cfg Config) []Strategy {
	strategies := []Strategy{
		structuredStrategy{},
		semanticStrategy{},
		genericStrategy{},
	}
	if cfg.ReadabilityEnabled {
		strategies = append(strategies, readabilityStrategy{})
	}
	return append(strategies, fallbackStrategy{})
}

// Extract parses raw into a record attributed to sourceName. It never
// returns an error; failures are reported in the result.
func (e *Extractor) Extract(raw, pageURL, sourceName string) content.ExtractionResult {
	if len(strings.TrimSpace(raw)) < MinInputChars {
		return failed(MethodNone, ErrInputTooShort)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return failed(MethodNone, fmt.Sprintf("parse html: %v", err))
	}
	page := &Page{Raw: raw, URL: pageURL, Doc: doc}

	var (
		best     Candidate
		bestConf float64
		bestName string
		errs     []string
	)
	for _, strategy := range e.strategies {
		candidate, err := attempt(strategy, page)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", strategy.Name(), err))
			continue
		}
		if strategy.Confidence() > bestConf {
			best, bestConf, bestName = candidate, strategy.Confidence(), strategy.Name()
		}
		if strategy.Confidence() > ShortCircuitConfidence {
			break
		}
	}
	if bestName == "" {
		metrics.ObserveExtraction(MethodNone, false)
		return content.ExtractionResult{
			Success: false,
			Method:  MethodNone,
			Errors:  append(errs, ErrAllStrategiesFailed),
		}
	}

	record, err := e.buildRecord(best, pageURL, sourceName)
	if err != nil {
		return failed(bestName, err.Error())
	}
	record.ConfidenceScore = bestConf
	record.ExtractionMethod = bestName
	metrics.ObserveExtraction(bestName, true)

	return content.ExtractionResult{
		Success:    true,
		Record:     record,
		Confidence: bestConf,
		Method:     bestName,
		Errors:     errs,
	}
}

func (e *Extractor) buildRecord(c Candidate, pageURL, sourceName string) (*content.Record, error) {
	id, err := e.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate record id: %w", err)
	}
	kind := InferKind(c.Title, pageURL, c.Body)
	publicationType := "article"
	if kind.IsPodcast() {
		publicationType = "podcast"
	}
	attribution := &content.Attribution{
		Source:          sourceName,
		Title:           c.Title,
		URL:             pageURL,
		Author:          c.Author,
		PublicationDate: c.PublishedAt,
		PublicationType: publicationType,
		ContentType:     string(kind),
	}
	return content.NewRecord(id, pageURL, c.Title, c.Body, kind, attribution, e.clock.Now()), nil
}

func attempt(strategy Strategy, page *Page) (candidate Candidate, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("strategy panicked: %v", rec)
		}
	}()
	return strategy.Attempt(page)
}

func failed(method, msg string) content.ExtractionResult {
	return content.ExtractionResult{Success: false, Method: method, Errors: []string{msg}}
}
