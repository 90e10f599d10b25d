package retrieval

import (
	"context"
	"strings"

	"github.com/onwardai/keith-agent/internal/catalog"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Per-strategy result caps.
const (
	fullTextLimit      = 5
	nameLimit          = 3
	categoryLimit      = 10
	topicWideningLimit = 15

	// Name widening kicks in only when full-text found fewer results.
	wideningThreshold = 2
)

// categoryKeywords is the fixed vocabulary scanned against the lowercased
// query. The first hit drives the category OR-filter fetch.
var categoryKeywords = []string{
	"food", "housing", "legal", "health", "mental health",
	"transportation", "childcare", "education", "employment",
}

// topicKeywords widen the search towards education and employment resources
// when the request sounds like technology or learning.
var topicKeywords = []string{"computer", "tech", "it", "coding", "digital", "class", "learn"}

var wideningCategories = []string{"education", "employment", "other"}

// Gatherer runs the independent retrieval strategies against the catalog port
// and concatenates their results. A failing strategy logs and contributes
// nothing; it never aborts the others.
type Gatherer struct {
	port    catalog.Port
	logger  *zap.Logger
	metrics StrategyFailureCounter
}

// StrategyFailureCounter records retrieval strategies that degraded to an
// empty contribution.
type StrategyFailureCounter interface {
	StrategyFailed(strategy string)
}

type nopFailureCounter struct{}

func (nopFailureCounter) StrategyFailed(string) {}

// NewGatherer creates a gatherer over the given catalog port.
func NewGatherer(port catalog.Port, logger *zap.Logger) *Gatherer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gatherer{port: port, logger: logger, metrics: nopFailureCounter{}}
}

// WithMetrics attaches a failure counter. Nil resets to a no-op.
func (g *Gatherer) WithMetrics(m StrategyFailureCounter) *Gatherer {
	if m == nil {
		m = nopFailureCounter{}
	}
	g.metrics = m
	return g
}

// Gather collects candidates for the query across all strategies.
func (g *Gatherer) Gather(ctx context.Context, query string) []Candidate {
	var candidates []Candidate

	primary := g.fullText(ctx, query)
	candidates = append(candidates, primary...)

	if len(primary) < wideningThreshold {
		candidates = append(candidates, g.byName(ctx, query)...)
	}

	// The remaining strategies are independent of each other and of the
	// full-text outcome; run them together, then concatenate in fixed
	// strategy order so identical inputs always gather identically.
	var (
		fromCategory []Candidate
		fromTopic    []Candidate
		eg           errgroup.Group
	)

	eg.Go(func() error {
		fromCategory = g.byCategory(ctx, query)
		return nil
	})
	eg.Go(func() error {
		fromTopic = g.byTopic(ctx, query)
		return nil
	})

	// Strategies absorb their own failures, so the wait never short-circuits.
	_ = eg.Wait()

	candidates = append(candidates, fromCategory...)
	candidates = append(candidates, fromTopic...)

	g.logger.Debug("gathered candidates",
		zap.String("query", query),
		zap.Int("count", len(candidates)),
	)

	return candidates
}

// fullText matches the query against the description field, falling back to a
// substring match when full-text search is unsupported or failing.
func (g *Gatherer) fullText(ctx context.Context, query string) []Candidate {
	resources, err := g.port.SearchByText(ctx, catalog.FieldDescription, query, fullTextLimit)
	if err != nil {
		g.logger.Warn("full-text search failed, falling back to substring",
			zap.String("query", query), zap.Error(err))

		resources, err = g.port.SearchBySubstring(ctx, catalog.FieldDescription, query, fullTextLimit)
		if err != nil {
			g.strategyFailed(StrategyFullText, query, err)
			return nil
		}
	}

	return asCandidates(resources, StrategyFullText)
}

func (g *Gatherer) byName(ctx context.Context, query string) []Candidate {
	resources, err := g.port.SearchBySubstring(ctx, catalog.FieldName, query, nameLimit)
	if err != nil {
		g.strategyFailed(StrategyNameSubstring, query, err)
		return nil
	}
	return asCandidates(resources, StrategyNameSubstring)
}

func (g *Gatherer) byCategory(ctx context.Context, query string) []Candidate {
	matched := matchCategoryKeyword(query)
	if matched == "" {
		return nil
	}

	resources, err := g.port.SearchByOrFilter(ctx, matched, categoryLimit)
	if err != nil {
		g.strategyFailed(StrategyCategory, query, err)
		return nil
	}
	return asCandidates(resources, StrategyCategory)
}

func (g *Gatherer) byTopic(ctx context.Context, query string) []Candidate {
	if !containsAny(query, topicKeywords) {
		return nil
	}

	resources, err := g.port.SearchByCategoryAny(ctx, wideningCategories, topicWideningLimit)
	if err != nil {
		g.strategyFailed(StrategyTopicWidening, query, err)
		return nil
	}
	return asCandidates(resources, StrategyTopicWidening)
}

func (g *Gatherer) strategyFailed(strategy, query string, err error) {
	g.metrics.StrategyFailed(strategy)
	g.logger.Warn("retrieval strategy failed",
		zap.String("strategy", strategy),
		zap.String("query", query),
		zap.Error(err),
	)
}

func matchCategoryKeyword(query string) string {
	lower := strings.ToLower(query)
	for _, keyword := range categoryKeywords {
		if strings.Contains(lower, keyword) {
			return keyword
		}
	}
	return ""
}

func containsAny(query string, keywords []string) bool {
	lower := strings.ToLower(query)
	for _, keyword := range keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func asCandidates(resources []*catalog.Resource, strategy string) []Candidate {
	candidates := make([]Candidate, 0, len(resources))
	for _, r := range resources {
		if r == nil {
			continue
		}
		candidates = append(candidates, Candidate{Resource: r, Strategy: strategy})
	}
	return candidates
}
