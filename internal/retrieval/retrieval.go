// Package retrieval gathers, ranks, and formats catalog candidates for a
// free-text help request.
package retrieval

import (
	"context"

	"github.com/onwardai/keith-agent/internal/catalog"

	"go.uber.org/zap"
)

// Retrieval strategy names, recorded on each candidate for logging.
const (
	StrategyFullText      = "full_text"
	StrategyNameSubstring = "name_substring"
	StrategyCategory      = "category"
	StrategyTopicWidening = "topic_widening"
)

// Candidate pairs a resource with the strategy that surfaced it. Candidates
// are ephemeral and exist only within one retrieval call.
type Candidate struct {
	Resource *catalog.Resource
	Strategy string
}

// ScoredCandidate is a candidate with its relevance score and the query terms
// that matched.
type ScoredCandidate struct {
	Candidate
	Score        int
	MatchedTerms []string
}

// Pipeline runs the full gather, rank, and format sequence.
type Pipeline struct {
	gatherer *Gatherer
	shortcap int
}

// NewPipeline wires a pipeline over the given catalog port.
func NewPipeline(port catalog.Port, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		gatherer: NewGatherer(port, logger),
		shortcap: shortlistSize,
	}
}

// WithMetrics attaches a strategy failure counter to the gatherer.
func (p *Pipeline) WithMetrics(m StrategyFailureCounter) *Pipeline {
	p.gatherer.WithMetrics(m)
	return p
}

// Retrieve returns the ranked shortlist for the query.
func (p *Pipeline) Retrieve(ctx context.Context, query string) []ScoredCandidate {
	return Rank(p.gatherer.Gather(ctx, query), query)
}

// Context returns the formatted model briefing for the query, or an empty
// string when nothing matched.
func (p *Pipeline) Context(ctx context.Context, query string) string {
	return Format(p.Retrieve(ctx, query))
}
