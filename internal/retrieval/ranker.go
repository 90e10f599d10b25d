package retrieval

import (
	"sort"
	"strings"
)

const shortlistSize = 5

// Locality boosts. A Compton match outweighs a Los Angeles match and the two
// are mutually exclusive per candidate.
const (
	primaryLocality   = "compton"
	secondaryLocality = "los angeles"

	primaryLocalityBoost   = 5
	secondaryLocalityBoost = 2
)

// Rank deduplicates the candidate list by resource identifier, scores each
// survivor against the query, and returns the top candidates ordered by score
// descending. For a fixed input order the output is deterministic: the sort is
// stable and duplicates keep their first-seen position while the last-seen
// resource wins.
func Rank(candidates []Candidate, query string) []ScoredCandidate {
	unique := dedupe(candidates)

	lower := strings.ToLower(query)
	terms := strings.Fields(lower)

	scored := make([]ScoredCandidate, 0, len(unique))
	for _, candidate := range unique {
		score, matched := scoreCandidate(candidate, lower, terms)
		scored = append(scored, ScoredCandidate{
			Candidate:    candidate,
			Score:        score,
			MatchedTerms: matched,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > shortlistSize {
		scored = scored[:shortlistSize]
	}
	return scored
}

func dedupe(candidates []Candidate) []Candidate {
	unique := make([]Candidate, 0, len(candidates))
	index := make(map[string]int, len(candidates))

	for _, candidate := range candidates {
		if candidate.Resource == nil {
			continue
		}
		id := candidate.Resource.ID
		if at, seen := index[id]; seen {
			unique[at] = candidate
			continue
		}
		index[id] = len(unique)
		unique = append(unique, candidate)
	}

	return unique
}

func scoreCandidate(candidate Candidate, lowerQuery string, terms []string) (int, []string) {
	resource := candidate.Resource
	fullText := strings.ToLower(resource.Description + " " + resource.ProgramsJSON())

	score := 0
	var matched []string
	for _, term := range terms {
		if strings.Contains(fullText, term) {
			score++
			matched = append(matched, term)
		}
	}

	contact := resource.ContactText()
	switch {
	case strings.Contains(lowerQuery, primaryLocality) && strings.Contains(contact, primaryLocality):
		score += primaryLocalityBoost
	case strings.Contains(lowerQuery, secondaryLocality) && strings.Contains(contact, secondaryLocality):
		score += secondaryLocalityBoost
	}

	return score, matched
}
