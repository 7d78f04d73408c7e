package toolindex

import (
	"sort"
	"strings"
)

// Relevance weights. Every rule that matches contributes; a script's
// score is the sum.
const (
	ScoreIDContains          = 100
	ScoreKeywordExact        = 50
	ScoreKeywordContains     = 30
	ScoreKeywordWord         = 10
	ScoreDescriptionContains = 40
	ScoreDescriptionWord     = 5
	ScoreNameContains        = 60
)

// DefaultMaxResults applies when Search is called with maxResults <= 0.
const DefaultMaxResults = 10

// Match is a ranked search hit.
type Match struct {
	Descriptor
	Score int `json:"relevance_score"`
}

// Search ranks every script against query and returns up to maxResults
// positive-scoring matches, highest first. Equal scores keep insertion
// order. A blank query matches nothing.
func (s *Snapshot) Search(query string, maxResults int) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	words := strings.Fields(q)

	var matches []Match
	for _, id := range s.Order {
		d, ok := s.Scripts[id]
		if !ok {
			continue
		}
		if score := Score(d, q, words); score > 0 {
			matches = append(matches, Match{Descriptor: d, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches
}

// Score computes the relevance of d for the lowercased query q and its
// whitespace-separated words.
func Score(d Descriptor, q string, words []string) int {
	score := 0

	if strings.Contains(strings.ToLower(d.ID), q) {
		score += ScoreIDContains
	}

	for _, kw := range d.Keywords {
		k := strings.ToLower(kw)
		if k == q {
			score += ScoreKeywordExact
		} else if strings.Contains(k, q) {
			score += ScoreKeywordContains
		}
		for _, w := range words {
			if strings.Contains(k, w) {
				score += ScoreKeywordWord
			}
		}
	}

	desc := strings.ToLower(d.Description)
	if strings.Contains(desc, q) {
		score += ScoreDescriptionContains
	}
	for _, w := range words {
		if strings.Contains(desc, w) {
			score += ScoreDescriptionWord
		}
	}

	if strings.Contains(strings.ToLower(d.Name), q) {
		score += ScoreNameContains
	}

	return score
}
