// Package similarity provides string similarity and vector clustering
// utilities for skill deduplication.
package similarity

import (
	"sort"
	"strings"
)

// Similarity thresholds used across the pipeline. Grounding and consolidation
// are different contracts: grounding feeds loose *suggestions* into LLM
// prompts, consolidation makes binding *merge decisions*. Keep them separate.
const (
	// GroundingThreshold is the minimum score for a dictionary entry to be
	// offered as a candidate match in a normalization prompt.
	GroundingThreshold = 0.4

	// GroundingMaxResults caps the number of suggestions per candidate.
	GroundingMaxResults = 10

	// ConsolidationThreshold is the minimum score at which two canonical
	// skill rows are considered the same concept and merged.
	ConsolidationThreshold = 0.85
)

// Dice computes the Sørensen–Dice coefficient between two strings using
// character bigrams, with whitespace removed before bigram extraction.
// Returns a value in [0, 1]. Strings shorter than two characters score 0
// against everything except an exact equal, which scores 1.
func Dice(a, b string) float64 {
	a = stripSpaces(a)
	b = stripSpaces(b)

	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	bigramsA := countBigrams(a)

	intersection := 0
	for i := 0; i+2 <= len(b); i++ {
		bg := b[i : i+2]
		if bigramsA[bg] > 0 {
			bigramsA[bg]--
			intersection++
		}
	}

	totalA := len(a) - 1
	totalB := len(b) - 1
	return 2.0 * float64(intersection) / float64(totalA+totalB)
}

// FindSimilar returns up to maxResults corpus entries whose Dice similarity
// to candidate exceeds threshold, sorted by descending score. Ties keep
// corpus order so results are deterministic. The caller is expected to pass
// canonicalized strings on both sides; comparison itself is case-insensitive.
func FindSimilar(candidate string, corpus []string, maxResults int, threshold float64) []string {
	if candidate == "" || len(corpus) == 0 || maxResults <= 0 {
		return nil
	}

	lowered := strings.ToLower(candidate)

	type scored struct {
		entry string
		score float64
		pos   int
	}

	var matches []scored
	for i, entry := range corpus {
		score := Dice(lowered, strings.ToLower(entry))
		if score > threshold {
			matches = append(matches, scored{entry: entry, score: score, pos: i})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].pos < matches[j].pos
	})

	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}

	results := make([]string, len(matches))
	for i, m := range matches {
		results[i] = m.entry
	}
	return results
}

// BestMatch returns the single highest-scoring corpus entry and its score.
// Returns ("", 0) for an empty corpus.
func BestMatch(candidate string, corpus []string) (string, float64) {
	lowered := strings.ToLower(candidate)

	best := ""
	bestScore := 0.0
	for _, entry := range corpus {
		score := Dice(lowered, strings.ToLower(entry))
		if score > bestScore {
			best = entry
			bestScore = score
		}
	}
	return best, bestScore
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, s)
}

// countBigrams returns a multiset of the byte bigrams in s.
func countBigrams(s string) map[string]int {
	bigrams := make(map[string]int, len(s))
	for i := 0; i+2 <= len(s); i++ {
		bigrams[s[i:i+2]]++
	}
	return bigrams
}
