// Package similarity implements the fuzzy string matching used to cluster
// pattern names and material names across sources.
package similarity

import (
	"strings"

	"github.com/agext/levenshtein"
)

// tokenMatchThreshold is the per-token score above which two tokens are
// considered the same word.
const tokenMatchThreshold = 0.8

// StringSimilarity returns a normalized edit-distance score in [0,1].
// Comparison is case-insensitive; identical strings score 1 and an empty
// string against a non-empty one scores 0.
func StringSimilarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	la := len([]rune(a))
	lb := len([]rune(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}

	dist := levenshtein.Distance(a, b, levenshtein.NewParams())
	return 1 - float64(dist)/float64(maxLen)
}

// Tokenize splits a string into lowercase tokens, keeping digits, apostrophes,
// slashes, periods and dashes inside tokens so that hook and thread sizes like
// "6/0" or "tmc-100" survive splitting.
func Tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' ||
			r == '\'' || r == '/' || r == '.' || r == '-' {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// TokenSimilarity scores two strings by token overlap. Each token is matched
// against its best counterpart on the other side; the two directional matched
// fractions are combined with a harmonic mean. This tolerates reordering and
// partial brand-name overlap ("Tiemco TMC 100" vs "TMC 100") that plain edit
// distance penalizes for length mismatch.
func TokenSimilarity(a, b string) float64 {
	ta := Tokenize(a)
	tb := Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	fracAB := matchedFraction(ta, tb)
	fracBA := matchedFraction(tb, ta)
	if fracAB == 0 || fracBA == 0 {
		return 0
	}
	return 2 * fracAB * fracBA / (fracAB + fracBA)
}

func matchedFraction(from, to []string) float64 {
	matched := 0
	for _, t := range from {
		best := 0.0
		for _, u := range to {
			if s := StringSimilarity(t, u); s > best {
				best = s
			}
		}
		if best >= tokenMatchThreshold {
			matched++
		}
	}
	return float64(matched) / float64(len(from))
}

// CombinedSimilarity takes the better of edit-distance and token-overlap
// scoring. Short strings favor edit distance, multi-word strings favor tokens.
func CombinedSimilarity(a, b string) float64 {
	s := StringSimilarity(a, b)
	if t := TokenSimilarity(a, b); t > s {
		return t
	}
	return s
}

// Match is the result of a best-match search.
type Match struct {
	Value string
	Index int
	Score float64
}

// FindBestMatch scans candidates linearly and returns the highest-scoring
// match by CombinedSimilarity, or ok=false when every candidate scores 0.
func FindBestMatch(needle string, candidates []string) (Match, bool) {
	best := Match{Index: -1}
	for i, c := range candidates {
		if s := CombinedSimilarity(needle, c); s > best.Score {
			best = Match{Value: c, Index: i, Score: s}
		}
	}
	if best.Index < 0 || best.Score == 0 {
		return Match{Index: -1}, false
	}
	return best, true
}

// ClusterStrings groups values by similarity using single-pass greedy seeding:
// the first unassigned value seeds a cluster and every later unassigned value
// scoring >= threshold against that seed joins it. The result is intentionally
// not a transitive closure: a value stays with the first seed it clears even
// if it scores higher against a later seed. Callers must not assume
// transitivity.
func ClusterStrings(values []string, threshold float64) [][]int {
	assigned := make([]bool, len(values))
	var clusters [][]int

	for i := range values {
		if assigned[i] {
			continue
		}
		cluster := []int{i}
		assigned[i] = true
		for j := i + 1; j < len(values); j++ {
			if assigned[j] {
				continue
			}
			if CombinedSimilarity(values[i], values[j]) >= threshold {
				cluster = append(cluster, j)
				assigned[j] = true
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}
