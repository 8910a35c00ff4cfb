package consensus

import (
	"regexp"
	"strings"

	"github.com/driftline/pattern-cli/internal/model"
)

// descriptionKeywords reward descriptions that explain what the pattern
// imitates, what it catches, how it fishes, and where it came from.
var descriptionKeywords = []string{
	"imitat", "represent", "suggest",
	"effective", "productive", "deadly",
	"trout", "bass", "salmon", "steelhead", "panfish", "grayling",
	"dead drift", "swing", "strip", "retrieve", "twitch",
	"originat", "developed", "invented", "created by", "designed by",
}

// fillerOpeners are conversational openings that signal transcript noise
// rather than a written description.
var fillerOpeners = []string{
	"in this video", "hey guys", "hey everyone", "welcome back",
	"today we", "today i", "what's up", "hi everyone", "alright",
	"so today", "thanks for watching",
}

var wsRe = regexp.MustCompile(`\s+`)

// bestDescription picks the highest-quality description across the cluster,
// keeping the first on ties.
func bestDescription(records []model.ExtractedRecord) string {
	var winner string
	best := -1
	for _, r := range records {
		if r.Description == "" {
			continue
		}
		if s := descriptionQuality(r.Description); s > best {
			best = s
			winner = r.Description
		}
	}
	return winner
}

// descriptionQuality scores a description: length in the [100,500) character
// band counts, domain keywords count, and a clean (non-filler) opening counts.
func descriptionQuality(desc string) int {
	score := 0
	if n := len(desc); n >= 100 && n < 500 {
		score += 2
	}

	lower := strings.ToLower(desc)
	for _, kw := range descriptionKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}

	opensClean := true
	for _, f := range fillerOpeners {
		if strings.HasPrefix(strings.TrimSpace(lower), f) {
			opensClean = false
			break
		}
	}
	if opensClean {
		score++
	}
	return score
}

func normalizeVariationName(name string) string {
	return wsRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), " ")
}

// mergeVariations merges variations across records, deduping by normalized
// name and keeping the longer description on conflict.
func mergeVariations(records []model.ExtractedRecord) []model.Variation {
	seen := make(map[string]int)
	var out []model.Variation
	for _, r := range records {
		for _, v := range r.Variations {
			key := normalizeVariationName(v.Name)
			if key == "" {
				continue
			}
			if i, ok := seen[key]; ok {
				if len(v.Description) > len(out[i].Description) {
					out[i].Description = v.Description
				}
				continue
			}
			seen[key] = len(out)
			out = append(out, v)
		}
	}
	return out
}

// mergeSubstitutions merges substitutions across records, deduping by the
// (original, substitute) pair.
func mergeSubstitutions(records []model.ExtractedRecord) []model.Substitution {
	type pair struct{ orig, sub string }
	seen := make(map[pair]struct{})
	var out []model.Substitution
	for _, r := range records {
		for _, s := range r.Substitutions {
			key := pair{
				orig: strings.ToLower(strings.TrimSpace(s.Original)),
				sub:  strings.ToLower(strings.TrimSpace(s.Substitute)),
			}
			if key.orig == "" || key.sub == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// selectSteps picks the single most complete step list instead of aligning
// steps across sources, which is unreliable. Completeness is step count
// weighted heavily plus total instruction length. The winner is renumbered
// sequentially.
func selectSteps(records []model.ExtractedRecord) []model.TyingStep {
	var winner []model.TyingStep
	best := -1
	for _, r := range records {
		if len(r.Steps) == 0 {
			continue
		}
		score := len(r.Steps) * 10
		for _, s := range r.Steps {
			score += len(s.Instruction)
		}
		if score > best {
			best = score
			winner = r.Steps
		}
	}
	if winner == nil {
		return nil
	}

	out := make([]model.TyingStep, len(winner))
	for i, s := range winner {
		out[i] = model.TyingStep{Number: i + 1, Instruction: s.Instruction}
	}
	return out
}
