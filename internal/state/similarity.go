package state

import "strings"

// isSimilarFinding reports whether two finding texts describe the same issue.
// An exact normalized match counts; otherwise the significant words of the
// two texts must overlap by at least half of the smaller set.
func isSimilarFinding(existing, incoming string) bool {
	if normalizeForComparison(existing) == normalizeForComparison(incoming) {
		return true
	}

	existingWords := significantWords(existing)
	incomingWords := significantWords(incoming)
	if len(existingWords) == 0 || len(incomingWords) == 0 {
		return false
	}

	intersection := 0
	for w := range existingWords {
		if incomingWords[w] {
			intersection++
		}
	}

	smaller := len(existingWords)
	if len(incomingWords) < smaller {
		smaller = len(incomingWords)
	}

	return float64(intersection)/float64(smaller) >= 0.5
}

// normalizeForComparison lowercases and collapses everything that is not a
// letter or digit into single spaces.
func normalizeForComparison(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Split(normalizeForComparison(text), " ") {
		if len(w) > 2 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true, "can": true,
	"need": true, "dare": true, "ought": true, "used": true, "to": true,
	"of": true, "in": true, "for": true, "on": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "into": true,
	"through": true, "during": true, "before": true, "after": true, "above": true,
	"below": true, "between": true, "under": true, "again": true, "further": true,
	"then": true, "once": true, "here": true, "there": true, "when": true,
	"where": true, "why": true, "how": true, "all": true, "each": true,
	"few": true, "more": true, "most": true, "other": true, "some": true,
	"such": true, "no": true, "nor": true, "not": true, "only": true,
	"own": true, "same": true, "so": true, "than": true, "too": true,
	"very": true, "just": true, "and": true, "but": true, "if": true,
	"or": true, "because": true, "until": true, "while": true, "this": true,
	"that": true, "these": true, "those": true,
}
