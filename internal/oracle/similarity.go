package oracle

import "strings"

// DefaultMatchThreshold is the similarity above which a new activity is
// considered to complete an open todo. Tunable configuration, not an
// invariant - the heuristic is not correct by construction.
const DefaultMatchThreshold = 0.72

// Similarity computes normalized trigram overlap between two texts in [0,1].
// Dice coefficient over character trigrams of the lowercased, space-collapsed
// text. Cheap, language-agnostic, and stable - good enough for the
// todo-completion heuristic it serves.
func Similarity(a, b string) float64 {
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		if normalizeText(a) == normalizeText(b) && normalizeText(a) != "" {
			return 1
		}
		return 0
	}

	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ta)+len(tb))
}

func trigrams(s string) map[string]bool {
	n := normalizeText(s)
	runes := []rune(n)
	if len(runes) < 3 {
		return nil
	}
	set := make(map[string]bool, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = true
	}
	return set
}

func normalizeText(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
