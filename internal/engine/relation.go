package engine

import (
	"regexp"
	"strings"

	"github.com/mnemo-dev/mnemo/internal/store"
)

// relationCues maps each relation type to the connective phrases that signal
// it. Matching is whole-word and case-insensitive over the record's text.
var relationCues = map[store.RelationType][]string{
	store.RelationCausal:       {"because", "therefore", "caused", "causes", "due to", "leads to", "led to", "as a result", "so that"},
	store.RelationTemporal:     {"before", "after", "then", "while", "during", "when", "until", "later", "earlier", "meanwhile"},
	store.RelationHierarchical: {"is a", "kind of", "type of", "part of", "belongs to", "includes", "contains", "consists of"},
	store.RelationOppositional: {"but", "however", "instead", "unlike", "whereas", "opposite", "rather than", "contrary"},
	store.RelationSimilar:      {"like", "similar", "same as", "just as", "akin to", "resembles", "equivalent"},
}

// classifierOrder fixes the tie-break between relation types with equal
// scores.
var classifierOrder = []store.RelationType{
	store.RelationCausal,
	store.RelationHierarchical,
	store.RelationTemporal,
	store.RelationOppositional,
	store.RelationSimilar,
}

var cuePatterns = func() map[store.RelationType][]*regexp.Regexp {
	out := make(map[store.RelationType][]*regexp.Regexp, len(relationCues))
	for rel, cues := range relationCues {
		patterns := make([]*regexp.Regexp, 0, len(cues))
		for _, cue := range cues {
			patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(cue)+`\b`))
		}
		out[rel] = patterns
	}
	return out
}()

// ClassifyRelation infers the relation type for a concept pair from the text
// they co-occur in. The highest-scoring relation wins; text with no
// connective cues stays unclassified.
func ClassifyRelation(text string) store.RelationType {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.RelationUnclassified
	}

	best := store.RelationUnclassified
	bestScore := 0
	for _, rel := range classifierOrder {
		score := 0
		for _, p := range cuePatterns[rel] {
			score += len(p.FindAllStringIndex(text, -1))
		}
		if score > bestScore {
			best = rel
			bestScore = score
		}
	}
	return best
}
