package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemo-dev/mnemo/internal/config"
	"github.com/mnemo-dev/mnemo/internal/graph"
	"github.com/mnemo-dev/mnemo/internal/memerr"
	"github.com/mnemo-dev/mnemo/internal/store"
)

// FactRecord is one summarizer-produced fact ready to become a memory.
type FactRecord struct {
	Content      string   `json:"content" validate:"required"`
	Concepts     []string `json:"concepts" validate:"required,min=1"`
	Details      string   `json:"details,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Location     string   `json:"location,omitempty"`
	Emotion      string   `json:"emotion,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Confidence   float64  `json:"confidence"`
}

// ParseStatus tags the outcome of parsing summarizer output.
type ParseStatus string

const (
	ParsedOK      ParseStatus = "ok"
	ParsedPartial ParseStatus = "partial"
	ParsedFailed  ParseStatus = "failed"
)

// ParseResult carries parsed fact records, or the raw text when nothing
// could be recovered.
type ParseResult struct {
	Status   ParseStatus
	Records  []FactRecord
	Warnings []string
	RawText  string
}

// ParseRecords extracts fact records from summarizer output: a JSON array of
// records, possibly wrapped in markdown fences or prose. Unusable elements
// are dropped with a warning; output with no usable array fails as a whole.
func ParseRecords(raw string) ParseResult {
	content := strings.TrimSpace(raw)
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	content = strings.TrimSpace(content)

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return ParseResult{Status: ParsedFailed, RawText: raw}
	}

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(content[start:end+1]), &elements); err != nil {
		return ParseResult{Status: ParsedFailed, RawText: raw}
	}

	result := ParseResult{Status: ParsedOK, RawText: raw}
	for i, el := range elements {
		var rec FactRecord
		if err := json.Unmarshal(el, &rec); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		if strings.TrimSpace(rec.Content) == "" || len(rec.Concepts) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("record %d: missing content or concepts", i))
			continue
		}
		result.Records = append(result.Records, rec)
	}

	if len(result.Records) == 0 {
		return ParseResult{Status: ParsedFailed, RawText: raw, Warnings: result.Warnings}
	}
	if len(result.Warnings) > 0 {
		result.Status = ParsedPartial
	}
	return result
}

// Formation turns fact records into graph mutations.
type Formation struct {
	cfg      config.FormationConfig
	log      *zap.Logger
	validate *validator.Validate
}

// NewFormation creates a formation service.
func NewFormation(cfg config.FormationConfig, log *zap.Logger) *Formation {
	return &Formation{
		cfg:      cfg,
		log:      log,
		validate: validator.New(),
	}
}

// Form applies one or more fact records to a group's graph and returns the
// new memory ids. Each record yields one memory on its first concept, plus
// reinforced pairwise connections between every co-mentioned concept.
func (f *Formation) Form(g *graph.Graph, records []FactRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, memerr.NewValidation("records", "must not be empty")
	}

	var ids []string
	for i := range records {
		rec := f.clean(records[i])
		if err := f.validate.Struct(rec); err != nil {
			return ids, validationError(err)
		}

		concepts := make([]*store.Concept, 0, len(rec.Concepts))
		for _, name := range rec.Concepts {
			c, created, err := g.AddConcept(name)
			if err != nil {
				return ids, err
			}
			if created {
				f.log.Debug("concept created",
					zap.String("group", g.Group()),
					zap.String("concept", c.Name))
			}
			concepts = append(concepts, c)
		}

		now := time.Now().UnixMilli()
		m := &store.Memory{
			ID:             uuid.NewString(),
			ConceptID:      concepts[0].ID,
			Content:        rec.Content,
			Details:        rec.Details,
			Participants:   strings.Join(rec.Participants, ", "),
			Location:       rec.Location,
			Emotion:        rec.Emotion,
			Tags:           strings.Join(rec.Tags, ", "),
			Strength:       clampUnit(rec.Confidence),
			Confidence:     clampUnit(rec.Confidence),
			CreatedAt:      now,
			LastAccessedAt: now,
		}
		if err := g.AddMemory(m); err != nil {
			return ids, err
		}
		ids = append(ids, m.ID)

		relation := ClassifyRelation(rec.Content + " " + rec.Details)
		for a := 0; a < len(concepts); a++ {
			for b := a + 1; b < len(concepts); b++ {
				if _, err := g.AddConnection(concepts[a].ID, concepts[b].ID, clampUnit(rec.Confidence), relation); err != nil {
					return ids, err
				}
			}
		}
	}
	return ids, nil
}

// FormRaw parses summarizer output and forms memories from it. A failed
// parse falls back to keyword extraction over the raw text rather than
// giving up.
func (f *Formation) FormRaw(g *graph.Graph, raw string) ([]string, ParseResult, error) {
	result := ParseRecords(raw)
	if result.Status == ParsedFailed {
		rec, ok := f.ExtractFallback(raw)
		if !ok {
			return nil, result, memerr.NewValidation("raw", "no fact records and no extractable keywords")
		}
		f.log.Warn("summarizer output unparseable, using keyword fallback",
			zap.String("group", g.Group()))
		ids, err := f.Form(g, []FactRecord{rec})
		return ids, result, err
	}
	for _, w := range result.Warnings {
		f.log.Warn("dropped summarizer record", zap.String("reason", w))
	}
	ids, err := f.Form(g, result.Records)
	return ids, result, err
}

// ExtractFallback builds a low-confidence record from free text by taking
// the most frequent non-stopword tokens as concepts.
func (f *Formation) ExtractFallback(text string) (FactRecord, bool) {
	tokens := tokenize(text)
	freq := make(map[string]int)
	for _, tok := range tokens {
		if stopwords[tok] {
			continue
		}
		freq[tok]++
	}
	if len(freq) == 0 {
		return FactRecord{}, false
	}

	type tokenCount struct {
		token string
		count int
	}
	ranked := make([]tokenCount, 0, len(freq))
	for tok, n := range freq {
		ranked = append(ranked, tokenCount{tok, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].token < ranked[j].token
	})

	max := f.cfg.MaxKeywords
	if max <= 0 {
		max = 5
	}
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	concepts := make([]string, len(ranked))
	for i, tc := range ranked {
		concepts[i] = tc.token
	}

	return FactRecord{
		Content:    text,
		Concepts:   concepts,
		Confidence: f.cfg.FallbackConfidence,
	}, true
}

// clean strips control characters, trims whitespace, caps lengths, and
// drops excess keywords.
func (f *Formation) clean(rec FactRecord) FactRecord {
	rec.Content = cleanText(rec.Content, f.cfg.MaxContentLen)
	rec.Details = cleanText(rec.Details, f.cfg.MaxContentLen)
	rec.Location = cleanText(rec.Location, 200)
	rec.Emotion = cleanText(rec.Emotion, 100)
	rec.Confidence = clampUnit(rec.Confidence)

	rec.Concepts = cleanList(rec.Concepts, 100)
	if f.cfg.MaxKeywords > 0 && len(rec.Concepts) > f.cfg.MaxKeywords {
		rec.Concepts = rec.Concepts[:f.cfg.MaxKeywords]
	}
	rec.Participants = cleanList(rec.Participants, 100)
	rec.Tags = cleanList(rec.Tags, 100)
	return rec
}

func cleanText(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(out)
		if len(runes) > maxLen {
			out = string(runes[:maxLen])
		}
	}
	return out
}

func cleanList(items []string, maxLen int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, item := range items {
		item = cleanText(item, maxLen)
		if item == "" || seen[strings.ToLower(item)] {
			continue
		}
		seen[strings.ToLower(item)] = true
		out = append(out, item)
	}
	return out
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		return memerr.NewValidation(strings.ToLower(first.Field()), "failed "+first.Tag()+" check")
	}
	return memerr.NewValidation("record", err.Error())
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"were": true, "this": true, "that": true, "with": true, "from": true,
	"have": true, "has": true, "had": true, "but": true, "not": true,
	"you": true, "your": true, "they": true, "their": true, "them": true,
	"she": true, "her": true, "his": true, "him": true, "its": true,
	"about": true, "into": true, "over": true, "after": true, "before": true,
	"then": true, "than": true, "when": true, "while": true, "where": true,
	"very": true, "just": true, "also": true, "been": true, "being": true,
	"will": true, "would": true, "could": true, "should": true, "there": true,
}
