package scoring

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

// DefaultRelevanceThreshold is the relevance a record must exceed to survive
// noise filtering.
const DefaultRelevanceThreshold = 0.3

// fallbackScore is the value each component falls back to on internal failure.
const fallbackScore = 0.5

// Scorer derives relevance, severity, confidence, and priority for threat
// records from keyword tables. It holds no mutable state and is safe for
// concurrent use.
type Scorer struct {
	tables    Tables
	threshold float64
}

// New creates a scorer over the given tables. A non-positive threshold selects
// DefaultRelevanceThreshold.
func New(tables Tables, relevanceThreshold float64) *Scorer {
	if relevanceThreshold <= 0 {
		relevanceThreshold = DefaultRelevanceThreshold
	}
	return &Scorer{tables: normalize(tables), threshold: relevanceThreshold}
}

// Threshold returns the relevance cut-off used by FilterNoise.
func (s *Scorer) Threshold() float64 { return s.threshold }

// Score computes all four scores for a record. It never panics; if anything
// goes wrong the default score is returned.
func (s *Scorer) Score(r threat.Record) (score threat.Score) {
	defer func() {
		if recover() != nil {
			score = threat.DefaultScore()
		}
	}()

	text := r.Text()
	relevance := s.relevance(text)
	severity := s.severity(text, r.Source)
	confidence := s.confidence(r)
	return threat.Score{
		Relevance:  relevance,
		Severity:   severity,
		Confidence: confidence,
		Priority:   threat.PriorityOf(relevance, severity, confidence),
	}
}

// Relevance scores topical significance from keywords and sentiment.
func (s *Scorer) Relevance(r threat.Record) (relevance float64) {
	defer func() {
		if recover() != nil {
			relevance = fallbackScore
		}
	}()
	return s.relevance(r.Text())
}

// FilterNoise keeps the records whose relevance exceeds the threshold, in
// their original order, and reports how many were dropped.
func (s *Scorer) FilterNoise(records []threat.Record) ([]threat.Record, int) {
	kept := make([]threat.Record, 0, len(records))
	for _, r := range records {
		if s.Relevance(r) > s.threshold {
			kept = append(kept, r)
		}
	}
	return kept, len(records) - len(kept)
}

// Credibility maps a source name or URL to its credibility multiplier.
func (s *Scorer) Credibility(source string) float64 {
	src := strings.ToLower(source)
	for _, tier := range s.tables.Credibility.Tiers {
		if containsAny(src, tier.Sources) {
			return tier.Score
		}
	}
	return s.tables.Credibility.Default
}

// Sentiment sums word valences of text.
func (s *Scorer) Sentiment(text string) int {
	total := 0
	for _, word := range tokenize(strings.ToLower(text)) {
		total += s.tables.Sentiment[word]
	}
	return total
}

func (s *Scorer) relevance(text string) float64 {
	score := 0.0
	for _, group := range s.tables.Relevance.Groups {
		for _, kw := range group.Keywords {
			if kw != "" && strings.Contains(text, kw) {
				score += group.Weight
			}
		}
	}
	if s.Sentiment(text) < s.tables.Relevance.NegativeSentimentThreshold {
		score += s.tables.Relevance.NegativeSentimentBonus
	}
	return min(score, 1.0)
}

func (s *Scorer) severity(text, source string) float64 {
	score := s.tables.Severity.Default
	for _, tier := range s.tables.Severity.Tiers {
		if containsAny(text, tier.Keywords) {
			score = tier.Score
			break
		}
	}
	return min(score*s.Credibility(source), 1.0)
}

func (s *Scorer) confidence(r threat.Record) float64 {
	c := s.tables.Confidence
	score := c.Base
	if r.Title != "" && r.Description != "" {
		score += c.CompleteBonus
	}
	if len(r.Metadata) > 0 {
		score += c.MetadataBonus
	}
	score += s.Credibility(r.Source) * c.CredibilityWeight
	if utf8.RuneCountInString(r.Description) < c.ShortDescriptionLength {
		score -= c.ShortDescriptionPenalty
	}
	return max(c.Floor, min(score, c.Ceiling))
}

// normalize lower-cases every keyword and source so matching against
// lower-cased text is case-insensitive. The caller's tables are not modified.
func normalize(t Tables) Tables {
	groups := make([]KeywordGroup, len(t.Relevance.Groups))
	for i, g := range t.Relevance.Groups {
		g.Keywords = lowerAll(g.Keywords)
		groups[i] = g
	}
	t.Relevance.Groups = groups

	tiers := make([]SeverityTier, len(t.Severity.Tiers))
	for i, tier := range t.Severity.Tiers {
		tier.Keywords = lowerAll(tier.Keywords)
		tiers[i] = tier
	}
	t.Severity.Tiers = tiers

	cred := make([]CredibilityTier, len(t.Credibility.Tiers))
	for i, tier := range t.Credibility.Tiers {
		tier.Sources = lowerAll(tier.Sources)
		cred[i] = tier
	}
	t.Credibility.Tiers = cred

	lexicon := make(map[string]int, len(t.Sentiment))
	for w, v := range t.Sentiment {
		lexicon[strings.ToLower(w)] = v
	}
	t.Sentiment = lexicon
	return t
}

func lowerAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToLower(strings.TrimSpace(w))
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// tokenize splits on anything that is not a letter, digit, apostrophe, or hyphen.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}
