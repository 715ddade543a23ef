package scoring

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTablesYAML []byte

// Tables holds every keyword list, weight, and lexicon the scorer consults.
type Tables struct {
	Relevance   RelevanceTable   `yaml:"relevance"`
	Severity    SeverityTable    `yaml:"severity"`
	Credibility CredibilityTable `yaml:"credibility"`
	Confidence  ConfidenceTable  `yaml:"confidence"`
	Sentiment   map[string]int   `yaml:"sentiment"`
}

type RelevanceTable struct {
	Groups                     []KeywordGroup `yaml:"groups"`
	NegativeSentimentThreshold int            `yaml:"negative_sentiment_threshold"`
	NegativeSentimentBonus     float64        `yaml:"negative_sentiment_bonus"`
}

// KeywordGroup adds Weight once for every keyword found in the text.
type KeywordGroup struct {
	Name     string   `yaml:"name"`
	Weight   float64  `yaml:"weight"`
	Keywords []string `yaml:"keywords"`
}

// SeverityTable tiers are checked in order; the first tier with a match wins.
type SeverityTable struct {
	Default float64        `yaml:"default"`
	Tiers   []SeverityTier `yaml:"tiers"`
}

type SeverityTier struct {
	Name     string   `yaml:"name"`
	Score    float64  `yaml:"score"`
	Keywords []string `yaml:"keywords"`
}

// CredibilityTable maps source substrings to a credibility multiplier.
type CredibilityTable struct {
	Default float64           `yaml:"default"`
	Tiers   []CredibilityTier `yaml:"tiers"`
}

type CredibilityTier struct {
	Name    string   `yaml:"name"`
	Score   float64  `yaml:"score"`
	Sources []string `yaml:"sources"`
}

type ConfidenceTable struct {
	Base                    float64 `yaml:"base"`
	CompleteBonus           float64 `yaml:"complete_bonus"`
	MetadataBonus           float64 `yaml:"metadata_bonus"`
	CredibilityWeight       float64 `yaml:"credibility_weight"`
	ShortDescriptionLength  int     `yaml:"short_description_length"`
	ShortDescriptionPenalty float64 `yaml:"short_description_penalty"`
	Floor                   float64 `yaml:"floor"`
	Ceiling                 float64 `yaml:"ceiling"`
}

// DefaultTables returns the built-in tables.
func DefaultTables() Tables {
	t, err := parseTables(defaultTablesYAML, Tables{})
	if err != nil {
		panic(fmt.Sprintf("scoring: embedded tables.yaml is invalid: %v", err))
	}
	return t
}

// LoadTables reads a YAML override file. Sections present in the file replace
// the defaults; sentiment entries are merged into the default lexicon.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("reading scoring tables: %w", err)
	}
	return parseTables(data, DefaultTables())
}

func parseTables(data []byte, base Tables) (Tables, error) {
	t := base
	if base.Sentiment != nil {
		t.Sentiment = make(map[string]int, len(base.Sentiment))
		for k, v := range base.Sentiment {
			t.Sentiment[k] = v
		}
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tables{}, fmt.Errorf("parsing scoring tables: %w", err)
	}
	return t, nil
}
