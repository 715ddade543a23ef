package threat

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Well-known categories assigned by ingestion. Category is open-ended; these are
// the values the heuristics produce.
const (
	CategoryVulnerability = "vulnerability"
	CategoryMalware       = "malware"
	CategoryPhishing      = "phishing"
	CategoryAttack        = "attack"
	CategoryBreach        = "breach"
	CategoryRansomware    = "ransomware"
	CategoryGeneral       = "general"
)

// DefaultSeverity is used when a record carries no usable severity.
const DefaultSeverity = 0.5

// Record is a single intelligence item as produced by feed ingestion.
type Record struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	Severity    float64   `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
	Metadata    Metadata  `json:"metadata,omitempty"`
}

// Text returns the lower-cased title and description joined by a space.
func (r Record) Text() string {
	return strings.ToLower(r.Title + " " + r.Description)
}

// ClampSeverity bounds v to [0,1]. NaN maps to DefaultSeverity.
func ClampSeverity(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultSeverity
	}
	return min(max(v, 0), 1)
}

// UnmarshalJSON accepts severity as a number or numeric string; anything else
// falls back to DefaultSeverity. The result is always clamped.
func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	aux := struct {
		*alias
		Severity json.RawMessage `json:"severity"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Severity = parseSeverity(aux.Severity)
	return nil
}

func parseSeverity(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return DefaultSeverity
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return ClampSeverity(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return ClampSeverity(f)
		}
	}
	return DefaultSeverity
}
