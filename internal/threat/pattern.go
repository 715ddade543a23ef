package threat

// PatternType identifies which detector produced a Pattern.
type PatternType string

const (
	PatternCategoryCluster    PatternType = "category_cluster"
	PatternTemporalCluster    PatternType = "temporal_cluster"
	PatternSourceCorrelation  PatternType = "source_correlation"
	PatternSeverityEscalation PatternType = "severity_escalation"
)

// Coarse timeframe buckets for a group's elapsed span.
const (
	TimeframeWithinHour = "within_hour"
	TimeframeWithinDay  = "within_day"
	TimeframeWithinWeek = "within_week"
	TimeframeOverWeek   = "over_week"
)

// Pattern is a cluster of threats found in one batch. Patterns have no
// identity across runs.
type Pattern struct {
	Type            PatternType `json:"type"`
	Category        string      `json:"category"`
	Count           int         `json:"count"`
	Severity        float64     `json:"severity"`
	Timeframe       string      `json:"timeframe"`
	Confidence      float64     `json:"confidence"`
	Description     string      `json:"description"`
	Indicators      []string    `json:"indicators"`
	AffectedSectors []string    `json:"affectedSectors"`
	AttackVectors   []string    `json:"attackVectors"`
}
