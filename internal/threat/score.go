package threat

// Score is the derived assessment of one record. It is computed fresh on every
// call and never cached.
type Score struct {
	Relevance  float64 `json:"relevance"`
	Severity   float64 `json:"severity"`
	Confidence float64 `json:"confidence"`
	Priority   float64 `json:"priority"`
}

// PriorityOf combines the three component scores into a priority.
func PriorityOf(relevance, severity, confidence float64) float64 {
	return min(relevance*0.4+severity*0.4+confidence*0.2, 1.0)
}

// DefaultScore is returned when scoring a record fails internally.
func DefaultScore() Score {
	return Score{
		Relevance:  0.5,
		Severity:   0.5,
		Confidence: 0.5,
		Priority:   PriorityOf(0.5, 0.5, 0.5),
	}
}
