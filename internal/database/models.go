package database

import (
	"slices"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

// StoredThreat is a collected threat plus its bookkeeping columns.
type StoredThreat struct {
	threat.Record
	PeriodID    string  `json:"periodId,omitempty"`
	Enriched    bool    `json:"enriched"`
	CollectedAt *string `json:"collectedAt,omitempty"`
}

// ThreatScore holds the stored scores for a threat.
type ThreatScore struct {
	ThreatID string `json:"threatId"`
	threat.Score
	Relevant bool    `json:"relevant"`
	ScoredAt *string `json:"scoredAt,omitempty"`
}

// ScoreStats contains filter statistics for a period.
type ScoreStats struct {
	Total    int
	Relevant int
	Noise    int
}

// RelatedThreat is one neighbour of a threat in the relationship graph.
type RelatedThreat struct {
	Threat       threat.Record       `json:"threat"`
	Relationship threat.Relationship `json:"relationship"`
}

// NetworkNode is the summary of a threat shown in a graph view.
type NetworkNode struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Category  string  `json:"category"`
	Severity  float64 `json:"severity"`
	Timestamp string  `json:"timestamp"`
}

// NetworkEdge connects two nodes of a Network.
type NetworkEdge struct {
	Source           string                  `json:"source"`
	Target           string                  `json:"target"`
	RelationshipType threat.RelationshipType `json:"relationshipType"`
	Confidence       float64                 `json:"confidence"`
}

// Network is the subgraph touching a set of threats.
type Network struct {
	Nodes []NetworkNode `json:"nodes"`
	Edges []NetworkEdge `json:"edges"`
}

// ThreatConnections counts outgoing edges for one threat.
type ThreatConnections struct {
	ThreatID          string `json:"threatId"`
	RelationshipCount int    `json:"relationshipCount"`
}

// GraphStats summarises the stored relationship graph.
type GraphStats struct {
	TotalRelationships  int                 `json:"totalRelationships"`
	RelationshipsByType map[string]int      `json:"relationshipsByType"`
	AverageConfidence   float64             `json:"averageConfidence"`
	TopThreats          []ThreatConnections `json:"topThreats"`
}

// StoredPattern is a detected pattern saved for a period.
type StoredPattern struct {
	ID       int64  `json:"id"`
	PeriodID string `json:"periodId"`
	threat.Pattern
	DetectedAt *string `json:"detectedAt,omitempty"`
}

// Alert statuses.
const (
	AlertNew           = "new"
	AlertAcknowledged  = "acknowledged"
	AlertInvestigating = "investigating"
	AlertResolved      = "resolved"
	AlertFalsePositive = "false_positive"
)

// AlertStatuses lists every alert status in lifecycle order.
var AlertStatuses = []string{AlertNew, AlertAcknowledged, AlertInvestigating, AlertResolved, AlertFalsePositive}

// ValidAlertStatus reports whether s is a known alert status.
func ValidAlertStatus(s string) bool {
	return slices.Contains(AlertStatuses, s)
}

// Alert is raised for a high-priority threat.
type Alert struct {
	ID          string       `json:"id"`
	ThreatID    string       `json:"threatId"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Category    string       `json:"category"`
	Severity    float64      `json:"severity"`
	Priority    float64      `json:"priority"`
	Status      string       `json:"status"`
	AssignedTo  *string      `json:"assignedTo,omitempty"`
	Notes       *string      `json:"notes,omitempty"`
	Score       threat.Score `json:"score"`
	CreatedAt   *string      `json:"createdAt,omitempty"`
	UpdatedAt   *string      `json:"updatedAt,omitempty"`
}

// AlertFilter narrows GetAlerts. Zero values match everything.
type AlertFilter struct {
	Status      string
	Category    string
	PeriodID    string
	MinSeverity float64
	Limit       int
}

// Threat list orderings accepted by ThreatFilter.Sort.
const (
	SortTimestamp = "timestamp"
	SortSeverity  = "severity"
	SortPriority  = "priority"
)

// ThreatFilter narrows GetThreats. Zero values match everything; an empty
// Sort lists newest first.
type ThreatFilter struct {
	Category    string
	Source      string
	MinSeverity float64
	Search      string
	Sort        string
	Limit       int
}

// ValidThreatSort reports whether s is an accepted ThreatFilter.Sort value.
func ValidThreatSort(s string) bool {
	switch s {
	case "", SortTimestamp, SortSeverity, SortPriority:
		return true
	}
	return false
}

// Report is a markdown digest for a period.
type Report struct {
	ID           int64   `json:"id"`
	PeriodID     string  `json:"periodId"`
	TLDR         string  `json:"tldr"`
	BodyMarkdown string  `json:"bodyMarkdown"`
	ThreatCount  int     `json:"threatCount"`
	AlertCount   int     `json:"alertCount"`
	PatternCount int     `json:"patternCount"`
	GeneratedAt  *string `json:"generatedAt,omitempty"`
}

// FeedState records the last fetch of a feed.
type FeedState struct {
	FeedID    string `json:"feedId"`
	LastFetch string `json:"lastFetch"`
	LastCount int    `json:"lastCount"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalThreats       int `json:"totalThreats"`
	ScoredThreats      int `json:"scoredThreats"`
	RelevantThreats    int `json:"relevantThreats"`
	PeriodsWithThreats int `json:"periodsWithThreats"`
	Relationships      int `json:"relationships"`
	Patterns           int `json:"patterns"`
	Alerts             int `json:"alerts"`
	OpenAlerts         int `json:"openAlerts"`
	Reports            int `json:"reports"`
}

// MonitoringStats is the dashboard overview of stored threats.
type MonitoringStats struct {
	Total      int             `json:"total"`
	Critical   int             `json:"critical"`
	High       int             `json:"high"`
	Medium     int             `json:"medium"`
	Low        int             `json:"low"`
	ByCategory map[string]int  `json:"byCategory"`
	BySource   map[string]int  `json:"bySource"`
	Recent     []threat.Record `json:"recent"`
}
