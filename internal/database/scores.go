package database

import (
	"database/sql"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

// InsertScore inserts or replaces the scores for a threat.
func (db *DB) InsertScore(threatID string, s threat.Score, relevant bool) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO threat_scores
		(threat_id, relevance, severity, confidence, priority, relevant)
		VALUES (?, ?, ?, ?, ?, ?)`,
		threatID, s.Relevance, s.Severity, s.Confidence, s.Priority, boolInt(relevant),
	)
	return err
}

// GetScore returns the stored scores for a threat, or nil if unscored.
func (db *DB) GetScore(threatID string) (*ThreatScore, error) {
	row := db.conn.QueryRow(
		`SELECT threat_id, relevance, severity, confidence, priority, relevant, scored_at
		FROM threat_scores WHERE threat_id = ?`, threatID,
	)

	var s ThreatScore
	var relevant int
	if err := row.Scan(&s.ThreatID, &s.Relevance, &s.Severity, &s.Confidence,
		&s.Priority, &relevant, &s.ScoredAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	s.Relevant = relevant != 0
	return &s, nil
}

// GetUnscoredThreats returns threats that haven't been scored yet.
func (db *DB) GetUnscoredThreats(periodID *string) ([]StoredThreat, error) {
	query := `SELECT ` + threatColumns + `
		FROM threats t LEFT JOIN threat_scores s ON t.id = s.threat_id
		WHERE s.threat_id IS NULL`
	var args []any
	if periodID != nil {
		query += " AND t.period_id = ?"
		args = append(args, *periodID)
	}
	query += " ORDER BY t.timestamp ASC, t.id ASC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanThreats(rows)
}

// GetRelevantThreats returns a period's threats that survived noise
// filtering, in timestamp order.
func (db *DB) GetRelevantThreats(periodID string) ([]StoredThreat, error) {
	rows, err := db.conn.Query(
		`SELECT `+threatColumns+`
		FROM threats t JOIN threat_scores s ON t.id = s.threat_id
		WHERE t.period_id = ? AND s.relevant = 1
		ORDER BY t.timestamp ASC, t.id ASC`, periodID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanThreats(rows)
}

// GetScoreStats returns filter statistics for a period.
func (db *DB) GetScoreStats(periodID string) (*ScoreStats, error) {
	row := db.conn.QueryRow(
		`SELECT
			COUNT(*) as total,
			SUM(CASE WHEN s.relevant = 1 THEN 1 ELSE 0 END) as relevant,
			SUM(CASE WHEN s.relevant = 0 THEN 1 ELSE 0 END) as noise
		FROM threat_scores s
		JOIN threats t ON t.id = s.threat_id
		WHERE t.period_id = ?`, periodID,
	)

	var s ScoreStats
	var relevant, noise *int
	if err := row.Scan(&s.Total, &relevant, &noise); err != nil {
		return nil, err
	}
	if relevant != nil {
		s.Relevant = *relevant
	}
	if noise != nil {
		s.Noise = *noise
	}
	return &s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
