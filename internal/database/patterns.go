package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

// ReplacePatterns swaps the stored patterns for a period with a new set.
// Patterns have no identity across runs, so the old set is dropped.
func (db *DB) ReplacePatterns(periodID string, patterns []threat.Pattern) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM threat_patterns WHERE period_id = ?", periodID); err != nil {
		return fmt.Errorf("clearing patterns: %w", err)
	}

	for _, p := range patterns {
		indicators, _ := json.Marshal(nonNil(p.Indicators))
		sectors, _ := json.Marshal(nonNil(p.AffectedSectors))
		vectors, _ := json.Marshal(nonNil(p.AttackVectors))
		if _, err := tx.Exec(
			`INSERT INTO threat_patterns
			(period_id, pattern_type, category, count, severity, timeframe, confidence,
			 description, indicators, affected_sectors, attack_vectors)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			periodID, string(p.Type), p.Category, p.Count, p.Severity, p.Timeframe,
			p.Confidence, p.Description, string(indicators), string(sectors), string(vectors),
		); err != nil {
			return fmt.Errorf("storing pattern: %w", err)
		}
	}
	return tx.Commit()
}

// GetPatternsForPeriod returns a period's patterns in detection order.
func (db *DB) GetPatternsForPeriod(periodID string) ([]StoredPattern, error) {
	rows, err := db.conn.Query(
		`SELECT id, period_id, pattern_type, category, count, severity, timeframe, confidence,
		description, indicators, affected_sectors, attack_vectors, detected_at
		FROM threat_patterns WHERE period_id = ? ORDER BY id ASC`, periodID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPatterns(rows)
}

// GetLatestPatterns returns the patterns of the most recent period that has
// any.
func (db *DB) GetLatestPatterns() ([]StoredPattern, error) {
	var periodID string
	err := db.conn.QueryRow(
		"SELECT period_id FROM threat_patterns ORDER BY period_id DESC LIMIT 1",
	).Scan(&periodID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return db.GetPatternsForPeriod(periodID)
}

func scanPatterns(rows *sql.Rows) ([]StoredPattern, error) {
	var patterns []StoredPattern
	for rows.Next() {
		var p StoredPattern
		var typ string
		var indicators, sectors, vectors *string
		if err := rows.Scan(&p.ID, &p.PeriodID, &typ, &p.Category, &p.Count, &p.Severity,
			&p.Timeframe, &p.Confidence, &p.Description, &indicators, &sectors, &vectors,
			&p.DetectedAt); err != nil {
			return nil, err
		}
		p.Type = threat.PatternType(typ)
		p.Indicators = decodeStrings(indicators)
		p.AffectedSectors = decodeStrings(sectors)
		p.AttackVectors = decodeStrings(vectors)
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func decodeStrings(s *string) []string {
	out := []string{}
	if s == nil {
		return out
	}
	if err := json.Unmarshal([]byte(*s), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
