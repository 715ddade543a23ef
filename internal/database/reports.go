package database

import (
	"database/sql"
)

// InsertReport inserts or replaces the report for a period.
func (db *DB) InsertReport(r Report) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT OR REPLACE INTO reports
		(period_id, tldr, body_markdown, threat_count, alert_count, pattern_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.PeriodID, r.TLDR, r.BodyMarkdown, r.ThreatCount, r.AlertCount, r.PatternCount,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const reportColumns = `id, period_id, tldr, body_markdown, threat_count, alert_count, pattern_count, generated_at`

// GetReport returns the report for a period.
func (db *DB) GetReport(periodID string) (*Report, error) {
	row := db.conn.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE period_id = ?`, periodID)

	var r Report
	if err := row.Scan(&r.ID, &r.PeriodID, &r.TLDR, &r.BodyMarkdown,
		&r.ThreatCount, &r.AlertCount, &r.PatternCount, &r.GeneratedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// GetAllReports returns all reports ordered by period_id DESC.
func (db *DB) GetAllReports() ([]Report, error) {
	rows, err := db.conn.Query(`SELECT ` + reportColumns + ` FROM reports ORDER BY period_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.PeriodID, &r.TLDR, &r.BodyMarkdown,
			&r.ThreatCount, &r.AlertCount, &r.PatternCount, &r.GeneratedAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// InsertRun records that the pipeline ran for a period.
func (db *DB) InsertRun(periodID string, threatCount, alertCount int) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT OR REPLACE INTO run_reports (period_id, threat_count, alert_count)
		VALUES (?, ?, ?)`,
		periodID, threatCount, alertCount,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetLastRunDate returns the end date from the most recent run.
// Returns empty string if no runs exist.
func (db *DB) GetLastRunDate() (string, error) {
	row := db.conn.QueryRow(
		"SELECT period_id FROM run_reports ORDER BY period_id DESC LIMIT 1",
	)

	var periodID string
	if err := row.Scan(&periodID); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return PeriodEndDate(periodID), nil
}
