package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const alertColumns = `a.id, a.threat_id, a.title, a.description, a.category, a.severity,
	a.priority, a.status, a.assigned_to, a.notes, a.metadata, a.created_at, a.updated_at`

// InsertAlert stores a new alert.
func (db *DB) InsertAlert(a Alert) error {
	if a.Status == "" {
		a.Status = AlertNew
	}
	if !ValidAlertStatus(a.Status) {
		return fmt.Errorf("invalid alert status %q", a.Status)
	}
	meta, err := json.Marshal(a.Score)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		`INSERT INTO alerts
		(id, threat_id, title, description, category, severity, priority, status, assigned_to, notes, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ThreatID, a.Title, a.Description, a.Category, a.Severity, a.Priority,
		a.Status, a.AssignedTo, a.Notes, string(meta),
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// GetAlert returns a single alert by ID, or nil if missing.
func (db *DB) GetAlert(id string) (*Alert, error) {
	rows, err := db.conn.Query(`SELECT `+alertColumns+` FROM alerts a WHERE a.id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	alerts, err := scanAlerts(rows)
	if err != nil || len(alerts) == 0 {
		return nil, err
	}
	return &alerts[0], nil
}

// GetAlerts returns alerts matching the filter, highest priority first.
func (db *DB) GetAlerts(f AlertFilter) ([]Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts a`
	var where []string
	var args []any
	if f.PeriodID != "" {
		query += " JOIN threats t ON t.id = a.threat_id"
		where = append(where, "t.period_id = ?")
		args = append(args, f.PeriodID)
	}
	if f.Status != "" {
		where = append(where, "a.status = ?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		where = append(where, "a.category = ?")
		args = append(args, f.Category)
	}
	if f.MinSeverity > 0 {
		where = append(where, "a.severity >= ?")
		args = append(args, f.MinSeverity)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.priority DESC, a.created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// HasAlertForThreat reports whether any alert was raised for the threat.
func (db *DB) HasAlertForThreat(threatID string) (bool, error) {
	var n int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM alerts WHERE threat_id = ?", threatID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateAlertStatus sets the status and, when given, the notes and assignee.
// Returns false if no alert has that ID.
func (db *DB) UpdateAlertStatus(id, status string, notes, assignedTo *string) (bool, error) {
	if !ValidAlertStatus(status) {
		return false, fmt.Errorf("invalid alert status %q", status)
	}
	sets := []string{"status = ?", "updated_at = datetime('now')"}
	args := []any{status}
	if notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *notes)
	}
	if assignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		args = append(args, *assignedTo)
	}
	args = append(args, id)

	result, err := db.conn.Exec(
		"UPDATE alerts SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanAlerts(rows *sql.Rows) ([]Alert, error) {
	var alerts []Alert
	for rows.Next() {
		var a Alert
		var desc, category, meta *string
		if err := rows.Scan(&a.ID, &a.ThreatID, &a.Title, &desc, &category, &a.Severity,
			&a.Priority, &a.Status, &a.AssignedTo, &a.Notes, &meta, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if desc != nil {
			a.Description = *desc
		}
		if category != nil {
			a.Category = *category
		}
		if meta != nil {
			_ = json.Unmarshal([]byte(*meta), &a.Score)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
