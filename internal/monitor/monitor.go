// Package monitor turns scored threats into alerts and manages their
// lifecycle.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/TobiSchelling/ThreatWatch/internal/broadcast"
	"github.com/TobiSchelling/ThreatWatch/internal/database"
	"github.com/TobiSchelling/ThreatWatch/internal/metrics"
	"github.com/TobiSchelling/ThreatWatch/internal/scoring"
	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

const (
	DefaultAlertPriority    = 0.6
	DefaultCriticalSeverity = 0.8
)

var (
	// ErrAlertNotFound is returned when a status change targets a missing alert.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidStatus is returned for a status outside the alert lifecycle.
	ErrInvalidStatus = errors.New("invalid alert status")
)

// Options configures a Monitor.
type Options struct {
	AlertPriority    float64
	CriticalSeverity float64
	SeenCapacity     int
	Metrics          *metrics.Metrics
}

// Result holds the results of processing a batch.
type Result struct {
	Processed int
	Skipped   int
	Critical  int
	Alerts    []database.Alert
}

// Monitor scores incoming threats, raises alerts for significant ones, and
// broadcasts alert events.
type Monitor struct {
	db       *database.DB
	scorer   *scoring.Scorer
	pub      broadcast.Publisher
	metrics  *metrics.Metrics
	seen     *seenCache
	priority float64
	critical float64
	newID    func() string
}

// New creates a monitor. A nil publisher discards events.
func New(db *database.DB, scorer *scoring.Scorer, pub broadcast.Publisher, opts Options) *Monitor {
	if pub == nil {
		pub = broadcast.Nop{}
	}
	if opts.AlertPriority <= 0 {
		opts.AlertPriority = DefaultAlertPriority
	}
	if opts.CriticalSeverity <= 0 {
		opts.CriticalSeverity = DefaultCriticalSeverity
	}
	return &Monitor{
		db:       db,
		scorer:   scorer,
		pub:      pub,
		metrics:  opts.Metrics,
		seen:     newSeenCache(opts.SeenCapacity),
		priority: opts.AlertPriority,
		critical: opts.CriticalSeverity,
		newID:    uuid.NewString,
	}
}

// Process evaluates each record once. Records already seen, or already
// alerted in an earlier run, are skipped. A record whose priority exceeds the
// alert priority produces a persisted, broadcast alert.
func (m *Monitor) Process(ctx context.Context, records []threat.Record) (*Result, error) {
	r := &Result{}
	for _, rec := range records {
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		if m.seen.visit(rec.ID) {
			r.Skipped++
			continue
		}
		exists, err := m.db.HasAlertForThreat(rec.ID)
		if err != nil {
			m.seen.forget(rec.ID)
			return r, fmt.Errorf("checking alerts for %s: %w", rec.ID, err)
		}
		if exists {
			r.Skipped++
			continue
		}
		r.Processed++

		score := m.scorer.Score(rec)
		if score.Priority <= m.priority {
			continue
		}

		alert := database.Alert{
			ID:          m.newID(),
			ThreatID:    rec.ID,
			Title:       rec.Title,
			Description: rec.Description,
			Category:    rec.Category,
			Severity:    score.Severity,
			Priority:    score.Priority,
			Status:      database.AlertNew,
			Score:       score,
		}
		if err := m.db.InsertAlert(alert); err != nil {
			m.seen.forget(rec.ID)
			return r, err
		}
		r.Alerts = append(r.Alerts, alert)
		m.metrics.AlertRaised(alert.Category)

		for _, ch := range broadcast.AlertChannels(alert.Category, alert.Severity) {
			if err := m.pub.Publish(ctx, ch, alert); err != nil {
				log.Printf("Failed to broadcast alert %s: %v", alert.ID, err)
			}
		}

		if score.Severity > m.critical {
			r.Critical++
			log.Printf("Critical threat detected: %s (severity %.2f, source %s)",
				rec.ID, score.Severity, rec.Source)
		}
	}
	return r, nil
}

// PublishPatterns broadcasts the patterns detected for a period.
func (m *Monitor) PublishPatterns(ctx context.Context, periodID string, patterns []threat.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	event := struct {
		PeriodID string           `json:"periodId"`
		Patterns []threat.Pattern `json:"patterns"`
	}{periodID, patterns}
	return m.pub.Publish(ctx, broadcast.ChannelThreatPatterns, event)
}

// Acknowledge marks an alert acknowledged by user.
func (m *Monitor) Acknowledge(ctx context.Context, id, user string) (*database.Alert, error) {
	var assignee *string
	if user != "" {
		assignee = &user
	}
	return m.SetStatus(ctx, id, database.AlertAcknowledged, nil, assignee)
}

// SetStatus moves an alert to status, optionally recording notes and an
// assignee, and broadcasts the updated alert.
func (m *Monitor) SetStatus(ctx context.Context, id, status string, notes, assignee *string) (*database.Alert, error) {
	if !database.ValidAlertStatus(status) {
		return nil, fmt.Errorf("%w %q", ErrInvalidStatus, status)
	}
	ok, err := m.db.UpdateAlertStatus(id, status, notes, assignee)
	if err != nil {
		return nil, fmt.Errorf("updating alert %s: %w", id, err)
	}
	if !ok {
		return nil, ErrAlertNotFound
	}
	alert, err := m.db.GetAlert(id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, ErrAlertNotFound
	}

	if err := m.pub.Publish(ctx, broadcast.ChannelAlertUpdated, alert); err != nil {
		log.Printf("Failed to broadcast update of %s: %v", id, err)
	}
	log.Printf("Alert %s status updated to %s", id, status)
	return alert, nil
}
