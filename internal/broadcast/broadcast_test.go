package broadcast

import (
	"context"
	"slices"
	"testing"

	"github.com/TobiSchelling/ThreatWatch/internal/config"
)

func TestAlertChannels(t *testing.T) {
	got := AlertChannels("ransomware", 0.9)
	want := []string{"new-alert", "category-alert:ransomware", "high-severity-alert"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	got = AlertChannels("phishing", 0.7)
	if slices.Contains(got, ChannelHighSeverityAlert) {
		t.Errorf("severity 0.7 should not reach the high-severity channel: %v", got)
	}
}

func TestQualify(t *testing.T) {
	if got := qualify("threatwatch", ChannelNewAlert); got != "threatwatch:new-alert" {
		t.Errorf("unexpected channel %q", got)
	}
	if got := qualify("", ChannelNewAlert); got != "new-alert" {
		t.Errorf("expected unprefixed channel, got %q", got)
	}
}

func TestNewSelectsNop(t *testing.T) {
	p, err := New(context.Background(), config.Broadcast{Mode: config.BroadcastNone})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(Nop); !ok {
		t.Errorf("expected Nop publisher, got %T", p)
	}
	if err := p.Publish(context.Background(), ChannelNewAlert, map[string]string{"id": "x"}); err != nil {
		t.Errorf("Nop publish failed: %v", err)
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(context.Background(), config.Broadcast{Mode: "kafka"}); err == nil {
		t.Error("expected error for unknown mode")
	}
}
