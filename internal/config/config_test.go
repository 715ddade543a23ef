package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Sources.Feeds) == 0 {
		t.Error("expected feeds to be populated")
	}

	if cfg.Scoring.RelevanceThreshold != 0.3 {
		t.Errorf("expected relevance threshold 0.3, got %v", cfg.Scoring.RelevanceThreshold)
	}

	if cfg.Monitor.Interval != 5*time.Minute {
		t.Errorf("expected interval 5m, got %v", cfg.Monitor.Interval)
	}

	if cfg.Broadcast.Mode != BroadcastNone {
		t.Errorf("expected broadcast mode 'none', got %q", cfg.Broadcast.Mode)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
}

func TestDefaultFeedsEnabledState(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	var cve, krebs *Feed
	for i := range cfg.Sources.Feeds {
		switch cfg.Sources.Feeds[i].Name {
		case "CVE Database":
			cve = &cfg.Sources.Feeds[i]
		case "Krebs on Security":
			krebs = &cfg.Sources.Feeds[i]
		}
	}
	if cve == nil || krebs == nil {
		t.Fatal("expected CVE Database and Krebs on Security feeds")
	}
	if cve.IsEnabled() || cve.Kind() != FeedCVEXML {
		t.Errorf("expected disabled cve_xml feed, got %+v", cve)
	}
	if !krebs.IsEnabled() || krebs.Kind() != FeedRSS {
		t.Errorf("expected enabled rss feed, got %+v", krebs)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
scoring:
  alert_priority: 0.75
broadcast:
  mode: redis
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Scoring.AlertPriority != 0.75 {
		t.Errorf("expected alert priority 0.75, got %v", cfg.Scoring.AlertPriority)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Scoring.SimilarityThreshold != 0.6 {
		t.Errorf("expected default similarity threshold, got %v", cfg.Scoring.SimilarityThreshold)
	}
	if cfg.Broadcast.Redis.Addr != "localhost:6379" {
		t.Errorf("expected default redis addr, got %q", cfg.Broadcast.Redis.Addr)
	}
	if cfg.Monitor.SeenCapacity != 10000 {
		t.Errorf("expected default seen capacity, got %d", cfg.Monitor.SeenCapacity)
	}
}

func TestParseRejectsUnknownFeedType(t *testing.T) {
	data := []byte(`
sources:
  feeds:
    - name: Weird
      url: http://example.com
      type: gopher
`)
	if _, err := parse(data); err == nil {
		t.Error("expected error for unknown feed type")
	}
}

func TestParseRejectsUnknownBroadcastMode(t *testing.T) {
	if _, err := parse([]byte("broadcast:\n  mode: kafka\n")); err == nil {
		t.Error("expected error for unknown broadcast mode")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Sources.Feeds) == 0 {
		t.Error("expected feeds to be populated from file")
	}
}

func TestResolveConfigPathExplicit(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit path")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ResolveConfigPath(path)
	if err != nil || got != path {
		t.Errorf("expected %q, got %q (%v)", path, got, err)
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
}

func TestMonitorCronSpec(t *testing.T) {
	m := Monitor{Interval: 10 * time.Minute}
	if got := m.CronSpec(); got != "@every 10m0s" {
		t.Errorf("expected interval schedule, got %q", got)
	}

	m.Schedule = "0 */6 * * *"
	if got := m.CronSpec(); got != "0 */6 * * *" {
		t.Errorf("expected explicit schedule, got %q", got)
	}

	if got := (Monitor{}).CronSpec(); got != "@every 5m0s" {
		t.Errorf("expected default schedule, got %q", got)
	}
}
