package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/ThreatWatch/internal/broadcast"
	"github.com/TobiSchelling/ThreatWatch/internal/collect"
	"github.com/TobiSchelling/ThreatWatch/internal/config"
	"github.com/TobiSchelling/ThreatWatch/internal/database"
	"github.com/TobiSchelling/ThreatWatch/internal/metrics"
	"github.com/TobiSchelling/ThreatWatch/internal/monitor"
	"github.com/TobiSchelling/ThreatWatch/internal/pipeline"
	"github.com/TobiSchelling/ThreatWatch/internal/server"
	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "threatwatch",
	Short:   "Threat intelligence monitoring",
	Long:    "ThreatWatch collects security feeds, scores and filters threats, raises alerts, and detects patterns across them.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetFlags(log.LstdFlags)

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if verbose || strings.EqualFold(cfg.Logging.Level, "DEBUG") {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(threatsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("threatwatch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/threatwatch/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure feeds, scoring thresholds, and broadcasting.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and monitoring status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		mon, err := db.GetMonitoringStats()
		if err != nil {
			return fmt.Errorf("getting monitoring stats: %w", err)
		}

		fmt.Printf("Database: %s\n", db.Path())
		fmt.Printf("Today: %s\n\n", database.GetToday())
		fmt.Println("Threats:")
		fmt.Printf("  Total collected: %d\n", stats.TotalThreats)
		fmt.Printf("  Scored: %d\n", stats.ScoredThreats)
		fmt.Printf("  Relevant: %d\n", stats.RelevantThreats)
		fmt.Printf("  Critical/High/Medium/Low: %d/%d/%d/%d\n", mon.Critical, mon.High, mon.Medium, mon.Low)
		fmt.Println("\nAnalysis:")
		fmt.Printf("  Relationships: %d\n", stats.Relationships)
		fmt.Printf("  Patterns: %d\n", stats.Patterns)
		fmt.Printf("  Alerts: %d (%d open)\n", stats.Alerts, stats.OpenAlerts)
		fmt.Printf("  Reports: %d\n", stats.Reports)
		fmt.Printf("  Days with data: %d\n", stats.PeriodsWithThreats)

		top, err := db.GetThreats(database.ThreatFilter{Sort: database.SortPriority, Limit: 3})
		if err == nil && len(top) > 0 {
			fmt.Println("\nTop priority threats:")
			for _, t := range top {
				fmt.Printf("  [%s] %s (%s)\n", t.Category, t.Title, t.Source)
			}
		}

		feeds, err := db.GetFeedStates()
		if err == nil && len(feeds) > 0 {
			fmt.Println("\nFeeds:")
			for _, f := range feeds {
				fmt.Printf("  %s: %d items at %s\n", f.FeedID, f.LastCount, f.LastFetch)
			}
		}
		return nil
	},
}

// --- collect command ---

var collectDaysBack int

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect threats from configured feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()

		periodID := database.GetToday()
		fmt.Println("Collecting threats from feeds...")

		collector := collect.NewCollector(cfg, db, collectDaysBack)
		result := collector.Collect(ctx, periodID)

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Total found: %d\n", result.TotalFound)
		fmt.Printf("  New threats: %d\n", result.NewThreats)
		fmt.Printf("  Duplicates skipped: %d\n", result.Duplicates)
		fmt.Printf("  Feeds failed: %d\n", result.FailedFeeds)

		if len(result.Sources) > 0 {
			fmt.Println("\nThreats by source:")
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range result.Sources {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().IntVar(&collectDaysBack, "days-back", 1, "Lookback window (days)")
}

// --- run command ---

var (
	dryRun   bool
	daysBack int
	runWatch bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: collect -> enrich -> filter -> alert -> relate -> patterns -> report",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()

		rt, err := newServices(ctx, db)
		if err != nil {
			return err
		}
		defer rt.Close()

		if runWatch {
			fmt.Printf("Watching feeds (%s). Press Ctrl+C to stop\n", cfg.Monitor.CronSpec())
			return rt.pipeline.Watch(ctx, cfg.Monitor.CronSpec(), 1, database.GetToday)
		}

		today := database.GetToday()
		periodID, effectiveDaysBack, err := resolvePeriod(db, today, daysBack)
		if err != nil {
			return err
		}

		var result *pipeline.Result
		if dryRun {
			result = rt.pipeline.DryRun(periodID)
		} else {
			result = rt.pipeline.Run(ctx, periodID, effectiveDaysBack)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if !dryRun {
			fmt.Println("\nPipeline complete! Run 'threatwatch serve' to view the report.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().IntVar(&daysBack, "days-back", 0, "Override lookback window (days)")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Keep running at the configured monitor interval")
}

// resolvePeriod determines the period ID and effective days back based on
// explicit --days-back, catch-up detection, or daily run.
func resolvePeriod(db *database.DB, today string, explicitDaysBack int) (periodID string, effectiveDaysBack int, err error) {
	if explicitDaysBack > 0 {
		periodID = database.PeriodEndingOn(today, explicitDaysBack)
		fmt.Printf("Collecting %d day(s) of threats (%s).\n", explicitDaysBack, periodID)
		return periodID, explicitDaysBack, nil
	}

	lastRun, _ := db.GetLastRunDate()
	if lastRun == "" {
		fmt.Println("First run detected, collecting today's threats.")
		return today, 1, nil
	}

	missedDays := database.DaysBetween(lastRun, today)

	if missedDays <= 0 {
		fmt.Printf("Already ran today (%s). Re-running pipeline.\n", today)
		return today, 1, nil
	}

	if missedDays == 1 {
		fmt.Printf("Daily run for %s.\n", today)
		return today, 1, nil
	}

	// Catch-up: missed multiple days
	periodID = database.PeriodEndingOn(today, missedDays)

	if missedDays > 5 {
		fmt.Printf("Last run was %d days ago (%s).\n", missedDays, lastRun)
		fmt.Printf("Catch up %d days (%s)? This fetches a larger window from every feed [y/N]: ", missedDays, periodID)

		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			return "", 0, fmt.Errorf("aborted")
		}
	} else {
		fmt.Printf("Catching up %d days (%s).\n", missedDays, periodID)
	}

	return periodID, missedDays, nil
}

// --- serve command ---

var (
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard and JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()

		rt, err := newServices(ctx, db)
		if err != nil {
			return err
		}
		defer rt.Close()

		srv, err := server.New(db, server.Options{
			Analyzer: rt.analyzer,
			Monitor:  rt.monitor,
			Metrics:  rt.metrics,
		})
		if err != nil {
			return err
		}

		if serveWatch {
			go func() {
				if err := rt.pipeline.Watch(ctx, cfg.Monitor.CronSpec(), 1, database.GetToday); err != nil {
					log.Printf("Watch stopped: %v", err)
				}
			}()
		}

		port := servePort
		if !cmd.Flags().Changed("port") && cfg.Server.Port > 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return srv.ListenAndServe(ctx, fmt.Sprintf("127.0.0.1:%d", port))
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Run the pipeline in the background at the configured monitor interval")
}

// --- score and analyze commands ---

var scoreCmd = &cobra.Command{
	Use:   "score <file>",
	Short: "Score a JSON array of threats (use - for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := readRecords(args[0])
		if err != nil {
			return err
		}
		analyzer, err := pipeline.NewAnalyzer(cfg, nil)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), analyzer.Filter(records).Scores)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Filter, correlate, and detect patterns in a JSON array of threats (use - for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := readRecords(args[0])
		if err != nil {
			return err
		}
		analyzer, err := pipeline.NewAnalyzer(cfg, nil)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), analyzer.Analyze(records))
	},
}

func readRecords(path string) ([]threat.Record, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var records []threat.Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding threats: %w", err)
	}
	return records, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// services holds the long-lived components shared by run and serve.
type services struct {
	metrics   *metrics.Metrics
	analyzer  *pipeline.Analyzer
	publisher broadcast.Publisher
	monitor   *monitor.Monitor
	pipeline  *pipeline.Pipeline
}

func newServices(ctx context.Context, db *database.DB) (*services, error) {
	m := metrics.New()
	analyzer, err := pipeline.NewAnalyzer(cfg, m)
	if err != nil {
		return nil, err
	}
	pub, err := broadcast.New(ctx, cfg.Broadcast)
	if err != nil {
		return nil, fmt.Errorf("starting broadcast: %w", err)
	}
	mon := monitor.New(db, analyzer.Scorer, pub, monitor.Options{
		AlertPriority:    cfg.Scoring.AlertPriority,
		CriticalSeverity: cfg.Scoring.CriticalSeverity,
		SeenCapacity:     cfg.Monitor.SeenCapacity,
		Metrics:          m,
	})
	return &services{
		metrics:   m,
		analyzer:  analyzer,
		publisher: pub,
		monitor:   mon,
		pipeline:  pipeline.New(cfg, db, analyzer, mon, m),
	}, nil
}

func (rt *services) Close() {
	if err := rt.publisher.Close(); err != nil {
		log.Printf("Closing publisher: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "threatwatch.db")
	return database.Open(dbPath)
}
