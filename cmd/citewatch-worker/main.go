package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/citewatch/citewatch/internal/alerting"
	"github.com/citewatch/citewatch/internal/config"
	"github.com/citewatch/citewatch/internal/logging"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/notify"
	"github.com/citewatch/citewatch/internal/providers"
	"github.com/citewatch/citewatch/internal/queue"
	"github.com/citewatch/citewatch/internal/scheduler"
	"github.com/citewatch/citewatch/internal/scoring"
	"github.com/citewatch/citewatch/internal/sentiment"
	"github.com/citewatch/citewatch/internal/store"
	"github.com/citewatch/citewatch/internal/tracking"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "citewatch-worker",
	Short:   "CiteWatch tracking worker",
	Long:    `The CiteWatch worker consumes tracking jobs from the queue, runs provider queries, and owns the daily planner, scoring recompute and retention crons.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runWorker()
	},
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track one project synchronously and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		platformNames, _ := cmd.Flags().GetStringSlice("platforms")
		return runTrackOnce(projectID, platformNames)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		s, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer s.Close()
		fmt.Println("Schema applied.")
		return nil
	},
}

func init() {
	trackCmd.Flags().String("project", "", "project ID to track (required)")
	trackCmd.Flags().StringSlice("platforms", nil, "platforms to query (default: all configured)")
	trackCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWorker() {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "citewatch-worker"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Format:     cfg.LogFormat,
		Level:      cfg.LogLevel,
		Component:  "citewatch-worker",
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSize,
		MaxAgeDays: cfg.LogMaxAge,
	})
	defer logging.Shutdown()

	log.Info().Str("version", Version).Int("concurrency", cfg.WorkerConcurrency).Msg("Starting CiteWatch worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer s.Close()

	broker, err := queue.NewRedisBroker(ctx, cfg.QueueURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to broker")
	}
	defer broker.Close()

	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr)
	}

	analyzer := sentiment.NewAnalyzer()
	if cfg.SentimentLexiconFile != "" {
		if lex, err := sentiment.LoadLexiconFile(cfg.SentimentLexiconFile); err != nil {
			log.Warn().Err(err).Str("file", cfg.SentimentLexiconFile).Msg("Failed to load sentiment lexicon, using built-in")
		} else {
			analyzer.SetLexicon(lex)
			go func() {
				if err := sentiment.WatchLexiconFile(ctx, cfg.SentimentLexiconFile, analyzer); err != nil {
					log.Warn().Err(err).Msg("Lexicon watcher stopped")
				}
			}()
		}
	}

	registry := providers.NewRegistry(cfg)
	engine := tracking.NewEngine(s, registry, analyzer, cfg.KeywordSpacing)

	dispatcher := notify.NewDispatcher(cfg.AlertWebhookURLs)
	defer dispatcher.Close()

	alertEngine := alerting.NewEngine(s)
	if dispatcher.Enabled() {
		alertEngine.OnAlert(dispatcher.NotifyAlert)
	}

	scorer := scoring.NewService(s, alertEngine)
	sched := scheduler.NewScheduler(s, broker, registry.Platforms())

	planner := scheduler.NewPlanner(cfg, s, sched, scorer)
	if err := planner.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start planner")
	}
	defer planner.Stop()

	worker := scheduler.NewWorker(cfg, s, broker, engine, alertEngine)
	if err := worker.Run(ctx); err != nil {
		if errors.Is(err, scheduler.ErrStoreDown) {
			log.Error().Err(err).Msg("Store unreachable, exiting")
			logging.Shutdown()
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("Worker failed")
	}
	log.Info().Msg("Worker stopped")
}

// runTrackOnce drives the tracking engine directly, bypassing the
// queue. Keywords run sequentially with the configured spacing.
func runTrackOnce(projectID string, platformNames []string) error {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "citewatch-worker"})

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	platforms := make([]models.Platform, 0, len(platformNames))
	for _, name := range platformNames {
		if !models.IsValidPlatform(name) {
			return fmt.Errorf("unknown platform %q", name)
		}
		platforms = append(platforms, models.Platform(name))
	}

	s, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer s.Close()

	registry := providers.NewRegistry(cfg)
	engine := tracking.NewEngine(s, registry, sentiment.NewAnalyzer(), cfg.KeywordSpacing)

	summary, err := engine.TrackProject(context.Background(), projectID, platforms)
	if err != nil {
		return err
	}
	fmt.Printf("Tracked project %s: %d attempts, %d successes, %d failures, %d new citations\n",
		projectID, summary.Attempts, summary.Successes, summary.Failures, summary.NewCitations)
	return nil
}
