package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/citewatch/citewatch/internal/alerting"
	"github.com/citewatch/citewatch/internal/api"
	"github.com/citewatch/citewatch/internal/config"
	"github.com/citewatch/citewatch/internal/events"
	"github.com/citewatch/citewatch/internal/logging"
	"github.com/citewatch/citewatch/internal/notify"
	"github.com/citewatch/citewatch/internal/providers"
	"github.com/citewatch/citewatch/internal/queue"
	"github.com/citewatch/citewatch/internal/reporting"
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
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "citewatch",
	Short:   "CiteWatch - AI citation monitoring server",
	Long:    `CiteWatch tracks how brand domains are cited in the answers of generative AI engines and serves the HTTP API.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("CiteWatch %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup logs, re-initialized below once
	// the configuration is known.
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "citewatch"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Format:     cfg.LogFormat,
		Level:      cfg.LogLevel,
		Component:  "citewatch",
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSize,
		MaxAgeDays: cfg.LogMaxAge,
	})
	defer logging.Shutdown()

	log.Info().Str("version", Version).Msg("Starting CiteWatch server")

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

	hub := events.NewHub(allowedOriginList(cfg.AllowedOrigins))
	go hub.Run(ctx)

	dispatcher := notify.NewDispatcher(cfg.AlertWebhookURLs)
	defer dispatcher.Close()

	alertEngine := alerting.NewEngine(s)
	alertEngine.OnAlert(hub.BroadcastAlert)
	if dispatcher.Enabled() {
		alertEngine.OnAlert(dispatcher.NotifyAlert)
	}

	scorer := scoring.NewService(s, alertEngine)
	sched := scheduler.NewScheduler(s, broker, registry.Platforms())
	reports := reporting.NewBuilder(s, scorer)

	router := api.NewRouter(cfg, s, engine, sched, scorer, reports, hub)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}

func allowedOriginList(origins string) []string {
	if origins == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
