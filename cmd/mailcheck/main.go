// Package main is the entry point for the mailcheck sentinel.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fusae/mailcheck/internal/aggregate"
	"github.com/fusae/mailcheck/internal/api"
	"github.com/fusae/mailcheck/internal/browser"
	"github.com/fusae/mailcheck/internal/buildinfo"
	"github.com/fusae/mailcheck/internal/classify"
	"github.com/fusae/mailcheck/internal/config"
	"github.com/fusae/mailcheck/internal/extract"
	"github.com/fusae/mailcheck/internal/feedback"
	"github.com/fusae/mailcheck/internal/mail"
	"github.com/fusae/mailcheck/internal/notify"
	"github.com/fusae/mailcheck/internal/pipeline"
	"github.com/fusae/mailcheck/internal/report"
	"github.com/fusae/mailcheck/internal/store"
)

// exit codes: 1 generic failure, 2 configuration error (the pipeline
// never starts partially on a bad config).
const exitConfig = 2

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "initdb":
			runInitDB(logger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("mailcheck - hospital reputation sentiment monitor")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the pipeline and dashboard API")
	fmt.Println("  initdb   Create the database schema and exit")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

// loadConfig resolves and validates configuration, exiting with the
// config error code on any failure.
func loadConfig(logger *slog.Logger, configPath string) *config.Config {
	// Local development convenience: referenced ${VARS} may live in .env.
	_ = godotenv.Load()

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(exitConfig)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(exitConfig)
	}

	return cfg
}

// newLogger rebuilds the root logger at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.Runtime.LogLevel)
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func runInitDB(logger *slog.Logger, configPath string) {
	cfg := loadConfig(logger, configPath)

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		logger.Error("database init failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	logger.Info("database schema ready")
}

func runServe(logger *slog.Logger, configPath string) {
	cfg := loadConfig(logger, configPath)
	logger = newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting", "build", buildinfo.String())

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		logger.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Seed the admin suppress-keyword list from configuration; operator
	// edits via the API take precedence afterwards.
	if err := st.SeedSuppressKeywords(ctx, cfg.Notification.SuppressKeywords); err != nil {
		logger.Error("keyword seeding failed", "error", err)
		os.Exit(1)
	}

	// Ingestion side.
	imapClient := mail.NewClient(cfg.Email, logger)
	defer imapClient.Close()
	poller := mail.NewPoller(imapClient, st, extract.HospitalFromSubject, logger)

	renderer := browser.NewHTTPRenderer(cfg.Browser, logger)
	pool := browser.NewPool(renderer, cfg.Concurrency.PURL,
		cfg.Browser.FetchTimeout(), cfg.Browser.Retries, logger)
	extractor := extract.New(pool, cfg.Aggregation.VendorDomain, logger)

	llm := classify.NewLLMClient(cfg.AI, cfg.Concurrency.PLLM, logger)
	classifier := classify.New(llm, logger)

	aggregator := aggregate.New(st, cfg.Aggregation.Window(),
		cfg.Aggregation.TrackingParams, logger)

	signer := feedback.NewSigner(cfg.Feedback.LinkSecret, cfg.Feedback.LinkTTL())
	notifier := notify.New(cfg.Notification, st, signer, cfg.Feedback.LinkBaseURL, logger)
	loop := feedback.NewLoop(st, signer, cfg.Feedback, logger)

	// Dashboard side.
	reports := report.NewGenerator(st, cfg.Runtime.ReportsDir, logger)
	server := api.NewServer(cfg.Runtime, st, llm, loop, reports, imapClient, logger)

	pipe := pipeline.New(poller, extractor, classifier, aggregator,
		notifier, loop, st, cfg, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	go pipe.Run(ctx)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("API server failed", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API shutdown error", "error", err)
	}

	logger.Info("stopped")
}
