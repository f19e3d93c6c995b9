package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/putpipeline/config"
	"github.com/alejandrodnm/putpipeline/internal/adapters/broker"
	"github.com/alejandrodnm/putpipeline/internal/adapters/clock"
	"github.com/alejandrodnm/putpipeline/internal/adapters/notify"
	"github.com/alejandrodnm/putpipeline/internal/adapters/prompt"
	"github.com/alejandrodnm/putpipeline/internal/adapters/storage"
	"github.com/alejandrodnm/putpipeline/internal/candidates"
	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	candidatesPath := flag.String("candidates", "", "path to the screener's staged-candidates JSON file")
	dryRun := flag.Bool("dry-run", false, "skip all broker side-effects (overrides config)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *dryRun {
		cfg.Scheduler.DryRun = true
	}
	setupLogger(cfg.Log)

	if *candidatesPath == "" {
		slog.Error("-candidates is required: path to the screener's staged-candidates JSON file")
		os.Exit(1)
	}
	staged, err := candidates.Load(*candidatesPath)
	if err != nil {
		slog.Error("failed to load staged candidates", "err", err, "path", *candidatesPath)
		os.Exit(1)
	}

	slog.Info("weekend execution pipeline starting",
		"config", *configPath, "candidates", *candidatesPath,
		"staged", len(staged), "mode", cfg.Scheduler.Mode, "dry_run", cfg.Scheduler.DryRun,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	b := broker.NewPaper(seedUnderlying(staged), seedChains(staged))

	var prompter scheduler.Prompter
	if cfg.Scheduler.Mode == string(scheduler.ModeHybrid) {
		prompter = prompt.NewConsole()
	}

	sched := scheduler.New(b, store, notify.NewConsole(), clock.Real{}, prompter, cfg.Scheduler)

	go serveMetrics(cfg.Scheduler.MetricsAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, err := sched.Run(ctx, staged)
	if err != nil {
		slog.Error("pipeline run failed", "err", err)
		os.Exit(1)
	}
	slog.Info("pipeline run complete",
		"submitted", report.Submitted, "filled", len(report.Filled),
		"failed", len(report.Failed), "working", len(report.Working),
	)
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics server stopped", "err", err)
	}
}

// seedUnderlying builds the paper broker's underlying-price table from
// each candidate's staged stock price.
func seedUnderlying(staged []domain.Candidate) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(staged))
	for _, c := range staged {
		out[c.Symbol] = c.StagedStockPrice
	}
	return out
}

// seedChains builds a synthetic strike chain around each candidate's
// staged strike so Stage 1 re-selection and the Live Strike Selector have
// neighboring strikes to find, in $1 increments spanning +/-20%.
func seedChains(staged []domain.Candidate) map[string][]decimal.Decimal {
	out := make(map[string][]decimal.Decimal, len(staged))
	for _, c := range staged {
		if _, ok := out[c.Symbol]; ok {
			continue
		}
		center := c.Strike
		var chain []decimal.Decimal
		lo := center.Mul(decimal.NewFromFloat(0.8)).Round(0)
		hi := center.Mul(decimal.NewFromFloat(1.2)).Round(0)
		for s := lo; s.LessThanOrEqual(hi); s = s.Add(decimal.NewFromInt(1)) {
			chain = append(chain, s)
		}
		out[c.Symbol] = chain
	}
	return out
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
