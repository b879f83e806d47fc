package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/civic-crawler/config"
	"github.com/aluiziolira/civic-crawler/crawler"
	"github.com/aluiziolira/civic-crawler/extract"
	"github.com/aluiziolira/civic-crawler/models"
	"github.com/aluiziolira/civic-crawler/pipeline"
	"github.com/aluiziolira/civic-crawler/scraper"
	"github.com/aluiziolira/civic-crawler/session"
	"github.com/aluiziolira/civic-crawler/store"
)

type seedList []string

func (s *seedList) String() string { return strings.Join(*s, ",") }

func (s *seedList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	configFile := flag.String("config", "", "YAML configuration file with seeds and crawl settings")
	envFile := flag.String("env", ".env", "Environment file loaded before reading CRAWLER_* variables")
	var seeds seedList
	flag.Var(&seeds, "seed", "Seed URL (repeatable); added to the seeds of the config file")
	domains := flag.String("domains", "", "Comma separated target domains")
	concurrency := flag.Int("concurrency", 0, "Number of crawl workers")
	maxURLs := flag.Int("max-urls", 0, "Maximum number of URLs to fetch")
	maxDepth := flag.Int("max-depth", -1, "Maximum link depth from the seeds")
	maxDuration := flag.Duration("max-duration", 0, "Crawl time budget (e.g. 30m)")
	maxRetries := flag.Int("max-retries", 0, "Maximum fetch attempts per URL")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	recrawl := flag.Bool("recrawl", false, "Revisit completed pages with adaptive intervals")
	crossSession := flag.Bool("cross-session", false, "Skip content already stored by earlier runs")
	outputFile := flag.String("output", "", "Output file path")
	outputFormat := flag.String("format", "", "Output format: csv, json, or dual")
	reportFile := flag.String("report", "", "Report file (.json or .xlsx)")
	databaseURL := flag.String("database-url", "", "PostgreSQL connection string; replaces file output")
	dryRun := flag.Bool("dry-run", false, "Keep records in memory instead of writing them")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load env: %v\n", err)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "domains":
			cfg.TargetDomains = splitList(*domains)
		case "concurrency":
			cfg.Concurrency = *concurrency
		case "max-urls":
			cfg.MaxURLs = *maxURLs
		case "max-depth":
			cfg.MaxDepth = *maxDepth
		case "max-duration":
			cfg.MaxDuration = *maxDuration
		case "max-retries":
			cfg.MaxRetries = *maxRetries
		case "respect-robots":
			cfg.RespectRobotsTxt = *respectRobots
		case "recrawl":
			cfg.Recrawl = *recrawl
		case "cross-session":
			cfg.CrossSessionDedup = *crossSession
		case "output":
			cfg.OutputFile = *outputFile
		case "format":
			cfg.OutputFormat = strings.ToLower(*outputFormat)
		case "report":
			cfg.ReportFile = *reportFile
		case "database-url":
			cfg.DatabaseURL = *databaseURL
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "v":
			cfg.Verbose = *verbose
		}
	})
	for _, s := range seeds {
		cfg.Seeds = append(cfg.Seeds, config.Seed{URL: s, Category: models.CategoryOther, Priority: 10})
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	if err := run(ctx, cfg, *dryRun); err != nil {
		slog.Error("crawl failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, dryRun bool) error {
	metrics := scraper.NewMetrics()
	fetcher, err := scraper.NewFetcher(cfg, scraper.WithMetrics(metrics), scraper.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}

	persister, err := openPersister(ctx, cfg, dryRun)
	if err != nil {
		return err
	}
	defer func() {
		if err := persister.Close(); err != nil {
			slog.Error("close persister", slog.Any("error", err))
		}
	}()

	ext := extract.New(extract.LimitsFrom(cfg), slog.Default())
	if err := extract.RegisterDefaults(ext); err != nil {
		return fmt.Errorf("register extractor units: %w", err)
	}

	engine, err := crawler.New(cfg, crawler.Deps{
		Fetcher:   fetcher,
		Persister: persister,
		Extractor: ext,
		Metrics:   metrics,
		Logger:    slog.Default(),
	})
	if err != nil {
		return err
	}
	if cfg.VisitedFile != "" {
		n, err := engine.Detector().Load(cfg.VisitedFile)
		if err != nil {
			return fmt.Errorf("load visited hashes: %w", err)
		}
		if n > 0 {
			slog.Info("loaded visited hashes", slog.Int("urls", n), slog.String("path", cfg.VisitedFile))
		}
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	runErr := engine.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		slog.Warn("crawl interrupted")
	}

	agg := engine.Session()
	if err := agg.Close(runErr); err != nil {
		slog.Error("final checkpoint failed", slog.Any("error", err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	report := agg.Report()
	if cfg.ReportFile != "" {
		if err := session.WriteReport(cfg.ReportFile, report); err != nil {
			slog.Error("write report", slog.Any("error", err))
		}
	}
	printSummary(report, cfg)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// openPersister picks the storage backend: PostgreSQL when a database URL
// is configured, memory for dry runs, the batching file pipeline otherwise.
func openPersister(ctx context.Context, cfg *config.Config, dryRun bool) (crawler.Persister, error) {
	switch {
	case dryRun:
		slog.Info("dry run, records are kept in memory")
		return store.NewMemory(), nil
	case cfg.DatabaseURL != "":
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return pg, nil
	}

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return nil, fmt.Errorf("creating writer: %w", err)
	}
	p := pipeline.NewPipeline(ctx, writer, cfg)
	if cfg.CrossSessionDedup {
		if src := jsonlOutput(cfg); src != "" {
			n, err := p.LoadIndex(src)
			if err != nil {
				writer.Close()
				return nil, fmt.Errorf("loading previous records: %w", err)
			}
			slog.Info("indexed previous records", slog.Int("records", n), slog.String("path", src))
		}
	}
	p.Start(max(1, cfg.Concurrency))
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}
	return &fileOutput{Pipeline: p, writer: writer}, nil
}

// jsonlOutput is the JSONL file written for the configured format, if any.
func jsonlOutput(cfg *config.Config) string {
	switch cfg.OutputFormat {
	case "json":
		return cfg.OutputFile
	case "dual":
		return strings.TrimSuffix(strings.TrimSuffix(cfg.OutputFile, ".csv"), ".jsonl") + ".jsonl"
	}
	return ""
}

// fileOutput drains the pipeline before closing its writer.
type fileOutput struct {
	*pipeline.Pipeline
	writer pipeline.OutputWriter
}

func (f *fileOutput) Close() error {
	pipeErr := f.Pipeline.Close()
	if err := f.writer.Validate(); err != nil {
		slog.Warn("output validation failed", slog.Any("error", err))
	}
	if err := f.writer.Close(); err != nil {
		return errors.Join(pipeErr, err)
	}
	return pipeErr
}

func printSummary(r models.Report, cfg *config.Config) {
	s := r.Session
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Crawl %s (%s)\n", s.Status, s.ID)
	fmt.Printf("  Discovered:    %d\n", s.TotalURLs)
	fmt.Printf("  Processed:     %d\n", s.ProcessedURLs)
	fmt.Printf("  Failed:        %d\n", s.FailedURLs)
	fmt.Printf("  Duplicates:    %d\n", s.DuplicateURLs)
	fmt.Printf("  Skipped:       %d\n", s.SkippedURLs)
	fmt.Printf("  Retries:       %d\n", s.Retries)
	fmt.Printf("  Success rate:  %.2f%%\n", r.SuccessRate*100)
	fmt.Printf("  Avg quality:   %.1f\n", r.AverageQuality)
	if len(s.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", s.ErrorsByType)
	}
	if s.PersistFailures > 0 {
		fmt.Printf("  Persist fails: %d\n", s.PersistFailures)
	}
	fmt.Printf("  Duration:      %v\n", r.Duration.Round(time.Millisecond))
	fmt.Printf("  Pages/min:     %.2f\n", r.PagesPerMinute)
	switch {
	case cfg.DatabaseURL != "":
		fmt.Printf("  Output:        postgres\n")
	default:
		fmt.Printf("  Output file:   %s\n", cfg.OutputFile)
	}
	if cfg.ReportFile != "" {
		fmt.Printf("  Report:        %s\n", cfg.ReportFile)
	}
	for _, rec := range r.Recommendations {
		fmt.Printf("  * %s\n", rec)
	}
	fmt.Println(separator)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
