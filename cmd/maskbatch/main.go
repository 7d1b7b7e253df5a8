package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/mailguard/internal/batch"
	"github.com/raaihank/mailguard/internal/config"
	"github.com/raaihank/mailguard/internal/logger"
	"github.com/raaihank/mailguard/internal/metrics"
	"github.com/raaihank/mailguard/internal/privacy"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Configuration file path")
		inputFile    = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines)")
		outputFile   = flag.String("output", "", "Output file for masked records; format follows the extension")
		batchSize    = flag.Int("batch-size", 0, "Batch size for processing (default from config)")
		workers      = flag.Int("workers", 0, "Number of worker goroutines (default from config)")
		validateOnly = flag.Bool("validate-only", false, "Only validate data, don't mask or write")
		metricsAddr  = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address while running, e.g. :9091")
		printResult  = flag.Bool("json", false, "Print the processing result as JSON to stdout")
	)
	flag.Parse()

	if *inputFile == "" || (*outputFile == "" && !*validateOnly) {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -input emails.csv -output masked.jsonl\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input emails.parquet -output masked.parquet -workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input emails.csv -validate-only\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting mailguard batch masking",
		zap.String("version", "0.1.0"),
		zap.String("input", *inputFile),
		zap.Bool("validate_only", *validateOnly))

	if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
		log.Fatal("Input file does not exist", zap.String("file", *inputFile))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling batch...")
		cancel()
	}()

	detector, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		log.Fatal("Failed to create privacy detector", zap.Error(err))
	}

	var m *metrics.Metrics
	if *metricsAddr != "" {
		m = metrics.New("mailguard", nil)
		go serveMetrics(ctx, *metricsAddr, m, log)
	}

	batchConfig := cfg.Batch
	if *batchSize > 0 {
		batchConfig.BatchSize = *batchSize
	}
	if *workers > 0 {
		batchConfig.WorkerCount = *workers
	}

	pipeline := batch.NewPipeline(detector, m, batchConfig, log.WithComponent("batch").Logger)

	var result *batch.ProcessingResult
	if *validateOnly {
		result, err = pipeline.Validate(ctx, *inputFile)
	} else {
		result, err = pipeline.ProcessFile(ctx, *inputFile, *outputFile)
	}
	if err != nil {
		log.Fatal("Batch masking failed", zap.Error(err))
	}

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with skipped or failed records",
			zap.Int("reported", len(result.Errors)),
			zap.Strings("errors", result.Errors))
	}

	if *printResult {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			log.Error("Failed to print result", zap.Error(err))
		}
	}

	if result.ProcessedFailed > 0 {
		os.Exit(2)
	}
}

// serveMetrics exposes the pipeline counters until ctx is cancelled
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("Serving batch metrics", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Metrics server failed", zap.Error(err))
	}
}
