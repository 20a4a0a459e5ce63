package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jonathan/chm/internal/config"
	"github.com/jonathan/chm/internal/db"
	"github.com/jonathan/chm/internal/ingest"
	"github.com/jonathan/chm/internal/log"
	"github.com/jonathan/chm/internal/observability"
)

var (
	ingestSchedule string
	ingestVerbose  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run partner run ingestion",
	Long: `Fetch run events from the partner API for every active, externally mapped
pipeline and upsert them idempotently. Runs once by default; with --schedule
it keeps running invocations on a cron expression until interrupted.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSchedule, "schedule", "", "Cron expression for recurring ingestion (e.g. \"*/15 * * * *\")")
	ingestCmd.Flags().BoolVarP(&ingestVerbose, "verbose", "v", false, "Print settings and a summary box after each invocation")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("CHM_DATABASE_URL environment variable is required")
	}

	database, err := db.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	client := ingest.NewPartnerClient(ingest.ClientOptions{
		BaseURL:        cfg.PartnerBaseURL,
		APIToken:       cfg.PartnerAPIToken,
		Timeout:        cfg.HTTPTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		MaxRetries:     cfg.MaxRetries,
		Backoff:        cfg.Backoff,
		RateLimitRPS:   cfg.RateLimitRPS,
	})
	ingestor := ingest.NewIngestor(client, database, ingest.NewMapper(cfg.RedactFields), cfg.Concurrency)

	printer := observability.NewPrinter(os.Stdout)
	if ingestVerbose {
		printer.PrintSettings("INGESTION SETTINGS", cfg.SafeForLogging())
	}

	if ingestSchedule == "" {
		return runOnce(context.Background(), ingestor, printer)
	}
	return runScheduled(ingestor, printer)
}

func runOnce(ctx context.Context, ingestor *ingest.Ingestor, printer *observability.Printer) error {
	summary, err := ingestor.Run(ctx)
	if ingestVerbose && summary != nil {
		printer.PrintIngestionSummary(summary)
	}
	return err
}

// runScheduled keeps invoking ingestion on the cron schedule until SIGINT or
// SIGTERM. Overlapping invocations are skipped, not queued.
func runScheduled(ingestor *ingest.Ingestor, printer *observability.Printer) error {
	logger := log.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := scheduler.AddFunc(ingestSchedule, func() {
		if err := runOnce(ctx, ingestor, printer); err != nil {
			logger.WithError(err).Error("scheduled ingestion failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", ingestSchedule, err)
	}

	logger.WithField("schedule", ingestSchedule).Info("starting scheduled ingestion")
	scheduler.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("stopping scheduled ingestion")
	cancel()
	<-scheduler.Stop().Done()
	return nil
}
