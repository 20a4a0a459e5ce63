package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/chm/internal/db"
	"github.com/jonathan/chm/internal/log"
)

var (
	seedClients   int
	seedPipelines int
	seedRuns      int
	seedRandSeed  int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the database with synthetic demo data",
	Long:  `Create synthetic clients, pipelines, and historical runs for local development and dashboard demos.`,
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedClients, "clients", 3, "Number of clients to create")
	seedCmd.Flags().IntVar(&seedPipelines, "pipelines", 4, "Pipelines per client")
	seedCmd.Flags().IntVar(&seedRuns, "runs", 50, "Runs per pipeline")
	seedCmd.Flags().Int64Var(&seedRandSeed, "seed", 42, "Random seed for reproducible data")
	rootCmd.AddCommand(seedCmd)
}

var (
	seedClientNames = []string{"acme", "globex", "initech", "umbrella", "stark", "wayne", "hooli", "dunder"}
	seedPlatforms   = []db.Platform{db.PlatformAirflow, db.PlatformDBT, db.PlatformCron, db.PlatformVendorAPI, db.PlatformCustom}
	seedTypes       = []db.PipelineType{db.PipelineTypeIngestion, db.PipelineTypeTransform, db.PipelineTypeQuality, db.PipelineTypeExport, db.PipelineTypeHealthcheck}
	seedStatuses    = []db.RunStatus{
		db.RunStatusSuccess, db.RunStatusSuccess, db.RunStatusSuccess, db.RunStatusSuccess,
		db.RunStatusSuccess, db.RunStatusSuccess, db.RunStatusFailed, db.RunStatusFailed,
		db.RunStatusCanceled, db.RunStatusSkipped,
	}
)

func runSeed(_ *cobra.Command, _ []string) error {
	databaseURL := os.Getenv("CHM_DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("CHM_DATABASE_URL environment variable is required")
	}
	if seedClients > len(seedClientNames) {
		return fmt.Errorf("at most %d clients supported", len(seedClientNames))
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	rng := rand.New(rand.NewSource(seedRandSeed))
	logger := log.GetLogger()
	now := time.Now().UTC()
	totalRuns := 0

	for c := 0; c < seedClients; c++ {
		client, err := database.CreateClient(ctx, seedClientNames[c], true)
		if err != nil {
			return fmt.Errorf("failed to seed client: %w", err)
		}

		for p := 0; p < seedPipelines; p++ {
			externalID := fmt.Sprintf("%s-pipe-%d", client.Name, p)
			pipeline, err := database.CreatePipeline(ctx, db.PipelineCreate{
				ClientID:     client.ID,
				Name:         fmt.Sprintf("pipeline-%d", p),
				Platform:     seedPlatforms[rng.Intn(len(seedPlatforms))],
				ExternalID:   &externalID,
				PipelineType: seedTypes[rng.Intn(len(seedTypes))],
				Environment:  "prod",
			})
			if err != nil {
				return fmt.Errorf("failed to seed pipeline: %w", err)
			}

			for i := 0; i < seedRuns; i++ {
				if err := seedRun(ctx, database, pipeline, rng, now, i); err != nil {
					return err
				}
				totalRuns++
			}
		}
	}

	logger.WithField("runs", totalRuns).Info("seed data created")
	return nil
}

// seedRun creates one historical run, index hours in the past. Roughly one
// in ten stays running with no finish time.
func seedRun(ctx context.Context, database *db.DB, pipeline *db.Pipeline, rng *rand.Rand, now time.Time, index int) error {
	status := seedStatuses[rng.Intn(len(seedStatuses))]
	started := now.Add(-time.Duration(index) * time.Hour).Add(-time.Duration(rng.Intn(1800)) * time.Second)

	upsert := db.RunUpsert{
		PipelineID:    pipeline.ID,
		ExternalRunID: fmt.Sprintf("seed-%s-%d", pipeline.ID.String()[:8], index),
		Status:        status,
		StartedAt:     &started,
		IngestedAt:    now,
	}

	if index == 0 && rng.Intn(10) == 0 {
		upsert.Status = db.RunStatusRunning
	}
	if upsert.Status != db.RunStatusRunning {
		duration := int64(60 + rng.Intn(3540))
		finished := started.Add(time.Duration(duration) * time.Second)
		rows := int64(rng.Intn(2_000_000))
		upsert.FinishedAt = &finished
		upsert.DurationSeconds = &duration
		upsert.RowsProcessed = &rows
	}
	if upsert.Status == db.RunStatusFailed {
		msg := "synthetic failure: upstream timeout"
		upsert.ErrorMessage = &msg
	}

	if _, err := database.UpsertRun(ctx, upsert); err != nil {
		return fmt.Errorf("failed to seed run: %w", err)
	}
	return nil
}
