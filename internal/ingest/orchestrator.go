package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/chm/internal/db"
	"github.com/jonathan/chm/internal/log"
)

// SourceClient fetches pages of raw run events for one external pipeline.
type SourceClient interface {
	FetchRuns(ctx context.Context, externalID, cursor string) (*RunPage, error)
}

// RunStore is the persistence surface the orchestrator needs.
type RunStore interface {
	ListIngestionPipelines(ctx context.Context) ([]db.Pipeline, error)
	UpsertRun(ctx context.Context, u db.RunUpsert) (db.UpsertResult, error)
}

// PipelineFailure records one pipeline whose ingestion did not complete.
type PipelineFailure struct {
	PipelineID   uuid.UUID `json:"pipeline_id"`
	PipelineName string    `json:"pipeline_name"`
	Category     string    `json:"category"`
	Error        string    `json:"error"`
}

// Failure categories.
const (
	FailureFetch    = "fetch_error"
	FailureResponse = "response_error"
)

// Summary is the outcome of one ingestion invocation.
type Summary struct {
	StartedAt          time.Time         `json:"started_at"`
	FinishedAt         time.Time         `json:"finished_at"`
	PipelinesProcessed int64             `json:"pipelines_processed"`
	PipelinesFailed    int64             `json:"pipelines_failed"`
	PagesFetched       int64             `json:"pages_fetched"`
	RunsCreated        int64             `json:"runs_created"`
	RunsUpdated        int64             `json:"runs_updated"`
	RunsIgnored        int64             `json:"runs_ignored"`
	RecordsSkipped     int64             `json:"records_skipped"`
	Failures           []PipelineFailure `json:"failures,omitempty"`
}

// Ingestor drives one ingestion invocation: it lists eligible pipelines and
// fans out across them with bounded concurrency, walking each pipeline's
// cursor chain sequentially and upserting every mapped record.
type Ingestor struct {
	client      SourceClient
	store       RunStore
	mapper      *Mapper
	concurrency int
	logger      *logrus.Logger
	now         func() time.Time
}

// NewIngestor wires an orchestrator from its collaborators.
func NewIngestor(client SourceClient, store RunStore, mapper *Mapper, concurrency int) *Ingestor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Ingestor{
		client:      client,
		store:       store,
		mapper:      mapper,
		concurrency: concurrency,
		logger:      log.GetLogger(),
		now:         time.Now,
	}
}

// counters accumulates results across pipeline workers.
type counters struct {
	pages   atomic.Int64
	created atomic.Int64
	updated atomic.Int64
	ignored atomic.Int64
	skipped atomic.Int64

	mu       sync.Mutex
	failures []PipelineFailure
}

func (c *counters) recordFailure(f PipelineFailure) {
	c.mu.Lock()
	c.failures = append(c.failures, f)
	c.mu.Unlock()
}

// Run executes one ingestion pass over every active, externally mapped
// pipeline. One pipeline's failure never aborts the others; it is recorded
// in the summary instead. A persistence failure or context cancellation
// stops the invocation, and the partial summary is still returned.
func (ing *Ingestor) Run(ctx context.Context) (*Summary, error) {
	startedAt := ing.now().UTC()

	pipelines, err := ing.store.ListIngestionPipelines(ctx)
	if err != nil {
		return nil, err
	}
	ing.logger.WithField("pipelines", len(pipelines)).Info("starting ingestion")

	var c counters
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(ing.concurrency)

	for _, p := range pipelines {
		group.Go(func() error {
			return ing.ingestPipeline(groupCtx, p, &c)
		})
	}
	runErr := group.Wait()

	summary := &Summary{
		StartedAt:          startedAt,
		FinishedAt:         ing.now().UTC(),
		PipelinesProcessed: int64(len(pipelines)),
		PipelinesFailed:    int64(len(c.failures)),
		PagesFetched:       c.pages.Load(),
		RunsCreated:        c.created.Load(),
		RunsUpdated:        c.updated.Load(),
		RunsIgnored:        c.ignored.Load(),
		RecordsSkipped:     c.skipped.Load(),
		Failures:           c.failures,
	}

	ing.logger.WithFields(logrus.Fields{
		"pipelines": summary.PipelinesProcessed,
		"failed":    summary.PipelinesFailed,
		"pages":     summary.PagesFetched,
		"created":   summary.RunsCreated,
		"updated":   summary.RunsUpdated,
		"ignored":   summary.RunsIgnored,
		"skipped":   summary.RecordsSkipped,
	}).Info("ingestion finished")

	return summary, runErr
}

// ingestPipeline walks one pipeline's cursor chain. Fetch and response
// failures are recorded and end only this pipeline; persistence failures
// propagate so the whole invocation stops.
func (ing *Ingestor) ingestPipeline(ctx context.Context, p db.Pipeline, c *counters) error {
	externalID := ""
	if p.ExternalID != nil {
		externalID = *p.ExternalID
	}
	logger := ing.logger.WithFields(logrus.Fields{
		"pipeline_id": p.ID,
		"pipeline":    p.Name,
		"external_id": externalID,
	})

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := ing.client.FetchRuns(ctx, externalID, cursor)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			category := FailureFetch
			var respErr *ResponseError
			if errors.As(err, &respErr) {
				category = FailureResponse
			}
			logger.WithError(err).Warn("pipeline ingestion failed")
			c.recordFailure(PipelineFailure{
				PipelineID:   p.ID,
				PipelineName: p.Name,
				Category:     category,
				Error:        err.Error(),
			})
			return nil
		}
		c.pages.Add(1)

		for _, raw := range page.Runs {
			upsert, err := ing.mapper.MapRunEvent(raw)
			if err != nil {
				c.skipped.Add(1)
				logger.WithError(err).Warn("skipping unmappable run record")
				continue
			}
			upsert.PipelineID = p.ID
			upsert.IngestedAt = ing.now().UTC()

			result, err := ing.store.UpsertRun(ctx, *upsert)
			if err != nil {
				logger.WithError(err).Error("failed to persist run")
				return err
			}
			switch result {
			case db.UpsertCreated:
				c.created.Add(1)
			case db.UpsertUpdated:
				c.updated.Add(1)
			case db.UpsertIgnored:
				c.ignored.Add(1)
				logger.WithField("external_run_id", upsert.ExternalRunID).
					Warn("rejected run status transition")
			}
		}

		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}
