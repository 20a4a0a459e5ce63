package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Allowed time buckets for failures-over-time grouping.
var allowedBuckets = map[string]bool{
	"minute": true,
	"hour":   true,
	"day":    true,
	"week":   true,
}

// ValidBucket reports whether bucket is an allowed date_trunc granularity.
func ValidBucket(bucket string) bool {
	return allowedBuckets[bucket]
}

// FailureBucket is one time bucket of failed-run counts.
type FailureBucket struct {
	Bucket     time.Time `json:"ts_bucket"`
	FailedRuns int64     `json:"failed_runs"`
}

// QueryFailuresOverTime returns failed-run counts grouped by time bucket.
func (db *DB) QueryFailuresOverTime(ctx context.Context, since, until time.Time, bucket string) ([]FailureBucket, error) {
	if !ValidBucket(bucket) {
		return nil, fmt.Errorf("unsupported bucket %q", bucket)
	}
	rows, err := db.pool.Query(ctx,
		`SELECT
		   date_trunc($3, COALESCE(r.finished_at, r.started_at, r.created_at)) AS ts_bucket,
		   COUNT(*) AS failed_runs
		 FROM runs r
		 WHERE r.status = 'failed'
		   AND COALESCE(r.finished_at, r.started_at, r.created_at) >= $1
		   AND COALESCE(r.finished_at, r.started_at, r.created_at) < $2
		 GROUP BY 1
		 ORDER BY 1`,
		since, until, bucket,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures over time: %w", err)
	}
	defer rows.Close()

	var buckets []FailureBucket
	for rows.Next() {
		var b FailureBucket
		if err := rows.Scan(&b.Bucket, &b.FailedRuns); err != nil {
			return nil, fmt.Errorf("failed to scan failure bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// LatestPipelineStatus is one row of the latest-status dashboard snapshot.
type LatestPipelineStatus struct {
	ClientName   string     `json:"client_name"`
	PipelineName string     `json:"pipeline_name"`
	Platform     Platform   `json:"platform"`
	LatestStatus *RunStatus `json:"latest_status,omitempty"`
	LastRunTime  *time.Time `json:"last_run_time,omitempty"`
}

// QueryLatestStatusByPipeline returns the latest run status for every active
// pipeline of every active client, including pipelines with no runs yet.
func (db *DB) QueryLatestStatusByPipeline(ctx context.Context) ([]LatestPipelineStatus, error) {
	rows, err := db.pool.Query(ctx,
		`WITH latest_run AS (
		   SELECT r.*,
		          ROW_NUMBER() OVER (
		            PARTITION BY r.pipeline_id
		            ORDER BY r.started_at DESC NULLS LAST, r.finished_at DESC NULLS LAST, r.id DESC
		          ) AS rn
		   FROM runs r
		 )
		 SELECT c.name, p.name, p.platform, lr.status,
		        COALESCE(lr.started_at, lr.finished_at, lr.created_at)
		 FROM pipelines p
		 JOIN clients c ON c.id = p.client_id
		 LEFT JOIN latest_run lr ON lr.pipeline_id = p.id AND lr.rn = 1
		 WHERE p.is_active = TRUE AND c.is_active = TRUE
		 ORDER BY c.name, p.name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest statuses: %w", err)
	}
	defer rows.Close()

	var statuses []LatestPipelineStatus
	for rows.Next() {
		var s LatestPipelineStatus
		if err := rows.Scan(&s.ClientName, &s.PipelineName, &s.Platform, &s.LatestStatus, &s.LastRunTime); err != nil {
			return nil, fmt.Errorf("failed to scan latest status: %w", err)
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// ClientFailureCounts holds rolling-window failure counts for a client.
type ClientFailureCounts struct {
	ClientID   uuid.UUID `json:"client_id"`
	ClientName string    `json:"client_name"`
	Failed24h  int64     `json:"failed_24h"`
	Failed7d   int64     `json:"failed_7d"`
}

// QueryFailureCountsByClient returns failed-run counts per client for the
// rolling 24-hour and 7-day windows ending at asOf.
func (db *DB) QueryFailureCountsByClient(ctx context.Context, asOf time.Time) ([]ClientFailureCounts, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.name,
		   SUM(CASE WHEN r.status = 'failed'
		             AND COALESCE(r.finished_at, r.started_at, r.created_at) >= $1 - interval '24 hours'
		            THEN 1 ELSE 0 END) AS failed_24h,
		   SUM(CASE WHEN r.status = 'failed'
		             AND COALESCE(r.finished_at, r.started_at, r.created_at) >= $1 - interval '7 days'
		            THEN 1 ELSE 0 END) AS failed_7d
		 FROM clients c
		 LEFT JOIN pipelines p ON p.client_id = c.id
		 LEFT JOIN runs r ON r.pipeline_id = p.id
		 GROUP BY c.id, c.name
		 ORDER BY failed_24h DESC, failed_7d DESC`,
		asOf,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query failure counts: %w", err)
	}
	defer rows.Close()

	var counts []ClientFailureCounts
	for rows.Next() {
		var c ClientFailureCounts
		if err := rows.Scan(&c.ClientID, &c.ClientName, &c.Failed24h, &c.Failed7d); err != nil {
			return nil, fmt.Errorf("failed to scan failure counts: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// FlakyPipeline ranks a pipeline by failure frequency.
type FlakyPipeline struct {
	ClientName   string   `json:"client_name"`
	PipelineName string   `json:"pipeline_name"`
	Platform     Platform `json:"platform"`
	FailureCount int64    `json:"failure_count"`
	TotalRuns    int64    `json:"total_runs"`
	FailureRate  float64  `json:"failure_rate"`
}

// QueryTopFlakyPipelines returns the pipelines with the most failures since
// the given time, ranked by failure count then failure rate.
func (db *DB) QueryTopFlakyPipelines(ctx context.Context, since time.Time, limit int) ([]FlakyPipeline, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT c.name, p.name, p.platform,
		   COUNT(*) FILTER (WHERE r.status = 'failed') AS failure_count,
		   COUNT(r.id) AS total_runs,
		   CASE WHEN COUNT(r.id) = 0 THEN 0
		        ELSE ROUND((COUNT(*) FILTER (WHERE r.status = 'failed'))::numeric / COUNT(r.id), 4)
		   END AS failure_rate
		 FROM pipelines p
		 JOIN clients c ON c.id = p.client_id
		 LEFT JOIN runs r ON r.pipeline_id = p.id
		   AND COALESCE(r.finished_at, r.started_at, r.created_at) >= $1
		 GROUP BY c.name, p.name, p.platform
		 ORDER BY failure_count DESC, failure_rate DESC, total_runs DESC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query flaky pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []FlakyPipeline
	for rows.Next() {
		var f FlakyPipeline
		if err := rows.Scan(&f.ClientName, &f.PipelineName, &f.Platform, &f.FailureCount, &f.TotalRuns, &f.FailureRate); err != nil {
			return nil, fmt.Errorf("failed to scan flaky pipeline: %w", err)
		}
		pipelines = append(pipelines, f)
	}
	return pipelines, rows.Err()
}

// PlatformFailureRate holds failure statistics for one platform.
type PlatformFailureRate struct {
	Platform    Platform `json:"platform"`
	Failures    int64    `json:"failures"`
	TotalRuns   int64    `json:"total_runs"`
	FailureRate float64  `json:"failure_rate"`
}

// QueryFailureRateByPlatform returns failures and failure rate per platform
// inside [since, until).
func (db *DB) QueryFailureRateByPlatform(ctx context.Context, since, until time.Time) ([]PlatformFailureRate, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT p.platform,
		   COUNT(*) FILTER (WHERE r.status = 'failed') AS failures,
		   COUNT(r.id) AS total_runs,
		   CASE WHEN COUNT(r.id) = 0 THEN 0
		        ELSE ROUND((COUNT(*) FILTER (WHERE r.status = 'failed'))::numeric / COUNT(r.id), 4)
		   END AS failure_rate
		 FROM pipelines p
		 LEFT JOIN runs r ON r.pipeline_id = p.id
		 WHERE COALESCE(r.finished_at, r.started_at, r.created_at) >= $1
		   AND COALESCE(r.finished_at, r.started_at, r.created_at) < $2
		 GROUP BY p.platform
		 ORDER BY failure_rate DESC`,
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query platform failure rates: %w", err)
	}
	defer rows.Close()

	var rates []PlatformFailureRate
	for rows.Next() {
		var r PlatformFailureRate
		if err := rows.Scan(&r.Platform, &r.Failures, &r.TotalRuns, &r.FailureRate); err != nil {
			return nil, fmt.Errorf("failed to scan platform failure rate: %w", err)
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// DurationBucket is one histogram bucket of run durations.
type DurationBucket struct {
	Bucket   int   `json:"duration_bucket"`
	RunCount int64 `json:"run_count"`
}

// QueryRunDurationDistribution returns a histogram of run durations between
// since and until, bucketed into bucketCount buckets up to maxDurationSeconds.
func (db *DB) QueryRunDurationDistribution(ctx context.Context, since, until time.Time, maxDurationSeconds, bucketCount int) ([]DurationBucket, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT width_bucket(r.duration_seconds, 0, $3, $4) AS duration_bucket,
		        COUNT(*) AS run_count
		 FROM runs r
		 WHERE r.duration_seconds IS NOT NULL
		   AND COALESCE(r.finished_at, r.started_at, r.created_at) >= $1
		   AND COALESCE(r.finished_at, r.started_at, r.created_at) < $2
		 GROUP BY duration_bucket
		 ORDER BY duration_bucket`,
		since, until, maxDurationSeconds, bucketCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query duration distribution: %w", err)
	}
	defer rows.Close()

	var buckets []DurationBucket
	for rows.Next() {
		var b DurationBucket
		if err := rows.Scan(&b.Bucket, &b.RunCount); err != nil {
			return nil, fmt.Errorf("failed to scan duration bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
