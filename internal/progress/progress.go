// Package progress implements Progress Telemetry (C9): a per-project
// ephemeral record of crawl/curation progress, stored in Redis with a
// short TTL and read lock-free by the API. A failed write is never an
// error to the caller — this state is observability, not truth.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stage names the current phase of a full rescrape.
type Stage string

const (
	StageCrawl    Stage = "CRAWL"
	StageFilter   Stage = "FILTER"
	StageCurate   Stage = "CURATE"
	StageGenerate Stage = "GENERATE"
	StageAnalyze  Stage = "ANALYZE"
	StageComplete Stage = "COMPLETE"
)

const ttl = time.Hour

// Record is the ephemeral progress snapshot for one project.
type Record struct {
	Stage          Stage                  `json:"stage"`
	Current        int                    `json:"current"`
	Total          int                    `json:"total"`
	Percent        float64                `json:"percent"`
	ElapsedSeconds float64                `json:"elapsed_seconds"`
	ETASeconds     *float64               `json:"eta_seconds,omitempty"`
	CurrentURL     string                 `json:"current_url,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
	StartedAt      time.Time              `json:"started_at"`
}

// Store is the Redis-backed progress telemetry keeper.
type Store struct {
	redis  *redis.Client
	logger *slog.Logger
}

// New builds a Store.
func New(client *redis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{redis: client, logger: logger}
}

func key(projectID string) string {
	return "progress:" + projectID
}

// Start resets the progress record for a fresh run.
func (s *Store) Start(ctx context.Context, projectID string, stage Stage, total int) {
	now := time.Now()
	s.write(ctx, projectID, Record{Stage: stage, Total: total, StartedAt: now, UpdatedAt: now})
}

// Update advances the record's stage/current/total and derives percent
// and ETA from elapsed time and throughput so far.
func (s *Store) Update(ctx context.Context, projectID string, stage Stage, current, total int, currentURL string) {
	existing, _ := s.Get(ctx, projectID)
	started := existing.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	elapsed := time.Since(started).Seconds()

	var percent float64
	if total > 0 {
		percent = float64(current) / float64(total) * 100
	}

	var eta *float64
	if current > 0 && elapsed > 0 {
		rate := float64(current) / elapsed
		if rate > 0 {
			remaining := float64(total-current) / rate
			eta = &remaining
		}
	}

	record := Record{
		Stage: stage, Current: current, Total: total, Percent: percent,
		ElapsedSeconds: elapsed, ETASeconds: eta, CurrentURL: currentURL,
		UpdatedAt: time.Now(), StartedAt: started,
	}
	s.write(ctx, projectID, record)
}

// Complete marks the run finished.
func (s *Store) Complete(ctx context.Context, projectID string) {
	existing, _ := s.Get(ctx, projectID)
	s.write(ctx, projectID, Record{
		Stage: StageComplete, Current: existing.Total, Total: existing.Total, Percent: 100,
		ElapsedSeconds: time.Since(existing.StartedAt).Seconds(), UpdatedAt: time.Now(), StartedAt: existing.StartedAt,
	})
}

func (s *Store) write(ctx context.Context, projectID string, record Record) {
	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Warn("progress: marshal failed", "project_id", projectID, "error", err)
		return
	}
	if err := s.redis.Set(ctx, key(projectID), data, ttl).Err(); err != nil {
		s.logger.Warn("progress: write failed", "project_id", projectID, "error", err)
	}
}

// Get returns the current record, or a zero-value record if none is
// stored or the read fails.
func (s *Store) Get(ctx context.Context, projectID string) (Record, error) {
	data, err := s.redis.Get(ctx, key(projectID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Record{}, nil
		}
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}
