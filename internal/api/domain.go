package api

import (
	"context"
	"time"

	"github.com/inkwell-ai/bluebook/internal/batches"
	"github.com/inkwell-ai/bluebook/internal/grading"
	"github.com/inkwell-ai/bluebook/internal/ratelimit"
	"github.com/inkwell-ai/bluebook/internal/resultcache"
	"github.com/inkwell-ai/bluebook/internal/workflow"
)

// gradingLimiterKey names the shared budget for vision model calls.
const gradingLimiterKey = "grading"

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Batches batches.System

	cacheStore   *resultcache.PostgresStore
	limiterStore *ratelimit.PostgresStore
	rateWindow   time.Duration
}

// PruneExpired sweeps expired result cache entries and stale rate limit
// windows. Run opportunistically at startup; failures are non-fatal.
func (d *Domain) PruneExpired(ctx context.Context) error {
	now := time.Now().UTC()
	if err := d.cacheStore.Prune(ctx, now); err != nil {
		return err
	}
	cutoff := now.Add(-2 * d.rateWindow).Unix()
	return d.limiterStore.Prune(ctx, cutoff)
}

// NewDomain creates all domain systems from the API runtime. The grading
// pipeline is assembled here: service, result cache, rate limiter, and
// workers feed the workflow engine the batches system drives.
func NewDomain(runtime *Runtime) *Domain {
	db := runtime.Database.Connection()
	logger := runtime.Logger

	service := grading.NewAgentService(runtime.Agent, logger)

	cacheStore := resultcache.NewPostgresStore(db)
	cache := resultcache.New(
		cacheStore,
		runtime.Grading.CacheTTLDuration(),
		runtime.Grading.CacheConfidenceFloor,
		logger,
	)

	limiterStore := ratelimit.NewPostgresStore(db)
	limiter := ratelimit.New(
		limiterStore,
		gradingLimiterKey,
		runtime.Grading.RateLimitMax,
		runtime.Grading.RateLimitWindowDuration(),
		logger,
	)

	worker := grading.NewWorker(
		service,
		cache,
		limiter,
		runtime.Grading.Retry(),
		runtime.Grading.CacheConfidenceFloor,
		logger,
	)

	events := workflow.NewMemorySink(0)
	engine := workflow.NewEngine(&workflow.Runtime{
		Worker:  worker,
		Storage: runtime.Storage,
		Store:   workflow.NewPostgresStore(db),
		Cache:   cache,
		Events:  events,
		Options: workflow.Options{
			Concurrency:         runtime.Grading.Concurrency,
			BatchSize:           runtime.Grading.BatchSize,
			BoundaryThreshold:   runtime.Grading.BoundaryThreshold,
			CrossPageThreshold:  runtime.Grading.CrossPageThreshold,
			RequireRubricReview: runtime.Grading.RequireRubricReview,
		},
		Logger: logger.With("workflow", "grading"),
	})

	batchesSystem := batches.New(
		db,
		runtime.Storage,
		engine,
		events,
		logger,
		runtime.Pagination,
	)

	return &Domain{
		Batches:      batchesSystem,
		cacheStore:   cacheStore,
		limiterStore: limiterStore,
		rateWindow:   runtime.Grading.RateLimitWindowDuration(),
	}
}
