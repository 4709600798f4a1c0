package grading

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inkwell-ai/bluebook/internal/rubric"
)

// Cache is the result cache surface the workers drive. Lookups and writes
// that fail are treated as misses so grading is never blocked by the cache.
type Cache interface {
	Get(ctx context.Context, r *rubric.Rubric, image []byte) (*PageResult, bool)
	Put(ctx context.Context, r *rubric.Rubric, image []byte, result *PageResult)
}

// Limiter gates outbound model calls. Acquire reports whether a call is
// allowed right now; denial is transient and retried with backoff.
type Limiter interface {
	Acquire(ctx context.Context) (bool, error)
}

// RetryConfig controls exponential backoff for transient grading failures.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

// DefaultRetryConfig matches the worker defaults: 3 attempts starting at
// one second and doubling, capped at thirty seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := c.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Worker grades batches of pages through the Service, consulting the cache
// before each call and retrying transient failures. A page that exhausts
// its retries is recorded as failed; it never aborts the rest of the batch.
type Worker struct {
	service Service
	cache   Cache
	limiter Limiter
	retry   RetryConfig
	floor   float64
	logger  *slog.Logger

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a grading worker. cache and limiter may be nil, which
// disables caching and rate limiting respectively. floor is the minimum
// confidence a page must reach before its result is written to the cache.
func NewWorker(service Service, cache Cache, limiter Limiter, retry RetryConfig, floor float64, logger *slog.Logger) *Worker {
	return &Worker{
		service: service,
		cache:   cache,
		limiter: limiter,
		retry:   retry,
		floor:   floor,
		logger:  logger.With("system", "grading-worker"),
		sleep:   sleepContext,
	}
}

// GradeBatch grades every page in order, isolating per-page failures.
// Each page works against its own deep copy of the rubric so no batch can
// observe another's mutations. Returned results carry batchIndex so the
// merger can resolve duplicate submissions of the same page.
func (w *Worker) GradeBatch(ctx context.Context, pages []PageImage, r *rubric.Rubric, batchIndex int) ([]PageResult, []ErrorRecord) {
	if len(pages) == 0 {
		return nil, nil
	}

	batchRubric := r.Clone()
	results := make([]PageResult, 0, len(pages))
	var records []ErrorRecord

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			records = append(records, ErrorRecord{
				Type:       ErrorTypeTransient,
				Message:    err.Error(),
				Context:    ErrorContext{PageIndex: page.Index, BatchIndex: batchIndex},
				OccurredAt: time.Now().UTC(),
			})
			continue
		}

		result, record := w.gradePage(ctx, batchRubric, page)
		if record != nil {
			record.Context.BatchIndex = batchIndex
			records = append(records, *record)
		}
		result.BatchIndex = batchIndex
		results = append(results, *result)
	}

	return results, records
}

func (w *Worker) gradePage(ctx context.Context, r *rubric.Rubric, page PageImage) (*PageResult, *ErrorRecord) {
	if page.Blank {
		return &PageResult{PageIndex: page.Index, Blank: true}, nil
	}

	if w.cache != nil {
		if cached, ok := w.cache.Get(ctx, r, page.Data); ok {
			w.logger.Debug("cache hit", "page", page.Index)
			cached.PageIndex = page.Index
			return cached, nil
		}
	}

	var lastErr error
	retries := 0
	rateLimited := false
	for attempt := 1; attempt <= w.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			retries++
			if err := w.sleep(ctx, w.retry.delay(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}

		if ok, err := w.acquire(ctx); err != nil {
			lastErr = err
			break
		} else if !ok {
			rateLimited = true
			lastErr = fmt.Errorf("rate limit reached for page %d", page.Index)
			continue
		}
		rateLimited = false

		result, err := w.service.GradePage(ctx, r, page)
		if err != nil {
			lastErr = err
			w.logger.Warn("grading attempt failed",
				"page", page.Index,
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		if w.cache != nil && result.Confidence() > w.floor {
			w.cache.Put(ctx, r, page.Data, result)
		}
		return result, nil
	}

	errType := ErrorTypeTransient
	if rateLimited {
		errType = ErrorTypeRateLimited
	}
	record := &ErrorRecord{
		Type:       errType,
		Message:    lastErr.Error(),
		Context:    ErrorContext{PageIndex: page.Index},
		RetryCount: retries,
		OccurredAt: time.Now().UTC(),
	}
	return &PageResult{PageIndex: page.Index, Failed: true}, record
}

// acquire consults the limiter; a limiter error fails open so an unhealthy
// limiter backend cannot halt grading.
func (w *Worker) acquire(ctx context.Context) (bool, error) {
	if w.limiter == nil {
		return true, nil
	}
	ok, err := w.limiter.Acquire(ctx)
	if err != nil {
		w.logger.Warn("rate limiter unavailable, allowing call", "error", err)
		return true, nil
	}
	if !ok {
		return false, nil
	}
	return true, nil
}

// GradeAll fans pages out across workers in fixed-size batches and waits
// for every batch to finish. concurrency bounds in-flight batches.
func GradeAll(ctx context.Context, w *Worker, pages []PageImage, r *rubric.Rubric, batchSize, concurrency int) ([]PageResult, []ErrorRecord, error) {
	if len(pages) == 0 {
		return nil, nil, ErrEmptyBatch
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	batches := splitPages(pages, batchSize)
	resultSets := make([][]PageResult, len(batches))
	recordSets := make([][]ErrorRecord, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, batch := range batches {
		g.Go(func() error {
			results, records := w.GradeBatch(gctx, batch, r, i)
			resultSets[i] = results
			recordSets[i] = records
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var results []PageResult
	var records []ErrorRecord
	for i := range batches {
		results = append(results, resultSets[i]...)
		records = append(records, recordSets[i]...)
	}
	return results, records, nil
}

func splitPages(pages []PageImage, size int) [][]PageImage {
	var batches [][]PageImage
	for start := 0; start < len(pages); start += size {
		end := start + size
		if end > len(pages) {
			end = len(pages)
		}
		batches = append(batches, pages[start:end])
	}
	return batches
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
