package grading_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/inkwell-ai/bluebook/internal/grading"
	"github.com/inkwell-ai/bluebook/internal/rubric"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRubric() *rubric.Rubric {
	return &rubric.Rubric{
		Title: "Quiz",
		Questions: []rubric.Question{
			{
				ID:       "1",
				MaxScore: 5,
				ScoringPoints: []rubric.ScoringPoint{
					{Description: "answer", Value: 5},
				},
			},
		},
	}
}

// fakeService grades deterministically and can fail a set number of times
// per page before succeeding.
type fakeService struct {
	mu       sync.Mutex
	failures map[int]int
	calls    int
}

func (f *fakeService) GradePage(_ context.Context, r *rubric.Rubric, page grading.PageImage) (*grading.PageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.failures[page.Index] > 0 {
		f.failures[page.Index]--
		return nil, errors.New("model unavailable")
	}

	return &grading.PageResult{
		PageIndex: page.Index,
		Results: []grading.QuestionResult{
			{
				ID:          "r-1",
				QuestionID:  "1",
				Score:       5,
				MaxScore:    5,
				Confidence:  0.95,
				PageIndices: []int{page.Index},
			},
		},
	}, nil
}

type fakeLimiter struct {
	mu      sync.Mutex
	denials int
	allowed int
}

func (f *fakeLimiter) Acquire(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denials > 0 {
		f.denials--
		return false, nil
	}
	f.allowed++
	return true, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*grading.PageResult
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*grading.PageResult)}
}

func (f *fakeCache) Get(_ context.Context, _ *rubric.Rubric, image []byte) (*grading.PageResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.entries[string(image)]
	return result, ok
}

func (f *fakeCache) Put(_ context.Context, _ *rubric.Rubric, image []byte, result *grading.PageResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.entries[string(image)] = result
}

func noSleepWorker(service grading.Service, cache grading.Cache, limiter grading.Limiter) *grading.Worker {
	retry := grading.RetryConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  3,
	}
	return grading.NewWorker(service, cache, limiter, retry, 0.9, testLogger())
}

func TestGradeBatchSuccess(t *testing.T) {
	service := &fakeService{failures: map[int]int{}}
	worker := noSleepWorker(service, nil, nil)

	pages := []grading.PageImage{
		{Index: 0, Data: []byte("page-0")},
		{Index: 1, Data: []byte("page-1")},
	}

	results, records := worker.GradeBatch(context.Background(), pages, testRubric(), 3)
	if len(records) != 0 {
		t.Fatalf("unexpected error records: %+v", records)
	}
	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2", len(results))
	}
	for _, result := range results {
		if result.BatchIndex != 3 {
			t.Errorf("batch index: got %d, want 3", result.BatchIndex)
		}
		if result.Failed {
			t.Errorf("page %d unexpectedly failed", result.PageIndex)
		}
	}
}

func TestGradeBatchRetriesTransientFailure(t *testing.T) {
	service := &fakeService{failures: map[int]int{0: 2}}
	worker := noSleepWorker(service, nil, nil)

	results, records := worker.GradeBatch(
		context.Background(),
		[]grading.PageImage{{Index: 0, Data: []byte("page-0")}},
		testRubric(), 0,
	)

	if len(records) != 0 {
		t.Fatalf("expected recovery, got records: %+v", records)
	}
	if results[0].Failed {
		t.Error("page should have recovered on the third attempt")
	}
}

// A page that exhausts its retries is recorded as failed without
// disturbing the rest of the batch.
func TestGradeBatchIsolatesExhaustedPage(t *testing.T) {
	service := &fakeService{failures: map[int]int{1: 10}}
	worker := noSleepWorker(service, nil, nil)

	pages := []grading.PageImage{
		{Index: 0, Data: []byte("page-0")},
		{Index: 1, Data: []byte("page-1")},
		{Index: 2, Data: []byte("page-2")},
	}

	results, records := worker.GradeBatch(context.Background(), pages, testRubric(), 4)

	if len(records) != 1 {
		t.Fatalf("records: got %d, want 1", len(records))
	}
	if records[0].Context.PageIndex != 1 {
		t.Errorf("record page: got %d, want 1", records[0].Context.PageIndex)
	}
	if records[0].Context.BatchIndex != 4 {
		t.Errorf("record batch index: got %d, want 4", records[0].Context.BatchIndex)
	}
	if records[0].RetryCount != 2 {
		t.Errorf("retry count: got %d, want 2", records[0].RetryCount)
	}

	var failed, graded int
	for _, result := range results {
		if result.Failed {
			failed++
		} else {
			graded++
		}
	}
	if failed != 1 || graded != 2 {
		t.Errorf("failed=%d graded=%d, want 1 and 2", failed, graded)
	}
}

func TestGradeBatchSkipsBlankPages(t *testing.T) {
	service := &fakeService{failures: map[int]int{}}
	worker := noSleepWorker(service, nil, nil)

	results, records := worker.GradeBatch(
		context.Background(),
		[]grading.PageImage{{Index: 0, Blank: true}},
		testRubric(), 0,
	)

	if len(records) != 0 {
		t.Fatalf("unexpected records: %+v", records)
	}
	if !results[0].Blank {
		t.Error("blank flag lost")
	}
	if service.calls != 0 {
		t.Errorf("blank page reached the model: %d calls", service.calls)
	}
}

func TestGradeBatchCacheHitSkipsModel(t *testing.T) {
	service := &fakeService{failures: map[int]int{}}
	cache := newFakeCache()
	cache.entries["page-0"] = &grading.PageResult{
		PageIndex: 99,
		Results: []grading.QuestionResult{
			{ID: "cached", QuestionID: "1", Score: 4, MaxScore: 5, Confidence: 0.92},
		},
	}
	worker := noSleepWorker(service, cache, nil)

	results, _ := worker.GradeBatch(
		context.Background(),
		[]grading.PageImage{{Index: 0, Data: []byte("page-0")}},
		testRubric(), 0,
	)

	if service.calls != 0 {
		t.Errorf("cache hit reached the model: %d calls", service.calls)
	}
	if results[0].PageIndex != 0 {
		t.Errorf("cached result must adopt the requested page index, got %d", results[0].PageIndex)
	}
	if results[0].Results[0].ID != "cached" {
		t.Error("cached result not used")
	}
}

func TestGradeBatchCachesConfidentResults(t *testing.T) {
	service := &fakeService{failures: map[int]int{}}
	cache := newFakeCache()
	worker := noSleepWorker(service, cache, nil)

	worker.GradeBatch(
		context.Background(),
		[]grading.PageImage{{Index: 0, Data: []byte("page-0")}},
		testRubric(), 0,
	)

	if cache.puts != 1 {
		t.Errorf("cache puts: got %d, want 1", cache.puts)
	}
}

func TestGradeBatchRateLimitDenialRetries(t *testing.T) {
	service := &fakeService{failures: map[int]int{}}
	limiter := &fakeLimiter{denials: 1}
	worker := noSleepWorker(service, nil, limiter)

	results, records := worker.GradeBatch(
		context.Background(),
		[]grading.PageImage{{Index: 0, Data: []byte("page-0")}},
		testRubric(), 0,
	)

	if len(records) != 0 {
		t.Fatalf("expected retry after denial, got records: %+v", records)
	}
	if results[0].Failed {
		t.Error("page should succeed once the limiter allows")
	}
}

func TestGradeBatchRateLimitExhaustionRecorded(t *testing.T) {
	service := &fakeService{failures: map[int]int{}}
	limiter := &fakeLimiter{denials: 10}
	worker := noSleepWorker(service, nil, limiter)

	results, records := worker.GradeBatch(
		context.Background(),
		[]grading.PageImage{{Index: 0, Data: []byte("page-0")}},
		testRubric(), 0,
	)

	if !results[0].Failed {
		t.Error("page should fail when every attempt is denied")
	}
	if len(records) != 1 || records[0].Type != grading.ErrorTypeRateLimited {
		t.Errorf("records: %+v, want one rate_limited record", records)
	}
}

func TestGradeAllFansOut(t *testing.T) {
	service := &fakeService{failures: map[int]int{}}
	worker := noSleepWorker(service, nil, nil)

	pages := make([]grading.PageImage, 25)
	for i := range pages {
		pages[i] = grading.PageImage{Index: i, Data: []byte{byte(i)}}
	}

	results, records, err := grading.GradeAll(context.Background(), worker, pages, testRubric(), 10, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("unexpected records: %+v", records)
	}
	if len(results) != 25 {
		t.Fatalf("results: got %d, want 25", len(results))
	}

	seen := make(map[int]bool)
	for _, result := range results {
		seen[result.PageIndex] = true
	}
	if len(seen) != 25 {
		t.Errorf("distinct pages: got %d, want 25", len(seen))
	}
}

func TestGradeAllEmptyBatch(t *testing.T) {
	worker := noSleepWorker(&fakeService{failures: map[int]int{}}, nil, nil)

	_, _, err := grading.GradeAll(context.Background(), worker, nil, testRubric(), 10, 2)
	if !errors.Is(err, grading.ErrEmptyBatch) {
		t.Errorf("got %v, want ErrEmptyBatch", err)
	}
}
