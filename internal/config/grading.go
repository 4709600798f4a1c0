package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/inkwell-ai/bluebook/internal/grading"
)

const (
	EnvGradingConcurrency         = "BLUEBOOK_GRADING_CONCURRENCY"
	EnvGradingBatchSize           = "BLUEBOOK_GRADING_BATCH_SIZE"
	EnvGradingRetryMaxAttempts    = "BLUEBOOK_GRADING_RETRY_MAX_ATTEMPTS"
	EnvGradingRetryInitialDelay   = "BLUEBOOK_GRADING_RETRY_INITIAL_DELAY"
	EnvGradingRetryMaxDelay       = "BLUEBOOK_GRADING_RETRY_MAX_DELAY"
	EnvGradingBoundaryThreshold   = "BLUEBOOK_GRADING_BOUNDARY_THRESHOLD"
	EnvGradingCrossPageThreshold  = "BLUEBOOK_GRADING_CROSS_PAGE_THRESHOLD"
	EnvGradingCacheFloor          = "BLUEBOOK_GRADING_CACHE_CONFIDENCE_FLOOR"
	EnvGradingCacheTTL            = "BLUEBOOK_GRADING_CACHE_TTL"
	EnvGradingRateLimitMax        = "BLUEBOOK_GRADING_RATE_LIMIT_MAX"
	EnvGradingRateLimitWindow     = "BLUEBOOK_GRADING_RATE_LIMIT_WINDOW"
	EnvGradingRequireRubricReview = "BLUEBOOK_GRADING_REQUIRE_RUBRIC_REVIEW"
)

// GradingConfig holds orchestration knobs for the grading workflow:
// worker fan-out, retry backoff, confidence thresholds, the result cache,
// and the outbound rate limit.
type GradingConfig struct {
	Concurrency int `toml:"concurrency"`
	BatchSize   int `toml:"batch_size"`

	RetryMaxAttempts  int     `toml:"retry_max_attempts"`
	RetryInitialDelay string  `toml:"retry_initial_delay"`
	RetryMaxDelay     string  `toml:"retry_max_delay"`
	RetryMultiplier   float64 `toml:"retry_multiplier"`

	BoundaryThreshold  float64 `toml:"boundary_threshold"`
	CrossPageThreshold float64 `toml:"cross_page_threshold"`

	CacheConfidenceFloor float64 `toml:"cache_confidence_floor"`
	CacheTTL             string  `toml:"cache_ttl"`

	RateLimitMax    int    `toml:"rate_limit_max"`
	RateLimitWindow string `toml:"rate_limit_window"`

	RequireRubricReview bool `toml:"require_rubric_review"`
}

// Retry returns the worker retry configuration.
func (c *GradingConfig) Retry() grading.RetryConfig {
	initial, _ := time.ParseDuration(c.RetryInitialDelay)
	max, _ := time.ParseDuration(c.RetryMaxDelay)
	return grading.RetryConfig{
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   c.RetryMultiplier,
		MaxAttempts:  c.RetryMaxAttempts,
	}
}

// CacheTTLDuration returns CacheTTL as a time.Duration.
func (c *GradingConfig) CacheTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.CacheTTL)
	return d
}

// RateLimitWindowDuration returns RateLimitWindow as a time.Duration.
func (c *GradingConfig) RateLimitWindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.RateLimitWindow)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *GradingConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *GradingConfig) Merge(overlay *GradingConfig) {
	if overlay.Concurrency != 0 {
		c.Concurrency = overlay.Concurrency
	}
	if overlay.BatchSize != 0 {
		c.BatchSize = overlay.BatchSize
	}
	if overlay.RetryMaxAttempts != 0 {
		c.RetryMaxAttempts = overlay.RetryMaxAttempts
	}
	if overlay.RetryInitialDelay != "" {
		c.RetryInitialDelay = overlay.RetryInitialDelay
	}
	if overlay.RetryMaxDelay != "" {
		c.RetryMaxDelay = overlay.RetryMaxDelay
	}
	if overlay.RetryMultiplier != 0 {
		c.RetryMultiplier = overlay.RetryMultiplier
	}
	if overlay.BoundaryThreshold != 0 {
		c.BoundaryThreshold = overlay.BoundaryThreshold
	}
	if overlay.CrossPageThreshold != 0 {
		c.CrossPageThreshold = overlay.CrossPageThreshold
	}
	if overlay.CacheConfidenceFloor != 0 {
		c.CacheConfidenceFloor = overlay.CacheConfidenceFloor
	}
	if overlay.CacheTTL != "" {
		c.CacheTTL = overlay.CacheTTL
	}
	if overlay.RateLimitMax != 0 {
		c.RateLimitMax = overlay.RateLimitMax
	}
	if overlay.RateLimitWindow != "" {
		c.RateLimitWindow = overlay.RateLimitWindow
	}
	if overlay.RequireRubricReview {
		c.RequireRubricReview = true
	}
}

func (c *GradingConfig) loadDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 5
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryInitialDelay == "" {
		c.RetryInitialDelay = "1s"
	}
	if c.RetryMaxDelay == "" {
		c.RetryMaxDelay = "30s"
	}
	if c.RetryMultiplier == 0 {
		c.RetryMultiplier = 2.0
	}
	if c.BoundaryThreshold == 0 {
		c.BoundaryThreshold = 0.7
	}
	if c.CrossPageThreshold == 0 {
		c.CrossPageThreshold = 0.8
	}
	if c.CacheConfidenceFloor == 0 {
		c.CacheConfidenceFloor = 0.9
	}
	if c.CacheTTL == "" {
		c.CacheTTL = "720h"
	}
	if c.RateLimitMax == 0 {
		c.RateLimitMax = 60
	}
	if c.RateLimitWindow == "" {
		c.RateLimitWindow = "1m"
	}
}

func (c *GradingConfig) loadEnv() {
	setInt := func(envVar string, target *int) {
		if v := os.Getenv(envVar); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*target = n
			}
		}
	}
	setFloat := func(envVar string, target *float64) {
		if v := os.Getenv(envVar); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*target = f
			}
		}
	}
	setString := func(envVar string, target *string) {
		if v := os.Getenv(envVar); v != "" {
			*target = v
		}
	}

	setInt(EnvGradingConcurrency, &c.Concurrency)
	setInt(EnvGradingBatchSize, &c.BatchSize)
	setInt(EnvGradingRetryMaxAttempts, &c.RetryMaxAttempts)
	setString(EnvGradingRetryInitialDelay, &c.RetryInitialDelay)
	setString(EnvGradingRetryMaxDelay, &c.RetryMaxDelay)
	setFloat(EnvGradingBoundaryThreshold, &c.BoundaryThreshold)
	setFloat(EnvGradingCrossPageThreshold, &c.CrossPageThreshold)
	setFloat(EnvGradingCacheFloor, &c.CacheConfidenceFloor)
	setString(EnvGradingCacheTTL, &c.CacheTTL)
	setInt(EnvGradingRateLimitMax, &c.RateLimitMax)
	setString(EnvGradingRateLimitWindow, &c.RateLimitWindow)

	if v := os.Getenv(EnvGradingRequireRubricReview); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.RequireRubricReview = b
		}
	}
}

func (c *GradingConfig) validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("invalid concurrency: %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("invalid batch_size: %d", c.BatchSize)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("invalid retry_max_attempts: %d", c.RetryMaxAttempts)
	}
	if _, err := time.ParseDuration(c.RetryInitialDelay); err != nil {
		return fmt.Errorf("invalid retry_initial_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.RetryMaxDelay); err != nil {
		return fmt.Errorf("invalid retry_max_delay: %w", err)
	}
	if c.BoundaryThreshold < 0 || c.BoundaryThreshold > 1 {
		return fmt.Errorf("invalid boundary_threshold: %f", c.BoundaryThreshold)
	}
	if c.CrossPageThreshold < 0 || c.CrossPageThreshold > 1 {
		return fmt.Errorf("invalid cross_page_threshold: %f", c.CrossPageThreshold)
	}
	if c.CacheConfidenceFloor < 0 || c.CacheConfidenceFloor > 1 {
		return fmt.Errorf("invalid cache_confidence_floor: %f", c.CacheConfidenceFloor)
	}
	if _, err := time.ParseDuration(c.CacheTTL); err != nil {
		return fmt.Errorf("invalid cache_ttl: %w", err)
	}
	if c.RateLimitMax < 1 {
		return fmt.Errorf("invalid rate_limit_max: %d", c.RateLimitMax)
	}
	if _, err := time.ParseDuration(c.RateLimitWindow); err != nil {
		return fmt.Errorf("invalid rate_limit_window: %w", err)
	}
	return nil
}
