// Package resultcache caches per-page grading results keyed by rubric
// content and a perceptual hash of the page image, so resubmitted or
// re-scanned pages skip the model call. The cache is strictly best
// effort: any failure on the read or write path degrades to a miss.
package resultcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"time"

	"github.com/corona10/goimagehash"

	"github.com/inkwell-ai/bluebook/internal/grading"
	"github.com/inkwell-ai/bluebook/internal/rubric"
)

// DefaultTTL is thirty days; rubric edits change the key, so entries only
// go stale through drift in grading behavior itself.
const DefaultTTL = 720 * time.Hour

// Entry is a stored grading result with its expiry.
type Entry struct {
	Key       string
	Payload   []byte
	ExpiresAt time.Time
}

// Store persists cache entries. Get returns false for both absent and
// expired keys. DeleteByPrefix removes every entry whose key starts with
// the prefix and reports how many were dropped.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// Cache fronts a Store with key derivation and the confidence floor.
// It satisfies the grading worker's cache surface.
type Cache struct {
	store  Store
	ttl    time.Duration
	floor  float64
	logger *slog.Logger

	now func() time.Time
}

func New(store Store, ttl time.Duration, floor float64, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:  store,
		ttl:    ttl,
		floor:  floor,
		logger: logger.With("system", "resultcache"),
		now:    time.Now,
	}
}

// rubricDigest hashes the rubric content. All keys for one rubric share
// this prefix, which is what makes rubric-wide invalidation a prefix
// delete.
func rubricDigest(r *rubric.Rubric) (string, error) {
	rubricJSON, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("serialize rubric: %w", err)
	}
	sum := sha256.Sum256(rubricJSON)
	return hex.EncodeToString(sum[:]), nil
}

// Key derives the cache key: the rubric content hash joined with a
// perceptual hash of the page image. The perceptual hash tolerates minor
// re-scan variation that a byte hash would not.
func Key(r *rubric.Rubric, imageData []byte) (string, error) {
	digest, err := rubricDigest(r)
	if err != nil {
		return "", err
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	perceptual, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return "", fmt.Errorf("perceptual hash: %w", err)
	}

	return digest + ":" + perceptual.ToString(), nil
}

// Get looks up a cached result for this rubric and image. Every failure
// path returns a miss.
func (c *Cache) Get(ctx context.Context, r *rubric.Rubric, imageData []byte) (*grading.PageResult, bool) {
	key, err := Key(r, imageData)
	if err != nil {
		c.logger.Debug("cache key derivation failed", "error", err)
		return nil, false
	}

	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", "error", err)
		return nil, false
	}
	if !ok || c.now().After(entry.ExpiresAt) {
		return nil, false
	}

	var result grading.PageResult
	if err := json.Unmarshal(entry.Payload, &result); err != nil {
		c.logger.Warn("cache entry corrupt, evicting", "key", key, "error", err)
		if delErr := c.store.Delete(ctx, key); delErr != nil {
			c.logger.Warn("cache eviction failed", "key", key, "error", delErr)
		}
		return nil, false
	}
	return &result, true
}

// Put stores a result unless its confidence is at or below the floor.
// Low confidence results must always re-grade.
func (c *Cache) Put(ctx context.Context, r *rubric.Rubric, imageData []byte, result *grading.PageResult) {
	if result == nil || result.Failed || result.Confidence() <= c.floor {
		return
	}

	key, err := Key(r, imageData)
	if err != nil {
		c.logger.Debug("cache key derivation failed", "error", err)
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("cache serialization failed", "error", err)
		return
	}

	entry := Entry{
		Key:       key,
		Payload:   payload,
		ExpiresAt: c.now().Add(c.ttl),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		c.logger.Warn("cache write failed", "error", err)
	}
}

// Invalidate drops every entry cached against this rubric and reports how
// many were removed. Used when a reviewer corrects the rubric: grades
// produced against the rejected version must never be served again.
func (c *Cache) Invalidate(ctx context.Context, r *rubric.Rubric) (int, error) {
	digest, err := rubricDigest(r)
	if err != nil {
		return 0, err
	}
	return c.store.DeleteByPrefix(ctx, digest+":")
}

// Evict drops the entry for this rubric and image, used when a targeted
// re-grade must bypass a disputed cached result.
func (c *Cache) Evict(ctx context.Context, r *rubric.Rubric, imageData []byte) error {
	key, err := Key(r, imageData)
	if err != nil {
		return err
	}
	return c.store.Delete(ctx, key)
}
