package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ckwflash/LiveHack2025/domain"
	"github.com/ckwflash/LiveHack2025/models"
)

const analysisKeyPrefix = "analysis:"

// CachedAnalysisRepository is a read-through Redis cache in front of the
// analysis store. Records never change once written, so entries are only
// evicted by TTL. Redis failures fall back to the store.
type CachedAnalysisRepository struct {
	inner AnalysisRepository
	cache RedisClient
	ttl   time.Duration
}

func NewCachedAnalysisRepository(inner AnalysisRepository, cache RedisClient, ttl time.Duration) *CachedAnalysisRepository {
	return &CachedAnalysisRepository{inner: inner, cache: cache, ttl: ttl}
}

func cacheKey(key domain.ListingKey) string {
	return analysisKeyPrefix + key.SourceSite + ":" + key.ListingID
}

func (r *CachedAnalysisRepository) FindByKey(ctx context.Context, key domain.ListingKey) (*models.AnalysisRecord, error) {
	raw, err := r.cache.Get(ctx, cacheKey(key))
	switch {
	case err == nil:
		var record models.AnalysisRecord
		jsonErr := json.Unmarshal([]byte(raw), &record)
		if jsonErr == nil {
			return &record, nil
		}
		slog.Warn("Discarding undecodable cached analysis", "listing", key.String(), "error", jsonErr)
	case !errors.Is(err, ErrCacheMiss):
		slog.Warn("Analysis cache unavailable", "listing", key.String(), "error", err)
	}

	record, err := r.inner.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	r.store(ctx, record)
	return record, nil
}

func (r *CachedAnalysisRepository) Insert(ctx context.Context, record *models.AnalysisRecord) (domain.InsertOutcome, error) {
	outcome, err := r.inner.Insert(ctx, record)
	if err == nil && outcome == domain.InsertInserted {
		r.store(ctx, record)
	}
	return outcome, err
}

func (r *CachedAnalysisRepository) TopPeers(ctx context.Context, category, excludeListingID string, limit int) ([]domain.Recommendation, error) {
	return r.inner.TopPeers(ctx, category, excludeListingID, limit)
}

func (r *CachedAnalysisRepository) store(ctx context.Context, record *models.AnalysisRecord) {
	body, err := json.Marshal(record)
	if err != nil {
		slog.Warn("Failed to encode analysis for cache", "listing", record.Key().String(), "error", err)
		return
	}
	if err := r.cache.Set(ctx, cacheKey(record.Key()), string(body), r.ttl); err != nil {
		slog.Warn("Failed to cache analysis", "listing", record.Key().String(), "error", err)
	}
}
