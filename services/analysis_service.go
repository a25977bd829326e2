package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/ckwflash/LiveHack2025/domain"
	"github.com/ckwflash/LiveHack2025/identity"
	"github.com/ckwflash/LiveHack2025/metrics"
	"github.com/ckwflash/LiveHack2025/models"
	"github.com/ckwflash/LiveHack2025/scoring"
)

// Consumer-side interfaces
type AnalysisRepository interface {
	FindByKey(ctx context.Context, key domain.ListingKey) (*models.AnalysisRecord, error)
	Insert(ctx context.Context, record *models.AnalysisRecord) (domain.InsertOutcome, error)
	TopPeers(ctx context.Context, category, excludeListingID string, limit int) ([]domain.Recommendation, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, rawText string) (*domain.ProductAnalysis, error)
}

// AnalysisService runs the external analysis at most once per stored listing
// and personalizes stored results per request. The store's unique listing
// index is the only serialization point between concurrent callers.
type AnalysisService struct {
	repo     AnalysisRepository
	analyzer Analyzer
}

type AnalysisOption func(*AnalysisService)

func WithAnalysisRepository(r AnalysisRepository) AnalysisOption {
	return func(s *AnalysisService) { s.repo = r }
}

func WithAnalyzer(a Analyzer) AnalysisOption {
	return func(s *AnalysisService) { s.analyzer = a }
}

func NewAnalysisService(opts ...AnalysisOption) *AnalysisService {
	s := &AnalysisService{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AnalysisService) Process(ctx context.Context, rawURL, rawText string, weights domain.Weights) (*domain.PersonalizedResult, error) {
	key, err := identity.Resolve(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidIdentity, err)
	}

	record, err := s.repo.FindByKey(ctx, key)
	if err == nil {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		slog.Debug("Analysis cache hit", "listing", key.String())
		result := s.personalize(ctx, record, weights)
		result.CacheHit = true
		return result, nil
	}
	if !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: lookup %s: %w", domain.ErrPersistenceFailed, key, err)
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	analysis, err := s.analyze(ctx, rawText)
	if err != nil {
		return nil, err
	}

	breakdown := scoring.BuildBreakdown(analysis)
	record = &models.AnalysisRecord{
		SourceSite:   key.SourceSite,
		ListingID:    key.ListingID,
		SourceURL:    rawURL,
		ProductName:  analysis.ProductName,
		Brand:        analysis.Brand,
		Category:     categoryOrUnknown(analysis.Category),
		Breakdown:    datatypes.NewJSONType(breakdown),
		DefaultScore: scoring.WeightedScore(breakdown, nil),
	}

	outcome, err := s.repo.Insert(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
	}

	if outcome == domain.InsertConflict {
		metrics.CacheLookups.WithLabelValues("conflict").Inc()
		slog.Info("Lost insert race, using stored analysis", "listing", key.String())
		winner, err := s.repo.FindByKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: refetch after conflict on %s: %w", domain.ErrPersistenceFailed, key, err)
		}
		return s.personalize(ctx, winner, weights), nil
	}

	slog.Info("Stored new analysis", "listing", key.String(), "default_score", record.DefaultScore)
	return s.personalize(ctx, record, weights), nil
}

func (s *AnalysisService) analyze(ctx context.Context, rawText string) (*domain.ProductAnalysis, error) {
	start := time.Now()
	analysis, err := s.analyzer.Analyze(ctx, rawText)
	metrics.AnalyzerDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AnalyzerCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrAnalysisFailed, err)
	}
	if analysis == nil {
		metrics.AnalyzerCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: engine returned no analysis", domain.ErrAnalysisFailed)
	}
	metrics.AnalyzerCalls.WithLabelValues("ok").Inc()
	return analysis, nil
}

// personalize re-derives the score for the caller's weights and attaches
// peer recommendations. Recommendation failures degrade to an empty list.
func (s *AnalysisService) personalize(ctx context.Context, record *models.AnalysisRecord, weights domain.Weights) *domain.PersonalizedResult {
	breakdown := record.Breakdown.Data()
	if breakdown == nil {
		breakdown = domain.Breakdown{}
	}

	recs, err := s.repo.TopPeers(ctx, record.Category, record.ListingID, domain.MaxRecommendations)
	if err != nil {
		slog.Warn("Failed to load recommendations", "listing", record.Key().String(), "error", err)
		recs = nil
	}
	if recs == nil {
		recs = []domain.Recommendation{}
	}

	return &domain.PersonalizedResult{
		ListingID:           record.ListingID,
		SourceSite:          record.SourceSite,
		SourceURL:           record.SourceURL,
		ProductName:         record.ProductName,
		Brand:               record.Brand,
		Category:            record.Category,
		Breakdown:           breakdown,
		SustainabilityScore: scoring.WeightedScore(breakdown, weights),
		Recommendations:     recs,
	}
}

func categoryOrUnknown(category string) string {
	if c := strings.TrimSpace(category); c != "" {
		return c
	}
	return domain.UnknownCategory
}
