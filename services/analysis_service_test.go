package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/ckwflash/LiveHack2025/domain"
	"github.com/ckwflash/LiveHack2025/models"
)

const listingURL = "https://shopee.sg/Organic-Tee-i.123.456?sp_atk=abc"

var listingKey = domain.ListingKey{SourceSite: "shopee.sg", ListingID: "123_456"}

// Mocks
type MockAnalysisRepository struct {
	mock.Mock
}

func (m *MockAnalysisRepository) FindByKey(ctx context.Context, key domain.ListingKey) (*models.AnalysisRecord, error) {
	args := m.Called(ctx, key)
	if rec := args.Get(0); rec != nil {
		return rec.(*models.AnalysisRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAnalysisRepository) Insert(ctx context.Context, record *models.AnalysisRecord) (domain.InsertOutcome, error) {
	args := m.Called(ctx, record)
	return args.Get(0).(domain.InsertOutcome), args.Error(1)
}

func (m *MockAnalysisRepository) TopPeers(ctx context.Context, category, excludeListingID string, limit int) ([]domain.Recommendation, error) {
	args := m.Called(ctx, category, excludeListingID, limit)
	if recs := args.Get(0); recs != nil {
		return recs.([]domain.Recommendation), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, rawText string) (*domain.ProductAnalysis, error) {
	args := m.Called(ctx, rawText)
	if a := args.Get(0); a != nil {
		return a.(*domain.ProductAnalysis), args.Error(1)
	}
	return nil, args.Error(1)
}

func goodAnalysis() *domain.ProductAnalysis {
	return &domain.ProductAnalysis{
		ProductName: "Organic Tee",
		Brand:       "Acme",
		Category:    "Apparel",
		SustainabilityAnalysis: map[string]domain.DimensionAnalysis{
			domain.DimensionMaterialComposition: {Analysis: "organic cotton", Rating: "Excellent"},
			domain.DimensionProductionAndBrand:  {Analysis: "fair trade", Rating: "Good"},
			domain.DimensionCircularity:         {Analysis: "", Rating: "Neutral"},
		},
	}
}

func storedRecord(name string) *models.AnalysisRecord {
	return &models.AnalysisRecord{
		ID:          9,
		SourceSite:  listingKey.SourceSite,
		ListingID:   listingKey.ListingID,
		SourceURL:   listingURL,
		ProductName: name,
		Brand:       "Acme",
		Category:    "Apparel",
		Breakdown: datatypes.NewJSONType(domain.Breakdown{
			domain.DimensionMaterialComposition: {Rating: domain.RatingGood, NumericScore: 8, Analysis: "cotton"},
		}),
		DefaultScore: 80,
	}
}

var peers = []domain.Recommendation{{ProductName: "Hemp Tee", Brand: "Green", URL: "https://shopee.sg/h-i.1.1", Score: 95}}

func TestProcess_CacheHit(t *testing.T) {
	repo := new(MockAnalysisRepository)
	analyzer := new(MockAnalyzer)
	s := NewAnalysisService(WithAnalysisRepository(repo), WithAnalyzer(analyzer))

	rec := storedRecord("Organic Tee")
	rec.DefaultScore = 0
	repo.On("FindByKey", mock.Anything, listingKey).Return(rec, nil)
	repo.On("TopPeers", mock.Anything, "Apparel", "123_456", domain.MaxRecommendations).Return(peers, nil)

	res, err := s.Process(context.Background(), listingURL, "page text", nil)

	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, 80, res.SustainabilityScore)
	assert.Equal(t, "Organic Tee", res.ProductName)
	assert.Equal(t, peers, res.Recommendations)
	analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestProcess_MissAnalyzesAndStores(t *testing.T) {
	repo := new(MockAnalysisRepository)
	analyzer := new(MockAnalyzer)
	s := NewAnalysisService(WithAnalysisRepository(repo), WithAnalyzer(analyzer))

	repo.On("FindByKey", mock.Anything, listingKey).Return(nil, domain.ErrRecordNotFound).Once()
	analyzer.On("Analyze", mock.Anything, "page text").Return(goodAnalysis(), nil).Once()
	repo.On("Insert", mock.Anything, mock.MatchedBy(func(r *models.AnalysisRecord) bool {
		b := r.Breakdown.Data()
		return r.Key() == listingKey &&
			r.SourceURL == listingURL &&
			r.Category == "Apparel" &&
			r.DefaultScore == 77 &&
			len(b) == 3 &&
			b[domain.DimensionCircularity].Analysis == domain.NoAnalysisPlaceholder
	})).Return(domain.InsertInserted, nil).Once()
	repo.On("TopPeers", mock.Anything, "Apparel", "123_456", 3).Return(peers, nil)

	res, err := s.Process(context.Background(), listingURL, "page text", domain.Weights{"circularity_and_end_of_life": 5})

	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 77, res.SustainabilityScore)
	assert.Equal(t, "123_456", res.ListingID)
	assert.Equal(t, "shopee.sg", res.SourceSite)
	assert.Equal(t, domain.RatingExcellent, res.Breakdown[domain.DimensionMaterialComposition].Rating)
	assert.Equal(t, 10, res.Breakdown[domain.DimensionMaterialComposition].NumericScore)
	repo.AssertExpectations(t)
	analyzer.AssertExpectations(t)
}

func TestProcess_EmptyCategoryBecomesUnknown(t *testing.T) {
	repo := new(MockAnalysisRepository)
	analyzer := new(MockAnalyzer)
	s := NewAnalysisService(WithAnalysisRepository(repo), WithAnalyzer(analyzer))

	analysis := goodAnalysis()
	analysis.Category = "  "
	repo.On("FindByKey", mock.Anything, listingKey).Return(nil, domain.ErrRecordNotFound)
	analyzer.On("Analyze", mock.Anything, mock.Anything).Return(analysis, nil)
	repo.On("Insert", mock.Anything, mock.MatchedBy(func(r *models.AnalysisRecord) bool {
		return r.Category == domain.UnknownCategory
	})).Return(domain.InsertInserted, nil)
	repo.On("TopPeers", mock.Anything, domain.UnknownCategory, "123_456", 3).Return([]domain.Recommendation{}, nil)

	res, err := s.Process(context.Background(), listingURL, "text", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.UnknownCategory, res.Category)
	assert.NotNil(t, res.Recommendations)
	assert.Empty(t, res.Recommendations)
}

func TestProcess_ConflictReturnsWinner(t *testing.T) {
	repo := new(MockAnalysisRepository)
	analyzer := new(MockAnalyzer)
	s := NewAnalysisService(WithAnalysisRepository(repo), WithAnalyzer(analyzer))

	winner := storedRecord("Winner Tee")
	repo.On("FindByKey", mock.Anything, listingKey).Return(nil, domain.ErrRecordNotFound).Once()
	analyzer.On("Analyze", mock.Anything, mock.Anything).Return(goodAnalysis(), nil)
	repo.On("Insert", mock.Anything, mock.Anything).Return(domain.InsertConflict, nil)
	repo.On("FindByKey", mock.Anything, listingKey).Return(winner, nil).Once()
	repo.On("TopPeers", mock.Anything, "Apparel", "123_456", 3).Return(peers, nil)

	res, err := s.Process(context.Background(), listingURL, "text", nil)

	require.NoError(t, err)
	assert.Equal(t, "Winner Tee", res.ProductName)
	assert.Equal(t, 80, res.SustainabilityScore)
	repo.AssertNumberOfCalls(t, "FindByKey", 2)
}

func TestProcess_ConflictRefetchFails(t *testing.T) {
	repo := new(MockAnalysisRepository)
	analyzer := new(MockAnalyzer)
	s := NewAnalysisService(WithAnalysisRepository(repo), WithAnalyzer(analyzer))

	repo.On("FindByKey", mock.Anything, listingKey).Return(nil, domain.ErrRecordNotFound).Once()
	analyzer.On("Analyze", mock.Anything, mock.Anything).Return(goodAnalysis(), nil)
	repo.On("Insert", mock.Anything, mock.Anything).Return(domain.InsertConflict, nil)
	repo.On("FindByKey", mock.Anything, listingKey).Return(nil, errors.New("replica lag")).Once()

	_, err := s.Process(context.Background(), listingURL, "text", nil)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailed)
}

func TestProcess_InsertFails(t *testing.T) {
	repo := new(MockAnalysisRepository)
	analyzer := new(MockAnalyzer)
	s := NewAnalysisService(WithAnalysisRepository(repo), WithAnalyzer(analyzer))

	repo.On("FindByKey", mock.Anything, listingKey).Return(nil, domain.ErrRecordNotFound)
	analyzer.On("Analyze", mock.Anything, mock.Anything).Return(goodAnalysis(), nil)
	repo.On("Insert", mock.Anything, mock.Anything).Return(domain.InsertInserted, errors.New("disk full"))

	_, err := s.Process(context.Background(), listingURL, "text", nil)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailed)
	repo.AssertNotCalled(t, "TopPeers", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_LookupFails(t *testing.T) {
	repo := new(MockAnalysisRepository)
	analyzer := new(MockAnalyzer)
	s := NewAnalysisService(WithAnalysisRepository(repo), WithAnalyzer(analyzer))

	repo.On("FindByKey", mock.Anything, listingKey).Return(nil, errors.New("connection refused"))

	_, err := s.Process(context.Background(), listingURL, "text", nil)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailed)
	analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestProcess_AnalysisFails(t *testing.T) {
	tests := []struct {
		name     string
		analysis interface{}
		err      error
	}{
		{"engine error", nil, errors.New("503")},
		{"no result", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockAnalysisRepository)
			analyzer := new(MockAnalyzer)
			s := NewAnalysisService(WithAnalysisRepository(repo), WithAnalyzer(analyzer))

			repo.On("FindByKey", mock.Anything, listingKey).Return(nil, domain.ErrRecordNotFound)
			analyzer.On("Analyze", mock.Anything, mock.Anything).Return(tt.analysis, tt.err)

			_, err := s.Process(context.Background(), listingURL, "text", nil)
			assert.ErrorIs(t, err, domain.ErrAnalysisFailed)
			repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		})
	}
}

func TestProcess_InvalidIdentity(t *testing.T) {
	repo := new(MockAnalysisRepository)
	analyzer := new(MockAnalyzer)
	s := NewAnalysisService(WithAnalysisRepository(repo), WithAnalyzer(analyzer))

	for _, u := range []string{"", "https://example.com/item-i.1.2", "https://shopee.sg/no-listing-here"} {
		_, err := s.Process(context.Background(), u, "text", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidIdentity, u)
		assert.ErrorIs(t, err, domain.ErrNotRecognized, u)
	}
	repo.AssertNotCalled(t, "FindByKey", mock.Anything, mock.Anything)
	analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestProcess_RecommendationFailureDegrades(t *testing.T) {
	repo := new(MockAnalysisRepository)
	s := NewAnalysisService(WithAnalysisRepository(repo), WithAnalyzer(new(MockAnalyzer)))

	repo.On("FindByKey", mock.Anything, listingKey).Return(storedRecord("Tee"), nil)
	repo.On("TopPeers", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	res, err := s.Process(context.Background(), listingURL, "text", nil)
	require.NoError(t, err)
	assert.NotNil(t, res.Recommendations)
	assert.Empty(t, res.Recommendations)
}

// memoryStore enforces listing-key uniqueness the way the database index does.
type memoryStore struct {
	mu      sync.Mutex
	records map[domain.ListingKey]models.AnalysisRecord
	inserts int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[domain.ListingKey]models.AnalysisRecord{}}
}

func (m *memoryStore) FindByKey(_ context.Context, key domain.ListingKey) (*models.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &rec, nil
}

func (m *memoryStore) Insert(_ context.Context, record *models.AnalysisRecord) (domain.InsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.Key()]; ok {
		return domain.InsertConflict, nil
	}
	m.inserts++
	record.ID = m.inserts
	m.records[record.Key()] = *record
	return domain.InsertInserted, nil
}

func (m *memoryStore) TopPeers(context.Context, string, string, int) ([]domain.Recommendation, error) {
	return []domain.Recommendation{}, nil
}

type countingAnalyzer struct {
	calls    atomic.Int32
	delay    time.Duration
	analysis func(n int32) *domain.ProductAnalysis
}

func (c *countingAnalyzer) Analyze(ctx context.Context, _ string) (*domain.ProductAnalysis, error) {
	n := c.calls.Add(1)
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.analysis(n), nil
}

func TestProcess_Idempotent(t *testing.T) {
	store := newMemoryStore()
	analyzer := &countingAnalyzer{analysis: func(int32) *domain.ProductAnalysis { return goodAnalysis() }}
	s := NewAnalysisService(WithAnalysisRepository(store), WithAnalyzer(analyzer))

	first, err := s.Process(context.Background(), listingURL, "text", nil)
	require.NoError(t, err)
	second, err := s.Process(context.Background(), "https://shopee.sg/other-slug-i.123.456?from=search", "different text", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), analyzer.calls.Load())
	assert.Equal(t, 1, store.inserts)
	assert.Equal(t, first.SustainabilityScore, second.SustainabilityScore)
	assert.Equal(t, first.Breakdown, second.Breakdown)
	assert.True(t, second.CacheHit)
}

func TestProcess_ConcurrentCallersShareOneRecord(t *testing.T) {
	store := newMemoryStore()
	// Each call rates differently so a duplicate write would be visible.
	ratings := []string{"Excellent", "Good", "Neutral", "Poor"}
	analyzer := &countingAnalyzer{
		delay: 10 * time.Millisecond,
		analysis: func(n int32) *domain.ProductAnalysis {
			a := goodAnalysis()
			a.SustainabilityAnalysis = map[string]domain.DimensionAnalysis{
				domain.DimensionMaterialComposition: {Analysis: "x", Rating: ratings[int(n)%len(ratings)]},
			}
			return a
		},
	}
	s := NewAnalysisService(WithAnalysisRepository(store), WithAnalyzer(analyzer))

	const callers = 16
	results := make([]*domain.PersonalizedResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Process(context.Background(), listingURL, "text", nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.inserts)
	stored, err := store.FindByKey(context.Background(), listingKey)
	require.NoError(t, err)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, stored.DefaultScore, results[i].SustainabilityScore)
		assert.Equal(t, stored.Breakdown.Data(), results[i].Breakdown)
	}
}
