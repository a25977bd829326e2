package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ckwflash/LiveHack2025/domain"
	"github.com/ckwflash/LiveHack2025/models"
)

const uniqueViolationCode = "23505"

// listingKeyColumns is the conflict target of idx_analysis_records_listing_key.
var listingKeyColumns = []clause.Column{{Name: "source_site"}, {Name: "listing_id"}}

type AnalysisRepository interface {
	FindByKey(ctx context.Context, key domain.ListingKey) (*models.AnalysisRecord, error)
	Insert(ctx context.Context, record *models.AnalysisRecord) (domain.InsertOutcome, error)
	TopPeers(ctx context.Context, category, excludeListingID string, limit int) ([]domain.Recommendation, error)
}

type PostgresAnalysisRepository struct {
	DB *gorm.DB
}

func NewDBRepository(db *gorm.DB) *PostgresAnalysisRepository {
	return &PostgresAnalysisRepository{DB: db}
}

// OpenPostgres connects without gorm error translation so driver errors keep
// their SQLSTATE and constraint name.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return db, nil
}

// Migrate creates the analysis table together with its unique listing index.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.AnalysisRecord{}); err != nil {
		return fmt.Errorf("failed to migrate analysis_records: %w", err)
	}
	return nil
}

func (repo *PostgresAnalysisRepository) FindByKey(ctx context.Context, key domain.ListingKey) (*models.AnalysisRecord, error) {
	var record models.AnalysisRecord
	err := repo.DB.WithContext(ctx).
		Where("source_site = ? AND listing_id = ?", key.SourceSite, key.ListingID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find analysis %s: %w", key, err)
	}
	return &record, nil
}

// Insert stores a new record. Losing the race on the listing key is reported
// as InsertConflict rather than an error. Only the listing key index arbitrates
// the conflict; a violation of any other constraint is a write failure.
func (repo *PostgresAnalysisRepository) Insert(ctx context.Context, record *models.AnalysisRecord) (domain.InsertOutcome, error) {
	res := repo.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: listingKeyColumns, DoNothing: true}).
		Create(record)
	if res.Error != nil {
		return domain.InsertInserted, fmt.Errorf("failed to insert analysis %s: %w", record.Key(), describeWriteError(res.Error))
	}
	if res.RowsAffected == 0 {
		slog.Debug("Analysis already stored by another writer", "listing", record.Key().String())
		return domain.InsertConflict, nil
	}
	return domain.InsertInserted, nil
}

// TopPeers returns the best-scored listings of a category, excluding one
// listing.
func (repo *PostgresAnalysisRepository) TopPeers(ctx context.Context, category, excludeListingID string, limit int) ([]domain.Recommendation, error) {
	recs := []domain.Recommendation{}
	if strings.EqualFold(category, domain.UnknownCategory) || excludeListingID == "" || limit <= 0 {
		return recs, nil
	}

	err := repo.DB.WithContext(ctx).
		Model(&models.AnalysisRecord{}).
		Select("product_name, brand, source_url AS url, default_score AS score").
		Where("category = ? AND listing_id <> ?", category, excludeListingID).
		Order("default_score DESC").
		Limit(limit).
		Scan(&recs).Error
	if err != nil {
		return []domain.Recommendation{}, fmt.Errorf("failed to query peers for category %q: %w", category, err)
	}
	return recs, nil
}

// describeWriteError names the violated constraint of a unique violation.
func describeWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return fmt.Errorf("unique violation on %s: %w", pgErr.ConstraintName, err)
	}
	return err
}
