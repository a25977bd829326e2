package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/datatypes"

	"github.com/ckwflash/LiveHack2025/domain"
)

// AnalysisRecord is the cached, canonical analysis of one listing. It is
// created once per (source_site, listing_id) and never updated.
type AnalysisRecord struct {
	ID           int                                  `gorm:"primaryKey;autoIncrement"`
	SourceSite   string                               `gorm:"type:text;not null;uniqueIndex:idx_analysis_records_listing_key"`
	ListingID    string                               `gorm:"type:text;not null;uniqueIndex:idx_analysis_records_listing_key"`
	SourceURL    string                               `gorm:"type:text;not null"`
	ProductName  string                               `gorm:"type:text"`
	Brand        string                               `gorm:"type:text"`
	Category     string                               `gorm:"type:text;index:idx_analysis_records_category"`
	Breakdown    datatypes.JSONType[domain.Breakdown] `gorm:"type:jsonb;not null"`
	DefaultScore int                                  `gorm:"not null;index:idx_analysis_records_category"`
	CreatedAt    time.Time                            `gorm:"type:timestamp with time zone;autoCreateTime"`
}

// TableName overrides the table name
func (AnalysisRecord) TableName() string {
	return "analysis_records"
}

func (r AnalysisRecord) Key() domain.ListingKey {
	return domain.ListingKey{SourceSite: r.SourceSite, ListingID: r.ListingID}
}

// TaskDocument is an analysis task tracked in MongoDB. The worker mutates it
// in place until it reaches done or error.
type TaskDocument struct {
	ID          primitive.ObjectID     `bson:"_id,omitempty" json:"_id"`
	ProductName string                 `bson:"productName" json:"productName"`
	Brand       string                 `bson:"brand" json:"brand"`
	Price       *string                `bson:"price" json:"price"`
	URL         *string                `bson:"url" json:"url"`
	RawHTML     *string                `bson:"rawHtml" json:"rawHtml"`
	Status      string                 `bson:"status" json:"status"`
	Score       *int                   `bson:"score" json:"score"`
	Summary     *string                `bson:"summary" json:"summary"`
	CreatedAt   float64                `bson:"createdAt" json:"createdAt"` // unix seconds
	UpdatedAt   float64                `bson:"updatedAt" json:"updatedAt"` // unix seconds
	Metadata    map[string]interface{} `bson:"metadata" json:"metadata"`
}

func (t *TaskDocument) IsTerminal() bool {
	return domain.IsTerminalStatus(t.Status)
}

// EpochSeconds converts a time into the float timestamps stored on tasks.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// TaskUpdate carries the optional fields written alongside a status change.
type TaskUpdate struct {
	Score   *int
	Summary *string
}

// TaskSubscription delivers full snapshots of one task after every mutation.
// Changes is closed when the subscription ends; Err then reports why.
type TaskSubscription interface {
	Changes() <-chan TaskDocument
	Err() error
	Close() error
}
