package domain

import "strings"

// ListingKey uniquely identifies a listing across all supported marketplaces.
type ListingKey struct {
	SourceSite string `json:"source_site"`
	ListingID  string `json:"listing_id"`
}

func (k ListingKey) String() string {
	return k.SourceSite + "/" + k.ListingID
}

// Rating is the qualitative verdict the analysis engine gives a dimension.
type Rating string

const (
	RatingExcellent Rating = "Excellent"
	RatingGood      Rating = "Good"
	RatingNeutral   Rating = "Neutral"
	RatingPoor      Rating = "Poor"
	RatingUnknown   Rating = "Unknown"
)

// ParseRating maps engine output onto the rating enum. Anything it does not
// recognise is treated as Unknown.
func ParseRating(s string) Rating {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "excellent":
		return RatingExcellent
	case "good":
		return RatingGood
	case "neutral":
		return RatingNeutral
	case "poor":
		return RatingPoor
	default:
		return RatingUnknown
	}
}

// BreakdownEntry keeps the wire names the browser extension reads.
type BreakdownEntry struct {
	Rating       Rating `json:"value"`
	NumericScore int    `json:"score"`
	Analysis     string `json:"analysis"`
}

// Breakdown maps a dimension name to its rating and explanation.
type Breakdown map[string]BreakdownEntry

// Weights are per-dimension personalization weights. They are accepted by the
// scoring API but every dimension is currently weighted equally.
type Weights map[string]float64

// DimensionAnalysis is one dimension of the analysis engine's answer.
type DimensionAnalysis struct {
	Analysis  string `json:"analysis"`
	Rating    string `json:"rating"`
	Reasoning string `json:"reasoning"`
}

// ProductAnalysis is the structured answer of the analysis engine.
type ProductAnalysis struct {
	ProductName            string                       `json:"product_name"`
	Brand                  string                       `json:"brand"`
	Category               string                       `json:"category"`
	SustainabilityAnalysis map[string]DimensionAnalysis `json:"sustainability_analysis"`
}

type Recommendation struct {
	ProductName string `json:"product_name"`
	Brand       string `json:"brand"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
}

// PersonalizedResult is the request-scoped view of a stored analysis. It is
// never persisted.
type PersonalizedResult struct {
	ListingID           string           `json:"listing_id"`
	SourceSite          string           `json:"source_site"`
	SourceURL           string           `json:"source_url"`
	ProductName         string           `json:"product_name"`
	Brand               string           `json:"brand"`
	Category            string           `json:"category"`
	Breakdown           Breakdown        `json:"sustainability_breakdown"`
	SustainabilityScore int              `json:"sustainability_score"`
	Recommendations     []Recommendation `json:"recommendations"`
	CacheHit            bool             `json:"-"`
}

// InsertOutcome is the result of a first-writer-wins insert.
type InsertOutcome int

const (
	InsertInserted InsertOutcome = iota
	// InsertConflict means another writer already stored the listing.
	InsertConflict
)

func (o InsertOutcome) String() string {
	if o == InsertConflict {
		return "conflict"
	}
	return "inserted"
}

// Event kinds of the task status stream.
const (
	EventStatus = "status"
	EventUpdate = "update"
	EventDone   = "done"
	EventPing   = "ping"
	EventError  = "error"
)

// TaskMessage is the queue payload that hands a task to the worker.
type TaskMessage struct {
	TaskID string `json:"task_id"`
}

// CreateTaskRequest carries what the extension scraped from a product page.
type CreateTaskRequest struct {
	ProductName string                 `json:"product_name"`
	Brand       string                 `json:"product_brand"`
	Price       string                 `json:"price,omitempty"`
	URL         string                 `json:"product_url"`
	RawHTML     string                 `json:"raw_html,omitempty"`
	Metadata    map[string]interface{} `json:"specifications,omitempty"`
}
