package domain

const (
	// Task statuses
	TaskStatusNew        = "new"
	TaskStatusProcessing = "processing"
	TaskStatusDone       = "done"
	TaskStatusError      = "error"

	// Sustainability dimensions produced by the analysis engine
	DimensionMaterialComposition = "material_composition"
	DimensionProductionAndBrand  = "production_and_brand"
	DimensionCircularity         = "circularity_and_end_of_life"

	// UnknownCategory is the sentinel category the analysis engine emits when
	// it cannot classify a listing.
	UnknownCategory = "Unknown"

	// MaxRecommendations caps the peer list returned with every result.
	MaxRecommendations = 3

	NoAnalysisPlaceholder = "No analysis provided."
)

// Dimensions lists the analysis dimensions in display order.
var Dimensions = []string{
	DimensionMaterialComposition,
	DimensionProductionAndBrand,
	DimensionCircularity,
}

// IsTerminalStatus reports whether a task can no longer change.
func IsTerminalStatus(status string) bool {
	return status == TaskStatusDone || status == TaskStatusError
}
