package plugin

// Threshold modes accepted by the plugin.
const (
	ThresholdModeAbsolute   = "absolute"
	ThresholdModePercentage = "percentage"
)

// Results summarizes one run's aggregated test counts for threshold checks
// and console output. Configuration methods are tracked separately and do not
// count toward Total.
type Results struct {
	Total         int
	Failures      int
	Skipped       int
	FailedConfigs int
	DurationMS    float64
}
