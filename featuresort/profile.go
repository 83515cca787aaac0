package featuresort

import "time"

// Profile is the layer-schema callback the surrounding system supplies.
// The core never encodes domain knowledge about which attributes matter
// for which layer; it only invokes this hook at the point where per-tile
// geometric post-processing plugs in (spec §4.D, §4.I).
type Profile interface {
	// PostProcessLayerFeatures returns the post-processed feature list for
	// one (layer, zoom) pair. Returning (nil, nil) means "unchanged": the
	// caller should keep the input features as-is. A returned error that
	// is not a *RecoverableGeometryError is treated as fatal and
	// propagates out of the pipeline.
	PostProcessLayerFeatures(layer string, zoom uint8, features []DecodedFeature) ([]DecodedFeature, error)
}

// Stats is the best-effort telemetry surface exposed to the core. No
// method here may influence core semantics; implementations are free to
// no-op.
type Stats interface {
	Counter(name string, delta int64)
	Gauge(name string, value float64)
	// StartStage returns a function to call when the stage completes,
	// recording its duration.
	StartStage(name string) func()
	// DataError records a recoverable per-feature or per-tile failure
	// under a stable code (e.g. "line_merge_simplify_collapsed").
	DataError(code string)
}

// NoopStats discards everything. It is the default when no Stats is
// supplied, following the same "best effort, never required" contract
// spec §4.I describes.
type NoopStats struct{}

func (NoopStats) Counter(string, int64)       {}
func (NoopStats) Gauge(string, float64)       {}
func (NoopStats) StartStage(string) func()    { return func() {} }
func (NoopStats) DataError(string)            {}

var _ Stats = NoopStats{}

// LoggingStats is a small Stats implementation that forwards DataError and
// stage timings to a Logger, useful for the bench driver and tests. It
// keeps counters/gauges in memory for inspection.
type LoggingStats struct {
	logger Logger

	counters map[string]int64
	gauges   map[string]float64
}

// NewLoggingStats creates a Stats implementation backed by logger.
func NewLoggingStats(logger Logger) *LoggingStats {
	return &LoggingStats{
		logger:   logger,
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
	}
}

func (s *LoggingStats) Counter(name string, delta int64) {
	s.counters[name] += delta
}

func (s *LoggingStats) Gauge(name string, value float64) {
	s.gauges[name] = value
}

func (s *LoggingStats) StartStage(name string) func() {
	start := time.Now()
	return func() {
		s.logger.Infow("stage complete", "stage", name, "duration", time.Since(start))
	}
}

func (s *LoggingStats) DataError(code string) {
	s.counters["data_error."+code]++
	s.logger.Infow("data error", "code", code)
}

func (s *LoggingStats) CounterValue(name string) int64 { return s.counters[name] }

var _ Stats = (*LoggingStats)(nil)
