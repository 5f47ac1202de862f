// Package stats is the metrics seam of the arena. Components record through a
// Collector and never import a metrics backend directly.
package stats

// Metric names.
const (
	MetricMatchesStarted   = "arena_matches_started_total"
	MetricMatchesCompleted = "arena_matches_completed_total"
	MetricMatchesErrored   = "arena_matches_errored_total"
	MetricMatchesRunning   = "arena_matches_running"

	MetricMoves        = "arena_moves_total"
	MetricAgentRetries = "arena_agent_retries_total"
	MetricTokens       = "arena_tokens_total"

	MetricAgentMoveSeconds  = "arena_agent_move_seconds"
	MetricEngineMoveSeconds = "arena_engine_move_seconds"
)

// Collector records metrics.
type Collector interface {
	IncCounter(name string, delta int64)
	// AddGauge moves a gauge up or down by delta.
	AddGauge(name string, delta int64)
	ObserveHistogram(name string, value float64)
}
