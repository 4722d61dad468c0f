package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

var (
	resolutionsSucceeded atomic.Int64
	resolutionsFailed    atomic.Int64
	resolutionsRejected  atomic.Int64
	sessionsMerged       atomic.Int64
	conflictLogQueries   atomic.Int64
	metricsQueries       atomic.Int64
	metricsCacheHits     atomic.Int64
	metricsCacheMisses   atomic.Int64
	cacheInvalidations   atomic.Int64
)

func ObserveResolution(sessions int) {
	resolutionsSucceeded.Add(1)
	sessionsMerged.Add(int64(sessions))
}

// ObserveResolutionFailure counts write-phase failures. Rejected requests
// (bad input, missing sessions, scope) are counted separately.
func ObserveResolutionFailure(rejected bool) {
	if rejected {
		resolutionsRejected.Add(1)
		return
	}
	resolutionsFailed.Add(1)
}

func ObserveConflictLogQuery() {
	conflictLogQueries.Add(1)
}

func ObserveMetricsQuery(cacheHit bool) {
	metricsQueries.Add(1)
	if cacheHit {
		metricsCacheHits.Add(1)
	} else {
		metricsCacheMisses.Add(1)
	}
}

func ObserveCacheInvalidation() {
	cacheInvalidations.Add(1)
}

// Snapshot returns the current counter values keyed by metric name.
func Snapshot() map[string]int64 {
	return map[string]int64{
		"vectorwatch_conflict_resolutions_succeeded_total": resolutionsSucceeded.Load(),
		"vectorwatch_conflict_resolutions_failed_total":    resolutionsFailed.Load(),
		"vectorwatch_conflict_resolutions_rejected_total":  resolutionsRejected.Load(),
		"vectorwatch_conflict_sessions_merged_total":       sessionsMerged.Load(),
		"vectorwatch_conflict_log_queries_total":           conflictLogQueries.Load(),
		"vectorwatch_entomology_metrics_queries_total":     metricsQueries.Load(),
		"vectorwatch_entomology_cache_hits_total":          metricsCacheHits.Load(),
		"vectorwatch_entomology_cache_misses_total":        metricsCacheMisses.Load(),
		"vectorwatch_entomology_cache_invalidations_total": cacheInvalidations.Load(),
	}
}

func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WritePrometheus(w)
	})
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeCounters(w)
}

func writeCounters(w io.Writer) {
	counter(w, "vectorwatch_conflict_resolutions_succeeded_total", "Number of conflict resolutions committed.", resolutionsSucceeded.Load())
	counter(w, "vectorwatch_conflict_resolutions_failed_total", "Number of conflict resolutions rolled back during the write phase.", resolutionsFailed.Load())
	counter(w, "vectorwatch_conflict_resolutions_rejected_total", "Number of conflict resolutions rejected before any write.", resolutionsRejected.Load())
	counter(w, "vectorwatch_conflict_sessions_merged_total", "Number of sessions updated by committed resolutions.", sessionsMerged.Load())
	counter(w, "vectorwatch_conflict_log_queries_total", "Number of conflict log queries served.", conflictLogQueries.Load())
	counter(w, "vectorwatch_entomology_metrics_queries_total", "Number of entomology metrics queries served.", metricsQueries.Load())
	counter(w, "vectorwatch_entomology_cache_hits_total", "Number of metrics queries answered from cache.", metricsCacheHits.Load())
	counter(w, "vectorwatch_entomology_cache_misses_total", "Number of metrics queries computed from storage.", metricsCacheMisses.Load())
	counter(w, "vectorwatch_entomology_cache_invalidations_total", "Number of district cache invalidations.", cacheInvalidations.Load())
}

func counter(w io.Writer, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}
