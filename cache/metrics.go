package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hit/miss profiling for the cache tiers. Labels: kind = package | object.
var (
	hitCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "suireplay",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache reads served from disk or the process-local LRU.",
	}, []string{"kind"})

	missCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "suireplay",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache reads that found no record.",
	}, []string{"kind"})

	corruptCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "suireplay",
		Subsystem: "cache",
		Name:      "corrupt_records_total",
		Help:      "Records that failed to decode and were demoted to misses.",
	}, []string{"kind"})
)
