package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "answercache",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by outcome (static, hit, miss)",
		},
		[]string{"outcome"},
	)

	evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "answercache",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries removed from the cache by reason",
		},
		[]string{"reason"},
	)

	sizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "answercache",
			Subsystem: "cache",
			Name:      "size_bytes",
			Help:      "Current cache size in bytes",
		},
	)

	entryCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "answercache",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of entries in cache",
		},
	)

	compressionRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "answercache",
			Subsystem: "cache",
			Name:      "compression_ratio",
			Help:      "Compressed to original payload size ratio",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	persistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "answercache",
			Subsystem: "cache",
			Name:      "persist_failures_total",
			Help:      "Failed writes to the backing store by kind",
		},
		[]string{"kind"},
	)
)

// Eviction reasons
const (
	reasonCapacity = "capacity"
	reasonBytes    = "bytes"
	reasonQuota    = "quota"
	reasonCorrupt  = "corrupt"
	reasonExpired  = "expired"
	reasonCleared  = "cleared"
)
