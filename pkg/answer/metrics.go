package answer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	answersServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "answercache",
			Subsystem: "service",
			Name:      "answers_total",
			Help:      "Answers served by source",
		},
		[]string{"source"},
	)

	sharedFlights = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "answercache",
			Subsystem: "service",
			Name:      "shared_generations_total",
			Help:      "Answers served from a generation already in flight for the same question",
		},
	)

	enabledGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "answercache",
			Subsystem: "service",
			Name:      "enabled",
			Help:      "1 when the persistent store passed its probe, 0 in pass-through mode",
		},
	)
)
