package coordinator

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lazy_corpus",
		Subsystem: "coordinator",
		Name:      "build_seconds",
		Help:      "Time spent building stores as the elected builder.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"outcome"})
	waitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lazy_corpus",
		Subsystem: "coordinator",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for another process to build stores.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"outcome"})
)

// RegisterMetrics registers the coordinator histograms with `reg`.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{buildSeconds, waitSeconds} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
