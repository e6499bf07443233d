package lazy

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lazy_corpus",
		Subsystem: "store",
		Name:      "records_written_total",
		Help:      "Records appended to lazy stores, by stream tag.",
	}, []string{"tag"})
	bytesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lazy_corpus",
		Subsystem: "store",
		Name:      "bytes_written_total",
		Help:      "Data blob bytes written to lazy stores, by stream tag.",
	}, []string{"tag"})
	storesOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lazy_corpus",
		Subsystem: "store",
		Name:      "readers_opened_total",
		Help:      "Lazy store readers opened, by stream tag.",
	}, []string{"tag"})
)

// RegisterMetrics
// Registers the store collectors with `reg`. Registering twice is not an
// error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		recordsWritten, bytesWritten, storesOpened,
	} {
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
