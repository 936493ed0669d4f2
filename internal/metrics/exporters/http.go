// Package exporters serves camss metrics over HTTP and the event bus.
package exporters

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// scrapeLogger adapts slog to promhttp's error log.
type scrapeLogger struct {
	logger *slog.Logger
}

func (l scrapeLogger) Println(v ...any) {
	l.logger.Warn("Metrics scrape error", "error", fmt.Sprint(v...))
}

// HTTPHandler serves the series in reg. A nil reg means the default registry
// that promauto writes to. Collection errors are logged and the remaining
// series are still served.
func HTTPHandler(reg *prometheus.Registry, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
	)
	if reg != nil {
		gatherer, registerer = reg, reg
	}

	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:          scrapeLogger{logger: logger},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
		Registry:          registerer,
	})
	return promhttp.InstrumentMetricHandler(registerer, handler)
}
