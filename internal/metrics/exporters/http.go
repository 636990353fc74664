// Package exporters serves render metrics over HTTP and the event bus.
package exporters

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/hudrender/internal/logging"
)

const (
	scrapeTimeout        = 10 * time.Second
	maxConcurrentScrapes = 4
)

type scrapeErrorLog struct{}

func (scrapeErrorLog) Println(v ...any) {
	logging.GetLogger("metrics").Warn("Metrics scrape error", "error", fmt.Sprint(v...))
}

// HTTPHandler serves every promauto-registered metric. Clients that ask for
// OpenMetrics get it; a failing collector is logged and skipped.
func HTTPHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorLog:            scrapeErrorLog{},
			ErrorHandling:       promhttp.ContinueOnError,
			EnableOpenMetrics:   true,
			MaxRequestsInFlight: maxConcurrentScrapes,
			Timeout:             scrapeTimeout,
		}),
	)
}
