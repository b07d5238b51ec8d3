package symbols

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/dumpsym/pkg/util"
)

const (
	statusSuccess = "success"

	statusErrorPrefix = "error:"

	statusErrorNotFound     = statusErrorPrefix + "not_found"
	statusErrorUnauthorized = statusErrorPrefix + "unauthorized"
	statusErrorRateLimited  = statusErrorPrefix + "rate_limited"
	statusErrorClientError  = statusErrorPrefix + "client_error"
	statusErrorServerError  = statusErrorPrefix + "server_error"
	statusErrorHTTPOther    = statusErrorPrefix + "http_other"
	statusErrorCanceled     = statusErrorPrefix + "canceled"
	statusErrorTimeout      = statusErrorPrefix + "timeout"
	statusErrorOther        = statusErrorPrefix + "other"
)

// Fetch outcomes, one per module and mirror pass.
const (
	outcomeDownloaded    = "downloaded"
	outcomeMissing       = "missing"
	outcomeCached        = "cached"
	outcomeSkippedZeroID = "skipped_zero_id"
	outcomeInvalid       = "invalid"
	outcomeError         = "error"
)

type Metrics struct {
	requestDuration *prometheus.HistogramVec
	fileSize        prometheus.Histogram
	outcomes        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		requestDuration: util.RegisterOrGet(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dumpsym_symbols_request_duration_seconds",
			Help:    "Time spent downloading symbol files by status",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"status"})),
		fileSize: util.RegisterOrGet(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "dumpsym_symbols_file_size_bytes",
			Help: "Size of downloaded symbol files",
			// 16KiB to 512MiB
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 9),
		})),
		outcomes: util.RegisterOrGet(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dumpsym_symbols_fetch_outcomes_total",
			Help: "Modules processed by mirror and outcome",
		}, []string{"mirror", "outcome"})),
	}
}
