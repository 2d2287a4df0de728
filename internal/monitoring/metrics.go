package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the UART counters. It is separate from the default registry
// so tests and embedders see only these series.
var Registry = prometheus.NewRegistry()

var (
	BytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uart_bytes_written_total",
		Help: "Bytes accepted by the serial driver.",
	})
	BytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uart_bytes_read_total",
		Help: "Bytes returned by the serial driver.",
	})
	Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uart_errors_total",
		Help: "Failed UART operations by operation name.",
	}, []string{"op"})
)

func init() {
	Registry.MustRegister(BytesWritten, BytesRead, Errors)
}

// MetricsHandler serves Registry in the Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
