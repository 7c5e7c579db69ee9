package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultPath is where the exposition handler is mounted
	DefaultPath = "/metrics"

	readHeaderTimeout = 5 * time.Second
)

// NewHandler serves gatherer on DefaultPath and a liveness probe on /health
func NewHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// NewServer returns an HTTP server for NewHandler(gatherer) on addr. The
// caller starts it with ListenAndServe and stops it with Shutdown.
func NewServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(gatherer),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
