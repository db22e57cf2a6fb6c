package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletbridge_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"handler", "method", "code"},
	)
	httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletbridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method"},
	)
	providerCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletbridge_provider_calls_total",
			Help: "Wallet provider JSON-RPC calls by method and status.",
		},
		[]string{"method", "status"},
	)
	providerCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletbridge_provider_call_duration_seconds",
			Help:    "Wallet provider JSON-RPC call duration in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 30},
		},
		[]string{"method"},
	)
	submissionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletbridge_submissions_total",
			Help: "Transaction submissions by outcome.",
		},
		[]string{"outcome"},
	)
	sessionConnected = factory.NewGauge(prometheus.GaugeOpts{
		Name: "walletbridge_session_connected",
		Help: "1 when a wallet account is connected.",
	})
	historySize = factory.NewGauge(prometheus.GaugeOpts{
		Name: "walletbridge_history_records",
		Help: "Number of ledger records loaded by the last history reload.",
	})
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveProviderCall records one provider request.
func ObserveProviderCall(method string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	providerCallsTotal.WithLabelValues(method, status).Inc()
	providerCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveSubmission counts a submission outcome such as "confirmed",
// "rejected" or "failed".
func ObserveSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// SetConnected mirrors the connection state.
func SetConnected(connected bool) {
	if connected {
		sessionConnected.Set(1)
		return
	}
	sessionConnected.Set(0)
}

// SetHistorySize mirrors the size of the loaded ledger.
func SetHistorySize(n int) {
	historySize.Set(float64(n))
}

// Registry exposes the collector registry, mainly for tests.
func Registry() *prometheus.Registry {
	return registry
}

// Middleware wraps next and records request metrics under handlerName.
func Middleware(handlerName string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		ObserveHTTPRequest(handlerName, r.Method, wrapped.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
