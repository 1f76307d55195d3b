// Package metrics exports the relay's counters, gauges and histogram via
// github.com/prometheus/client_golang, following the promauto registration
// style the teacher uses in its build-tagged pkg/dialog/metrics.go.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds every exported collector. A single instance is shared
// across the ingress loop, the fan-out engine and the registry sweeper.
// The send-socket cache does not hold it: send failures are counted by
// sockets.Cache.SendErrors, and nothing increments SendFailures.
type Metrics struct {
	Registry *prometheus.Registry

	PacketsReceived prometheus.Counter
	BytesReceived   prometheus.Counter
	PacketsSent     prometheus.Counter
	ParseErrors     prometheus.Counter
	SendFailures    prometheus.Counter

	ActiveSessions   prometheus.Gauge
	TotalSubscribers prometheus.Gauge

	FanoutLatency prometheus.Histogram
}

// New registers and returns the relay's metric collectors against a
// freshly created registry, never the global default — so that multiple
// Metrics instances (one per test, or one per process) never collide on
// AlreadyRegisteredError.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtp_packets_received_total",
			Help: "Total RTP packets successfully parsed off the ingress socket.",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtp_bytes_received_total",
			Help: "Total payload bytes received across all sessions.",
		}),
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtp_packets_sent_total",
			Help: "Total packets forwarded to subscribers.",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtp_parse_errors_total",
			Help: "Total datagrams dropped for failing RTP header parsing.",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "send_failures_total",
			Help: "Total fan-out sends that failed at the socket layer.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Current number of live sessions in the registry.",
		}),
		TotalSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "total_subscribers",
			Help: "Current sum of subscriber-set sizes across all sessions.",
		}),
		FanoutLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fanout_latency_ms",
			Help:    "Time from dequeue to completed fan-out for one packet, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
	}
}

// ObserveFanoutLatency records the elapsed duration since start in
// milliseconds.
func (m *Metrics) ObserveFanoutLatency(start time.Time) {
	m.FanoutLatency.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

// Server serves the Prometheus text exposition format for reg on addr
// until ctx is cancelled.
func Server(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server: shutdown error")
		}
		return nil
	case err := <-errCh:
		return err
	}
}
