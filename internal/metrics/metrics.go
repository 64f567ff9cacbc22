// Package metrics exposes bridge activity as Prometheus metrics.
//
// A [Collector] subscribes to the event bus and turns bridge events into
// counters and gauges; [Serve] publishes them on an HTTP endpoint.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/shadowbridge/internal/event"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
)

const namespace = "shadowbridge"

// Poll cycle results.
const (
	ResultPublished = "published"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

// Set-point outcomes.
const (
	OutcomeApplied     = "applied"
	OutcomeUnchanged   = "unchanged"
	OutcomeWriteFailed = "write_failed"
	OutcomeMalformed   = "malformed"
)

// Collector owns the bridge metrics and keeps them current from bus events.
type Collector struct {
	registry *prometheus.Registry

	pollCycles    *prometheus.CounterVec
	pollFailures  *prometheus.CounterVec
	pollDuration  prometheus.Histogram
	tagsReported  prometheus.Gauge
	deltas        prometheus.Counter
	setPoints     *prometheus.CounterVec
	setPointValue prometheus.Gauge
	streamErrors  prometheus.Counter
	streamClosed  prometheus.Counter
	lifecycle     *prometheus.GaugeVec

	mu     sync.Mutex
	bus    *event.Bus
	subIDs []string
}

// NewCollector creates the bridge metrics and registers them on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Polling cycles by result (published, failed, skipped).",
		}, []string{"result"}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Failed polling cycles by failure kind.",
		}, []string{"kind"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of a polling cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		tagsReported: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tags_reported",
			Help:      "Tag readings in the last published reported document.",
		}),
		deltas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_received_total",
			Help:      "Delta notifications received.",
		}),
		setPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "setpoint_deltas_total",
			Help:      "Handled deltas by set-point outcome.",
		}, []string{"outcome"}),
		setPointValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "setpoint_value",
			Help:      "Last set-point written to the device (booleans as 0 or 1).",
		}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Errors reported by the delta stream.",
		}),
		streamClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_closed_total",
			Help:      "Delta stream closures.",
		}),
		lifecycle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifecycle_state",
			Help:      "1 for the current bridge lifecycle state, 0 otherwise.",
		}, []string{"state"}),
	}

	c.registry.MustRegister(
		c.pollCycles,
		c.pollFailures,
		c.pollDuration,
		c.tagsReported,
		c.deltas,
		c.setPoints,
		c.setPointValue,
		c.streamErrors,
		c.streamClosed,
		c.lifecycle,
	)
	return c
}

// Registry returns the registry holding the bridge metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Attach subscribes the collector to every event on bus.
func (c *Collector) Attach(bus *event.Bus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bus = bus
	c.subIDs = append(c.subIDs, bus.SubscribeAll(c.observe))
}

// Detach removes the collector's bus subscriptions.
func (c *Collector) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus == nil {
		return
	}
	for _, id := range c.subIDs {
		c.bus.Unsubscribe(id)
	}
	c.subIDs = nil
	c.bus = nil
}

func (c *Collector) observe(e event.Event) {
	switch ev := e.(type) {
	case event.PollCycleEvent:
		c.pollDuration.Observe(ev.Duration.Seconds())
		switch {
		case ev.Skipped:
			c.pollCycles.WithLabelValues(ResultSkipped).Inc()
		case ev.Published:
			c.pollCycles.WithLabelValues(ResultPublished).Inc()
			c.tagsReported.Set(float64(ev.Tags))
		default:
			c.pollCycles.WithLabelValues(ResultFailed).Inc()
		}
		if ev.Kind != "" {
			c.pollFailures.WithLabelValues(ev.Kind).Inc()
		}
	case event.DeltaReceivedEvent:
		c.deltas.Inc()
	case event.SetPointAppliedEvent:
		c.setPoints.WithLabelValues(OutcomeApplied).Inc()
		if v, ok := numeric(ev.Value); ok {
			c.setPointValue.Set(v)
		}
	case event.SetPointUnchangedEvent:
		c.setPoints.WithLabelValues(OutcomeUnchanged).Inc()
	case event.WriteFailedEvent:
		c.setPoints.WithLabelValues(OutcomeWriteFailed).Inc()
	case event.ShadowMalformedEvent:
		c.setPoints.WithLabelValues(OutcomeMalformed).Inc()
	case event.StreamErrorEvent:
		c.streamErrors.Inc()
	case event.StreamClosedEvent:
		c.streamClosed.Inc()
	case event.LifecycleChangedEvent:
		if ev.Previous != "" {
			c.lifecycle.WithLabelValues(ev.Previous).Set(0)
		}
		c.lifecycle.WithLabelValues(ev.Current).Set(1)
	}
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// shutdownTimeout bounds the graceful stop of the metrics server.
const shutdownTimeout = 5 * time.Second

// Serve exposes handler at /metrics on addr until ctx is cancelled.
// Listen errors are returned without waiting for ctx.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("metrics")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
