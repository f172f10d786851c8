// Package metrics exposes daemon counters in Prometheus format. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Namespace prefixes every collector name.
const Namespace = "wppinbox"

// Metrics holds the daemon's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	events     *prometheus.CounterVec
	panics     prometheus.Counter
	sends      *prometheus.CounterVec
	dials      *prometheus.CounterVec
	linkUp     prometheus.Gauge
	persistErr prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stream_events_total",
			Help:      "Inbound stream events by normalized kind.",
		}, []string{"kind"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stream_event_panics_total",
			Help:      "Inbound events whose handling panicked and was skipped.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "outbound_sends_total",
			Help:      "Outbound send attempts by media kind and result.",
		}, []string{"kind", "result"}),
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stream_dials_total",
			Help:      "Event stream connection attempts by result.",
		}, []string{"result"}),
		linkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "stream_link_up",
			Help:      "1 while the event stream is connected.",
		}),
		persistErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "snapshot_persist_errors_total",
			Help:      "Snapshot writes that failed.",
		}),
	}
	m.registry.MustRegister(
		m.events, m.panics, m.sends, m.dials, m.linkUp, m.persistErr,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Register adds a collector such as a GaugeFunc over store stats.
func (m *Metrics) Register(c prometheus.Collector) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(c)
}

// ObserveEvent counts one inbound event of the given kind.
func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// ObservePanic counts one skipped event.
func (m *Metrics) ObservePanic() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

// ObserveSend counts one outbound attempt.
func (m *Metrics) ObserveSend(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.sends.WithLabelValues(kind, result).Inc()
}

// ObserveDial counts one stream connection attempt.
func (m *Metrics) ObserveDial(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.dials.WithLabelValues(result).Inc()
}

// SetLinkUp records whether the event stream is connected.
func (m *Metrics) SetLinkUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.linkUp.Set(1)
	} else {
		m.linkUp.Set(0)
	}
}

// ObservePersistError counts one failed snapshot write.
func (m *Metrics) ObservePersistError() {
	if m == nil {
		return
	}
	m.persistErr.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics on a TCP address.
type Server struct {
	addr    string
	metrics *Metrics
	logger  *zap.Logger
	srv     *http.Server
	lis     net.Listener
}

// NewServer creates a metrics server. An empty addr disables it.
func NewServer(addr string, m *Metrics, logger *zap.Logger) *Server {
	return &Server{addr: addr, metrics: m, logger: logger}
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	if s.addr == "" || s.metrics == nil {
		return nil
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.lis = lis

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.logger.Info("metrics server started", zap.String("addr", lis.Addr().String()))
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" when not serving.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
