package observability

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/rti/model"
)

// RTICollector bundles Prometheus metrics for a server node and its
// transport, and provides helpers to wire them into gRPC servers and HTTP
// handlers. It satisfies server.MetricsRecorder.
type RTICollector struct {
	gatherer prometheus.Gatherer

	Dispatches        *prometheus.CounterVec
	DispatchDurations *prometheus.HistogramVec
	Streams           *prometheus.CounterVec
	StreamDurations   prometheus.Histogram
	ActiveStreams     prometheus.Gauge
	NodeConnects      prometheus.Gauge
	NodeFederations   prometheus.Gauge
	NodeFederates     prometheus.Gauge
}

// NewRTICollector registers RTI Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewRTICollector(reg prometheus.Registerer) (*RTICollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	dispatches, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rti_dispatch_total",
		Help: "Messages dispatched by the node, labeled by message kind and outcome error kind.",
	}, []string{"kind", "outcome"}), "rti_dispatch_total")
	if err != nil {
		return nil, err
	}

	dispatchDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rti_dispatch_duration_seconds",
		Help:    "Time spent handling one message on the node loop.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"kind"}), "rti_dispatch_duration_seconds")
	if err != nil {
		return nil, err
	}

	streams, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rti_transport_streams_total",
		Help: "Finished transport streams, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "rti_transport_streams_total")
	if err != nil {
		return nil, err
	}

	streamDurations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rti_transport_stream_duration_seconds",
		Help:    "Lifetime of transport streams in seconds.",
		Buckets: []float64{0.1, 1, 10, 60, 300, 1800, 3600, 4 * 3600},
	}), "rti_transport_stream_duration_seconds")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rti_transport_streams_active",
		Help: "Transport streams currently open.",
	}), "rti_transport_streams_active")
	if err != nil {
		return nil, err
	}
	connects, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rti_node_connects",
		Help: "Current number of connects attached to the node, parent included.",
	}), "rti_node_connects")
	if err != nil {
		return nil, err
	}
	federations, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rti_node_federations",
		Help: "Current number of federation executions known to the node.",
	}), "rti_node_federations")
	if err != nil {
		return nil, err
	}
	federates, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rti_node_federates",
		Help: "Current number of joined federates known to the node.",
	}), "rti_node_federates")
	if err != nil {
		return nil, err
	}

	return &RTICollector{
		gatherer:          gatherer,
		Dispatches:        dispatches,
		DispatchDurations: dispatchDurations,
		Streams:           streams,
		StreamDurations:   streamDurations,
		ActiveStreams:     active,
		NodeConnects:      connects,
		NodeFederations:   federations,
		NodeFederates:     federates,
	}, nil
}

// ObserveDispatch records one handled message. Errors are labeled by their
// HLA error kind, or "error" when they carry none.
func (c *RTICollector) ObserveDispatch(kind string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(model.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	if c.Dispatches != nil {
		c.Dispatches.WithLabelValues(kind, outcome).Inc()
	}
	if c.DispatchDurations != nil {
		c.DispatchDurations.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}

// SetNodeCounts drives the node gauges from the node's mutators.
func (c *RTICollector) SetNodeCounts(connects, federations, federates int) {
	if c == nil {
		return
	}
	if c.NodeConnects != nil {
		c.NodeConnects.Set(float64(connects))
	}
	if c.NodeFederations != nil {
		c.NodeFederations.Set(float64(federations))
	}
	if c.NodeFederates != nil {
		c.NodeFederates.Set(float64(federates))
	}
}

// StreamServerInterceptor records the count, lifetime and outcome of
// streaming RPCs.
func (c *RTICollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if c == nil {
			return handler(srv, ss)
		}
		start := time.Now()
		if c.ActiveStreams != nil {
			c.ActiveStreams.Inc()
		}
		err := handler(srv, ss)
		if c.ActiveStreams != nil {
			c.ActiveStreams.Dec()
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		if c.Streams != nil {
			c.Streams.WithLabelValues(service, method, status.Code(err).String()).Inc()
		}
		if c.StreamDurations != nil {
			c.StreamDurations.Observe(time.Since(start).Seconds())
		}
		return err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RTICollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
