// Package observability wires Prometheus metrics and OpenTelemetry tracing
// into the slot engine and the gRPC surface.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// rpcBuckets span a TBS lookup (tens of microseconds) up to a slow grant
// derivation behind a loaded server.
var rpcBuckets = []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1}

// RPCCollector holds the metrics of the RA service and the process wide
// cell gauge.
type RPCCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec   // service, method, code
	RPCDurations *prometheus.HistogramVec // service, method
	InFlight     *prometheus.GaugeVec     // service, method
	Cells        prometheus.Gauge
}

// NewRPCCollector registers the RPC metrics on reg, the default registry
// when nil. Registering twice on one registry returns the same collectors.
func NewRPCCollector(reg prometheus.Registerer) (*RPCCollector, error) {
	reg, gatherer := registryOrDefault(reg)
	c := &RPCCollector{gatherer: gatherer}
	var err error

	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nrstack_rpc_requests_total",
		Help: "Handled RPCs, labeled by service, method and gRPC status code.",
	}, []string{"service", "method", "code"})); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nrstack_rpc_duration_seconds",
		Help:    "RPC handling time in seconds.",
		Buckets: rpcBuckets,
	}, []string{"service", "method"})); err != nil {
		return nil, err
	}
	if c.InFlight, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nrstack_rpc_in_flight",
		Help: "RPCs currently being handled.",
	}, []string{"service", "method"})); err != nil {
		return nil, err
	}
	if c.Cells, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nrstack_cells",
		Help: "Cells served by the process.",
	})); err != nil {
		return nil, err
	}
	return c, nil
}

// UnaryServerInterceptor counts and times every unary RPC.
func (c *RPCCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if c == nil {
			return handler(ctx, req)
		}
		var full string
		if info != nil {
			full = info.FullMethod
		}
		service, method := SplitMethod(full)

		inFlight := c.InFlight.WithLabelValues(service, method)
		inFlight.Inc()
		start := time.Now()
		resp, err := handler(ctx, req)
		inFlight.Dec()

		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// Handler serves the registry the collector was built on.
func (c *RPCCollector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// SetCells updates the served cell gauge.
func (c *RPCCollector) SetCells(n int) {
	if c == nil || c.Cells == nil {
		return
	}
	c.Cells.Set(float64(n))
}

// SplitMethod turns "/pkg.Service/Method" into ("Service", "Method"). Parts
// that cannot be parsed come back as "unknown".
func SplitMethod(fullMethod string) (service, method string) {
	service, method = "unknown", "unknown"
	i := strings.LastIndex(fullMethod, "/")
	if i < 0 {
		return service, method
	}
	if m := fullMethod[i+1:]; m != "" {
		method = m
	}
	svc := strings.TrimPrefix(fullMethod[:i], "/")
	svc = svc[strings.LastIndex(svc, "/")+1:]
	svc = svc[strings.LastIndex(svc, ".")+1:]
	if svc != "" {
		service = svc
	}
	return service, method
}

func registryOrDefault(reg prometheus.Registerer) (prometheus.Registerer, prometheus.Gatherer) {
	if reg == nil {
		return prometheus.DefaultRegisterer, prometheus.DefaultGatherer
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		return reg, g
	}
	return reg, prometheus.DefaultGatherer
}

// register adds c to reg. When an equal collector is already registered it
// is returned instead, so collectors can be built more than once per
// registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var zero T
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return zero, err
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return zero, fmt.Errorf("metrics: collector registered as %T, want %T", are.ExistingCollector, c)
	}
	return existing, nil
}
