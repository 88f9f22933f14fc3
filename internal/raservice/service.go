// Package raservice exposes resource allocation derivation over gRPC so
// external schedulers can turn DCI fields into physical grants.
package raservice

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/nrstack/internal/logging"
	"github.com/signalsfoundry/nrstack/internal/observability"
	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/ra"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nrstack.ra.v1.ResourceAllocation"

const (
	deriveGrantMethod        = "/" + ServiceName + "/DeriveGrant"
	transportBlockSizeMethod = "/" + ServiceName + "/TransportBlockSize"
)

// ResourceAllocationServer is the server API of the service. Requests and
// responses are google.protobuf.Struct documents.
type ResourceAllocationServer interface {
	DeriveGrant(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TransportBlockSize(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ResourceAllocationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DeriveGrant", Handler: deriveGrantHandler},
		{MethodName: "TransportBlockSize", Handler: transportBlockSizeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nrstack/ra/v1/ra.proto",
}

// RegisterResourceAllocationServer registers srv on s.
func RegisterResourceAllocationServer(s grpc.ServiceRegistrar, srv ResourceAllocationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func deriveGrantHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ResourceAllocationServer).DeriveGrant(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deriveGrantMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ResourceAllocationServer).DeriveGrant(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func transportBlockSizeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ResourceAllocationServer).TransportBlockSize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: transportBlockSizeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ResourceAllocationServer).TransportBlockSize(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Service implements ResourceAllocationServer on top of package ra.
type Service struct {
	log logging.Logger
}

// NewService returns the resource allocation service.
func NewService(log logging.Logger) *Service {
	return &Service{log: logging.Component(log, "ra")}
}

// DeriveGrant turns a DCI and the cell configuration into a physical grant.
// Uplink requests may ask for UCI multiplexing sizes with "uci".
func (s *Service) DeriveGrant(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	reqLog := logging.LoggerFromContext(ctx)
	if reqLog == nil {
		reqLog = s.log
	}
	gr, err := parseGrantRequest(in)
	if err != nil {
		reqLog.Debug(ctx, "DeriveGrant validation failed", logging.Err(err))
		return nil, ToStatusError(err)
	}

	ctx, span := observability.StartSpan(ctx, "ra/derive-grant",
		attribute.String("link", gr.link.String()),
		attribute.String("dci_format", gr.req.DCI.Format.String()),
		observability.AttrRNTI.Int(int(gr.req.DCI.RNTI)))
	defer span.End()

	var cfg model.SchCfg
	if gr.link == model.Uplink {
		cfg, err = ra.ULDCIToGrant(gr.req)
		if err == nil && gr.uci != [3]uint32{} {
			err = ra.SetULGrantUCI(gr.req.HL, &cfg, gr.uci[0], gr.uci[1], gr.uci[2])
		}
	} else {
		cfg, err = ra.DLDCIToGrant(gr.req)
	}
	if err != nil {
		observability.Fail(span, err)
		reqLog.Debug(ctx, "DeriveGrant failed", logging.RNTI(gr.req.DCI.RNTI), logging.Err(err))
		return nil, ToStatusError(err)
	}

	out, err := grantStruct(&cfg)
	if err != nil {
		return nil, ToStatusError(fmt.Errorf("encode grant: %w", err))
	}
	reqLog.Debug(ctx, "grant derived", logging.RNTI(gr.req.DCI.RNTI),
		logging.Uint32("prb", cfg.Grant.NofPRB()), logging.Uint32("tbs", cfg.Grant.TB[0].TBS))
	return out, nil
}

// TransportBlockSize computes the TBS of an allocation for one MCS.
func (s *Service) TransportBlockSize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r, err := parseTBSRequest(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := transportBlockSize(r)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// Client calls the service over a connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client bound to cc.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// DeriveGrant calls ResourceAllocation/DeriveGrant.
func (c *Client) DeriveGrant(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, deriveGrantMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// TransportBlockSize calls ResourceAllocation/TransportBlockSize.
func (c *Client) TransportBlockSize(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, transportBlockSizeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// NewServer returns a gRPC server carrying the service, the standard health
// service and the interceptor chain: request IDs, tracing, then metrics.
func NewServer(svc ResourceAllocationServer, collector *observability.RPCCollector, log logging.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	}, opts...)
	server := grpc.NewServer(opts...)
	RegisterResourceAllocationServer(server, svc)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server
}
