package raservice

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/nrstack/internal/logging"
	"github.com/signalsfoundry/nrstack/internal/observability"
)

// RequestIDHeader carries the request ID in request and response metadata.
const RequestIDHeader = "x-request-id"

// RequestIDUnaryServerInterceptor gives every call a request ID, taken from
// the caller's metadata when present, and echoes it in the response header.
// Handlers find a logger tagged with the RPC method on the context.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	base = logging.OrNoop(base)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if id := incomingRequestID(ctx); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, id := logging.EnsureRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))

		_, method := observability.SplitMethod(info.FullMethod)
		ctx = logging.ContextWithLogger(ctx, base.With(logging.String("rpc", method)))
		return handler(ctx, req)
	}
}

func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(RequestIDHeader) {
		if v != "" {
			return v
		}
	}
	return ""
}

// TracingUnaryServerInterceptor renames the span opened by the otelgrpc
// stats handler to "RA/<method>" and tags it with the request ID. Without a
// stats handler it opens the server span itself.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		name := "RA/" + method

		span := trace.SpanFromContext(ctx)
		owned := !span.SpanContext().IsValid()
		if owned {
			ctx, span = otel.Tracer(observability.TracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		} else {
			span.SetName(name)
		}
		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("request_id", logging.RequestIDFromContext(ctx)),
		)

		resp, err := handler(ctx, req)
		return resp, observability.Fail(span, err)
	}
}
