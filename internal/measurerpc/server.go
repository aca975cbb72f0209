package measurerpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/measulor/internal/inference"
)

// MeasurementServiceServer is the server API of the estimator service.
type MeasurementServiceServer interface {
	Measure(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.ListValue, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MeasurementServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Measure", Handler: measureHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "measulor/v1/measurement.proto",
}

func measureHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeasurementServiceServer).Measure(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MeasureMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeasurementServiceServer).Measure(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Server exposes an inference.Estimator over gRPC.
type Server struct {
	estimator inference.Estimator
	logger    *zap.Logger
}

// Register attaches est to s under ServiceName.
func Register(s grpc.ServiceRegistrar, est inference.Estimator, logger *zap.Logger) *Server {
	srv := &Server{estimator: est, logger: logger.Named("measurerpc_server")}
	s.RegisterService(&serviceDesc, srv)
	return srv
}

// Measure implements MeasurementServiceServer.
func (s *Server) Measure(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	img := inference.Image{Data: in.GetValue()}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(mdContentType); len(v) > 0 {
			img.ContentType = v[0]
		}
		if v := md.Get(mdFilename); len(v) > 0 {
			img.Filename = v[0]
		}
	}

	if err := img.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	set, err := s.estimator.Estimate(ctx, img)
	if err != nil {
		s.logger.Error("estimate failed", zap.Error(err), zap.Duration("latency", time.Since(start)))
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		case errors.Is(err, context.Canceled):
			return nil, status.Error(codes.Canceled, err.Error())
		default:
			return nil, status.Error(codes.Internal, "estimation failed")
		}
	}

	s.logger.Debug("estimate served",
		zap.Int("measurements", len(set)),
		zap.Duration("latency", time.Since(start)),
	)
	out, err := encodeSet(set)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
