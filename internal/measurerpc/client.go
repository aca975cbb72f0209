// Package measurerpc carries measurement estimation over gRPC.
//
// The service has a single unary method whose messages are protobuf
// well-known types, so neither side needs generated stubs: the request is a
// BytesValue holding the image, with its content type and filename in
// metadata, and the reply is a ListValue of {name, value} structs.
package measurerpc

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/measulor/internal/inference"
	"github.com/example/measulor/internal/logging"
	"github.com/example/measulor/internal/measurement"
)

const (
	ServiceName   = "measulor.v1.MeasurementService"
	MeasureMethod = "/" + ServiceName + "/Measure"

	mdContentType = "x-image-content-type"
	mdFilename    = "x-image-filename"
)

// Dial returns a ready-to-use client for the estimator service at addr.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("measurerpc.dial", "", err)
		logger.Error("failed to dial estimator", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClient(conn, addr, logger), conn, nil
}

// Client calls the estimator service. It implements inference.Estimator.
type Client struct {
	conn   grpc.ClientConnInterface
	target string
	logger *zap.Logger
}

// NewClient wraps an existing connection; target names it in errors.
func NewClient(conn grpc.ClientConnInterface, target string, logger *zap.Logger) *Client {
	return &Client{conn: conn, target: target, logger: logger.Named("measurerpc_client")}
}

// Estimate sends img and decodes the measurements.
func (c *Client) Estimate(ctx context.Context, img inference.Image) (measurement.Set, error) {
	if img.Empty() {
		return nil, inference.ErrNoImage
	}

	ctx = metadata.AppendToOutgoingContext(ctx,
		mdContentType, img.MediaType(),
		mdFilename, img.Name(),
	)
	out := &structpb.ListValue{}
	if err := c.conn.Invoke(ctx, MeasureMethod, wrapperspb.Bytes(img.Data), out); err != nil {
		classified := c.classify(err)
		c.logger.Warn("estimator call failed", zap.Error(classified))
		return nil, classified
	}

	set, err := decodeSet(out)
	if err != nil {
		return nil, &inference.PayloadError{Endpoint: c.target, Err: err}
	}
	return set, nil
}

func (c *Client) classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &inference.TransportError{Endpoint: c.target, Err: err}
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return &inference.TransportError{Endpoint: c.target, Err: err}
	default:
		return &inference.StatusError{
			Endpoint:   c.target,
			StatusCode: httpStatus(st.Code()),
			Message:    st.Message(),
		}
	}
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
