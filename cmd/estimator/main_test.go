package main

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/measulor/internal/inference"
	"github.com/example/measulor/internal/measurerpc"
)

func TestServerAnswersHealthAndMeasure(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	server, _ := newServer(inference.NewMockEstimator(9), zap.NewNop())
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: measurerpc.ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.GetStatus())
	}

	client := measurerpc.NewClient(conn, "bufnet", zap.NewNop())
	set, err := client.Estimate(ctx, inference.Image{Data: []byte("\xff\xd8\xff\xe0")})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if len(set) != len(inference.DefaultMockRanges) {
		t.Fatalf("expected %d measurements, got %d", len(inference.DefaultMockRanges), len(set))
	}
}
