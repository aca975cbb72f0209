// Command estimator serves mock body measurements over gRPC for the API
// server to delegate to.
package main

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/measulor/internal/inference"
	"github.com/example/measulor/internal/logging"
	"github.com/example/measulor/internal/measurerpc"
)

func main() {
	logger, err := logging.NewLogger(os.Getenv("ESTIMATOR_DEBUG") != "")
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	addr := getEnv("ESTIMATOR_LISTEN_ADDR", ":50051")
	seed, err := strconv.ParseInt(getEnv("MOCK_SEED", strconv.FormatInt(time.Now().UnixNano(), 10)), 10, 64)
	if err != nil {
		logger.Fatal("invalid MOCK_SEED", zap.Error(err))
	}
	delay, err := time.ParseDuration(getEnv("MOCK_DELAY", "0s"))
	if err != nil {
		logger.Fatal("invalid MOCK_DELAY", zap.Error(err))
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err), zap.String("addr", addr))
	}

	server, healthServer := newServer(inference.NewMockEstimator(seed, inference.WithMockDelay(delay)), logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		healthServer.SetServingStatus(measurerpc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		server.GracefulStop()
	}()

	logger.Info("estimator listening",
		zap.String("addr", lis.Addr().String()),
		zap.Int64("seed", seed),
		zap.Duration("delay", delay),
	)
	if err := server.Serve(lis); err != nil {
		logger.Fatal("estimator failed", zap.Error(err))
	}
}

func newServer(est inference.Estimator, logger *zap.Logger) (*grpc.Server, *health.Server) {
	server := grpc.NewServer()
	measurerpc.Register(server, est, logger)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(measurerpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	return server, healthServer
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
