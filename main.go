package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/measulor/internal/auth"
	"github.com/example/measulor/internal/capture"
	"github.com/example/measulor/internal/config"
	"github.com/example/measulor/internal/handlers"
	"github.com/example/measulor/internal/inference"
	"github.com/example/measulor/internal/logging"
	"github.com/example/measulor/internal/measurerpc"
	"github.com/example/measulor/internal/metrics"
	"github.com/example/measulor/internal/session"
	"github.com/example/measulor/internal/usecase"
)

func main() {
	configPath := flag.String("config", getEnv("MEASULOR_CONFIG", ""), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	estimator, closeEstimator := initEstimator(ctx, cfg.Estimator, logger)
	defer closeEstimator()

	var cache usecase.Cache
	if cfg.Redis.Addr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		redisClient := initRedis(redisCtx, cfg.Redis, logger)
		defer redisClient.Close()
		cache = usecase.NewRedisCache(redisClient)
	} else {
		logger.Warn("REDIS_ADDR not set, results are not cached")
	}

	uc := usecase.NewMeasureUseCase(estimator, cache, logger,
		usecase.WithMetrics(m),
		usecase.WithResultTTL(cfg.Results.TTL),
	)

	local := inference.Local(estimator)
	sessions := session.NewRegistry(func(id string) *capture.Controller {
		return capture.New(local,
			capture.WithLogger(logger.With(zap.String("session_id", id))),
			capture.WithRecorder(m),
		)
	}, session.WithTTL(cfg.Sessions.TTL), session.WithLogger(logger))

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sessions.Run(sweepCtx, cfg.Sessions.SweepInterval)

	if cfg.Estimator.GRPCAddr != "" {
		grpcServer, err := serveEstimator(cfg.Estimator.GRPCAddr, estimator, logger)
		if err != nil {
			logger.Fatal("failed to start estimator service", zap.Error(err))
		}
		defer grpcServer.GracefulStop()
	}

	r := gin.Default()
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes
	r.Use(m.Middleware())

	authMiddleware := auth.JWTMiddleware(cfg.Auth.Secret, cfg.Auth.Audience, logger)

	handlers.RegisterRoutes(r, uc, sessions, authMiddleware,
		handlers.WithLogger(logger),
		handlers.WithMaxUploadSize(cfg.Server.MaxUploadBytes),
		handlers.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("measulor API listening", zap.String("addr", cfg.Server.Addr))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// initEstimator dials the remote estimator when configured and falls back to
// the in-process mock otherwise.
func initEstimator(ctx context.Context, cfg config.EstimatorConfig, logger *zap.Logger) (inference.Estimator, func()) {
	if cfg.Addr == "" {
		logger.Warn("ESTIMATOR_ADDR not set, serving mock measurements", zap.Int64("seed", cfg.MockSeed))
		return inference.NewMockEstimator(cfg.MockSeed), func() {}
	}

	client, conn, err := measurerpc.Dial(ctx, cfg.Addr, logger)
	if err != nil {
		logger.Fatal("failed to connect to estimator", zap.Error(err))
	}
	logger.Info("using remote estimator", zap.String("addr", cfg.Addr))
	return client, func() { conn.Close() }
}

func initRedis(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveEstimator(addr string, est inference.Estimator, logger *zap.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := grpc.NewServer()
	measurerpc.Register(s, est, logger)
	go func() {
		if err := s.Serve(lis); err != nil {
			logger.Error("estimator service stopped", zap.Error(err))
		}
	}()
	logger.Info("estimator service listening", zap.String("addr", lis.Addr().String()))
	return s, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
