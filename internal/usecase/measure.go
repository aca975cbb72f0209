package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/measulor/internal/inference"
	"github.com/example/measulor/internal/logging"
	"github.com/example/measulor/internal/measurement"
)

// Operation names carried by OperationError.
const (
	OpEstimate = "usecase.estimate"
	OpResult   = "usecase.get_result"
)

const processingMarker = "processing"

var (
	// ErrResultNotFound is returned for unknown or expired request IDs.
	ErrResultNotFound = errors.New("measurement result not found")
	// ErrResultPending is returned while a request is still being estimated.
	ErrResultPending = errors.New("measurement result pending")
)

// Metrics receives use case observations.
type Metrics interface {
	ObserveEstimate(d time.Duration, err error)
	CacheLookup(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveEstimate(time.Duration, error) {}
func (nopMetrics) CacheLookup(string)                   {}

// Outcome is the server-side result of one measurement request.
type Outcome struct {
	RequestID    string
	Measurements measurement.Set
	ImageHash    string
	Cached       bool
	CreatedAt    time.Time
}

type cachedMeasurement struct {
	RequestID    string          `json:"request_id"`
	Measurements measurement.Set `json:"measurements"`
	Hash         string          `json:"sha1_hash"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MeasureUseCase estimates measurements for uploaded images, caching results
// by request ID and by image hash.
type MeasureUseCase struct {
	estimator      inference.Estimator
	cache          Cache
	metrics        Metrics
	logger         *zap.Logger
	resultTTL      time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures a MeasureUseCase.
type Option func(*MeasureUseCase)

// WithMetrics reports estimator latency and cache outcomes.
func WithMetrics(m Metrics) Option {
	return func(uc *MeasureUseCase) { uc.metrics = m }
}

// WithResultTTL sets how long results stay retrievable.
func WithResultTTL(ttl time.Duration) Option {
	return func(uc *MeasureUseCase) { uc.resultTTL = ttl }
}

// WithRetry configures cache retry attempts and backoff bounds.
func WithRetry(attempts int, initial, max time.Duration) Option {
	return func(uc *MeasureUseCase) {
		uc.retryAttempts = attempts
		uc.initialBackoff = initial
		uc.maxBackoff = max
	}
}

// NewMeasureUseCase constructs a new use case instance. A nil cache disables
// caching.
func NewMeasureUseCase(estimator inference.Estimator, cache Cache, logger *zap.Logger, opts ...Option) *MeasureUseCase {
	if cache == nil {
		cache = NoCache{}
	}
	uc := &MeasureUseCase{
		estimator:      estimator,
		cache:          cache,
		metrics:        nopMetrics{},
		logger:         logger.Named("measure_usecase"),
		resultTTL:      5 * time.Minute,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Measure estimates img, reusing a cached estimate for identical bytes.
func (uc *MeasureUseCase) Measure(ctx context.Context, img inference.Image) (*Outcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.measure", requestID)

	hash := sha1.Sum(img.Data)
	hashHex := hex.EncodeToString(hash[:])
	requestKey := requestCacheKey(requestID)
	imageKey := imageCacheKey(hashHex)

	if cached, ok := uc.lookup(ctx, requestID, imageKey, opLogger); ok {
		outcome := &Outcome{
			RequestID:    requestID,
			Measurements: cached.Measurements,
			ImageHash:    hashHex,
			Cached:       true,
			CreatedAt:    time.Now().UTC(),
		}
		if err := uc.store(ctx, requestID, requestKey, outcome); err != nil {
			opLogger.Warn("failed to index cached result", zap.Error(err))
		}
		return outcome, nil
	}

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, requestKey, processingMarker, time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	start := time.Now()
	set, err := uc.estimator.Estimate(ctx, img)
	uc.metrics.ObserveEstimate(time.Since(start), err)
	if err != nil {
		wrapped := logging.NewOperationError(OpEstimate, requestID, err)
		opLogger.Error("estimation failed", zap.Error(wrapped))
		if delErr := uc.withRedisRetry(ctx, requestID, "cache.delete.processing", func() error {
			return uc.cache.Delete(ctx, requestKey)
		}); delErr != nil {
			opLogger.Warn("failed to clear processing flag", zap.Error(delErr))
		}
		return nil, wrapped
	}

	outcome := &Outcome{
		RequestID:    requestID,
		Measurements: set,
		ImageHash:    hashHex,
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.store(ctx, requestID, requestKey, outcome); err != nil {
		opLogger.Error("failed to cache measurement result", zap.Error(err))
		return nil, err
	}
	if err := uc.store(ctx, requestID, imageKey, outcome); err != nil {
		opLogger.Warn("failed to cache result by image hash", zap.Error(err))
	}

	opLogger.Info("measurement estimated",
		zap.Int("measurements", len(set)),
		zap.Duration("latency", time.Since(start)),
	)
	return outcome, nil
}

// GetResult returns the cached outcome of an earlier request.
func (uc *MeasureUseCase) GetResult(ctx context.Context, requestID string) (*Outcome, error) {
	value, err := uc.withRedisGet(ctx, requestID, "cache.get.result", requestCacheKey(requestID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	if value == processingMarker {
		return nil, ErrResultPending
	}

	var payload cachedMeasurement
	if err := json.Unmarshal([]byte(value), &payload); err != nil {
		logging.WithOperation(uc.logger, OpResult, requestID).Warn("failed to decode cached result", zap.Error(err))
		return nil, logging.NewOperationError(OpResult, requestID, err)
	}
	return &Outcome{
		RequestID:    requestID,
		Measurements: payload.Measurements,
		ImageHash:    payload.Hash,
		CreatedAt:    payload.CreatedAt,
	}, nil
}

func (uc *MeasureUseCase) lookup(ctx context.Context, requestID, key string, logger *zap.Logger) (*cachedMeasurement, bool) {
	value, err := uc.withRedisGet(ctx, requestID, "cache.get.image", key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			uc.metrics.CacheLookup("miss")
		} else {
			uc.metrics.CacheLookup("error")
			logger.Warn("failed to read image cache", zap.Error(err))
		}
		return nil, false
	}

	var payload cachedMeasurement
	if err := json.Unmarshal([]byte(value), &payload); err != nil || payload.Measurements == nil {
		uc.metrics.CacheLookup("error")
		logger.Warn("discarding undecodable cache entry", zap.Error(err))
		return nil, false
	}
	uc.metrics.CacheLookup("hit")
	return &payload, true
}

func (uc *MeasureUseCase) store(ctx context.Context, requestID, key string, outcome *Outcome) error {
	serialized, err := json.Marshal(cachedMeasurement{
		RequestID:    outcome.RequestID,
		Measurements: outcome.Measurements,
		Hash:         outcome.ImageHash,
		CreatedAt:    outcome.CreatedAt,
	})
	if err != nil {
		return logging.NewOperationError("usecase.serialize", requestID, err)
	}
	return uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, key, string(serialized), uc.resultTTL)
	})
}

func requestCacheKey(requestID string) string {
	return fmt.Sprintf("measurement:request:%s", requestID)
}

func imageCacheKey(hash string) string {
	return fmt.Sprintf("measurement:image:%s", hash)
}

func (uc *MeasureUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *MeasureUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
