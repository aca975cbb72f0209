package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/measulor/internal/auth"
	"github.com/example/measulor/internal/avatar"
	"github.com/example/measulor/internal/capture"
	"github.com/example/measulor/internal/inference"
	"github.com/example/measulor/internal/logging"
	"github.com/example/measulor/internal/session"
	"github.com/example/measulor/internal/usecase"
)

// MaxUploadSize is the default limit for an uploaded image.
const MaxUploadSize = 10 << 20

// multipart framing allowance on top of the image limit
const formOverhead = 64 << 10

// MeasureService is the server-side estimation use case.
type MeasureService interface {
	Measure(ctx context.Context, img inference.Image) (*usecase.Outcome, error)
	GetResult(ctx context.Context, requestID string) (*usecase.Outcome, error)
}

type routes struct {
	measure        MeasureService
	sessions       *session.Registry
	logger         *zap.Logger
	maxUploadBytes int64
	metrics        http.Handler
}

// Option configures RegisterRoutes.
type Option func(*routes)

// WithLogger sets the handler logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *routes) { r.logger = l }
}

// WithMaxUploadSize overrides MaxUploadSize.
func WithMaxUploadSize(n int64) Option {
	return func(r *routes) { r.maxUploadBytes = n }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(r *routes) { r.metrics = h }
}

// RegisterRoutes wires the HTTP handlers to the Gin router. The measure and
// session APIs sit behind authMiddleware; health and metrics do not.
func RegisterRoutes(router *gin.Engine, svc MeasureService, sessions *session.Registry, authMiddleware gin.HandlerFunc, opts ...Option) {
	rt := &routes{
		measure:        svc,
		sessions:       sessions,
		logger:         zap.NewNop(),
		maxUploadBytes: MaxUploadSize,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = rt.logger.Named("handlers")

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if rt.metrics != nil {
		router.GET("/metrics", gin.WrapH(rt.metrics))
	}

	api := router.Group("/api")
	if authMiddleware != nil {
		api.Use(authMiddleware)
	}

	api.POST("/measure", rt.postMeasure)
	api.GET("/measure/:id", rt.getMeasure)

	api.POST("/sessions", rt.createSession)
	api.GET("/sessions/:id", rt.getSession)
	api.DELETE("/sessions/:id", rt.deleteSession)
	api.POST("/sessions/:id/capture", rt.captureSession)
	api.POST("/sessions/:id/retake", rt.retakeSession)
	api.GET("/sessions/:id/avatar", rt.sessionAvatar)
}

func (rt *routes) postMeasure(c *gin.Context) {
	img, status, err := rt.readImage(c)
	if err != nil {
		measureFailure(c, status, err.Error())
		return
	}

	outcome, err := rt.measure.Measure(c.Request.Context(), img)
	if err != nil {
		status := http.StatusServiceUnavailable
		if logging.OperationOf(err) == usecase.OpEstimate {
			status = http.StatusBadGateway
		}
		rt.requestLogger(c).Error("measure failed", zap.Error(err), zap.Int("status", status))
		measureFailure(c, status, "measurement failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"request_id":   outcome.RequestID,
		"measurements": outcome.Measurements,
		"cached":       outcome.Cached,
	})
}

func (rt *routes) getMeasure(c *gin.Context) {
	requestID := c.Param("id")

	outcome, err := rt.measure.GetResult(c.Request.Context(), requestID)
	switch {
	case errors.Is(err, usecase.ErrResultNotFound):
		measureFailure(c, http.StatusNotFound, "result not found")
		return
	case errors.Is(err, usecase.ErrResultPending):
		c.JSON(http.StatusAccepted, gin.H{"success": false, "request_id": requestID, "message": "result pending"})
		return
	case err != nil:
		rt.requestLogger(c).Error("result lookup failed", zap.Error(err), zap.String("request_id", requestID))
		measureFailure(c, http.StatusServiceUnavailable, "result lookup failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"request_id":   outcome.RequestID,
		"measurements": outcome.Measurements,
		"sha1_hash":    outcome.ImageHash,
		"created_at":   outcome.CreatedAt,
	})
}

func (rt *routes) createSession(c *gin.Context) {
	id, ctrl := rt.sessions.Create()
	rt.requestLogger(c).Info("session created", zap.String("session_id", id))
	body := snapshotJSON(ctrl.Current())
	body["session_id"] = id
	c.JSON(http.StatusCreated, body)
}

func (rt *routes) getSession(c *gin.Context) {
	ctrl, ok := rt.lookupSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snapshotJSON(ctrl.Current()))
}

func (rt *routes) deleteSession(c *gin.Context) {
	if !rt.sessions.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (rt *routes) captureSession(c *gin.Context) {
	ctrl, ok := rt.lookupSession(c)
	if !ok {
		return
	}

	img, status, err := rt.readImage(c)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if !ctrl.Submit(c.Request.Context(), img) {
		body := snapshotJSON(ctrl.Current())
		body["error"] = "capture already in progress or awaiting retake"
		c.JSON(http.StatusConflict, body)
		return
	}
	c.JSON(http.StatusAccepted, snapshotJSON(ctrl.Current()))
}

func (rt *routes) retakeSession(c *gin.Context) {
	ctrl, ok := rt.lookupSession(c)
	if !ok {
		return
	}
	if !ctrl.Retake() {
		body := snapshotJSON(ctrl.Current())
		body["error"] = "nothing to retake"
		c.JSON(http.StatusConflict, body)
		return
	}
	c.JSON(http.StatusOK, snapshotJSON(ctrl.Current()))
}

func (rt *routes) sessionAvatar(c *gin.Context) {
	ctrl, ok := rt.lookupSession(c)
	if !ok {
		return
	}
	snap := ctrl.Current()
	if snap.State != capture.Done {
		c.JSON(http.StatusConflict, gin.H{"error": "no measurements yet", "state": snap.State})
		return
	}
	c.JSON(http.StatusOK, avatar.Describe(snap.Result.Measurements))
}

func (rt *routes) lookupSession(c *gin.Context) (*capture.Controller, bool) {
	ctrl, ok := rt.sessions.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return ctrl, true
}

// readImage extracts the image form field, returning the HTTP status to
// answer with when it is unusable.
func (rt *routes) readImage(c *gin.Context) (inference.Image, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, rt.maxUploadBytes+formOverhead)

	file, err := c.FormFile(inference.FormField)
	if err != nil {
		if isTooLarge(err) {
			return inference.Image{}, http.StatusRequestEntityTooLarge, errors.New("image too large")
		}
		return inference.Image{}, http.StatusBadRequest, errors.New("image file is required")
	}
	if file.Size > rt.maxUploadBytes {
		return inference.Image{}, http.StatusRequestEntityTooLarge, errors.New("image too large")
	}

	data, err := readFile(file)
	if err != nil {
		return inference.Image{}, http.StatusBadRequest, errors.New("unable to read image")
	}

	img := inference.Image{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Data:        data,
	}
	switch err := img.Validate(); {
	case errors.Is(err, inference.ErrNoImage):
		return inference.Image{}, http.StatusBadRequest, errors.New("image file is empty")
	case err != nil:
		return inference.Image{}, http.StatusUnsupportedMediaType, errors.New("unsupported image type")
	}
	return img, 0, nil
}

func readFile(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func (rt *routes) requestLogger(c *gin.Context) *zap.Logger {
	logger := rt.logger.With(zap.String("route", c.FullPath()))
	if client, ok := auth.ClientID(c.Request.Context()); ok {
		logger = logger.With(zap.String("client", client))
	}
	return logger
}

func measureFailure(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

func snapshotJSON(s capture.Snapshot) gin.H {
	body := gin.H{"state": s.State}
	if s.CaptureID != "" {
		body["capture_id"] = s.CaptureID
	}
	if s.Result != nil {
		body["measurements"] = s.Result.Measurements
		body["elapsed_ms"] = s.Result.Elapsed.Milliseconds()
	}
	if s.Failure != nil {
		failure := gin.H{"kind": s.Failure.Kind}
		if s.Failure.Err != nil {
			failure["message"] = s.Failure.Err.Error()
		}
		body["failure"] = failure
	}
	return body
}
