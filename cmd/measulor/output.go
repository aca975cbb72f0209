package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/example/measulor/internal/capture"
	"github.com/example/measulor/internal/inference"
	"github.com/example/measulor/internal/measurement"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

var stateMessages = map[capture.State]string{
	capture.Idle:       "Ready for a photo",
	capture.Uploading:  "Uploading image...",
	capture.Processing: "Analyzing your measurements...",
	capture.Done:       "Measurements ready",
	capture.Error:      "Measurement failed",
}

func renderTransition(s capture.Snapshot, colorize bool) string {
	line := fmt.Sprintf("[%s] %s", s.State, stateMessages[s.State])
	if !colorize {
		return line
	}
	switch s.State {
	case capture.Done:
		return ansiGreen + line + ansiReset
	case capture.Error:
		return ansiRed + line + ansiReset
	case capture.Uploading, capture.Processing:
		return ansiYellow + line + ansiReset
	default:
		return line
	}
}

func formatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.2f seconds", d.Seconds())
}

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// timeoutEstimator bounds each call to the gRPC estimator, which has no
// client-wide timeout of its own.
type timeoutEstimator struct {
	est     inference.Estimator
	timeout time.Duration
}

func (t timeoutEstimator) Estimate(ctx context.Context, img inference.Image) (measurement.Set, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.est.Estimate(ctx, img)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
