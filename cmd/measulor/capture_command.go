package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/measulor/internal/avatar"
	"github.com/example/measulor/internal/capture"
	"github.com/example/measulor/internal/inference"
	"github.com/example/measulor/internal/measurement"
	"github.com/example/measulor/internal/measurerpc"
)

const defaultEndpoint = "http://localhost:8080"

type captureOptions struct {
	endpoint   string
	grpcAddr   string
	mock       bool
	seed       int64
	mockDelay  time.Duration
	token      string
	timeout    time.Duration
	showAvatar bool
	jsonOutput bool
}

type captureReport struct {
	State        capture.State       `json:"state"`
	CaptureID    string              `json:"capture_id"`
	ElapsedMS    int64               `json:"elapsed_ms,omitempty"`
	Measurements measurement.Set     `json:"measurements"`
	Failure      *failureReport      `json:"failure,omitempty"`
	Avatar       *avatar.Description `json:"avatar,omitempty"`
}

type failureReport struct {
	Kind    capture.FailureKind `json:"kind"`
	Message string              `json:"message"`
}

var errCaptureFailed = errors.New("capture failed")

func newCaptureCommand(ctx *commandContext) *cobra.Command {
	opts := captureOptions{}

	cmd := &cobra.Command{
		Use:   "capture <image>",
		Short: "Measure the person in an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := loadImage(args[0])
			if err != nil {
				return err
			}

			logger := ctx.logger()
			defer logger.Sync() //nolint:errcheck

			endpoint, closeFn, err := buildEndpoint(cmd, opts, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			return runCapture(cmd, endpoint, img, opts, logger)
		},
	}

	cmd.Flags().StringVar(&opts.endpoint, "endpoint", getEnv("MEASULOR_ENDPOINT", defaultEndpoint), "Base URL of the measurement API")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc", "", "Address of a gRPC estimator to use instead of the HTTP API")
	cmd.Flags().BoolVar(&opts.mock, "mock", false, "Generate mock measurements locally")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Seed for --mock (0 picks one from the clock)")
	cmd.Flags().DurationVar(&opts.mockDelay, "mock-delay", 0, "Simulated processing time for --mock")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("MEASULOR_TOKEN"), "Bearer token for the measurement API")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", inference.DefaultTimeout, "Request timeout")
	cmd.Flags().BoolVar(&opts.showAvatar, "avatar", false, "Also print the avatar proportions")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the result as JSON")
	cmd.MarkFlagsMutuallyExclusive("grpc", "mock")

	return cmd
}

func loadImage(path string) (inference.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return inference.Image{}, fmt.Errorf("read image: %w", err)
	}
	img := inference.Image{
		Filename:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	}
	if err := img.Validate(); err != nil {
		return inference.Image{}, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func buildEndpoint(cmd *cobra.Command, opts captureOptions, logger *zap.Logger) (inference.Endpoint, func(), error) {
	switch {
	case opts.mock:
		seed := opts.seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		est := inference.NewMockEstimator(seed, inference.WithMockDelay(opts.mockDelay))
		return inference.Local(est), func() {}, nil
	case opts.grpcAddr != "":
		client, conn, err := measurerpc.Dial(cmd.Context(), opts.grpcAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		return inference.Local(timeoutEstimator{est: client, timeout: opts.timeout}), func() { conn.Close() }, nil
	default:
		return inference.NewHTTPEndpoint(opts.endpoint,
			inference.WithTimeout(opts.timeout),
			inference.WithBearerToken(opts.token),
			inference.WithLogger(logger),
		), func() {}, nil
	}
}

func runCapture(cmd *cobra.Command, endpoint inference.Endpoint, img inference.Image, opts captureOptions, logger *zap.Logger) error {
	progress := cmd.ErrOrStderr()
	colorize := shouldColorize(progress)

	// settled closes once the final transition has been printed.
	settled := make(chan struct{})
	ctrl := capture.New(endpoint,
		capture.WithLogger(logger),
		capture.WithObserver(func(s capture.Snapshot) {
			fmt.Fprintln(progress, renderTransition(s, colorize))
			if s.State == capture.Done || s.State == capture.Error {
				close(settled)
			}
		}),
	)

	if !ctrl.Submit(cmd.Context(), img) {
		return errors.New("capture did not start")
	}
	snap, err := ctrl.Wait(cmd.Context())
	if err != nil {
		return err
	}
	select {
	case <-settled:
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}

	report := buildReport(snap, opts.showAvatar)
	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		writeReport(out, report)
	}

	if snap.State != capture.Done {
		return errCaptureFailed
	}
	return nil
}

func buildReport(s capture.Snapshot, withAvatar bool) captureReport {
	report := captureReport{State: s.State, CaptureID: s.CaptureID}
	if s.Result != nil {
		report.ElapsedMS = s.Result.Elapsed.Milliseconds()
		report.Measurements = s.Result.Measurements
		if withAvatar {
			desc := avatar.Describe(s.Result.Measurements)
			report.Avatar = &desc
		}
	}
	if s.Failure != nil {
		report.Failure = &failureReport{Kind: s.Failure.Kind}
		if s.Failure.Err != nil {
			report.Failure.Message = s.Failure.Err.Error()
		}
	}
	return report
}

func writeReport(w io.Writer, r captureReport) {
	if r.Failure != nil {
		fmt.Fprintf(w, "Measurement failed (%s): %s\n", r.Failure.Kind, r.Failure.Message)
		fmt.Fprintln(w, "Retake the photo and try again.")
		return
	}

	fmt.Fprintf(w, "Processed in %s\n", formatElapsed(time.Duration(r.ElapsedMS)*time.Millisecond))
	fmt.Fprintln(w, renderMeasurements(r.Measurements))
	if r.Avatar != nil {
		fmt.Fprintln(w, renderDimensions(r.Avatar.Dimensions))
	}
}
