package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/measulor/internal/measurement"
)

const (
	// MeasurePath is the fixed route of the measurement endpoint.
	MeasurePath = "/api/measure"
	// FormField is the multipart field carrying the image.
	FormField = "image"

	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 1 << 20
)

var (
	errMissingMeasurements = errors.New("response has no measurements")
	errReportedFailure     = errors.New("endpoint reported failure")
)

// HTTPEndpoint posts images as multipart form data to a measurement API.
type HTTPEndpoint struct {
	url    string
	client *http.Client
	token  string
	logger *zap.Logger
}

// HTTPOption configures an HTTPEndpoint.
type HTTPOption func(*HTTPEndpoint)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPEndpoint) { e.client = c }
}

// WithTimeout sets the overall request timeout on the default client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPEndpoint) { e.client = newHTTPClient(d) }
}

// WithBearerToken sends an Authorization header with every request.
func WithBearerToken(token string) HTTPOption {
	return func(e *HTTPEndpoint) { e.token = strings.TrimSpace(token) }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(e *HTTPEndpoint) { e.logger = l }
}

// NewHTTPEndpoint returns an endpoint posting to baseURL + MeasurePath.
func NewHTTPEndpoint(baseURL string, opts ...HTTPOption) *HTTPEndpoint {
	e := &HTTPEndpoint{
		url:    strings.TrimRight(baseURL, "/") + MeasurePath,
		client: newHTTPClient(DefaultTimeout),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("http_endpoint")
	return e
}

// URL returns the full measurement URL.
func (e *HTTPEndpoint) URL() string {
	return e.url
}

// Prepare encodes img as a multipart form body.
func (e *HTTPEndpoint) Prepare(img Image) (Call, error) {
	if img.Empty() {
		return nil, ErrNoImage
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FormField, img.Name()))
	header.Set("Content-Type", img.MediaType())

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, fmt.Errorf("write multipart payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	return &httpCall{
		endpoint:    e,
		body:        body.Bytes(),
		contentType: writer.FormDataContentType(),
	}, nil
}

// Estimate prepares and dispatches img in one step.
func (e *HTTPEndpoint) Estimate(ctx context.Context, img Image) (measurement.Set, error) {
	call, err := e.Prepare(img)
	if err != nil {
		return nil, err
	}
	return call.Do(ctx)
}

type httpCall struct {
	endpoint    *HTTPEndpoint
	body        []byte
	contentType string
}

type measureResponse struct {
	Success      *bool           `json:"success"`
	Measurements json.RawMessage `json:"measurements"`
	Message      string          `json:"message"`
	Error        string          `json:"error"`
}

func (r measureResponse) reason() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Error
}

func (c *httpCall) Do(ctx context.Context) (measurement.Set, error) {
	e := c.endpoint
	body := c.body
	c.body = nil

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Endpoint: e.url, Err: err}
	}
	req.Header.Set("Content-Type", c.contentType)
	req.Header.Set("Accept", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: e.url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Endpoint: e.url, Err: err}
	}
	e.logger.Debug("measurement response received",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("latency", time.Since(start)),
	)

	var decoded measureResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Endpoint: e.url, StatusCode: resp.StatusCode}
		if decodeErr == nil {
			statusErr.Message = decoded.reason()
		}
		return nil, statusErr
	}

	if decodeErr != nil {
		return nil, &PayloadError{Endpoint: e.url, Err: decodeErr}
	}
	if decoded.Success != nil && !*decoded.Success {
		err := errReportedFailure
		if reason := decoded.reason(); reason != "" {
			err = fmt.Errorf("%w: %s", errReportedFailure, reason)
		}
		return nil, &PayloadError{Endpoint: e.url, Err: err}
	}
	if len(decoded.Measurements) == 0 || string(decoded.Measurements) == "null" {
		return nil, &PayloadError{Endpoint: e.url, Err: errMissingMeasurements}
	}

	var set measurement.Set
	if err := json.Unmarshal(decoded.Measurements, &set); err != nil {
		return nil, &PayloadError{Endpoint: e.url, Err: err}
	}
	return set, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}
