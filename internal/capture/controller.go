// Package capture drives one photo → measurement round trip at a time.
//
// A Controller moves through Idle → Uploading → Processing → Done|Error and
// back to Idle on Retake. Submitting while a request is in flight, or before
// the previous result was retaken, has no effect, so a controller never has
// more than one request outstanding. Once dispatched a request cannot be
// aborted; the workflow resolves when the endpoint answers.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/measulor/internal/inference"
	"github.com/example/measulor/internal/logging"
	"github.com/example/measulor/internal/measurement"
)

// Reasons reported to Recorder.Rejected.
const (
	RejectNoImage = "no_image"
	RejectBusy    = "busy"
	RejectState   = "state"
)

// Recorder receives workflow events for metrics.
type Recorder interface {
	Transition(from, to State)
	Failure(kind FailureKind)
	RoundTrip(d time.Duration)
	Rejected(reason string)
}

type nopRecorder struct{}

func (nopRecorder) Transition(State, State) {}
func (nopRecorder) Failure(FailureKind)     {}
func (nopRecorder) RoundTrip(time.Duration) {}
func (nopRecorder) Rejected(string)         {}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock replaces time.Now for elapsed-time measurement.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRecorder reports events to r.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithObserver registers fn to receive every transition in order.
// Observers run on a delivery goroutine owned by the controller, never on the
// goroutine that caused the transition, so they may call any method,
// including Wait.
func WithObserver(fn func(Snapshot)) Option {
	return func(c *Controller) { c.observers = append(c.observers, fn) }
}

// Controller owns the capture state machine.
type Controller struct {
	endpoint  inference.Endpoint
	logger    *zap.Logger
	recorder  Recorder
	now       func() time.Time
	observers []func(Snapshot)

	mu        sync.Mutex
	state     State
	captureID string
	started   time.Time
	result    *Result
	failure   *Failure
	inflight  chan struct{}

	pending    []Snapshot
	delivering bool
}

// New returns an Idle controller that sends captures to endpoint.
func New(endpoint inference.Endpoint, opts ...Option) *Controller {
	c := &Controller{
		endpoint: endpoint,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("capture")
	return c
}

// Submit starts a capture of img. It returns false, changing nothing, when
// img is empty or the controller is not Idle.
//
// The request runs with ctx's values but not its cancellation.
func (c *Controller) Submit(ctx context.Context, img inference.Image) bool {
	if img.Empty() {
		c.recorder.Rejected(RejectNoImage)
		c.logger.Debug("capture rejected", zap.String("reason", RejectNoImage))
		return false
	}

	c.mu.Lock()
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		reason := RejectState
		if state.InFlight() {
			reason = RejectBusy
		}
		c.recorder.Rejected(reason)
		c.logger.Debug("capture rejected", zap.String("reason", reason), zap.Stringer("state", state))
		return false
	}

	id := uuid.NewString()
	c.captureID = id
	c.started = c.now()
	c.result = nil
	c.failure = nil
	done := make(chan struct{})
	c.inflight = done
	c.transitionLocked(Uploading)
	c.mu.Unlock()

	logging.WithCapture(c.logger, id).Info("capture started",
		zap.Int("bytes", len(img.Data)),
		zap.String("content_type", img.MediaType()),
	)
	go c.run(context.WithoutCancel(ctx), id, img, done)
	return true
}

// Retake discards the result of a finished capture and returns to Idle.
// It reports false, changing nothing, unless the state is Done or Error.
func (c *Controller) Retake() bool {
	c.mu.Lock()
	if c.state != Done && c.state != Error {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("retake ignored", zap.Stringer("state", state))
		return false
	}
	c.captureID = ""
	c.result = nil
	c.failure = nil
	c.transitionLocked(Idle)
	c.mu.Unlock()
	return true
}

// Current returns the present state and its payload.
func (c *Controller) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until no request is in flight, then returns the state.
// Observers may still be receiving the final transition when it returns.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	done := c.inflight
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return c.Current(), ctx.Err()
		}
	}
	return c.Current(), nil
}

func (c *Controller) run(ctx context.Context, id string, img inference.Image, done chan struct{}) {
	defer close(done)
	logger := logging.WithCapture(c.logger, id)

	var call inference.Call
	err := guard(func() (err error) {
		call, err = c.endpoint.Prepare(img)
		return err
	})
	img = inference.Image{}
	if err != nil {
		c.fail(logger, FailurePrepare, err)
		return
	}

	c.mu.Lock()
	c.transitionLocked(Processing)
	c.mu.Unlock()

	var set measurement.Set
	err = guard(func() (err error) {
		set, err = call.Do(ctx)
		return err
	})
	received := c.now()
	if err != nil {
		c.fail(logger, failureKindOf(err), err)
		return
	}
	if set == nil {
		set = measurement.Set{}
	}

	c.mu.Lock()
	elapsed := received.Sub(c.started)
	c.result = &Result{Measurements: set, Elapsed: elapsed}
	c.inflight = nil
	c.transitionLocked(Done)
	c.mu.Unlock()

	c.recorder.RoundTrip(elapsed)
	logger.Info("capture completed",
		zap.Int("measurements", len(set)),
		zap.Duration("elapsed", elapsed),
	)
}

// guard converts a panicking endpoint into an ordinary failure.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("endpoint panic: %v", r)
		}
	}()
	return fn()
}

func (c *Controller) fail(logger *zap.Logger, kind FailureKind, err error) {
	c.mu.Lock()
	c.failure = &Failure{Kind: kind, Err: err}
	c.inflight = nil
	c.transitionLocked(Error)
	c.mu.Unlock()

	c.recorder.Failure(kind)
	logger.Warn("capture failed", zap.String("kind", string(kind)), zap.Error(err))
}

// transitionLocked moves to state to and queues the resulting snapshot for
// observers. Must be called with c.mu held.
func (c *Controller) transitionLocked(to State) {
	from := c.state
	c.state = to
	c.recorder.Transition(from, to)
	if len(c.observers) == 0 {
		return
	}

	c.pending = append(c.pending, c.snapshotLocked())
	if !c.delivering {
		c.delivering = true
		go c.deliver()
	}
}

// deliver hands queued snapshots to observers until the queue is empty.
// At most one deliver runs per controller.
func (c *Controller) deliver() {
	c.mu.Lock()
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, snap := range batch {
			for _, fn := range c.observers {
				fn(snap)
			}
		}
		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state, CaptureID: c.captureID}
	if c.state == Done && c.result != nil {
		snap.Result = &Result{
			Measurements: c.result.Measurements.Clone(),
			Elapsed:      c.result.Elapsed,
		}
	}
	if c.state == Error && c.failure != nil {
		failure := *c.failure
		snap.Failure = &failure
	}
	return snap
}
