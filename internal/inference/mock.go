package inference

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/example/measulor/internal/measurement"
)

// MockRange is the interval a mock measurement is drawn from, in centimeters.
type MockRange struct {
	Name string
	Min  float64
	Span float64
}

// DefaultMockRanges are plausible adult measurements.
var DefaultMockRanges = []MockRange{
	{Name: "Shoulder Width", Min: 38, Span: 4},
	{Name: "Left Arm Length", Min: 52, Span: 4},
	{Name: "Torso Length", Min: 48, Span: 4},
	{Name: "Inseam", Min: 75, Span: 5},
	{Name: "Hip Width", Min: 35, Span: 4},
	{Name: "Leg Length", Min: 82, Span: 5},
}

// MockEstimator fabricates measurements without looking at the image. It
// exists for offline demos and tests; it is not a measurement algorithm.
type MockEstimator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	ranges []MockRange
	delay  time.Duration
}

// MockOption configures a MockEstimator.
type MockOption func(*MockEstimator)

// WithMockDelay makes every estimate take d, honouring ctx.
func WithMockDelay(d time.Duration) MockOption {
	return func(m *MockEstimator) { m.delay = d }
}

// WithMockRanges replaces DefaultMockRanges.
func WithMockRanges(ranges []MockRange) MockOption {
	return func(m *MockEstimator) { m.ranges = ranges }
}

// NewMockEstimator returns a deterministic generator for the given seed.
func NewMockEstimator(seed int64, opts ...MockOption) *MockEstimator {
	m := &MockEstimator{
		rng:    rand.New(rand.NewSource(seed)),
		ranges: DefaultMockRanges,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Estimate returns one value per configured range, rounded to a millimeter.
func (m *MockEstimator) Estimate(ctx context.Context, img Image) (measurement.Set, error) {
	if img.Empty() {
		return nil, ErrNoImage
	}
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set := make(measurement.Set, 0, len(m.ranges))
	for _, r := range m.ranges {
		v := r.Min + m.rng.Float64()*r.Span
		set = set.Add(r.Name, math.Round(v*10)/10)
	}
	return set, nil
}
