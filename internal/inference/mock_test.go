package inference

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/example/measulor/internal/measurement"
)

func TestMockEstimatorStaysInRange(t *testing.T) {
	est := NewMockEstimator(7)
	for i := 0; i < 50; i++ {
		set, err := est.Estimate(context.Background(), Image{Data: pngHeader})
		if err != nil {
			t.Fatalf("estimate: %v", err)
		}
		if len(set) != len(DefaultMockRanges) {
			t.Fatalf("expected %d values, got %d", len(DefaultMockRanges), len(set))
		}
		for i, r := range DefaultMockRanges {
			e := set[i]
			if e.Name != r.Name {
				t.Fatalf("expected %s at %d, got %s", r.Name, i, e.Name)
			}
			if e.Value < r.Min || e.Value > r.Min+r.Span {
				t.Fatalf("%s out of range: %v", e.Name, e.Value)
			}
			if math.Abs(e.Value*10-math.Round(e.Value*10)) > 1e-9 {
				t.Fatalf("%s not rounded to one decimal: %v", e.Name, e.Value)
			}
		}
	}
}

func TestMockEstimatorIsDeterministicPerSeed(t *testing.T) {
	a, _ := NewMockEstimator(42).Estimate(context.Background(), Image{Data: pngHeader})
	b, _ := NewMockEstimator(42).Estimate(context.Background(), Image{Data: pngHeader})
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical sets, got %v and %v", a, b)
	}
}

func TestMockEstimatorDelayHonoursContext(t *testing.T) {
	est := NewMockEstimator(1, WithMockDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := est.Estimate(ctx, Image{Data: pngHeader}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLocalEndpointDropsImageAfterCall(t *testing.T) {
	var seen []byte
	est := EstimatorFunc(func(ctx context.Context, img Image) (measurement.Set, error) {
		seen = img.Data
		return measurement.Set{}.Add("hip", 35), nil
	})

	call, err := Local(est).Prepare(Image{Data: pngHeader})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := call.Do(context.Background()); err != nil {
		t.Fatalf("do: %v", err)
	}
	if len(seen) == 0 {
		t.Fatal("estimator did not receive the image")
	}
	if lc := call.(*localCall); !lc.img.Empty() {
		t.Fatal("expected call to release the image")
	}

	if _, err := Local(est).Prepare(Image{}); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}

func TestClassifyUnknown(t *testing.T) {
	if Classify(nil) != "" {
		t.Fatal("nil should classify as empty kind")
	}
	if Classify(errors.New("x")) != KindUnknown {
		t.Fatal("foreign errors should be unknown")
	}
	wrapped := errors.Join(errors.New("ctx"), &PayloadError{Endpoint: "e", Err: errors.New("bad")})
	if Classify(wrapped) != KindPayload {
		t.Fatal("wrapped payload error should classify as payload")
	}
}
