package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/measulor/internal/capture"
	"github.com/example/measulor/internal/inference"
	"github.com/example/measulor/internal/measurement"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(est inference.Estimator) (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := NewRegistry(func(string) *capture.Controller {
		return capture.New(inference.Local(est))
	}, WithTTL(time.Minute), WithClock(clock.Now))
	return reg, clock
}

func TestCreateGetDelete(t *testing.T) {
	reg, _ := newTestRegistry(inference.NewMockEstimator(1))

	id, ctrl := reg.Create()
	if id == "" || ctrl == nil {
		t.Fatal("expected session id and controller")
	}
	if ctrl.Current().State != capture.Idle {
		t.Fatalf("new session should be idle, got %s", ctrl.Current().State)
	}

	got, ok := reg.Get(id)
	if !ok || got != ctrl {
		t.Fatal("expected Get to return the created controller")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", reg.Len())
	}

	if !reg.Delete(id) {
		t.Fatal("expected delete to report removal")
	}
	if reg.Delete(id) {
		t.Fatal("second delete should report nothing removed")
	}
	if _, ok := reg.Get(id); ok {
		t.Fatal("deleted session still reachable")
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	reg, _ := newTestRegistry(inference.NewMockEstimator(2))

	_, a := reg.Create()
	_, b := reg.Create()
	if a == b {
		t.Fatal("expected distinct controllers")
	}

	img := inference.Image{Data: []byte("\x89PNG\r\n\x1a\n")}
	if !a.Submit(context.Background(), img) {
		t.Fatal("submit on a should start")
	}
	if _, err := a.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if b.Current().State != capture.Idle {
		t.Fatalf("b should be untouched, got %s", b.Current().State)
	}
}

func TestSweepEvictsOnlyStaleSessions(t *testing.T) {
	reg, clock := newTestRegistry(inference.NewMockEstimator(3))

	stale, _ := reg.Create()
	clock.Advance(45 * time.Second)
	fresh, _ := reg.Create()
	clock.Advance(30 * time.Second)

	if n := reg.Sweep(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, ok := reg.Get(stale); ok {
		t.Fatal("stale session should be evicted")
	}
	if _, ok := reg.Get(fresh); !ok {
		t.Fatal("fresh session should survive")
	}
}

func TestGetRefreshesSession(t *testing.T) {
	reg, clock := newTestRegistry(inference.NewMockEstimator(4))

	id, _ := reg.Create()
	clock.Advance(50 * time.Second)
	reg.Get(id)
	clock.Advance(50 * time.Second)

	if n := reg.Sweep(); n != 0 {
		t.Fatalf("expected touched session to survive, evicted %d", n)
	}
}

func TestSweepKeepsInFlightSessions(t *testing.T) {
	release := make(chan struct{})
	est := inference.EstimatorFunc(func(ctx context.Context, img inference.Image) (measurement.Set, error) {
		<-release
		return measurement.Set{}.Add("Inseam", 76), nil
	})
	reg, clock := newTestRegistry(est)

	id, ctrl := reg.Create()
	if !ctrl.Submit(context.Background(), inference.Image{Data: []byte("\xff\xd8\xff")}) {
		t.Fatal("submit should start")
	}
	clock.Advance(time.Hour)

	if n := reg.Sweep(); n != 0 {
		t.Fatalf("in-flight session evicted")
	}

	close(release)
	snap, err := ctrl.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if snap.State != capture.Done {
		t.Fatalf("expected done, got %s", snap.State)
	}

	if n := reg.Sweep(); n != 1 {
		t.Fatalf("expected completed session to be evicted, got %d", n)
	}
	if _, ok := reg.Get(id); ok {
		t.Fatal("session should be gone")
	}
}

func TestRunStopsWithContext(t *testing.T) {
	reg, _ := newTestRegistry(inference.NewMockEstimator(5))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
