// Package inference defines the contract for turning one photo into a set of
// body measurements, and the transports that fulfil it.
//
// A capture goes through two steps: Prepare packages the image for the wire,
// then Call.Do dispatches it and waits for the single reply. Splitting the
// steps lets a caller tell "preparing payload" apart from "awaiting remote
// computation".
//
//	endpoint := inference.NewHTTPEndpoint("https://measure.example.com")
//	call, err := endpoint.Prepare(img)
//	if err != nil {
//		return err
//	}
//	set, err := call.Do(ctx)
package inference

import (
	"context"

	"github.com/example/measulor/internal/measurement"
)

// Endpoint packages images into dispatchable calls.
type Endpoint interface {
	Prepare(img Image) (Call, error)
}

// Call is one packaged request. Do is invoked at most once.
type Call interface {
	Do(ctx context.Context) (measurement.Set, error)
}

// Estimator produces measurements for an image in a single step. Servers
// implement it; Local adapts it into an Endpoint.
type Estimator interface {
	Estimate(ctx context.Context, img Image) (measurement.Set, error)
}

// EstimatorFunc adapts a function into an Estimator.
type EstimatorFunc func(ctx context.Context, img Image) (measurement.Set, error)

// Estimate calls f.
func (f EstimatorFunc) Estimate(ctx context.Context, img Image) (measurement.Set, error) {
	return f(ctx, img)
}

// Local returns an Endpoint that runs est in-process.
func Local(est Estimator) Endpoint {
	return localEndpoint{est: est}
}

type localEndpoint struct {
	est Estimator
}

func (l localEndpoint) Prepare(img Image) (Call, error) {
	if img.Empty() {
		return nil, ErrNoImage
	}
	return &localCall{est: l.est, img: img}, nil
}

type localCall struct {
	est Estimator
	img Image
}

func (c *localCall) Do(ctx context.Context) (measurement.Set, error) {
	img := c.img
	c.img = Image{}
	return c.est.Estimate(ctx, img)
}
