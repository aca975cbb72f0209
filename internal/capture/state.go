package capture

import (
	"fmt"
	"time"

	"github.com/example/measulor/internal/inference"
	"github.com/example/measulor/internal/measurement"
)

// State is the phase of the capture workflow. Exactly one holds at a time.
type State int

const (
	Idle State = iota
	Uploading
	Processing
	Done
	Error
)

var stateNames = [...]string{
	Idle:       "idle",
	Uploading:  "uploading",
	Processing: "processing",
	Done:       "done",
	Error:      "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// InFlight reports whether a request is outstanding in this state.
func (s State) InFlight() bool {
	return s == Uploading || s == Processing
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("capture: unknown state %q", text)
}

// FailureKind tells failures apart for diagnostics. Users only ever see Error.
type FailureKind string

const (
	FailurePrepare   FailureKind = "prepare"
	FailureTransport FailureKind = "transport"
	FailureStatus    FailureKind = "status"
	FailurePayload   FailureKind = "payload"
	FailureUnknown   FailureKind = "unknown"
)

func failureKindOf(err error) FailureKind {
	switch inference.Classify(err) {
	case inference.KindTransport:
		return FailureTransport
	case inference.KindStatus:
		return FailureStatus
	case inference.KindPayload:
		return FailurePayload
	default:
		return FailureUnknown
	}
}

// Result is the outcome of a successful capture.
type Result struct {
	Measurements measurement.Set
	Elapsed      time.Duration
}

// Failure records why a capture ended in Error.
type Failure struct {
	Kind FailureKind
	Err  error
}

// Snapshot is a read-only view of a controller. Result is non-nil exactly
// when State is Done; Failure is non-nil exactly when State is Error.
type Snapshot struct {
	State     State
	CaptureID string
	Result    *Result
	Failure   *Failure
}
