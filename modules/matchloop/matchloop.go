// Package matchloop runs the live comparison between the pose stream and a
// stored target pose.
//
// Philosophy: "Latest snapshot only, bounded evaluation rate."
//
// Design:
//   - Offer() is lock-free: the pose source writes a single slot, intermediate
//     snapshots are dropped, never queued
//   - Tick() is driven by the host frame clock (or Run) and throttles engine
//     calls to one per EvaluationInterval
//   - Results are republished only when they change meaningfully
//   - StopTest()/Close() guarantee no further engine calls once they return
package matchloop

import (
	"context"
	"time"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
	"github.com/e7canasta/orion-posematch/modules/matchloop/internal"
	"github.com/e7canasta/orion-posematch/modules/resultbus"
	"github.com/e7canasta/orion-posematch/modules/similarity"
)

// State is re-exported from internal package.
type State = internal.State

const (
	Idle      = internal.Idle
	Capturing = internal.Capturing
	Testing   = internal.Testing
)

// Config is re-exported from internal package.
// See internal/types.go for field documentation.
type Config = internal.Config

// Stats is re-exported from internal package.
type Stats = internal.Stats

// TargetSource resolves stored target poses (posestore.Store).
type TargetSource = internal.TargetSource

// Matcher compares a live snapshot against a target (similarity.Engine).
type Matcher = internal.Matcher

const (
	DefaultEvaluationInterval = internal.DefaultEvaluationInterval
	DefaultRepublishDelta     = internal.DefaultRepublishDelta
	DefaultFrameInterval      = internal.DefaultFrameInterval
)

var (
	ErrNotOpen      = internal.ErrNotOpen
	ErrEmptyLibrary = internal.ErrEmptyLibrary
	ErrUnknownPose  = internal.ErrUnknownPose
)

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return internal.DefaultConfig()
}

// Loop is the public interface of the live match loop.
//
// Lifecycle: New() → Open() → [StartTest ↔ StopTest]* → Close()
//
// Thread-safety: all methods safe for concurrent use.
type Loop interface {
	// Open activates the stream (Idle → Capturing).
	Open()

	// Close returns to Idle and stops Run drivers. After Close returns the
	// Matcher is never called again. Idempotent.
	Close() error

	// Offer stores the latest live snapshot; nil means no body. Never blocks.
	Offer(s *landmarks.Snapshot)

	// Live returns the latest live snapshot (shared, read-only).
	Live() *landmarks.Snapshot

	// StartTest starts or retargets comparison against poseID.
	//
	// Errors: ErrNotOpen, ErrEmptyLibrary, ErrUnknownPose. The last two wrap
	// posestore.ErrUsage.
	StartTest(poseID string) error

	// StopTest returns to Capturing. Idempotent.
	StopTest()

	// ClearTarget stops testing if poseID is the active target.
	ClearTarget(poseID string)

	// SetThreshold changes the live threshold of the active test.
	SetThreshold(pct float64)

	// SetThresholdFor changes the live threshold only if poseID is the
	// active target.
	SetThresholdFor(poseID string, pct float64)

	// RefreshTarget reloads the active target's pose and threshold from the
	// library, stopping the test if the target is gone.
	RefreshTarget()

	// Tick is the per-frame callback; evaluates at most once per
	// EvaluationInterval of the supplied clock.
	Tick(now time.Time)

	// Run calls Tick every FrameInterval until ctx is done or Close.
	Run(ctx context.Context) error

	// UpdateTuning applies new settings (zero fields take defaults).
	UpdateTuning(cfg Config)

	Latest() *similarity.Result
	State() State
	Target() string
	Config() Config
	Stats() Stats
}

// New creates a loop in Idle state. bus may be nil (results are then only
// available through Latest).
func New(cfg Config, targets TargetSource, engine Matcher, bus resultbus.Bus) Loop {
	return internal.NewLoop(cfg, targets, engine, bus)
}
