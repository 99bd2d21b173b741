// Package internal implements the live match loop.
//
// This package is INTERNAL - clients MUST use public API in parent package.
package internal

import (
	"errors"
	"time"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
	"github.com/e7canasta/orion-posematch/modules/posestore"
	"github.com/e7canasta/orion-posematch/modules/similarity"
)

var (
	// ErrNotOpen is a lifecycle error: the loop was never opened or is closed.
	ErrNotOpen = errors.New("matchloop: pose stream not active")

	// Both classify as posestore.ErrUsage.
	ErrEmptyLibrary error = &usageError{"matchloop: pose library is empty"}
	ErrUnknownPose  error = &usageError{"matchloop: unknown pose id"}
)

// usageError is a caller mistake reported to the user, never retried.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func (e *usageError) Unwrap() error { return posestore.ErrUsage }

// State is the loop lifecycle state.
type State int

const (
	// Idle: no stream, no comparison.
	Idle State = iota
	// Capturing: stream active, no comparison.
	Capturing
	// Testing: stream active plus periodic comparison against a target.
	Testing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Testing:
		return "testing"
	default:
		return "unknown"
	}
}

const (
	DefaultEvaluationInterval = 200 * time.Millisecond
	DefaultRepublishDelta     = 0.5
	DefaultFrameInterval      = 16 * time.Millisecond
)

// Config tunes the loop. Zero fields take defaults.
type Config struct {
	// EvaluationInterval is the minimum spacing between engine calls.
	EvaluationInterval time.Duration

	// RepublishDelta is the minimum |Δoverall| that republishes a result
	// when the matched flag is unchanged.
	RepublishDelta float64

	// FrameInterval is the tick period of the built-in Run driver.
	FrameInterval time.Duration
}

// DefaultConfig returns the reference tuning: 200ms / 0.5 points / 16ms.
func DefaultConfig() Config {
	return Config{
		EvaluationInterval: DefaultEvaluationInterval,
		RepublishDelta:     DefaultRepublishDelta,
		FrameInterval:      DefaultFrameInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.EvaluationInterval <= 0 {
		c.EvaluationInterval = DefaultEvaluationInterval
	}
	if c.RepublishDelta <= 0 {
		c.RepublishDelta = DefaultRepublishDelta
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = DefaultFrameInterval
	}
	return c
}

// TargetSource resolves stored target poses. Implemented by posestore.Store.
type TargetSource interface {
	Lookup(poseID string) (pose *landmarks.Snapshot, tolerancePct float64, ok bool)
	Len() int
}

// Matcher compares a live snapshot against a target. Implemented by
// similarity.Engine. Must not block.
type Matcher interface {
	Match(live, target *landmarks.Snapshot, thresholdPct float64) similarity.Result
}

// Stats is a snapshot of loop operational state.
type Stats struct {
	State        State
	TargetPoseID string
	ThresholdPct float64

	// FramesOffered counts Offer calls (including "no body").
	FramesOffered uint64
	// SlotDrops counts frames overwritten before any evaluation read them.
	SlotDrops uint64
	// Evaluations counts engine calls.
	Evaluations uint64
	// Throttled counts ticks skipped by the evaluation interval guard.
	Throttled uint64
	// Republished counts results handed to the bus.
	Republished uint64

	LastEvaluatedAt time.Time
	LastPublishedAt time.Time
}
