// Package posesource adapts external pose producers to the session's
// OnPose callback.
//
// The estimator is a black box: it delivers a landmark snapshot, or nil when
// no body is detected, at a rate this package does not control. Adapters:
//   - ProcessSource: external estimator process speaking length-prefixed
//     msgpack on stdout
//   - ReplaySource: recorded JSONL sessions replayed at a fixed FPS
package posesource

import (
	"context"
	"errors"
	"time"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
)

// DeliverFunc receives each snapshot. nil means no body detected.
// Called from the source goroutine; must not block.
type DeliverFunc func(*landmarks.Snapshot)

// Source produces live pose snapshots.
type Source interface {
	// Start begins delivery and returns immediately.
	Start(ctx context.Context, deliver DeliverFunc) error
	// Stop ends delivery. After Stop returns deliver is not called again.
	// Idempotent.
	Stop() error
	Stats() Stats
}

var (
	ErrAlreadyStarted = errors.New("posesource: already started")
	ErrNilDeliver     = errors.New("posesource: nil deliver func")
)

// Stats is a snapshot of source activity.
type Stats struct {
	Delivered    uint64    `json:"delivered"`
	NoBody       uint64    `json:"noBody"`
	DecodeErrors uint64    `json:"decodeErrors"`
	LastFrameAt  time.Time `json:"lastFrameAt"`
	Rate         RateStats `json:"rate"`
}

var (
	_ Source = (*ProcessSource)(nil)
	_ Source = (*ReplaySource)(nil)
	_ Source = (*SupervisedSource)(nil)
)
