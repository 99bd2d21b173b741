// Package posestore owns the in-memory library of target poses for one
// editing session and mediates the hand-off to the level's persistence.
//
// Every captured pose is stored as a deep, enriched copy of the live
// snapshot: the pose source reuses its buffer in place, so aliasing it would
// let the next frame overwrite a stored target.
//
// Tolerance is stored twice for historical reasons: inside each pose blob and
// in the level's tolerance map. The map is authoritative; Hydrate prefers it
// and every mutation writes both.
package posestore

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
)

// DefaultTolerancePct applies when a capture does not specify a tolerance.
const DefaultTolerancePct = 70.0

// Record is one stored target pose.
type Record struct {
	Pose         *landmarks.Snapshot
	TolerancePct float64
}

func (r Record) clone() Record {
	return Record{Pose: r.Pose.Clone(), TolerancePct: r.TolerancePct}
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultTolerance overrides DefaultTolerancePct.
func WithDefaultTolerance(pct float64) Option {
	return func(s *Store) {
		if !math.IsNaN(pct) {
			s.defaultTolerance = clampPct(pct, DefaultTolerancePct)
		}
	}
}

// WithIDGenerator replaces the UUID generator (tests).
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// Store is the pose library. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
	level   Level

	defaultTolerance float64
	newID            func() string
}

// New creates an empty store bound to level. A nil level gets a MemoryLevel.
func New(level Level, opts ...Option) *Store {
	if level == nil {
		level = NewMemoryLevel()
	}
	s := &Store{
		records:          make(map[string]Record),
		level:            level,
		defaultTolerance: DefaultTolerancePct,
		newID:            uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultTolerance returns the library-wide default tolerance.
func (s *Store) DefaultTolerance() float64 {
	return s.defaultTolerance
}

// Capture stores a copy of live with the default tolerance.
func (s *Store) Capture(live *landmarks.Snapshot) (string, error) {
	return s.capture(live, s.defaultTolerance)
}

// CaptureWithTolerance stores a copy of live with pct clamped to [0,100].
func (s *Store) CaptureWithTolerance(live *landmarks.Snapshot, pct float64) (string, error) {
	return s.capture(live, clampPct(pct, s.defaultTolerance))
}

func (s *Store) capture(live *landmarks.Snapshot, pct float64) (string, error) {
	if live.IsEmpty() {
		return "", ErrUsage
	}

	// For non-empty input Enrich returns a fresh copy, so the stored pose
	// never aliases the caller's buffer.
	pose := landmarks.Enrich(live)
	if pose.IsEmpty() {
		return "", ErrUsage
	}
	rec := Record{Pose: pose, TolerancePct: pct}

	blob, err := encodeBlob(rec)
	if err != nil {
		return "", fmt.Errorf("posestore: encode pose: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for _, exists := s.records[id]; exists; _, exists = s.records[id] {
		id = s.newID()
	}

	if err := s.level.SetTolerance(id, pct); err != nil {
		return "", fmt.Errorf("posestore: persist tolerance: %w", err)
	}
	if err := s.level.PutPose(id, blob); err != nil {
		s.rollback(id, "capture", s.level.DeleteTolerance(id))
		return "", fmt.Errorf("posestore: persist pose: %w", err)
	}

	s.records[id] = rec
	posesStored.Set(float64(len(s.records)))

	slog.Info("pose captured",
		"pose_id", id,
		"tolerance_pct", pct,
		"landmarks", pose.Len(),
	)

	return id, nil
}

// UpdateTolerance clamps pct and replaces the stored tolerance, writing the
// level's tolerance map and the denormalized blob copy. Unknown ids are a
// no-op.
func (s *Store) UpdateTolerance(poseID string, pct float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[poseID]
	if !ok {
		return nil
	}

	prevPct := rec.TolerancePct
	rec.TolerancePct = clampPct(pct, rec.TolerancePct)

	blob, err := encodeBlob(rec)
	if err != nil {
		return fmt.Errorf("posestore: encode pose: %w", err)
	}
	if err := s.level.SetTolerance(poseID, rec.TolerancePct); err != nil {
		return fmt.Errorf("posestore: persist tolerance: %w", err)
	}
	if err := s.level.PutPose(poseID, blob); err != nil {
		s.rollback(poseID, "update tolerance", s.level.SetTolerance(poseID, prevPct))
		return fmt.Errorf("posestore: persist pose: %w", err)
	}

	s.records[poseID] = rec

	slog.Debug("pose tolerance updated", "pose_id", poseID, "tolerance_pct", rec.TolerancePct)
	return nil
}

// Remove deletes the pose from the library and the level. Unknown ids are a
// no-op. If the pose is the active comparison target the caller must clear it.
func (s *Store) Remove(poseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[poseID]
	if !ok {
		return nil
	}

	if err := s.level.DeleteTolerance(poseID); err != nil {
		return fmt.Errorf("posestore: delete tolerance: %w", err)
	}
	if err := s.level.DeletePose(poseID); err != nil {
		s.rollback(poseID, "remove", s.level.SetTolerance(poseID, rec.TolerancePct))
		return fmt.Errorf("posestore: delete pose: %w", err)
	}

	delete(s.records, poseID)
	posesStored.Set(float64(len(s.records)))

	slog.Info("pose removed", "pose_id", poseID)
	return nil
}

// rollback logs a failed undo of a half-applied level write. The level may
// then hold a stray tolerance entry, which Hydrate ignores.
func (s *Store) rollback(poseID, op string, err error) {
	if err != nil {
		slog.Error("failed to roll back level write",
			"pose_id", poseID,
			"op", op,
			"error", err,
		)
	}
}

// Get returns a deep copy of the record.
func (s *Store) Get(poseID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[poseID]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Lookup returns a copy of the stored pose with its tolerance.
func (s *Store) Lookup(poseID string) (*landmarks.Snapshot, float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[poseID]
	if !ok {
		return nil, 0, false
	}
	return rec.Pose.Clone(), rec.TolerancePct, true
}

// Tolerance returns the stored tolerance for poseID.
func (s *Store) Tolerance(poseID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[poseID]
	return rec.TolerancePct, ok
}

// IDs returns the pose ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of stored poses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Export serializes the library in the wrapped blob shape together with the
// tolerance map, ready for the level's persistence.
func (s *Store) Export() (map[string][]byte, map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blobs := make(map[string][]byte, len(s.records))
	tolerances := make(map[string]float64, len(s.records))
	for id, rec := range s.records {
		blob, err := encodeBlob(rec)
		if err != nil {
			return nil, nil, fmt.Errorf("posestore: encode pose %q: %w", id, err)
		}
		blobs[id] = blob
		tolerances[id] = rec.TolerancePct
	}
	return blobs, tolerances, nil
}

// clampPct clamps to [0,100]; NaN falls back to def.
func clampPct(pct, def float64) float64 {
	if math.IsNaN(pct) {
		return def
	}
	return math.Max(0, math.Min(100, pct))
}
