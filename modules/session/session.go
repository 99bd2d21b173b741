// Package session is the explicit controller for one pose-editing session.
//
// A Session owns the pose library, the live match loop and the result bus.
// It is created and destroyed by the host, independent of any UI tree:
//
//	s := session.New(cfg, level)
//	defer s.Destroy()
//
//	source.Start(ctx, s.OnPose)     // pose stream → single slot
//	go s.Run(ctx)                   // or call s.Tick(now) per frame
//
//	id, _ := s.Capture(nil)
//	s.StartTest(id)
//
// Destroy stops the loop before returning, so no engine call happens after
// the pose stream is torn down.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
	"github.com/e7canasta/orion-posematch/modules/matchloop"
	"github.com/e7canasta/orion-posematch/modules/posestore"
	"github.com/e7canasta/orion-posematch/modules/resultbus"
	"github.com/e7canasta/orion-posematch/modules/segments"
	"github.com/e7canasta/orion-posematch/modules/similarity"
)

// ErrDestroyed is returned by operations on a destroyed session.
var ErrDestroyed = errors.New("session: destroyed")

// Config configures a Session.
type Config struct {
	LevelID string
	// DefaultTolerancePct is used as given, including 0. DefaultConfig
	// supplies posestore.DefaultTolerancePct.
	DefaultTolerancePct float64
	Similarity          similarity.Config
	Loop                matchloop.Config
}

// DefaultConfig returns reference settings for level levelID.
func DefaultConfig(levelID string) Config {
	return Config{
		LevelID:             levelID,
		DefaultTolerancePct: posestore.DefaultTolerancePct,
		Similarity:          similarity.DefaultConfig(),
		Loop:                matchloop.DefaultConfig(),
	}
}

// Session is the pose-matching controller. Safe for concurrent use.
type Session struct {
	levelID string
	started time.Time

	store  *posestore.Store
	bus    resultbus.Bus
	loop   matchloop.Loop
	engine atomic.Pointer[similarity.Engine]

	mu        sync.Mutex
	destroyed bool
}

// New creates a session bound to level and opens its pose stream
// (loop state Capturing).
func New(cfg Config, level posestore.Level) *Session {
	s := &Session{
		levelID: cfg.LevelID,
		started: time.Now(),
		store:   posestore.New(level, posestore.WithDefaultTolerance(cfg.DefaultTolerancePct)),
		bus:     resultbus.New(),
	}
	s.engine.Store(similarity.NewEngine(cfg.Similarity, segments.Default()))
	s.loop = matchloop.New(cfg.Loop, s.store, engineRef{s}, s.bus)
	s.loop.Open()

	slog.Info("session created",
		"level_id", s.levelID,
		"sensitivity", s.engine.Load().Sensitivity(),
	)
	return s
}

// engineRef lets the loop follow sensitivity hot reloads.
type engineRef struct{ s *Session }

func (r engineRef) Match(live, target *landmarks.Snapshot, thresholdPct float64) similarity.Result {
	return r.s.engine.Load().Match(live, target, thresholdPct)
}

// Destroy stops the loop and the result bus. Idempotent.
func (s *Session) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	s.mu.Unlock()

	err := s.loop.Close()
	s.bus.Close()

	slog.Info("session destroyed",
		"level_id", s.levelID,
		"uptime", time.Since(s.started).Round(time.Millisecond),
	)
	return err
}

func (s *Session) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	return nil
}

// LevelID returns the level this session edits.
func (s *Session) LevelID() string { return s.levelID }

// OnPose is the pose-source callback. nil means no body detected.
func (s *Session) OnPose(snapshot *landmarks.Snapshot) {
	s.loop.Offer(snapshot)
}

// Capture stores the current live pose. tolerancePct nil uses the default.
// Returns an error wrapping posestore.ErrUsage when no body is in view.
func (s *Session) Capture(tolerancePct *float64) (string, error) {
	if err := s.alive(); err != nil {
		return "", err
	}

	live := s.loop.Live()
	if live.IsEmpty() {
		return "", fmt.Errorf("capture: %w", posestore.ErrUsage)
	}
	if tolerancePct == nil {
		return s.store.Capture(live)
	}
	return s.store.CaptureWithTolerance(live, *tolerancePct)
}

// Remove deletes a pose and stops the test if it was the target.
func (s *Session) Remove(poseID string) error {
	if err := s.alive(); err != nil {
		return err
	}
	if err := s.store.Remove(poseID); err != nil {
		return err
	}
	s.loop.ClearTarget(poseID)
	return nil
}

// UpdateTolerance changes a pose's tolerance; if it is the active target
// the live threshold follows.
func (s *Session) UpdateTolerance(poseID string, pct float64) error {
	if err := s.alive(); err != nil {
		return err
	}
	if err := s.store.UpdateTolerance(poseID, pct); err != nil {
		return err
	}
	if tol, ok := s.store.Tolerance(poseID); ok {
		s.loop.SetThresholdFor(poseID, tol)
	}
	return nil
}

// StartTest starts or retargets the live comparison. Needs a body in view:
// otherwise the error wraps posestore.ErrUsage, as do an empty library and
// an unknown pose.
func (s *Session) StartTest(poseID string) error {
	if err := s.alive(); err != nil {
		return err
	}
	if _, known := s.store.Tolerance(poseID); known && s.loop.Live().IsEmpty() {
		return fmt.Errorf("start test: %w", posestore.ErrUsage)
	}
	return s.loop.StartTest(poseID)
}

// StopTest returns to capturing. Idempotent.
func (s *Session) StopTest() {
	s.loop.StopTest()
}

// Hydrate replaces the library from persisted entries. An active target is
// re-read from the new library; if it no longer exists the test stops.
func (s *Session) Hydrate(blobs map[string][]byte, tolerances map[string]float64) (posestore.Report, error) {
	if err := s.alive(); err != nil {
		return posestore.Report{}, err
	}

	report := s.store.Hydrate(blobs, tolerances)

	s.loop.RefreshTarget()
	return report, nil
}

// Export serializes the library for persistence.
func (s *Session) Export() (map[string][]byte, map[string]float64, error) {
	return s.store.Export()
}

// Run drives the loop at its frame interval until ctx is done or Destroy.
func (s *Session) Run(ctx context.Context) error {
	if err := s.alive(); err != nil {
		return err
	}
	err := s.loop.Run(ctx)
	if errors.Is(err, matchloop.ErrNotOpen) {
		return ErrDestroyed
	}
	return err
}

// Tick is the host-driven alternative to Run.
func (s *Session) Tick(now time.Time) {
	s.loop.Tick(now)
}

// Subscribe registers a DropNew observer of republished results.
func (s *Session) Subscribe(id string, ch chan<- resultbus.Message) error {
	return s.bus.Subscribe(id, ch)
}

// SubscribeLatest registers a latest-only observer of republished results.
func (s *Session) SubscribeLatest(id string) (resultbus.Receiver, error) {
	return s.bus.SubscribeLatest(id)
}

// Unsubscribe removes an observer.
func (s *Session) Unsubscribe(id string) error {
	return s.bus.Unsubscribe(id)
}

// Latest returns the last republished result, or nil.
func (s *Session) Latest() *similarity.Result {
	return s.loop.Latest()
}

// Retune applies hot-reloaded tuning. The engine is swapped atomically;
// an evaluation in flight finishes with the previous one.
func (s *Session) Retune(sim similarity.Config, loop matchloop.Config) {
	s.engine.Store(similarity.NewEngine(sim, segments.Default()))
	s.loop.UpdateTuning(loop)
}
