package internal

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
	"github.com/e7canasta/orion-posematch/modules/resultbus"
	"github.com/e7canasta/orion-posematch/modules/similarity"
)

// loop is the concrete implementation of matchloop.Loop.
//
// Goroutine topology:
//   - pose source goroutine(s): Offer (lock-free, slot only)
//   - host tick or Run driver: Tick (holds mu for the whole evaluation)
//   - control callers: Open/Close/StartTest/StopTest/... (take mu)
//
// Because Tick evaluates while holding mu, any state change that takes mu
// (StopTest, Close) returns only after an in-flight evaluation finished, and
// later ticks observe the new state. That is the "no engine call after stop"
// guarantee.
type loop struct {
	targets TargetSource
	engine  Matcher
	bus     resultbus.Bus

	slot liveSlot

	mu      sync.Mutex
	cfg     Config
	state   State
	limiter *rate.Limiter

	targetID   string
	targetPose *landmarks.Snapshot
	threshold  float64
	prev       *similarity.Result

	evaluations     uint64
	throttled       uint64
	republished     uint64
	lastEvaluatedAt time.Time
	lastPublishedAt time.Time

	// Run driver lifecycle
	stopCh  chan struct{}
	retune  chan struct{}
	drivers sync.WaitGroup
}

// NewLoop creates a loop in Idle state (called by public New() in parent package).
func NewLoop(cfg Config, targets TargetSource, engine Matcher, bus resultbus.Bus) *loop {
	cfg = cfg.withDefaults()
	return &loop{
		targets: targets,
		engine:  engine,
		bus:     bus,
		cfg:     cfg,
		state:   Idle,
		limiter: newLimiter(cfg.EvaluationInterval),
		retune:  make(chan struct{}, 1),
	}
}

// newLimiter builds the evaluation guard: one token per interval, burst 1.
// With burst 1 no credit accumulates, so it admits a tick iff at least
// interval elapsed since the last admitted one.
func newLimiter(interval time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Open activates the pose stream (Idle → Capturing). No-op otherwise.
func (l *loop) Open() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Idle {
		return
	}
	l.state = Capturing
	l.stopCh = make(chan struct{})
	loopState.Set(float64(Capturing))

	slog.Info("match loop opened")
}

// Close tears the loop down to Idle, stops Run drivers, and empties the slot.
//
// After Close returns no further Matcher calls occur. Idempotent.
func (l *loop) Close() error {
	l.mu.Lock()
	if l.state == Idle {
		l.mu.Unlock()
		return nil
	}
	from := l.state
	l.state = Idle
	l.clearTargetLocked()
	close(l.stopCh)
	loopState.Set(float64(Idle))
	l.mu.Unlock()

	// Wait for Run drivers to exit
	l.drivers.Wait()
	l.slot.reset()

	slog.Info("match loop closed", "from_state", from.String())
	return nil
}

// Offer stores the latest live snapshot (pose source callback).
//
// Thread-safety: safe from any goroutine, at any rate. Never blocks.
// nil means "no body detected". The snapshot is enriched into a private
// copy, so the source may reuse its buffer.
func (l *loop) Offer(s *landmarks.Snapshot) {
	if s.IsEmpty() {
		l.slot.put(nil)
		return
	}
	l.slot.put(landmarks.Enrich(s))
}

// Live returns the latest live snapshot (nil when no body).
// The returned snapshot is shared; callers must not modify it.
func (l *loop) Live() *landmarks.Snapshot {
	return l.slot.peek()
}

// StartTest begins (or retargets) periodic comparison.
//
// From Capturing: enters Testing with a fresh throttle and no previous
// result, so the first evaluation always publishes.
// From Testing: switches target and re-seeds the threshold from the target's
// tolerance; throttle and previous result are kept.
func (l *loop) StartTest(poseID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Idle {
		return ErrNotOpen
	}
	if l.targets.Len() == 0 {
		return ErrEmptyLibrary
	}
	pose, tol, ok := l.targets.Lookup(poseID)
	if !ok {
		return ErrUnknownPose
	}

	retarget := l.state == Testing
	if !retarget {
		l.prev = nil
		l.limiter = newLimiter(l.cfg.EvaluationInterval)
	}

	l.targetID = poseID
	l.targetPose = pose
	l.threshold = tol
	l.state = Testing
	loopState.Set(float64(Testing))

	slog.Info("match test started",
		"pose_id", poseID,
		"threshold_pct", tol,
		"retarget", retarget,
	)
	return nil
}

// StopTest returns to Capturing. Idempotent.
func (l *loop) StopTest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTestLocked()
}

func (l *loop) stopTestLocked() {
	if l.state != Testing {
		return
	}
	poseID := l.targetID
	l.state = Capturing
	l.clearTargetLocked()
	loopState.Set(float64(Capturing))

	slog.Info("match test stopped", "pose_id", poseID)
}

func (l *loop) clearTargetLocked() {
	l.targetID = ""
	l.targetPose = nil
	l.threshold = 0
	l.prev = nil
}

// ClearTarget stops testing if poseID is the active target.
func (l *loop) ClearTarget(poseID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Testing && l.targetID == poseID {
		l.stopTestLocked()
	}
}

// SetThreshold changes the live threshold (clamped to [0,100]). Only
// meaningful while Testing; NaN is ignored.
func (l *loop) SetThreshold(pct float64) {
	if math.IsNaN(pct) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Testing {
		return
	}
	l.threshold = math.Max(0, math.Min(100, pct))
}

// SetThresholdFor changes the live threshold only while poseID is the active
// target, so a concurrent retarget never inherits another pose's tolerance.
func (l *loop) SetThresholdFor(poseID string, pct float64) {
	if math.IsNaN(pct) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Testing || l.targetID != poseID {
		return
	}
	l.threshold = math.Max(0, math.Min(100, pct))
}

// RefreshTarget re-resolves the active target after the library changed
// underneath it. The cached pose and threshold follow the stored record; a
// target that no longer exists stops the test. Throttle and previous result
// are kept, as on retarget.
func (l *loop) RefreshTarget() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Testing {
		return
	}
	pose, tol, ok := l.targets.Lookup(l.targetID)
	if !ok {
		slog.Info("match target no longer in library", "pose_id", l.targetID)
		l.stopTestLocked()
		return
	}
	l.targetPose = pose
	l.threshold = tol

	slog.Debug("match target refreshed", "pose_id", l.targetID, "threshold_pct", tol)
}

// Run drives Tick every FrameInterval until ctx is done or the loop is
// closed. Returns ErrNotOpen if the loop is Idle.
func (l *loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.state == Idle {
		l.mu.Unlock()
		return ErrNotOpen
	}
	stopCh := l.stopCh
	interval := l.cfg.FrameInterval
	l.drivers.Add(1)
	l.mu.Unlock()
	defer l.drivers.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-l.retune:
			l.mu.Lock()
			interval = l.cfg.FrameInterval
			l.mu.Unlock()
			ticker.Reset(interval)
		case now := <-ticker.C:
			l.Tick(now)
		}
	}
}

// UpdateTuning applies new timing/republish settings (config hot reload).
func (l *loop) UpdateTuning(cfg Config) {
	cfg = cfg.withDefaults()

	l.mu.Lock()
	old := l.cfg
	l.cfg = cfg
	if cfg.EvaluationInterval != old.EvaluationInterval {
		l.limiter = newLimiter(cfg.EvaluationInterval)
	}
	l.mu.Unlock()

	if cfg.FrameInterval != old.FrameInterval {
		select {
		case l.retune <- struct{}{}:
		default:
		}
	}

	slog.Info("match loop tuning updated",
		"evaluation_interval", cfg.EvaluationInterval,
		"republish_delta", cfg.RepublishDelta,
		"frame_interval", cfg.FrameInterval,
	)
}

// State returns the current lifecycle state.
func (l *loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Target returns the active target pose id ("" when not testing).
func (l *loop) Target() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.targetID
}

// Latest returns the last published result, or nil.
func (l *loop) Latest() *similarity.Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.prev == nil {
		return nil
	}
	r := *l.prev
	return &r
}

// Config returns the active tuning.
func (l *loop) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}
