package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
	"github.com/e7canasta/orion-posematch/modules/posestore"
	"github.com/e7canasta/orion-posematch/modules/resultbus"
	"github.com/e7canasta/orion-posematch/modules/similarity"
)

// scriptedMatcher returns scripted overall scores in order, repeating the
// last one, and records what it was called with.
type scriptedMatcher struct {
	mu         sync.Mutex
	overalls   []float64
	calls      int
	lastLive   *landmarks.Snapshot
	lastTarget *landmarks.Snapshot
	thresholds []float64
}

func (m *scriptedMatcher) Match(live, target *landmarks.Snapshot, thresholdPct float64) similarity.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	overall := 0.0
	if len(m.overalls) > 0 {
		i := min(m.calls, len(m.overalls)-1)
		overall = m.overalls[i]
	}
	m.calls++
	m.lastLive = live
	m.lastTarget = target
	m.thresholds = append(m.thresholds, thresholdPct)

	r := similarity.Zero(thresholdPct)
	r.Overall = overall
	r.Matched = overall >= thresholdPct
	return r
}

func (m *scriptedMatcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mapTargets map[string]float64

func (t mapTargets) Lookup(poseID string) (*landmarks.Snapshot, float64, bool) {
	tol, ok := t[poseID]
	if !ok {
		return nil, 0, false
	}
	s := landmarks.NewSnapshot(time.Time{})
	s.Landmarks[landmarks.Nose] = landmarks.Landmark{X: tol / 100}
	return s, tol, true
}

func (t mapTargets) Len() int { return len(t) }

func body(x float64) *landmarks.Snapshot {
	s := landmarks.NewSnapshot(time.Time{})
	s.Landmarks[landmarks.LeftWrist] = landmarks.Landmark{X: x, Y: 0.5, Visibility: 1}
	return s
}

var t0 = time.Unix(1_700_000_000, 0)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func newTestLoop(m Matcher, targets TargetSource, bus resultbus.Bus) *loop {
	l := NewLoop(DefaultConfig(), targets, m, bus)
	l.Open()
	return l
}

// TestTickThrottle verifies at most one evaluation per EvaluationInterval.
//
// Ticks at 0, 16, 100, 199, 250, 300, 460 ms with a 200ms interval evaluate
// at 0, 250 and 460 only.
func TestTickThrottle(t *testing.T) {
	m := &scriptedMatcher{overalls: []float64{50}}
	l := newTestLoop(m, mapTargets{"a": 70}, nil)
	require.NoError(t, l.StartTest("a"))

	for _, ms := range []int{0, 16, 100, 199, 250, 300, 460} {
		l.Tick(at(ms))
	}

	stats := l.Stats()
	assert.Equal(t, 3, m.Calls())
	assert.Equal(t, uint64(3), stats.Evaluations)
	assert.Equal(t, uint64(4), stats.Throttled)
	assert.Equal(t, at(460), stats.LastEvaluatedAt)

	t.Logf("✅ evaluations=%d throttled=%d", stats.Evaluations, stats.Throttled)
}

// TestRepublishRule verifies the change filter on consecutive results.
//
//	80.2 → publish (first)
//	80.4 → keep (Δ0.2 < 0.5, matched unchanged)
//	81.0 → publish (Δ0.8 vs last published 80.2)
func TestRepublishRule(t *testing.T) {
	bus := resultbus.New()
	defer bus.Close()
	ch := make(chan resultbus.Message, 10)
	require.NoError(t, bus.Subscribe("obs", ch))

	m := &scriptedMatcher{overalls: []float64{80.2, 80.4, 81.0}}
	l := newTestLoop(m, mapTargets{"a": 70}, bus)
	require.NoError(t, l.StartTest("a"))

	l.Tick(at(0))
	first := l.Latest()
	require.NotNil(t, first)
	assert.Equal(t, 80.2, first.Overall)

	l.Tick(at(250))
	assert.Equal(t, 80.2, l.Latest().Overall, "80.4 must not replace 80.2")

	l.Tick(at(500))
	assert.Equal(t, 81.0, l.Latest().Overall)

	assert.Equal(t, uint64(3), l.Stats().Evaluations)
	assert.Equal(t, uint64(2), l.Stats().Republished)
	require.Len(t, ch, 2)

	msg := <-ch
	assert.Equal(t, "a", msg.PoseID)
	assert.Equal(t, 80.2, msg.Result.Overall)
	msg = <-ch
	assert.Equal(t, 81.0, msg.Result.Overall)
}

func TestRepublishOnMatchedFlip(t *testing.T) {
	m := &scriptedMatcher{overalls: []float64{69.9, 70.1}}
	l := newTestLoop(m, mapTargets{"a": 70}, nil)
	require.NoError(t, l.StartTest("a"))

	l.Tick(at(0))
	assert.False(t, l.Latest().Matched)

	l.Tick(at(250))
	assert.True(t, l.Latest().Matched)
	assert.Equal(t, uint64(2), l.Stats().Republished)
}

// TestStopGuaranteesNoFurtherEngineCalls verifies that once StopTest or
// Close return, ticks never reach the engine.
func TestStopGuaranteesNoFurtherEngineCalls(t *testing.T) {
	m := &scriptedMatcher{overalls: []float64{90}}
	l := newTestLoop(m, mapTargets{"a": 70}, nil)
	require.NoError(t, l.StartTest("a"))

	l.Tick(at(0))
	require.Equal(t, 1, m.Calls())

	l.StopTest()
	l.StopTest() // idempotent
	assert.Equal(t, Capturing, l.State())
	assert.Empty(t, l.Target())
	assert.Nil(t, l.Latest())

	for ms := 200; ms <= 2000; ms += 200 {
		l.Tick(at(ms))
	}
	assert.Equal(t, 1, m.Calls())

	require.NoError(t, l.StartTest("a"))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Equal(t, Idle, l.State())

	l.Tick(at(5000))
	assert.Equal(t, 1, m.Calls())
}

func TestStartTestErrors(t *testing.T) {
	m := &scriptedMatcher{}

	idle := NewLoop(DefaultConfig(), mapTargets{"a": 70}, m, nil)
	assert.ErrorIs(t, idle.StartTest("a"), ErrNotOpen)

	empty := newTestLoop(m, mapTargets{}, nil)
	assert.ErrorIs(t, empty.StartTest("a"), ErrEmptyLibrary)
	assert.Equal(t, Capturing, empty.State())

	l := newTestLoop(m, mapTargets{"a": 70}, nil)
	assert.ErrorIs(t, l.StartTest("nope"), ErrUnknownPose)
	assert.Equal(t, Capturing, l.State())

	assert.ErrorIs(t, ErrEmptyLibrary, posestore.ErrUsage)
	assert.ErrorIs(t, ErrUnknownPose, posestore.ErrUsage)
	assert.NotErrorIs(t, ErrNotOpen, posestore.ErrUsage)
}

// TestRefreshTarget verifies the cached target follows library changes.
//
// Scenario:
//  1. Test "a" at 70
//  2. Library now stores "a" at 40 → refresh swaps pose and threshold
//  3. "a" removed from the library → refresh stops the test
func TestRefreshTarget(t *testing.T) {
	m := &scriptedMatcher{overalls: []float64{50}}
	targets := mapTargets{"a": 70, "b": 10}
	l := newTestLoop(m, targets, nil)

	l.RefreshTarget() // not testing: no-op
	assert.Equal(t, Capturing, l.State())

	require.NoError(t, l.StartTest("a"))
	targets["a"] = 40
	l.RefreshTarget()

	assert.Equal(t, 40.0, l.Stats().ThresholdPct)
	l.Tick(at(0))
	nose, _ := m.lastTarget.Get(landmarks.Nose)
	assert.InDelta(t, 0.40, nose.X, 1e-9, "engine sees the refreshed pose")
	assert.True(t, l.Latest().Matched)

	delete(targets, "a")
	l.RefreshTarget()
	assert.Equal(t, Capturing, l.State())
	assert.Empty(t, l.Target())

	t.Logf("✅ refresh followed the library and stopped on removal")
}

// TestRetargetKeepsLoop verifies that switching targets while Testing
// re-seeds the threshold but keeps the throttle and the previous result.
func TestRetargetKeepsLoop(t *testing.T) {
	m := &scriptedMatcher{overalls: []float64{65, 65.2}}
	l := newTestLoop(m, mapTargets{"a": 70, "b": 60}, nil)

	require.NoError(t, l.StartTest("a"))
	l.Tick(at(0))
	assert.False(t, l.Latest().Matched)

	require.NoError(t, l.StartTest("b"))
	assert.Equal(t, "b", l.Target())
	assert.Equal(t, 60.0, l.Stats().ThresholdPct)
	require.NotNil(t, l.Latest(), "previous result kept across retarget")

	l.Tick(at(50))
	assert.Equal(t, 1, m.Calls(), "throttle not reset by retarget")

	l.Tick(at(250))
	assert.Equal(t, []float64{70, 60}, m.thresholds)
	assert.True(t, l.Latest().Matched, "65.2 at threshold 60 matches and flips")
}

func TestStartFromCapturingResetsThrottle(t *testing.T) {
	m := &scriptedMatcher{overalls: []float64{50}}
	l := newTestLoop(m, mapTargets{"a": 70}, nil)

	require.NoError(t, l.StartTest("a"))
	l.Tick(at(0))
	l.StopTest()

	require.NoError(t, l.StartTest("a"))
	l.Tick(at(10))
	assert.Equal(t, 2, m.Calls())
	assert.Equal(t, uint64(2), l.Stats().Republished, "first result after start always publishes")
}

// TestSlotKeepsLatestOnly verifies the single-slot drop accounting.
func TestSlotKeepsLatestOnly(t *testing.T) {
	m := &scriptedMatcher{}
	l := newTestLoop(m, mapTargets{"a": 70}, nil)
	require.NoError(t, l.StartTest("a"))

	l.Offer(body(0.1))
	l.Offer(body(0.2))
	l.Offer(body(0.3))
	l.Tick(at(0))

	assert.Equal(t, 0.3, m.lastLive.Landmarks[landmarks.LeftWrist].X)

	l.Offer(body(0.4))
	l.Tick(at(250))

	stats := l.Stats()
	assert.Equal(t, uint64(4), stats.FramesOffered)
	assert.Equal(t, uint64(2), stats.SlotDrops)
}

func TestOfferCopiesSnapshot(t *testing.T) {
	m := &scriptedMatcher{}
	l := newTestLoop(m, mapTargets{"a": 70}, nil)
	require.NoError(t, l.StartTest("a"))

	buf := body(0.25)
	l.Offer(buf)
	buf.Landmarks[landmarks.LeftWrist] = landmarks.Landmark{X: 0.99}

	l.Tick(at(0))
	assert.Equal(t, 0.25, m.lastLive.Landmarks[landmarks.LeftWrist].X)
}

func TestNoBodyEvaluatesNil(t *testing.T) {
	m := &scriptedMatcher{}
	l := newTestLoop(m, mapTargets{"a": 70}, nil)
	require.NoError(t, l.StartTest("a"))

	l.Offer(body(0.5))
	l.Offer(nil)
	l.Tick(at(0))

	assert.Nil(t, m.lastLive)
	assert.NotNil(t, m.lastTarget)
}

func TestClearTargetOnlyActive(t *testing.T) {
	m := &scriptedMatcher{}
	l := newTestLoop(m, mapTargets{"a": 70, "b": 50}, nil)
	require.NoError(t, l.StartTest("a"))

	l.ClearTarget("b")
	assert.Equal(t, Testing, l.State())

	l.ClearTarget("a")
	assert.Equal(t, Capturing, l.State())
}

func TestSetThreshold(t *testing.T) {
	m := &scriptedMatcher{overalls: []float64{75}}
	l := newTestLoop(m, mapTargets{"a": 70}, nil)

	l.SetThreshold(10) // not testing: ignored
	require.NoError(t, l.StartTest("a"))
	assert.Equal(t, 70.0, l.Stats().ThresholdPct)

	l.Tick(at(0))
	assert.True(t, l.Latest().Matched)

	l.SetThreshold(180)
	assert.Equal(t, 100.0, l.Stats().ThresholdPct)

	l.Tick(at(250))
	assert.False(t, l.Latest().Matched)
}

func TestSetThresholdForOnlyTouchesActiveTarget(t *testing.T) {
	m := &scriptedMatcher{}
	l := newTestLoop(m, mapTargets{"a": 70, "b": 60}, nil)

	l.SetThresholdFor("a", 20) // not testing: ignored
	require.NoError(t, l.StartTest("b"))

	l.SetThresholdFor("a", 20)
	assert.Equal(t, 60.0, l.Stats().ThresholdPct, "edit of another pose must not leak")

	l.SetThresholdFor("b", 120)
	assert.Equal(t, 100.0, l.Stats().ThresholdPct)
}

// TestRunDriverStopsOnClose verifies the built-in driver evaluates while
// Testing and that Close waits for it to exit.
func TestRunDriverStopsOnClose(t *testing.T) {
	m := &scriptedMatcher{overalls: []float64{10, 90}}
	cfg := Config{EvaluationInterval: time.Millisecond, FrameInterval: time.Millisecond}
	l := NewLoop(cfg, mapTargets{"a": 70}, m, nil)

	assert.ErrorIs(t, l.Run(context.Background()), ErrNotOpen)

	l.Open()
	require.NoError(t, l.StartTest("a"))

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	require.Eventually(t, func() bool { return m.Calls() >= 2 }, time.Second, time.Millisecond)

	require.NoError(t, l.Close())
	calls := m.Calls()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Close")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, m.Calls(), "no engine call after Close")

	t.Logf("✅ driver stopped after %d evaluations", calls)
}

func TestRunDriverStopsOnContext(t *testing.T) {
	l := newTestLoop(&scriptedMatcher{}, mapTargets{"a": 70}, nil)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit on cancel")
	}
}

// TestConcurrentOfferAndTick exercises the lock-free slot under -race.
func TestConcurrentOfferAndTick(t *testing.T) {
	m := &scriptedMatcher{overalls: []float64{50}}
	cfg := Config{EvaluationInterval: time.Nanosecond}
	l := NewLoop(cfg, mapTargets{"a": 70}, m, nil)
	l.Open()
	require.NoError(t, l.StartTest("a"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			l.Offer(body(float64(i) / 1000))
		}
	}()

	for i := 0; i < 200; i++ {
		l.Tick(at(i))
	}
	wg.Wait()

	stats := l.Stats()
	assert.Equal(t, uint64(1000), stats.FramesOffered)
	assert.LessOrEqual(t, stats.SlotDrops, uint64(999))
	require.NoError(t, l.Close())
}

func TestUpdateTuning(t *testing.T) {
	m := &scriptedMatcher{overalls: []float64{80, 80.3}}
	l := newTestLoop(m, mapTargets{"a": 70}, nil)
	require.NoError(t, l.StartTest("a"))

	l.UpdateTuning(Config{EvaluationInterval: 50 * time.Millisecond, RepublishDelta: 0.25})
	assert.Equal(t, DefaultFrameInterval, l.Config().FrameInterval)

	l.Tick(at(0))
	l.Tick(at(60))

	assert.Equal(t, 2, m.Calls())
	assert.Equal(t, uint64(2), l.Stats().Republished, "Δ0.3 ≥ 0.25 republishes")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "capturing", Capturing.String())
	assert.Equal(t, "testing", Testing.String())
	assert.Equal(t, "unknown", State(9).String())
}
