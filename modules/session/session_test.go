package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
	"github.com/e7canasta/orion-posematch/modules/matchloop"
	"github.com/e7canasta/orion-posematch/modules/posestore"
	"github.com/e7canasta/orion-posematch/modules/resultbus"
	"github.com/e7canasta/orion-posematch/modules/similarity"
)

func arm(elbowX, elbowY float64) *landmarks.Snapshot {
	s := landmarks.NewSnapshot(time.Now())
	s.Landmarks[landmarks.RightShoulder] = landmarks.Landmark{X: 0.40, Y: 0.30, Visibility: 1}
	s.Landmarks[landmarks.RightElbow] = landmarks.Landmark{X: elbowX, Y: elbowY, Visibility: 1}
	return s
}

var base = time.Unix(1_700_000_000, 0)

func tick(s *Session, ms int) {
	s.Tick(base.Add(time.Duration(ms) * time.Millisecond))
}

func newSession(t *testing.T) (*Session, *posestore.MemoryLevel) {
	t.Helper()
	level := posestore.NewMemoryLevel()
	s := New(DefaultConfig("level-1"), level)
	t.Cleanup(func() { s.Destroy() })
	return s, level
}

// TestSessionCaptureAndTest walks the authoring flow.
//
// Scenario:
//  1. Capture without a body in view → usage error
//  2. Body appears, capture at 70
//  3. Start test, the shifted pose scores ≈97.2 and matches
//  4. Raise tolerance of the active target to 99 → next evaluation flips
func TestSessionCaptureAndTest(t *testing.T) {
	s, level := newSession(t)

	_, err := s.Capture(nil)
	require.ErrorIs(t, err, posestore.ErrUsage)

	s.OnPose(arm(0.45, 0.50))
	id, err := s.Capture(nil)
	require.NoError(t, err)
	assert.Equal(t, 70.0, level.Tolerances()[id])

	rx, err := s.SubscribeLatest("overlay")
	require.NoError(t, err)

	require.NoError(t, s.StartTest(id))
	s.OnPose(arm(0.47, 0.52))
	tick(s, 0)

	msg, ok := rx.TryReceive()
	require.True(t, ok)
	assert.InDelta(t, 97.2, msg.Result.Overall, 0.05)
	assert.True(t, msg.Result.Matched)

	require.NoError(t, s.UpdateTolerance(id, 99))
	assert.Equal(t, 99.0, s.Status().ThresholdPct)

	tick(s, 300)
	require.NotNil(t, s.Latest())
	assert.False(t, s.Latest().Matched)
	assert.Equal(t, 99.0, s.Latest().ThresholdPct)

	t.Logf("✅ status=%+v", s.Status())
}

func TestSessionCaptureWithTolerance(t *testing.T) {
	s, _ := newSession(t)
	s.OnPose(arm(0.45, 0.50))

	pct := 42.0
	id, err := s.Capture(&pct)
	require.NoError(t, err)

	poses := s.Poses()
	require.Len(t, poses, 1)
	assert.Equal(t, id, poses[0].ID)
	assert.Equal(t, 42.0, poses[0].TolerancePct)
	assert.Equal(t, 2, poses[0].Landmarks)
}

func TestSessionRemoveClearsActiveTarget(t *testing.T) {
	s, level := newSession(t)
	s.OnPose(arm(0.45, 0.50))

	id, err := s.Capture(nil)
	require.NoError(t, err)
	require.NoError(t, s.StartTest(id))
	assert.Equal(t, "testing", s.Status().State)

	require.NoError(t, s.Remove(id))
	assert.Equal(t, "capturing", s.Status().State)
	assert.Empty(t, s.Status().TargetPoseID)
	assert.Empty(t, level.Blobs())

	require.NoError(t, s.UpdateTolerance(id, 10), "update after remove is a no-op")
	assert.ErrorIs(t, s.StartTest(id), matchloop.ErrEmptyLibrary)
}

func TestSessionHydrateDropsMissingTarget(t *testing.T) {
	s, _ := newSession(t)
	s.OnPose(arm(0.45, 0.50))

	id, err := s.Capture(nil)
	require.NoError(t, err)
	require.NoError(t, s.StartTest(id))

	report, err := s.Hydrate(
		map[string][]byte{"legacy": []byte(`{"RIGHT_ELBOW": {"x": 0.45, "y": 0.5, "z": 0, "visibility": 1}}`)},
		map[string]float64{"legacy": 55},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, "capturing", s.Status().State)

	require.NoError(t, s.StartTest("legacy"))
	assert.Equal(t, 55.0, s.Status().ThresholdPct)
}

// TestSessionDestroyStopsEngine verifies that no evaluation happens after
// Destroy and that operations report ErrDestroyed.
func TestSessionDestroyStopsEngine(t *testing.T) {
	s, _ := newSession(t)
	s.OnPose(arm(0.45, 0.50))
	id, err := s.Capture(nil)
	require.NoError(t, err)
	require.NoError(t, s.StartTest(id))

	ch := make(chan resultbus.Message, 8)
	require.NoError(t, s.Subscribe("mqtt", ch))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(ch) > 0 }, time.Second, time.Millisecond)

	require.NoError(t, s.Destroy())
	require.NoError(t, s.Destroy())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Destroy")
	}

	evaluations := s.Status().Evaluations
	tick(s, 10_000)
	assert.Equal(t, evaluations, s.Status().Evaluations)

	_, err = s.Capture(nil)
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, s.StartTest(id), ErrDestroyed)
	assert.ErrorIs(t, s.Run(ctx), ErrDestroyed)
}

func TestSessionRetuneSensitivity(t *testing.T) {
	s, _ := newSession(t)
	s.OnPose(arm(0.45, 0.50))
	id, err := s.Capture(nil)
	require.NoError(t, err)
	require.NoError(t, s.StartTest(id))

	s.OnPose(arm(0.47, 0.52))
	tick(s, 0)
	strict := s.Latest().Overall

	s.Retune(similarity.Config{Sensitivity: 1}, matchloop.DefaultConfig())
	assert.Equal(t, 1.0, s.Status().Sensitivity)

	tick(s, 300)
	assert.Greater(t, s.Latest().Overall, strict)
}

func TestSessionStatusDropRates(t *testing.T) {
	s, _ := newSession(t)

	_, err := s.SubscribeLatest("ws-1")
	require.NoError(t, err)

	st := s.Status()
	assert.Equal(t, "level-1", st.LevelID)
	assert.False(t, st.BodyInView)
	assert.Contains(t, st.Subscribers, "ws-1")

	require.NoError(t, s.Unsubscribe("ws-1"))
	assert.Empty(t, s.Status().Subscribers)
}

// TestSessionHydrateRefreshesActiveTarget verifies that rehydrating the
// active pose id with new coordinates changes what the live pose is scored
// against.
//
// Scenario:
//  1. Capture the arm with the elbow at (0.45, 0.50), start testing it
//  2. Hydrate the same id with the elbow moved to (0.95, 0.95)
//  3. The unchanged live arm now matches only the shoulder → overall 50
func TestSessionHydrateRefreshesActiveTarget(t *testing.T) {
	s, _ := newSession(t)
	s.OnPose(arm(0.45, 0.50))

	id, err := s.Capture(nil)
	require.NoError(t, err)
	require.NoError(t, s.StartTest(id))

	moved := `{"RIGHT_SHOULDER": {"x": 0.40, "y": 0.30, "z": 0, "visibility": 1},
		"RIGHT_ELBOW": {"x": 0.95, "y": 0.95, "z": 0, "visibility": 1}}`
	_, err = s.Hydrate(map[string][]byte{id: []byte(moved)}, map[string]float64{id: 65})
	require.NoError(t, err)

	st := s.Status()
	assert.Equal(t, "testing", st.State)
	assert.Equal(t, id, st.TargetPoseID)
	assert.Equal(t, 65.0, st.ThresholdPct)

	tick(s, 0)
	require.NotNil(t, s.Latest())
	assert.InDelta(t, 50.0, s.Latest().Overall, 0.01)
	assert.False(t, s.Latest().Matched)

	t.Logf("✅ overall=%.1f against the rehydrated target", s.Latest().Overall)
}

// TestSessionStartTestNeedsBodyInView verifies that starting a test with no
// body in view is a usage error, reported after library checks.
func TestSessionStartTestNeedsBodyInView(t *testing.T) {
	s, _ := newSession(t)
	s.OnPose(arm(0.45, 0.50))
	id, err := s.Capture(nil)
	require.NoError(t, err)

	s.OnPose(nil)
	err = s.StartTest(id)
	require.ErrorIs(t, err, posestore.ErrUsage)
	assert.Equal(t, "capturing", s.Status().State)

	err = s.StartTest("missing")
	assert.ErrorIs(t, err, matchloop.ErrUnknownPose)
	assert.ErrorIs(t, err, posestore.ErrUsage)

	s.OnPose(arm(0.45, 0.50))
	require.NoError(t, s.StartTest(id))
}

func TestSessionZeroDefaultTolerance(t *testing.T) {
	cfg := DefaultConfig("level-1")
	cfg.DefaultTolerancePct = 0

	level := posestore.NewMemoryLevel()
	s := New(cfg, level)
	t.Cleanup(func() { s.Destroy() })

	s.OnPose(arm(0.45, 0.50))
	id, err := s.Capture(nil)
	require.NoError(t, err)

	assert.Equal(t, 0.0, level.Tolerances()[id])
}

func TestSessionToleranceEditOfOtherPoseKeepsThreshold(t *testing.T) {
	s, _ := newSession(t)
	s.OnPose(arm(0.45, 0.50))

	other, err := s.Capture(nil)
	require.NoError(t, err)
	pct := 80.0
	active, err := s.Capture(&pct)
	require.NoError(t, err)

	require.NoError(t, s.StartTest(active))
	require.NoError(t, s.UpdateTolerance(other, 10))
	assert.Equal(t, 80.0, s.Status().ThresholdPct)

	require.NoError(t, s.UpdateTolerance(active, 55))
	assert.Equal(t, 55.0, s.Status().ThresholdPct)
}
