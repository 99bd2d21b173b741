package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultsAndDerived(t *testing.T) {
	cfg, err := Parse([]byte("instance_id: edge-1\n"))
	require.NoError(t, err)

	assert.Equal(t, "edge-1", cfg.InstanceID)
	assert.Equal(t, "default", cfg.LevelID)
	assert.Equal(t, 2.0, cfg.Similarity.Sensitivity)
	assert.Equal(t, 200, cfg.Loop.EvaluationIntervalMS)
	assert.Equal(t, 0.5, cfg.Loop.RepublishDelta)
	assert.Equal(t, 70.0, cfg.Capture.DefaultTolerancePct)
	assert.Equal(t, "care/posematch/edge-1/control", cfg.MQTT.Topics.Control)
	assert.Equal(t, "care/posematch/edge-1/results", cfg.MQTT.Topics.Results)
	assert.Equal(t, byte(1), cfg.QoSFor("control"))
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 5, cfg.Source.MaxRestarts)

	loop := cfg.LoopTuning()
	assert.Equal(t, 200*time.Millisecond, loop.EvaluationInterval)
	assert.Equal(t, 16*time.Millisecond, loop.FrameInterval)

	sc := cfg.Session()
	assert.Equal(t, "default", sc.LevelID)
	assert.Equal(t, 70.0, sc.DefaultTolerancePct)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
instance_id: studio
level_id: warrior-1
similarity:
  sensitivity: 3
loop:
  evaluation_interval_ms: 100
  republish_delta: 1.5
source:
  type: process
  command: python3
  args: ["pose_worker.py", "--camera", "0"]
mqtt:
  enabled: true
  broker: mqtt.local:1883
  topics:
    results: custom/results
`))
	require.NoError(t, err)

	assert.Equal(t, "warrior-1", cfg.LevelID)
	assert.Equal(t, 3.0, cfg.SimilarityTuning().Sensitivity)
	assert.Equal(t, 1.5, cfg.LoopTuning().RepublishDelta)
	assert.Equal(t, []string{"pose_worker.py", "--camera", "0"}, cfg.Source.Args)
	assert.Equal(t, "custom/results", cfg.MQTT.Topics.Results)
	assert.Equal(t, "care/posematch/studio/control", cfg.MQTT.Topics.Control)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad instance id", "instance_id: Edge_1", "instance_id must match pattern"},
		{"empty level", "level_id: ''", "level_id is required"},
		{"slash in level", "level_id: a/b", "level_id"},
		{"zero sensitivity", "similarity: {sensitivity: 0}", "similarity.sensitivity"},
		{"tolerance above 100", "capture: {default_tolerance_pct: 120}", "capture.default_tolerance_pct"},
		{"unknown source", "source: {type: camera}", "source.type must be one of"},
		{"process without command", "source: {type: process}", "source.command is required"},
		{"negative restarts", "source: {max_restarts: -1}", "source.max_restarts"},
		{"replay without path", "source: {type: replay}", "source.replay_path is required"},
		{"no storage path", "storage: {path: ''}", "storage.path is required"},
		{"mqtt without broker", "mqtt: {enabled: true, broker: ''}", "mqtt.broker is required"},
		{"bad qos", "mqtt: {qos: {results: 3}}", "qos"},
		{"frame slower than evaluation", "loop: {frame_interval_ms: 500}", "must not exceed"},
		{"malformed yaml", "loop: [", "failed to parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_InMemoryStorageNeedsNoPath(t *testing.T) {
	_, err := Parse([]byte("storage: {path: '', in_memory: true}"))
	require.NoError(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

// TestWatch_ReloadsValidChanges verifies hot reload of tuning.
//
// Scenario:
//  1. Start watching a config file
//  2. Write an invalid file: rejected, no callback
//  3. Write a valid file with new sensitivity: callback receives it
func TestWatch_ReloadsValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "posematch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instance_id: edge-1\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { got <- c })
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("similarity: {sensitivity: -1}\n"), 0o600))
	select {
	case c := <-got:
		t.Fatalf("invalid config delivered: %+v", c.Similarity)
	case <-time.After(3 * DebounceWindow):
	}

	require.NoError(t, os.WriteFile(path, []byte("instance_id: edge-1\nsimilarity: {sensitivity: 4}\n"), 0o600))
	select {
	case c := <-got:
		assert.Equal(t, 4.0, c.Similarity.Sensitivity)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after valid write")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	t.Logf("✅ hot reload applied sensitivity=4")
}
