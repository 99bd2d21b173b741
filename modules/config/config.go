// Package config loads the posematch daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-posematch/modules/matchloop"
	"github.com/e7canasta/orion-posematch/modules/posestore"
	"github.com/e7canasta/orion-posematch/modules/session"
	"github.com/e7canasta/orion-posematch/modules/similarity"
)

// Config represents the complete daemon configuration
type Config struct {
	InstanceID       string           `yaml:"instance_id" validate:"required,instance_id"`
	LevelID          string           `yaml:"level_id" validate:"required,excludes=/"`
	ShutdownTimeoutS int              `yaml:"shutdown_timeout_s" validate:"gte=0"` // default: 5
	Similarity       SimilarityConfig `yaml:"similarity"`
	Loop             LoopConfig       `yaml:"loop"`
	Capture          CaptureConfig    `yaml:"capture"`
	Source           SourceConfig     `yaml:"source"`
	Storage          StorageConfig    `yaml:"storage"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
	HTTP             HTTPConfig       `yaml:"http"`
}

// SimilarityConfig tunes the scoring.
type SimilarityConfig struct {
	Sensitivity float64 `yaml:"sensitivity" validate:"gt=0"` // k in (1 - d*k)
}

// LoopConfig tunes the live match loop.
type LoopConfig struct {
	EvaluationIntervalMS int     `yaml:"evaluation_interval_ms" validate:"gt=0"`
	RepublishDelta       float64 `yaml:"republish_delta" validate:"gt=0"`
	FrameIntervalMS      int     `yaml:"frame_interval_ms" validate:"gt=0"`
}

// CaptureConfig contains pose capture defaults.
type CaptureConfig struct {
	DefaultTolerancePct float64 `yaml:"default_tolerance_pct" validate:"gte=0,lte=100"`
}

// SourceConfig selects where live poses come from.
type SourceConfig struct {
	Type        string   `yaml:"type" validate:"oneof=process replay none"`
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	Env         []string `yaml:"env"`
	ReplayPath  string   `yaml:"replay_path"`
	ReplayFPS   float64  `yaml:"replay_fps" validate:"gte=0"`
	Loop        bool     `yaml:"loop"`
	MaxRestarts int      `yaml:"max_restarts" validate:"gte=0"` // consecutive estimator restarts before giving up
}

// StorageConfig contains level persistence settings.
type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled bool            `yaml:"enabled"`
	Broker  string          `yaml:"broker"`
	Topics  MQTTTopics      `yaml:"topics"`
	QoS     map[string]byte `yaml:"qos" validate:"dive,lte=2"`
}

// MQTTTopics contains topic names.
type MQTTTopics struct {
	Control string `yaml:"control"`
	Results string `yaml:"results"`
}

// HTTPConfig contains the HTTP listener settings.
type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Default returns the reference configuration.
func Default() *Config {
	loop := matchloop.DefaultConfig()
	return &Config{
		InstanceID:       "posematch",
		LevelID:          "default",
		ShutdownTimeoutS: 5,
		Similarity:       SimilarityConfig{Sensitivity: similarity.DefaultSensitivity},
		Loop: LoopConfig{
			EvaluationIntervalMS: int(loop.EvaluationInterval / time.Millisecond),
			RepublishDelta:       loop.RepublishDelta,
			FrameIntervalMS:      int(loop.FrameInterval / time.Millisecond),
		},
		Capture: CaptureConfig{DefaultTolerancePct: posestore.DefaultTolerancePct},
		Source:  SourceConfig{Type: "none", ReplayFPS: 30, MaxRestarts: 5},
		Storage: StorageConfig{Path: "data/levels"},
		MQTT: MQTTConfig{
			Broker: "localhost:1883",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse overlays data on Default, fills derived values and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDerived(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyDerived(cfg *Config) {
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("care/posematch/%s/control", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Results == "" {
		cfg.MQTT.Topics.Results = fmt.Sprintf("care/posematch/%s/results", cfg.InstanceID)
	}
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control": 1,
			"results": 0,
		}
	}
}

// ShutdownTimeout returns how long graceful shutdown may take.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// SimilarityTuning converts to the engine configuration.
func (c *Config) SimilarityTuning() similarity.Config {
	return similarity.Config{Sensitivity: c.Similarity.Sensitivity}
}

// LoopTuning converts to the match loop configuration.
func (c *Config) LoopTuning() matchloop.Config {
	return matchloop.Config{
		EvaluationInterval: time.Duration(c.Loop.EvaluationIntervalMS) * time.Millisecond,
		RepublishDelta:     c.Loop.RepublishDelta,
		FrameInterval:      time.Duration(c.Loop.FrameIntervalMS) * time.Millisecond,
	}
}

// Session builds the session configuration.
func (c *Config) Session() session.Config {
	return session.Config{
		LevelID:             c.LevelID,
		DefaultTolerancePct: c.Capture.DefaultTolerancePct,
		Similarity:          c.SimilarityTuning(),
		Loop:                c.LoopTuning(),
	}
}

// QoSFor returns the configured QoS for a topic kind, 0 when unset.
func (c *Config) QoSFor(kind string) byte {
	return c.MQTT.QoS[kind]
}
