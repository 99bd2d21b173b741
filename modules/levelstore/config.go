// Package levelstore persists level pose libraries in an embedded BadgerDB.
//
// Each level owns two keyspaces that mirror the host level record:
//
//	level/<levelID>/pose/<poseID>       → serialized pose blob (JSON)
//	level/<levelID>/tolerance/<poseID>  → tolerance percent (float64, big-endian bits)
//
// A *Level implements posestore.Level, so a session writes through to disk
// on every capture, tolerance edit and removal.
package levelstore

import (
	"fmt"
	"log/slog"
	"time"
)

// Config holds configuration for the store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. nil disables them.
	Logger *slog.Logger

	// GCInterval is how often to run value log GC. 0 disables.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio before GC rewrites.
	GCDiscardRatio float64
}

// DefaultConfig returns durable settings for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests and ephemeral sessions.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
