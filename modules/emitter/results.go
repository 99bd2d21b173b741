package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-posematch/modules/resultbus"
	"github.com/e7canasta/orion-posematch/modules/similarity"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Config configures a ResultEmitter.
type Config struct {
	Topic      string
	QoS        byte
	InstanceID string
	LevelID    string
}

// Payload is the JSON document published per republished result.
type Payload struct {
	InstanceID  string    `json:"instanceId"`
	LevelID     string    `json:"levelId"`
	PoseID      string    `json:"poseId"`
	Seq         uint64    `json:"seq"`
	PublishedAt time.Time `json:"publishedAt"`

	similarity.Result
}

// Stats contains emitter statistics.
type Stats struct {
	Published uint64
	Errors    uint64
	LastSeq   uint64
}

// ResultEmitter forwards result bus messages to a Publisher.
type ResultEmitter struct {
	pub Publisher
	cfg Config

	mu    sync.Mutex
	stats Stats
}

// NewResultEmitter creates an emitter publishing to cfg.Topic.
func NewResultEmitter(pub Publisher, cfg Config) *ResultEmitter {
	return &ResultEmitter{pub: pub, cfg: cfg}
}

// Emit publishes one message.
func (e *ResultEmitter) Emit(msg resultbus.Message) error {
	payload, err := json.Marshal(Payload{
		InstanceID:  e.cfg.InstanceID,
		LevelID:     e.cfg.LevelID,
		PoseID:      msg.PoseID,
		Seq:         msg.Seq,
		PublishedAt: msg.PublishedAt,
		Result:      msg.Result,
	})
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: marshal result: %w", err)
	}

	if err := e.pub.Publish(e.cfg.Topic, e.cfg.QoS, payload); err != nil {
		e.countError()
		return err
	}

	e.mu.Lock()
	e.stats.Published++
	e.stats.LastSeq = msg.Seq
	e.mu.Unlock()

	slog.Debug("result published",
		"topic", e.cfg.Topic,
		"pose_id", msg.PoseID,
		"seq", msg.Seq,
		"overall", msg.Result.Overall,
		"size", len(payload),
	)
	return nil
}

// Run publishes every message from recv until ctx is done or recv closes.
// Publish failures are logged and counted; the next result is still sent.
func (e *ResultEmitter) Run(ctx context.Context, recv resultbus.Receiver) error {
	stop := context.AfterFunc(ctx, recv.Close)
	defer stop()

	slog.Info("result emitter started", "topic", e.cfg.Topic, "qos", e.cfg.QoS)

	for {
		msg, ok := recv.Receive()
		if !ok {
			slog.Info("result emitter stopped", "published", e.Stats().Published)
			return ctx.Err()
		}
		if err := e.Emit(msg); err != nil {
			slog.Warn("result publish failed", "seq", msg.Seq, "error", err)
		}
	}
}

// Stats returns emitter statistics.
func (e *ResultEmitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *ResultEmitter) countError() {
	e.mu.Lock()
	e.stats.Errors++
	e.mu.Unlock()
}
