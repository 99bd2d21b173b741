// Package control is the MQTT control plane of a pose-matching session.
//
// Commands arrive as JSON on the control topic:
//
//	{"command": "start_test", "params": {"pose_id": "..."}}
//
// and every command is answered on <control>/response:
//
//	{"command_ack": "start_test", "status": "success", "data": {...}, "timestamp": "..."}
//
// Usage errors (no body in view, unknown pose, empty library) are reported in
// the response and never retried.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-posematch/modules/matchloop"
	"github.com/e7canasta/orion-posematch/modules/posestore"
	"github.com/e7canasta/orion-posematch/modules/session"
)

// Command represents a control plane command.
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response represents a command response.
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Transport is the message broker seen by the handler.
type Transport interface {
	Subscribe(topic string, qos byte, handler func(payload []byte)) error
	Unsubscribe(topic string) error
	Publish(topic string, qos byte, payload []byte) error
}

// Target is the session the commands act on.
type Target interface {
	Capture(tolerancePct *float64) (string, error)
	Remove(poseID string) error
	UpdateTolerance(poseID string, pct float64) error
	StartTest(poseID string) error
	StopTest()
	Status() session.Status
	Poses() []session.PoseInfo
}

var _ Target = (*session.Session)(nil)

// Config configures the handler.
type Config struct {
	Topic     string
	QoS       byte
	QueueSize int
}

// ResponseTopic returns the topic responses are published on.
func (c Config) ResponseTopic() string {
	return c.Topic + "/response"
}

// Handler handles control plane commands.
type Handler struct {
	cfg       Config
	transport Transport
	target    Target
	now       func() time.Time

	commands chan Command
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewHandler creates a new control plane handler.
func NewHandler(cfg Config, transport Transport, target Target) *Handler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10
	}
	return &Handler{
		cfg:       cfg,
		transport: transport,
		target:    target,
		now:       time.Now,
		commands:  make(chan Command, cfg.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the control topic and processes commands until ctx is
// done or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("subscribing to control plane", "topic", h.cfg.Topic, "qos", h.cfg.QoS)

	if err := h.transport.Subscribe(h.cfg.Topic, h.cfg.QoS, h.messageHandler); err != nil {
		return fmt.Errorf("control: subscribe: %w", err)
	}

	go h.processCommands(ctx)

	slog.Info("control plane handler started")
	return nil
}

// Stop unsubscribes and waits for the command in flight. Idempotent.
func (h *Handler) Stop() error {
	var err error
	h.once.Do(func() {
		err = h.transport.Unsubscribe(h.cfg.Topic)
		close(h.stop)
		<-h.done
		slog.Info("control plane handler stopped")
	})
	return err
}

func (h *Handler) messageHandler(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
		h.sendResponse(Response{
			CommandAck: cmd.Command,
			Status:     "error",
			Error:      "command queue full",
		})
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case cmd := <-h.commands:
			h.sendResponse(h.Handle(cmd))
		}
	}
}

// Handle executes cmd and returns its response.
func (h *Handler) Handle(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: "success"}

	fail := func(err error) Response {
		resp.Status = "error"
		resp.Error = err.Error()
		resp.Data = nil
		return resp
	}

	switch cmd.Command {
	case "get_status":
		resp.Data = map[string]any{"status": h.target.Status()}

	case "list_poses":
		resp.Data = map[string]any{"poses": h.target.Poses()}

	case "capture":
		var tol *float64
		if v, ok := cmd.Params["tolerance_pct"]; ok {
			f, ok := v.(float64)
			if !ok {
				return fail(errors.New("invalid 'tolerance_pct' parameter (expected number)"))
			}
			tol = &f
		}
		id, err := h.target.Capture(tol)
		if err != nil {
			return fail(describe(err))
		}
		resp.Data = map[string]any{"pose_id": id}

	case "remove_pose":
		id, err := poseID(cmd)
		if err != nil {
			return fail(err)
		}
		if err := h.target.Remove(id); err != nil {
			return fail(err)
		}
		resp.Data = map[string]any{"pose_id": id, "removed": true}

	case "set_tolerance":
		id, err := poseID(cmd)
		if err != nil {
			return fail(err)
		}
		pct, ok := cmd.Params["tolerance_pct"].(float64)
		if !ok {
			return fail(errors.New("missing or invalid 'tolerance_pct' parameter (expected number)"))
		}
		if err := h.target.UpdateTolerance(id, pct); err != nil {
			return fail(err)
		}
		resp.Data = map[string]any{"pose_id": id, "tolerance_pct": pct}

	case "start_test":
		id, err := poseID(cmd)
		if err != nil {
			return fail(err)
		}
		if err := h.target.StartTest(id); err != nil {
			return fail(describe(err))
		}
		resp.Data = map[string]any{"pose_id": id, "testing": true}

	case "stop_test":
		h.target.StopTest()
		resp.Data = map[string]any{"testing": false}

	default:
		return fail(fmt.Errorf("unknown command: %s", cmd.Command))
	}

	return resp
}

func poseID(cmd Command) (string, error) {
	id, ok := cmd.Params["pose_id"].(string)
	if !ok || id == "" {
		return "", errors.New("missing or invalid 'pose_id' parameter (expected string)")
	}
	return id, nil
}

// describe turns usage errors into operator-facing messages.
func describe(err error) error {
	switch {
	case errors.Is(err, matchloop.ErrEmptyLibrary):
		return fmt.Errorf("no poses captured yet: %w", err)
	case errors.Is(err, matchloop.ErrUnknownPose):
		return fmt.Errorf("unknown pose: %w", err)
	case errors.Is(err, posestore.ErrUsage):
		return fmt.Errorf("no body in view: %w", err)
	default:
		return err
	}
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = h.now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	if err := h.transport.Publish(h.cfg.ResponseTopic(), h.cfg.QoS, payload); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
