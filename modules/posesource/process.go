package posesource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
)

const defaultStopTimeout = 2 * time.Second

// ProcessConfig configures an external estimator process.
type ProcessConfig struct {
	ID          string
	Command     string
	Args        []string
	Env         []string
	StopTimeout time.Duration
}

// ProcessSource runs the estimator as a subprocess and reads length-prefixed
// msgpack frames from its stdout. stderr lines are logged with their level
// mapped to slog.
type ProcessSource struct {
	cfg ProcessConfig

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  atomic.Bool
	deliver DeliverFunc

	delivered    atomic.Uint64
	noBody       atomic.Uint64
	decodeErrors atomic.Uint64
	lastFrameAt  atomic.Value // time.Time
	rate         *RateTracker
	exited       chan struct{}
}

// NewProcessSource validates cfg and returns an unstarted source.
func NewProcessSource(cfg ProcessConfig) (*ProcessSource, error) {
	if cfg.Command == "" {
		return nil, errors.New("posesource: command is required")
	}
	if cfg.ID == "" {
		cfg.ID = "pose-estimator"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &ProcessSource{cfg: cfg, rate: NewRateTracker(0)}, nil
}

// Start spawns the estimator and begins delivering snapshots.
func (p *ProcessSource) Start(ctx context.Context, deliver DeliverFunc) error {
	if deliver == nil {
		return ErrNilDeliver
	}
	if !p.active.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.deliver = deliver
	p.exited = make(chan struct{})

	if err := p.spawn(); err != nil {
		p.cancel()
		p.active.Store(false)
		return fmt.Errorf("posesource: spawn %s: %w", p.cfg.Command, err)
	}
	return nil
}

func (p *ProcessSource) spawn() error {
	p.cmd = exec.CommandContext(p.ctx, p.cfg.Command, p.cfg.Args...)
	// Interrupt first; Stop escalates to Kill after StopTimeout.
	p.cmd.Cancel = func() error { return p.cmd.Process.Signal(os.Interrupt) }
	if len(p.cfg.Env) > 0 {
		p.cmd.Env = append(p.cmd.Environ(), p.cfg.Env...)
	}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	p.stdout, p.stderr = stdout, stderr

	if err := p.cmd.Start(); err != nil {
		return err
	}

	slog.Info("pose estimator spawned",
		"source_id", p.cfg.ID,
		"command", p.cfg.Command,
		"pid", p.cmd.Process.Pid,
	)

	p.wg.Add(2)
	go p.readFrames()
	go p.logStderr()

	go p.waitProcess()

	return nil
}

// readFrames decodes estimator output until EOF or a framing error.
func (p *ProcessSource) readFrames() {
	defer p.wg.Done()

	r := bufio.NewReader(p.stdout)
	for {
		msg, err := ReadFrame(r)
		if err != nil {
			var derr *decodeError
			switch {
			case errors.As(err, &derr):
				p.decodeErrors.Add(1)
				slog.Warn("undecodable estimator frame",
					"source_id", p.cfg.ID,
					"error", err,
				)
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), p.ctx.Err() != nil:
				slog.Debug("pose estimator stdout closed", "source_id", p.cfg.ID)
			default:
				slog.Error("failed to read estimator frame",
					"source_id", p.cfg.ID,
					"error", err,
				)
			}
			return
		}

		snap, err := msg.Snapshot()
		if err != nil {
			p.decodeErrors.Add(1)
			slog.Warn("invalid estimator frame", "source_id", p.cfg.ID, "error", err)
			continue
		}

		if p.ctx.Err() != nil {
			return
		}
		p.emit(snap)
	}
}

func (p *ProcessSource) emit(snap *landmarks.Snapshot) {
	now := time.Now()
	p.rate.Mark(now)
	p.lastFrameAt.Store(now)
	if snap == nil {
		p.noBody.Add(1)
	} else {
		p.delivered.Add(1)
	}
	p.deliver(snap)
}

// logStderr maps "[LEVEL]" tags in estimator stderr to slog levels.
func (p *ProcessSource) logStderr() {
	defer p.wg.Done()

	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch stderrLevel(line) {
		case slog.LevelError:
			slog.Error("pose estimator error", "source_id", p.cfg.ID, "log", line)
		case slog.LevelWarn:
			slog.Warn("pose estimator warning", "source_id", p.cfg.ID, "log", line)
		default:
			slog.Debug("pose estimator log", "source_id", p.cfg.ID, "log", line)
		}
	}
}

func stderrLevel(line string) slog.Level {
	switch {
	case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
		return slog.LevelError
	case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// waitProcess reaps the estimator so it never lingers as a zombie.
func (p *ProcessSource) waitProcess() {
	defer close(p.exited)

	// Pipes must be drained before Wait closes them.
	p.wg.Wait()
	err := p.cmd.Wait()

	switch {
	case p.ctx.Err() != nil:
		slog.Debug("pose estimator exited (shutdown)", "source_id", p.cfg.ID)
	case err != nil:
		slog.Error("pose estimator exited unexpectedly",
			"source_id", p.cfg.ID,
			"error", err,
		)
	default:
		slog.Info("pose estimator exited", "source_id", p.cfg.ID)
	}
}

// Stop terminates the estimator, force-killing it after StopTimeout.
func (p *ProcessSource) Stop() error {
	if !p.active.CompareAndSwap(true, false) {
		return nil
	}

	slog.Info("stopping pose estimator", "source_id", p.cfg.ID)
	p.cancel()

	select {
	case <-p.exited:
	case <-time.After(p.cfg.StopTimeout):
		slog.Warn("pose estimator stop timeout, force killing", "source_id", p.cfg.ID)
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil {
				slog.Error("failed to kill pose estimator", "source_id", p.cfg.ID, "error", err)
			}
		}
		<-p.exited
	}

	slog.Info("pose estimator stopped",
		"source_id", p.cfg.ID,
		"delivered", p.delivered.Load(),
		"no_body", p.noBody.Load(),
	)
	return nil
}

// Exited is closed once the estimator process has been reaped.
func (p *ProcessSource) Exited() <-chan struct{} {
	return p.exited
}

// Stats returns delivery counters.
func (p *ProcessSource) Stats() Stats {
	var last time.Time
	if v := p.lastFrameAt.Load(); v != nil {
		last = v.(time.Time)
	}
	return Stats{
		Delivered:    p.delivered.Load(),
		NoBody:       p.noBody.Load(),
		DecodeErrors: p.decodeErrors.Load(),
		LastFrameAt:  last,
		Rate:         p.rate.Stats(),
	}
}
