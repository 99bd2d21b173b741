package posesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RestartConfig contains the exponential backoff for estimator restarts.
type RestartConfig struct {
	MaxRetries    int           // consecutive failed runs before giving up (default: 5)
	RetryDelay    time.Duration // initial delay (default: 1s)
	MaxRetryDelay time.Duration // delay cap (default: 30s)
	StableAfter   time.Duration // a run this long resets the retry count (default: 10s)
}

// DefaultRestartConfig returns the default restart policy.
func DefaultRestartConfig() RestartConfig {
	return RestartConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
		StableAfter:   10 * time.Second,
	}
}

func (c RestartConfig) withDefaults() RestartConfig {
	d := DefaultRestartConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	if c.StableAfter <= 0 {
		c.StableAfter = d.StableAfter
	}
	return c
}

// backoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func backoff(attempt int, cfg RestartConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

// ErrRestartsExhausted is reported by Err when the estimator kept failing.
var ErrRestartsExhausted = errors.New("posesource: estimator restarts exhausted")

// SupervisedSource runs a ProcessSource and restarts it with exponential
// backoff whenever the estimator exits on its own.
type SupervisedSource struct {
	cfg  ProcessConfig
	rcfg RestartConfig

	mu      sync.Mutex
	active  bool
	cancel  context.CancelFunc
	done    chan struct{}
	current *ProcessSource
	carried Stats // totals of finished runs

	restarts atomic.Uint32
	failed   chan struct{}
	err      error
}

// NewSupervisedSource validates cfg and returns an unstarted source.
func NewSupervisedSource(cfg ProcessConfig, rcfg RestartConfig) (*SupervisedSource, error) {
	if cfg.Command == "" {
		return nil, errors.New("posesource: command is required")
	}
	return &SupervisedSource{
		cfg:    cfg,
		rcfg:   rcfg.withDefaults(),
		failed: make(chan struct{}),
	}, nil
}

// Start launches the estimator and its supervisor.
func (s *SupervisedSource) Start(ctx context.Context, deliver DeliverFunc) error {
	if deliver == nil {
		return ErrNilDeliver
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrAlreadyStarted
	}
	s.active = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.supervise(ctx, deliver)
	return nil
}

func (s *SupervisedSource) supervise(ctx context.Context, deliver DeliverFunc) {
	defer close(s.done)

	retries := 0
	for {
		started := time.Now()
		err := s.runOnce(ctx, deliver)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) >= s.rcfg.StableAfter {
			retries = 0
		}
		retries++

		if retries > s.rcfg.MaxRetries {
			s.mu.Lock()
			s.err = fmt.Errorf("%w after %d attempts: %v", ErrRestartsExhausted, retries, err)
			s.mu.Unlock()
			close(s.failed)
			slog.Error("pose estimator gave up", "source_id", s.cfg.ID, "attempts", retries, "error", err)
			return
		}

		delay := backoff(retries, s.rcfg)
		slog.Warn("restarting pose estimator",
			"source_id", s.cfg.ID,
			"attempt", retries,
			"max_retries", s.rcfg.MaxRetries,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
			s.restarts.Add(1)
		case <-ctx.Done():
			return
		}
	}
}

// runOnce runs one estimator process until it exits or ctx is done.
func (s *SupervisedSource) runOnce(ctx context.Context, deliver DeliverFunc) error {
	p, err := NewProcessSource(s.cfg)
	if err != nil {
		return err
	}
	if err := p.Start(ctx, deliver); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = p
	s.mu.Unlock()

	select {
	case <-p.Exited():
	case <-ctx.Done():
	}
	_ = p.Stop()

	s.mu.Lock()
	st := p.Stats()
	s.carried.Delivered += st.Delivered
	s.carried.NoBody += st.NoBody
	s.carried.DecodeErrors += st.DecodeErrors
	if st.LastFrameAt.After(s.carried.LastFrameAt) {
		s.carried.LastFrameAt = st.LastFrameAt
	}
	s.carried.Rate = st.Rate
	s.current = nil
	s.mu.Unlock()

	return errors.New("estimator exited")
}

// Stop ends supervision and stops the running estimator. Idempotent.
func (s *SupervisedSource) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	return nil
}

// Failed is closed when restarts are exhausted.
func (s *SupervisedSource) Failed() <-chan struct{} {
	return s.failed
}

// Err returns the reason supervision gave up, or nil.
func (s *SupervisedSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Restarts returns how many times the estimator was restarted.
func (s *SupervisedSource) Restarts() uint32 {
	return s.restarts.Load()
}

// Stats returns counters summed over every estimator run.
func (s *SupervisedSource) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.carried
	if s.current != nil {
		cur := s.current.Stats()
		st.Delivered += cur.Delivered
		st.NoBody += cur.NoBody
		st.DecodeErrors += cur.DecodeErrors
		if cur.LastFrameAt.After(st.LastFrameAt) {
			st.LastFrameAt = cur.LastFrameAt
		}
		st.Rate = cur.Rate
	}
	return st
}
