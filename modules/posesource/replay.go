package posesource

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
)

const defaultReplayFPS = 30

// ReplayConfig configures a ReplaySource.
type ReplayConfig struct {
	Path string
	FPS  float64
	Loop bool
}

// ReplaySource replays a recorded JSONL session: one snapshot JSON object
// per line ({"landmarks": {...}}), "null" for a frame without a body. Blank
// lines are ignored.
type ReplaySource struct {
	cfg    ReplayConfig
	frames []*landmarks.Snapshot

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	active bool

	delivered   atomic.Uint64
	noBody      atomic.Uint64
	lastFrameAt atomic.Value // time.Time
	rate        *RateTracker
}

// NewReplaySource loads the recording at cfg.Path.
func NewReplaySource(cfg ReplayConfig) (*ReplaySource, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("posesource: open replay: %w", err)
	}
	defer f.Close()
	return NewReplayReader(f, cfg)
}

// NewReplayReader loads a recording from r.
func NewReplayReader(r io.Reader, cfg ReplayConfig) (*ReplaySource, error) {
	if cfg.FPS <= 0 {
		cfg.FPS = defaultReplayFPS
	}

	frames, err := readRecording(r)
	if err != nil {
		return nil, fmt.Errorf("posesource: %w", err)
	}
	if len(frames) == 0 {
		return nil, errors.New("posesource: replay has no frames")
	}

	return &ReplaySource{cfg: cfg, frames: frames, rate: NewRateTracker(0)}, nil
}

func readRecording(r io.Reader) ([]*landmarks.Snapshot, error) {
	var frames []*landmarks.Snapshot

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if bytes.Equal(raw, []byte("null")) {
			frames = append(frames, nil)
			continue
		}
		var s landmarks.Snapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		frames = append(frames, &s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay: %w", err)
	}
	return frames, nil
}

// Len returns the number of recorded frames.
func (r *ReplaySource) Len() int { return len(r.frames) }

// Start begins playback at the configured FPS.
func (r *ReplaySource) Start(ctx context.Context, deliver DeliverFunc) error {
	if deliver == nil {
		return ErrNilDeliver
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return ErrAlreadyStarted
	}
	r.active = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.play(ctx, deliver)

	slog.Info("pose replay started",
		"path", r.cfg.Path,
		"frames", len(r.frames),
		"fps", r.cfg.FPS,
		"loop", r.cfg.Loop,
	)
	return nil
}

func (r *ReplaySource) play(ctx context.Context, deliver DeliverFunc) {
	defer close(r.done)

	interval := time.Duration(float64(time.Second) / r.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if i == len(r.frames) {
				if !r.cfg.Loop {
					slog.Info("pose replay finished", "frames", len(r.frames))
					return
				}
				i = 0
			}

			var snap *landmarks.Snapshot
			if src := r.frames[i]; src != nil {
				snap = src.Clone()
				snap.CapturedAt = now
			}
			i++

			r.rate.Mark(now)
			r.lastFrameAt.Store(now)
			if snap == nil {
				r.noBody.Add(1)
			} else {
				r.delivered.Add(1)
			}
			deliver(snap)
		}
	}
}

// Done is closed when playback ends (end of recording or Stop).
func (r *ReplaySource) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Stop ends playback. Idempotent.
func (r *ReplaySource) Stop() error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done
	return nil
}

// Stats returns delivery counters.
func (r *ReplaySource) Stats() Stats {
	var last time.Time
	if v := r.lastFrameAt.Load(); v != nil {
		last = v.(time.Time)
	}
	return Stats{
		Delivered:   r.delivered.Load(),
		NoBody:      r.noBody.Load(),
		LastFrameAt: last,
		Rate:        r.rate.Stats(),
	}
}

// WriteRecording writes snapshots in the replay JSONL format.
func WriteRecording(w io.Writer, frames []*landmarks.Snapshot) error {
	enc := json.NewEncoder(w)
	for _, s := range frames {
		var err error
		if s == nil {
			_, err = io.WriteString(w, "null\n")
		} else {
			err = enc.Encode(s)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
