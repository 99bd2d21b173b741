package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/orion-posematch/modules/config"
	"github.com/e7canasta/orion-posematch/modules/control"
	"github.com/e7canasta/orion-posematch/modules/emitter"
	"github.com/e7canasta/orion-posematch/modules/httpapi"
	"github.com/e7canasta/orion-posematch/modules/levelstore"
	"github.com/e7canasta/orion-posematch/modules/posesource"
	"github.com/e7canasta/orion-posematch/modules/session"
)

// staleSourceAfter is how long without frames before readiness fails.
const staleSourceAfter = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pose-matching daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, opts.configPath)
		},
	}
}

// daemon holds everything serve starts, for ordered shutdown.
type daemon struct {
	db      *levelstore.DB
	sess    *session.Session
	source  posesource.Source
	mqtt    *emitter.MQTTClient
	control *control.Handler
}

func serve(ctx context.Context, cfg *config.Config, configPath string) error {
	slog.Info("starting posematch",
		"instance_id", cfg.InstanceID,
		"level_id", cfg.LevelID,
		"source", cfg.Source.Type,
		"mqtt", cfg.MQTT.Enabled,
	)

	d := &daemon{}
	defer d.shutdown(cfg.ShutdownTimeout())

	db, level, err := openStorage(cfg)
	if err != nil {
		return err
	}
	d.db = db

	blobs, tolerances, err := level.Load()
	if err != nil {
		return err
	}

	d.sess = session.New(cfg.Session(), level)
	report, err := d.sess.Hydrate(blobs, tolerances)
	if err != nil {
		return err
	}
	slog.Info("level library loaded",
		"level_id", cfg.LevelID,
		"poses", report.Loaded,
		"skipped", len(report.Skipped),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, session.ErrDestroyed) {
			return fmt.Errorf("match loop: %w", err)
		}
		return nil
	})

	if d.source, err = buildSource(cfg); err != nil {
		return err
	}
	if d.source != nil {
		if err := d.source.Start(ctx, d.sess.OnPose); err != nil {
			return fmt.Errorf("start pose source: %w", err)
		}
		if ss, ok := d.source.(*posesource.SupervisedSource); ok {
			g.Go(func() error {
				select {
				case <-ss.Failed():
					return ss.Err()
				case <-ctx.Done():
				}
				return nil
			})
		}
	}

	checks := []httpapi.Check{{Name: "source", Fn: d.sourceReady}}

	if cfg.MQTT.Enabled {
		if err := d.startMQTT(ctx, g, cfg); err != nil {
			return err
		}
		checks = append(checks, httpapi.Check{Name: "mqtt", Fn: func() error {
			if !d.mqtt.Connected() {
				return emitter.ErrNotConnected
			}
			return nil
		}})
	}

	srv := httpapi.New(httpapi.Config{
		Addr:            cfg.HTTP.Addr,
		ShutdownTimeout: cfg.ShutdownTimeout(),
		Checks:          checks,
	}, d.sess)
	g.Go(func() error { return srv.Run(ctx) })

	if configPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, configPath, func(next *config.Config) {
				d.sess.Retune(next.SimilarityTuning(), next.LoopTuning())
				slog.Info("tuning applied",
					"sensitivity", next.Similarity.Sensitivity,
					"evaluation_interval_ms", next.Loop.EvaluationIntervalMS,
					"republish_delta", next.Loop.RepublishDelta,
				)
			})
		})
	}

	err = g.Wait()
	if err != nil {
		slog.Error("service error", "error", err)
	}
	return err
}

func (d *daemon) startMQTT(ctx context.Context, g *errgroup.Group, cfg *config.Config) error {
	d.mqtt = emitter.NewMQTTClient(emitter.ClientConfig{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.InstanceID,
	})
	if err := d.mqtt.Connect(ctx); err != nil {
		return err
	}

	recv, err := d.sess.SubscribeLatest("mqtt")
	if err != nil {
		return err
	}
	results := emitter.NewResultEmitter(d.mqtt, emitter.Config{
		Topic:      cfg.MQTT.Topics.Results,
		QoS:        cfg.QoSFor("results"),
		InstanceID: cfg.InstanceID,
		LevelID:    cfg.LevelID,
	})
	g.Go(func() error {
		if err := results.Run(ctx, recv); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	d.control = control.NewHandler(control.Config{
		Topic: cfg.MQTT.Topics.Control,
		QoS:   cfg.QoSFor("control"),
	}, d.mqtt, d.sess)
	return d.control.Start(ctx)
}

func (d *daemon) sourceReady() error {
	if d.source == nil {
		return nil
	}
	last := d.source.Stats().LastFrameAt
	if last.IsZero() {
		return errors.New("no frames received yet")
	}
	if age := time.Since(last); age > staleSourceAfter {
		return fmt.Errorf("last frame %s ago", age.Round(time.Millisecond))
	}
	return nil
}

// shutdown stops components in dependency order: source first so no frame
// arrives after the loop is torn down, storage last.
func (d *daemon) shutdown(timeout time.Duration) {
	slog.Info("shutting down gracefully", "timeout", timeout)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if d.source != nil {
			if err := d.source.Stop(); err != nil {
				slog.Warn("pose source stop failed", "error", err)
			}
		}
		if d.control != nil {
			_ = d.control.Stop()
		}
		if d.sess != nil {
			_ = d.sess.Destroy()
		}
		if d.mqtt != nil {
			d.mqtt.Disconnect()
		}
		if d.db != nil {
			if err := d.db.Close(); err != nil {
				slog.Error("level store close failed", "error", err)
			}
		}
	}()

	select {
	case <-done:
		slog.Info("posematch stopped successfully")
	case <-time.After(timeout):
		slog.Error("shutdown timed out", "timeout", timeout)
	}
}

func buildSource(cfg *config.Config) (posesource.Source, error) {
	switch cfg.Source.Type {
	case "process":
		restart := posesource.DefaultRestartConfig()
		restart.MaxRetries = cfg.Source.MaxRestarts
		return posesource.NewSupervisedSource(posesource.ProcessConfig{
			ID:      cfg.InstanceID + "-estimator",
			Command: cfg.Source.Command,
			Args:    cfg.Source.Args,
			Env:     cfg.Source.Env,
		}, restart)
	case "replay":
		return posesource.NewReplaySource(posesource.ReplayConfig{
			Path: cfg.Source.ReplayPath,
			FPS:  cfg.Source.ReplayFPS,
			Loop: cfg.Source.Loop,
		})
	default:
		return nil, nil
	}
}
