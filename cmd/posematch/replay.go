package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
	"github.com/e7canasta/orion-posematch/modules/matchloop"
	"github.com/e7canasta/orion-posematch/modules/posesource"
	"github.com/e7canasta/orion-posematch/modules/posestore"
	"github.com/e7canasta/orion-posematch/modules/resultbus"
	"github.com/e7canasta/orion-posematch/modules/session"
)

func newReplayCmd(opts *rootOptions) *cobra.Command {
	var (
		target string
		fps    float64
	)

	cmd := &cobra.Command{
		Use:   "replay <recording.jsonl>",
		Short: "Score a recorded pose stream against a stored pose",
		Long: `replay plays a JSONL recording (one snapshot per line, "null" for no body)
through the live match loop against a pose from the configured level and
prints every republished result as a JSON line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, level, err := openStorage(cfg)
			if err != nil {
				return err
			}
			blobs, tols, err := level.Load()
			db.Close()
			if err != nil {
				return err
			}

			// scoring only: never write back to the level
			sess := session.New(cfg.Session(), posestore.NewMemoryLevel())
			defer sess.Destroy()

			if _, err := sess.Hydrate(blobs, tols); err != nil {
				return err
			}
			poses := sess.Poses()
			if len(poses) == 0 {
				return errors.New("level has no poses")
			}
			if target == "" {
				target = poses[0].ID
			}
			if !slices.ContainsFunc(poses, func(p session.PoseInfo) bool { return p.ID == target }) {
				return fmt.Errorf("start test %q: %w", target, matchloop.ErrUnknownPose)
			}

			src, err := posesource.NewReplaySource(posesource.ReplayConfig{Path: args[0], FPS: fps})
			if err != nil {
				return err
			}

			results := make(chan resultbus.Message, 64)
			if err := sess.Subscribe("replay", results); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// testing needs a body in view, so it starts on the first one
			var started atomic.Bool
			startErr := make(chan error, 1)
			deliver := func(s *landmarks.Snapshot) {
				sess.OnPose(s)
				if s.IsEmpty() || started.Swap(true) {
					return
				}
				if err := sess.StartTest(target); err != nil {
					startErr <- fmt.Errorf("start test %q: %w", target, err)
				}
			}

			go sess.Run(ctx)
			if err := src.Start(ctx, deliver); err != nil {
				return err
			}
			defer src.Stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			drained := src.Done()
			var grace <-chan time.Time

			for {
				select {
				case err := <-startErr:
					return err
				case msg := <-results:
					if err := enc.Encode(msg); err != nil {
						return err
					}
				case <-drained:
					// let the final frame be evaluated
					drained = nil
					grace = time.After(cfg.LoopTuning().EvaluationInterval + 2*cfg.LoopTuning().FrameInterval)
				case <-grace:
					for len(results) > 0 {
						if err := enc.Encode(<-results); err != nil {
							return err
						}
					}
					st := sess.Status()
					fmt.Fprintf(cmd.ErrOrStderr(), "frames=%d evaluations=%d republished=%d\n",
						st.FramesOffered, st.Evaluations, st.Republished)
					return nil
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "pose id to compare against (default: first pose)")
	cmd.Flags().Float64Var(&fps, "fps", 30, "playback rate")
	return cmd
}
