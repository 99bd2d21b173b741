package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-posematch/modules/config"
	"github.com/e7canasta/orion-posematch/modules/levelstore"
	"github.com/e7canasta/orion-posematch/modules/posestore"
)

// levelFile is the on-disk interchange shape of a level's pose library:
// the host level record's pose map plus its tolerance map.
type levelFile struct {
	Poses      map[string]json.RawMessage `json:"poses"`
	Tolerances map[string]float64         `json:"tolerances,omitempty"`
}

func newPosesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poses",
		Short: "Inspect and edit a level's pose library",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored poses",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withLibrary(opts, func(store *posestore.Store, _ *levelstore.Level) error {
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tTOLERANCE\tLANDMARKS")
					for _, id := range store.IDs() {
						rec, _ := store.Get(id)
						fmt.Fprintf(w, "%s\t%.1f\t%d\n", id, rec.TolerancePct, rec.Pose.Len())
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "remove <pose-id>",
			Short: "Remove a pose",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLibrary(opts, func(store *posestore.Store, _ *levelstore.Level) error {
					if _, ok := store.Get(args[0]); !ok {
						return fmt.Errorf("pose %q not found", args[0])
					}
					if err := store.Remove(args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "tolerance <pose-id> <pct>",
			Short: "Set a pose's tolerance (clamped to 0-100)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				pct, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("invalid tolerance %q: %w", args[1], err)
				}
				return withLibrary(opts, func(store *posestore.Store, _ *levelstore.Level) error {
					if _, ok := store.Get(args[0]); !ok {
						return fmt.Errorf("pose %q not found", args[0])
					}
					if err := store.UpdateTolerance(args[0], pct); err != nil {
						return err
					}
					tol, _ := store.Tolerance(args[0])
					fmt.Fprintf(cmd.OutOrStdout(), "%s tolerance %.1f\n", args[0], tol)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "import <file.json>",
			Short: "Replace the level's library from a level file (legacy shapes accepted)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				var lf levelFile
				if err := json.Unmarshal(data, &lf); err != nil {
					return fmt.Errorf("parse %s: %w", args[0], err)
				}

				blobs := make(map[string][]byte, len(lf.Poses))
				for id, raw := range lf.Poses {
					blobs[id] = raw
				}

				return withLevel(opts, func(cfg *config.Config, level *levelstore.Level) error {
					store := posestore.New(nil, posestore.WithDefaultTolerance(cfg.Capture.DefaultTolerancePct))
					report := store.Hydrate(blobs, lf.Tolerances)
					for _, skipped := range report.Skipped {
						fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", skipped.PoseID, skipped.Err)
					}

					// normalize to the wrapped shape
					out, tols, err := store.Export()
					if err != nil {
						return err
					}
					if err := level.Replace(out, tols); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "imported %d pose(s) into %s\n", report.Loaded, level.ID())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "export",
			Short: "Write the level's library as a level file to stdout",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withLibrary(opts, func(store *posestore.Store, _ *levelstore.Level) error {
					blobs, tols, err := store.Export()
					if err != nil {
						return err
					}
					lf := levelFile{Poses: make(map[string]json.RawMessage, len(blobs)), Tolerances: tols}
					for id, b := range blobs {
						lf.Poses[id] = b
					}
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(lf)
				})
			},
		},
	)
	return cmd
}

func withLevel(opts *rootOptions, fn func(*config.Config, *levelstore.Level) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	db, level, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(cfg, level)
}

// withLibrary loads the level into a store that writes back to it.
func withLibrary(opts *rootOptions, fn func(*posestore.Store, *levelstore.Level) error) error {
	return withLevel(opts, func(cfg *config.Config, level *levelstore.Level) error {
		blobs, tols, err := level.Load()
		if err != nil {
			return err
		}
		store := posestore.New(level, posestore.WithDefaultTolerance(cfg.Capture.DefaultTolerancePct))
		store.Hydrate(blobs, tols)
		return fn(store, level)
	})
}
