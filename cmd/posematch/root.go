package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-posematch/modules/config"
	"github.com/e7canasta/orion-posematch/modules/levelstore"
)

const defaultConfigPath = "config/posematch.yaml"

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "posematch",
		Short:        "Live pose capture and matching",
		SilenceUsage: true, // don't print usage on operational errors
		Long: `posematch captures reference body poses into a level library and scores
a live pose stream against a chosen target, publishing results over MQTT,
HTTP and WebSocket.`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogger(cmd.ErrOrStderr(), opts.debug)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to configuration file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newPosesCmd(opts),
		newReplayCmd(opts),
		newVersionCmd(),
	)
	return root
}

// setupLogger installs the default slog logger: text on a terminal, JSON
// otherwise.
func setupLogger(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewJSONHandler(w, hopts)
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		handler = slog.NewTextHandler(w, hopts)
	}
	slog.SetDefault(slog.New(handler))
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load config %s: %w", opts.configPath, err)
	}
	return cfg, nil
}

func openStorage(cfg *config.Config) (*levelstore.DB, *levelstore.Level, error) {
	scfg := levelstore.DefaultConfig(cfg.Storage.Path)
	if cfg.Storage.InMemory {
		scfg = levelstore.InMemoryConfig()
	}
	scfg.Logger = slog.Default().With("component", "badger")

	db, err := levelstore.Open(scfg)
	if err != nil {
		return nil, nil, err
	}
	level, err := db.Level(cfg.LevelID)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, level, nil
}
