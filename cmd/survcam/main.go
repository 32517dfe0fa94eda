package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kyuhyong/surveillance-camera/internal/clip"
	"github.com/kyuhyong/surveillance-camera/internal/config"
	"github.com/kyuhyong/surveillance-camera/internal/database"
	"github.com/kyuhyong/surveillance-camera/internal/logging"
	"github.com/kyuhyong/surveillance-camera/internal/state"
)

const defaultConfigPath = "survcam.yaml"

// app carries what every subcommand needs after the config is loaded.
type app struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "survcam",
		Short:         "survcam - motion triggered camera recorder",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "path to the YAML config file")

	root.AddCommand(
		newRunCmd(a),
		newStateCmd(a),
		newSweepCmd(a),
		newClipsCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, a.stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) layout() clip.Layout {
	return clip.Layout{
		ClipsDir:  a.cfg.Storage.ClipsDir,
		StreamDir: a.cfg.Storage.StreamDir,
		ImagesDir: a.cfg.Storage.ImagesDir,
	}
}

func (a *app) openDatabase(ctx context.Context) (*database.Database, error) {
	db, err := database.New(a.cfg.Storage.Database)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *app) openState(db *database.Database) (state.Store, error) {
	return state.Open(a.cfg.State.Backend, a.cfg.State.Path, db, a.logger)
}

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
