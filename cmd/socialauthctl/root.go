package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-socialauth/config"
)

type app struct {
	configPath string
	envFiles   []string
	cfg        *config.Config
	log        zerolog.Logger
	// open is swapped in tests.
	open func(cmd *cobra.Command, a *app) (*backends, error)
}

func newApp() *app {
	return &app{open: openBackends}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "socialauthctl",
		Short:         "Maintenance for socialauth stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath, a.envFiles...)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", []string{".env"}, ".env files to load before reading the config")

	root.AddCommand(
		newMigrateCmd(a),
		newPruneCmd(a),
		newLinksCmd(a),
	)
	return root
}

func newLogger(out io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	if format == "json" {
		return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

func (a *app) backends(cmd *cobra.Command) (*backends, error) {
	b, err := a.open(cmd, a)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", a.cfg.Storage.Driver, err)
	}
	return b, nil
}
