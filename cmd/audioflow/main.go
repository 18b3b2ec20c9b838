// Command audioflow runs the audio upload server and its maintenance tasks.
package main

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	dbembed "github.com/audioflow/audioflow/db"
	"github.com/audioflow/audioflow/internal/config"
	"github.com/audioflow/audioflow/internal/logger"
	"github.com/audioflow/audioflow/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "audioflow",
		Short:         "Audio upload server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.toml (default $CONFIG_PATH or ./config.toml)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newReconcileCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "audioflow %s\n", info)
			if info.BuildTime != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", info.BuildTime)
			}
		},
	}
}

// loadConfig resolves the config path from the flag, then CONFIG_PATH.
func loadConfig(opts *rootOptions) (config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func migrationsFS() (fs.FS, error) {
	return fs.Sub(dbembed.MigrationsFS, "migrations")
}
