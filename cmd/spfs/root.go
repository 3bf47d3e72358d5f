package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spfs-project/spfs/internal/dcontext"
	"github.com/spfs-project/spfs/pkg/config"
	"github.com/spfs-project/spfs/pkg/storage/fs"
)

var (
	configPath   string
	rootOverride string
)

// RootCmd is the main command for the 'spfs' binary.
var RootCmd = &cobra.Command{
	Use:   "spfs",
	Short: "`spfs` manages a content-addressed filesystem repository",
	Long:  "`spfs` manages a content-addressed filesystem repository.",
	Run: func(cmd *cobra.Command, args []string) {
		// nolint:errcheck
		cmd.Usage()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a spfs config file")
	RootCmd.PersistentFlags().StringVar(&rootOverride, "root", "", "repository root, overriding the config file")

	RootCmd.AddCommand(InitCmd)
	RootCmd.AddCommand(CommitCmd)
	RootCmd.AddCommand(TagCmd)
	RootCmd.AddCommand(LsTagsCmd)
	RootCmd.AddCommand(CheckCmd)
	RootCmd.AddCommand(CleanCmd)
	RootCmd.AddCommand(SyncCmd)
	RootCmd.AddCommand(RenderCmd)
	RootCmd.AddCommand(MigrateCmd)
}

// loadConfig loads the active configuration, applying --config and --root.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if rootOverride != "" {
		cfg.Storage.Root = rootOverride
	}
	return cfg, nil
}

// setupContext configures logrus per the loaded config and installs it as
// the default logger dcontext hands out.
func setupContext(cfg config.Config) context.Context {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	switch cfg.Log.Formatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{})
	}

	ctx := context.Background()
	dcontext.SetDefaultLogger(dcontext.GetLogger(ctx))
	return ctx
}

// newContext loads config and sets up logging without opening a
// repository, for subcommands (like sync) that take repository roots as
// positional arguments instead of the configured default.
func newContext() (context.Context, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return setupContext(cfg), nil
}

// openRepo loads config and opens the repository it names, the common
// first step of every subcommand below.
func openRepo() (context.Context, *fs.Repository, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	ctx := setupContext(cfg)
	repository, err := fs.Open(cfg.Storage.Root)
	if err != nil {
		return nil, nil, err
	}
	return ctx, repository, nil
}

// fail prints err to stderr and exits 1.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "spfs: %v\n", err)
	os.Exit(1)
}

// currentOSUser resolves the user string recorded against a tag push.
func currentOSUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}
