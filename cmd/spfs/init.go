package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spfs-project/spfs/pkg/migrate"
	"github.com/spfs-project/spfs/pkg/storage/fs"
)

// InitCmd creates (or reuses) a repository at the configured root and
// stamps it with the current VERSION.
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "initialize a repository at the configured root",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fail(err)
		}
		if _, err := fs.Open(cfg.Storage.Root); err != nil {
			fail(err)
		}
		if err := migrate.WriteVersion(cfg.Storage.Root, migrate.CurrentVersion); err != nil {
			fail(err)
		}
		fmt.Printf("initialized spfs repository at %s\n", cfg.Storage.Root)
	},
}
