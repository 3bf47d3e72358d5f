package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spfs-project/spfs/pkg/migrate"
)

// MigrateCmd rewrites every object in the repository to the current flat
// schema and stamps VERSION. Migration is always explicit, never
// triggered implicitly by a read.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "rewrite every object to the current encoding and stamp VERSION",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, repository, err := openRepo()
		if err != nil {
			fail(err)
		}
		report, err := migrate.Migrate(ctx, repository)
		if err != nil {
			fail(err)
		}
		fmt.Printf("scanned %d objects, rewrote %d\n", report.Scanned, report.Rewritten)
	},
}
