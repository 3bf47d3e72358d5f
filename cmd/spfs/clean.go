package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spfs-project/spfs/pkg/clean"
)

var cleanOlderThan time.Duration

// CleanCmd removes objects, payloads and renders no longer attached to a
// tag, per pkg/clean.Clean.
var CleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "remove unattached objects, payloads and renders",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, repository, err := openRepo()
		if err != nil {
			fail(err)
		}
		report, err := clean.Clean(ctx, repository, clean.Options{
			OlderThan: time.Now().Add(-cleanOlderThan),
		})
		if err != nil {
			fail(err)
		}
		fmt.Printf("objects removed: %d\npayloads removed: %d\nrenders removed: %d\n",
			report.ObjectsRemoved, report.PayloadsRemoved, report.RendersRemoved)
	},
}

func init() {
	CleanCmd.Flags().DurationVar(&cleanOlderThan, "older-than", time.Hour, "only remove entries older than this duration")
}
