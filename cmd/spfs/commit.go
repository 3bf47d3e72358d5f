package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spfs-project/spfs/pkg/commit"
)

var (
	commitTag         string
	commitConcurrency int
)

// CommitCmd builds a Layer from a directory via pkg/commit.Commit.
var CommitCmd = &cobra.Command{
	Use:   "commit <dir>",
	Short: "commit a directory's contents as a new layer",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, repository, err := openRepo()
		if err != nil {
			fail(err)
		}
		result, err := commit.Commit(ctx, repository, args[0], commit.Options{
			Concurrency: commitConcurrency,
			Tag:         commitTag,
		})
		if err != nil {
			fail(err)
		}
		fmt.Printf("layer: %s\n", result.Layer.String())
		fmt.Printf("manifest: %s\n", result.Manifest.String())
	},
}

func init() {
	CommitCmd.Flags().StringVarP(&commitTag, "tag", "t", "", "tag to push at the new layer (org/name)")
	CommitCmd.Flags().IntVarP(&commitConcurrency, "concurrency", "j", 4, "number of files to hash/write concurrently")
}
