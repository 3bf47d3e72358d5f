package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// LsTagsCmd lists the hierarchical tag namespace under path (default the
// root).
var LsTagsCmd = &cobra.Command{
	Use:   "ls-tags [path]",
	Short: "list the tag namespace hierarchically",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, repository, err := openRepo()
		if err != nil {
			fail(err)
		}
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		entries, err := repository.Tags.Ls(path)
		if err != nil {
			fail(err)
		}
		for _, e := range entries {
			if e.Folder {
				fmt.Printf("%s/\n", e.Name)
			} else {
				fmt.Println(e.Name)
			}
		}
	},
}
