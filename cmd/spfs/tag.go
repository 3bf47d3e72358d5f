package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/storage/fs"
)

// TagCmd is a parent for the tag-stream operations.
var TagCmd = &cobra.Command{
	Use:   "tag",
	Short: "inspect and update tag streams",
}

var tagPushMessage string

var tagPushCmd = &cobra.Command{
	Use:   "push <org/name> <digest>",
	Short: "push a new revision onto a tag stream",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		_, repository, err := openRepo()
		if err != nil {
			fail(err)
		}
		spec, err := fs.ParseTagSpec(args[0])
		if err != nil {
			fail(err)
		}
		target, err := encoding.Parse(args[1])
		if err != nil {
			fail(err)
		}
		entry, err := repository.Tags.PushWithMessage(spec.Org, spec.Name, target, currentOSUser(), tagPushMessage)
		if err != nil {
			fail(err)
		}
		fmt.Println(entry.Target.String())
	},
}

var tagResolveCmd = &cobra.Command{
	Use:   "resolve <org/name[~N]>",
	Short: "resolve a tag spec to its target digest",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, repository, err := openRepo()
		if err != nil {
			fail(err)
		}
		spec, err := fs.ParseTagSpec(args[0])
		if err != nil {
			fail(err)
		}
		entry, err := repository.Tags.Resolve(spec)
		if err != nil {
			fail(err)
		}
		fmt.Println(entry.Target.String())
	},
}

var tagHistoryCmd = &cobra.Command{
	Use:   "history <org/name>",
	Short: "list every revision pushed to a tag, newest last",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, repository, err := openRepo()
		if err != nil {
			fail(err)
		}
		spec, err := fs.ParseTagSpec(args[0])
		if err != nil {
			fail(err)
		}
		history, err := repository.Tags.History(spec.Org, spec.Name)
		if err != nil {
			fail(err)
		}
		for i, entry := range history {
			fmt.Printf("%d\t%s\t%s\n", i, entry.Target.String(), entry.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
		}
	},
}

var tagRemoveCmd = &cobra.Command{
	Use:   "rm <org/name>",
	Short: "remove an entire tag stream",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, repository, err := openRepo()
		if err != nil {
			fail(err)
		}
		spec, err := fs.ParseTagSpec(args[0])
		if err != nil {
			fail(err)
		}
		if err := repository.Tags.Remove(spec.Org, spec.Name); err != nil {
			fail(err)
		}
	},
}

func init() {
	tagPushCmd.Flags().StringVarP(&tagPushMessage, "message", "m", "", "message to record with this revision")
	TagCmd.AddCommand(tagPushCmd, tagResolveCmd, tagHistoryCmd, tagRemoveCmd)
}
