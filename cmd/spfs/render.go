package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/storage/fs"
)

var renderCopy bool

// RenderCmd materializes a stored object as a directory tree. Platforms
// render their full layer stack (fs.Repository.RenderPlatform); a bare
// Layer or Manifest renders just that one tree.
var RenderCmd = &cobra.Command{
	Use:   "render <digest>",
	Short: "render a stored platform, layer or manifest to a directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, repository, err := openRepo()
		if err != nil {
			fail(err)
		}
		if renderCopy {
			repository.Renderer.SetRenderType(fs.RenderCopy)
		}
		digest, err := encoding.Parse(args[0])
		if err != nil {
			fail(err)
		}
		obj, err := repository.Objects.GetObject(ctx, digest)
		if err != nil {
			fail(err)
		}

		var path string
		switch o := obj.(type) {
		case *graph.Platform:
			path, err = repository.RenderPlatform(ctx, digest)
		case *graph.Layer:
			path, err = renderManifest(ctx, repository, o.Manifest)
		case *graph.Manifest:
			path, err = renderManifest(ctx, repository, digest)
		default:
			err = fmt.Errorf("digest %s is a %v, not something renderable", digest.String(), obj.Kind())
		}
		if err != nil {
			fail(err)
		}
		fmt.Println(path)
	},
}

func renderManifest(ctx context.Context, repository *fs.Repository, manifestDigest encoding.Digest) (string, error) {
	manifest, err := repository.ReadManifest(ctx, manifestDigest)
	if err != nil {
		return "", err
	}
	if err := repository.Renderer.Render(ctx, manifestDigest, manifest); err != nil {
		return "", err
	}
	return repository.Renderer.RenderPath(manifestDigest), nil
}

func init() {
	RenderCmd.Flags().BoolVar(&renderCopy, "copy", false, "copy payloads into the render instead of hard-linking them")
}
