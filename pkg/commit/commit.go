// Package commit implements the commit path: turning a local directory into
// a stored Layer (and, optionally, pushing a tag to it).
package commit

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spfs-project/spfs/internal/dcontext"
	"github.com/spfs-project/spfs/pkg/build"
	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/spfserrors"
	"github.com/spfs-project/spfs/pkg/storage/fs"
	"github.com/spfs-project/spfs/pkg/tracking"
)

// Options controls a single commit.
type Options struct {
	// Concurrency bounds how many files are hashed/written at once.
	Concurrency int
	// Tag, if non-empty, is pushed to point at the new layer once it is
	// fully committed.
	Tag string
}

// Result describes what a commit produced.
type Result struct {
	Layer    encoding.Digest
	Manifest encoding.Digest
}

// Commit builds a manifest from the contents of dir, writes any payloads
// not already present in repo, stores the resulting Manifest and Layer
// objects, and optionally pushes a tag to the new layer.
//
// Building the manifest and writing payloads happen in the same directory
// walk (via a write-through BlobHasher). A file whose payload is not yet
// stored is read twice: once to hash it and once to write it.
// After the walk, Commit re-stats every regular file and compares its size
// with the one the manifest recorded before writing the Manifest/Layer
// objects, failing the commit outright on a size change rather than
// silently storing a manifest that no longer describes dir. A change that
// keeps the size is not detected by that check.
func Commit(ctx context.Context, repo *fs.Repository, dir string, opts Options) (Result, error) {
	hasher := build.WriteThroughHasher{
		Write: func(ctx context.Context, digest encoding.Digest, path string) error {
			if has, err := repo.Payloads.HasPayload(ctx, digest); err != nil {
				return err
			} else if has {
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			return repo.Payloads.WritePayload(ctx, digest, f)
		},
	}

	builder := build.NewBuilder(hasher, opts.Concurrency)
	manifest, err := builder.Build(ctx, dir)
	if err != nil {
		return Result{}, err
	}

	if err := verifyUnchanged(dir, manifest); err != nil {
		return Result{}, err
	}

	if err := writeSymlinkPayloads(ctx, repo, dir, manifest); err != nil {
		return Result{}, err
	}

	if err := wrapBlobs(ctx, repo, manifest); err != nil {
		return Result{}, err
	}

	flattened := graph.NewManifest(manifest)
	if len(flattened.Entries) == 0 {
		return Result{}, spfserrors.ErrNothingToCommit
	}

	manifestDigest, err := repo.Objects.WriteObject(ctx, flattened)
	if err != nil {
		return Result{}, err
	}

	layer := &graph.Layer{Manifest: manifestDigest}
	layerDigest, err := repo.Objects.WriteObject(ctx, layer)
	if err != nil {
		return Result{}, err
	}

	dcontext.GetLoggerWithField(ctx, "layer", layerDigest.String()).Debug("committed layer")

	if opts.Tag != "" {
		spec, err := fs.ParseTagSpec(opts.Tag)
		if err != nil {
			return Result{}, err
		}
		if _, err := repo.Tags.Push(spec.Org, spec.Name, layerDigest); err != nil {
			return Result{}, err
		}
	}

	return Result{Layer: layerDigest, Manifest: manifestDigest}, nil
}

// writeSymlinkPayloads stores the link-target bytes of every symlink Blob
// entry into the payload store under the digest the Builder already
// computed for it. The write-through BlobHasher only covers regular files,
// since the Builder hashes symlink targets directly (they are small,
// in-memory strings, not files worth streaming); this pass is what makes
// those payloads actually resolvable afterward, so that every Blob
// entry's payload exists once commit returns.
func writeSymlinkPayloads(ctx context.Context, repo *fs.Repository, dir string, manifest *tracking.Manifest) error {
	return manifest.Walk(func(path string, e tracking.Entry) error {
		if e.Kind != tracking.EntryBlob || !tracking.IsSymlink(e.Mode) {
			return nil
		}
		if has, err := repo.Payloads.HasPayload(ctx, e.Object); err != nil {
			return err
		} else if has {
			return nil
		}
		target, err := os.Readlink(filepath.Join(dir, path))
		if err != nil {
			return &spfserrors.StorageReadError{Path: path, Err: err}
		}
		return repo.Payloads.WritePayload(ctx, e.Object, strings.NewReader(target))
	})
}

// wrapBlobs rewrites every Blob entry's Object field from the raw content
// digest the Builder hashed it to, to the digest of a stored graph.Blob
// object wrapping that content digest and its size — the form Manifest
// entries actually reference, so that walking a Manifest's child objects
// (and syncing or checking them) goes through the object database rather
// than reaching into the payload store directly.
func wrapBlobs(ctx context.Context, repo *fs.Repository, manifest *tracking.Manifest) error {
	var paths []string
	var entries []tracking.Entry
	if err := manifest.Walk(func(path string, e tracking.Entry) error {
		if e.Kind != tracking.EntryBlob {
			return nil
		}
		paths = append(paths, path)
		entries = append(entries, e)
		return nil
	}); err != nil {
		return err
	}

	for i, e := range entries {
		blobDigest, err := repo.Objects.WriteObject(ctx, &graph.Blob{Payload: e.Object, Size: e.Size})
		if err != nil {
			return err
		}
		e.Object = blobDigest
		if err := manifest.Update(paths[i], e); err != nil {
			return err
		}
	}
	return nil
}

// verifyUnchanged re-stats every Blob entry in manifest against dir and
// fails if a file's size no longer matches what was hashed, catching the
// common case of a build racing a concurrent edit to the source tree.
func verifyUnchanged(dir string, manifest *tracking.Manifest) error {
	return manifest.Walk(func(path string, e tracking.Entry) error {
		if e.Kind != tracking.EntryBlob {
			return nil
		}
		info, err := os.Lstat(filepath.Join(dir, path))
		if err != nil {
			return &spfserrors.StorageReadError{Path: path, Err: err}
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if uint64(info.Size()) != e.Size {
			return spfserrors.NewObjectError(spfserrors.InvalidEncoding, "file contents changed on disk during commit: "+path)
		}
		return nil
	})
}
