// Package build walks a local directory and produces a tracking.Manifest
// describing it, hashing file content through a pluggable BlobHasher.
package build

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/tracking"
)

// BlobHasher computes the payload digest for one file's content, and is
// free to also persist it (a write-through hasher, used during commit) or
// merely measure it (an in-memory hasher, used for a dry-run diff).
type BlobHasher interface {
	HashFile(ctx context.Context, path string) (encoding.Digest, error)
}

// InMemoryHasher computes a digest by reading and hashing file content
// without storing it anywhere.
type InMemoryHasher struct{}

func (InMemoryHasher) HashFile(ctx context.Context, path string) (encoding.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return encoding.Digest{}, err
	}
	defer f.Close()
	digest, _, err := encoding.Hash(f)
	return digest, err
}

// WriteThroughHasher computes a digest and then hands the file's path and
// digest to Write, so a single directory walk both builds the manifest and
// populates the payload store it will be committed against. Hashing and
// storing are two separate reads of the file: HashFile reads it once to
// compute the digest, and Write reads it again to store it.
type WriteThroughHasher struct {
	Write func(ctx context.Context, digest encoding.Digest, path string) error
}

func (h WriteThroughHasher) HashFile(ctx context.Context, path string) (encoding.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return encoding.Digest{}, err
	}
	digest, _, err := encoding.Hash(f)
	f.Close()
	if err != nil {
		return encoding.Digest{}, err
	}
	if err := h.Write(ctx, digest, path); err != nil {
		return encoding.Digest{}, err
	}
	return digest, nil
}

// Builder walks a directory tree and assembles a tracking.Manifest,
// hashing regular files with bounded concurrency (symlink targets are
// hashed inline during the walk).
type Builder struct {
	Hasher      BlobHasher
	Concurrency int
}

// NewBuilder returns a Builder using hasher, hashing at most concurrency
// files at once (a value <= 0 means unbounded, per golang.org/x/sync/
// errgroup.SetLimit's own convention).
func NewBuilder(hasher BlobHasher, concurrency int) *Builder {
	return &Builder{Hasher: hasher, Concurrency: concurrency}
}

type walkedFile struct {
	path string
	mode uint32
	size uint64
}

// Build walks root and returns the Manifest describing it. Symlinks are
// recorded as Blob entries whose payload is the digest of the link target
// string, matching how the renderer materializes them back out.
func (b *Builder) Build(ctx context.Context, root string) (*tracking.Manifest, error) {
	manifest := tracking.NewManifest()

	var files []walkedFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			_, mkErr := manifest.Mkdir(rel)
			if mkErr != nil {
				return mkErr
			}
			return manifest.Update(rel, tracking.Entry{Kind: tracking.EntryTree, Mode: tracking.PosixMode(info.Mode(), true)})
		case info.Mode()&os.ModeCharDevice != 0:
			// An overlayfs whiteout is a 0/0 character device; it marks a
			// path deleted from a lower layer and becomes a Mask entry.
			if stat, ok := info.Sys().(*syscall.Stat_t); ok && stat.Rdev == 0 {
				_, err := manifest.Mknod(rel, tracking.EntryMask)
				return err
			}
			return fmt.Errorf("unsupported special file: %s", rel)
		case info.Mode()&(os.ModeDevice|os.ModeNamedPipe|os.ModeSocket|os.ModeIrregular) != 0:
			return fmt.Errorf("unsupported special file: %s", rel)
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			digest, _, err := encoding.Hash(strings.NewReader(target))
			if err != nil {
				return err
			}
			_, err = manifest.Mkfile(rel)
			if err != nil {
				return err
			}
			return manifest.Update(rel, tracking.Entry{Kind: tracking.EntryBlob, Mode: tracking.PosixMode(info.Mode(), true), Size: uint64(len(target)), Object: digest})
		default:
			if _, err := manifest.Mkfile(rel); err != nil {
				return err
			}
			files = append(files, walkedFile{path: rel, mode: tracking.PosixMode(info.Mode(), true), size: uint64(info.Size())})
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	if err := b.hashFiles(ctx, root, manifest, files); err != nil {
		return nil, err
	}
	manifest.ComputeTreeSizes()
	return manifest, nil
}

func (b *Builder) hashFiles(ctx context.Context, root string, manifest *tracking.Manifest, files []walkedFile) error {
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	g, gctx := errgroup.WithContext(ctx)
	if b.Concurrency > 0 {
		g.SetLimit(b.Concurrency)
	}
	digests := make([]encoding.Digest, len(files))
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			digest, err := b.Hasher.HashFile(gctx, filepath.Join(root, file.path))
			if err != nil {
				return err
			}
			digests[i] = digest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, file := range files {
		if err := manifest.Update(file.path, tracking.Entry{
			Kind:   tracking.EntryBlob,
			Mode:   file.mode,
			Size:   file.size,
			Object: digests[i],
		}); err != nil {
			return err
		}
	}
	return nil
}
