package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/spfserrors"
	"github.com/spfs-project/spfs/pkg/tracking"
)

// RenderType selects how a blob entry's payload is placed into a render.
type RenderType int

const (
	// RenderHardLink links payloads in from the payload store when the
	// filesystem, mode, and ownership allow it, copying otherwise.
	RenderHardLink RenderType = iota
	// RenderCopy always copies payload bytes into the render.
	RenderCopy
)

// Renderer materializes Manifest trees onto disk as real directories,
// hard-linking each Blob entry's payload in from the payload store rather
// than copying it when the filesystem allows it. Renders are
// content-addressed by the manifest's own digest, so two layers that
// produce identical trees share one render.
type Renderer struct {
	root       string
	objects    *ObjectDatabase
	payloads   *PayloadStore
	reporter   Reporter
	renderType RenderType
}

// NewRenderer returns a Renderer that materializes renders under root
// (typically "<repository>/renders/<user>"), resolving each Blob entry's
// digest to a payload by reading its wrapping Blob object out of objects.
// Progress goes nowhere until SetReporter is called.
func NewRenderer(root string, objects *ObjectDatabase, payloads *PayloadStore) (*Renderer, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &spfserrors.StorageWriteError{Path: root, Err: err}
	}
	return &Renderer{root: root, objects: objects, payloads: payloads, reporter: SilentReporter{}}, nil
}

// SetReporter swaps in reporter for every subsequent Render call. Pass a
// *MultiReporter to fan out to more than one observer (e.g. a log-line
// reporter and a progress-bar reporter at once); reporter must be safe for
// concurrent use, since a Renderer may be shared across goroutines even
// though a single Render call itself walks its manifest sequentially.
func (r *Renderer) SetReporter(reporter Reporter) {
	if reporter == nil {
		reporter = SilentReporter{}
	}
	r.reporter = reporter
}

// SetRenderType selects the payload placement strategy for subsequent
// Render calls. The default is RenderHardLink.
func (r *Renderer) SetRenderType(t RenderType) {
	r.renderType = t
}

func (r *Renderer) pathFor(digest encoding.Digest) string {
	hex := digest.Hex()
	return filepath.Join(r.root, hex[:2], hex[2:])
}

func (r *Renderer) completedMarker(digest encoding.Digest) string {
	return r.pathFor(digest) + ".completed"
}

// HasRender reports whether manifest's digest already has a completed
// render on disk.
func (r *Renderer) HasRender(digest encoding.Digest) (bool, error) {
	_, err := os.Stat(r.completedMarker(digest))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &spfserrors.StorageReadError{Path: r.completedMarker(digest), Err: err}
}

// RenderPath returns the on-disk location of manifest's render, which the
// caller must have confirmed exists via HasRender.
func (r *Renderer) RenderPath(digest encoding.Digest) string {
	return r.pathFor(digest)
}

// Render materializes manifest (whose content digest is manifestDigest) as
// a real directory tree. If a completed render already exists it is left
// untouched: Render is idempotent.
//
// The tree is built in two passes: a
// forward, depth-first walk creates directories and files (so a directory
// exists before anything inside it is written), then a reverse,
// bottom-up walk applies each entry's final mode (so a read-only directory
// cannot block its own population). The completed tree is built under
// "<root>/tmp/<uuid>" and renamed into place, so a reader never observes a
// partially rendered tree; a leftover temporary directory from an
// interrupted render is left in place and ignored, since a retry builds in
// a freshly named one. Losing the
// rename race to a concurrent render of the same digest is not an error:
// the loser discards its working directory and both callers observe the
// same completed render.
func (r *Renderer) Render(ctx context.Context, manifestDigest encoding.Digest, manifest *tracking.Manifest) error {
	if done, err := r.HasRender(manifestDigest); err != nil {
		return err
	} else if done {
		return nil
	}

	r.reporter.VisitLayer(manifest)

	shardDir := filepath.Join(r.root, manifestDigest.Hex()[:2])
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return &spfserrors.StorageWriteError{Path: shardDir, Err: err}
	}

	tmpRoot := filepath.Join(r.root, "tmp")
	if err := os.MkdirAll(tmpRoot, 0o755); err != nil {
		return &spfserrors.StorageWriteError{Path: tmpRoot, Err: err}
	}
	tmpPath := filepath.Join(tmpRoot, uuid.NewString())
	if err := os.Mkdir(tmpPath, 0o777); err != nil {
		return &spfserrors.StorageWriteError{Path: tmpPath, Err: err}
	}
	// Mkdir's mode argument is filtered through the umask; the working
	// directory must be world-writable regardless.
	if err := os.Chmod(tmpPath, 0o777); err != nil {
		return &spfserrors.StorageWriteError{Path: tmpPath, Err: err}
	}
	defer removeAllWithPerms(tmpPath)

	if err := r.renderForward(ctx, tmpPath, manifest); err != nil {
		return err
	}
	if err := r.renderPermissions(tmpPath, manifest); err != nil {
		return err
	}

	finalPath := r.pathFor(manifestDigest)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		// A concurrent render of the same digest may have won the rename
		// race; its tree is byte-identical to ours, so losing is success.
		if _, statErr := os.Stat(finalPath); statErr != nil {
			return &spfserrors.StorageWriteError{Path: finalPath, Err: err}
		}
	}
	marker, err := os.Create(r.completedMarker(manifestDigest))
	if err != nil {
		return &spfserrors.StorageWriteError{Path: r.completedMarker(manifestDigest), Err: err}
	}
	if err := marker.Close(); err != nil {
		return err
	}
	r.reporter.RenderedLayer(manifest)
	return nil
}

func (r *Renderer) renderForward(ctx context.Context, root string, manifest *tracking.Manifest) error {
	return manifest.Walk(func(path string, e tracking.Entry) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		r.reporter.VisitEntry(path, e)
		full := filepath.Join(root, path)
		var err error
		switch e.Kind {
		case tracking.EntryTree:
			err = os.MkdirAll(full, 0o755)
		case tracking.EntryBlob:
			err = r.renderBlob(ctx, full, path, e)
		case tracking.EntryMask:
			err = nil
		default:
			err = spfserrors.NewObjectError(spfserrors.UnexpectedKind, "unrecognized entry kind during render")
		}
		if err != nil {
			return err
		}
		r.reporter.RenderedEntry(path, e)
		return nil
	})
}

func (r *Renderer) renderBlob(ctx context.Context, full, path string, e tracking.Entry) error {
	obj, err := r.objects.GetObject(ctx, e.Object)
	if err != nil {
		return err
	}
	blob, ok := obj.(*graph.Blob)
	if !ok {
		return spfserrors.NewObjectError(spfserrors.UnexpectedKind, "manifest blob entry does not reference a Blob object")
	}

	if tracking.IsSymlink(e.Mode) {
		if err := r.renderSymlink(ctx, full, blob.Payload); err != nil {
			return err
		}
		r.reporter.RenderedBlob(path, e, SymlinkWritten)
		return nil
	}

	src := r.payloads.store.pathFor(blob.Payload)
	mode := os.FileMode(tracking.PermBits(e.Mode))

	result := BlobCopied
	if r.renderType == RenderHardLink {
		result = r.classifyLinkSource(src, mode)
	}
	if result == BlobHardLinked {
		err := os.Link(src, full)
		switch {
		case err == nil, os.IsExist(err):
			r.reporter.RenderedBlob(path, e, BlobHardLinked)
			return nil
		case errors.Is(err, unix.EMLINK):
			result = BlobCopiedLinkLimit
		case errors.Is(err, unix.EXDEV):
			result = BlobCopied
		default:
			return &spfserrors.StorageWriteError{Path: full, Err: err}
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return &spfserrors.StorageReadError{Path: src, Err: err}
	}
	defer in.Close()
	out, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		if os.IsExist(err) {
			r.reporter.RenderedBlob(path, e, result)
			return nil
		}
		return &spfserrors.StorageWriteError{Path: full, Err: err}
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return &spfserrors.StorageWriteError{Path: full, Err: err}
	}
	// OpenFile's mode argument is filtered through the umask.
	if err := out.Chmod(mode); err != nil {
		return &spfserrors.StorageWriteError{Path: full, Err: err}
	}
	r.reporter.RenderedBlob(path, e, result)
	return nil
}

// classifyLinkSource decides whether the payload at src can be hard-linked
// into a render that needs mode perm. A hard link shares the payload
// store's inode, so the rendered file would expose (and chmod would mutate)
// the store's own mode and owner; a payload whose mode or owner differs
// from what the manifest records must be copied instead, and the reason is
// reported so an operator can tell the expensive renders from the cheap
// ones.
func (r *Renderer) classifyLinkSource(src string, perm os.FileMode) BlobRenderResult {
	info, err := os.Stat(src)
	if err != nil {
		return BlobHardLinked // let os.Link surface the real error
	}
	if info.Mode().Perm() != perm {
		return BlobCopiedWrongMode
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok && int(stat.Uid) != os.Getuid() {
		return BlobCopiedWrongOwner
	}
	return BlobHardLinked
}

// renderSymlink reads the link-target payload (recorded as UTF-8 bytes)
// and recreates the symlink at full. EEXIST means a previous attempt
// already placed it, so it is tolerated.
func (r *Renderer) renderSymlink(ctx context.Context, full string, payload encoding.Digest) error {
	f, err := r.payloads.OpenPayload(ctx, payload)
	if err != nil {
		return err
	}
	defer f.Close()
	target, err := io.ReadAll(f)
	if err != nil {
		return &spfserrors.StorageReadError{Path: full, Err: err}
	}
	if err := os.Symlink(string(target), full); err != nil && !os.IsExist(err) {
		return &spfserrors.StorageWriteError{Path: full, Err: err}
	}
	return nil
}

// renderPermissions applies each entry's recorded mode after the whole tree
// exists, walking bottom-up so a read-only parent never blocks writes to
// its own children mid-render. Symlinks carry no mode of their own, so they
// are skipped. In a RenderHardLink render every blob entry is skipped too:
// linked blobs share the payload store's inode, and blobs that fell back to
// a copy already had their mode set by renderBlob. Every other entry gets
// its manifest mode here.
func (r *Renderer) renderPermissions(root string, manifest *tracking.Manifest) error {
	type chmodTarget struct {
		path string
		perm os.FileMode
	}
	var targets []chmodTarget
	if err := manifest.Walk(func(path string, e tracking.Entry) error {
		if e.Kind == tracking.EntryMask || tracking.IsSymlink(e.Mode) {
			return nil
		}
		if e.Kind == tracking.EntryBlob && r.renderType == RenderHardLink {
			return nil
		}
		targets = append(targets, chmodTarget{path: path, perm: os.FileMode(tracking.PermBits(e.Mode))})
		return nil
	}); err != nil {
		return err
	}
	for i := len(targets) - 1; i >= 0; i-- {
		if err := os.Chmod(filepath.Join(root, targets[i].path), targets[i].perm); err != nil {
			return &spfserrors.StorageWriteError{Path: targets[i].path, Err: err}
		}
	}
	return nil
}

// removeAllWithPerms removes path and everything under it, first opening up
// directory permissions so a read-only directory inside a render cannot
// block its own removal.
func removeAllWithPerms(path string) error {
	_ = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = os.Chmod(p, 0o755)
		}
		return nil
	})
	return os.RemoveAll(path)
}

// IterRenders calls fn with the digest of every completed render under
// root, in unspecified order, for the cleaner's render-sweep pass.
func (r *Renderer) IterRenders(ctx context.Context, fn func(encoding.Digest) error) error {
	shards, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &spfserrors.StorageReadError{Path: r.root, Err: err}
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		shardDir := filepath.Join(r.root, shard.Name())
		entries, err := os.ReadDir(shardDir)
		if err != nil {
			return &spfserrors.StorageReadError{Path: shardDir, Err: err}
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || filepath.Ext(name) != ".completed" {
				continue
			}
			digest, err := encoding.ParseHex(shard.Name() + strings.TrimSuffix(name, ".completed"))
			if err != nil {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := fn(digest); err != nil {
				return err
			}
		}
	}
	return nil
}

// RenderModTime returns when digest's completed marker was written, for
// age-gated render cleanup.
func (r *Renderer) RenderModTime(digest encoding.Digest) (time.Time, error) {
	info, err := os.Stat(r.completedMarker(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, &spfserrors.UnknownObject{Digest: digest.String()}
		}
		return time.Time{}, &spfserrors.StorageReadError{Path: r.completedMarker(digest), Err: err}
	}
	return info.ModTime(), nil
}

// Remove deletes a completed render and its marker. Removal mirrors render
// construction in reverse: the render directory is first renamed into the
// tmp area (so a concurrent reader never observes a half-deleted tree at
// the final path), the marker is removed, and the orphaned tmp tree is
// chmod-opened and unlinked.
func (r *Renderer) Remove(digest encoding.Digest) error {
	tmpRoot := filepath.Join(r.root, "tmp")
	if err := os.MkdirAll(tmpRoot, 0o755); err != nil {
		return &spfserrors.StorageWriteError{Path: tmpRoot, Err: err}
	}
	tmpPath := filepath.Join(tmpRoot, uuid.NewString())
	if err := os.Rename(r.pathFor(digest), tmpPath); err != nil && !os.IsNotExist(err) {
		return &spfserrors.StorageWriteError{Path: r.pathFor(digest), Err: err}
	}
	if err := os.Remove(r.completedMarker(digest)); err != nil && !os.IsNotExist(err) {
		return &spfserrors.StorageWriteError{Path: r.completedMarker(digest), Err: err}
	}
	return removeAllWithPerms(tmpPath)
}
