package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/tracking"
)

func commitManifest(t *testing.T, ctx context.Context, repo *Repository, path, content string) (encoding.Digest, *graph.Manifest) {
	t.Helper()
	digest, _, err := encoding.Hash(strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, repo.Payloads.WritePayload(ctx, digest, strings.NewReader(content)))

	blobDigest, err := repo.Objects.WriteObject(ctx, &graph.Blob{Payload: digest, Size: uint64(len(content))})
	require.NoError(t, err)

	manifest := &graph.Manifest{Entries: []encoding.ManifestEntryRecord{
		{Path: path, Kind: encoding.EntryBlob, Mode: 0o644, Size: uint64(len(content)), Object: blobDigest},
	}}
	return digest, manifest
}

func inode(t *testing.T, path string) uint64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	stat, ok := info.Sys().(*syscall.Stat_t)
	require.True(t, ok, "Sys() did not return *syscall.Stat_t")
	return stat.Ino
}

// TestRenderHardLinksShareInode confirms a rendered blob is the same file
// on disk as its payload-store copy, not a duplicate.
func TestRenderHardLinksShareInode(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(t.TempDir())
	require.NoError(t, err)

	payloadDigest, manifest := commitManifest(t, ctx, repo, "hello.txt", "hello world")
	manifestDigest, err := repo.Objects.WriteObject(ctx, manifest)
	require.NoError(t, err)

	tm := manifest.ToTracking()
	require.NoError(t, repo.Renderer.Render(ctx, manifestDigest, tm))

	renderedPath := filepath.Join(repo.Renderer.RenderPath(manifestDigest), "hello.txt")
	payloadPath := repo.Payloads.store.pathFor(payloadDigest)

	require.Equal(t, inode(t, payloadPath), inode(t, renderedPath))
}

// TestRenderIsIdempotent confirms a second Render call against a digest
// that already has a completed render is a no-op: it neither errors nor
// disturbs the existing tree.
func TestRenderIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(t.TempDir())
	require.NoError(t, err)

	_, manifest := commitManifest(t, ctx, repo, "hello.txt", "hello world")
	manifestDigest, err := repo.Objects.WriteObject(ctx, manifest)
	require.NoError(t, err)
	tm := manifest.ToTracking()

	require.NoError(t, repo.Renderer.Render(ctx, manifestDigest, tm))
	renderedPath := filepath.Join(repo.Renderer.RenderPath(manifestDigest), "hello.txt")
	before, err := os.ReadFile(renderedPath)
	require.NoError(t, err)
	beforeInode := inode(t, renderedPath)

	require.NoError(t, repo.Renderer.Render(ctx, manifestDigest, tm))

	after, err := os.ReadFile(renderedPath)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, beforeInode, inode(t, renderedPath))
}

// TestRenderRecoversFromInterruptedAttempt simulates a process crashing
// mid-render (a leftover tmp/<uuid> working directory with no .completed
// marker) and confirms HasRender still reports false and a fresh Render
// call succeeds and produces a correct completed render.
func TestRenderRecoversFromInterruptedAttempt(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(t.TempDir())
	require.NoError(t, err)

	_, manifest := commitManifest(t, ctx, repo, "hello.txt", "hello world")
	manifestDigest, err := repo.Objects.WriteObject(ctx, manifest)
	require.NoError(t, err)
	tm := manifest.ToTracking()

	deadAttempt := filepath.Join(repo.Renderer.root, "tmp", "dead-attempt")
	require.NoError(t, os.MkdirAll(deadAttempt, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deadAttempt, "partial"), []byte("x"), 0o644))

	has, err := repo.Renderer.HasRender(manifestDigest)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, repo.Renderer.Render(ctx, manifestDigest, tm))

	has, err = repo.Renderer.HasRender(manifestDigest)
	require.NoError(t, err)
	require.True(t, has)

	content, err := os.ReadFile(filepath.Join(repo.Renderer.RenderPath(manifestDigest), "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))

	// The leftover working directory from the dead attempt is untouched by
	// the successful render, which builds its own differently-named temp
	// directory and renames it into the final path.
	_, err = os.Stat(deadAttempt)
	require.NoError(t, err)
}

// blobResultReporter records the BlobRenderResult of every rendered blob by
// path, for asserting how a payload was placed.
type blobResultReporter struct {
	SilentReporter
	results map[string]BlobRenderResult
}

func (r *blobResultReporter) RenderedBlob(path string, entry tracking.Entry, result BlobRenderResult) {
	if r.results == nil {
		r.results = map[string]BlobRenderResult{}
	}
	r.results[path] = result
}

// TestRenderCopyTypeNeverLinks confirms a RenderCopy render duplicates the
// payload bytes rather than sharing the payload store's inode.
func TestRenderCopyTypeNeverLinks(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(t.TempDir())
	require.NoError(t, err)

	payloadDigest, manifest := commitManifest(t, ctx, repo, "hello.txt", "hello world")
	manifestDigest, err := repo.Objects.WriteObject(ctx, manifest)
	require.NoError(t, err)

	reporter := &blobResultReporter{}
	repo.Renderer.SetRenderType(RenderCopy)
	repo.Renderer.SetReporter(reporter)
	require.NoError(t, repo.Renderer.Render(ctx, manifestDigest, manifest.ToTracking()))

	renderedPath := filepath.Join(repo.Renderer.RenderPath(manifestDigest), "hello.txt")
	payloadPath := repo.Payloads.store.pathFor(payloadDigest)
	require.NotEqual(t, inode(t, payloadPath), inode(t, renderedPath))
	require.Equal(t, BlobCopied, reporter.results["hello.txt"])

	content, err := os.ReadFile(renderedPath)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))
}

// TestRenderCopiesOnModeMismatch confirms a payload whose stored mode
// differs from the manifest entry's mode is copied (and classified as
// such), never linked, since a hard link would expose the store's inode
// with the wrong permissions.
func TestRenderCopiesOnModeMismatch(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(t.TempDir())
	require.NoError(t, err)

	content := "#!/bin/sh\necho hi\n"
	digest, _, err := encoding.Hash(strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, repo.Payloads.WritePayload(ctx, digest, strings.NewReader(content)))
	blobDigest, err := repo.Objects.WriteObject(ctx, &graph.Blob{Payload: digest, Size: uint64(len(content))})
	require.NoError(t, err)

	// The payload store holds files at 0644; the manifest wants 0755.
	manifest := &graph.Manifest{Entries: []encoding.ManifestEntryRecord{
		{Path: "run.sh", Kind: encoding.EntryBlob, Mode: 0o755, Size: uint64(len(content)), Object: blobDigest},
	}}
	manifestDigest, err := repo.Objects.WriteObject(ctx, manifest)
	require.NoError(t, err)

	reporter := &blobResultReporter{}
	repo.Renderer.SetReporter(reporter)
	require.NoError(t, repo.Renderer.Render(ctx, manifestDigest, manifest.ToTracking()))

	renderedPath := filepath.Join(repo.Renderer.RenderPath(manifestDigest), "run.sh")
	require.Equal(t, BlobCopiedWrongMode, reporter.results["run.sh"])

	payloadPath := repo.Payloads.store.pathFor(digest)
	require.NotEqual(t, inode(t, payloadPath), inode(t, renderedPath))

	info, err := os.Stat(renderedPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	// The payload store's own copy keeps its original mode.
	payloadInfo, err := os.Stat(payloadPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), payloadInfo.Mode().Perm())
}

// TestRemoveDeletesReadOnlyRender confirms Remove can tear down a render
// containing a read-only directory, which a plain RemoveAll cannot.
func TestRemoveDeletesReadOnlyRender(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(t.TempDir())
	require.NoError(t, err)

	content := "locked"
	digest, _, err := encoding.Hash(strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, repo.Payloads.WritePayload(ctx, digest, strings.NewReader(content)))
	blobDigest, err := repo.Objects.WriteObject(ctx, &graph.Blob{Payload: digest, Size: uint64(len(content))})
	require.NoError(t, err)

	manifest := &graph.Manifest{Entries: []encoding.ManifestEntryRecord{
		{Path: "sealed", Kind: encoding.EntryTree, Mode: 0o555},
		{Path: "sealed/data.txt", Kind: encoding.EntryBlob, Mode: 0o644, Size: uint64(len(content)), Object: blobDigest},
	}}
	manifestDigest, err := repo.Objects.WriteObject(ctx, manifest)
	require.NoError(t, err)

	require.NoError(t, repo.Renderer.Render(ctx, manifestDigest, manifest.ToTracking()))

	rendered, err := os.ReadFile(filepath.Join(repo.Renderer.RenderPath(manifestDigest), "sealed", "data.txt"))
	require.NoError(t, err)
	require.Equal(t, content, string(rendered))

	info, err := os.Stat(filepath.Join(repo.Renderer.RenderPath(manifestDigest), "sealed"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o555), info.Mode().Perm())

	require.NoError(t, repo.Renderer.Remove(manifestDigest))

	has, err := repo.Renderer.HasRender(manifestDigest)
	require.NoError(t, err)
	require.False(t, has)
	_, err = os.Stat(repo.Renderer.RenderPath(manifestDigest))
	require.True(t, os.IsNotExist(err))
}

func TestRenderReporterReceivesLayerAndEntryEvents(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(t.TempDir())
	require.NoError(t, err)

	_, manifest := commitManifest(t, ctx, repo, "hello.txt", "hello world")
	manifestDigest, err := repo.Objects.WriteObject(ctx, manifest)
	require.NoError(t, err)
	tm := manifest.ToTracking()

	counter := &CountingReporter{}
	repo.Renderer.SetReporter(counter)

	require.NoError(t, repo.Renderer.Render(ctx, manifestDigest, tm))

	require.Equal(t, 1, counter.EntriesVisited)
	require.Equal(t, 1, counter.EntriesRendered)
	require.Equal(t, uint64(len("hello world")), counter.BytesVisited)
	require.Equal(t, uint64(len("hello world")), counter.BytesRendered)
}

func TestMultiReporterFansOutToEveryDelegate(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(t.TempDir())
	require.NoError(t, err)

	_, manifest := commitManifest(t, ctx, repo, "hello.txt", "hello world")
	manifestDigest, err := repo.Objects.WriteObject(ctx, manifest)
	require.NoError(t, err)
	tm := manifest.ToTracking()

	a, b := &CountingReporter{}, &CountingReporter{}
	repo.Renderer.SetReporter(NewMultiReporter(a, b))

	require.NoError(t, repo.Renderer.Render(ctx, manifestDigest, tm))

	require.Equal(t, 1, a.EntriesRendered)
	require.Equal(t, 1, b.EntriesRendered)
}
