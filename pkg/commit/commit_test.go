package commit

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/spfserrors"
	"github.com/spfs-project/spfs/pkg/storage/fs"
)

func TestCommitEmptyDirectory(t *testing.T) {
	repo, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	_, err = Commit(context.Background(), repo, t.TempDir(), Options{})
	require.ErrorIs(t, err, spfserrors.ErrNothingToCommit)
}

// TestCommitSelfConsistency covers the commit self-consistency property:
// every blob entry in the committed manifest has a stored Blob object whose
// payload exists and hashes back to the recorded digest.
func TestCommitSelfConsistency(t *testing.T) {
	ctx := context.Background()
	repo, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "hello.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "world.txt"), []byte("world"), 0o644))

	result, err := Commit(ctx, repo, src, Options{Concurrency: 2})
	require.NoError(t, err)

	obj, err := repo.Objects.GetObject(ctx, result.Manifest)
	require.NoError(t, err)
	manifest, ok := obj.(*graph.Manifest)
	require.True(t, ok)

	blobs := 0
	for _, e := range manifest.Entries {
		if e.Kind != encoding.EntryBlob {
			continue
		}
		blobs++
		blobObj, err := repo.Objects.GetObject(ctx, e.Object)
		require.NoError(t, err)
		blob, ok := blobObj.(*graph.Blob)
		require.True(t, ok)

		f, err := repo.Payloads.OpenPayload(ctx, blob.Payload)
		require.NoError(t, err)
		observed, size, err := encoding.Hash(f)
		require.NoError(t, f.Close())
		require.NoError(t, err)
		require.Equal(t, blob.Payload, observed)
		require.Equal(t, blob.Size, uint64(size))
	}
	require.Equal(t, 2, blobs)

	layerObj, err := repo.Objects.GetObject(ctx, result.Layer)
	require.NoError(t, err)
	layer, ok := layerObj.(*graph.Layer)
	require.True(t, ok)
	require.Equal(t, result.Manifest, layer.Manifest)
}

// TestCommitSymlinkPayload: a lone symlink commits to a
// manifest with one blob entry whose payload bytes are the link target.
func TestCommitSymlinkPayload(t *testing.T) {
	ctx := context.Background()
	repo, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	src := t.TempDir()
	require.NoError(t, os.Symlink("target/path", filepath.Join(src, "link")))

	result, err := Commit(ctx, repo, src, Options{})
	require.NoError(t, err)

	obj, err := repo.Objects.GetObject(ctx, result.Manifest)
	require.NoError(t, err)
	manifest := obj.(*graph.Manifest)
	require.Len(t, manifest.Entries, 1)

	blobObj, err := repo.Objects.GetObject(ctx, manifest.Entries[0].Object)
	require.NoError(t, err)
	blob := blobObj.(*graph.Blob)

	f, err := repo.Payloads.OpenPayload(ctx, blob.Payload)
	require.NoError(t, err)
	defer f.Close()
	target, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "target/path", string(target))
}

func TestCommitPushesTag(t *testing.T) {
	ctx := context.Background()
	repo, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "file"), []byte("data"), 0o644))

	result, err := Commit(ctx, repo, src, Options{Tag: "builds/demo"})
	require.NoError(t, err)

	entry, err := repo.Tags.Resolve(fs.TagSpec{Org: "builds", Name: "demo"})
	require.NoError(t, err)
	require.Equal(t, result.Layer, entry.Target)
}

// TestCommitIsIdempotentByContent confirms committing the same tree twice
// yields the same manifest and layer digests with no duplicate state.
func TestCommitIsIdempotentByContent(t *testing.T) {
	ctx := context.Background()
	repo, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "file"), []byte("data"), 0o644))

	first, err := Commit(ctx, repo, src, Options{})
	require.NoError(t, err)
	second, err := Commit(ctx, repo, src, Options{})
	require.NoError(t, err)

	require.Equal(t, first.Manifest, second.Manifest)
	require.Equal(t, first.Layer, second.Layer)
}
