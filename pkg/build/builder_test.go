package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/tracking"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func TestBuildRecordsFilesAndDirectories(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"bin/run":    "#!/bin/sh\n",
		"etc/a.conf": "a=1\n",
		"etc/b.conf": "b=2\n",
	})

	b := NewBuilder(InMemoryHasher{}, 4)
	manifest, err := b.Build(context.Background(), root)
	require.NoError(t, err)

	entry, ok := manifest.Get("etc")
	require.True(t, ok)
	require.Equal(t, tracking.EntryTree, entry.Kind)
	// A tree entry's size is its number of immediate children.
	require.Equal(t, uint64(2), entry.Size)

	entry, ok = manifest.Get("bin")
	require.True(t, ok)
	require.Equal(t, uint64(1), entry.Size)

	entry, ok = manifest.Get("etc/a.conf")
	require.True(t, ok)
	require.Equal(t, tracking.EntryBlob, entry.Kind)
	require.Equal(t, uint64(len("a=1\n")), entry.Size)

	want, _, err := encoding.Hash(strings.NewReader("a=1\n"))
	require.NoError(t, err)
	require.Equal(t, want, entry.Object)
}

// TestBuildDigestsAreDeterministic covers the digest-determinism property:
// repeated builds of the same tree, with either hasher strategy, produce
// identical entry digests.
func TestBuildDigestsAreDeterministic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"one.txt":      "first",
		"two.txt":      "second",
		"deep/three":   "third",
		"deep/er/four": "fourth",
	})

	written := map[string]encoding.Digest{}
	through := WriteThroughHasher{
		Write: func(ctx context.Context, digest encoding.Digest, path string) error {
			written[path] = digest
			return nil
		},
	}

	inMem, err := NewBuilder(InMemoryHasher{}, 2).Build(context.Background(), root)
	require.NoError(t, err)
	again, err := NewBuilder(InMemoryHasher{}, 2).Build(context.Background(), root)
	require.NoError(t, err)
	viaWrite, err := NewBuilder(through, 2).Build(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, written, 4)

	require.NoError(t, inMem.Walk(func(path string, e tracking.Entry) error {
		other, ok := again.Get(path)
		require.True(t, ok, path)
		require.Equal(t, e.Object, other.Object, path)
		other, ok = viaWrite.Get(path)
		require.True(t, ok, path)
		require.Equal(t, e.Object, other.Object, path)
		return nil
	}))
}

// TestBuildSymlinkHashesTargetBytes: a symlink becomes a
// Blob entry whose payload digest is the hash of the link target string.
func TestBuildSymlinkHashesTargetBytes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Symlink("target/path", filepath.Join(root, "link")))

	manifest, err := NewBuilder(InMemoryHasher{}, 1).Build(context.Background(), root)
	require.NoError(t, err)

	entry, ok := manifest.Get("link")
	require.True(t, ok)
	require.Equal(t, tracking.EntryBlob, entry.Kind)
	require.True(t, tracking.IsSymlink(entry.Mode))
	require.Equal(t, uint64(len("target/path")), entry.Size)

	want, _, err := encoding.Hash(strings.NewReader("target/path"))
	require.NoError(t, err)
	require.Equal(t, want, entry.Object)
}

func TestBuildRejectsUnsupportedSpecialFiles(t *testing.T) {
	root := t.TempDir()
	fifo := filepath.Join(root, "pipe")
	if err := unix.Mkfifo(fifo, 0o644); err != nil {
		t.Skipf("mkfifo not available: %v", err)
	}

	_, err := NewBuilder(InMemoryHasher{}, 1).Build(context.Background(), root)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported special file")
}
