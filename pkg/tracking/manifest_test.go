package tracking

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMkdirsThenMkfile(t *testing.T) {
	m := NewManifest()
	_, err := m.Mkdirs("bin")
	require.NoError(t, err)
	_, err = m.Mkfile("bin/sh")
	require.NoError(t, err)

	entry, ok := m.Get("bin/sh")
	require.True(t, ok)
	require.Equal(t, EntryBlob, entry.Kind)
}

func TestMkfileMissingParent(t *testing.T) {
	m := NewManifest()
	_, err := m.Mkfile("bin/sh")
	require.ErrorIs(t, err, unix.ENOENT)
}

func TestMkdirExistsErrors(t *testing.T) {
	m := NewManifest()
	_, err := m.Mkdir("bin")
	require.NoError(t, err)
	_, err = m.Mkdir("bin")
	require.ErrorIs(t, err, unix.EEXIST)
}

func TestMknodParentNotDir(t *testing.T) {
	m := NewManifest()
	_, err := m.Mkfile("a")
	require.NoError(t, err)
	_, err = m.Mkfile("a/b")
	require.ErrorIs(t, err, unix.ENOTDIR)
}

func TestListDirSorted(t *testing.T) {
	m := NewManifest()
	_, _ = m.Mkdirs("x")
	_, _ = m.Mkfile("x/c")
	_, _ = m.Mkfile("x/a")
	_, _ = m.Mkfile("x/b")

	names, err := m.ListDir("x")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, names)
}

func TestWalkCanonicalOrder(t *testing.T) {
	m := NewManifest()
	_, _ = m.Mkdirs("bin")
	_, _ = m.Mkfile("bin/sh")
	_, _ = m.Mkdirs("etc")
	_, _ = m.Mkfile("etc/passwd")

	var paths []string
	err := m.Walk(func(path string, e Entry) error {
		paths = append(paths, path)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"bin", "bin/sh", "etc", "etc/passwd"}, paths)
}

func TestUpdatePreservesChildren(t *testing.T) {
	m := NewManifest()
	_, _ = m.Mkdirs("bin")
	_, _ = m.Mkfile("bin/sh")

	err := m.Update("bin", Entry{Kind: EntryTree, Mode: 0o700})
	require.NoError(t, err)

	entry, ok := m.Get("bin")
	require.True(t, ok)
	require.Equal(t, uint32(0o700), entry.Mode)
	_, ok = entry.Children["sh"]
	require.True(t, ok)
}

func TestInsertReconstructsTree(t *testing.T) {
	m := NewManifest()
	m.Insert("bin", Entry{Kind: EntryTree, Mode: 0o755})
	m.Insert("bin/sh", Entry{Kind: EntryBlob, Mode: 0o755, Size: 10})

	entry, ok := m.Get("bin/sh")
	require.True(t, ok)
	require.Equal(t, uint64(10), entry.Size)
}
