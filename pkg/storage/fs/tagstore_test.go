package fs

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/spfserrors"
)

func digestOf(t *testing.T, content string) encoding.Digest {
	t.Helper()
	digest, _, err := encoding.Hash(strings.NewReader(content))
	require.NoError(t, err)
	return digest
}

// TestTagHistoryMonotonicity covers the tag-history property: after a push,
// version 0 is the new target and version 1 is the previous head, whose
// target is also the new entry's parent.
func TestTagHistoryMonotonicity(t *testing.T) {
	ts, err := NewTagStore(t.TempDir())
	require.NoError(t, err)

	first := digestOf(t, "first")
	second := digestOf(t, "second")

	_, err = ts.Resolve(TagSpec{Org: "env", Name: "main"})
	var unknown *spfserrors.UnknownReference
	require.ErrorAs(t, err, &unknown)

	entry, err := ts.Push("env", "main", first)
	require.NoError(t, err)
	require.Equal(t, encoding.Nil, entry.Parent)

	entry, err = ts.Push("env", "main", second)
	require.NoError(t, err)
	require.Equal(t, first, entry.Parent)

	head, err := ts.Resolve(TagSpec{Org: "env", Name: "main"})
	require.NoError(t, err)
	require.Equal(t, second, head.Target)

	prev, err := ts.Resolve(TagSpec{Org: "env", Name: "main", Version: 1})
	require.NoError(t, err)
	require.Equal(t, first, prev.Target)

	_, err = ts.Resolve(TagSpec{Org: "env", Name: "main", Version: 2})
	require.ErrorAs(t, err, &unknown)
}

func TestReadStreamIsNewestFirst(t *testing.T) {
	ts, err := NewTagStore(t.TempDir())
	require.NoError(t, err)

	var pushed []encoding.Digest
	for i := 0; i < 3; i++ {
		d := digestOf(t, fmt.Sprintf("rev-%d", i))
		pushed = append(pushed, d)
		_, err := ts.Push("env", "main", d)
		require.NoError(t, err)
	}

	stream, err := ts.ReadStream(TagSpec{Org: "env", Name: "main"})
	require.NoError(t, err)
	require.Len(t, stream, 3)
	require.Equal(t, pushed[2], stream[0].Target)
	require.Equal(t, pushed[1], stream[1].Target)
	require.Equal(t, pushed[0], stream[2].Target)
}

// TestPruneByVersion: pushing six times and pruning
// everything above version 2 leaves exactly versions 0, 1 and 2.
func TestPruneByVersion(t *testing.T) {
	ts, err := NewTagStore(t.TempDir())
	require.NoError(t, err)

	var pushed []encoding.Digest
	for i := 0; i < 6; i++ {
		d := digestOf(t, fmt.Sprintf("rev-%d", i))
		pushed = append(pushed, d)
		_, err := ts.Push("env", "main", d)
		require.NoError(t, err)
	}

	removed, err := ts.Prune("env", "main", func(version int, e TagEntry) bool {
		return version > 2
	})
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	stream, err := ts.ReadStream(TagSpec{Org: "env", Name: "main"})
	require.NoError(t, err)
	require.Len(t, stream, 3)
	require.Equal(t, pushed[5], stream[0].Target)
	require.Equal(t, pushed[4], stream[1].Target)
	require.Equal(t, pushed[3], stream[2].Target)
}

func TestRemoveVersionRewritesStream(t *testing.T) {
	ts, err := NewTagStore(t.TempDir())
	require.NoError(t, err)

	a := digestOf(t, "a")
	b := digestOf(t, "b")
	c := digestOf(t, "c")
	for _, d := range []encoding.Digest{a, b, c} {
		_, err := ts.Push("env", "main", d)
		require.NoError(t, err)
	}

	// Drop the middle version; head and oldest survive.
	require.NoError(t, ts.RemoveVersion(TagSpec{Org: "env", Name: "main", Version: 1}))

	stream, err := ts.ReadStream(TagSpec{Org: "env", Name: "main"})
	require.NoError(t, err)
	require.Len(t, stream, 2)
	require.Equal(t, c, stream[0].Target)
	require.Equal(t, a, stream[1].Target)
}

func TestLsListsFoldersAndTags(t *testing.T) {
	ts, err := NewTagStore(t.TempDir())
	require.NoError(t, err)

	_, err = ts.Push("env", "main", digestOf(t, "x"))
	require.NoError(t, err)
	_, err = ts.Push("env", "staging", digestOf(t, "y"))
	require.NoError(t, err)

	root, err := ts.Ls("")
	require.NoError(t, err)
	require.Equal(t, []EntryType{{Name: "env", Folder: true}}, root)

	children, err := ts.Ls("env")
	require.NoError(t, err)
	require.Equal(t, []EntryType{
		{Name: "main", Folder: false},
		{Name: "staging", Folder: false},
	}, children)
}

func TestFindByDigestMatchesOnlyNewestTarget(t *testing.T) {
	ts, err := NewTagStore(t.TempDir())
	require.NoError(t, err)

	old := digestOf(t, "old")
	head := digestOf(t, "head")

	_, err = ts.Push("env", "main", old)
	require.NoError(t, err)
	_, err = ts.Push("env", "main", head)
	require.NoError(t, err)
	_, err = ts.Push("env", "other", head)
	require.NoError(t, err)

	specs, err := ts.FindByDigest(head)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	specs, err = ts.FindByDigest(old)
	require.NoError(t, err)
	require.Empty(t, specs)
}

// TestConcurrentPushesSerialize confirms concurrent pushes to one stream
// never interleave partial writes: every pushed target appears exactly once
// and each entry's parent is its on-disk predecessor's target.
func TestConcurrentPushesSerialize(t *testing.T) {
	ts, err := NewTagStore(t.TempDir())
	require.NoError(t, err)

	const writers = 8
	targets := make([]encoding.Digest, writers)
	for i := range targets {
		targets[i] = digestOf(t, fmt.Sprintf("writer-%d", i))
	}

	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.Push("env", "main", targets[i])
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := ts.History("env", "main")
	require.NoError(t, err)
	require.Len(t, entries, writers)

	seen := map[encoding.Digest]bool{}
	prev := encoding.Nil
	for _, e := range entries {
		require.False(t, seen[e.Target])
		seen[e.Target] = true
		require.Equal(t, prev, e.Parent)
		prev = e.Target
	}
}
