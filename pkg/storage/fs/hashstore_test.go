package fs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/spfserrors"
)

// writeDigest stages an arbitrary (digest, content) pair directly, bypassing
// content-hash derivation so tests can construct digests that share an exact
// prefix rather than hoping for one.
func writeDigest(t *testing.T, store *HashStore, digest encoding.Digest, content string) {
	t.Helper()
	require.NoError(t, store.Write(digest, strings.NewReader(content)))
}

// TestHashStoreResolvePartial: a prefix matching
// more than one stored digest is ambiguous, a prefix matching exactly one is
// resolved uniquely, and the full digest string always resolves to itself.
func TestHashStoreResolvePartial(t *testing.T) {
	ctx := context.Background()
	store, err := NewHashStore(t.TempDir())
	require.NoError(t, err)

	// a and b share every byte except the last, so their canonical base32
	// strings are guaranteed to share a long common prefix.
	var a, b encoding.Digest
	for i := range a {
		a[i] = 0x42
		b[i] = 0x42
	}
	a[len(a)-1] = 0x01
	b[len(b)-1] = 0x02
	require.NotEqual(t, a, b)

	writeDigest(t, store, a, "content-a")
	writeDigest(t, store, b, "content-b")

	commonLen := 0
	for commonLen < len(a.String()) && a.String()[commonLen] == b.String()[commonLen] {
		commonLen++
	}
	require.Greater(t, commonLen, 3, "test digests must share more than a trivial prefix")
	ambiguousPrefix := a.String()[:3]

	_, err = store.ResolvePartial(ctx, ambiguousPrefix)
	require.Error(t, err)
	ambiguous, ok := err.(*spfserrors.AmbiguousReference)
	require.True(t, ok, "expected *spfserrors.AmbiguousReference, got %T", err)
	require.Equal(t, 2, ambiguous.Matches)

	uniquePrefix := a.String()[:commonLen+1]
	resolved, err := store.ResolvePartial(ctx, uniquePrefix)
	require.NoError(t, err)
	require.Equal(t, a, resolved)

	resolved, err = store.ResolvePartial(ctx, a.String())
	require.NoError(t, err)
	require.Equal(t, a, resolved)

	_, err = store.ResolvePartial(ctx, strings.Repeat("Z", 8))
	require.Error(t, err)
	_, ok = err.(*spfserrors.UnknownReference)
	require.True(t, ok, "expected *spfserrors.UnknownReference, got %T", err)
}
