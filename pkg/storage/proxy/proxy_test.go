package proxy

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/storage/mem"
)

func TestGetObjectFallsBackAndCachesIntoPrimary(t *testing.T) {
	ctx := context.Background()
	primary, secondary := mem.New(), mem.New()

	blob := &graph.Blob{Payload: encoding.Nil, Size: 5}
	digest, err := secondary.ObjectStore().WriteObject(ctx, blob)
	require.NoError(t, err)

	has, err := primary.ObjectStore().HasObject(ctx, digest)
	require.NoError(t, err)
	require.False(t, has)

	p := New(primary, secondary)
	got, err := p.ObjectStore().GetObject(ctx, digest)
	require.NoError(t, err)
	require.Equal(t, blob, got)

	has, err = primary.ObjectStore().HasObject(ctx, digest)
	require.NoError(t, err)
	require.True(t, has, "a read through the proxy should cache the object into primary")
}

func TestGetObjectServesPrimaryWithoutTouchingSecondary(t *testing.T) {
	ctx := context.Background()
	primary, secondary := mem.New(), mem.New()

	blob := &graph.Blob{Payload: encoding.Nil, Size: 5}
	digest, err := primary.ObjectStore().WriteObject(ctx, blob)
	require.NoError(t, err)

	p := New(primary, secondary)
	got, err := p.ObjectStore().GetObject(ctx, digest)
	require.NoError(t, err)
	require.Equal(t, blob, got)

	has, err := secondary.ObjectStore().HasObject(ctx, digest)
	require.NoError(t, err)
	require.False(t, has, "secondary must never be written to by a read")
}

func TestGetObjectMissingEverywhereReturnsError(t *testing.T) {
	ctx := context.Background()
	p := New(mem.New(), mem.New())

	_, err := p.ObjectStore().GetObject(ctx, encoding.Nil)
	require.Error(t, err)
}

func TestHasObjectChecksPrimaryThenSecondary(t *testing.T) {
	ctx := context.Background()
	primary, secondary := mem.New(), mem.New()

	blob := &graph.Blob{Payload: encoding.Nil, Size: 5}
	digest, err := secondary.ObjectStore().WriteObject(ctx, blob)
	require.NoError(t, err)

	p := New(primary, secondary)
	has, err := p.ObjectStore().HasObject(ctx, digest)
	require.NoError(t, err)
	require.True(t, has)
}

func TestIterObjectsOnlyWalksPrimary(t *testing.T) {
	ctx := context.Background()
	primary, secondary := mem.New(), mem.New()

	inPrimary := &graph.Blob{Payload: encoding.Nil, Size: 1}
	primaryDigest, err := primary.ObjectStore().WriteObject(ctx, inPrimary)
	require.NoError(t, err)

	inSecondary := &graph.Blob{Payload: encoding.Nil, Size: 2}
	_, err = secondary.ObjectStore().WriteObject(ctx, inSecondary)
	require.NoError(t, err)

	p := New(primary, secondary)
	seen := map[encoding.Digest]bool{}
	require.NoError(t, p.ObjectStore().IterObjects(ctx, func(d encoding.Digest) error {
		seen[d] = true
		return nil
	}))
	require.True(t, seen[primaryDigest])
	require.Len(t, seen, 1)
}

func TestOpenPayloadFallsBackAndCachesIntoPrimary(t *testing.T) {
	ctx := context.Background()
	primary, secondary := mem.New(), mem.New()

	digest, _, err := encoding.Hash(strings.NewReader("hello"))
	require.NoError(t, err)
	require.NoError(t, secondary.PayloadStore().WritePayload(ctx, digest, strings.NewReader("hello")))

	p := New(primary, secondary)
	r, err := p.PayloadStore().OpenPayload(ctx, digest)
	require.NoError(t, err)
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "hello", string(content))

	has, err := primary.PayloadStore().HasPayload(ctx, digest)
	require.NoError(t, err)
	require.True(t, has, "a read through the proxy should cache the payload into primary")
}

func TestTagStoreAndRendererDelegateToPrimary(t *testing.T) {
	primary, secondary := mem.New(), mem.New()
	p := New(primary, secondary)

	require.Same(t, primary.TagStore(), p.TagStore())
	require.Same(t, primary.Renderer(), p.Renderer())
}
