package rpc

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/storage/fs"
	"github.com/spfs-project/spfs/pkg/storage/mem"
)

func newTestServer(t *testing.T) (*Client, *mem.Repository) {
	t.Helper()
	backing := mem.New()
	srv := httptest.NewServer(NewServer(backing).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), backing
}

func TestClientObjectPutGetHead(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestServer(t)

	blob := &graph.Blob{Payload: encoding.Nil, Size: 5}
	digest, err := client.ObjectStore().WriteObject(ctx, blob)
	require.NoError(t, err)

	has, err := client.ObjectStore().HasObject(ctx, digest)
	require.NoError(t, err)
	require.True(t, has)

	got, err := client.ObjectStore().GetObject(ctx, digest)
	require.NoError(t, err)
	require.Equal(t, blob, got)
}

func TestClientGetObjectUnknownReturnsNotFoundError(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestServer(t)

	_, err := client.ObjectStore().GetObject(ctx, encoding.Nil)
	require.Error(t, err)
}

func TestClientPayloadUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestServer(t)

	digest, _, err := encoding.Hash(strings.NewReader("hello world"))
	require.NoError(t, err)

	require.NoError(t, client.PayloadStore().WritePayload(ctx, digest, strings.NewReader("hello world")))

	has, err := client.PayloadStore().HasPayload(ctx, digest)
	require.NoError(t, err)
	require.True(t, has)

	r, err := client.PayloadStore().OpenPayload(ctx, digest)
	require.NoError(t, err)
	defer r.Close()

	content, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))
}

func TestClientTagPushAndResolve(t *testing.T) {
	client, _ := newTestServer(t)

	digest, _, err := encoding.Hash(strings.NewReader("hello"))
	require.NoError(t, err)

	entry, err := client.TagStore().PushWithMessage("acme", "widget", digest, "tester", "first push")
	require.NoError(t, err)
	require.Equal(t, digest, entry.Target)
	require.Equal(t, "tester", entry.User)

	resolved, err := client.TagStore().Resolve(fs.TagSpec{Org: "acme", Name: "widget", Version: 0})
	require.NoError(t, err)
	require.Equal(t, digest, resolved.Target)

	names, err := client.TagStore().ListNames()
	require.NoError(t, err)
	require.Contains(t, names, "acme/widget")
}

func TestClientRendererFailsWithNoRenderStorage(t *testing.T) {
	client, _ := newTestServer(t)
	renderer := client.Renderer()

	_, err := renderer.HasRender(encoding.Nil)
	require.Error(t, err)
}

func TestServerBackedDirectlyByMemRepository(t *testing.T) {
	ctx := context.Background()
	backing := mem.New()
	srv := httptest.NewServer(NewServer(backing).Handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	blob := &graph.Blob{Payload: encoding.Nil, Size: 9}
	digest, err := client.ObjectStore().WriteObject(ctx, blob)
	require.NoError(t, err)

	has, err := backing.ObjectStore().HasObject(ctx, digest)
	require.NoError(t, err)
	require.True(t, has, "writes through the client must land in the server's backing repository")
}
