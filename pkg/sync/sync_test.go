package sync

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/repo"
	"github.com/spfs-project/spfs/pkg/storage/fs"
	"github.com/spfs-project/spfs/pkg/storage/mem"
)

func writeBlob(t *testing.T, ctx context.Context, repository *fs.Repository, content string) *graph.Blob {
	t.Helper()
	digest, _, err := encoding.Hash(strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, repository.Payloads.WritePayload(ctx, digest, strings.NewReader(content)))
	return &graph.Blob{Payload: digest, Size: uint64(len(content))}
}

func buildPlatform(t *testing.T, ctx context.Context, repository *fs.Repository) encoding.Digest {
	t.Helper()
	blob := writeBlob(t, ctx, repository, "hello world")
	blobDigest, err := repository.Objects.WriteObject(ctx, blob)
	require.NoError(t, err)

	manifest := &graph.Manifest{Entries: []encoding.ManifestEntryRecord{
		{Path: "hello.txt", Kind: encoding.EntryBlob, Mode: 0o644, Size: blob.Size, Object: blobDigest},
	}}
	manifestDigest, err := repository.Objects.WriteObject(ctx, manifest)
	require.NoError(t, err)

	layer := &graph.Layer{Manifest: manifestDigest}
	layerDigest, err := repository.Objects.WriteObject(ctx, layer)
	require.NoError(t, err)

	platform := &graph.Platform{Layers: []encoding.Digest{layerDigest}}
	platformDigest, err := repository.Objects.WriteObject(ctx, platform)
	require.NoError(t, err)
	return platformDigest
}

func TestSyncCopiesFullClosureAndPayloads(t *testing.T) {
	ctx := context.Background()
	src, err := fs.Open(t.TempDir())
	require.NoError(t, err)
	dst, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	platformDigest := buildPlatform(t, ctx, src)

	report, err := Sync(ctx, repo.FromFS(src), repo.FromFS(dst), platformDigest, Options{})
	require.NoError(t, err)
	require.Equal(t, 4, report.ObjectsCopied) // platform, layer, manifest, blob
	require.Equal(t, 1, report.PayloadsCopied)

	has, err := dst.Objects.HasObject(ctx, platformDigest)
	require.NoError(t, err)
	require.True(t, has)
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src, err := fs.Open(t.TempDir())
	require.NoError(t, err)
	dst, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	platformDigest := buildPlatform(t, ctx, src)

	_, err = Sync(ctx, repo.FromFS(src), repo.FromFS(dst), platformDigest, Options{})
	require.NoError(t, err)

	report, err := Sync(ctx, repo.FromFS(src), repo.FromFS(dst), platformDigest, Options{})
	require.NoError(t, err)
	require.Equal(t, 0, report.ObjectsCopied)
	require.Equal(t, 0, report.PayloadsCopied)
}

func TestSyncForceRetransfers(t *testing.T) {
	ctx := context.Background()
	src, err := fs.Open(t.TempDir())
	require.NoError(t, err)
	dst, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	platformDigest := buildPlatform(t, ctx, src)

	_, err = Sync(ctx, repo.FromFS(src), repo.FromFS(dst), platformDigest, Options{})
	require.NoError(t, err)

	report, err := Sync(ctx, repo.FromFS(src), repo.FromFS(dst), platformDigest, Options{Force: true})
	require.NoError(t, err)
	require.Equal(t, 4, report.ObjectsCopied)
	require.Equal(t, 1, report.PayloadsCopied)
}

func TestSyncTagPushesOnlyAfterClosureCopied(t *testing.T) {
	ctx := context.Background()
	src, err := fs.Open(t.TempDir())
	require.NoError(t, err)
	dst, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	platformDigest := buildPlatform(t, ctx, src)
	_, err = src.Tags.Push("acme", "base", platformDigest)
	require.NoError(t, err)

	spec, err := fs.ParseTagSpec("acme/base")
	require.NoError(t, err)

	_, err = SyncTag(ctx, repo.FromFS(src), repo.FromFS(dst), spec, Options{})
	require.NoError(t, err)

	entry, err := dst.Tags.Resolve(spec)
	require.NoError(t, err)
	require.Equal(t, platformDigest, entry.Target)

	has, err := dst.Objects.HasObject(ctx, platformDigest)
	require.NoError(t, err)
	require.True(t, has)
}

func TestSyncPayloadRejectsMismatchedDigest(t *testing.T) {
	ctx := context.Background()
	src, err := fs.Open(t.TempDir())
	require.NoError(t, err)
	dst, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	// Write a payload in src under a digest that does not match its
	// content, the way a corrupted or maliciously crafted source
	// repository might; syncPayload must reject it once the bytes land on
	// dst and rehash to something else.
	wrongDigest, _, err := encoding.Hash(strings.NewReader("not the real content"))
	require.NoError(t, err)
	require.NoError(t, src.Payloads.WritePayload(ctx, wrongDigest, strings.NewReader("actual content")))

	_, err = syncPayload(ctx, repo.FromFS(src), repo.FromFS(dst), wrongDigest, false)
	require.Error(t, err)
}

// TestSyncThroughIntermediateRepository: syncing
// a tag into an intermediate backend of a different kind and onward to a
// second filesystem repository reproduces the full closure and keeps the
// tag resolvable there.
func TestSyncThroughIntermediateRepository(t *testing.T) {
	ctx := context.Background()
	fsA, err := fs.Open(t.TempDir())
	require.NoError(t, err)
	intermediate := mem.New()
	fsB, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	platformDigest := buildPlatform(t, ctx, fsA)
	_, err = fsA.Tags.Push("acme", "base", platformDigest)
	require.NoError(t, err)

	spec, err := fs.ParseTagSpec("acme/base")
	require.NoError(t, err)

	_, err = SyncTag(ctx, repo.FromFS(fsA), intermediate, spec, Options{})
	require.NoError(t, err)
	_, err = SyncTag(ctx, intermediate, repo.FromFS(fsB), spec, Options{})
	require.NoError(t, err)

	resolved, err := repo.ReadRef(ctx, repo.FromFS(fsB), "acme/base")
	require.NoError(t, err)
	require.Equal(t, platformDigest, resolved)

	count := 0
	require.NoError(t, graph.Walk(ctx, fsB.Objects, platformDigest, func(encoding.Digest, graph.Object) error {
		count++
		return nil
	}))
	require.Equal(t, 4, count)
}

func TestSyncAllSyncsEveryTag(t *testing.T) {
	ctx := context.Background()
	src, err := fs.Open(t.TempDir())
	require.NoError(t, err)
	dst, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	d1 := buildPlatform(t, ctx, src)
	_, err = src.Tags.Push("acme", "one", d1)
	require.NoError(t, err)

	report, err := SyncAll(ctx, repo.FromFS(src), repo.FromFS(dst), Options{})
	require.NoError(t, err)
	require.Equal(t, 4, report.ObjectsCopied)

	names, err := dst.Tags.ListNames()
	require.NoError(t, err)
	require.Equal(t, []string{"acme/one"}, names)
}
