package migrate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/storage/fs"
)

// writeLegacyBlob stages a Blob object encoded with SchemaLegacy directly
// into repo's object store, bypassing ObjectDatabase.WriteObject (which
// always writes SchemaFlat), so the migrate sweep has something to do.
func writeLegacyBlob(t *testing.T, repo *fs.Repository, payload encoding.Digest, size uint64) encoding.Digest {
	t.Helper()
	blob := &graph.Blob{Payload: payload, Size: size}
	digest, err := graph.ComputeDigest(blob)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, encoding.WriteHeader(&buf, encoding.Header{
		Version:  encoding.SchemaLegacy,
		Kind:     encoding.KindBlob,
		Strategy: encoding.DigestStrategySHA256,
	}))
	require.NoError(t, blob.Encode(&buf, encoding.SchemaLegacy))

	hex := digest.Hex()
	shardDir := filepath.Join(repo.Root, "objects", hex[:2])
	require.NoError(t, os.MkdirAll(shardDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(shardDir, hex[2:]), buf.Bytes(), 0o644))
	return digest
}

func TestMigrateRewritesLegacyObjectsInPlace(t *testing.T) {
	ctx := context.Background()
	repo, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	payload, _, err := encoding.Hash(strings.NewReader("hello"))
	require.NoError(t, err)
	require.NoError(t, repo.Payloads.WritePayload(ctx, payload, strings.NewReader("hello")))

	legacyDigest := writeLegacyBlob(t, repo, payload, 5)

	version, err := repo.Objects.HeaderVersion(legacyDigest)
	require.NoError(t, err)
	require.Equal(t, encoding.SchemaLegacy, version)

	report, err := Migrate(ctx, repo)
	require.NoError(t, err)
	require.Equal(t, 1, report.Scanned)
	require.Equal(t, 1, report.Rewritten)

	version, err = repo.Objects.HeaderVersion(legacyDigest)
	require.NoError(t, err)
	require.Equal(t, encoding.SchemaFlat, version)

	obj, err := repo.Objects.GetObject(ctx, legacyDigest)
	require.NoError(t, err)
	blob, ok := obj.(*graph.Blob)
	require.True(t, ok)
	require.Equal(t, payload, blob.Payload)
	require.Equal(t, uint64(5), blob.Size)

	recomputed, err := graph.ComputeDigest(blob)
	require.NoError(t, err)
	require.Equal(t, legacyDigest, recomputed)

	stored, err := ReadVersion(repo.Root)
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, stored)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	payload, _, err := encoding.Hash(strings.NewReader("world"))
	require.NoError(t, err)
	require.NoError(t, repo.Payloads.WritePayload(ctx, payload, strings.NewReader("world")))
	_, err = repo.Objects.WriteObject(ctx, &graph.Blob{Payload: payload, Size: 5})
	require.NoError(t, err)

	report, err := Migrate(ctx, repo)
	require.NoError(t, err)
	require.Equal(t, 1, report.Scanned)
	require.Equal(t, 0, report.Rewritten)

	report, err = Migrate(ctx, repo)
	require.NoError(t, err)
	require.Equal(t, 0, report.Rewritten)
}
