package encoding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spfs-project/spfs/pkg/spfserrors"
)

func digestOf(b byte) Digest {
	var d Digest
	d[0] = b
	return d
}

func TestBlobRoundTrip(t *testing.T) {
	for _, version := range []SchemaVersion{SchemaLegacy, SchemaFlat} {
		rec := BlobRecord{Payload: digestOf(0x11), Size: 4096}
		var buf bytes.Buffer
		require.NoError(t, EncodeBlob(&buf, rec, version))
		got, err := DecodeBlob(&buf)
		require.NoError(t, err)
		require.Equal(t, rec, got)
	}
}

func TestLayerRoundTrip(t *testing.T) {
	for _, version := range []SchemaVersion{SchemaLegacy, SchemaFlat} {
		rec := LayerRecord{Manifest: digestOf(0x22)}
		var buf bytes.Buffer
		require.NoError(t, EncodeLayer(&buf, rec, version))
		got, err := DecodeLayer(&buf)
		require.NoError(t, err)
		require.Equal(t, rec, got)
	}
}

func TestPlatformRoundTrip(t *testing.T) {
	for _, version := range []SchemaVersion{SchemaLegacy, SchemaFlat} {
		rec := PlatformRecord{Stack: []Digest{digestOf(0x01), digestOf(0x02), digestOf(0x03)}}
		var buf bytes.Buffer
		require.NoError(t, EncodePlatform(&buf, rec, version))
		got, err := DecodePlatform(&buf)
		require.NoError(t, err)
		require.Equal(t, rec, got)
	}
}

func TestPlatformRoundTripEmpty(t *testing.T) {
	for _, version := range []SchemaVersion{SchemaLegacy, SchemaFlat} {
		rec := PlatformRecord{}
		var buf bytes.Buffer
		require.NoError(t, EncodePlatform(&buf, rec, version))
		got, err := DecodePlatform(&buf)
		require.NoError(t, err)
		require.Empty(t, got.Stack)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	for _, version := range []SchemaVersion{SchemaLegacy, SchemaFlat} {
		rec := ManifestRecord{Entries: []ManifestEntryRecord{
			{Path: "bin", Kind: EntryTree, Mode: 0o755},
			{Path: "bin/sh", Kind: EntryBlob, Mode: 0o755, Size: 123, Object: digestOf(0x33)},
			{Path: "etc/.wh.removed", Kind: EntryMask},
		}}
		var buf bytes.Buffer
		require.NoError(t, EncodeManifest(&buf, rec, version))
		got, err := DecodeManifest(&buf)
		require.NoError(t, err)
		require.Equal(t, rec, got)
	}
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewReader([]byte("XXXX\x02\x00\x00"))
	_, err := ReadHeader(buf)
	require.Error(t, err)
	objErr, ok := err.(*spfserrors.ObjectError)
	require.True(t, ok)
	require.Equal(t, spfserrors.HeaderMissingPrefix, objErr.Kind)
}

func TestReadHeaderRejectsTruncated(t *testing.T) {
	buf := bytes.NewReader([]byte("SPF"))
	_, err := ReadHeader(buf)
	require.Error(t, err)
	objErr, ok := err.(*spfserrors.ObjectError)
	require.True(t, ok)
	require.Equal(t, spfserrors.HeaderTooShort, objErr.Kind)
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeLayer(&buf, LayerRecord{Manifest: digestOf(0x44)}, SchemaFlat))
	_, err := DecodeBlob(&buf)
	require.Error(t, err)
}
