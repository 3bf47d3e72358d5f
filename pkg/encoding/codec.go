package encoding

import (
	"bytes"
	"io"

	"github.com/spfs-project/spfs/pkg/spfserrors"
)

// DefaultSchemaVersion is the encoding regime new objects are written with.
// Existing repositories may still contain SchemaLegacy bodies; spfs migrate
// rewrites them to DefaultSchemaVersion in place.
const DefaultSchemaVersion = SchemaFlat

// EncodeBlob writes a complete Blob object (header + body) to w.
func EncodeBlob(w io.Writer, rec BlobRecord, version SchemaVersion) error {
	if err := WriteHeader(w, Header{Version: version, Kind: KindBlob, Strategy: DigestStrategySHA256}); err != nil {
		return err
	}
	switch version {
	case SchemaLegacy:
		return EncodeLegacyBlob(w, rec)
	case SchemaFlat:
		_, err := w.Write(EncodeFlatBlob(rec))
		return err
	default:
		return spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unsupported schema version")
	}
}

// EncodeLayer writes a complete Layer object to w.
func EncodeLayer(w io.Writer, rec LayerRecord, version SchemaVersion) error {
	if err := WriteHeader(w, Header{Version: version, Kind: KindLayer, Strategy: DigestStrategySHA256}); err != nil {
		return err
	}
	switch version {
	case SchemaLegacy:
		return EncodeLegacyLayer(w, rec)
	case SchemaFlat:
		_, err := w.Write(EncodeFlatLayer(rec))
		return err
	default:
		return spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unsupported schema version")
	}
}

// EncodePlatform writes a complete Platform object to w.
func EncodePlatform(w io.Writer, rec PlatformRecord, version SchemaVersion) error {
	if err := WriteHeader(w, Header{Version: version, Kind: KindPlatform, Strategy: DigestStrategySHA256}); err != nil {
		return err
	}
	switch version {
	case SchemaLegacy:
		return EncodeLegacyPlatform(w, rec)
	case SchemaFlat:
		_, err := w.Write(EncodeFlatPlatform(rec))
		return err
	default:
		return spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unsupported schema version")
	}
}

// EncodeManifest writes a complete Manifest object to w.
func EncodeManifest(w io.Writer, rec ManifestRecord, version SchemaVersion) error {
	if err := WriteHeader(w, Header{Version: version, Kind: KindManifest, Strategy: DigestStrategySHA256}); err != nil {
		return err
	}
	switch version {
	case SchemaLegacy:
		return EncodeLegacyManifest(w, rec)
	case SchemaFlat:
		_, err := w.Write(EncodeFlatManifest(rec))
		return err
	default:
		return spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unsupported schema version")
	}
}

// DecodeAny reads a header from r followed by the remainder of the stream,
// and returns the header together with the raw, still-encoded body. Callers
// use Header.Kind to dispatch to the matching DecodeBlobBody/
// DecodeLayerBody/DecodePlatformBody/DecodeManifestBody below.
func DecodeAny(r io.Reader) (Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return Header{}, nil, err
	}
	return h, body, nil
}

// DecodeBlob reads a complete Blob object from r.
func DecodeBlob(r io.Reader) (BlobRecord, error) {
	h, body, err := DecodeAny(r)
	if err != nil {
		return BlobRecord{}, err
	}
	if h.Kind != KindBlob {
		return BlobRecord{}, spfserrors.NewObjectError(spfserrors.UnexpectedKind, "expected Blob, got "+h.Kind.String())
	}
	return decodeBlobBody(h.Version, body)
}

func decodeBlobBody(version SchemaVersion, body []byte) (BlobRecord, error) {
	return DecodeBlobBody(version, body)
}

// DecodeBlobBody decodes a Blob body (without header) under the given
// schema version. Exposed so callers that already hold a parsed Header can
// dispatch without re-encoding it.
func DecodeBlobBody(version SchemaVersion, body []byte) (BlobRecord, error) {
	switch version {
	case SchemaLegacy:
		return DecodeLegacyBlob(bytes.NewReader(body))
	case SchemaFlat:
		return DecodeFlatBlob(body)
	default:
		return BlobRecord{}, spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unsupported schema version")
	}
}

// DecodeLayerBody decodes a Layer body (without header) under the given
// schema version.
func DecodeLayerBody(version SchemaVersion, body []byte) (LayerRecord, error) {
	switch version {
	case SchemaLegacy:
		return DecodeLegacyLayer(bytes.NewReader(body))
	case SchemaFlat:
		return DecodeFlatLayer(body)
	default:
		return LayerRecord{}, spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unsupported schema version")
	}
}

// DecodePlatformBody decodes a Platform body (without header) under the
// given schema version.
func DecodePlatformBody(version SchemaVersion, body []byte) (PlatformRecord, error) {
	switch version {
	case SchemaLegacy:
		return DecodeLegacyPlatform(bytes.NewReader(body))
	case SchemaFlat:
		return DecodeFlatPlatform(body)
	default:
		return PlatformRecord{}, spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unsupported schema version")
	}
}

// DecodeManifestBody decodes a Manifest body (without header) under the
// given schema version.
func DecodeManifestBody(version SchemaVersion, body []byte) (ManifestRecord, error) {
	switch version {
	case SchemaLegacy:
		return DecodeLegacyManifest(bytes.NewReader(body))
	case SchemaFlat:
		return DecodeFlatManifest(body)
	default:
		return ManifestRecord{}, spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unsupported schema version")
	}
}

// DecodeLayer reads a complete Layer object from r.
func DecodeLayer(r io.Reader) (LayerRecord, error) {
	h, body, err := DecodeAny(r)
	if err != nil {
		return LayerRecord{}, err
	}
	if h.Kind != KindLayer {
		return LayerRecord{}, spfserrors.NewObjectError(spfserrors.UnexpectedKind, "expected Layer, got "+h.Kind.String())
	}
	switch h.Version {
	case SchemaLegacy:
		return DecodeLegacyLayer(bytes.NewReader(body))
	case SchemaFlat:
		return DecodeFlatLayer(body)
	default:
		return LayerRecord{}, spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unsupported schema version")
	}
}

// DecodePlatform reads a complete Platform object from r.
func DecodePlatform(r io.Reader) (PlatformRecord, error) {
	h, body, err := DecodeAny(r)
	if err != nil {
		return PlatformRecord{}, err
	}
	if h.Kind != KindPlatform {
		return PlatformRecord{}, spfserrors.NewObjectError(spfserrors.UnexpectedKind, "expected Platform, got "+h.Kind.String())
	}
	switch h.Version {
	case SchemaLegacy:
		return DecodeLegacyPlatform(bytes.NewReader(body))
	case SchemaFlat:
		return DecodeFlatPlatform(body)
	default:
		return PlatformRecord{}, spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unsupported schema version")
	}
}

// DecodeManifest reads a complete Manifest object from r.
func DecodeManifest(r io.Reader) (ManifestRecord, error) {
	h, body, err := DecodeAny(r)
	if err != nil {
		return ManifestRecord{}, err
	}
	if h.Kind != KindManifest {
		return ManifestRecord{}, spfserrors.NewObjectError(spfserrors.UnexpectedKind, "expected Manifest, got "+h.Kind.String())
	}
	switch h.Version {
	case SchemaLegacy:
		return DecodeLegacyManifest(bytes.NewReader(body))
	case SchemaFlat:
		return DecodeFlatManifest(body)
	default:
		return ManifestRecord{}, spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unsupported schema version")
	}
}
