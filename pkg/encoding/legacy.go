package encoding

import (
	"encoding/binary"
	"io"

	"github.com/spfs-project/spfs/pkg/spfserrors"
)

// legacy implements the original length-prefixed field stream body
// encoding. It is kept byte-for-byte stable: existing repositories written
// under this regime must continue to decode identically.

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeDigest(w io.Writer, d Digest) error {
	_, err := w.Write(d[:])
	return err
}

func readDigest(r io.Reader) (Digest, error) {
	var d Digest
	_, err := io.ReadFull(r, d[:])
	return d, err
}

// EncodeLegacyBlob writes a BlobRecord in the legacy encoding.
func EncodeLegacyBlob(w io.Writer, rec BlobRecord) error {
	if err := writeDigest(w, rec.Payload); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, rec.Size)
}

// DecodeLegacyBlob reads a BlobRecord in the legacy encoding.
func DecodeLegacyBlob(r io.Reader) (BlobRecord, error) {
	var rec BlobRecord
	d, err := readDigest(r)
	if err != nil {
		return rec, invalidLegacy(err)
	}
	rec.Payload = d
	if err := binary.Read(r, binary.BigEndian, &rec.Size); err != nil {
		return rec, invalidLegacy(err)
	}
	return rec, nil
}

// EncodeLegacyLayer writes a LayerRecord in the legacy encoding.
func EncodeLegacyLayer(w io.Writer, rec LayerRecord) error {
	return writeDigest(w, rec.Manifest)
}

// DecodeLegacyLayer reads a LayerRecord in the legacy encoding.
func DecodeLegacyLayer(r io.Reader) (LayerRecord, error) {
	d, err := readDigest(r)
	if err != nil {
		return LayerRecord{}, invalidLegacy(err)
	}
	return LayerRecord{Manifest: d}, nil
}

// EncodeLegacyPlatform writes a PlatformRecord in the legacy encoding.
func EncodeLegacyPlatform(w io.Writer, rec PlatformRecord) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(rec.Stack))); err != nil {
		return err
	}
	for _, d := range rec.Stack {
		if err := writeDigest(w, d); err != nil {
			return err
		}
	}
	return nil
}

// DecodeLegacyPlatform reads a PlatformRecord in the legacy encoding.
func DecodeLegacyPlatform(r io.Reader) (PlatformRecord, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return PlatformRecord{}, invalidLegacy(err)
	}
	stack := make([]Digest, n)
	for i := range stack {
		d, err := readDigest(r)
		if err != nil {
			return PlatformRecord{}, invalidLegacy(err)
		}
		stack[i] = d
	}
	return PlatformRecord{Stack: stack}, nil
}

// EncodeLegacyManifest writes a ManifestRecord in the legacy encoding: a
// count followed by each entry's fields in canonical order.
func EncodeLegacyManifest(w io.Writer, rec ManifestRecord) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(rec.Entries))); err != nil {
		return err
	}
	for _, e := range rec.Entries {
		if err := writeBytes(w, []byte(e.Path)); err != nil {
			return err
		}
		if _, err := w.Write([]byte{byte(e.Kind)}); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, e.Mode); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, e.Size); err != nil {
			return err
		}
		if err := writeDigest(w, e.Object); err != nil {
			return err
		}
	}
	return nil
}

// DecodeLegacyManifest reads a ManifestRecord in the legacy encoding.
func DecodeLegacyManifest(r io.Reader) (ManifestRecord, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return ManifestRecord{}, invalidLegacy(err)
	}
	entries := make([]ManifestEntryRecord, n)
	for i := range entries {
		path, err := readBytes(r)
		if err != nil {
			return ManifestRecord{}, invalidLegacy(err)
		}
		var kindByte [1]byte
		if _, err := io.ReadFull(r, kindByte[:]); err != nil {
			return ManifestRecord{}, invalidLegacy(err)
		}
		var mode uint32
		if err := binary.Read(r, binary.BigEndian, &mode); err != nil {
			return ManifestRecord{}, invalidLegacy(err)
		}
		var size uint64
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return ManifestRecord{}, invalidLegacy(err)
		}
		digest, err := readDigest(r)
		if err != nil {
			return ManifestRecord{}, invalidLegacy(err)
		}
		entries[i] = ManifestEntryRecord{
			Path:   string(path),
			Kind:   EntryKind(kindByte[0]),
			Mode:   mode,
			Size:   size,
			Object: digest,
		}
	}
	return ManifestRecord{Entries: entries}, nil
}

func invalidLegacy(err error) error {
	return spfserrors.NewObjectError(spfserrors.InvalidEncoding, err.Error())
}
