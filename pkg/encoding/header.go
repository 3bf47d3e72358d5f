package encoding

import (
	"bytes"
	"io"

	"github.com/spfs-project/spfs/pkg/spfserrors"
)

// magic identifies the start of a graph object's canonical encoding.
var magic = [4]byte{'S', 'P', 'F', 'S'}

// Kind identifies which of the four graph object variants a header
// describes.
type Kind uint8

const (
	KindBlob Kind = iota
	KindManifest
	KindLayer
	KindPlatform
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "Blob"
	case KindManifest:
		return "Manifest"
	case KindLayer:
		return "Layer"
	case KindPlatform:
		return "Platform"
	default:
		return "Unknown"
	}
}

// SchemaVersion selects which body encoding regime follows the header.
type SchemaVersion uint8

const (
	// SchemaLegacy is the original length-prefixed field stream.
	SchemaLegacy SchemaVersion = 1
	// SchemaFlat is the modern zero-copy table format (flatbuffers-backed).
	SchemaFlat SchemaVersion = 2
)

// DigestStrategy identifies the hash algorithm used to produce digests
// referenced by a body. Only one strategy exists today; the byte is
// reserved so that a future algorithm change fails loudly instead of
// silently misinterpreting bytes.
type DigestStrategy uint8

const (
	DigestStrategySHA256 DigestStrategy = 0
)

// Header is the fixed 7-byte preamble of every object's canonical
// encoding: magic (4), schema version (1), kind (1), digest strategy (1).
type Header struct {
	Version  SchemaVersion
	Kind     Kind
	Strategy DigestStrategy
}

const headerLen = 7

// WriteHeader writes h's wire form to w.
func WriteHeader(w io.Writer, h Header) error {
	buf := make([]byte, 0, headerLen)
	buf = append(buf, magic[:]...)
	buf = append(buf, byte(h.Version), byte(h.Kind), byte(h.Strategy))
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates the header at the start of r.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return Header{}, spfserrors.NewObjectError(spfserrors.HeaderTooShort, err.Error())
		}
		return Header{}, err
	}
	if !bytes.Equal(buf[:4], magic[:]) {
		return Header{}, spfserrors.NewObjectError(spfserrors.HeaderMissingPrefix, "missing SPFS magic prefix")
	}
	version := SchemaVersion(buf[4])
	if version != SchemaLegacy && version != SchemaFlat {
		return Header{}, spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unrecognized schema version byte")
	}
	kind := Kind(buf[5])
	if kind > KindPlatform {
		return Header{}, spfserrors.NewObjectError(spfserrors.UnexpectedKind, "unrecognized object kind byte")
	}
	strategy := DigestStrategy(buf[6])
	if strategy != DigestStrategySHA256 {
		return Header{}, spfserrors.NewObjectError(spfserrors.UnknownDigestStrategy, "unrecognized digest strategy byte")
	}
	return Header{Version: version, Kind: kind, Strategy: strategy}, nil
}
