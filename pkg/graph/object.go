// Package graph defines the immutable object graph that spfs stores persist:
// Blob, Manifest, Layer and Platform, linked by content digest.
package graph

import (
	"io"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/spfserrors"
	"github.com/spfs-project/spfs/pkg/tracking"
)

// Object is any of the four graph object kinds. A concrete Object always
// also implements one of Blob, Manifest, Layer or Platform below; Object
// itself only carries what every kind has in common.
type Object interface {
	// Kind identifies which concrete object this is.
	Kind() encoding.Kind

	// Encode writes the object's canonical body (without header) using the
	// given schema version.
	Encode(w io.Writer, version encoding.SchemaVersion) error

	// ChildObjects returns the digests of every object this one directly
	// references, for graph traversal. A Blob has no child objects.
	ChildObjects() []encoding.Digest
}

// Blob is a leaf object: a reference to a payload stored in the payload
// store, together with its size.
type Blob struct {
	Payload encoding.Digest
	Size    uint64
}

func (b *Blob) Kind() encoding.Kind { return encoding.KindBlob }

func (b *Blob) Encode(w io.Writer, version encoding.SchemaVersion) error {
	return encodeBody(w, version, encoding.BlobRecord{Payload: b.Payload, Size: b.Size}, encoding.EncodeLegacyBlob, encoding.EncodeFlatBlob)
}

// encodeBody writes rec's body, without header, under version.
func encodeBody[R any](w io.Writer, version encoding.SchemaVersion, rec R, legacy func(io.Writer, R) error, flat func(R) []byte) error {
	switch version {
	case encoding.SchemaLegacy:
		return legacy(w, rec)
	case encoding.SchemaFlat:
		_, err := w.Write(flat(rec))
		return err
	default:
		return spfserrors.NewObjectError(spfserrors.UnknownEncoding, "unsupported schema version")
	}
}

func (b *Blob) ChildObjects() []encoding.Digest { return nil }

// Manifest is the flattened, digest-stable encoding of a tracking.Manifest
// tree.
type Manifest struct {
	Entries []encoding.ManifestEntryRecord
}

func (m *Manifest) Kind() encoding.Kind { return encoding.KindManifest }

func (m *Manifest) Encode(w io.Writer, version encoding.SchemaVersion) error {
	return encodeBody(w, version, encoding.ManifestRecord{Entries: m.Entries}, encoding.EncodeLegacyManifest, encoding.EncodeFlatManifest)
}

// ChildObjects returns the Blob object digest of every Blob entry. Tree and
// Mask entries do not reference a stored object.
func (m *Manifest) ChildObjects() []encoding.Digest {
	var out []encoding.Digest
	for _, e := range m.Entries {
		if e.Kind == encoding.EntryBlob && !e.Object.IsNil() {
			out = append(out, e.Object)
		}
	}
	return out
}

// ToTracking reconstructs a walkable tracking.Manifest from the flattened
// entry list.
func (m *Manifest) ToTracking() *tracking.Manifest {
	tm := tracking.NewManifest()
	for _, e := range m.Entries {
		tm.Insert(e.Path, tracking.Entry{
			Kind:   tracking.EntryKind(e.Kind),
			Mode:   e.Mode,
			Size:   e.Size,
			Object: e.Object,
		})
	}
	return tm
}

// NewManifest flattens a tracking.Manifest into its graph representation in
// canonical walk order.
func NewManifest(tm *tracking.Manifest) *Manifest {
	var entries []encoding.ManifestEntryRecord
	tm.Walk(func(path string, e tracking.Entry) error {
		entries = append(entries, encoding.ManifestEntryRecord{
			Path:   path,
			Kind:   encoding.EntryKind(e.Kind),
			Mode:   e.Mode,
			Size:   e.Size,
			Object: e.Object,
		})
		return nil
	})
	return &Manifest{Entries: entries}
}

// Layer wraps a single Manifest digest, the unit that composes into a
// Platform.
type Layer struct {
	Manifest encoding.Digest
}

func (l *Layer) Kind() encoding.Kind { return encoding.KindLayer }

func (l *Layer) Encode(w io.Writer, version encoding.SchemaVersion) error {
	return encodeBody(w, version, encoding.LayerRecord{Manifest: l.Manifest}, encoding.EncodeLegacyLayer, encoding.EncodeFlatLayer)
}

func (l *Layer) ChildObjects() []encoding.Digest { return []encoding.Digest{l.Manifest} }

// Platform is an ordered stack of Layer digests, bottom to top.
type Platform struct {
	Layers []encoding.Digest
}

func (p *Platform) Kind() encoding.Kind { return encoding.KindPlatform }

func (p *Platform) Encode(w io.Writer, version encoding.SchemaVersion) error {
	return encodeBody(w, version, encoding.PlatformRecord{Stack: p.Layers}, encoding.EncodeLegacyPlatform, encoding.EncodeFlatPlatform)
}

func (p *Platform) ChildObjects() []encoding.Digest { return p.Layers }

// DecodeObject reads a header-prefixed object from r and returns the
// concrete Object it describes.
func DecodeObject(r io.Reader) (Object, error) {
	h, body, err := encoding.DecodeAny(r)
	if err != nil {
		return nil, err
	}
	return decodeBody(h, body)
}

func decodeBody(h encoding.Header, body []byte) (Object, error) {
	switch h.Kind {
	case encoding.KindBlob:
		rec, err := encoding.DecodeBlobBody(h.Version, body)
		if err != nil {
			return nil, err
		}
		return &Blob{Payload: rec.Payload, Size: rec.Size}, nil
	case encoding.KindLayer:
		rec, err := encoding.DecodeLayerBody(h.Version, body)
		if err != nil {
			return nil, err
		}
		return &Layer{Manifest: rec.Manifest}, nil
	case encoding.KindPlatform:
		rec, err := encoding.DecodePlatformBody(h.Version, body)
		if err != nil {
			return nil, err
		}
		return &Platform{Layers: rec.Stack}, nil
	case encoding.KindManifest:
		rec, err := encoding.DecodeManifestBody(h.Version, body)
		if err != nil {
			return nil, err
		}
		return &Manifest{Entries: rec.Entries}, nil
	default:
		return nil, spfserrors.NewObjectError(spfserrors.UnexpectedKind, "unrecognized object kind")
	}
}
