package fs

import (
	"bytes"
	"context"
	"time"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
)

// ObjectDatabase is a graph.Database backed by a HashStore of complete,
// header-prefixed object encodings.
type ObjectDatabase struct {
	store *HashStore
}

// NewObjectDatabase returns an ObjectDatabase rooted at root (typically
// "<repository>/objects").
func NewObjectDatabase(root string) (*ObjectDatabase, error) {
	store, err := NewHashStore(root)
	if err != nil {
		return nil, err
	}
	return &ObjectDatabase{store: store}, nil
}

var _ graph.Database = (*ObjectDatabase)(nil)

func (db *ObjectDatabase) GetObject(ctx context.Context, digest encoding.Digest) (graph.Object, error) {
	f, err := db.store.Open(digest)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return graph.DecodeObject(f)
}

func (db *ObjectDatabase) WriteObject(ctx context.Context, obj graph.Object) (encoding.Digest, error) {
	digest, err := graph.ComputeDigest(obj)
	if err != nil {
		return encoding.Digest{}, err
	}
	if has, err := db.store.Has(digest); err != nil {
		return encoding.Digest{}, err
	} else if has {
		return digest, nil
	}

	var buf bytes.Buffer
	if err := encoding.WriteHeader(&buf, encoding.Header{
		Version:  encoding.SchemaFlat,
		Kind:     obj.Kind(),
		Strategy: encoding.DigestStrategySHA256,
	}); err != nil {
		return encoding.Digest{}, err
	}
	if err := obj.Encode(&buf, encoding.SchemaFlat); err != nil {
		return encoding.Digest{}, err
	}
	if err := db.store.Write(digest, bytes.NewReader(buf.Bytes())); err != nil {
		return encoding.Digest{}, err
	}
	return digest, nil
}

func (db *ObjectDatabase) HasObject(ctx context.Context, digest encoding.Digest) (bool, error) {
	return db.store.Has(digest)
}

func (db *ObjectDatabase) RemoveObject(ctx context.Context, digest encoding.Digest) error {
	return db.store.Remove(digest)
}

func (db *ObjectDatabase) IterObjects(ctx context.Context, fn func(encoding.Digest) error) error {
	return db.store.Iter(ctx, fn)
}

// ObjectModTime returns when digest was last written, for age-gated cleanup.
func (db *ObjectDatabase) ObjectModTime(digest encoding.Digest) (time.Time, error) {
	return db.store.ModTime(digest)
}

// ResolvePartial resolves a partial digest prefix against the underlying
// store; see HashStore.ResolvePartial.
func (db *ObjectDatabase) ResolvePartial(ctx context.Context, prefix string) (encoding.Digest, error) {
	return db.store.ResolvePartial(ctx, prefix)
}

// HeaderVersion reports the schema version the stored copy of digest was
// actually written with, which migrate needs to decide whether an object
// requires rewriting: ComputeDigest and GetObject both treat schema as
// transparent, but a migration sweep has to know what's on disk today.
func (db *ObjectDatabase) HeaderVersion(digest encoding.Digest) (encoding.SchemaVersion, error) {
	f, err := db.store.Open(digest)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	h, err := encoding.ReadHeader(f)
	if err != nil {
		return 0, err
	}
	return h.Version, nil
}

// RewriteFlat decodes digest's stored object (whatever schema it is
// currently encoded with) and rewrites it at the modern flat schema,
// in place under the same digest: migrating an object's encoding never
// changes the digest it is filed under, since ComputeDigest always hashes
// the flat form regardless of what is on disk.
func (db *ObjectDatabase) RewriteFlat(ctx context.Context, digest encoding.Digest) error {
	obj, err := db.GetObject(ctx, digest)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := encoding.WriteHeader(&buf, encoding.Header{
		Version:  encoding.SchemaFlat,
		Kind:     obj.Kind(),
		Strategy: encoding.DigestStrategySHA256,
	}); err != nil {
		return err
	}
	if err := obj.Encode(&buf, encoding.SchemaFlat); err != nil {
		return err
	}
	return db.store.overwrite(digest, &buf)
}
