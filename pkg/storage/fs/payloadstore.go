package fs

import (
	"context"
	"io"
	"time"

	"github.com/spfs-project/spfs/pkg/encoding"
)

// PayloadStore holds the actual file contents Blob objects reference,
// separate from the object database so payloads (large) and objects
// (small, structural) can be swept and synced independently.
type PayloadStore struct {
	store *HashStore
}

// NewPayloadStore returns a PayloadStore rooted at root (typically
// "<repository>/payloads").
func NewPayloadStore(root string) (*PayloadStore, error) {
	store, err := NewHashStore(root)
	if err != nil {
		return nil, err
	}
	return &PayloadStore{store: store}, nil
}

// HasPayload reports whether digest's payload is present.
func (s *PayloadStore) HasPayload(ctx context.Context, digest encoding.Digest) (bool, error) {
	return s.store.Has(digest)
}

// OpenPayload returns a reader positioned at the start of digest's payload.
func (s *PayloadStore) OpenPayload(ctx context.Context, digest encoding.Digest) (io.ReadCloser, error) {
	return s.store.Open(digest)
}

// WritePayload streams r into the store under digest, which the caller must
// already have computed (normally via a prior encoding.Hash pass, or a
// write-through Hasher as in pkg/build).
func (s *PayloadStore) WritePayload(ctx context.Context, digest encoding.Digest, r io.Reader) error {
	return s.store.Write(digest, r)
}

// RemovePayload deletes digest's payload, if present.
func (s *PayloadStore) RemovePayload(ctx context.Context, digest encoding.Digest) error {
	return s.store.Remove(digest)
}

// IterPayloads calls fn with the digest of every stored payload.
func (s *PayloadStore) IterPayloads(ctx context.Context, fn func(encoding.Digest) error) error {
	return s.store.Iter(ctx, fn)
}

// PayloadModTime returns when digest's payload was last written, for
// age-gated cleanup.
func (s *PayloadStore) PayloadModTime(digest encoding.Digest) (time.Time, error) {
	return s.store.ModTime(digest)
}
