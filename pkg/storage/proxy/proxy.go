// Package proxy implements the read-through Repository backend: one that
// falls back to a secondary repository whenever
// the primary lacks an object or payload, pulling the missing content
// into the primary as it's found so the next read is local. Tags and
// renders are served by the primary alone, with no fallback.
package proxy

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/spfs-project/spfs/internal/dcontext"
	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/repo"
	"github.com/spfs-project/spfs/pkg/spfserrors"
)

// Repository is a repo.Repository that serves from primary first and
// falls back to secondary, pulling anything it borrows into primary.
type Repository struct {
	primary, secondary repo.Repository
	objects            *objectStore
	payloads           *payloadStore
}

// New returns a proxy Repository over primary and secondary. Writes always
// go to primary; reads fall back to secondary and are copied into primary
// on the way out, so a primary becomes a self-sufficient cache of
// whatever it borrows.
func New(primary, secondary repo.Repository) *Repository {
	return &Repository{
		primary:   primary,
		secondary: secondary,
		objects:   &objectStore{primary: primary.ObjectStore(), secondary: secondary.ObjectStore()},
		payloads:  &payloadStore{primary: primary.PayloadStore(), secondary: secondary.PayloadStore()},
	}
}

func (r *Repository) ObjectStore() repo.ObjectStore   { return r.objects }
func (r *Repository) PayloadStore() repo.PayloadStore { return r.payloads }
func (r *Repository) TagStore() repo.TagStore         { return r.primary.TagStore() }
func (r *Repository) Renderer() repo.Renderer         { return r.primary.Renderer() }

type objectStore struct {
	primary, secondary repo.ObjectStore
}

var _ repo.ObjectStore = (*objectStore)(nil)

// GetObject serves from primary when present; otherwise it fetches from
// secondary, mirrors the object into primary, and returns it, so a
// repeated read of the same digest never crosses the fallback again.
func (s *objectStore) GetObject(ctx context.Context, digest encoding.Digest) (graph.Object, error) {
	obj, err := s.primary.GetObject(ctx, digest)
	if err == nil {
		return obj, nil
	}
	if !isUnknown(err) {
		return nil, err
	}
	obj, err = s.secondary.GetObject(ctx, digest)
	if err != nil {
		return nil, err
	}
	if _, err := s.primary.WriteObject(ctx, obj); err != nil {
		dcontext.GetLogger(ctx).Errorf("proxy: failed caching object %s into primary: %s", digest, err)
	}
	return obj, nil
}

func (s *objectStore) WriteObject(ctx context.Context, obj graph.Object) (encoding.Digest, error) {
	return s.primary.WriteObject(ctx, obj)
}

func (s *objectStore) HasObject(ctx context.Context, digest encoding.Digest) (bool, error) {
	has, err := s.primary.HasObject(ctx, digest)
	if err != nil {
		return false, err
	}
	if has {
		return true, nil
	}
	return s.secondary.HasObject(ctx, digest)
}

func (s *objectStore) RemoveObject(ctx context.Context, digest encoding.Digest) error {
	return s.primary.RemoveObject(ctx, digest)
}

// IterObjects only enumerates primary: secondary may be an entire upstream
// registry, and walking it in full defeats the point of a local cache.
func (s *objectStore) IterObjects(ctx context.Context, fn func(encoding.Digest) error) error {
	return s.primary.IterObjects(ctx, fn)
}

func (s *objectStore) ObjectModTime(digest encoding.Digest) (time.Time, error) {
	return s.primary.ObjectModTime(digest)
}

// ResolvePartial resolves against primary first, falling back to secondary
// only when primary has no match at all; an ambiguous match in primary is
// reported as-is rather than consulting secondary, since widening the scan
// across two repositories could only make an already-ambiguous prefix worse.
func (s *objectStore) ResolvePartial(ctx context.Context, prefix string) (encoding.Digest, error) {
	digest, err := s.primary.ResolvePartial(ctx, prefix)
	if err == nil {
		return digest, nil
	}
	if _, unknown := err.(*spfserrors.UnknownReference); !unknown {
		return encoding.Digest{}, err
	}
	return s.secondary.ResolvePartial(ctx, prefix)
}

type payloadStore struct {
	primary, secondary repo.PayloadStore
}

var _ repo.PayloadStore = (*payloadStore)(nil)

func (s *payloadStore) HasPayload(ctx context.Context, digest encoding.Digest) (bool, error) {
	has, err := s.primary.HasPayload(ctx, digest)
	if err != nil {
		return false, err
	}
	if has {
		return true, nil
	}
	return s.secondary.HasPayload(ctx, digest)
}

// OpenPayload streams from primary when cached; otherwise it buffers the
// full payload from secondary into primary and reopens it from there, so
// the bytes returned to the caller are always read back through primary.
func (s *payloadStore) OpenPayload(ctx context.Context, digest encoding.Digest) (io.ReadCloser, error) {
	if has, err := s.primary.HasPayload(ctx, digest); err != nil {
		return nil, err
	} else if has {
		return s.primary.OpenPayload(ctx, digest)
	}
	r, err := s.secondary.OpenPayload(ctx, digest)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if err := s.primary.WritePayload(ctx, digest, r); err != nil {
		return nil, err
	}
	return s.primary.OpenPayload(ctx, digest)
}

func (s *payloadStore) WritePayload(ctx context.Context, digest encoding.Digest, r io.Reader) error {
	return s.primary.WritePayload(ctx, digest, r)
}

func (s *payloadStore) RemovePayload(ctx context.Context, digest encoding.Digest) error {
	return s.primary.RemovePayload(ctx, digest)
}

func (s *payloadStore) IterPayloads(ctx context.Context, fn func(encoding.Digest) error) error {
	return s.primary.IterPayloads(ctx, fn)
}

func (s *payloadStore) PayloadModTime(digest encoding.Digest) (time.Time, error) {
	return s.primary.PayloadModTime(digest)
}

func isUnknown(err error) bool {
	var unk *spfserrors.UnknownObject
	return errors.As(err, &unk)
}
