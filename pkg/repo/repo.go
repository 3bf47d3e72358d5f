// Package repo defines the repository facade: a capability-set interface
// narrow enough that the local filesystem, in-memory,
// read-through proxy and RPC client backends can all satisfy it without
// any one of them needing the others' concrete types. Consumers (sync,
// clean, the CLI) depend on this interface rather than pkg/storage/fs's
// concrete Repository so that a backend can be swapped in behind it.
package repo

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/spfserrors"
	"github.com/spfs-project/spfs/pkg/storage/fs"
	"github.com/spfs-project/spfs/pkg/tracking"
)

// MinPartialDigestLength is the shortest prefix ReadRef will try to resolve
// as a partial digest; anything shorter is treated as a tag. Eight base32
// characters is 40 bits of the underlying digest, matching the shortest
// abbreviation git itself ever shows by default for a SHA-1 object, which is
// the same order of magnitude despite the different alphabet and hash
// width; anything shorter is far more likely to be someone's deliberately
// short tag name than an abbreviated digest.
const MinPartialDigestLength = 8

// ObjectStore is graph.Database with two additions: ObjectModTime (the
// cleaner's age gate) and ResolvePartial (the reference resolver's
// partial-digest lookup); every concrete backend below implements all
// three.
type ObjectStore interface {
	graph.Database
	ObjectModTime(digest encoding.Digest) (time.Time, error)

	// ResolvePartial resolves prefix, a non-empty prefix of a digest's
	// canonical base32 string, to the single object digest it identifies.
	// It returns *spfserrors.UnknownReference if no digest matches and
	// *spfserrors.AmbiguousReference if more than one does.
	ResolvePartial(ctx context.Context, prefix string) (encoding.Digest, error)
}

// PayloadStore holds the opaque byte content Blob objects reference.
type PayloadStore interface {
	HasPayload(ctx context.Context, digest encoding.Digest) (bool, error)
	OpenPayload(ctx context.Context, digest encoding.Digest) (io.ReadCloser, error)
	WritePayload(ctx context.Context, digest encoding.Digest, r io.Reader) error
	RemovePayload(ctx context.Context, digest encoding.Digest) error
	IterPayloads(ctx context.Context, fn func(encoding.Digest) error) error
	PayloadModTime(digest encoding.Digest) (time.Time, error)
}

// TagStore is the append-only, version-indexed tag index.
// It reuses pkg/storage/fs's TagSpec/TagEntry/EntryType value types across
// every backend rather than each inventing its own, since they carry no
// filesystem-specific state.
type TagStore interface {
	Push(org, name string, target encoding.Digest) (fs.TagEntry, error)
	PushWithMessage(org, name string, target encoding.Digest, user, message string) (fs.TagEntry, error)
	Resolve(spec fs.TagSpec) (fs.TagEntry, error)
	History(org, name string) ([]fs.TagEntry, error)
	ReadStream(spec fs.TagSpec) ([]fs.TagEntry, error)
	ListNames() ([]string, error)
	Ls(path string) ([]fs.EntryType, error)
	FindByDigest(digest encoding.Digest) ([]fs.TagSpec, error)
	Remove(org, name string) error
	RemoveVersion(spec fs.TagSpec) error
	Prune(org, name string, shouldPrune func(version int, e fs.TagEntry) bool) (int, error)
}

// Renderer materializes a Manifest as a real (or, for in-memory backends,
// virtual) directory tree.
type Renderer interface {
	Render(ctx context.Context, manifestDigest encoding.Digest, manifest *tracking.Manifest) error
	HasRender(digest encoding.Digest) (bool, error)
	RenderPath(digest encoding.Digest) string
	RenderModTime(digest encoding.Digest) (time.Time, error)
	IterRenders(ctx context.Context, fn func(encoding.Digest) error) error
	Remove(digest encoding.Digest) error
}

// Repository unites the four capabilities behind accessor methods. A
// backend that
// only supports a subset (for example an RPC client with no local render
// storage) returns a Renderer that fails every call with
// spfserrors.ErrNoRenderStorage rather than a nil interface, so callers
// never need a nil check before using it.
type Repository interface {
	ObjectStore() ObjectStore
	PayloadStore() PayloadStore
	TagStore() TagStore
	Renderer() Renderer
}

// FromFS adapts a concrete pkg/storage/fs.Repository to the Repository
// interface, so existing local-filesystem repositories can be used
// anywhere the interface is expected (proxy, generic sync, the RPC
// server's backing store).
func FromFS(r *fs.Repository) Repository {
	return fsAdapter{r}
}

type fsAdapter struct{ repo *fs.Repository }

func (a fsAdapter) ObjectStore() ObjectStore   { return a.repo.Objects }
func (a fsAdapter) PayloadStore() PayloadStore { return a.repo.Payloads }
func (a fsAdapter) TagStore() TagStore         { return a.repo.Tags }
func (a fsAdapter) Renderer() Renderer         { return a.repo.Renderer }

// ReadRef resolves a textual reference against repository: a full digest
// is tried first, then a partial
// digest, then a tag spec. A reference containing "/" can never be a digest
// (fs.ParseTagSpec always requires one to separate org from name, and a
// digest's base32 alphabet never contains "/"), so it is routed straight to
// tag resolution without wasting a ResolvePartial scan.
func ReadRef(ctx context.Context, repository Repository, s string) (encoding.Digest, error) {
	if strings.Contains(s, "/") {
		return readTagRef(repository, s)
	}

	if digest, err := encoding.Parse(s); err == nil {
		return digest, nil
	}

	if len(s) >= MinPartialDigestLength {
		digest, err := repository.ObjectStore().ResolvePartial(ctx, s)
		if err == nil {
			return digest, nil
		}
		if _, ambiguous := err.(*spfserrors.AmbiguousReference); ambiguous {
			return encoding.Digest{}, err
		}
		if _, unknown := err.(*spfserrors.UnknownReference); !unknown {
			return encoding.Digest{}, err
		}
	}

	return readTagRef(repository, s)
}

func readTagRef(repository Repository, s string) (encoding.Digest, error) {
	spec, err := fs.ParseTagSpec(s)
	if err != nil {
		return encoding.Digest{}, &spfserrors.UnknownReference{Reference: s}
	}
	entry, err := repository.TagStore().Resolve(spec)
	if err != nil {
		return encoding.Digest{}, err
	}
	return entry.Target, nil
}
