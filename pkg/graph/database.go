package graph

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/spfs-project/spfs/pkg/encoding"
)

// Database stores and retrieves the four graph object kinds by digest. A
// concrete implementation lives under pkg/storage (fs, mem, proxy, rpc);
// this package only knows how to compute digests and walk the graph they
// describe.
type Database interface {
	// GetObject returns the object stored under digest, or a
	// *spfserrors.UnknownObject error if none exists.
	GetObject(ctx context.Context, digest encoding.Digest) (Object, error)

	// WriteObject stores obj, returning its computed digest. Writing an
	// object that already exists is a no-op that still returns its digest.
	WriteObject(ctx context.Context, obj Object) (encoding.Digest, error)

	// HasObject reports whether digest is present without fetching it.
	HasObject(ctx context.Context, digest encoding.Digest) (bool, error)

	// RemoveObject deletes the object stored under digest, if any.
	RemoveObject(ctx context.Context, digest encoding.Digest) error

	// IterObjects calls fn once for every stored digest, in unspecified
	// order. It stops and returns the first error fn returns.
	IterObjects(ctx context.Context, fn func(encoding.Digest) error) error
}

// ComputeDigest returns obj's content digest: the SHA-256 hash of its
// canonical encoding (header plus body) under the flat schema. The digest
// is schema-independent in meaning but not in bytes: spfs always computes
// digests over the flat encoding, even when a legacy-schema copy of the
// same object exists on disk, so that migrating an object's schema never
// changes its digest.
func ComputeDigest(obj Object) (encoding.Digest, error) {
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
	digest, _, err := encoding.Hash(bytes.NewReader(buf.Bytes()))
	return digest, err
}

// Walk visits digest and every object reachable from it exactly once,
// breadth-first, calling fn with each object's digest and decoded form.
// Walk stops and returns the first error fn or the database returns; an
// UnknownObject error part-way through the graph is not swallowed, since a
// reachable-but-missing object indicates a corrupt repository.
func Walk(ctx context.Context, db Database, digest encoding.Digest, fn func(encoding.Digest, Object) error) error {
	return walk(ctx, db, digest, make(map[encoding.Digest]bool), fn)
}

func walk(ctx context.Context, db Database, root encoding.Digest, seen map[encoding.Digest]bool, fn func(encoding.Digest, Object) error) error {
	queue := []encoding.Digest{root}
	for len(queue) > 0 {
		digest := queue[0]
		queue = queue[1:]
		if seen[digest] {
			continue
		}
		seen[digest] = true
		obj, err := db.GetObject(ctx, digest)
		if err != nil {
			return err
		}
		if err := fn(digest, obj); err != nil {
			return err
		}
		queue = append(queue, obj.ChildObjects()...)
	}
	return nil
}

// Reachable returns the set of every digest reachable from roots,
// including the roots themselves.
func Reachable(ctx context.Context, db Database, roots []encoding.Digest) (map[encoding.Digest]bool, error) {
	set := make(map[encoding.Digest]bool)
	for _, root := range roots {
		if err := walk(ctx, db, root, set, func(encoding.Digest, Object) error { return nil }); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// CheckIntegrity walks every object reachable from roots and verifies that
// its decoded form, re-encoded canonically, still hashes to the digest it
// is filed under, and that
// every Blob it references has a payload on record (via hasPayload).
// Errors for distinct objects are accumulated rather than aborting the
// first mismatch, so a single check run reports everything wrong with a
// repository.
func CheckIntegrity(ctx context.Context, db Database, roots []encoding.Digest, hasPayload func(encoding.Digest) (bool, error)) error {
	var result *multierror.Error
	for _, root := range roots {
		walkErr := Walk(ctx, db, root, func(digest encoding.Digest, obj Object) error {
			computed, err := ComputeDigest(obj)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", digest, err))
				return nil
			}
			if computed != digest {
				result = multierror.Append(result, fmt.Errorf("%s: stored object hashes to %s", digest, computed))
			}
			if blob, ok := obj.(*Blob); ok {
				ok, err := hasPayload(blob.Payload)
				if err != nil {
					result = multierror.Append(result, fmt.Errorf("%s: checking payload %s: %w", digest, blob.Payload, err))
				} else if !ok {
					result = multierror.Append(result, fmt.Errorf("%s: missing payload %s", digest, blob.Payload))
				}
			}
			return nil
		})
		if walkErr != nil {
			result = multierror.Append(result, walkErr)
		}
	}
	return result.ErrorOrNil()
}
