// Package fs is the local-filesystem Repository implementation: a
// content-addressed hash store underlying both the object database and the
// payload store, a version-indexed tag store, and a manifest renderer.
package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/spfserrors"
)

// HashStore is a flat, content-addressed byte store rooted at a directory:
// every entry lives at "<root>/<first two hex digits>/<remaining hex
// digits>", sharded to keep any one directory from growing unbounded.
// Writes are staged to a temp file in the same root and
// renamed into place, so a reader never observes a partially written entry.
type HashStore struct {
	root string
}

// NewHashStore returns a HashStore rooted at root, creating root if it does
// not already exist.
func NewHashStore(root string) (*HashStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &spfserrors.StorageWriteError{Path: root, Err: err}
	}
	return &HashStore{root: root}, nil
}

func (s *HashStore) pathFor(digest encoding.Digest) string {
	hex := digest.Hex()
	return filepath.Join(s.root, hex[:2], hex[2:])
}

// Has reports whether digest is present.
func (s *HashStore) Has(digest encoding.Digest) (bool, error) {
	_, err := os.Stat(s.pathFor(digest))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &spfserrors.StorageReadError{Path: s.pathFor(digest), Err: err}
}

// Open returns a reader for the entry stored under digest.
func (s *HashStore) Open(digest encoding.Digest) (*os.File, error) {
	path := s.pathFor(digest)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &spfserrors.UnknownObject{Digest: digest.String()}
		}
		return nil, &spfserrors.StorageReadError{Path: path, Err: err}
	}
	return f, nil
}

// Write stages r's bytes into a temp file and renames it into place under
// digest, which must already be known (for example computed by the
// caller while streaming r to an encoding.Hasher). Writing an entry that
// already exists is a no-op.
func (s *HashStore) Write(digest encoding.Digest, r io.Reader) error {
	if has, err := s.Has(digest); err != nil {
		return err
	} else if has {
		_, err := io.Copy(io.Discard, r)
		return err
	}

	return s.stageAndRename(digest, r)
}

// overwrite replaces digest's entry unconditionally, unlike Write which
// treats an existing entry as a no-op. Only spfs migrate needs this: it
// rewrites an object already on disk to a different schema under the same
// digest, so the normal idempotent-write short-circuit must not apply.
func (s *HashStore) overwrite(digest encoding.Digest, r io.Reader) error {
	return s.stageAndRename(digest, r)
}

// stageAndRename streams r into "<root>/tmp/<uuid>" and renames the result
// into digest's sharded path. The tmp directory lives inside root so the
// rename never crosses a filesystem boundary; any failure leaves at most an
// orphaned tmp file for the cleaner to reap.
func (s *HashStore) stageAndRename(digest encoding.Digest, r io.Reader) error {
	shardDir := filepath.Join(s.root, digest.Hex()[:2])
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return &spfserrors.StorageWriteError{Path: shardDir, Err: err}
	}
	tmpDir := filepath.Join(s.root, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return &spfserrors.StorageWriteError{Path: tmpDir, Err: err}
	}

	tmpPath := filepath.Join(tmpDir, uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return &spfserrors.StorageWriteError{Path: tmpPath, Err: err}
	}
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return &spfserrors.StorageWriteError{Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &spfserrors.StorageWriteError{Path: tmpPath, Err: err}
	}

	finalPath := s.pathFor(digest)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return &spfserrors.StorageWriteError{Path: finalPath, Err: err}
	}
	return nil
}

// ModTime returns the last-write time of digest's entry, used by the
// cleaner to gate deletion on age.
func (s *HashStore) ModTime(digest encoding.Digest) (time.Time, error) {
	info, err := os.Stat(s.pathFor(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, &spfserrors.UnknownObject{Digest: digest.String()}
		}
		return time.Time{}, &spfserrors.StorageReadError{Path: s.pathFor(digest), Err: err}
	}
	return info.ModTime(), nil
}

// Remove deletes the entry stored under digest, if any.
func (s *HashStore) Remove(digest encoding.Digest) error {
	err := os.Remove(s.pathFor(digest))
	if err != nil && !os.IsNotExist(err) {
		return &spfserrors.StorageWriteError{Path: s.pathFor(digest), Err: err}
	}
	return nil
}

// ResolvePartial scans the store for the single entry whose canonical
// base32 digest string starts with prefix.
// An empty or full-length prefix is rejected by the caller before reaching
// here (see ReadRef); a prefix matching no entry returns
// *spfserrors.UnknownReference, one matching more than one entry returns
// *spfserrors.AmbiguousReference, and a single match returns that Digest.
func (s *HashStore) ResolvePartial(ctx context.Context, prefix string) (encoding.Digest, error) {
	var match encoding.Digest
	matches := 0
	err := s.Iter(ctx, func(digest encoding.Digest) error {
		if strings.HasPrefix(digest.String(), prefix) {
			matches++
			match = digest
		}
		return nil
	})
	if err != nil {
		return encoding.Digest{}, err
	}
	switch {
	case matches == 0:
		return encoding.Digest{}, &spfserrors.UnknownReference{Reference: prefix}
	case matches > 1:
		return encoding.Digest{}, &spfserrors.AmbiguousReference{Reference: prefix, Matches: matches}
	default:
		return match, nil
	}
}

// Iter calls fn with the digest of every entry in the store.
func (s *HashStore) Iter(ctx context.Context, fn func(encoding.Digest) error) error {
	shards, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &spfserrors.StorageReadError{Path: s.root, Err: err}
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		shardDir := filepath.Join(s.root, shard.Name())
		entries, err := os.ReadDir(shardDir)
		if err != nil {
			return &spfserrors.StorageReadError{Path: shardDir, Err: err}
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			digest, err := encoding.ParseHex(shard.Name() + entry.Name())
			if err != nil {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := fn(digest); err != nil {
				return err
			}
		}
	}
	return nil
}
