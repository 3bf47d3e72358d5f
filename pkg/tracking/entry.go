// Package tracking implements the mutable, in-memory tree representation of
// a Manifest: the shape a ManifestBuilder produces and a
// renderer consumes, before it is flattened into its graph.Manifest wire
// form.
package tracking

import (
	"io/fs"

	"golang.org/x/sys/unix"

	"github.com/spfs-project/spfs/pkg/encoding"
)

// EntryKind is an alias of encoding.EntryKind so tracking code never needs
// to convert between the two packages' notions of Tree/Blob/Mask.
type EntryKind = encoding.EntryKind

const (
	EntryTree = encoding.EntryTree
	EntryBlob = encoding.EntryBlob
	EntryMask = encoding.EntryMask
)

// Entry is one node of a Manifest tree. For a Tree entry, Children holds
// its immediate members keyed by name (not full path); for a Blob or Mask
// entry, Children is nil.
type Entry struct {
	Kind     EntryKind
	Mode     uint32
	Size     uint64
	Object   encoding.Digest
	Children map[string]*Entry
}

// IsDir reports whether e is a Tree entry.
func (e *Entry) IsDir() bool { return e.Kind == EntryTree }

func newTreeEntry(mode uint32) *Entry {
	return &Entry{Kind: EntryTree, Mode: mode, Children: make(map[string]*Entry)}
}

// PosixMode converts a Go fs.FileMode into the raw POSIX mode_t bits an
// Entry records: permission bits plus (when withType is true) the S_IF*
// file-type bits, so a Blob entry's Mode alone is enough to tell a symlink
// from a regular file when the renderer decides how to materialize it.
func PosixMode(mode fs.FileMode, withType bool) uint32 {
	perm := uint32(mode.Perm())
	if !withType {
		return perm
	}
	switch {
	case mode&fs.ModeSymlink != 0:
		return unix.S_IFLNK | perm
	case mode&fs.ModeDir != 0:
		return unix.S_IFDIR | perm
	default:
		return unix.S_IFREG | perm
	}
}

// IsSymlink reports whether a Mode value (as produced by PosixMode) carries
// the symlink file-type bit.
func IsSymlink(mode uint32) bool {
	return mode&unix.S_IFMT == unix.S_IFLNK
}

// PermBits strips any S_IF* file-type bits from mode, leaving only the
// permission bits suitable for chmod.
func PermBits(mode uint32) uint32 {
	return mode &^ uint32(unix.S_IFMT)
}
