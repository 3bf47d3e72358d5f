package tracking

import (
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

const defaultDirMode = 0o755

// Manifest is a mutable tree of Entry nodes rooted at "". It is the shape
// produced by a directory walk (pkg/build) and consumed by a renderer
// (pkg/storage/fs); graph.Manifest is its immutable, flattened wire form.
type Manifest struct {
	root *Entry
}

// NewManifest returns an empty Manifest: a single root Tree entry with no
// children.
func NewManifest() *Manifest {
	return &Manifest{root: newTreeEntry(defaultDirMode)}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Get returns the entry at path, or false if no such entry exists.
func (m *Manifest) Get(path string) (*Entry, bool) {
	parts := splitPath(path)
	cur := m.root
	for _, name := range parts {
		if cur.Children == nil {
			return nil, false
		}
		next, ok := cur.Children[name]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// ListDir returns the sorted child names of the Tree entry at path ("" for
// the root).
func (m *Manifest) ListDir(path string) ([]string, error) {
	entry, ok := m.Get(path)
	if !ok {
		if path == "" {
			entry = m.root
		} else {
			return nil, unix.ENOENT
		}
	}
	if !entry.IsDir() {
		return nil, unix.ENOTDIR
	}
	names := make([]string, 0, len(entry.Children))
	for name := range entry.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// parent locates the Tree entry that must contain the final path component,
// returning it along with that component's name.
func (m *Manifest) parent(parts []string) (*Entry, string, error) {
	if len(parts) == 0 {
		return nil, "", unix.EEXIST
	}
	cur := m.root
	for _, name := range parts[:len(parts)-1] {
		next, ok := cur.Children[name]
		if !ok {
			return nil, "", unix.ENOENT
		}
		if !next.IsDir() {
			return nil, "", unix.ENOTDIR
		}
		cur = next
	}
	return cur, parts[len(parts)-1], nil
}

// Mkdir creates a single new Tree entry at path. The parent directory must
// already exist.
func (m *Manifest) Mkdir(path string) (*Entry, error) {
	parts := splitPath(path)
	parent, name, err := m.parent(parts)
	if err != nil {
		return nil, err
	}
	if _, exists := parent.Children[name]; exists {
		return nil, unix.EEXIST
	}
	entry := newTreeEntry(defaultDirMode)
	parent.Children[name] = entry
	return entry, nil
}

// Mkdirs creates path and any missing intermediate directories, returning
// the final entry. It does not error if path already exists as a Tree.
func (m *Manifest) Mkdirs(path string) (*Entry, error) {
	parts := splitPath(path)
	cur := m.root
	for _, name := range parts {
		next, ok := cur.Children[name]
		if !ok {
			next = newTreeEntry(defaultDirMode)
			cur.Children[name] = next
		} else if !next.IsDir() {
			return nil, unix.ENOTDIR
		}
		cur = next
	}
	return cur, nil
}

// Mkfile creates a new Blob entry at path, whose parent must already exist.
func (m *Manifest) Mkfile(path string) (*Entry, error) {
	return m.Mknod(path, EntryBlob)
}

// Mknod creates a new entry of the given kind at path, whose parent must
// already exist as a Tree.
func (m *Manifest) Mknod(path string, kind EntryKind) (*Entry, error) {
	parts := splitPath(path)
	parent, name, err := m.parent(parts)
	if err != nil {
		return nil, err
	}
	if _, exists := parent.Children[name]; exists {
		return nil, unix.EEXIST
	}
	entry := &Entry{Kind: kind}
	if kind == EntryTree {
		entry.Children = make(map[string]*Entry)
	}
	parent.Children[name] = entry
	return entry, nil
}

// Update replaces the entry at an existing path in place, preserving its
// Children if the replacement is itself a Tree entry and e.Children is nil.
func (m *Manifest) Update(path string, e Entry) error {
	existing, ok := m.Get(path)
	if !ok {
		return unix.ENOENT
	}
	if e.Kind == EntryTree && e.Children == nil {
		e.Children = existing.Children
	}
	*existing = e
	return nil
}

// Insert sets the entry at path, creating any missing intermediate
// directories as default Tree entries along the way. Unlike Mknod/Update,
// Insert never errors on an existing path: it is used to reconstruct a
// Manifest from a flattened, already-validated graph.Manifest entry list.
func (m *Manifest) Insert(path string, e Entry) {
	parts := splitPath(path)
	if len(parts) == 0 {
		m.root = &e
		if m.root.Children == nil {
			m.root.Children = make(map[string]*Entry)
		}
		return
	}
	cur := m.root
	for _, name := range parts[:len(parts)-1] {
		next, ok := cur.Children[name]
		if !ok {
			next = newTreeEntry(defaultDirMode)
			cur.Children[name] = next
		}
		cur = next
	}
	name := parts[len(parts)-1]
	if e.Kind == EntryTree && e.Children == nil {
		if existing, ok := cur.Children[name]; ok && existing.Children != nil {
			e.Children = existing.Children
		} else {
			e.Children = make(map[string]*Entry)
		}
	}
	cur.Children[name] = &e
}

// ComputeTreeSizes sets every Tree entry's Size to its number of immediate
// children. A tree's size is part of its serialized form, so this must run
// after the tree is fully assembled and before it is flattened for
// encoding.
func (m *Manifest) ComputeTreeSizes() {
	computeTreeSize(m.root)
}

func computeTreeSize(e *Entry) {
	if !e.IsDir() {
		return
	}
	e.Size = uint64(len(e.Children))
	for _, child := range e.Children {
		computeTreeSize(child)
	}
}

// Walk visits every non-root entry in canonical order: depth-first,
// lexicographic by name at each level (a directory's own record always
// sorts before its children, since its path is their strict prefix). Walk
// stops and returns the first error fn returns.
func (m *Manifest) Walk(fn func(path string, e Entry) error) error {
	return walkChildren(m.root, "", fn)
}

func walkChildren(parent *Entry, prefix string, fn func(path string, e Entry) error) error {
	names := make([]string, 0, len(parent.Children))
	for name := range parent.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := parent.Children[name]
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}
		if err := fn(path, *child); err != nil {
			return err
		}
		if child.IsDir() {
			if err := walkChildren(child, path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
