// Package mem is an in-memory Repository implementation, used by tests and
// as the read-through proxy's fast local cache. It implements the
// same pkg/repo.Repository capability set as pkg/storage/fs, backed by
// plain maps guarded by a mutex rather than files on disk.
package mem

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/repo"
	"github.com/spfs-project/spfs/pkg/spfserrors"
	"github.com/spfs-project/spfs/pkg/storage/fs"
	"github.com/spfs-project/spfs/pkg/tracking"
)

// Repository is a fully in-memory stand-in for pkg/storage/fs.Repository.
type Repository struct {
	objects  *ObjectStore
	payloads *PayloadStore
	tags     *TagStore
	renders  *Renderer
}

var _ repo.Repository = (*Repository)(nil)

// New returns an empty in-memory Repository.
func New() *Repository {
	return &Repository{
		objects:  newObjectStore(),
		payloads: newPayloadStore(),
		tags:     newTagStore(),
		renders:  newRenderer(),
	}
}

func (r *Repository) ObjectStore() repo.ObjectStore   { return r.objects }
func (r *Repository) PayloadStore() repo.PayloadStore { return r.payloads }
func (r *Repository) TagStore() repo.TagStore         { return r.tags }
func (r *Repository) Renderer() repo.Renderer         { return r.renders }

// ObjectStore is an in-memory graph.Database.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[encoding.Digest]graph.Object
	modTime map[encoding.Digest]time.Time
}

func newObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[encoding.Digest]graph.Object), modTime: make(map[encoding.Digest]time.Time)}
}

var _ graph.Database = (*ObjectStore)(nil)

func (s *ObjectStore) GetObject(ctx context.Context, digest encoding.Digest) (graph.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[digest]
	if !ok {
		return nil, &spfserrors.UnknownObject{Digest: digest.String()}
	}
	return obj, nil
}

func (s *ObjectStore) WriteObject(ctx context.Context, obj graph.Object) (encoding.Digest, error) {
	digest, err := graph.ComputeDigest(obj)
	if err != nil {
		return encoding.Digest{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[digest] = obj
	s.modTime[digest] = time.Now()
	return digest, nil
}

func (s *ObjectStore) HasObject(ctx context.Context, digest encoding.Digest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[digest]
	return ok, nil
}

func (s *ObjectStore) RemoveObject(ctx context.Context, digest encoding.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, digest)
	delete(s.modTime, digest)
	return nil
}

func (s *ObjectStore) IterObjects(ctx context.Context, fn func(encoding.Digest) error) error {
	s.mu.RLock()
	digests := make([]encoding.Digest, 0, len(s.objects))
	for d := range s.objects {
		digests = append(digests, d)
	}
	s.mu.RUnlock()
	for _, d := range digests {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *ObjectStore) ObjectModTime(digest encoding.Digest) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.modTime[digest]
	if !ok {
		return time.Time{}, &spfserrors.UnknownObject{Digest: digest.String()}
	}
	return t, nil
}

// ResolvePartial scans the in-memory store for the single digest whose
// canonical string starts with prefix; see fs.HashStore.ResolvePartial.
func (s *ObjectStore) ResolvePartial(ctx context.Context, prefix string) (encoding.Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var match encoding.Digest
	matches := 0
	for d := range s.objects {
		if strings.HasPrefix(d.String(), prefix) {
			matches++
			match = d
		}
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

// PayloadStore is an in-memory byte store keyed by digest.
type PayloadStore struct {
	mu      sync.RWMutex
	data    map[encoding.Digest][]byte
	modTime map[encoding.Digest]time.Time
}

func newPayloadStore() *PayloadStore {
	return &PayloadStore{data: make(map[encoding.Digest][]byte), modTime: make(map[encoding.Digest]time.Time)}
}

func (s *PayloadStore) HasPayload(ctx context.Context, digest encoding.Digest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[digest]
	return ok, nil
}

func (s *PayloadStore) OpenPayload(ctx context.Context, digest encoding.Digest) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[digest]
	if !ok {
		return nil, &spfserrors.UnknownObject{Digest: digest.String()}
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (s *PayloadStore) WritePayload(ctx context.Context, digest encoding.Digest, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[digest]; ok {
		return nil
	}
	s.data[digest] = data
	s.modTime[digest] = time.Now()
	return nil
}

func (s *PayloadStore) RemovePayload(ctx context.Context, digest encoding.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, digest)
	delete(s.modTime, digest)
	return nil
}

func (s *PayloadStore) IterPayloads(ctx context.Context, fn func(encoding.Digest) error) error {
	s.mu.RLock()
	digests := make([]encoding.Digest, 0, len(s.data))
	for d := range s.data {
		digests = append(digests, d)
	}
	s.mu.RUnlock()
	for _, d := range digests {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *PayloadStore) PayloadModTime(digest encoding.Digest) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.modTime[digest]
	if !ok {
		return time.Time{}, &spfserrors.UnknownObject{Digest: digest.String()}
	}
	return t, nil
}

// TagStore is an in-memory, version-indexed tag index, mirroring
// pkg/storage/fs.TagStore's semantics without any file locking since a
// single process-local mutex already serializes every mutation.
type TagStore struct {
	mu      sync.Mutex
	streams map[string][]fs.TagEntry // newest last, like the on-disk file
}

func newTagStore() *TagStore {
	return &TagStore{streams: make(map[string][]fs.TagEntry)}
}

func key(org, name string) string { return org + "/" + name }

func (t *TagStore) Push(org, name string, target encoding.Digest) (fs.TagEntry, error) {
	return t.PushWithMessage(org, name, target, "unknown", "")
}

func (t *TagStore) PushWithMessage(org, name string, target encoding.Digest, user, message string) (fs.TagEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(org, name)
	entries := t.streams[k]
	parent := encoding.Nil
	if len(entries) > 0 {
		parent = entries[len(entries)-1].Target
	}
	entry := fs.TagEntry{Target: target, Parent: parent, Timestamp: time.Now().UTC(), User: user, Message: message}
	t.streams[k] = append(entries, entry)
	return entry, nil
}

func (t *TagStore) Resolve(spec fs.TagSpec) (fs.TagEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.streams[key(spec.Org, spec.Name)]
	idx := len(entries) - 1 - spec.Version
	if idx < 0 || idx >= len(entries) {
		return fs.TagEntry{}, &spfserrors.UnknownReference{Reference: spec.String()}
	}
	return entries[idx], nil
}

func (t *TagStore) History(org, name string) ([]fs.TagEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries, ok := t.streams[key(org, name)]
	if !ok {
		return nil, &spfserrors.UnknownReference{Reference: key(org, name)}
	}
	out := make([]fs.TagEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (t *TagStore) ReadStream(spec fs.TagSpec) ([]fs.TagEntry, error) {
	entries, err := t.History(spec.Org, spec.Name)
	if err != nil {
		return nil, err
	}
	out := make([]fs.TagEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out, nil
}

func (t *TagStore) ListNames() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.streams))
	for k, entries := range t.streams {
		if len(entries) > 0 {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (t *TagStore) Ls(path string) ([]fs.EntryType, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]bool)
	var out []fs.EntryType
	prefix := ""
	if path != "" {
		prefix = path + "/"
	}
	for k, entries := range t.streams {
		if len(entries) == 0 || !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			folder := rest[:i]
			if !seen[folder] {
				seen[folder] = true
				out = append(out, fs.EntryType{Name: folder, Folder: true})
			}
			continue
		}
		if !seen[rest] {
			seen[rest] = true
			out = append(out, fs.EntryType{Name: rest, Folder: false})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *TagStore) FindByDigest(digest encoding.Digest) ([]fs.TagSpec, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []fs.TagSpec
	for k, entries := range t.streams {
		if len(entries) == 0 || entries[len(entries)-1].Target != digest {
			continue
		}
		spec, err := fs.ParseTagSpec(k)
		if err != nil {
			continue
		}
		out = append(out, spec)
	}
	return out, nil
}

func (t *TagStore) Remove(org, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streams, key(org, name))
	return nil
}

func (t *TagStore) RemoveVersion(spec fs.TagSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(spec.Org, spec.Name)
	entries := t.streams[k]
	idx := len(entries) - 1 - spec.Version
	if idx < 0 || idx >= len(entries) {
		return &spfserrors.UnknownReference{Reference: spec.String()}
	}
	t.streams[k] = append(entries[:idx], entries[idx+1:]...)
	return nil
}

func (t *TagStore) Prune(org, name string, shouldPrune func(version int, e fs.TagEntry) bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(org, name)
	entries := t.streams[k]
	var kept []fs.TagEntry
	removed := 0
	for i, e := range entries {
		version := len(entries) - 1 - i
		if shouldPrune(version, e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	t.streams[k] = kept
	return removed, nil
}

// Renderer is an in-memory stand-in that records which manifest digests
// have been "rendered" without touching a filesystem, sufficient for
// proxy and test code that only cares whether a render exists.
type Renderer struct {
	mu       sync.Mutex
	rendered map[encoding.Digest]time.Time
}

func newRenderer() *Renderer {
	return &Renderer{rendered: make(map[encoding.Digest]time.Time)}
}

func (r *Renderer) Render(ctx context.Context, manifestDigest encoding.Digest, manifest *tracking.Manifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rendered[manifestDigest]; ok {
		return nil
	}
	r.rendered[manifestDigest] = time.Now()
	return nil
}

func (r *Renderer) HasRender(digest encoding.Digest) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rendered[digest]
	return ok, nil
}

func (r *Renderer) RenderPath(digest encoding.Digest) string {
	return "mem://renders/" + digest.String()
}

func (r *Renderer) RenderModTime(digest encoding.Digest) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rendered[digest]
	if !ok {
		return time.Time{}, &spfserrors.UnknownObject{Digest: digest.String()}
	}
	return t, nil
}

func (r *Renderer) IterRenders(ctx context.Context, fn func(encoding.Digest) error) error {
	r.mu.Lock()
	digests := make([]encoding.Digest, 0, len(r.rendered))
	for d := range r.rendered {
		digests = append(digests, d)
	}
	r.mu.Unlock()
	for _, d := range digests {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) Remove(digest encoding.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rendered, digest)
	return nil
}
