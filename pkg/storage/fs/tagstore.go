package fs

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/spfserrors"
)

// TagSpec identifies a tag, optionally qualified with a version: "org/name"
// resolves to the newest pushed digest, "org/name~N" resolves to the Nth
// digest back from newest.
type TagSpec struct {
	Org     string
	Name    string
	Version int
}

// ParseTagSpec parses a tag spec string of the form "org/name" or
// "org/name~N".
func ParseTagSpec(s string) (TagSpec, error) {
	version := 0
	if i := strings.LastIndexByte(s, '~'); i >= 0 {
		n, err := strconv.Atoi(s[i+1:])
		if err != nil || n < 0 {
			return TagSpec{}, &spfserrors.InvalidReference{Reference: s, Reason: "invalid tag version suffix"}
		}
		version = n
		s = s[:i]
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return TagSpec{}, &spfserrors.InvalidReference{Reference: s, Reason: "tag spec must be org/name"}
	}
	return TagSpec{Org: parts[0], Name: parts[1], Version: version}, nil
}

func (t TagSpec) String() string {
	if t.Version == 0 {
		return t.Org + "/" + t.Name
	}
	return fmt.Sprintf("%s/%s~%d", t.Org, t.Name, t.Version)
}

// TagEntry is one pushed revision of a tag.
type TagEntry struct {
	Target    encoding.Digest
	Parent    encoding.Digest
	Timestamp time.Time
	User      string
	Message   string
}

// EntryType discriminates the two kinds of child ls(path) can return: a
// Folder is an intermediate org path component, a Tag is a leaf name with
// at least one pushed revision.
type EntryType struct {
	Name   string
	Folder bool
}

// TagStore is an append-only, per-(org,name) log of tag pushes, stored one
// file per tag with the newest entry last. Reads resolve a TagSpec's
// Version by counting back from the end of the file; concurrent appends to
// the same file are serialized with an exclusive flock so two pushers never
// interleave partial writes.
type TagStore struct {
	root string
}

// NewTagStore returns a TagStore rooted at root (typically
// "<repository>/tags").
func NewTagStore(root string) (*TagStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &spfserrors.StorageWriteError{Path: root, Err: err}
	}
	return &TagStore{root: root}, nil
}

// tagFileSuffix completes the on-disk stream layout:
// "<root>/tags/<org>/<name>.tag".
const tagFileSuffix = ".tag"

func (ts *TagStore) pathFor(org, name string) string {
	return filepath.Join(ts.root, org, name+tagFileSuffix)
}

// Push appends a new entry pointing at target, whose parent is the tag's
// current newest entry (Nil if the tag does not yet exist), attributed to
// user with no message. See PushWithMessage to record one.
func (ts *TagStore) Push(org, name string, target encoding.Digest) (TagEntry, error) {
	return ts.PushWithMessage(org, name, target, currentUser(), "")
}

// PushWithMessage is Push with an explicit user and free-text message,
// matching the on-disk tag record's full field set.
// Concurrent appends to the same (org, name) stream are serialized with an
// exclusive flock, so the order two concurrent pushers' parent pointers
// observe reflects lock acquisition order, not call order.
func (ts *TagStore) PushWithMessage(org, name string, target encoding.Digest, user, message string) (TagEntry, error) {
	path := ts.pathFor(org, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return TagEntry{}, &spfserrors.StorageWriteError{Path: path, Err: err}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return TagEntry{}, &spfserrors.StorageWriteError{Path: path, Err: err}
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return TagEntry{}, &spfserrors.StorageWriteError{Path: path, Err: err}
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	entries, err := readTagEntries(f)
	if err != nil {
		return TagEntry{}, err
	}

	parent := encoding.Nil
	if len(entries) > 0 {
		parent = entries[len(entries)-1].Target
	}
	entry := TagEntry{Target: target, Parent: parent, Timestamp: time.Now().UTC(), User: user, Message: message}

	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		return TagEntry{}, &spfserrors.StorageWriteError{Path: path, Err: err}
	}
	if _, err := f.Write(encodeTagEntry(entry)); err != nil {
		return TagEntry{}, &spfserrors.StorageWriteError{Path: path, Err: err}
	}
	return entry, nil
}

// currentUser returns the name Push attributes an entry to when the caller
// does not supply one explicitly, falling back to the OS user.
func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// encodeTagEntry renders one record in its on-disk form: a uint32
// big-endian body length, then the body — target and parent as raw digest
// bytes, the timestamp as a big-endian int64 of nanoseconds since the
// epoch, and the user and message as length-prefixed UTF-8.
func encodeTagEntry(e TagEntry) []byte {
	var body bytes.Buffer
	body.Write(e.Target[:])
	body.Write(e.Parent[:])
	_ = binary.Write(&body, binary.BigEndian, e.Timestamp.UnixNano())
	_ = binary.Write(&body, binary.BigEndian, uint32(len(e.User)))
	body.WriteString(e.User)
	_ = binary.Write(&body, binary.BigEndian, uint32(len(e.Message)))
	body.WriteString(e.Message)

	var rec bytes.Buffer
	_ = binary.Write(&rec, binary.BigEndian, uint32(body.Len()))
	rec.Write(body.Bytes())
	return rec.Bytes()
}

func decodeTagEntry(body []byte) (TagEntry, error) {
	r := bytes.NewReader(body)
	var e TagEntry
	if _, err := io.ReadFull(r, e.Target[:]); err != nil {
		return TagEntry{}, err
	}
	if _, err := io.ReadFull(r, e.Parent[:]); err != nil {
		return TagEntry{}, err
	}
	var nanos int64
	if err := binary.Read(r, binary.BigEndian, &nanos); err != nil {
		return TagEntry{}, err
	}
	e.Timestamp = time.Unix(0, nanos).UTC()
	user, err := readLenPrefixed(r)
	if err != nil {
		return TagEntry{}, err
	}
	e.User = user
	message, err := readLenPrefixed(r)
	if err != nil {
		return TagEntry{}, err
	}
	e.Message = message
	return e, nil
}

func readLenPrefixed(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Resolve returns the entry spec's Version refers to: Version 0 is the
// newest push, Version 1 the one before it, and so on.
func (ts *TagStore) Resolve(spec TagSpec) (TagEntry, error) {
	path := ts.pathFor(spec.Org, spec.Name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return TagEntry{}, &spfserrors.UnknownReference{Reference: spec.String()}
		}
		return TagEntry{}, &spfserrors.StorageReadError{Path: path, Err: err}
	}
	defer f.Close()

	entries, err := readTagEntries(f)
	if err != nil {
		return TagEntry{}, err
	}
	idx := len(entries) - 1 - spec.Version
	if idx < 0 || idx >= len(entries) {
		return TagEntry{}, &spfserrors.UnknownReference{Reference: spec.String()}
	}
	return entries[idx], nil
}

// History returns every entry for org/name, oldest first.
func (ts *TagStore) History(org, name string) ([]TagEntry, error) {
	path := ts.pathFor(org, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &spfserrors.UnknownReference{Reference: org + "/" + name}
		}
		return nil, &spfserrors.StorageReadError{Path: path, Err: err}
	}
	defer f.Close()
	return readTagEntries(f)
}

// ReadStream returns every entry for spec's (org, name), newest to oldest,
// ignoring spec.Version.
func (ts *TagStore) ReadStream(spec TagSpec) ([]TagEntry, error) {
	entries, err := ts.History(spec.Org, spec.Name)
	if err != nil {
		return nil, err
	}
	out := make([]TagEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out, nil
}

// Remove deletes the entire history of org/name.
func (ts *TagStore) Remove(org, name string) error {
	err := os.Remove(ts.pathFor(org, name))
	if err != nil && !os.IsNotExist(err) {
		return &spfserrors.StorageWriteError{Path: ts.pathFor(org, name), Err: err}
	}
	return nil
}

// RemoveVersion deletes exactly one pushed version from a tag's history,
// rewriting the file without that record. The
// stream's parent pointers are left exactly as they were recorded; removing
// a version does not relink its neighbors, and Prune does not either.
func (ts *TagStore) RemoveVersion(spec TagSpec) error {
	path := ts.pathFor(spec.Org, spec.Name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return &spfserrors.UnknownReference{Reference: spec.String()}
		}
		return &spfserrors.StorageReadError{Path: path, Err: err}
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return &spfserrors.StorageWriteError{Path: path, Err: err}
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	entries, err := readTagEntries(f)
	if err != nil {
		return err
	}
	idx := len(entries) - 1 - spec.Version
	if idx < 0 || idx >= len(entries) {
		return &spfserrors.UnknownReference{Reference: spec.String()}
	}
	entries = append(entries[:idx], entries[idx+1:]...)

	var buf bytes.Buffer
	for _, e := range entries {
		buf.Write(encodeTagEntry(e))
	}
	if err := f.Truncate(0); err != nil {
		return &spfserrors.StorageWriteError{Path: path, Err: err}
	}
	if _, err := f.WriteAt(buf.Bytes(), 0); err != nil {
		return &spfserrors.StorageWriteError{Path: path, Err: err}
	}
	return nil
}

// Prune rewrites org/name's history, dropping every entry for which
// shouldPrune(version, entry) returns true (version 0 is newest, as
// everywhere else in this package), and returns how many were dropped.
// Used by pkg/clean to apply the age/version tag-pruning rule in one
// rewrite rather than repeated single-version removals, which would need
// to account for shifting indices between calls.
func (ts *TagStore) Prune(org, name string, shouldPrune func(version int, e TagEntry) bool) (int, error) {
	path := ts.pathFor(org, name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &spfserrors.StorageReadError{Path: path, Err: err}
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return 0, &spfserrors.StorageWriteError{Path: path, Err: err}
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	entries, err := readTagEntries(f)
	if err != nil {
		return 0, err
	}

	var kept []TagEntry
	removed := 0
	for i, e := range entries {
		version := len(entries) - 1 - i
		if shouldPrune(version, e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	for _, e := range kept {
		buf.Write(encodeTagEntry(e))
	}
	if err := f.Truncate(0); err != nil {
		return 0, &spfserrors.StorageWriteError{Path: path, Err: err}
	}
	if _, err := f.WriteAt(buf.Bytes(), 0); err != nil {
		return 0, &spfserrors.StorageWriteError{Path: path, Err: err}
	}
	return removed, nil
}

// Ls lists the immediate children of a tag directory path ("" for the
// root): each child is either a Folder (an intermediate org/path
// component with further children) or a Tag (a leaf name with at least one
// pushed revision).
func (ts *TagStore) Ls(path string) ([]EntryType, error) {
	dir := ts.root
	if path != "" {
		dir = filepath.Join(ts.root, filepath.Clean(path))
	}
	children, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &spfserrors.StorageReadError{Path: dir, Err: err}
	}
	var out []EntryType
	for _, child := range children {
		if child.IsDir() {
			out = append(out, EntryType{Name: child.Name(), Folder: true})
			continue
		}
		out = append(out, EntryType{Name: strings.TrimSuffix(child.Name(), ".tag"), Folder: false})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindByDigest scans every tag stream and returns the TagSpec of each whose
// newest (version 0) entry targets digest.
func (ts *TagStore) FindByDigest(digest encoding.Digest) ([]TagSpec, error) {
	names, err := ts.ListNames()
	if err != nil {
		return nil, err
	}
	var out []TagSpec
	for _, name := range names {
		spec, err := ParseTagSpec(name)
		if err != nil {
			continue
		}
		entry, err := ts.Resolve(spec)
		if err != nil {
			continue
		}
		if entry.Target == digest {
			out = append(out, spec)
		}
	}
	return out, nil
}

// ListNames returns every "org/name" pair that has at least one pushed
// entry, sorted.
func (ts *TagStore) ListNames() ([]string, error) {
	var names []string
	orgs, err := os.ReadDir(ts.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &spfserrors.StorageReadError{Path: ts.root, Err: err}
	}
	for _, org := range orgs {
		if !org.IsDir() {
			continue
		}
		orgDir := filepath.Join(ts.root, org.Name())
		tags, err := os.ReadDir(orgDir)
		if err != nil {
			return nil, &spfserrors.StorageReadError{Path: orgDir, Err: err}
		}
		for _, tag := range tags {
			if tag.IsDir() || !strings.HasSuffix(tag.Name(), tagFileSuffix) {
				continue
			}
			names = append(names, org.Name()+"/"+strings.TrimSuffix(tag.Name(), tagFileSuffix))
		}
	}
	sort.Strings(names)
	return names, nil
}

func readTagEntries(f *os.File) ([]TagEntry, error) {
	if _, err := f.Seek(0, os.SEEK_SET); err != nil {
		return nil, &spfserrors.StorageReadError{Path: f.Name(), Err: err}
	}
	var entries []TagEntry
	r := bufio.NewReader(f)
	for {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			if err == io.EOF {
				return entries, nil
			}
			return nil, &spfserrors.StorageReadError{Path: f.Name(), Err: err}
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, &spfserrors.StorageReadError{Path: f.Name(), Err: err}
		}
		entry, err := decodeTagEntry(body)
		if err != nil {
			return nil, &spfserrors.StorageReadError{Path: f.Name(), Err: fmt.Errorf("malformed tag entry: %w", err)}
		}
		entries = append(entries, entry)
	}
}
