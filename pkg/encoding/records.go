package encoding

// EntryKind discriminates the three kinds of Manifest tree entry.
type EntryKind uint8

const (
	// EntryTree is a directory: its Children map is meaningful, its
	// Object digest is unused (Nil).
	EntryTree EntryKind = iota
	// EntryBlob is a regular file or symlink: Object is the digest of the
	// Blob object that references its payload (for a symlink, the link
	// target bytes).
	EntryBlob
	// EntryMask subtracts a path from lower layers (an overlayfs
	// whiteout). Its Object digest is always Nil and its Mode is 0.
	EntryMask
)

func (k EntryKind) String() string {
	switch k {
	case EntryTree:
		return "Tree"
	case EntryBlob:
		return "Blob"
	case EntryMask:
		return "Mask"
	default:
		return "Unknown"
	}
}

// BlobRecord is the wire body of a Blob object: a single payload reference.
type BlobRecord struct {
	Payload Digest
	Size    uint64
}

// LayerRecord is the wire body of a Layer object.
type LayerRecord struct {
	Manifest Digest
}

// PlatformRecord is the wire body of a Platform object: an ordered,
// bottom-to-top stack of layer digests.
type PlatformRecord struct {
	Stack []Digest
}

// ManifestEntryRecord is one flattened node of a Manifest tree, as it
// appears on the wire. Path is the full slash-separated path from the
// manifest root (the root itself is never represented as a record).
// Records are always written and read in the manifest's canonical walk
// order: depth-first, lexicographic by name, trees sorting
// before non-trees at a shared prefix.
type ManifestEntryRecord struct {
	Path string
	Kind EntryKind
	Mode uint32
	Size uint64
	// Object is the Blob object digest for a Blob entry, Nil for a Tree or
	// Mask entry.
	Object Digest
}

// ManifestRecord is the wire body of a Manifest object: its entries in
// canonical walk order.
type ManifestRecord struct {
	Entries []ManifestEntryRecord
}
