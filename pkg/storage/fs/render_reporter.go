package fs

import (
	"sync"

	"github.com/spfs-project/spfs/pkg/tracking"
)

// BlobRenderResult describes how one blob entry ended up on disk, so a
// reporter watching a render can tell a cheap hard-link apart from a
// fallback copy.
type BlobRenderResult int

const (
	// BlobHardLinked means the payload was linked in from the payload
	// store rather than copied.
	BlobHardLinked BlobRenderResult = iota
	// BlobCopied means the payload was copied, either because the render
	// was requested as a copy render or because the payload store sits on
	// a different filesystem than the render.
	BlobCopied
	// BlobCopiedLinkLimit means linking failed because the payload already
	// has the filesystem's maximum number of hard links.
	BlobCopiedLinkLimit
	// BlobCopiedWrongMode means the payload's on-disk mode differs from
	// the mode the manifest records, so linking would expose the wrong
	// permissions.
	BlobCopiedWrongMode
	// BlobCopiedWrongOwner means the payload is owned by a different user
	// than the one rendering.
	BlobCopiedWrongOwner
	// SymlinkWritten means the entry was a symlink and was created fresh.
	SymlinkWritten
)

// Reporter receives progress updates from a Render call. Implementations
// must be safe for concurrent use: a single render is single-threaded today,
// but a reporter is free to be shared across renders running in different
// goroutines. Unless the render errors, every VisitEntry is followed by a
// matching RenderedEntry (and, for blob entries, a RenderedBlob in between).
type Reporter interface {
	// VisitLayer is called once a manifest has been identified to render.
	VisitLayer(manifest *tracking.Manifest)
	// RenderedLayer is called once a manifest has finished rendering.
	RenderedLayer(manifest *tracking.Manifest)
	// VisitEntry is called when an entry has been identified to render.
	VisitEntry(path string, entry tracking.Entry)
	// RenderedBlob is called once a blob entry has finished rendering.
	RenderedBlob(path string, entry tracking.Entry, result BlobRenderResult)
	// RenderedEntry is called once an entry has finished rendering.
	RenderedEntry(path string, entry tracking.Entry)
}

// SilentReporter discards every event; it is the default Reporter for a
// Renderer that was never given one.
type SilentReporter struct{}

func (SilentReporter) VisitLayer(*tracking.Manifest)                        {}
func (SilentReporter) RenderedLayer(*tracking.Manifest)                     {}
func (SilentReporter) VisitEntry(string, tracking.Entry)                    {}
func (SilentReporter) RenderedBlob(string, tracking.Entry, BlobRenderResult) {}
func (SilentReporter) RenderedEntry(string, tracking.Entry)                  {}

var _ Reporter = SilentReporter{}

// MultiReporter fans an event out to every underlying Reporter in turn. It
// is safe for concurrent use as long as every underlying Reporter is, since
// it holds no state of its own beyond the immutable slice of delegates.
type MultiReporter struct {
	reporters []Reporter
}

// NewMultiReporter returns a Reporter that delegates each event to every one
// of reporters, in order.
func NewMultiReporter(reporters ...Reporter) *MultiReporter {
	return &MultiReporter{reporters: reporters}
}

func (m *MultiReporter) VisitLayer(manifest *tracking.Manifest) {
	for _, r := range m.reporters {
		r.VisitLayer(manifest)
	}
}

func (m *MultiReporter) RenderedLayer(manifest *tracking.Manifest) {
	for _, r := range m.reporters {
		r.RenderedLayer(manifest)
	}
}

func (m *MultiReporter) VisitEntry(path string, entry tracking.Entry) {
	for _, r := range m.reporters {
		r.VisitEntry(path, entry)
	}
}

func (m *MultiReporter) RenderedBlob(path string, entry tracking.Entry, result BlobRenderResult) {
	for _, r := range m.reporters {
		r.RenderedBlob(path, entry, result)
	}
}

func (m *MultiReporter) RenderedEntry(path string, entry tracking.Entry) {
	for _, r := range m.reporters {
		r.RenderedEntry(path, entry)
	}
}

var _ Reporter = (*MultiReporter)(nil)

// CountingReporter tallies entries and bytes visited and rendered, the data
// a progress bar would bind to; it is safe for concurrent use.
type CountingReporter struct {
	mu               sync.Mutex
	EntriesVisited   int
	EntriesRendered  int
	BytesVisited     uint64
	BytesRendered    uint64
}

func (c *CountingReporter) VisitLayer(*tracking.Manifest)    {}
func (c *CountingReporter) RenderedLayer(*tracking.Manifest) {}

func (c *CountingReporter) VisitEntry(_ string, entry tracking.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EntriesVisited++
	if entry.Kind == tracking.EntryBlob {
		c.BytesVisited += entry.Size
	}
}

func (c *CountingReporter) RenderedBlob(string, tracking.Entry, BlobRenderResult) {}

func (c *CountingReporter) RenderedEntry(_ string, entry tracking.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EntriesRendered++
	if entry.Kind == tracking.EntryBlob {
		c.BytesRendered += entry.Size
	}
}

var _ Reporter = (*CountingReporter)(nil)
