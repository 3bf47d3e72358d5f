// Package clean implements the cleaner: reachability-gated deletion of
// objects, payloads, tag versions and renders that are no longer attached
// to a tag. Every deletion is age-gated against a caller
// supplied "older than" timestamp, since an object that was just written
// but not yet tagged may belong to a commit still in flight.
package clean

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/spfs-project/spfs/internal/dcontext"
	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/storage/fs"
)

// Report summarizes what one Clean call removed.
type Report struct {
	ObjectsRemoved  int
	PayloadsRemoved int
	TagsRemoved     int
	RendersRemoved  int
}

func (r *Report) merge(other Report) {
	r.ObjectsRemoved += other.ObjectsRemoved
	r.PayloadsRemoved += other.PayloadsRemoved
	r.TagsRemoved += other.TagsRemoved
	r.RendersRemoved += other.RendersRemoved
}

// TagPruneOptions parameterizes the tag-history pruning pass. A zero time,
// a zero KeepIfVersionLessThan and a negative PruneIfVersionMoreThan each
// leave that rule unset (a PruneIfVersionMoreThan of 0 is a set rule that
// prunes every version but the newest): the prunable set is the
// intersection of whichever rules are actually set.
// Version 0 is always the newest push.
type TagPruneOptions struct {
	PruneIfOlderThan       time.Time
	KeepIfNewerThan        time.Time
	PruneIfVersionMoreThan int // -1 means unset
	KeepIfVersionLessThan  int // 0 means unset
}

// Options controls a full Clean run.
type Options struct {
	// OlderThan gates deletion of unattached objects, payloads and
	// renders: only entries whose mtime predates it are removed.
	OlderThan time.Time
	// Tags, if non-nil, requests a tag-history prune before the
	// object/payload/render sweep, so objects only the pruned tag
	// versions reference become eligible in the same run.
	Tags *TagPruneOptions
}

// Clean runs the full cleaner pipeline against repo: an optional tag
// history prune, then attached-set recomputation, then the object/payload
// sweep, then the render sweep.
func Clean(ctx context.Context, repo *fs.Repository, opts Options) (Report, error) {
	var report Report
	log := dcontext.GetLogger(ctx)

	if opts.Tags != nil {
		tagReport, err := PruneTags(ctx, repo, *opts.Tags)
		if err != nil {
			return report, err
		}
		report.merge(tagReport)
	}

	sweepReport, err := PruneUnattached(ctx, repo, opts.OlderThan)
	if err != nil {
		return report, err
	}
	report.merge(sweepReport)

	renderReport, err := PruneRenders(ctx, repo, opts.OlderThan)
	if err != nil {
		return report, err
	}
	report.merge(renderReport)

	log.Infof("clean: removed %d objects, %d payloads, %d tag versions, %d renders",
		report.ObjectsRemoved, report.PayloadsRemoved, report.TagsRemoved, report.RendersRemoved)
	return report, nil
}

// attachedRoots returns the current (newest) target digest of every pushed
// tag, the root set the attached-object computation walks from.
func attachedRoots(repo *fs.Repository) ([]encoding.Digest, error) {
	names, err := repo.Tags.ListNames()
	if err != nil {
		return nil, err
	}
	roots := make([]encoding.Digest, 0, len(names))
	for _, name := range names {
		spec, err := fs.ParseTagSpec(name)
		if err != nil {
			continue
		}
		entry, err := repo.Tags.Resolve(spec)
		if err != nil {
			continue
		}
		roots = append(roots, entry.Target)
	}
	return roots, nil
}

// PruneUnattached computes Attached = the union of everything reachable
// from every tag's current target, then deletes every object and payload
// outside that set whose mtime is older than olderThan. The age gate
// protects objects written moments ago by a commit
// still in progress that has not yet pushed its tag.
func PruneUnattached(ctx context.Context, repo *fs.Repository, olderThan time.Time) (Report, error) {
	var report Report

	roots, err := attachedRoots(repo)
	if err != nil {
		return report, err
	}

	attachedObjects, err := graph.Reachable(ctx, repo.Objects, roots)
	if err != nil {
		return report, err
	}

	attachedPayloads := make(map[encoding.Digest]bool, len(attachedObjects))
	for digest := range attachedObjects {
		obj, err := repo.Objects.GetObject(ctx, digest)
		if err != nil {
			return report, err
		}
		if blob, ok := obj.(*graph.Blob); ok {
			attachedPayloads[blob.Payload] = true
		}
	}

	var result *multierror.Error
	err = repo.Objects.IterObjects(ctx, func(digest encoding.Digest) error {
		if attachedObjects[digest] {
			return nil
		}
		modTime, err := repo.Objects.ObjectModTime(digest)
		if err != nil {
			result = multierror.Append(result, err)
			return nil
		}
		if modTime.After(olderThan) || modTime.Equal(olderThan) {
			return nil
		}
		if err := repo.Objects.RemoveObject(ctx, digest); err != nil {
			result = multierror.Append(result, err)
			return nil
		}
		report.ObjectsRemoved++
		return nil
	})
	if err != nil {
		result = multierror.Append(result, err)
	}

	err = repo.Payloads.IterPayloads(ctx, func(digest encoding.Digest) error {
		if attachedPayloads[digest] {
			return nil
		}
		modTime, err := repo.Payloads.PayloadModTime(digest)
		if err != nil {
			result = multierror.Append(result, err)
			return nil
		}
		if modTime.After(olderThan) || modTime.Equal(olderThan) {
			return nil
		}
		if err := repo.Payloads.RemovePayload(ctx, digest); err != nil {
			result = multierror.Append(result, err)
			return nil
		}
		report.PayloadsRemoved++
		return nil
	})
	if err != nil {
		result = multierror.Append(result, err)
	}

	return report, result.ErrorOrNil()
}

// PruneTags drops pushed tag versions matching opts's age/version rule
// from every (org, name) stream, then re-derives the attached set and
// runs PruneUnattached so objects only the dropped versions referenced
// become collectible in the same pass.
func PruneTags(ctx context.Context, repo *fs.Repository, opts TagPruneOptions) (Report, error) {
	var report Report
	names, err := repo.Tags.ListNames()
	if err != nil {
		return report, err
	}

	var result *multierror.Error
	for _, name := range names {
		spec, err := fs.ParseTagSpec(name)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		removed, err := repo.Tags.Prune(spec.Org, spec.Name, func(version int, e fs.TagEntry) bool {
			return isPrunable(version, e, opts)
		})
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		report.TagsRemoved += removed
	}
	if result.ErrorOrNil() != nil {
		return report, result.ErrorOrNil()
	}

	sweepReport, err := PruneUnattached(ctx, repo, opts.PruneIfOlderThan)
	if err != nil {
		return report, err
	}
	report.merge(sweepReport)
	return report, nil
}

// isPrunable decides one tag version's fate: a version is prunable only
// when both the age rule and the version rule agree it should go, and
// either rule's "keep" threshold vetoes pruning outright (the ambiguous
// case is resolved in favor of keeping).
func isPrunable(version int, e fs.TagEntry, opts TagPruneOptions) bool {
	ageResult := true
	if !opts.PruneIfOlderThan.IsZero() {
		ageResult = e.Timestamp.Before(opts.PruneIfOlderThan)
	}
	if !opts.KeepIfNewerThan.IsZero() && e.Timestamp.After(opts.KeepIfNewerThan) {
		ageResult = false
	}

	versionResult := true
	if opts.PruneIfVersionMoreThan >= 0 {
		versionResult = version > opts.PruneIfVersionMoreThan
	}
	if opts.KeepIfVersionLessThan > 0 && version < opts.KeepIfVersionLessThan {
		versionResult = false
	}

	return ageResult && versionResult
}

// PruneRenders removes every completed render whose manifest digest is no
// longer part of the attached set, age-gated the
// same way as objects and payloads. Renders are derived artifacts: losing
// one before its manifest is rebuilt is never a correctness problem, only
// a cache miss on the next render call.
func PruneRenders(ctx context.Context, repo *fs.Repository, olderThan time.Time) (Report, error) {
	var report Report

	roots, err := attachedRoots(repo)
	if err != nil {
		return report, err
	}
	attached, err := graph.Reachable(ctx, repo.Objects, roots)
	if err != nil {
		return report, err
	}

	var result *multierror.Error
	err = repo.Renderer.IterRenders(ctx, func(digest encoding.Digest) error {
		if attached[digest] {
			return nil
		}
		modTime, err := repo.Renderer.RenderModTime(digest)
		if err != nil {
			result = multierror.Append(result, err)
			return nil
		}
		if modTime.After(olderThan) || modTime.Equal(olderThan) {
			return nil
		}
		if err := repo.Renderer.Remove(digest); err != nil {
			result = multierror.Append(result, err)
			return nil
		}
		report.RendersRemoved++
		return nil
	})
	if err != nil {
		result = multierror.Append(result, err)
	}
	return report, result.ErrorOrNil()
}
