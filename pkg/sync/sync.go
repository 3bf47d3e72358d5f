// Package sync implements the sync engine: transferring the closure of an
// object (and, for a tag, the object it resolves to) from a source
// repository to a destination one, leaves-first so a reader of the
// destination never observes a reference to something not yet copied.
package sync

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/spfs-project/spfs/internal/dcontext"
	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/repo"
	"github.com/spfs-project/spfs/pkg/storage/fs"
)

// transferConcurrency bounds how many objects Sync copies at once.
func transferConcurrency() int {
	return 2 * runtime.GOMAXPROCS(0)
}

// Options controls a single sync.
type Options struct {
	// Force re-transfers every object and payload in the closure even when
	// the destination already has it.
	Force bool
}

// Report summarizes one Sync call.
type Report struct {
	// ObjectsCopied counts objects written to the destination: those not
	// already present there, or every object in the closure under Force.
	ObjectsCopied int
	// PayloadsCopied counts Blob payloads written to the destination: those
	// not already present there, or every payload in the closure under Force.
	PayloadsCopied int
}

// Sync copies every object and payload reachable from digest from src to
// dst, skipping anything dst already has (unless opts.Force). It is safe to
// re-run: a sync interrupted partway through simply resumes copying
// whatever is still missing, since presence is always checked before a
// write.
//
// Copies are staged leaves-first by object kind — blobs (with their
// payloads), then manifests, then layers, then platforms — so that by the
// time any object lands on dst, everything it references is already there.
// The graph's edges only ever point down that ladder, which makes the
// four-stage split a topological order without per-object dependency
// tracking. Within a stage, transfers run with bounded parallelism, since
// src or dst may be a remote repository where serializing every copy one
// at a time would waste the round-trip latency budget.
func Sync(ctx context.Context, src, dst repo.Repository, digest encoding.Digest, opts Options) (Report, error) {
	log := dcontext.GetLoggerWithField(ctx, "digest", digest.String())

	stages := make(map[encoding.Kind][]graph.Object)
	digests := make(map[encoding.Kind][]encoding.Digest)
	if err := graph.Walk(ctx, src.ObjectStore(), digest, func(d encoding.Digest, obj graph.Object) error {
		stages[obj.Kind()] = append(stages[obj.Kind()], obj)
		digests[obj.Kind()] = append(digests[obj.Kind()], d)
		return nil
	}); err != nil {
		return Report{}, err
	}

	var objectsCopied, payloadsCopied int64
	for _, kind := range []encoding.Kind{encoding.KindBlob, encoding.KindManifest, encoding.KindLayer, encoding.KindPlatform} {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(transferConcurrency())
		for i, obj := range stages[kind] {
			obj, d := obj, digests[kind][i]
			g.Go(func() error {
				if blob, ok := obj.(*graph.Blob); ok {
					copied, err := syncPayload(gctx, src, dst, blob.Payload, opts.Force)
					if err != nil {
						return err
					}
					if copied {
						atomic.AddInt64(&payloadsCopied, 1)
					}
				}
				if !opts.Force {
					has, err := dst.ObjectStore().HasObject(gctx, d)
					if err != nil {
						return err
					}
					if has {
						return nil
					}
				}
				if _, err := dst.ObjectStore().WriteObject(gctx, obj); err != nil {
					return err
				}
				atomic.AddInt64(&objectsCopied, 1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Report{
				ObjectsCopied:  int(atomic.LoadInt64(&objectsCopied)),
				PayloadsCopied: int(atomic.LoadInt64(&payloadsCopied)),
			}, err
		}
	}
	report := Report{
		ObjectsCopied:  int(objectsCopied),
		PayloadsCopied: int(payloadsCopied),
	}

	log.Debugf("synced %d objects, %d payloads", report.ObjectsCopied, report.PayloadsCopied)
	return report, nil
}

// syncPayload copies digest's payload from src to dst if dst doesn't
// already have it, then re-reads it back from dst and re-hashes it: the
// observed digest must equal the claimed one, or the transfer is reported
// as failed rather than leaving dst holding bytes that don't match the
// digest they are filed under.
func syncPayload(ctx context.Context, src, dst repo.Repository, digest encoding.Digest, force bool) (bool, error) {
	if !force {
		has, err := dst.PayloadStore().HasPayload(ctx, digest)
		if err != nil {
			return false, err
		}
		if has {
			return false, nil
		}
	}
	r, err := src.PayloadStore().OpenPayload(ctx, digest)
	if err != nil {
		return false, err
	}
	defer r.Close()
	if err := dst.PayloadStore().WritePayload(ctx, digest, r); err != nil {
		return false, err
	}

	written, err := dst.PayloadStore().OpenPayload(ctx, digest)
	if err != nil {
		return false, err
	}
	defer written.Close()
	observed, _, err := encoding.Hash(written)
	if err != nil {
		return false, err
	}
	if observed != digest {
		_ = dst.PayloadStore().RemovePayload(ctx, digest)
		return false, fmt.Errorf("sync: dst stored payload under digest %s but its bytes hash to %s", digest, observed)
	}
	return true, nil
}

// SyncTag resolves spec against src, syncs the full closure of what it
// points to, and only then pushes the same target to dst — so a reader who
// sees the tag on dst is guaranteed the destination already has everything
// the tag's target needs.
func SyncTag(ctx context.Context, src, dst repo.Repository, spec fs.TagSpec, opts Options) (Report, error) {
	entry, err := src.TagStore().Resolve(spec)
	if err != nil {
		return Report{}, err
	}
	report, err := Sync(ctx, src, dst, entry.Target, opts)
	if err != nil {
		return report, err
	}
	if _, err := dst.TagStore().Push(spec.Org, spec.Name, entry.Target); err != nil {
		return report, err
	}
	return report, nil
}

// SyncAll syncs every name currently tagged in src to dst, accumulating
// (rather than aborting on) a single name's failure, so one bad tag does
// not block the rest of a fleet-wide sync.
func SyncAll(ctx context.Context, src, dst repo.Repository, opts Options) (Report, error) {
	names, err := src.TagStore().ListNames()
	if err != nil {
		return Report{}, err
	}
	var total Report
	var result *multierror.Error
	for _, name := range names {
		spec, err := fs.ParseTagSpec(name)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		report, err := SyncTag(ctx, src, dst, spec, opts)
		total.ObjectsCopied += report.ObjectsCopied
		total.PayloadsCopied += report.PayloadsCopied
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return total, result.ErrorOrNil()
}
