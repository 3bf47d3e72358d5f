package fs

import (
	"context"
	"path/filepath"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/tracking"
)

// Repository is the local-filesystem repository facade: an ObjectDatabase,
// a PayloadStore, a TagStore and a Renderer sharing one root directory.
type Repository struct {
	Root     string
	Objects  *ObjectDatabase
	Payloads *PayloadStore
	Tags     *TagStore
	Renderer *Renderer
}

// Open opens (creating if necessary) the spfs repository rooted at root,
// laying out "objects/", "payloads/", "tags/" and "renders/<user>/" beneath
// it. Renders are kept per-user because a render hard-links against the
// payload store and its usability depends on who owns the linked files;
// each user materializes (and cleans) their own render tree.
func Open(root string) (*Repository, error) {
	objects, err := NewObjectDatabase(filepath.Join(root, "objects"))
	if err != nil {
		return nil, err
	}
	payloads, err := NewPayloadStore(filepath.Join(root, "payloads"))
	if err != nil {
		return nil, err
	}
	tags, err := NewTagStore(filepath.Join(root, "tags"))
	if err != nil {
		return nil, err
	}
	renderer, err := NewRenderer(filepath.Join(root, "renders", currentUser()), objects, payloads)
	if err != nil {
		return nil, err
	}
	return &Repository{Root: root, Objects: objects, Payloads: payloads, Tags: tags, Renderer: renderer}, nil
}

// ReadManifest resolves digest's Manifest object and its full tracking
// tree, as used both to render and to walk a committed layer.
func (repo *Repository) ReadManifest(ctx context.Context, digest encoding.Digest) (*tracking.Manifest, error) {
	obj, err := repo.Objects.GetObject(ctx, digest)
	if err != nil {
		return nil, err
	}
	manifest, ok := obj.(*graph.Manifest)
	if !ok {
		return nil, &invalidKindError{Digest: digest, Expected: encoding.KindManifest, Got: obj.Kind()}
	}
	return manifest.ToTracking(), nil
}

// RenderPlatform renders every layer of the platform stored under digest,
// bottom to top, overlaying masked paths from higher layers.
// It returns the path of the topmost, fully composed render.
func (repo *Repository) RenderPlatform(ctx context.Context, digest encoding.Digest) (string, error) {
	obj, err := repo.Objects.GetObject(ctx, digest)
	if err != nil {
		return "", err
	}
	platform, ok := obj.(*graph.Platform)
	if !ok {
		return "", &invalidKindError{Digest: digest, Expected: encoding.KindPlatform, Got: obj.Kind()}
	}

	composed := tracking.NewManifest()
	for _, layerDigest := range platform.Layers {
		layerObj, err := repo.Objects.GetObject(ctx, layerDigest)
		if err != nil {
			return "", err
		}
		layer, ok := layerObj.(*graph.Layer)
		if !ok {
			return "", &invalidKindError{Digest: layerDigest, Expected: encoding.KindLayer, Got: layerObj.Kind()}
		}
		manifest, err := repo.ReadManifest(ctx, layer.Manifest)
		if err != nil {
			return "", err
		}
		if err := overlay(composed, manifest); err != nil {
			return "", err
		}
	}

	composed.ComputeTreeSizes()
	flattened := graph.NewManifest(composed)
	flatDigest, err := graph.ComputeDigest(flattened)
	if err != nil {
		return "", err
	}
	if err := repo.Renderer.Render(ctx, flatDigest, composed); err != nil {
		return "", err
	}
	return repo.Renderer.RenderPath(flatDigest), nil
}

// overlay merges upper's entries into base in place: a Tree entry in upper
// creates or reuses the corresponding directory in base, a Blob entry
// overwrites any existing base entry at that path, and a Mask entry removes
// the corresponding base entry and everything beneath it, implementing
// layer whiteouts.
func overlay(base, upper *tracking.Manifest) error {
	return upper.Walk(func(path string, e tracking.Entry) error {
		switch e.Kind {
		case tracking.EntryTree:
			_, err := base.Mkdirs(path)
			return err
		case tracking.EntryMask:
			return removePath(base, path)
		default:
			if _, ok := base.Get(path); ok {
				return base.Update(path, e)
			}
			if _, err := base.Mknod(path, e.Kind); err != nil {
				return err
			}
			return base.Update(path, e)
		}
	})
}

func removePath(base *tracking.Manifest, path string) error {
	_, ok := base.Get(path)
	if !ok {
		return nil
	}
	return base.Update(path, tracking.Entry{Kind: tracking.EntryMask})
}

type invalidKindError struct {
	Digest   encoding.Digest
	Expected encoding.Kind
	Got      encoding.Kind
}

func (e *invalidKindError) Error() string {
	return "expected " + e.Expected.String() + " at " + e.Digest.String() + ", got " + e.Got.String()
}
