package dcontext

import "context"

// field keys used to tag log lines with the repository and operation that
// produced them. Passed to GetLogger as extra keys, e.g.
// dcontext.GetLogger(ctx, dcontext.RepositoryRootKey, dcontext.DigestKey).
type fieldKey string

const (
	// RepositoryRootKey tags log lines with the repository root path.
	RepositoryRootKey fieldKey = "repository.root"
	// DigestKey tags log lines with the object or payload digest in play.
	DigestKey fieldKey = "digest"
	// TagSpecKey tags log lines with the tag spec being resolved or pushed.
	TagSpecKey fieldKey = "tag.spec"
)

// WithRepositoryRoot returns a context carrying the repository root for
// logging purposes.
func WithRepositoryRoot(ctx context.Context, root string) context.Context {
	return context.WithValue(ctx, RepositoryRootKey, root)
}

// WithDigest returns a context carrying a digest string for logging purposes.
func WithDigest(ctx context.Context, digest string) context.Context {
	return context.WithValue(ctx, DigestKey, digest)
}
