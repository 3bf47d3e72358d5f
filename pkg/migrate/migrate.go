// Package migrate implements "spfs migrate": a one-way, explicit sweep
// that rewrites every object in a repository's object database to the
// current flat schema and stamps the repository's VERSION file. An
// unrecognized digest-strategy byte is never silently guessed at; a
// repository that needs a new strategy needs a new migrate, not a reader
// that papers over the difference.
package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spfs-project/spfs/internal/dcontext"
	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/storage/fs"
)

// CurrentVersion is the ascii semver stamped into <root>/VERSION after a
// successful migrate. It tracks encoding.SchemaFlat, the schema every
// object ends up at.
const CurrentVersion = "1.0.0"

// Report summarizes a completed migration.
type Report struct {
	Scanned   int
	Rewritten int
}

// ReadVersion returns the ascii semver recorded in <root>/VERSION, or ""
// if the repository predates version stamping.
func ReadVersion(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "VERSION"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteVersion stamps <root>/VERSION with version.
func WriteVersion(root, version string) error {
	return os.WriteFile(filepath.Join(root, "VERSION"), []byte(version+"\n"), 0o644)
}

// Migrate rewrites every legacy-schema object in repo's object database to
// the flat schema, in place under the same digest, then stamps
// <root>/VERSION with CurrentVersion. It is idempotent: an object already
// at SchemaFlat is left untouched, and running migrate twice in a row
// does no additional work the second time.
func Migrate(ctx context.Context, repo *fs.Repository) (Report, error) {
	var report Report
	logger := dcontext.GetLogger(ctx)

	err := repo.Objects.IterObjects(ctx, func(digest encoding.Digest) error {
		report.Scanned++
		version, err := repo.Objects.HeaderVersion(digest)
		if err != nil {
			return fmt.Errorf("reading header for %s: %w", digest.String(), err)
		}
		if version == encoding.SchemaFlat {
			return nil
		}
		if err := repo.Objects.RewriteFlat(ctx, digest); err != nil {
			return fmt.Errorf("rewriting %s: %w", digest.String(), err)
		}
		report.Rewritten++
		logger.Debugf("migrated object %s to flat schema", digest.String())
		return nil
	})
	if err != nil {
		return report, err
	}

	if err := WriteVersion(repo.Root, CurrentVersion); err != nil {
		return report, fmt.Errorf("stamping VERSION: %w", err)
	}
	return report, nil
}
