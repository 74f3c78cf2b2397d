// Package migrations hands the embedded wearables schema to a host
// migration runner. The host supplies the register function; this package
// resolves the per-dialect filesystems and validates they carry SQL.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	wearables "github.com/rebatewell/go-wearables"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// embeddedRoot is where the migration tree lives inside the module's
// embedded filesystem. SQLite alternatives sit in a subdirectory because the
// postgres files are the canonical schema.
const embeddedRoot = "data/sql/migrations"

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithDialectSourceLabel(label string) Option {
	return func(r *Registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.SourceLabel = label
		}
	}
}

// WithValidationTargets narrows registration to the named dialects. Blank
// input keeps the default of every embedded dialect.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if cleaned := normalizeDialects(targets); len(cleaned) > 0 {
			r.ValidationTargets = cleaned
		}
	}
}

// WithFilesystems swaps the embedded migration tree for host-provided
// filesystems, keyed by dialect.
func WithFilesystems(filesystems ...FilesystemSpec) Option {
	return func(r *Registration) {
		kept := make([]FilesystemSpec, 0, len(filesystems))
		for _, spec := range filesystems {
			dialect := strings.TrimSpace(strings.ToLower(spec.Dialect))
			if dialect == "" || spec.FS == nil {
				continue
			}
			spec.Dialect = dialect
			kept = append(kept, spec)
		}
		if len(kept) > 0 {
			r.Filesystems = kept
		}
	}
}

// Filesystems resolves the postgres and sqlite migration trees. An optional
// first source overrides the embedded tree, which is how hosts layer their
// own schema on top of the wearables one.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := wearables.GetCoreMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}

	base, basePath, err := resolveMigrationRoot(root)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: joinFSPath(basePath, "sqlite"), FS: sqliteFS},
	}
	for _, spec := range filesystems {
		if err := requireUpMigrations(spec); err != nil {
			return nil, err
		}
	}
	return filesystems, nil
}

// Register resolves the migration filesystems and hands each validated
// dialect to the host's register function.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       "go-wearables",
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}

	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems

	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	switch {
	case registerFn == nil:
		return reg, fmt.Errorf("migrations: register function is required")
	case strings.TrimSpace(reg.SourceLabel) == "":
		return reg, fmt.Errorf("migrations: source label is required")
	case len(reg.ValidationTargets) == 0:
		return reg, fmt.Errorf("migrations: validation targets are required")
	case len(reg.Filesystems) == 0:
		return reg, fmt.Errorf("migrations: filesystems are required")
	}

	targets := normalizeDialects(reg.ValidationTargets)
	for _, spec := range reg.Filesystems {
		if !slices.Contains(targets, spec.Dialect) {
			continue
		}
		if spec.FS == nil {
			return reg, fmt.Errorf("migrations: filesystem for %s is nil", spec.Dialect)
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return reg, nil
}

// resolveMigrationRoot accepts either the module root (embedded layout) or a
// filesystem already pointed at a directory of .sql files.
func resolveMigrationRoot(root fs.FS) (fs.FS, string, error) {
	if sub, err := fs.Sub(root, embeddedRoot); err == nil {
		return sub, embeddedRoot, nil
	}

	entries, err := fs.ReadDir(root, ".")
	if err != nil {
		return nil, "", fmt.Errorf("migrations: read migration root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			return root, ".", nil
		}
	}
	return nil, "", fmt.Errorf("migrations: %s not found and root has no .sql files", embeddedRoot)
}

func requireUpMigrations(spec FilesystemSpec) error {
	matches, err := fs.Glob(spec.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("migrations: glob %s %s: %w", spec.Dialect, spec.Path, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", spec.Dialect, spec.Path)
	}
	return nil
}

func normalizeDialects(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(strings.ToLower(value))
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func joinFSPath(base string, suffix string) string {
	if base == "." {
		return suffix
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(suffix, "/")
}
