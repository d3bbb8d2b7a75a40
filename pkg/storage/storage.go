// Package storage reads and writes workspace documents. Paths are always
// slash-separated and relative to the workspace root.
package storage

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/TenVexAI/saipling/pkg/frontmatter"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrOutsideRoot is returned for paths that resolve outside the workspace.
	ErrOutsideRoot = errors.New("path is outside the workspace")
)

// Document is a stored file split into its metadata header and body.
type Document struct {
	Path     string         `json:"path"`
	Metadata map[string]any `json:"metadata"`
	Body     string         `json:"body"`
}

// Text returns the document as it is stored on disk.
func (d Document) Text() string {
	return frontmatter.Serialize(d.Metadata, d.Body)
}

// FS is a workspace rooted at a directory on the local filesystem.
type FS struct {
	root string
}

// New returns a workspace rooted at root.
func New(root string) *FS {
	return &FS{root: filepath.Clean(root)}
}

// Root returns the workspace directory.
func (f *FS) Root() string {
	return f.root
}

func (f *FS) resolve(rel string) (string, error) {
	slashed := filepath.ToSlash(rel)
	cleaned := path.Clean(slashed)
	if path.IsAbs(slashed) || filepath.IsAbs(rel) || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.Wrapf(ErrOutsideRoot, "%q", rel)
	}
	return filepath.Join(f.root, filepath.FromSlash(cleaned)), nil
}

// Write stores metadata and body at rel, creating parent directories. The
// file is replaced atomically.
func (f *FS) Write(ctx context.Context, rel string, metadata map[string]any, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := f.resolve(rel)
	if err != nil {
		return err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", rel)
	}

	tmp, err := os.CreateTemp(dir, ".saipling-*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file for %s", rel)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(frontmatter.Serialize(metadata, body)); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", rel)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close temporary file for %s", rel)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return errors.Wrapf(err, "failed to set permissions on %s", rel)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		return errors.Wrapf(err, "failed to save %s", rel)
	}
	committed = true
	return nil
}

// Read loads the document at rel.
func (f *FS) Read(ctx context.Context, rel string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	full, err := f.resolve(rel)
	if err != nil {
		return Document{}, err
	}

	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{}, errors.Wrapf(ErrNotFound, "%s", rel)
	}
	if err != nil {
		return Document{}, errors.Wrapf(err, "failed to read %s", rel)
	}

	metadata, body := frontmatter.Parse(string(data))
	return Document{Path: filepath.ToSlash(rel), Metadata: metadata, Body: body}, nil
}

// Exists reports whether a document is present at rel.
func (f *FS) Exists(ctx context.Context, rel string) (bool, error) {
	_, err := f.Read(ctx, rel)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns workspace paths matching a doublestar pattern such as
// "book/**/*.md", sorted.
func (f *FS) List(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(f.root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(f.root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, errors.Wrapf(err, "invalid pattern %q", pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

// NextAvailablePath returns the unversioned form of rel when no version of
// it exists in its directory, otherwise the next free versioned name.
func (f *FS) NextAvailablePath(ctx context.Context, rel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := f.resolve(rel)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(filepath.Dir(full))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", errors.Wrapf(err, "failed to list siblings of %s", rel)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}

	dir, base := path.Split(path.Clean(filepath.ToSlash(rel)))
	return dir + NextVersionedName(base, names), nil
}
