package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DiskSource serves blobs from a directory. Paths may not escape the root.
type DiskSource struct {
	root string
}

// NewDiskSource returns a DiskSource rooted at root, creating the directory if needed.
func NewDiskSource(root string) (*DiskSource, error) {
	if root == "" {
		return nil, errors.New("blob root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &DiskSource{root: abs}, nil
}

// Root returns the absolute root directory.
func (d *DiskSource) Root() string { return d.root }

// resolve maps a blob path to a file under the root.
func (d *DiskSource) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", fmt.Errorf("%q: %w", p, ErrBlobNotFound)
	}
	full := filepath.Join(d.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(d.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q escapes blob root: %w", p, ErrAccessDenied)
	}
	if strings.Contains(p, "..") {
		for _, part := range strings.Split(p, "/") {
			if part == ".." {
				return "", fmt.Errorf("%q escapes blob root: %w", p, ErrAccessDenied)
			}
		}
	}
	return full, nil
}

// RelPath converts an absolute file path under the root to a blob path.
func (d *DiskSource) RelPath(full string) (string, error) {
	rel, err := filepath.Rel(d.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%q is outside blob root", full)
	}
	return "/" + filepath.ToSlash(rel), nil
}

func mapOSError(p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%q: %w", p, ErrBlobNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%q: %w", p, ErrAccessDenied)
	}
	return fmt.Errorf("%q: %w", p, err)
}

func (d *DiskSource) Download(_ context.Context, p string) ([]byte, error) {
	full, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, mapOSError(p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%q is a directory: %w", p, ErrBlobNotFound)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, mapOSError(p, err)
	}
	return data, nil
}

// Upload writes content atomically. Metadata is ignored on disk.
func (d *DiskSource) Upload(_ context.Context, p string, content []byte, _ map[string]string) error {
	full, err := d.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return mapOSError(p, err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return mapOSError(p, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return mapOSError(p, err)
	}
	return nil
}

func (d *DiskSource) Exists(ctx context.Context, p string) (bool, error) {
	_, err := d.Stat(ctx, p)
	if errors.Is(err, ErrBlobNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns blob paths under prefix in lexical order, at most maxResults when positive.
func (d *DiskSource) List(ctx context.Context, prefix string, maxResults int) ([]string, error) {
	var out []string
	want := "/" + objectKey(prefix)
	err := filepath.WalkDir(d.root, func(full string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := d.RelPath(full)
		if err != nil {
			return nil
		}
		if strings.HasPrefix(rel, want) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	sort.Strings(out)
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

func (d *DiskSource) Delete(_ context.Context, p string) error {
	full, err := d.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return mapOSError(p, err)
	}
	return nil
}

func (d *DiskSource) Stat(_ context.Context, p string) (*Info, error) {
	full, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		return nil, mapOSError(p, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%q is a directory: %w", p, ErrBlobNotFound)
	}
	return &Info{
		Path:         p,
		Size:         fi.Size(),
		LastModified: fi.ModTime().UTC(),
		ContentType:  mime.TypeByExtension(filepath.Ext(full)),
	}, nil
}

var _ Source = (*DiskSource)(nil)
