package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDisk(t *testing.T) *DiskSource {
	t.Helper()
	src, err := NewDiskSource(t.TempDir())
	require.NoError(t, err)
	return src
}

func TestDiskSource_roundTrip(t *testing.T) {
	ctx := context.Background()
	src := newDisk(t)

	require.NoError(t, src.Upload(ctx, "/acme/contracts/msa.txt", []byte("hello"), nil))

	data, err := src.Download(ctx, "acme/contracts/msa.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	ok, err := src.Exists(ctx, "/acme/contracts/msa.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := src.Stat(ctx, "/acme/contracts/msa.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)

	require.NoError(t, src.Delete(ctx, "/acme/contracts/msa.txt"))
	ok, err = src.Exists(ctx, "/acme/contracts/msa.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskSource_notFound(t *testing.T) {
	src := newDisk(t)
	_, err := src.Download(context.Background(), "/nope.txt")
	assert.True(t, errors.Is(err, ErrBlobNotFound))

	err = src.Delete(context.Background(), "/nope.txt")
	assert.True(t, errors.Is(err, ErrBlobNotFound))

	require.NoError(t, os.MkdirAll(filepath.Join(src.Root(), "dir"), 0o755))
	_, err = src.Download(context.Background(), "/dir")
	assert.True(t, errors.Is(err, ErrBlobNotFound))
}

func TestDiskSource_rejectsTraversal(t *testing.T) {
	src := newDisk(t)
	for _, p := range []string{"../secret", "/a/../../etc/passwd", "a/b/../../../x"} {
		_, err := src.Download(context.Background(), p)
		assert.Truef(t, errors.Is(err, ErrAccessDenied), "path %q: %v", p, err)
	}
}

func TestDiskSource_list(t *testing.T) {
	ctx := context.Background()
	src := newDisk(t)
	for _, p := range []string{"/t/a/2.txt", "/t/a/1.txt", "/t/b/1.txt", "/u/x.txt"} {
		require.NoError(t, src.Upload(ctx, p, []byte(p), nil))
	}

	got, err := src.List(ctx, "/t/a", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"/t/a/1.txt", "/t/a/2.txt"}, got)

	got, err = src.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDiskSource_relPath(t *testing.T) {
	src := newDisk(t)
	rel, err := src.RelPath(filepath.Join(src.Root(), "acme", "d", "f.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "/acme/d/f.pdf", rel)

	_, err = src.RelPath(filepath.Dir(src.Root()))
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	src, err := New(context.Background(), Config{Type: "disk", Root: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &DiskSource{}, src)

	_, err = New(context.Background(), Config{Type: "ftp"}, nil)
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Type: "s3"}, nil)
	assert.Error(t, err, "bucket required")
}
