package blob

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAzure is an in-memory AzureAPI for a single container.
type fakeAzure struct {
	blobs    map[string][]byte
	metadata map[string]map[string]*string
	denied   map[string]bool
}

func newFakeAzure() *fakeAzure {
	return &fakeAzure{
		blobs:    map[string][]byte{},
		metadata: map[string]map[string]*string{},
		denied:   map[string]bool{},
	}
}

func (f *fakeAzure) check(name string) error {
	if f.denied[name] {
		return &azcore.ResponseError{ErrorCode: "AuthorizationFailure", StatusCode: http.StatusForbidden}
	}
	if _, ok := f.blobs[name]; !ok {
		return &azcore.ResponseError{ErrorCode: "BlobNotFound", StatusCode: http.StatusNotFound}
	}
	return nil
}

func (f *fakeAzure) Download(_ context.Context, _, name string) ([]byte, error) {
	if err := f.check(name); err != nil {
		return nil, err
	}
	return f.blobs[name], nil
}

func (f *fakeAzure) Upload(_ context.Context, _, name string, content []byte, metadata map[string]*string) error {
	f.blobs[name] = content
	f.metadata[name] = metadata
	return nil
}

func (f *fakeAzure) Properties(_ context.Context, _, name string) (*AzureProperties, error) {
	if err := f.check(name); err != nil {
		return nil, err
	}
	return &AzureProperties{
		Size:         int64(len(f.blobs[name])),
		LastModified: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		ContentType:  "text/plain",
		Metadata:     f.metadata[name],
	}, nil
}

func (f *fakeAzure) Delete(_ context.Context, _, name string) error {
	if err := f.check(name); err != nil {
		return err
	}
	delete(f.blobs, name)
	return nil
}

func (f *fakeAzure) List(_ context.Context, _, prefix string, _ int) ([]string, error) {
	var out []string
	for name := range f.blobs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeAzure) CreateContainer(context.Context, string) error { return nil }

func TestAzureSource_roundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAzure()
	src := NewAzureSourceWithClient(fake, "documents", nil)

	require.NoError(t, src.Upload(ctx, "/acme/d/f.txt", []byte("body"), map[string]string{"k": "v"}))
	assert.Contains(t, fake.blobs, "acme/d/f.txt", "leading slash is stripped from blob names")

	data, err := src.Download(ctx, "/acme/d/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))

	info, err := src.Stat(ctx, "/acme/d/f.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size)
	assert.Equal(t, map[string]string{"k": "v"}, info.Metadata)

	list, err := src.List(ctx, "/acme", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"/acme/d/f.txt"}, list)

	require.NoError(t, src.Delete(ctx, "/acme/d/f.txt"))
	ok, err := src.Exists(ctx, "/acme/d/f.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAzureSource_errorMapping(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAzure()
	fake.blobs["secret.txt"] = []byte("x")
	fake.denied["secret.txt"] = true
	src := NewAzureSourceWithClient(fake, "documents", nil)

	_, err := src.Download(ctx, "missing.txt")
	assert.True(t, errors.Is(err, ErrBlobNotFound))

	_, err = src.Download(ctx, "secret.txt")
	assert.True(t, errors.Is(err, ErrAccessDenied))

	_, err = src.Stat(ctx, "secret.txt")
	assert.True(t, errors.Is(err, ErrAccessDenied))

	err = src.Delete(ctx, "missing.txt")
	assert.True(t, errors.Is(err, ErrBlobNotFound))
}

func TestMapAzureError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"blob not found", &azcore.ResponseError{ErrorCode: "BlobNotFound", StatusCode: http.StatusNotFound}, ErrBlobNotFound},
		{"container not found", &azcore.ResponseError{ErrorCode: "ContainerNotFound", StatusCode: http.StatusNotFound}, ErrBlobNotFound},
		{"bare 404", &azcore.ResponseError{StatusCode: http.StatusNotFound}, ErrBlobNotFound},
		{"authorization failure", &azcore.ResponseError{ErrorCode: "AuthorizationFailure", StatusCode: http.StatusForbidden}, ErrAccessDenied},
		{"authentication failed", &azcore.ResponseError{ErrorCode: "AuthenticationFailed", StatusCode: http.StatusForbidden}, ErrAccessDenied},
		{"bare 403", &azcore.ResponseError{StatusCode: http.StatusForbidden}, ErrAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapAzureError("/a.txt", tt.err), tt.want)
		})
	}

	other := errors.New("connection reset")
	err := mapAzureError("/a.txt", other)
	assert.ErrorIs(t, err, other)
	assert.False(t, errors.Is(err, ErrBlobNotFound) || errors.Is(err, ErrAccessDenied))
}

func TestNewAzureSource_requiresContainer(t *testing.T) {
	_, err := NewAzureSource(context.Background(), Config{Type: "azure", Account: "acct"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container")
}
