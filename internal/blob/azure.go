package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
)

// AzureProperties is the part of a blob's properties AzureSource reports.
type AzureProperties struct {
	Size         int64
	LastModified time.Time
	ContentType  string
	Metadata     map[string]*string
}

// AzureAPI is the subset of Azure Blob operations used by AzureSource, keyed by
// container and blob name.
type AzureAPI interface {
	Download(ctx context.Context, container, name string) ([]byte, error)
	Upload(ctx context.Context, container, name string, content []byte, metadata map[string]*string) error
	Properties(ctx context.Context, container, name string) (*AzureProperties, error)
	Delete(ctx context.Context, container, name string) error
	List(ctx context.Context, container, prefix string, maxResults int) ([]string, error)
	CreateContainer(ctx context.Context, container string) error
}

// AzureSource serves blobs from one Azure Blob Storage container. Config.Bucket
// names the container.
type AzureSource struct {
	client    AzureAPI
	container string
	logger    *zap.Logger
}

// NewAzureSource builds a client from cfg. A connection string wins; otherwise
// Account and SecretKey form a shared key credential; with neither the endpoint
// is used as is (e.g. a SAS URL). Endpoint defaults to the public account URL.
func NewAzureSource(ctx context.Context, cfg Config, logger *zap.Logger) (*AzureSource, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("azure container is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.Account != "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.Account)
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.Account != "" && cfg.SecretKey != "":
		cred, cerr := azblob.NewSharedKeyCredential(cfg.Account, cfg.SecretKey)
		if cerr != nil {
			return nil, fmt.Errorf("azure credential: %w", cerr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	case endpoint != "":
		client, err = azblob.NewClientWithNoCredential(endpoint, nil)
	default:
		return nil, errors.New("azure blob source needs connection_string, account or endpoint")
	}
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}

	src := NewAzureSourceWithClient(azureClient{client}, cfg.Bucket, logger)
	if cfg.CreateBucket {
		if err := src.client.CreateContainer(ctx, cfg.Bucket); err != nil {
			return nil, fmt.Errorf("create container %s: %w", cfg.Bucket, mapAzureError(cfg.Bucket, err))
		}
	}
	src.logger.Info("azure blob source ready", zap.String("account", cfg.Account), zap.String("container", cfg.Bucket))
	return src, nil
}

// NewAzureSourceWithClient wraps an existing client.
func NewAzureSourceWithClient(client AzureAPI, container string, logger *zap.Logger) *AzureSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AzureSource{client: client, container: container, logger: logger}
}

// mapAzureError translates Azure error codes and statuses to the package sentinels.
func mapAzureError(p string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return fmt.Errorf("%q: %w", p, ErrBlobNotFound)
	}
	if bloberror.HasCode(err,
		bloberror.AuthorizationFailure,
		bloberror.AuthenticationFailed,
		bloberror.AuthorizationPermissionMismatch,
		bloberror.InsufficientAccountPermissions) {
		return fmt.Errorf("%q: %w", p, ErrAccessDenied)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%q: %w", p, ErrBlobNotFound)
		case http.StatusForbidden, http.StatusUnauthorized:
			return fmt.Errorf("%q: %w", p, ErrAccessDenied)
		}
	}
	return fmt.Errorf("%q: %w", p, err)
}

func (s *AzureSource) Download(ctx context.Context, p string) ([]byte, error) {
	data, err := s.client.Download(ctx, s.container, objectKey(p))
	if err != nil {
		return nil, mapAzureError(p, err)
	}
	s.logger.Debug("blob downloaded", zap.String("blob_path", p), zap.Int("size", len(data)))
	return data, nil
}

func (s *AzureSource) Upload(ctx context.Context, p string, content []byte, metadata map[string]string) error {
	var md map[string]*string
	if len(metadata) > 0 {
		md = make(map[string]*string, len(metadata))
		for k, v := range metadata {
			v := v
			md[k] = &v
		}
	}
	if err := s.client.Upload(ctx, s.container, objectKey(p), content, md); err != nil {
		return mapAzureError(p, err)
	}
	return nil
}

func (s *AzureSource) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.Stat(ctx, p)
	if errors.Is(err, ErrBlobNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *AzureSource) List(ctx context.Context, prefix string, maxResults int) ([]string, error) {
	names, err := s.client.List(ctx, s.container, objectKey(prefix), maxResults)
	if err != nil {
		return nil, mapAzureError(prefix, err)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, "/"+n)
	}
	return out, nil
}

func (s *AzureSource) Delete(ctx context.Context, p string) error {
	if err := s.client.Delete(ctx, s.container, objectKey(p)); err != nil {
		return mapAzureError(p, err)
	}
	return nil
}

func (s *AzureSource) Stat(ctx context.Context, p string) (*Info, error) {
	props, err := s.client.Properties(ctx, s.container, objectKey(p))
	if err != nil {
		return nil, mapAzureError(p, err)
	}
	info := &Info{
		Path:         p,
		Size:         props.Size,
		LastModified: props.LastModified.UTC(),
		ContentType:  props.ContentType,
	}
	if len(props.Metadata) > 0 {
		info.Metadata = make(map[string]string, len(props.Metadata))
		for k, v := range props.Metadata {
			if v != nil {
				info.Metadata[k] = *v
			}
		}
	}
	return info, nil
}

// azureClient adapts *azblob.Client to AzureAPI.
type azureClient struct {
	c *azblob.Client
}

func (a azureClient) Download(ctx context.Context, container, name string) ([]byte, error) {
	resp, err := a.c.DownloadStream(ctx, container, name, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (a azureClient) Upload(ctx context.Context, container, name string, content []byte, metadata map[string]*string) error {
	_, err := a.c.UploadBuffer(ctx, container, name, content, &azblob.UploadBufferOptions{Metadata: metadata})
	return err
}

func (a azureClient) Properties(ctx context.Context, container, name string) (*AzureProperties, error) {
	resp, err := a.c.ServiceClient().NewContainerClient(container).NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		return nil, err
	}
	props := &AzureProperties{Metadata: resp.Metadata}
	if resp.ContentLength != nil {
		props.Size = *resp.ContentLength
	}
	if resp.LastModified != nil {
		props.LastModified = *resp.LastModified
	}
	if resp.ContentType != nil {
		props.ContentType = *resp.ContentType
	}
	return props, nil
}

func (a azureClient) Delete(ctx context.Context, container, name string) error {
	_, err := a.c.DeleteBlob(ctx, container, name, nil)
	return err
}

func (a azureClient) List(ctx context.Context, container, prefix string, maxResults int) ([]string, error) {
	pager := a.c.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	var out []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			out = append(out, *item.Name)
			if maxResults > 0 && len(out) >= maxResults {
				return out, nil
			}
		}
	}
	return out, nil
}

func (a azureClient) CreateContainer(ctx context.Context, container string) error {
	_, err := a.c.CreateContainer(ctx, container, nil)
	if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	return err
}

var _ Source = (*AzureSource)(nil)
