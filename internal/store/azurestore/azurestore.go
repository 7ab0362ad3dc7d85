// Package azurestore serves the drive from an Azure Blob Storage container.
package azurestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/store/objstore"
)

// Bucket implements objstore.Bucket for one blob container.
type Bucket struct {
	client    *azblob.Client
	container *container.Client
	name      string
}

// New builds an Azure-backed store from cfg.
func New(cfg config.AzureConfig, httpClient *nethttp.Client, logger *logging.Logger) (*objstore.Store, error) {
	if cfg.ConnectionString == "" {
		return nil, config.ErrMissingAzureConnection
	}
	if cfg.Container == "" {
		return nil, config.ErrMissingBucket
	}

	opts := &azblob.ClientOptions{}
	if httpClient != nil {
		// Keep the proxy-aware transport and its connection pool
		opts.ClientOptions = azcore.ClientOptions{Transport: httpClient}
	}
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logging.OrNop(logger).Debug().
		Str("account_url", client.URL()).
		Str("container", cfg.Container).
		Msg("Azure backend configured")

	b := &Bucket{
		client:    client,
		container: client.ServiceClient().NewContainerClient(cfg.Container),
		name:      cfg.Container,
	}
	return objstore.New(b, "azure://"+cfg.Container,
		objstore.WithPrefix(cfg.Prefix),
		objstore.WithLogger(logger),
	), nil
}

// List implements objstore.Bucket. Each call fetches exactly one page
// starting at the marker.
func (b *Bucket) List(ctx context.Context, in objstore.ListInput) (*objstore.ListResult, error) {
	var marker *string
	if in.Token != "" {
		marker = &in.Token
	}
	max := int32(in.Limit)

	if in.Recursive {
		pager := b.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
			Prefix:     &in.Prefix,
			Marker:     marker,
			MaxResults: &max,
		})
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(in.Prefix, err)
		}
		res := &objstore.ListResult{NextToken: deref(page.NextMarker)}
		if page.Segment != nil {
			for _, item := range page.Segment.BlobItems {
				res.Objects = append(res.Objects, objectFromProps(deref(item.Name), item.Properties))
			}
		}
		return res, nil
	}

	pager := b.container.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
		Prefix:     &in.Prefix,
		Marker:     marker,
		MaxResults: &max,
	})
	page, err := pager.NextPage(ctx)
	if err != nil {
		return nil, mapError(in.Prefix, err)
	}
	res := &objstore.ListResult{NextToken: deref(page.NextMarker)}
	if page.Segment != nil {
		for _, p := range page.Segment.BlobPrefixes {
			res.Prefixes = append(res.Prefixes, deref(p.Name))
		}
		for _, item := range page.Segment.BlobItems {
			res.Objects = append(res.Objects, objectFromProps(deref(item.Name), item.Properties))
		}
	}
	return res, nil
}

// Head implements objstore.Bucket.
func (b *Bucket) Head(ctx context.Context, key string) (*objstore.Object, error) {
	props, err := b.container.NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		return nil, mapError(key, err)
	}
	o := &objstore.Object{Key: key, ContentType: deref(props.ContentType)}
	if props.ContentLength != nil {
		o.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		o.LastModified = *props.LastModified
	}
	return o, nil
}

// Get implements objstore.Bucket.
func (b *Bucket) Get(ctx context.Context, key string, limit int64) ([]byte, error) {
	var opts *azblob.DownloadStreamOptions
	if limit > 0 {
		opts = &azblob.DownloadStreamOptions{Range: blob.HTTPRange{Offset: 0, Count: limit}}
	}
	resp, err := b.client.DownloadStream(ctx, b.name, key, opts)
	if err != nil {
		if limit > 0 && bloberror.HasCode(err, bloberror.InvalidRange) {
			return []byte{}, nil
		}
		return nil, mapError(key, err)
	}
	defer resp.Body.Close()
	return objstore.ReadLimited(resp.Body, limit)
}

// Put implements objstore.Bucket.
func (b *Bucket) Put(ctx context.Context, key, contentType string, body io.ReadSeeker, size int64) error {
	_, err := b.client.UploadStream(ctx, b.name, key, body, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return mapError(key, err)
	}
	return nil
}

// Delete implements objstore.Bucket. Blob storage has no multi-key
// delete on this client, so keys go one at a time.
func (b *Bucket) Delete(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if _, err := b.client.DeleteBlob(ctx, b.name, k, nil); err != nil {
			if bloberror.HasCode(err, bloberror.BlobNotFound) {
				continue
			}
			return mapError(k, err)
		}
	}
	return nil
}

func objectFromProps(name string, p *container.BlobProperties) objstore.Object {
	o := objstore.Object{Key: name}
	if p == nil {
		return o
	}
	if p.ContentLength != nil {
		o.Size = *p.ContentLength
	}
	o.ContentType = deref(p.ContentType)
	if p.LastModified != nil {
		o.LastModified = *p.LastModified
	}
	return o
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// mapError turns missing blobs into apperrors.ErrNotFound.
func mapError(key string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ResourceNotFound) {
		return objstore.NotFound(key, err)
	}
	if bloberror.HasCode(err, bloberror.ContainerNotFound) {
		return fmt.Errorf("container does not exist: %w", err)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == nethttp.StatusNotFound {
		return objstore.NotFound(key, err)
	}
	return err
}

var _ objstore.Bucket = (*Bucket)(nil)
