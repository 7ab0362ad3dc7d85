// Package ossstore serves the drive from an Aliyun OSS bucket.
package ossstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/store/objstore"
)

// API is the subset of *oss.Bucket the adapter calls.
type API interface {
	ListObjects(options ...oss.Option) (oss.ListObjectsResult, error)
	GetObjectDetailedMeta(objectKey string, options ...oss.Option) (nethttp.Header, error)
	GetObject(objectKey string, options ...oss.Option) (io.ReadCloser, error)
	PutObject(objectKey string, reader io.Reader, options ...oss.Option) error
	DeleteObjects(objectKeys []string, options ...oss.Option) (oss.DeleteObjectsResult, error)
}

// Bucket implements objstore.Bucket for one OSS bucket.
type Bucket struct {
	api API
}

// NewBucket wraps api.
func NewBucket(api API) *Bucket {
	return &Bucket{api: api}
}

// normalizeEndpoint accepts bare region hosts such as
// "oss-cn-hangzhou.aliyuncs.com" and defaults them to https.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	endpoint = strings.TrimSuffix(endpoint, "/")
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	return endpoint
}

// New builds an OSS-backed store from cfg.
func New(cfg config.OSSConfig, httpClient *nethttp.Client, logger *logging.Logger) (*objstore.Store, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, config.ErrMissingOSSCredentials
	}
	if cfg.Bucket == "" {
		return nil, config.ErrMissingBucket
	}

	var opts []oss.ClientOption
	if httpClient != nil {
		opts = append(opts, oss.HTTPClient(httpClient))
	}
	endpoint := normalizeEndpoint(cfg.Endpoint)
	client, err := oss.New(endpoint, cfg.AccessKeyID, cfg.AccessKeySecret, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}
	bkt, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}

	logging.OrNop(logger).Debug().
		Str("endpoint", endpoint).
		Str("bucket", cfg.Bucket).
		Msg("OSS backend configured")

	return objstore.New(NewBucket(bkt), "oss://"+cfg.Bucket,
		objstore.WithPrefix(cfg.Prefix),
		objstore.WithLogger(logger),
	), nil
}

// List implements objstore.Bucket using marker paging.
func (b *Bucket) List(ctx context.Context, in objstore.ListInput) (*objstore.ListResult, error) {
	opts := []oss.Option{
		oss.WithContext(ctx),
		oss.Prefix(in.Prefix),
		oss.Marker(in.Token),
		oss.MaxKeys(in.Limit),
	}
	if !in.Recursive {
		opts = append(opts, oss.Delimiter("/"))
	}
	lor, err := b.api.ListObjects(opts...)
	if err != nil {
		return nil, mapError(in.Prefix, err)
	}

	res := &objstore.ListResult{Prefixes: lor.CommonPrefixes}
	for _, o := range lor.Objects {
		res.Objects = append(res.Objects, objstore.Object{
			Key:          o.Key,
			Size:         o.Size,
			LastModified: o.LastModified,
		})
	}
	if lor.IsTruncated {
		res.NextToken = lor.NextMarker
	}
	return res, nil
}

// Head implements objstore.Bucket.
func (b *Bucket) Head(ctx context.Context, key string) (*objstore.Object, error) {
	h, err := b.api.GetObjectDetailedMeta(key, oss.WithContext(ctx))
	if err != nil {
		return nil, mapError(key, err)
	}
	o := &objstore.Object{Key: key, ContentType: h.Get("Content-Type")}
	if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
		o.Size = n
	}
	if t, err := nethttp.ParseTime(h.Get("Last-Modified")); err == nil {
		o.LastModified = t.UTC()
	}
	return o, nil
}

// Get implements objstore.Bucket. OSS ignores unsatisfiable ranges and
// returns the whole object, so empty objects need no special case.
func (b *Bucket) Get(ctx context.Context, key string, limit int64) ([]byte, error) {
	opts := []oss.Option{oss.WithContext(ctx)}
	if limit > 0 {
		opts = append(opts, oss.Range(0, limit-1))
	}
	body, err := b.api.GetObject(key, opts...)
	if err != nil {
		return nil, mapError(key, err)
	}
	defer body.Close()
	return objstore.ReadLimited(body, limit)
}

// Put implements objstore.Bucket.
func (b *Bucket) Put(ctx context.Context, key, contentType string, body io.ReadSeeker, size int64) error {
	err := b.api.PutObject(key, body,
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ContentLength(size),
	)
	if err != nil {
		return mapError(key, err)
	}
	return nil
}

// Delete implements objstore.Bucket.
func (b *Bucket) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := b.api.DeleteObjects(keys, oss.WithContext(ctx), oss.DeleteObjectsQuiet(true)); err != nil {
		return mapError(keys[0], err)
	}
	return nil
}

// mapError turns 404 service errors into apperrors.ErrNotFound.
func mapError(key string, err error) error {
	var se oss.ServiceError
	if errors.As(err, &se) {
		switch {
		case se.Code == "NoSuchKey" || (se.StatusCode == nethttp.StatusNotFound && se.Code != "NoSuchBucket"):
			return objstore.NotFound(key, err)
		case se.Code == "NoSuchBucket":
			return fmt.Errorf("bucket does not exist: %w", err)
		}
	}
	return err
}

var _ objstore.Bucket = (*Bucket)(nil)
