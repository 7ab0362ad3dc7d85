// Package s3store serves the drive from an S3 (or S3-compatible) bucket.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/store/objstore"
)

// API is the subset of *s3.Client the bucket adapter calls.
type API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Bucket implements objstore.Bucket for one S3 bucket.
type Bucket struct {
	api    API
	bucket string
}

// NewBucket wraps api for bucket.
func NewBucket(api API, bucket string) *Bucket {
	return &Bucket{api: api, bucket: bucket}
}

// New builds an S3-backed store from cfg. Static keys are used when both
// are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg config.S3Config, httpClient *nethttp.Client, logger *logging.Logger) (*objstore.Store, error) {
	if cfg.Bucket == "" {
		return nil, config.ErrMissingBucket
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logging.OrNop(logger).Debug().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", cfg.Endpoint).
		Msg("S3 backend configured")

	return objstore.New(NewBucket(client, cfg.Bucket), "s3://"+cfg.Bucket,
		objstore.WithPrefix(cfg.Prefix),
		objstore.WithLogger(logger),
	), nil
}

// List implements objstore.Bucket.
func (b *Bucket) List(ctx context.Context, in objstore.ListInput) (*objstore.ListResult, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(in.Prefix),
		MaxKeys: aws.Int32(int32(in.Limit)),
	}
	if !in.Recursive {
		input.Delimiter = aws.String("/")
	}
	if in.Token != "" {
		input.ContinuationToken = aws.String(in.Token)
	}

	out, err := b.api.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, mapError(in.Prefix, err)
	}

	res := &objstore.ListResult{}
	for _, p := range out.CommonPrefixes {
		res.Prefixes = append(res.Prefixes, aws.ToString(p.Prefix))
	}
	for _, o := range out.Contents {
		res.Objects = append(res.Objects, objstore.Object{
			Key:          aws.ToString(o.Key),
			Size:         aws.ToInt64(o.Size),
			LastModified: aws.ToTime(o.LastModified),
		})
	}
	if aws.ToBool(out.IsTruncated) {
		res.NextToken = aws.ToString(out.NextContinuationToken)
	}
	return res, nil
}

// Head implements objstore.Bucket.
func (b *Bucket) Head(ctx context.Context, key string) (*objstore.Object, error) {
	out, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(key, err)
	}
	return &objstore.Object{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Get implements objstore.Bucket with a ranged GET when limit is set.
func (b *Bucket) Get(ctx context.Context, key string, limit int64) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}
	if limit > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=0-%d", limit-1))
	}
	out, err := b.api.GetObject(ctx, input)
	if err != nil {
		// Ranged reads of empty objects are rejected
		if limit > 0 && errorCode(err) == "InvalidRange" {
			return []byte{}, nil
		}
		return nil, mapError(key, err)
	}
	defer out.Body.Close()
	return objstore.ReadLimited(out.Body, limit)
}

// Put implements objstore.Bucket.
func (b *Bucket) Put(ctx context.Context, key, contentType string, body io.ReadSeeker, size int64) error {
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return mapError(key, err)
	}
	return nil
}

// Delete implements objstore.Bucket with a quiet batch delete.
func (b *Bucket) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ids := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
	}
	out, err := b.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(b.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return mapError(keys[0], err)
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return fmt.Errorf("failed to delete %d of %d objects: %s: %s",
			len(out.Errors), len(keys), aws.ToString(first.Key), aws.ToString(first.Message))
	}
	return nil
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// mapError turns S3 missing-key responses into apperrors.ErrNotFound.
func mapError(key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return objstore.NotFound(key, err)
	}
	switch errorCode(err) {
	case "NoSuchKey", "NotFound":
		return objstore.NotFound(key, err)
	case "NoSuchBucket":
		return fmt.Errorf("bucket does not exist: %w", err)
	}
	return err
}

var _ objstore.Bucket = (*Bucket)(nil)
