package ossstore

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/store"
	"github.com/rescale/rescale-drive/internal/store/objstore"
)

type fakeOSS struct {
	list     oss.ListObjectsResult
	meta     nethttp.Header
	metaErr  error
	body     string
	put      map[string]string
	deleted  []string
	delCalls int
}

func (f *fakeOSS) ListObjects(options ...oss.Option) (oss.ListObjectsResult, error) {
	return f.list, nil
}

func (f *fakeOSS) GetObjectDetailedMeta(key string, options ...oss.Option) (nethttp.Header, error) {
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	return f.meta, nil
}

func (f *fakeOSS) GetObject(key string, options ...oss.Option) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func (f *fakeOSS) PutObject(key string, r io.Reader, options ...oss.Option) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if f.put == nil {
		f.put = map[string]string{}
	}
	f.put[key] = string(data)
	return nil
}

func (f *fakeOSS) DeleteObjects(keys []string, options ...oss.Option) (oss.DeleteObjectsResult, error) {
	f.delCalls++
	f.deleted = append(f.deleted, keys...)
	return oss.DeleteObjectsResult{DeletedObjects: keys}, nil
}

func TestListThroughStore(t *testing.T) {
	mod := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeOSS{list: oss.ListObjectsResult{
		CommonPrefixes: []string{"drive/photos/"},
		Objects:        []oss.ObjectProperties{{Key: "drive/notes.md", Size: 12, LastModified: mod}},
		IsTruncated:    true,
		NextMarker:     "drive/notes.md",
	}}
	s := objstore.New(NewBucket(api), "oss://b", objstore.WithPrefix("drive"))

	page, err := s.ListFolder(context.Background(), "", store.ListOptions{PageSize: 2})
	if err != nil {
		t.Fatalf("ListFolder failed: %v", err)
	}
	if page.NextCursor != "drive/notes.md" || len(page.Items) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Items[0].ID != "photos/" || !page.Items[0].IsFolder {
		t.Errorf("unexpected folder %+v", page.Items[0])
	}
	notes := page.Items[1]
	if notes.ID != "notes.md" || notes.SizeOrZero() != 12 || notes.MimeType != "text/markdown" || !notes.CreatedAt.Equal(mod) {
		t.Errorf("unexpected file %+v", notes)
	}

	api.list.IsTruncated = false
	res, err := NewBucket(api).List(context.Background(), objstore.ListInput{Prefix: "drive/", Limit: 2})
	if err != nil || res.NextToken != "" {
		t.Errorf("complete listing should carry no marker, got %+v, %v", res, err)
	}
}

func TestHeadParsesHeaders(t *testing.T) {
	api := &fakeOSS{meta: nethttp.Header{
		"Content-Type":   {"application/pdf"},
		"Content-Length": {"2048"},
		"Last-Modified":  {"Fri, 01 Mar 2024 12:00:00 GMT"},
	}}
	o, err := NewBucket(api).Head(context.Background(), "a.pdf")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if o.Size != 2048 || o.ContentType != "application/pdf" || !o.LastModified.Equal(want) {
		t.Errorf("unexpected object %+v", o)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"no such key", oss.ServiceError{Code: "NoSuchKey", StatusCode: 404}, true},
		{"head 404 without body", oss.ServiceError{StatusCode: 404}, true},
		{"no such bucket", oss.ServiceError{Code: "NoSuchBucket", StatusCode: 404}, false},
		{"forbidden", oss.ServiceError{Code: "AccessDenied", StatusCode: 403}, false},
		{"network", errors.New("i/o timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(mapError("k", tt.err), apperrors.ErrNotFound); got != tt.notFound {
				t.Errorf("not-found = %v, want %v", got, tt.notFound)
			}
		})
	}

	api := &fakeOSS{metaErr: oss.ServiceError{StatusCode: 404}}
	s := objstore.New(NewBucket(api), "oss://b")
	if _, err := s.GetItem(context.Background(), "gone.txt"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("GetItem = %v, want ErrNotFound", err)
	}
}

func TestPutGetDelete(t *testing.T) {
	api := &fakeOSS{body: "hello world"}
	b := NewBucket(api)
	ctx := context.Background()

	if err := b.Put(ctx, "x.txt", "text/plain", strings.NewReader("abc"), 3); err != nil {
		t.Fatal(err)
	}
	if api.put["x.txt"] != "abc" {
		t.Errorf("stored %q", api.put["x.txt"])
	}

	data, err := b.Get(ctx, "x.txt", 5)
	if err != nil || string(data) != "hello" {
		t.Errorf("limited get = %q, %v", data, err)
	}

	if err := b.Delete(ctx, nil); err != nil || api.delCalls != 0 {
		t.Errorf("empty delete should be a no-op")
	}
	if err := b.Delete(ctx, []string{"a", "b"}); err != nil || len(api.deleted) != 2 {
		t.Errorf("delete = %v, deleted %v", err, api.deleted)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"oss-cn-hangzhou.aliyuncs.com":          "https://oss-cn-hangzhou.aliyuncs.com",
		" https://oss-cn-beijing.aliyuncs.com/": "https://oss-cn-beijing.aliyuncs.com",
		"http://127.0.0.1:9000":                 "http://127.0.0.1:9000",
		"":                                      "",
	}
	for in, want := range tests {
		if got := normalizeEndpoint(in); got != want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	if _, err := New(config.OSSConfig{Bucket: "b"}, nil, nil); !errors.Is(err, config.ErrMissingOSSCredentials) {
		t.Errorf("expected ErrMissingOSSCredentials, got %v", err)
	}
	cfg := config.OSSConfig{Endpoint: "oss-cn-hangzhou.aliyuncs.com", AccessKeyID: "id", AccessKeySecret: "secret"}
	if _, err := New(cfg, nil, nil); !errors.Is(err, config.ErrMissingBucket) {
		t.Errorf("expected ErrMissingBucket, got %v", err)
	}
	cfg.Bucket = "drive-bucket"
	s, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.Name() != "oss://drive-bucket" {
		t.Errorf("unexpected name %q", s.Name())
	}
}
