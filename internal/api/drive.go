package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	nethttp "net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/store"
)

// FolderMIMEType marks folders in listings.
const FolderMIMEType = "application/vnd.google-apps.folder"

// flexInt64 decodes sizes sent either as JSON numbers or as decimal strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %s: %w", b, err)
	}
	*f = flexInt64(n)
	return nil
}

// File is the wire form of an item.
type File struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	MimeType     string     `json:"mimeType"`
	IsFolder     bool       `json:"isFolder,omitempty"`
	Size         *flexInt64 `json:"size,omitempty"`
	CreatedTime  time.Time  `json:"createdTime"`
	ModifiedTime *time.Time `json:"modifiedTime,omitempty"`
}

// Item converts the wire form into a models.Item.
func (f File) Item() models.Item {
	item := models.Item{
		ID:        f.ID,
		Name:      f.Name,
		IsFolder:  f.IsFolder || f.MimeType == FolderMIMEType,
		MimeType:  f.MimeType,
		CreatedAt: f.CreatedTime,
		UpdatedAt: f.ModifiedTime,
	}
	if !item.IsFolder && f.Size != nil {
		item.Size = models.Int64Ptr(int64(*f.Size))
	}
	return item
}

// FileFromItem converts a models.Item into its wire form.
func FileFromItem(it models.Item) File {
	f := File{
		ID:           it.ID,
		Name:         it.Name,
		MimeType:     it.MimeType,
		IsFolder:     it.IsFolder,
		CreatedTime:  it.CreatedAt,
		ModifiedTime: it.UpdatedAt,
	}
	if it.IsFolder {
		f.MimeType = FolderMIMEType
	} else if it.Size != nil {
		s := flexInt64(*it.Size)
		f.Size = &s
	}
	return f
}

// ListResponse is the body of GET /api/drive.
type ListResponse struct {
	Files         []File `json:"files"`
	NextPageToken string `json:"nextPageToken,omitempty"`
	TotalCount    *int   `json:"totalCount,omitempty"`
}

// QuotaResponse is the body of GET /api/drive/info.
type QuotaResponse struct {
	Total     flexInt64 `json:"total"`
	Used      flexInt64 `json:"used"`
	Remaining flexInt64 `json:"remaining"`
}

// DownloadLink is returned by /api/drive/download when content is served
// from a separate location.
type DownloadLink struct {
	DownloadURL string `json:"downloadUrl"`
	FileName    string `json:"fileName"`
}

func decodeJSON(resp *nethttp.Response, v interface{}, what string) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return nil
}

// ListFolder implements store.Store.
func (c *Client) ListFolder(ctx context.Context, folderID string, opts store.ListOptions) (*models.ListPage, error) {
	q := url.Values{}
	if folderID != store.RootFolderID {
		q.Set("folderId", folderID)
	}
	if opts.PageSize > 0 {
		q.Set("limit", strconv.Itoa(opts.PageSize))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.CursorOnly {
		q.Set("fields", "nextPageToken")
	}

	resp, err := c.doRequest(ctx, nethttp.MethodGet, "/api/drive?"+q.Encode(), nil, "")
	if err != nil {
		return nil, apperrors.NewTransient("list", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, "list"); err != nil {
		return nil, err
	}

	var lr ListResponse
	if err := decodeJSON(resp, &lr, "listing"); err != nil {
		return nil, apperrors.NewTransient("list", err)
	}

	page := &models.ListPage{NextCursor: lr.NextPageToken, TotalCount: -1}
	if lr.TotalCount != nil {
		page.TotalCount = *lr.TotalCount
	}
	if !opts.CursorOnly {
		page.Items = make([]models.Item, 0, len(lr.Files))
		for _, f := range lr.Files {
			page.Items = append(page.Items, f.Item())
		}
	}
	return page, nil
}

// CreateFolder implements store.Store.
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (*models.Item, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &apperrors.ValidationError{Field: "folder name", Value: name, Reason: "must not be empty"}
	}
	body, err := json.Marshal(map[string]string{"name": name, "parentId": parentID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := c.doRequest(ctx, nethttp.MethodPost, "/api/drive/create-folder", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, apperrors.NewTransient("create folder", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, "create folder"); err != nil {
		return nil, err
	}

	var f File
	if err := decodeJSON(resp, &f, "folder"); err != nil {
		return nil, apperrors.NewTransient("create folder", err)
	}
	// Minimal servers answer with the ID only
	if f.Name == "" {
		f.Name = name
	}
	f.IsFolder = true
	if f.CreatedTime.IsZero() {
		f.CreatedTime = time.Now().UTC()
	}
	item := f.Item()
	return &item, nil
}

// UploadFile implements store.Store with a multipart POST.
func (c *Client) UploadFile(ctx context.Context, req store.UploadRequest) (*models.Item, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if req.ParentID != store.RootFolderID {
		if err := mw.WriteField("folderId", req.ParentID); err != nil {
			return nil, err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": req.Name,
	}))
	h.Set("Content-Type", req.MimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form part: %w", err)
	}
	content := req.Content
	if content == nil {
		content = bytes.NewReader(nil)
	}
	written, err := io.Copy(part, content)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", req.Name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, nethttp.MethodPost, "/api/drive/upload", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, apperrors.NewTransient("upload", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, "upload"); err != nil {
		return nil, err
	}

	var f File
	if err := decodeJSON(resp, &f, "upload response"); err != nil {
		return nil, apperrors.NewTransient("upload", err)
	}
	if f.Name == "" {
		f.Name = req.Name
		f.MimeType = req.MimeType
	}
	if f.Size == nil {
		s := flexInt64(written)
		f.Size = &s
	}
	if f.CreatedTime.IsZero() {
		f.CreatedTime = time.Now().UTC()
	}
	item := f.Item()
	return &item, nil
}

// FetchFileBytes implements store.Store. The server either streams the
// content or answers with a DownloadLink that is followed once.
func (c *Client) FetchFileBytes(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, "/api/drive/download?"+url.Values{"fileId": {fileID}}.Encode(), nil, "")
	if err != nil {
		return nil, apperrors.NewTransient("fetch", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, "fetch"); err != nil {
		return nil, err
	}

	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "application/json" {
		var link DownloadLink
		if err := decodeJSON(resp, &link, "download link"); err != nil {
			return nil, apperrors.NewTransient("fetch", err)
		}
		if link.DownloadURL == "" {
			return nil, fmt.Errorf("file %q: download link not available: %w", fileID, apperrors.ErrNotFound)
		}
		return c.fetchURL(ctx, link.DownloadURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransient("fetch", err)
	}
	return data, nil
}

func (c *Client) fetchURL(ctx context.Context, link string) ([]byte, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, link, nil, "")
	if err != nil {
		return nil, apperrors.NewTransient("fetch", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, "fetch"); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransient("fetch", err)
	}
	return data, nil
}

// FetchFileTextPreview implements store.Store.
func (c *Client) FetchFileTextPreview(ctx context.Context, fileID string) (string, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, "/api/drive/preview?"+url.Values{"fileId": {fileID}}.Encode(), nil, "")
	if err != nil {
		return "", apperrors.NewTransient("preview", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == nethttp.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &apperrors.ValidationError{Field: "file", Value: fileID, Reason: strings.TrimSpace(string(body))}
	}
	if err := checkResponse(resp, "preview"); err != nil {
		return "", err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.NewTransient("preview", err)
	}
	return string(data), nil
}

// GetItem implements store.ItemGetter.
func (c *Client) GetItem(ctx context.Context, id string) (*models.Item, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, "/api/drive/item?"+url.Values{"fileId": {id}}.Encode(), nil, "")
	if err != nil {
		return nil, apperrors.NewTransient("get item", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, "get item"); err != nil {
		return nil, err
	}
	var f File
	if err := decodeJSON(resp, &f, "item"); err != nil {
		return nil, apperrors.NewTransient("get item", err)
	}
	item := f.Item()
	return &item, nil
}

// DeleteItem implements store.Deleter.
func (c *Client) DeleteItem(ctx context.Context, id string) (string, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodDelete, "/api/drive?"+url.Values{"fileId": {id}}.Encode(), nil, "")
	if err != nil {
		return "", apperrors.NewTransient("delete", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, "delete"); err != nil {
		return "", err
	}
	var result struct {
		ParentID string `json:"parentId"`
	}
	if resp.StatusCode != nethttp.StatusNoContent {
		if err := decodeJSON(resp, &result, "delete response"); err != nil {
			c.logger.Debug().Err(err).Str("id", id).Msg("delete response without parent")
		}
	}
	return result.ParentID, nil
}

// StorageQuota implements store.QuotaReporter.
func (c *Client) StorageQuota(ctx context.Context) (*models.StorageQuota, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, "/api/drive/info", nil, "")
	if err != nil {
		return nil, apperrors.NewTransient("info", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, "info"); err != nil {
		return nil, err
	}
	var q QuotaResponse
	if err := decodeJSON(resp, &q, "storage info"); err != nil {
		return nil, apperrors.NewTransient("info", err)
	}
	quota := &models.StorageQuota{Total: int64(q.Total), Used: int64(q.Used), Remaining: int64(q.Remaining)}
	if quota.Remaining == 0 && quota.Total > 0 {
		quota.Remaining = quota.Total - quota.Used
	}
	return quota, nil
}

var (
	_ store.Store         = (*Client)(nil)
	_ store.ItemGetter    = (*Client)(nil)
	_ store.Deleter       = (*Client)(nil)
	_ store.QuotaReporter = (*Client)(nil)
)
