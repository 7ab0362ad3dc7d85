package api

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/store"
	"github.com/rescale/rescale-drive/internal/store/memstore"
)

// driveServer serves the drive REST API from a memstore.
type driveServer struct {
	store *memstore.Store
	srv   *httptest.Server

	mu            sync.Mutex
	requests      []string
	authHeaders   []string
	linkDownloads bool
	// override, when set, answers every API request instead of the store
	override func(w nethttp.ResponseWriter, r *nethttp.Request) bool
}

func newDriveServer(t *testing.T) (*driveServer, *Client) {
	t.Helper()
	ds := &driveServer{store: memstore.New(memstore.WithQuota(1000))}
	ds.srv = httptest.NewServer(ds)
	t.Cleanup(ds.srv.Close)

	c, err := NewClient(Options{BaseURL: ds.srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return ds, c
}

func (ds *driveServer) paths() []string {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return append([]string(nil), ds.requests...)
}

func writeJSON(w nethttp.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStoreError(w nethttp.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		nethttp.Error(w, err.Error(), nethttp.StatusNotFound)
	case apperrors.IsValidation(err):
		nethttp.Error(w, err.Error(), nethttp.StatusBadRequest)
	default:
		nethttp.Error(w, err.Error(), nethttp.StatusInternalServerError)
	}
}

func (ds *driveServer) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	ds.mu.Lock()
	ds.requests = append(ds.requests, r.Method+" "+r.URL.RequestURI())
	ds.authHeaders = append(ds.authHeaders, r.Header.Get("Authorization"))
	override := ds.override
	links := ds.linkDownloads
	ds.mu.Unlock()

	if override != nil && override(w, r) {
		return
	}

	ctx := r.Context()
	q := r.URL.Query()

	if strings.HasPrefix(r.URL.Path, "/blob/") {
		data, err := ds.store.FetchFileBytes(ctx, strings.TrimPrefix(r.URL.Path, "/blob/"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
		return
	}

	switch r.URL.Path {
	case "/api/drive":
		if r.Method == nethttp.MethodDelete {
			parent, err := ds.store.DeleteItem(ctx, q.Get("fileId"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, nethttp.StatusOK, map[string]string{"parentId": parent})
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		page, err := ds.store.ListFolder(ctx, q.Get("folderId"), store.ListOptions{
			PageSize:   limit,
			Cursor:     q.Get("cursor"),
			CursorOnly: q.Get("fields") == "nextPageToken",
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		resp := ListResponse{NextPageToken: page.NextCursor, TotalCount: &page.TotalCount, Files: []File{}}
		for _, it := range page.Items {
			resp.Files = append(resp.Files, FileFromItem(it))
		}
		writeJSON(w, nethttp.StatusOK, resp)

	case "/api/drive/create-folder":
		var body struct {
			Name     string `json:"name"`
			ParentID string `json:"parentId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			nethttp.Error(w, err.Error(), nethttp.StatusBadRequest)
			return
		}
		item, err := ds.store.CreateFolder(ctx, body.Name, body.ParentID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		// Answer with the ID only, as minimal servers do
		writeJSON(w, nethttp.StatusOK, map[string]string{"id": item.ID})

	case "/api/drive/upload":
		file, hdr, err := r.FormFile("file")
		if err != nil {
			nethttp.Error(w, err.Error(), nethttp.StatusBadRequest)
			return
		}
		defer file.Close()
		item, err := ds.store.UploadFile(ctx, store.UploadRequest{
			ParentID: r.FormValue("folderId"),
			Name:     hdr.Filename,
			MimeType: hdr.Header.Get("Content-Type"),
			Size:     hdr.Size,
			Content:  file,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, FileFromItem(*item))

	case "/api/drive/download":
		id := q.Get("fileId")
		if links {
			writeJSON(w, nethttp.StatusOK, DownloadLink{DownloadURL: ds.srv.URL + "/blob/" + id})
			return
		}
		data, err := ds.store.FetchFileBytes(ctx, id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)

	case "/api/drive/preview":
		item, err := ds.store.GetItem(ctx, q.Get("fileId"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if !strings.HasPrefix(item.MimeType, "text/") {
			nethttp.Error(w, "File type not supported for preview", nethttp.StatusBadRequest)
			return
		}
		text, err := ds.store.FetchFileTextPreview(ctx, item.ID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, text)

	case "/api/drive/item":
		item, err := ds.store.GetItem(ctx, q.Get("fileId"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, FileFromItem(*item))

	case "/api/drive/info":
		quota, err := ds.store.StorageQuota(ctx)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		// Quota values arrive as strings
		writeJSON(w, nethttp.StatusOK, map[string]string{
			"total": strconv.FormatInt(quota.Total, 10),
			"used":  strconv.FormatInt(quota.Used, 10),
		})

	default:
		nethttp.NotFound(w, r)
	}
}
