package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veilswap/veilswap/internal/domain"
)

// fakeBlobStore backs the archive endpoints with an in-memory object map.
type fakeBlobStore struct {
	objects map[string]string
	deleted []string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string]string)}
}

func (s *fakeBlobStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	body, ok := s.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (s *fakeBlobStore) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, body := range s.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{
				Path:         path,
				Size:         int64(len(body)),
				LastModified: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			})
		}
	}
	return infos, nil
}

func (s *fakeBlobStore) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := s.objects[path]
	return ok, nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, path string) error {
	delete(s.objects, path)
	s.deleted = append(s.deleted, path)
	return nil
}

func archiveMux(t *testing.T, store *fakeBlobStore) *http.ServeMux {
	t.Helper()
	h := NewArchiveHandler(store, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archives", h.List)
	mux.HandleFunc("GET /api/archives/{path...}", h.Download)
	mux.HandleFunc("DELETE /api/archives/{path...}", h.Prune)
	return mux
}

func TestArchiveListScopedToArchiveRoot(t *testing.T) {
	store := newFakeBlobStore()
	store.objects["archive/settlements/2026-08.jsonl"] = `{"batch_id":1}` + "\n"
	store.objects["archive/audit/2026-08.jsonl"] = `{"event":"x"}` + "\n"
	store.objects["secrets/operator.key"] = "nope"

	rec := httptest.NewRecorder()
	archiveMux(t, store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "archive/settlements/2026-08.jsonl")
	require.Contains(t, body, "archive/audit/2026-08.jsonl")
	require.NotContains(t, body, "operator.key")
}

func TestArchiveDownloadStreamsObject(t *testing.T) {
	store := newFakeBlobStore()
	store.objects["archive/settlements/2026-08.jsonl"] = `{"batch_id":1}` + "\n"

	rec := httptest.NewRecorder()
	archiveMux(t, store).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/archives/settlements/2026-08.jsonl", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	require.Equal(t, `{"batch_id":1}`+"\n", rec.Body.String())
}

func TestArchiveDownloadUnknownObject(t *testing.T) {
	rec := httptest.NewRecorder()
	archiveMux(t, newFakeBlobStore()).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/archives/settlements/1999-01.jsonl", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchivePruneDeletesObject(t *testing.T) {
	store := newFakeBlobStore()
	store.objects["archive/audit/2026-08.jsonl"] = `{"event":"x"}` + "\n"

	mux := archiveMux(t, store)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/archives/audit/2026-08.jsonl", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"archive/audit/2026-08.jsonl"}, store.deleted)

	// Gone now.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/archives/audit/2026-08.jsonl", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchivePathRejectsTraversal(t *testing.T) {
	store := newFakeBlobStore()
	store.objects["secrets/operator.key"] = "nope"

	rec := httptest.NewRecorder()
	archiveMux(t, store).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/archives/..%2Fsecrets%2Foperator.key", nil))
	require.NotEqual(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "nope")
}
