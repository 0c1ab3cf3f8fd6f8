package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/veilswap/veilswap/internal/domain"
)

// archivePrefix is the key space archive endpoints are confined to. Everything
// the archiver writes lives under it; nothing else in the bucket is reachable
// through the API.
const archivePrefix = "archive/"

// ArchiveHandler exposes the cold-storage archive: listing, retrieval, and
// pruning of settlement and audit archive objects.
type ArchiveHandler struct {
	reader  domain.BlobReader
	deleter domain.BlobDeleter
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(reader domain.BlobReader, deleter domain.BlobDeleter, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, deleter: deleter, logger: logHandler(logger, "archive")}
}

// List returns metadata for archive objects, optionally narrowed by a prefix
// query parameter relative to the archive root (e.g. "settlements/").
// GET /api/archives
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := archivePrefix + strings.TrimPrefix(r.URL.Query().Get("prefix"), "/")

	infos, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		h.logger.Error("archive list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "archive storage unavailable")
		return
	}

	type archiveEntry struct {
		Path         string `json:"path"`
		Size         int64  `json:"size"`
		LastModified string `json:"last_modified,omitempty"`
	}
	entries := make([]archiveEntry, 0, len(infos))
	for _, info := range infos {
		e := archiveEntry{Path: info.Path, Size: info.Size}
		if !info.LastModified.IsZero() {
			e.LastModified = info.LastModified.UTC().Format("2006-01-02T15:04:05Z")
		}
		entries = append(entries, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": entries})
}

// Download streams one archive object.
// GET /api/archives/{path...}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	path, ok := h.archiveKey(w, r)
	if !ok {
		return
	}

	body, err := h.reader.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.Error("archive get failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "archive storage unavailable")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// Prune removes one archive object after its retention has lapsed.
// DELETE /api/archives/{path...}
func (h *ArchiveHandler) Prune(w http.ResponseWriter, r *http.Request) {
	path, ok := h.archiveKey(w, r)
	if !ok {
		return
	}

	exists, err := h.reader.Exists(r.Context(), path)
	if err != nil {
		h.logger.Error("archive head failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "archive storage unavailable")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}

	if err := h.deleter.Delete(r.Context(), path); err != nil {
		h.logger.Error("archive delete failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "archive storage unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// archiveKey resolves the wildcard path parameter to a bucket key under the
// archive root, rejecting traversal out of it.
func (h *ArchiveHandler) archiveKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	rel := pathParam(r, "path")
	if rel == "" || strings.Contains(rel, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return "", false
	}
	return archivePrefix + rel, true
}
