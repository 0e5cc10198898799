package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/services"
)

// AttachmentHandler serves /api/attachments.
type AttachmentHandler struct {
	base
	svc      *services.AttachmentService
	maxBytes int64
}

// NewAttachmentHandler limits uploads to maxMiB mebibytes (10 when zero).
func NewAttachmentHandler(svc *services.AttachmentService, maxMiB int, log *zap.Logger) *AttachmentHandler {
	if maxMiB <= 0 {
		maxMiB = 10
	}
	return &AttachmentHandler{base: newBase(log), svc: svc, maxBytes: int64(maxMiB) << 20}
}

// Upload reads a multipart form with the fields entity, entity_id and file.
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.LocalizedError(w, r, http.StatusRequestEntityTooLarge, "file_too_large", nil)
			return
		}
		httpx.LocalizedError(w, r, http.StatusBadRequest, "invalid_form", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.LocalizedError(w, r, http.StatusUnprocessableEntity, "validation_failed", map[string]string{"file": "required"})
		return
	}
	defer file.Close()
	if header.Size > h.maxBytes {
		httpx.LocalizedError(w, r, http.StatusRequestEntityTooLarge, "file_too_large", nil)
		return
	}
	entityID, _ := strconv.ParseUint(r.FormValue("entity_id"), 10, 64)
	ct := header.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	a, err := h.svc.Upload(r.Context(), services.UploadInput{
		Entity:      r.FormValue("entity"),
		EntityID:    uint(entityID),
		FileName:    header.Filename,
		ContentType: ct,
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

// List requires ?entity= and ?entity_id=.
func (h *AttachmentHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), r.URL.Query().Get("entity"), queryUint(r, "entity_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, items, int64(len(items)), 1, len(items))
}

// Download streams the stored file.
func (h *AttachmentHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, rc, err := h.svc.Open(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.FileName}))
	if a.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn("attachment download interrupted", zap.Uint("id", id), zap.Error(err))
	}
}

func (h *AttachmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
