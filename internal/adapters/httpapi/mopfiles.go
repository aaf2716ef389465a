package httpapi

import (
	"cicdcopilot/internal/core"
	"cicdcopilot/internal/mopparse"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// multipartOverhead leaves room for form fields and part headers on top of
// the upload limit.
const multipartOverhead = 64 << 10

func (h *Handler) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.CurrentUser(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleListMopFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.ListMopFiles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) handleRecentMopFiles(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	files, err := h.svc.RecentMopFiles(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) handleGetMopFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	file, err := h.svc.GetMopFile(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *Handler) handleUploadMopFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, mopparse.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(mopparse.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, mopparse.ErrTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("mopFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, mopparse.ErrEmptyUpload.Error())
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, mopparse.MaxUploadBytes+1))
	if err != nil {
		h.fail(w, r, fmt.Errorf("read upload: %w", err))
		return
	}
	created, _, err := h.svc.UploadMopFile(r.Context(), core.UploadInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Data:        data,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateMopFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var update core.MopFileUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		h.fail(w, r, err)
		return
	}
	updated, _, err := h.svc.UpdateMopFile(r.Context(), id, update)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteMopFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.svc.DeleteMopFile(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDownloadMopFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	file, body, err := h.svc.OpenMopFile(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer body.Close()
	contentType := file.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream mop file", zap.Int64("mop_file_id", id), zap.Error(err))
	}
}

func (h *Handler) handleConvertMopFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "mopFileID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	script, err := h.svc.ConvertMopFile(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jenkins_code": script})
}
