package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/upload"
)

// multipartOverhead: запас на заголовки multipart сверх самого файла.
const multipartOverhead = 1 << 20

type FileHandler struct {
	svc      ChatService
	uploader upload.Uploader
	// local: только для режима local: файлы отдаёт сам API.
	local   *upload.Local
	maxSize int64
}

func NewFileHandler(svc ChatService, uploader upload.Uploader, maxSize int64) *FileHandler {
	h := &FileHandler{svc: svc, uploader: uploader, maxSize: maxSize}
	if l, ok := uploader.(*upload.Local); ok {
		h.local = l
	}
	return h
}

type FileUploadResponse struct {
	URL string `json:"url"`
}

// Upload принимает картинку в поле file и возвращает её URL для сообщения типа IMAGE.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	room, err := h.svc.CheckAccess(r.Context(), roomID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+multipartOverhead)
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.maxSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	url, err := h.uploader.Upload(r.Context(), data, room.ID)
	switch {
	case err == nil:
	case errors.Is(err, upload.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	case errors.Is(err, upload.ErrNotImage), errors.Is(err, upload.ErrBadRoom):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		logger.Errorf("upload room=%s: %v", room.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	writeJSON(w, http.StatusCreated, FileUploadResponse{URL: url})
}

// Serve отдаёт файлы режима local; для s3 URL указывает прямо в бакет.
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	if h.local == nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	h.local.Serve(w, r, chi.URLParam(r, "roomId"), filepath.Base(chi.URLParam(r, "name")))
}
