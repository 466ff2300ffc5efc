package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmchat/internal/logger"
)

// Local хранит файлы в upload_dir/<roomId>/<uuid><ext> и раздаёт их через Serve.
type Local struct {
	dir     string
	baseURL string
	maxSize int64
}

// NewLocal: baseURL: префикс, под которым смонтирован Serve (например "/api/files").
func NewLocal(dir, baseURL string, maxSize int64) *Local {
	return &Local{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/"), maxSize: maxSize}
}

func (l *Local) Upload(ctx context.Context, data []byte, roomID string) (string, error) {
	defer logger.DeferLogDuration("upload.Local", time.Now())()
	name, _, err := prepare(data, roomID, l.maxSize)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(l.dir, roomID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("upload dir: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("save upload: %w", err)
	}
	return l.baseURL + "/" + roomID + "/" + name, nil
}

// Serve отдаёт ранее загруженный файл.
func (l *Local) Serve(w http.ResponseWriter, r *http.Request, roomID, name string) {
	if checkRoom(roomID) != nil || checkRoom(name) != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	f, err := os.Open(filepath.Join(l.dir, roomID, name))
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	if ct := ContentTypeByExt(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		logger.Errorf("upload serve %s/%s: %v", roomID, name, err)
	}
}
