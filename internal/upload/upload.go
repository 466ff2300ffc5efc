// Package upload сохраняет картинки из чата и возвращает публичный URL.
// Ядро чата видит только Upload(data, roomID) -> url.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotImage: содержимое не похоже ни на один поддерживаемый формат картинки.
	ErrNotImage = errors.New("upload: not a supported image")
	// ErrTooLarge: файл больше max_upload_size_mb.
	ErrTooLarge = errors.New("upload: file too large")
	// ErrBadRoom: roomID нельзя использовать как сегмент пути.
	ErrBadRoom = errors.New("upload: invalid room id")
)

type Uploader interface {
	Upload(ctx context.Context, data []byte, roomID string) (string, error)
}

const (
	ModeLocal = "local"
	ModeS3    = "s3"
)

type format struct {
	ext         string
	contentType string
	match       func(head []byte) bool
}

var formats = []format{
	{".jpg", "image/jpeg", func(h []byte) bool {
		return len(h) >= 3 && h[0] == 0xFF && h[1] == 0xD8 && h[2] == 0xFF
	}},
	{".png", "image/png", func(h []byte) bool {
		return len(h) >= 8 && bytes.Equal(h[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	}},
	{".gif", "image/gif", func(h []byte) bool {
		return len(h) >= 6 && (bytes.Equal(h[:6], []byte("GIF87a")) || bytes.Equal(h[:6], []byte("GIF89a")))
	}},
	{".webp", "image/webp", func(h []byte) bool {
		return len(h) >= 12 && bytes.Equal(h[:4], []byte("RIFF")) && bytes.Equal(h[8:12], []byte("WEBP"))
	}},
	{".heic", "image/heic", func(h []byte) bool {
		return len(h) >= 12 && bytes.Equal(h[4:8], []byte("ftyp")) &&
			(bytes.Equal(h[8:12], []byte("heic")) || bytes.Equal(h[8:12], []byte("heix")) || bytes.Equal(h[8:12], []byte("mif1")))
	}},
}

// Sniff определяет формат картинки по сигнатуре (расширению клиента не доверяем).
func Sniff(data []byte) (ext, contentType string, err error) {
	for _, f := range formats {
		if f.match(data) {
			return f.ext, f.contentType, nil
		}
	}
	return "", "", ErrNotImage
}

// ContentTypeByExt: для раздачи сохранённых файлов.
func ContentTypeByExt(ext string) string {
	ext = strings.ToLower(ext)
	for _, f := range formats {
		if f.ext == ext {
			return f.contentType
		}
	}
	if ext == ".jpeg" {
		return "image/jpeg"
	}
	return ""
}

func checkRoom(roomID string) error {
	if roomID == "" || roomID == "." || roomID == ".." || path.Base(roomID) != roomID || strings.ContainsAny(roomID, `\/`) {
		return ErrBadRoom
	}
	return nil
}

// prepare проверяет вход и возвращает имя нового объекта и его тип.
func prepare(data []byte, roomID string, maxSize int64) (name, contentType string, err error) {
	if err := checkRoom(roomID); err != nil {
		return "", "", err
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return "", "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	ext, ct, err := Sniff(data)
	if err != nil {
		return "", "", err
	}
	return uuid.NewString() + ext, ct, nil
}
