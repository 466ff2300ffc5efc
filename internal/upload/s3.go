package upload

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dmchat/internal/logger"
)

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// PublicURL: внешний адрес бакета (CDN). Пусто: отдаём presigned URL.
	PublicURL string
}

const (
	objectPrefix = "chat"
	presignTTL   = 7 * 24 * time.Hour
)

// S3 хранит картинки в MinIO/S3 под chat/<roomId>/<uuid><ext>.
type S3 struct {
	cfg     S3Config
	client  *minio.Client
	maxSize int64
}

func NewS3(cfg S3Config, maxSize int64) (*S3, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &S3{cfg: cfg, client: cl, maxSize: maxSize}, nil
}

// EnsureBucket создаёт бакет при первом запуске.
func (s *S3) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("s3 bucket exists: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("s3 make bucket: %w", err)
		}
	}
	return nil
}

func objectKey(roomID, name string) string {
	return objectPrefix + "/" + roomID + "/" + name
}

func (s *S3) Upload(ctx context.Context, data []byte, roomID string) (string, error) {
	defer logger.DeferLogDuration("upload.S3", time.Now())()
	name, ct, err := prepare(data, roomID, s.maxSize)
	if err != nil {
		return "", err
	}
	key := objectKey(roomID, name)
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: ct})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	if s.cfg.PublicURL != "" {
		return publicURL(s.cfg.PublicURL, s.cfg.Bucket, key), nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, presignTTL, nil)
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", key, err)
	}
	return u.String(), nil
}

func publicURL(base, bucket, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + bucket + "/" + key
}
