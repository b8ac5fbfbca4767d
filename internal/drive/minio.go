package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/animus-labs/animus-hpo/internal/domain"
	"github.com/animus-labs/animus-hpo/internal/platform/env"
	"github.com/animus-labs/animus-hpo/internal/platform/objectstore"
	"github.com/animus-labs/animus-hpo/internal/sweep"
)

type Config struct {
	CodeRoot string
	MaxBytes int64
}

func ConfigFromEnv() (Config, error) {
	maxBytes, err := env.Int("HPO_CODE_MAX_BYTES", 64<<20)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		CodeRoot: env.String("HPO_CODE_ROOT", "."),
		MaxBytes: int64(maxBytes),
	}
	if strings.TrimSpace(cfg.CodeRoot) == "" {
		return Config{}, errors.New("HPO_CODE_ROOT is required")
	}
	if cfg.MaxBytes < 0 {
		return Config{}, errors.New("HPO_CODE_MAX_BYTES must be non-negative")
	}
	return cfg, nil
}

// objectClient is the part of *minio.Client the drive uses.
type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// MinioDrive stores sweep code in an S3-compatible bucket and hands workers
// presigned GET URLs.
type MinioDrive struct {
	client     objectClient
	bucket     string
	presignTTL time.Duration
	cfg        Config
}

func NewMinioDrive(client *minio.Client, store objectstore.Config, cfg Config) (*MinioDrive, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	return newMinioDrive(client, store, cfg)
}

func newMinioDrive(client objectClient, store objectstore.Config, cfg Config) (*MinioDrive, error) {
	if strings.TrimSpace(store.BucketCode) == "" {
		return nil, errors.New("code bucket is required")
	}
	ttl := store.PresignTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &MinioDrive{client: client, bucket: store.BucketCode, presignTTL: ttl, cfg: cfg}, nil
}

// ObjectKey is where the code of one sweep attempt lives.
func ObjectKey(sweepID string, restartCount int) string {
	return path.Join(sweepID, strconv.Itoa(restartCount), archiveName)
}

func (d *MinioDrive) Upload(ctx context.Context, cfg domain.SweepConfig, restartCount int) (string, error) {
	if d == nil || d.client == nil {
		return "", fmt.Errorf("%w: code drive not initialized", sweep.ErrInfrastructure)
	}
	archive, err := buildArchive(d.cfg.CodeRoot, cfg, restartCount, d.cfg.MaxBytes)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) || errors.Is(err, domain.ErrInvalidConfig) {
			return "", err
		}
		return "", fmt.Errorf("package code: %w", err)
	}

	key := ObjectKey(cfg.SweepID, restartCount)
	opts := minio.PutObjectOptions{
		ContentType:  "application/gzip",
		UserMetadata: map[string]string{"sweep-id": cfg.SweepID, "restart-count": strconv.Itoa(restartCount)},
	}
	if _, err := d.client.PutObject(ctx, d.bucket, key, bytes.NewReader(archive), int64(len(archive)), opts); err != nil {
		return "", fmt.Errorf("%w: upload %s: %v", sweep.ErrInfrastructure, key, err)
	}
	u, err := d.client.PresignedGetObject(ctx, d.bucket, key, d.presignTTL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %v", sweep.ErrInfrastructure, key, err)
	}
	return u.String(), nil
}

func (d *MinioDrive) Remove(ctx context.Context, sweepID string) error {
	if d == nil || d.client == nil {
		return fmt.Errorf("%w: code drive not initialized", sweep.ErrInfrastructure)
	}
	sweepID = strings.TrimSpace(sweepID)
	if sweepID == "" {
		return errors.New("sweep id is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	objects := d.client.ListObjects(ctx, d.bucket, minio.ListObjectsOptions{Prefix: sweepID + "/", Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", sweepID, obj.Err)
		}
		if err := d.client.RemoveObject(ctx, d.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", obj.Key, err)
		}
	}
	return nil
}
