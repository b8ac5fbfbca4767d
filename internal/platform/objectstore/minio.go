package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: transport(),
	})
}

type bucketAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
}

// EnsureBucket creates the code bucket when it does not exist.
func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	return bucket(ctx, client, cfg, true)
}

// CheckBucket fails when the code bucket is missing or unreachable.
func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	return bucket(ctx, client, cfg, false)
}

func bucket(ctx context.Context, api bucketAPI, cfg Config, create bool) error {
	exists, err := api.BucketExists(ctx, cfg.BucketCode)
	switch {
	case err != nil:
		return fmt.Errorf("stat bucket %s: %w", cfg.BucketCode, err)
	case exists:
		return nil
	case !create:
		return fmt.Errorf("code bucket missing: %s", cfg.BucketCode)
	}
	err = api.MakeBucket(ctx, cfg.BucketCode, minio.MakeBucketOptions{Region: cfg.Region})
	if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
		return fmt.Errorf("make bucket %s: %w", cfg.BucketCode, err)
	}
	return nil
}

func transport() *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
