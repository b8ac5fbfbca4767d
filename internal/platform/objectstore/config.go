package objectstore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7/pkg/s3utils"

	"github.com/animus-labs/animus-hpo/internal/platform/env"
)

// Config locates the bucket that holds packaged sweep code.
type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Region     string
	UseSSL     bool
	BucketCode string
	PresignTTL time.Duration
}

const maxPresignTTL = 7 * 24 * time.Hour

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("HPO_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	ttl, err := env.Duration("HPO_MINIO_PRESIGN_TTL", 12*time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		AccessKey:  env.String("HPO_MINIO_ACCESS_KEY", "animus"),
		SecretKey:  env.String("HPO_MINIO_SECRET_KEY", "animusminio"),
		Region:     env.String("HPO_MINIO_REGION", "us-east-1"),
		UseSSL:     useSSL,
		BucketCode: env.String("HPO_MINIO_BUCKET_CODE", "sweep-code"),
		PresignTTL: ttl,
	}
	if cfg.Endpoint, cfg.UseSSL, err = splitEndpoint(env.String("HPO_MINIO_ENDPOINT", "localhost:9000"), cfg.UseSSL); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// splitEndpoint accepts "host:port" or a URL; an https scheme turns TLS on.
func splitEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("HPO_MINIO_ENDPOINT: %w", err)
	}
	if strings.Trim(u.Path, "/") != "" {
		return "", false, fmt.Errorf("HPO_MINIO_ENDPOINT must not carry a path: %q", raw)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("HPO_MINIO_ENDPOINT scheme %q is not supported", u.Scheme)
	}
}

func (c Config) Validate() error {
	var problems []string
	for _, f := range []struct{ name, value string }{
		{"endpoint", c.Endpoint},
		{"access key", c.AccessKey},
		{"secret key", c.SecretKey},
		{"region", c.Region},
	} {
		if strings.TrimSpace(f.value) == "" {
			problems = append(problems, f.name+" is required")
		}
	}
	if strings.Contains(c.Endpoint, "://") {
		problems = append(problems, fmt.Sprintf("endpoint must not include scheme: %q", c.Endpoint))
	}
	if err := s3utils.CheckValidBucketNameStrict(c.BucketCode); err != nil {
		problems = append(problems, fmt.Sprintf("code bucket %q: %v", c.BucketCode, err))
	}
	if c.PresignTTL <= 0 || c.PresignTTL > maxPresignTTL {
		problems = append(problems, fmt.Sprintf("presign ttl must be within (0, 7d]: %s", c.PresignTTL))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
