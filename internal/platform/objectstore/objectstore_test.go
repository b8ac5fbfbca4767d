package objectstore

import (
	"context"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:   "localhost:9000",
		AccessKey:  "a",
		SecretKey:  "b",
		Region:     "us-east-1",
		BucketCode: "sweep-code",
		PresignTTL: time.Hour,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.PresignTTL = 8 * 24 * time.Hour
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for presign ttl above 7d")
	}
}

func TestNewMinIOClient(t *testing.T) {
	client, err := NewMinIOClient(Config{
		Endpoint:   "localhost:9000",
		AccessKey:  "a",
		SecretKey:  "b",
		Region:     "us-east-1",
		BucketCode: "sweep-code",
		PresignTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewMinIOClient() err=%v", err)
	}
	if client.EndpointURL().Host != "localhost:9000" {
		t.Fatalf("endpoint=%v", client.EndpointURL())
	}
}

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		raw     string
		host    string
		ssl     bool
		wantErr bool
	}{
		{"localhost:9000", "localhost:9000", false, false},
		{"https://s3.example.test", "s3.example.test", true, false},
		{"http://minio:9000/", "minio:9000", false, false},
		{"ftp://minio:9000", "", false, true},
		{"https://minio:9000/bucket", "", false, true},
	}
	for _, tc := range cases {
		host, ssl, err := splitEndpoint(tc.raw, false)
		if (err != nil) != tc.wantErr || host != tc.host || ssl != tc.ssl {
			t.Fatalf("splitEndpoint(%q)=%q,%v,%v", tc.raw, host, ssl, err)
		}
	}
}

func TestConfigValidateBucketName(t *testing.T) {
	cfg := Config{Endpoint: "e:1", AccessKey: "a", SecretKey: "b", Region: "r", BucketCode: "Sweep_Code", PresignTTL: time.Hour}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error for an invalid bucket name")
	}
}

type fakeBuckets struct {
	exists  bool
	made    []string
	makeErr error
}

func (f *fakeBuckets) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.exists, nil
}

func (f *fakeBuckets) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket+"@"+opts.Region)
	return f.makeErr
}

func TestBucket(t *testing.T) {
	cfg := Config{BucketCode: "sweep-code", Region: "us-east-1"}
	f := &fakeBuckets{}
	if err := bucket(context.Background(), f, cfg, false); err == nil {
		t.Fatalf("check of a missing bucket err=nil")
	}
	if err := bucket(context.Background(), f, cfg, true); err != nil || len(f.made) != 1 || f.made[0] != "sweep-code@us-east-1" {
		t.Fatalf("ensure err=%v made=%v", err, f.made)
	}

	f = &fakeBuckets{makeErr: minio.ErrorResponse{Code: "BucketAlreadyOwnedByYou"}}
	if err := bucket(context.Background(), f, cfg, true); err != nil {
		t.Fatalf("ensure with a concurrent create err=%v", err)
	}
}
