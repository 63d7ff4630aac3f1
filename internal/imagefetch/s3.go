package imagefetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config points at an S3-compatible object store.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" toml:"endpoint"`
	AccessKey string `yaml:"access_key" toml:"access_key"`
	SecretKey string `yaml:"secret_key" toml:"secret_key"`
	Region    string `yaml:"region" toml:"region"`
	UseSSL    bool   `yaml:"use_ssl" toml:"use_ssl"`
}

// Enabled reports whether an endpoint is set.
func (c S3Config) Enabled() bool { return strings.TrimSpace(c.Endpoint) != "" }

func (c S3Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("s3 endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("s3 access key and secret key are required")
	}
	return nil
}

type minioGetter struct {
	client *minio.Client
}

// NewS3Getter builds an ObjectGetter on minio-go.
func NewS3Getter(cfg S3Config) (ObjectGetter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(strings.TrimSpace(cfg.Endpoint), &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, err
	}
	return &minioGetter{client: client}, nil
}

func (g *minioGetter) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := g.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces missing keys before the body is read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, err
	}
	return obj, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
