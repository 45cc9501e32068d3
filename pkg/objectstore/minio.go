package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	accessKey       string
	secretAccessKey string
	useSSL          bool
}

func newConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{
		useSSL: false,
	}

	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// Client reads objects from an S3 compatible storage.
type Client struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewClient(opts ...MinioOpts) (*Client, error) {
	cfg := newConfig(opts...)
	if cfg.endpoint == "" {
		return nil, errors.New("object storage endpoint is not configured")
	}

	minioClient, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create object storage client")
	}

	return &Client{cfg: cfg, client: minioClient}, nil
}

// Get copies the object at loc into dst.
func (c *Client) Get(ctx context.Context, loc Location, dst io.Writer) error {
	object, err := c.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return errors.Wrapf(err, "failed to get object %s", loc)
	}
	defer object.Close()

	objInfo, err := object.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat object %s", loc)
	}

	n, err := io.Copy(dst, object)
	if err != nil {
		return errors.Wrapf(err, "failed to read object %s", loc)
	}

	if n != objInfo.Size {
		return fmt.Errorf("failed to read the entire object %s. expected bytes %d received %d", loc, objInfo.Size, n)
	}

	return nil
}

func (c *Client) ReadAll(ctx context.Context, loc Location) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := c.Get(ctx, loc, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}
