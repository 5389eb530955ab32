// Package objectstore wraps the MinIO client used for model weights and uploaded features
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type Client struct {
	client *miniogo.Client
}

func New(cfg Config) (*Client, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Client{client: client}, nil
}

// EnsureBucket creates the bucket if it does not exist yet
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := c.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// Bucket returns a handle scoped to one bucket
func (c *Client) Bucket(name string) *Bucket {
	return &Bucket{client: c.client, name: name}
}

type Bucket struct {
	client *miniogo.Client
	name   string
}

// Fetch downloads an object to a local file
func (b *Bucket) Fetch(ctx context.Context, key, dest string) error {
	if err := b.client.FGetObject(ctx, b.name, key, dest, miniogo.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download %s/%s: %w", b.name, key, err)
	}
	return nil
}

// Put uploads data under key; metadata is stored as x-amz-meta-* user metadata
func (b *Bucket) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	return b.PutReader(ctx, key, bytes.NewReader(data), int64(len(data)), contentType, metadata)
}

func (b *Bucket) PutReader(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) error {
	_, err := b.client.PutObject(ctx, b.name, key, r, size, miniogo.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", b.name, key, err)
	}
	return nil
}
