// Package storage archives certificate PDFs in S3-compatible object storage
// and issues presigned download links for them.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/carverify/carverify/pkg/log"
)

// Archive stores certificate PDFs.
type Archive interface {
	Put(ctx context.Context, key string, pdf []byte) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Options configure a MinIO archive.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// CertificateKey is the object key for an order's certificate.
func CertificateKey(orderID, filename string) string {
	return path.Join("certificates", url.PathEscape(orderID), path.Base("/"+filename))
}

// MinIOArchive is an Archive backed by minio-go.
type MinIOArchive struct {
	client *minio.Client
	bucket string
}

// NewMinIOArchive builds the client. No request is made until first use.
func NewMinIOArchive(opts Options) (*MinIOArchive, error) {
	region := opts.Region
	if region == "" {
		region = "ap-southeast-2"
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinIOArchive{client: client, bucket: opts.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (a *MinIOArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("bucket does not exist, creating", "bucket", a.bucket)
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Put uploads pdf under key.
func (a *MinIOArchive) Put(ctx context.Context, key string, pdf []byte) error {
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(pdf), int64(len(pdf)), minio.PutObjectOptions{
		ContentType:        "application/pdf",
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", path.Base(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// PresignedURL returns a time-limited GET link for key.
func (a *MinIOArchive) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))

	u, err := a.client.PresignedGetObject(ctx, a.bucket, key, ttl, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return u.String(), nil
}
