// Package storage adapts the object store holding recipe and firmware
// artifacts. Devices receive presigned download URLs so storage credentials
// never leave the hub.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/pkg/options"
)

// urlTTL bounds how long a presigned artifact URL stays valid. Long enough
// for a device on a slow link, short enough to limit leaked-URL exposure.
const urlTTL = 24 * time.Hour

// MinioResolver implements core.ArtifactResolver against an S3-compatible
// object store.
type MinioResolver struct {
	client *minio.Client
	bucket string
}

var _ core.ArtifactResolver = (*MinioResolver)(nil)

// NewMinioResolver connects to the object store described by opts.
func NewMinioResolver(opts *options.S3Options) (*MinioResolver, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store %s: %w", opts.Endpoint, err)
	}
	return &MinioResolver{client: client, bucket: opts.BucketName}, nil
}

// ResolveURL checks the object exists and returns a time-limited download URL.
func (r *MinioResolver) ResolveURL(ctx context.Context, objectKey string) (string, error) {
	if _, err := r.client.StatObject(ctx, r.bucket, objectKey, minio.StatObjectOptions{}); err != nil {
		return "", fmt.Errorf("artifact %s: %w", objectKey, err)
	}

	u, err := r.client.PresignedGetObject(ctx, r.bucket, objectKey, urlTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign artifact %s: %w", objectKey, err)
	}
	return u.String(), nil
}
