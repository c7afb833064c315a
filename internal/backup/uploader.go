// Package backup provides S3-compatible off-machine copies of the
// durable snapshot. When no bucket is configured the NoopUploader is
// used and all S3 operations are skipped, keeping the system in
// local-only mode.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tallyworks/tally/internal/config"
	"github.com/tallyworks/tally/internal/types"
)

// ErrNotConfigured is returned when snapshot backup storage is not configured.
var ErrNotConfigured = errors.New("backup storage not configured")

// Uploader ships snapshots to remote storage.
type Uploader interface {
	// Upload writes the snapshot as the current backup object.
	Upload(ctx context.Context, snap types.Snapshot) error

	// PresignedURL returns a pre-signed URL for downloading the current
	// backup. Returns ErrNotConfigured when backups are disabled.
	PresignedURL(ctx context.Context) (url string, expiry time.Time, err error)
}

// s3Client is the minimal minio.Client surface the uploader uses,
// narrowed so tests can substitute a mock.
type s3Client interface {
	PutObject(ctx context.Context, bucket, objectName string, data []byte) error
	PresignedGet(ctx context.Context, bucket, objectName string, expiry time.Duration) (string, error)
}

// minioClientWrapper adapts *minio.Client to the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) PutObject(ctx context.Context, bucket, objectName string, data []byte) error {
	_, err := w.client.PutObject(ctx, bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (w *minioClientWrapper) PresignedGet(ctx context.Context, bucket, objectName string, expiry time.Duration) (string, error) {
	u, err := w.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// S3Uploader uploads snapshots to S3-compatible storage.
type S3Uploader struct {
	client    s3Client
	bucket    string
	prefix    string
	urlExpiry time.Duration
}

// Upload serializes the snapshot and overwrites the current backup object.
func (u *S3Uploader) Upload(ctx context.Context, snap types.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := u.client.PutObject(ctx, u.bucket, u.objectKey(), data); err != nil {
		return fmt.Errorf("upload snapshot to S3: %w", err)
	}
	return nil
}

// PresignedURL returns a pre-signed GET URL for the current backup.
func (u *S3Uploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	presigned, err := u.client.PresignedGet(ctx, u.bucket, u.objectKey(), u.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return presigned, time.Now().Add(u.urlExpiry), nil
}

// objectKey follows the convention {prefix}/snapshot/current.json.
func (u *S3Uploader) objectKey() string {
	return u.prefix + "/snapshot/current.json"
}

// NoopUploader is used when backup storage is not configured.
// Upload is a no-op and PresignedURL returns ErrNotConfigured.
type NoopUploader struct{}

// Upload is a no-op when backups are disabled.
func (u *NoopUploader) Upload(ctx context.Context, snap types.Snapshot) error {
	return nil
}

// PresignedURL returns ErrNotConfigured when backups are disabled.
func (u *NoopUploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader creates the appropriate Uploader based on configuration.
// Returns NoopUploader when the bucket is empty, S3Uploader otherwise.
func NewUploader(cfg config.BackupConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client:    &minioClientWrapper{client: client},
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		urlExpiry: 15 * time.Minute,
	}, nil
}
