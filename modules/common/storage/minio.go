package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/config"
)

// MinioUploader stores generated images in an S3-compatible bucket.
type MinioUploader struct {
	client     *minio.Client
	bucketName string
	publicURL  string
}

// NewMinioUploader connects to MinIO and creates the bucket when missing.
func NewMinioUploader(ctx context.Context, cfg *config.Config) (*MinioUploader, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	log.Info().Msgf("✅ [Storage] MinIO bucket ready: %s", cfg.MinioBucket)
	return &MinioUploader{
		client:     client,
		bucketName: cfg.MinioBucket,
		publicURL:  strings.TrimRight(cfg.MinioPublicURL, "/"),
	}, nil
}

func (m *MinioUploader) Upload(ctx context.Context, obj Object) (string, error) {
	data, mimeType, path, err := prepare(obj)
	if err != nil {
		return "", err
	}

	_, err = m.client.PutObject(ctx, m.bucketName, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	log.Info().Msgf("✅ [Storage] Image saved to MinIO: %s (%d bytes)", path, len(data))
	return fmt.Sprintf("%s/%s/%s", m.publicURL, m.bucketName, path), nil
}
