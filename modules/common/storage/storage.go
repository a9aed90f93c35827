package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/config"
	"brand-camera-server/modules/common/utils"
)

// ErrEmptyImage is returned for an upload without bytes.
var ErrEmptyImage = errors.New("empty image")

// Object - 업로드할 이미지 한 장
type Object struct {
	Data     []byte
	MIMEType string
	OwnerID  string
	Name     string
}

// Uploader persists image bytes and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, obj Object) (string, error)
}

// New - STORAGE_BACKEND 설정에 따라 Uploader 생성
func New(ctx context.Context, cfg *config.Config) (Uploader, error) {
	if cfg.StorageBackend == config.StorageMinio {
		return NewMinioUploader(ctx, cfg)
	}
	return NewSupabaseUploader(cfg), nil
}

// UploadSource accepts a data URL, raw base64, or an http(s) URL.
// URLs are already durable and are returned unchanged.
func UploadSource(ctx context.Context, u Uploader, source, ownerID, name string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", ErrEmptyImage
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return source, nil
	}
	data, mimeType, err := utils.DecodeBase64Image(source)
	if err != nil {
		return "", err
	}
	return u.Upload(ctx, Object{Data: data, MIMEType: mimeType, OwnerID: ownerID, Name: name})
}

// ObjectName - 이름이 없으면 uuid 사용
func ObjectName(name string) string {
	if name == "" {
		return uuid.NewString()
	}
	return name
}

// prepare converts PNG to WebP (quality 90) and builds the object path.
func prepare(obj Object) ([]byte, string, string, error) {
	if len(obj.Data) == 0 {
		return nil, "", "", ErrEmptyImage
	}

	data, mimeType := obj.Data, obj.MIMEType
	if mimeType == "" {
		mimeType = utils.DetectMIME(data)
	}
	if mimeType == "image/png" {
		webpData, err := utils.ConvertPNGToWebP(data, 90.0)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️  [Storage] WebP conversion failed, uploading PNG")
		} else {
			data, mimeType = webpData, "image/webp"
		}
	}

	owner := obj.OwnerID
	if owner == "" {
		owner = "anonymous"
	}
	path := fmt.Sprintf("generations/user-%s/%s%s", owner, ObjectName(obj.Name), extension(mimeType))
	return data, mimeType, path, nil
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/webp":
		return ".webp"
	case "image/jpeg":
		return ".jpg"
	default:
		return ".png"
	}
}

// SupabaseUploader - Supabase Storage REST 업로드
type SupabaseUploader struct {
	httpClient *http.Client
	apiURL     string
	serviceKey string
	bucket     string
	publicBase string
}

func NewSupabaseUploader(cfg *config.Config) *SupabaseUploader {
	return &SupabaseUploader{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiURL:     cfg.SupabaseURL,
		serviceKey: cfg.SupabaseServiceKey,
		bucket:     cfg.SupabaseStorageBucket,
		publicBase: cfg.SupabaseStorageBaseURL,
	}
}

// Upload - Supabase Storage에 이미지 업로드 (WebP 변환 포함)
func (u *SupabaseUploader) Upload(ctx context.Context, obj Object) (string, error) {
	data, mimeType, path, err := prepare(obj)
	if err != nil {
		return "", err
	}

	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", u.apiURL, u.bucket, path)
	log.Debug().Msgf("📤 [Storage] Uploading %s (%d bytes)", path, len(data))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+u.serviceKey)
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("x-upsert", "true")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	log.Info().Msgf("✅ [Storage] Image uploaded: %s (%d bytes)", path, len(data))
	return u.publicBase + path, nil
}
