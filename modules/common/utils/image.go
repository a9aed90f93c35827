package utils

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // JPEG 디코더 등록
	"image/png"
	"math"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	_ "github.com/kolesa-team/go-webp/decoder" // WebP 디코더 등록
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rs/zerolog/log"
)

// MaxReferenceSide - 모델 입력용 레퍼런스 이미지 최대 변 길이
const MaxReferenceSide = 1536

// StripDataURL removes a "data:<mime>;base64," prefix and returns the payload
// together with the declared MIME type ("" when there was no prefix).
func StripDataURL(s string) (payload string, mimeType string) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s, ""
	}
	header, data, ok := strings.Cut(s, ",")
	if !ok {
		return "", ""
	}
	header = strings.TrimPrefix(header, "data:")
	mimeType, _, _ = strings.Cut(header, ";")
	return data, mimeType
}

// DecodeBase64Image decodes a data URL or raw base64 string.
func DecodeBase64Image(s string) ([]byte, string, error) {
	payload, declared := StripDataURL(s)
	if payload == "" {
		return nil, "", fmt.Errorf("empty base64 payload")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// 일부 클라이언트는 padding 없이 보냄
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode base64 image: %w", err)
		}
	}
	mimeType := declared
	if mimeType == "" {
		mimeType = DetectMIME(data)
	}
	return data, mimeType, nil
}

// DetectMIME sniffs image bytes, defaulting to image/png.
func DetectMIME(data []byte) string {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}
	mimeType := http.DetectContentType(data)
	if strings.HasPrefix(mimeType, "image/") {
		return mimeType
	}
	return "image/png"
}

// ConvertImageToBase64 - 이미지 바이너리를 base64로 변환
func ConvertImageToBase64(imageData []byte) string {
	return base64.StdEncoding.EncodeToString(imageData)
}

// ConvertPNGToWebP - PNG 바이너리를 WebP로 변환
func ConvertPNGToWebP(pngData []byte, quality float32) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var webpBuffer bytes.Buffer
	if err := webp.Encode(&webpBuffer, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}

	webpData := webpBuffer.Bytes()
	log.Debug().Msgf("🔄 PNG converted to WebP: %d bytes → %d bytes", len(pngData), len(webpData))
	return webpData, nil
}

// Downscale shrinks an image so its longest side is at most maxSide.
// Images already within bounds, or that cannot be decoded, are returned as-is.
func Downscale(data []byte, maxSide int) ([]byte, string) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return data, DetectMIME(data)
	}
	if cfg.Width <= maxSide && cfg.Height <= maxSide {
		return data, DetectMIME(data)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data, DetectMIME(data)
	}
	resized := imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(92)); err != nil {
		return data, DetectMIME(data)
	}
	log.Debug().Msgf("📐 Downscaled %s reference %dx%d → %dx%d",
		format, cfg.Width, cfg.Height, resized.Bounds().Dx(), resized.Bounds().Dy())
	return buf.Bytes(), "image/jpeg"
}

// MergeGrid - 여러 이미지를 하나의 Grid 이미지로 병합 (셀 크기 통일, 중앙 정렬)
func MergeGrid(images [][]byte, cellSide int) ([]byte, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no images to merge")
	}
	if len(images) == 1 {
		return images[0], nil
	}

	decoded := make([]image.Image, 0, len(images))
	for i, data := range images {
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			log.Warn().Msgf("⚠️  Failed to decode image %d for grid: %v", i, err)
			continue
		}
		decoded = append(decoded, imaging.Fit(img, cellSide, cellSide, imaging.Lanczos))
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("no valid images to merge")
	}

	cols := int(math.Ceil(math.Sqrt(float64(len(decoded)))))
	rows := int(math.Ceil(float64(len(decoded)) / float64(cols)))
	canvas := imaging.New(cols*cellSide, rows*cellSide, color.White)

	for idx, img := range decoded {
		x := (idx%cols)*cellSide + (cellSide-img.Bounds().Dx())/2
		y := (idx/cols)*cellSide + (cellSide-img.Bounds().Dy())/2
		canvas = imaging.Paste(canvas, img, image.Pt(x, y))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("failed to encode merged image: %w", err)
	}
	log.Debug().Msgf("✅ Merged %d images into %dx%d grid", len(decoded), rows, cols)
	return buf.Bytes(), nil
}
