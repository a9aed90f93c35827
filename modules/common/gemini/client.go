package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"brand-camera-server/modules/common/config"
	"brand-camera-server/modules/common/model"
)

var (
	// ErrResourceBusy is returned when both the primary and the fallback model failed.
	ErrResourceBusy = errors.New(model.ErrCodeResourceBusy)
	// ErrNoImage means the provider answered without any inline image.
	ErrNoImage = errors.New("no image data in response")
	// ErrNoText means the provider answered without any text part.
	ErrNoText = errors.New("no text in response")
	// ErrUnparseable means structured output could not be decoded.
	ErrUnparseable = errors.New("unparseable model output")
)

// ContentGenerator is the provider surface used by Client. *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ModelSet - 사용할 모델 이름들
type ModelSet struct {
	Primary  string
	Fallback string
	Vision   string
}

// ImageOptions - 이미지 생성 옵션
type ImageOptions struct {
	AspectRatio string
	Temperature *float32
}

// ImageResult - 생성된 이미지와 생성한 모델
type ImageResult struct {
	Data      []byte
	MIMEType  string
	Model     model.ModelType
	ModelName string
}

// Client wraps a ContentGenerator with the primary → fallback image policy.
type Client struct {
	gen            ContentGenerator
	models         ModelSet
	primaryRetries int
	retryWait      time.Duration
}

func NewClient(gen ContentGenerator, models ModelSet, primaryRetries int) *Client {
	if primaryRetries < 0 {
		primaryRetries = 0
	}
	return &Client{
		gen:            gen,
		models:         models,
		primaryRetries: primaryRetries,
		retryWait:      2 * time.Second,
	}
}

// NewFromConfig - GENAI_BACKEND 에 따라 Gemini API 또는 Vertex AI 클라이언트 생성
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Client, error) {
	models := ModelSet{
		Primary:  cfg.PrimaryImageModel,
		Fallback: cfg.FallbackImageModel,
		Vision:   cfg.VisionModel,
	}

	switch cfg.GenAIBackend {
	case config.BackendVertex:
		gen, err := NewVertexGenerator(ctx, cfg.VertexProject, cfg.VertexLocation)
		if err != nil {
			return nil, err
		}
		return NewClient(gen, models, cfg.PrimaryModelRetries), nil
	default:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		log.Info().Msgf("✅ [Gemini] Client initialized (primary=%s, fallback=%s)", models.Primary, models.Fallback)
		return NewClient(client.Models, models, cfg.PrimaryModelRetries), nil
	}
}

// GenerateImage tries the primary model, then the fallback model exactly once
// with the same parts. When both fail it returns ErrResourceBusy.
func (c *Client) GenerateImage(ctx context.Context, parts []*genai.Part, opts ImageOptions) (*ImageResult, error) {
	contents := userContents(parts)
	cfg := &genai.GenerateContentConfig{Temperature: opts.Temperature}
	if opts.AspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: opts.AspectRatio}
	}

	start := time.Now()
	result, primaryErr := c.callImage(ctx, c.models.Primary, contents, cfg, c.primaryRetries)
	if primaryErr == nil {
		result.Model = model.ModelPro
		log.Info().Msgf("✅ [Gemini] Primary model %s returned image (%d bytes, %.1fs)",
			c.models.Primary, len(result.Data), time.Since(start).Seconds())
		return result, nil
	}
	log.Warn().Err(primaryErr).Msgf("⚠️  [Gemini] Primary model %s failed, trying fallback %s", c.models.Primary, c.models.Fallback)

	if c.models.Fallback == "" || ctx.Err() != nil {
		return nil, fmt.Errorf("%w: primary: %v", ErrResourceBusy, primaryErr)
	}

	result, fallbackErr := c.callImage(ctx, c.models.Fallback, contents, cfg, 0)
	if fallbackErr == nil {
		result.Model = model.ModelFlash
		log.Info().Msgf("✅ [Gemini] Fallback model %s returned image (%d bytes, %.1fs)",
			c.models.Fallback, len(result.Data), time.Since(start).Seconds())
		return result, nil
	}

	log.Error().Msgf("❌ [Gemini] Both models failed: primary=%v fallback=%v", primaryErr, fallbackErr)
	return nil, fmt.Errorf("%w: primary: %v; fallback: %v", ErrResourceBusy, primaryErr, fallbackErr)
}

func (c *Client) callImage(ctx context.Context, modelName string, contents []*genai.Content, cfg *genai.GenerateContentConfig, retries int) (*ImageResult, error) {
	resp, err := generateWithRetry(ctx, c.gen, modelName, contents, cfg, retries, c.retryWait)
	if err != nil {
		return nil, err
	}
	data, mimeType, ok := ExtractImage(resp)
	if !ok {
		return nil, ErrNoImage
	}
	return &ImageResult{Data: data, MIMEType: mimeType, ModelName: modelName}, nil
}

// GenerateText calls the vision model once. No failover.
func (c *Client) GenerateText(ctx context.Context, parts []*genai.Part) (string, error) {
	resp, err := c.gen.GenerateContent(ctx, c.models.Vision, userContents(parts), nil)
	if err != nil {
		return "", fmt.Errorf("vision model %s failed: %w", c.models.Vision, err)
	}
	text := ExtractText(resp)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// GenerateJSON asks the vision model for JSON and decodes it into out.
func (c *Client) GenerateJSON(ctx context.Context, parts []*genai.Part, out interface{}) error {
	resp, err := c.gen.GenerateContent(ctx, c.models.Vision, userContents(parts), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      floatPtr(0.2),
	})
	if err != nil {
		return fmt.Errorf("vision model %s failed: %w", c.models.Vision, err)
	}
	text := stripCodeFence(ExtractText(resp))
	if text == "" {
		return fmt.Errorf("%w: empty response", ErrUnparseable)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return nil
}

// TextPart - 텍스트 파트
func TextPart(text string) *genai.Part {
	return genai.NewPartFromText(text)
}

// ImagePart - 이미지 바이너리 파트
func ImagePart(data []byte, mimeType string) *genai.Part {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return genai.NewPartFromBytes(data, mimeType)
}

func userContents(parts []*genai.Part) []*genai.Content {
	return []*genai.Content{{Role: "user", Parts: parts}}
}

func floatPtr(f float32) *float32 {
	return &f
}
