package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/genai"
)

// VertexGenerator adapts the Vertex AI SDK to ContentGenerator.
type VertexGenerator struct {
	client *vertexgenai.Client
}

// NewVertexGenerator - Vertex AI 클라이언트 생성 (환경 변수 자동 처리)
func NewVertexGenerator(ctx context.Context, project, location string) (*VertexGenerator, error) {
	var opts []option.ClientOption

	if credsJSON := os.Getenv("VERTEXAI_CREDENTIALS_JSON"); credsJSON != "" {
		log.Info().Msg("✅ [VertexAI] Using VERTEXAI_CREDENTIALS_JSON from environment")
		opts = append(opts, option.WithCredentialsJSON([]byte(credsJSON)))
	} else if credsPath := os.Getenv("VERTEXAI_CREDENTIALS_PATH"); credsPath != "" {
		log.Info().Msgf("✅ [VertexAI] Using credentials from file: %s", credsPath)
		credsData, err := os.ReadFile(credsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		if !json.Valid(credsData) {
			return nil, fmt.Errorf("invalid JSON credentials in %s", credsPath)
		}
		opts = append(opts, option.WithCredentialsJSON(credsData))
	} else {
		log.Warn().Msg("⚠️  [VertexAI] No explicit credentials found, using Application Default Credentials")
	}

	client, err := vertexgenai.NewClient(ctx, project, location, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	log.Info().Msgf("✅ [VertexAI] Client initialized for project=%s, location=%s", project, location)
	return &VertexGenerator{client: client}, nil
}

// GenerateContent translates the request into Vertex parts and the answer back.
func (v *VertexGenerator) GenerateContent(ctx context.Context, modelName string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m := v.client.GenerativeModel(modelName)
	if config != nil {
		if config.Temperature != nil {
			m.SetTemperature(*config.Temperature)
		}
		// image 생성에는 ResponseMIMEType 설정 금지
		if config.ResponseMIMEType != "" {
			m.ResponseMIMEType = config.ResponseMIMEType
		}
	}

	resp, err := m.GenerateContent(ctx, toVertexParts(contents)...)
	if err != nil {
		return nil, err
	}
	return fromVertexResponse(resp), nil
}

// Close releases the underlying connection.
func (v *VertexGenerator) Close() error {
	return v.client.Close()
}

func toVertexParts(contents []*genai.Content) []vertexgenai.Part {
	var parts []vertexgenai.Part
	for _, content := range contents {
		if content == nil {
			continue
		}
		for _, p := range content.Parts {
			switch {
			case p == nil:
			case p.InlineData != nil:
				parts = append(parts, vertexgenai.Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
			case p.Text != "":
				parts = append(parts, vertexgenai.Text(p.Text))
			}
		}
	}
	return parts
}

func fromVertexResponse(resp *vertexgenai.GenerateContentResponse) *genai.GenerateContentResponse {
	out := &genai.GenerateContentResponse{}
	if resp == nil {
		return out
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		content := &genai.Content{Role: candidate.Content.Role}
		for _, part := range candidate.Content.Parts {
			switch p := part.(type) {
			case vertexgenai.Text:
				content.Parts = append(content.Parts, &genai.Part{Text: string(p)})
			case vertexgenai.Blob:
				content.Parts = append(content.Parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data}})
			}
		}
		out.Candidates = append(out.Candidates, &genai.Candidate{Content: content})
	}
	return out
}
