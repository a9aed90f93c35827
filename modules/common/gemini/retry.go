package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// generateWithRetry - 429 에러일 때만 같은 모델로 재시도
// retries: 추가 재시도 횟수 (0이면 한 번만 호출)
func generateWithRetry(
	ctx context.Context,
	gen ContentGenerator,
	modelName string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	retries int,
	wait time.Duration,
) (*genai.GenerateContentResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			log.Debug().Msgf("   🔄 [Gemini Retry] %s attempt %d/%d", modelName, attempt+1, retries+1)
		}

		result, err := gen.GenerateContent(ctx, modelName, contents, config)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// 429가 아닌 다른 에러면 바로 반환 (재시도 안 함)
		if !is429Error(err) {
			return nil, err
		}
		log.Warn().Msgf("⚠️  [Gemini Retry] %s hit rate limit (429) on attempt %d/%d", modelName, attempt+1, retries+1)

		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return nil, fmt.Errorf("%s exhausted %d attempts: %w", modelName, retries+1, lastErr)
}

// is429Error - 429 Rate Limit 에러인지 확인
func is429Error(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "resource_exhausted")
}
