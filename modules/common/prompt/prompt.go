package prompt

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	InstructionsHeader = "[Photography Instructions]"
	ImagePromptHeader  = "[Image Generation Prompt]"
)

// negativeConstraints - 모든 최종 프롬프트 끝에 붙는 금지 조건
const negativeConstraints = `[Negative Constraints]
- No visible studio equipment: no light stands, softboxes, reflectors, tripods, cables or backdrop edges
- No text, watermarks, logos or borders added to the image
- No extra people, duplicated limbs or distorted hands
- Do not alter the product's color, pattern, logo or silhouette`

// TextGenerator is the vision-language call used for shooting instructions.
type TextGenerator interface {
	GenerateText(ctx context.Context, parts []*genai.Part) (string, error)
}

// Instruction - 촬영 지시문 (extended 모드의 중간 산출물)
// Degraded is true when the model call failed and the default text was used.
type Instruction struct {
	Text     string
	Degraded bool
}

// Compose asks the vision model for shooting instructions. It never fails:
// any error or empty answer degrades to fallback.
func Compose(ctx context.Context, gen TextGenerator, request string, refs []*genai.Part, fallback string) Instruction {
	parts := make([]*genai.Part, 0, len(refs)+1)
	parts = append(parts, refs...)
	parts = append(parts, genai.NewPartFromText(request))

	text, err := gen.GenerateText(ctx, parts)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		log.Warn().Err(err).Msg("⚠️  [Prompt] Instruction step failed, using default instructions")
		return Instruction{Text: fallback, Degraded: true}
	}
	log.Debug().Msgf("📝 [Prompt] Instruction generated (%d chars)", len(text))
	return Instruction{Text: text}
}

// Extended joins the instruction text and the image prompt into the two-section form.
func Extended(instr Instruction, imagePrompt string) string {
	var sb strings.Builder
	sb.WriteString(InstructionsHeader)
	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(instr.Text))
	sb.WriteString("\n\n")
	sb.WriteString(ImagePromptHeader)
	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(imagePrompt))
	return sb.String()
}

// WithNegatives appends the negative constraint block.
func WithNegatives(p string) string {
	return strings.TrimRight(p, "\n") + "\n\n" + negativeConstraints
}

// Background - 배경 유무에 따른 배경 지시 문구
func Background(hasBackground bool) string {
	if hasBackground {
		return "Use the provided background image exactly as the backdrop. Keep its perspective, lighting direction and colors; do not replace or restyle it."
	}
	return "No background image is provided. Create a clean, seamless professional studio backdrop with soft even lighting that complements the outfit."
}

// Join - 빈 줄을 제외하고 문단을 이어붙임
func Join(sections ...string) string {
	kept := sections[:0:0]
	for _, s := range sections {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}
