package prostudio

import (
	"fmt"
	"strings"

	"brand-camera-server/modules/common/prompt"
)

// describeItems - "top, pants and shoes" 형태의 아이템 나열
func describeItems(categories []string) string {
	switch len(categories) {
	case 0:
		return "the product"
	case 1:
		return "the " + categories[0]
	default:
		return "the " + strings.Join(categories[:len(categories)-1], ", ") + " and " + categories[len(categories)-1]
	}
}

// layout explains which input image is which.
func layout(itemCount int, merged, hasBackground bool) string {
	var sb strings.Builder
	sb.WriteString("[INPUT IMAGES]\n")
	n := 1
	switch {
	case merged:
		fmt.Fprintf(&sb, "• Image %d: a grid of %d outfit items, every item must be worn\n", n, itemCount)
		n++
	default:
		for i := 0; i < itemCount; i++ {
			fmt.Fprintf(&sb, "• Image %d: outfit item %d\n", n, i+1)
			n++
		}
	}
	fmt.Fprintf(&sb, "• Image %d: the MODEL (keep face, hair, skin tone and body proportions)\n", n)
	if hasBackground {
		fmt.Fprintf(&sb, "• Image %d: the BACKGROUND\n", n+1)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// SimplePrompt - 한 번에 이미지 생성 (simple 모드)
func SimplePrompt(categories []string, merged, hasBackground bool, custom string) string {
	main := "[PROFESSIONAL STUDIO PHOTOGRAPHER'S APPROACH]\n" +
		"Create ONE photorealistic full-body studio photograph of the model wearing " + describeItems(categories) + ".\n" +
		"• FULL BODY SHOT - head to toe, feet visible\n" +
		"• Every outfit item is reproduced exactly: color, pattern, logo, fabric and silhouette\n" +
		"• Confident, natural catalog pose with a calm expression\n" +
		"• Soft, even key light with gentle shadows for e-commerce clarity"

	return prompt.WithNegatives(prompt.Join(
		main,
		layout(len(categories), merged, hasBackground),
		prompt.Background(hasBackground),
		custom,
	))
}

// InstructionRequest - extended 모드 1단계: 비전 모델에게 촬영 지시문 요청
func InstructionRequest(categories []string, hasBackground bool) string {
	bg := "a seamless studio backdrop you choose"
	if hasBackground {
		bg = "the provided background image"
	}
	return fmt.Sprintf(`You are the creative director of a fashion studio shoot.
Look at the outfit items, the model and %s.
Write concise shooting instructions for ONE full-body photograph of the model wearing %s:
1. Composition and camera angle
2. Pose and expression
3. Lighting setup and mood
4. Styling notes that keep every item faithful to the reference
Plain text only, no markdown headings, at most 12 lines.`, bg, describeItems(categories))
}

// ExtendedPrompt - extended 모드 2단계 최종 프롬프트
func ExtendedPrompt(instr prompt.Instruction, categories []string, merged, hasBackground bool, custom string) string {
	image := prompt.Join(
		"Generate the photograph described by the instructions above. The model wears "+describeItems(categories)+", reproduced exactly.",
		layout(len(categories), merged, hasBackground),
		prompt.Background(hasBackground),
		custom,
	)
	return prompt.WithNegatives(prompt.Extended(instr, image))
}
