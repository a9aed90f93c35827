package single

import (
	"strings"

	"brand-camera-server/modules/common/prompt"
)

func productSubject(extraItems []string) string {
	if len(extraItems) == 0 {
		return "the product"
	}
	return "the product together with the " + strings.Join(extraItems, ", ")
}

// ProductShotPrompt - 상품 단독 컷
func ProductShotPrompt(hasBackground bool) string {
	main := "[PRODUCT PHOTOGRAPHER'S APPROACH]\n" +
		"Create ONE photorealistic e-commerce product photograph of the product in Image 1.\n" +
		"⚠️ CRITICAL: NO people or models in this shot - product only.\n" +
		"• Reproduce the product exactly: shape, color, label, texture\n" +
		"• Hero composition, product centered and fully visible\n" +
		"• Soft directional light that reveals material and texture"
	if hasBackground {
		main += "\n• Image 2 is the BACKGROUND"
	}
	return prompt.Join(main, prompt.Background(hasBackground))
}

// ModelShotPrompt - 모델 착용 컷
func ModelShotPrompt(extraItems []string, hasBackground bool) string {
	main := "[MODEL PHOTOGRAPHER'S APPROACH]\n" +
		"Create ONE photorealistic photograph of the model wearing or holding " + productSubject(extraItems) + ".\n" +
		"• Image 1 is the PRODUCT; following images are extra outfit items, then the MODEL\n" +
		"• Keep the model's face, hair, skin tone and body proportions\n" +
		"• The product is clearly visible and reproduced exactly\n" +
		"• Natural, confident pose with a calm expression"
	if hasBackground {
		main += "\n• The last image is the BACKGROUND"
	}
	return prompt.Join(main, prompt.Background(hasBackground))
}

// InstructionRequest - extended 모드 촬영 지시문 요청
func InstructionRequest(shotType string, hasBackground bool) string {
	subject := "the model wearing or holding the product"
	if shotType == TypeProduct {
		subject = "the product alone, no people"
	}
	bg := "a studio backdrop you choose"
	if hasBackground {
		bg = "the provided background"
	}
	return "You are the creative director of a commercial photo shoot.\n" +
		"Write concise shooting instructions for ONE photograph of " + subject + " in " + bg + ":\n" +
		"1. Composition and camera angle\n" +
		"2. Pose or arrangement\n" +
		"3. Lighting setup and mood\n" +
		"Plain text only, at most 10 lines."
}

// Build - simple / extended 최종 프롬프트
func Build(shotType string, extraItems []string, hasBackground bool, instr *prompt.Instruction) string {
	var image string
	if shotType == TypeProduct {
		image = ProductShotPrompt(hasBackground)
	} else {
		image = ModelShotPrompt(extraItems, hasBackground)
	}
	if instr != nil {
		return prompt.WithNegatives(prompt.Extended(*instr, image))
	}
	return prompt.WithNegatives(image)
}
