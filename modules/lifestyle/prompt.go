package lifestyle

import (
	"fmt"
	"strings"

	"brand-camera-server/modules/common/prompt"
)

// analyzePrompt - 1단계 상품 분석 지시문 (JSON 응답)
const analyzePrompt = `[PRODUCT ANALYSIS]
You are a fashion merchandiser. Look at the product photo and classify the garment.
Respond with ONE JSON object and nothing else:
{
  "outfit_type": "one_piece" | "two_piece" | "top_only" | "bottom_only",
  "upper_category": "tshirt | shirt | blouse | knit | hoodie | jacket | coat | polo" (omit if none),
  "lower_category": "jeans | pants | skirt | shorts" (omit if none),
  "onepiece_category": "dress | jumpsuit" (omit unless one_piece),
  "gender": "female" | "male" | "unisex",
  "style": short style keyword such as "casual", "minimal", "romantic",
  "colors": main colors as an array of strings
}`

// matchPrompt - 3단계 모델/씬 선택 지시문
func matchPrompt(tag ProductTag, models []ModelEntry, scenes []SceneTag, n int) string {
	var sb strings.Builder
	sb.WriteString("[MODEL AND SCENE SELECTION]\n")
	sb.WriteString("You are the art director of a lifestyle campaign for the product shown.\n")
	fmt.Fprintf(&sb, "Product: outfit_type=%s", tag.OutfitType)
	for _, kv := range [][2]string{
		{"upper", tag.UpperCategory}, {"lower", tag.LowerCategory},
		{"onepiece", tag.OnepieceCategory}, {"style", tag.Style},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&sb, ", %s=%s", kv[0], kv[1])
		}
	}
	if len(tag.Colors) > 0 {
		fmt.Fprintf(&sb, ", colors=%s", strings.Join(tag.Colors, "/"))
	}
	sb.WriteString("\n\nCandidate models:\n")
	for _, m := range models {
		fmt.Fprintf(&sb, "- %s: %s\n", m.ID, m.Description)
	}
	sb.WriteString("\nCandidate scenes:\n")
	for _, s := range scenes {
		fmt.Fprintf(&sb, "- %s: %s\n", s.ID, s.Description)
	}
	fmt.Fprintf(&sb, "\nPick %d model ids and %d scene ids from the candidates above that best suit the product. ", n, n)
	sb.WriteString("Repeats are allowed when there are fewer candidates.\n")
	sb.WriteString(`Respond with ONE JSON object: {"model_ids": [...], "scene_ids": [...], "reason": "..."}`)
	return sb.String()
}

// imagePrompt - 5단계 최종 이미지 프롬프트
func imagePrompt(tag ProductTag, modelDesc, sceneDesc string) string {
	garment := garmentPhrase(tag)

	main := "[LIFESTYLE PHOTOGRAPHER'S APPROACH]\n" +
		"Create ONE photorealistic lifestyle photograph for a fashion brand.\n" +
		"• Image 1 is the PRODUCT: reproduce it exactly, same color, pattern, fabric and details\n" +
		"• Image 2 is the MODEL: keep face, hair, skin tone and body proportions\n" +
		"• Image 3 is the SCENE: place the model naturally inside this location\n" +
		fmt.Sprintf("• The model wears the %s as the hero of the shot\n", garment) +
		"• Natural candid pose, relaxed expression, authentic lifestyle mood\n" +
		"• Lighting of the model matches the scene's light direction and color temperature"

	var details []string
	if modelDesc != "" {
		details = append(details, "Model reference: "+modelDesc)
	}
	if sceneDesc != "" {
		details = append(details, "Scene reference: "+sceneDesc)
	}
	if tag.Style != "" {
		details = append(details, "Overall mood: "+tag.Style)
	}

	return prompt.WithNegatives(prompt.Join(main, strings.Join(details, "\n")))
}

func garmentPhrase(tag ProductTag) string {
	switch normalize(tag.OutfitType) {
	case OutfitOnePiece:
		if tag.OnepieceCategory != "" {
			return tag.OnepieceCategory
		}
		return "one-piece outfit"
	case OutfitTwoPiece:
		return strings.TrimSpace(tag.UpperCategory + " and " + tag.LowerCategory)
	case OutfitBottomOnly:
		if tag.LowerCategory != "" {
			return tag.LowerCategory
		}
	default:
		if tag.UpperCategory != "" {
			return tag.UpperCategory
		}
	}
	return "product"
}
