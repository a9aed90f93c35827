package lifestyle

import "brand-camera-server/modules/common/material"

// Outfit types produced by the analyzer
const (
	OutfitOnePiece   = "one_piece"
	OutfitTwoPiece   = "two_piece"
	OutfitTopOnly    = "top_only"
	OutfitBottomOnly = "bottom_only"
)

// GenerateRequest - POST /api/generate-lifestyle 요청 바디
type GenerateRequest struct {
	ProductImage string `json:"productImage"`
	ModelID      string `json:"modelId,omitempty"`
	SceneID      string `json:"sceneId,omitempty"`
	TaskID       string `json:"taskId"`
}

// ProductTag - 1단계 분석 결과
type ProductTag struct {
	OutfitType       string   `json:"outfit_type"`
	UpperCategory    string   `json:"upper_category,omitempty"`
	LowerCategory    string   `json:"lower_category,omitempty"`
	OnepieceCategory string   `json:"onepiece_category,omitempty"`
	Gender           string   `json:"gender,omitempty"`
	Style            string   `json:"style,omitempty"`
	Colors           []string `json:"colors,omitempty"`
}

// primaryCategory is the category kept on the second rung of the ladder.
func (t ProductTag) primaryCategory() (string, func(SceneTag) []string) {
	switch normalize(t.OutfitType) {
	case OutfitOnePiece:
		return t.OnepieceCategory, func(s SceneTag) []string { return s.OnepieceCategories }
	case OutfitBottomOnly:
		return t.LowerCategory, func(s SceneTag) []string { return s.LowerCategories }
	default:
		return t.UpperCategory, func(s SceneTag) []string { return s.UpperCategories }
	}
}

// ModelEntry - 카탈로그 모델
type ModelEntry struct {
	ID          string `yaml:"id" json:"id"`
	Gender      string `yaml:"gender" json:"gender"`
	Description string `yaml:"description" json:"description"`
}

// SceneTag - 카탈로그 씬과 매칭 태그
type SceneTag struct {
	ID                 string   `yaml:"id" json:"id"`
	Description        string   `yaml:"description" json:"description"`
	OutfitTypes        []string `yaml:"outfit_types" json:"outfit_types"`
	UpperCategories    []string `yaml:"upper_categories" json:"upper_categories,omitempty"`
	LowerCategories    []string `yaml:"lower_categories" json:"lower_categories,omitempty"`
	OnepieceCategories []string `yaml:"onepiece_categories" json:"onepiece_categories,omitempty"`
}

// MatchResult - 3단계 AI 선택 결과
type MatchResult struct {
	ModelIDs []string `json:"model_ids"`
	SceneIDs []string `json:"scene_ids"`
	Reason   string   `json:"reason,omitempty"`
}

// slotPlan - 슬롯 하나에 쓸 모델/씬
type slotPlan struct {
	Index    int
	ModelID  string
	SceneID  string
	ModelRef material.Ref
	SceneRef material.Ref
	Model    *material.Material
	Scene    *material.Material
}

// Summary - 파이프라인 결과 요약
type Summary struct {
	TaskID    string
	Succeeded int
	Failed    int
	Aborted   bool
	Error     string
}
