package prostudio

import (
	"brand-camera-server/modules/common/material"
	"brand-camera-server/modules/common/model"
)

// OutfitItem - 착장 아이템 하나 (카테고리 + 이미지)
type OutfitItem struct {
	Category string       `json:"category"`
	Image    material.Ref `json:"image"`
}

// GenerateRequest - POST /api/generate-pro-studio 요청 바디
// 슬롯 하나를 생성하며 클라이언트가 index 별로 병렬 호출함
type GenerateRequest struct {
	OutfitItems     []OutfitItem  `json:"outfitItems,omitempty"`
	ProductImages   []string      `json:"productImages,omitempty"`
	ModelImage      material.Ref  `json:"modelImage"`
	BackgroundImage material.Ref  `json:"backgroundImage"`
	Mode            model.GenMode `json:"mode"`
	Index           int           `json:"index"`
	TaskID          string        `json:"taskId"`
	ModelIsRandom   bool          `json:"modelIsRandom,omitempty"`
	BgIsRandom      bool          `json:"bgIsRandom,omitempty"`
	AspectRatio     string        `json:"aspectRatio,omitempty"`
	CustomPrompt    string        `json:"customPrompt,omitempty"`
}

// newRequest binds preset categories before decoding so ids resolve in the right folder.
func newRequest() GenerateRequest {
	return GenerateRequest{
		ModelImage:      material.Unspecified().WithCategory(material.CategoryStudioModels),
		BackgroundImage: material.Unspecified().WithCategory(material.CategoryBackgrounds),
	}
}

// items merges productImages into outfitItems.
func (r GenerateRequest) items() []OutfitItem {
	items := make([]OutfitItem, 0, len(r.OutfitItems)+len(r.ProductImages))
	for _, it := range r.OutfitItems {
		if it.Image.IsSpecified() {
			items = append(items, it)
		}
	}
	for _, p := range r.ProductImages {
		if ref := material.Parse(p); ref.IsSpecified() {
			items = append(items, OutfitItem{Category: "product", Image: ref})
		}
	}
	return items
}

func (r GenerateRequest) modelRef() material.Ref {
	if r.ModelIsRandom {
		return material.Random(material.CategoryStudioModels)
	}
	return r.ModelImage
}

func (r GenerateRequest) backgroundRef() material.Ref {
	if r.BgIsRandom {
		return material.Random(material.CategoryBackgrounds)
	}
	return r.BackgroundImage
}
