package single

import (
	"brand-camera-server/modules/common/material"
	"brand-camera-server/modules/common/model"
)

// Shot types
const (
	TypeProduct = "product"
	TypeModel   = "model"
)

// OutfitItem - 함께 입힐 추가 아이템
type OutfitItem struct {
	Category string       `json:"category"`
	Image    material.Ref `json:"image"`
}

// GenerateRequest - POST /api/generate-single 요청 바디
type GenerateRequest struct {
	Type            string                 `json:"type"`
	Index           int                    `json:"index"`
	TaskID          string                 `json:"taskId"`
	ProductImage    material.Ref           `json:"productImage"`
	ModelImage      material.Ref           `json:"modelImage"`
	BackgroundImage material.Ref           `json:"backgroundImage"`
	SimpleMode      *bool                  `json:"simpleMode,omitempty"`
	OutfitItems     []OutfitItem           `json:"outfitItems,omitempty"`
	InputParams     map[string]interface{} `json:"inputParams,omitempty"`
	AspectRatio     string                 `json:"aspectRatio,omitempty"`
}

func newRequest() GenerateRequest {
	return GenerateRequest{
		ModelImage:      material.Unspecified().WithCategory(material.CategoryStudioModels),
		BackgroundImage: material.Unspecified().WithCategory(material.CategoryBackgrounds),
	}
}

// genMode - simpleMode 미지정이면 simple
func (r GenerateRequest) genMode() model.GenMode {
	if r.SimpleMode != nil && !*r.SimpleMode {
		return model.GenExtended
	}
	return model.GenSimple
}

func (r GenerateRequest) taskType() model.TaskType {
	if r.Type == TypeProduct {
		return model.TaskProductStudio
	}
	return model.TaskModelStudio
}
