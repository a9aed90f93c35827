package slot

import (
	"context"
	"net/http"

	"brand-camera-server/modules/common/events"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/utils"
)

// Response - 단일 슬롯 라우트의 JSON 응답
type Response struct {
	Success   bool            `json:"success"`
	Index     int             `json:"index"`
	Image     string          `json:"image,omitempty"`
	ModelType model.ModelType `json:"modelType,omitempty"`
	GenMode   model.GenMode   `json:"genMode,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	Duration  int64           `json:"duration,omitempty"`
	DbID      string          `json:"dbId,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Respond writes the slot outcome: 200 with the image, or the failure's status.
func Respond(w http.ResponseWriter, index int, res *Result, err error) {
	if err != nil {
		failure := AsFailure(err)
		utils.WriteJSON(w, failure.Status, Response{Success: false, Index: index, Error: failure.Code})
		return
	}
	utils.WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Index:     res.Index,
		Image:     res.ImageURL,
		ModelType: res.ModelType,
		GenMode:   res.GenMode,
		Prompt:    res.Prompt,
		Duration:  res.Duration.Milliseconds(),
		DbID:      res.DbID,
	})
}

// Announce publishes the slot outcome to the task's sinks.
func Announce(ctx context.Context, pub *events.Publisher, index int, res *Result, err error) {
	if err != nil {
		pub.Publish(ctx, events.ImageError(index, AsFailure(err).Code))
		return
	}
	pub.Publish(ctx, events.Image(index, events.ImageResult{
		URL:       res.ImageURL,
		ModelType: res.ModelType,
		GenMode:   res.GenMode,
		DbID:      res.DbID,
	}))
}
